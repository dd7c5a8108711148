package schema

import (
	"strconv"
	"strings"
)

// Dialect describes the identifier rules of a destination database, as
// reported by its connector. The sanitizer consults it; DDL builders apply
// the dialect's own quoting on top, so sanitized names are never
// interpolated into SQL unquoted.
type Dialect struct {
	// Kind is the backend kind ("postgres", "mssql", "sqlite").
	Kind string

	// MaxIdentifier is the maximum identifier length in characters.
	// Zero means unlimited.
	MaxIdentifier int

	reserved map[string]struct{}
}

// NewDialect builds a Dialect with the given reserved words
// (case-insensitive).
func NewDialect(kind string, maxIdentifier int, reserved []string) Dialect {
	set := make(map[string]struct{}, len(reserved))
	for _, w := range reserved {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return Dialect{Kind: kind, MaxIdentifier: maxIdentifier, reserved: set}
}

// IsReserved reports whether name matches a reserved word,
// case-insensitively.
func (d Dialect) IsReserved(name string) bool {
	_, ok := d.reserved[strings.ToLower(name)]
	return ok
}

// Sanitize normalizes one column name into a safe identifier for the
// dialect. Deterministic and pure:
//
//   - runes outside [A-Za-z0-9_] become '_' (case is preserved);
//   - an empty result becomes "col";
//   - a leading digit gets a "col_" prefix;
//   - reserved words get a trailing '_';
//   - the result is truncated to MaxIdentifier characters.
//
// Sanitize is idempotent: applying it to its own output is a no-op.
// Collision handling across a whole column list is SanitizeColumns' job.
func (d Dialect) Sanitize(name string) string {
	s := replaceDisallowed(strings.TrimSpace(name))
	if s == "" {
		s = "col"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "col_" + s
	}
	if d.IsReserved(s) {
		s += "_"
	}
	if d.MaxIdentifier > 0 {
		s = truncateRunes(s, d.MaxIdentifier)
		// Truncation can land on a reserved word ("selectx" -> "select").
		// Swap the last rune for '_' so the output is never reserved.
		if d.IsReserved(s) {
			r := []rune(s)
			r[len(r)-1] = '_'
			s = string(r)
		}
	}
	return s
}

// SanitizeColumns sanitizes every name and deduplicates collisions by
// appending "_2", "_3", ... in input order. Deduplication is
// case-insensitive, since most destinations fold or ignore identifier case.
// The output is deterministic: the same input list always produces the same
// output list.
func (d Dialect) SanitizeColumns(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]struct{}, len(names))

	for i, name := range names {
		s := d.Sanitize(name)
		if _, taken := used[strings.ToLower(s)]; taken {
			for n := 2; ; n++ {
				cand := d.withSuffix(s, "_"+strconv.Itoa(n))
				if _, t := used[strings.ToLower(cand)]; !t {
					s = cand
					break
				}
			}
		}
		used[strings.ToLower(s)] = struct{}{}
		out[i] = s
	}
	return out
}

// withSuffix appends suffix to base, re-truncating base so the result still
// fits the dialect's identifier limit.
func (d Dialect) withSuffix(base, suffix string) string {
	if d.MaxIdentifier <= 0 {
		return base + suffix
	}
	room := d.MaxIdentifier - len([]rune(suffix))
	if room < 1 {
		room = 1
	}
	return truncateRunes(base, room) + suffix
}

func replaceDisallowed(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
