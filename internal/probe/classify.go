// Package probe implements sampling-based schema inference: it classifies
// raw text fields, accumulates per-column observations over a bounded sample
// of rows, and resolves one destination column type per column. It also
// provides the load-time conversion from raw fields to driver values, so the
// sampling and loading passes agree on what each type accepts.
package probe

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"csvload/internal/schema"
)

// ValueKind is the classification outcome for a single raw field.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool           // word literal: true/false/yes/no
	ValueInteger
	ValueDecimal
	ValueDate
	ValueDateTime
	ValueDateTimeFrac
	ValueText
)

// Hint is the per-value classification result. Classification is total: any
// input yields a Hint, malformed values degrade to ValueText.
type Hint struct {
	Kind ValueKind

	// BoolDigit marks an integer literal that is exactly "0" or "1". Such a
	// value counts toward a boolean column only when the column shows no
	// other numeric content; the column-level reducer decides.
	BoolDigit bool

	// IntKind is the narrowest integer width holding the value
	// (KindSmallInt, KindInt, or KindBigInt) when Kind == ValueInteger.
	IntKind schema.Kind

	// IntDigits is the digit count of the integer magnitude, leading zeros
	// trimmed.
	IntDigits int

	// Precision and Scale describe a decimal literal: total significant
	// digits and digits after the point (trailing zeros kept).
	Precision int
	Scale     int

	// Length is the rune length of the trimmed value. Set for every
	// non-null value so text widening can size columns from any kind.
	Length int
}

// Recognized temporal layouts. Go's parser accepts a fractional seconds
// field after the seconds position even when the layout has none, so the
// datetime layouts cover fractional inputs too; granularity is decided from
// the parsed value.
var (
	dateLayouts = []string{
		"2006-01-02",
		"02.01.2006",
		"02/01/2006",
		"01/02/2006",
	}
	dateTimeLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"02.01.2006 15:04:05",
	}
)

// Classify determines what a single raw field parses as. Precedence: null,
// boolean word, integer, decimal, temporal, text. It never fails; values
// that fit nothing are text.
func Classify(raw string) Hint {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Hint{Kind: ValueNull}
	}

	length := utf8.RuneCountInString(s)

	switch strings.ToLower(s) {
	case "true", "false", "yes", "no":
		return Hint{Kind: ValueBool, Length: length}
	}

	if h, ok := classifyInteger(s, length); ok {
		return h
	}
	if h, ok := classifyDecimal(s, length); ok {
		return h
	}
	if h, ok := classifyTemporal(s, length); ok {
		return h
	}

	return Hint{Kind: ValueText, Length: length}
}

// classifyInteger matches an optional sign followed by digits only. Digit
// strings too large for int64 degrade to a scale-0 decimal (or text beyond
// decimal range) rather than failing.
func classifyInteger(s string, length int) (Hint, bool) {
	body := s
	if body[0] == '+' || body[0] == '-' {
		body = body[1:]
	}
	if body == "" || !allDigits(body) {
		return Hint{}, false
	}

	digits := countSignificant(body)

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Pure digits but beyond int64.
		if digits <= maxDecimalPrecision {
			return Hint{Kind: ValueDecimal, Precision: digits, Scale: 0, Length: length}, true
		}
		return Hint{Kind: ValueText, Length: length}, true
	}

	h := Hint{Kind: ValueInteger, IntDigits: digits, Length: length}
	switch {
	case n >= -32768 && n <= 32767:
		h.IntKind = schema.KindSmallInt
	case n >= -2147483648 && n <= 2147483647:
		h.IntKind = schema.KindInt
	default:
		h.IntKind = schema.KindBigInt
	}
	h.BoolDigit = s == "0" || s == "1"
	return h, true
}

// classifyDecimal matches an optional sign, digits, and a single decimal
// point (no exponent). Precision counts significant integer digits plus all
// fraction digits; trailing fraction zeros are kept so the resolved scale
// can reproduce the input.
func classifyDecimal(s string, length int) (Hint, bool) {
	body := s
	if body[0] == '+' || body[0] == '-' {
		body = body[1:]
	}
	dot := strings.IndexByte(body, '.')
	if dot < 0 {
		return Hint{}, false
	}
	intPart, fracPart := body[:dot], body[dot+1:]
	if intPart == "" && fracPart == "" {
		return Hint{}, false
	}
	if (intPart != "" && !allDigits(intPart)) || (fracPart != "" && !allDigits(fracPart)) {
		return Hint{}, false
	}

	intDigits := countSignificant(intPart)
	return Hint{
		Kind:      ValueDecimal,
		Precision: intDigits + len(fracPart),
		Scale:     len(fracPart),
		Length:    length,
	}, true
}

// classifyTemporal tries the date layouts, then the datetime layouts.
// Granularity follows the parsed value: a nonzero fractional second means
// ValueDateTimeFrac.
func classifyTemporal(s string, length int) (Hint, bool) {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return Hint{Kind: ValueDate, Length: length}, true
		}
	}
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Nanosecond() != 0 {
			return Hint{Kind: ValueDateTimeFrac, Length: length}, true
		}
		return Hint{Kind: ValueDateTime, Length: length}, true
	}
	return Hint{}, false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// countSignificant counts digits with leading zeros trimmed; a bare zero (or
// empty integer part) still occupies one digit.
func countSignificant(digits string) int {
	i := 0
	for i < len(digits)-1 && digits[i] == '0' {
		i++
	}
	n := len(digits) - i
	if n < 1 {
		n = 1
	}
	return n
}
