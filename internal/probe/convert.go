package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"csvload/internal/schema"
)

// Convert turns one raw field into the driver value for a resolved column
// type. Empty fields become NULL (nil); for non-character types,
// whitespace-only fields do too. Character columns keep the field verbatim.
//
// Conversion is deliberately a little laxer than classification: the sample
// decided the type, and later rows should still load when they express the
// same value in an acceptable spelling (t/f for booleans, a date-only string
// in a datetime column). A value the type cannot hold returns an error; the
// loader decides whether that aborts the run or skips the row.
func Convert(raw string, t schema.ColumnType) (any, error) {
	if t.Kind == schema.KindVarchar || t.Kind == schema.KindVarcharMax {
		if raw == "" {
			return nil, nil
		}
		if t.Kind == schema.KindVarchar && t.Length > 0 && utf8.RuneCountInString(raw) > t.Length {
			return nil, fmt.Errorf("value %d chars long exceeds %v", utf8.RuneCountInString(raw), t)
		}
		return raw, nil
	}

	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	switch t.Kind {
	case schema.KindBoolean:
		b, ok := parseBoolLoose(s)
		if !ok {
			return nil, convErr(s, t)
		}
		return b, nil

	case schema.KindSmallInt, schema.KindInt, schema.KindBigInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, convErr(s, t)
		}
		if t.Kind == schema.KindSmallInt && (n < -32768 || n > 32767) {
			return nil, fmt.Errorf("value %q out of range for %v", s, t)
		}
		if t.Kind == schema.KindInt && (n < -2147483648 || n > 2147483647) {
			return nil, fmt.Errorf("value %q out of range for %v", s, t)
		}
		return n, nil

	case schema.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, convErr(s, t)
		}
		return f, nil

	case schema.KindDecimal:
		// Decimals ride through as the verbatim string so no precision is
		// lost client-side; drivers and servers parse them natively.
		if _, ok := classifyDecimal(s, 0); !ok {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				return nil, convErr(s, t)
			}
		}
		return s, nil

	case schema.KindDate:
		for _, layout := range dateLayouts {
			if v, err := time.Parse(layout, s); err == nil {
				return v, nil
			}
		}
		return nil, convErr(s, t)

	case schema.KindDateTime, schema.KindDateTimeFrac:
		for _, layout := range dateTimeLayouts {
			if v, err := time.Parse(layout, s); err == nil {
				return v, nil
			}
		}
		// A date-only value is a valid midnight datetime.
		for _, layout := range dateLayouts {
			if v, err := time.Parse(layout, s); err == nil {
				return v, nil
			}
		}
		return nil, convErr(s, t)

	default:
		return nil, fmt.Errorf("unsupported column type %v", t)
	}
}

func convErr(s string, t schema.ColumnType) error {
	return fmt.Errorf("value %q does not parse as %v", s, t)
}

// parseBoolLoose accepts the usual truthy/falsy spellings.
func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	}
	return false, false
}
