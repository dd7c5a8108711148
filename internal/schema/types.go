// Package schema defines the resolved column type model shared by the
// inference, reconciliation, and storage layers, plus the identifier
// sanitizer that makes inferred column names safe for a destination dialect.
package schema

import "fmt"

// Kind identifies one resolved column type variant.
//
// The declaration order IS the widening order: a kind can always be widened
// to a later kind in this list (within its family), and reconciliation uses
// the order to pick the least-surprising common type. Do not reorder.
type Kind int

const (
	KindBoolean Kind = iota + 1
	KindSmallInt
	KindInt
	KindBigInt
	KindFloat
	KindDecimal
	KindDate
	KindDateTime
	KindDateTimeFrac
	KindVarchar
	KindVarcharMax
)

// String returns the lowercase kind name used in logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindSmallInt:
		return "smallint"
	case KindInt:
		return "integer"
	case KindBigInt:
		return "bigint"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindDateTimeFrac:
		return "datetime(fractional)"
	case KindVarchar:
		return "varchar"
	case KindVarcharMax:
		return "varchar(max)"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Numeric reports whether the kind belongs to the numeric widening family.
func (k Kind) Numeric() bool {
	return k >= KindSmallInt && k <= KindDecimal
}

// Temporal reports whether the kind belongs to the temporal widening family.
func (k Kind) Temporal() bool {
	return k >= KindDate && k <= KindDateTimeFrac
}

// Text reports whether the kind is a character type.
func (k Kind) Text() bool {
	return k == KindVarchar || k == KindVarcharMax
}

// ColumnType is a resolved column type: a Kind plus the parameters that
// apply to it. Length is meaningful for KindVarchar, Precision/Scale for
// KindDecimal; all other kinds carry zero parameters.
type ColumnType struct {
	Kind      Kind `json:"-"`
	Length    int  `json:"length,omitempty"`
	Precision int  `json:"precision,omitempty"`
	Scale     int  `json:"scale,omitempty"`
}

// Constructors for each variant. Using these keeps parameter placement in
// one spot.

func Boolean() ColumnType         { return ColumnType{Kind: KindBoolean} }
func SmallInt() ColumnType        { return ColumnType{Kind: KindSmallInt} }
func Int() ColumnType             { return ColumnType{Kind: KindInt} }
func BigInt() ColumnType          { return ColumnType{Kind: KindBigInt} }
func Float() ColumnType           { return ColumnType{Kind: KindFloat} }
func Date() ColumnType            { return ColumnType{Kind: KindDate} }
func DateTime() ColumnType        { return ColumnType{Kind: KindDateTime} }
func DateTimeFrac() ColumnType    { return ColumnType{Kind: KindDateTimeFrac} }
func VarcharMax() ColumnType      { return ColumnType{Kind: KindVarcharMax} }
func Varchar(n int) ColumnType    { return ColumnType{Kind: KindVarchar, Length: n} }
func Decimal(p, s int) ColumnType { return ColumnType{Kind: KindDecimal, Precision: p, Scale: s} }

// String renders the type with its parameters, e.g. "varchar(64)" or
// "decimal(12,2)". The output is stable; tests and error messages rely on it.
func (t ColumnType) String() string {
	switch t.Kind {
	case KindVarchar:
		return fmt.Sprintf("varchar(%d)", t.Length)
	case KindDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	default:
		return t.Kind.String()
	}
}

// MarshalText makes ColumnType render as its String form inside JSON
// artifacts (probe previews, plan dumps).
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Representable reports whether a value of type t can be stored in a column
// of type existing without narrowing. It is the compatibility test used when
// appending into a pre-existing table:
//
//   - identical kinds: parameters must cover (varchar length, decimal
//     precision/scale);
//   - within the numeric or temporal family: existing must be at least as
//     wide in the Kind order, and an existing decimal must have enough
//     integer digits for the widest integer t allows;
//   - boolean fits any numeric column;
//   - anything fits varchar(max); varchar(n) accepts any type whose rendered
//     text cannot exceed n characters.
func (t ColumnType) Representable(existing ColumnType) bool {
	if existing.Kind == KindVarcharMax {
		return true
	}
	if existing.Kind == KindVarchar && t.Kind != KindVarchar {
		w := t.renderWidth()
		return w > 0 && existing.Length >= w
	}
	switch {
	case t.Kind == existing.Kind:
		switch t.Kind {
		case KindVarchar:
			return existing.Length >= t.Length
		case KindDecimal:
			return existing.Precision >= t.Precision && existing.Scale >= t.Scale
		default:
			return true
		}
	case t.Kind.Numeric() && existing.Kind.Numeric():
		if existing.Kind < t.Kind {
			return false
		}
		if existing.Kind == KindDecimal {
			return existing.Precision-existing.Scale >= t.integerDigits()
		}
		return true
	case t.Kind == KindBoolean && existing.Kind.Numeric():
		return true
	case t.Kind.Temporal() && existing.Kind.Temporal():
		return existing.Kind > t.Kind
	default:
		return false
	}
}

// integerDigits returns the digits left of the decimal point a value of t
// may need. Used when checking integer kinds against decimal targets.
func (t ColumnType) integerDigits() int {
	switch t.Kind {
	case KindBoolean:
		return 1
	case KindSmallInt:
		return 5
	case KindInt:
		return 10
	case KindBigInt:
		return 19
	case KindDecimal:
		return t.Precision - t.Scale
	default:
		// Floats have no bounded integer digit count.
		return 310
	}
}

// renderWidth returns the maximum character width a value of t renders to,
// or 0 when unbounded. Sign, separators, and fraction digits included.
func (t ColumnType) renderWidth() int {
	switch t.Kind {
	case KindBoolean:
		return len("false")
	case KindSmallInt:
		return len("-32768")
	case KindInt:
		return len("-2147483648")
	case KindBigInt:
		return len("-9223372036854775808")
	case KindDecimal:
		// sign + digits + point
		return t.Precision + 2
	case KindDate:
		return len("2006-01-02")
	case KindDateTime:
		return len("2006-01-02 15:04:05")
	case KindDateTimeFrac:
		return len("2006-01-02 15:04:05.999999999")
	case KindVarchar:
		return t.Length
	default:
		return 0
	}
}
