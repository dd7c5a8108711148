package probe

import "csvload/internal/schema"

// Limits used when resolving observations into column types.
const (
	// maxDecimalPrecision caps decimal precision at the widest the
	// destination dialects support.
	maxDecimalPrecision = 38

	// floatDigits is the significant digit count a float64 represents
	// exactly. Columns whose decimal values stay within it resolve to Float,
	// wider ones to Decimal.
	floatDigits = 15

	// maxVarchar is the widest sized character column; longer observed
	// values resolve to varchar(max).
	maxVarchar = 4000
)

// varcharBuckets are the sizes a varchar length is rounded up to, so later
// rows slightly longer than the sampled maximum still fit.
var varcharBuckets = []int{16, 32, 64, 128, 256, 512, 1024, 2048, maxVarchar}

// ColumnObservation accumulates classification results for one column over
// the sampling pass. It is mutated only by Observe and read-only afterward;
// all tracked maxima are monotonic, so observing a wider value can never
// narrow an earlier decision.
type ColumnObservation struct {
	Values int `json:"values"` // non-null values observed
	Nulls  int `json:"nulls"`

	// Bools counts word literals, Ints every integer literal, and
	// BoolDigits the 0/1 subset of Ints.
	Bools         int `json:"bools,omitempty"`
	Ints          int `json:"ints,omitempty"`
	BoolDigits    int `json:"bool_digits,omitempty"`
	Decimals      int `json:"decimals,omitempty"`
	Dates         int `json:"dates,omitempty"`
	DateTimes     int `json:"datetimes,omitempty"`
	DateTimeFracs int `json:"datetime_fracs,omitempty"`
	Texts         int `json:"texts,omitempty"`

	// WidestInt is the widest integer kind required so far.
	WidestInt schema.Kind `json:"-"`

	// MaxIntDigits, MaxPrecision, MaxScale feed decimal sizing when integer
	// and decimal values mix.
	MaxIntDigits int `json:"-"`
	MaxPrecision int `json:"-"`
	MaxScale     int `json:"-"`

	// MaxLen is the longest rune length seen across all non-null values,
	// whatever their kind; text widening sizes columns from it.
	MaxLen int `json:"max_len"`
}

// Observe classifies one raw field and folds the hint into the accumulator.
func (o *ColumnObservation) Observe(raw string) {
	h := Classify(raw)

	if h.Kind == ValueNull {
		o.Nulls++
		return
	}

	o.Values++
	if h.Length > o.MaxLen {
		o.MaxLen = h.Length
	}

	switch h.Kind {
	case ValueBool:
		o.Bools++
	case ValueInteger:
		o.Ints++
		if h.BoolDigit {
			o.BoolDigits++
		}
		if h.IntKind > o.WidestInt {
			o.WidestInt = h.IntKind
		}
		if h.IntDigits > o.MaxIntDigits {
			o.MaxIntDigits = h.IntDigits
		}
	case ValueDecimal:
		o.Decimals++
		if h.Precision > o.MaxPrecision {
			o.MaxPrecision = h.Precision
		}
		if h.Scale > o.MaxScale {
			o.MaxScale = h.Scale
		}
	case ValueDate:
		o.Dates++
	case ValueDateTime:
		o.DateTimes++
	case ValueDateTimeFrac:
		o.DateTimeFracs++
	default:
		o.Texts++
	}
}

// Resolve reduces the observation to one column type plus nullability.
// The reduction follows the widening order; incompatible mixes collapse to
// a character type sized to the longest observed value.
func (o ColumnObservation) Resolve() (schema.ColumnType, bool) {
	nullable := o.Nulls > 0

	// Nothing but nulls: no evidence either way, smallest text bucket.
	if o.Values == 0 {
		return schema.Varchar(varcharBuckets[0]), true
	}

	temporal := o.Dates + o.DateTimes + o.DateTimeFracs

	switch {
	case o.isBoolean():
		return schema.Boolean(), nullable

	case o.Texts == 0 && o.Bools == 0 && temporal == 0 && (o.Ints > 0 || o.Decimals > 0):
		return o.resolveNumeric(), nullable

	case o.Texts == 0 && o.Bools == 0 && o.Ints == 0 && o.Decimals == 0 && temporal > 0:
		switch {
		case o.DateTimeFracs > 0:
			return schema.DateTimeFrac(), nullable
		case o.DateTimes > 0:
			return schema.DateTime(), nullable
		default:
			return schema.Date(), nullable
		}
	}

	// Text, or a mix no narrower family represents.
	return resolveVarchar(o.MaxLen), nullable
}

// isBoolean applies the column-level boolean rule: every value in the
// boolean literal set, at least one of them a word literal. A column of pure
// 0/1 digits stays an integer column.
func (o ColumnObservation) isBoolean() bool {
	return o.Bools > 0 &&
		o.Texts == 0 &&
		o.Decimals == 0 &&
		o.Dates == 0 && o.DateTimes == 0 && o.DateTimeFracs == 0 &&
		o.Ints == o.BoolDigits
}

func (o ColumnObservation) resolveNumeric() schema.ColumnType {
	if o.Decimals == 0 {
		switch o.WidestInt {
		case schema.KindSmallInt:
			return schema.SmallInt()
		case schema.KindInt:
			return schema.Int()
		default:
			return schema.BigInt()
		}
	}

	precision := o.MaxPrecision
	if o.Ints > 0 && o.MaxIntDigits+o.MaxScale > precision {
		precision = o.MaxIntDigits + o.MaxScale
	}
	if precision <= floatDigits {
		return schema.Float()
	}
	if precision > maxDecimalPrecision {
		precision = maxDecimalPrecision
	}
	return schema.Decimal(precision, o.MaxScale)
}

func resolveVarchar(maxLen int) schema.ColumnType {
	if maxLen > maxVarchar {
		return schema.VarcharMax()
	}
	for _, b := range varcharBuckets {
		if maxLen <= b {
			return schema.Varchar(b)
		}
	}
	return schema.VarcharMax()
}
