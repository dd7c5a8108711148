package schema

import "testing"

//
// Kind ordering
//

// TestKindOrder pins the widening order. Reconciliation and inference both
// rely on the declaration order of the Kind constants, so a reorder is a
// behavior change, not a cleanup.
func TestKindOrder(t *testing.T) {
	t.Parallel()

	ordered := []Kind{
		KindBoolean, KindSmallInt, KindInt, KindBigInt, KindFloat,
		KindDecimal, KindDate, KindDateTime, KindDateTimeFrac,
		KindVarchar, KindVarcharMax,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] >= ordered[i] {
			t.Fatalf("kind order broken: %v >= %v", ordered[i-1], ordered[i])
		}
	}
}

func TestColumnTypeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  ColumnType
		want string
	}{
		{Boolean(), "boolean"},
		{SmallInt(), "smallint"},
		{Int(), "integer"},
		{BigInt(), "bigint"},
		{Float(), "float"},
		{Decimal(12, 2), "decimal(12,2)"},
		{Date(), "date"},
		{DateTime(), "datetime"},
		{DateTimeFrac(), "datetime(fractional)"},
		{Varchar(64), "varchar(64)"},
		{VarcharMax(), "varchar(max)"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

//
// Representable
//

func TestRepresentable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		desired  ColumnType
		existing ColumnType
		want     bool
	}{
		{"same kind", Int(), Int(), true},
		{"widen smallint to int", SmallInt(), Int(), true},
		{"widen smallint to bigint", SmallInt(), BigInt(), true},
		{"narrow int to smallint", Int(), SmallInt(), false},
		{"narrow bigint to int", BigInt(), Int(), false},
		{"int into float", Int(), Float(), true},
		{"float into int", Float(), Int(), false},
		{"int into wide decimal", Int(), Decimal(12, 2), true},
		{"int into narrow decimal", Int(), Decimal(6, 2), false},
		{"bool into smallint", Boolean(), SmallInt(), true},
		{"bool into bool", Boolean(), Boolean(), true},
		{"smallint into bool", SmallInt(), Boolean(), false},
		{"date into datetime", Date(), DateTime(), true},
		{"datetime into date", DateTime(), Date(), false},
		{"datetime into fractional", DateTime(), DateTimeFrac(), true},
		{"date into integer", Date(), Int(), false},
		{"int into date", Int(), Date(), false},
		{"varchar widening", Varchar(32), Varchar(64), true},
		{"varchar narrowing", Varchar(64), Varchar(32), false},
		{"anything into varchar(max)", BigInt(), VarcharMax(), true},
		{"date into varchar(16)", Date(), Varchar(16), true},
		{"date into varchar(8)", Date(), Varchar(8), false},
		{"smallint into varchar(8)", SmallInt(), Varchar(8), true},
		{"float into varchar(n)", Float(), Varchar(64), false},
		{"decimal into covering decimal", Decimal(10, 2), Decimal(12, 2), true},
		{"decimal into smaller scale", Decimal(10, 4), Decimal(12, 2), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.desired.Representable(tt.existing); got != tt.want {
				t.Fatalf("%v representable in %v = %v, want %v",
					tt.desired, tt.existing, got, tt.want)
			}
		})
	}
}

//
// Table lookups
//

func TestTableColumnLookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	tab := Table{
		Name: "orders",
		Columns: []Column{
			{Name: "OrderID", Type: Int()},
			{Name: "amount", Type: Float()},
		},
	}

	c, ok := tab.Column("orderid")
	if !ok || c.Name != "OrderID" {
		t.Fatalf("Column(orderid) = %+v, %v; want OrderID", c, ok)
	}
	if _, ok := tab.Column("missing"); ok {
		t.Fatalf("Column(missing) unexpectedly found")
	}
}

func TestParseTableRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want TableRef
	}{
		{"orders", TableRef{Name: "orders"}},
		{"public.orders", TableRef{Namespace: "public", Name: "orders"}},
		{"dbo.Sales.Extra", TableRef{Namespace: "dbo", Name: "Sales.Extra"}},
		{"  trimmed ", TableRef{Name: "trimmed"}},
	}
	for _, tt := range tests {
		if got := ParseTableRef(tt.in); got != tt.want {
			t.Errorf("ParseTableRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
