package load

import (
	"fmt"
	"strings"

	"csvload/internal/schema"
)

// Policy decides what happens when the destination table already exists.
type Policy int

const (
	// Fail aborts the run before any DDL or data is executed. The default:
	// loading over an existing table has to be asked for.
	Fail Policy = iota

	// Replace drops the existing table and recreates it from the inferred
	// schema.
	Replace

	// Append keeps the existing table and loads into its columns, provided
	// every input column fits without narrowing.
	Append
)

func (p Policy) String() string {
	switch p {
	case Fail:
		return "fail"
	case Replace:
		return "replace"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps -if-exists flag values onto a Policy. Empty means Fail.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return Fail, nil
	case "replace":
		return Replace, nil
	case "append":
		return Append, nil
	default:
		return Fail, fmt.Errorf("unknown if-exists policy %q (want fail, replace or append)", s)
	}
}

// PlanKind says which DDL, if any, runs before the first data batch.
type PlanKind int

const (
	// CreateNew creates the table; it did not exist.
	CreateNew PlanKind = iota + 1

	// DropAndRecreate drops the existing table, then creates the inferred
	// one. Existing rows are lost.
	DropAndRecreate

	// AppendInto runs no DDL and inserts into the existing table.
	AppendInto
)

func (k PlanKind) String() string {
	switch k {
	case CreateNew:
		return "create"
	case DropAndRecreate:
		return "replace"
	case AppendInto:
		return "append"
	default:
		return fmt.Sprintf("plan(%d)", int(k))
	}
}

// PlanColumn is one destination column the loader fills. SourceIndex points
// into the input record; Type is the type values are converted to before
// binding, which for appends is the existing column's type.
type PlanColumn struct {
	Name        string
	Type        schema.ColumnType
	SourceIndex int
}

// Plan is the reconciler's decision: the DDL to run and the insert columns
// in destination order. Table is the shape CreateTable receives; for
// AppendInto it is the existing shape and no DDL runs.
type Plan struct {
	Kind    PlanKind
	Table   schema.Table
	Columns []PlanColumn
}

// Ref returns the destination table reference.
func (p *Plan) Ref() schema.TableRef { return p.Table.Ref() }

// Destructive reports whether executing the plan discards existing rows.
func (p *Plan) Destructive() bool { return p.Kind == DropAndRecreate }

// InsertColumns returns the destination column names in insert order.
func (p *Plan) InsertColumns() []string {
	out := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		out[i] = c.Name
	}
	return out
}
