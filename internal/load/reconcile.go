package load

import (
	"strings"

	"csvload/internal/schema"
)

// Reconcile compares the inferred table shape against what is live in the
// destination and decides the DDL and column mapping for the run. existing
// is nil when the table does not exist; then the policy is irrelevant and
// the table is created as inferred.
//
// Errors:
//   - *TableExistsError under policy Fail.
//   - *SchemaMismatchError under policy Append when an input column is
//     absent from the existing table or too narrow to hold it.
//
// No DDL or data statement runs here; the caller executes the plan.
func Reconcile(desired schema.Table, existing *schema.Table, policy Policy) (*Plan, error) {
	if existing == nil {
		return &Plan{Kind: CreateNew, Table: desired, Columns: inputOrder(desired)}, nil
	}

	switch policy {
	case Replace:
		return &Plan{Kind: DropAndRecreate, Table: desired, Columns: inputOrder(desired)}, nil
	case Append:
		return appendPlan(desired, *existing)
	default:
		return nil, &TableExistsError{Table: desired.Ref()}
	}
}

// inputOrder maps a freshly created table onto itself: destination columns
// in input order, each fed by the record field at the same position.
func inputOrder(t schema.Table) []PlanColumn {
	out := make([]PlanColumn, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = PlanColumn{Name: c.Name, Type: c.Type, SourceIndex: i}
	}
	return out
}

// appendPlan checks every input column against the existing table, then
// orders the insert columns the way the existing table declares them.
// Existing columns the input does not provide are skipped; the database
// fills them with defaults or NULL. Name matching is case-insensitive
// because backends fold identifier case differently.
func appendPlan(desired, existing schema.Table) (*Plan, error) {
	ref := desired.Ref()

	for _, want := range desired.Columns {
		have, ok := existing.Column(want.Name)
		if !ok {
			return nil, &SchemaMismatchError{Table: ref, Column: want.Name, Desired: want.Type, Missing: true}
		}
		if !want.Type.Representable(have.Type) {
			return nil, &SchemaMismatchError{Table: ref, Column: want.Name, Desired: want.Type, Existing: have.Type}
		}
	}

	cols := make([]PlanColumn, 0, len(desired.Columns))
	for _, have := range existing.Columns {
		idx := -1
		for i, want := range desired.Columns {
			if strings.EqualFold(want.Name, have.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		// Convert to the live column's type: that is what receives the value.
		cols = append(cols, PlanColumn{Name: have.Name, Type: have.Type, SourceIndex: idx})
	}

	t := existing
	t.Namespace = desired.Namespace
	t.Name = desired.Name
	return &Plan{Kind: AppendInto, Table: t, Columns: cols}, nil
}
