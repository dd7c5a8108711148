package load

import (
	"fmt"

	"csvload/internal/schema"
)

// TableExistsError reports that the destination table is already present
// while the conflict policy is Fail. Nothing has been executed against the
// destination when it is returned.
type TableExistsError struct {
	Table schema.TableRef
}

func (e *TableExistsError) Error() string {
	return fmt.Sprintf("table %s already exists", e.Table)
}

// SchemaMismatchError reports the first input column that cannot be
// appended into the existing table: the table has no such column, or the
// existing column is too narrow for the inferred type.
type SchemaMismatchError struct {
	Table   schema.TableRef
	Column  string
	Desired schema.ColumnType

	// Existing is the live column type, zero when Missing.
	Existing schema.ColumnType

	// Missing is true when the existing table has no column of this name.
	Missing bool
}

func (e *SchemaMismatchError) Error() string {
	if e.Missing {
		return fmt.Sprintf("table %s has no column %q for input type %v", e.Table, e.Column, e.Desired)
	}
	return fmt.Sprintf("table %s column %q: input type %v does not fit existing %v", e.Table, e.Column, e.Desired, e.Existing)
}

// BatchLoadError wraps one batch's failed bulk insert with its position in
// the run. Row numbers count data rows from 1; the header is row 0.
type BatchLoadError struct {
	Table    schema.TableRef
	Batch    int
	FirstRow int
	Rows     int
	Err      error
}

func (e *BatchLoadError) Error() string {
	return fmt.Sprintf("table %s batch %d (rows %d-%d): %v", e.Table, e.Batch, e.FirstRow, e.FirstRow+e.Rows-1, e.Err)
}

func (e *BatchLoadError) Unwrap() error { return e.Err }
