package load

import (
	"time"

	"csvload/internal/schema"
)

// maxSummaryErrors caps the per-run error sample so a pathological input
// cannot balloon the Summary. Skip counters keep the full tally.
const maxSummaryErrors = 10

// BatchResult records one executed bulk insert.
type BatchResult struct {
	Batch     int           // 1-based batch index
	FirstRow  int           // data row number of the batch's first row
	Attempted int           // rows handed to the connector
	Committed int64         // rows the destination reported written
	Elapsed   time.Duration // insert round trip
}

// RowsPerSec returns the batch's committed throughput.
func (b BatchResult) RowsPerSec() float64 {
	if b.Elapsed <= 0 {
		return 0
	}
	return float64(b.Committed) / b.Elapsed.Seconds()
}

// Summary is the run's accounting, the single source of truth for what was
// persisted. It is returned even when the run errors, reflecting everything
// committed up to the failure.
type Summary struct {
	RunID  string
	Table  schema.TableRef
	Kind   string // destination backend kind
	Policy Policy
	Plan   PlanKind

	Columns     int
	RowsRead    int   // data rows pulled from the source
	RowsLoaded  int64 // rows the destination committed
	RowsSkipped int   // rows dropped in continue-on-error mode

	Batches []BatchResult

	// Errors is a capped sample (maxSummaryErrors) of the row and batch
	// failures tolerated in continue-on-error mode.
	Errors []error

	Elapsed time.Duration
}

func (s *Summary) recordError(err error) {
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, err)
	}
}

// RowsPerSec returns overall committed throughput across the whole run.
func (s Summary) RowsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.RowsLoaded) / s.Elapsed.Seconds()
}
