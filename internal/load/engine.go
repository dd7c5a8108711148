// Package load drives one delimited source into one relational table: it
// samples the input, infers a schema, reconciles it against the live
// destination under a conflict policy, then streams the rows in batched
// bulk inserts.
package load

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"csvload/internal/metrics"
	"csvload/internal/probe"
	"csvload/internal/schema"
	"csvload/internal/storage"
)

// RowSource yields the header once and then one record per Read, io.EOF at
// end of input. Returned slices may share a backing array with the next
// Read (encoding/csv reuse semantics); the engine copies what it retains.
type RowSource interface {
	Columns() []string
	Read() ([]string, error)
}

// Logger is the minimal logging interface used by the engine. *log.Logger
// satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Phase names one stage of a run's fixed sample -> reconcile -> load
// progression. Surfaced through log lines and the OnPhase callback.
type Phase int

const (
	PhaseSampling Phase = iota + 1
	PhaseReconciling
	PhaseLoading
)

func (p Phase) String() string {
	switch p {
	case PhaseSampling:
		return "sample"
	case PhaseReconciling:
		return "reconcile"
	case PhaseLoading:
		return "load"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

const (
	defaultBatchSize  = 1000
	defaultSampleRows = 1000
)

// Engine loads one source into one destination table. Every field is a
// seam: tests inject fake connectors and sources and run the pipeline
// without a database or a file.
type Engine struct {
	Connector storage.Connector
	Source    RowSource
	Logger    Logger

	Table  schema.TableRef
	Policy Policy

	// BatchSize is rows per bulk insert; <= 0 means 1000.
	BatchSize int

	// SampleRows caps how many rows feed type inference; <= 0 means 1000.
	SampleRows int

	// NoInfer skips inference; every column is created as unbounded text.
	NoInfer bool

	// ContinueOnError turns row conversion failures and batch insert
	// failures into counted skips instead of aborting the run.
	ContinueOnError bool

	// AddID prepends an auto-increment key named IDName ("id" when empty)
	// to tables this run creates. A collision with an input column is a
	// configuration error.
	AddID  bool
	IDName string

	// OnPhase, when set, is called as the run enters each phase.
	OnPhase func(Phase)
}

// Run executes the run end to end and returns its Summary. The Summary is
// meaningful even on error: its counters reflect everything committed
// before the failure. Typed failures (*TableExistsError,
// *SchemaMismatchError, *BatchLoadError) are matched with errors.As.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum, err := e.run(ctx)
	sum.Elapsed = time.Since(start)

	logf := e.logger()
	if err != nil {
		metrics.IncCounter("csvload_runs_total", 1, runLabels(e.Table, sum.Kind, "failed"))
		logf("run=%s status=failed rows=%d loaded=%d err=%v", sum.RunID, sum.RowsRead, sum.RowsLoaded, err)
		return sum, err
	}
	metrics.IncCounter("csvload_runs_total", 1, runLabels(e.Table, sum.Kind, "ok"))
	logf("run=%s ok rows=%d loaded=%d skipped=%d batches=%d duration=%s rate=%.0f/s",
		sum.RunID, sum.RowsRead, sum.RowsLoaded, sum.RowsSkipped, len(sum.Batches), durMS(start), sum.RowsPerSec())
	return sum, nil
}

func (e *Engine) run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Table: e.Table, Policy: e.Policy}

	if e.Connector == nil {
		return sum, fmt.Errorf("load: Connector is required")
	}
	if e.Source == nil {
		return sum, fmt.Errorf("load: Source is required")
	}
	if strings.TrimSpace(e.Table.Name) == "" {
		return sum, fmt.Errorf("load: Table.Name is required")
	}

	dialect := e.Connector.Dialect()
	sum.Kind = dialect.Kind
	logf := e.logger()

	columns := e.Source.Columns()
	if len(columns) == 0 {
		return sum, fmt.Errorf("load: source has no header columns")
	}

	e.setPhase(PhaseSampling)
	sampleStart := time.Now()
	sample, drained, err := readSample(e.Source, e.sampleRows())
	if err != nil {
		return sum, fmt.Errorf("load: sampling %s: %w", e.Table, err)
	}
	inferred := probe.Infer(sample, columns, probe.InferOptions{Disabled: e.NoInfer})
	desired := probe.BuildTable(inferred, e.Table, dialect)
	if e.AddID {
		idName := strings.TrimSpace(e.IDName)
		if idName == "" {
			idName = "id"
		}
		idName = dialect.Sanitize(idName)
		if _, taken := desired.Column(idName); taken {
			return sum, fmt.Errorf("load: id column %q collides with an input column", idName)
		}
		desired.Identity = idName
	}
	logf("phase=sample ok rows=%d columns=%d duration=%s", len(sample), len(columns), durMS(sampleStart))

	e.setPhase(PhaseReconciling)
	recStart := time.Now()
	live, found, err := e.Connector.DescribeTable(ctx, e.Table)
	if err != nil {
		return sum, fmt.Errorf("load: fetching %s metadata: %w", e.Table, err)
	}
	var existing *schema.Table
	if found {
		existing = &live
	}
	plan, err := Reconcile(desired, existing, e.Policy)
	if err != nil {
		return sum, err
	}
	sum.Plan = plan.Kind
	sum.Columns = len(plan.Columns)

	if plan.Destructive() {
		logf("phase=reconcile plan=%s table=%s existing rows will be dropped", plan.Kind, e.Table)
	}
	switch plan.Kind {
	case DropAndRecreate:
		if err := e.Connector.DropTable(ctx, e.Table); err != nil {
			return sum, fmt.Errorf("load: dropping %s: %w", e.Table, err)
		}
		fallthrough
	case CreateNew:
		if err := e.Connector.CreateTable(ctx, plan.Table); err != nil {
			return sum, fmt.Errorf("load: creating %s: %w", e.Table, err)
		}
	}
	logf("phase=reconcile ok plan=%s columns=%d duration=%s", plan.Kind, len(plan.Columns), durMS(recStart))

	e.setPhase(PhaseLoading)
	loadStart := time.Now()
	if err := e.runLoad(ctx, plan, sample, drained, &sum); err != nil {
		return sum, err
	}
	logf("phase=load ok rows=%d loaded=%d skipped=%d batches=%d duration=%s",
		sum.RowsRead, sum.RowsLoaded, sum.RowsSkipped, len(sum.Batches), durMS(loadStart))
	return sum, nil
}

// runLoad replays the sampled rows, then drains the rest of the source,
// converting and inserting in batches. The batch is the unit of failure:
// connectors run chunked statements inside one transaction, so a failed
// batch commits nothing.
func (e *Engine) runLoad(ctx context.Context, plan *Plan, replay [][]string, drained bool, sum *Summary) error {
	logf := e.logger()
	ref := plan.Ref()
	cols := plan.InsertColumns()
	batchSize := e.batchSize()

	var (
		rowsCommitted = runLabels(ref, sum.Kind, "committed")
		rowsSkipped   = runLabels(ref, sum.Kind, "skipped")
		batchesOK     = runLabels(ref, sum.Kind, "ok")
		batchesFailed = runLabels(ref, sum.Kind, "failed")
		batchTimings  = runLabels(ref, sum.Kind, "")
	)

	next := func() ([]string, error) {
		if len(replay) > 0 {
			rec := replay[0]
			replay = replay[1:]
			return rec, nil
		}
		if drained {
			return nil, io.EOF
		}
		return e.Source.Read()
	}

	batch := make([][]any, 0, batchSize)
	batchNum := 0
	for {
		// Cancellation is between batches only; a started batch finishes.
		if err := ctx.Err(); err != nil {
			return err
		}

		batch = batch[:0]
		firstRow := 0
		eof := false
		for len(batch) < batchSize {
			rec, err := next()
			if err == io.EOF {
				eof = true
				break
			}
			if err != nil {
				return fmt.Errorf("load: reading row %d: %w", sum.RowsRead+1, err)
			}
			sum.RowsRead++
			vals, err := convertRow(rec, plan.Columns)
			if err != nil {
				err = fmt.Errorf("row %d: %w", sum.RowsRead, err)
				if !e.ContinueOnError {
					return fmt.Errorf("load: %w", err)
				}
				sum.RowsSkipped++
				sum.recordError(err)
				metrics.IncCounter("csvload_rows_total", 1, rowsSkipped)
				continue
			}
			if len(batch) == 0 {
				firstRow = sum.RowsRead
			}
			batch = append(batch, vals)
		}

		if len(batch) > 0 {
			batchNum++
			start := time.Now()
			n, err := e.Connector.InsertBatch(ctx, ref, cols, batch)
			elapsed := time.Since(start)
			metrics.ObserveHistogram("csvload_batch_seconds", elapsed.Seconds(), batchTimings)
			res := BatchResult{Batch: batchNum, FirstRow: firstRow, Attempted: len(batch), Committed: n, Elapsed: elapsed}
			sum.Batches = append(sum.Batches, res)
			if err != nil {
				berr := &BatchLoadError{Table: ref, Batch: batchNum, FirstRow: firstRow, Rows: len(batch), Err: err}
				metrics.IncCounter("csvload_batches_total", 1, batchesFailed)
				if !e.ContinueOnError {
					return berr
				}
				sum.RowsSkipped += len(batch)
				sum.recordError(berr)
				metrics.IncCounter("csvload_rows_total", float64(len(batch)), rowsSkipped)
				logf("batch=%d rows=%d status=failed duration=%s err=%v", batchNum, len(batch), elapsed.Truncate(time.Millisecond), err)
			} else {
				sum.RowsLoaded += n
				metrics.IncCounter("csvload_batches_total", 1, batchesOK)
				metrics.IncCounter("csvload_rows_total", float64(n), rowsCommitted)
				logf("batch=%d rows=%d duration=%s rate=%.0f/s", batchNum, len(batch), elapsed.Truncate(time.Millisecond), res.RowsPerSec())
			}
		}

		if eof {
			return nil
		}
	}
}

// readSample pulls up to n records, copying each because sources reuse
// their record buffers. The second result is true when the source was
// exhausted inside the sample.
func readSample(src RowSource, n int) ([][]string, bool, error) {
	rows := make([][]string, 0, min(n, 256))
	for len(rows) < n {
		rec, err := src.Read()
		if err == io.EOF {
			return rows, true, nil
		}
		if err != nil {
			return rows, false, err
		}
		rows = append(rows, append([]string(nil), rec...))
	}
	return rows, false, nil
}

// convertRow converts one record's fields to the plan's column types.
// Missing trailing fields are treated as NULL.
func convertRow(rec []string, cols []PlanColumn) ([]any, error) {
	out := make([]any, len(cols))
	for i, c := range cols {
		raw := ""
		if c.SourceIndex < len(rec) {
			raw = rec[c.SourceIndex]
		}
		v, err := probe.Convert(raw, c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return defaultBatchSize
	}
	return e.BatchSize
}

func (e *Engine) sampleRows() int {
	if e.SampleRows <= 0 {
		return defaultSampleRows
	}
	return e.SampleRows
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func (e *Engine) setPhase(p Phase) {
	if e.OnPhase != nil {
		e.OnPhase(p)
	}
}

func runLabels(table schema.TableRef, kind, status string) metrics.Labels {
	l := metrics.Labels{"table": table.String()}
	if kind != "" {
		l["kind"] = kind
	}
	if status != "" {
		l["status"] = status
	}
	return l
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
