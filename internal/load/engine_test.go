package load

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	csvparser "csvload/internal/parser/csv"
	"csvload/internal/parser/htmltable"
	jsonparser "csvload/internal/parser/json"
	"csvload/internal/schema"
)

// The engine's source seam must be satisfied by every shipped parser.
var (
	_ RowSource = (*csvparser.Reader)(nil)
	_ RowSource = (*htmltable.Table)(nil)
	_ RowSource = (*jsonparser.Rows)(nil)
)

// fakeSource replays fixed records and counts reads.
type fakeSource struct {
	columns []string
	rows    [][]string
	pos     int
	reads   int
	readErr error // returned after the rows, instead of io.EOF
}

func (f *fakeSource) Columns() []string { return f.columns }

func (f *fakeSource) Read() ([]string, error) {
	f.reads++
	if f.pos >= len(f.rows) {
		if f.readErr != nil {
			return nil, f.readErr
		}
		return nil, io.EOF
	}
	r := f.rows[f.pos]
	f.pos++
	return r, nil
}

// fakeConnector records every call in order and serves a canned live table.
type fakeConnector struct {
	existing *schema.Table
	descErr  error

	ops     []string
	created []schema.Table
	dropped []schema.TableRef

	inserts []struct {
		table   schema.TableRef
		columns []string
		rows    [][]any
	}
	insertErr   error
	failBatches map[int]error // 1-based insert call -> forced error

	onInsert func() // runs inside InsertBatch, before returning
}

func newFakeConnector() *fakeConnector { return &fakeConnector{} }

func (f *fakeConnector) DescribeTable(ctx context.Context, ref schema.TableRef) (schema.Table, bool, error) {
	f.ops = append(f.ops, "describe "+ref.String())
	if f.descErr != nil {
		return schema.Table{}, false, f.descErr
	}
	if f.existing == nil {
		return schema.Table{}, false, nil
	}
	return *f.existing, true, nil
}

func (f *fakeConnector) CreateTable(ctx context.Context, t schema.Table) error {
	f.ops = append(f.ops, "create "+t.Ref().String())
	f.created = append(f.created, t)
	return nil
}

func (f *fakeConnector) DropTable(ctx context.Context, ref schema.TableRef) error {
	f.ops = append(f.ops, "drop "+ref.String())
	f.dropped = append(f.dropped, ref)
	return nil
}

func (f *fakeConnector) InsertBatch(ctx context.Context, ref schema.TableRef, columns []string, rows [][]any) (int64, error) {
	f.ops = append(f.ops, "insert "+ref.String())
	// The engine reuses its batch slice between calls; copy the outer
	// slice so recorded batches stay intact.
	cp := make([][]any, len(rows))
	copy(cp, rows)
	f.inserts = append(f.inserts, struct {
		table   schema.TableRef
		columns []string
		rows    [][]any
	}{ref, append([]string(nil), columns...), cp})
	if f.onInsert != nil {
		f.onInsert()
	}
	if err, ok := f.failBatches[len(f.inserts)]; ok {
		return 0, err
	}
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return int64(len(rows)), nil
}

func (f *fakeConnector) Dialect() schema.Dialect {
	return schema.NewDialect("fake", 63, []string{"select"})
}

func (f *fakeConnector) Close() error {
	f.ops = append(f.ops, "close")
	return nil
}

func TestEngineRun_InfersTypesAndLoadsBatches(t *testing.T) {
	repo := newFakeConnector()
	src := &fakeSource{
		columns: []string{"id", "amount", "date"},
		rows: [][]string{
			{"1", "10.5", "2024-01-01"},
			{"2", "200.00", "2024-06-15"},
		},
	}
	e := &Engine{
		Connector: repo,
		Source:    src,
		Table:     schema.TableRef{Name: "imports"},
		BatchSize: 1,
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RunID == "" {
		t.Fatalf("summary has no run id")
	}
	if sum.Plan != CreateNew {
		t.Fatalf("plan = %v, want CreateNew", sum.Plan)
	}

	if len(repo.created) != 1 {
		t.Fatalf("created %d tables, want 1", len(repo.created))
	}
	wantCols := []schema.Column{
		{Name: "id", Type: schema.SmallInt()},
		{Name: "amount", Type: schema.Float()},
		{Name: "date", Type: schema.Date()},
	}
	if !reflect.DeepEqual(repo.created[0].Columns, wantCols) {
		t.Fatalf("created columns = %+v, want %+v", repo.created[0].Columns, wantCols)
	}

	if len(repo.inserts) != 2 {
		t.Fatalf("inserts = %d, want 2", len(repo.inserts))
	}
	wantFirst := []any{int64(1), 10.5, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if !reflect.DeepEqual(repo.inserts[0].rows[0], wantFirst) {
		t.Fatalf("first row = %#v, want %#v", repo.inserts[0].rows[0], wantFirst)
	}

	if sum.RowsRead != 2 || sum.RowsLoaded != 2 || sum.RowsSkipped != 0 {
		t.Fatalf("summary counts = %+v", sum)
	}
	if len(sum.Batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(sum.Batches))
	}
	for i, b := range sum.Batches {
		if b.Batch != i+1 || b.Attempted != 1 || b.Committed != 1 {
			t.Fatalf("batch %d = %+v", i, b)
		}
	}
	if sum.Batches[1].FirstRow != 2 {
		t.Fatalf("second batch first row = %d, want 2", sum.Batches[1].FirstRow)
	}
}

func TestEngineRun_BatchCountIsCeilOfRowsOverSize(t *testing.T) {
	repo := newFakeConnector()
	rows := make([][]string, 7)
	for i := range rows {
		rows[i] = []string{"1"}
	}
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"n"}, rows: rows},
		Table:     schema.TableRef{Name: "t"},
		BatchSize: 3,
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.inserts) != 3 {
		t.Fatalf("inserts = %d, want ceil(7/3) = 3", len(repo.inserts))
	}
	sizes := []int{len(repo.inserts[0].rows), len(repo.inserts[1].rows), len(repo.inserts[2].rows)}
	if !reflect.DeepEqual(sizes, []int{3, 3, 1}) {
		t.Fatalf("batch sizes = %v", sizes)
	}
	if sum.RowsLoaded != 7 {
		t.Fatalf("loaded = %d, want 7", sum.RowsLoaded)
	}
}

func TestEngineRun_SinglePassOverTheSource(t *testing.T) {
	repo := newFakeConnector()
	src := &fakeSource{
		columns: []string{"n"},
		rows:    [][]string{{"1"}, {"2"}, {"3"}, {"4"}},
	}
	e := &Engine{
		Connector:  repo,
		Source:     src,
		Table:      schema.TableRef{Name: "t"},
		SampleRows: 2,
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two sampled reads are replayed, the rest streamed: each row is read
	// exactly once, plus the final EOF.
	if src.reads != len(src.rows)+1 {
		t.Fatalf("source reads = %d, want %d", src.reads, len(src.rows)+1)
	}
	if sum.RowsRead != 4 || sum.RowsLoaded != 4 {
		t.Fatalf("summary counts = %+v", sum)
	}
}

func TestEngineRun_PolicyFailStopsBeforeDDL(t *testing.T) {
	repo := newFakeConnector()
	repo.existing = &schema.Table{Name: "t", Columns: []schema.Column{{Name: "n", Type: schema.Int()}}}
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"n"}, rows: [][]string{{"1"}}},
		Table:     schema.TableRef{Name: "t"},
	}

	_, err := e.Run(context.Background())
	var te *TableExistsError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TableExistsError", err)
	}
	if len(repo.created) != 0 || len(repo.dropped) != 0 || len(repo.inserts) != 0 {
		t.Fatalf("destination touched: ops = %v", repo.ops)
	}
}

func TestEngineRun_ReplaceDropsBeforeCreating(t *testing.T) {
	repo := newFakeConnector()
	repo.existing = &schema.Table{Name: "t", Columns: []schema.Column{{Name: "old", Type: schema.VarcharMax()}}}
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"n"}, rows: [][]string{{"1"}}},
		Table:     schema.TableRef{Name: "t"},
		Policy:    Replace,
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Plan != DropAndRecreate {
		t.Fatalf("plan = %v, want DropAndRecreate", sum.Plan)
	}
	want := []string{"describe t", "drop t", "create t", "insert t"}
	if !reflect.DeepEqual(repo.ops, want) {
		t.Fatalf("ops = %v, want %v", repo.ops, want)
	}
}

func TestEngineRun_AppendUsesLiveColumnOrder(t *testing.T) {
	repo := newFakeConnector()
	repo.existing = &schema.Table{
		Name: "t",
		Columns: []schema.Column{
			{Name: "b", Type: schema.BigInt()},
			{Name: "a", Type: schema.Int()},
		},
	}
	e := &Engine{
		Connector: repo,
		Source: &fakeSource{
			columns: []string{"a", "b"},
			rows:    [][]string{{"1", "2"}},
		},
		Table:  schema.TableRef{Name: "t"},
		Policy: Append,
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Plan != AppendInto {
		t.Fatalf("plan = %v, want AppendInto", sum.Plan)
	}
	if len(repo.created) != 0 || len(repo.dropped) != 0 {
		t.Fatalf("append ran DDL: ops = %v", repo.ops)
	}
	if len(repo.inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(repo.inserts))
	}
	if !reflect.DeepEqual(repo.inserts[0].columns, []string{"b", "a"}) {
		t.Fatalf("insert columns = %v, want live order", repo.inserts[0].columns)
	}
	if !reflect.DeepEqual(repo.inserts[0].rows[0], []any{int64(2), int64(1)}) {
		t.Fatalf("insert row = %#v", repo.inserts[0].rows[0])
	}
}

func TestEngineRun_AddIDSetsIdentityOnCreatedTable(t *testing.T) {
	repo := newFakeConnector()
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"n"}, rows: [][]string{{"1"}}},
		Table:     schema.TableRef{Name: "t"},
		AddID:     true,
		IDName:    "row id", // sanitized per dialect
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("created %d tables, want 1", len(repo.created))
	}
	if repo.created[0].Identity != "row_id" {
		t.Fatalf("identity = %q, want row_id", repo.created[0].Identity)
	}
	// The key is generated by the destination, never bound by inserts.
	if !reflect.DeepEqual(repo.inserts[0].columns, []string{"n"}) {
		t.Fatalf("insert columns = %v", repo.inserts[0].columns)
	}
}

func TestEngineRun_AddIDCollisionIsConfigError(t *testing.T) {
	repo := newFakeConnector()
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"ID", "n"}, rows: [][]string{{"1", "2"}}},
		Table:     schema.TableRef{Name: "t"},
		AddID:     true,
	}

	_, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "collides") {
		t.Fatalf("err = %v, want id collision", err)
	}
	if len(repo.created) != 0 || len(repo.inserts) != 0 {
		t.Fatalf("destination touched after config error: ops = %v", repo.ops)
	}
}

func TestEngineRun_ContinueOnErrorSkipsUnconvertibleRows(t *testing.T) {
	repo := newFakeConnector()
	// The third row only shows up after sampling, so the column stays
	// numeric and the row fails conversion at load time.
	src := &fakeSource{
		columns: []string{"n"},
		rows:    [][]string{{"1"}, {"2"}, {"not a number"}, {"4"}},
	}
	e := &Engine{
		Connector:       repo,
		Source:          src,
		Table:           schema.TableRef{Name: "t"},
		SampleRows:      2,
		ContinueOnError: true,
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RowsRead != 4 || sum.RowsLoaded != 3 || sum.RowsSkipped != 1 {
		t.Fatalf("summary counts = rows=%d loaded=%d skipped=%d", sum.RowsRead, sum.RowsLoaded, sum.RowsSkipped)
	}
	if len(sum.Errors) != 1 || !strings.Contains(sum.Errors[0].Error(), "row 3") {
		t.Fatalf("recorded errors = %v", sum.Errors)
	}
}

func TestEngineRun_FailFastAbortsOnUnconvertibleRow(t *testing.T) {
	repo := newFakeConnector()
	src := &fakeSource{
		columns: []string{"n"},
		rows:    [][]string{{"1"}, {"2"}, {"boom"}},
	}
	e := &Engine{
		Connector:  repo,
		Source:     src,
		Table:      schema.TableRef{Name: "t"},
		SampleRows: 2,
	}

	sum, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "row 3") {
		t.Fatalf("err = %v, want row 3 failure", err)
	}
	// The failing row aborted the batch before any insert.
	if len(repo.inserts) != 0 || sum.RowsLoaded != 0 {
		t.Fatalf("partial load: inserts=%d loaded=%d", len(repo.inserts), sum.RowsLoaded)
	}
}

func TestEngineRun_ContinueOnErrorSkipsFailedBatch(t *testing.T) {
	repo := newFakeConnector()
	repo.failBatches = map[int]error{1: errors.New("duplicate key")}
	src := &fakeSource{
		columns: []string{"n"},
		rows:    [][]string{{"1"}, {"2"}, {"3"}, {"4"}},
	}
	e := &Engine{
		Connector:       repo,
		Source:          src,
		Table:           schema.TableRef{Name: "t"},
		BatchSize:       2,
		ContinueOnError: true,
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RowsLoaded != 2 || sum.RowsSkipped != 2 {
		t.Fatalf("loaded=%d skipped=%d, want 2/2", sum.RowsLoaded, sum.RowsSkipped)
	}
	if len(sum.Batches) != 2 || sum.Batches[0].Committed != 0 || sum.Batches[1].Committed != 2 {
		t.Fatalf("batches = %+v", sum.Batches)
	}
	var be *BatchLoadError
	if len(sum.Errors) != 1 || !errors.As(sum.Errors[0], &be) {
		t.Fatalf("recorded errors = %v, want one *BatchLoadError", sum.Errors)
	}
	if be.Batch != 1 || be.FirstRow != 1 || be.Rows != 2 {
		t.Fatalf("batch error = %+v", be)
	}
}

func TestEngineRun_FailFastReturnsBatchLoadError(t *testing.T) {
	repo := newFakeConnector()
	cause := errors.New("connection reset")
	repo.insertErr = cause
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"n"}, rows: [][]string{{"1"}, {"2"}}},
		Table:     schema.TableRef{Name: "t"},
	}

	sum, err := e.Run(context.Background())
	var be *BatchLoadError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BatchLoadError", err)
	}
	if be.Batch != 1 || be.FirstRow != 1 || be.Rows != 2 {
		t.Fatalf("batch error = %+v", be)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if sum.RowsLoaded != 0 {
		t.Fatalf("loaded = %d, want 0", sum.RowsLoaded)
	}
}

func TestEngineRun_CancellationStopsBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeConnector()
	repo.onInsert = cancel // cancel while the first batch is in flight
	src := &fakeSource{
		columns: []string{"n"},
		rows:    [][]string{{"1"}, {"2"}, {"3"}, {"4"}},
	}
	e := &Engine{
		Connector: repo,
		Source:    src,
		Table:     schema.TableRef{Name: "t"},
		BatchSize: 2,
	}

	sum, err := e.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The in-flight batch completed; no further batch started.
	if len(repo.inserts) != 1 || sum.RowsLoaded != 2 {
		t.Fatalf("inserts=%d loaded=%d, want 1 batch of 2", len(repo.inserts), sum.RowsLoaded)
	}
	if len(sum.Batches) != 1 {
		t.Fatalf("batches = %+v", sum.Batches)
	}
}

func TestEngineRun_NoInferLoadsEverythingAsText(t *testing.T) {
	repo := newFakeConnector()
	e := &Engine{
		Connector: repo,
		Source: &fakeSource{
			columns: []string{"n", "when"},
			rows:    [][]string{{"1", "2024-01-01"}},
		},
		Table:   schema.TableRef{Name: "t"},
		NoInfer: true,
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range repo.created[0].Columns {
		if c.Type != schema.VarcharMax() {
			t.Fatalf("column %s = %v, want varchar(max)", c.Name, c.Type)
		}
	}
	if !reflect.DeepEqual(repo.inserts[0].rows[0], []any{"1", "2024-01-01"}) {
		t.Fatalf("row = %#v, want verbatim text", repo.inserts[0].rows[0])
	}
}

func TestEngineRun_HeaderOnlyInputCreatesEmptyTable(t *testing.T) {
	repo := newFakeConnector()
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"a", "b"}},
		Table:     schema.TableRef{Name: "t"},
	}

	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.created) != 1 || len(repo.inserts) != 0 {
		t.Fatalf("created=%d inserts=%d, want table and no data", len(repo.created), len(repo.inserts))
	}
	if sum.RowsRead != 0 || sum.RowsLoaded != 0 || len(sum.Batches) != 0 {
		t.Fatalf("summary counts = %+v", sum)
	}
}

func TestEngineRun_PhasesProgressInOrder(t *testing.T) {
	var phases []Phase
	repo := newFakeConnector()
	e := &Engine{
		Connector: repo,
		Source:    &fakeSource{columns: []string{"n"}, rows: [][]string{{"1"}}},
		Table:     schema.TableRef{Name: "t"},
		OnPhase:   func(p Phase) { phases = append(phases, p) },
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []Phase{PhaseSampling, PhaseReconciling, PhaseLoading}
	if !reflect.DeepEqual(phases, want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
}

func TestEngineRun_ValidatesRequiredSeams(t *testing.T) {
	src := &fakeSource{columns: []string{"n"}}
	cases := []struct {
		name string
		e    *Engine
		want string
	}{
		{"connector", &Engine{Source: src, Table: schema.TableRef{Name: "t"}}, "Connector is required"},
		{"source", &Engine{Connector: newFakeConnector(), Table: schema.TableRef{Name: "t"}}, "Source is required"},
		{"table", &Engine{Connector: newFakeConnector(), Source: src}, "Table.Name is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.e.Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestEngineRun_SourceReadErrorNamesTheRow(t *testing.T) {
	repo := newFakeConnector()
	src := &fakeSource{
		columns: []string{"n"},
		rows:    [][]string{{"1"}, {"2"}},
		readErr: errors.New("stream truncated"),
	}
	e := &Engine{
		Connector:  repo,
		Source:     src,
		Table:      schema.TableRef{Name: "t"},
		SampleRows: 1,
	}

	_, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "reading row 3") || !strings.Contains(err.Error(), "stream truncated") {
		t.Fatalf("err = %v, want reading row 3 wrapping the cause", err)
	}
}
