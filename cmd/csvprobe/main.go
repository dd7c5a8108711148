// Command csvprobe previews what csvload would do with an input: it reads a
// bounded sample, infers a column type per field, and prints the inferred
// schema without writing anything.
//
// The default output is JSON on stdout: per column the source header, the
// sanitized destination name, the inferred type, nullability, the DDL
// fragment for the selected backend, and the observed value classes.
// -report prints a human-readable table instead.
//
// When a DSN is available (the -dsn flag, the DSN env var, or the DSN_*
// component vars), the probe also connects, describes the live table and
// includes the reconciliation plan the load would execute under -if-exists.
// A plan that would be refused (existing table under the fail policy, a
// column that does not fit) is reported in plan_error rather than failing
// the probe.
//
// The sample is bounded by -bytes and -sample-rows. Inputs are local paths,
// file:// URLs, or http(s) URLs; -allow-insecure skips TLS verification.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"csvload/internal/config"
	"csvload/internal/load"
	csvparser "csvload/internal/parser/csv"
	"csvload/internal/parser/htmltable"
	jsonparser "csvload/internal/parser/json"
	"csvload/internal/probe"
	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/internal/storage/mssql"
	"csvload/internal/storage/postgres"
	"csvload/internal/storage/sqlite"
)

func main() {
	var (
		sourceURL  = flag.String("url", "", "URL or path of the input (or pass it as the positional argument)")
		maxBytes   = flag.Int("bytes", probe.DefaultSampleBytes, "bytes sampled from the start of the input")
		sampleRows = flag.Int("sample-rows", probe.DefaultSampleRows, "rows sampled for type inference")
		format     = flag.String("format", "auto", "input format: auto|csv|html|json")
		delimiter  = flag.String("delimiter", "", `CSV field delimiter: a single character, \t or "tab" (default comma)`)
		encoding   = flag.String("encoding", "", "input character set (IANA name; default UTF-8)")
		backend    = flag.String("backend", "postgres", "backend the preview targets: postgres|mssql|sqlite")
		table      = flag.String("table", "", "destination table (default: derived from the input name)")
		namespace  = flag.String("namespace", "", "database schema for unqualified table names (default per backend)")
		dsn        = flag.String("dsn", "", "destination DSN; enables the reconciliation plan")
		ifExists   = flag.String("if-exists", "", "existing-table policy the plan previews: fail|replace|append")
		report     = flag.Bool("report", false, "print a human-readable table instead of JSON")
		pretty     = flag.Bool("pretty", true, "indent the JSON output")
		insecure   = flag.Bool("allow-insecure", false, "skip TLS certificate verification on https sources")
	)
	flag.Parse()

	source := strings.TrimSpace(*sourceURL)
	switch flag.NArg() {
	case 0:
	case 1:
		if source != "" {
			fmt.Fprintln(os.Stderr, "positional input conflicts with -url")
			flag.Usage()
			os.Exit(2)
		}
		source = flag.Arg(0)
	default:
		fmt.Fprintln(os.Stderr, "at most one positional input")
		flag.Usage()
		os.Exit(2)
	}
	if source == "" {
		fmt.Fprintln(os.Stderr, "missing input: pass a path or -url")
		flag.Usage()
		os.Exit(2)
	}

	policy, err := load.ParsePolicy(*ifExists)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	comma, err := config.DelimiterRune(*delimiter)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	wantFormat, err := probe.ParseFormat(*format)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	// Bound the whole probe. Sampling should be fast; if the source hangs,
	// fail instead of sitting there.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *maxBytes <= 0 {
		*maxBytes = probe.DefaultSampleBytes
	}

	// Ask for one byte past the cap so "sample is the whole input" is
	// detectable; only a truncated CSV sample gets cut at the last newline.
	raw, err := probe.Peek(ctx, source, *maxBytes+1, *insecure)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	truncated := len(raw) > *maxBytes
	if truncated {
		raw = raw[:*maxBytes]
	}

	detected := wantFormat
	if detected == probe.FormatUnknown {
		detected = probe.SniffFormat(raw)
		if detected == probe.FormatUnknown {
			log.Fatalf("probe: cannot detect the format of %s; pass -format", source)
		}
	}
	if detected == probe.FormatCSV && truncated {
		raw = probe.ClipToLastNewline(raw)
	}

	src, err := openSample(raw, detected, comma, *encoding)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	columns := src.Columns()
	sample, sampleTruncated, err := readSample(src, *sampleRows, truncated)
	if err != nil {
		log.Fatalf("probe: reading sample: %v", err)
	}

	backendKind := config.NormalizeBackend(*backend)
	dialect, typeDDL := backendPreview(backendKind)

	ref := schema.ParseTableRef(*table)
	if ref.Name == "" {
		ref.Name = deriveTableName(source, dialect)
	}
	if ref.Namespace == "" {
		ref.Namespace = *namespace
	}
	if ref.Namespace == "" {
		ref.Namespace = config.DefaultNamespace(backendKind)
	}

	inferred := probe.Infer(sample, columns, probe.InferOptions{})
	desired := probe.BuildTable(inferred, ref, dialect)

	out := probeReport{
		Source:      source,
		Format:      detected.String(),
		Backend:     backendKind,
		Table:       ref,
		RowsSampled: len(sample),
		Truncated:   truncated || sampleTruncated,
	}
	for i, col := range inferred {
		ddl := typeDDL(col.Type)
		if !col.Nullable {
			ddl += " NOT NULL"
		}
		out.Columns = append(out.Columns, columnReport{
			Source:   col.Source,
			Name:     desired.Columns[i].Name,
			Type:     col.Type,
			Nullable: col.Nullable,
			DDL:      ddl,
			Observed: col.Obs,
		})
	}

	// A DSN from any source enables the live reconciliation preview.
	if dsnValue, ok := config.ResolveDSN(backendKind, *dsn); ok {
		addPlan(ctx, &out, desired, storage.Config{Kind: backendKind, DSN: dsnValue}, policy)
	}

	if *report {
		fmt.Fprintln(os.Stdout, formatReport(out))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("probe: encode: %v", err)
	}
}

// probeReport is the JSON shape of one probe run.
type probeReport struct {
	Source      string          `json:"source"`
	Format      string          `json:"format"`
	Backend     string          `json:"backend"`
	Table       schema.TableRef `json:"table"`
	RowsSampled int             `json:"rows_sampled"`

	// Truncated reports that the sample hit the -bytes or -sample-rows
	// cap, so the inferred types describe a prefix of the input.
	Truncated bool `json:"truncated"`

	Columns []columnReport `json:"columns"`

	Plan      *planReport `json:"plan,omitempty"`
	PlanError string      `json:"plan_error,omitempty"`
}

type columnReport struct {
	Source   string                  `json:"source"`
	Name     string                  `json:"name"`
	Type     schema.ColumnType       `json:"type"`
	Nullable bool                    `json:"nullable"`
	DDL      string                  `json:"ddl"`
	Observed probe.ColumnObservation `json:"observed"`
}

type planReport struct {
	Kind    string       `json:"kind"`
	Columns []planColumn `json:"columns"`
}

type planColumn struct {
	Name   string            `json:"name"`
	Type   schema.ColumnType `json:"type"`
	Source string            `json:"source"`
}

// sampleSource is the subset of the parsers the probe needs.
type sampleSource interface {
	Columns() []string
	Read() ([]string, error)
}

// openSample wraps the sampled bytes in the parser for the format.
func openSample(raw []byte, format probe.Format, comma rune, encoding string) (sampleSource, error) {
	onRowError := func(row int, err error) {
		log.Printf("probe: source row %d: skipped: %v", row, err)
	}
	switch format {
	case probe.FormatHTML:
		return htmltable.Parse(bytes.NewReader(raw), htmltable.Options{
			Encoding:   encoding,
			OnRowError: onRowError,
		})
	case probe.FormatJSON:
		return jsonparser.NewRows(bytes.NewReader(raw), jsonparser.Options{OnRowError: onRowError})
	default:
		return csvparser.NewReader(bytes.NewReader(raw), csvparser.Options{
			Comma:      comma,
			Encoding:   encoding,
			OnRowError: onRowError,
		})
	}
}

// readSample pulls up to n records, copying each because parsers reuse
// their record buffers. The bool reports whether the row cap cut the
// sample short. A byte-capped sample can tear mid-record in formats that
// are not line-aligned; tornOK accepts a late parse error as end of
// sample once some records are in hand.
func readSample(src sampleSource, n int, tornOK bool) ([][]string, bool, error) {
	rows := make([][]string, 0, min(n, 256))
	for len(rows) < n {
		rec, err := src.Read()
		if err == io.EOF {
			return rows, false, nil
		}
		if err != nil {
			if tornOK && len(rows) > 0 {
				return rows, false, nil
			}
			return rows, false, err
		}
		rows = append(rows, append([]string(nil), rec...))
	}
	// One more read tells apart "exactly n rows" from "cap hit".
	if _, err := src.Read(); err == io.EOF {
		return rows, false, nil
	}
	return rows, true, nil
}

// backendPreview returns the dialect and DDL renderer for a backend kind.
func backendPreview(kind string) (schema.Dialect, func(schema.ColumnType) string) {
	switch kind {
	case "mssql":
		return mssql.Dialect(), mssql.TypeDDL
	case "sqlite":
		return sqlite.Dialect(), sqlite.TypeDDL
	default:
		return postgres.Dialect(), postgres.TypeDDL
	}
}

// deriveTableName turns the input's base name into a table name:
// "Order Details.csv" -> "order_details".
func deriveTableName(source string, d schema.Dialect) string {
	base := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" {
		base = path.Base(u.Path)
	} else {
		base = filepath.Base(source)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" || base == "." || base == "/" {
		base = "dataset"
	}
	return d.Sanitize(base)
}

// addPlan connects to the destination and fills in the reconciliation
// plan, or the reason the load would be refused.
func addPlan(ctx context.Context, out *probeReport, desired schema.Table, cfg storage.Config, policy load.Policy) {
	conn, err := storage.Open(ctx, cfg)
	if err != nil {
		out.PlanError = fmt.Sprintf("connect: %v", err)
		return
	}
	defer conn.Close()

	live, found, err := conn.DescribeTable(ctx, desired.Ref())
	if err != nil {
		out.PlanError = fmt.Sprintf("describe %s: %v", desired.Ref(), err)
		return
	}
	var existing *schema.Table
	if found {
		existing = &live
	}

	plan, err := load.Reconcile(desired, existing, policy)
	if err != nil {
		out.PlanError = err.Error()
		return
	}
	pr := &planReport{Kind: plan.Kind.String()}
	for _, c := range plan.Columns {
		src := ""
		if i := c.SourceIndex; i >= 0 && i < len(out.Columns) {
			src = out.Columns[i].Source
		}
		pr.Columns = append(pr.Columns, planColumn{Name: c.Name, Type: c.Type, Source: src})
	}
	out.Plan = pr
}

// formatReport renders the human-readable variant for -report mode.
func formatReport(out probeReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "probe:\tsource=%s format=%s backend=%s rows_sampled=%d truncated=%t\n",
		out.Source, out.Format, out.Backend, out.RowsSampled, out.Truncated)
	fmt.Fprintf(&b, "table:\t%s\n\n", out.Table)

	fmt.Fprintf(&b, "%-24s\t%-24s\t%-16s\t%-5s\t%-22s\t%s\n",
		"column", "source", "type", "null", "ddl", "observed")
	for _, c := range out.Columns {
		null := "no"
		if c.Nullable {
			null = "yes"
		}
		fmt.Fprintf(&b, "%-24s\t%-24s\t%-16s\t%-5s\t%-22s\tvalues=%d nulls=%d max_len=%d\n",
			c.Name, c.Source, c.Type, null, c.DDL, c.Observed.Values, c.Observed.Nulls, c.Observed.MaxLen)
	}

	switch {
	case out.PlanError != "":
		fmt.Fprintf(&b, "\nplan:\trefused: %s\n", out.PlanError)
	case out.Plan != nil:
		cols := make([]string, 0, len(out.Plan.Columns))
		for _, c := range out.Plan.Columns {
			cols = append(cols, c.Name)
		}
		fmt.Fprintf(&b, "\nplan:\t%s %s (%s)\n", out.Plan.Kind, out.Table, strings.Join(cols, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}
