// Command csvload loads a delimited file, an HTML table or JSON records
// into a relational database. It samples the input, infers a column type
// per field, creates or reconciles the destination table, then streams the
// rows in batched bulk inserts.
//
// The input comes from -file (or a positional path) or -url. The format is
// sniffed from the leading bytes unless -format forces it. The destination
// is picked with -backend and -table; -if-exists decides what happens when
// the table already exists (fail, replace, append).
//
// Settings can also live in a JSON job file (-config). Command-line flags
// override the file; the merged job is validated before anything runs, and
// -validate stops after that check.
//
// # DSN overrides
//
// The destination connection string resolves in strict precedence order:
//
//  1. -dsn flag (or the job file's destination.dsn)
//  2. DSN environment variable (full DSN string)
//  3. Component env vars DSN_HOST / DSN_PORT / DSN_USER / DSN_PASSWORD /
//     DSN_DB, plus backend knobs:
//     - Postgres: DSN_SSLMODE (default "disable")
//     - MSSQL:    DSN_ENCRYPT (default "disable")
//     - SQLite:   DSN_SQLITE (path or full DSN)
//     and optional extra query params DSN_PARAMS (no leading '?').
//  4. The backend's development default.
//
// # Exit codes
//
// 0 on success, 1 when the load fails, 2 on usage or configuration errors.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"csvload/internal/config"
	"csvload/internal/load"
	"csvload/internal/metrics"
	"csvload/internal/metrics/datadog"
	csvparser "csvload/internal/parser/csv"
	"csvload/internal/parser/htmltable"
	jsonparser "csvload/internal/parser/json"
	"csvload/internal/probe"
	"csvload/internal/schema"
	"csvload/internal/storage"

	// register all backends with the storage factory; the job picks one at
	// runtime.
	_ "csvload/internal/storage/all"
)

func main() {
	var (
		file       = flag.String("file", "", "local input path (or pass it as the positional argument)")
		sourceURL  = flag.String("url", "", "http(s) URL of the input")
		format     = flag.String("format", "auto", "input format: auto|csv|html|json")
		table      = flag.String("table", "", "destination table, optionally namespace.table")
		namespace  = flag.String("namespace", "", "database schema for unqualified table names (default per backend)")
		backend    = flag.String("backend", "", "destination backend: postgres|mssql|sqlite (default postgres)")
		dsn        = flag.String("dsn", "", "destination DSN (highest priority; see DSN overrides)")
		ifExists   = flag.String("if-exists", "", "existing-table policy: fail|replace|append (default fail)")
		batchSize  = flag.Int("batch-size", 1000, "rows per bulk insert")
		sampleRows = flag.Int("sample-rows", 1000, "rows sampled for type inference")
		noInfer    = flag.Bool("no-infer", false, "skip type inference and load every column as text")
		contOnErr  = flag.Bool("continue-on-error", false, "skip unconvertible rows and failed batches instead of aborting")
		delimiter  = flag.String("delimiter", "", `CSV field delimiter: a single character, \t or "tab" (default comma)`)
		encoding   = flag.String("encoding", "", `input character set (IANA name, e.g. "windows-1250"; default UTF-8)`)
		addID      = flag.Bool("add-id", false, "prepend an auto-increment key to tables this run creates")
		idName     = flag.String("id-name", "", `name of the -add-id column (default "id")`)
		insecure   = flag.Bool("allow-insecure", false, "skip TLS certificate verification on https sources")
		cfgPath    = flag.String("config", "", "JSON job file; flags override it")
		metricsB   = flag.String("metrics", "", "metrics backend: none|datadog (default none; env METRICS_BACKEND)")
		metricsT   = flag.String("metrics-tags", "", `extra datadog tags, comma-separated ("team:data,env:ci")`)
		jobName    = flag.String("job", "", "job name for logs and the datadog job tag")
		validate   = flag.Bool("validate", false, "validate the merged job and exit")
		quiet      = flag.Bool("quiet", false, "suppress progress logs; the summary still prints")
	)
	flag.Parse()

	var job config.Job
	if *cfgPath != "" {
		f, err := os.Open(*cfgPath)
		if err != nil {
			fatalf("open config: %v", err)
		}
		if err := json.NewDecoder(f).Decode(&job); err != nil {
			f.Close()
			fatalf("decode config %s: %v", *cfgPath, err)
		}
		f.Close()
	}

	// Flags override the job file. Visit covers only flags that were set on
	// the command line, so flag defaults never clobber file values.
	fileSet, urlSet := false, false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "file":
			job.Source.File = *file
			fileSet = true
		case "url":
			job.Source.URL = *sourceURL
			urlSet = true
		case "format":
			job.Source.Format = *format
		case "delimiter":
			job.Source.Delimiter = *delimiter
		case "encoding":
			job.Source.Encoding = *encoding
		case "allow-insecure":
			job.Source.AllowInsecure = *insecure
		case "table":
			job.Destination.Table = *table
		case "namespace":
			job.Destination.Namespace = *namespace
		case "backend":
			job.Destination.Backend = *backend
		case "dsn":
			job.Destination.DSN = *dsn
		case "if-exists":
			job.Load.IfExists = *ifExists
		case "batch-size":
			job.Load.BatchSize = *batchSize
		case "sample-rows":
			job.Load.SampleRows = *sampleRows
		case "no-infer":
			job.Load.NoInfer = *noInfer
		case "continue-on-error":
			job.Load.ContinueOnError = *contOnErr
		case "add-id":
			job.Load.AddID = *addID
		case "id-name":
			job.Load.IDName = *idName
		case "metrics":
			job.Metrics.Backend = *metricsB
		case "metrics-tags":
			job.Metrics.Tags = *metricsT
		case "job":
			job.Name = *jobName
		}
	})

	// A positional path is shorthand for -file. It conflicts with explicit
	// -file/-url flags but, like them, overrides the job file.
	switch flag.NArg() {
	case 0:
	case 1:
		if fileSet || urlSet {
			usagef("positional input conflicts with -file/-url")
		}
		job.Source.File = flag.Arg(0)
		job.Source.URL = ""
	default:
		usagef("at most one positional input, got %d", flag.NArg())
	}

	issues := config.Validate(job)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fmt.Fprintln(os.Stderr, "job configuration is invalid")
		os.Exit(2)
	}
	if *validate {
		log.Printf("job configuration is valid")
		return
	}

	if *quiet {
		log.SetOutput(io.Discard)
	}

	// Metrics backend: merged job value, then env, then none.
	closeMetrics := func() {}
	metricsName := job.Metrics.Backend
	if metricsName == "" {
		metricsName = os.Getenv("METRICS_BACKEND")
	}
	switch strings.ToLower(strings.TrimSpace(metricsName)) {
	case "datadog":
		tags := job.Metrics.Tags
		if tags == "" {
			tags = os.Getenv("METRICS_TAGS")
		}
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    job.Name,
			Tags:       datadog.ParseTagsCSV(tags),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			break
		}
		metrics.SetBackend(b)
		closeMetrics = func() {
			// Close stops the flush loop and submits one final time.
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}
	case "", "none":
		// metrics disabled; the nop backend stays.
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", metricsName)
	}
	defer closeMetrics()

	// Ctrl-C cancels between batches; the batch in flight still commits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendKind := config.NormalizeBackend(job.Destination.Backend)
	dsnValue, ok := config.ResolveDSN(backendKind, job.Destination.DSN)
	if !ok {
		dsnValue = config.DefaultDSN(backendKind)
	}

	ref := schema.ParseTableRef(job.Destination.Table)
	if ref.Namespace == "" {
		ref.Namespace = job.Destination.Namespace
	}
	if ref.Namespace == "" {
		ref.Namespace = config.DefaultNamespace(backendKind)
	}

	policy, err := load.ParsePolicy(job.Load.IfExists)
	if err != nil {
		fatalf("%v", err) // unreachable after validation
	}

	src, closeSource, err := openSource(ctx, job)
	if err != nil {
		fatalf("%v", err)
	}
	defer closeSource()

	conn, err := storage.Open(ctx, storage.Config{Kind: backendKind, DSN: dsnValue})
	if err != nil {
		fatalf("open %s: %v", backendKind, err)
	}
	defer conn.Close()

	var logger load.Logger
	if !*quiet {
		logger = log.Default()
	}

	eng := &load.Engine{
		Connector:       conn,
		Source:          src,
		Logger:          logger,
		Table:           ref,
		Policy:          policy,
		BatchSize:       job.Load.BatchSize,
		SampleRows:      job.Load.SampleRows,
		NoInfer:         job.Load.NoInfer,
		ContinueOnError: job.Load.ContinueOnError,
		AddID:           job.Load.AddID,
		IDName:          job.Load.IDName,
	}

	sum, runErr := eng.Run(ctx)
	printSummary(os.Stdout, sum)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "load failed: %v\n", runErr)
		conn.Close()
		closeSource()
		closeMetrics()
		os.Exit(1)
	}
}

// openSource opens the input stream and wraps it in the parser for the
// job's (possibly sniffed) format.
func openSource(ctx context.Context, job config.Job) (load.RowSource, func(), error) {
	source := job.Source.File
	if job.Source.URL != "" {
		source = job.Source.URL
	}

	rc, err := probe.OpenSource(ctx, source, job.Source.AllowInsecure)
	if err != nil {
		return nil, nil, err
	}
	closeSource := func() { rc.Close() }
	br := bufio.NewReaderSize(rc, 64<<10)

	format, err := probe.ParseFormat(job.Source.Format)
	if err != nil {
		closeSource()
		return nil, nil, err // unreachable after validation
	}
	if format == probe.FormatUnknown {
		head, err := br.Peek(512)
		if err != nil && len(head) == 0 {
			closeSource()
			return nil, nil, fmt.Errorf("read %s: %w", source, err)
		}
		format = probe.SniffFormat(head)
		if format == probe.FormatUnknown {
			closeSource()
			return nil, nil, fmt.Errorf("cannot detect the format of %s; pass -format", source)
		}
	}

	onRowError := func(row int, err error) {
		log.Printf("source row %d: skipped: %v", row, err)
	}

	switch format {
	case probe.FormatHTML:
		tbl, err := htmltable.Parse(br, htmltable.Options{
			Encoding:   job.Source.Encoding,
			OnRowError: onRowError,
		})
		if err != nil {
			closeSource()
			return nil, nil, err
		}
		return tbl, closeSource, nil
	case probe.FormatJSON:
		rows, err := jsonparser.NewRows(br, jsonparser.Options{OnRowError: onRowError})
		if err != nil {
			closeSource()
			return nil, nil, err
		}
		return rows, closeSource, nil
	default:
		comma, err := config.DelimiterRune(job.Source.Delimiter)
		if err != nil {
			closeSource()
			return nil, nil, err // unreachable after validation
		}
		r, err := csvparser.NewReader(br, csvparser.Options{
			Comma:      comma,
			Encoding:   job.Source.Encoding,
			OnRowError: onRowError,
		})
		if err != nil {
			closeSource()
			return nil, nil, err
		}
		return r, closeSource, nil
	}
}

// printSummary writes the human-readable run accounting to w. It prints
// even for failed runs; the counters then reflect what was committed
// before the failure.
func printSummary(w io.Writer, sum load.Summary) {
	plan := "none"
	if sum.Plan != 0 {
		plan = sum.Plan.String()
	}
	fmt.Fprintf(w, "run=%s table=%s backend=%s policy=%s plan=%s\n",
		sum.RunID, sum.Table, orDash(sum.Kind), sum.Policy, plan)
	fmt.Fprintf(w, "rows=%d loaded=%d skipped=%d batches=%d duration=%s rate=%.0f/s\n",
		sum.RowsRead, sum.RowsLoaded, sum.RowsSkipped, len(sum.Batches),
		sum.Elapsed.Truncate(time.Millisecond), sum.RowsPerSec())
	for _, err := range sum.Errors {
		fmt.Fprintf(w, "  skipped: %v\n", err)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func usagef(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	flag.Usage()
	os.Exit(2)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
