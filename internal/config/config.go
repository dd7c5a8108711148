// Package config defines the JSON job file for the loader CLIs and its
// validation. A job file carries the same settings as the command-line
// flags; mains overlay explicitly-set flags on top of it, so every field
// here is optional and the zero value means "use the default".
package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"csvload/internal/load"
	"csvload/internal/probe"
)

// Job is the root of a load job file.
type Job struct {
	// Name labels the job in logs and metrics (the datadog job tag).
	Name string `json:"job,omitempty"`

	Source      Source      `json:"source"`
	Destination Destination `json:"destination"`
	Load        Load        `json:"load"`
	Metrics     Metrics     `json:"metrics"`
}

// Source says where the input lives and how to read it.
type Source struct {
	// File is a local path, optionally file://-prefixed. Mutually
	// exclusive with URL.
	File string `json:"file,omitempty"`

	// URL is an http(s) location to fetch the input from.
	URL string `json:"url,omitempty"`

	// Format is "auto", "csv", "html" or "json". Empty means auto.
	Format string `json:"format,omitempty"`

	// Delimiter is the CSV field separator: a single character, or the
	// spellings `\t` / "tab" for a tab. Empty means comma.
	Delimiter string `json:"delimiter,omitempty"`

	// Encoding names the input character set (IANA name, e.g.
	// "windows-1250"). Empty means UTF-8.
	Encoding string `json:"encoding,omitempty"`

	// AllowInsecure skips TLS certificate verification on https URLs.
	AllowInsecure bool `json:"allow_insecure,omitempty"`
}

// Destination says which database and table receive the rows.
type Destination struct {
	// Backend kind: "postgres" | "mssql" | "sqlite".
	Backend string `json:"backend,omitempty"`

	// DSN overrides the backend's default connection string.
	DSN string `json:"dsn,omitempty"`

	// Namespace is the database schema ("public", "dbo"). Empty lets the
	// backend pick its default.
	Namespace string `json:"namespace,omitempty"`

	// Table is the destination table name, optionally "namespace.table".
	Table string `json:"table,omitempty"`
}

// Load tunes the load run itself.
type Load struct {
	// IfExists is the existing-table policy: "fail", "replace" or
	// "append". Empty means fail.
	IfExists string `json:"if_exists,omitempty"`

	BatchSize  int `json:"batch_size,omitempty"`
	SampleRows int `json:"sample_rows,omitempty"`

	// NoInfer skips type inference and loads every column as text.
	NoInfer bool `json:"no_infer,omitempty"`

	// ContinueOnError keeps loading past unconvertible rows and failed
	// batches instead of aborting.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// AddID adds a backend-generated surrogate key column.
	AddID  bool   `json:"add_id,omitempty"`
	IDName string `json:"id_name,omitempty"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none" or "datadog". Empty means none.
	Backend string `json:"backend,omitempty"`

	// Tags is a comma-separated tag list ("team:data,env:ci") attached to
	// every datadog series.
	Tags string `json:"tags,omitempty"`
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, located by a dotted path into the job
// file ("destination.table").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// Validate checks the effective job, after any flag overlay. Warnings
// point out settings that cannot take effect; errors make the job
// unrunnable.
func Validate(j Job) []Issue {
	var issues []Issue
	errf := func(path, format string, args ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, args...)})
	}
	warnf := func(path, format string, args ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, args...)})
	}

	switch {
	case j.Source.File == "" && j.Source.URL == "":
		errf("source", "either file or url is required")
	case j.Source.File != "" && j.Source.URL != "":
		errf("source", "file and url are mutually exclusive")
	}
	if u := j.Source.URL; u != "" &&
		!strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errf("source.url", "url must start with http:// or https://")
	}
	format, err := probe.ParseFormat(j.Source.Format)
	if err != nil {
		errf("source.format", "%v", err)
	}
	if _, err := DelimiterRune(j.Source.Delimiter); err != nil {
		errf("source.delimiter", "%v", err)
	} else if j.Source.Delimiter != "" &&
		(format == probe.FormatHTML || format == probe.FormatJSON) {
		warnf("source.delimiter", "delimiter has no effect on %s input", format)
	}
	if enc := j.Source.Encoding; enc != "" && !isUTF8Alias(enc) {
		if _, err := htmlindex.Get(enc); err != nil {
			errf("source.encoding", "unknown encoding %q", enc)
		}
	}
	if j.Source.AllowInsecure && !strings.HasPrefix(j.Source.URL, "https://") {
		warnf("source.allow_insecure", "allow_insecure only affects https sources")
	}

	switch strings.ToLower(strings.TrimSpace(j.Destination.Backend)) {
	case "", "postgres", "postgresql", "mssql", "sqlserver", "sqlite":
	default:
		errf("destination.backend", "unknown backend %q (want postgres, mssql or sqlite)",
			j.Destination.Backend)
	}
	if strings.TrimSpace(j.Destination.Table) == "" {
		errf("destination.table", "table name is required")
	}

	if _, err := load.ParsePolicy(j.Load.IfExists); err != nil {
		errf("load.if_exists", "%v", err)
	}
	if j.Load.BatchSize < 0 {
		errf("load.batch_size", "cannot be negative, got %d", j.Load.BatchSize)
	}
	if j.Load.SampleRows < 0 {
		errf("load.sample_rows", "cannot be negative, got %d", j.Load.SampleRows)
	}
	if j.Load.IDName != "" && !j.Load.AddID {
		warnf("load.id_name", "id_name has no effect without add_id")
	}

	switch strings.ToLower(strings.TrimSpace(j.Metrics.Backend)) {
	case "", "none", "datadog":
	default:
		errf("metrics.backend", "unknown metrics backend %q (want none or datadog)",
			j.Metrics.Backend)
	}

	return issues
}

// DelimiterRune maps a delimiter spelling to the rune the parser uses.
// Empty means "keep the default comma" and returns 0.
func DelimiterRune(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case `\t`, "tab", "TAB":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r, nil
}

func isUTF8Alias(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "utf-8", "utf8":
		return true
	}
	return false
}
