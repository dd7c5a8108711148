// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Loads can be seconds or hours long, and a single submit at process exit
// renders as one spike on a dashboard. This backend therefore:
//
//   - buffers samples in-memory (fast, lock-protected)
//   - periodically Flush()es on a ticker (default: once per minute)
//   - Flush()es one final time on Close()
//
// Long runs get a live time series; short runs still get their tail flush.
//
// Concurrency model:
//   - loader goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under the mutex, then submits
//     out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
//
// If the process dies with SIGKILL/OOM, Close() never runs and the last
// window is lost; no client-side backend can fix that.
package datadog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"csvload/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to
	// "csvload".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:data"}).
	Tags []string

	// FlushEvery controls how often buffered samples are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets these; unit tests
	// do, to avoid real network submission and nondeterministic tickers.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal surface needed to submit metrics. The SDK
// exposes the concrete *datadogV2.MetricsApi, which cannot be stubbed
// without real HTTP; depending on this interface keeps the tests hermetic.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	// now and newTicker are injected for deterministic tests. Production
	// uses time.Now and time.NewTicker.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	rowCounts    map[string]float64   // table\x00kind\x00status -> rows
	batchCounts  map[string]float64   // table\x00kind\x00status -> batches
	runCounts    map[string]float64   // status -> runs
	batchSamples map[string][]float64 // table\x00kind -> batch seconds
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
//
// Errors:
//   - Returns any error from the final Flush() submission.
//   - Calling Close twice panics (stopCh closes twice). The backend lives
//     for the process; close it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// NewBackend constructs a Datadog backend using the official client.
//
// When to use:
//   - Selected by -metrics datadog in the CLIs; suits long runs (periodic
//     flush) and one-shot loads (final flush on Close).
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "csvload".
//   - Environment tag selection uses ENV then DD_ENV, otherwise
//     env:unknown.
//
// Errors:
//   - Returns an error when DD_API_KEY is unset, so a misconfigured run
//     fails at startup instead of 401-ing on every flush. DD_SITE picks
//     the intake site and may stay unset for the default.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "csvload"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		if strings.TrimSpace(os.Getenv("DD_API_KEY")) == "" {
			return nil, wrapInitErr(errors.New("DD_API_KEY is not set"))
		}
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api: submitter,
		// NewDefaultContext reads DD_API_KEY / DD_SITE into the context the
		// client authenticates with.
		ctx: dd.NewDefaultContext(parent),

		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		rowCounts:    make(map[string]float64),
		batchCounts:  make(map[string]float64),
		runCounts:    make(map[string]float64),
		batchSamples: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "csvload_rows_total":
		b.rowCounts[tableStatusKey(labels)] += delta

	case "csvload_batches_total":
		b.batchCounts[tableStatusKey(labels)] += delta

	case "csvload_runs_total":
		b.runCounts[orUnknown(labels["status"])] += delta

	default:
		// Unknown names are dropped; the facade is fire-and-forget.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "csvload_batch_seconds":
		k := tableKey(labels)
		b.batchSamples[k] = append(b.batchSamples[k], value)

	default:
	}
}

// snapshot is the detached buffered state one flush submits. Flush() must
// reset buffers under the lock but submit out of lock; the snapshot splits
// collect+reset from payload building.
type snapshot struct {
	rowCounts    map[string]float64
	batchCounts  map[string]float64
	runCounts    map[string]float64
	batchSamples map[string][]float64
}

// snapshotAndReset grabs the buffered samples and resets the buffers for
// the next collection window. Takes the lock itself; call without it.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		rowCounts:    b.rowCounts,
		batchCounts:  b.batchCounts,
		runCounts:    b.runCounts,
		batchSamples: b.batchSamples,
	}

	b.rowCounts = make(map[string]float64)
	b.batchCounts = make(map[string]float64)
	b.runCounts = make(map[string]float64)
	b.batchSamples = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.rowCounts) == 0 &&
		len(s.batchCounts) == 0 &&
		len(s.runCounts) == 0 &&
		len(s.batchSamples) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Errors:
//   - Returns any error from Datadog submission.
//   - Returns nil if there is nothing to submit.
//
// Edge cases:
//   - Safe to call concurrently with IncCounter/ObserveHistogram.
//   - Buffers reset even when submission fails, so a broken intake cannot
//     make the loader accumulate unbounded memory. Delivery is
//     best-effort.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	nowUnix := b.now().Unix()
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, nowUnix)}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed
// timestamp. Pure (no locks, network, or clocks), so the naming and
// tagging contract is unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	countSeries := func(metric string, value float64, tags []string) datadogV2.MetricSeries {
		return datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		}
	}

	series := make([]datadogV2.MetricSeries, 0, len(s.rowCounts)+len(s.batchCounts)+len(s.runCounts)+8*len(s.batchSamples))

	for k, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		table, kind, status := splitTableStatusKey(k)
		tags := withTags(b.baseTags, "table:"+table, "kind:"+kind, "status:"+status)
		series = append(series, countSeries("csvload.rows.total", v, tags))
	}

	for k, v := range s.batchCounts {
		if v == 0 {
			continue
		}
		table, kind, status := splitTableStatusKey(k)
		tags := withTags(b.baseTags, "table:"+table, "kind:"+kind, "status:"+status)
		series = append(series, countSeries("csvload.batches.total", v, tags))
	}

	for status, v := range s.runCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("csvload.runs.total", v, withTags(b.baseTags, "status:"+status)))
	}

	for k, samples := range s.batchSamples {
		table, kind := splitTableKey(k)
		tags := withTags(b.baseTags, "table:"+table, "kind:"+kind)
		addPercentiles(&series, "csvload.batch_seconds", samples, tags, nowUnix)
	}

	return series
}

// addPercentiles appends the fixed percentile gauge set for one sample
// set. Histograms ship as nearest-rank percentile gauges because this API
// level has no native histogram type.
//
// Edge cases:
//   - Empty samples append nothing.
//   - Sorts a copy; the input slice is not mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func tableStatusKey(labels metrics.Labels) string {
	return orUnknown(labels["table"]) + "\x00" + orUnknown(labels["kind"]) + "\x00" + orUnknown(labels["status"])
}

func splitTableStatusKey(k string) (table, kind, status string) {
	parts := strings.SplitN(k, "\x00", 3)
	for len(parts) < 3 {
		parts = append(parts, "unknown")
	}
	return parts[0], parts[1], parts[2]
}

func tableKey(labels metrics.Labels) string {
	return orUnknown(labels["table"]) + "\x00" + orUnknown(labels["kind"])
}

func splitTableKey(k string) (table, kind string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
