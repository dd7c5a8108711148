// Package metrics is a process-wide metrics seam with a nop default.
// Library code instruments unconditionally; mains pick the backend
// (see internal/metrics/datadog) or leave it unset.
package metrics

import "sync"

// Labels carry the dimension key/value pairs attached to one sample.
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use; loader goroutines call these at any time.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer samples and can push
// them out on demand.
type Flusher interface {
	Flush() error
}

var (
	mu      sync.RWMutex
	backend Backend
)

// SetBackend installs the process-wide backend. Passing nil restores the
// nop default.
func SetBackend(b Backend) {
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter. Nop when no backend is set.
func IncCounter(name string, delta float64, labels Labels) {
	if b := current(); b != nil {
		b.IncCounter(name, delta, labels)
	}
}

// ObserveHistogram records one sample of the named histogram. Nop when no
// backend is set.
func ObserveHistogram(name string, value float64, labels Labels) {
	if b := current(); b != nil {
		b.ObserveHistogram(name, value, labels)
	}
}

// Flush pushes buffered samples out of backends that implement Flusher.
// Nop otherwise.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}
