// Package storage defines the backend-agnostic connector interface the
// load engine talks to, and the registry that maps backend kinds to
// connector factories.
package storage

import (
	"context"
	"fmt"
	"sync"

	"csvload/internal/schema"
)

// Config is the minimal configuration needed to open a Connector.
//
// When to use:
//   - Use Config when constructing a Connector via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
//
// Errors:
//   - Open returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// Connector is a backend-agnostic interface for loading rows into one
// relational destination.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the load engine needs. Each backend implements these semantics
// in its own idiomatic way (Postgres $N placeholders, SQL Server parameter
// chunking, SQLite text timestamps, etc).
type Connector interface {
	// DescribeTable reports the live shape of a table. The boolean is false
	// when the table does not exist; absence is not an error.
	//
	// Column types the loader cannot produce map to the widest character
	// type, so schema comparison degrades safely instead of failing on
	// exotic columns.
	DescribeTable(ctx context.Context, ref schema.TableRef) (schema.Table, bool, error)

	// CreateTable creates the table described by t, including its identity
	// column when t.Identity is set. Backends with namespaces create the
	// namespace first where the backend supports that. The statement is not
	// guarded with IF NOT EXISTS; the caller resolves existence policy
	// before calling.
	CreateTable(ctx context.Context, t schema.Table) error

	// DropTable drops the table. Dropping an absent table is a no-op, not
	// an error.
	DropTable(ctx context.Context, ref schema.TableRef) error

	// InsertBatch writes rows into the table as one atomic unit: either
	// every row lands or none do. Backends may split the batch into several
	// statements to respect driver parameter limits, but must do so inside
	// a single transaction.
	//
	// Values must already be driver-compatible Go types; nil means SQL
	// NULL. Returns the number of rows written.
	InsertBatch(ctx context.Context, ref schema.TableRef, columns []string, rows [][]any) (int64, error)

	// Dialect describes the backend's identifier rules for name
	// sanitization.
	Dialect() schema.Dialect

	// Close releases backend resources (connections, pools).
	//
	// Edge cases:
	//   - Safe to call once at process shutdown; treat Close as "call once".
	Close() error
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Connector, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The kind string becomes the lookup key used by Open.
//
// Edge cases:
//   - kind must be non-empty.
//   - f must be non-nil.
//   - Registering the same kind more than once panics. This is intentional
//     to fail fast and avoid ambiguous backend selection.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Connector using the registered backend factory.
//
// When to use:
//   - Call Open once per run with the configured backend kind and DSN.
//
// Edge cases:
//   - If cfg.Kind is empty, Open returns an error.
//   - If cfg.Kind is not registered, Open returns an error naming the kind.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Connector, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
