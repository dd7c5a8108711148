package storage

import (
	"context"
	"strings"
	"testing"

	"csvload/internal/schema"
)

// fakeConnector is a no-op Connector used to exercise the registry.
type fakeConnector struct {
	cfg Config
}

func (f *fakeConnector) DescribeTable(ctx context.Context, ref schema.TableRef) (schema.Table, bool, error) {
	return schema.Table{}, false, nil
}
func (f *fakeConnector) CreateTable(ctx context.Context, t schema.Table) error { return nil }
func (f *fakeConnector) DropTable(ctx context.Context, ref schema.TableRef) error {
	return nil
}
func (f *fakeConnector) InsertBatch(ctx context.Context, ref schema.TableRef, columns []string, rows [][]any) (int64, error) {
	return 0, nil
}
func (f *fakeConnector) Dialect() schema.Dialect { return schema.NewDialect("fake", 0, nil) }
func (f *fakeConnector) Close() error            { return nil }

func TestOpen_UsesRegisteredFactory(t *testing.T) {
	Register("fake_open", func(ctx context.Context, cfg Config) (Connector, error) {
		return &fakeConnector{cfg: cfg}, nil
	})

	c, err := Open(context.Background(), Config{Kind: "fake_open", DSN: "dsn://x"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fc, ok := c.(*fakeConnector)
	if !ok {
		t.Fatalf("Open returned %T, want *fakeConnector", c)
	}
	if fc.cfg.DSN != "dsn://x" {
		t.Fatalf("factory received DSN %q, want %q", fc.cfg.DSN, "dsn://x")
	}
}

func TestOpen_EmptyKindErrors(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "dsn://x"}); err == nil {
		t.Fatalf("expected error for empty kind, got nil")
	}
}

func TestOpen_UnknownKindErrors(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: "no_such_backend"})
	if err == nil {
		t.Fatalf("expected error for unknown kind, got nil")
	}
	if !strings.Contains(err.Error(), "no_such_backend") {
		t.Fatalf("error should name the kind, got: %v", err)
	}
}

func TestRegister_DuplicateKindPanics(t *testing.T) {
	Register("fake_dup", func(ctx context.Context, cfg Config) (Connector, error) {
		return &fakeConnector{}, nil
	})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate Register")
		}
	}()
	Register("fake_dup", func(ctx context.Context, cfg Config) (Connector, error) {
		return &fakeConnector{}, nil
	})
}

func TestRegister_EmptyKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on empty kind")
		}
	}()
	Register("", func(ctx context.Context, cfg Config) (Connector, error) {
		return &fakeConnector{}, nil
	})
}

func TestRegister_NilFactoryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on nil factory")
		}
	}()
	Register("fake_nil", nil)
}
