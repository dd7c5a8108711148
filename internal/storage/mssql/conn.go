// Package mssql implements the storage.Connector interface for SQL Server
// via github.com/microsoft/go-mssqldb. It registers itself under the
// "mssql" kind.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"csvload/internal/schema"
	"csvload/internal/storage"
)

// Conn implements storage.Connector for SQL Server.
//
// It holds its database handle behind the dbConn seam so the transactional
// insert path can be exercised in tests without a server.
type Conn struct {
	db dbConn
}

// maxParams caps the bind parameters per statement. SQL Server rejects
// statements with more than 2100 parameters; keep headroom below that.
const maxParams = 2000

// New creates a new SQL Server-backed Conn and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Connector, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: %w", err)
	}
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Conn{db: &sqlDB{db: db}}, nil
}

// Close closes the underlying database handle.
func (c *Conn) Close() error { return c.db.Close() }

// Dialect reports SQL Server identifier rules.
func (c *Conn) Dialect() schema.Dialect {
	return mssqlDialect
}

// describeSQL lists a table's columns in declaration order. Absent tables
// simply return zero rows.
const describeSQL = `
SELECT COLUMN_NAME,
       DATA_TYPE,
       COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),
       COALESCE(NUMERIC_PRECISION, 0),
       COALESCE(NUMERIC_SCALE, 0),
       IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`

// DescribeTable reads the live shape of a table from INFORMATION_SCHEMA.
//
// An unqualified reference is resolved against "dbo", the default schema
// for unqualified DDL.
func (c *Conn) DescribeTable(ctx context.Context, ref schema.TableRef) (schema.Table, bool, error) {
	ns := ref.Namespace
	if ns == "" {
		ns = "dbo"
	}

	rows, err := c.db.QueryContext(ctx, describeSQL, ns, ref.Name)
	if err != nil {
		return schema.Table{}, false, fmt.Errorf("describe table %s: %w", ref, err)
	}
	defer rows.Close()

	t := schema.Table{Namespace: ref.Namespace, Name: ref.Name}
	for rows.Next() {
		var (
			name, dataType, nullable string
			charLen, prec, scale     int
		)
		if err := rows.Scan(&name, &dataType, &charLen, &prec, &scale, &nullable); err != nil {
			return schema.Table{}, false, fmt.Errorf("describe table %s: %w", ref, err)
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:     name,
			Type:     typeFromCatalog(dataType, charLen, prec, scale),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Table{}, false, fmt.Errorf("describe table %s: %w", ref, err)
	}
	if len(t.Columns) == 0 {
		return schema.Table{}, false, nil
	}
	return t, true, nil
}

// CreateTable creates the table. SQL Server schemas are not auto-created;
// a non-default namespace has to exist already.
func (c *Conn) CreateTable(ctx context.Context, t schema.Table) error {
	tableSQL, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", t.Ref(), err)
	}
	return nil
}

// DropTable drops the table if it exists.
func (c *Conn) DropTable(ctx context.Context, ref schema.TableRef) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", tableIdent(ref))); err != nil {
		return fmt.Errorf("drop table %s: %w", ref, err)
	}
	return nil
}

// InsertBatch writes rows with multi-row INSERT statements.
//
// Each statement stays under the 2100-parameter ceiling, so wide batches
// are split into chunks. All chunks run inside one transaction, keeping
// the batch all-or-nothing.
func (c *Conn) InsertBatch(ctx context.Context, ref schema.TableRef, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return 0, nil
	}

	maxRows := maxParams / max(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}
	table := tableIdent(ref)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", ref, err)
	}
	defer func() { _ = tx.Rollback() }()

	var written int64
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		sqlText, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, sqlText, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", ref, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", ref, err)
	}
	return written, nil
}

// buildInsertSQL builds a single INSERT ... VALUES statement for a chunk of
// rows, numbering placeholders @p1..@pN in argument order.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(col))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// buildCreateSQL generates CREATE TABLE DDL from the resolved schema model.
//
// T-SQL has no CREATE TABLE IF NOT EXISTS; the statement is deliberately
// unguarded because existence policy is resolved by the caller.
func buildCreateSQL(t schema.Table) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.Identity != "" {
		parts = append(parts, fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(t.Identity)))
	}
	for _, col := range t.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return "", fmt.Errorf("mssql: table %s has a column with an empty name", t.Name)
		}
		def := mssqlIdent(col.Name) + " " + TypeDDL(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", tableIdent(t.Ref()), strings.Join(parts, ",\n  ")), nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// tableIdent returns a bracket-quoted identifier for a possibly
// namespace-qualified table reference.
//
// Example:
//
//	{Namespace: "dbo", Name: "imports"} -> [dbo].[imports]
func tableIdent(ref schema.TableRef) string {
	if ref.Namespace == "" {
		return mssqlIdent(ref.Name)
	}
	return mssqlIdent(ref.Namespace) + "." + mssqlIdent(ref.Name)
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
//
// It intentionally includes only the methods this package needs.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

// ExecContext executes a non-query statement.
func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// QueryContext executes a query statement and returns rows.
func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

// Close closes the underlying database handle.
func (s *sqlDB) Close() error { return s.db.Close() }

// sqlTx wraps *sql.Tx to implement txConn.
type sqlTx struct {
	tx *sql.Tx
}

// ExecContext executes a statement within this transaction.
func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

// Commit commits the transaction.
func (s *sqlTx) Commit() error { return s.tx.Commit() }

// Rollback rolls back the transaction.
func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

// compile-time sanity checks (no runtime cost).
var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
