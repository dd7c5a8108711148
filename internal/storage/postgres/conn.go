// Package postgres implements the storage.Connector interface on top of
// pgx. It registers itself under the "postgres" kind.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"csvload/internal/schema"
	"csvload/internal/storage"
)

// Conn implements storage.Connector for PostgreSQL.
//
// It provides:
//   - Live table introspection via information_schema
//   - DDL generation from the resolved schema model
//   - Batched multi-row INSERTs with $N placeholders
type Conn struct {
	pool *pgxpool.Pool
}

// maxParams caps the bind parameters per statement. The extended query
// protocol encodes the parameter count as uint16, so 65535 is the hard
// ceiling; stay under it with headroom.
const maxParams = 65000

// New creates a new Postgres-backed Conn.
//
// pgxpool connects lazily, so DSN problems beyond parse errors surface on
// the first query rather than here.
func New(ctx context.Context, cfg storage.Config) (storage.Connector, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return &Conn{pool: pool}, nil
}

// Close closes the connection pool.
func (c *Conn) Close() error {
	c.pool.Close()
	return nil
}

// Dialect reports Postgres identifier rules.
func (c *Conn) Dialect() schema.Dialect {
	return pgDialect
}

// describeSQL lists a table's columns in declaration order. Absent tables
// simply return zero rows.
const describeSQL = `
SELECT column_name,
       data_type,
       COALESCE(character_maximum_length, 0),
       COALESCE(numeric_precision, 0),
       COALESCE(numeric_scale, 0),
       is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// DescribeTable reads the live shape of a table from information_schema.
//
// An unqualified reference is resolved against "public", matching where
// unqualified DDL lands under the default search_path.
func (c *Conn) DescribeTable(ctx context.Context, ref schema.TableRef) (schema.Table, bool, error) {
	ns := ref.Namespace
	if ns == "" {
		ns = "public"
	}

	rows, err := c.pool.Query(ctx, describeSQL, ns, ref.Name)
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
			Nullable: nullable == "YES",
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

// CreateTable creates the table, creating its schema first when the
// reference is namespace-qualified.
func (c *Conn) CreateTable(ctx context.Context, t schema.Table) error {
	schemaSQL, tableSQL, err := buildCreateSQL(t)
	if err != nil {
		return err
	}

	if schemaSQL != "" {
		if _, err := c.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema %s: %w", t.Namespace, err)
		}
	}
	if _, err := c.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", t.Ref(), err)
	}
	return nil
}

// DropTable drops the table if it exists.
func (c *Conn) DropTable(ctx context.Context, ref schema.TableRef) error {
	if _, err := c.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", tableIdent(ref))); err != nil {
		return fmt.Errorf("drop table %s: %w", ref, err)
	}
	return nil
}

// InsertBatch writes rows with multi-row INSERT statements.
//
// Batches whose parameter count fits under maxParams go out as a single
// statement. Larger batches are split into chunks that run inside one
// transaction, so the batch stays all-or-nothing either way.
func (c *Conn) InsertBatch(ctx context.Context, ref schema.TableRef, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return 0, nil
	}

	table := tableIdent(ref)
	maxRows := maxParams / len(columns)
	if maxRows < 1 {
		maxRows = 1
	}

	if len(rows) <= maxRows {
		sql, args := buildInsertSQL(table, columns, rows)
		tag, err := c.pool.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", ref, err)
		}
		return tag.RowsAffected(), nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", ref, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var written int64
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		sql, args := buildInsertSQL(table, columns, rows[start:end])
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", ref, err)
		}
		written += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", ref, err)
	}
	return written, nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering and identifier
//     quoting can be unit tested without a database.
//
// Constraints:
//   - columns must be non-empty.
//   - every row must have the same length as columns.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(col))
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
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// buildCreateSQL generates DDL for a table, plus a CREATE SCHEMA statement
// when the table is namespace-qualified.
//
// The CREATE TABLE is deliberately unguarded: existence policy is resolved
// by the caller, and a plain statement fails loudly if that went wrong.
func buildCreateSQL(t schema.Table) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("postgres: table name is empty")
	}
	if t.Namespace != "" {
		schemaSQL = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", pgIdent(t.Namespace))
	}

	var parts []string
	if t.Identity != "" {
		parts = append(parts, fmt.Sprintf("%s BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY", pgIdent(t.Identity)))
	}
	for _, col := range t.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return "", "", fmt.Errorf("postgres: table %s has a column with an empty name", t.Name)
		}
		def := pgIdent(col.Name) + " " + TypeDDL(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(parts) == 0 {
		return "", "", fmt.Errorf("postgres: table %s has no columns", t.Name)
	}

	tableSQL = fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", tableIdent(t.Ref()), strings.Join(parts, ",\n  "))
	return schemaSQL, tableSQL, nil
}

// pgIdent returns a double-quoted identifier, escaping '"' as '""'.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// tableIdent quotes a possibly namespace-qualified table reference.
func tableIdent(ref schema.TableRef) string {
	if ref.Namespace == "" {
		return pgIdent(ref.Name)
	}
	return pgIdent(ref.Namespace) + "." + pgIdent(ref.Name)
}
