// Package sqlite implements the storage.Connector interface on top of the
// pure-Go modernc.org/sqlite driver. It registers itself under the
// "sqlite" kind.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"csvload/internal/schema"
	"csvload/internal/storage"
)

// Conn implements storage.Connector for SQLite.
//
// Key design points vs the server backends:
//   - SQLite has no native temporal type. Even if the declared type says
//     DATETIME, values land with TEXT affinity. Timestamps are therefore
//     bound as formatted strings for reliable round-trip behavior.
//   - There are no namespaces; a qualified table reference uses only its
//     name part.
type Conn struct {
	db *sql.DB
}

// maxParams caps the bind parameters per statement. SQLite's default
// variable limit is 32766 (SQLITE_MAX_VARIABLE_NUMBER); stay under it.
const maxParams = 32000

// New opens the SQLite database named by the DSN and verifies it.
func New(ctx context.Context, cfg storage.Config) (storage.Connector, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Conn{db: db}, nil
}

// Close closes the underlying database handle.
func (c *Conn) Close() error { return c.db.Close() }

// Dialect reports SQLite identifier rules.
func (c *Conn) Dialect() schema.Dialect {
	return sqliteDialect
}

// DescribeTable reads the live shape of a table from pragma_table_info.
// Declared types are parsed back into the resolved type model; SQLite
// stores them verbatim, so our own DDL round-trips exactly.
func (c *Conn) DescribeTable(ctx context.Context, ref schema.TableRef) (schema.Table, bool, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`, ref.Name)
	if err != nil {
		return schema.Table{}, false, fmt.Errorf("describe table %s: %w", ref.Name, err)
	}
	defer rows.Close()

	t := schema.Table{Name: ref.Name}
	for rows.Next() {
		var (
			name, decl string
			notNull    int
		)
		if err := rows.Scan(&name, &decl, &notNull); err != nil {
			return schema.Table{}, false, fmt.Errorf("describe table %s: %w", ref.Name, err)
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:     name,
			Type:     parseDeclaredType(decl),
			Nullable: notNull == 0,
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Table{}, false, fmt.Errorf("describe table %s: %w", ref.Name, err)
	}
	if len(t.Columns) == 0 {
		return schema.Table{}, false, nil
	}
	return t, true, nil
}

// CreateTable creates the table. The namespace part of a qualified
// reference is ignored.
func (c *Conn) CreateTable(ctx context.Context, t schema.Table) error {
	ddl, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// DropTable drops the table if it exists.
func (c *Conn) DropTable(ctx context.Context, ref schema.TableRef) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", sqlIdent(ref.Name))); err != nil {
		return fmt.Errorf("drop table %s: %w", ref.Name, err)
	}
	return nil
}

// InsertBatch writes rows with multi-row INSERT statements, splitting into
// chunks under the variable limit. All chunks run inside one transaction.
func (c *Conn) InsertBatch(ctx context.Context, ref schema.TableRef, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return 0, nil
	}

	maxRows := maxParams / len(columns)
	if maxRows < 1 {
		maxRows = 1
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", ref.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var written int64
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		sqlText, args := buildInsertSQL(ref.Name, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, sqlText, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", ref.Name, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", ref.Name, err)
	}
	return written, nil
}

// buildInsertSQL builds a single INSERT ... VALUES statement for a chunk of
// rows. Values pass through normalizeValue, so timestamps are already text
// by the time the driver binds them.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, col := range columns {
		colList = append(colList, sqlIdent(col))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, normalizeValue(v))
		}
	}

	return b.String(), args
}

// buildCreateSQL generates CREATE TABLE DDL from the resolved schema model.
// Deliberately unguarded; existence policy is resolved by the caller.
func buildCreateSQL(t schema.Table) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}

	var parts []string
	if t.Identity != "" {
		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid
		// and auto-generates values.
		parts = append(parts, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.Identity)))
	}
	for _, col := range t.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return "", fmt.Errorf("sqlite: table %s has a column with an empty name", t.Name)
		}
		def := sqlIdent(col.Name) + " " + TypeDDL(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", t.Name)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// normalizeValue rewrites values SQLite has no native type for. Timestamps
// become text; everything else binds as-is.
func normalizeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatTime(t)
	}
	return v
}

// formatTime renders a timestamp as text in UTC. Midnight values keep the
// plain date form so date columns stay readable; everything else is
// RFC3339Nano for a reliable round trip.
func formatTime(t time.Time) string {
	u := t.UTC()
	if h, m, s := u.Clock(); h == 0 && m == 0 && s == 0 && u.Nanosecond() == 0 {
		return u.Format("2006-01-02")
	}
	return u.Format(time.RFC3339Nano)
}

// sqlIdent returns a double-quoted identifier, escaping '"' as '""'.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
