package schema

import "strings"

// TableRef names a destination table, optionally qualified by a namespace
// (database schema: "public", "dbo"). Backends that have no notion of
// namespaces ignore it.
type TableRef struct {
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

// String renders "namespace.name", or just "name" when unqualified.
func (r TableRef) String() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "." + r.Name
}

// ParseTableRef splits "namespace.table" on the first dot. A bare name
// yields an empty namespace.
func ParseTableRef(s string) TableRef {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return TableRef{Namespace: s[:i], Name: s[i+1:]}
	}
	return TableRef{Name: s}
}

// Column is one resolved destination column.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable,omitempty"`
}

// Table is an ordered destination schema: the run's inferred shape, or the
// live shape reported by a connector's metadata query.
//
// Identity, when set, names a surrogate key column the backend generates
// itself (auto-increment). It is rendered into DDL per backend and never
// appears in Columns or in insert column lists.
type Table struct {
	Namespace string   `json:"namespace,omitempty"`
	Name      string   `json:"name"`
	Identity  string   `json:"identity,omitempty"`
	Columns   []Column `json:"columns"`
}

// Ref returns the table's reference part.
func (t Table) Ref() TableRef {
	return TableRef{Namespace: t.Namespace, Name: t.Name}
}

// Column looks up a column by name, case-insensitively. Databases differ in
// identifier case folding, so schema comparison must not be case-exact.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in table order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
