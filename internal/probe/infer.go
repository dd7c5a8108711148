package probe

import "csvload/internal/schema"

// InferOptions controls schema inference.
type InferOptions struct {
	// Disabled skips sampling entirely; every column resolves to Fallback.
	Disabled bool

	// Fallback is the type used when inference is disabled. Zero value
	// means varchar(max).
	Fallback schema.ColumnType
}

// InferredColumn is one column's inference result, keyed by the original
// header name. Sanitization happens later, against the destination dialect.
type InferredColumn struct {
	Source   string            `json:"source"`
	Type     schema.ColumnType `json:"type"`
	Nullable bool              `json:"nullable"`
	Obs      ColumnObservation `json:"observed"`
}

// Infer reduces a bounded sample of rows to one column type per column.
// Rows shorter than the header are treated as null-padded; extra fields are
// ignored. The sample is a heuristic: values beyond it may fall outside the
// resolved types, which is a documented limitation of sampling.
func Infer(sample [][]string, columnNames []string, opts InferOptions) []InferredColumn {
	out := make([]InferredColumn, len(columnNames))

	if opts.Disabled {
		fallback := opts.Fallback
		if fallback == (schema.ColumnType{}) {
			fallback = schema.VarcharMax()
		}
		for i, name := range columnNames {
			out[i] = InferredColumn{Source: name, Type: fallback, Nullable: true}
		}
		return out
	}

	obs := make([]ColumnObservation, len(columnNames))
	for _, row := range sample {
		for i := range columnNames {
			if i < len(row) {
				obs[i].Observe(row[i])
			} else {
				obs[i].Observe("")
			}
		}
	}

	for i, name := range columnNames {
		typ, nullable := obs[i].Resolve()
		out[i] = InferredColumn{Source: name, Type: typ, Nullable: nullable, Obs: obs[i]}
	}
	return out
}

// BuildTable sanitizes the inferred column names for the destination
// dialect and assembles the desired table schema. Collisions after
// sanitization get deterministic numeric suffixes.
func BuildTable(cols []InferredColumn, ref schema.TableRef, d schema.Dialect) schema.Table {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Source
	}
	names = d.SanitizeColumns(names)

	t := schema.Table{Namespace: ref.Namespace, Name: ref.Name, Columns: make([]schema.Column, len(cols))}
	for i, c := range cols {
		t.Columns[i] = schema.Column{Name: names[i], Type: c.Type, Nullable: c.Nullable}
	}
	return t
}
