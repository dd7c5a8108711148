package postgres

import "csvload/internal/schema"

// Postgres truncates identifiers at NAMEDATALEN-1 = 63 bytes. Sanitizing to
// that length up front keeps the names we send and the names the catalog
// stores identical.
var pgDialect = schema.NewDialect("postgres", 63, pgReserved)

// Dialect reports Postgres identifier rules without opening a connection.
// Schema previews use it to sanitize names exactly like a live run.
func Dialect() schema.Dialect { return pgDialect }

// pgReserved lists the keywords Postgres reserves in its grammar. Words that
// are merely non-reserved ("type", "name", ...) are usable as column names
// and are deliberately absent.
var pgReserved = []string{
	"all", "analyse", "analyze", "and", "any", "array", "as", "asc",
	"asymmetric", "authorization", "binary", "both", "case", "cast",
	"check", "collate", "collation", "column", "concurrently",
	"constraint", "create", "cross", "current_catalog", "current_date",
	"current_role", "current_schema", "current_time", "current_timestamp",
	"current_user", "default", "deferrable", "desc", "distinct", "do",
	"else", "end", "except", "false", "fetch", "for", "foreign", "freeze",
	"from", "full", "grant", "group", "having", "ilike", "in", "initially",
	"inner", "intersect", "into", "is", "isnull", "join", "lateral",
	"leading", "left", "like", "limit", "localtime", "localtimestamp",
	"natural", "not", "notnull", "null", "offset", "on", "only", "or",
	"order", "outer", "overlaps", "placing", "primary", "references",
	"returning", "right", "select", "session_user", "similar", "some",
	"symmetric", "table", "tablesample", "then", "to", "trailing", "true",
	"union", "unique", "user", "using", "variadic", "verbose", "when",
	"where", "window", "with",
}
