package sqlite

import (
	"fmt"
	"strconv"
	"strings"

	"csvload/internal/schema"
)

// TypeDDL renders a resolved column type as a SQLite declared type. SQLite
// only enforces affinity, but it stores the declaration verbatim, which
// lets DescribeTable recover the intended type later.
func TypeDDL(t schema.ColumnType) string {
	switch t.Kind {
	case schema.KindBoolean:
		return "BOOLEAN"
	case schema.KindSmallInt:
		return "SMALLINT"
	case schema.KindInt:
		return "INTEGER"
	case schema.KindBigInt:
		return "BIGINT"
	case schema.KindFloat:
		return "REAL"
	case schema.KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindDateTime, schema.KindDateTimeFrac:
		return "DATETIME"
	case schema.KindVarchar:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	default:
		return "TEXT"
	}
}

// parseDeclaredType maps a declared column type back into the resolved type
// model. Declarations from other tools are matched loosely; anything
// unrecognized degrades to varchar(max), mirroring SQLite's own "TEXT when
// in doubt" stance.
func parseDeclaredType(decl string) schema.ColumnType {
	s := strings.ToUpper(strings.TrimSpace(decl))

	base := s
	var args []int
	if i := strings.IndexByte(s, '('); i >= 0 {
		base = strings.TrimSpace(s[:i])
		if j := strings.IndexByte(s, ')'); j > i {
			for _, part := range strings.Split(s[i+1:j], ",") {
				if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
					args = append(args, n)
				}
			}
		}
	}

	switch base {
	case "BOOLEAN", "BOOL", "BIT":
		return schema.Boolean()
	case "SMALLINT", "TINYINT":
		return schema.SmallInt()
	case "INT", "INTEGER", "MEDIUMINT":
		return schema.Int()
	case "BIGINT", "INT8", "UNSIGNED BIG INT":
		return schema.BigInt()
	case "REAL", "DOUBLE", "DOUBLE PRECISION", "FLOAT":
		return schema.Float()
	case "DECIMAL", "NUMERIC":
		switch len(args) {
		case 2:
			return schema.Decimal(args[0], args[1])
		case 1:
			return schema.Decimal(args[0], 0)
		default:
			return schema.Decimal(38, 19)
		}
	case "DATE":
		return schema.Date()
	case "DATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		// Text storage keeps whatever fraction was written, so report the
		// widest temporal kind.
		return schema.DateTimeFrac()
	case "VARCHAR", "NVARCHAR", "CHARACTER", "VARYING CHARACTER", "NCHAR", "CHAR", "NATIVE CHARACTER":
		if len(args) > 0 && args[0] > 0 {
			return schema.Varchar(args[0])
		}
		return schema.VarcharMax()
	default:
		return schema.VarcharMax()
	}
}
