package postgres

import (
	"fmt"

	"csvload/internal/schema"
)

// TypeDDL renders a resolved column type in Postgres DDL syntax.
//
// Both datetime kinds map to TIMESTAMP: Postgres timestamps always carry
// microseconds, so there is no narrower variant to pick.
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
		return "DOUBLE PRECISION"
	case schema.KindDecimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", t.Precision, t.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindDateTime, schema.KindDateTimeFrac:
		return "TIMESTAMP"
	case schema.KindVarchar:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	default:
		return "TEXT"
	}
}

// typeFromCatalog maps an information_schema data_type back into the
// resolved type model. Types the loader never generates degrade to
// varchar(max) so that schema comparison stays meaningful.
func typeFromCatalog(dataType string, charLen, prec, scale int) schema.ColumnType {
	switch dataType {
	case "boolean":
		return schema.Boolean()
	case "smallint":
		return schema.SmallInt()
	case "integer":
		return schema.Int()
	case "bigint":
		return schema.BigInt()
	case "real", "double precision":
		return schema.Float()
	case "numeric":
		if prec == 0 {
			// Unconstrained numeric holds any precision. Report a split
			// wide enough for anything type inference can produce.
			return schema.Decimal(38, 19)
		}
		return schema.Decimal(prec, scale)
	case "date":
		return schema.Date()
	case "timestamp without time zone", "timestamp with time zone":
		return schema.DateTimeFrac()
	case "character varying", "character":
		if charLen > 0 {
			return schema.Varchar(charLen)
		}
		return schema.VarcharMax()
	default:
		return schema.VarcharMax()
	}
}
