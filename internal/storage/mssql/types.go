package mssql

import (
	"fmt"

	"csvload/internal/schema"
)

// TypeDDL renders a resolved column type in T-SQL DDL syntax.
//
// Character columns use NVARCHAR so non-Latin input survives regardless of
// the database collation. The inference cap of 4000 characters keeps every
// bounded length valid for NVARCHAR(n).
func TypeDDL(t schema.ColumnType) string {
	switch t.Kind {
	case schema.KindBoolean:
		return "BIT"
	case schema.KindSmallInt:
		return "SMALLINT"
	case schema.KindInt:
		return "INT"
	case schema.KindBigInt:
		return "BIGINT"
	case schema.KindFloat:
		return "FLOAT"
	case schema.KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindDateTime:
		return "DATETIME"
	case schema.KindDateTimeFrac:
		return "DATETIME2"
	case schema.KindVarchar:
		return fmt.Sprintf("NVARCHAR(%d)", t.Length)
	default:
		return "NVARCHAR(MAX)"
	}
}

// typeFromCatalog maps an INFORMATION_SCHEMA DATA_TYPE back into the
// resolved type model. CHARACTER_MAXIMUM_LENGTH arrives as -1 for MAX
// columns. Types the loader never generates degrade to varchar(max).
func typeFromCatalog(dataType string, charLen, prec, scale int) schema.ColumnType {
	switch dataType {
	case "bit":
		return schema.Boolean()
	case "tinyint", "smallint":
		return schema.SmallInt()
	case "int":
		return schema.Int()
	case "bigint":
		return schema.BigInt()
	case "real", "float":
		return schema.Float()
	case "decimal", "numeric":
		return schema.Decimal(prec, scale)
	case "money":
		return schema.Decimal(19, 4)
	case "smallmoney":
		return schema.Decimal(10, 4)
	case "date":
		return schema.Date()
	case "smalldatetime", "datetime":
		return schema.DateTime()
	case "datetime2", "datetimeoffset":
		return schema.DateTimeFrac()
	case "char", "nchar", "varchar", "nvarchar":
		if charLen > 0 {
			return schema.Varchar(charLen)
		}
		return schema.VarcharMax()
	default:
		return schema.VarcharMax()
	}
}
