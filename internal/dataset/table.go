package dataset

import (
	"errors"
	"strings"
)

// ErrDataSource reports a missing, unreadable or unsupported dataset.
var ErrDataSource = errors.New("data source error")

type Column struct {
	Name   string
	Source string
	Type   string
	Kind   Kind
}

// Table is the loaded dataset. It is not modified after Load returns.
type Table struct {
	Columns []Column
	Rows    [][]Value
}

func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// KindForType maps a DuckDB type name onto the storage kind used for its values.
func KindForType(typeName string) Kind {
	upper := strings.ToUpper(strings.TrimSpace(typeName))
	switch {
	case upper == "BOOLEAN":
		return KindBool
	case upper == "TINYINT", upper == "SMALLINT", upper == "INTEGER", upper == "BIGINT",
		upper == "UTINYINT", upper == "USMALLINT", upper == "UINTEGER":
		return KindInt
	case upper == "UBIGINT", upper == "HUGEINT", upper == "UHUGEINT",
		upper == "FLOAT", upper == "DOUBLE", strings.HasPrefix(upper, "DECIMAL"):
		return KindFloat
	case upper == "DATE", strings.HasPrefix(upper, "TIMESTAMP"):
		return KindTime
	default:
		return KindString
	}
}

// StorageType is the DuckDB column type used to store values of kind.
func StorageType(kind Kind) string {
	switch kind {
	case KindBool:
		return "BOOLEAN"
	case KindInt:
		return "BIGINT"
	case KindFloat:
		return "DOUBLE"
	case KindTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}
