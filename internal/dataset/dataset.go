// Package dataset holds the tables a question can be asked about, together
// with their descriptions, types and relationships.
package dataset

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapask/internal/frame"
)

// DefaultSampleRows is the number of rows shown per table in a schema context.
const DefaultSampleRows = 3

// Dataset is one named table. Datasets are immutable once loaded.
type Dataset struct {
	Name        string
	Description string
	// Source is the file the table was loaded from, if any.
	Source  string
	Frame   *frame.Frame
	Columns []ColumnInfo
	// Samples holds the leading rows shown to the model.
	Samples *frame.Frame
}

// ColumnInfo is a column name with its engine type name (e.g., BIGINT).
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relationship is a foreign-key style link between two tables.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// String renders the relationship as "from.col -> to.col".
func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// ParseRelationship parses "orders.customer_id -> customers.customer_id".
// The arrow may also be written as "→".
func ParseRelationship(s string) (Relationship, error) {
	s = strings.ReplaceAll(s, "→", "->")
	from, to, ok := strings.Cut(s, "->")
	if !ok {
		return Relationship{}, fmt.Errorf("invalid relationship %q: expected \"table.column -> table.column\"", s)
	}
	ft, fc, err := splitRef(from)
	if err != nil {
		return Relationship{}, fmt.Errorf("invalid relationship %q: %w", s, err)
	}
	tt, tc, err := splitRef(to)
	if err != nil {
		return Relationship{}, fmt.Errorf("invalid relationship %q: %w", s, err)
	}
	return Relationship{FromTable: ft, FromColumn: fc, ToTable: tt, ToColumn: tc}, nil
}

func splitRef(ref string) (table, column string, err error) {
	ref = strings.TrimSpace(ref)
	table, column, ok := strings.Cut(ref, ".")
	if !ok || table == "" || column == "" || strings.Contains(column, ".") {
		return "", "", fmt.Errorf("%q is not table.column", ref)
	}
	return table, column, nil
}

// DefaultRelationships returns the links between the standard store tables.
func DefaultRelationships() []Relationship {
	return []Relationship{
		{"orders", "customer_id", "customers", "customer_id"},
		{"order_items", "order_id", "orders", "order_id"},
		{"order_items", "product_id", "products", "product_id"},
		{"inventory", "product_id", "products", "product_id"},
		{"inventory", "warehouse_id", "warehouses", "warehouse_id"},
	}
}

// TableSchema describes one table of a schema context.
type TableSchema struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	RowCount    int          `json:"row_count"`
	Columns     []ColumnInfo `json:"columns"`
	Samples     *frame.Frame `json:"-"`
}

// SchemaContext is the model-facing description of every registered table.
type SchemaContext struct {
	Tables        []TableSchema  `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// Table returns the schema of the named table.
func (sc *SchemaContext) Table(name string) (TableSchema, bool) {
	for _, t := range sc.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// TypeName returns the engine type name used for a column of the given kind
// when no declared type is known.
func TypeName(k frame.Kind) string {
	switch k {
	case frame.KindBool:
		return "BOOLEAN"
	case frame.KindInt:
		return "BIGINT"
	case frame.KindFloat:
		return "DOUBLE"
	case frame.KindString:
		return "VARCHAR"
	case frame.KindTime:
		return "TIMESTAMP"
	case frame.KindNull:
		return "NULL"
	}
	return "ANY"
}

func columnInfos(f *frame.Frame) []ColumnInfo {
	cols := f.Columns()
	infos := make([]ColumnInfo, len(cols))
	for i, c := range cols {
		infos[i] = ColumnInfo{Name: c.Name, Type: TypeName(c.Kind)}
	}
	return infos
}

// UnknownDatasetError is returned when a dataset name is not registered.
type UnknownDatasetError struct {
	Name      string
	Available []string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("unknown dataset %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}
