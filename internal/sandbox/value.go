package sandbox

import (
	"github.com/leapstack-labs/leapask/internal/frame"
)

// Value is a program result converted to Go. It is one of Table, Scalar,
// List, Mapping or Unsupported.
type Value interface {
	valueKind() string
}

// Table is a DataFrame or Series result.
type Table struct {
	Frame *frame.Frame
}

// Scalar is a single string, int64, float64, bool, time.Time or nil.
type Scalar struct {
	V any
}

// List is a list or tuple result. Items hold plain Go values.
type List struct {
	Items []any
}

// Mapping is a dict result with its keys rendered as strings.
type Mapping struct {
	Items map[string]any
	// Keys keeps the dict's insertion order.
	Keys []string
}

// Unsupported is a result whose type has no Go form, such as a function.
type Unsupported struct {
	TypeName string
}

func (Table) valueKind() string       { return "table" }
func (Scalar) valueKind() string      { return "scalar" }
func (List) valueKind() string        { return "list" }
func (Mapping) valueKind() string     { return "mapping" }
func (Unsupported) valueKind() string { return "unsupported" }

// KindOf returns "table", "scalar", "list", "mapping", "unsupported", or ""
// for a nil value.
func KindOf(v Value) string {
	if v == nil {
		return ""
	}
	return v.valueKind()
}
