// Package result turns execution results into display-ready payloads.
package result

import (
	"errors"
	"fmt"
	"math"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/leapstack-labs/leapask/internal/sandbox"
)

// Kind is the shape of a payload.
type Kind string

// Payload kinds.
const (
	KindError  Kind = "error"
	KindTable  Kind = "table"
	KindScalar Kind = "scalar"
	KindValue  Kind = "value"
	KindChart  Kind = "chart"
	KindEmpty  Kind = "empty"
)

// Messages used for payloads that carry no value.
const (
	MessageEmpty    = "no output produced"
	MessageNoResult = "no scalar/tabular result"
)

// Payload is what a caller shows for one answer. Exactly one of Table,
// Scalar or Value is set for the table, scalar and value kinds; Chart may
// accompany any of them.
type Payload struct {
	Kind   Kind          `json:"kind"`
	Table  *Table        `json:"table,omitempty"`
	Scalar any           `json:"scalar,omitempty"`
	Value  any           `json:"value,omitempty"`
	Chart  *chart.Figure `json:"chart,omitempty"`

	Message string `json:"message,omitempty"`
	// ErrorKind and Line describe a failed execution.
	ErrorKind string `json:"error_kind,omitempty"`
	Line      int    `json:"line,omitempty"`

	Output     string `json:"output,omitempty"`
	NoResult   bool   `json:"no_result,omitempty"`
	ResultFrom string `json:"result_from,omitempty"`
}

// Column describes one table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is a tabular result. Rows hold JSON-safe raw values; Display holds
// the same cells formatted for people.
type Table struct {
	Columns []Column   `json:"columns"`
	Rows    [][]any    `json:"rows"`
	Display [][]string `json:"-"`
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// AdaptationError reports a successful execution whose outcome has no
// displayable form. It does not mean the program failed.
type AdaptationError struct {
	Reason string
}

func (e *AdaptationError) Error() string {
	return "cannot display result: " + e.Reason
}

// Adapt converts an execution result. It is a pure shape transform.
func Adapt(r sandbox.Result) (*Payload, error) {
	if r.Err != nil {
		return &Payload{
			Kind:      KindError,
			Message:   fmt.Sprintf("%s: %s", r.Err.Kind, r.Err.Message),
			ErrorKind: string(r.Err.Kind),
			Line:      r.Err.Line,
			Output:    r.Output,
		}, nil
	}

	if r.Chart != nil && len(r.Chart.Traces) == 0 {
		return nil, &AdaptationError{Reason: "chart has no traces"}
	}

	p := &Payload{Chart: r.Chart, Output: r.Output, ResultFrom: r.ResultFrom}
	switch v := r.Value.(type) {
	case nil:
		if r.Chart == nil {
			p.Kind = KindEmpty
			p.Message = MessageEmpty
			return p, nil
		}
		p.Kind = KindChart
		p.NoResult = true
		p.Message = MessageNoResult
	case sandbox.Table:
		p.Kind = KindTable
		p.Table = NewTable(v.Frame)
	case sandbox.Scalar:
		p.Kind = KindScalar
		p.Scalar = jsonSafe(v.V)
	case sandbox.List:
		p.Kind = KindValue
		p.Value = jsonSafe(v.Items)
	case sandbox.Mapping:
		p.Kind = KindValue
		p.Value = orderedMapping(v)
	case sandbox.Unsupported:
		return nil, &AdaptationError{Reason: fmt.Sprintf("result of type %s cannot be displayed", v.TypeName)}
	default:
		return nil, &AdaptationError{Reason: fmt.Sprintf("unexpected value %T", v)}
	}
	return p, nil
}

// FromError builds the error payload for a failure outside execution, such
// as an AdaptationError.
func FromError(err error) *Payload {
	p := &Payload{Kind: KindError, Message: err.Error()}
	var ae *AdaptationError
	if errors.As(err, &ae) {
		p.ErrorKind = "adaptation"
	}
	return p
}

// NewTable converts a frame.
func NewTable(f *frame.Frame) *Table {
	cols := f.Columns()
	t := &Table{
		Columns: make([]Column, len(cols)),
		Rows:    make([][]any, f.NumRows()),
		Display: make([][]string, f.NumRows()),
	}
	for i, c := range cols {
		t.Columns[i] = Column{Name: c.Name, Type: c.Kind.String()}
	}
	for i := range t.Rows {
		row := f.Row(i)
		display := make([]string, len(row))
		for j, v := range row {
			row[j] = jsonSafe(v)
			display[j] = FormatCell(v)
		}
		t.Rows[i] = row
		t.Display[i] = display
	}
	return t
}

// Entry is one key of a dict result.
type Entry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// orderedMapping keeps the dict's insertion order, which a Go map would lose
// in JSON.
func orderedMapping(m sandbox.Mapping) []Entry {
	out := make([]Entry, 0, len(m.Keys))
	for _, k := range m.Keys {
		out = append(out, Entry{Key: k, Value: jsonSafe(m.Items[k])})
	}
	return out
}

// jsonSafe replaces values encoding/json rejects: NaN and infinities become
// nil.
func jsonSafe(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonSafe(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = jsonSafe(item)
		}
		return out
	}
	return v
}
