package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/frame"
)

// The worker protocol: one JSON request on stdin, one JSON response as the
// last line of stdout.

type workerRequest struct {
	Program  string               `json:"program"`
	Datasets map[string]wireFrame `json:"datasets"`
	Limits   Limits               `json:"limits"`
}

type workerResponse struct {
	Value      *wireValue      `json:"value,omitempty"`
	Chart      *chart.Figure   `json:"chart,omitempty"`
	Output     string          `json:"output,omitempty"`
	ResultFrom string          `json:"result_from,omitempty"`
	Err        *ExecutionError `json:"error,omitempty"`
	Steps      uint64          `json:"steps,omitempty"`
	Cells      int64           `json:"cells,omitempty"`
}

type wireColumn struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Values []any  `json:"values"`
}

type wireFrame struct {
	Columns []wireColumn `json:"columns"`
}

// wireCell is a self-describing cell, used where the kind is not fixed by
// a column. Lists and mappings carry their items as tagged cells too, so a
// float such as 1.0 does not come back as an int.
type wireCell struct {
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

type wireValue struct {
	Type     string         `json:"type"`
	Table    *wireFrame     `json:"table,omitempty"`
	Scalar   *wireCell      `json:"scalar,omitempty"`
	Items    []any          `json:"items,omitempty"`
	Mapping  map[string]any `json:"mapping,omitempty"`
	Keys     []string       `json:"keys,omitempty"`
	TypeName string         `json:"type_name,omitempty"`
}

func encodeFrame(f *frame.Frame) wireFrame {
	cols := f.Columns()
	out := wireFrame{Columns: make([]wireColumn, len(cols))}
	for i, c := range cols {
		values := make([]any, len(c.Values))
		for j, v := range c.Values {
			if c.Kind == frame.KindAny {
				values[j] = encodeCell(v)
			} else {
				values[j] = encodePlain(v)
			}
		}
		out.Columns[i] = wireColumn{Name: c.Name, Kind: c.Kind.String(), Values: values}
	}
	return out
}

func decodeFrame(w wireFrame) (*frame.Frame, error) {
	cols := make([]*frame.Column, len(w.Columns))
	for i, wc := range w.Columns {
		kind, err := frame.ParseKind(wc.Kind)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", wc.Name, err)
		}
		values := make([]any, len(wc.Values))
		for j, v := range wc.Values {
			if kind == frame.KindAny {
				values[j], err = decodeCellAny(v)
			} else {
				values[j], err = decodeAs(v, kind)
			}
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", wc.Name, j, err)
			}
		}
		cols[i] = frame.NewTypedColumn(wc.Name, kind, values)
	}
	return frame.New(cols...)
}

const (
	cellList    = "list"
	cellMapping = "mapping"
)

// encodePlain converts a cell to a JSON-safe value: times become RFC 3339
// strings and missing floats become null.
func encodePlain(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	}
	return v
}

func encodeCell(v any) wireCell {
	switch x := v.(type) {
	case []any:
		return wireCell{Kind: cellList, Value: encodeItems(x)}
	case map[string]any:
		return wireCell{Kind: cellMapping, Value: encodeEntries(x)}
	}
	return wireCell{Kind: frame.KindOf(v).String(), Value: encodePlain(v)}
}

func encodeItems(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = encodeCell(item)
	}
	return out
}

func encodeEntries(items map[string]any) map[string]any {
	out := make(map[string]any, len(items))
	for k, item := range items {
		out[k] = encodeCell(item)
	}
	return out
}

func decodeAs(v any, kind frame.Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case frame.KindInt:
		if n, ok := v.(json.Number); ok {
			return n.Int64()
		}
	case frame.KindFloat:
		if n, ok := v.(json.Number); ok {
			return n.Float64()
		}
	case frame.KindTime:
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	case frame.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case frame.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("cannot decode %T as %s", v, kind)
}

func decodeCellAny(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a tagged cell, got %T", v)
	}
	kindName, _ := m["kind"].(string)
	switch kindName {
	case cellList:
		items, ok := m["value"].([]any)
		if !ok {
			return nil, fmt.Errorf("expected list items, got %T", m["value"])
		}
		return decodeItems(items)
	case cellMapping:
		items, ok := m["value"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected mapping entries, got %T", m["value"])
		}
		return decodeEntries(items)
	}
	kind, err := frame.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	if kind == frame.KindAny {
		return loose(m["value"]), nil
	}
	return decodeAs(m["value"], kind)
}

func decodeItems(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		v, err := decodeCellAny(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func decodeEntries(items map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(items))
	for k, item := range items {
		v, err := decodeCellAny(item)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// loose converts untagged JSON back to cell types where it can tell them
// apart: integral numbers become int64, others float64.
func loose(v any) any {
	switch x := v.(type) {
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if n, err := x.Int64(); err == nil {
				return n
			}
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i, item := range x {
			x[i] = loose(item)
		}
		return x
	case map[string]any:
		for k, item := range x {
			x[k] = loose(item)
		}
		return x
	}
	return v
}

func encodeValue(v Value) *wireValue {
	switch x := v.(type) {
	case Table:
		f := encodeFrame(x.Frame)
		return &wireValue{Type: "table", Table: &f}
	case Scalar:
		c := encodeCell(x.V)
		return &wireValue{Type: "scalar", Scalar: &c}
	case List:
		return &wireValue{Type: "list", Items: encodeItems(x.Items)}
	case Mapping:
		return &wireValue{Type: "mapping", Mapping: encodeEntries(x.Items), Keys: x.Keys}
	case Unsupported:
		return &wireValue{Type: "unsupported", TypeName: x.TypeName}
	}
	return nil
}

func decodeValue(w *wireValue) (Value, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Type {
	case "table":
		if w.Table == nil {
			return nil, fmt.Errorf("table value without data")
		}
		f, err := decodeFrame(*w.Table)
		if err != nil {
			return nil, err
		}
		return Table{Frame: f}, nil
	case "scalar":
		if w.Scalar == nil {
			return Scalar{}, nil
		}
		v, err := decodeCellAny(map[string]any{"kind": w.Scalar.Kind, "value": w.Scalar.Value})
		if err != nil {
			return nil, err
		}
		return Scalar{V: v}, nil
	case "list":
		items, err := decodeItems(w.Items)
		if err != nil {
			return nil, err
		}
		return List{Items: items}, nil
	case "mapping":
		items, err := decodeEntries(w.Mapping)
		if err != nil {
			return nil, err
		}
		return Mapping{Items: items, Keys: w.Keys}, nil
	case "unsupported":
		return Unsupported{TypeName: w.TypeName}, nil
	}
	return nil, fmt.Errorf("unknown value type %q", w.Type)
}
