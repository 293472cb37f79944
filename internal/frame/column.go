package frame

import (
	"fmt"
	"time"
)

// Column is a named, typed vector of cells.
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// NewColumn builds a column and infers its kind. Mixed int/float columns are
// widened to float; other mixtures become KindAny.
func NewColumn(name string, values []any) *Column {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = Normalize(v)
	}
	kind := inferKind(vals)
	if kind == KindFloat {
		for i, v := range vals {
			if n, ok := v.(int64); ok {
				vals[i] = float64(n)
			}
		}
	}
	return &Column{Name: name, Kind: kind, Values: vals}
}

// NewTypedColumn builds a column with a declared kind. Values are trusted to
// already match the kind.
func NewTypedColumn(name string, kind Kind, values []any) *Column {
	return &Column{Name: name, Kind: kind, Values: values}
}

func inferKind(values []any) Kind {
	kind := KindNull
	for _, v := range values {
		if IsNull(v) {
			if _, ok := v.(float64); ok && (kind == KindNull || kind == KindInt) {
				kind = KindFloat
			}
			continue
		}
		k := KindOf(v)
		switch {
		case kind == KindNull:
			kind = k
		case kind == k:
		case (kind == KindInt && k == KindFloat) || (kind == KindFloat && k == KindInt):
			kind = KindFloat
		default:
			return KindAny
		}
	}
	return kind
}

// Len returns the number of cells.
func (c *Column) Len() int { return len(c.Values) }

// Renamed returns a copy of the column with a new name sharing storage.
func (c *Column) Renamed(name string) *Column {
	return &Column{Name: name, Kind: c.Kind, Values: c.Values}
}

// Take returns the cells at the given row positions.
func (c *Column) Take(idx []int) *Column {
	vals := make([]any, len(idx))
	for i, j := range idx {
		if j < 0 {
			continue
		}
		vals[i] = c.Values[j]
	}
	return &Column{Name: c.Name, Kind: c.Kind, Values: vals}
}

// Map applies fn to every cell and re-infers the kind of the result.
func (c *Column) Map(name string, fn func(any) (any, error)) (*Column, error) {
	out := make([]any, len(c.Values))
	for i, v := range c.Values {
		r, err := fn(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return NewColumn(name, out), nil
}

// NonNull returns the non-null cells.
func (c *Column) NonNull() []any {
	out := make([]any, 0, len(c.Values))
	for _, v := range c.Values {
		if !IsNull(v) {
			out = append(out, v)
		}
	}
	return out
}

// Unique returns distinct non-null cells in first-appearance order.
func (c *Column) Unique() []any {
	seen := make(map[string]struct{}, len(c.Values))
	var out []any
	for _, v := range c.Values {
		if IsNull(v) {
			continue
		}
		k := keyOf(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Cast converts every cell to the target kind.
func (c *Column) Cast(kind Kind) (*Column, error) {
	out := make([]any, len(c.Values))
	for i, v := range c.Values {
		cv, err := CastValue(v, kind)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", c.Name, i, err)
		}
		out[i] = cv
	}
	return &Column{Name: c.Name, Kind: kind, Values: out}, nil
}

// ParseTimeLayouts lists the layouts tried when strings are parsed as
// timestamps.
var ParseTimeLayouts = []string{
	time.RFC3339Nano,
	time.DateTime,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	"2006-01",
}

// ParseTime parses s using ParseTimeLayouts.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range ParseTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", s)
}
