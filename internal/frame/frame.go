package frame

import (
	"fmt"
	"slices"
	"sort"
)

// Frame is an immutable table of equally long named columns.
type Frame struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New builds a frame from columns. Column names must be unique and all
// columns must have the same length.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{
		columns: make([]*Column, 0, len(cols)),
		index:   make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if c == nil {
			return nil, fmt.Errorf("column %d is nil", i)
		}
		if _, dup := f.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if i == 0 {
			f.rows = c.Len()
		} else if c.Len() != f.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), f.rows)
		}
		f.index[c.Name] = len(f.columns)
		f.columns = append(f.columns, c)
	}
	return f, nil
}

// FromRecords builds a frame from row maps. Column order follows names.
func FromRecords(names []string, records []map[string]any) (*Frame, error) {
	cols := make([]*Column, len(names))
	for i, name := range names {
		vals := make([]any, len(records))
		for r, rec := range records {
			vals[r] = rec[name]
		}
		cols[i] = NewColumn(name, vals)
	}
	return New(cols...)
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int { return f.rows }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.columns) }

// Cells returns rows * columns.
func (f *Frame) Cells() int { return f.rows * len(f.columns) }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order.
func (f *Frame) Columns() []*Column {
	return slices.Clone(f.columns)
}

// Column looks up a column by name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

// Has reports whether the frame has a column.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Row returns the cells of row i in column order.
func (f *Frame) Row(i int) []any {
	row := make([]any, len(f.columns))
	for j, c := range f.columns {
		row[j] = c.Values[i]
	}
	return row
}

// Record returns row i as a name -> cell map.
func (f *Frame) Record(i int) map[string]any {
	rec := make(map[string]any, len(f.columns))
	for _, c := range f.columns {
		rec[c.Name] = c.Values[i]
	}
	return rec
}

// Take returns the rows at the given positions. A negative position yields
// a row of nulls.
func (f *Frame) Take(idx []int) *Frame {
	cols := make([]*Column, len(f.columns))
	for i, c := range f.columns {
		cols[i] = c.Take(idx)
	}
	out, _ := New(cols...)
	if len(cols) == 0 {
		out.rows = len(idx)
	}
	return out
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame {
	n = clamp(n, f.rows)
	return f.slice(0, n)
}

// Tail returns the last n rows.
func (f *Frame) Tail(n int) *Frame {
	n = clamp(n, f.rows)
	return f.slice(f.rows-n, f.rows)
}

func clamp(n, limit int) int {
	if n < 0 {
		n = limit + n
		if n < 0 {
			n = 0
		}
	}
	return min(n, limit)
}

func (f *Frame) slice(from, to int) *Frame {
	cols := make([]*Column, len(f.columns))
	for i, c := range f.columns {
		cols[i] = &Column{Name: c.Name, Kind: c.Kind, Values: c.Values[from:to:to]}
	}
	out, _ := New(cols...)
	out.rows = to - from
	return out
}

// Filter keeps the rows whose mask entry is true.
func (f *Frame) Filter(mask []bool) (*Frame, error) {
	if len(mask) != f.rows {
		return nil, fmt.Errorf("boolean mask has %d entries, frame has %d rows", len(mask), f.rows)
	}
	idx := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			idx = append(idx, i)
		}
	}
	return f.Take(idx), nil
}

// Select returns the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]*Column, len(names))
	for i, name := range names {
		c, ok := f.Column(name)
		if !ok {
			return nil, &MissingColumnError{Name: name, Available: f.Names()}
		}
		cols[i] = c
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = f.rows
	return out, nil
}

// Drop removes the named columns.
func (f *Frame) Drop(names ...string) (*Frame, error) {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		if !f.Has(name) {
			return nil, &MissingColumnError{Name: name, Available: f.Names()}
		}
		drop[name] = true
	}
	var cols []*Column
	for _, c := range f.columns {
		if !drop[c.Name] {
			cols = append(cols, c)
		}
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = f.rows
	return out, nil
}

// Rename renames columns. Unknown source names are ignored, as in pandas.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	cols := make([]*Column, len(f.columns))
	for i, c := range f.columns {
		if to, ok := mapping[c.Name]; ok {
			cols[i] = c.Renamed(to)
		} else {
			cols[i] = c
		}
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = f.rows
	return out, nil
}

// WithColumn returns a frame with c replacing the column of the same name,
// or appended when no such column exists.
func (f *Frame) WithColumn(c *Column) (*Frame, error) {
	if len(f.columns) > 0 && c.Len() != f.rows {
		return nil, fmt.Errorf("column %q has %d rows, frame has %d", c.Name, c.Len(), f.rows)
	}
	cols := slices.Clone(f.columns)
	if i, ok := f.index[c.Name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	return New(cols...)
}

// SortKey orders rows by one column.
type SortKey struct {
	Column     string
	Descending bool
}

// Sort orders rows by the keys. The sort is stable and nulls go last
// regardless of direction.
func (f *Frame) Sort(keys ...SortKey) (*Frame, error) {
	cols := make([]*Column, len(keys))
	for i, k := range keys {
		c, ok := f.Column(k.Column)
		if !ok {
			return nil, &MissingColumnError{Name: k.Column, Available: f.Names()}
		}
		cols[i] = c
	}
	idx := make([]int, f.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := idx[a], idx[b]
		for i, c := range cols {
			va, vb := c.Values[ra], c.Values[rb]
			na, nb := IsNull(va), IsNull(vb)
			switch {
			case na && nb:
				continue
			case na:
				return false
			case nb:
				return true
			}
			r := Compare(va, vb)
			if r == 0 {
				continue
			}
			if keys[i].Descending {
				return r > 0
			}
			return r < 0
		}
		return false
	})
	return f.Take(idx), nil
}

// Distinct drops duplicate rows, comparing only subset when given. The
// first occurrence is kept.
func (f *Frame) Distinct(subset ...string) (*Frame, error) {
	if len(subset) == 0 {
		subset = f.Names()
	}
	keyCols := make([]*Column, len(subset))
	for i, name := range subset {
		c, ok := f.Column(name)
		if !ok {
			return nil, &MissingColumnError{Name: name, Available: f.Names()}
		}
		keyCols[i] = c
	}
	seen := make(map[string]struct{}, f.rows)
	idx := make([]int, 0, f.rows)
	for r := 0; r < f.rows; r++ {
		k := rowKey(keyCols, r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		idx = append(idx, r)
	}
	return f.Take(idx), nil
}

// Concat stacks frames vertically. The output has the union of columns in
// first-seen order; missing cells are null.
func Concat(frames ...*Frame) (*Frame, error) {
	var names []string
	seen := map[string]bool{}
	total := 0
	for _, f := range frames {
		for _, n := range f.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
		total += f.rows
	}
	cols := make([]*Column, len(names))
	for i, name := range names {
		vals := make([]any, 0, total)
		for _, f := range frames {
			if c, ok := f.Column(name); ok {
				vals = append(vals, c.Values...)
			} else {
				vals = append(vals, make([]any, f.rows)...)
			}
		}
		cols[i] = NewColumn(name, vals)
	}
	return New(cols...)
}

// MissingColumnError reports a reference to a column that does not exist.
type MissingColumnError struct {
	Name      string
	Available []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q not found (available: %v)", e.Name, e.Available)
}
