package frame

import (
	"fmt"
	"sort"
)

// Grouping partitions the rows of a frame by key columns. Groups are
// ordered by key, ascending, matching pandas' default sort=True.
type Grouping struct {
	frame  *Frame
	keys   []*Column
	groups [][]int
}

// GroupBy partitions rows by the named key columns. Rows with a null key are
// dropped, as pandas does by default.
func (f *Frame) GroupBy(keys ...string) (*Grouping, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("groupby requires at least one key column")
	}
	keyCols := make([]*Column, len(keys))
	for i, name := range keys {
		c, ok := f.Column(name)
		if !ok {
			return nil, &MissingColumnError{Name: name, Available: f.Names()}
		}
		keyCols[i] = c
	}

	pos := make(map[string]int)
	var groups [][]int
rows:
	for r := 0; r < f.rows; r++ {
		for _, c := range keyCols {
			if IsNull(c.Values[r]) {
				continue rows
			}
		}
		k := rowKey(keyCols, r)
		g, ok := pos[k]
		if !ok {
			g = len(groups)
			pos[k] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], r)
	}

	sort.SliceStable(groups, func(a, b int) bool {
		ra, rb := groups[a][0], groups[b][0]
		for _, c := range keyCols {
			if r := Compare(c.Values[ra], c.Values[rb]); r != 0 {
				return r < 0
			}
		}
		return false
	})
	return &Grouping{frame: f, keys: keyCols, groups: groups}, nil
}

// NumGroups returns the number of distinct keys.
func (g *Grouping) NumGroups() int { return len(g.groups) }

// KeyNames returns the key column names.
func (g *Grouping) KeyNames() []string {
	names := make([]string, len(g.keys))
	for i, c := range g.keys {
		names[i] = c.Name
	}
	return names
}

// Frame returns the grouped frame.
func (g *Grouping) Frame() *Frame { return g.frame }

// AggSpec names one output column of an aggregation.
type AggSpec struct {
	Column string
	Func   string
	As     string
}

func (g *Grouping) keyFrame() []*Column {
	cols := make([]*Column, len(g.keys))
	for i, kc := range g.keys {
		vals := make([]any, len(g.groups))
		for j, rows := range g.groups {
			vals[j] = kc.Values[rows[0]]
		}
		cols[i] = &Column{Name: kc.Name, Kind: kc.Kind, Values: vals}
	}
	return cols
}

// Aggregate returns one row per group: the key columns followed by one
// column per spec.
func (g *Grouping) Aggregate(specs ...AggSpec) (*Frame, error) {
	cols := g.keyFrame()
	for _, spec := range specs {
		src, ok := g.frame.Column(spec.Column)
		if !ok && spec.Func != "size" {
			return nil, &MissingColumnError{Name: spec.Column, Available: g.frame.Names()}
		}
		name := spec.As
		if name == "" {
			name = spec.Column
		}
		vals := make([]any, len(g.groups))
		for j, rows := range g.groups {
			cells := make([]any, len(rows))
			if src != nil {
				for i, r := range rows {
					cells[i] = src.Values[r]
				}
			}
			v, err := Reduce(spec.Func, cells)
			if err != nil {
				return nil, fmt.Errorf("aggregate %q: %w", name, err)
			}
			vals[j] = v
		}
		cols = append(cols, NewColumn(name, vals))
	}
	return New(cols...)
}

// Size returns the keys and the row count of each group.
func (g *Grouping) Size(name string) (*Frame, error) {
	return g.Aggregate(AggSpec{Func: "size", As: name})
}

// Rows returns the row positions of each group, in group order.
func (g *Grouping) Rows() [][]int {
	return g.groups
}
