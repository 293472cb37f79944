package starlark

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
)

// GroupBy is the result of df.groupby(...). Selecting columns with
// gb["col"] or gb[["a", "b"]] narrows the reductions that follow.
type GroupBy struct {
	g        *frame.Grouping
	selected []string
	single   bool
	asIndex  bool
}

var (
	_ starlark.HasAttrs = (*GroupBy)(nil)
	_ starlark.Mapping  = (*GroupBy)(nil)
)

func (gb *GroupBy) String() string {
	return fmt.Sprintf("<GroupBy by %v, %d groups>", gb.g.KeyNames(), gb.g.NumGroups())
}
func (gb *GroupBy) Type() string          { return "GroupBy" }
func (gb *GroupBy) Freeze()               {}
func (gb *GroupBy) Truth() starlark.Bool  { return true }
func (gb *GroupBy) Hash() (uint32, error) { return unhashable(gb) }

// Get selects value columns.
func (gb *GroupBy) Get(k starlark.Value) (starlark.Value, bool, error) {
	names, err := toStrings(k)
	if err != nil {
		return nil, false, fmt.Errorf("groupby selection: %w", err)
	}
	for _, name := range names {
		if !gb.g.Frame().Has(name) {
			return nil, false, &frame.MissingColumnError{Name: name, Available: gb.g.Frame().Names()}
		}
	}
	_, isString := k.(starlark.String)
	return &GroupBy{g: gb.g, selected: names, single: isString, asIndex: gb.asIndex}, true, nil
}

func (gb *GroupBy) Attr(name string) (starlark.Value, error) {
	if m, err := builtinAttr(gb, name, groupByMethods); m != nil || err != nil {
		return m, err
	}
	if gb.g.Frame().Has(name) {
		v, _, err := gb.Get(starlark.String(name))
		return v, err
	}
	return nil, nil
}

func (gb *GroupBy) AttrNames() []string {
	return builtinAttrNames(groupByMethods)
}

var groupByMethods map[string]*starlark.Builtin

func init() {
	fns := map[string]builtinFunc{
		"size": groupBySize,
		"agg":  groupByAgg,
	}
	fns["aggregate"] = groupByAgg
	for _, fn := range frame.Reducers {
		if fn != "size" {
			fns[fn] = groupByReduce(fn)
		}
	}
	groupByMethods = builtinMap(fns)
}

func recvGroupBy(b *starlark.Builtin) *GroupBy {
	return b.Receiver().(*GroupBy)
}

// targets lists the columns a reduction applies to. Without a selection
// every non-key column is used; numeric reductions skip non-numeric ones.
func (gb *GroupBy) targets(fn string) []string {
	if len(gb.selected) > 0 {
		return gb.selected
	}
	numeric := slices.Contains([]string{"sum", "mean", "median", "std", "var"}, fn)
	keys := gb.g.KeyNames()
	var out []string
	for _, c := range gb.g.Frame().Columns() {
		if slices.Contains(keys, c.Name) {
			continue
		}
		if numeric && !c.Kind.IsNumeric() {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

// finish turns an aggregated frame (keys then values) into the value pandas
// would return: a Series labelled by the key for a single selected column
// and a single key, a DataFrame otherwise.
func (gb *GroupBy) finish(thread *starlark.Thread, out *frame.Frame, seriesShaped bool) (starlark.Value, error) {
	if err := charge(thread, out.Cells()); err != nil {
		return nil, err
	}
	keys := gb.g.KeyNames()
	if seriesShaped && gb.asIndex && len(keys) == 1 && out.NumCols() == 2 {
		cols := out.Columns()
		return NewSeries(cols[1], cols[0]), nil
	}
	return NewDataFrame(out), nil
}

func groupByReduce(fn string) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		gb := recvGroupBy(b)
		targets := gb.targets(fn)
		specs := make([]frame.AggSpec, len(targets))
		for i, col := range targets {
			specs[i] = frame.AggSpec{Column: col, Func: fn, As: col}
		}
		out, err := gb.g.Aggregate(specs...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return gb.finish(thread, out, gb.single)
	}
}

func groupBySize(thread *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	gb := recvGroupBy(b)
	out, err := gb.g.Size("size")
	if err != nil {
		return nil, err
	}
	return gb.finish(thread, out, true)
}

// reducerName resolves an aggregation given as a string or as a toolkit
// function such as np.sum or len.
func reducerName(v starlark.Value) (string, error) {
	var name string
	switch x := v.(type) {
	case starlark.String:
		name = string(x)
	case *starlark.Builtin:
		name = x.Name()
	default:
		return "", fmt.Errorf("aggregation must be a function name, got %s", v.Type())
	}
	switch name {
	case "len":
		name = "size"
	case "average":
		name = "mean"
	}
	if !frame.IsReducer(name) {
		return "", fmt.Errorf("unknown aggregation %q (expected one of %v)", name, frame.Reducers)
	}
	return name, nil
}

// groupByAgg supports the common pandas spellings:
//
//	gb.agg(total=("amount", "sum"))    named aggregation
//	gb["amount"].agg(total="sum")      named, on a selection
//	gb.agg({"amount": "sum"})          per-column
//	gb.agg({"amount": ["sum", "mean"]})
//	gb["amount"].agg(["sum", "mean"])
//	gb.agg("sum")
func groupByAgg(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	gb := recvGroupBy(b)
	var specs []frame.AggSpec
	seriesShaped := false

	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		switch v := kv[1].(type) {
		case starlark.Tuple:
			if len(v) != 2 {
				return nil, fmt.Errorf("agg: %s must be a (column, function) pair", name)
			}
			col, ok := starlark.AsString(v[0])
			if !ok {
				return nil, fmt.Errorf("agg: %s: column must be a string", name)
			}
			fn, err := reducerName(v[1])
			if err != nil {
				return nil, fmt.Errorf("agg: %s: %w", name, err)
			}
			specs = append(specs, frame.AggSpec{Column: col, Func: fn, As: name})
		default:
			if len(gb.selected) != 1 {
				return nil, fmt.Errorf("agg: %s must be a (column, function) pair", name)
			}
			fn, err := reducerName(v)
			if err != nil {
				return nil, fmt.Errorf("agg: %s: %w", name, err)
			}
			specs = append(specs, frame.AggSpec{Column: gb.selected[0], Func: fn, As: name})
		}
	}

	if len(args) > 1 {
		return nil, fmt.Errorf("agg: expected at most one positional argument")
	}
	if len(args) == 1 {
		switch v := args[0].(type) {
		case *starlark.Dict:
			for _, item := range v.Items() {
				col, ok := starlark.AsString(item[0])
				if !ok {
					return nil, fmt.Errorf("agg: dict keys must be column names")
				}
				fns, multi, err := reducerList(item[1])
				if err != nil {
					return nil, fmt.Errorf("agg: %s: %w", col, err)
				}
				for _, fn := range fns {
					as := col
					if multi {
						as = col + "_" + fn
					}
					specs = append(specs, frame.AggSpec{Column: col, Func: fn, As: as})
				}
			}
		default:
			fns, multi, err := reducerList(v)
			if err != nil {
				return nil, fmt.Errorf("agg: %w", err)
			}
			targets := gb.targets(fns[0])
			for _, col := range targets {
				for _, fn := range fns {
					as := col
					if multi {
						as = fn
						if len(targets) > 1 {
							as = col + "_" + fn
						}
					}
					specs = append(specs, frame.AggSpec{Column: col, Func: fn, As: as})
				}
			}
			seriesShaped = !multi && gb.single
		}
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("agg: no aggregations given")
	}
	out, err := gb.g.Aggregate(specs...)
	if err != nil {
		return nil, fmt.Errorf("agg: %w", err)
	}
	return gb.finish(thread, out, seriesShaped)
}

// reducerList accepts one aggregation or a list of them; multi reports
// whether a list was given.
func reducerList(v starlark.Value) (fns []string, multi bool, err error) {
	switch x := v.(type) {
	case *starlark.List, starlark.Tuple:
		seq := x.(starlark.Indexable)
		for i := 0; i < seq.Len(); i++ {
			fn, err := reducerName(seq.Index(i))
			if err != nil {
				return nil, false, err
			}
			fns = append(fns, fn)
		}
		if len(fns) == 0 {
			return nil, false, fmt.Errorf("empty aggregation list")
		}
		return fns, true, nil
	}
	fn, err := reducerName(v)
	if err != nil {
		return nil, false, err
	}
	return []string{fn}, false, nil
}
