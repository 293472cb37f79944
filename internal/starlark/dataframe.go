package starlark

import (
	"errors"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DataFrame is the Starlark view of a table. Column assignment rebinds the
// wrapper to a new frame; the underlying frame is never modified, so the
// datasets a program starts with stay intact.
type DataFrame struct {
	frame  *frame.Frame
	frozen bool
}

var (
	_ starlark.Value     = (*DataFrame)(nil)
	_ starlark.HasAttrs  = (*DataFrame)(nil)
	_ starlark.HasSetKey = (*DataFrame)(nil)
	_ starlark.Sequence  = (*DataFrame)(nil)
)

// NewDataFrame wraps f.
func NewDataFrame(f *frame.Frame) *DataFrame {
	return &DataFrame{frame: f}
}

// Frame returns the current table.
func (df *DataFrame) Frame() *frame.Frame { return df.frame }

func (df *DataFrame) String() string        { return renderFrame(df.frame) }
func (df *DataFrame) Type() string          { return "DataFrame" }
func (df *DataFrame) Freeze()               { df.frozen = true }
func (df *DataFrame) Truth() starlark.Bool  { return df.frame.NumRows() > 0 }
func (df *DataFrame) Hash() (uint32, error) { return unhashable(df) }
func (df *DataFrame) Len() int              { return df.frame.NumRows() }

// Iterate yields column names, as iterating a pandas DataFrame does.
func (df *DataFrame) Iterate() starlark.Iterator {
	return stringList(df.frame.Names()).Iterate()
}

func (df *DataFrame) CompareSameType(op syntax.Token, _ starlark.Value, _ int) (bool, error) {
	return false, fmt.Errorf("DataFrame %s DataFrame is not supported", op)
}

// Get implements df["col"], df[["a", "b"]] and df[mask].
func (df *DataFrame) Get(k starlark.Value) (starlark.Value, bool, error) {
	switch key := k.(type) {
	case starlark.String:
		c, ok := df.frame.Column(string(key))
		if !ok {
			return nil, false, &frame.MissingColumnError{Name: string(key), Available: df.frame.Names()}
		}
		return NewSeries(c, nil), true, nil
	case *Series:
		keep, err := boolMask(key, df.frame.NumRows())
		if err != nil {
			return nil, false, err
		}
		out, err := df.frame.Filter(keep)
		if err != nil {
			return nil, false, err
		}
		return NewDataFrame(out), true, nil
	case starlark.Bool:
		return nil, false, errors.New("DataFrame filter got a single bool: comparison operators are not elementwise here, build the mask with .eq(), .gt(), .lt() (for example df[df[\"col\"].gt(10)])")
	case *starlark.List, starlark.Tuple:
		names, err := toStrings(key)
		if err != nil {
			return nil, false, err
		}
		out, err := df.frame.Select(names...)
		if err != nil {
			return nil, false, err
		}
		return NewDataFrame(out), true, nil
	}
	return nil, false, fmt.Errorf("DataFrame indices must be a column name, a list of names or a boolean Series, got %s", k.Type())
}

// SetKey implements df["col"] = value. value may be a Series of matching
// length, a list, or a scalar broadcast to every row.
func (df *DataFrame) SetKey(k, v starlark.Value) error {
	if df.frozen {
		return errors.New("cannot assign to a frozen DataFrame")
	}
	name, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("column name must be a string, got %s", k.Type())
	}
	col, err := columnFrom(name, v, df.frame.NumRows())
	if err != nil {
		return err
	}
	out, err := df.frame.WithColumn(col)
	if err != nil {
		return err
	}
	df.frame = out
	return nil
}

// columnFrom builds an n-row column from a Series, list or scalar.
func columnFrom(name string, v starlark.Value, n int) (*frame.Column, error) {
	switch x := v.(type) {
	case *Series:
		if x.col.Len() != n {
			return nil, fmt.Errorf("column %q: length %d does not match %d rows", name, x.col.Len(), n)
		}
		return x.col.Renamed(name), nil
	case *starlark.List, starlark.Tuple:
		cells, err := toCells(x)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		if len(cells) != n {
			return nil, fmt.Errorf("column %q: length %d does not match %d rows", name, len(cells), n)
		}
		return frame.NewColumn(name, cells), nil
	}
	c, err := toCell(v)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	cells := make([]any, n)
	for i := range cells {
		cells[i] = c
	}
	return frame.NewColumn(name, cells), nil
}

func (df *DataFrame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		return stringList(df.frame.Names()), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(df.frame.NumRows()), starlark.MakeInt(df.frame.NumCols())}, nil
	case "empty":
		return starlark.Bool(df.frame.NumRows() == 0 || df.frame.NumCols() == 0), nil
	case "size":
		return starlark.MakeInt(df.frame.Cells()), nil
	case "dtypes":
		d := starlark.NewDict(df.frame.NumCols())
		for _, c := range df.frame.Columns() {
			_ = d.SetKey(starlark.String(c.Name), starlark.String(c.Kind.String()))
		}
		return d, nil
	case "index":
		idx := make([]starlark.Value, df.frame.NumRows())
		for i := range idx {
			idx[i] = starlark.MakeInt(i)
		}
		return starlark.NewList(idx), nil
	case "plot":
		return &PlotAccessor{target: df}, nil
	}
	if m, err := builtinAttr(df, name, frameMethods); m != nil || err != nil {
		return m, err
	}
	// Columns are reachable as attributes, as in pandas.
	if c, ok := df.frame.Column(name); ok {
		return NewSeries(c, nil), nil
	}
	return nil, nil
}

func (df *DataFrame) AttrNames() []string {
	names := []string{"columns", "dtypes", "empty", "index", "plot", "shape", "size"}
	return append(names, builtinAttrNames(frameMethods)...)
}

var frameMethods map[string]*starlark.Builtin

func init() {
	frameMethods = builtinMap(map[string]builtinFunc{
		"head":            frameHeadTail(true),
		"tail":            frameHeadTail(false),
		"sort_values":     frameSortValues,
		"groupby":         frameGroupBy,
		"merge":           frameMerge,
		"drop":            frameDrop,
		"rename":          frameRename,
		"assign":          frameAssign,
		"drop_duplicates": frameDropDuplicates,
		"nlargest":        frameNth(true),
		"nsmallest":       frameNth(false),
		"reset_index":     frameCopy,
		"copy":            frameCopy,
		"to_dict":         frameToDict,
		"iterrows":        frameIterrows,
		"dropna":          frameDropna,
		"fillna":          frameFillna,
		"sum":             frameReduce("sum", true),
		"mean":            frameReduce("mean", true),
		"median":          frameReduce("median", true),
		"std":             frameReduce("std", true),
		"min":             frameReduce("min", false),
		"max":             frameReduce("max", false),
		"count":           frameReduce("count", false),
		"nunique":         frameReduce("nunique", false),
	})
}

func recvFrame(b *starlark.Builtin) *DataFrame {
	return b.Receiver().(*DataFrame)
}

// tableValue charges the thread for a new table and wraps it.
func tableValue(thread *starlark.Thread, f *frame.Frame) (starlark.Value, error) {
	if err := charge(thread, f.Cells()); err != nil {
		return nil, err
	}
	return NewDataFrame(f), nil
}

func frameHeadTail(head bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		n := 5
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
			return nil, err
		}
		f := recvFrame(b).frame
		if head {
			return NewDataFrame(f.Head(n)), nil
		}
		return NewDataFrame(f.Tail(n)), nil
	}
}

func frameSortValues(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by, ascending starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "ascending?", &ascending); err != nil {
		return nil, err
	}
	cols, err := toStrings(by)
	if err != nil {
		return nil, fmt.Errorf("sort_values: by: %w", err)
	}
	asc := make([]bool, len(cols))
	for i := range asc {
		asc[i] = true
	}
	switch a := ascending.(type) {
	case nil:
	case starlark.Bool:
		for i := range asc {
			asc[i] = bool(a)
		}
	case *starlark.List, starlark.Tuple:
		seq := a.(starlark.Indexable)
		if seq.Len() != len(cols) {
			return nil, fmt.Errorf("sort_values: ascending has %d entries for %d columns", seq.Len(), len(cols))
		}
		for i := range asc {
			asc[i] = bool(seq.Index(i).Truth())
		}
	default:
		return nil, fmt.Errorf("sort_values: ascending must be a bool or list of bools")
	}
	keys := make([]frame.SortKey, len(cols))
	for i, c := range cols {
		keys[i] = frame.SortKey{Column: c, Descending: !asc[i]}
	}
	out, err := recvFrame(b).frame.Sort(keys...)
	if err != nil {
		return nil, fmt.Errorf("sort_values: %w", err)
	}
	return tableValue(thread, out)
}

func frameGroupBy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by starlark.Value
	asIndex, dropna, sorted := true, true, true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "as_index?", &asIndex, "dropna?", &dropna, "sort?", &sorted); err != nil {
		return nil, err
	}
	keys, err := toStrings(by)
	if err != nil {
		return nil, fmt.Errorf("groupby: by: %w", err)
	}
	g, err := recvFrame(b).frame.GroupBy(keys...)
	if err != nil {
		return nil, fmt.Errorf("groupby: %w", err)
	}
	return &GroupBy{g: g, asIndex: asIndex}, nil
}

// mergeFrames implements both df.merge and pd.merge.
func mergeFrames(thread *starlark.Thread, fnname string, left *frame.Frame, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		right                    *DataFrame
		on, leftOn, rightOn, suf starlark.Value
		how                      = "inner"
	)
	if err := starlark.UnpackArgs(fnname, args, kwargs,
		"right", &right, "how?", &how, "on?", &on, "left_on?", &leftOn, "right_on?", &rightOn, "suffixes?", &suf); err != nil {
		return nil, err
	}
	opts := frame.MergeOptions{How: how}
	var err error
	switch {
	case !isNone(on):
		if opts.LeftOn, err = toStrings(on); err != nil {
			return nil, fmt.Errorf("%s: on: %w", fnname, err)
		}
		opts.RightOn = opts.LeftOn
	case !isNone(leftOn) && !isNone(rightOn):
		if opts.LeftOn, err = toStrings(leftOn); err != nil {
			return nil, fmt.Errorf("%s: left_on: %w", fnname, err)
		}
		if opts.RightOn, err = toStrings(rightOn); err != nil {
			return nil, fmt.Errorf("%s: right_on: %w", fnname, err)
		}
	default:
		// pandas joins on the shared column names.
		for _, name := range left.Names() {
			if right.frame.Has(name) {
				opts.LeftOn = append(opts.LeftOn, name)
			}
		}
		if len(opts.LeftOn) == 0 {
			return nil, fmt.Errorf("%s: no common columns to join on; pass on= or left_on=/right_on=", fnname)
		}
		opts.RightOn = opts.LeftOn
	}
	if !isNone(suf) {
		parts, err := toStrings(suf)
		if err != nil || len(parts) != 2 {
			return nil, fmt.Errorf("%s: suffixes must be a pair of strings", fnname)
		}
		opts.Suffixes = [2]string{parts[0], parts[1]}
	}
	if budget := budgetOf(thread); budget.Remaining() >= 0 {
		width := int64(left.NumCols() + right.frame.NumCols())
		opts.MaxRows = max(int(budget.Remaining()/max(width, 1)), 1)
	}
	out, err := frame.Merge(left, right.frame, opts)
	if errors.Is(err, frame.ErrLimit) {
		return nil, fmt.Errorf("%s: %w (%v)", fnname, ErrBudget, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	return tableValue(thread, out)
}

func frameMerge(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return mergeFrames(thread, b.Name(), recvFrame(b).frame, args, kwargs)
}

func frameDrop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var labels, columns starlark.Value
	axis := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "labels?", &labels, "axis?", &axis, "columns?", &columns); err != nil {
		return nil, err
	}
	target := columns
	if isNone(target) {
		if axis != 1 && !isNone(labels) {
			return nil, fmt.Errorf("drop: only column drops are supported; pass columns= or axis=1")
		}
		target = labels
	}
	if isNone(target) {
		return nil, fmt.Errorf("drop: no columns given")
	}
	names, err := toStrings(target)
	if err != nil {
		return nil, fmt.Errorf("drop: %w", err)
	}
	out, err := recvFrame(b).frame.Drop(names...)
	if err != nil {
		return nil, fmt.Errorf("drop: %w", err)
	}
	return NewDataFrame(out), nil
}

func frameRename(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var columns *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "columns", &columns); err != nil {
		return nil, err
	}
	mapping := make(map[string]string, columns.Len())
	for _, item := range columns.Items() {
		from, ok1 := starlark.AsString(item[0])
		to, ok2 := starlark.AsString(item[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("rename: columns must map strings to strings")
		}
		mapping[from] = to
	}
	out, err := recvFrame(b).frame.Rename(mapping)
	if err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}
	return NewDataFrame(out), nil
}

// frameAssign adds columns from keyword arguments. A callable value is
// called with the frame built so far.
func frameAssign(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("assign: only keyword arguments are accepted")
	}
	cur := NewDataFrame(recvFrame(b).frame)
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		v := kv[1]
		if fn, ok := v.(starlark.Callable); ok {
			r, err := starlark.Call(thread, fn, starlark.Tuple{cur}, nil)
			if err != nil {
				return nil, err
			}
			v = r
		}
		if err := cur.SetKey(starlark.String(name), v); err != nil {
			return nil, fmt.Errorf("assign: %w", err)
		}
	}
	return tableValue(thread, cur.frame)
}

func frameDropDuplicates(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var subset starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "subset?", &subset); err != nil {
		return nil, err
	}
	var names []string
	if !isNone(subset) {
		var err error
		if names, err = toStrings(subset); err != nil {
			return nil, fmt.Errorf("drop_duplicates: %w", err)
		}
	}
	out, err := recvFrame(b).frame.Distinct(names...)
	if err != nil {
		return nil, fmt.Errorf("drop_duplicates: %w", err)
	}
	return NewDataFrame(out), nil
}

func frameNth(largest bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			n       int
			columns starlark.Value
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n", &n, "columns", &columns); err != nil {
			return nil, err
		}
		cols, err := toStrings(columns)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		keys := make([]frame.SortKey, len(cols))
		for i, c := range cols {
			keys[i] = frame.SortKey{Column: c, Descending: largest}
		}
		sorted, err := recvFrame(b).frame.Sort(keys...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return NewDataFrame(sorted.Head(max(n, 0))), nil
	}
}

func frameCopy(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return NewDataFrame(recvFrame(b).frame), nil
}

func frameToDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	orient := "dict"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "orient?", &orient); err != nil {
		return nil, err
	}
	f := recvFrame(b).frame
	switch orient {
	case "records":
		rows := make([]starlark.Value, f.NumRows())
		for i := range rows {
			rows[i] = rowDict(f, i)
		}
		return starlark.NewList(rows), nil
	case "list":
		d := starlark.NewDict(f.NumCols())
		for _, c := range f.Columns() {
			_ = d.SetKey(starlark.String(c.Name), cellList(c.Values))
		}
		return d, nil
	case "dict":
		d := starlark.NewDict(f.NumCols())
		for _, c := range f.Columns() {
			inner := starlark.NewDict(c.Len())
			for i, v := range c.Values {
				_ = inner.SetKey(starlark.MakeInt(i), cellValue(v))
			}
			_ = d.SetKey(starlark.String(c.Name), inner)
		}
		return d, nil
	}
	return nil, fmt.Errorf("to_dict: unsupported orient %q (use dict, list or records)", orient)
}

func rowDict(f *frame.Frame, i int) *starlark.Dict {
	d := starlark.NewDict(f.NumCols())
	for _, c := range f.Columns() {
		_ = d.SetKey(starlark.String(c.Name), cellValue(c.Values[i]))
	}
	return d
}

// frameIterrows returns (position, row) pairs; rows are dicts keyed by
// column name.
func frameIterrows(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	f := recvFrame(b).frame
	rows := make([]starlark.Value, f.NumRows())
	for i := range rows {
		rows[i] = starlark.Tuple{starlark.MakeInt(i), rowDict(f, i)}
	}
	return starlark.NewList(rows), nil
}

func frameDropna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var subset starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "subset?", &subset); err != nil {
		return nil, err
	}
	f := recvFrame(b).frame
	names := f.Names()
	if !isNone(subset) {
		var err error
		if names, err = toStrings(subset); err != nil {
			return nil, fmt.Errorf("dropna: %w", err)
		}
	}
	keep := make([]bool, f.NumRows())
	for i := range keep {
		keep[i] = true
	}
	for _, name := range names {
		c, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("dropna: %w", &frame.MissingColumnError{Name: name, Available: f.Names()})
		}
		for i, v := range c.Values {
			if frame.IsNull(v) {
				keep[i] = false
			}
		}
	}
	out, err := f.Filter(keep)
	if err != nil {
		return nil, err
	}
	return NewDataFrame(out), nil
}

func frameFillna(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value); err != nil {
		return nil, err
	}
	fill, err := toCell(value)
	if err != nil {
		return nil, fmt.Errorf("fillna: %w", err)
	}
	f := recvFrame(b).frame
	cols := make([]*frame.Column, 0, f.NumCols())
	for _, c := range f.Columns() {
		vals := slices.Clone(c.Values)
		for i, v := range vals {
			if frame.IsNull(v) {
				vals[i] = fill
			}
		}
		cols = append(cols, frame.NewColumn(c.Name, vals))
	}
	out, err := frame.New(cols...)
	if err != nil {
		return nil, err
	}
	return tableValue(thread, out)
}

// frameReduce reduces every column to one value, returning a Series
// labelled by column name. Numeric reductions skip non-numeric columns.
func frameReduce(fn string, numericOnly bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		f := recvFrame(b).frame
		var labels, values []any
		for _, c := range f.Columns() {
			if numericOnly && !c.Kind.IsNumeric() {
				continue
			}
			v, err := frame.Reduce(fn, c.Values)
			if err != nil {
				return nil, fmt.Errorf("%s: column %q: %w", b.Name(), c.Name, err)
			}
			labels = append(labels, c.Name)
			values = append(values, v)
		}
		return newSeries("", values, frame.NewColumn("", labels)), nil
	}
}
