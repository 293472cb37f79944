package starlark

import (
	"fmt"
	"math"
	"sort"

	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Series is a single named column, optionally labelled by an index column
// (as produced by groupby reductions and value_counts). Series are
// immutable.
type Series struct {
	col   *frame.Column
	index *frame.Column
}

var (
	_ starlark.Value     = (*Series)(nil)
	_ starlark.HasAttrs  = (*Series)(nil)
	_ starlark.Mapping   = (*Series)(nil)
	_ starlark.Sequence  = (*Series)(nil)
	_ starlark.HasBinary = (*Series)(nil)
	_ starlark.HasUnary  = (*Series)(nil)
)

// NewSeries wraps a column. index may be nil.
func NewSeries(col *frame.Column, index *frame.Column) *Series {
	return &Series{col: col, index: index}
}

func newSeries(name string, values []any, index *frame.Column) *Series {
	return &Series{col: frame.NewColumn(name, values), index: index}
}

// derive builds a series that keeps the receiver's name and index.
func (s *Series) derive(values []any) *Series {
	return newSeries(s.col.Name, values, s.index)
}

// Column returns the values.
func (s *Series) Column() *frame.Column { return s.col }

// Index returns the label column, or nil for a positional series.
func (s *Series) Index() *frame.Column { return s.index }

// Frame converts the series to a table: the index (when present) followed
// by the values.
func (s *Series) Frame() *frame.Frame {
	name := s.col.Name
	if name == "" {
		name = "value"
	}
	if s.index == nil {
		f, _ := frame.New(s.col.Renamed(name))
		return f
	}
	idxName := s.index.Name
	if idxName == "" || idxName == name {
		idxName = "index"
	}
	f, err := frame.New(s.index.Renamed(idxName), s.col.Renamed(name))
	if err != nil {
		f, _ = frame.New(s.col.Renamed(name))
	}
	return f
}

func (s *Series) label(i int) any {
	if s.index == nil {
		return int64(i)
	}
	return s.index.Values[i]
}

func (s *Series) String() string        { return renderSeries(s) }
func (s *Series) Type() string          { return "Series" }
func (s *Series) Freeze()               {}
func (s *Series) Truth() starlark.Bool  { return s.col.Len() > 0 }
func (s *Series) Hash() (uint32, error) { return unhashable(s) }
func (s *Series) Len() int              { return s.col.Len() }

func (s *Series) Iterate() starlark.Iterator {
	return &cellIterator{values: s.col.Values}
}

type cellIterator struct {
	values []any
	i      int
}

func (it *cellIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.values) {
		return false
	}
	*p = cellValue(it.values[it.i])
	it.i++
	return true
}

func (it *cellIterator) Done() {}

// CompareSameType rejects == and friends between two series; programs use
// the elementwise methods instead.
func (s *Series) CompareSameType(op syntax.Token, _ starlark.Value, _ int) (bool, error) {
	return false, fmt.Errorf("Series %s Series is ambiguous; use .eq(), .ne(), .gt(), .ge(), .lt() or .le()", op)
}

// Get implements s[key]: a boolean Series filters, anything else is looked
// up as an index label (or position when the series has no index).
func (s *Series) Get(k starlark.Value) (starlark.Value, bool, error) {
	if mask, ok := k.(*Series); ok {
		keep, err := boolMask(mask, s.col.Len())
		if err != nil {
			return nil, false, err
		}
		return s.take(positions(keep)), true, nil
	}
	key, err := toCell(k)
	if err != nil {
		return nil, false, err
	}
	if s.index == nil {
		n, ok := key.(int64)
		if !ok {
			return nil, false, fmt.Errorf("Series has no label %s", k)
		}
		if n < 0 {
			n += int64(s.col.Len())
		}
		if n < 0 || n >= int64(s.col.Len()) {
			return nil, false, fmt.Errorf("Series index %d out of range [0:%d]", n, s.col.Len())
		}
		return cellValue(s.col.Values[n]), true, nil
	}
	for i, label := range s.index.Values {
		if frame.Equal(label, key) {
			return cellValue(s.col.Values[i]), true, nil
		}
	}
	return nil, false, fmt.Errorf("Series has no label %s", k)
}

func (s *Series) take(idx []int) *Series {
	var index *frame.Column
	if s.index != nil {
		index = s.index.Take(idx)
	}
	return &Series{col: s.col.Take(idx), index: index}
}

func positions(keep []bool) []int {
	idx := make([]int, 0, len(keep))
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return idx
}

// boolMask validates a boolean series used for filtering.
func boolMask(mask *Series, n int) ([]bool, error) {
	if mask.col.Len() != n {
		return nil, fmt.Errorf("boolean mask has %d entries, expected %d", mask.col.Len(), n)
	}
	keep := make([]bool, n)
	for i, v := range mask.col.Values {
		switch b := v.(type) {
		case bool:
			keep[i] = b
		case nil:
		default:
			return nil, fmt.Errorf("filter mask must be boolean, got %s values (build masks with .eq(), .gt(), .isin(), ...)", mask.col.Kind)
		}
	}
	return keep, nil
}

func (s *Series) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		if s.col.Name == "" {
			return starlark.None, nil
		}
		return starlark.String(s.col.Name), nil
	case "values":
		return cellList(s.col.Values), nil
	case "index":
		labels := make([]any, s.col.Len())
		for i := range labels {
			labels[i] = s.label(i)
		}
		return cellList(labels), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(s.col.Len())}, nil
	case "size":
		return starlark.MakeInt(s.col.Len()), nil
	case "empty":
		return starlark.Bool(s.col.Len() == 0), nil
	case "dtype":
		return starlark.String(s.col.Kind.String()), nil
	case "iloc":
		return &ilocView{s: s}, nil
	case "dt":
		return &DatetimeAccessor{s: s}, nil
	case "str":
		return &StringAccessor{s: s}, nil
	case "plot":
		return &PlotAccessor{target: s}, nil
	}
	return builtinAttr(s, name, seriesMethods)
}

func (s *Series) AttrNames() []string {
	return append([]string{"dt", "dtype", "empty", "iloc", "index", "name", "plot", "shape", "size", "str", "values"}, builtinAttrNames(seriesMethods)...)
}

// Binary implements elementwise arithmetic and boolean & | between series
// and scalars.
func (s *Series) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	var other []any
	switch yv := y.(type) {
	case *Series:
		if yv.col.Len() != s.col.Len() {
			return nil, fmt.Errorf("cannot combine series of length %d and %d", s.col.Len(), yv.col.Len())
		}
		other = yv.col.Values
	default:
		c, err := toCell(y)
		if err != nil {
			return nil, nil // let Starlark report the unsupported operand
		}
		other = make([]any, s.col.Len())
		for i := range other {
			other[i] = c
		}
	}

	out := make([]any, s.col.Len())
	for i, v := range s.col.Values {
		x, z := v, other[i]
		if side == starlark.Right {
			x, z = z, x
		}
		r, err := applyOp(op, x, z)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return s.derive(out), nil
}

func applyOp(op syntax.Token, x, y any) (any, error) {
	switch op {
	case syntax.PLUS:
		return frame.Arith(frame.OpAdd, x, y)
	case syntax.MINUS:
		return frame.Arith(frame.OpSub, x, y)
	case syntax.STAR:
		return frame.Arith(frame.OpMul, x, y)
	case syntax.SLASH:
		return frame.Arith(frame.OpDiv, x, y)
	case syntax.SLASHSLASH:
		return frame.Arith(frame.OpFloorDiv, x, y)
	case syntax.PERCENT:
		return frame.Arith(frame.OpMod, x, y)
	case syntax.AMP, syntax.PIPE:
		xb, xok := x.(bool)
		yb, yok := y.(bool)
		if (!xok && x != nil) || (!yok && y != nil) {
			return nil, fmt.Errorf("%s requires boolean series, got %s and %s", op, frame.KindOf(x), frame.KindOf(y))
		}
		if op == syntax.AMP {
			return xb && yb, nil
		}
		return xb || yb, nil
	}
	return nil, fmt.Errorf("unsupported operator %s for Series", op)
}

func (s *Series) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.PLUS:
		return s, nil
	case syntax.MINUS:
		return s.mapCells(func(v any) (any, error) { return frame.Arith(frame.OpMul, v, int64(-1)) })
	case syntax.TILDE:
		return s.mapCells(func(v any) (any, error) {
			switch b := v.(type) {
			case bool:
				return !b, nil
			case nil:
				return true, nil
			}
			return nil, fmt.Errorf("~ requires a boolean series, got %s", frame.KindOf(v))
		})
	}
	return nil, nil
}

func (s *Series) mapCells(fn func(any) (any, error)) (*Series, error) {
	out := make([]any, s.col.Len())
	for i, v := range s.col.Values {
		r, err := fn(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return s.derive(out), nil
}

// ilocView implements s.iloc[i].
type ilocView struct{ s *Series }

func (v *ilocView) String() string        { return "<iloc>" }
func (v *ilocView) Type() string          { return "iloc" }
func (v *ilocView) Freeze()               {}
func (v *ilocView) Truth() starlark.Bool  { return true }
func (v *ilocView) Hash() (uint32, error) { return unhashable(v) }

func (v *ilocView) Get(k starlark.Value) (starlark.Value, bool, error) {
	var i int
	if err := starlark.AsInt(k, &i); err != nil {
		return nil, false, fmt.Errorf("iloc requires an integer position: %w", err)
	}
	n := v.s.col.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, false, fmt.Errorf("iloc position %d out of range [0:%d]", i, n)
	}
	return cellValue(v.s.col.Values[i]), true, nil
}

var seriesMethods map[string]*starlark.Builtin

func init() {
	seriesMethods = builtinMap(map[string]builtinFunc{
		"eq":           seriesCompare(frame.CmpEq),
		"ne":           seriesCompare(frame.CmpNe),
		"gt":           seriesCompare(frame.CmpGt),
		"ge":           seriesCompare(frame.CmpGe),
		"lt":           seriesCompare(frame.CmpLt),
		"le":           seriesCompare(frame.CmpLe),
		"isin":         seriesIsin,
		"between":      seriesBetween,
		"isna":         seriesIsna(false),
		"isnull":       seriesIsna(false),
		"notna":        seriesIsna(true),
		"notnull":      seriesIsna(true),
		"sum":          seriesReduce("sum"),
		"mean":         seriesReduce("mean"),
		"median":       seriesReduce("median"),
		"min":          seriesReduce("min"),
		"max":          seriesReduce("max"),
		"std":          seriesReduce("std"),
		"var":          seriesReduce("var"),
		"count":        seriesReduce("count"),
		"nunique":      seriesReduce("nunique"),
		"first":        seriesReduce("first"),
		"last":         seriesReduce("last"),
		"any":          seriesAnyAll(true),
		"all":          seriesAnyAll(false),
		"quantile":     seriesQuantile,
		"unique":       seriesUnique,
		"tolist":       seriesToList,
		"to_list":      seriesToList,
		"round":        seriesRound,
		"abs":          seriesAbs,
		"cumsum":       seriesCumsum,
		"diff":         seriesDiff(false),
		"pct_change":   seriesDiff(true),
		"shift":        seriesShift,
		"value_counts": seriesValueCounts,
		"astype":       seriesAstype,
		"fillna":       seriesFillna,
		"dropna":       seriesDropna,
		"apply":        seriesApply,
		"map":          seriesApply,
		"idxmax":       seriesIdx("max"),
		"idxmin":       seriesIdx("min"),
		"head":         seriesHeadTail(true),
		"tail":         seriesHeadTail(false),
		"nlargest":     seriesNth(true),
		"nsmallest":    seriesNth(false),
		"sort_values":  seriesSortValues,
		"sort_index":   seriesSortIndex,
		"reset_index":  seriesResetIndex,
		"to_frame":     seriesToFrame,
		"to_dict":      seriesToDict,
		"rename":       seriesRename,
		"copy":         seriesCopy,
	})
}

func recvSeries(b *starlark.Builtin) *Series {
	return b.Receiver().(*Series)
}

func seriesCompare(op frame.CompareOp) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var other starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &other); err != nil {
			return nil, err
		}
		s := recvSeries(b)
		var rhs []any
		if o, ok := other.(*Series); ok {
			if o.col.Len() != s.col.Len() {
				return nil, fmt.Errorf("%s: cannot compare series of length %d and %d", b.Name(), s.col.Len(), o.col.Len())
			}
			rhs = o.col.Values
		} else {
			c, err := toCell(other)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			rhs = make([]any, s.col.Len())
			for i := range rhs {
				rhs[i] = c
			}
		}
		out := make([]any, s.col.Len())
		for i, v := range s.col.Values {
			ok, err := frame.Test(op, v, rhs[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			out[i] = ok
		}
		return s.derive(out), nil
	}
}

func seriesIsin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	cells, err := toCells(values)
	if err != nil {
		return nil, fmt.Errorf("isin: %w", err)
	}
	set := make(map[string]bool, len(cells))
	for _, c := range cells {
		set[frame.Key(c)] = true
	}
	s := recvSeries(b)
	return s.mapCells(func(v any) (any, error) {
		return !frame.IsNull(v) && set[frame.Key(v)], nil
	})
}

func seriesBetween(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var left, right starlark.Value
	inclusive := "both"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "left", &left, "right", &right, "inclusive?", &inclusive); err != nil {
		return nil, err
	}
	lo, err := toCell(left)
	if err != nil {
		return nil, err
	}
	hi, err := toCell(right)
	if err != nil {
		return nil, err
	}
	loOp, hiOp := frame.CmpGe, frame.CmpLe
	switch inclusive {
	case "both":
	case "left":
		hiOp = frame.CmpLt
	case "right":
		loOp = frame.CmpGt
	case "neither":
		loOp, hiOp = frame.CmpGt, frame.CmpLt
	default:
		return nil, fmt.Errorf("between: inclusive must be both, left, right or neither")
	}
	return recvSeries(b).mapCells(func(v any) (any, error) {
		a, err := frame.Test(loOp, v, lo)
		if err != nil || !a {
			return false, err
		}
		return frame.Test(hiOp, v, hi)
	})
}

func seriesIsna(negate bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return recvSeries(b).mapCells(func(v any) (any, error) {
			return frame.IsNull(v) != negate, nil
		})
	}
}

func seriesReduce(fn string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		// Nulls are always skipped, and numeric_only has no effect on a series.
		err := checkOptions(b.Name(), kwargs, map[string]func(starlark.Value) bool{
			"axis":         firstAxis,
			"skipna":       isTrue,
			"numeric_only": nil,
		})
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: unexpected positional arguments", b.Name())
		}
		v, err := frame.Reduce(fn, recvSeries(b).col.Values)
		if err != nil {
			return nil, err
		}
		return cellValue(v), nil
	}
}

func seriesAnyAll(anyMode bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		for _, v := range recvSeries(b).col.Values {
			if frame.IsNull(v) {
				continue
			}
			t := cellValue(v).Truth()
			if anyMode && bool(t) {
				return starlark.True, nil
			}
			if !anyMode && !bool(t) {
				return starlark.False, nil
			}
		}
		return starlark.Bool(!anyMode), nil
	}
}

func seriesQuantile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var q starlark.Value = starlark.Float(0.5)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "q?", &q); err != nil {
		return nil, err
	}
	f, ok := toFloat(q)
	if !ok {
		return nil, fmt.Errorf("quantile: q must be a number")
	}
	p, err := frame.Percentile(recvSeries(b).col.Values, f*100)
	if err != nil {
		return nil, err
	}
	return starlark.Float(p), nil
}

func seriesUnique(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return cellList(recvSeries(b).col.Unique()), nil
}

func seriesToList(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return cellList(recvSeries(b).col.Values), nil
}

func roundTo(f float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.RoundToEven(f*p) / p
}

func seriesRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	decimals := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "decimals?", &decimals); err != nil {
		return nil, err
	}
	return recvSeries(b).mapCells(func(v any) (any, error) {
		if f, ok := v.(float64); ok {
			return roundTo(f, decimals), nil
		}
		return v, nil
	})
}

func seriesAbs(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return recvSeries(b).mapCells(func(v any) (any, error) {
		switch x := v.(type) {
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case float64:
			return math.Abs(x), nil
		case nil:
			return nil, nil
		}
		return nil, fmt.Errorf("abs: unsupported %s value", frame.KindOf(v))
	})
}

func seriesCumsum(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	var acc any = int64(0)
	return recvSeries(b).mapCells(func(v any) (any, error) {
		if frame.IsNull(v) {
			return nil, nil
		}
		next, err := frame.Arith(frame.OpAdd, acc, v)
		if err != nil {
			return nil, fmt.Errorf("cumsum: %w", err)
		}
		acc = next
		return next, nil
	})
}

func seriesDiff(pct bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		periods := 1
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "periods?", &periods); err != nil {
			return nil, err
		}
		s := recvSeries(b)
		out := make([]any, s.col.Len())
		for i := range out {
			j := i - periods
			if j < 0 || j >= len(out) {
				continue
			}
			d, err := frame.Arith(frame.OpSub, s.col.Values[i], s.col.Values[j])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			if pct {
				d, err = frame.Arith(frame.OpDiv, d, s.col.Values[j])
				if err != nil {
					return nil, fmt.Errorf("%s: %w", b.Name(), err)
				}
			}
			out[i] = d
		}
		return s.derive(out), nil
	}
}

func seriesShift(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	periods := 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "periods?", &periods); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	out := make([]any, s.col.Len())
	for i := range out {
		if j := i - periods; j >= 0 && j < len(out) {
			out[i] = s.col.Values[j]
		}
	}
	return s.derive(out), nil
}

func seriesValueCounts(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	normalize, ascending := false, false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "normalize?", &normalize, "ascending?", &ascending); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	counts := map[string]int64{}
	var labels []any
	total := 0
	for _, v := range s.col.Values {
		if frame.IsNull(v) {
			continue
		}
		k := frame.Key(v)
		if _, seen := counts[k]; !seen {
			labels = append(labels, v)
		}
		counts[k]++
		total++
	}
	sort.SliceStable(labels, func(i, j int) bool {
		ci, cj := counts[frame.Key(labels[i])], counts[frame.Key(labels[j])]
		if ascending {
			return ci < cj
		}
		return ci > cj
	})
	values := make([]any, len(labels))
	for i, l := range labels {
		c := counts[frame.Key(l)]
		if normalize {
			values[i] = float64(c) / float64(total)
		} else {
			values[i] = c
		}
	}
	name := "count"
	if normalize {
		name = "proportion"
	}
	if err := charge(thread, 2*len(labels)); err != nil {
		return nil, err
	}
	return newSeries(name, values, frame.NewColumn(s.col.Name, labels)), nil
}

// kindArg maps dtype names and the int/float/str/bool builtins to a Kind.
func kindArg(v starlark.Value) (frame.Kind, error) {
	var name string
	switch x := v.(type) {
	case starlark.String:
		name = string(x)
	case *starlark.Builtin:
		name = x.Name()
	default:
		return frame.KindNull, fmt.Errorf("astype: unsupported type argument %s", v.Type())
	}
	switch name {
	case "int", "int64", "int32", "Int64":
		return frame.KindInt, nil
	case "float", "float64", "float32":
		return frame.KindFloat, nil
	case "str", "string", "object":
		return frame.KindString, nil
	case "bool", "boolean":
		return frame.KindBool, nil
	case "datetime64[ns]", "datetime64", "datetime":
		return frame.KindTime, nil
	case "category":
		return frame.KindString, nil
	}
	return frame.KindNull, fmt.Errorf("astype: unsupported dtype %q", name)
}

func seriesAstype(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dtype starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dtype", &dtype); err != nil {
		return nil, err
	}
	kind, err := kindArg(dtype)
	if err != nil {
		return nil, err
	}
	s := recvSeries(b)
	c, err := s.col.Cast(kind)
	if err != nil {
		return nil, fmt.Errorf("astype: %w", err)
	}
	return &Series{col: c, index: s.index}, nil
}

func seriesFillna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value); err != nil {
		return nil, err
	}
	fill, err := toCell(value)
	if err != nil {
		return nil, fmt.Errorf("fillna: %w", err)
	}
	return recvSeries(b).mapCells(func(v any) (any, error) {
		if frame.IsNull(v) {
			return fill, nil
		}
		return v, nil
	})
}

func seriesDropna(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	s := recvSeries(b)
	keep := make([]bool, s.col.Len())
	for i, v := range s.col.Values {
		keep[i] = !frame.IsNull(v)
	}
	return s.take(positions(keep)), nil
}

// seriesApply calls a function per cell, or looks cells up in a dict when
// used as map(dict).
func seriesApply(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	switch f := fn.(type) {
	case *starlark.Dict:
		return s.mapCells(func(v any) (any, error) {
			r, found, err := f.Get(cellValue(v))
			if err != nil || !found {
				return nil, err
			}
			return toCell(r)
		})
	case starlark.Callable:
		return s.mapCells(func(v any) (any, error) {
			r, err := starlark.Call(thread, f, starlark.Tuple{cellValue(v)}, nil)
			if err != nil {
				return nil, err
			}
			return toCell(r)
		})
	}
	return nil, fmt.Errorf("%s: expected a function or dict, got %s", b.Name(), fn.Type())
}

func seriesIdx(fn string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		s := recvSeries(b)
		best := -1
		for i, v := range s.col.Values {
			if frame.IsNull(v) {
				continue
			}
			if best < 0 {
				best = i
				continue
			}
			c := frame.Compare(v, s.col.Values[best])
			if (fn == "max" && c > 0) || (fn == "min" && c < 0) {
				best = i
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("%s: series has no values", b.Name())
		}
		return cellValue(s.label(best)), nil
	}
}

func seriesHeadTail(head bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		n := 5
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
			return nil, err
		}
		s := recvSeries(b)
		total := s.col.Len()
		if n < 0 {
			n = max(total+n, 0)
		}
		n = min(n, total)
		idx := make([]int, n)
		for i := range idx {
			if head {
				idx[i] = i
			} else {
				idx[i] = total - n + i
			}
		}
		return s.take(idx), nil
	}
}

// order returns row positions sorted by the values; nulls go last.
func (s *Series) order(ascending bool) []int {
	idx := make([]int, s.col.Len())
	for i := range idx {
		idx[i] = i
	}
	vals := s.col.Values
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := vals[idx[a]], vals[idx[b]]
		na, nb := frame.IsNull(va), frame.IsNull(vb)
		if na || nb {
			return !na && nb
		}
		c := frame.Compare(va, vb)
		if ascending {
			return c < 0
		}
		return c > 0
	})
	return idx
}

func seriesNth(largest bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		n := 5
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
			return nil, err
		}
		s := recvSeries(b)
		idx := s.order(!largest)
		return s.take(idx[:min(max(n, 0), len(idx))]), nil
	}
}

func seriesSortValues(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ascending := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ascending?", &ascending); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	return s.take(s.order(ascending)), nil
}

func seriesSortIndex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ascending := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ascending?", &ascending); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	if s.index == nil {
		return s, nil
	}
	return s.take((&Series{col: s.index}).order(ascending)), nil
}

func seriesResetIndex(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	drop := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "drop?", &drop, "name?", &name); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	if drop {
		return &Series{col: s.col}, nil
	}
	if name != "" {
		s = &Series{col: s.col.Renamed(name), index: s.index}
	}
	f := s.Frame()
	if err := charge(thread, f.Cells()); err != nil {
		return nil, err
	}
	return NewDataFrame(f), nil
}

func seriesToFrame(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name?", &name); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	if name != "" {
		s = &Series{col: s.col.Renamed(name), index: s.index}
	}
	f := s.Frame()
	if err := charge(thread, f.Cells()); err != nil {
		return nil, err
	}
	return NewDataFrame(f), nil
}

func seriesToDict(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	s := recvSeries(b)
	d := starlark.NewDict(s.col.Len())
	for i, v := range s.col.Values {
		if err := d.SetKey(cellValue(s.label(i)), cellValue(v)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func seriesRename(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	s := recvSeries(b)
	return &Series{col: s.col.Renamed(name), index: s.index}, nil
}

func seriesCopy(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return recvSeries(b), nil
}
