package starlark

import (
	"fmt"
	"math"
	"slices"

	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// numpyModule returns the np binding. Functions accept a Series, a list or
// a scalar; elementwise functions keep the shape of their argument.
func numpyModule() *starlarkstruct.Module {
	members := starlark.StringDict{
		"nan": starlark.Float(math.NaN()),
		"inf": starlark.Float(math.Inf(1)),
		"pi":  starlark.Float(math.Pi),
		"e":   starlark.Float(math.E),

		"round":      starlark.NewBuiltin("round", npRound),
		"cumsum":     starlark.NewBuiltin("cumsum", npCumsum),
		"arange":     starlark.NewBuiltin("arange", npArange),
		"percentile": starlark.NewBuiltin("percentile", npPercentile),
		"where":      starlark.NewBuiltin("where", npWhere),
		"unique":     starlark.NewBuiltin("unique", npUnique),
		"array":      starlark.NewBuiltin("array", npArray),
		"isnan":      starlark.NewBuiltin("isnan", npIsnan),
		"int64":      starlark.NewBuiltin("int64", npCast(frame.KindInt)),
		"float64":    starlark.NewBuiltin("float64", npCast(frame.KindFloat)),
	}
	for _, fn := range []string{"sum", "mean", "median", "min", "max"} {
		members[fn] = starlark.NewBuiltin(fn, npReduce(fn))
	}
	members["std"] = starlark.NewBuiltin("std", npSpread(false))
	members["var"] = starlark.NewBuiltin("var", npSpread(true))
	for name, fn := range map[string]func(float64) float64{
		"abs":   math.Abs,
		"sqrt":  math.Sqrt,
		"log":   math.Log,
		"log10": math.Log10,
		"log2":  math.Log2,
		"exp":   math.Exp,
		"floor": math.Floor,
		"ceil":  math.Ceil,
	} {
		members[name] = starlark.NewBuiltin(name, npElementwise(fn))
	}
	return &starlarkstruct.Module{Name: "np", Members: members}
}

// npValues returns the cells of a Series or list argument.
func npValues(fnname string, v starlark.Value) ([]any, error) {
	cells, err := toCells(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	return cells, nil
}

func npReduce(fn string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: expected one array argument", b.Name())
		}
		if err := checkOptions(b.Name(), kwargs, map[string]func(starlark.Value) bool{"axis": firstAxis}); err != nil {
			return nil, err
		}
		values, err := npValues(b.Name(), args[0])
		if err != nil {
			return nil, err
		}
		v, err := frame.Reduce(fn, values)
		if err != nil {
			return nil, err
		}
		return cellValue(v), nil
	}
}

// npSpread computes the population variance or standard deviation unless
// ddof is given.
func npSpread(variance bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var a starlark.Value
		ddof := 0
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &a, "ddof?", &ddof); err != nil {
			return nil, err
		}
		values, err := npValues(b.Name(), a)
		if err != nil {
			return nil, err
		}
		var nums []float64
		for _, v := range values {
			if frame.IsNull(v) {
				continue
			}
			f, ok := frame.ToFloat(v)
			if !ok {
				return nil, fmt.Errorf("%s: non-numeric value %q", b.Name(), frame.FormatValue(v))
			}
			nums = append(nums, f)
		}
		n := len(nums) - ddof
		if n <= 0 {
			return starlark.Float(math.NaN()), nil
		}
		var sum float64
		for _, f := range nums {
			sum += f
		}
		mean := sum / float64(len(nums))
		var ss float64
		for _, f := range nums {
			ss += (f - mean) * (f - mean)
		}
		out := ss / float64(n)
		if !variance {
			out = math.Sqrt(out)
		}
		return starlark.Float(out), nil
	}
}

// npMap applies fn to every cell of a Series, list or scalar.
func npMap(fnname string, v starlark.Value, fn func(any) (any, error)) (starlark.Value, error) {
	switch x := v.(type) {
	case *Series:
		return x.mapCells(fn)
	case *starlark.List, starlark.Tuple:
		cells, err := npValues(fnname, x)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(cells))
		for i, c := range cells {
			if out[i], err = fn(c); err != nil {
				return nil, err
			}
		}
		return cellList(out), nil
	}
	c, err := toCell(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	out, err := fn(c)
	if err != nil {
		return nil, err
	}
	return cellValue(out), nil
}

func npElementwise(fn func(float64) float64) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		return npMap(b.Name(), x, func(v any) (any, error) {
			if frame.IsNull(v) {
				return nil, nil
			}
			if n, ok := v.(int64); ok && b.Name() == "abs" {
				return max(n, -n), nil
			}
			f, ok := frame.ToFloat(v)
			if !ok {
				return nil, fmt.Errorf("%s: non-numeric value %q", b.Name(), frame.FormatValue(v))
			}
			return fn(f), nil
		})
	}
}

func npRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	decimals := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &x, "decimals?", &decimals); err != nil {
		return nil, err
	}
	return npMap(b.Name(), x, func(v any) (any, error) {
		if f, ok := v.(float64); ok {
			return roundTo(f, decimals), nil
		}
		return v, nil
	})
}

func npCumsum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	var acc any = int64(0)
	return npMap(b.Name(), x, func(v any) (any, error) {
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

func npArange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &start, &stop, &step); err != nil {
		return nil, err
	}
	if stop == nil {
		start, stop = starlark.MakeInt(0), start
	}
	if step == nil {
		step = starlark.MakeInt(1)
	}
	lo, ok1 := toFloat(start)
	hi, ok2 := toFloat(stop)
	st, ok3 := toFloat(step)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("arange: arguments must be numbers")
	}
	if st == 0 {
		return nil, fmt.Errorf("arange: step must not be zero")
	}
	_, intStart := start.(starlark.Int)
	_, intStep := step.(starlark.Int)
	n := max(int(math.Ceil((hi-lo)/st)), 0)
	if err := charge(thread, n); err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := range out {
		v := lo + float64(i)*st
		if intStart && intStep {
			out[i] = int64(v)
		} else {
			out[i] = v
		}
	}
	return cellList(out), nil
}

func npPercentile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a, q starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &a, "q", &q); err != nil {
		return nil, err
	}
	values, err := npValues(b.Name(), a)
	if err != nil {
		return nil, err
	}
	if qs, ok := q.(*starlark.List); ok {
		out := make([]starlark.Value, qs.Len())
		for i := range out {
			f, ok := toFloat(qs.Index(i))
			if !ok {
				return nil, fmt.Errorf("percentile: q must be numbers")
			}
			p, err := frame.Percentile(values, f)
			if err != nil {
				return nil, err
			}
			out[i] = starlark.Float(p)
		}
		return starlark.NewList(out), nil
	}
	f, ok := toFloat(q)
	if !ok {
		return nil, fmt.Errorf("percentile: q must be a number")
	}
	p, err := frame.Percentile(values, f)
	if err != nil {
		return nil, err
	}
	return starlark.Float(p), nil
}

// npWhere picks from x where cond holds and from y elsewhere. x and y may
// be scalars or arrays the length of cond.
func npWhere(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cond, x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &cond, &x, &y); err != nil {
		return nil, err
	}
	mask, err := toCells(cond)
	if err != nil {
		return nil, fmt.Errorf("where: condition: %w", err)
	}
	pick := func(v starlark.Value, i int) (any, error) {
		switch a := v.(type) {
		case *Series:
			if a.col.Len() != len(mask) {
				return nil, fmt.Errorf("where: length %d does not match condition length %d", a.col.Len(), len(mask))
			}
			return a.col.Values[i], nil
		case *starlark.List, starlark.Tuple:
			seq := a.(starlark.Indexable)
			if seq.Len() != len(mask) {
				return nil, fmt.Errorf("where: length %d does not match condition length %d", seq.Len(), len(mask))
			}
			return toCell(seq.Index(i))
		}
		return toCell(v)
	}
	out := make([]any, len(mask))
	for i, m := range mask {
		src := y
		if !frame.IsNull(m) && bool(cellValue(m).Truth()) {
			src = x
		}
		if out[i], err = pick(src, i); err != nil {
			return nil, err
		}
	}
	if err := charge(thread, len(out)); err != nil {
		return nil, err
	}
	var index *frame.Column
	if s, ok := cond.(*Series); ok {
		index = s.index
	}
	return newSeries("", out, index), nil
}

func npUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &a); err != nil {
		return nil, err
	}
	values, err := npValues(b.Name(), a)
	if err != nil {
		return nil, err
	}
	uniq := frame.NewColumn("", values).Unique()
	slices.SortStableFunc(uniq, frame.Compare)
	return cellList(uniq), nil
}

// npArray turns a list into a Series so that arithmetic is elementwise.
func npArray(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "object", &a); err != nil {
		return nil, err
	}
	values, err := npValues(b.Name(), a)
	if err != nil {
		return nil, err
	}
	if err := charge(thread, len(values)); err != nil {
		return nil, err
	}
	return newSeries("", slices.Clone(values), nil), nil
}

func npIsnan(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return npMap(b.Name(), x, func(v any) (any, error) { return frame.IsNull(v), nil })
}

// npCast converts a scalar; as a dtype argument to astype it is matched by
// name.
func npCast(kind frame.Kind) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		return npMap(b.Name(), x, func(v any) (any, error) { return frame.CastValue(v, kind) })
	}
}
