// Package starlark provides the restricted Starlark environment that runs
// generated analysis programs: namespaces, execution threads and the data
// toolkit (pd, np, px, plt, sns) exposed to programs.
package starlark

import (
	"fmt"
	"slices"
	"time"

	"github.com/leapstack-labs/leapask/internal/frame"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// GoToStarlark converts a Go value to a Starlark value.
// Supported types: nil, string, int, int64, float64, bool, time.Time,
// []string, []any, map[string]any and *frame.Frame.
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case time.Time:
		return startime.Time(val), nil

	case *frame.Frame:
		return NewDataFrame(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := GoToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// maxNesting bounds how deeply lists, tuples and dicts may nest in a value
// converted by ToGo.
const maxNesting = 256

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, time.Time, []any, map[string]any,
// or nil. Dict keys that are not strings are formatted with their Starlark
// representation. A list or dict that contains itself is an error.
func ToGo(v starlark.Value) (any, error) {
	c := &goConverter{active: map[starlark.Value]bool{}}
	return c.convert(v, 0)
}

// goConverter tracks the containers on the current conversion path.
type goConverter struct {
	active map[starlark.Value]bool
}

func (c *goConverter) enter(v starlark.Value, depth int) error {
	if depth >= maxNesting {
		return fmt.Errorf("unsupported type: %s nested deeper than %d", v.Type(), maxNesting)
	}
	switch v.(type) {
	case *starlark.List, *starlark.Dict:
		if c.active[v] {
			return fmt.Errorf("unsupported type: cyclic %s", v.Type())
		}
		c.active[v] = true
	}
	return nil
}

func (c *goConverter) leave(v starlark.Value) {
	delete(c.active, v)
}

func (c *goConverter) convert(v starlark.Value, depth int) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			f, _ := starlark.AsFloat(val)
			return f, nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case startime.Time:
		return time.Time(val), nil

	case *starlark.List:
		if err := c.enter(val, depth); err != nil {
			return nil, err
		}
		defer c.leave(val)
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := c.convert(val.Index(i), depth+1)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case starlark.Tuple:
		if err := c.enter(val, depth); err != nil {
			return nil, err
		}
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := c.convert(val.Index(i), depth+1)
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		if err := c.enter(val, depth); err != nil {
			return nil, err
		}
		defer c.leave(val)
		result := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				key = starlark.String(item[0].String())
			}
			gv, err := c.convert(item[1], depth+1)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported type: %s", v.Type())
	}
}

// cellValue converts a frame cell to its Starlark form. Missing cells become
// None except NaN floats, which stay floats.
func cellValue(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case int64:
		return starlark.MakeInt64(x)
	case float64:
		return starlark.Float(x)
	case string:
		return starlark.String(x)
	case time.Time:
		return startime.Time(x)
	default:
		return starlark.String(fmt.Sprint(x))
	}
}

// toCell converts a scalar Starlark value into a frame cell.
func toCell(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if n, ok := x.Int64(); ok {
			return n, nil
		}
		f, _ := starlark.AsFloat(x)
		return f, nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case startime.Time:
		return time.Time(x), nil
	case startime.Duration:
		// Durations are day counts, matching timestamp differences.
		return time.Duration(x).Hours() / 24, nil
	}
	return nil, fmt.Errorf("unsupported cell value of type %s", v.Type())
}

// toCells converts a list, tuple, Series or other iterable into frame cells.
func toCells(v starlark.Value) ([]any, error) {
	switch x := v.(type) {
	case *Series:
		return x.col.Values, nil
	case starlark.String:
		return nil, fmt.Errorf("expected a list of values, got string")
	case starlark.Iterable:
		var out []any
		iter := x.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			c, err := toCell(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of values, got %s", v.Type())
}

// toStrings accepts a string or a sequence of strings.
func toStrings(v starlark.Value) ([]string, error) {
	if s, ok := starlark.AsString(v); ok {
		return []string{s}, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a string or list of strings, got %s", v.Type())
	}
	var out []string
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		s, ok := starlark.AsString(item)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %s", item.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

// toFloat accepts Starlark numbers and bools.
func toFloat(v starlark.Value) (float64, bool) {
	if b, ok := v.(starlark.Bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return starlark.AsFloat(v)
}

func isNone(v starlark.Value) bool {
	return v == nil || v == starlark.None
}

func stringList(values []string) *starlark.List {
	out := make([]starlark.Value, len(values))
	for i, s := range values {
		out[i] = starlark.String(s)
	}
	return starlark.NewList(out)
}

func cellList(values []any) *starlark.List {
	out := make([]starlark.Value, len(values))
	for i, v := range values {
		out[i] = cellValue(v)
	}
	return starlark.NewList(out)
}
