package starlark

import (
	"fmt"
	"math"
	"slices"

	"github.com/leapstack-labs/leapask/internal/frame"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ToolkitNames lists the globals every program sees besides its datasets.
var ToolkitNames = []string{"math", "np", "pd", "plt", "px", "round", "sns", "sum"}

// keywords holds the Starlark keywords and the words the scanner reserves.
var keywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true,
	"else": true, "for": true, "if": true, "in": true, "lambda": true,
	"load": true, "not": true, "or": true, "pass": true, "return": true,
	"while": true,

	"as": true, "assert": true, "async": true, "await": true, "class": true,
	"del": true, "except": true, "finally": true, "from": true, "global": true,
	"import": true, "is": true, "nonlocal": true, "raise": true, "try": true,
	"with": true, "yield": true,
}

// IsKeyword reports whether name cannot appear as an identifier in a program.
func IsKeyword(name string) bool { return keywords[name] }

// IsBuiltin reports whether binding name as a global would shadow a toolkit
// or universe builtin such as len or None.
func IsBuiltin(name string) bool {
	return slices.Contains(ToolkitNames, name) || starlark.Universe.Has(name)
}

// Predeclared returns the toolkit globals. Modules are built per call so
// that no state is shared between executions.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"pd":    pandasModule(),
		"np":    numpyModule(),
		"px":    expressModule(),
		"plt":   pyplotModule(),
		"sns":   seabornModule(),
		"math":  starlarkmath.Module,
		"round": starlark.NewBuiltin("round", builtinRound),
		"sum":   starlark.NewBuiltin("sum", builtinSum),
	}
}

// AsTable returns the table held by a DataFrame or Series value.
func AsTable(v starlark.Value) (*frame.Frame, bool) {
	switch x := v.(type) {
	case *DataFrame:
		return x.frame, true
	case *Series:
		return x.Frame(), true
	}
	return nil, false
}

// builtinRound follows Python: round(x) is an int, round(x, n) keeps the
// type of x, and halves round to even.
func builtinRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, ndigits starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}
	digits := 0
	if !isNone(ndigits) {
		if err := starlark.AsInt(ndigits, &digits); err != nil {
			return nil, fmt.Errorf("round: ndigits: %w", err)
		}
	}
	switch v := x.(type) {
	case starlark.Int:
		return v, nil
	case starlark.Float:
		f := float64(v)
		if isNone(ndigits) {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("round: cannot convert %v to integer", f)
			}
			return starlark.NumberToInt(starlark.Float(math.RoundToEven(f)))
		}
		return starlark.Float(roundTo(f, digits)), nil
	case *Series:
		return v.mapCells(func(c any) (any, error) {
			if f, ok := c.(float64); ok {
				return roundTo(f, digits), nil
			}
			return c, nil
		})
	}
	return nil, fmt.Errorf("round: unsupported type %s", x.Type())
}

// builtinSum adds the items of an iterable to start. A Series sums its
// non-null values.
func builtinSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	if s, ok := iterable.(*Series); ok {
		total, err := frame.Reduce("sum", s.col.Values)
		if err != nil {
			return nil, err
		}
		return starlark.Binary(syntax.PLUS, start, cellValue(total))
	}
	acc := start
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		next, err := starlark.Binary(syntax.PLUS, acc, item)
		if err != nil {
			return nil, fmt.Errorf("sum: %w", err)
		}
		acc = next
	}
	return acc, nil
}
