package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// builtinFunc is the signature shared by toolkit functions and methods.
type builtinFunc = func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func builtinMap(fns map[string]builtinFunc) map[string]*starlark.Builtin {
	out := make(map[string]*starlark.Builtin, len(fns))
	for name, fn := range fns {
		out[name] = starlark.NewBuiltin(name, fn)
	}
	return out
}

func builtinAttr(recv starlark.Value, name string, methods map[string]*starlark.Builtin) (starlark.Value, error) {
	b := methods[name]
	if b == nil {
		return nil, nil
	}
	return b.BindReceiver(recv), nil
}

func builtinAttrNames(methods map[string]*starlark.Builtin) []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// kwargsOf collects keyword arguments into a map. Toolkit functions that
// mirror wide plotting APIs use it to ignore styling options they do not
// model.
func kwargsOf(kwargs []starlark.Tuple) map[string]starlark.Value {
	out := make(map[string]starlark.Value, len(kwargs))
	for _, kv := range kwargs {
		k, _ := starlark.AsString(kv[0])
		out[k] = kv[1]
	}
	return out
}

// checkOptions rejects keyword arguments that would change the result of a
// reduction. allowed maps each accepted name to a test of its value; a nil
// test accepts any value.
func checkOptions(fnname string, kwargs []starlark.Tuple, allowed map[string]func(starlark.Value) bool) error {
	for _, kv := range kwargs {
		k, _ := starlark.AsString(kv[0])
		accepts, known := allowed[k]
		if !known {
			return fmt.Errorf("%s: unexpected keyword argument %q", fnname, k)
		}
		if accepts != nil && !accepts(kv[1]) {
			return fmt.Errorf("%s: unsupported %s=%s", fnname, k, kv[1])
		}
	}
	return nil
}

// firstAxis accepts the axis values that mean "along the only axis" of a
// one-dimensional array.
func firstAxis(v starlark.Value) bool {
	switch x := v.(type) {
	case starlark.NoneType:
		return true
	case starlark.Int:
		n, ok := x.Int64()
		return ok && n == 0
	case starlark.String:
		return x == "index"
	}
	return false
}

func isTrue(v starlark.Value) bool { return v == starlark.True }

func stringArg(kw map[string]starlark.Value, name string) (string, error) {
	v, ok := kw[name]
	if !ok || isNone(v) {
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %s", name, v.Type())
	}
	return s, nil
}

func boolArg(kw map[string]starlark.Value, name string, def bool) bool {
	v, ok := kw[name]
	if !ok || isNone(v) {
		return def
	}
	return bool(v.Truth())
}

func intArg(kw map[string]starlark.Value, name string, def int) (int, error) {
	v, ok := kw[name]
	if !ok || isNone(v) {
		return def, nil
	}
	var n int
	if err := starlark.AsInt(v, &n); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func unhashable(v starlark.Value) (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

// argOrKw returns positional argument i or the named keyword argument.
func argOrKw(args starlark.Tuple, kw map[string]starlark.Value, i int, name string) starlark.Value {
	if i < len(args) {
		return args[i]
	}
	if v, ok := kw[name]; ok {
		return v
	}
	return nil
}
