package starlark

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// FileOptions are the dialect options programs are compiled with. Top-level
// control flow and global reassignment are allowed so that notebook-style
// analysis code runs unchanged.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// datasetsName is the predeclared dict the dataset globals are initialized
// from. It is not a valid identifier, so only the generated bindings can
// refer to it.
const datasetsName = "datasets#"

// preludeRef is how the generated binding source spells datasetsName before
// the reference is renamed.
const preludeRef = "__datasets__"

// Namespace holds the globals one program starts with: a DataFrame per
// dataset plus the toolkit. A Namespace must not be shared between
// executions; every DataFrame in it is a fresh wrapper over an immutable
// frame.
type Namespace struct {
	datasets []string
	globals  starlark.StringDict
}

// NewNamespace binds each dataset under its name next to the toolkit. A
// dataset named like a toolkit binding is rejected.
func NewNamespace(datasets map[string]*frame.Frame) (*Namespace, error) {
	globals := Predeclared()
	names := make([]string, 0, len(datasets))
	for name, f := range datasets {
		if _, taken := globals[name]; taken {
			return nil, fmt.Errorf("dataset %q conflicts with builtin", name)
		}
		if f == nil {
			return nil, fmt.Errorf("dataset %q has no data", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	byName := starlark.NewDict(len(names))
	for _, name := range names {
		df := NewDataFrame(datasets[name])
		globals[name] = df
		_ = byName.SetKey(starlark.String(name), df)
	}
	globals[datasetsName] = byName
	return &Namespace{datasets: names, globals: globals}, nil
}

// Globals returns the predeclared bindings.
func (ns *Namespace) Globals() starlark.StringDict {
	return ns.globals
}

// Datasets returns the dataset names, sorted.
func (ns *Namespace) Datasets() []string {
	return slices.Clone(ns.datasets)
}

// IsDataset reports whether name is bound to a dataset.
func (ns *Namespace) IsDataset(name string) bool {
	_, found := slices.BinarySearch(ns.datasets, name)
	return found
}

// Exec compiles and runs src on thread. The returned globals are the
// program's top-level bindings, datasets included; other predeclared names
// are not.
//
// Datasets are bound as module globals by statements placed ahead of the
// program, so a program may rebind a dataset name (orders = orders[...])
// without reading an unassigned global.
func (ns *Namespace) Exec(thread *starlark.Thread, filename, src string) (starlark.StringDict, error) {
	f, err := FileOptions.Parse(filename, src, 0)
	if err != nil {
		return nil, err
	}
	if len(ns.datasets) > 0 {
		// Parsed under the program's file name: the top-level frame takes its
		// file from the first statement.
		prelude, err := FileOptions.Parse(filename, ns.prelude(), 0)
		if err != nil {
			return nil, fmt.Errorf("dataset bindings: %w", err)
		}
		for _, stmt := range prelude.Stmts {
			hideDatasetsRef(stmt)
		}
		f.Stmts = append(prelude.Stmts, f.Stmts...)
	}
	prog, err := starlark.FileProgram(f, ns.globals.Has)
	if err != nil {
		return nil, err
	}
	globals, err := prog.Init(thread, ns.globals)
	globals.Freeze()
	return globals, err
}

func (ns *Namespace) prelude() string {
	var sb strings.Builder
	for _, name := range ns.datasets {
		fmt.Fprintf(&sb, "%s = %s[%q]\n", name, preludeRef, name)
	}
	return sb.String()
}

// hideDatasetsRef points a generated binding at datasetsName.
func hideDatasetsRef(stmt syntax.Stmt) {
	assign, ok := stmt.(*syntax.AssignStmt)
	if !ok {
		return
	}
	if index, ok := assign.RHS.(*syntax.IndexExpr); ok {
		if id, ok := index.X.(*syntax.Ident); ok && id.Name == preludeRef {
			id.Name = datasetsName
		}
	}
}

// Eval evaluates a single expression against the namespace.
func (ns *Namespace) Eval(thread *starlark.Thread, expr string) (starlark.Value, error) {
	return starlark.EvalOptions(FileOptions, thread, "<expr>", expr, ns.globals)
}
