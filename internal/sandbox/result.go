// Package sandbox runs generated analysis programs against the loaded tables
// with no access to the host.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/frame"
)

// Executor runs a program against a set of tables. Execute never returns an
// error and never panics: every failure is reported in Result.Err.
type Executor interface {
	Execute(ctx context.Context, datasets map[string]*frame.Frame, program string) Result
}

// ErrorKind classifies an execution failure.
type ErrorKind string

// Execution failure kinds.
const (
	KindSyntax    ErrorKind = "syntax"
	KindUndefined ErrorKind = "undefined"
	KindForbidden ErrorKind = "forbidden"
	KindRuntime   ErrorKind = "runtime"
	KindTimeout   ErrorKind = "timeout"
	KindResource  ErrorKind = "resource"
	KindInternal  ErrorKind = "internal"
)

// ExecutionError describes why a program failed. Line is 1-based, or 0 when
// unknown.
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
}

func (e *ExecutionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s error at line %d: %s", e.Kind, e.Line, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Result is the outcome of one execution. A failed execution carries no
// value and no chart.
type Result struct {
	Value Value
	Chart *chart.Figure
	// Output is the captured print output.
	Output string
	// ResultFrom names the global the value was read from.
	ResultFrom string
	Err        *ExecutionError

	Duration time.Duration
	Steps    uint64
	Cells    int64
}

// Failed reports whether the execution failed.
func (r Result) Failed() bool { return r.Err != nil }

func success(v Value, fig *chart.Figure, from, output string) Result {
	return Result{Value: v, Chart: fig, ResultFrom: from, Output: output}
}

func failure(err *ExecutionError, output string) Result {
	return Result{Err: err, Output: output}
}

func errorf(kind ErrorKind, line int, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Line: line, Message: fmt.Sprintf(format, args...)}
}
