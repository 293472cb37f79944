package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/frame"
	lstar "github.com/leapstack-labs/leapask/internal/starlark"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// programFile is the file name programs are compiled under.
const programFile = "analysis.star"

// ErrMemoryLimit is the cancellation cause used when an execution outgrows
// its memory ceiling.
var ErrMemoryLimit = errors.New("memory limit exceeded")

// Limits bound one execution.
type Limits struct {
	Timeout   time.Duration `json:"timeout" koanf:"timeout"`
	MaxSteps  uint64        `json:"max_steps" koanf:"max_steps"`
	MaxCells  int64         `json:"max_cells" koanf:"max_cells"`
	MaxOutput int           `json:"max_output" koanf:"max_output"`
	// MemoryLimitMB applies to process isolation only.
	MemoryLimitMB int `json:"memory_limit_mb" koanf:"memory_limit_mb"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		Timeout:       10 * time.Second,
		MaxSteps:      50_000_000,
		MaxCells:      20_000_000,
		MaxOutput:     64 << 10,
		MemoryLimitMB: 512,
	}
}

// cancelGrace is how long a cancelled program may keep running inside a
// builtin before the runner stops waiting for it.
const cancelGrace = 2 * time.Second

// InProcess runs programs on an interpreter thread inside the current
// process.
type InProcess struct {
	limits Limits
	logger *slog.Logger
}

// NewInProcess creates an in-process runner.
func NewInProcess(limits Limits, logger *slog.Logger) *InProcess {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &InProcess{limits: limits, logger: logger}
}

// Execute implements Executor.
func (r *InProcess) Execute(ctx context.Context, datasets map[string]*frame.Frame, program string) (res Result) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		kind := "ok"
		if res.Err != nil {
			kind = string(res.Err.Kind)
		}
		r.logger.Debug("program executed",
			slog.String("outcome", kind),
			slog.Duration("duration", res.Duration),
			slog.Uint64("steps", res.Steps),
			slog.Int64("cells", res.Cells))
	}()

	src, ierr := normalizeImports(program)
	if ierr != nil {
		return failure(ierr, "")
	}

	ns, err := lstar.NewNamespace(datasets)
	if err != nil {
		return failure(errorf(KindInternal, 0, "%v", err), "")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if r.limits.Timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, r.limits.Timeout)
		defer stop()
	}

	out := &lstar.Output{}
	limits := lstar.Limits{MaxSteps: r.limits.MaxSteps, MaxCells: r.limits.MaxCells, MaxOutput: r.limits.MaxOutput}
	thread, budget := lstar.NewThread("analysis", limits, out)

	// Values are converted inside the recovered goroutine so a failing
	// conversion is reported like any other interpreter panic.
	type outcome struct {
		res   Result
		err   error
		panic any
		stack []byte
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if p := recover(); p != nil {
				o.panic, o.stack = p, debug.Stack()
			}
			done <- o
		}()
		globals, err := ns.Exec(thread, programFile, src)
		if err != nil {
			o.err = err
			return
		}
		o.res = r.collect(ns, globals, out.String())
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		thread.Cancel(context.Cause(ctx).Error())
		select {
		case o = <-done:
		case <-time.After(cancelGrace):
			r.logger.Warn("program did not stop after cancellation")
			return failure(r.cancelled(ctx), out.String())
		}
	}

	defer func() {
		res.Steps = thread.ExecutionSteps()
		res.Cells = budget.Used()
	}()

	if o.panic != nil {
		r.logger.Error("program panicked", slog.Any("panic", o.panic), slog.String("stack", string(o.stack)))
		return failure(errorf(KindInternal, 0, "interpreter panic: %v", o.panic), out.String())
	}
	if o.err != nil {
		if ctx.Err() != nil {
			return failure(r.cancelled(ctx), out.String())
		}
		return failure(r.classify(o.err, thread, limits), out.String())
	}
	return o.res
}

func (r *InProcess) cancelled(ctx context.Context) *ExecutionError {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrMemoryLimit):
		return errorf(KindResource, 0, "%v", cause)
	case errors.Is(cause, context.DeadlineExceeded) && r.limits.Timeout > 0:
		return errorf(KindTimeout, 0, "execution exceeded %s", r.limits.Timeout)
	}
	return errorf(KindTimeout, 0, "execution cancelled: %v", cause)
}

func (r *InProcess) classify(err error, thread *starlark.Thread, limits lstar.Limits) *ExecutionError {
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return errorf(KindSyntax, int(syntaxErr.Pos.Line), "%s", syntaxErr.Msg)
	}
	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		first := resolveErrs[0]
		kind := KindSyntax
		if strings.HasPrefix(first.Msg, "undefined:") {
			kind = KindUndefined
		}
		return errorf(kind, int(first.Pos.Line), "%s", first.Msg)
	}

	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return errorf(KindRuntime, 0, "%v", err)
	}
	line := programLine(evalErr.CallStack)
	switch {
	case lstar.StepsExhausted(thread, limits):
		return errorf(KindResource, line, "step limit of %d exceeded", limits.MaxSteps)
	case errors.Is(err, lstar.ErrBudget):
		return errorf(KindResource, line, "%s", evalErr.Msg)
	case strings.Contains(evalErr.Msg, "load(") && strings.Contains(evalErr.Msg, "not permitted"):
		return errorf(KindForbidden, line, "%s", evalErr.Msg)
	}
	return errorf(KindRuntime, line, "%s", evalErr.Msg)
}

// programLine returns the innermost line of the call stack inside the
// program.
func programLine(stack starlark.CallStack) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Pos.Filename() == programFile {
			return int(stack[i].Pos.Line)
		}
	}
	return 0
}

// collect reads result and fig from the program's globals.
func (r *InProcess) collect(ns *lstar.Namespace, globals starlark.StringDict, output string) Result {
	var fig *chart.Figure
	if v, ok := globals["fig"]; ok {
		if c, ok := lstar.AsChart(v); ok {
			fig = c
		} else if v != starlark.None {
			r.logger.Debug("fig is not a chart", slog.String("type", v.Type()))
		}
	}

	from := "result"
	v, ok := globals["result"]
	if !ok || v == starlark.None {
		from, v = fallbackResult(ns, globals)
	}
	if c, ok := lstar.AsChart(v); ok {
		if fig == nil {
			fig = c
		}
		from, v = "", nil
	}
	if v == nil {
		return success(nil, fig, "", output)
	}
	return success(convert(v), fig, from, output)
}

// fallbackResult picks the alphabetically first global DataFrame that is
// not a dataset.
func fallbackResult(ns *lstar.Namespace, globals starlark.StringDict) (string, starlark.Value) {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if ns.IsDataset(name) || strings.HasPrefix(name, "_") {
			continue
		}
		if df, ok := globals[name].(*lstar.DataFrame); ok {
			return name, df
		}
	}
	return "", nil
}

// convert turns a program value into a Value.
func convert(v starlark.Value) Value {
	if f, ok := lstar.AsTable(v); ok {
		return Table{Frame: f}
	}
	switch x := v.(type) {
	case *starlark.Dict:
		items, err := lstar.ToGo(x)
		if err != nil {
			return Unsupported{TypeName: fmt.Sprintf("dict containing %s", innerType(err))}
		}
		keys := make([]string, 0, x.Len())
		for _, k := range x.Keys() {
			if s, ok := k.(starlark.String); ok {
				keys = append(keys, string(s))
			} else {
				keys = append(keys, k.String())
			}
		}
		return Mapping{Items: items.(map[string]any), Keys: keys}
	case *starlark.List, starlark.Tuple:
		items, err := lstar.ToGo(x)
		if err != nil {
			return Unsupported{TypeName: fmt.Sprintf("%s containing %s", x.Type(), innerType(err))}
		}
		return List{Items: items.([]any)}
	}
	g, err := lstar.ToGo(v)
	if err != nil {
		return Unsupported{TypeName: v.Type()}
	}
	return Scalar{V: g}
}

func innerType(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, "unsupported type: "); i >= 0 {
		return msg[i+len("unsupported type: "):]
	}
	return "unsupported values"
}
