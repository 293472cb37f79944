package starlark

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/starlark"
)

// ErrBudget is returned when a program materializes more table cells than
// its execution allows.
var ErrBudget = errors.New("cell budget exceeded")

// Thread-local keys.
const (
	budgetKey = "leapask.budget"
	plotKey   = "leapask.plot"
)

// Limits bounds a single execution.
type Limits struct {
	// MaxSteps caps interpreter steps; 0 means unlimited.
	MaxSteps uint64
	// MaxCells caps the total number of table cells produced by toolkit
	// operations; 0 means unlimited.
	MaxCells int64
	// MaxOutput caps captured print output in bytes; 0 means unlimited.
	MaxOutput int
}

// Budget tracks the cells materialized by one execution.
type Budget struct {
	limit int64
	used  int64
}

// NewBudget returns a budget of limit cells. A zero limit is unbounded.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Charge records n cells, failing with ErrBudget once the limit is crossed.
func (b *Budget) Charge(n int) error {
	if b == nil || b.limit <= 0 {
		return nil
	}
	b.used += int64(n)
	if b.used > b.limit {
		return fmt.Errorf("%w: %d cells materialized, limit is %d", ErrBudget, b.used, b.limit)
	}
	return nil
}

// Remaining returns the cells left, or -1 when unbounded.
func (b *Budget) Remaining() int64 {
	if b == nil || b.limit <= 0 {
		return -1
	}
	return max(b.limit-b.used, 0)
}

// Used returns the cells charged so far.
func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used
}

func budgetOf(thread *starlark.Thread) *Budget {
	if thread == nil {
		return nil
	}
	b, _ := thread.Local(budgetKey).(*Budget)
	return b
}

// charge bills the cells of a newly built table to the thread's budget.
func charge(thread *starlark.Thread, cells int) error {
	return budgetOf(thread).Charge(cells)
}

// Output collects print output up to a byte limit.
type Output struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func (o *Output) write(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.truncated {
		return
	}
	if o.limit > 0 && o.buf.Len()+len(line)+1 > o.limit {
		o.buf.WriteString(line[:max(0, min(len(line), o.limit-o.buf.Len()))])
		o.buf.WriteString("\n... output truncated\n")
		o.truncated = true
		return
	}
	o.buf.WriteString(line)
	o.buf.WriteByte('\n')
}

// String returns the captured output.
func (o *Output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

// NewThread creates a thread for one execution. Print output goes to out,
// toolkit operations charge the returned budget, and load() is refused.
func NewThread(name string, limits Limits, out *Output) (*starlark.Thread, *Budget) {
	if out != nil && out.limit == 0 {
		out.limit = limits.MaxOutput
	}
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			if out != nil {
				out.write(msg)
			}
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load(%q) is not permitted", module)
		},
	}
	if limits.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(limits.MaxSteps)
	}
	budget := NewBudget(limits.MaxCells)
	thread.SetLocal(budgetKey, budget)
	thread.SetLocal(plotKey, &plotState{})
	return thread, budget
}

// StepsExhausted reports whether the thread stopped because it ran out of
// execution steps.
func StepsExhausted(thread *starlark.Thread, limits Limits) bool {
	return limits.MaxSteps > 0 && thread.ExecutionSteps() >= limits.MaxSteps
}
