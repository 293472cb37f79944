package pipeline

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/leapstack-labs/leapask/internal/result"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingExecutor records whether execution was attempted.
type countingExecutor struct {
	inner sandbox.Executor
	mu    sync.Mutex
	calls int
}

func (c *countingExecutor) Execute(ctx context.Context, datasets map[string]*frame.Frame, program string) sandbox.Result {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Execute(ctx, datasets, program)
}

func testRegistry(t *testing.T) *dataset.Registry {
	t.Helper()
	orders, err := frame.New(
		frame.NewColumn("order_id", []any{1}),
		frame.NewColumn("customer_id", []any{7}),
		frame.NewColumn("order_date", []any{time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC)}),
		frame.NewColumn("total_amount", []any{249.99}),
	)
	require.NoError(t, err)
	customers, err := frame.New(
		frame.NewColumn("customer_id", []any{7}),
		frame.NewColumn("name", []any{"Marina"}),
	)
	require.NoError(t, err)

	reg, err := dataset.New([]*dataset.Dataset{
		{Name: "orders", Description: "Customer orders", Frame: orders},
		{Name: "customers", Description: "Customer records", Frame: customers},
	}, dataset.DefaultRelationships())
	require.NoError(t, err)
	return reg
}

type fixture struct {
	pipeline *Pipeline
	model    *testutil.FakeModel
	executor *countingExecutor
	history  *state.SQLiteStore
}

func newFixture(t *testing.T, model *testutil.FakeModel, timeout time.Duration) *fixture {
	t.Helper()
	srv := httptest.NewServer(model)
	t.Cleanup(srv.Close)

	logger := testutil.NewTestLogger(t)
	history := state.NewSQLiteStore(logger)
	require.NoError(t, history.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = history.Close() })

	limits := sandbox.DefaultLimits()
	limits.Timeout = 5 * time.Second
	exec := &countingExecutor{inner: sandbox.NewInProcess(limits, logger)}

	p, err := New(Config{
		Registry: testRegistry(t),
		Model: llm.Config{
			BaseURL:    srv.URL,
			APIKey:     "test-key",
			Model:      "gpt-test",
			Timeout:    timeout,
			RetryDelay: time.Millisecond,
		},
		Executor: exec,
		History:  history,
		Logger:   logger,
	})
	require.NoError(t, err)
	return &fixture{pipeline: p, model: model, executor: exec, history: history}
}

func lastEntry(t *testing.T, f *fixture) *state.Entry {
	t.Helper()
	entries, err := f.history.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestAsk_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		question string
		program  string
		check    func(t *testing.T, ans *Answer)
	}{
		{
			name:     "sum for a month",
			question: "What is total revenue in March?",
			program:  `result = orders[orders["order_date"].dt.month.eq(3)]["total_amount"].sum()`,
			check: func(t *testing.T, ans *Answer) {
				require.Nil(t, ans.Result.Err)
				assert.Equal(t, sandbox.Scalar{V: 249.99}, ans.Result.Value)
				assert.Equal(t, result.KindScalar, ans.Payload.Kind)
				assert.Equal(t, 249.99, ans.Payload.Scalar)
			},
		},
		{
			name:     "syntax error",
			question: "Break the parser",
			program:  "result = (1 +",
			check: func(t *testing.T, ans *Answer) {
				require.NotNil(t, ans.Result.Err)
				assert.Equal(t, sandbox.KindSyntax, ans.Result.Err.Kind)
				assert.Nil(t, ans.Result.Value)
				assert.Nil(t, ans.Result.Chart)
				assert.Equal(t, result.KindError, ans.Payload.Kind)
			},
		},
		{
			name:     "undefined table",
			question: "How many orderz are there?",
			program:  `result = len(orderz)`,
			check: func(t *testing.T, ans *Answer) {
				require.NotNil(t, ans.Result.Err)
				assert.Equal(t, sandbox.KindUndefined, ans.Result.Err.Kind)
				assert.Contains(t, ans.Result.Err.Message, "orderz")
				assert.Nil(t, ans.Result.Value)
			},
		},
		{
			name:     "chart without result",
			question: "Plot order totals",
			program:  `fig = px.bar(orders, x="order_id", y="total_amount", title="Totals")`,
			check: func(t *testing.T, ans *Answer) {
				require.Nil(t, ans.Result.Err)
				assert.Equal(t, result.KindChart, ans.Payload.Kind)
				assert.True(t, ans.Payload.NoResult)
				assert.Equal(t, result.MessageNoResult, ans.Payload.Message)
				require.NotNil(t, ans.Payload.Chart)
				assert.Equal(t, "Totals", ans.Payload.Chart.Layout.Title)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &testutil.FakeModel{Program: tt.program}, 5*time.Second)

			ans, err := f.pipeline.Ask(context.Background(), tt.question, AskOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.question, ans.Question)
			assert.Equal(t, tt.program, string(ans.Program), "fences are stripped")
			assert.Equal(t, 1, f.executor.calls)
			tt.check(t, ans)

			entry := lastEntry(t, f)
			assert.Equal(t, ans.ID, entry.ID)
			assert.Equal(t, string(ans.Payload.Kind), entry.PayloadKind)
			assert.Equal(t, "gpt-test", entry.Model)
		})
	}
}

func TestAsk_ModelTimeout(t *testing.T) {
	f := newFixture(t, &testutil.FakeModel{Program: "result = 1", Delay: 2 * time.Second}, 50*time.Millisecond)

	ans, err := f.pipeline.Ask(context.Background(), "What is total revenue?", AskOptions{})
	require.Error(t, err)
	assert.Nil(t, ans)

	var genErr *llm.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, llm.KindTimeout, genErr.Kind)
	assert.Zero(t, f.executor.calls, "nothing runs without a program")

	entry := lastEntry(t, f)
	assert.Equal(t, state.StatusGenerationFailed, entry.Status)
	assert.Equal(t, "timeout", entry.ErrorKind)
	assert.Empty(t, entry.PayloadKind)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := newFixture(t, &testutil.FakeModel{Program: "result = 1"}, time.Second)
	for _, q := range []string{"", "   \n"} {
		_, err := f.pipeline.Ask(context.Background(), q, AskOptions{})
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	}
	assert.Empty(t, f.model.LastPrompt(), "the model is not called")
}

func TestAsk_UndisplayableResult(t *testing.T) {
	f := newFixture(t, &testutil.FakeModel{Program: "print('hi')\nresult = len"}, time.Second)

	ans, err := f.pipeline.Ask(context.Background(), "Give me a function", AskOptions{})
	require.NoError(t, err)
	assert.Nil(t, ans.Result.Err, "the program itself succeeded")
	assert.Equal(t, result.KindError, ans.Payload.Kind)
	assert.Equal(t, "adaptation", ans.Payload.ErrorKind)
	assert.Equal(t, "hi\n", ans.Payload.Output)

	entry := lastEntry(t, f)
	assert.Equal(t, state.StatusExecutionFailed, entry.Status)
	assert.Contains(t, entry.Error, "cannot display result")
}

func TestAsk_NoCharts(t *testing.T) {
	f := newFixture(t, &testutil.FakeModel{Program: "result = 1"}, time.Second)

	_, err := f.pipeline.Ask(context.Background(), "Count orders", AskOptions{NoCharts: true})
	require.NoError(t, err)
	assert.Contains(t, f.model.LastPrompt(), "Do NOT include visualization code")

	_, err = f.pipeline.Ask(context.Background(), "Count orders", AskOptions{})
	require.NoError(t, err)
	assert.NotContains(t, f.model.LastPrompt(), "Do NOT include visualization code")
}

func TestMessages_MatchesWhatIsSent(t *testing.T) {
	f := newFixture(t, &testutil.FakeModel{Program: "result = 1"}, time.Second)

	ans, err := f.pipeline.Ask(context.Background(), "Count orders", AskOptions{})
	require.NoError(t, err)
	msgs := f.pipeline.Messages("Count orders", AskOptions{})
	assert.Equal(t, msgs, ans.Messages)
	assert.Equal(t, msgs.User, f.model.LastPrompt())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.EqualError(t, err, "pipeline: no dataset registry")

	_, err = New(Config{Registry: testRegistry(t)})
	assert.ErrorIs(t, err, llm.ErrMissingCredential)
}

func TestAnswer_Report(t *testing.T) {
	ans := &Answer{
		Question:   "Count orders",
		Program:    "result = len(orders)",
		Payload:    &result.Payload{Kind: result.KindScalar, Scalar: int64(1)},
		Generation: 1500 * time.Millisecond,
		Execution:  20 * time.Millisecond,
		Duration:   1530 * time.Millisecond,
	}

	r := ans.Report(false)
	assert.Empty(t, r.Program)
	assert.Equal(t, int64(1500), r.GenerationMS)
	assert.Equal(t, int64(20), r.ExecutionMS)
	assert.Equal(t, int64(1530), r.DurationMS)
	assert.Same(t, ans.Payload, r.Payload)

	assert.Equal(t, llm.Program("result = len(orders)"), ans.Report(true).Program)
}
