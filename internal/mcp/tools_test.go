package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/leapstack-labs/leapask/internal/testutil"
	goMCP "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(t *testing.T, model *testutil.FakeModel) *pipeline.Pipeline {
	t.Helper()
	backend := httptest.NewServer(model)
	t.Cleanup(backend.Close)

	warehouses, err := frame.New(
		frame.NewColumn("warehouse_id", []any{1, 2}),
		frame.NewColumn("city", []any{"Seattle", "San Diego"}),
		frame.NewColumn("capacity", []any{12000, 8000}),
	)
	require.NoError(t, err)
	reg, err := dataset.New([]*dataset.Dataset{
		{Name: "warehouses", Description: "Warehouse locations", Frame: warehouses},
	}, nil)
	require.NoError(t, err)

	logger := testutil.NewTestLogger(t)
	history := state.NewSQLiteStore(logger)
	require.NoError(t, history.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = history.Close() })

	p, err := pipeline.New(pipeline.Config{
		Registry: reg,
		Model:    llm.Config{BaseURL: backend.URL, APIKey: "test-key", Model: "gpt-test", Timeout: 2 * time.Second},
		History:  history,
		Logger:   logger,
	})
	require.NoError(t, err)
	return p
}

func call(args map[string]any) goMCP.CallToolRequest {
	var req goMCP.CallToolRequest
	req.Params.Arguments = args
	return req
}

func texts(t *testing.T, res *goMCP.CallToolResult) []string {
	t.Helper()
	out := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		tc, ok := c.(goMCP.TextContent)
		require.True(t, ok, "unexpected content %T", c)
		out = append(out, tc.Text)
	}
	return out
}

func TestAskHandler(t *testing.T) {
	tests := []struct {
		name      string
		program   string
		args      map[string]any
		wantError bool
		want      []string
		wantParts int
	}{
		{
			name:      "scalar answer",
			program:   `result = warehouses["capacity"].sum()`,
			args:      map[string]any{"question": "Total capacity?"},
			want:      []string{"## Analysis Result", "20,000"},
			wantParts: 1,
		},
		{
			name:      "program included on request",
			program:   `result = warehouses[warehouses["capacity"].gt(10000)]`,
			args:      map[string]any{"question": "Big warehouses?", "include_code": true},
			want:      []string{"```python\nresult = warehouses", "Seattle", "(1 rows)"},
			wantParts: 1,
		},
		{
			name:      "chart is attached as plotly json",
			program:   `fig = px.bar(warehouses, x="city", y="capacity", title="Capacity")`,
			args:      map[string]any{"question": "Plot capacity"},
			want:      []string{"Visualization"},
			wantParts: 2,
		},
		{
			name:      "execution failure is flagged",
			program:   `result = warehousez`,
			args:      map[string]any{"question": "Broken?"},
			wantError: true,
			want:      []string{"undefined"},
			wantParts: 1,
		},
		{
			name:      "missing question",
			args:      map[string]any{},
			wantError: true,
			want:      []string{"Missing question parameter"},
			wantParts: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, &testutil.FakeModel{Program: tt.program})

			res, err := AskHandler(p)(context.Background(), call(tt.args))
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, res.IsError)
			parts := texts(t, res)
			require.Len(t, parts, tt.wantParts)
			for _, w := range tt.want {
				assert.Contains(t, parts[0], w)
			}
			if tt.wantParts == 2 {
				var fig map[string]any
				require.NoError(t, json.Unmarshal([]byte(parts[1]), &fig))
				assert.Contains(t, fig, "data")
				assert.Contains(t, fig, "layout")
			}
		})
	}
}

func TestAskHandler_NoCharts(t *testing.T) {
	model := &testutil.FakeModel{Program: "result = 1"}
	p := newPipeline(t, model)

	_, err := AskHandler(p)(context.Background(), call(map[string]any{"question": "q", "charts": false}))
	require.NoError(t, err)
	assert.Contains(t, model.LastPrompt(), "Do NOT include visualization code")
}

func TestAskHandler_GenerationFailure(t *testing.T) {
	p := newPipeline(t, &testutil.FakeModel{Status: 401})

	res, err := AskHandler(p)(context.Background(), call(map[string]any{"question": "q"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, texts(t, res)[0], "Ask failed")
}

func TestListDatasetsHandler(t *testing.T) {
	p := newPipeline(t, &testutil.FakeModel{})

	res, err := ListDatasetsHandler(p)(context.Background(), call(nil))
	require.NoError(t, err)
	var got []dataset.Summary
	require.NoError(t, json.Unmarshal([]byte(texts(t, res)[0]), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "warehouses", got[0].Name)
	assert.Equal(t, 2, got[0].Rows)
}

func TestSchemaHandler(t *testing.T) {
	p := newPipeline(t, &testutil.FakeModel{})
	h := SchemaHandler(p)

	res, err := h(context.Background(), call(nil))
	require.NoError(t, err)
	var sc dataset.SchemaContext
	require.NoError(t, json.Unmarshal([]byte(texts(t, res)[0]), &sc))
	require.Len(t, sc.Tables, 1)

	res, err = h(context.Background(), call(map[string]any{"table": "warehouses"}))
	require.NoError(t, err)
	var ts dataset.TableSchema
	require.NoError(t, json.Unmarshal([]byte(texts(t, res)[0]), &ts))
	assert.Equal(t, "city", ts.Columns[1].Name)

	res, err = h(context.Background(), call(map[string]any{"table": "orders"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, texts(t, res)[0], `unknown dataset "orders"`)
}

func TestRecentHandler(t *testing.T) {
	p := newPipeline(t, &testutil.FakeModel{Program: "result = 1"})
	h := RecentHandler(p)

	res, err := h(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", texts(t, res)[0])

	for _, q := range []string{"first", "second"} {
		_, err := p.Ask(context.Background(), q, pipeline.AskOptions{})
		require.NoError(t, err)
	}
	res, err = h(context.Background(), call(map[string]any{"limit": float64(1)}))
	require.NoError(t, err)
	var entries []state.Entry
	require.NoError(t, json.Unmarshal([]byte(texts(t, res)[0]), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Question)
}

func TestServe_Stdio(t *testing.T) {
	p := newPipeline(t, &testutil.FakeModel{})
	s := NewServer(p, "test")

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`,
	}, "\n") + "\n"
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Serve(ctx, s, strings.NewReader(in), &out, testutil.NewTestLogger(t)))

	got := out.String()
	assert.Contains(t, got, `"name":"leapask"`)
	for _, tool := range []string{ToolAsk, ToolListDatasets, ToolGetSchema, ToolRecentAsks} {
		assert.Contains(t, got, `"name":"`+tool+`"`)
	}
}
