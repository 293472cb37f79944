package result

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, p *Payload, opts RenderOptions) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, p, opts))
	return buf.String()
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "table": FormatText, "MD": FormatMarkdown, "json": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.EqualError(t, err, `unknown output format "xml" (want text, markdown or json)`)
}

func TestRender_Text(t *testing.T) {
	p, err := Adapt(sandbox.Result{Value: sandbox.Table{Frame: salesFrame(t)}, Chart: barChart(), Output: "debug line\n", ResultFrom: "top"})
	require.NoError(t, err)

	out := render(t, p, RenderOptions{Format: FormatText})
	assert.Contains(t, out, "Note: no 'result' variable found, using 'top' as the result.")
	assert.Contains(t, out, "Analysis Result:")
	assert.Contains(t, out, "product")
	assert.Contains(t, out, "2,997.50")
	assert.Contains(t, out, "(3 rows)")
	assert.Contains(t, out, "Visualization:")
	assert.Contains(t, out, `chart "Revenue": 1 trace(s) [bar], 2 point(s)`)
	assert.Contains(t, out, "Output:\ndebug line\n")
}

func TestRender_TruncatesRows(t *testing.T) {
	values := make([]any, 60)
	for i := range values {
		values[i] = i
	}
	f, err := frame.New(frame.NewColumn("n", values))
	require.NoError(t, err)
	p, err := Adapt(sandbox.Result{Value: sandbox.Table{Frame: f}})
	require.NoError(t, err)

	out := render(t, p, RenderOptions{})
	assert.Contains(t, out, "(showing 50 of 60 rows)")
	assert.NotContains(t, out, " 55 ")

	out = render(t, p, RenderOptions{MaxRows: -1})
	assert.Contains(t, out, "(60 rows)")
}

func TestRender_Markdown(t *testing.T) {
	p, err := Adapt(sandbox.Result{Value: sandbox.Table{Frame: salesFrame(t)}, Output: "x\n"})
	require.NoError(t, err)

	out := render(t, p, RenderOptions{Format: FormatMarkdown})
	assert.Contains(t, out, "## Analysis Result")
	assert.Contains(t, out, "| product | units | revenue |")
	assert.Contains(t, out, "| Kayak | 3 | 2,997.50 |")
	assert.Contains(t, out, "## Output\n\n```\nx\n```")
}

func TestRender_Kinds(t *testing.T) {
	tests := []struct {
		name string
		p    *Payload
		want []string
	}{
		{
			name: "error with line",
			p:    &Payload{Kind: KindError, Message: "syntax: got newline", Line: 2},
			want: []string{"Error: syntax: got newline (line 2)"},
		},
		{name: "empty", p: &Payload{Kind: KindEmpty, Message: MessageEmpty}, want: []string{"no output produced"}},
		{name: "scalar", p: &Payload{Kind: KindScalar, Scalar: int64(12345)}, want: []string{"Analysis Result:\n12,345\n"}},
		{name: "list", p: &Payload{Kind: KindValue, Value: []any{"a", int64(2)}}, want: []string{"  a\n", "  2\n"}},
		{name: "empty list", p: &Payload{Kind: KindValue, Value: []any{}}, want: []string{"(empty)"}},
		{name: "mapping", p: &Payload{Kind: KindValue, Value: []Entry{{"north", 1.5}}}, want: []string{"  north: 1.50\n"}},
		{name: "chart only", p: &Payload{Kind: KindChart, Message: MessageNoResult, Chart: barChart()}, want: []string{"(no scalar/tabular result)", "Visualization:"}},
		{name: "empty table", p: &Payload{Kind: KindTable, Table: &Table{Columns: []Column{{"a", "int"}}}}, want: []string{"(0 rows)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(t, tt.p, RenderOptions{Format: FormatText})
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestRender_JSON(t *testing.T) {
	p := &Payload{Kind: KindScalar, Scalar: 3.5, ResultFrom: "result"}
	out := render(t, p, RenderOptions{Format: FormatJSON})
	assert.True(t, strings.HasPrefix(out, "{\n  \"kind\": \"scalar\""))

	var back map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, 3.5, back["scalar"])
}

func TestRender_UnknownFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, &Payload{Kind: KindEmpty}, RenderOptions{Format: "xml"})
	assert.Error(t, err)
}
