package commands

import (
	"context"
	"testing"

	clitestutil "github.com/leapstack-labs/leapask/internal/cli/testutil"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, model *testutil.FakeModel) (*replSession, *clitestutil.TestRenderer) {
	t.Helper()
	setupProject(t, model)

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmdCtx, err := NewCommandContext(cmd)
	require.NoError(t, err)
	t.Cleanup(cmdCtx.Close)

	p, err := cmdCtx.Pipeline(context.Background())
	require.NoError(t, err)

	tr := clitestutil.NewTestRendererMarkdown()
	return &replSession{p: p, r: tr.Renderer}, tr
}

func TestREPLSession_DotCommands(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		keepOn   bool
		wantOut  string
		wantErr  string
		validate func(t *testing.T, s *replSession)
	}{
		{name: "blank line", line: "   ", keepOn: true},
		{name: "quit", line: ".quit", keepOn: false},
		{name: "exit", line: ".EXIT", keepOn: false},
		{name: "help", line: ".help", keepOn: true, wantOut: ".schema <name>"},
		{name: "datasets", line: ".datasets", keepOn: true, wantOut: "# Datasets (2 total)"},
		{name: "schema", line: ".schema orders", keepOn: true, wantOut: "## orders (4 rows)"},
		{name: "schema without name", line: ".schema", keepOn: true, wantErr: "usage: .schema <dataset>"},
		{name: "schema unknown", line: ".schema customers", keepOn: true, wantErr: `unknown dataset "customers"`},
		{name: "examples", line: ".examples", keepOn: true, wantOut: "?"},
		{
			name: "code on", line: ".code on", keepOn: true,
			validate: func(t *testing.T, s *replSession) { assert.True(t, s.opts.ShowCode) },
		},
		{
			name: "charts off", line: ".charts off", keepOn: true,
			validate: func(t *testing.T, s *replSession) { assert.True(t, s.opts.NoChart) },
		},
		{name: "bad switch", line: ".code maybe", keepOn: true, wantErr: `expected on or off, got "maybe"`},
		{name: "bad history count", line: ".history zero", keepOn: true, wantErr: "usage: .history [count]"},
		{name: "empty history", line: ".history", keepOn: true, wantOut: "No questions asked yet."},
		{name: "unknown", line: ".frobnicate", keepOn: true, wantErr: "unknown command: .frobnicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tr := newTestSession(t, &testutil.FakeModel{})

			assert.Equal(t, tt.keepOn, s.handle(context.Background(), tt.line))
			if tt.wantOut != "" {
				assert.Contains(t, tr.Output(), tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, tr.ErrorOutput(), tt.wantErr)
			} else {
				assert.Empty(t, tr.ErrorOutput())
			}
			if tt.validate != nil {
				tt.validate(t, s)
			}
		})
	}
}

func TestREPLSession_Question(t *testing.T) {
	model := &testutil.FakeModel{Program: `result = orders["quantity"].sum()`}
	s, tr := newTestSession(t, model)
	ctx := context.Background()

	require.True(t, s.handle(ctx, ".code on"))
	require.True(t, s.handle(ctx, ".charts off"))
	require.True(t, s.handle(ctx, "How many units were sold?"))

	out := tr.Output()
	assert.Contains(t, out, "## Generated Code")
	assert.Contains(t, out, "## Analysis Result")
	assert.Contains(t, model.LastPrompt(), "Do NOT include visualization code")
	assert.Equal(t, 1, model.Calls())

	require.True(t, s.handle(ctx, ".history 5"))
	assert.Contains(t, tr.Output(), "How many units were sold?")
}

func TestREPLSession_GenerationErrorKeepsGoing(t *testing.T) {
	s, tr := newTestSession(t, &testutil.FakeModel{Status: 401})

	assert.True(t, s.handle(context.Background(), "Anything?"))
	assert.Contains(t, tr.ErrorOutput(), "auth")
}

func TestParseSwitch(t *testing.T) {
	for _, in := range []string{"on", "TRUE", "yes"} {
		got, err := parseSwitch(in)
		require.NoError(t, err)
		assert.True(t, got, in)
	}
	for _, in := range []string{"off", "false", "No"} {
		got, err := parseSwitch(in)
		require.NoError(t, err)
		assert.False(t, got, in)
	}
	_, err := parseSwitch("sometimes")
	assert.Error(t, err)
}
