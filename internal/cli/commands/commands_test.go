// Package commands_test provides tests for CLI command creation.
package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/leapstack-labs/leapask/internal/cli/config"
	clitestutil "github.com/leapstack-labs/leapask/internal/cli/testutil"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupProject creates a project answering with model, makes it the working
// directory and loads its configuration.
func setupProject(t *testing.T, model *testutil.FakeModel) *config.Config {
	t.Helper()
	backend := httptest.NewServer(model)
	t.Cleanup(backend.Close)

	dir := clitestutil.SetupTestProject(t, backend.URL)
	t.Chdir(dir)

	config.ResetConfig()
	t.Cleanup(config.ResetConfig)
	cfg, err := config.LoadConfig("", nil)
	require.NoError(t, err)
	return cfg
}

// execute runs cmd with args and returns its standard and error output.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	// Mirror the root command so failures do not append usage text.
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestExecute_FailureWritesNoUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"--bogus"}} {
		stdout, stderr, err := execute(t, NewAskCommand(), args...)
		require.Error(t, err, args)
		assert.NotContains(t, stdout, "Usage:", args)
		assert.NotContains(t, stderr, "Usage:", args)
	}
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewAskCommand(), "ask <question>", []string{"no-chart", "show-code", "show-prompt", "chart-out", "examples", "max-rows"}},
		{NewREPLCommand(), "repl", []string{"no-chart", "show-code"}},
		{NewDatasetsCommand(), "datasets", nil},
		{NewSchemaCommand(), "schema [dataset]", nil},
		{NewPromptCommand(), "prompt <question>", []string{"no-chart"}},
		{NewHistoryCommand(), "history", []string{"limit"}},
		{NewServeCommand(), "serve", []string{"addr"}},
		{NewMCPCommand("test"), "mcp", nil},
		{NewDoctorCommand(), "doctor", nil},
		{NewInitCommand(), "init [directory]", []string{"force", "example"}},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestDatasetsCommandAlias(t *testing.T) {
	cmd := NewDatasetsCommand()
	assert.Contains(t, cmd.Aliases, "list")
}

func TestSandboxWorkerCommandIsHidden(t *testing.T) {
	cmd := NewSandboxWorkerCommand()
	assert.Equal(t, "sandbox-worker", cmd.Use)
	assert.True(t, cmd.Hidden)
}

func TestDatasetsCommand(t *testing.T) {
	setupProject(t, &testutil.FakeModel{})

	out, _, err := execute(t, NewDatasetsCommand())
	require.NoError(t, err)
	clitestutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Datasets (2 total)")
	assert.Contains(t, out, "## products")
	assert.Contains(t, out, "- **Rows:** 3")
	assert.Contains(t, out, "- **Columns:** order_id, product_id, order_date, quantity")
}

func TestDatasetsCommand_JSON(t *testing.T) {
	cfg := setupProject(t, &testutil.FakeModel{})
	cfg.OutputFormat = "json"

	out, _, err := execute(t, NewDatasetsCommand())
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "orders"`)
	assert.Contains(t, out, `"rows": 4`)
}

func TestDatasetsCommand_MissingDataDir(t *testing.T) {
	cfg := setupProject(t, &testutil.FakeModel{})
	cfg.Datasets = nil
	cfg.DataDir = "does-not-exist"

	_, _, err := execute(t, NewDatasetsCommand())
	assert.ErrorContains(t, err, "--data-dir")
}

func TestSchemaCommand(t *testing.T) {
	setupProject(t, &testutil.FakeModel{})

	out, _, err := execute(t, NewSchemaCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "## products (3 rows)")
	assert.Contains(t, out, "## orders (4 rows)")
	assert.Contains(t, out, "| quantity |")
	assert.Contains(t, out, "- orders.product_id -> products.product_id")

	out, _, err = execute(t, NewSchemaCommand(), "products")
	require.NoError(t, err)
	assert.Contains(t, out, "Products catalog")
	assert.NotContains(t, out, "orders")

	_, _, err = execute(t, NewSchemaCommand(), "customers")
	assert.ErrorContains(t, err, `unknown dataset "customers"`)
}

func TestPromptCommand(t *testing.T) {
	model := &testutil.FakeModel{}
	setupProject(t, model)

	out, _, err := execute(t, NewPromptCommand(), "--no-chart", "Which", "product", "sells", "best?")
	require.NoError(t, err)
	assert.Contains(t, out, "## System")
	assert.Contains(t, out, "## User")
	assert.Contains(t, out, "Which product sells best?")
	assert.Contains(t, out, "Do NOT include visualization code")
	assert.Zero(t, model.Calls(), "prompt must not call the model")

	_, _, err = execute(t, NewPromptCommand())
	assert.Error(t, err)
}
