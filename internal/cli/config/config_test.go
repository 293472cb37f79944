package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir switches to dir for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(old)
		ResetConfig()
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("data-dir", "", "")
	fs.String("model", "", "")
	fs.String("isolation", "", "")
	fs.String("output", "", "")
	fs.Bool("verbose", false, "")
	return fs
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv(APIKeyEnv, "sk-env")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, DefaultDataDir), cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, DefaultHistoryFile), cfg.History.Path)
	assert.Equal(t, DefaultSampleRows, cfg.SampleRows)
	assert.Equal(t, "duckdb", cfg.Engine.Type)
	assert.Equal(t, llm.DefaultModel, cfg.Model.Name)
	assert.Equal(t, llm.DefaultTimeout, cfg.Model.Timeout)
	assert.InDelta(t, llm.DefaultTemperature, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, llm.DefaultMaxTokens, cfg.Model.MaxTokens)
	assert.Equal(t, "sk-env", cfg.Model.APIKey)
	assert.Equal(t, IsolationProcess, cfg.Sandbox.Isolation)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Limits.Timeout)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Nil(t, cfg.Relationships)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "leapask.yaml"), `
data_dir: csv
sample_rows: 5
datasets:
  - name: orders
    description: Orders
  - name: people
    file: /abs/customers.csv
relationships:
  - "orders.customer_id -> people.customer_id"
model:
  name: gpt-4o-mini
  api_key: ${LEAPASK_TEST_KEY}
  timeout: 30s
sandbox:
  isolation: in-process
  limits:
    timeout: 2s
    max_steps: 1000
history:
  path: state/history.db
`)
	t.Setenv("LEAPASK_TEST_KEY", "sk-file")
	t.Setenv(APIKeyEnv, "")
	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	chdir(t, sub)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "leapask.yaml"), GetConfigFileUsed())
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, "csv"), cfg.DataDir)
	assert.Equal(t, 5, cfg.SampleRows)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, "sk-file", cfg.Model.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
	assert.Equal(t, IsolationInProcess, cfg.Sandbox.Isolation)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Limits.Timeout)
	assert.Equal(t, uint64(1000), cfg.Sandbox.Limits.MaxSteps)
	assert.Equal(t, filepath.Join(dir, "state", "history.db"), cfg.History.Path)
	assert.Equal(t, []dataset.Relationship{
		{FromTable: "orders", FromColumn: "customer_id", ToTable: "people", ToColumn: "customer_id"},
	}, cfg.Relationships)

	assert.Equal(t, []dataset.Source{
		{Name: "orders", File: filepath.Join(dir, "csv", "orders.csv"), Description: "Orders"},
		{Name: "people", File: "/abs/customers.csv"},
	}, cfg.Sources())
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "leapask.yaml"), "model:\n  name: from-file\noutput: markdown\n")
	writeFile(t, filepath.Join(dir, ".env"), "LEAPASK_OUTPUT=json\nOPENAI_API_KEY=sk-dotenv\n")
	chdir(t, dir)
	t.Setenv("LEAPASK_MODEL__NAME", "from-env")
	t.Setenv(APIKeyEnv, "")
	// godotenv only fills variables that are unset.
	require.NoError(t, os.Unsetenv(APIKeyEnv))
	require.NoError(t, os.Unsetenv("LEAPASK_OUTPUT"))
	t.Cleanup(func() {
		_ = os.Unsetenv(APIKeyEnv)
		_ = os.Unsetenv("LEAPASK_OUTPUT")
	})

	t.Run("env over file", func(t *testing.T) {
		cfg, err := LoadConfig("", nil)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Model.Name)
		assert.Equal(t, "json", cfg.OutputFormat)
		assert.Equal(t, "sk-dotenv", cfg.Model.APIKey)
	})

	t.Run("flags over env", func(t *testing.T) {
		fs := newFlags()
		require.NoError(t, fs.Parse([]string{"--model", "from-flag", "--isolation", "in-process", "--data-dir", "flagdata"}))
		cfg, err := LoadConfig("", fs)
		require.NoError(t, err)
		assert.Equal(t, "from-flag", cfg.Model.Name)
		assert.Equal(t, IsolationInProcess, cfg.Sandbox.Isolation)
		assert.Equal(t, filepath.Join(dir, "flagdata"), cfg.DataDir)
	})

	t.Run("unchanged flags are ignored", func(t *testing.T) {
		cfg, err := LoadConfig("", newFlags())
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Model.Name)
		assert.Equal(t, IsolationProcess, cfg.Sandbox.Isolation)
	})
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "bad yaml", content: "model: [", want: "error reading config file"},
		{name: "bad relationship", content: "relationships:\n  - orders.customer_id\n", want: "invalid relationship"},
		{name: "bad duration", content: "model:\n  timeout: soon\n", want: "unable to decode config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "custom.yaml")
			writeFile(t, path, tt.content)
			chdir(t, dir)

			_, err := LoadConfig(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_UnresolvedKeyFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "leapask.yaml"), "model:\n  api_key: ${LEAPASK_NOT_SET_ANYWHERE}\n")
	chdir(t, dir)
	t.Setenv(APIKeyEnv, "sk-fallback")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.Model.APIKey)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir:      "data",
			SampleRows:   3,
			OutputFormat: DefaultOutput,
			Model:        ModelConfig{Name: "gpt-4", Timeout: time.Minute, Temperature: 0.1, MaxTokens: 100},
			Sandbox:      SandboxConfig{Isolation: IsolationProcess},
			Server:       ServerConfig{Addr: "127.0.0.1:8080"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing data dir", mutate: func(c *Config) { c.DataDir = "" }, want: []string{"data_dir is required"}},
		{name: "unknown engine", mutate: func(c *Config) { c.Engine.Type = "oracle" }, want: []string{`unknown adapter type "oracle"`, "duckdb"}},
		{name: "bad isolation", mutate: func(c *Config) { c.Sandbox.Isolation = "vm" }, want: []string{"sandbox.isolation"}},
		{name: "bad output", mutate: func(c *Config) { c.OutputFormat = "xml" }, want: []string{`unknown output format "xml"`}},
		{name: "bad addr", mutate: func(c *Config) { c.Server.Addr = "8080" }, want: []string{"server.addr"}},
		{
			name: "every problem reported",
			mutate: func(c *Config) {
				c.SampleRows = -1
				c.Model.Name = ""
				c.Model.Temperature = 3
				c.Datasets = []dataset.Source{{Name: "a"}, {Name: "a"}, {}}
			},
			want: []string{"sample_rows", "model.name", "model.temperature", `duplicate name "a"`, "datasets[2]: name is required"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			cfg.Engine.Type = "duckdb"
			cfg.Sandbox.Limits.Timeout = time.Second
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.want) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestConfig_ValidateDataDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.csv")
	writeFile(t, file, "a\n1\n")

	assert.NoError(t, (&Config{DataDir: dir}).ValidateDataDir())
	assert.ErrorContains(t, (&Config{DataDir: filepath.Join(dir, "missing")}).ValidateDataDir(), "--data-dir")
	assert.ErrorContains(t, (&Config{DataDir: file}).ValidateDataDir(), "not a directory")
}

func TestConfig_SourcesDefault(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	sources := cfg.Sources()
	require.Len(t, sources, 7)
	assert.Equal(t, "products", sources[0].Name)
	assert.Equal(t, "/data/products.csv", sources[0].File)
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := GetLogger(context.Background())
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
	assert.Equal(t, loggerKey{}, LoggerKey())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LEAPASK_TEST_HOST", "example.com")
	tests := []struct {
		in, want string
	}{
		{"https://${LEAPASK_TEST_HOST}/v1", "https://example.com/v1"},
		{"${LEAPASK_TEST_MISSING}", "${LEAPASK_TEST_MISSING}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnvVars(tt.in))
	}
}
