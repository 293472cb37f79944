package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// EnvPrefix prefixes every environment override. A double underscore
// separates nested keys: LEAPASK_MODEL__NAME sets model.name.
const EnvPrefix = "LEAPASK_"

// APIKeyEnv is read when no api key is configured.
const APIKeyEnv = "OPENAI_API_KEY"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

var configNames = []string{"leapask.yaml", "leapask.yml"}

// flagKeys maps flags whose names differ from their config keys.
var flagKeys = map[string]string{
	"model":     "model.name",
	"isolation": "sandbox.isolation",
	"history":   "history.path",
	"addr":      "server.addr",
}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// configExistsIn returns the config file in dir, if any.
func configExistsIn(dir string) string {
	for _, name := range configNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a leapask config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if found := configExistsIn(dir); found != "" {
			return found
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

func defaults() map[string]any {
	limits := sandbox.DefaultLimits()
	return map[string]any{
		"data_dir":                       DefaultDataDir,
		"sample_rows":                    DefaultSampleRows,
		"engine.type":                    "duckdb",
		"model.base_url":                 llm.DefaultBaseURL,
		"model.name":                     llm.DefaultModel,
		"model.timeout":                  llm.DefaultTimeout,
		"model.temperature":              llm.DefaultTemperature,
		"model.max_tokens":               llm.DefaultMaxTokens,
		"sandbox.isolation":              DefaultIsolation,
		"sandbox.kill_grace":             sandbox.DefaultKillGrace,
		"sandbox.limits.timeout":         limits.Timeout,
		"sandbox.limits.max_steps":       limits.MaxSteps,
		"sandbox.limits.max_cells":       limits.MaxCells,
		"sandbox.limits.max_output":      limits.MaxOutput,
		"sandbox.limits.memory_limit_mb": limits.MemoryLimitMB,
		"history.path":                   DefaultHistoryFile,
		"server.addr":                    DefaultServerAddr,
		"server.max_concurrent":          DefaultMaxConcurrent,
		"verbose":                        false,
		"output":                         DefaultOutput,
	}
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > .env file > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file. Its directory anchors relative paths.
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	projectRoot := cwd
	configFileUsed = cfgFile
	if configFileUsed == "" {
		configFileUsed = findConfigUpward(cwd)
	}
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
		if abs, err := filepath.Abs(configFileUsed); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}

	// 3. .env next to the config file, never overriding the real environment
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	// 4. Load environment variables (LEAPASK_ prefix)
	// Transform: LEAPASK_MODEL__BASE_URL -> model.base_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Load flags (highest priority - overrides env vars and config file)
	flagPaths := map[string]bool{}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if key == "data_dir" || key == "history.path" {
				flagPaths[key] = true
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 6. Unmarshal into Config struct
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				relationshipHook(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 7. Resolve paths. Flag values are relative to the working directory,
	// everything else to the project root.
	cfg.ProjectRoot = projectRoot
	cfg.DataDir = resolvePathRelativeTo(cfg.DataDir, baseFor(flagPaths["data_dir"], cwd, projectRoot))
	cfg.History.Path = resolvePathRelativeTo(cfg.History.Path, baseFor(flagPaths["history.path"], cwd, projectRoot))
	cfg.Engine.Path = resolvePathRelativeTo(cfg.Engine.Path, projectRoot)

	// 8. Credentials: ${VAR} expansion, then the conventional variable
	cfg.Model.APIKey = expandEnvVars(cfg.Model.APIKey)
	cfg.Model.BaseURL = expandEnvVars(cfg.Model.BaseURL)
	if cfg.Model.APIKey == "" || envVarRe.MatchString(cfg.Model.APIKey) {
		cfg.Model.APIKey = os.Getenv(APIKeyEnv)
	}

	currentConfig = &cfg
	return &cfg, nil
}

func baseFor(fromFlag bool, cwd, projectRoot string) string {
	if fromFlag {
		return cwd
	}
	return projectRoot
}

// relationshipHook decodes "orders.customer_id -> customers.customer_id"
// strings into relationships.
func relationshipHook() mapstructure.DecodeHookFuncType {
	relType := reflect.TypeOf(dataset.Relationship{})
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != relType {
			return data, nil
		}
		return dataset.ParseRelationship(data.(string))
	}
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
func LoggerKey() any {
	return loggerKey{}
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}
