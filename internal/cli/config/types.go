// Package config provides configuration management for the leapask CLI.
//
// Values are layered from defaults, leapask.yaml, a .env file, LEAPASK_
// environment variables and command line flags, in increasing priority.
package config

import (
	"path/filepath"
	"time"

	"github.com/leapstack-labs/leapask/internal/adapter"
	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/leapstack-labs/leapask/internal/sandbox"
)

// Isolation modes for the sandbox.
const (
	IsolationProcess   = "process"
	IsolationInProcess = "in-process"
)

// Default configuration values.
const (
	DefaultDataDir     = "data"
	DefaultHistoryFile = ".leapask/history.db"
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultIsolation   = IsolationProcess
	DefaultServerAddr  = "127.0.0.1:8080"
	DefaultSampleRows  = 3
	DefaultHistoryRows = 20
)

// DefaultMaxConcurrent bounds the asks the HTTP API runs at once.
const DefaultMaxConcurrent = 4

// ModelConfig configures the code generation backend.
type ModelConfig struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Name        string        `koanf:"name"`
	Timeout     time.Duration `koanf:"timeout"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
}

// SandboxConfig configures program execution.
type SandboxConfig struct {
	Isolation string         `koanf:"isolation"`
	Limits    sandbox.Limits `koanf:"limits"`
	// KillGrace is how long a process worker may overrun its timeout.
	KillGrace time.Duration `koanf:"kill_grace"`
}

// HistoryConfig configures the ask history database.
type HistoryConfig struct {
	Path     string `koanf:"path"`
	Disabled bool   `koanf:"disabled"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr          string `koanf:"addr"`
	MaxConcurrent int    `koanf:"max_concurrent"`
}

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot   string                 `koanf:"-"`
	DataDir       string                 `koanf:"data_dir"`
	Datasets      []dataset.Source       `koanf:"datasets"`
	Relationships []dataset.Relationship `koanf:"relationships"`
	SampleRows    int                    `koanf:"sample_rows"`
	Engine        adapter.Config         `koanf:"engine"`
	Model         ModelConfig            `koanf:"model"`
	Sandbox       SandboxConfig          `koanf:"sandbox"`
	History       HistoryConfig          `koanf:"history"`
	Server        ServerConfig           `koanf:"server"`
	Verbose       bool                   `koanf:"verbose"`
	OutputFormat  string                 `koanf:"output"`
}

// Sources returns the datasets to load. Without an explicit list every
// standard table is read from DataDir. Relative files resolve against DataDir.
func (c *Config) Sources() []dataset.Source {
	if len(c.Datasets) == 0 {
		return dataset.DefaultSources(c.DataDir)
	}
	sources := make([]dataset.Source, len(c.Datasets))
	for i, s := range c.Datasets {
		if s.File == "" {
			s.File = s.Name + ".csv"
		}
		s.File = resolvePathRelativeTo(s.File, c.DataDir)
		sources[i] = s
	}
	return sources
}

// LLMConfig converts the model section for the generator.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		BaseURL: c.Model.BaseURL,
		APIKey:  c.Model.APIKey,
		Model:   c.Model.Name,
		Timeout: c.Model.Timeout,
	}
}

// GenerateOptions returns the sampling parameters for each call.
func (c *Config) GenerateOptions() llm.Options {
	return llm.Options{Temperature: c.Model.Temperature, MaxOutputTokens: c.Model.MaxTokens}
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(baseDir, path)
}
