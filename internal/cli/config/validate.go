package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/leapstack-labs/leapask/internal/adapter"
	"github.com/leapstack-labs/leapask/internal/result"
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.SampleRows < 0 {
		errs = append(errs, fmt.Errorf("sample_rows must not be negative, got %d", c.SampleRows))
	}
	if _, ok := adapter.Get(c.Engine.Type); !ok {
		errs = append(errs, &adapter.UnknownAdapterError{Type: c.Engine.Type, Available: adapter.ListAdapters()})
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("model.timeout must be positive, got %s", c.Model.Timeout))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature must be between 0 and 2, got %g", c.Model.Temperature))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("model.max_tokens must be positive, got %d", c.Model.MaxTokens))
	}
	switch c.Sandbox.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		errs = append(errs, fmt.Errorf("sandbox.isolation must be %q or %q, got %q", IsolationProcess, IsolationInProcess, c.Sandbox.Isolation))
	}
	if c.Sandbox.Limits.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.limits.timeout must be positive, got %s", c.Sandbox.Limits.Timeout))
	}
	if c.OutputFormat != DefaultOutput {
		if _, err := result.ParseFormat(c.OutputFormat); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			errs = append(errs, fmt.Errorf("server.addr: %w", err))
		}
	}
	if c.Server.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent must not be negative, got %d", c.Server.MaxConcurrent))
	}
	seen := make(map[string]bool, len(c.Datasets))
	for i, s := range c.Datasets {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("datasets[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("datasets[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
	}
	return errors.Join(errs...)
}

// ValidateDataDir checks that the data directory exists.
func (c *Config) ValidateDataDir() error {
	info, err := os.Stat(c.DataDir)
	if err != nil {
		return fmt.Errorf("data directory does not exist: %s\nHint: Create the directory or use --data-dir to specify a different path", c.DataDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("data directory is not a directory: %s", c.DataDir)
	}
	return nil
}
