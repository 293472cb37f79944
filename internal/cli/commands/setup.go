package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands. Datasets,
// history and the pipeline are opened on demand.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer

	registry *dataset.Registry
	history  state.Store
	closers  []func() error
}

// NewCommandContext creates a CommandContext with a renderer for the
// configured output mode. Close must be called when done.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}, nil
}

// getConfig returns the configuration loaded by the root command, loading
// it from the working directory when a command runs on its own.
func getConfig() (*config.Config, error) {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg, nil
	}
	return config.LoadConfig("", nil)
}

// Close releases everything the context opened.
func (c *CommandContext) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Debug("close failed", slog.String("error", err.Error()))
		}
	}
	c.closers = nil
}

// Registry validates the configuration and loads every dataset.
func (c *CommandContext) Registry(ctx context.Context) (*dataset.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}
	if err := c.Cfg.Validate(); err != nil {
		return nil, err
	}
	if len(c.Cfg.Datasets) == 0 {
		if err := c.Cfg.ValidateDataDir(); err != nil {
			return nil, err
		}
	}
	reg, err := dataset.Load(ctx, c.Cfg.Sources(), dataset.Options{
		SampleRows:    c.Cfg.SampleRows,
		Relationships: c.Cfg.Relationships,
		Adapter:       c.Cfg.Engine,
		Logger:        c.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.registry = reg
	return reg, nil
}

// History opens the ask history database. A disabled history is a store
// that keeps nothing.
func (c *CommandContext) History(ctx context.Context) (state.Store, error) {
	if c.history != nil {
		return c.history, nil
	}
	if c.Cfg.History.Disabled {
		c.history = state.Nop{}
		return c.history, nil
	}
	if dir := filepath.Dir(c.Cfg.History.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(ctx, c.Cfg.History.Path); err != nil {
		return nil, err
	}
	c.history = store
	c.closers = append(c.closers, store.Close)
	return store, nil
}

// Pipeline loads the datasets and wires them to the model, the executor
// and the history. A history that cannot be opened is reported and skipped.
func (c *CommandContext) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	reg, err := c.Registry(ctx)
	if err != nil {
		return nil, err
	}
	history, err := c.History(ctx)
	if err != nil {
		c.Renderer.Warning(fmt.Sprintf("ask history disabled: %v", err))
		history = state.Nop{}
	}
	exec, err := newExecutor(c.Cfg, c.Logger)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Registry:        reg,
		Model:           c.Cfg.LLMConfig(),
		GenerateOptions: c.Cfg.GenerateOptions(),
		Executor:        exec,
		History:         history,
		Logger:          c.Logger,
	})
}

func newExecutor(cfg *config.Config, logger *slog.Logger) (sandbox.Executor, error) {
	if cfg.Sandbox.Isolation == config.IsolationInProcess {
		return sandbox.NewInProcess(cfg.Sandbox.Limits, logger), nil
	}
	return sandbox.NewProcess(sandbox.ProcessConfig{
		Limits:    cfg.Sandbox.Limits,
		KillGrace: cfg.Sandbox.KillGrace,
	}, logger)
}
