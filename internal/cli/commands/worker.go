package commands

import (
	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/spf13/cobra"
)

// NewSandboxWorkerCommand creates the hidden command a process-isolated
// sandbox runs. It reads one request on stdin and writes one response.
func NewSandboxWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    sandbox.WorkerCommand,
		Short:  "Run one sandboxed program (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sandbox.ServeWorker(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), config.GetLogger(cmd.Context()))
		},
	}
}
