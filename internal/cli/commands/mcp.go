package commands

import (
	"github.com/leapstack-labs/leapask/internal/mcp"
	"github.com/spf13/cobra"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the Model Context Protocol server",
		Long: `Start an MCP server for AI assistants.

The server communicates over stdin/stdout using JSON-RPC and offers these tools:
  ask_question       Answer a question about the datasets
  list_datasets      List datasets with row counts and columns
  get_schema         Column types and relationships
  recent_questions   Recently asked questions`,
		Example: `  # Start the MCP server (usually launched by an assistant)
  leapask mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cmdCtx.Close()

			p, err := cmdCtx.Pipeline(cmd.Context())
			if err != nil {
				return err
			}
			s := mcp.NewServer(p, version)
			return mcp.Serve(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout(), cmdCtx.Logger)
		},
	}
	return cmd
}
