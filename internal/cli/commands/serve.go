package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ask API over HTTP",
		Long: `Start a local HTTP server answering questions as JSON.

Endpoints:
  GET  /healthz              Liveness and model name
  GET  /api/datasets         Datasets with row counts and columns
  GET  /api/datasets/{name}  One dataset
  GET  /api/schema           Column types and relationships
  GET  /api/examples         Example questions
  POST /api/ask              {"question": "...", "charts": true, "code": false}
  GET  /api/asks             Recent questions (?limit=N)
  GET  /api/asks/{id}        One recorded question`,
		Example: `  # Serve on the configured address
  leapask serve

  # Serve on another port
  leapask serve --addr 127.0.0.1:9090

  # Ask a question
  curl -s localhost:8080/api/ask -d '{"question": "How many orders were delivered?"}'`,
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
			srv := server.New(server.Config{
				Pipeline:      p,
				Addr:          cmdCtx.Cfg.Server.Addr,
				MaxConcurrent: cmdCtx.Cfg.Server.MaxConcurrent,
				Logger:        cmdCtx.Logger,
			})

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Serving %d datasets on http://%s\n", len(p.Registry().Names()), cmdCtx.Cfg.Server.Addr)
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop")
			return srv.Serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "Address to listen on (default: "+config.DefaultServerAddr+")")
	return cmd
}
