package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently asked questions",
		Long: `List recently asked questions with their outcome and timings, newest first.
Generated programs are never stored.`,
		Example: `  leapask history
  leapask history -n 5 -o json
  leapask history show 3f1c2a9e-5b1d-4c9a-9a8e-0d6b1f2e7c44`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cmdCtx.Close()

			store, err := cmdCtx.History(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if cmdCtx.Renderer.EffectiveMode() == output.ModeJSON {
				if entries == nil {
					entries = []*state.Entry{}
				}
				return cmdCtx.Renderer.JSON(entries)
			}
			renderHistoryList(cmdCtx.Renderer, entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", config.DefaultHistoryRows, "Number of questions to show")
	cmd.AddCommand(newHistoryShowCommand())
	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid ask id %q: %w", args[0], err)
			}
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cmdCtx.Close()

			store, err := cmdCtx.History(cmd.Context())
			if err != nil {
				return err
			}
			e, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(e)
			}
			r.Header(2, e.Question)
			r.KeyValue("ID", e.ID.String())
			r.KeyValue("Asked", e.CreatedAt.Local().Format(time.DateTime))
			r.KeyValue("Status", string(e.Status))
			if e.Model != "" {
				r.KeyValue("Model", e.Model)
			}
			if e.PayloadKind != "" {
				r.KeyValue("Result", e.PayloadKind)
			}
			if e.Error != "" {
				r.KeyValue("Error", fmt.Sprintf("%s (%s)", e.Error, e.ErrorKind))
			}
			r.KeyValue("Generation", e.Generation.Round(time.Millisecond).String())
			r.KeyValue("Execution", e.Execution.Round(time.Millisecond).String())
			r.KeyValue("Total", e.Total.Round(time.Millisecond).String())
			return nil
		},
	}
}

// renderHistoryList writes recorded asks, newest first.
func renderHistoryList(r *output.Renderer, entries []*state.Entry) {
	if len(entries) == 0 {
		r.Muted("No questions asked yet.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.AppendHeader(table.Row{"Asked", "Question", "Status", "Total", "ID"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Question,
			string(e.Status),
			e.Total.Round(time.Millisecond).String(),
			e.ID.String(),
		})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
