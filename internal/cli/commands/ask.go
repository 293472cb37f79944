package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/prompt"
	"github.com/leapstack-labs/leapask/internal/result"
	"github.com/spf13/cobra"
)

// AskOptions holds options for the ask command.
type AskOptions struct {
	NoChart    bool
	ShowCode   bool
	ShowPrompt bool
	ChartOut   string
	Examples   bool
	MaxRows    int
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the datasets",
		Long: `Ask a question in plain English. A model writes a short analysis program
against the datasets, the program runs in a sandbox and its result is shown.

Output adapts to environment:
  - Terminal: Styled tables
  - Piped/Scripted: Markdown format (agent-friendly)
  - JSON: The full answer, including the chart figure

A program that fails is still an answer: the error is shown and the command
succeeds. Only model and data failures exit non-zero.`,
		Example: `  # Ask a question
  leapask ask "What are our top 5 best-selling products by revenue?"

  # Show the generated program too
  leapask ask --show-code "Average order value by customer loyalty tier"

  # Save the chart as a standalone page
  leapask ask --chart-out revenue.html "Plot monthly revenue"

  # Answer as JSON
  leapask ask -o json "How many orders were delivered?"

  # Print example questions
  leapask ask --examples`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Examples {
				return printExamples(cmd.OutOrStdout())
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("a question is required (try --examples)")
			}
			return runAsk(cmd, question, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoChart, "no-chart", false, "Ask for an answer without visualization code")
	cmd.Flags().BoolVar(&opts.ShowCode, "show-code", false, "Show the generated program")
	cmd.Flags().BoolVar(&opts.ShowPrompt, "show-prompt", false, "Show the prompt sent to the model")
	cmd.Flags().StringVar(&opts.ChartOut, "chart-out", "", "Write the chart to a file (.html page or .json figure)")
	cmd.Flags().BoolVar(&opts.Examples, "examples", false, "Print example questions and exit")
	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", result.DefaultMaxRows, "Maximum table rows to display (-1 for all)")

	return cmd
}

func printExamples(w io.Writer) error {
	for _, q := range prompt.ExampleQuestions {
		if _, err := fmt.Fprintln(w, "  "+q); err != nil {
			return err
		}
	}
	return nil
}

func runAsk(cmd *cobra.Command, question string, opts *AskOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	ctx := cmd.Context()
	p, err := cmdCtx.Pipeline(ctx)
	if err != nil {
		return err
	}

	ans, err := p.Ask(ctx, question, pipeline.AskOptions{NoCharts: opts.NoChart})
	if err != nil {
		return err
	}
	return renderAnswer(cmdCtx.Renderer, ans, opts)
}

// renderAnswer writes an answer in the renderer's mode and saves its chart
// when asked to.
func renderAnswer(r *output.Renderer, ans *pipeline.Answer, opts *AskOptions) error {
	if opts.ChartOut != "" {
		if ans.Payload.Chart == nil {
			r.Warning("the answer has no chart; nothing written to " + opts.ChartOut)
		} else if err := writeChart(opts.ChartOut, ans.Payload.Chart); err != nil {
			return err
		}
	}

	mode := r.EffectiveMode()
	if mode == output.ModeJSON {
		return r.JSON(ans.Report(opts.ShowCode))
	}

	format := result.FormatText
	if mode == output.ModeMarkdown {
		format = result.FormatMarkdown
	}
	if opts.ShowPrompt {
		renderMessages(r, ans.Messages)
		r.Println("")
	}
	if opts.ShowCode {
		r.Header(2, "Generated Code")
		r.CodeBlock("python", string(ans.Program))
		r.Println("")
	}
	if err := result.Render(r.Writer(), ans.Payload, result.RenderOptions{Format: format, MaxRows: opts.MaxRows}); err != nil {
		return err
	}

	if opts.ChartOut != "" && ans.Payload.Chart != nil {
		r.Muted("Chart written to " + opts.ChartOut)
	}
	if mode == output.ModeText {
		r.Muted(fmt.Sprintf("Answered in %s (generation %s, execution %s)",
			ans.Duration.Round(time.Millisecond),
			ans.Generation.Round(time.Millisecond),
			ans.Execution.Round(time.Millisecond)))
	}
	return nil
}

// writeChart saves a figure as a plotly page or, for any other extension,
// as figure JSON.
func writeChart(path string, fig *chart.Figure) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if strings.EqualFold(filepath.Ext(path), ".html") {
		return chart.WriteHTML(f, fig)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(fig)
}
