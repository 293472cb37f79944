package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/spf13/cobra"
)

const replPrompt = "leapask> "

// NewREPLCommand creates the interactive repl command.
func NewREPLCommand() *cobra.Command {
	opts := &AskOptions{}
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Ask questions interactively",
		Long: `Start an interactive session. Every line is a question; lines starting
with a dot are commands. Datasets are loaded once for the whole session.`,
		Example: `  leapask repl
  leapask repl --show-code`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.NoChart, "no-chart", false, "Ask for answers without visualization code")
	cmd.Flags().BoolVar(&opts.ShowCode, "show-code", false, "Show generated programs")
	return cmd
}

func runREPL(cmd *cobra.Command, opts *AskOptions) error {
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

	// Line history lives beside the ask history.
	historyFile := filepath.Join(filepath.Dir(cmdCtx.Cfg.History.Path), "repl_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newDatasetCompleter(p.Registry().Names()),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s := &replSession{p: p, r: cmdCtx.Renderer, opts: *opts}
	r := cmdCtx.Renderer
	r.Printf("leapask (%d datasets, model %s)\n", len(p.Registry().Names()), p.Model())
	r.Println("Type a question, .help for commands, .quit to exit")
	r.Println("")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if !s.handle(ctx, line) {
			break
		}
	}
	return nil
}

// replSession is the state of one interactive session.
type replSession struct {
	p    *pipeline.Pipeline
	r    *output.Renderer
	opts AskOptions
}

// handle processes one input line and reports whether to keep going.
func (s *replSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return true
	case strings.HasPrefix(line, "."):
		return s.dotCommand(ctx, line)
	}

	ans, err := s.p.Ask(ctx, line, pipeline.AskOptions{NoCharts: s.opts.NoChart})
	if err != nil {
		s.r.Error(err.Error())
		return true
	}
	if err := renderAnswer(s.r, ans, &s.opts); err != nil {
		s.r.Error(err.Error())
	}
	s.r.Println("")
	return true
}

func (s *replSession) dotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return false

	case ".help":
		printREPLHelp(s.r.Writer())

	case ".datasets", ".tables":
		renderDatasetList(s.r, s.p.Registry().Summaries())

	case ".schema":
		if len(parts) < 2 {
			s.r.Error("usage: .schema <dataset>")
			return true
		}
		if err := renderSchema(s.r, s.p.Registry(), parts[1]); err != nil {
			s.r.Error(err.Error())
		}

	case ".examples":
		_ = printExamples(s.r.Writer())

	case ".code", ".charts":
		if len(parts) < 2 {
			s.r.Error(fmt.Sprintf("usage: %s on|off", command))
			return true
		}
		on, err := parseSwitch(parts[1])
		if err != nil {
			s.r.Error(err.Error())
			return true
		}
		if command == ".code" {
			s.opts.ShowCode = on
		} else {
			s.opts.NoChart = !on
		}
		s.r.Muted(fmt.Sprintf("%s %s", strings.TrimPrefix(command, "."), parts[1]))

	case ".history":
		limit := 10
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n <= 0 {
				s.r.Error("usage: .history [count]")
				return true
			}
			limit = n
		}
		entries, err := s.p.History().List(ctx, limit)
		if err != nil {
			s.r.Error(err.Error())
			return true
		}
		renderHistoryList(s.r, entries)

	case ".clear":
		s.r.Printf("\033[H\033[2J")

	default:
		s.r.Error(fmt.Sprintf("unknown command: %s (type .help for commands)", command))
	}
	return true
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help              Show this help message
  .datasets          List datasets
  .schema <name>     Show the columns of a dataset
  .examples          Show example questions
  .code on|off       Show generated programs
  .charts on|off     Allow chart generation
  .history [count]   Show recent questions
  .clear             Clear the screen
  .quit / .exit      Exit the REPL

Tips:
  - Any other line is asked as a question
  - Use arrow keys to navigate history
  - Tab completion works for commands and dataset names
`
	_, _ = fmt.Fprintln(w, help)
}

// newDatasetCompleter completes dot-commands and dataset names after .schema.
func newDatasetCompleter(names []string) *readline.PrefixCompleter {
	datasets := make([]readline.PrefixCompleterInterface, len(names))
	for i, n := range names {
		datasets[i] = readline.PcItem(n)
	}
	onOff := []readline.PrefixCompleterInterface{readline.PcItem("on"), readline.PcItem("off")}

	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".datasets"),
		readline.PcItem(".schema", datasets...),
		readline.PcItem(".examples"),
		readline.PcItem(".code", onOff...),
		readline.PcItem(".charts", onOff...),
		readline.PcItem(".history"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
