package commands

import (
	"errors"
	"strings"

	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/leapstack-labs/leapask/internal/prompt"
	"github.com/spf13/cobra"
)

// NewPromptCommand creates the prompt command.
func NewPromptCommand() *cobra.Command {
	var noChart bool
	cmd := &cobra.Command{
		Use:   "prompt <question>",
		Short: "Show the prompt sent to the model for a question",
		Long: `Build the system and user messages for a question without calling the
model. Useful for checking the schema context the model sees.`,
		Example: `  leapask prompt "Which warehouse holds the most stock?"
  leapask prompt --no-chart -o json "Top customers"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("a question is required")
			}
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cmdCtx.Close()

			reg, err := cmdCtx.Registry(cmd.Context())
			if err != nil {
				return err
			}
			msgs := prompt.Build(reg.SchemaContext(), question, prompt.Options{IncludeCharts: !noChart})

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(msgs)
			}
			renderMessages(r, msgs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noChart, "no-chart", false, "Build the prompt that forbids visualization code")
	return cmd
}

func renderMessages(r *output.Renderer, msgs prompt.Messages) {
	r.Header(2, "System")
	r.CodeBlock("", msgs.System)
	r.Println("")
	r.Header(2, "User")
	r.CodeBlock("", msgs.User)
}
