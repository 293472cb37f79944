package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leapask project",
		Long: `Initialize a new leapask project with a configuration file.

This creates:
  - leapask.yaml configuration file
  - .env.example listing the API key variable
  - .gitignore keeping .env and the ask history out of git

Use --example to also create data/ with a small store dataset (products,
customers, orders, order items, inventory, warehouses and campaigns) so
questions can be asked right away.`,
		Example: `  # Initialize in current directory
  leapask init

  # Initialize with sample data
  leapask init --example

  # Initialize in a new directory
  leapask init my-project --example

  # Force overwrite existing config
  leapask init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			// init never loads a configuration: the project may not exist yet.
			mode := output.ModeAuto
			if cfg := config.GetCurrentConfig(); cfg != nil {
				mode = output.Mode(cfg.OutputFormat)
			}
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

			template := "minimal"
			if example {
				template = "example"
			}
			return runInit(r, dir, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Create an example project with sample store data")

	return cmd
}

func runInit(r *output.Renderer, dir, template string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, "leapask.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("leapask.yaml already exists. Use --force to overwrite")
	}

	if err := copyTemplate(template, dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	files, _ := listTemplateFiles(template)
	groups := groupTemplateFiles(files)

	r.Header(2, "Configuration")
	for _, f := range groups["config"] {
		r.StatusLine(f, "success", "")
	}
	if len(groups["data"]) > 0 {
		r.Println("")
		r.Header(2, "Data")
		for _, f := range groups["data"] {
			r.StatusLine(f, "success", "")
		}
	}

	r.Println("")
	r.Success("leapask project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Copy .env.example to .env and set OPENAI_API_KEY")
	if template == "example" {
		r.Println("  2. Run 'leapask datasets' to see the sample data")
		r.Println("  3. Run 'leapask ask --examples' for questions to try")
	} else {
		r.Println("  2. Put one CSV per table in data/")
		r.Println("  3. Run 'leapask doctor' to check the setup")
	}

	return nil
}
