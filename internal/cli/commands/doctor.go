package commands

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/spf13/cobra"
)

// Check statuses.
const (
	checkPass  = "pass"
	checkWarn  = "warn"
	checkError = "error"
	checkSkip  = "skip"
)

// sandboxProbe is run to prove the sandbox can execute programs.
const sandboxProbe = "result = sum([1, 2, 3])"

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that questions can be answered",
		Long: `Check the configuration, the datasets, the model credentials, the ask
history and the sandbox, and report what needs fixing. The model itself is
not called.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run health check
  leapask doctor

  # Output as JSON
  leapask doctor -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd)
		},
	}
	return cmd
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	ConfigFile string        `json:"config_file,omitempty"`
	Checks     []HealthCheck `json:"checks"`
	Errors     int           `json:"errors"`
	Warnings   int           `json:"warnings"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name   string `json:"name"`
	Group  string `json:"group"`
	Status string `json:"status"` // "pass", "warn", "error", "skip"
	Detail string `json:"detail,omitempty"`
}

func runDoctor(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cmdCtx.Close()

	out := diagnose(cmd.Context(), cmdCtx)
	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		if err := r.JSON(out); err != nil {
			return err
		}
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, out)
	default:
		renderDoctorText(r, out)
	}

	if out.Errors > 0 {
		return fmt.Errorf("doctor found %d problem(s)", out.Errors)
	}
	return nil
}

// diagnose runs every check. Later checks are skipped when what they need
// failed.
func diagnose(ctx context.Context, c *CommandContext) *DoctorOutput {
	out := &DoctorOutput{ConfigFile: config.GetConfigFileUsed()}
	add := func(group, name, status, detail string) {
		out.Checks = append(out.Checks, HealthCheck{Name: name, Group: group, Status: status, Detail: detail})
		switch status {
		case checkError:
			out.Errors++
		case checkWarn:
			out.Warnings++
		}
	}
	cfg := c.Cfg

	// Configuration
	if out.ConfigFile != "" {
		add("configuration", "config file", checkPass, out.ConfigFile)
	} else {
		add("configuration", "config file", checkWarn, "no leapask.yaml found, using defaults (run 'leapask init')")
	}
	configOK := true
	if err := cfg.Validate(); err != nil {
		configOK = false
		add("configuration", "settings", checkError, oneLine(err))
	} else {
		add("configuration", "settings", checkPass, "")
	}

	// Data
	switch {
	case len(cfg.Datasets) > 0:
		add("data", "data directory", checkSkip, "datasets are listed explicitly")
	default:
		if err := cfg.ValidateDataDir(); err != nil {
			add("data", "data directory", checkError, oneLine(err))
		} else {
			add("data", "data directory", checkPass, cfg.DataDir)
		}
	}
	if !configOK {
		add("data", "datasets", checkSkip, "fix the configuration first")
	} else if reg, err := c.Registry(ctx); err != nil {
		add("data", "datasets", checkError, oneLine(err))
	} else {
		rows := 0
		for _, s := range reg.Summaries() {
			rows += s.Rows
		}
		add("data", "datasets", checkPass, fmt.Sprintf("%d datasets, %d rows", len(reg.Names()), rows))
		if n := len(reg.Relationships()); n < len(cfg.Relationships) {
			add("data", "relationships", checkWarn, fmt.Sprintf("%d of %d relationships refer to unknown columns", len(cfg.Relationships)-n, len(cfg.Relationships)))
		}
	}

	// Model
	if cfg.Model.APIKey == "" {
		add("model", "api key", checkError, "not set; set "+config.APIKeyEnv+" or model.api_key")
	} else {
		add("model", "api key", checkPass, maskKey(cfg.Model.APIKey))
	}
	add("model", "endpoint", checkPass, fmt.Sprintf("%s (%s)", cfg.Model.BaseURL, cfg.Model.Name))

	// Runtime
	switch {
	case cfg.History.Disabled:
		add("runtime", "ask history", checkSkip, "disabled")
	default:
		if _, err := c.History(ctx); err != nil {
			add("runtime", "ask history", checkWarn, oneLine(err))
		} else {
			add("runtime", "ask history", checkPass, cfg.History.Path)
		}
	}
	status, detail := sandboxStatus(ctx, c)
	add("runtime", "sandbox", status, detail)

	return out
}

func sandboxStatus(ctx context.Context, c *CommandContext) (status, detail string) {
	exec, err := newExecutor(c.Cfg, c.Logger)
	if err != nil {
		return checkError, oneLine(err)
	}
	res := exec.Execute(ctx, nil, sandboxProbe)
	if res.Failed() {
		return checkError, fmt.Sprintf("%s isolation: %s", c.Cfg.Sandbox.Isolation, oneLine(res.Err))
	}
	return checkPass, c.Cfg.Sandbox.Isolation + " isolation"
}

// maskKey keeps only enough of a key to recognize it.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "..." + key[len(key)-4:]
}

func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

func statusLineStatus(s string) string {
	switch s {
	case checkPass:
		return "success"
	case checkWarn:
		return "warning"
	case checkError:
		return "error"
	}
	return "skipped"
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header.Render("leapask Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("")
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}
		r.Printf("   ")
		r.StatusLine(check.Name, statusLineStatus(check.Status), check.Detail)
	}

	r.Println("")
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	summary := fmt.Sprintf("   %d error(s), %d warning(s)", out.Errors, out.Warnings)
	switch {
	case out.Errors > 0:
		r.Println(styles.Error.Render(summary))
	case out.Warnings > 0:
		r.Println(styles.Warning.Render(summary))
	default:
		r.Println(styles.Success.Render("   Ready to answer questions"))
	}
	r.Println("")
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println("# leapask Health Report")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			if currentGroup != "" {
				r.Println("")
			}
			currentGroup = check.Group
			r.Println(output.FormatHeader(2, titleCaser.String(currentGroup)))
		}
		r.StatusLine(check.Name, statusLineStatus(check.Status), check.Detail)
	}

	r.Println("")
	r.Printf("**Errors**: %d, **Warnings**: %d\n", out.Errors, out.Warnings)
}
