package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapask/internal/cli/output"
	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/spf13/cobra"
)

// NewDatasetsCommand creates the datasets command.
func NewDatasetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasets",
		Aliases: []string{"list"},
		Short:   "List the datasets questions can be asked about",
		Long: `Load every configured dataset and list it with its row count and columns.

Output adapts to environment:
  - Terminal: Styled table
  - Piped/Scripted: Markdown format (agent-friendly)

Use --output to override: auto, text, markdown, json`,
		Example: `  # List datasets
  leapask datasets

  # List datasets as JSON
  leapask datasets -o json

  # Read datasets from another directory
  leapask datasets --data-dir ./exports`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cmdCtx.Close()

			reg, err := cmdCtx.Registry(cmd.Context())
			if err != nil {
				return err
			}
			if cmdCtx.Renderer.EffectiveMode() == output.ModeJSON {
				return cmdCtx.Renderer.JSON(reg.Summaries())
			}
			renderDatasetList(cmdCtx.Renderer, reg.Summaries())
			return nil
		},
	}
	return cmd
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [dataset]",
		Short: "Show dataset columns and relationships",
		Long: `Show the column types and sample rows of one dataset, or the columns of
every dataset and the relationships between them.`,
		Example: `  leapask schema
  leapask schema orders
  leapask schema -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cmdCtx.Close()

			reg, err := cmdCtx.Registry(cmd.Context())
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer
			sc := reg.SchemaContext()

			if len(args) == 1 {
				if r.EffectiveMode() == output.ModeJSON {
					if _, err := reg.Lookup(args[0]); err != nil {
						return err
					}
					ts, _ := sc.Table(args[0])
					return r.JSON(ts)
				}
				return renderSchema(r, reg, args[0])
			}

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(sc)
			}
			for _, t := range sc.Tables {
				if err := renderSchema(r, reg, t.Name); err != nil {
					return err
				}
				r.Println("")
			}
			renderRelationships(r, sc.Relationships)
			return nil
		},
	}
	return cmd
}

// renderDatasetList writes one line or table row per dataset.
func renderDatasetList(r *output.Renderer, sums []dataset.Summary) {
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatHeader(1, fmt.Sprintf("Datasets (%d total)", len(sums))))
		for _, s := range sums {
			r.Println(output.FormatHeader(2, s.Name))
			if s.Description != "" {
				r.Println(output.FormatKeyValue("Description", s.Description))
			}
			r.Println(output.FormatKeyValue("Rows", fmt.Sprintf("%d", s.Rows)))
			r.Println(output.FormatKeyValue("Columns", columnNames(s.Columns)))
			if s.Source != "" {
				r.Println(output.FormatKeyValue("Source", s.Source))
			}
			r.Println("")
		}
		return
	}

	r.Header(1, fmt.Sprintf("Datasets (%d total)", len(sums)))
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Dataset", "Rows", "Columns", "Description"})
	for _, s := range sums {
		t.AppendRow(table.Row{s.Name, s.Rows, len(s.Columns), s.Description})
	}
	t.Render()
}

// renderSchema writes the columns and sample rows of one dataset.
func renderSchema(r *output.Renderer, reg *dataset.Registry, name string) error {
	ds, err := reg.Lookup(name)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatHeader(2, fmt.Sprintf("%s (%d rows)", ds.Name, ds.Frame.NumRows())))
		if ds.Description != "" {
			r.Println(ds.Description)
			r.Println("")
		}
		r.Println("| Column | Type |")
		r.Println("| --- | --- |")
		for _, c := range ds.Columns {
			r.Printf("| %s | %s |\n", c.Name, c.Type)
		}
		return nil
	}

	r.Header(2, fmt.Sprintf("%s (%d rows)", ds.Name, ds.Frame.NumRows()))
	if ds.Description != "" {
		r.Muted(ds.Description)
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Type"})
	for _, c := range ds.Columns {
		t.AppendRow(table.Row{c.Name, c.Type})
	}
	t.Render()
	return nil
}

func renderRelationships(r *output.Renderer, rels []dataset.Relationship) {
	if len(rels) == 0 {
		return
	}
	r.Header(2, "Relationships")
	for _, rel := range rels {
		if r.EffectiveMode() == output.ModeMarkdown {
			r.Println("- " + rel.String())
		} else {
			r.Println("  " + rel.String())
		}
	}
}

func columnNames(cols []dataset.ColumnInfo) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
