// Package prompt builds the messages that ask a model for an analysis
// program.
package prompt

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/frame"
)

// Messages is a system and user message pair.
type Messages struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Options tunes the user message.
type Options struct {
	// IncludeCharts allows the program to build a chart. When false the model
	// is told not to.
	IncludeCharts bool
}

// DefaultOptions returns the options used when a caller sets none.
func DefaultOptions() Options {
	return Options{IncludeCharts: true}
}

// NoSampleData marks a table without rows in the sample section.
const NoSampleData = "(no sample data)"

const (
	outputReminder = "IMPORTANT: Return ONLY complete, executable Starlark code with no surrounding text or markdown."
	noChartsNote   = "Do NOT include visualization code, just provide the analysis results."
)

// System is the fixed instruction message.
const System = `You are an expert data analyst specializing in e-commerce analytics.
Your task is to write Starlark code (a Python dialect) to answer questions about sales data from a water sports equipment store.

CRITICAL REQUIREMENTS:
1. Return ONLY valid, executable Starlark code. No explanations, markdown, or text outside of code comments.
2. Code must be complete and ready to run without any modifications.
3. Always include all necessary merges, calculations, and processing steps.
4. Make sure parentheses, brackets, and braces are always properly closed.
5. Assign the answer to a variable called 'result'. If you build a chart, assign it to a variable called 'fig'.
6. Include short comments explaining your approach.

Environment:
- The tables are already loaded as DataFrames named after the tables listed in the schema.
- These names are predefined: pd (pandas subset), np (numpy subset), px (plotly.express subset),
  plt (matplotlib.pyplot subset), sns (seaborn subset), math, round, sum. Do not import anything else.
  Import statements for these modules are allowed but not needed.
- There is no file system, network, or load().

Starlark differences from Python:
- Comparison operators do not work elementwise. Use methods instead:
  df[df["amount"].gt(100)], df[df["status"].eq("paid")], s.ne(x), s.ge(x), s.lt(x), s.le(x).
- Combine masks with & and |, negate with ~. Use s.isin([...]) and s.between(a, b).
- No classes, no try/except, no lambda with statements, no f-strings; use "%s" % x or str.format.
- Top-level for/while/if are allowed.

Toolkit reference:
- DataFrame: df["c"], df[["a", "b"]], df[mask], df["c"] = values, columns, shape, empty, len(df),
  head, tail, sort_values(by, ascending), groupby(by), merge(right, on|left_on/right_on, how), drop(columns),
  rename(columns), assign(**kw), drop_duplicates(subset), nlargest/nsmallest(n, col), reset_index(),
  to_dict(orient), iterrows(), dropna, fillna, copy().
- Series: + - * / // % with scalars or series, sum mean median min max std var count nunique unique tolist
  round abs cumsum value_counts astype fillna apply map isna notna idxmax idxmin quantile,
  .dt (year month day quarter dayofweek hour strftime to_period), .str (lower upper contains startswith strip len).
- GroupBy: agg(name=(col, fn)), gb["col"].sum()/mean()/count()/..., size(); results are DataFrames with
  the key columns, so reset_index() is optional.
- pd: DataFrame, Series, to_datetime, to_numeric, Timestamp, Timedelta, concat, merge, isna.
- np: sum mean median std var min max round abs sqrt log exp cumsum arange percentile where unique.
- Charts: px.bar/line/scatter/area/pie/histogram/box return a figure; plt and sns draw on the current
  figure (plt.gcf()); df.plot(kind=...) and series.plot.bar() are also supported.
- Date differences are numbers of days.

Technical requirements:
- When joining data, use merge and the relationships listed in the prompt.
- Round numerical results to 2 decimal places for readability.
- For categorical data, use appropriate chart types (bar, pie, etc.).
- For time series, consider line charts or area charts.
- Add proper titles and axis labels to visualizations.`

// Build renders the user message for question against sc. The output only
// depends on its inputs.
func Build(sc *dataset.SchemaContext, question string, opts Options) Messages {
	var sb strings.Builder

	sb.WriteString("# Sales Data Schema:\n")
	for _, t := range sc.Tables {
		writeSchema(&sb, t)
	}

	sb.WriteString("\n# Sample Data:\n")
	for _, t := range sc.Tables {
		fmt.Fprintf(&sb, "\n## First %d rows of %s:\n", sampleCount(t), t.Name)
		sb.WriteString(SampleTable(t.Samples))
		sb.WriteString("\n")
	}

	sb.WriteString("\n# Data Relationships:\n")
	if len(sc.Relationships) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, rel := range sc.Relationships {
		fmt.Fprintf(&sb, "- %s\n", rel)
	}

	fmt.Fprintf(&sb, "\nQuestion: %s\n\n%s", question, outputReminder)
	if !opts.IncludeCharts {
		sb.WriteString("\n" + noChartsNote)
	}

	return Messages{System: System, User: sb.String()}
}

func writeSchema(sb *strings.Builder, t dataset.TableSchema) {
	fmt.Fprintf(sb, "\n## %s DataFrame:\n", t.Name)
	if t.Description != "" {
		fmt.Fprintf(sb, "Description: %s\n", t.Description)
	}
	fmt.Fprintf(sb, "Shape: (%d, %d)\n", t.RowCount, len(t.Columns))
	sb.WriteString("Columns:\n")
	for _, c := range t.Columns {
		fmt.Fprintf(sb, "- %s: %s\n", c.Name, c.Type)
	}
}

func sampleCount(t dataset.TableSchema) int {
	if t.Samples == nil {
		return 0
	}
	return t.Samples.NumRows()
}

// SampleTable renders rows as a borderless text table with a row number
// column, or NoSampleData when there are none.
func SampleTable(f *frame.Frame) string {
	if f == nil || f.NumRows() == 0 {
		return NoSampleData
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Format.Header = text.FormatDefault

	header := table.Row{""}
	for _, name := range f.Names() {
		header = append(header, name)
	}
	tw.AppendHeader(header)
	for i := 0; i < f.NumRows(); i++ {
		row := table.Row{i}
		for _, v := range f.Row(i) {
			row = append(row, frame.FormatValue(v))
		}
		tw.AppendRow(row)
	}
	return tw.Render()
}
