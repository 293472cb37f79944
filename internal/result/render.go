package result

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Format selects how a payload is written.
type Format string

// Output formats.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// DefaultMaxRows caps the rows written in text and markdown output.
const DefaultMaxRows = 50

// ParseFormat accepts the format names used on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "table":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, markdown or json)", s)
}

// RenderOptions configures Render.
type RenderOptions struct {
	Format Format
	// MaxRows limits displayed table rows. Zero means DefaultMaxRows, a
	// negative value means no limit. JSON output is never truncated.
	MaxRows int
}

// Render writes p to w.
func Render(w io.Writer, p *Payload, opts RenderOptions) error {
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case FormatMarkdown:
		return renderDoc(w, p, opts, markdownStyle)
	case FormatText, "":
		return renderDoc(w, p, opts, textStyle)
	}
	return fmt.Errorf("unknown output format %q", opts.Format)
}

// docStyle is what differs between text and markdown output.
type docStyle struct {
	heading func(string) string
	table   func(table.Writer) string
	code    func(string) string
	bullet  string
}

var textStyle = docStyle{
	heading: func(s string) string { return s + ":" },
	table: func(tw table.Writer) string {
		tw.SetStyle(table.StyleLight)
		tw.Style().Format.Header = text.FormatDefault
		return tw.Render()
	},
	code:   func(s string) string { return strings.TrimRight(s, "\n") },
	bullet: "  ",
}

var markdownStyle = docStyle{
	heading: func(s string) string { return "## " + s + "\n" },
	table: func(tw table.Writer) string {
		tw.Style().Format.Header = text.FormatDefault
		return tw.RenderMarkdown()
	},
	code:   func(s string) string { return "```\n" + strings.TrimRight(s, "\n") + "\n```" },
	bullet: "- ",
}

func renderDoc(w io.Writer, p *Payload, opts RenderOptions, st docStyle) error {
	var sb strings.Builder
	line := func(s string) { sb.WriteString(s + "\n") }

	if p.ResultFrom != "" && p.ResultFrom != "result" {
		line(fmt.Sprintf("Note: no 'result' variable found, using '%s' as the result.", p.ResultFrom))
		line("")
	}

	switch p.Kind {
	case KindError:
		msg := "Error: " + p.Message
		if p.Line > 0 {
			msg += fmt.Sprintf(" (line %d)", p.Line)
		}
		line(msg)
	case KindEmpty:
		line(p.Message)
	case KindChart:
		line(st.heading("Analysis Result"))
		line("(" + p.Message + ")")
	case KindTable:
		line(st.heading("Analysis Result"))
		line(renderTable(p.Table, maxRows(opts.MaxRows), st))
	case KindScalar:
		line(st.heading("Analysis Result"))
		line(FormatScalar(p.Scalar))
	case KindValue:
		line(st.heading("Analysis Result"))
		for _, item := range valueLines(p.Value) {
			line(st.bullet + item)
		}
	}

	if p.Chart != nil {
		line("")
		line(st.heading("Visualization"))
		line(p.Chart.Summary())
	}
	if p.Output != "" {
		line("")
		line(st.heading("Output"))
		line(st.code(p.Output))
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func maxRows(n int) int {
	switch {
	case n == 0:
		return DefaultMaxRows
	case n < 0:
		return -1
	}
	return n
}

func renderTable(t *Table, limit int, st docStyle) string {
	if t.NumRows() == 0 {
		return "(0 rows)"
	}
	tw := table.NewWriter()
	header := make(table.Row, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	tw.AppendHeader(header)

	shown := t.Display
	if limit >= 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, cells := range shown {
		row := make(table.Row, len(cells))
		for i, c := range cells {
			row[i] = c
		}
		tw.AppendRow(row)
	}

	footer := fmt.Sprintf("(%d rows)", t.NumRows())
	if len(shown) < t.NumRows() {
		footer = fmt.Sprintf("(showing %d of %d rows)", len(shown), t.NumRows())
	}
	return st.table(tw) + "\n" + footer
}

// valueLines formats a list or dict result one entry per line.
func valueLines(v any) []string {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return []string{"(empty)"}
		}
		out := make([]string, len(x))
		for i, item := range x {
			out[i] = FormatCell(item)
		}
		return out
	case []Entry:
		out := make([]string, len(x))
		for i, e := range x {
			out[i] = e.Key + ": " + FormatCell(e.Value)
		}
		return out
	}
	return []string{FormatCell(v)}
}
