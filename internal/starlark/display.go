package starlark

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/leapask/internal/frame"
)

// printRows is how many rows print(df) shows from each end.
const printRows = 5

// renderFrame formats a frame the way print() shows it inside programs.
func renderFrame(f *frame.Frame) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Format.Header = text.FormatDefault

	header := table.Row{""}
	for _, name := range f.Names() {
		header = append(header, name)
	}
	tw.AppendHeader(header)

	appendRow := func(i int) {
		row := table.Row{i}
		for _, v := range f.Row(i) {
			row = append(row, frame.FormatValue(v))
		}
		tw.AppendRow(row)
	}
	n := f.NumRows()
	if n <= 2*printRows {
		for i := 0; i < n; i++ {
			appendRow(i)
		}
	} else {
		for i := 0; i < printRows; i++ {
			appendRow(i)
		}
		dots := table.Row{"..."}
		for range f.Names() {
			dots = append(dots, "...")
		}
		tw.AppendRow(dots)
		for i := n - printRows; i < n; i++ {
			appendRow(i)
		}
	}
	return fmt.Sprintf("%s\n[%d rows x %d columns]", tw.Render(), n, f.NumCols())
}

// renderSeries formats a series as "label value" lines.
func renderSeries(s *Series) string {
	var sb strings.Builder
	n := s.col.Len()
	write := func(i int) {
		fmt.Fprintf(&sb, "%v    %s\n", frame.FormatValue(s.label(i)), frame.FormatValue(s.col.Values[i]))
	}
	if n <= 2*printRows {
		for i := 0; i < n; i++ {
			write(i)
		}
	} else {
		for i := 0; i < printRows; i++ {
			write(i)
		}
		sb.WriteString("...\n")
		for i := n - printRows; i < n; i++ {
			write(i)
		}
	}
	name := s.col.Name
	if name == "" {
		name = "None"
	}
	fmt.Fprintf(&sb, "Name: %s, Length: %d, dtype: %s", name, n, s.col.Kind)
	return sb.String()
}
