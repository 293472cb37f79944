package chart

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
)

// PlotlyCDN is the script loaded by standalone HTML output.
const PlotlyCDN = "https://cdn.plot.ly/plotly-2.35.2.min.js"

var pageTmpl = template.Must(template.New("chart").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.Script}}"></script>
</head>
<body>
<div id="chart" style="width:100%;height:90vh;"></div>
<script>
const fig = {{.Figure}};
Plotly.newPlot("chart", fig.data, fig.layout);
</script>
</body>
</html>
`))

// WriteHTML writes a self-contained page that draws the figure with plotly.
func WriteHTML(w io.Writer, f *Figure) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode figure: %w", err)
	}
	title := f.Layout.Title
	if title == "" {
		title = "chart"
	}
	return pageTmpl.Execute(w, struct {
		Title  string
		Script string
		Figure template.JS
	}{
		Title:  title,
		Script: PlotlyCDN,
		Figure: template.JS(raw), //nolint:gosec // json.Marshal output escapes <, > and &
	})
}
