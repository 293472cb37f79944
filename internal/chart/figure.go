// Package chart holds the renderer-neutral chart model produced by analysis
// programs. A Figure serializes to plotly's figure JSON so any plotly front
// end can draw it.
package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Trace types.
const (
	TraceBar       = "bar"
	TraceScatter   = "scatter"
	TracePie       = "pie"
	TraceHistogram = "histogram"
	TraceBox       = "box"
)

// Trace is one data series of a figure.
type Trace struct {
	Type        string
	Name        string
	X           []any
	Y           []any
	Labels      []any
	Values      []any
	Mode        string // "lines", "markers", "lines+markers" for scatter traces
	Orientation string // "h" for horizontal bars
	Fill        string // "tozeroy" for area charts
	NBins       int
}

// Len returns the number of points in the trace.
func (t *Trace) Len() int {
	return max(len(t.X), len(t.Y), len(t.Values))
}

// Layout carries figure-level decoration.
type Layout struct {
	Title      string
	XTitle     string
	YTitle     string
	ShowLegend bool
}

// Figure is a chart: an ordered list of traces plus layout.
type Figure struct {
	Traces []*Trace
	Layout Layout
}

// New returns an empty figure.
func New() *Figure {
	return &Figure{}
}

// AddTrace appends a trace.
func (f *Figure) AddTrace(t *Trace) {
	f.Traces = append(f.Traces, t)
}

// Empty reports whether the figure has no plotted points.
func (f *Figure) Empty() bool {
	for _, t := range f.Traces {
		if t.Len() > 0 {
			return false
		}
	}
	return true
}

// Summary is a one-line description for text output.
func (f *Figure) Summary() string {
	kinds := make([]string, 0, len(f.Traces))
	points := 0
	for _, t := range f.Traces {
		kinds = append(kinds, t.Type)
		points += t.Len()
	}
	title := f.Layout.Title
	if title == "" {
		title = "untitled"
	}
	return fmt.Sprintf("chart %q: %d trace(s) [%s], %d point(s)", title, len(f.Traces), strings.Join(kinds, ", "), points)
}

type titleJSON struct {
	Text string `json:"text"`
}

type axisJSON struct {
	Title *titleJSON `json:"title,omitempty"`
}

type layoutJSON struct {
	Title      *titleJSON `json:"title,omitempty"`
	XAxis      *axisJSON  `json:"xaxis,omitempty"`
	YAxis      *axisJSON  `json:"yaxis,omitempty"`
	ShowLegend bool       `json:"showlegend"`
}

type traceJSON struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	X           []any  `json:"x,omitempty"`
	Y           []any  `json:"y,omitempty"`
	Labels      []any  `json:"labels,omitempty"`
	Values      []any  `json:"values,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Orientation string `json:"orientation,omitempty"`
	Fill        string `json:"fill,omitempty"`
	NBinsX      int    `json:"nbinsx,omitempty"`
}

type figureJSON struct {
	Data   []traceJSON `json:"data"`
	Layout layoutJSON  `json:"layout"`
}

func title(s string) *titleJSON {
	if s == "" {
		return nil
	}
	return &titleJSON{Text: s}
}

// MarshalJSON renders the figure in plotly's {data, layout} form. NaN cells
// become null and timestamps are written in ISO form.
func (f *Figure) MarshalJSON() ([]byte, error) {
	out := figureJSON{
		Data: make([]traceJSON, 0, len(f.Traces)),
		Layout: layoutJSON{
			Title:      title(f.Layout.Title),
			ShowLegend: f.Layout.ShowLegend,
		},
	}
	if f.Layout.XTitle != "" {
		out.Layout.XAxis = &axisJSON{Title: title(f.Layout.XTitle)}
	}
	if f.Layout.YTitle != "" {
		out.Layout.YAxis = &axisJSON{Title: title(f.Layout.YTitle)}
	}
	for _, t := range f.Traces {
		out.Data = append(out.Data, traceJSON{
			Type:        t.Type,
			Name:        t.Name,
			X:           clean(t.X),
			Y:           clean(t.Y),
			Labels:      clean(t.Labels),
			Values:      clean(t.Values),
			Mode:        t.Mode,
			Orientation: t.Orientation,
			Fill:        t.Fill,
			NBinsX:      t.NBins,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (f *Figure) UnmarshalJSON(b []byte) error {
	var in figureJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	f.Traces = make([]*Trace, 0, len(in.Data))
	for _, t := range in.Data {
		f.Traces = append(f.Traces, &Trace{
			Type:        t.Type,
			Name:        t.Name,
			X:           t.X,
			Y:           t.Y,
			Labels:      t.Labels,
			Values:      t.Values,
			Mode:        t.Mode,
			Orientation: t.Orientation,
			Fill:        t.Fill,
			NBins:       t.NBinsX,
		})
	}
	f.Layout = Layout{ShowLegend: in.Layout.ShowLegend}
	if in.Layout.Title != nil {
		f.Layout.Title = in.Layout.Title.Text
	}
	if in.Layout.XAxis != nil && in.Layout.XAxis.Title != nil {
		f.Layout.XTitle = in.Layout.XAxis.Title.Text
	}
	if in.Layout.YAxis != nil && in.Layout.YAxis.Title != nil {
		f.Layout.YTitle = in.Layout.YAxis.Title.Text
	}
	return nil
}

func clean(values []any) []any {
	if values == nil {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				out[i] = nil
				continue
			}
			out[i] = x
		case time.Time:
			out[i] = x.Format("2006-01-02T15:04:05")
		default:
			out[i] = v
		}
	}
	return out
}
