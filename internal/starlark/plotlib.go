package starlark

import (
	"fmt"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// expressModule returns the px binding. Each function builds and returns a
// new Figure; styling keywords the chart model has no place for are
// accepted and ignored.
func expressModule() *starlarkstruct.Module {
	members := starlark.StringDict{}
	for _, kind := range []string{"bar", "line", "scatter", "area", "pie", "histogram", "box"} {
		members[kind] = starlark.NewBuiltin(kind, pxChart(kind))
	}
	return &starlarkstruct.Module{Name: "px", Members: members}
}

// pxPlot holds the arguments of one px call.
type pxPlot struct {
	thread *starlark.Thread
	fig    *chart.Figure
	df     *frame.Frame
	series *Series
	kw     map[string]starlark.Value
	labels map[string]string
}

func pxChart(kind string) builtinFunc {
	positional := []string{"data_frame", "x", "y"}
	if kind == "pie" {
		positional = []string{"data_frame", "names", "values"}
	}
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > len(positional) {
			return nil, fmt.Errorf("%s: got %d positional arguments, want at most %d", b.Name(), len(args), len(positional))
		}
		kw := kwargsOf(kwargs)
		for i, a := range args {
			kw[positional[i]] = a
		}
		df, series, err := plotData(kw["data_frame"])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		fig := newFigure()
		p := &pxPlot{thread: thread, fig: fig.chart, df: df, series: series, kw: kw, labels: labelMap(kw["labels"])}
		switch kind {
		case "pie":
			err = p.pie()
		case "histogram":
			err = p.histogram()
		case "box":
			err = p.box()
		default:
			err = p.xy(kind)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		title, err := stringArg(kw, "title")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		fig.chart.Layout.Title = title
		fig.chart.Layout.ShowLegend = len(fig.chart.Traces) > 1
		return fig, nil
	}
}

func labelMap(v starlark.Value) map[string]string {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return nil
	}
	out := make(map[string]string, d.Len())
	for _, item := range d.Items() {
		k, ok1 := starlark.AsString(item[0])
		l, ok2 := starlark.AsString(item[1])
		if ok1 && ok2 {
			out[k] = l
		}
	}
	return out
}

func (p *pxPlot) label(name string) string {
	if l, ok := p.labels[name]; ok {
		return l
	}
	return name
}

func (p *pxPlot) column(name string) ([]any, string, error) {
	values, col, err := plotColumn(p.df, p.kw[name])
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", name, err)
	}
	return values, col, nil
}

// split draws one trace per color group, or a single trace named name.
func (p *pxPlot) split(kind, name string, xs, ys []any) ([]*chart.Trace, error) {
	groups := groupColumn(p.df, p.kw["color"])
	if groups == nil {
		t, err := draw(p.thread, p.fig, kind, name, xs, ys)
		if err != nil {
			return nil, err
		}
		return []*chart.Trace{t}, nil
	}
	labels, rows := partition(groups)
	var out []*chart.Trace
	for i, l := range labels {
		var gx, gy []any
		if xs != nil {
			gx = takeCells(xs, rows[i])
		}
		if ys != nil {
			gy = takeCells(ys, rows[i])
		}
		t, err := draw(p.thread, p.fig, kind, frame.FormatValue(l), gx, gy)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (p *pxPlot) xy(kind string) error {
	if p.series != nil && isNone(p.kw["x"]) && isNone(p.kw["y"]) {
		t, err := draw(p.thread, p.fig, kind, p.series.col.Name, seriesLabels(p.series), p.series.col.Values)
		if err != nil {
			return err
		}
		p.finishXY(kind, []*chart.Trace{t}, "", p.series.col.Name)
		return nil
	}

	xs, xname, err := p.column("x")
	if err != nil {
		return err
	}

	// Wide form: y is a list of columns, or omitted with every other numeric
	// column plotted.
	var ycols []string
	switch y := p.kw["y"].(type) {
	case nil, starlark.NoneType:
		if p.df == nil {
			return fmt.Errorf("y is required")
		}
		for _, c := range p.df.Columns() {
			if c.Name != xname && c.Kind.IsNumeric() {
				ycols = append(ycols, c.Name)
			}
		}
		if len(ycols) == 0 {
			return fmt.Errorf("y is required: no numeric columns to plot")
		}
	case *starlark.List:
		if p.df != nil && y.Len() > 0 {
			if _, ok := starlark.AsString(y.Index(0)); ok {
				if ycols, err = toStrings(y); err != nil {
					return fmt.Errorf("y: %w", err)
				}
			}
		}
	}
	if ycols != nil {
		if xs == nil {
			xs = rowNumbers(p.df.NumRows())
		}
		var traces []*chart.Trace
		for _, name := range ycols {
			c, ok := p.df.Column(name)
			if !ok {
				return &frame.MissingColumnError{Name: name, Available: p.df.Names()}
			}
			t, err := draw(p.thread, p.fig, kind, name, xs, c.Values)
			if err != nil {
				return err
			}
			traces = append(traces, t)
		}
		yname := "value"
		if len(ycols) == 1 {
			yname = ycols[0]
		}
		p.finishXY(kind, traces, xname, yname)
		return nil
	}

	ys, yname, err := p.column("y")
	if err != nil {
		return err
	}
	if xs == nil {
		xs = rowNumbers(len(ys))
	}
	traces, err := p.split(kind, yname, xs, ys)
	if err != nil {
		return err
	}
	p.finishXY(kind, traces, xname, yname)
	return nil
}

func (p *pxPlot) finishXY(kind string, traces []*chart.Trace, xname, yname string) {
	horizontal := kind == "bar" && p.kw["orientation"] == starlark.String("h")
	markers := boolArg(p.kw, "markers", false)
	for _, t := range traces {
		if horizontal {
			t.Orientation = "h"
		}
		if kind == "line" && markers {
			t.Mode = "lines+markers"
		}
	}
	p.fig.Layout.XTitle = p.label(xname)
	p.fig.Layout.YTitle = p.label(yname)
}

func (p *pxPlot) histogram() error {
	values, name, err := p.column("x")
	if err != nil {
		return err
	}
	if values == nil {
		if values, name, err = p.column("y"); err != nil {
			return err
		}
	}
	if values == nil && p.series != nil {
		values, name = p.series.col.Values, p.series.col.Name
	}
	if values == nil {
		return fmt.Errorf("x is required")
	}
	bins, err := intArg(p.kw, "nbins", 0)
	if err != nil {
		return err
	}
	traces, err := p.split("hist", name, nil, values)
	if err != nil {
		return err
	}
	for _, t := range traces {
		t.NBins = bins
	}
	p.fig.Layout.XTitle = p.label(name)
	p.fig.Layout.YTitle = "count"
	return nil
}

func (p *pxPlot) box() error {
	ys, yname, err := p.column("y")
	if err != nil {
		return err
	}
	if ys == nil && p.series != nil {
		ys, yname = p.series.col.Values, p.series.col.Name
	}
	if ys == nil {
		return fmt.Errorf("y is required")
	}
	xs, xname, err := p.column("x")
	if err != nil {
		return err
	}
	if _, err := p.split("box", yname, xs, ys); err != nil {
		return err
	}
	p.fig.Layout.XTitle = p.label(xname)
	p.fig.Layout.YTitle = p.label(yname)
	return nil
}

func (p *pxPlot) pie() error {
	values, _, err := p.column("values")
	if err != nil {
		return err
	}
	names, _, err := p.column("names")
	if err != nil {
		return err
	}
	if p.series != nil && values == nil {
		values = p.series.col.Values
		if names == nil {
			names = seriesLabels(p.series)
		}
	}
	switch {
	case values == nil && names == nil:
		return fmt.Errorf("names or values is required")
	case values == nil:
		names, values = countBy(names)
	case names == nil:
		names = rowNumbers(len(values))
	}
	_, err = draw(p.thread, p.fig, "pie", "", names, values)
	return err
}

// pyplotModule returns the plt binding. Drawing functions target the
// current figure, created on first use.
func pyplotModule() *starlarkstruct.Module {
	members := starlark.StringDict{
		"figure":   starlark.NewBuiltin("figure", pltFigure),
		"subplots": starlark.NewBuiltin("subplots", pltSubplots),
		"gcf":      starlark.NewBuiltin("gcf", pltGcf),
		"gca":      starlark.NewBuiltin("gca", pltGca),
		"close":    starlark.NewBuiltin("close", pltClose),
		"title":    starlark.NewBuiltin("title", onCurrent(axesFuncs["set_title"])),
		"xlabel":   starlark.NewBuiltin("xlabel", onCurrent(axesFuncs["set_xlabel"])),
		"ylabel":   starlark.NewBuiltin("ylabel", onCurrent(axesFuncs["set_ylabel"])),
		"suptitle": starlark.NewBuiltin("suptitle", onCurrent(axesFuncs["set_title"])),
	}
	for _, name := range []string{"bar", "barh", "plot", "scatter", "pie", "hist", "legend"} {
		members[name] = starlark.NewBuiltin(name, onCurrent(axesFuncs[name]))
	}
	for _, name := range []string{"show", "tight_layout", "grid", "xticks", "yticks", "xlim", "ylim", "savefig", "axhline", "axvline", "text", "annotate"} {
		members[name] = starlark.NewBuiltin(name, noop)
	}
	return &starlarkstruct.Module{Name: "plt", Members: members}
}

func pltFigure(thread *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	f := newFigure()
	plotsOf(thread).current = f
	return f, nil
}

// pltSubplots returns (fig, ax). With several subplots every axes value
// draws into the one figure.
func pltSubplots(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kw := kwargsOf(kwargs)
	for i, name := range []string{"nrows", "ncols"} {
		if i < len(args) {
			kw[name] = args[i]
		}
	}
	nrows, err := intArg(kw, "nrows", 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	ncols, err := intArg(kw, "ncols", 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	f := newFigure()
	plotsOf(thread).current = f
	if nrows*ncols <= 1 {
		return starlark.Tuple{f, f.axes}, nil
	}
	row := func(n int) *starlark.List {
		out := make([]starlark.Value, n)
		for i := range out {
			out[i] = f.axes
		}
		return starlark.NewList(out)
	}
	if nrows == 1 || ncols == 1 {
		return starlark.Tuple{f, row(nrows * ncols)}, nil
	}
	grid := make([]starlark.Value, nrows)
	for i := range grid {
		grid[i] = row(ncols)
	}
	return starlark.Tuple{f, starlark.NewList(grid)}, nil
}

func pltGcf(thread *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return plotsOf(thread).figure(), nil
}

func pltGca(thread *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return plotsOf(thread).figure().axes, nil
}

func pltClose(thread *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	plotsOf(thread).current = nil
	return starlark.None, nil
}

// seabornModule returns the sns binding. Functions draw on ax= or the
// current axes and return the axes.
func seabornModule() *starlarkstruct.Module {
	members := starlark.StringDict{
		"set_theme": starlark.NewBuiltin("set_theme", noop),
		"set_style": starlark.NewBuiltin("set_style", noop),
		"set":       starlark.NewBuiltin("set", noop),
	}
	for _, kind := range []string{"barplot", "lineplot", "scatterplot", "histplot", "boxplot", "countplot"} {
		members[kind] = starlark.NewBuiltin(kind, snsPlot(kind))
	}
	return &starlarkstruct.Module{Name: "sns", Members: members}
}

func snsPlot(kind string) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		kw := kwargsOf(kwargs)
		for i, name := range []string{"data", "x", "y"} {
			if i < len(args) {
				kw[name] = args[i]
			}
		}
		ax, ok := kw["ax"].(*Axes)
		if !ok {
			ax = plotsOf(thread).figure().axes
		}
		df, _, err := plotData(kw["data"])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		xs, xname, err := plotColumn(df, kw["x"])
		if err != nil {
			return nil, fmt.Errorf("%s: x: %w", b.Name(), err)
		}
		ys, yname, err := plotColumn(df, kw["y"])
		if err != nil {
			return nil, fmt.Errorf("%s: y: %w", b.Name(), err)
		}
		hue := groupColumn(df, kw["hue"])

		s := &snsPlotter{thread: thread, fig: ax.figure.chart}
		if hue == nil {
			err = s.draw(kind, "", xs, ys)
		} else {
			labels, rows := partition(hue)
			for i, l := range labels {
				var gx, gy []any
				if xs != nil {
					gx = takeCells(xs, rows[i])
				}
				if ys != nil {
					gy = takeCells(ys, rows[i])
				}
				if err = s.draw(kind, frame.FormatValue(l), gx, gy); err != nil {
					break
				}
			}
			ax.figure.chart.Layout.ShowLegend = true
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		l := &ax.figure.chart.Layout
		if l.XTitle == "" {
			l.XTitle = xname
		}
		if l.YTitle == "" {
			l.YTitle = yname
			if kind == "countplot" || kind == "histplot" {
				l.YTitle = "count"
			}
		}
		return ax, nil
	}
}

type snsPlotter struct {
	thread *starlark.Thread
	fig    *chart.Figure
}

// isCategorical reports whether the values are labels rather than numbers.
func isCategorical(values []any) bool {
	for _, v := range values {
		if frame.IsNull(v) {
			continue
		}
		return !frame.KindOf(v).IsNumeric()
	}
	return false
}

func (s *snsPlotter) draw(kind, name string, xs, ys []any) error {
	switch kind {
	case "barplot":
		if xs == nil || ys == nil {
			return fmt.Errorf("x and y are required")
		}
		// Bars run along whichever axis holds the categories.
		if isCategorical(ys) && !isCategorical(xs) {
			labels, means, err := meanBy(ys, xs)
			if err != nil {
				return err
			}
			_, err = draw(s.thread, s.fig, "barh", name, labels, means)
			return err
		}
		labels, means, err := meanBy(xs, ys)
		if err != nil {
			return err
		}
		_, err = draw(s.thread, s.fig, "bar", name, labels, means)
		return err
	case "countplot":
		if xs == nil {
			if ys == nil {
				return fmt.Errorf("x or y is required")
			}
			labels, counts := countBy(ys)
			_, err := draw(s.thread, s.fig, "barh", name, labels, counts)
			return err
		}
		labels, counts := countBy(xs)
		_, err := draw(s.thread, s.fig, "bar", name, labels, counts)
		return err
	case "lineplot":
		if xs == nil || ys == nil {
			return fmt.Errorf("x and y are required")
		}
		labels, means, err := meanBy(xs, ys)
		if err != nil {
			return err
		}
		labels, means = sortedBy(labels, means)
		_, err = draw(s.thread, s.fig, "line", name, labels, means)
		return err
	case "scatterplot":
		if xs == nil || ys == nil {
			return fmt.Errorf("x and y are required")
		}
		_, err := draw(s.thread, s.fig, "scatter", name, xs, ys)
		return err
	case "histplot":
		values := xs
		if values == nil {
			values = ys
		}
		if values == nil {
			return fmt.Errorf("x or y is required")
		}
		_, err := draw(s.thread, s.fig, "hist", name, nil, values)
		return err
	case "boxplot":
		if ys == nil {
			xs, ys = nil, xs
		}
		if ys == nil {
			return fmt.Errorf("x or y is required")
		}
		_, err := draw(s.thread, s.fig, "box", name, xs, ys)
		return err
	}
	return fmt.Errorf("unsupported plot %q", kind)
}
