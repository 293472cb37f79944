package starlark

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
)

// plotState tracks the current matplotlib-style figure of a thread.
type plotState struct {
	current *Figure
}

func plotsOf(thread *starlark.Thread) *plotState {
	p, _ := thread.Local(plotKey).(*plotState)
	if p == nil {
		p = &plotState{}
		thread.SetLocal(plotKey, p)
	}
	return p
}

// figure returns the current figure, creating one on first use.
func (p *plotState) figure() *Figure {
	if p.current == nil {
		p.current = newFigure()
	}
	return p.current
}

// Figure is a chart under construction. Plotly-style calls build it
// directly; matplotlib-style calls draw on its single Axes.
type Figure struct {
	chart *chart.Figure
	axes  *Axes
}

var _ starlark.HasAttrs = (*Figure)(nil)

func newFigure() *Figure {
	f := &Figure{chart: chart.New()}
	f.axes = &Axes{figure: f}
	return f
}

// Chart returns the figure model.
func (f *Figure) Chart() *chart.Figure { return f.chart }

func (f *Figure) String() string        { return f.chart.Summary() }
func (f *Figure) Type() string          { return "Figure" }
func (f *Figure) Freeze()               {}
func (f *Figure) Truth() starlark.Bool  { return true }
func (f *Figure) Hash() (uint32, error) { return unhashable(f) }

func (f *Figure) Attr(name string) (starlark.Value, error) {
	if name == "axes" {
		return starlark.NewList([]starlark.Value{f.axes}), nil
	}
	return builtinAttr(f, name, figureMethods)
}

func (f *Figure) AttrNames() []string {
	return append([]string{"axes"}, builtinAttrNames(figureMethods)...)
}

// Axes is the drawing surface of a Figure. Subplots share it: every
// subplot draws into the same figure.
type Axes struct {
	figure *Figure
}

var _ starlark.HasAttrs = (*Axes)(nil)

// Figure returns the figure the axes draw into.
func (ax *Axes) Figure() *Figure { return ax.figure }

func (ax *Axes) String() string        { return fmt.Sprintf("<Axes %q>", ax.figure.chart.Layout.Title) }
func (ax *Axes) Type() string          { return "Axes" }
func (ax *Axes) Freeze()               {}
func (ax *Axes) Truth() starlark.Bool  { return true }
func (ax *Axes) Hash() (uint32, error) { return unhashable(ax) }

func (ax *Axes) Attr(name string) (starlark.Value, error) {
	if name == "figure" {
		return ax.figure, nil
	}
	return builtinAttr(ax, name, axesMethods)
}

func (ax *Axes) AttrNames() []string {
	return append([]string{"figure"}, builtinAttrNames(axesMethods)...)
}

// AsChart returns the chart held by a Figure or Axes value.
func AsChart(v starlark.Value) (*chart.Figure, bool) {
	switch x := v.(type) {
	case *Figure:
		return x.chart, true
	case *Axes:
		return x.figure.chart, true
	}
	return nil, false
}

// draw adds one trace of the given plot kind. xs may be nil for kinds that
// only need values.
func draw(thread *starlark.Thread, fig *chart.Figure, kind, name string, xs, ys []any) (*chart.Trace, error) {
	if xs != nil && ys != nil && len(xs) != len(ys) && kind != "box" {
		return nil, fmt.Errorf("x and y must have the same length, got %d and %d", len(xs), len(ys))
	}
	t := &chart.Trace{Name: name}
	switch kind {
	case "line":
		t.Type, t.Mode, t.X, t.Y = chart.TraceScatter, "lines", xs, ys
	case "area":
		t.Type, t.Mode, t.Fill, t.X, t.Y = chart.TraceScatter, "lines", "tozeroy", xs, ys
	case "scatter":
		t.Type, t.Mode, t.X, t.Y = chart.TraceScatter, "markers", xs, ys
	case "bar":
		t.Type, t.X, t.Y = chart.TraceBar, xs, ys
	case "barh":
		t.Type, t.Orientation, t.X, t.Y = chart.TraceBar, "h", ys, xs
	case "hist":
		t.Type, t.X = chart.TraceHistogram, ys
	case "box":
		t.Type, t.X, t.Y = chart.TraceBox, xs, ys
	case "pie":
		t.Type, t.Labels, t.Values = chart.TracePie, xs, ys
	default:
		return nil, fmt.Errorf("unsupported plot kind %q (expected one of %v)", kind, plotKinds)
	}
	if err := charge(thread, t.Len()); err != nil {
		return nil, err
	}
	fig.AddTrace(t)
	return t, nil
}

var plotKinds = []string{"line", "bar", "barh", "scatter", "area", "hist", "box", "pie"}

func rowNumbers(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}

func takeCells(values []any, idx []int) []any {
	out := make([]any, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

// partition groups row numbers by key in order of first appearance. Null
// keys are dropped.
func partition(keys []any) ([]any, [][]int) {
	var labels []any
	var rows [][]int
	pos := map[string]int{}
	for i, k := range keys {
		if frame.IsNull(k) {
			continue
		}
		key := frame.Key(k)
		j, ok := pos[key]
		if !ok {
			j = len(labels)
			pos[key] = j
			labels = append(labels, k)
			rows = append(rows, nil)
		}
		rows[j] = append(rows[j], i)
	}
	return labels, rows
}

// meanBy averages ys for each distinct x.
func meanBy(xs, ys []any) ([]any, []any, error) {
	labels, rows := partition(xs)
	means := make([]any, len(labels))
	for i, idx := range rows {
		m, err := frame.Reduce("mean", takeCells(ys, idx))
		if err != nil {
			return nil, nil, err
		}
		means[i] = m
	}
	return labels, means, nil
}

func countBy(xs []any) ([]any, []any) {
	labels, rows := partition(xs)
	counts := make([]any, len(labels))
	for i, idx := range rows {
		counts[i] = int64(len(idx))
	}
	return labels, counts
}

// sortedBy reorders xs ascending, carrying ys along.
func sortedBy(xs, ys []any) ([]any, []any) {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int { return frame.Compare(xs[a], xs[b]) })
	return takeCells(xs, idx), takeCells(ys, idx)
}

// plotData accepts a DataFrame, a Series or a dict of columns.
func plotData(v starlark.Value) (*frame.Frame, *Series, error) {
	switch x := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil, nil
	case *DataFrame:
		return x.frame, nil, nil
	case *Series:
		return x.Frame(), x, nil
	case *starlark.Dict:
		f, err := frameFromDict(x, nil)
		return f, nil, err
	}
	return nil, nil, fmt.Errorf("data must be a DataFrame, got %s", v.Type())
}

// plotColumn resolves a plotting argument: a column of df, a Series or a
// list of values.
func plotColumn(df *frame.Frame, v starlark.Value) ([]any, string, error) {
	switch x := v.(type) {
	case nil, starlark.NoneType:
		return nil, "", nil
	case starlark.String:
		if df == nil {
			return nil, "", fmt.Errorf("column %q given without data", string(x))
		}
		c, ok := df.Column(string(x))
		if !ok {
			return nil, "", &frame.MissingColumnError{Name: string(x), Available: df.Names()}
		}
		return c.Values, c.Name, nil
	case *Series:
		return x.col.Values, x.col.Name, nil
	}
	cells, err := toCells(v)
	return cells, "", err
}

// groupColumn resolves color= and hue=. Values that are not columns, such
// as a literal color name, are ignored.
func groupColumn(df *frame.Frame, v starlark.Value) []any {
	switch x := v.(type) {
	case starlark.String:
		if df != nil {
			if c, ok := df.Column(string(x)); ok {
				return c.Values
			}
		}
	case *Series:
		return x.col.Values
	}
	return nil
}

func seriesLabels(s *Series) []any {
	out := make([]any, s.col.Len())
	for i := range out {
		out[i] = s.label(i)
	}
	return out
}

func titleText(v starlark.Value) string {
	switch x := v.(type) {
	case starlark.String:
		return string(x)
	case *starlark.Dict:
		if t, ok, _ := x.Get(starlark.String("text")); ok {
			return titleText(t)
		}
	}
	return ""
}

func noop(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.None, nil
}

var figureMethods map[string]*starlark.Builtin

func init() {
	figureMethods = builtinMap(map[string]builtinFunc{
		"update_layout":   figUpdateLayout,
		"update_xaxes":    figUpdateAxis(true),
		"update_yaxes":    figUpdateAxis(false),
		"update_traces":   noop,
		"show":            noop,
		"savefig":         noop,
		"tight_layout":    noop,
		"set_size_inches": noop,
		"suptitle":        figSuptitle,
		"add_subplot":     figAxes,
		"gca":             figAxes,
	})
}

func recvFigure(b *starlark.Builtin) *Figure {
	return b.Receiver().(*Figure)
}

func figUpdateLayout(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	l := &recvFigure(b).chart.Layout
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		switch name {
		case "title", "title_text":
			l.Title = titleText(kv[1])
		case "xaxis_title", "xaxis_title_text":
			l.XTitle = titleText(kv[1])
		case "yaxis_title", "yaxis_title_text":
			l.YTitle = titleText(kv[1])
		case "xaxis", "yaxis":
			d, ok := kv[1].(*starlark.Dict)
			if !ok {
				continue
			}
			if t, found, _ := d.Get(starlark.String("title")); found {
				if name == "xaxis" {
					l.XTitle = titleText(t)
				} else {
					l.YTitle = titleText(t)
				}
			}
		case "showlegend":
			l.ShowLegend = bool(kv[1].Truth())
		}
	}
	return starlark.None, nil
}

func figUpdateAxis(x bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		kw := kwargsOf(kwargs)
		v, ok := kw["title_text"]
		if !ok {
			v, ok = kw["title"]
		}
		if ok {
			l := &recvFigure(b).chart.Layout
			if x {
				l.XTitle = titleText(v)
			} else {
				l.YTitle = titleText(v)
			}
		}
		return starlark.None, nil
	}
}

// figSuptitle ignores styling keywords such as fontsize.
func figSuptitle(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	var t string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &t); err != nil {
		return nil, err
	}
	recvFigure(b).chart.Layout.Title = t
	return starlark.None, nil
}

func figAxes(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return recvFigure(b).axes, nil
}

// axesFunc draws on or decorates an Axes. The same functions back Axes
// methods and the plt module, which targets the current figure.
type axesFunc func(thread *starlark.Thread, ax *Axes, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var axesFuncs = map[string]axesFunc{
	"bar":        axBar("bar", "x", "height"),
	"barh":       axBar("barh", "y", "width"),
	"plot":       axPlot,
	"scatter":    axScatter,
	"pie":        axPie,
	"hist":       axHist,
	"set_title":  axLabel(func(l *chart.Layout, s string) { l.Title = s }),
	"set_xlabel": axLabel(func(l *chart.Layout, s string) { l.XTitle = s }),
	"set_ylabel": axLabel(func(l *chart.Layout, s string) { l.YTitle = s }),
	"legend":     axLegend,
}

// Styling calls that have no effect on the chart model.
var axesNoops = []string{
	"grid", "tick_params", "set_xticks", "set_yticks", "set_xticklabels", "set_yticklabels",
	"set_xlim", "set_ylim", "axhline", "axvline", "annotate", "text", "invert_yaxis", "margins",
}

var axesMethods map[string]*starlark.Builtin

func init() {
	fns := make(map[string]builtinFunc, len(axesFuncs)+len(axesNoops))
	for name, fn := range axesFuncs {
		fns[name] = onAxes(fn)
	}
	for _, name := range axesNoops {
		fns[name] = noop
	}
	axesMethods = builtinMap(fns)
}

func onAxes(fn axesFunc) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return fn(thread, b.Receiver().(*Axes), b.Name(), args, kwargs)
	}
}

func onCurrent(fn axesFunc) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return fn(thread, plotsOf(thread).figure().axes, b.Name(), args, kwargs)
	}
}

// labelArg returns the label= keyword used as the trace name.
func labelArg(fnname string, kw map[string]starlark.Value) (string, error) {
	s, err := stringArg(kw, "label")
	if err != nil {
		return "", fmt.Errorf("%s: %w", fnname, err)
	}
	return s, nil
}

func axBar(kind, xName, yName string) axesFunc {
	return func(thread *starlark.Thread, ax *Axes, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		kw := kwargsOf(kwargs)
		xs, _, err := plotColumn(nil, argOrKw(args, kw, 0, xName))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", fnname, xName, err)
		}
		ys, _, err := plotColumn(nil, argOrKw(args, kw, 1, yName))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", fnname, yName, err)
		}
		name, err := labelArg(fnname, kw)
		if err != nil {
			return nil, err
		}
		if _, err := draw(thread, ax.figure.chart, kind, name, xs, ys); err != nil {
			return nil, fmt.Errorf("%s: %w", fnname, err)
		}
		return starlark.None, nil
	}
}

// axPlot accepts plot(y), plot(x, y) and an optional trailing format
// string such as "o-".
func axPlot(thread *starlark.Thread, ax *Axes, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kw := kwargsOf(kwargs)
	mode := "lines"
	if n := len(args); n > 0 {
		if format, ok := args[n-1].(starlark.String); ok {
			args = args[:n-1]
			mode = lineMode(string(format))
		}
	}
	if _, ok := kw["marker"]; ok && mode == "lines" {
		mode = "lines+markers"
	}
	var xs, ys []any
	var err error
	switch len(args) {
	case 1:
		if s, ok := args[0].(*Series); ok {
			xs, ys = seriesLabels(s), s.col.Values
		} else if ys, err = toCells(args[0]); err == nil {
			xs = rowNumbers(len(ys))
		}
	case 2:
		if xs, err = toCells(args[0]); err == nil {
			ys, err = toCells(args[1])
		}
	default:
		return nil, fmt.Errorf("%s: expected y or x, y", fnname)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	name, err := labelArg(fnname, kw)
	if err != nil {
		return nil, err
	}
	t, err := draw(thread, ax.figure.chart, "line", name, xs, ys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	t.Mode = mode
	return starlark.None, nil
}

func lineMode(format string) string {
	marker := false
	for _, c := range format {
		if c == 'o' || c == '.' || c == 's' || c == '^' || c == '*' || c == 'x' || c == 'd' {
			marker = true
		}
	}
	switch {
	case marker && (len(format) == 1 || !containsDash(format)):
		return "markers"
	case marker:
		return "lines+markers"
	}
	return "lines"
}

func containsDash(s string) bool {
	for _, c := range s {
		if c == '-' || c == ':' {
			return true
		}
	}
	return false
}

func axScatter(thread *starlark.Thread, ax *Axes, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kw := kwargsOf(kwargs)
	xs, _, err := plotColumn(nil, argOrKw(args, kw, 0, "x"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	ys, _, err := plotColumn(nil, argOrKw(args, kw, 1, "y"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	name, err := labelArg(fnname, kw)
	if err != nil {
		return nil, err
	}
	if _, err := draw(thread, ax.figure.chart, "scatter", name, xs, ys); err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	return starlark.None, nil
}

func axPie(thread *starlark.Thread, ax *Axes, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kw := kwargsOf(kwargs)
	values, _, err := plotColumn(nil, argOrKw(args, kw, 0, "x"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	labels, _, err := plotColumn(nil, kw["labels"])
	if err != nil {
		return nil, fmt.Errorf("%s: labels: %w", fnname, err)
	}
	if labels == nil {
		labels = rowNumbers(len(values))
	}
	if _, err := draw(thread, ax.figure.chart, "pie", "", labels, values); err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	return starlark.None, nil
}

func axHist(thread *starlark.Thread, ax *Axes, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kw := kwargsOf(kwargs)
	values, _, err := plotColumn(nil, argOrKw(args, kw, 0, "x"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	name, err := labelArg(fnname, kw)
	if err != nil {
		return nil, err
	}
	t, err := draw(thread, ax.figure.chart, "hist", name, nil, values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnname, err)
	}
	if bins, ok := kw["bins"].(starlark.Int); ok {
		n, _ := bins.Int64()
		t.NBins = int(n)
	}
	return starlark.None, nil
}

func axLabel(set func(*chart.Layout, string)) axesFunc {
	return func(_ *starlark.Thread, ax *Axes, fnname string, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackPositionalArgs(fnname, args, nil, 1, &s); err != nil {
			return nil, err
		}
		set(&ax.figure.chart.Layout, s)
		return starlark.None, nil
	}
}

func axLegend(_ *starlark.Thread, ax *Axes, _ string, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	ax.figure.chart.Layout.ShowLegend = true
	return starlark.None, nil
}

// PlotAccessor implements series.plot and df.plot, both as a call with
// kind= and as attributes such as df.plot.bar().
type PlotAccessor struct {
	target starlark.Value
}

var (
	_ starlark.Callable = (*PlotAccessor)(nil)
	_ starlark.HasAttrs = (*PlotAccessor)(nil)
)

func (p *PlotAccessor) Name() string          { return "plot" }
func (p *PlotAccessor) String() string        { return "<plot accessor>" }
func (p *PlotAccessor) Type() string          { return "PlotAccessor" }
func (p *PlotAccessor) Freeze()               {}
func (p *PlotAccessor) Truth() starlark.Bool  { return true }
func (p *PlotAccessor) Hash() (uint32, error) { return unhashable(p) }

func (p *PlotAccessor) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kind := "line"
	var rest []starlark.Tuple
	for _, kv := range kwargs {
		if k, _ := starlark.AsString(kv[0]); k == "kind" {
			s, ok := starlark.AsString(kv[1])
			if !ok {
				return nil, fmt.Errorf("plot: kind must be a string")
			}
			kind = s
			continue
		}
		rest = append(rest, kv)
	}
	return pandasPlot(thread, p.target, kind, args, rest)
}

func (p *PlotAccessor) Attr(name string) (starlark.Value, error) {
	if !slices.Contains(plotKinds, name) {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return pandasPlot(thread, p.target, name, args, kwargs)
	}), nil
}

func (p *PlotAccessor) AttrNames() []string {
	return slices.Sorted(slices.Values(plotKinds))
}

// pandasPlot draws a Series or DataFrame on the current axes (or ax=) and
// returns the axes.
func pandasPlot(thread *starlark.Thread, target starlark.Value, kind string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kw := kwargsOf(kwargs)
	ax, ok := kw["ax"].(*Axes)
	if !ok {
		ax = plotsOf(thread).figure().axes
	}
	fig := ax.figure.chart

	switch t := target.(type) {
	case *Series:
		xs := seriesLabels(t)
		if kind == "hist" || kind == "box" {
			xs = nil
		}
		if _, err := draw(thread, fig, kind, t.col.Name, xs, t.col.Values); err != nil {
			return nil, fmt.Errorf("plot: %w", err)
		}
	case *DataFrame:
		df := t.frame
		for i, name := range []string{"x", "y"} {
			if i < len(args) {
				kw[name] = args[i]
			}
		}
		xs, xname, err := plotColumn(df, kw["x"])
		if err != nil {
			return nil, fmt.Errorf("plot: x: %w", err)
		}
		var ycols []string
		if y, ok := kw["y"]; ok && !isNone(y) {
			if ycols, err = toStrings(y); err != nil {
				return nil, fmt.Errorf("plot: y: %w", err)
			}
		} else {
			for _, c := range df.Columns() {
				if c.Name != xname && c.Kind.IsNumeric() {
					ycols = append(ycols, c.Name)
				}
			}
		}
		if len(ycols) == 0 {
			return nil, fmt.Errorf("plot: no numeric columns to plot")
		}
		if xs == nil && kind != "hist" && kind != "box" {
			xs = rowNumbers(df.NumRows())
		}
		for _, name := range ycols {
			c, ok := df.Column(name)
			if !ok {
				return nil, &frame.MissingColumnError{Name: name, Available: df.Names()}
			}
			if _, err := draw(thread, fig, kind, name, xs, c.Values); err != nil {
				return nil, fmt.Errorf("plot: %w", err)
			}
		}
		if xname != "" && fig.Layout.XTitle == "" {
			fig.Layout.XTitle = xname
		}
		if len(ycols) > 1 {
			fig.Layout.ShowLegend = true
		}
	}

	if title, err := stringArg(kw, "title"); err != nil {
		return nil, fmt.Errorf("plot: %w", err)
	} else if title != "" {
		fig.Layout.Title = title
	}
	if s, _ := stringArg(kw, "xlabel"); s != "" {
		fig.Layout.XTitle = s
	}
	if s, _ := stringArg(kw, "ylabel"); s != "" {
		fig.Layout.YTitle = s
	}
	return ax, nil
}
