package starlark

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/frame"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// pandasModule returns the pd binding.
func pandasModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "pd",
		Members: starlark.StringDict{
			"DataFrame":   starlark.NewBuiltin("DataFrame", pdDataFrame),
			"Series":      starlark.NewBuiltin("Series", pdSeries),
			"to_datetime": starlark.NewBuiltin("to_datetime", pdToDatetime),
			"to_numeric":  starlark.NewBuiltin("to_numeric", pdToNumeric),
			"Timestamp":   starlark.NewBuiltin("Timestamp", pdTimestamp),
			"Timedelta":   starlark.NewBuiltin("Timedelta", pdTimedelta),
			"concat":      starlark.NewBuiltin("concat", pdConcat),
			"merge":       starlark.NewBuiltin("merge", pdMerge),
			"isna":        starlark.NewBuiltin("isna", pdIsna(false)),
			"isnull":      starlark.NewBuiltin("isnull", pdIsna(false)),
			"notna":       starlark.NewBuiltin("notna", pdIsna(true)),
			"notnull":     starlark.NewBuiltin("notnull", pdIsna(true)),
			"NA":          starlark.None,
			"NaT":         starlark.None,
		},
	}
}

// pdDataFrame accepts a dict of columns or a list of row dicts.
func pdDataFrame(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data, columns starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data?", &data, "columns?", &columns); err != nil {
		return nil, err
	}
	var order []string
	if !isNone(columns) {
		var err error
		if order, err = toStrings(columns); err != nil {
			return nil, fmt.Errorf("DataFrame: columns: %w", err)
		}
	}

	var f *frame.Frame
	var err error
	switch d := data.(type) {
	case nil, starlark.NoneType:
		cols := make([]*frame.Column, len(order))
		for i, name := range order {
			cols[i] = frame.NewColumn(name, nil)
		}
		f, err = frame.New(cols...)
	case *starlark.Dict:
		f, err = frameFromDict(d, order)
	case *DataFrame:
		f = d.frame
		if order != nil {
			f, err = f.Select(order...)
		}
	case *starlark.List, starlark.Tuple:
		f, err = frameFromRows(d.(starlark.Indexable), order)
	default:
		return nil, fmt.Errorf("DataFrame: unsupported data of type %s", data.Type())
	}
	if err != nil {
		return nil, fmt.Errorf("DataFrame: %w", err)
	}
	return tableValue(thread, f)
}

func frameFromDict(d *starlark.Dict, order []string) (*frame.Frame, error) {
	items := d.Items()
	n := -1
	for _, item := range items {
		switch v := item[1].(type) {
		case *Series:
			n = max(n, v.col.Len())
		case *starlark.List, starlark.Tuple:
			n = max(n, v.(starlark.Sequence).Len())
		}
	}
	if n < 0 {
		n = 1
	}
	byName := make(map[string]*frame.Column, len(items))
	var names []string
	for _, item := range items {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("column names must be strings, got %s", item[0].Type())
		}
		c, err := columnFrom(name, item[1], n)
		if err != nil {
			return nil, err
		}
		byName[name] = c
		names = append(names, name)
	}
	if order != nil {
		names = order
	}
	cols := make([]*frame.Column, 0, len(names))
	for _, name := range names {
		c, ok := byName[name]
		if !ok {
			return nil, &frame.MissingColumnError{Name: name, Available: names}
		}
		cols = append(cols, c)
	}
	return frame.New(cols...)
}

// frameFromRows accepts a list of dicts, or a list of lists with columns=.
func frameFromRows(rows starlark.Indexable, order []string) (*frame.Frame, error) {
	var records []map[string]any
	names := order
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	for i := 0; i < rows.Len(); i++ {
		switch row := rows.Index(i).(type) {
		case *starlark.Dict:
			rec := make(map[string]any, row.Len())
			for _, item := range row.Items() {
				k, ok := starlark.AsString(item[0])
				if !ok {
					return nil, fmt.Errorf("row %d: keys must be strings", i)
				}
				c, err := toCell(item[1])
				if err != nil {
					return nil, fmt.Errorf("row %d: %w", i, err)
				}
				rec[k] = c
				if !seen[k] && order == nil {
					seen[k] = true
					names = append(names, k)
				}
			}
			records = append(records, rec)
		case *starlark.List, starlark.Tuple:
			seq := row.(starlark.Indexable)
			if order == nil || seq.Len() != len(order) {
				return nil, fmt.Errorf("row %d: list rows need columns= with %d names", i, seq.Len())
			}
			rec := make(map[string]any, seq.Len())
			for j := 0; j < seq.Len(); j++ {
				c, err := toCell(seq.Index(j))
				if err != nil {
					return nil, fmt.Errorf("row %d: %w", i, err)
				}
				rec[order[j]] = c
			}
			records = append(records, rec)
		default:
			return nil, fmt.Errorf("row %d: expected dict or list, got %s", i, row.Type())
		}
	}
	return frame.FromRecords(names, records)
}

func pdSeries(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data, index starlark.Value
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data", &data, "index?", &index, "name?", &name); err != nil {
		return nil, err
	}
	var values []any
	var labels []any
	if d, ok := data.(*starlark.Dict); ok {
		for _, item := range d.Items() {
			l, err := toCell(item[0])
			if err != nil {
				return nil, fmt.Errorf("Series: %w", err)
			}
			v, err := toCell(item[1])
			if err != nil {
				return nil, fmt.Errorf("Series: %w", err)
			}
			labels = append(labels, l)
			values = append(values, v)
		}
	} else {
		var err error
		if values, err = toCells(data); err != nil {
			return nil, fmt.Errorf("Series: %w", err)
		}
	}
	if !isNone(index) {
		var err error
		if labels, err = toCells(index); err != nil {
			return nil, fmt.Errorf("Series: index: %w", err)
		}
		if len(labels) != len(values) {
			return nil, fmt.Errorf("Series: index has %d labels for %d values", len(labels), len(values))
		}
	}
	if err := charge(thread, len(values)); err != nil {
		return nil, err
	}
	var idx *frame.Column
	if labels != nil {
		idx = frame.NewColumn("", labels)
	}
	return newSeries(name, values, idx), nil
}

func pdToDatetime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var arg starlark.Value
	var format, errorsMode string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "arg", &arg, "format?", &format, "errors?", &errorsMode); err != nil {
		return nil, err
	}
	parse := func(v any) (any, error) {
		switch x := v.(type) {
		case nil, time.Time:
			return x, nil
		case string:
			var t time.Time
			var err error
			if format != "" {
				t, err = time.Parse(strptimeLayout(format), strings.TrimSpace(x))
			} else {
				t, err = frame.ParseTime(strings.TrimSpace(x))
			}
			if err != nil {
				if errorsMode == "coerce" {
					return nil, nil
				}
				return nil, fmt.Errorf("to_datetime: %w", err)
			}
			return t, nil
		case int64:
			return time.Unix(x, 0).UTC(), nil
		}
		if errorsMode == "coerce" {
			return nil, nil
		}
		return nil, fmt.Errorf("to_datetime: cannot convert %s", frame.KindOf(v))
	}
	switch x := arg.(type) {
	case *Series:
		return x.mapCells(parse)
	case *starlark.List, starlark.Tuple:
		cells, err := toCells(x)
		if err != nil {
			return nil, err
		}
		s := newSeries("", cells, nil)
		return s.mapCells(parse)
	}
	c, err := toCell(arg)
	if err != nil {
		return nil, fmt.Errorf("to_datetime: %w", err)
	}
	t, err := parse(c)
	if err != nil {
		return nil, err
	}
	return cellValue(t), nil
}

// strptimeLayout translates C-style directives into a Go layout.
func strptimeLayout(format string) string {
	r := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02", "%H", "15", "%M", "04", "%S", "05",
		"%y", "06", "%b", "Jan", "%B", "January", "%p", "PM", "%I", "03", "%%", "%",
	)
	return r.Replace(format)
}

func pdToNumeric(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var arg starlark.Value
	errorsMode := "raise"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "arg", &arg, "errors?", &errorsMode); err != nil {
		return nil, err
	}
	conv := func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			if v == nil || frame.KindOf(v).IsNumeric() {
				return v, nil
			}
			s = frame.FormatValue(v)
		}
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			if errorsMode == "coerce" {
				return nil, nil
			}
			return nil, fmt.Errorf("to_numeric: cannot parse %q", s)
		}
		return f, nil
	}
	if s, ok := arg.(*Series); ok {
		return s.mapCells(conv)
	}
	c, err := toCell(arg)
	if err != nil {
		return nil, err
	}
	out, err := conv(c)
	if err != nil {
		return nil, err
	}
	return cellValue(out), nil
}

func pdTimestamp(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	t, err := frame.ParseTime(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("Timestamp: %w", err)
	}
	return startime.Time(t), nil
}

func pdTimedelta(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var days, hours, minutes, weeks starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "days?", &days, "hours?", &hours, "minutes?", &minutes, "weeks?", &weeks); err != nil {
		return nil, err
	}
	var total float64
	for _, part := range []struct {
		v    starlark.Value
		unit time.Duration
	}{{days, 24 * time.Hour}, {hours, time.Hour}, {minutes, time.Minute}, {weeks, 7 * 24 * time.Hour}} {
		if isNone(part.v) {
			continue
		}
		f, ok := toFloat(part.v)
		if !ok {
			return nil, fmt.Errorf("Timedelta: expected a number, got %s", part.v.Type())
		}
		total += f * float64(part.unit)
	}
	return startime.Duration(time.Duration(math.Round(total))), nil
}

func pdConcat(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var objs starlark.Value
	ignoreIndex := false
	axis := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "objs", &objs, "axis?", &axis, "ignore_index?", &ignoreIndex); err != nil {
		return nil, err
	}
	if axis != 0 {
		return nil, fmt.Errorf("concat: only axis=0 is supported")
	}
	seq, ok := objs.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("concat: expected a list of DataFrames or Series")
	}
	var frames []*frame.Frame
	var series []*Series
	for i := 0; i < seq.Len(); i++ {
		switch x := seq.Index(i).(type) {
		case *DataFrame:
			frames = append(frames, x.frame)
		case *Series:
			series = append(series, x)
		default:
			return nil, fmt.Errorf("concat: item %d is %s", i, x.Type())
		}
	}
	if len(frames) > 0 && len(series) > 0 {
		return nil, fmt.Errorf("concat: cannot mix DataFrames and Series")
	}
	if len(series) > 0 {
		var values []any
		for _, s := range series {
			values = append(values, s.col.Values...)
		}
		if err := charge(thread, len(values)); err != nil {
			return nil, err
		}
		return newSeries(series[0].col.Name, values, nil), nil
	}
	out, err := frame.Concat(frames...)
	if err != nil {
		return nil, fmt.Errorf("concat: %w", err)
	}
	return tableValue(thread, out)
}

func pdMerge(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("merge: missing left DataFrame")
	}
	left, ok := args[0].(*DataFrame)
	if !ok {
		return nil, fmt.Errorf("merge: left must be a DataFrame, got %s", args[0].Type())
	}
	return mergeFrames(thread, b.Name(), left.frame, args[1:], kwargs)
}

func pdIsna(negate bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		if s, ok := v.(*Series); ok {
			return s.mapCells(func(c any) (any, error) { return frame.IsNull(c) != negate, nil })
		}
		c, err := toCell(v)
		if err != nil {
			return starlark.Bool(negate), nil
		}
		return starlark.Bool(frame.IsNull(c) != negate), nil
	}
}
