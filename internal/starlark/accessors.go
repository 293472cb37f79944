package starlark

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/frame"
	"go.starlark.net/starlark"
)

// DatetimeAccessor implements series.dt.
type DatetimeAccessor struct{ s *Series }

func (a *DatetimeAccessor) String() string        { return "<dt accessor>" }
func (a *DatetimeAccessor) Type() string          { return "DatetimeAccessor" }
func (a *DatetimeAccessor) Freeze()               {}
func (a *DatetimeAccessor) Truth() starlark.Bool  { return true }
func (a *DatetimeAccessor) Hash() (uint32, error) { return unhashable(a) }

var dtFields = map[string]func(time.Time) any{
	"year":      func(t time.Time) any { return int64(t.Year()) },
	"month":     func(t time.Time) any { return int64(t.Month()) },
	"day":       func(t time.Time) any { return int64(t.Day()) },
	"hour":      func(t time.Time) any { return int64(t.Hour()) },
	"minute":    func(t time.Time) any { return int64(t.Minute()) },
	"second":    func(t time.Time) any { return int64(t.Second()) },
	"quarter":   func(t time.Time) any { return int64((int(t.Month())-1)/3 + 1) },
	"dayofweek": func(t time.Time) any { return int64((int(t.Weekday()) + 6) % 7) },
	"weekday":   func(t time.Time) any { return int64((int(t.Weekday()) + 6) % 7) },
	"dayofyear": func(t time.Time) any { return int64(t.YearDay()) },
	"week":      func(t time.Time) any { _, w := t.ISOWeek(); return int64(w) },
	"date": func(t time.Time) any {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	},
}

func (a *DatetimeAccessor) Attr(name string) (starlark.Value, error) {
	if fn, ok := dtFields[name]; ok {
		return a.apply(fn)
	}
	if name == "days" {
		// Timestamp differences are day counts.
		return a.s.mapCells(func(v any) (any, error) {
			f, ok := frame.ToFloat(v)
			if !ok || frame.IsNull(v) {
				return nil, nil
			}
			return int64(math.Floor(f)), nil
		})
	}
	return builtinAttr(a, name, dtMethods)
}

func (a *DatetimeAccessor) AttrNames() []string {
	names := []string{"days"}
	for name := range dtFields {
		names = append(names, name)
	}
	return append(names, builtinAttrNames(dtMethods)...)
}

func (a *DatetimeAccessor) apply(fn func(time.Time) any) (*Series, error) {
	return a.s.mapCells(func(v any) (any, error) {
		switch t := v.(type) {
		case time.Time:
			return fn(t), nil
		case nil:
			return nil, nil
		case string:
			parsed, err := frame.ParseTime(t)
			if err != nil {
				return nil, fmt.Errorf(".dt accessor: %w", err)
			}
			return fn(parsed), nil
		}
		return nil, fmt.Errorf(".dt accessor requires datetime values, got %s", frame.KindOf(v))
	})
}

var dtMethods map[string]*starlark.Builtin

func init() {
	dtMethods = builtinMap(map[string]builtinFunc{
		"strftime":   dtStrftime,
		"to_period":  dtToPeriod,
		"month_name": dtName(func(t time.Time) string { return t.Month().String() }),
		"day_name":   dtName(func(t time.Time) string { return t.Weekday().String() }),
	})
}

func recvDt(b *starlark.Builtin) *DatetimeAccessor {
	return b.Receiver().(*DatetimeAccessor)
}

func dtStrftime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var format string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "date_format", &format); err != nil {
		return nil, err
	}
	return recvDt(b).apply(func(t time.Time) any { return Strftime(t, format) })
}

func dtName(fn func(time.Time) string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		return recvDt(b).apply(func(t time.Time) any { return fn(t) })
	}
}

func dtToPeriod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var freq string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "freq", &freq); err != nil {
		return nil, err
	}
	fn, err := periodFormatter(freq)
	if err != nil {
		return nil, err
	}
	return recvDt(b).apply(func(t time.Time) any { return fn(t) })
}

func periodFormatter(freq string) (func(time.Time) string, error) {
	switch strings.ToUpper(freq) {
	case "D":
		return func(t time.Time) string { return t.Format(time.DateOnly) }, nil
	case "W":
		return func(t time.Time) string {
			start := t.AddDate(0, 0, -((int(t.Weekday()) + 6) % 7))
			return start.Format(time.DateOnly) + "/" + start.AddDate(0, 0, 6).Format(time.DateOnly)
		}, nil
	case "M", "ME":
		return func(t time.Time) string { return t.Format("2006-01") }, nil
	case "Q", "QE":
		return func(t time.Time) string { return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1) }, nil
	case "Y", "YE", "A":
		return func(t time.Time) string { return strconv.Itoa(t.Year()) }, nil
	}
	return nil, fmt.Errorf("to_period: unsupported frequency %q (use D, W, M, Q or Y)", freq)
}

// Strftime formats t with C-style directives such as %Y, %m and %d.
// Unknown directives are copied verbatim.
func Strftime(t time.Time, format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			sb.WriteString(strconv.Itoa(t.Year()))
		case 'y':
			sb.WriteString(t.Format("06"))
		case 'm':
			sb.WriteString(t.Format("01"))
		case 'd':
			sb.WriteString(t.Format("02"))
		case 'H':
			sb.WriteString(t.Format("15"))
		case 'I':
			sb.WriteString(t.Format("03"))
		case 'M':
			sb.WriteString(t.Format("04"))
		case 'S':
			sb.WriteString(t.Format("05"))
		case 'p':
			sb.WriteString(t.Format("PM"))
		case 'B':
			sb.WriteString(t.Month().String())
		case 'b':
			sb.WriteString(t.Format("Jan"))
		case 'A':
			sb.WriteString(t.Weekday().String())
		case 'a':
			sb.WriteString(t.Format("Mon"))
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}

// StringAccessor implements series.str.
type StringAccessor struct{ s *Series }

func (a *StringAccessor) String() string        { return "<str accessor>" }
func (a *StringAccessor) Type() string          { return "StringAccessor" }
func (a *StringAccessor) Freeze()               {}
func (a *StringAccessor) Truth() starlark.Bool  { return true }
func (a *StringAccessor) Hash() (uint32, error) { return unhashable(a) }

func (a *StringAccessor) Attr(name string) (starlark.Value, error) {
	return builtinAttr(a, name, strMethods)
}

func (a *StringAccessor) AttrNames() []string {
	return builtinAttrNames(strMethods)
}

func (a *StringAccessor) apply(fn func(string) any, na any) (*Series, error) {
	return a.s.mapCells(func(v any) (any, error) {
		switch x := v.(type) {
		case string:
			return fn(x), nil
		case nil:
			return na, nil
		}
		if frame.IsNull(v) {
			return na, nil
		}
		return nil, fmt.Errorf(".str accessor requires string values, got %s", frame.KindOf(v))
	})
}

var strMethods map[string]*starlark.Builtin

func init() {
	strMethods = builtinMap(map[string]builtinFunc{
		"lower":      strMap(strings.ToLower),
		"upper":      strMap(strings.ToUpper),
		"strip":      strMap(strings.TrimSpace),
		"title":      strMap(titleCase),
		"len":        strLen,
		"contains":   strContains,
		"startswith": strAffix(strings.HasPrefix),
		"endswith":   strAffix(strings.HasSuffix),
		"replace":    strReplace,
	})
}

func recvStr(b *starlark.Builtin) *StringAccessor {
	return b.Receiver().(*StringAccessor)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func strMap(fn func(string) string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return recvStr(b).apply(func(s string) any { return fn(s) }, nil)
	}
}

func strLen(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return recvStr(b).apply(func(s string) any { return int64(len([]rune(s))) }, nil)
}

func strContains(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		pat   string
		cased = true
		na    starlark.Value
		regex = true
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pat", &pat, "case?", &cased, "na?", &na, "regex?", &regex); err != nil {
		return nil, err
	}
	naCell := any(false)
	if na != nil {
		c, err := toCell(na)
		if err != nil {
			return nil, err
		}
		naCell = c
	}
	if !cased {
		pat = strings.ToLower(pat)
	}
	return recvStr(b).apply(func(s string) any {
		if !cased {
			s = strings.ToLower(s)
		}
		return strings.Contains(s, pat)
	}, naCell)
}

func strAffix(fn func(string, string) bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pat string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &pat); err != nil {
			return nil, err
		}
		return recvStr(b).apply(func(s string) any { return fn(s, pat) }, false)
	}
}

func strReplace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var old, repl string
	regex := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pat", &old, "repl", &repl, "regex?", &regex); err != nil {
		return nil, err
	}
	return recvStr(b).apply(func(s string) any { return strings.ReplaceAll(s, old, repl) }, nil)
}
