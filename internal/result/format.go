package result

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NullDisplay is how a missing cell is shown.
const NullDisplay = "NULL"

var printer = message.NewPrinter(language.English)

// FormatCell formats a table cell. Integers are left ungrouped since they
// are usually identifiers; floats are grouped and kept to two decimals.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return NullDisplay
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case time.Time:
		return formatTime(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	}
	return formatComposite(v)
}

// FormatScalar formats a single answer value. Unlike cells, integers are
// grouped.
func FormatScalar(v any) string {
	if n, ok := v.(int64); ok {
		return printer.Sprintf("%d", n)
	}
	return FormatCell(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return NullDisplay
	case f != 0 && math.Abs(f) < 0.01:
		return strconv.FormatFloat(f, 'g', 4, 64)
	}
	return printer.Sprintf("%.2f", f)
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.DateTime)
}

// formatComposite renders nested list and dict values compactly.
func formatComposite(v any) string {
	switch x := v.(type) {
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = FormatCell(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any, []Entry:
		b, err := json.Marshal(jsonSafe(x))
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}
