// Package frame provides the immutable in-memory tables that back datasets
// and every tabular value produced inside the sandbox.
//
// A Frame is a set of equally long named columns. Cell values are one of
// nil, bool, int64, float64, string or time.Time. Frames and columns are
// never mutated after construction: every operation returns a new Frame that
// may share column storage with its input.
package frame

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the semantic type of a column.
type Kind int

// Column kinds.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindAny
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindTime:   "datetime",
	KindAny:    "object",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindNull, fmt.Errorf("unknown column kind %q", s)
}

// IsNumeric reports whether values of the kind support arithmetic.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat || k == KindBool
}

// KindOf returns the kind of a single cell value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case string:
		return KindString
	case time.Time:
		return KindTime
	default:
		return KindAny
	}
}

// Normalize converts common Go scalar types into the canonical cell types.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return int64(x) //nolint:gosec // table cells never approach the int64 range
	case uint64:
		return int64(x) //nolint:gosec // table cells never approach the int64 range
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

// IsNull reports whether a cell is missing. NaN floats count as missing, as
// they do in pandas.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	if f, ok := v.(float64); ok {
		return math.IsNaN(f)
	}
	return false
}

// ToFloat converts numeric cells (and bools) to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// Compare orders two cells. Nulls sort first, numbers compare numerically
// across int and float, and values of different kinds order by kind.
func Compare(a, b any) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	if isNumber(a) && isNumber(b) {
		af, _ := ToFloat(a)
		bf, _ := ToFloat(b)
		return cmp.Compare(af, bf)
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmp.Compare(boolInt(av), boolInt(bv))
		}
	}
	if ka, kb := KindOf(a), KindOf(b); ka != kb {
		return cmp.Compare(ka, kb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Equal reports whether two cells are equal, treating 1 and 1.0 as equal.
func Equal(a, b any) bool {
	if IsNull(a) || IsNull(b) {
		return false
	}
	return Compare(a, b) == 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// keyOf encodes a cell as a map key for grouping and joins. Integral floats
// share the key of the matching int.
func keyOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case int64:
		return "n" + strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) {
			return "\x00"
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return "n" + strconv.FormatInt(int64(x), 10)
		}
		return "n" + strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "s" + x
	case bool:
		return "b" + strconv.FormatBool(x)
	case time.Time:
		return "t" + x.UTC().Format(time.RFC3339Nano)
	default:
		return "o" + fmt.Sprint(x)
	}
}

// Key encodes a cell so that equal cells share a key.
func Key(v any) string { return keyOf(v) }

func rowKey(cols []*Column, row int) string {
	if len(cols) == 1 {
		return keyOf(cols[0].Values[row])
	}
	var sb strings.Builder
	for i, c := range cols {
		if i > 0 {
			sb.WriteByte('\x1f')
		}
		sb.WriteString(keyOf(c.Values[row]))
	}
	return sb.String()
}

// FormatValue renders a cell for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NaN"
	case float64:
		if math.IsNaN(x) {
			return "NaN"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}
