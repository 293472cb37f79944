package frame

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrLimit is returned when an operation would produce more rows than the
// caller allowed.
var ErrLimit = errors.New("row limit exceeded")

// CastValue converts a single cell to the target kind. Nulls stay null.
func CastValue(v any, kind Kind) (any, error) {
	if IsNull(v) {
		return nil, nil
	}
	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return FormatValue(v), nil
	case KindFloat:
		if f, ok := ToFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to float", s)
			}
			return f, nil
		}
	case KindInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case bool:
			return int64(boolInt(x)), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", x)
			}
			return n, nil
		}
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case float64:
			return x != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to bool", x)
			}
			return b, nil
		}
	case KindTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return ParseTime(strings.TrimSpace(x))
		}
	case KindAny:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", KindOf(v), kind)
}

// Op is a binary arithmetic operator.
type Op byte

// Arithmetic operators.
const (
	OpAdd      Op = '+'
	OpSub      Op = '-'
	OpMul      Op = '*'
	OpDiv      Op = '/'
	OpFloorDiv Op = 'f'
	OpMod      Op = '%'
)

// Arith applies op to two cells with Python semantics. Nulls propagate.
func Arith(op Op, x, y any) (any, error) {
	if IsNull(x) || IsNull(y) {
		return nil, nil
	}
	if xs, ok := x.(string); ok {
		if ys, ok := y.(string); ok && op == OpAdd {
			return xs + ys, nil
		}
		return nil, fmt.Errorf("unsupported operand types for %c: string and %s", op, KindOf(y))
	}
	if xt, ok := x.(time.Time); ok {
		return timeArith(op, xt, y)
	}
	xi, xInt := x.(int64)
	yi, yInt := y.(int64)
	if xInt && yInt {
		switch op {
		case OpAdd:
			return xi + yi, nil
		case OpSub:
			return xi - yi, nil
		case OpMul:
			return xi * yi, nil
		case OpFloorDiv:
			if yi == 0 {
				return nil, errors.New("integer division by zero")
			}
			q := xi / yi
			if (xi%yi != 0) && ((xi < 0) != (yi < 0)) {
				q--
			}
			return q, nil
		case OpMod:
			if yi == 0 {
				return nil, errors.New("integer modulo by zero")
			}
			m := xi % yi
			if m != 0 && ((m < 0) != (yi < 0)) {
				m += yi
			}
			return m, nil
		}
	}
	xf, ok1 := ToFloat(x)
	yf, ok2 := ToFloat(y)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unsupported operand types for %c: %s and %s", op, KindOf(x), KindOf(y))
	}
	switch op {
	case OpAdd:
		return xf + yf, nil
	case OpSub:
		return xf - yf, nil
	case OpMul:
		return xf * yf, nil
	case OpDiv:
		if yf == 0 {
			return math.NaN(), nil
		}
		return xf / yf, nil
	case OpFloorDiv:
		if yf == 0 {
			return math.NaN(), nil
		}
		return math.Floor(xf / yf), nil
	case OpMod:
		if yf == 0 {
			return math.NaN(), nil
		}
		m := math.Mod(xf, yf)
		if m != 0 && ((m < 0) != (yf < 0)) {
			m += yf
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown operator %c", op)
}

// timeArith supports timestamp differences (in days) and shifting a
// timestamp by a number of days.
func timeArith(op Op, x time.Time, y any) (any, error) {
	switch yv := y.(type) {
	case time.Time:
		if op == OpSub {
			return x.Sub(yv).Hours() / 24, nil
		}
	default:
		if days, ok := ToFloat(yv); ok {
			d := time.Duration(days * 24 * float64(time.Hour))
			switch op {
			case OpAdd:
				return x.Add(d), nil
			case OpSub:
				return x.Add(-d), nil
			}
		}
	}
	return nil, fmt.Errorf("unsupported operand types for %c: datetime and %s", op, KindOf(y))
}

// CompareOp is an elementwise comparison.
type CompareOp string

// Comparison operators.
const (
	CmpEq CompareOp = "eq"
	CmpNe CompareOp = "ne"
	CmpGt CompareOp = "gt"
	CmpGe CompareOp = "ge"
	CmpLt CompareOp = "lt"
	CmpLe CompareOp = "le"
)

// Test applies a comparison to two cells. Comparisons with null are false,
// except "ne" which is true.
func Test(op CompareOp, x, y any) (bool, error) {
	if IsNull(x) || IsNull(y) {
		return op == CmpNe, nil
	}
	// Compare timestamps against strings by parsing the string.
	if _, ok := x.(time.Time); ok {
		if s, ok := y.(string); ok {
			t, err := ParseTime(s)
			if err != nil {
				return false, err
			}
			y = t
		}
	}
	if op != CmpEq && op != CmpNe {
		kx, ky := KindOf(x), KindOf(y)
		if kx != ky && !(isNumber(x) && isNumber(y)) {
			return false, fmt.Errorf("cannot compare %s with %s", kx, ky)
		}
	}
	c := Compare(x, y)
	switch op {
	case CmpEq:
		return c == 0, nil
	case CmpNe:
		return c != 0, nil
	case CmpGt:
		return c > 0, nil
	case CmpGe:
		return c >= 0, nil
	case CmpLt:
		return c < 0, nil
	case CmpLe:
		return c <= 0, nil
	}
	return false, fmt.Errorf("unknown comparison %q", op)
}
