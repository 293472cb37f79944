package frame

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Reducers lists the aggregation functions accepted by Reduce.
var Reducers = []string{"sum", "mean", "median", "min", "max", "std", "var", "count", "nunique", "first", "last", "size"}

// IsReducer reports whether name is a known aggregation.
func IsReducer(name string) bool {
	return slices.Contains(Reducers, name)
}

// Reduce aggregates the cells with the named function. Nulls are skipped,
// except by "size".
func Reduce(fn string, values []any) (any, error) {
	switch fn {
	case "size":
		return int64(len(values)), nil
	case "count":
		n := 0
		for _, v := range values {
			if !IsNull(v) {
				n++
			}
		}
		return int64(n), nil
	case "nunique":
		c := &Column{Values: values}
		return int64(len(c.Unique())), nil
	case "first", "last":
		var out any
		for _, v := range values {
			if IsNull(v) {
				continue
			}
			out = v
			if fn == "first" {
				break
			}
		}
		return out, nil
	case "min", "max":
		var best any
		for _, v := range values {
			if IsNull(v) {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := Compare(v, best)
			if (fn == "min" && c < 0) || (fn == "max" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "sum":
		return sum(values)
	case "mean", "median", "std", "var":
		nums, err := floats(fn, values)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return math.NaN(), nil
		}
		switch fn {
		case "mean":
			return mean(nums), nil
		case "median":
			return median(nums), nil
		case "var":
			return variance(nums), nil
		default:
			return math.Sqrt(variance(nums)), nil
		}
	}
	return nil, fmt.Errorf("unknown aggregation %q (expected one of %v)", fn, Reducers)
}

// sum keeps integer sums integral, as pandas does.
func sum(values []any) (any, error) {
	var (
		isum    int64
		fsum    float64
		isFloat bool
	)
	for _, v := range values {
		if IsNull(v) {
			continue
		}
		switch x := v.(type) {
		case int64:
			isum += x
		case bool:
			isum += int64(boolInt(x))
		case float64:
			fsum += x
			isFloat = true
		default:
			return nil, fmt.Errorf("sum: unsupported %s value", KindOf(v))
		}
	}
	if isFloat {
		return fsum + float64(isum), nil
	}
	return isum, nil
}

func floats(fn string, values []any) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if IsNull(v) {
			continue
		}
		f, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%s: unsupported %s value", fn, KindOf(v))
		}
		out = append(out, f)
	}
	return out, nil
}

func mean(nums []float64) float64 {
	var s float64
	for _, n := range nums {
		s += n
	}
	return s / float64(len(nums))
}

func median(nums []float64) float64 {
	s := slices.Clone(nums)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// variance is the sample variance (ddof=1), matching pandas defaults.
func variance(nums []float64) float64 {
	if len(nums) < 2 {
		return math.NaN()
	}
	m := mean(nums)
	var ss float64
	for _, n := range nums {
		ss += (n - m) * (n - m)
	}
	return ss / float64(len(nums)-1)
}

// Percentile returns the q-th percentile (0-100) with linear interpolation.
func Percentile(values []any, q float64) (float64, error) {
	if math.IsNaN(q) || q < 0 || q > 100 {
		return 0, fmt.Errorf("percentile must be between 0 and 100, got %v", q)
	}
	nums, err := floats("percentile", values)
	if err != nil {
		return 0, err
	}
	if len(nums) == 0 {
		return math.NaN(), nil
	}
	sort.Float64s(nums)
	pos := q / 100 * float64(len(nums)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return nums[lo], nil
	}
	return nums[lo] + (nums[hi]-nums[lo])*(pos-float64(lo)), nil
}
