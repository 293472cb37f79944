package frame

import (
	"fmt"
)

// MergeOptions configures a join. LeftOn and RightOn must have the same
// length; How is one of inner, left, right or outer.
type MergeOptions struct {
	LeftOn   []string
	RightOn  []string
	How      string
	Suffixes [2]string
	// MaxRows bounds the output size; 0 means unbounded.
	MaxRows int
}

// Merge joins two frames on key columns with pandas semantics: key columns
// with the same name on both sides appear once, other overlapping names get
// the suffixes.
func Merge(left, right *Frame, opts MergeOptions) (*Frame, error) {
	if len(opts.LeftOn) == 0 || len(opts.LeftOn) != len(opts.RightOn) {
		return nil, fmt.Errorf("merge requires matching key lists, got %v and %v", opts.LeftOn, opts.RightOn)
	}
	how := opts.How
	if how == "" {
		how = "inner"
	}
	switch how {
	case "inner", "left", "right", "outer":
	default:
		return nil, fmt.Errorf("merge: unsupported how=%q", how)
	}
	suffixes := opts.Suffixes
	if suffixes == [2]string{} {
		suffixes = [2]string{"_x", "_y"}
	}

	lkeys, err := keyColumns(left, opts.LeftOn)
	if err != nil {
		return nil, err
	}
	rkeys, err := keyColumns(right, opts.RightOn)
	if err != nil {
		return nil, err
	}

	rindex := make(map[string][]int, right.rows)
	for r := 0; r < right.rows; r++ {
		if hasNull(rkeys, r) {
			continue
		}
		k := rowKey(rkeys, r)
		rindex[k] = append(rindex[k], r)
	}

	var lidx, ridx []int
	matched := make([]bool, right.rows)
	for l := 0; l < left.rows; l++ {
		var hits []int
		if !hasNull(lkeys, l) {
			hits = rindex[rowKey(lkeys, l)]
		}
		for _, r := range hits {
			lidx = append(lidx, l)
			ridx = append(ridx, r)
			matched[r] = true
		}
		if len(hits) == 0 && (how == "left" || how == "outer") {
			lidx = append(lidx, l)
			ridx = append(ridx, -1)
		}
		if opts.MaxRows > 0 && len(lidx) > opts.MaxRows {
			return nil, fmt.Errorf("merge: %w (more than %d rows)", ErrLimit, opts.MaxRows)
		}
	}
	if how == "right" || how == "outer" {
		for r := 0; r < right.rows; r++ {
			if !matched[r] {
				lidx = append(lidx, -1)
				ridx = append(ridx, r)
			}
		}
	}
	if how == "right" {
		// pandas orders a right join by the right frame's rows.
		lidx, ridx = reorderByRight(lidx, ridx)
	}
	if opts.MaxRows > 0 && len(lidx) > opts.MaxRows {
		return nil, fmt.Errorf("merge: %w (more than %d rows)", ErrLimit, opts.MaxRows)
	}

	shared := make(map[string]bool)
	for i, name := range opts.LeftOn {
		if opts.RightOn[i] == name {
			shared[name] = true
		}
	}

	var cols []*Column
	for _, c := range left.columns {
		out := c.Take(lidx)
		if shared[c.Name] {
			// Fill key cells from the right side for right-only rows.
			rc, _ := right.Column(c.Name)
			for i, l := range lidx {
				if l < 0 {
					out.Values[i] = rc.Values[ridx[i]]
				}
			}
			cols = append(cols, NewColumn(c.Name, out.Values))
			continue
		}
		if right.Has(c.Name) {
			out.Name = c.Name + suffixes[0]
		}
		cols = append(cols, out)
	}
	for _, c := range right.columns {
		if shared[c.Name] {
			continue
		}
		out := c.Take(ridx)
		if left.Has(c.Name) {
			out.Name = c.Name + suffixes[1]
		}
		cols = append(cols, out)
	}
	res, err := New(cols...)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return res, nil
}

func keyColumns(f *Frame, names []string) ([]*Column, error) {
	cols := make([]*Column, len(names))
	for i, name := range names {
		c, ok := f.Column(name)
		if !ok {
			return nil, &MissingColumnError{Name: name, Available: f.Names()}
		}
		cols[i] = c
	}
	return cols, nil
}

func hasNull(cols []*Column, row int) bool {
	for _, c := range cols {
		if IsNull(c.Values[row]) {
			return true
		}
	}
	return false
}

func reorderByRight(lidx, ridx []int) ([]int, []int) {
	type pair struct{ l, r int }
	buckets := make(map[int][]pair)
	maxR := -1
	for i := range lidx {
		buckets[ridx[i]] = append(buckets[ridx[i]], pair{lidx[i], ridx[i]})
		maxR = max(maxR, ridx[i])
	}
	outL := make([]int, 0, len(lidx))
	outR := make([]int, 0, len(ridx))
	for r := 0; r <= maxR; r++ {
		for _, p := range buckets[r] {
			outL = append(outL, p.l)
			outR = append(outR, p.r)
		}
	}
	return outL, outR
}
