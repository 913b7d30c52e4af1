package field

import (
	"fmt"
	"math"
)

// CompareRMS returns the root-mean-square difference between f and ref for
// dx, dy and peak height, in that order. Border nodes are skipped unless
// useBorder is set, since they carry the degraded one-sided estimates.
func (f *Field) CompareRMS(ref *Field, useBorder bool) ([3]float64, error) {
	var out [3]float64
	if !f.SameGrid(ref) {
		return out, fmt.Errorf("compare: %w", ErrDimensionMismatch)
	}
	var n int
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			if !useBorder && (r == 0 || c == 0 || r == f.Rows-1 || c == f.Cols-1) {
				continue
			}
			a, b := f.At(c, r), ref.At(c, r)
			out[0] += (a.Dx - b.Dx) * (a.Dx - b.Dx)
			out[1] += (a.Dy - b.Dy) * (a.Dy - b.Dy)
			out[2] += (a.Peak - b.Peak) * (a.Peak - b.Peak)
			n++
		}
	}
	if n == 0 {
		return out, fmt.Errorf("compare: no interior nodes in a %dx%d grid", f.Cols, f.Rows)
	}
	for k := range out {
		out[k] = math.Sqrt(out[k] / float64(n))
	}
	return out, nil
}
