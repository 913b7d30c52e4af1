package correlate

import (
	"fmt"
	"math"
)

// NoPeak is the Height of a Peak that could not be located.
const NoPeak = -1.0

// Peak is a sub-pixel peak position in map coordinates and the correlation
// value at its integer maximum.
type Peak struct {
	X, Y   float64
	Height float64
}

// Found reports whether the peak is usable.
func (p Peak) Found() bool { return p.Height != NoPeak }

// PeakEstimator locates the highest peak of a map inside the search area
// [sx, sx+sw) x [sy, sy+sh).
type PeakEstimator interface {
	LocatePeak(m *Map, sx, sy, sw, sh int) Peak
}

// Parabolic fits a parabola through the maximum and its two neighbours along
// each axis.
type Parabolic struct{}

// LocatePeak implements PeakEstimator.
func (Parabolic) LocatePeak(m *Map, sx, sy, sw, sh int) Peak {
	return locate(m, sx, sy, sw, sh, ParabolicFit)
}

// Gaussian fits a Gaussian through the maximum and its two neighbours along
// each axis. All three values must be positive.
type Gaussian struct{}

// LocatePeak implements PeakEstimator.
func (Gaussian) LocatePeak(m *Map, sx, sy, sw, sh int) Peak {
	return locate(m, sx, sy, sw, sh, GaussianFit)
}

// EstimatorByName maps a configured estimator name to its implementation.
func EstimatorByName(name string) (PeakEstimator, error) {
	switch name {
	case "gaussian":
		return Gaussian{}, nil
	case "parabolic":
		return Parabolic{}, nil
	default:
		return nil, fmt.Errorf("unknown peak estimator %q", name)
	}
}

func locate(m *Map, sx, sy, sw, sh int, fit func(l, c, r float64) (float64, bool)) Peak {
	x0, y0 := max(sx, 0), max(sy, 0)
	x1, y1 := min(sx+sw, m.W), min(sy+sh, m.H)
	if x0 >= x1 || y0 >= y1 {
		return Peak{Height: NoPeak}
	}

	bx, by := x0, y0
	best := m.At(x0, y0)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if v := m.At(x, y); v > best {
				best, bx, by = v, x, y
			}
		}
	}
	// A maximum on the search border is the flank of a peak outside it.
	if bx == x0 || by == y0 || bx == x1-1 || by == y1-1 {
		return Peak{Height: NoPeak}
	}
	dx, okX := fit(m.At(bx-1, by), best, m.At(bx+1, by))
	dy, okY := fit(m.At(bx, by-1), best, m.At(bx, by+1))
	if !okX || !okY {
		return Peak{Height: NoPeak}
	}
	return Peak{X: float64(bx) + dx, Y: float64(by) + dy, Height: best}
}

// ParabolicFit returns the offset of the vertex of the parabola through
// (-1, l), (0, c), (1, r). ok is false unless c is a strict local maximum
// of a concave triple, so the offset stays within one sample.
func ParabolicFit(l, c, r float64) (float64, bool) {
	den := 2*l - 4*c + 2*r
	if den >= 0 || c < l || c < r {
		return 0, false
	}
	d := (l - r) / den
	if math.IsNaN(d) || math.Abs(d) > 1 {
		return 0, false
	}
	return d, true
}

// GaussianFit is ParabolicFit on the logarithms of the values.
func GaussianFit(l, c, r float64) (float64, bool) {
	if l <= 0 || c <= 0 || r <= 0 {
		return 0, false
	}
	return ParabolicFit(math.Log(l), math.Log(c), math.Log(r))
}

// ArgMax returns the column and row of the largest value of a [row][col]
// grid. Ties keep the first in raster order.
func ArgMax(grid [][]float64) (col, row int) {
	best := math.Inf(-1)
	for r, line := range grid {
		for c, v := range line {
			if v > best {
				best, col, row = v, c, r
			}
		}
	}
	return col, row
}
