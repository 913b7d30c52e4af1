package field

import "math"

// WallFilterVertical removes spurious vectors beyond a wall. Starting at
// grid cell (xStart, yStart) it scans the row outwards to the left and then
// to the right. Wherever the local speed is below threshold while the next
// node outwards is faster, every further node outwards is zeroed. Each column
// the scan passes is then filtered the same way upwards and downwards from
// row yStart. Zeroing runs through the outermost node of the row or column.
// Only the first drop along a scan line is acted on for that line.
func (f *Field) WallFilterVertical(xStart, yStart int, threshold float64) {
	if xStart < 0 || xStart >= f.Cols || yStart < 0 || yStart >= f.Rows {
		return
	}
	speed := func(c, r int) float64 {
		n := f.At(c, r)
		return math.Hypot(n.Dx, n.Dy)
	}
	zero := func(c, r int) {
		n := f.At(c, r)
		n.Dx, n.Dy = 0, 0
	}

	// Right to left.
	for c := xStart; c >= 0; c-- {
		if c > 0 {
			vc, vl := speed(c, yStart), speed(c-1, yStart)
			if vc < threshold && vl > vc {
				for k := c - 1; k >= 0; k-- {
					zero(k, yStart)
				}
			}
		}
		f.wallFilterColumn(c, yStart, threshold, speed, zero)
	}
	// Left to right.
	for c := xStart; c < f.Cols; c++ {
		if c < f.Cols-1 {
			vc, vr := speed(c, yStart), speed(c+1, yStart)
			if vc < threshold && vr > vc {
				for k := c + 1; k < f.Cols; k++ {
					zero(k, yStart)
				}
			}
		}
		f.wallFilterColumn(c, yStart, threshold, speed, zero)
	}
}

func (f *Field) wallFilterColumn(c, rStart int, threshold float64,
	speed func(c, r int) float64, zero func(c, r int)) {
	// Upwards.
	for r := rStart; r > 0; r-- {
		vc, vt := speed(c, r), speed(c, r-1)
		if vc < threshold && vt > vc {
			for k := r - 1; k >= 0; k-- {
				zero(c, k)
			}
			break
		}
	}
	// Downwards.
	for r := rStart; r < f.Rows-1; r++ {
		vc, vb := speed(c, r), speed(c, r+1)
		if vc < threshold && vb > vc {
			for k := r + 1; k < f.Rows; k++ {
				zero(c, k)
			}
			break
		}
	}
}
