package field

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/velocity.piv/internal/monitoring"
)

// roundHalfUp matches the rounding used for grid lookups: ties go up.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// VectorAt returns the node nearest to (x, y). ok is false when the point
// lies outside the field, i.e. more than half a spacing beyond the first or
// last node.
func (f *Field) VectorAt(x, y float64) (Node, bool) {
	i, ok := f.vectorIndex(x, y)
	if !ok {
		return Node{}, false
	}
	return f.Nodes[i], true
}

// vectorIndex is VectorAt returning the raster index instead of the node.
func (f *Field) vectorIndex(x, y float64) (int, bool) {
	if len(f.Nodes) == 0 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	first, last := f.Nodes[0], f.Nodes[len(f.Nodes)-1]
	if x <= first.X-f.SpacingX/2 || y <= first.Y-f.SpacingY/2 ||
		x >= last.X+f.SpacingX/2 || y >= last.Y+f.SpacingY/2 {
		return 0, false
	}
	col := roundHalfUp((x - first.X) / f.SpacingX)
	row := roundHalfUp((y - first.Y) / f.SpacingY)
	return row*f.Cols + col, true
}

// threeNearest picks the node nearest to (x, y), one horizontal neighbour
// and one vertical neighbour. The left and top neighbours are preferred; the
// right or bottom one is used when the preferred one is missing or further
// away.
func (f *Field) threeNearest(x, y float64) ([3]Node, bool) {
	center, ok := f.VectorAt(x, y)
	if !ok {
		return [3]Node{}, false
	}
	left, okL := f.VectorAt(x-f.SpacingX, y)
	right, okR := f.VectorAt(x+f.SpacingX, y)
	top, okT := f.VectorAt(x, y-f.SpacingY)
	bottom, okB := f.VectorAt(x, y+f.SpacingY)

	second, okH := left, okL
	if !okL || (okR && center.X-left.X > right.X-center.X) {
		second, okH = right, okR
	}
	third, okV := top, okT
	if !okT || (okB && top.Y-center.Y > center.Y-bottom.Y) {
		third, okV = bottom, okB
	}
	if !okH || !okV {
		return [3]Node{}, false
	}
	return [3]Node{center, second, third}, true
}

// InterpolatedVectorAt interpolates the displacement at (x, y) linearly over
// the plane through three neighbouring nodes. ok is false outside the field,
// on grids too small to provide three non-collinear nodes, or when the system
// cannot be solved.
func (f *Field) InterpolatedVectorAt(x, y float64) (Node, bool) {
	nb, ok := f.threeNearest(x, y)
	if !ok {
		return Node{X: x, Y: y}, false
	}

	// Solve [1 x y] * [a b c]^T = u for each component.
	a := mat.NewDense(3, 3, nil)
	b := mat.NewDense(3, 2, nil)
	for i, n := range nb {
		a.Set(i, 0, 1)
		a.Set(i, 1, n.X)
		a.Set(i, 2, n.Y)
		b.Set(i, 0, n.Dx)
		b.Set(i, 1, n.Dy)
	}
	var coef mat.Dense
	if err := coef.Solve(a, b); err != nil {
		return Node{X: x, Y: y}, false
	}
	p := mat.NewDense(1, 3, []float64{1, x, y})
	var uv mat.Dense
	uv.Mul(p, &coef)

	return Node{
		X:     x,
		Y:     y,
		Dx:    uv.At(0, 0),
		Dy:    uv.At(0, 1),
		Peak:  nb[0].Peak,
		Valid: nb[0].Valid && nb[1].Valid && nb[2].Valid,
	}, true
}

// Resample maps the field onto the grid x0..x1 by dx and y0..y1 by dy using
// nearest-neighbour lookup. Nodes of the new grid that fall outside the old
// field get zero displacement and are marked invalid. It returns the number
// of such nodes.
func (f *Field) Resample(x0, y0, x1, y1, dx, dy float64) int {
	cols := max(int(math.Floor((x1-x0)/dx))+1, 1)
	rows := max(int(math.Floor((y1-y0)/dy))+1, 1)

	nodes := make([]Node, cols*rows)
	var derived *Layer
	if f.Derived != nil {
		derived = &Layer{Name: f.Derived.Name, Values: make([]float64, len(nodes))}
	}
	aux := make([]Layer, len(f.Aux))
	for l := range f.Aux {
		aux[l] = Layer{Name: f.Aux[l].Name, Values: make([]float64, len(nodes))}
	}

	outside := 0
	for i := range nodes {
		x := float64(i%cols)*dx + x0
		y := float64(i/cols)*dy + y0
		src, ok := f.vectorIndex(x, y)
		if !ok {
			outside++
			monitoring.Debugf("resample: grid point (%g, %g) lies outside the previous field", x, y)
			nodes[i] = Node{X: x, Y: y}
			continue
		}
		n := f.Nodes[src]
		n.X, n.Y = x, y
		nodes[i] = n
		if derived != nil {
			derived.Values[i] = f.Derived.Values[src]
		}
		for l := range aux {
			aux[l].Values[i] = f.Aux[l].Values[src]
		}
	}
	if outside > 0 {
		monitoring.Warnf("resample: %d of %d grid points outside the previous field were zeroed", outside, len(nodes))
	}

	f.Cols, f.Rows = cols, rows
	f.SpacingX, f.SpacingY = dx, dy
	f.Nodes = nodes
	f.Derived = derived
	if len(aux) == 0 {
		aux = nil
	}
	f.Aux = aux
	return outside
}

// FreeProfile samples the field along the segment (x1, y1)-(x2, y2). A
// spacing of zero uses the finer of the two grid spacings. Points outside
// the field come back with zero displacement and Valid unset.
func (f *Field) FreeProfile(x1, y1, x2, y2, spacing float64) []Node {
	if spacing <= 0 {
		spacing = min(f.SpacingX, f.SpacingY)
	}
	hyp := math.Hypot(x2-x1, y2-y1)
	points := 1
	if !math.IsNaN(hyp) && !math.IsInf(hyp, 0) {
		points = roundHalfUp(float64(roundHalfUp(hyp))/spacing) + 1
	}
	if points < 2 {
		n, _ := f.InterpolatedVectorAt(x1, y1)
		return []Node{n}
	}

	stepX := math.Abs(x2-x1) / float64(points-1)
	stepY := math.Abs(y2-y1) / float64(points-1)
	if x1 > x2 {
		stepX = -stepX
	}
	if y1 > y2 {
		stepY = -stepY
	}

	profile := make([]Node, points)
	x, y := x1, y1
	for i := range profile {
		profile[i], _ = f.InterpolatedVectorAt(x, y)
		x += stepX
		y += stepY
	}
	return profile
}

// FreeProfiles samples n profiles parallel to (x1, y1)-(x2, y2), distance
// pixels apart and centred on the given segment. The returned slice holds
// the n profiles followed by their point-wise average, whose coordinates are
// those of the central profile.
func (f *Field) FreeProfiles(x1, y1, x2, y2, spacing float64, n int, distance float64) [][]Node {
	if n < 1 {
		return nil
	}
	alpha := math.Pi / 2
	if x2 != x1 {
		alpha = math.Atan(math.Abs((y2 - y1) / (x2 - x1)))
	}
	offX := math.Sin(alpha) * distance
	offY := math.Cos(alpha) * distance
	if (x2 > x1 && y2 > y1) || (x2 < x1 && y2 < y1) {
		offY = -offY
	}

	k0 := float64((n - 1) / 2)
	out := make([][]Node, n+1)
	for p := range n {
		k := float64(p) - k0
		out[p] = f.FreeProfile(x1+k*offX, y1+k*offY, x2+k*offX, y2+k*offY, spacing)
	}

	points := len(out[0])
	for p := range n {
		points = min(points, len(out[p]))
	}
	avg := make([]Node, points)
	copy(avg, out[(n-1)/2])
	for i := range avg {
		var sx, sy float64
		for p := range n {
			sx += out[p][i].Dx
			sy += out[p][i].Dy
		}
		avg[i].Dx = sx / float64(n)
		avg[i].Dy = sy / float64(n)
	}
	out[n] = avg
	return out
}
