// Package testutil provides shared test utilities and fixtures.
//
// The fixtures are deliberately raw (sample grids and numeric rows) so that
// packages low in the import graph, such as field and imagery, can use them
// from their own tests without an import cycle.
package testutil

import (
	"math"
	"math/rand/v2"
)

// ParticleOptions controls the synthetic particle pattern.
type ParticleOptions struct {
	Width, Height int
	// Density is the number of particles per pixel.
	Density float64
	// Diameter is the e^-2 particle image diameter in pixels.
	Diameter float64
	Seed     uint64
}

// DefaultParticleOptions returns a pattern that correlates well with 32 px
// windows: roughly 0.05 particles per pixel at 2.5 px diameter.
func DefaultParticleOptions(w, h int) ParticleOptions {
	return ParticleOptions{Width: w, Height: h, Density: 0.05, Diameter: 2.5, Seed: 42}
}

// ParticleFrames renders two frames of the same random particle pattern, the
// second translated by (dx, dy) pixels. Particles are seeded over a margin
// around the frame so both frames are uniformly populated.
func ParticleFrames(opts ParticleOptions, dx, dy float64) (a, b [][]float32) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	margin := math.Abs(dx) + math.Abs(dy) + 3*opts.Diameter
	areaW := float64(opts.Width) + 2*margin
	areaH := float64(opts.Height) + 2*margin
	n := int(opts.Density * areaW * areaH)

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range n {
		xs[i] = rng.Float64()*areaW - margin
		ys[i] = rng.Float64()*areaH - margin
	}

	a = render(opts, xs, ys, 0, 0)
	b = render(opts, xs, ys, dx, dy)
	return a, b
}

func render(opts ParticleOptions, xs, ys []float64, dx, dy float64) [][]float32 {
	img := make([][]float32, opts.Height)
	for i := range img {
		img[i] = make([]float32, opts.Width)
	}
	// Intensity falls to e^-2 at radius d/2.
	k := 8 / (opts.Diameter * opts.Diameter)
	reach := int(math.Ceil(opts.Diameter)) + 1
	for p := range xs {
		px, py := xs[p]+dx, ys[p]+dy
		cx, cy := int(math.Round(px)), int(math.Round(py))
		for y := cy - reach; y <= cy+reach; y++ {
			if y < 0 || y >= opts.Height {
				continue
			}
			for x := cx - reach; x <= cx+reach; x++ {
				if x < 0 || x >= opts.Width {
					continue
				}
				rx, ry := float64(x)-px, float64(y)-py
				img[y][x] += float32(255 * math.Exp(-k*(rx*rx+ry*ry)))
			}
		}
	}
	return img
}

// LinearRows returns field rows (x, y, dx, dy, flag) on a uniform grid
// starting at (x0, y0) with displacement dx = a*x, dy = b*y.
func LinearRows(cols, rows int, x0, y0, spacing, a, b float64) [][]float64 {
	out := make([][]float64, 0, cols*rows)
	for j := range rows {
		for i := range cols {
			x := x0 + float64(i)*spacing
			y := y0 + float64(j)*spacing
			out = append(out, []float64{x, y, a * x, b * y, 1})
		}
	}
	return out
}

// UniformRows returns field rows with the same displacement at every node.
func UniformRows(cols, rows int, x0, y0, spacing, dx, dy float64) [][]float64 {
	out := make([][]float64, 0, cols*rows)
	for j := range rows {
		for i := range cols {
			out = append(out, []float64{x0 + float64(i)*spacing, y0 + float64(j)*spacing, dx, dy, 1})
		}
	}
	return out
}
