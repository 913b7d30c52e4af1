// Package correlate computes cross-correlation maps between interrogation
// windows and locates their sub-pixel peaks.
//
// A Map of size W x H stores the correlation of window B against window A for
// every circular offset; zero offset sits at (W/2, H/2), so a peak at (px, py)
// means B is displaced by (px - W/2, py - H/2) relative to A.
package correlate

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/velocity.piv/internal/imagery"
)

// ErrShape is returned when two windows or maps differ in size.
var ErrShape = errors.New("correlation shapes do not match")

// Map is a correlation surface in row-major order.
type Map struct {
	W, H int
	Data []float64
}

// NewMap returns a zeroed map, used as an accumulator in ensemble mode.
func NewMap(w, h int) *Map {
	return &Map{W: w, H: h, Data: make([]float64, w*h)}
}

// At returns the value at (x, y).
func (m *Map) At(x, y int) float64 { return m.Data[y*m.W+x] }

// Add accumulates other into m.
func (m *Map) Add(other *Map) error {
	if m.W != other.W || m.H != other.H {
		return fmt.Errorf("add %dx%d to %dx%d: %w", other.W, other.H, m.W, m.H, ErrShape)
	}
	for i, v := range other.Data {
		m.Data[i] += v
	}
	return nil
}

// Correlator produces the correlation map of two equally sized windows.
type Correlator interface {
	Correlate(a, b *imagery.Plane) (*Map, error)
}

// FFT correlates windows in the frequency domain. Both windows have their
// mean removed and the result is normalised by their energies, so a perfect
// match peaks at 1. It is safe for concurrent use; transform plans are pooled
// per length.
type FFT struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

// NewFFT returns an FFT correlator.
func NewFFT() *FFT {
	return &FFT{pools: make(map[int]*sync.Pool)}
}

func (f *FFT) plan(n int) (*fourier.CmplxFFT, func()) {
	f.mu.Lock()
	p, ok := f.pools[n]
	if !ok {
		p = &sync.Pool{New: func() any { return fourier.NewCmplxFFT(n) }}
		f.pools[n] = p
	}
	f.mu.Unlock()
	plan := p.Get().(*fourier.CmplxFFT)
	return plan, func() { p.Put(plan) }
}

// Correlate implements Correlator.
func (f *FFT) Correlate(a, b *imagery.Plane) (*Map, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return nil, fmt.Errorf("correlate %dx%d with %dx%d: %w", a.Width, a.Height, b.Width, b.Height, ErrShape)
	}
	w, h := a.Width, a.Height
	ca, ea := centred(a)
	cb, eb := centred(b)

	f.transform(ca, w, h, false)
	f.transform(cb, w, h, false)
	for i := range ca {
		ca[i] = complexConj(ca[i]) * cb[i]
	}
	f.transform(ca, w, h, true)

	norm := math.Sqrt(ea * eb)
	if norm == 0 {
		norm = 1
	}
	scale := 1 / (float64(w*h) * norm)
	m := NewMap(w, h)
	for y := range h {
		sy := (y - h/2 + h) % h
		for x := range w {
			sx := (x - w/2 + w) % w
			m.Data[y*w+x] = real(ca[sy*w+sx]) * scale
		}
	}
	return m, nil
}

// transform runs a 2-D transform in place, rows first. The inverse is not
// scaled.
func (f *FFT) transform(data []complex128, w, h int, inverse bool) {
	rowPlan, putRow := f.plan(w)
	defer putRow()
	row := make([]complex128, w)
	for y := range h {
		seg := data[y*w : (y+1)*w]
		if inverse {
			rowPlan.Sequence(row, seg)
		} else {
			rowPlan.Coefficients(row, seg)
		}
		copy(seg, row)
	}

	colPlan, putCol := f.plan(h)
	defer putCol()
	col := make([]complex128, h)
	out := make([]complex128, h)
	for x := range w {
		for y := range h {
			col[y] = data[y*w+x]
		}
		if inverse {
			colPlan.Sequence(out, col)
		} else {
			colPlan.Coefficients(out, col)
		}
		for y := range h {
			data[y*w+x] = out[y]
		}
	}
}

func complexConj(c complex128) complex128 { return complex(real(c), -imag(c)) }

// centred returns the window with its mean removed and the remaining energy.
func centred(p *imagery.Plane) ([]complex128, float64) {
	mean := p.Mean()
	out := make([]complex128, len(p.Pix))
	var energy float64
	for i, v := range p.Pix {
		d := float64(v) - mean
		out[i] = complex(d, 0)
		energy += d * d
	}
	return out, energy
}

// Direct evaluates the same normalised circular correlation in the spatial
// domain. It is slow and exists as a reference for small windows.
type Direct struct{}

// Correlate implements Correlator.
func (Direct) Correlate(a, b *imagery.Plane) (*Map, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return nil, fmt.Errorf("correlate %dx%d with %dx%d: %w", a.Width, a.Height, b.Width, b.Height, ErrShape)
	}
	w, h := a.Width, a.Height
	ca, ea := centred(a)
	cb, eb := centred(b)
	norm := math.Sqrt(ea * eb)
	if norm == 0 {
		norm = 1
	}
	m := NewMap(w, h)
	for py := range h {
		sy := py - h/2
		for px := range w {
			sx := px - w/2
			var sum float64
			for y := range h {
				by := ((y+sy)%h + h) % h
				for x := range w {
					bx := ((x+sx)%w + w) % w
					sum += real(ca[y*w+x]) * real(cb[by*w+bx])
				}
			}
			m.Data[py*w+px] = sum / norm
		}
	}
	return m, nil
}
