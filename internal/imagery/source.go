package imagery

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfBounds is returned when a requested window leaves the frame.
var ErrOutOfBounds = errors.New("window exceeds image bounds")

// WindowRequest describes one interrogation window. X and Y are the top-left
// corner in frame coordinates and may be fractional. ShearX and ShearY deform
// the window around its centre: the sample at window offset (u, v) from the
// centre is taken from (u - ShearX*v, v - ShearY*u).
type WindowRequest struct {
	X, Y   float64
	W, H   int
	Frame  int
	ShearX float64
	ShearY float64
	// ZeroPad returns zero for samples outside the frame instead of failing.
	ZeroPad bool
}

func (r WindowRequest) sheared() bool { return r.ShearX != 0 || r.ShearY != 0 }

// Source hands out interrogation windows. Implementations must be safe for
// concurrent reads.
type Source interface {
	Window(req WindowRequest) (*Plane, error)
	Width() int
	Height() int
	Frames() int
}

// Pair is a two-frame Source backed by in-memory planes.
type Pair struct {
	frames [2]*Plane
}

// NewPair builds a source from two frames of equal size.
func NewPair(a, b *Plane) (*Pair, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return nil, fmt.Errorf("pair: %w: %dx%d vs %dx%d", ErrSizeMismatch, a.Width, a.Height, b.Width, b.Height)
	}
	return &Pair{frames: [2]*Plane{a, b}}, nil
}

// NewDoubleFrame builds a source from a single recording holding the first
// frame in its upper half and the second frame in its lower half.
func NewDoubleFrame(p *Plane) *Pair {
	a, b := Split(p)
	return &Pair{frames: [2]*Plane{a, b}}
}

// Width is the frame width.
func (p *Pair) Width() int { return p.frames[0].Width }

// Height is the frame height.
func (p *Pair) Height() int { return p.frames[0].Height }

// Frames is always 2.
func (p *Pair) Frames() int { return 2 }

// Frame returns frame 0 or 1.
func (p *Pair) Frame(i int) *Plane { return p.frames[i] }

// Window extracts the requested window. Without shear the window is a
// nearest-pixel crop; with shear every sample is interpolated bilinearly.
func (p *Pair) Window(req WindowRequest) (*Plane, error) {
	if req.Frame < 0 || req.Frame > 1 {
		return nil, fmt.Errorf("frame %d: %w", req.Frame, ErrOutOfBounds)
	}
	src := p.frames[req.Frame]
	if !req.ZeroPad && (req.X < 0 || req.Y < 0 ||
		req.X+float64(req.W) > float64(src.Width) ||
		req.Y+float64(req.H) > float64(src.Height)) {
		return nil, fmt.Errorf("window %dx%d at (%.2f, %.2f) in %dx%d frame: %w",
			req.W, req.H, req.X, req.Y, src.Width, src.Height, ErrOutOfBounds)
	}

	if !req.sheared() {
		x := int(math.Floor(req.X + 0.5))
		y := int(math.Floor(req.Y + 0.5))
		return src.crop(x, y, req.W, req.H), nil
	}

	out := NewPlane(req.W, req.H)
	cx := req.X + float64(req.W/2)
	cy := req.Y + float64(req.H/2)
	for j := range req.H {
		v := float64(j - req.H/2)
		for i := range req.W {
			u := float64(i - req.W/2)
			out.Pix[j*req.W+i] = src.bilinear(cx+u-req.ShearX*v, cy+v-req.ShearY*u)
		}
	}
	return out, nil
}
