// Package imagery provides the pixel planes the correlation engines sample
// interrogation windows from, together with loaders and the few whole-image
// operations used to prepare recordings (frame split/join and sliding
// background removal).
package imagery

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"io"
	"math"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder

	"github.com/banshee-data/velocity.piv/internal/fsutil"
)

// ErrSizeMismatch is returned when planes that must share dimensions do not.
var ErrSizeMismatch = errors.New("image dimensions do not match")

// Plane is a single-channel intensity image in row-major order.
type Plane struct {
	Width, Height int
	Pix           []float32
}

// NewPlane returns a zeroed plane.
func NewPlane(w, h int) *Plane {
	return &Plane{Width: w, Height: h, Pix: make([]float32, w*h)}
}

// PlaneFromRows copies a [row][col] sample grid into a plane. All rows must
// have the length of the first.
func PlaneFromRows(rows [][]float32) *Plane {
	if len(rows) == 0 {
		return NewPlane(0, 0)
	}
	p := NewPlane(len(rows[0]), len(rows))
	for y, r := range rows {
		copy(p.Pix[y*p.Width:(y+1)*p.Width], r)
	}
	return p
}

// At returns the sample at (x, y). Coordinates are not checked.
func (p *Plane) At(x, y int) float32 { return p.Pix[y*p.Width+x] }

// Set stores v at (x, y).
func (p *Plane) Set(x, y int, v float32) { p.Pix[y*p.Width+x] = v }

// Mean is the average intensity.
func (p *Plane) Mean() float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range p.Pix {
		sum += float64(v)
	}
	return sum / float64(len(p.Pix))
}

// bilinear samples the plane at a fractional position. Samples outside the
// plane are zero.
func (p *Plane) bilinear(x, y float64) float32 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := float32(x-float64(x0)), float32(y-float64(y0))
	get := func(c, r int) float32 {
		if c < 0 || r < 0 || c >= p.Width || r >= p.Height {
			return 0
		}
		return p.Pix[r*p.Width+c]
	}
	top := get(x0, y0)*(1-fx) + get(x0+1, y0)*fx
	bottom := get(x0, y0+1)*(1-fx) + get(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}

// crop copies the w x h block at (x, y). Pixels outside the plane are zero.
func (p *Plane) crop(x, y, w, h int) *Plane {
	out := NewPlane(w, h)
	for r := range h {
		sy := y + r
		if sy < 0 || sy >= p.Height {
			continue
		}
		for c := range w {
			sx := x + c
			if sx < 0 || sx >= p.Width {
				continue
			}
			out.Pix[r*w+c] = p.Pix[sy*p.Width+sx]
		}
	}
	return out
}

// FromImage converts any image to a grey-level plane. 16-bit grey images keep
// their full range; everything else is mapped to 0..255.
func FromImage(img image.Image) *Plane {
	b := img.Bounds()
	p := NewPlane(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray:
		for y := range p.Height {
			for x := range p.Width {
				p.Set(x, y, float32(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray16:
		for y := range p.Height {
			for x := range p.Width {
				p.Set(x, y, float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	default:
		for y := range p.Height {
			for x := range p.Width {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				p.Set(x, y, float32(g.Y)/257)
			}
		}
	}
	return p
}

// Decode reads any registered image format (png, jpeg, gif, tiff, bmp).
func Decode(r io.Reader) (*Plane, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), nil
}

// LoadFile reads and decodes the image at path.
func LoadFile(fsys fsutil.FileSystem, path string) (*Plane, error) {
	r, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer r.Close()
	p, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// EncodePNG writes the plane as a 16-bit grey PNG. Values are clamped to
// 0..65535.
func (p *Plane) EncodePNG(w io.Writer) error {
	img := image.NewGray16(image.Rect(0, 0, p.Width, p.Height))
	for y := range p.Height {
		for x := range p.Width {
			v := math.Round(float64(p.At(x, y)))
			v = math.Max(0, math.Min(v, math.MaxUint16))
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return png.Encode(w, img)
}

// SaveFile writes the plane to path as PNG.
func (p *Plane) SaveFile(fsys fsutil.FileSystem, path string) error {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if err := p.EncodePNG(w); err != nil {
		w.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.Close()
}

// Split cuts a double-frame recording into its upper and lower half. An odd
// trailing row is dropped.
func Split(p *Plane) (a, b *Plane) {
	h := p.Height / 2
	return p.crop(0, 0, p.Width, h), p.crop(0, h, p.Width, h)
}

// Join stacks two frames vertically into one double-frame recording.
func Join(a, b *Plane) (*Plane, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return nil, fmt.Errorf("join: %w: %dx%d vs %dx%d", ErrSizeMismatch, a.Width, a.Height, b.Width, b.Height)
	}
	out := NewPlane(a.Width, a.Height*2)
	copy(out.Pix, a.Pix)
	copy(out.Pix[len(a.Pix):], b.Pix)
	return out, nil
}

// RemoveSlidingBackground subtracts from frame i the per-pixel minimum over a
// window of three consecutive frames containing i. The window is shifted
// inwards at either end of the series.
func RemoveSlidingBackground(frames []*Plane, i int) (*Plane, error) {
	if len(frames) < 3 {
		return nil, fmt.Errorf("sliding background needs at least three frames, got %d", len(frames))
	}
	if i < 0 || i >= len(frames) {
		return nil, fmt.Errorf("sliding background: frame %d out of range", i)
	}
	start := min(i, len(frames)-3)
	window := frames[start : start+3]
	for _, f := range window {
		if f.Width != frames[i].Width || f.Height != frames[i].Height {
			return nil, fmt.Errorf("sliding background: %w", ErrSizeMismatch)
		}
	}

	out := NewPlane(frames[i].Width, frames[i].Height)
	for k, v := range frames[i].Pix {
		bg := window[0].Pix[k]
		for _, f := range window[1:] {
			bg = min(bg, f.Pix[k])
		}
		out.Pix[k] = v - bg
	}
	return out, nil
}
