package imagery

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.piv/internal/fsutil"
)

// ramp is a plane whose value at (x, y) is 100*y + x.
func ramp(w, h int) *Plane {
	p := NewPlane(w, h)
	for y := range h {
		for x := range w {
			p.Set(x, y, float32(100*y+x))
		}
	}
	return p
}

func TestPair_Window(t *testing.T) {
	t.Parallel()
	pair, err := NewPair(ramp(16, 12), ramp(16, 12))
	require.NoError(t, err)
	assert.Equal(t, 16, pair.Width())
	assert.Equal(t, 12, pair.Height())
	assert.Equal(t, 2, pair.Frames())

	w, err := pair.Window(WindowRequest{X: 2, Y: 3, W: 4, H: 4, Frame: 1})
	require.NoError(t, err)
	assert.Equal(t, float32(302), w.At(0, 0))
	assert.Equal(t, float32(605), w.At(3, 3))

	// Fractional corners round to the nearest pixel.
	w, err = pair.Window(WindowRequest{X: 1.5, Y: 2.4, W: 4, H: 4})
	require.NoError(t, err)
	assert.Equal(t, float32(202), w.At(0, 0))

	// The window may touch the far edge.
	_, err = pair.Window(WindowRequest{X: 12, Y: 8, W: 4, H: 4})
	assert.NoError(t, err)
}

func TestPair_WindowOutOfBounds(t *testing.T) {
	t.Parallel()
	pair, err := NewPair(ramp(16, 12), ramp(16, 12))
	require.NoError(t, err)

	tests := []WindowRequest{
		{X: -0.5, Y: 0, W: 4, H: 4},
		{X: 0, Y: -1, W: 4, H: 4},
		{X: 12.5, Y: 0, W: 4, H: 4},
		{X: 0, Y: 9, W: 4, H: 4},
		{X: 0, Y: 0, W: 32, H: 32},
		{X: 0, Y: 0, W: 4, H: 4, Frame: 2},
		{X: -1, Y: 0, W: 4, H: 4, ShearX: 0.1},
	}
	for _, req := range tests {
		_, err := pair.Window(req)
		assert.True(t, errors.Is(err, ErrOutOfBounds), "request %+v", req)
	}

	w, err := pair.Window(WindowRequest{X: -2, Y: -2, W: 4, H: 4, ZeroPad: true})
	require.NoError(t, err)
	assert.Equal(t, float32(0), w.At(0, 0))
	assert.Equal(t, float32(0), w.At(1, 3))
	assert.Equal(t, float32(101), w.At(3, 3))
}

func TestPair_ShearedWindow(t *testing.T) {
	t.Parallel()
	pair, err := NewPair(ramp(32, 32), ramp(32, 32))
	require.NoError(t, err)

	plain, err := pair.Window(WindowRequest{X: 8, Y: 8, W: 8, H: 8})
	require.NoError(t, err)

	// A tiny shear interpolates to the plain crop at the centre row.
	sheared, err := pair.Window(WindowRequest{X: 8, Y: 8, W: 8, H: 8, ShearX: 0.5})
	require.NoError(t, err)
	for i := range 8 {
		assert.InDelta(t, plain.At(i, 4), sheared.At(i, 4), 1e-4)
	}
	// Row v = -4 samples x shifted by +2.
	assert.InDelta(t, float64(plain.At(2, 0))+2, float64(sheared.At(2, 0)), 1e-3)

	vertical, err := pair.Window(WindowRequest{X: 8, Y: 8, W: 8, H: 8, ShearY: -0.25})
	require.NoError(t, err)
	// Column u = 2 samples y shifted by +0.5, i.e. +50 in the ramp.
	assert.InDelta(t, float64(plain.At(6, 3))+50, float64(vertical.At(6, 3)), 1e-3)
}

func TestNewPair_SizeMismatch(t *testing.T) {
	t.Parallel()
	_, err := NewPair(NewPlane(4, 4), NewPlane(4, 5))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestDoubleFrameSplitJoin(t *testing.T) {
	t.Parallel()
	full := ramp(8, 9)
	pair := NewDoubleFrame(full)
	assert.Equal(t, 4, pair.Height())
	assert.Equal(t, float32(400), pair.Frame(1).At(0, 0))

	a, b := Split(full)
	joined, err := Join(a, b)
	require.NoError(t, err)
	assert.Equal(t, 8, joined.Height)
	assert.Equal(t, full.Pix[:64], joined.Pix)

	_, err = Join(a, NewPlane(3, 3))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestRemoveSlidingBackground(t *testing.T) {
	t.Parallel()
	frames := make([]*Plane, 4)
	for i := range frames {
		frames[i] = NewPlane(2, 1)
		frames[i].Pix[0] = float32(10 + i)
		frames[i].Pix[1] = float32(50 - i)
	}

	out, err := RemoveSlidingBackground(frames, 0)
	require.NoError(t, err)
	// Window 0..2: minimum 10 and 48.
	assert.Equal(t, []float32{0, 2}, out.Pix)

	out, err = RemoveSlidingBackground(frames, 3)
	require.NoError(t, err)
	// Window 1..3: minimum 11 and 47.
	assert.Equal(t, []float32{2, 0}, out.Pix)

	_, err = RemoveSlidingBackground(frames[:2], 0)
	assert.Error(t, err)
	_, err = RemoveSlidingBackground(frames, 4)
	assert.Error(t, err)
}

func TestDecodeAndSave(t *testing.T) {
	t.Parallel()
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(2, 1, color.Gray{Y: 200})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("frame.png", buf.Bytes())
	p, err := LoadFile(fsys, "frame.png")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Width)
	assert.Equal(t, float32(200), p.At(2, 1))

	require.NoError(t, p.SaveFile(fsys, "copy.png"))
	q, err := LoadFile(fsys, "copy.png")
	require.NoError(t, err)
	assert.Equal(t, p.Pix, q.Pix)

	fsys.WriteFile("broken.png", []byte("not an image"))
	_, err = LoadFile(fsys, "broken.png")
	assert.Error(t, err)
}

func TestFromImage_RGBA(t *testing.T) {
	t.Parallel()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	p := FromImage(img)
	assert.InDelta(t, 255, p.At(0, 0), 1e-3)
}

func TestPlaneMean(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, NewPlane(0, 0).Mean())
	assert.InDelta(t, 1.5, PlaneFromRows([][]float32{{1, 2}, {1, 2}}).Mean(), 1e-12)
}
