package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.piv/internal/testutil"
)

const sampleA, sampleB = 0.02, -0.05

// linearGrid is a 5x5 field at x, y = 8..72 step 16 with dx = a*x, dy = b*y.
func linearGrid(t *testing.T) *Field {
	t.Helper()
	return mustRows(t, testutil.LinearRows(5, 5, 8, 8, 16, sampleA, sampleB))
}

func TestVectorAt(t *testing.T) {
	t.Parallel()
	f := linearGrid(t)

	tests := []struct {
		name  string
		x, y  float64
		ok    bool
		wantX float64
		wantY float64
	}{
		{"exact node", 24, 40, true, 24, 40},
		{"rounds to nearest", 31, 33, true, 24, 40},
		{"ties go up", 16, 16, true, 24, 24},
		{"inside left margin", 1, 8, true, 8, 8},
		{"on left edge", 0, 8, false, 0, 0},
		{"beyond right", 80, 40, false, 0, 0},
		{"beyond bottom", 40, 81, false, 0, 0},
		{"nan x", math.NaN(), 40, false, 0, 0},
		{"nan y", 40, math.NaN(), false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, ok := f.VectorAt(tt.x, tt.y)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.wantX, n.X)
				assert.Equal(t, tt.wantY, n.Y)
			}
		})
	}

	var empty Field
	_, ok := empty.VectorAt(0, 0)
	assert.False(t, ok)
}

func TestInterpolatedVectorAt_ExactOnLinearField(t *testing.T) {
	t.Parallel()
	f := linearGrid(t)

	for _, p := range [][2]float64{{30, 35}, {8, 8}, {72, 72}, {70, 10}, {44.5, 61.25}} {
		n, ok := f.InterpolatedVectorAt(p[0], p[1])
		require.True(t, ok, "point %v", p)
		assert.InDelta(t, sampleA*p[0], n.Dx, 1e-9, "point %v", p)
		assert.InDelta(t, sampleB*p[1], n.Dy, 1e-9, "point %v", p)
		assert.Equal(t, p[0], n.X)
		assert.Equal(t, p[1], n.Y)
		assert.True(t, n.Valid)
	}

	_, ok := f.InterpolatedVectorAt(-20, 40)
	assert.False(t, ok)
}

func TestInterpolatedVectorAt_InvalidNeighbourPropagates(t *testing.T) {
	t.Parallel()
	f := linearGrid(t)
	f.Invalidate(f.Index(1, 2))
	n, ok := f.InterpolatedVectorAt(30, 40)
	require.True(t, ok)
	assert.False(t, n.Valid)
}

func TestResample_Identity(t *testing.T) {
	t.Parallel()
	f := linearGrid(t)
	before := f.Clone()

	outside := f.Resample(8, 8, 72, 72, 16, 16)
	assert.Zero(t, outside)
	assert.Equal(t, before.Cols, f.Cols)
	assert.Equal(t, before.Rows, f.Rows)
	assert.Equal(t, before.Nodes, f.Nodes)
}

func TestResample_FinerGridAndOutside(t *testing.T) {
	t.Parallel()
	f := linearGrid(t)
	f.Deformation(FiniteDifference, ExtensionalStrain)

	// One extra column at x = 88 lies outside the field.
	outside := f.Resample(8, 8, 88, 72, 16, 16)
	assert.Equal(t, 5, outside)
	assert.Equal(t, 6, f.Cols)
	assert.Equal(t, 5, f.Rows)
	require.NotNil(t, f.Derived)
	assert.Len(t, f.Derived.Values, 30)

	for r := range f.Rows {
		n := f.At(5, r)
		assert.Zero(t, n.Dx)
		assert.Zero(t, n.Dy)
		assert.False(t, n.Valid)
		assert.Equal(t, 88.0, n.X)
	}

	g := linearGrid(t)
	g.Resample(8, 8, 72, 72, 8, 8)
	assert.Equal(t, 9, g.Cols)
	assert.Equal(t, 8.0, g.SpacingX)
	// (16, 16) rounds up to the node at (24, 24).
	assert.InDelta(t, sampleA*24, g.At(1, 1).Dx, 1e-12)
	assert.Equal(t, 16.0, g.At(1, 1).X)
}

func TestFreeProfile(t *testing.T) {
	t.Parallel()
	f := linearGrid(t)

	p := f.FreeProfile(8, 40, 72, 40, 0)
	require.Len(t, p, 5)
	for i, n := range p {
		assert.InDelta(t, 8+16*float64(i), n.X, 1e-9)
		assert.InDelta(t, sampleA*n.X, n.Dx, 1e-9)
		assert.InDelta(t, sampleB*40, n.Dy, 1e-9)
	}

	// Reversed and diagonal segments.
	back := f.FreeProfile(72, 72, 8, 8, 8)
	require.Len(t, back, 12)
	assert.InDelta(t, 72, back[0].X, 1e-9)
	assert.InDelta(t, 8, back[11].Y, 1e-9)
	for _, n := range back {
		assert.InDelta(t, sampleB*n.Y, n.Dy, 1e-9)
	}

	single := f.FreeProfile(30, 30, 30, 30, 16)
	assert.Len(t, single, 1)

	bad := f.FreeProfile(math.NaN(), 30, 60, 30, 16)
	require.Len(t, bad, 1)
	assert.False(t, bad[0].Valid)
}

func TestFreeProfiles(t *testing.T) {
	t.Parallel()
	f := linearGrid(t)

	out := f.FreeProfiles(8, 40, 72, 40, 16, 3, 16)
	require.Len(t, out, 4)
	assert.InDelta(t, 24, out[0][0].Y, 1e-9)
	assert.InDelta(t, 40, out[1][0].Y, 1e-9)
	assert.InDelta(t, 56, out[2][0].Y, 1e-9)

	avg := out[3]
	require.Len(t, avg, 5)
	for i, n := range avg {
		assert.Equal(t, out[1][i].X, n.X)
		assert.Equal(t, out[1][i].Y, n.Y)
		assert.InDelta(t, sampleA*n.X, n.Dx, 1e-9)
		assert.InDelta(t, sampleB*40, n.Dy, 1e-9)
	}

	assert.Nil(t, f.FreeProfiles(8, 40, 72, 40, 16, 0, 16))
}
