package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// centreField is a 3x3 field whose centre is invalid. The valid neighbours
// carry 1..5 and the invalid corners carry 100.
func centreField() *Field {
	f := New(0, 0, 10, 10, 3, 3, 0, 0, 1)
	valid := []int{1, 3, 5, 7, 6}
	for k, i := range valid {
		f.Nodes[i].Dx = float64(k + 1)
		f.Nodes[i].Dy = -float64(k + 1)
	}
	for _, i := range []int{0, 2, 8} {
		f.Nodes[i].Dx, f.Nodes[i].Dy = 100, 100
		f.Invalidate(i)
	}
	f.Invalidate(4)
	return f
}

func TestReplaceByMedian_ValidNeighboursOnly(t *testing.T) {
	t.Parallel()
	f := centreField()
	before := f.Clone()

	f.ReplaceByMedian(false, false)
	assert.Equal(t, 3.0, f.Nodes[4].Dx)
	assert.Equal(t, -3.0, f.Nodes[4].Dy)
	for _, i := range []int{1, 3, 5, 6, 7} {
		assert.Equal(t, before.Nodes[i], f.Nodes[i], "valid node %d must not change", i)
	}
	// Validity is not restored.
	assert.False(t, f.Nodes[4].Valid)
}

func TestReplaceByMedian_IncludeInvalid(t *testing.T) {
	t.Parallel()
	f := centreField()
	f.ReplaceByMedian(false, true)
	// Neighbours 1..5 plus three corners at 100.
	assert.Equal(t, 4.5, f.Nodes[4].Dx)
}

func TestReplaceByMedian_NoNeighboursGivesZero(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 2, 2, 7, 7, -1)
	f.ReplaceByMedian(false, false)
	for _, n := range f.Nodes {
		assert.Zero(t, n.Dx)
		assert.Zero(t, n.Dy)
	}
}

func TestReplaceByMedian_AllIncludesCentre(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 3, 3, 1, 1, 1)
	f.Nodes[4].Dx = 50
	f.ReplaceByMedian(true, true)
	assert.Equal(t, 1.0, f.Nodes[4].Dx)
	// Corner 0 sees itself, 1, 3 and the spike at 4: median of {1,1,1,50}.
	assert.Equal(t, 1.0, f.Nodes[0].Dx)
}

func TestNormalizedMedianTest_FlagsSpike(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 16, 16, 5, 5, 1, 1, 1)
	f.Nodes[12].Dx, f.Nodes[12].Dy = 10, -10

	f.NormalizedMedianTest(0.1, 2)
	assert.Equal(t, []uint32{12}, f.InvalidSet().ToArray())
	assert.Equal(t, -1.0, f.Nodes[12].Peak)

	before := f.Clone()
	f.ReplaceByMedian(false, false)
	assert.Equal(t, 1.0, f.Nodes[12].Dx)
	assert.Equal(t, 1.0, f.Nodes[12].Dy)
	for i := range f.Nodes {
		if i != 12 {
			assert.Equal(t, before.Nodes[i], f.Nodes[i])
		}
	}
}

func TestNormalizedMedianTest_NoValidNeighbours(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 3, 1, 1, 1, 1)
	f.Invalidate(0)
	f.Invalidate(2)
	f.NormalizedMedianTest(0.1, 2)
	assert.False(t, f.Nodes[1].Valid)
}

func TestNormalizedMedianTest_SmoothFieldUntouched(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 16, 16, 6, 6, 0, 0, 1)
	for i := range f.Nodes {
		f.Nodes[i].Dx = 0.001 * f.Nodes[i].X
		f.Nodes[i].Dy = -0.002 * f.Nodes[i].Y
	}
	f.NormalizedMedianTest(0.1, 2)
	assert.Zero(t, f.InvalidCount())
}

func TestSmooth(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 3, 3, 0, 0, 1)
	f.Nodes[4].Dx = 9
	f.Smooth(false)
	assert.Equal(t, 1.0, f.Nodes[4].Dx)
	// Corner 0 averages itself, 1, 3 and 4.
	assert.Equal(t, 9.0/4, f.Nodes[0].Dx)

	g := New(0, 0, 1, 1, 3, 3, 2, -2, 1)
	g.Smooth(true)
	for _, n := range g.Nodes {
		assert.Equal(t, 2.0, n.Dx)
		assert.Equal(t, -2.0, n.Dy)
	}
}

func TestSmooth_SkipsInvalidUnlessIncluded(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 3, 3, 1, 1, 1)
	f.Nodes[0].Dx = 100
	f.Invalidate(0)

	g := f.Clone()
	f.Smooth(false)
	assert.Equal(t, 1.0, f.Nodes[4].Dx)

	g.Smooth(true)
	assert.InDelta(t, 108.0/9, g.Nodes[4].Dx, 1e-12)
}

func TestInvalidateIsolated(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 4, 4, 1, 1, 1)
	// Leave node 0 with a single valid neighbour (5).
	f.Invalidate(1)
	f.Invalidate(4)

	f.InvalidateIsolated(2)
	assert.False(t, f.Nodes[0].Valid)
	// Node 15 has three valid neighbours.
	assert.True(t, f.Nodes[15].Valid)

	require.Equal(t, 3, f.InvalidCount())
}
