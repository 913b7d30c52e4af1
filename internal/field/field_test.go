package field

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.piv/internal/monitoring"
	"github.com/banshee-data/velocity.piv/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func mustRows(t *testing.T, rows [][]float64) *Field {
	t.Helper()
	f, err := FromRows(rows)
	require.NoError(t, err)
	return f
}

func TestNew(t *testing.T) {
	t.Parallel()
	f := New(16, 8, 32, 16, 3, 2, 1.5, -2, 0.7)
	require.Equal(t, 6, f.Len())
	assert.Equal(t, 3, f.Cols)
	assert.Equal(t, 2, f.Rows)
	assert.Equal(t, Node{X: 80, Y: 24, Dx: 1.5, Dy: -2, Peak: 0.7, Valid: true}, f.Nodes[5])

	invalid := New(0, 0, 1, 1, 2, 2, 0, 0, -1)
	assert.Equal(t, 4, invalid.InvalidCount())
}

func TestFromRows_InfersGrid(t *testing.T) {
	t.Parallel()
	f := mustRows(t, testutil.LinearRows(4, 3, 8, 8, 16, 0.5, 0.25))
	assert.Equal(t, 4, f.Cols)
	assert.Equal(t, 3, f.Rows)
	assert.Equal(t, 16.0, f.SpacingX)
	assert.Equal(t, 16.0, f.SpacingY)
	assert.True(t, f.Nodes[0].Valid)
	assert.Equal(t, 1.0, f.Nodes[0].Peak)
}

func TestFromRows_FourColumnsAreValid(t *testing.T) {
	t.Parallel()
	f := mustRows(t, defaultRows)
	assert.Equal(t, 3, f.Cols)
	assert.Equal(t, 40.0, f.SpacingX)
	assert.Zero(t, f.InvalidCount())
	for _, n := range f.Nodes {
		assert.Equal(t, 1.0, n.Peak)
	}
}

func TestFromRows_FlagAndAuxColumns(t *testing.T) {
	t.Parallel()
	rows := [][]float64{
		{0, 0, 1, 1, 0.9, 7, 8},
		{10, 0, 1, 1, -1, 7, 8},
		{0, 10, 1, 1, 0, 7, 8},
		{10, 10, 1, 1, 2, 7, 8},
	}
	f := mustRows(t, rows)
	assert.True(t, f.Nodes[0].Valid)
	assert.False(t, f.Nodes[1].Valid)
	assert.False(t, f.Nodes[2].Valid)
	assert.Equal(t, -1.0, f.Nodes[1].Peak)
	require.Len(t, f.Aux, 2)
	assert.Equal(t, "col 6", f.Aux[0].Name)
	assert.Equal(t, []float64{8, 8, 8, 8}, f.Aux[1].Values)
}

func TestFromRows_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rows [][]float64
	}{
		{"empty", nil},
		{"too few columns", [][]float64{{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1}}},
		{"ragged", [][]float64{{0, 0, 1, 1}, {1, 0, 1, 1, 1}, {0, 1, 1, 1}, {1, 1, 1, 1}}},
		{"single row", [][]float64{{0, 0, 1, 1}, {1, 0, 1, 1}, {2, 0, 1, 1}, {3, 0, 1, 1}}},
		{"incomplete last row", [][]float64{{0, 0, 1, 1}, {1, 0, 1, 1}, {0, 1, 1, 1}, {1, 1, 1, 1}, {0, 2, 1, 1}}},
		{"irregular", [][]float64{{0, 0, 1, 1}, {1, 0, 1, 1}, {0, 1, 1, 1}, {5, 1, 1, 1}}},
		{"descending", [][]float64{{1, 0, 1, 1}, {0, 0, 1, 1}, {1, 1, 1, 1}, {0, 1, 1, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := FromRows(tt.rows)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			var me *MalformedError
			assert.True(t, errors.As(err, &me))
		})
	}
}

func TestParseOrDefault(t *testing.T) {
	t.Parallel()
	f := ParseOrDefault([][]float64{{1, 2, 3}})
	if diff := cmp.Diff(DefaultField(), f); diff != "" {
		t.Errorf("expected default field (-want +got):\n%s", diff)
	}

	good := testutil.UniformRows(2, 2, 0, 0, 4, 1, 1)
	assert.Equal(t, 2, ParseOrDefault(good).Cols)
}

func TestAdd_WithSelfIsIdentity(t *testing.T) {
	t.Parallel()
	f := mustRows(t, testutil.LinearRows(5, 4, 8, 8, 16, 0.13, -0.07))
	want := f.Clone()
	require.NoError(t, f.Add(f.Clone()))
	assert.Equal(t, want.Nodes, f.Nodes)
}

func TestAdd_Averages(t *testing.T) {
	t.Parallel()
	a := New(0, 0, 8, 8, 2, 2, 1, 2, 1)
	b := New(0, 0, 8, 8, 2, 2, 3, -2, 0.5)
	require.NoError(t, a.Add(b))
	for _, n := range a.Nodes {
		assert.Equal(t, 2.0, n.Dx)
		assert.Equal(t, 0.0, n.Dy)
		assert.Equal(t, 1.0, n.Peak)
	}
}

func TestAdd_DimensionMismatchLeavesFieldUnchanged(t *testing.T) {
	t.Parallel()
	a := New(0, 0, 8, 8, 3, 3, 1, 2, 1)
	want := a.Clone()
	err := a.Add(New(0, 0, 8, 8, 3, 2, 5, 5, 1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, want, a)
}

func TestAverage(t *testing.T) {
	t.Parallel()
	a := New(0, 0, 8, 8, 2, 2, 1, 1, 1)
	b := New(0, 0, 8, 8, 2, 2, 2, 4, 1)
	c := New(0, 0, 8, 8, 2, 2, 3, 7, 1)
	avg, err := Average(a, b, c)
	require.NoError(t, err)
	assert.Equal(t, 2.0, avg.Nodes[3].Dx)
	assert.Equal(t, 4.0, avg.Nodes[3].Dy)
	// Inputs are not modified.
	assert.Equal(t, 1.0, a.Nodes[0].Dx)

	_, err = Average(a, New(0, 0, 8, 8, 1, 2, 0, 0, 1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = Average()
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 2, 2, 1, 1, 1)
	f.Derived = &Layer{Name: "uz", Values: []float64{1, 2, 3, 4}}
	f.Aux = []Layer{{Name: "col 6", Values: []float64{5, 6, 7, 8}}}
	c := f.Clone()
	c.Nodes[0].Dx = 99
	c.Derived.Values[0] = 99
	c.Aux[0].Values[0] = 99
	assert.Equal(t, 1.0, f.Nodes[0].Dx)
	assert.Equal(t, 1.0, f.Derived.Values[0])
	assert.Equal(t, 5.0, f.Aux[0].Values[0])
}

func TestShiftTable_EvenRounding(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 6, 1, 0, 0, 1)
	for i, d := range []float64{0.9, 1.0, 2.9, 3.0, -3.2, 5.1} {
		f.Nodes[i].Dx = d
		f.Nodes[i].Dy = -d
	}
	table := f.ShiftTable()
	assert.Equal(t, []int{0, 0, 2, 4, -4, 6}, table.Dx)
	assert.Equal(t, []int{0, 0, -2, -4, 4, -6}, table.Dy)
	// The source field keeps its fractional displacement.
	assert.Equal(t, 0.9, f.Nodes[0].Dx)
}

func TestSubtractReferenceAndRemoveInvalid(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 2, 2, 3, 4, 1)
	f.Invalidate(1)
	f.SubtractReference(1, 1)
	assert.Equal(t, 2.0, f.Nodes[0].Dx)
	assert.Equal(t, 3.0, f.Nodes[0].Dy)
	f.RemoveInvalid()
	assert.Zero(t, f.Nodes[1].Dx)
	assert.Zero(t, f.Nodes[1].Dy)
	assert.Equal(t, 2.0, f.Nodes[2].Dx)

	f.Scale(0.5)
	assert.Equal(t, 1.0, f.Nodes[2].Dx)
	assert.Equal(t, 1.5, f.Nodes[2].Dy)
	assert.Equal(t, 1.0, f.Nodes[2].Y)
}

func TestAddRandomNoise_Bounded(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 10, 10, 0, 0, 1)
	f.AddRandomNoise(0.5, rand.New(rand.NewPCG(1, 2)))
	var moved bool
	for _, n := range f.Nodes {
		assert.Less(t, n.Dx, 0.5)
		assert.GreaterOrEqual(t, n.Dx, -0.5)
		if n.Dx != 0 {
			moved = true
		}
	}
	assert.True(t, moved)
}

func TestFlipAndReverseY(t *testing.T) {
	t.Parallel()
	f := mustRows(t, testutil.LinearRows(2, 3, 0, 0, 10, 1, 1))
	f.Derived = &Layer{Name: "uz", Values: []float64{0, 1, 2, 3, 4, 5}}
	f.Invalidate(0)

	f.ReverseY()
	// Row 0 now holds the old row 2 (dy = 20), negated.
	assert.Equal(t, -20.0, f.Nodes[0].Dy)
	assert.Equal(t, 0.0, f.Nodes[0].Y)
	assert.Equal(t, 4.0, f.Derived.Values[0])
	assert.False(t, f.Nodes[4].Valid)
	assert.True(t, f.Nodes[0].Valid)

	f.FlipY()
	assert.Equal(t, 20.0, f.Nodes[0].Dy)
}

func TestInvalidSet(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 4, 4, 0, 0, 1)
	f.Invalidate(3)
	f.Invalidate(10)
	set := f.InvalidSet()
	assert.Equal(t, []uint32{3, 10}, set.ToArray())
	assert.Equal(t, 2, f.InvalidCount())
}

func TestMagnitude(t *testing.T) {
	t.Parallel()
	f := New(0, 0, 1, 1, 1, 2, 3, 4, 1)
	assert.Equal(t, []float64{5, 5}, f.Magnitude())
}

func TestProfiles(t *testing.T) {
	t.Parallel()
	f := mustRows(t, testutil.LinearRows(3, 2, 0, 0, 10, 1, 1))
	row := f.HorizontalProfile(1)
	require.Len(t, row, 3)
	assert.Equal(t, 10.0, row[0].Y)
	assert.Equal(t, 20.0, row[2].X)

	col := f.VerticalProfile(2)
	require.Len(t, col, 2)
	assert.Equal(t, 20.0, col[1].X)
	assert.Equal(t, 10.0, col[1].Y)

	assert.Nil(t, f.HorizontalProfile(2))
	assert.Nil(t, f.VerticalProfile(-1))
}

func TestCompareRMS(t *testing.T) {
	t.Parallel()
	ref := New(0, 0, 1, 1, 4, 4, 1, 1, 1)
	test := ref.Clone()
	for i := range test.Nodes {
		test.Nodes[i].Dx += 0.5
	}
	// Corrupt a border node; it only counts when borders are included.
	test.Nodes[0].Dy = 5

	rms, err := test.CompareRMS(ref, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rms[0], 1e-12)
	assert.InDelta(t, 0.0, rms[1], 1e-12)

	rms, err = test.CompareRMS(ref, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rms[1], 1e-12) // sqrt(16/16)

	_, err = test.CompareRMS(New(0, 0, 1, 1, 2, 2, 0, 0, 1), true)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
