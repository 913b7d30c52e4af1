package reconstruct

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
	"github.com/banshee-data/velocity.piv/internal/testutil"
)

// divergentStack returns n identical planes with ux = 0.02x and uy = 0.03y,
// a constant divergence of 0.05.
func divergentStack(t *testing.T, n int) []*field.Field {
	t.Helper()
	out := make([]*field.Field, n)
	for i := range out {
		f, err := field.FromRows(testutil.LinearRows(5, 4, 8, 8, 16, 0.02, 0.03))
		require.NoError(t, err)
		out[i] = f
	}
	return out
}

func TestReconstruct_ConstantDivergence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		skip  int
		index []int
		uz    []float64
	}{
		{"every plane", 0, []int{0, 1, 2, 3}, []float64{0, -0.8, -1.6, -2.4}},
		{"skip one", 1, []int{0, 2}, []float64{0, -1.6}},
		{"skip two", 2, []int{0, 3}, []float64{0, -2.4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			planes := divergentStack(t, 4)
			got, err := Reconstruct(context.Background(), planes, Config{Dz: 16, Skip: tt.skip})
			require.NoError(t, err)
			require.Len(t, got, len(tt.index))
			for k, p := range got {
				assert.Equal(t, tt.index[k], p.Index)
				require.NotNil(t, p.Field.Derived)
				assert.Equal(t, LayerName, p.Field.Derived.Name)
				for i, v := range p.Field.Derived.Values {
					assert.InDelta(t, tt.uz[k], v, 1e-9, "plane %d node %d", p.Index, i)
				}
			}
			// Inputs keep no derived layer.
			assert.Nil(t, planes[0].Derived)
		})
	}
}

func TestReconstruct_LinearRegressionAgrees(t *testing.T) {
	t.Parallel()

	planes := divergentStack(t, 3)
	fd, err := Reconstruct(context.Background(), planes, Config{Dz: 10, Mode: field.FiniteDifference})
	require.NoError(t, err)
	lr, err := Reconstruct(context.Background(), planes, Config{Dz: 10, Mode: field.LinearRegression})
	require.NoError(t, err)
	assert.InDeltaSlice(t, fd[2].Field.Derived.Values, lr[2].Field.Derived.Values, 1e-9)
}

func TestReconstruct_Errors(t *testing.T) {
	t.Parallel()

	_, err := Reconstruct(context.Background(), divergentStack(t, 2), Config{Dz: 1})
	assert.ErrorIs(t, err, ErrTooFewPlanes)

	planes := divergentStack(t, 3)
	other, err := field.FromRows(testutil.UniformRows(3, 3, 8, 8, 16, 0, 0))
	require.NoError(t, err)
	planes[2] = other
	_, err = Reconstruct(context.Background(), planes, Config{Dz: 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Reconstruct(context.Background(), divergentStack(t, 3), Config{Dz: 0})
	assert.Error(t, err)
	_, err = Reconstruct(context.Background(), divergentStack(t, 3), Config{Dz: 1, Skip: -1})
	assert.Error(t, err)
}

func TestReconstructor_Run(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	files := []string{"in/p0.jvc", "in/p1.jvc", "in/p2.jvc"}
	for i, f := range divergentStack(t, 3) {
		require.NoError(t, f.WriteFile(fsys, files[i], true))
	}

	var kinds []string
	sink := evaluation.SinkFunc(func(_ context.Context, out evaluation.Output) error {
		kinds = append(kinds, out.Kind)
		return nil
	})
	r := New(Config{Dz: 16, Destination: "out/uz.jvc", Header: true}, WithFileSystem(fsys), WithSink(sink))
	written, err := r.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/uz0.jvc", "out/uz1.jvc", "out/uz2.jvc"}, written)
	assert.Equal(t, []string{"reconstruction", "reconstruction", "reconstruction"}, kinds)

	back, err := field.ReadFile(fsys, "out/uz2.jvc")
	require.NoError(t, err)
	require.Len(t, back.Aux, 1)
	for _, v := range back.Aux[0].Values {
		assert.InDelta(t, -1.6, v, 1e-4)
	}

	_, err = r.Run(context.Background(), files[:2])
	assert.ErrorIs(t, err, ErrTooFewPlanes)
}

func TestFromPIVConfig(t *testing.T) {
	t.Parallel()

	c := config.DefaultConfig()
	cfg := FromPIVConfig(c)
	assert.InDelta(t, 16.0, cfg.Dz, 1e-12)
	assert.Equal(t, field.FiniteDifference, cfg.Mode)

	on := true
	c.Reconstruction.LinearRegression = &on
	assert.Equal(t, field.LinearRegression, FromPIVConfig(c).Mode)
}

func TestReconstructor_RunSkipStepsOverSkippedPlanes(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	files := []string{"in/p0.jvc", "in/p1.jvc", "in/p2.jvc", "in/p3.jvc", "in/p4.jvc"}
	for i, f := range divergentStack(t, len(files)) {
		require.NoError(t, f.WriteFile(fsys, files[i], true))
	}

	r := New(Config{Dz: 10, Skip: 1, Destination: "out/uz.jvc", Header: true}, WithFileSystem(fsys))
	written, err := r.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/uz0.jvc", "out/uz2.jvc", "out/uz4.jvc"}, written)

	// Processed planes are 2*Dz apart: uz = -0.05 * 20 per step.
	for k, want := range []float64{0, -1, -2} {
		back, err := field.ReadFile(fsys, written[k])
		require.NoError(t, err)
		require.Len(t, back.Aux, 1)
		for _, v := range back.Aux[0].Values {
			assert.InDelta(t, want, v, 1e-4, written[k])
		}
	}
}
