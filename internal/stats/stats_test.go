package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedian(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"odd", []float64{5, 1, 3}, 3},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{7}, 7},
		{"negative", []float64{-1, -5, -3}, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Median(tt.in))
		})
	}
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestEmptyInputIsNaN(t *testing.T) {
	t.Parallel()
	assert.True(t, math.IsNaN(Median(nil)))
	assert.True(t, math.IsNaN(Average(nil)))
	assert.True(t, math.IsNaN(Min(nil)))
	assert.True(t, math.IsNaN(Max(nil)))
	assert.True(t, math.IsNaN(StdDev([]float64{1})))
	assert.True(t, math.IsNaN(Average2D(nil)))
}

func TestMinMaxAverage(t *testing.T) {
	t.Parallel()
	in := []float64{2, -4, 8, 6}
	assert.Equal(t, -4.0, Min(in))
	assert.Equal(t, 8.0, Max(in))
	assert.Equal(t, 3.0, Average(in))
}

func TestResidualsOfMedian(t *testing.T) {
	t.Parallel()
	got := ResidualsOfMedian([]float64{1, 2, 10})
	assert.Equal(t, []float64{1, 0, 8}, got)
}

func TestStdDev_Sample(t *testing.T) {
	t.Parallel()
	// Sample variance of {2,4,4,4,5,5,7,9} is 32/7.
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, math.Sqrt(32.0/7.0), got, 1e-12)
}

func TestLinearRegressionGradient(t *testing.T) {
	t.Parallel()
	x := []float64{0, 16, 32, 48, 64}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 3 - 0.25*v
	}
	assert.InDelta(t, -0.25, LinearRegressionGradient(x, y), 1e-12)
	assert.True(t, math.IsNaN(LinearRegressionGradient(x, y[:2])))
}

func TestAverage2D(t *testing.T) {
	t.Parallel()
	in := [][]float32{{1, 2}, {3, 6}}
	assert.Equal(t, 3.0, Average2D(in))
}
