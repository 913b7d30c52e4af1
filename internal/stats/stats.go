// Package stats provides the small set of descriptive statistics used by the
// vector field filters and the correlation engines.
//
// All functions leave their input untouched. Empty input yields NaN rather
// than a panic, because neighbour sets at the edge of a field may be empty.
package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Min returns the smallest value.
func Min(val []float64) float64 {
	if len(val) == 0 {
		return math.NaN()
	}
	return floats.Min(val)
}

// Max returns the largest value.
func Max(val []float64) float64 {
	if len(val) == 0 {
		return math.NaN()
	}
	return floats.Max(val)
}

// Median returns the middle value of val. For an even number of values the
// mean of the two middle values is returned.
func Median(val []float64) float64 {
	n := len(val)
	if n == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(val)
	slices.Sort(sorted)
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid] + sorted[mid-1]) / 2
}

// ResidualsOfMedian returns |v - median(val)| for every element.
func ResidualsOfMedian(val []float64) []float64 {
	median := Median(val)
	res := make([]float64, len(val))
	for i, v := range val {
		res[i] = math.Abs(v - median)
	}
	return res
}

// Average returns the arithmetic mean.
func Average(val []float64) float64 {
	if len(val) == 0 {
		return math.NaN()
	}
	return stat.Mean(val, nil)
}

// Average2D returns the mean of a row-major sample grid.
func Average2D(val [][]float32) float64 {
	var sum float64
	var n int
	for _, row := range val {
		for _, v := range row {
			sum += float64(v)
		}
		n += len(row)
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// StdDev returns the sample standard deviation (N-1 in the denominator).
func StdDev(val []float64) float64 {
	if len(val) < 2 {
		return math.NaN()
	}
	return stat.StdDev(val, nil)
}

// LinearRegressionGradient returns the slope b of the least-squares line
// y = a + b*x through the given points.
func LinearRegressionGradient(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	return beta
}
