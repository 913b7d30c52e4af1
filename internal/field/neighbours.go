package field

import (
	"math"

	"github.com/banshee-data/velocity.piv/internal/stats"
)

type component int

const (
	compDx component = iota
	compDy
)

func (n *Node) value(c component) float64 {
	if c == compDx {
		return n.Dx
	}
	return n.Dy
}

// neighbours collects component c of the up to eight grid neighbours of
// node i, plus node i itself when incl is set. A node contributes when it is
// valid or when all is set. Returns nil when nothing qualifies.
func (f *Field) neighbours(i int, incl, all bool, c component) []float64 {
	row, col := i/f.Cols, i%f.Cols
	nb := make([]float64, 0, 9)
	for dr := -1; dr <= 1; dr++ {
		r := row + dr
		if r < 0 || r >= f.Rows {
			continue
		}
		for dc := -1; dc <= 1; dc++ {
			cc := col + dc
			if cc < 0 || cc >= f.Cols {
				continue
			}
			if dr == 0 && dc == 0 && !incl {
				continue
			}
			n := &f.Nodes[r*f.Cols+cc]
			if n.Valid || all {
				nb = append(nb, n.value(c))
			}
		}
	}
	if len(nb) == 0 {
		return nil
	}
	return nb
}

// NormalizedMedianTest flags outliers following Westerweel and Scarano
// (2005). For each component the residual
//
//	|v - median(nb)| / (median(|nb - median(nb)|) + noiseLevel)
//
// is compared against threshold; a node with no valid neighbour is also
// flagged. Flags are updated in raster order, so a node invalidated earlier
// no longer counts as a neighbour for the nodes after it. Passing nodes
// keep their current state.
func (f *Field) NormalizedMedianTest(noiseLevel, threshold float64) {
	for i := range f.Nodes {
		for _, c := range []component{compDx, compDy} {
			nb := f.neighbours(i, false, false, c)
			if nb == nil {
				f.Invalidate(i)
				continue
			}
			residual := math.Abs(f.Nodes[i].value(c)-stats.Median(nb)) /
				(stats.Median(stats.ResidualsOfMedian(nb)) + noiseLevel)
			if residual > threshold {
				f.Invalidate(i)
			}
		}
	}
}

// ReplaceByMedian sets the displacement of every invalid node (or of every
// node when all is set) to the median of its neighbours. Neighbours are taken
// from the unmodified field. includeInvalid lets invalid neighbours vote.
// A node with no usable neighbour gets zero displacement. Validity flags are
// not changed.
func (f *Field) ReplaceByMedian(all, includeInvalid bool) {
	next := append([]Node(nil), f.Nodes...)
	for i := range f.Nodes {
		if !all && f.Nodes[i].Valid {
			continue
		}
		// The centre is excluded unless every node is being filtered.
		next[i].Dx = medianOrZero(f.neighbours(i, all, includeInvalid, compDx))
		next[i].Dy = medianOrZero(f.neighbours(i, all, includeInvalid, compDy))
	}
	f.Nodes = next
}

// Smooth replaces every displacement with the 3x3 mean including the centre.
func (f *Field) Smooth(includeInvalid bool) {
	next := append([]Node(nil), f.Nodes...)
	for i := range f.Nodes {
		next[i].Dx = meanOrZero(f.neighbours(i, true, includeInvalid, compDx))
		next[i].Dy = meanOrZero(f.neighbours(i, true, includeInvalid, compDy))
	}
	f.Nodes = next
}

// InvalidateIsolated flags every node with fewer than minNeighbours valid
// neighbours, not counting itself. Counts are taken before any node is
// flagged.
func (f *Field) InvalidateIsolated(minNeighbours int) {
	var isolated []int
	for i := range f.Nodes {
		if len(f.neighbours(i, false, false, compDx)) < minNeighbours {
			isolated = append(isolated, i)
		}
	}
	for _, i := range isolated {
		f.Invalidate(i)
	}
}

func medianOrZero(v []float64) float64 {
	if v == nil {
		return 0
	}
	return stats.Median(v)
}

func meanOrZero(v []float64) float64 {
	if v == nil {
		return 0
	}
	return stats.Average(v)
}
