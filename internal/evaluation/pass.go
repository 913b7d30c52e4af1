package evaluation

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/correlate"
	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/imagery"
)

// Tier is the window placement that finally fit inside the frame. Tiers are
// tried in order; later tiers lose accuracy at the border.
type Tier int

const (
	// TierCentral splits the pre-shift symmetrically between both frames.
	TierCentral Tier = iota
	// TierBackward applies the whole pre-shift to the first frame.
	TierBackward
	// TierForward applies the whole pre-shift to the second frame.
	TierForward
	// TierUnshifted drops the pre-shift; the node's shift is zeroed.
	TierUnshifted
	numTiers
)

func (t Tier) String() string {
	switch t {
	case TierCentral:
		return "central"
	case TierBackward:
		return "backward"
	case TierForward:
		return "forward"
	case TierUnshifted:
		return "unshifted"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// PassStats summarises one correlation pass over one image pair (or over all
// pairs in sum-of-correlation mode).
type PassStats struct {
	Pass    int
	Vectors int
	Tiers   [numTiers]int
	// NoPeak holds the indices of vectors without a usable peak.
	NoPeak *roaring.Bitmap
}

// plan is the per-pass input: window sizes, node positions with their integer
// pre-shift, and optional window shear.
type plan struct {
	pass   int
	win    config.PassWindow
	shifts field.ShiftTable
	shear  []field.Shear
}

// workerCount targets about 4000 vectors per worker, bounded by [2, NumCPU]
// and by the number of vectors.
func workerCount(vectors, override int) int {
	n := override
	if n <= 0 {
		n = min(max(vectors/4000, 2), runtime.NumCPU())
	}
	return max(min(n, vectors), 1)
}

// correlatePass correlates every vector of p and adds each map into acc[c].
// Vectors are split into contiguous ranges, one per worker; a worker writes
// only the accumulators and shift entries of its own range, so no lock is
// taken. Tier counts are merged after all workers have joined.
func correlatePass(ctx context.Context, src imagery.Source, corr correlate.Correlator, p *plan, acc []*correlate.Map, workers int) ([numTiers]int, error) {
	n := len(p.shifts.X)
	if workers < 1 {
		workers = 1
	}
	interval := n / workers
	counts := make([][numTiers]int, workers)

	g, _ := errgroup.WithContext(ctx)
	from := 0
	for w := range workers {
		to := from + interval
		if w == workers-1 {
			to = n
		}
		lo := from
		g.Go(func() error {
			for c := lo; c < to; c++ {
				m, tier, err := correlateVector(src, corr, p, c)
				if err != nil {
					return fmt.Errorf("vector %d: %w", c, err)
				}
				counts[w][tier]++
				if err := acc[c].Add(m); err != nil {
					return fmt.Errorf("vector %d: %w", c, err)
				}
			}
			return nil
		})
		from = to
	}
	err := g.Wait()

	var total [numTiers]int
	for _, cnt := range counts {
		for t, v := range cnt {
			total[t] += v
		}
	}
	return total, err
}

// correlateVector tries the four window placements for vector c in order.
func correlateVector(src imagery.Source, corr correlate.Correlator, p *plan, c int) (*correlate.Map, Tier, error) {
	w, h := p.win.Width, p.win.Height
	fw, fh := float64(w), float64(h)
	cx, cy := p.shifts.X[c], p.shifts.Y[c]
	sx, sy := float64(p.shifts.Dx[c]), float64(p.shifts.Dy[c])
	hw, hh := float64(w/2), float64(h/2)

	var shX, shY float64
	if p.shear != nil {
		shX, shY = p.shear[c].DUxDy/2, p.shear[c].DUyDx/2
	}
	req := func(x, y float64, frame int) imagery.WindowRequest {
		r := imagery.WindowRequest{X: x, Y: y, W: w, H: h, Frame: frame, ShearX: shX, ShearY: shY}
		if frame == 1 {
			r.ShearX, r.ShearY = -shX, -shY
		}
		return r
	}

	placements := [TierUnshifted][2]imagery.WindowRequest{
		TierCentral: {
			req(cx-(fw+sx)/2, cy-(fh+sy)/2, 0),
			req(cx-(fw-sx)/2, cy-(fh-sy)/2, 1),
		},
		TierBackward: {
			req(cx-hw-sx, cy-hh-sy, 0),
			req(cx-hw, cy-hh, 1),
		},
		TierForward: {
			req(cx-hw, cy-hh, 0),
			req(cx-hw+sx, cy-hh+sy, 1),
		},
	}
	for t, pl := range placements {
		m, err := correlateWindows(src, corr, pl[0], pl[1])
		if err == nil {
			return m, Tier(t), nil
		}
		if !errors.Is(err, imagery.ErrOutOfBounds) {
			return nil, Tier(t), err
		}
	}

	p.shifts.Dx[c], p.shifts.Dy[c] = 0, 0
	a, b := req(cx-hw, cy-hh, 0), req(cx-hw, cy-hh, 1)
	a.ZeroPad, b.ZeroPad = true, true
	m, err := correlateWindows(src, corr, a, b)
	return m, TierUnshifted, err
}

func correlateWindows(src imagery.Source, corr correlate.Correlator, ra, rb imagery.WindowRequest) (*correlate.Map, error) {
	a, err := src.Window(ra)
	if err != nil {
		return nil, err
	}
	b, err := src.Window(rb)
	if err != nil {
		return nil, err
	}
	return corr.Correlate(a, b)
}

// extractPeaks turns the accumulated maps of a pass into a vector field.
// A vector without a usable peak keeps zero displacement and is invalid.
func extractPeaks(acc []*correlate.Map, p *plan, est correlate.PeakEstimator, spacingX, spacingY float64) (*field.Field, *roaring.Bitmap) {
	st := p.shifts
	f := field.New(0, 0, spacingX, spacingY, st.Cols, st.Rows, 0, 0, 0)
	noPeak := roaring.New()
	sx := p.win.Width/2 - p.win.SearchWidth/2
	sy := p.win.Height/2 - p.win.SearchHeight/2
	for c := range f.Nodes {
		n := &f.Nodes[c]
		n.X, n.Y = st.X[c], st.Y[c]
		pk := est.LocatePeak(acc[c], sx, sy, p.win.SearchWidth, p.win.SearchHeight)
		if !pk.Found() {
			noPeak.Add(uint32(c))
			n.Peak = correlate.NoPeak
			n.Valid = false
			continue
		}
		n.Dx = float64(st.Dx[c]) + pk.X - float64(p.win.Width)/2
		n.Dy = float64(st.Dy[c]) + pk.Y - float64(p.win.Height)/2
		n.Peak = pk.Height
		n.Valid = pk.Height > 0
	}
	return f, noPeak
}

// postprocess applies the configured filters in their fixed order.
func postprocess(f *field.Field, cfg *Config) (flagged int) {
	if cfg.NormMedianTest {
		before := f.InvalidCount()
		f.NormalizedMedianTest(cfg.NoiseLevel, cfg.Threshold)
		flagged = f.InvalidCount() - before
	}
	if cfg.Replace {
		f.ReplaceByMedian(false, false)
	}
	if cfg.Median {
		f.ReplaceByMedian(true, true)
	}
	if cfg.Smoothing {
		f.Smooth(true)
	}
	return flagged
}

// newAccumulators allocates one zeroed map per vector.
func newAccumulators(n int, win config.PassWindow) []*correlate.Map {
	acc := make([]*correlate.Map, n)
	for i := range acc {
		acc[i] = correlate.NewMap(win.Width, win.Height)
	}
	return acc
}
