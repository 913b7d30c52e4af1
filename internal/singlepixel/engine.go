// Package singlepixel implements ensemble correlation at native pixel
// resolution. Instead of interrogation windows every pixel of a region
// accumulates the product of its intensity with the second frame over a small
// displacement domain, summed over a whole sequence of image pairs.
package singlepixel

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/correlate"
	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
	"github.com/banshee-data/velocity.piv/internal/imagery"
	"github.com/banshee-data/velocity.piv/internal/monitoring"
	"github.com/banshee-data/velocity.piv/internal/timeutil"
)

// Config holds the single-pixel parameters.
type Config struct {
	// DoubleFrame treats every input file as a stacked frame pair.
	// Otherwise files f and f+1 form a pair.
	DoubleFrame bool
	// ROI corners are inclusive. A zero ROI covers the whole frame.
	ROI          config.ROI
	DomainWidth  int
	DomainHeight int
	PreShift     [2]int
	// PreShiftFromPIV makes the command line run a multi-pass evaluation
	// first and seed the shift from its result.
	PreShiftFromPIV bool
	ThreeByThree    bool
	SignalOnly      bool
	Workers         int

	Destination      string
	Header           bool
	UseImageBaseName bool
}

// FromPIVConfig resolves the single_pixel and output sections.
func FromPIVConfig(c *config.PIVConfig) Config {
	sp := c.SinglePixel
	px, py := sp.GetPreShift()
	return Config{
		DoubleFrame:      sp.GetDoubleFrame(),
		ROI:              sp.GetROI(),
		DomainWidth:      sp.GetDomainWidth(),
		DomainHeight:     sp.GetDomainHeight(),
		PreShift:         [2]int{px, py},
		PreShiftFromPIV:  sp.GetPreShiftFromPIV(),
		ThreeByThree:     sp.GetThreeByThree(),
		SignalOnly:       sp.GetSignalOnly(),
		Workers:          c.Evaluation.GetWorkers(),
		Destination:      c.Output.GetDestination(),
		Header:           c.Output.GetHeader(),
		UseImageBaseName: c.Output.GetUseImageBaseName(),
	}
}

// SeedSource supplies a finished multi-pass result. *evaluation.Engine
// implements it; Wait blocks until that engine is done.
type SeedSource interface {
	Wait() (evaluation.Result, error)
}

// Job is one single-pixel run.
type Job struct {
	Frames      []string
	Destination string
	// Seed, when set, replaces the constant pre-shift with the displacement
	// of a multi-pass evaluation.
	Seed SeedSource
}

// Result of a run.
type Result struct {
	Output string
	Field  *field.Field
	Pairs  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithFileSystem sets where frames are read and the result is written.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(e *Engine) { e.fsys = fsys }
}

// WithLoader replaces the image decoder.
func WithLoader(load evaluation.FrameLoader) Option {
	return func(e *Engine) { e.load = load }
}

// WithSink registers the receiver of the written output.
func WithSink(s evaluation.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock sets the clock used for timings.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine runs single-pixel ensemble correlations.
type Engine struct {
	cfg   Config
	fsys  fsutil.FileSystem
	load  evaluation.FrameLoader
	sink  evaluation.Sink
	clock timeutil.Clock
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if w, h := cfg.DomainWidth, cfg.DomainHeight; w < 3 || h < 3 || w%2 == 0 || h%2 == 0 {
		return nil, fmt.Errorf("single pixel domain must be odd and at least 3x3, got %dx%d", w, h)
	}
	e := &Engine{cfg: cfg, fsys: fsutil.OSFileSystem{}, clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(e)
	}
	if e.load == nil {
		e.load = func(name string) (*imagery.Plane, error) { return imagery.LoadFile(e.fsys, name) }
	}
	return e, nil
}

// layout is the geometry shared by every pair of a run.
type layout struct {
	roi                 config.ROI
	roiW, roiH          int
	top, bot, lft, rgt  int
	cols, rows          int
	domW, domH          int
	halfW, halfH        int
	threeByThree, sigOn bool
	// shift per ROI pixel in raster order
	sx, sy []int
}

func (l *layout) cells() int { return l.domW * l.domH }

// margin trims half the domain on each side, reduced by the pre-shift
// pointing that way, plus one pixel for the 3x3 neighbourhood.
func margin(half, shift int, threeByThree bool) int {
	m := max(half+shift, 0)
	if threeByThree {
		m++
	}
	return m
}

func (e *Engine) newLayout(width, height int) (*layout, error) {
	roi := e.cfg.ROI
	if roi == (config.ROI{}) {
		roi = config.ROI{X2: width - 1, Y2: height - 1}
	}
	if roi.X1 < 0 || roi.Y1 < 0 || roi.X2 >= width || roi.Y2 >= height || roi.X2 < roi.X1 || roi.Y2 < roi.Y1 {
		return nil, fmt.Errorf("region (%d,%d)-(%d,%d) outside %dx%d frame: %w",
			roi.X1, roi.Y1, roi.X2, roi.Y2, width, height, imagery.ErrOutOfBounds)
	}
	l := &layout{
		roi:          roi,
		roiW:         roi.X2 - roi.X1 + 1,
		roiH:         roi.Y2 - roi.Y1 + 1,
		domW:         e.cfg.DomainWidth,
		domH:         e.cfg.DomainHeight,
		halfW:        (e.cfg.DomainWidth - 1) / 2,
		halfH:        (e.cfg.DomainHeight - 1) / 2,
		threeByThree: e.cfg.ThreeByThree,
		sigOn:        e.cfg.SignalOnly,
	}
	px, py := e.cfg.PreShift[0], e.cfg.PreShift[1]
	l.top = margin(l.halfH, -py, l.threeByThree)
	l.bot = margin(l.halfH, py, l.threeByThree)
	l.lft = margin(l.halfW, -px, l.threeByThree)
	l.rgt = margin(l.halfW, px, l.threeByThree)
	l.cols = l.roiW - l.lft - l.rgt
	l.rows = l.roiH - l.top - l.bot
	if l.cols < 1 || l.rows < 1 {
		return nil, fmt.Errorf("region %dx%d leaves no pixel inside margins (%d, %d, %d, %d)",
			l.roiW, l.roiH, l.top, l.bot, l.lft, l.rgt)
	}
	l.sx = make([]int, l.roiW*l.roiH)
	l.sy = make([]int, l.roiW*l.roiH)
	for i := range l.sx {
		l.sx[i], l.sy[i] = px, py
	}
	return l, nil
}

// seed replaces the constant shift by the even-rounded displacement of f
// resampled onto the ROI pixels.
func (l *layout) seed(f *field.Field) {
	st := evaluation.SeedFrom(f, l.roi).ShiftTable()
	n := min(len(st.Dx), len(l.sx))
	copy(l.sx, st.Dx[:n])
	copy(l.sy, st.Dy[:n])
}

// Run correlates every pair of job and writes one vector file.
func (e *Engine) Run(ctx context.Context, job Job) (Result, error) {
	var res Result
	pairs := e.pairs(len(job.Frames))
	if len(pairs) == 0 {
		monitoring.Logf("single pixel: %v", evaluation.ErrNoInput)
		return res, evaluation.ErrNoInput
	}

	var seed *field.Field
	if job.Seed != nil {
		monitoring.Logf("single pixel: waiting for pre-shift evaluation")
		r, err := job.Seed.Wait()
		if err != nil {
			return res, fmt.Errorf("pre-shift evaluation: %w", err)
		}
		if r.Field == nil {
			return res, fmt.Errorf("pre-shift evaluation produced no field")
		}
		seed = r.Field
	}

	started := e.clock.Now()
	var (
		lay *layout
		acc []float64
	)
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		src, err := e.open(job.Frames, p)
		if err != nil {
			monitoring.Warnf("single pixel: skipping %s: %v", job.Frames[p[0]], err)
			continue
		}
		if lay == nil {
			if lay, err = e.newLayout(src.Width(), src.Height()); err != nil {
				return res, err
			}
			if seed != nil {
				lay.seed(seed)
			}
			acc = make([]float64, lay.rows*lay.cols*lay.cells())
		}
		a, err := roiWindow(src, lay, 0)
		if err != nil {
			monitoring.Warnf("single pixel: skipping %s: %v", job.Frames[p[0]], err)
			continue
		}
		b, err := roiWindow(src, lay, 1)
		if err != nil {
			monitoring.Warnf("single pixel: skipping %s: %v", job.Frames[p[1]], err)
			continue
		}
		if err := e.accumulate(ctx, lay, acc, a, b); err != nil {
			return res, err
		}
		res.Pairs++
		monitoring.Debugf("single pixel: processed pair %d of %d", res.Pairs, len(pairs))
	}
	if res.Pairs == 0 {
		return res, fmt.Errorf("%w: no pair could be loaded", evaluation.ErrNoInput)
	}

	res.Field = displacements(lay, acc)
	dest := e.cfg.Destination
	if job.Destination != "" {
		dest = job.Destination
	}
	if e.cfg.UseImageBaseName {
		dest = job.Frames[0]
	}
	res.Output = stripJVC(dest) + ".jvc"
	if err := res.Field.WriteFile(e.fsys, res.Output, e.cfg.Header); err != nil {
		return res, err
	}
	monitoring.Logf("single pixel: %d pairs, %d vectors in %v -> %s",
		res.Pairs, res.Field.Len(), e.clock.Since(started).Round(time.Millisecond), res.Output)

	if e.sink != nil {
		out := evaluation.Output{
			Path:      res.Output,
			Kind:      "single-pixel",
			FrameA:    job.Frames[pairs[0][0]],
			FrameB:    job.Frames[pairs[len(pairs)-1][1]],
			Passes:    1,
			Vectors:   res.Field.Len(),
			Invalid:   res.Field.InvalidCount(),
			CreatedAt: e.clock.Now(),
		}
		if err := e.sink.Append(ctx, out); err != nil {
			monitoring.Warnf("output sink: %v", err)
		}
	}
	return res, nil
}

func (e *Engine) pairs(n int) [][2]int {
	var out [][2]int
	if e.cfg.DoubleFrame {
		for f := range n {
			out = append(out, [2]int{f, f})
		}
		return out
	}
	for f := 0; f+1 < n; f++ {
		out = append(out, [2]int{f, f + 1})
	}
	return out
}

func (e *Engine) open(frames []string, p [2]int) (*imagery.Pair, error) {
	a, err := e.load(frames[p[0]])
	if err != nil {
		return nil, err
	}
	if p[0] == p[1] {
		return imagery.NewDoubleFrame(a), nil
	}
	b, err := e.load(frames[p[1]])
	if err != nil {
		return nil, err
	}
	return imagery.NewPair(a, b)
}

func roiWindow(src imagery.Source, l *layout, frame int) (*imagery.Plane, error) {
	return src.Window(imagery.WindowRequest{
		X: float64(l.roi.X1), Y: float64(l.roi.Y1), W: l.roiW, H: l.roiH, Frame: frame,
	})
}

// accumulate adds one pair to acc. Output rows are split into contiguous
// bands; each band owns its slice of acc.
func (e *Engine) accumulate(ctx context.Context, l *layout, acc []float64, a, b *imagery.Plane) error {
	threshold := float32(a.Mean())
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(min(workers, l.rows), 1)
	band := l.rows / workers

	g, _ := errgroup.WithContext(ctx)
	from := 0
	for w := range workers {
		to := from + band
		if w == workers-1 {
			to = l.rows
		}
		lo := from
		g.Go(func() error {
			for m := lo; m < to; m++ {
				accumulateRow(l, acc, a, b, threshold, m)
			}
			return nil
		})
		from = to
	}
	return g.Wait()
}

func accumulateRow(l *layout, acc []float64, a, b *imagery.Plane, threshold float32, m int) {
	cells := l.cells()
	i := l.top + m
	for n := range l.cols {
		j := l.lft + n
		if l.sigOn && a.At(j, i) <= threshold {
			continue
		}
		idx := i*l.roiW + j
		o0 := i - l.halfH + l.sy[idx]
		p0 := j - l.halfW + l.sx[idx]
		cell := acc[(m*l.cols+n)*cells : (m*l.cols+n+1)*cells]
		for k := range l.domH {
			o := o0 + k
			for q := range l.domW {
				p := p0 + q
				if l.threeByThree {
					if o < 1 || p < 1 || o+1 >= b.Height || p+1 >= b.Width {
						continue
					}
					var s float64
					for dy := -1; dy <= 1; dy++ {
						for dx := -1; dx <= 1; dx++ {
							s += float64(a.At(j+dx, i+dy)) * float64(b.At(p+dx, o+dy))
						}
					}
					cell[k*l.domW+q] += s
					continue
				}
				if o < 0 || p < 0 || o >= b.Height || p >= b.Width {
					continue
				}
				cell[k*l.domW+q] += float64(a.At(j, i)) * float64(b.At(p, o))
			}
		}
	}
}

// displacements locates the peak of every pixel's accumulated domain. A
// peak on the domain border or a failed fit gives an invalid node with zero
// displacement.
func displacements(l *layout, acc []float64) *field.Field {
	f := field.New(float64(l.roi.X1+l.lft), float64(l.roi.Y1+l.top), 1, 1, l.cols, l.rows, 0, 0, 0)
	cells := l.cells()
	grid := make([][]float64, l.domH)
	for c := range f.Nodes {
		m, n := c/l.cols, c%l.cols
		cell := acc[c*cells : (c+1)*cells]
		for k := range grid {
			grid[k] = cell[k*l.domW : (k+1)*l.domW]
		}
		col, row := correlate.ArgMax(grid)
		node := &f.Nodes[c]
		if col == 0 || row == 0 || col == l.domW-1 || row == l.domH-1 {
			node.Peak = -1
			continue
		}
		fx, okX := correlate.ParabolicFit(grid[row][col-1], grid[row][col], grid[row][col+1])
		fy, okY := correlate.ParabolicFit(grid[row-1][col], grid[row][col], grid[row+1][col])
		if !okX || !okY {
			node.Peak = -1
			continue
		}
		idx := (l.top+m)*l.roiW + l.lft + n
		node.Dx = float64(col) + fx + float64(l.sx[idx]) - float64(l.halfW)
		node.Dy = float64(row) + fy + float64(l.sy[idx]) - float64(l.halfH)
		node.Peak = grid[row][col]
		node.Valid = node.Peak > 0
	}
	return f
}

func stripJVC(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
