package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/correlate"
	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
	"github.com/banshee-data/velocity.piv/internal/imagery"
	"github.com/banshee-data/velocity.piv/internal/monitoring"
	"github.com/banshee-data/velocity.piv/internal/timeutil"
)

var (
	// ErrNoInput is returned when a job names no frames or no frame pair.
	ErrNoInput = errors.New("no input images")
	// ErrBusy is returned by Start while a job is still running.
	ErrBusy = errors.New("evaluation already in progress")
)

// Job is one batch of frames evaluated with the engine's configuration.
type Job struct {
	Frames []string
	// Destination overrides Config.Destination when set.
	Destination string
}

// Result is what a finished job leaves behind.
type Result struct {
	Outputs []string
	// Field is the final vector field of the last evaluated pair.
	Field *field.Field
	// Stats holds one entry per pass and evaluated pair, in order.
	Stats []PassStats
}

// FrameLoader reads one input frame.
type FrameLoader func(name string) (*imagery.Plane, error)

// Option configures an Engine.
type Option func(*Engine)

// WithFileSystem sets where frames are read from and vector files are
// written to. Defaults to the OS file system.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(e *Engine) { e.fsys = fsys }
}

// WithLoader replaces the image decoder.
func WithLoader(load FrameLoader) Option {
	return func(e *Engine) { e.load = load }
}

// WithSink registers the receiver of every written output.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCorrelator replaces the FFT correlator.
func WithCorrelator(c correlate.Correlator) Option {
	return func(e *Engine) { e.corr = c }
}

// WithClock sets the clock used for timings and output timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine runs multi-pass PIV evaluations. It handles one job at a time,
// either synchronously through Run or in the background through Start and
// Wait.
type Engine struct {
	cfg     Config
	est     correlate.PeakEstimator
	fsys    fsutil.FileSystem
	load    FrameLoader
	sink    Sink
	metrics *Metrics
	corr    correlate.Correlator
	clock   timeutil.Clock

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	result     Result
	err        error
	lastOutput string
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if len(cfg.Windows) == 0 {
		return nil, fmt.Errorf("evaluation needs at least one pass window")
	}
	for i, w := range cfg.Windows {
		if w.Width < 2 || w.Height < 2 || w.SpacingX < 1 || w.SpacingY < 1 {
			return nil, fmt.Errorf("pass %d: invalid window %+v", i+1, w)
		}
	}
	name := cfg.PeakEstimator
	if name == "" || name == config.PeakAuto {
		name = config.PeakGaussian
		if cfg.SumOfCorrelation {
			name = config.PeakParabolic
		}
	}
	est, err := correlate.EstimatorByName(name)
	if err != nil {
		return nil, err
	}
	if _, err := pairings(cfg.Sequence, cfg.Skip, 0); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		est:   est,
		fsys:  fsutil.OSFileSystem{},
		corr:  correlate.NewFFT(),
		clock: timeutil.RealClock{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.load == nil {
		e.load = func(name string) (*imagery.Plane, error) { return imagery.LoadFile(e.fsys, name) }
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start runs job in the background. Wait collects the result.
func (e *Engine) Start(ctx context.Context, job Job) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.result, e.err = Result{}, nil
	done := e.done
	e.mu.Unlock()

	go func() {
		res, err := e.run(runCtx, job)
		cancel()
		e.mu.Lock()
		e.result, e.err = res, err
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
		close(done)
	}()
	return nil
}

// Wait blocks until the job launched by Start has finished. Without a
// started job it returns the previous result, if any.
func (e *Engine) Wait() (Result, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.err
}

// Stop cancels a background job. The pass in progress is finished first.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Run evaluates job synchronously.
func (e *Engine) Run(ctx context.Context, job Job) (Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Result{}, ErrBusy
	}
	e.running = true
	e.mu.Unlock()

	res, err := e.run(ctx, job)

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return res, err
}

// LastOutput returns the path of the most recently written vector file.
func (e *Engine) LastOutput() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOutput
}

func (e *Engine) run(ctx context.Context, job Job) (Result, error) {
	var res Result
	if len(job.Frames) == 0 {
		monitoring.Logf("evaluation: %v", ErrNoInput)
		return res, ErrNoInput
	}
	pairs, err := pairings(e.cfg.Sequence, e.cfg.Skip, len(job.Frames))
	if err != nil {
		return res, err
	}
	if len(pairs) == 0 {
		monitoring.Logf("evaluation: %v (%d frames, sequence %s)", ErrNoInput, len(job.Frames), e.cfg.Sequence)
		return res, fmt.Errorf("%w: %d frames do not form a pair", ErrNoInput, len(job.Frames))
	}

	dest := e.cfg.Destination
	if job.Destination != "" {
		dest = job.Destination
	}
	if e.cfg.UseImageBaseName {
		dest = stripExtension(job.Frames[0])
	}

	started := e.clock.Now()
	if e.cfg.SumOfCorrelation {
		monitoring.Logf("evaluation: summing correlation over %d pairs", len(pairs))
		f, stats, err := e.evaluate(ctx, job.Frames, pairs, dest)
		res.Stats = stats
		if errors.Is(err, errSkipPair) {
			return res, fmt.Errorf("%w: no pair could be loaded", ErrNoInput)
		}
		if err != nil {
			return res, err
		}
		res.Field = f
		out := Output{
			Path:   dest + ".jvc",
			FrameA: job.Frames[pairs[0].A],
			FrameB: job.Frames[pairs[len(pairs)-1].B],
		}
		if err := e.write(ctx, f, out); err != nil {
			return res, err
		}
		res.Outputs = append(res.Outputs, out.Path)
	} else {
		for _, p := range pairs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			monitoring.Debugf("evaluation: pair %d (%s, %s)", p.Index, job.Frames[p.A], job.Frames[p.B])
			f, stats, err := e.evaluate(ctx, job.Frames, []pairing{p}, dest)
			res.Stats = append(res.Stats, stats...)
			if errors.Is(err, errSkipPair) {
				continue
			}
			if err != nil {
				return res, err
			}
			res.Field = f
			out := Output{
				Path:   outputName(dest, p.Index, len(job.Frames)),
				FrameA: job.Frames[p.A],
				FrameB: job.Frames[p.B],
			}
			if err := e.write(ctx, f, out); err != nil {
				return res, err
			}
			res.Outputs = append(res.Outputs, out.Path)
		}
	}
	monitoring.Logf("evaluation: wrote %d files in %v", len(res.Outputs), e.clock.Since(started).Round(time.Millisecond))
	return res, nil
}

// errSkipPair marks a pair whose frames could not be loaded.
var errSkipPair = errors.New("pair skipped")

func (e *Engine) openPair(frames []string, p pairing) (imagery.Source, error) {
	a, err := e.load(frames[p.A])
	if err != nil {
		return nil, err
	}
	if p.doubleFrame() {
		return imagery.NewDoubleFrame(a), nil
	}
	b, err := e.load(frames[p.B])
	if err != nil {
		return nil, err
	}
	return imagery.NewPair(a, b)
}

// evaluate runs every pass over pairs. With more than one pair the
// correlation maps of all pairs are summed before the peak search.
func (e *Engine) evaluate(ctx context.Context, frames []string, pairs []pairing, dest string) (*field.Field, []PassStats, error) {
	sources := make([]imagery.Source, len(pairs))
	var first imagery.Source
	lastLoaded := -1
	for i, p := range pairs {
		src, err := e.openPair(frames, p)
		if err != nil {
			monitoring.Warnf("skipping pair %d: %v", p.Index, err)
			continue
		}
		sources[i] = src
		lastLoaded = i
		if first == nil {
			first = src
		}
	}
	if first == nil {
		return nil, nil, errSkipPair
	}

	cfg := &e.cfg
	w0 := cfg.Windows[0]
	g := newGrid(first.Width(), first.Height(), cfg.ROI, w0)
	cols, rows := g.size(w0.SpacingX, w0.SpacingY)
	shifts := field.New(float64(g.X0), float64(g.Y0), float64(w0.SpacingX), float64(w0.SpacingY),
		cols, rows, float64(cfg.PreShift[0]), float64(cfg.PreShift[1]), 0).ShiftTable()

	var (
		f     *field.Field
		shear []field.Shear
		stats []PassStats
	)
	last := len(cfg.Windows) - 1
	for p, win := range cfg.Windows {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		pl := &plan{pass: p, win: win, shifts: shifts, shear: shear}
		n := len(shifts.X)
		workers := workerCount(n, cfg.Workers)
		acc := newAccumulators(n, win)
		st := PassStats{Pass: p, Vectors: n}

		start := e.clock.Now()
		for i, src := range sources {
			if src == nil {
				continue
			}
			if src.Width() != first.Width() || src.Height() != first.Height() {
				monitoring.Warnf("skipping pair %d: frame size %dx%d differs from %dx%d",
					pairs[i].Index, src.Width(), src.Height(), first.Width(), first.Height())
				sources[i] = nil
				continue
			}
			tiers, err := correlatePass(ctx, src, e.corr, pl, acc, workers)
			if err != nil {
				return nil, stats, fmt.Errorf("pass %d: %w", p+1, err)
			}
			for t := range tiers {
				st.Tiers[t] += tiers[t]
			}
			e.export(acc, p, pairs[i].Index, i == lastLoaded, dest)
		}
		f, st.NoPeak = extractPeaks(acc, pl, e.est, float64(win.SpacingX), float64(win.SpacingY))
		elapsed := e.clock.Since(start)
		e.metrics.observePass(st, elapsed)
		stats = append(stats, st)
		monitoring.Debugf("pass %d: %d vectors on %d workers in %v, tiers %v, %d without peak",
			p+1, n, workers, elapsed, st.Tiers, st.NoPeak.GetCardinality())

		if p == last {
			break
		}
		e.metrics.observeInvalid(postprocess(f, cfg))
		next := cfg.Windows[p+1]
		f.Resample(float64(g.X0), float64(g.Y0), float64(g.X1), float64(g.Y1),
			float64(next.SpacingX), float64(next.SpacingY))
		shifts = f.ShiftTable()
		if cfg.ShearWindows {
			shear = f.ShearField()
		}
	}
	return f, stats, nil
}

// export dumps the selected accumulated correlation maps. Failures are
// logged and do not stop the evaluation.
func (e *Engine) export(acc []*correlate.Map, pass, file int, lastPair bool, base string) {
	sel := e.cfg.Export
	if sel == nil || (sel.Pass >= 0 && sel.Pass != pass) {
		return
	}
	if sel.OnlySumOfCorr && !lastPair {
		return
	}
	for v, m := range acc {
		if sel.Vector >= 0 && sel.Vector != v {
			continue
		}
		name := fmt.Sprintf("%s_corrMap_file%d_pass%d_vector%d.cmap.zst", base, file, pass+1, v+1)
		if err := e.writeMap(name, m); err != nil {
			monitoring.Warnf("correlation export: %v", err)
		}
	}
}

func (e *Engine) writeMap(name string, m *correlate.Map) error {
	w, err := e.fsys.Create(name)
	if err != nil {
		return err
	}
	if err := correlate.ExportMap(w, m); err != nil {
		w.Close()
		return fmt.Errorf("%s: %w", name, err)
	}
	return w.Close()
}

// write stores f and announces it to the sink. A sink failure is logged.
func (e *Engine) write(ctx context.Context, f *field.Field, out Output) error {
	if err := f.WriteFile(e.fsys, out.Path, e.cfg.Header); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastOutput = out.Path
	e.mu.Unlock()
	e.metrics.observeOutput()
	monitoring.Debugf("wrote %s", out.Path)

	if e.sink == nil {
		return nil
	}
	out.Kind = "evaluation"
	out.Passes = len(e.cfg.Windows)
	out.Vectors = f.Len()
	out.Invalid = f.InvalidCount()
	out.CreatedAt = e.clock.Now()
	if err := e.sink.Append(ctx, out); err != nil {
		monitoring.Warnf("output sink: %v", err)
	}
	return nil
}

// SeedFrom returns a PIV result resampled to the unit pixel grid of roi,
// for use as a pre-shift by the single-pixel engine.
func SeedFrom(f *field.Field, roi config.ROI) *field.Field {
	seed := f.Clone()
	seed.Resample(float64(roi.X1), float64(roi.Y1), float64(roi.X2), float64(roi.Y2), 1, 1)
	return seed
}
