// Package reconstruct recovers the out-of-plane velocity component from a
// stack of vector fields measured in parallel planes by integrating the
// continuity equation d(uz)/dz = -(dux/dx + duy/dy) along the stack.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
	"github.com/banshee-data/velocity.piv/internal/monitoring"
	"github.com/banshee-data/velocity.piv/internal/timeutil"
)

// LayerName is the name of the derived column holding uz.
const LayerName = "uz"

var (
	// ErrTooFewPlanes is returned for stacks of fewer than three fields.
	ErrTooFewPlanes = errors.New("at least three vector fields in parallel planes are required")
	// ErrDimensionMismatch is returned when the planes do not share a grid.
	ErrDimensionMismatch = field.ErrDimensionMismatch
)

// Config holds the reconstruction parameters.
type Config struct {
	// Dz is the distance between neighbouring planes.
	Dz float64
	// Skip leaves out this many planes between processed ones.
	Skip int
	Mode field.DerivativeMode

	Destination string
	Header      bool
}

// FromPIVConfig resolves the reconstruction and output sections.
func FromPIVConfig(c *config.PIVConfig) Config {
	mode := field.FiniteDifference
	if c.Reconstruction.GetLinearRegression() {
		mode = field.LinearRegression
	}
	return Config{
		Dz:          c.Reconstruction.GetDz(),
		Skip:        c.Reconstruction.GetSkip(),
		Mode:        mode,
		Destination: c.Output.GetDestination(),
		Header:      c.Output.GetHeader(),
	}
}

// Plane is one processed plane of the stack.
type Plane struct {
	// Index is the position in the input stack.
	Index int
	Field *field.Field
}

// Reconstruct integrates uz over planes with the trapezoidal rule. The first
// plane is the zero boundary. Only every (Skip+1)-th plane is processed and
// returned. Inputs are not modified.
func Reconstruct(ctx context.Context, planes []*field.Field, cfg Config) ([]Plane, error) {
	if len(planes) < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewPlanes, len(planes))
	}
	if cfg.Dz <= 0 || math.IsNaN(cfg.Dz) {
		return nil, fmt.Errorf("plane spacing must be positive, got %g", cfg.Dz)
	}
	if cfg.Skip < 0 {
		return nil, fmt.Errorf("skip must not be negative, got %d", cfg.Skip)
	}
	for i, f := range planes[1:] {
		if !planes[0].SameGrid(f) {
			return nil, fmt.Errorf("plane %d is %dx%d, plane 0 is %dx%d: %w",
				i+1, f.Cols, f.Rows, planes[0].Cols, planes[0].Rows, ErrDimensionMismatch)
		}
	}

	step := cfg.Skip + 1
	var idx []int
	for d := 0; d < len(planes); d += step {
		idx = append(idx, d)
	}

	div := make([][]float64, len(idx))
	g, _ := errgroup.WithContext(ctx)
	for k, d := range idx {
		g.Go(func() error {
			div[k] = planes[d].Divergence(cfg.Mode)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dz := cfg.Dz * float64(step)
	out := make([]Plane, len(idx))
	prev := make([]float64, planes[0].Len())
	for k, d := range idx {
		uz := make([]float64, len(prev))
		if k > 0 {
			for i := range uz {
				uz[i] = prev[i] - (div[k][i]+div[k-1][i])*dz/2
			}
		}
		f := planes[d].Clone()
		f.Derived = &field.Layer{Name: LayerName, Values: uz}
		out[k] = Plane{Index: d, Field: f}
		prev = uz
	}
	return out, nil
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithFileSystem sets where vector files are read and written.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(r *Reconstructor) { r.fsys = fsys }
}

// WithSink registers the receiver of every written plane.
func WithSink(s evaluation.Sink) Option {
	return func(r *Reconstructor) { r.sink = s }
}

// WithClock sets the clock used for output timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(r *Reconstructor) { r.clock = c }
}

// Reconstructor runs Reconstruct on vector files.
type Reconstructor struct {
	cfg   Config
	fsys  fsutil.FileSystem
	sink  evaluation.Sink
	clock timeutil.Clock
}

// New builds a Reconstructor.
func New(cfg Config, opts ...Option) *Reconstructor {
	r := &Reconstructor{cfg: cfg, fsys: fsutil.OSFileSystem{}, clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run reads files, reconstructs uz and writes one file per processed plane
// named after the destination and the plane's stack position.
func (r *Reconstructor) Run(ctx context.Context, files []string) ([]string, error) {
	if len(files) < 3 {
		monitoring.Logf("reconstruction: select at least three vector files measured in parallel planes")
		return nil, fmt.Errorf("%w: got %d", ErrTooFewPlanes, len(files))
	}
	planes := make([]*field.Field, len(files))
	for i, name := range files {
		f, err := field.ReadFile(r.fsys, name)
		if err != nil {
			return nil, err
		}
		planes[i] = f
	}

	monitoring.Logf("reconstruction: %d planes, dz %g, skip %d, %v", len(files), r.cfg.Dz, r.cfg.Skip, r.cfg.Mode)
	result, err := Reconstruct(ctx, planes, r.cfg)
	if err != nil {
		return nil, err
	}

	dest := strings.TrimSuffix(r.cfg.Destination, filepath.Ext(r.cfg.Destination))
	digits := 1 + int(math.Log10(float64(len(files))))
	var written []string
	for _, p := range result {
		path := fmt.Sprintf("%s%0*d.jvc", dest, digits, p.Index)
		if err := p.Field.WriteFile(r.fsys, path, r.cfg.Header); err != nil {
			return written, err
		}
		written = append(written, path)
		if r.sink == nil {
			continue
		}
		out := evaluation.Output{
			Path:      path,
			Kind:      "reconstruction",
			FrameA:    files[p.Index],
			Vectors:   p.Field.Len(),
			Invalid:   p.Field.InvalidCount(),
			CreatedAt: r.clock.Now(),
		}
		if err := r.sink.Append(ctx, out); err != nil {
			monitoring.Warnf("output sink: %v", err)
		}
	}
	return written, nil
}
