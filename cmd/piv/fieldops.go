package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/plot"

	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
	"github.com/banshee-data/velocity.piv/internal/monitoring"
	"github.com/banshee-data/velocity.piv/internal/plotexport"
	"github.com/banshee-data/velocity.piv/internal/units"
)

var osfs fsutil.OSFileSystem

func readFields(files []string) ([]*field.Field, error) {
	out := make([]*field.Field, len(files))
	for i, name := range files {
		f, err := field.ReadFile(osfs, name)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// writeField writes f and announces it to the session's sinks.
func writeField(ctx context.Context, s *session, f *field.Field, path, kind, source string, header bool) error {
	if err := f.WriteFile(osfs, path, header); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	out := evaluation.Output{
		Path:      path,
		Kind:      kind,
		FrameA:    source,
		Vectors:   f.Len(),
		Invalid:   f.InvalidCount(),
		CreatedAt: time.Now(),
	}
	if err := s.sink().Append(ctx, out); err != nil {
		monitoring.Warnf("output sink: %v", err)
	}
	return nil
}

func runAverage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("average", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	output := fs.String("o", "", "output file (default: <dest>_avg.jvc)")
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	files, err := expandFrames(fs.Args())
	if err != nil {
		return err
	}
	if len(files) < 2 {
		return errors.New("select at least two vector files")
	}
	fields, err := readFields(files)
	if err != nil {
		return err
	}
	avg, err := field.Average(fields...)
	if err != nil {
		return err
	}
	path := *output
	if path == "" {
		path = strings.TrimSuffix(cfg.Output.GetDestination(), ".jvc") + "_avg.jvc"
	}

	s, err := openSession(ctx, cfg, cf.metricsAddr, "average")
	if err != nil {
		return err
	}
	err = writeField(ctx, s, avg, path, "average", files[0], cfg.Output.GetHeader())
	s.close(ctx, err)
	return err
}

// filterOptions selects the post-processing steps of the filter command.
// They run in declaration order. Unit conversion comes last, so derived
// layers stay in pixel units.
type filterOptions struct {
	subtract      string
	nmt           bool
	isolated      int
	replace       bool
	median        bool
	smooth        bool
	wall          string
	removeInvalid bool
	flipY         bool
	reverseY      bool
	deformation   string
	lr            bool
	calibration   units.Calibration
	unit          string
}

func parseDeformation(name string) (field.DeformationComponent, error) {
	switch name {
	case "vorticity":
		return field.Vorticity, nil
	case "shear":
		return field.InPlaneShear, nil
	case "strain":
		return field.ExtensionalStrain, nil
	}
	return 0, fmt.Errorf("unknown deformation %q (want vorticity, shear or strain)", name)
}

// applyFilters runs the selected steps on f. noise and threshold configure
// the normalized median test.
func applyFilters(f *field.Field, o filterOptions, noise, threshold float64) error {
	if o.subtract != "" {
		v, err := parseFloats(o.subtract, 2)
		if err != nil {
			return fmt.Errorf("-subtract: %w", err)
		}
		f.SubtractReference(v[0], v[1])
	}
	if o.nmt {
		before := f.InvalidCount()
		f.NormalizedMedianTest(noise, threshold)
		log.Printf("normalized median test flagged %d vectors", f.InvalidCount()-before)
	}
	if o.isolated > 0 {
		f.InvalidateIsolated(o.isolated)
	}
	if o.replace {
		f.ReplaceByMedian(false, false)
	}
	if o.median {
		f.ReplaceByMedian(true, true)
	}
	if o.smooth {
		f.Smooth(true)
	}
	if o.wall != "" {
		v, err := parseFloats(o.wall, 3)
		if err != nil {
			return fmt.Errorf("-wall: %w", err)
		}
		f.WallFilterVertical(int(v[0]), int(v[1]), v[2])
	}
	if o.removeInvalid {
		f.RemoveInvalid()
	}
	if o.flipY {
		f.FlipY()
	}
	if o.reverseY {
		f.ReverseY()
	}
	if o.deformation != "" {
		comp, err := parseDeformation(o.deformation)
		if err != nil {
			return err
		}
		mode := field.FiniteDifference
		if o.lr {
			mode = field.LinearRegression
		}
		f.Deformation(mode, comp)
	}
	if o.unit != "" && o.unit != units.PixelsPerFrame {
		k, err := o.calibration.Factor(o.unit)
		if err != nil {
			return fmt.Errorf("-units: %w", err)
		}
		f.Scale(k)
	}
	return nil
}

func runFilter(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	var o filterOptions
	fs.StringVar(&o.subtract, "subtract", "", "subtract a reference displacement dx,dy")
	fs.BoolVar(&o.nmt, "nmt", false, "normalized median test")
	fs.IntVar(&o.isolated, "isolated", 0, "invalidate vectors with fewer valid neighbours than this")
	fs.BoolVar(&o.replace, "replace", false, "replace invalid vectors by the median of their neighbours")
	fs.BoolVar(&o.median, "median", false, "median filter")
	fs.BoolVar(&o.smooth, "smooth", false, "3x3 smoothing")
	fs.StringVar(&o.wall, "wall", "", "vertical wall filter x,y,threshold")
	fs.BoolVar(&o.removeInvalid, "remove-invalid", false, "zero the displacement of invalid vectors")
	fs.BoolVar(&o.flipY, "flip-y", false, "negate the y component")
	fs.BoolVar(&o.reverseY, "reverse-y", false, "reverse the row order")
	fs.StringVar(&o.deformation, "deformation", "", "derive vorticity, shear or strain")
	fs.BoolVar(&o.lr, "lr", false, "use linear regression derivatives for -deformation")
	fs.Float64Var(&o.calibration.PixelSize, "pixel-size", 0, "pixel size in the light sheet in metres, for -units")
	fs.DurationVar(&o.calibration.FrameInterval, "dt", 0, "time between the frames of a pair, for -units")
	fs.StringVar(&o.unit, "units", "", "convert displacement to velocity: "+units.GetValidUnitsString())
	output := fs.String("o", "", "output file (default: input with _filtered suffix)")
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("select exactly one vector file")
	}
	in := fs.Arg(0)
	f, err := field.ReadFile(osfs, in)
	if err != nil {
		return err
	}
	if err := applyFilters(f, o, cfg.Filters.GetNoiseLevel(), cfg.Filters.GetThreshold()); err != nil {
		return err
	}
	path := *output
	if path == "" {
		path = strings.TrimSuffix(in, ".jvc") + "_filtered.jvc"
	}

	s, err := openSession(ctx, cfg, cf.metricsAddr, "filter")
	if err != nil {
		return err
	}
	err = writeField(ctx, s, f, path, "filtered", in, cfg.Output.GetHeader())
	s.close(ctx, err)
	return err
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	border := fs.Bool("border", false, "include border vectors")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("usage: piv compare [-border] <test.jvc> <reference.jvc>")
	}
	fields, err := readFields(fs.Args())
	if err != nil {
		return err
	}
	rms, err := fields[0].CompareRMS(fields[1], *border)
	if err != nil {
		return err
	}
	fmt.Printf("rms dx %s dy %s peak %s\n",
		field.FormatNumber(rms[0]), field.FormatNumber(rms[1]), field.FormatNumber(rms[2]))
	return nil
}

func parseComponent(name string) (plotexport.Component, error) {
	switch name {
	case "mag", "magnitude":
		return plotexport.Magnitude, nil
	case "ux", "x":
		return plotexport.ComponentX, nil
	case "uy", "y":
		return plotexport.ComponentY, nil
	}
	return 0, fmt.Errorf("unknown component %q (want mag, ux or uy)", name)
}

func runProfile(args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	row := fs.Int("row", -1, "horizontal profile through this grid row")
	col := fs.Int("col", -1, "vertical profile through this grid column")
	line := fs.String("line", "", "free profile x1,y1,x2,y2 in pixels")
	spacing := fs.Float64("spacing", 0, "sample spacing along -line (default: grid spacing)")
	count := fs.Int("n", 1, "number of parallel -line profiles, the average is appended")
	distance := fs.Float64("distance", 0, "distance between parallel -line profiles")
	chart := fs.String("chart", "", "write a chart (png, svg, pdf, or html for an interactive page)")
	component := fs.String("component", "mag", "charted component for parallel profiles: mag, ux or uy")
	table := fs.String("table", "", "write the profile table here instead of stdout")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("select exactly one vector file")
	}
	f, err := field.ReadFile(osfs, fs.Arg(0))
	if err != nil {
		return err
	}

	var (
		sets  [][]field.Node
		title string
	)
	switch {
	case *row >= 0:
		sets = [][]field.Node{f.HorizontalProfile(*row)}
		title = fmt.Sprintf("%s row %d", fs.Arg(0), *row)
	case *col >= 0:
		sets = [][]field.Node{f.VerticalProfile(*col)}
		title = fmt.Sprintf("%s column %d", fs.Arg(0), *col)
	case *line != "":
		v, err := parseFloats(*line, 4)
		if err != nil {
			return fmt.Errorf("-line: %w", err)
		}
		if *count > 1 {
			sets = f.FreeProfiles(v[0], v[1], v[2], v[3], *spacing, *count, *distance)
		} else {
			sets = [][]field.Node{f.FreeProfile(v[0], v[1], v[2], v[3], *spacing)}
		}
		title = fmt.Sprintf("%s (%g,%g)-(%g,%g)", fs.Arg(0), v[0], v[1], v[2], v[3])
	default:
		return errors.New("one of -row, -col or -line is required")
	}
	if len(sets) == 0 || len(sets[0]) == 0 {
		return errors.New("profile is empty")
	}
	// The last of several profiles is their average.
	avg := sets[len(sets)-1]

	w := os.Stdout
	if *table != "" {
		if w, err = os.Create(*table); err != nil {
			return err
		}
		defer w.Close()
	}
	if err := plotexport.WriteTable(w, avg); err != nil {
		return err
	}

	if *chart == "" {
		return nil
	}
	series, ylabel := plotexport.ProfileSeries(avg), "displacement (px)"
	if len(sets) > 1 {
		comp, err := parseComponent(*component)
		if err != nil {
			return err
		}
		series, ylabel = plotexport.ProfilesSeries(sets, comp, true), comp.String()+" (px)"
	}
	if strings.EqualFold(filepath.Ext(*chart), ".html") {
		err = plotexport.SaveHTML(osfs, title, ylabel, series, *chart)
	} else {
		var p *plot.Plot
		if p, err = plotexport.Chart(title, ylabel, series); err == nil {
			err = plotexport.Save(osfs, p, plotexport.DefaultWidth, plotexport.DefaultHeight, *chart)
		}
	}
	if err != nil {
		return err
	}
	log.Printf("wrote %s", *chart)
	return nil
}
