// Package plotexport renders velocity profiles sampled from a vector field
// as line charts and plain text tables.
package plotexport

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
)

// Default chart size.
const (
	DefaultWidth  = 10 * vg.Inch
	DefaultHeight = 5 * vg.Inch
)

// Component selects the plotted quantity.
type Component int

const (
	Magnitude Component = iota
	ComponentX
	ComponentY
)

func (c Component) String() string {
	switch c {
	case Magnitude:
		return "|u|"
	case ComponentX:
		return "ux"
	case ComponentY:
		return "uy"
	default:
		return fmt.Sprintf("Component(%d)", int(c))
	}
}

func (c Component) of(n field.Node) float64 {
	switch c {
	case ComponentX:
		return n.Dx
	case ComponentY:
		return n.Dy
	default:
		return math.Hypot(n.Dx, n.Dy)
	}
}

// Distances returns the arc length of each node from the first one.
func Distances(nodes []field.Node) []float64 {
	out := make([]float64, len(nodes))
	for i := 1; i < len(nodes); i++ {
		out[i] = out[i-1] + math.Hypot(nodes[i].X-nodes[i-1].X, nodes[i].Y-nodes[i-1].Y)
	}
	return out
}

// points converts a profile into plot points, leaving out invalid nodes.
func points(nodes []field.Node, c Component) plotter.XYs {
	s := Distances(nodes)
	pts := make(plotter.XYs, 0, len(nodes))
	for i, n := range nodes {
		if !n.Valid {
			continue
		}
		pts = append(pts, plotter.XY{X: s[i], Y: c.of(n)})
	}
	return pts
}

// Series is one named line of a chart.
type Series struct {
	Name      string
	Nodes     []field.Node
	Component Component
}

// ProfileSeries returns the x, y and magnitude lines of one profile.
func ProfileSeries(nodes []field.Node) []Series {
	return []Series{
		{Name: ComponentX.String(), Nodes: nodes, Component: ComponentX},
		{Name: ComponentY.String(), Nodes: nodes, Component: ComponentY},
		{Name: Magnitude.String(), Nodes: nodes, Component: Magnitude},
	}
}

// ProfilesSeries returns component c of several profiles, for example the
// parallel set returned by FreeProfiles. The last profile is labelled as
// the average when average is set.
func ProfilesSeries(sets [][]field.Node, c Component, average bool) []Series {
	out := make([]Series, len(sets))
	for i, nodes := range sets {
		name := fmt.Sprintf("profile %d", i+1)
		if average && i == len(sets)-1 {
			name = "average"
		}
		out[i] = Series{Name: name, Nodes: nodes, Component: c}
	}
	return out
}

// Chart draws series against the distance along the profile.
func Chart(title, ylabel string, series []Series) (*plot.Plot, error) {
	p := newPlot(title, ylabel)
	for i, s := range series {
		if err := addLine(p, points(s.Nodes, s.Component), s.Name, i); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Profile charts the x, y and magnitude components of one profile.
func Profile(nodes []field.Node, title string) (*plot.Plot, error) {
	return Chart(title, "displacement (px)", ProfileSeries(nodes))
}

// Profiles charts component c of several profiles.
func Profiles(sets [][]field.Node, c Component, title string, average bool) (*plot.Plot, error) {
	return Chart(title, c.String()+" (px)", ProfilesSeries(sets, c, average))
}

func newPlot(title, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "distance along profile (px)"
	p.Y.Label.Text = ylabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Add(plotter.NewGrid())
	return p
}

func addLine(p *plot.Plot, pts plotter.XYs, label string, i int) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	line.Color = plotutil.Color(i)
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

// Save renders p into path through fsys. The format follows the file
// extension: png, svg, pdf, eps, jpg or tif.
func Save(fsys fsutil.FileSystem, p *plot.Plot, w, h vg.Length, path string) error {
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if format == "" {
		return fmt.Errorf("chart %s: missing file extension", path)
	}
	wt, err := p.WriterTo(w, h, format)
	if err != nil {
		return fmt.Errorf("chart %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("chart %s: %w", path, err)
	}
	return f.Close()
}

// WriteTable writes one line per node: distance, x, y, ux, uy, |u| and a
// validity flag.
func WriteTable(w io.Writer, nodes []field.Node) error {
	bw := bufio.NewWriter(w)
	s := Distances(nodes)
	for i, n := range nodes {
		valid := 0
		if n.Valid {
			valid = 1
		}
		fmt.Fprintf(bw, "%s %s %s %s %s %s %d\n",
			field.FormatNumber(s[i]), field.FormatNumber(n.X), field.FormatNumber(n.Y),
			field.FormatNumber(n.Dx), field.FormatNumber(n.Dy),
			field.FormatNumber(math.Hypot(n.Dx, n.Dy)), valid)
	}
	return bw.Flush()
}
