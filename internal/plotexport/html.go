package plotexport

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/velocity.piv/internal/fsutil"
)

// WriteHTML renders series as an interactive line chart page. Invalid
// nodes are left out like in the static charts.
func WriteHTML(w io.Writer, title, ylabel string, series []Series) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d series", len(series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "distance (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: ylabel, NameLocation: "middle", NameGap: 40}),
	)
	for _, s := range series {
		pts := points(s.Nodes, s.Component)
		data := make([]opts.LineData, len(pts))
		for i, p := range pts {
			data[i] = opts.LineData{Value: []interface{}{p.X, p.Y}}
		}
		line.AddSeries(s.Name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	if err := line.Render(w); err != nil {
		return fmt.Errorf("render %s: %w", title, err)
	}
	return nil
}

// SaveHTML writes the interactive chart of series to path.
func SaveHTML(fsys fsutil.FileSystem, title, ylabel string, series []Series, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := WriteHTML(f, title, ylabel, series); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
