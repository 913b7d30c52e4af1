package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.piv/internal/catalog"
	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/imagery"
	"github.com/banshee-data/velocity.piv/internal/plotexport"
	"github.com/banshee-data/velocity.piv/internal/testutil"
	"github.com/banshee-data/velocity.piv/internal/units"
)

const singlePassJSON = `{
  "schema_version": 1,
  "evaluation": {
    "sequence": "consecutive",
    "passes": 1,
    "windows": [
      { "width": 32, "height": 32, "search_width": 16, "search_height": 16, "spacing_x": 16, "spacing_y": 16 }
    ]
  },
  "output": { "header": true }
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestExpandFrames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, n := range []string{"b.png", "a.png", "c.txt"} {
		writeFile(t, filepath.Join(dir, n), "")
	}

	got, err := expandFrames([]string{filepath.Join(dir, "*.png"), "literal.tif"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), "literal.tif"}, got)

	_, err = expandFrames([]string{filepath.Join(dir, "*.bmp")})
	assert.Error(t, err)
}

func TestParseFloats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		n       int
		want    []float64
		wantErr bool
	}{
		{"1,2", 2, []float64{1, 2}, false},
		{" 0.5, -3 ,7", 3, []float64{0.5, -3, 7}, false},
		{"1,2", 3, nil, true},
		{"1,x", 2, nil, true},
		{"NaN,1", 2, nil, true},
		{"1,+Inf", 2, nil, true},
	}
	for _, tt := range tests {
		got, err := parseFloats(tt.in, tt.n)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseNames(t *testing.T) {
	t.Parallel()

	d, err := parseDeformation("shear")
	require.NoError(t, err)
	assert.Equal(t, field.InPlaneShear, d)
	_, err = parseDeformation("curl")
	assert.Error(t, err)

	c, err := parseComponent("uy")
	require.NoError(t, err)
	assert.Equal(t, plotexport.ComponentY, c)
	_, err = parseComponent("uz")
	assert.Error(t, err)
}

func TestApplyFilters(t *testing.T) {
	t.Parallel()

	f, err := field.FromRows(testutil.UniformRows(5, 5, 8, 8, 16, 2, 1))
	require.NoError(t, err)
	f.Nodes[12].Dx = 40

	o := filterOptions{subtract: "1,1", nmt: true, replace: true, flipY: true, deformation: "vorticity"}
	require.NoError(t, applyFilters(f, o, 0.1, 2))

	assert.False(t, f.Nodes[12].Valid)
	assert.InDelta(t, 1.0, f.Nodes[12].Dx, 1e-9)
	for i, n := range f.Nodes {
		assert.InDelta(t, 0.0, n.Dy, 1e-9, "node %d", i)
	}
	require.NotNil(t, f.Derived)
	assert.Len(t, f.Derived.Values, f.Len())

	cal := filterOptions{unit: units.MMPS, calibration: units.Calibration{PixelSize: 10e-6, FrameInterval: time.Millisecond}}
	require.NoError(t, applyFilters(f, cal, 0.1, 2))
	assert.InDelta(t, 10.0, f.Nodes[0].Dx, 1e-9)

	assert.Error(t, applyFilters(f, filterOptions{unit: units.MPS}, 0.1, 2))
	assert.Error(t, applyFilters(f, filterOptions{wall: "1,2"}, 0.1, 2))
	assert.Error(t, applyFilters(f, filterOptions{deformation: "curl"}, 0.1, 2))
}

func TestEvaluateAndCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ra, rb := testutil.ParticleFrames(testutil.DefaultParticleOptions(96, 96), 3, -2)
	frameA, frameB := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	require.NoError(t, imagery.PlaneFromRows(ra).SaveFile(osfs, frameA))
	require.NoError(t, imagery.PlaneFromRows(rb).SaveFile(osfs, frameB))

	cfgPath := filepath.Join(dir, "piv.json")
	writeFile(t, cfgPath, singlePassJSON)
	db := filepath.Join(dir, "runs.db")
	dest := filepath.Join(dir, "vec")

	err := runEvaluate(context.Background(), []string{"-config", cfgPath, "-db", db, "-dest", dest, frameA, frameB})
	require.NoError(t, err)

	f, err := field.ReadFile(osfs, dest+"1.jvc")
	require.NoError(t, err)
	dx := make([]float64, 0, f.Len())
	dy := make([]float64, 0, f.Len())
	for _, n := range f.Nodes {
		dx = append(dx, n.Dx)
		dy = append(dy, n.Dy)
	}
	sort.Float64s(dx)
	sort.Float64s(dy)
	assert.InDelta(t, 3.0, dx[len(dx)/2], 0.3)
	assert.InDelta(t, -2.0, dy[len(dy)/2], 0.3)

	// A second field to average against the first.
	require.NoError(t, runAverage(context.Background(), []string{"-db", db, "-o", filepath.Join(dir, "avg.jvc"), dest + "1.jvc", dest + "1.jvc"}))

	cat, err := catalog.Open(db)
	require.NoError(t, err)
	defer cat.Close()
	runs, err := cat.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "average", runs[0].Command)
	assert.Equal(t, catalog.StatusComplete, runs[1].Status)
	assert.Contains(t, runs[1].ConfigJSON, `"sequence":"consecutive"`)

	recs, err := cat.Outputs(context.Background(), catalog.Filter{RunID: runs[1].ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "evaluation", recs[0].Kind)
	assert.Equal(t, dest+"1.jvc", recs[0].Path)

	avg, err := cat.Latest(context.Background(), "average")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "avg.jvc"), avg.Path)
}

func TestFailedRunIsRecorded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	err := runReconstruct(context.Background(), []string{"-db", db, "-dz", "4", filepath.Join(dir, "missing0.jvc")})
	require.Error(t, err)

	cat, err := catalog.Open(db)
	require.NoError(t, err)
	defer cat.Close()
	runs, err := cat.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, catalog.StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestFramesSplitJoin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ra, rb := testutil.ParticleFrames(testutil.DefaultParticleOptions(32, 24), 1, 0)
	a, b := imagery.PlaneFromRows(ra), imagery.PlaneFromRows(rb)
	joined, err := imagery.Join(a, b)
	require.NoError(t, err)
	src := filepath.Join(dir, "rec.png")
	require.NoError(t, joined.SaveFile(osfs, src))

	out := filepath.Join(dir, "split")
	require.NoError(t, runFrames([]string{"split", "-o", out, src}))
	top, err := imagery.LoadFile(osfs, filepath.Join(out, "rec_a.png"))
	require.NoError(t, err)
	assert.Equal(t, 32, top.Width)
	assert.Equal(t, 24, top.Height)

	require.NoError(t, runFrames([]string{"join", filepath.Join(out, "rec_a.png"), filepath.Join(out, "rec_b.png")}))
	back, err := imagery.LoadFile(osfs, filepath.Join(out, "rec_a_ab.png"))
	require.NoError(t, err)
	assert.Equal(t, 48, back.Height)

	assert.Error(t, runFrames([]string{"rotate", src}))
	assert.Error(t, runFrames([]string{"join", src}))
}

func TestProfileWritesTableAndChart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := field.FromRows(testutil.LinearRows(6, 4, 8, 8, 16, 0.02, 0.03))
	require.NoError(t, err)
	in := filepath.Join(dir, "vec.jvc")
	require.NoError(t, f.WriteFile(osfs, in, true))

	table := filepath.Join(dir, "row.txt")
	chart := filepath.Join(dir, "row.svg")
	require.NoError(t, runProfile([]string{"-row", "1", "-table", table, "-chart", chart, in}))
	data, err := os.ReadFile(table)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 6)
	assert.FileExists(t, chart)

	require.NoError(t, runProfile([]string{"-line", "8,8,88,8", "-n", "3", "-distance", "16", "-table", table, "-chart", filepath.Join(dir, "par.png"), in}))
	page := filepath.Join(dir, "par.html")
	require.NoError(t, runProfile([]string{"-line", "8,8,88,8", "-n", "3", "-distance", "16", "-component", "uy", "-table", table, "-chart", page, in}))
	html, err := os.ReadFile(page)
	require.NoError(t, err)
	assert.Contains(t, string(html), "average")
	assert.Error(t, runProfile([]string{in}))
}
