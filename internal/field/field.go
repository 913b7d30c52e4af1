package field

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/banshee-data/velocity.piv/internal/monitoring"
)

var (
	// ErrMalformed is wrapped by every MalformedError.
	ErrMalformed = errors.New("malformed vector field data")
	// ErrDimensionMismatch is returned when two fields do not share a grid.
	ErrDimensionMismatch = errors.New("vector field dimensions do not match")
)

// MalformedError reports why a table could not be interpreted as a regular
// vector field.
type MalformedError struct {
	Row    int // offending row, or -1 when the table as a whole is at fault
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("%v: %s", ErrMalformed, e.Reason)
	}
	return fmt.Sprintf("%v: row %d: %s", ErrMalformed, e.Row, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// Node is one grid point of a vector field.
type Node struct {
	X, Y   float64 // grid coordinates in pixels
	Dx, Dy float64 // displacement in pixels
	// Peak is the correlation peak height (confidence) for valid nodes. For
	// invalid nodes it keeps whatever non-positive marker was read or set.
	Peak  float64
	Valid bool
}

// Layer is a named scalar per node, e.g. vorticity or uz.
type Layer struct {
	Name   string
	Values []float64
}

// Field is a rectangular vector grid in raster order (x fastest).
type Field struct {
	Cols, Rows         int
	SpacingX, SpacingY float64
	Nodes              []Node
	// Derived holds the scalar written by Deformation or the third
	// component reconstruction. Nil until one of them runs.
	Derived *Layer
	// Aux holds any extra columns read from a file, passed through untouched.
	Aux []Layer
}

// New creates a uniform field of nx*ny nodes starting at (x0, y0) with the
// given spacing. Every node carries displacement (ux, uy) and peak height
// peak; nodes are valid when peak is positive.
func New(x0, y0, dx, dy float64, nx, ny int, ux, uy, peak float64) *Field {
	f := &Field{Cols: nx, Rows: ny, SpacingX: dx, SpacingY: dy, Nodes: make([]Node, nx*ny)}
	for r := range f.Nodes {
		f.Nodes[r] = Node{
			X:     float64(r%nx)*dx + x0,
			Y:     float64(r/nx)*dy + y0,
			Dx:    ux,
			Dy:    uy,
			Peak:  peak,
			Valid: peak > 0,
		}
	}
	return f
}

// defaultRows is the legacy 3x3 substitute field.
var defaultRows = [][]float64{
	{160, 160, -12, -12}, {200, 160, 0, -18}, {240, 160, 12, -12},
	{160, 200, -18, 0}, {200, 200, 0, 0}, {240, 200, 18, 0},
	{160, 240, -12, 12}, {200, 240, 0, 18}, {240, 240, 12, 12},
}

// DefaultField returns the built-in 3x3 swirl used by older tooling as a
// stand-in when a file could not be parsed.
func DefaultField() *Field {
	f, err := FromRows(defaultRows)
	if err != nil {
		panic(err) // static table
	}
	return f
}

// ParseOrDefault builds a field from rows and substitutes DefaultField when
// the rows are malformed. The substitution is logged.
func ParseOrDefault(rows [][]float64) *Field {
	f, err := FromRows(rows)
	if err != nil {
		monitoring.Warnf("%v; substituting default field", err)
		return DefaultField()
	}
	return f
}

// FromRows interprets a numeric table (x, y, dx, dy, [flag], [aux...]) as a
// vector field. The number of columns is found by scanning until the x of the
// first row repeats. Four-column tables get every node marked valid with a
// peak of 1.
func FromRows(rows [][]float64) (*Field, error) {
	if len(rows) < 4 {
		return nil, &MalformedError{Row: -1, Reason: fmt.Sprintf("need at least a 2x2 grid, got %d rows", len(rows))}
	}
	width := len(rows[0])
	if width < 4 {
		return nil, &MalformedError{Row: 0, Reason: fmt.Sprintf("need at least 4 columns, got %d", width)}
	}
	for i, r := range rows {
		if len(r) != width {
			return nil, &MalformedError{Row: i, Reason: fmt.Sprintf("expected %d columns, got %d", width, len(r))}
		}
	}

	cols := 1
	for cols < len(rows) && rows[cols][0] != rows[0][0] {
		cols++
	}
	if cols < 2 || cols == len(rows) {
		return nil, &MalformedError{Row: -1, Reason: "cannot infer grid width"}
	}
	if len(rows)%cols != 0 {
		return nil, &MalformedError{Row: -1, Reason: fmt.Sprintf("%d rows is not a multiple of grid width %d", len(rows), cols)}
	}

	f := &Field{
		Cols:     cols,
		Rows:     len(rows) / cols,
		SpacingX: rows[1][0] - rows[0][0],
		SpacingY: rows[cols][1] - rows[0][1],
		Nodes:    make([]Node, len(rows)),
	}
	if f.SpacingX <= 0 || f.SpacingY <= 0 {
		return nil, &MalformedError{Row: -1, Reason: fmt.Sprintf("non-positive spacing (%g, %g)", f.SpacingX, f.SpacingY)}
	}

	tolX, tolY := 0.01*f.SpacingX, 0.01*f.SpacingY
	x0, y0 := rows[0][0], rows[0][1]
	for i, r := range rows {
		wantX := x0 + float64(i%cols)*f.SpacingX
		wantY := y0 + float64(i/cols)*f.SpacingY
		if math.Abs(r[0]-wantX) > tolX || math.Abs(r[1]-wantY) > tolY {
			return nil, &MalformedError{Row: i, Reason: fmt.Sprintf("(%g, %g) is off the grid", r[0], r[1])}
		}
		n := Node{X: r[0], Y: r[1], Dx: r[2], Dy: r[3], Peak: 1, Valid: true}
		if width > 4 {
			n.Peak = r[4]
			n.Valid = r[4] > 0
		}
		f.Nodes[i] = n
	}

	for c := 5; c < width; c++ {
		layer := Layer{Name: fmt.Sprintf("col %d", c+1), Values: make([]float64, len(rows))}
		for i, r := range rows {
			layer.Values[i] = r[c]
		}
		f.Aux = append(f.Aux, layer)
	}
	return f, nil
}

// Average returns a new field whose displacement is the mean of the given
// fields. Everything else is taken from the first field.
func Average(fields ...*Field) (*Field, error) {
	if len(fields) == 0 {
		return nil, errors.New("average: no fields")
	}
	out := fields[0].Clone()
	for _, f := range fields[1:] {
		if !out.SameGrid(f) {
			return nil, fmt.Errorf("average: %w: %dx%d vs %dx%d", ErrDimensionMismatch, out.Cols, out.Rows, f.Cols, f.Rows)
		}
		for i := range out.Nodes {
			out.Nodes[i].Dx += f.Nodes[i].Dx
			out.Nodes[i].Dy += f.Nodes[i].Dy
		}
	}
	n := float64(len(fields))
	for i := range out.Nodes {
		out.Nodes[i].Dx /= n
		out.Nodes[i].Dy /= n
	}
	return out, nil
}

// Len returns the number of nodes.
func (f *Field) Len() int { return len(f.Nodes) }

// Index returns the raster index of grid cell (col, row).
func (f *Field) Index(col, row int) int { return row*f.Cols + col }

// At returns a pointer to the node at grid cell (col, row).
func (f *Field) At(col, row int) *Node { return &f.Nodes[row*f.Cols+col] }

// SameGrid reports whether other has the same number of columns and rows.
func (f *Field) SameGrid(other *Field) bool {
	return other != nil && f.Cols == other.Cols && f.Rows == other.Rows
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	out := *f
	out.Nodes = append([]Node(nil), f.Nodes...)
	if f.Derived != nil {
		out.Derived = &Layer{Name: f.Derived.Name, Values: append([]float64(nil), f.Derived.Values...)}
	}
	out.Aux = nil
	for _, l := range f.Aux {
		out.Aux = append(out.Aux, Layer{Name: l.Name, Values: append([]float64(nil), l.Values...)})
	}
	return &out
}

// Add averages the displacement of other into f: (a+b)/2 per node. Nothing
// else changes. On a grid mismatch f is left untouched.
func (f *Field) Add(other *Field) error {
	if !f.SameGrid(other) {
		err := fmt.Errorf("add: %w", ErrDimensionMismatch)
		monitoring.Logf("%v", err)
		return err
	}
	for i := range f.Nodes {
		f.Nodes[i].Dx = (f.Nodes[i].Dx + other.Nodes[i].Dx) / 2
		f.Nodes[i].Dy = (f.Nodes[i].Dy + other.Nodes[i].Dy) / 2
	}
	return nil
}

// SubtractReference subtracts a constant displacement from every node.
func (f *Field) SubtractReference(dx, dy float64) {
	for i := range f.Nodes {
		f.Nodes[i].Dx -= dx
		f.Nodes[i].Dy -= dy
	}
}

// Scale multiplies every displacement by k. Coordinates are unchanged.
func (f *Field) Scale(k float64) {
	for i := range f.Nodes {
		f.Nodes[i].Dx *= k
		f.Nodes[i].Dy *= k
	}
}

// RemoveInvalid zeroes the displacement of every invalid node.
func (f *Field) RemoveInvalid() {
	for i := range f.Nodes {
		if !f.Nodes[i].Valid {
			f.Nodes[i].Dx, f.Nodes[i].Dy = 0, 0
		}
	}
}

// AddRandomNoise adds uniform noise in [-maxNoise, maxNoise) to both
// components.
func (f *Field) AddRandomNoise(maxNoise float64, rng *rand.Rand) {
	for i := range f.Nodes {
		f.Nodes[i].Dx += (rng.Float64()*2 - 1) * maxNoise
		f.Nodes[i].Dy += (rng.Float64()*2 - 1) * maxNoise
	}
}

// FlipY negates the vertical displacement component.
func (f *Field) FlipY() {
	for i := range f.Nodes {
		f.Nodes[i].Dy = -f.Nodes[i].Dy
	}
}

// ReverseY mirrors the field top to bottom. Coordinates stay where they
// are; displacement, peak, validity and layers move to the mirrored row and
// the vertical component changes sign.
func (f *Field) ReverseY() {
	old := f.Clone()
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			src := old.Index(c, r)
			dst := f.Index(c, f.Rows-1-r)
			n := old.Nodes[src]
			f.Nodes[dst].Dx = n.Dx
			f.Nodes[dst].Dy = -n.Dy
			f.Nodes[dst].Peak = n.Peak
			f.Nodes[dst].Valid = n.Valid
			if f.Derived != nil {
				f.Derived.Values[dst] = old.Derived.Values[src]
			}
			for l := range f.Aux {
				f.Aux[l].Values[dst] = old.Aux[l].Values[src]
			}
		}
	}
}

// Invalidate marks node i invalid with the conventional -1 marker.
func (f *Field) Invalidate(i int) {
	f.Nodes[i].Valid = false
	f.Nodes[i].Peak = -1
}

// InvalidSet returns the raster indices of all invalid nodes.
func (f *Field) InvalidSet() *roaring.Bitmap {
	bm := roaring.New()
	for i, n := range f.Nodes {
		if !n.Valid {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// InvalidCount returns the number of invalid nodes.
func (f *Field) InvalidCount() int {
	return int(f.InvalidSet().GetCardinality())
}

// Magnitude returns |(dx, dy)| for every node.
func (f *Field) Magnitude() []float64 {
	out := make([]float64, len(f.Nodes))
	for i, n := range f.Nodes {
		out[i] = math.Hypot(n.Dx, n.Dy)
	}
	return out
}

// ShiftTable is the per-node integer seed used to place the windows of the
// next pass. Shifts are even so they split evenly between both frames.
type ShiftTable struct {
	Cols, Rows int
	X, Y       []float64
	Dx, Dy     []int
}

// ShiftTable rounds every displacement to the nearest even integer.
func (f *Field) ShiftTable() ShiftTable {
	t := ShiftTable{
		Cols: f.Cols, Rows: f.Rows,
		X: make([]float64, len(f.Nodes)), Y: make([]float64, len(f.Nodes)),
		Dx: make([]int, len(f.Nodes)), Dy: make([]int, len(f.Nodes)),
	}
	for i, n := range f.Nodes {
		t.X[i], t.Y[i] = n.X, n.Y
		t.Dx[i] = evenRound(n.Dx)
		t.Dy[i] = evenRound(n.Dy)
	}
	return t
}

// evenRound returns round(v/2)*2 with ties going to the even half, matching
// rint semantics.
func evenRound(v float64) int {
	return int(math.RoundToEven(v/2)) * 2
}

// HorizontalProfile returns a copy of the nodes of grid row row.
func (f *Field) HorizontalProfile(row int) []Node {
	if row < 0 || row >= f.Rows {
		return nil
	}
	return append([]Node(nil), f.Nodes[row*f.Cols:(row+1)*f.Cols]...)
}

// VerticalProfile returns a copy of the nodes of grid column col.
func (f *Field) VerticalProfile(col int) []Node {
	if col < 0 || col >= f.Cols {
		return nil
	}
	out := make([]Node, f.Rows)
	for r := range out {
		out[r] = f.Nodes[r*f.Cols+col]
	}
	return out
}
