package field

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/velocity.piv/internal/fsutil"
)

// Title is written on the TITLE line of the optional Tecplot header.
const Title = "piv vector field"

// isHeaderLine reports whether a line is part of a Tecplot header.
func isHeaderLine(line string) bool {
	return strings.Contains(line, "TITLE") ||
		strings.Contains(line, "VARIABLES") ||
		strings.Contains(line, "ZONE")
}

// Read parses a whitespace-delimited vector table. Leading Tecplot header
// lines and blank lines are skipped.
func Read(r io.Reader) (*Field, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	inHeader := true
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if inHeader && isHeaderLine(line) {
			continue
		}
		inHeader = false
		if line == "" {
			continue
		}
		tokens := strings.Fields(line)
		row := make([]float64, len(tokens))
		for i, tok := range tokens {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, &MalformedError{Row: len(rows), Reason: fmt.Sprintf("line %d: %q is not a number", lineNo, tok)}
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vector table: %w", err)
	}
	return FromRows(rows)
}

// Write writes the field as a vector table: x, y, dx, dy, flag, then the
// derived layer and any auxiliary layers. The flag is the peak height for
// valid nodes and a non-positive marker for invalid ones.
func (f *Field) Write(w io.Writer, header bool) error {
	bw := bufio.NewWriter(w)
	if header {
		f.writeHeader(bw)
	}
	var sb strings.Builder
	for i, n := range f.Nodes {
		sb.Reset()
		for _, v := range []float64{n.X, n.Y, n.Dx, n.Dy, n.flag()} {
			sb.WriteByte(' ')
			sb.WriteString(FormatNumber(v))
		}
		if f.Derived != nil {
			sb.WriteByte(' ')
			sb.WriteString(FormatNumber(f.Derived.Values[i]))
		}
		for _, l := range f.Aux {
			sb.WriteByte(' ')
			sb.WriteString(FormatNumber(l.Values[i]))
		}
		sb.WriteByte('\n')
		if _, err := bw.WriteString(sb.String()); err != nil {
			return fmt.Errorf("write vector table: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write vector table: %w", err)
	}
	return nil
}

func (f *Field) writeHeader(w *bufio.Writer) {
	fmt.Fprintf(w, "TITLE=\"%s\"\n", Title)
	w.WriteString(`VARIABLES="x" "y" "dx" "dy" "col 5"`)
	col := 6
	if f.Derived != nil {
		fmt.Fprintf(w, " %q", f.Derived.Name)
		col++
	}
	for _, l := range f.Aux {
		name := l.Name
		if name == "" {
			name = fmt.Sprintf("col %d", col)
		}
		fmt.Fprintf(w, " %q", name)
		col++
	}
	fmt.Fprintf(w, "\nZONE I=%d J=%d F=POINT\n", f.Cols, f.Rows)
}

// flag is the value stored in the fifth column.
func (n Node) flag() float64 {
	if n.Valid {
		if n.Peak > 0 {
			return n.Peak
		}
		return 1
	}
	if n.Peak <= 0 {
		return n.Peak
	}
	return -1
}

// FormatNumber renders v with an explicit sign, four decimals and an
// exponent of at least two digits, e.g. +1.2340E02 or -5.0000E-03.
func FormatNumber(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 0) {
		if v > 0 {
			return "+Inf"
		}
		return "-Inf"
	}
	s := strconv.FormatFloat(v, 'E', 4, 64)
	s = strings.Replace(s, "E+", "E", 1)
	if s[0] != '-' {
		s = "+" + s
	}
	return s
}

// ReadFile reads a vector table from path.
func ReadFile(fsys fsutil.FileSystem, path string) (*Field, error) {
	r, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector file: %w", err)
	}
	defer r.Close()
	f, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// WriteFile writes the field to path.
func (f *Field) WriteFile(fsys fsutil.FileSystem, path string, header bool) error {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	if err := f.Write(w, header); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close vector file: %w", err)
	}
	return nil
}
