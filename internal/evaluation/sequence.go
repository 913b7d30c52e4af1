package evaluation

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/velocity.piv/internal/config"
)

// pairing is one correlation job: frames A and B of the input list. For
// double-frame recordings A == B and the frame holds both exposures. Index is
// the output counter.
type pairing struct {
	Index int
	A, B  int
}

func (p pairing) doubleFrame() bool { return p.A == p.B }

// pairings expands a sequencing policy over n input frames.
func pairings(sequence string, skip, n int) ([]pairing, error) {
	var out []pairing
	switch sequence {
	case config.SequenceTwoImage:
		for f := range n {
			out = append(out, pairing{Index: f, A: f, B: f})
		}
	case config.SequenceConsecutive:
		for f := 1; f < n; f++ {
			out = append(out, pairing{Index: f, A: f - 1, B: f})
		}
	case config.SequenceSkip:
		for f := skip + 1; f < n; f++ {
			out = append(out, pairing{Index: f, A: f - skip - 1, B: f})
		}
	case config.SequenceCascade:
		for f := 1; f < n; f++ {
			out = append(out, pairing{Index: f, A: 0, B: f})
		}
	case config.SequencePairs:
		for f := 1; f < n; f += 2 {
			out = append(out, pairing{Index: f, A: f - 1, B: f})
		}
	default:
		return nil, fmt.Errorf("unknown sequence %q", sequence)
	}
	return out, nil
}

// grid is the node layout of the first pass: x0..x1 by y0..y1 with the first
// window as cell size. Later passes resample onto the same bounds at their
// own spacing.
type grid struct {
	X0, Y0, X1, Y1 int
}

func newGrid(width, height int, roi *config.ROI, w config.PassWindow) grid {
	if roi != nil {
		return grid{
			X0: roi.X1 + w.Width/2,
			Y0: roi.Y1 + w.Height/2,
			X1: roi.X1 + (roi.X2-roi.X1)/w.Width*w.Width - w.Width/2,
			Y1: roi.Y1 + (roi.Y2-roi.Y1)/w.Height*w.Height - w.Height/2,
		}
	}
	return grid{
		X0: w.Width / 2,
		Y0: w.Height / 2,
		X1: width/w.Width*w.Width - w.Width/2,
		Y1: height/w.Height*w.Height - w.Height/2,
	}
}

// size is the node count at the given spacing. A frame smaller than one
// window still gets a single node.
func (g grid) size(spacingX, spacingY int) (cols, rows int) {
	return max((g.X1-g.X0)/spacingX+1, 1), max((g.Y1-g.Y0)/spacingY+1, 1)
}

// outputName is dest plus the zero-padded pair index. The width is the digit
// count of the number of input frames.
func outputName(dest string, index, frames int) string {
	digits := 1 + int(math.Log10(float64(max(frames, 1))))
	return fmt.Sprintf("%s%0*d.jvc", dest, digits, index)
}

// stripExtension drops the final extension of a path.
func stripExtension(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
