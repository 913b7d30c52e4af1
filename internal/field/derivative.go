package field

import (
	"fmt"

	"github.com/banshee-data/velocity.piv/internal/stats"
)

// DerivativeMode selects the interior difference scheme.
type DerivativeMode int

const (
	// FiniteDifference uses central differences at interior nodes.
	FiniteDifference DerivativeMode = iota
	// LinearRegression fits a line through five nodes at interior nodes at
	// least two steps from the border. It is more robust against noise.
	LinearRegression
)

func (m DerivativeMode) String() string {
	switch m {
	case FiniteDifference:
		return "finite-difference"
	case LinearRegression:
		return "linear-regression"
	default:
		return fmt.Sprintf("DerivativeMode(%d)", int(m))
	}
}

// Tensor is the velocity gradient at one node in Cartesian orientation: the
// y axis points up, so derivatives along y and of the vertical component
// relate to image coordinates by a sign change. With ux = a*x and uy = b*y in
// image coordinates, DUxDx = a and DUyDy = b.
type Tensor struct {
	DUxDx, DUyDy, DUxDy, DUyDx float64
}

// Derivative returns the first derivative at every node in raster order.
// Border nodes always use one-sided differences.
func (f *Field) Derivative(mode DerivativeMode) []Tensor {
	out := make([]Tensor, len(f.Nodes))
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			i := f.Index(c, r)
			uxX := f.slopeX(c, r, compDx, mode)
			uyX := f.slopeX(c, r, compDy, mode)
			uxY := f.slopeY(c, r, compDx, mode)
			uyY := f.slopeY(c, r, compDy, mode)
			out[i] = Tensor{
				DUxDx: uxX,
				DUyDy: uyY,
				DUxDy: -uxY,
				DUyDx: -uyX,
			}
		}
	}
	return out
}

// Shear is the image-coordinate cross derivative pair used to deform
// interrogation windows.
type Shear struct {
	DUxDy float64 // d(ux)/dy
	DUyDx float64 // d(uy)/dx
}

// ShearField returns (dux/dy, duy/dx) per node in image coordinates with
// finite differences.
func (f *Field) ShearField() []Shear {
	out := make([]Shear, len(f.Nodes))
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			out[f.Index(c, r)] = Shear{
				DUxDy: f.slopeY(c, r, compDx, FiniteDifference),
				DUyDx: f.slopeX(c, r, compDy, FiniteDifference),
			}
		}
	}
	return out
}

// DeformationComponent names a scalar derived from the velocity gradient.
type DeformationComponent int

const (
	// Vorticity is dUy/dx - dUx/dy.
	Vorticity DeformationComponent = iota
	// InPlaneShear is dUx/dy + dUy/dx.
	InPlaneShear
	// ExtensionalStrain is dUx/dx + dUy/dy.
	ExtensionalStrain
)

func (d DeformationComponent) String() string {
	switch d {
	case Vorticity:
		return "vorticity"
	case InPlaneShear:
		return "in-plane shear"
	case ExtensionalStrain:
		return "extensional strain"
	default:
		return fmt.Sprintf("DeformationComponent(%d)", int(d))
	}
}

// Deformation writes the requested component into the Derived layer.
func (f *Field) Deformation(mode DerivativeMode, component DeformationComponent) {
	grad := f.Derivative(mode)
	layer := &Layer{Name: component.String(), Values: make([]float64, len(grad))}
	for i, g := range grad {
		switch component {
		case Vorticity:
			layer.Values[i] = g.DUyDx - g.DUxDy
		case InPlaneShear:
			layer.Values[i] = g.DUxDy + g.DUyDx
		case ExtensionalStrain:
			layer.Values[i] = g.DUxDx + g.DUyDy
		}
	}
	f.Derived = layer
}

// Divergence returns dux/dx + duy/dy per node.
func (f *Field) Divergence(mode DerivativeMode) []float64 {
	grad := f.Derivative(mode)
	out := make([]float64, len(grad))
	for i, g := range grad {
		out[i] = g.DUxDx + g.DUyDy
	}
	return out
}

func (f *Field) val(c, r int, comp component) float64 {
	return f.Nodes[r*f.Cols+c].value(comp)
}

// slopeX is d(comp)/dx in image coordinates at (c, r).
func (f *Field) slopeX(c, r int, comp component, mode DerivativeMode) float64 {
	n, h := f.Cols, f.SpacingX
	switch {
	case n < 2:
		return 0
	case c == 0:
		return (f.val(1, r, comp) - f.val(0, r, comp)) / h
	case c == n-1:
		return (f.val(n-1, r, comp) - f.val(n-2, r, comp)) / h
	case mode == LinearRegression && c >= 2 && c <= n-3:
		xs := []float64{0, h, 2 * h, 3 * h, 4 * h}
		ys := make([]float64, 5)
		for k := range ys {
			ys[k] = f.val(c-2+k, r, comp)
		}
		return stats.LinearRegressionGradient(xs, ys)
	default:
		return (f.val(c+1, r, comp) - f.val(c-1, r, comp)) / h / 2
	}
}

// slopeY is d(comp)/dy in image coordinates at (c, r).
func (f *Field) slopeY(c, r int, comp component, mode DerivativeMode) float64 {
	n, h := f.Rows, f.SpacingY
	switch {
	case n < 2:
		return 0
	case r == 0:
		return (f.val(c, 1, comp) - f.val(c, 0, comp)) / h
	case r == n-1:
		return (f.val(c, n-1, comp) - f.val(c, n-2, comp)) / h
	case mode == LinearRegression && r >= 2 && r <= n-3:
		ys := []float64{0, h, 2 * h, 3 * h, 4 * h}
		vs := make([]float64, 5)
		for k := range vs {
			vs[k] = f.val(c, r-2+k, comp)
		}
		return stats.LinearRegressionGradient(ys, vs)
	default:
		return (f.val(c, r+1, comp) - f.val(c, r-1, comp)) / h / 2
	}
}
