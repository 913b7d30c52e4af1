// Package field owns the grid-structured displacement field produced by an
// evaluation pass.
//
// Responsibilities: construction from tables or parameters, neighbour based
// outlier rejection and smoothing, derivatives, resampling onto new grids,
// profiles, and the whitespace-delimited vector file format.
// Key types: Field, Node, Layer, ShiftTable, Tensor.
//
// Nodes are stored in raster order with x running fastest. Validity is an
// explicit flag on each node; correlation peak heights and derived scalars
// (vorticity, strain, uz) live in their own storage and never overload it.
//
// Field methods are not synchronised. Callers serialise concurrent mutation
// of the same instance.
package field
