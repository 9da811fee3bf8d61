package models

// Volume represents a loaded volumetric scan in its native voxel grid,
// together with the header metadata the viewer needs to reorient and
// window it. A Volume is built once by the loader and is read-only
// afterwards; loading a new file replaces the value wholesale.
type Volume struct {
	// Data is the voxel intensities as a flat array in row-major order
	// with i fastest-varying, then j, then k:
	// Data[k*Dims[0]*Dims[1] + j*Dims[0] + i]
	Data []float64

	// Dims is the voxel grid extent along the i, j and k axes
	Dims [3]int

	// Pixdim is the physical voxel spacing in mm along i, j and k
	Pixdim [3]float64

	// Affine maps voxel indices to world RAS millimeters. Rows are the
	// world R, A and S axes; the first three columns are the voxel
	// i, j and k axes and the fourth is the translation.
	Affine [3][4]float64

	// Datatype is the NIfTI datatype tag of the on-disk samples,
	// kept for diagnostics only (Data is always float64)
	Datatype int16

	// MinValue and MaxValue are the global intensity extremes,
	// scanned once at load and used to normalize every slice
	MinValue float64
	MaxValue float64
}

// NumVoxels returns the expected length of Data for the volume's dims.
func (v *Volume) NumVoxels() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// At returns the intensity at voxel (i, j, k). No bounds checking is
// performed; callers own the dimension bookkeeping.
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[k*v.Dims[0]*v.Dims[1]+j*v.Dims[0]+i]
}
