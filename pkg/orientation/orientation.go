// Package orientation derives a canonical anatomical frame from a
// NIfTI voxel-to-world affine and converts between voxel indices and
// physical millimeter positions along the reoriented axes.
//
// The canonical frame is RAS: axis 0 points to the patient's Right,
// axis 1 Anterior, axis 2 Superior. Volumes may be stored along any
// permutation of those directions, each possibly reversed; the
// resolver recovers the permutation and the reversals from the affine
// so that the rasterizer can address the original buffer directly
// without copying or resampling the volume.
package orientation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RAS axis identifiers. These index Orientation fields and the
// axis parameter of the mm conversions.
const (
	AxisRight    = 0
	AxisAnterior = 1
	AxisSuperior = 2
)

// ErrDegenerateAffine is returned by Resolve when the linear part of
// the affine cannot define a usable anatomical frame (a zero row or a
// vanishing determinant). NIfTI guarantees a non-degenerate
// sform/qform, so hitting this means the header was invalid.
var ErrDegenerateAffine = errors.New("degenerate voxel-to-world affine")

// detEpsilon is the determinant magnitude below which the 3x3 linear
// part of the affine is treated as non-invertible.
const detEpsilon = 1e-9

// Orientation describes how the stored voxel grid maps onto the RAS
// frame. It is immutable once resolved and is recomputed only when a
// new volume loads; it carries no per-slice or per-frame state.
type Orientation struct {
	// Perm[r] is the voxel axis (0=i, 1=j, 2=k) that most closely
	// aligns with RAS axis r. Perm is a bijection on {0,1,2}.
	Perm [3]int

	// Flip[r] reports whether voxel axis Perm[r] runs opposite to
	// RAS axis r.
	Flip [3]bool

	// RASSize is the voxel grid extent reindexed into RAS order.
	RASSize [3]int

	// SpacingRAS is the voxel spacing in mm reindexed into RAS order,
	// always positive.
	SpacingRAS [3]float64

	// OriginRAS is the world RAS coordinate of voxel (0,0,0) of the
	// reoriented grid, i.e. after Perm and Flip are applied.
	OriginRAS [3]float64
}

// Resolve computes the RAS mapping for a volume with the given affine,
// grid dimensions and voxel spacing.
//
// For each RAS axis in turn it assigns the still-unassigned voxel axis
// whose affine coefficient has the largest magnitude, removing it from
// further consideration. This greedy dominant-axis assignment is exact
// for axis-aligned acquisitions and a known approximation for oblique
// ones: when no single coefficient dominates, ties break toward the
// lower voxel axis index in scan order and the result is a nearest
// orthogonal frame, not an oblique resample.
func Resolve(affine [3][4]float64, dims [3]int, pixdim [3]float64) (*Orientation, error) {
	for axis, n := range dims {
		if n <= 0 {
			return nil, fmt.Errorf("voxel axis %d has extent %d: %w", axis, n, ErrDegenerateAffine)
		}
	}

	linear := mat.NewDense(3, 3, []float64{
		affine[0][0], affine[0][1], affine[0][2],
		affine[1][0], affine[1][1], affine[1][2],
		affine[2][0], affine[2][1], affine[2][2],
	})
	if det := mat.Det(linear); math.Abs(det) < detEpsilon {
		return nil, fmt.Errorf("affine determinant %g: %w", det, ErrDegenerateAffine)
	}

	o := &Orientation{}
	used := [3]bool{}
	for r := 0; r < 3; r++ {
		best := -1
		bestMag := 0.0
		for axis := 0; axis < 3; axis++ {
			if used[axis] {
				continue
			}
			if mag := math.Abs(affine[r][axis]); mag > bestMag {
				bestMag = mag
				best = axis
			}
		}
		if best < 0 {
			// Every unassigned coefficient on this row is zero.
			return nil, fmt.Errorf("no voxel axis aligns with RAS axis %d: %w", r, ErrDegenerateAffine)
		}
		used[best] = true
		o.Perm[r] = best
		o.Flip[r] = affine[r][best] < 0
		o.RASSize[r] = dims[best]
		o.SpacingRAS[r] = math.Abs(pixdim[best])
		if o.SpacingRAS[r] == 0 {
			o.SpacingRAS[r] = 1
		}
	}

	// Reoriented voxel 0 along every RAS axis came from the original
	// index dims-1 on flipped axes and 0 elsewhere; pushing that index
	// through the full affine gives the world origin of the grid.
	var ijk [3]float64
	for r := 0; r < 3; r++ {
		if o.Flip[r] {
			ijk[o.Perm[r]] = float64(dims[o.Perm[r]] - 1)
		}
	}
	for w := 0; w < 3; w++ {
		o.OriginRAS[w] = affine[w][0]*ijk[0] + affine[w][1]*ijk[1] + affine[w][2]*ijk[2] + affine[w][3]
	}

	return o, nil
}

// VoxelToMM converts a slice index along the given RAS axis to the
// physical position shown to the user. The Right axis is negated on
// output so displayed values follow the Left-positive radiological
// convention of common reference viewers; Anterior and Superior pass
// through unchanged.
func (o *Orientation) VoxelToMM(axis, index int) float64 {
	mm := o.OriginRAS[axis] + float64(index)*o.SpacingRAS[axis]
	if axis == AxisRight {
		return -mm
	}
	return mm
}

// MMToVoxel converts a displayed millimeter position back to the
// nearest slice index along the given RAS axis, clamped to the valid
// range. It is the exact inverse of VoxelToMM for in-range indices.
func (o *Orientation) MMToVoxel(axis int, mm float64) int {
	if axis == AxisRight {
		mm = -mm
	}
	index := int(math.Round((mm - o.OriginRAS[axis]) / o.SpacingRAS[axis]))
	if index < 0 {
		index = 0
	}
	if max := o.RASSize[axis] - 1; index > max {
		index = max
	}
	return index
}

// VoxelIndex inverts Perm and Flip to recover the backing voxel triple
// (i, j, k) for a reoriented RAS-space index triple. Inputs are
// expected in range; callers own the dimension bookkeeping.
func (o *Orientation) VoxelIndex(ras [3]int) (i, j, k int) {
	var vox [3]int
	for r := 0; r < 3; r++ {
		index := ras[r]
		if o.Flip[r] {
			index = o.RASSize[r] - 1 - index
		}
		vox[o.Perm[r]] = index
	}
	return vox[0], vox[1], vox[2]
}
