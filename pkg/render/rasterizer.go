// Package render turns a reoriented volume into displayable 2D
// cross-sections. For each view plane it walks an intermediate image
// sized to the source voxel footprint, maps every pixel back through
// the resolved orientation into the flat voxel buffer, applies
// intensity normalization and the brightness/contrast lookup table,
// and finally scales the result to the destination surface while
// preserving the physical (spacing-corrected) aspect ratio.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"niftiview/internal/models"
	"niftiview/pkg/orientation"
)

// ErrNoVolume is returned when rasterization is requested without a
// loaded volume.
var ErrNoVolume = errors.New("no volume loaded")

// Rasterizer renders slices of one view plane. It owns the mutable
// per-view caches (the intensity LUT and the intermediate image
// buffer), so each concurrently rendered view must use its own
// instance; a single Rasterizer must be invoked serially. The volume
// and Orientation it reads are immutable and may be shared freely
// across instances.
type Rasterizer struct {
	lut intensityLUT

	// interim is the slice image at source voxel resolution, reused
	// across frames while its extents are unchanged. Every pixel is
	// rewritten on each rasterization, so reuse is purely an
	// allocation optimization and cannot go stale.
	interim *image.NRGBA
}

// NewRasterizer creates a rasterizer with empty caches.
func NewRasterizer() *Rasterizer {
	return &Rasterizer{}
}

// Reset drops the cached intermediate buffer and LUT. Callers switch
// volumes by resolving a new Orientation and simply rendering with it;
// Reset additionally releases memory held for the old volume's
// footprint.
func (r *Rasterizer) Reset() {
	r.interim = nil
	r.lut.valid = false
}

// RenderSlice rasterizes the given slice of the volume and scales it
// onto an opaque black canvas of exactly destW x destH pixels. The
// slice index counts along the plane's RAS axis and is clamped
// defensively into range, so a stale index racing a volume swap
// degrades to an edge slice instead of crashing an interactive viewer.
// The call is synchronous, never blocks on I/O, and is idempotent:
// identical inputs produce byte-identical output.
func (r *Rasterizer) RenderSlice(vol *models.Volume, o *orientation.Orientation, plane Plane, sliceIndex, destW, destH int, contrast, brightness float64) (*image.NRGBA, error) {
	if vol == nil || len(vol.Data) == 0 || o == nil {
		return nil, ErrNoVolume
	}
	if destW <= 0 || destH <= 0 {
		return nil, fmt.Errorf("invalid destination size %dx%d", destW, destH)
	}

	colAxis, rowAxis, sliceAxis := plane.Axes()
	cols := o.RASSize[colAxis]
	rows := o.RASSize[rowAxis]

	if sliceIndex < 0 {
		sliceIndex = 0
	}
	if max := o.RASSize[sliceAxis] - 1; sliceIndex > max {
		sliceIndex = max
	}

	lut := r.lut.get(contrast, brightness)
	interim := r.interimImage(cols, rows)

	dimI := vol.Dims[0]
	dimJ := vol.Dims[1]
	bufLen := len(vol.Data)
	scale, offset := normalization(vol.MinValue, vol.MaxValue)

	var ras [3]int
	ras[sliceAxis] = sliceIndex
	for y := 0; y < rows; y++ {
		// Rows and columns are mirrored so the image reads with
		// anterior/superior up and patient-right on the viewer's left.
		ras[rowAxis] = rows - 1 - y
		rowStart := y * interim.Stride
		for x := 0; x < cols; x++ {
			ras[colAxis] = cols - 1 - x
			vi, vj, vk := o.VoxelIndex(ras)

			idx := vk*dimI*dimJ + vj*dimI + vi
			// Unreachable given the dimension bookkeeping above;
			// clamp rather than crash in an interactive viewer.
			if idx < 0 {
				idx = 0
			} else if idx >= bufLen {
				idx = bufLen - 1
			}

			gray := lut[clampByte(vol.Data[idx]*scale+offset)]
			p := rowStart + x*4
			interim.Pix[p+0] = gray
			interim.Pix[p+1] = gray
			interim.Pix[p+2] = gray
			interim.Pix[p+3] = 0xff
		}
	}

	outW, outH := fitToBox(
		float64(cols)*o.SpacingRAS[colAxis],
		float64(rows)*o.SpacingRAS[rowAxis],
		destW, destH)

	scaled := imaging.Resize(interim, outW, outH, imaging.Lanczos)
	canvas := imaging.New(destW, destH, color.NRGBA{A: 0xff})
	return imaging.PasteCenter(canvas, scaled), nil
}

// interimImage returns the cached intermediate buffer, reallocating
// only when the plane's footprint changed (plane switch, volume swap
// or a differently sized volume).
func (r *Rasterizer) interimImage(cols, rows int) *image.NRGBA {
	if r.interim == nil || r.interim.Rect.Dx() != cols || r.interim.Rect.Dy() != rows {
		r.interim = image.NewNRGBA(image.Rect(0, 0, cols, rows))
	}
	return r.interim
}

// normalization returns the linear map taking raw intensities onto
// [0,255] from the volume's global range. A degenerate range (min ==
// max, e.g. a constant volume) maps everything to full scale.
func normalization(min, max float64) (scale, offset float64) {
	if rng := max - min; rng > 0 {
		return 255 / rng, -min * 255 / rng
	}
	return 0, 255
}

// fitToBox scales a physical extent (in mm) to the largest pixel size
// that fits the destination box while preserving the aspect ratio.
func fitToBox(physW, physH float64, maxW, maxH int) (w, h int) {
	if physW <= 0 || physH <= 0 {
		return 1, 1
	}
	s := math.Min(float64(maxW)/physW, float64(maxH)/physH)
	w = int(math.Round(physW * s))
	h = int(math.Round(physH * s))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
