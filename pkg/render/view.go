package render

import (
	"image"

	"niftiview/internal/models"
	"niftiview/pkg/orientation"
)

// View holds the display state of one rendered plane: the slice the
// user has scrolled to and the contrast/brightness pair, plus the
// rasterizer (and so the caches) that plane owns. Three Views over
// the same volume may render concurrently because the volume and
// Orientation are read-only; a single View must be used serially.
type View struct {
	Plane Plane

	sliceIndex int
	contrast   float64
	brightness float64

	ras *Rasterizer
}

// NewView creates a view of the given plane with neutral display
// parameters (contrast 1, brightness 0).
func NewView(plane Plane) *View {
	return &View{
		Plane:    plane,
		contrast: 1,
		ras:      NewRasterizer(),
	}
}

// Center positions the view on the middle slice of its axis. Called
// when a volume loads.
func (v *View) Center(o *orientation.Orientation) {
	v.sliceIndex = o.RASSize[v.Plane.SliceAxis()] / 2
	v.ras.Reset()
}

// SliceIndex returns the current slice index.
func (v *View) SliceIndex() int {
	return v.sliceIndex
}

// SetSliceIndex jumps to the given slice, clamped into range.
func (v *View) SetSliceIndex(o *orientation.Orientation, index int) {
	v.sliceIndex = clampIndex(index, o.RASSize[v.Plane.SliceAxis()])
}

// Scroll moves the view by delta slices, clamping at the volume edges.
func (v *View) Scroll(o *orientation.Orientation, delta int) {
	v.SetSliceIndex(o, v.sliceIndex+delta)
}

// PositionMM returns the current slice position in display
// millimeters along the view's axis.
func (v *View) PositionMM(o *orientation.Orientation) float64 {
	return o.VoxelToMM(v.Plane.SliceAxis(), v.sliceIndex)
}

// SetPositionMM moves the view to the slice nearest the given display
// millimeter position.
func (v *View) SetPositionMM(o *orientation.Orientation, mm float64) {
	v.sliceIndex = o.MMToVoxel(v.Plane.SliceAxis(), mm)
}

// Contrast returns the current contrast factor.
func (v *View) Contrast() float64 {
	return v.contrast
}

// SetContrast sets the contrast factor (neutral 1). Non-positive
// values are floored to a small positive factor so the transfer
// table keeps its direction.
func (v *View) SetContrast(contrast float64) {
	if contrast <= 0 {
		contrast = 0.01
	}
	v.contrast = contrast
}

// Brightness returns the current additive brightness offset.
func (v *View) Brightness() float64 {
	return v.brightness
}

// SetBrightness sets the additive brightness offset (neutral 0).
func (v *View) SetBrightness(brightness float64) {
	v.brightness = brightness
}

// Render rasterizes the view's current slice onto a destW x destH
// canvas using the view's display parameters.
func (v *View) Render(vol *models.Volume, o *orientation.Orientation, destW, destH int) (*image.NRGBA, error) {
	return v.ras.RenderSlice(vol, o, v.Plane, v.sliceIndex, destW, destH, v.contrast, v.brightness)
}

func clampIndex(index, size int) int {
	if index < 0 {
		return 0
	}
	if index > size-1 {
		return size - 1
	}
	return index
}
