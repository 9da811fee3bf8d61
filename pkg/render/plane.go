package render

import "niftiview/pkg/orientation"

// Plane identifies one of the three orthogonal view planes. It is a
// closed set: every plane is listed in planeAxes below and the
// rasterizer never branches on strings.
type Plane int

const (
	Axial Plane = iota
	Coronal
	Sagittal
)

type axes struct {
	Col, Row, Slice int
}

// planeAxes fixes, per plane, which RAS axis runs along the display
// columns, which along the rows, and which is held at the slice index.
var planeAxes = [...]axes{
	Axial:    {Col: orientation.AxisRight, Row: orientation.AxisAnterior, Slice: orientation.AxisSuperior},
	Coronal:  {Col: orientation.AxisRight, Row: orientation.AxisSuperior, Slice: orientation.AxisAnterior},
	Sagittal: {Col: orientation.AxisAnterior, Row: orientation.AxisSuperior, Slice: orientation.AxisRight},
}

// Axes returns the column, row and slice RAS axes for the plane.
func (p Plane) Axes() (col, row, slice int) {
	a := planeAxes[p]
	return a.Col, a.Row, a.Slice
}

// SliceAxis returns the RAS axis the plane scrolls through.
func (p Plane) SliceAxis() int {
	return planeAxes[p].Slice
}

func (p Plane) String() string {
	switch p {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	}
	return "unknown"
}
