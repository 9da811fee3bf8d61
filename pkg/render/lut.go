package render

import "math"

// intensityLUT is a 256-entry brightness/contrast transfer table. It
// is a pure function of the (contrast, brightness) pair and is rebuilt
// only when either parameter changes since the last build.
type intensityLUT struct {
	table      [256]uint8
	contrast   float64
	brightness float64
	valid      bool
}

// get returns the transfer table for the given parameters, rebuilding
// it only on a parameter change.
func (l *intensityLUT) get(contrast, brightness float64) *[256]uint8 {
	if !l.valid || l.contrast != contrast || l.brightness != brightness {
		buildLUT(&l.table, contrast, brightness)
		l.contrast = contrast
		l.brightness = brightness
		l.valid = true
	}
	return &l.table
}

// buildLUT fills table with
// table[i] = clamp((i-128)*contrast + 128 + brightness), so that
// contrast pivots around mid-gray and brightness is an additive
// offset. Contrast 1 with brightness 0 is the identity mapping.
func buildLUT(table *[256]uint8, contrast, brightness float64) {
	for i := 0; i < 256; i++ {
		v := (float64(i)-128)*contrast + 128 + brightness
		table[i] = clampByte(v)
	}
}

// clampByte truncates v into [0, 255].
func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Trunc(v))
}
