// Package nifti loads NIfTI-1 volumes into the viewer's in-memory
// representation. It parses the fixed 348-byte header in either byte
// order, transparently decompresses gzip containers, decodes the voxel
// stream into float64 intensities and scans the global intensity range
// so rasterization can start immediately after a successful load.
//
// Only the fields the viewer needs are interpreted: dimensions, voxel
// spacing, the voxel-to-world affine (sform preferred, then qform,
// then a spacing-diagonal fallback) and the datatype/scaling of the
// samples. Everything else in the header is read and ignored.
package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/floats"

	"niftiview/internal/models"
)

// Load errors. Both are fatal to the load attempt; no partial volume
// is ever returned alongside an error.
var (
	ErrInvalidHeader       = errors.New("invalid NIfTI header")
	ErrUnsupportedDatatype = errors.New("unsupported NIfTI datatype")
)

// NIfTI-1 datatype codes for the sample formats the viewer decodes.
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
	DTUint32  = 768
)

const (
	headerSize = 348
	// Voxel data in a single-file .nii starts no earlier than this.
	minVoxOffset = 352
)

// header mirrors the on-disk nifti_1_header layout. Field order and
// widths must match the format exactly; binary.Read fills it in one
// pass.
type header struct {
	SizeofHdr     int32
	DataTypeName  [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Load reads a .nii or .nii.gz file from disk.
func Load(path string) (*models.Volume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	vol, err := DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

// DecodeBytes decodes an in-memory NIfTI container, gzip-compressed or
// not. The gzip case is detected from the stream's magic bytes.
func DecodeBytes(data []byte) (*models.Volume, error) {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		return Decode(gz)
	}
	return Decode(bytes.NewReader(data))
}

// Decode reads an uncompressed NIfTI-1 stream.
func Decode(r io.Reader) (*models.Volume, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("short header: %w", ErrInvalidHeader)
	}

	hdr, order, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}

	dims, pixdim, err := gridFromHeader(hdr)
	if err != nil {
		return nil, err
	}

	// Skip any header extension up to the voxel data.
	voxOffset := int(hdr.VoxOffset)
	if voxOffset < minVoxOffset {
		voxOffset = minVoxOffset
	}
	if skip := voxOffset - headerSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(skip)); err != nil {
			return nil, fmt.Errorf("truncated before voxel data: %w", ErrInvalidHeader)
		}
	}

	data, err := decodeSamples(r, hdr, order, dims[0]*dims[1]*dims[2])
	if err != nil {
		return nil, err
	}

	vol := &models.Volume{
		Data:     data,
		Dims:     dims,
		Pixdim:   pixdim,
		Affine:   affineFromHeader(hdr),
		Datatype: hdr.Datatype,
	}
	vol.MinValue = floats.Min(data)
	vol.MaxValue = floats.Max(data)
	return vol, nil
}

// parseHeader decodes the raw header bytes, probing both byte orders.
// A NIfTI file written on a foreign-endian machine has a byte-swapped
// header; dim[0] outside 1..7 (equivalently a wrong sizeof_hdr) is the
// standard tell.
func parseHeader(raw []byte) (*header, binary.ByteOrder, error) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		hdr := &header{}
		if err := binary.Read(bytes.NewReader(raw), order, hdr); err != nil {
			return nil, nil, fmt.Errorf("decoding header: %w", ErrInvalidHeader)
		}
		if hdr.SizeofHdr != headerSize {
			continue
		}
		if hdr.Dim[0] < 1 || hdr.Dim[0] > 7 {
			continue
		}
		if magic := hdr.Magic; !(magic[0] == 'n' && (magic[1] == '+' || magic[1] == 'i') && magic[2] == '1' && magic[3] == 0) {
			return nil, nil, fmt.Errorf("bad magic %q: %w", magic[:], ErrInvalidHeader)
		}
		return hdr, order, nil
	}
	return nil, nil, fmt.Errorf("unrecognized header: %w", ErrInvalidHeader)
}

// gridFromHeader extracts and validates the 3D grid. Files with more
// than three dimensions are accepted; only the first timepoint is
// loaded.
func gridFromHeader(hdr *header) (dims [3]int, pixdim [3]float64, err error) {
	if hdr.Dim[0] < 3 {
		return dims, pixdim, fmt.Errorf("%d-dimensional volume: %w", hdr.Dim[0], ErrInvalidHeader)
	}
	for axis := 0; axis < 3; axis++ {
		n := int(hdr.Dim[axis+1])
		if n < 1 {
			return dims, pixdim, fmt.Errorf("dim[%d]=%d: %w", axis+1, n, ErrInvalidHeader)
		}
		dims[axis] = n
		pixdim[axis] = math.Abs(float64(hdr.Pixdim[axis+1]))
		if pixdim[axis] == 0 {
			pixdim[axis] = 1
		}
	}
	return dims, pixdim, nil
}

// affineFromHeader builds the voxel-to-world affine with the standard
// precedence: the sform rows when present, else the qform quaternion,
// else a diagonal of the voxel spacings with no rotation information.
func affineFromHeader(hdr *header) [3][4]float64 {
	if hdr.SformCode > 0 {
		var a [3][4]float64
		for c := 0; c < 4; c++ {
			a[0][c] = float64(hdr.SrowX[c])
			a[1][c] = float64(hdr.SrowY[c])
			a[2][c] = float64(hdr.SrowZ[c])
		}
		return a
	}
	if hdr.QformCode > 0 {
		return qformAffine(hdr)
	}
	return [3][4]float64{
		{float64(hdr.Pixdim[1]), 0, 0, 0},
		{0, float64(hdr.Pixdim[2]), 0, 0},
		{0, 0, float64(hdr.Pixdim[3]), 0},
	}
}

// qformAffine expands the qform quaternion into a rotation, scales the
// columns by the voxel spacings and applies the qfac handedness factor
// from pixdim[0].
func qformAffine(hdr *header) [3][4]float64 {
	b := float64(hdr.QuaternB)
	c := float64(hdr.QuaternC)
	d := float64(hdr.QuaternD)
	a := math.Sqrt(math.Max(0, 1-b*b-c*c-d*d))

	rot := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - b*b - c*c},
	}

	qfac := 1.0
	if hdr.Pixdim[0] < 0 {
		qfac = -1
	}
	sp := [3]float64{float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2]), float64(hdr.Pixdim[3]) * qfac}
	offset := [3]float64{float64(hdr.QoffsetX), float64(hdr.QoffsetY), float64(hdr.QoffsetZ)}

	var out [3][4]float64
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			out[r][col] = rot[r][col] * sp[col]
		}
		out[r][3] = offset[r]
	}
	return out
}

// decodeSamples reads n voxels in the header's datatype and byte order
// and converts them to float64, applying the scl_slope/scl_inter
// intensity scaling when the header carries a non-trivial one.
func decodeSamples(r io.Reader, hdr *header, order binary.ByteOrder, n int) ([]float64, error) {
	width, err := sampleWidth(hdr.Datatype)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, n*width)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("voxel buffer shorter than %d samples: %w", n, ErrInvalidHeader)
	}

	data := make([]float64, n)
	switch hdr.Datatype {
	case DTUint8:
		for i := range data {
			data[i] = float64(raw[i])
		}
	case DTInt8:
		for i := range data {
			data[i] = float64(int8(raw[i]))
		}
	case DTInt16:
		for i := range data {
			data[i] = float64(int16(order.Uint16(raw[i*2:])))
		}
	case DTUint16:
		for i := range data {
			data[i] = float64(order.Uint16(raw[i*2:]))
		}
	case DTInt32:
		for i := range data {
			data[i] = float64(int32(order.Uint32(raw[i*4:])))
		}
	case DTUint32:
		for i := range data {
			data[i] = float64(order.Uint32(raw[i*4:]))
		}
	case DTFloat32:
		for i := range data {
			data[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		}
	case DTFloat64:
		for i := range data {
			data[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
	}

	slope := float64(hdr.SclSlope)
	inter := float64(hdr.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}
	return data, nil
}

// sampleWidth returns the byte width for a supported datatype code.
func sampleWidth(datatype int16) (int, error) {
	switch datatype {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("datatype code %d: %w", datatype, ErrUnsupportedDatatype)
}
