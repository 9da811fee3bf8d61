package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// testHeader returns a minimal valid single-file header for a volume
// with the given grid, datatype and an sform equal to diag(pixdim).
func testHeader(dims [3]int16, pixdim [3]float32, datatype int16) *header {
	hdr := &header{
		SizeofHdr: headerSize,
		Datatype:  datatype,
		VoxOffset: minVoxOffset,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	for axis := 0; axis < 3; axis++ {
		hdr.Dim[axis+1] = dims[axis]
		hdr.Pixdim[axis+1] = pixdim[axis]
	}
	hdr.SrowX = [4]float32{pixdim[0], 0, 0, 0}
	hdr.SrowY = [4]float32{0, pixdim[1], 0, 0}
	hdr.SrowZ = [4]float32{0, 0, pixdim[2], 0}
	return hdr
}

// encode serializes a header plus voxel payload in the given byte
// order, padding out to the voxel offset the way writers do.
func encode(t *testing.T, hdr *header, order binary.ByteOrder, samples interface{}) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, order, hdr); err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}
	for buf.Len() < int(hdr.VoxOffset) {
		buf.WriteByte(0)
	}
	if samples != nil {
		if err := binary.Write(buf, order, samples); err != nil {
			t.Fatalf("Failed to encode samples: %v", err)
		}
	}
	return buf.Bytes()
}

// rampFloat32 returns n float32 samples 0, 1, 2, ...
func rampFloat32(n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i)
	}
	return samples
}

// TestDecodeFloat32 checks the happy path: grid, spacing, affine,
// sample values and the global min/max scan
func TestDecodeFloat32(t *testing.T) {
	dims := [3]int16{2, 3, 4}
	hdr := testHeader(dims, [3]float32{1, 1.5, 3}, DTFloat32)
	n := 2 * 3 * 4
	data := encode(t, hdr, binary.LittleEndian, rampFloat32(n))

	vol, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}

	if vol.Dims != [3]int{2, 3, 4} {
		t.Errorf("Expected dims [2 3 4], got %v", vol.Dims)
	}
	if vol.Pixdim != [3]float64{1, 1.5, 3} {
		t.Errorf("Expected pixdim [1 1.5 3], got %v", vol.Pixdim)
	}
	if len(vol.Data) != n {
		t.Fatalf("Expected %d samples, got %d", n, len(vol.Data))
	}
	for i := 0; i < n; i++ {
		if vol.Data[i] != float64(i) {
			t.Fatalf("Expected sample %d to be %d, got %f", i, i, vol.Data[i])
		}
	}
	if vol.MinValue != 0 || vol.MaxValue != float64(n-1) {
		t.Errorf("Expected range [0 %d], got [%f %f]", n-1, vol.MinValue, vol.MaxValue)
	}
	if vol.Affine[0][0] != 1 || vol.Affine[1][1] != 1.5 || vol.Affine[2][2] != 3 {
		t.Errorf("Expected sform diagonal [1 1.5 3], got %v", vol.Affine)
	}
	if vol.Datatype != DTFloat32 {
		t.Errorf("Expected datatype tag %d, got %d", DTFloat32, vol.Datatype)
	}
}

// TestDecodeBigEndian verifies the byte-order probe on a header and
// payload written big-endian
func TestDecodeBigEndian(t *testing.T) {
	hdr := testHeader([3]int16{2, 2, 2}, [3]float32{1, 1, 1}, DTInt16)
	samples := []int16{0, 1, 2, 3, 4, 5, 6, 7}
	data := encode(t, hdr, binary.BigEndian, samples)

	vol, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}
	for i, want := range samples {
		if vol.Data[i] != float64(want) {
			t.Fatalf("Expected sample %d to be %d, got %f", i, want, vol.Data[i])
		}
	}
}

// TestDecodeGzip verifies transparent decompression of .nii.gz content
func TestDecodeGzip(t *testing.T) {
	hdr := testHeader([3]int16{3, 3, 3}, [3]float32{1, 1, 1}, DTUint8)
	samples := make([]uint8, 27)
	for i := range samples {
		samples[i] = uint8(i * 9)
	}
	plain := encode(t, hdr, binary.LittleEndian, samples)

	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if _, err := gz.Write(plain); err != nil {
		t.Fatalf("Failed to gzip test volume: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("Failed to close gzip writer: %v", err)
	}

	vol, err := DecodeBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBytes failed on gzip input: %v", err)
	}
	for i, want := range samples {
		if vol.Data[i] != float64(want) {
			t.Fatalf("Expected sample %d to be %d, got %f", i, want, vol.Data[i])
		}
	}
}

// TestDecodeIntensityScaling checks that scl_slope/scl_inter are
// applied to integer-stored intensities
func TestDecodeIntensityScaling(t *testing.T) {
	hdr := testHeader([3]int16{2, 1, 1}, [3]float32{1, 1, 1}, DTInt16)
	hdr.SclSlope = 2
	hdr.SclInter = -1
	data := encode(t, hdr, binary.LittleEndian, []int16{10, -5})

	vol, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}
	if vol.Data[0] != 19 || vol.Data[1] != -11 {
		t.Errorf("Expected scaled samples [19 -11], got %v", vol.Data)
	}
	if vol.MinValue != -11 || vol.MaxValue != 19 {
		t.Errorf("Expected scanned range [-11 19], got [%f %f]", vol.MinValue, vol.MaxValue)
	}
}

// TestDecodeQformFallback verifies the affine fallback chain: with no
// sform, an identity quaternion qform yields diag(pixdim) plus the
// qoffset translation
func TestDecodeQformFallback(t *testing.T) {
	hdr := testHeader([3]int16{2, 2, 2}, [3]float32{2, 3, 4}, DTUint8)
	hdr.SformCode = 0
	hdr.QformCode = 1
	hdr.QoffsetX = -10
	hdr.QoffsetY = 20
	hdr.QoffsetZ = 30
	hdr.Pixdim[0] = 1 // qfac
	data := encode(t, hdr, binary.LittleEndian, make([]uint8, 8))

	vol, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}

	expected := [3][4]float64{
		{2, 0, 0, -10},
		{0, 3, 0, 20},
		{0, 0, 4, 30},
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(vol.Affine[r][c]-expected[r][c]) > 1e-6 {
				t.Fatalf("Affine[%d][%d]: expected %f, got %f", r, c, expected[r][c], vol.Affine[r][c])
			}
		}
	}
}

// TestDecode4DReadsFirstTimepoint checks that a 4D file loads as its
// first frame
func TestDecode4DReadsFirstTimepoint(t *testing.T) {
	hdr := testHeader([3]int16{2, 2, 2}, [3]float32{1, 1, 1}, DTUint8)
	hdr.Dim[0] = 4
	hdr.Dim[4] = 3
	samples := make([]uint8, 24)
	for i := range samples {
		samples[i] = uint8(i)
	}
	data := encode(t, hdr, binary.LittleEndian, samples)

	vol, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}
	if len(vol.Data) != 8 {
		t.Fatalf("Expected 8 samples from timepoint 0, got %d", len(vol.Data))
	}
	if vol.Data[7] != 7 {
		t.Errorf("Expected last sample of timepoint 0 to be 7, got %f", vol.Data[7])
	}
}

// TestDecodeErrors checks the invalid-header and unsupported-datatype
// failure paths
func TestDecodeErrors(t *testing.T) {
	valid := testHeader([3]int16{2, 2, 2}, [3]float32{1, 1, 1}, DTUint8)

	t.Run("bad magic", func(t *testing.T) {
		hdr := *valid
		hdr.Magic = [4]byte{'x', 'x', 'x', 0}
		data := encode(t, &hdr, binary.LittleEndian, make([]uint8, 8))
		if _, err := DecodeBytes(data); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("Expected ErrInvalidHeader, got %v", err)
		}
	})

	t.Run("bad sizeof_hdr", func(t *testing.T) {
		hdr := *valid
		hdr.SizeofHdr = 123
		data := encode(t, &hdr, binary.LittleEndian, make([]uint8, 8))
		if _, err := DecodeBytes(data); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("Expected ErrInvalidHeader, got %v", err)
		}
	})

	t.Run("too few dimensions", func(t *testing.T) {
		hdr := *valid
		hdr.Dim[0] = 2
		data := encode(t, &hdr, binary.LittleEndian, make([]uint8, 8))
		if _, err := DecodeBytes(data); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("Expected ErrInvalidHeader, got %v", err)
		}
	})

	t.Run("short voxel buffer", func(t *testing.T) {
		data := encode(t, valid, binary.LittleEndian, make([]uint8, 5))
		if _, err := DecodeBytes(data); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("Expected ErrInvalidHeader, got %v", err)
		}
	})

	t.Run("truncated header", func(t *testing.T) {
		data := encode(t, valid, binary.LittleEndian, make([]uint8, 8))
		if _, err := DecodeBytes(data[:100]); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("Expected ErrInvalidHeader, got %v", err)
		}
	})

	t.Run("unsupported datatype", func(t *testing.T) {
		hdr := *valid
		hdr.Datatype = 128 // RGB24
		data := encode(t, &hdr, binary.LittleEndian, make([]uint8, 24))
		if _, err := DecodeBytes(data); !errors.Is(err, ErrUnsupportedDatatype) {
			t.Errorf("Expected ErrUnsupportedDatatype, got %v", err)
		}
	})
}

// TestLoadFromFile round-trips a volume through the filesystem path,
// both plain and gzipped
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	hdr := testHeader([3]int16{4, 4, 4}, [3]float32{1, 1, 1}, DTFloat32)
	plain := encode(t, hdr, binary.LittleEndian, rampFloat32(64))

	path := filepath.Join(dir, "volume.nii")
	if err := os.WriteFile(path, plain, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	vol, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(vol.Data) != 64 || vol.MaxValue != 63 {
		t.Errorf("Expected 64 samples with max 63, got %d samples max %f", len(vol.Data), vol.MaxValue)
	}

	gzPath := filepath.Join(dir, "volume.nii.gz")
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if _, err := gz.Write(plain); err != nil {
		t.Fatalf("Failed to gzip test volume: %v", err)
	}
	gz.Close()
	if err := os.WriteFile(gzPath, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write gzipped test file: %v", err)
	}
	gzVol, err := Load(gzPath)
	if err != nil {
		t.Fatalf("Load of gzipped file failed: %v", err)
	}
	if len(gzVol.Data) != 64 || gzVol.Data[10] != 10 {
		t.Errorf("Expected identical content from the gzipped file")
	}

	if _, err := Load(filepath.Join(dir, "missing.nii")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
