package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/types"
)

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(32, 24), nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(32, 24)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func readOrientationFile(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	o, err := ReadOrientation(f)
	require.NoError(t, err)
	return o
}

func TestRotation(t *testing.T) {
	assert.Equal(t, 0, Rotation(OrientNormal))
	assert.Equal(t, 90, Rotation(OrientRotate90))
	assert.Equal(t, 180, Rotation(OrientRotate180))
	assert.Equal(t, 270, Rotation(OrientRotate270))
	assert.Equal(t, 0, Rotation(2))
	assert.Equal(t, 0, Rotation(0))
}

func TestReadOrientationWithoutExif(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	writeJPEG(t, path)
	assert.Equal(t, OrientNormal, readOrientationFile(t, path))
}

func TestWriteOrientationJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeJPEG(t, path)

	require.NoError(t, WriteOrientation(path, OrientRotate90))
	assert.Equal(t, OrientRotate90, readOrientationFile(t, path))

	// Rewriting replaces the previous segment rather than stacking another one.
	require.NoError(t, WriteOrientation(path, OrientRotate270))
	assert.Equal(t, OrientRotate270, readOrientationFile(t, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(data, exifHeader))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestWriteOrientationPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path)

	require.NoError(t, WriteOrientation(path, OrientRotate180))
	assert.Equal(t, OrientRotate180, readOrientationFile(t, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

// pngWithChunkHeader keeps the signature and IHDR of a real PNG and appends
// a bare chunk header declaring length bytes of typ.
func pngWithChunkHeader(t *testing.T, typ string, length uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(2, 2)))
	data := append([]byte{}, buf.Bytes()[:len(pngSignature)+25]...)

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], length)
	copy(hdr[4:], typ)
	return append(data, hdr[:]...)
}

func TestReadOrientationHugeChunkLength(t *testing.T) {
	data := pngWithChunkHeader(t, "tEXt", 1<<30)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := ReadOrientation(bytes.NewReader(data))
	runtime.ReadMemStats(&after)

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.DecodeError), "got %v", err)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), "chunk body must not be buffered")
}

func TestReadOrientationRejectsMalformedChunks(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		length uint32
	}{
		{"length over format limit", "tEXt", 1 << 31},
		{"oversized exif", "eXIf", 1 << 20},
		{"truncated exif", "eXIf", 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadOrientation(bytes.NewReader(pngWithChunkHeader(t, tt.typ, tt.length)))
			assert.True(t, types.IsKind(err, types.DecodeError), "got %v", err)
		})
	}
}

func TestWriteOrientationTruncatedPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cut.png")
	require.NoError(t, os.WriteFile(path, pngWithChunkHeader(t, "tEXt", 1<<30), 0o644))

	err := WriteOrientation(path, OrientRotate90)
	assert.True(t, types.IsKind(err, types.DecodeError), "got %v", err)
}

func TestWriteOrientationUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("RIFFxxxxWEBP"), 0o644))
	assert.ErrorIs(t, WriteOrientation(path, OrientRotate90), ErrUnsupportedContainer)
}

func TestCopierCopiesOrientation(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.png")
	writeJPEG(t, src)
	require.NoError(t, WriteOrientation(src, OrientRotate90))
	writePNG(t, dst)

	c := NewCopier(resource.NewOpener(nil))
	err := c.CopyOrientation(context.Background(), types.SourceImage{Locator: src}, dst)
	require.NoError(t, err)
	assert.Equal(t, OrientRotate90, readOrientationFile(t, dst))
}

func TestCopierSkipsNormalSources(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.bin")
	writeJPEG(t, src)
	require.NoError(t, os.WriteFile(dst, []byte("opaque"), 0o644))

	c := NewCopier(resource.NewOpener(nil))
	assert.NoError(t, c.CopyOrientation(context.Background(), types.SourceImage{Locator: src}, dst))
}
