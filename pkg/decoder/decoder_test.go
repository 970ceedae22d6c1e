package decoder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/types"
)

// pixelAt encodes the coordinate into the color so regions can be checked exactly
func pixelAt(x, y int) color.NRGBA {
	return color.NRGBA{uint8(x), uint8(y), uint8(x + y), 255}
}

func createTestPNG(t *testing.T, width, height int) types.SourceImage {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, pixelAt(x, y))
		}
	}
	path := filepath.Join(t.TempDir(), "src.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return types.SourceImage{Locator: path, Format: "png", Width: width, Height: height, SampleSize: 1}
}

func TestDecodeRegion(t *testing.T) {
	src := createTestPNG(t, 120, 80)
	d := New(resource.NewOpener(nil), 0, nil)

	region, err := d.Decode(context.Background(), src, image.Rect(10, 20, 40, 60))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 40), region.Bounds())
	assert.Equal(t, pixelAt(10, 20), region.NRGBAAt(0, 0))
	assert.Equal(t, pixelAt(39, 59), region.NRGBAAt(29, 39))
}

func TestDecodeRotatedRegion(t *testing.T) {
	// Native 60x100 shown rotated 90 degrees, so the display is 100x60.
	src := createTestPNG(t, 60, 100)
	src.Rotation = 90
	d := New(resource.NewOpener(nil), 0, nil)

	region, err := d.Decode(context.Background(), src, image.Rect(10, 5, 30, 25))
	require.NoError(t, err)

	// Display x maps to native y measured from the bottom edge.
	assert.Equal(t, image.Rect(0, 0, 20, 20), region.Bounds())
	assert.Equal(t, pixelAt(5, 70), region.NRGBAAt(0, 0))
}

func TestDecodeClipsPartialOverlap(t *testing.T) {
	src := createTestPNG(t, 50, 50)
	d := New(resource.NewOpener(nil), 0, nil)

	region, err := d.Decode(context.Background(), src, image.Rect(40, 40, 70, 70))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), region.Bounds())
	assert.Equal(t, pixelAt(40, 40), region.NRGBAAt(0, 0))
	assert.Equal(t, pixelAt(49, 49), region.NRGBAAt(9, 9))
}

func TestDecodeClipsNegativeOrigin(t *testing.T) {
	src := createTestPNG(t, 100, 100)
	d := New(resource.NewOpener(nil), 0, nil)

	region, err := d.Decode(context.Background(), src, image.Rect(-20, 50, 30, 150))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 50), region.Bounds())
	assert.Equal(t, pixelAt(0, 50), region.NRGBAAt(0, 0))
}

func TestDecodeNoOverlap(t *testing.T) {
	src := createTestPNG(t, 50, 50)
	d := New(resource.NewOpener(nil), 0, nil)

	_, err := d.Decode(context.Background(), src, image.Rect(60, 10, 90, 40))
	require.Error(t, err)

	var e *types.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, types.DecodeError, e.Kind)
	assert.Equal(t, image.Rect(60, 10, 90, 40), e.Rect)
	assert.Equal(t, image.Pt(50, 50), e.Bounds)
	assert.Contains(t, err.Error(), "50x50")
	assert.Contains(t, err.Error(), "does not intersect")
}

func TestDecodeEmptyRect(t *testing.T) {
	src := createTestPNG(t, 20, 20)
	d := New(resource.NewOpener(nil), 0, nil)

	_, err := d.Decode(context.Background(), src, image.Rect(5, 5, 5, 10))
	assert.True(t, types.IsKind(err, types.DecodeError))
}

func TestDecodeMemoryBudget(t *testing.T) {
	src := createTestPNG(t, 40, 40)
	d := New(resource.NewOpener(nil), 40*40*4, nil)

	_, err := d.Decode(context.Background(), src, image.Rect(0, 0, 10, 10))
	assert.True(t, types.IsKind(err, types.OutOfMemoryCondition))
}

func TestDecodeMissingSource(t *testing.T) {
	src := types.SourceImage{Locator: filepath.Join(t.TempDir(), "gone.png"), Width: 10, Height: 10}
	d := New(resource.NewOpener(nil), 0, nil)

	_, err := d.Decode(context.Background(), src, image.Rect(0, 0, 5, 5))
	assert.True(t, types.IsKind(err, types.ResourceUnavailable))
}

func TestDecodeCanceled(t *testing.T) {
	src := createTestPNG(t, 10, 10)
	d := New(resource.NewOpener(nil), 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Decode(ctx, src, image.Rect(0, 0, 5, 5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.webp")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WEBPjunk"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, _, err = DecodeImage(f)
	assert.Error(t, err)
}
