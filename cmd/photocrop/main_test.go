package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return path
}

func noConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.json")
}

func TestRunCrop(t *testing.T) {
	src := writePNG(t, 300, 200)
	dst := filepath.Join(t.TempDir(), "out.png")
	overlay := filepath.Join(t.TempDir(), "overlay.png")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"crop", "-in", src, "-out", dst, "-config", noConfig(t),
		"-aspect", "2:1", "-max", "100x0", "-move", "-500,0", "-overlay", overlay, "-log", "error"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Equal(t, dst, strings.TrimSpace(stdout.String()))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	_, err = os.Stat(overlay)
	assert.NoError(t, err)
}

func TestRunCropRect(t *testing.T) {
	src := writePNG(t, 300, 200)
	dst := filepath.Join(t.TempDir(), "out.png")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"crop", "-in", src, "-out", dst, "-config", noConfig(t),
		"-rect", "10,20,100,50", "-log", "error"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestRunCropMissingSource(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"crop", "-in", "/nonexistent.jpg", "-config", noConfig(t), "-log", "error"}, &stdout, &stderr)
	assert.Equal(t, exitError, code)
	assert.Empty(t, stdout.String())
}

func TestRunCropCanceled(t *testing.T) {
	src := writePNG(t, 64, 64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"crop", "-in", src, "-out", filepath.Join(t.TempDir(), "o.png"), "-config", noConfig(t), "-log", "error"}, &stdout, &stderr)
	assert.Equal(t, exitCanceled, code)
}

func TestRunProbe(t *testing.T) {
	src := writePNG(t, 5000, 100)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"probe", "-in", src, "-config", noConfig(t), "-log", "error"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, float64(5000), out["width"])
	assert.Equal(t, float64(4), out["sample_size"])
	assert.Equal(t, float64(1250), out["preview_width"])
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitError, run(context.Background(), nil, &stdout, &stderr))
	assert.Equal(t, exitError, run(context.Background(), []string{"frobnicate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage")

	stdout.Reset()
	assert.Equal(t, exitOK, run(context.Background(), []string{"version"}, &stdout, &stderr))
	assert.NotEmpty(t, stdout.String())
}

func TestRunCropBadFlags(t *testing.T) {
	for _, args := range [][]string{
		{"crop", "-in", "x.jpg", "-aspect", "wide"},
		{"crop", "-in", "x.jpg", "-max", "big"},
		{"crop", "-in", "x.jpg", "-format", "gif"},
		{"crop", "-in", "x.jpg", "-highlight", "yellow"},
		{"crop", "-nope"},
	} {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitError, run(context.Background(), args, &stdout, &stderr), args)
	}
}

func TestParseHelpers(t *testing.T) {
	w, h, err := parseSize("1024x0")
	require.NoError(t, err)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 0, h)

	dx, dy, err := parsePair("-3, 7")
	require.NoError(t, err)
	assert.Equal(t, -3, dx)
	assert.Equal(t, 7, dy)

	r, err := parseRect("10,20,30,40")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 20, 40, 60), r)
	_, err = parseRect("1,2,0,4")
	assert.Error(t, err)

	c, err := parseHex("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{255, 128, 0, 255}, c)
}
