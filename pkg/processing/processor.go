package processing

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/photocrop/pkg/decoder"
	"github.com/menta2k/photocrop/pkg/geometry"
	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/types"
)

// DefaultQuality is the JPEG quality used when none is requested
const DefaultQuality = 90

// OutputSize returns the dimensions a w x h crop is scaled to so that it fits
// maxW x maxH. A zero max leaves that axis unconstrained.
func OutputSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	overW := maxW > 0 && w > maxW
	overH := maxH > 0 && h > maxH
	if !overW && !overH {
		return w, h
	}

	var scale float64
	switch {
	case maxW <= 0:
		scale = float64(maxH) / float64(h)
	case maxH <= 0:
		scale = float64(maxW) / float64(w)
	case float64(maxW)/float64(maxH) > float64(w)/float64(h):
		// requested shape is wider than the crop, height binds
		scale = float64(maxH) / float64(h)
	default:
		scale = float64(maxW) / float64(w)
	}
	return maxInt(1, roundHalfUp(float64(w)*scale)), maxInt(1, roundHalfUp(float64(h)*scale))
}

// Scaler resizes decoded regions to the output constraints
type Scaler struct {
	filter imaging.ResampleFilter
}

// NewScaler creates a Scaler using Lanczos resampling
func NewScaler() *Scaler {
	return &Scaler{filter: imaging.Lanczos}
}

// Scale returns img resized per OutputSize, or img itself when it already fits
func (s *Scaler) Scale(img *image.NRGBA, maxW, maxH int) *image.NRGBA {
	b := img.Bounds()
	w, h := OutputSize(b.Dx(), b.Dy(), maxW, maxH)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return imaging.Resize(img, w, h, s.filter)
}

// OrientationCopier stamps the source orientation onto a written file
type OrientationCopier interface {
	CopyOrientation(ctx context.Context, src types.SourceImage, dst string) error
}

// Persister encodes crops and carries orientation metadata over
type Persister struct {
	opener    *resource.Opener
	copier    OrientationCopier
	outputDir string
	prefix    string
	logger    *zap.Logger
}

// NewPersister creates a Persister. Crops without a destination are written
// to outputDir as <prefix><uuid>.<ext>.
func NewPersister(opener *resource.Opener, copier OrientationCopier, outputDir, prefix string, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "crop_"
	}
	return &Persister{opener: opener, copier: copier, outputDir: outputDir, prefix: prefix, logger: logger}
}

// Persist writes img to the destination in opts and copies the orientation
// of src. A failed metadata copy is logged and does not fail the write.
func (p *Persister) Persist(ctx context.Context, img image.Image, src types.SourceImage, opts types.CropOptions) (string, error) {
	format := resolveFormat(opts)
	dst := opts.Destination
	if dst == "" {
		dst = p.defaultDestination(format)
	}

	f, err := p.opener.Create(dst)
	if err != nil {
		return "", err
	}
	if err := encode(f, img, format, opts); err != nil {
		f.Close()
		return "", types.NewError(types.ResourceUnavailable, "persist", fmt.Errorf("failed to encode %s: %w", format, err))
	}
	if err := f.Close(); err != nil {
		return "", types.NewError(types.ResourceUnavailable, "persist", err)
	}

	if p.copier != nil {
		if err := p.copier.CopyOrientation(ctx, src, dst); err != nil {
			warn := types.NewError(types.MetadataCopyWarning, "copy orientation", err)
			p.logger.Warn("orientation not copied",
				zap.String("source", src.Locator),
				zap.String("destination", dst),
				zap.Stringer("kind", warn.Kind),
				zap.Error(err))
		}
	}
	return dst, nil
}

func (p *Persister) defaultDestination(format types.OutputFormat) string {
	dir := p.outputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, p.prefix+uuid.NewString()+"."+string(format))
}

// resolveFormat picks the explicit format, then the destination extension,
// then JPEG.
func resolveFormat(opts types.CropOptions) types.OutputFormat {
	if opts.Format != "" {
		return opts.Format
	}
	if f, ok := FormatFromPath(opts.Destination); ok {
		return f
	}
	return types.FormatJPEG
}

func encode(w io.Writer, img image.Image, format types.OutputFormat, opts types.CropOptions) error {
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	switch format {
	case types.FormatWebP:
		return webp.Encode(w, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)})
	case types.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case types.FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// LoadPreview decodes the source, downsamples it by its sample size and
// rotates it upright for display.
func LoadPreview(ctx context.Context, opener *resource.Opener, src types.SourceImage) (*image.NRGBA, error) {
	f, err := opener.Open(ctx, src.Locator)
	if err != nil {
		return nil, err
	}
	img, _, err := decoder.DecodeImage(f)
	f.Close()
	if err != nil {
		return nil, types.NewError(types.DecodeError, "load preview", err)
	}

	var preview *image.NRGBA
	if src.SampleSize > 1 {
		w, h := src.PreviewSize()
		preview = imaging.Resize(img, w, h, imaging.Box)
	} else {
		preview = imaging.Clone(img)
	}
	return RotateForDisplay(preview, src.Rotation), nil
}

// RotateForDisplay turns a native-orientation image clockwise by rotation
// degrees. imaging rotates counter-clockwise.
func RotateForDisplay(img *image.NRGBA, rotation int) *image.NRGBA {
	switch geometry.NormalizeRotation(rotation) {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// RenderHighlight draws the crop rectangle over a copy of the preview: the
// outside is dimmed, the border is drawn in the highlight color and a circle
// guide is added for circular crops.
func RenderHighlight(preview image.Image, rect image.Rectangle, highlight color.NRGBA, circular bool) *image.NRGBA {
	out := imaging.Clone(preview)
	b := out.Bounds()
	rect = rect.Intersect(b)
	if highlight.A == 0 {
		highlight = color.NRGBA{255, 204, 0, 255}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !image.Pt(x, y).In(rect) {
				dim(out, x, y)
			}
		}
	}

	stroke := int(math.Max(1, 0.004*float64(minInt(b.Dx(), b.Dy()))))
	drawRect(out, rect, highlight, stroke)
	if circular {
		drawCircle(out, rect, highlight, stroke)
	}
	return out
}

// Helper functions
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func dim(img *image.NRGBA, x, y int) {
	i := img.PixOffset(x, y)
	img.Pix[i+0] /= 2
	img.Pix[i+1] /= 2
	img.Pix[i+2] /= 2
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	if r.Empty() {
		return
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

// drawCircle outlines the ellipse inscribed in r
func drawCircle(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	if r.Empty() {
		return
	}
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	rx, ry := float64(r.Dx())/2, float64(r.Dy())/2
	steps := int(4 * math.Pi * math.Max(rx, ry))
	for s := 0; s < stroke; s++ {
		for i := 0; i < steps; i++ {
			a := 2 * math.Pi * float64(i) / float64(steps)
			x := int(cx + (rx-float64(s)-0.5)*math.Cos(a))
			y := int(cy + (ry-float64(s)-0.5)*math.Sin(a))
			if image.Pt(x, y).In(img.Bounds()) {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x0, x1 = maxInt(x0, b.Min.X), minInt(x1, b.Max.X)
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y0, y1 = maxInt(y0, b.Min.Y), minInt(y1, b.Max.Y)
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}

// FormatFromPath returns the output format implied by a file name
func FormatFromPath(path string) (types.OutputFormat, bool) {
	return types.ParseOutputFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}
