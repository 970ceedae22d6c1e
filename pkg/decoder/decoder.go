// Package decoder re-reads a selected region of a source image at full
// resolution.
package decoder

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/photocrop/pkg/geometry"
	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/types"
)

// RegionDecoder decodes crop regions within a memory budget
type RegionDecoder struct {
	opener *resource.Opener
	budget int64
	logger *zap.Logger
}

// New creates a RegionDecoder. A budget of zero disables the memory check.
func New(opener *resource.Opener, budget int64, logger *zap.Logger) *RegionDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegionDecoder{opener: opener, budget: budget, logger: logger}
}

// Decode returns the pixels of rect, given in full-resolution displayed
// coordinates, as a freshly allocated image in native orientation. A rect
// that only partly overlaps the image is clipped to it.
func (d *RegionDecoder) Decode(ctx context.Context, src types.SourceImage, rect image.Rectangle) (*image.NRGBA, error) {
	native := geometry.RotateRectForExif(rect, src.Rotation, src.Width, src.Height)
	bounds := image.Rect(0, 0, src.Width, src.Height)
	clip := native.Intersect(bounds)
	if clip.Empty() {
		return nil, &types.Error{
			Kind:   types.DecodeError,
			Op:     "decode region",
			Rect:   native,
			Bounds: bounds.Size(),
			Err:    fmt.Errorf("region does not intersect image (display rect %v, rotation %d)", rect, src.Rotation),
		}
	}

	need := types.DecodeBytes(src.Width, src.Height) + types.DecodeBytes(clip.Dx(), clip.Dy())
	if d.budget > 0 && need > d.budget {
		return nil, &types.Error{
			Kind:   types.OutOfMemoryCondition,
			Op:     "decode region",
			Rect:   clip,
			Bounds: bounds.Size(),
			Err:    fmt.Errorf("decode needs %d bytes, budget is %d", need, d.budget),
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	region, err := d.decodeRegion(ctx, src.Locator, clip)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("decoded region",
		zap.String("source", src.Locator),
		zap.Stringer("rect", clip),
		zap.Int("rotation", src.Rotation))
	return region, nil
}

// decodeRegion keeps the full-resolution image local so it is released as
// soon as the region copy exists.
func (d *RegionDecoder) decodeRegion(ctx context.Context, locator string, r image.Rectangle) (*image.NRGBA, error) {
	f, err := d.opener.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := DecodeImage(f)
	if err != nil {
		return nil, types.NewError(types.DecodeError, "decode region", err)
	}
	if !r.In(img.Bounds()) {
		return nil, &types.Error{
			Kind:   types.DecodeError,
			Op:     "decode region",
			Rect:   r,
			Bounds: img.Bounds().Size(),
			Err:    fmt.Errorf("decoded size differs from probed size"),
		}
	}
	return imaging.Crop(img, r), nil
}

// DecodeImage decodes any registered format, falling back to the libwebp
// decoder for WebP variants the pure-Go decoder rejects.
func DecodeImage(r io.ReadSeeker) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err == nil {
		return img, format, nil
	}
	if _, serr := r.Seek(0, io.SeekStart); serr != nil {
		return nil, "", err
	}
	if wimg, werr := webp.Decode(r); werr == nil {
		return wimg, "webp", nil
	}
	return nil, "", fmt.Errorf("failed to decode image: %w", err)
}
