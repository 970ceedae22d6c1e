package types

import (
	"image/color"
	"strings"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the normalized center of the box
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Primary represents the primary subject detected in an image
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// AnalysisResult contains the subject answer returned by a vision model
type AnalysisResult struct {
	Primary     Primary  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// OutputFormat selects the encoder used when persisting a crop
type OutputFormat string

const (
	FormatJPEG OutputFormat = "jpg"
	FormatPNG  OutputFormat = "png"
	FormatWebP OutputFormat = "webp"
)

// ParseOutputFormat maps a file extension or format name to an OutputFormat
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	}
	return "", false
}

// Lossless reports whether the format never discards pixel data
func (f OutputFormat) Lossless() bool {
	return f == FormatPNG
}

// SourceImage describes a probed source. It is never mutated after probing.
type SourceImage struct {
	Locator     string
	Format      string
	Width       int // native (unrotated) pixel width
	Height      int // native (unrotated) pixel height
	Orientation int // raw EXIF orientation tag, 1 when absent
	Rotation    int // clockwise display rotation in degrees: 0, 90, 180 or 270
	SampleSize  int // power-of-two preview downsample factor
}

// PreviewSize returns the dimensions of the unrotated preview decode
func (s SourceImage) PreviewSize() (int, int) {
	if s.SampleSize <= 1 {
		return s.Width, s.Height
	}
	return ceilDiv(s.Width, s.SampleSize), ceilDiv(s.Height, s.SampleSize)
}

// CropOptions is the request supplied by the picker shell
type CropOptions struct {
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	AspectX     int          `json:"aspect_x"`
	AspectY     int          `json:"aspect_y"`
	Circular    bool         `json:"circular"`
	Highlight   color.NRGBA  `json:"highlight"`
	MaxWidth    int          `json:"max_width"`
	MaxHeight   int          `json:"max_height"`
	Format      OutputFormat `json:"format"`
	Quality     int          `json:"quality"`
	Lossless    bool         `json:"lossless"`
}

// FixedAspect reports whether both aspect terms are set
func (o CropOptions) FixedAspect() bool {
	return o.AspectX > 0 && o.AspectY > 0
}

// ResizeLocked reports whether the crop rectangle may only be translated
func (o CropOptions) ResizeLocked() bool {
	return o.FixedAspect() || o.Circular
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// DecodeBytes estimates the memory needed to hold a decoded width x height
// image as 8-bit NRGBA.
func DecodeBytes(width, height int) int64 {
	return int64(width) * int64(height) * 4
}
