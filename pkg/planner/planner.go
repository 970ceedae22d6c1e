// Package planner probes source images and chooses the preview sample size.
package planner

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/photocrop/pkg/metadata"
	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/types"
)

const (
	// DefaultCeiling is used when the device cannot report a texture size
	DefaultCeiling = 2048
	// HardLimit caps whatever the device reports
	HardLimit = 4096
	// DefaultMemoryBudget bounds a single full-resolution decode (512 MiB)
	DefaultMemoryBudget int64 = 512 << 20
)

// DeviceLimits reports the largest texture the display surface can draw
type DeviceLimits interface {
	MaxTextureSize() (int, error)
}

// StaticLimits is a DeviceLimits with a fixed answer. Zero means unknown.
type StaticLimits int

// MaxTextureSize implements DeviceLimits
func (s StaticLimits) MaxTextureSize() (int, error) {
	return int(s), nil
}

// Config holds planner settings
type Config struct {
	DefaultCeiling   int
	HardLimit        int
	MemoryBudget     int64
	SupportedFormats []string
}

// DefaultConfig returns the stock planner settings
func DefaultConfig() Config {
	return Config{
		DefaultCeiling:   DefaultCeiling,
		HardLimit:        HardLimit,
		MemoryBudget:     DefaultMemoryBudget,
		SupportedFormats: []string{"jpeg", "png", "gif", "webp", "bmp", "tiff"},
	}
}

// Planner sizes sources without decoding their pixels
type Planner struct {
	config Config
	limits DeviceLimits
	opener *resource.Opener
	logger *zap.Logger
}

// New creates a Planner with default configuration
func New(opener *resource.Opener, limits DeviceLimits) *Planner {
	return NewWithConfig(DefaultConfig(), opener, limits, nil)
}

// NewWithConfig creates a Planner with custom configuration
func NewWithConfig(config Config, opener *resource.Opener, limits DeviceLimits, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = StaticLimits(0)
	}
	return &Planner{config: config, limits: limits, opener: opener, logger: logger}
}

// Ceiling returns min(device texture size, hard limit), or the default
// ceiling when the device query fails or reports nothing.
func (p *Planner) Ceiling() int {
	size, err := p.limits.MaxTextureSize()
	if err != nil || size <= 0 {
		if err != nil {
			p.logger.Debug("texture size query failed", zap.Error(err))
		}
		return p.config.DefaultCeiling
	}
	if p.config.HardLimit > 0 && size > p.config.HardLimit {
		return p.config.HardLimit
	}
	return size
}

// PlanSampleSize returns the smallest power of two s such that both
// ceil(width/s) and ceil(height/s) fit within ceiling.
func PlanSampleSize(width, height, ceiling int) int {
	if ceiling <= 0 {
		ceiling = 1
	}
	s := 1
	for ceilDiv(width, s) > ceiling || ceilDiv(height, s) > ceiling {
		s <<= 1
	}
	return s
}

// Probe reads the header and orientation of the source and plans its
// preview sample size. No pixel data is decoded.
func (p *Planner) Probe(ctx context.Context, locator string) (types.SourceImage, error) {
	f, err := p.opener.Open(ctx, locator)
	if err != nil {
		return types.SourceImage{}, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return types.SourceImage{}, types.NewError(types.DecodeError, "probe", fmt.Errorf("failed to read image header: %w", err))
	}
	if !p.isFormatSupported(format) {
		return types.SourceImage{}, types.NewError(types.DecodeError, "probe", fmt.Errorf("unsupported image format: %s", format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return types.SourceImage{}, types.NewError(types.DecodeError, "probe", fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height))
	}

	need := types.DecodeBytes(cfg.Width, cfg.Height)
	if p.config.MemoryBudget > 0 && need > p.config.MemoryBudget {
		e := types.NewError(types.OutOfMemoryCondition, "probe",
			fmt.Errorf("decode needs %d bytes, budget is %d", need, p.config.MemoryBudget))
		e.Bounds = image.Pt(cfg.Width, cfg.Height)
		return types.SourceImage{}, e
	}

	orientation := metadata.OrientNormal
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if o, err := metadata.ReadOrientation(f); err == nil {
			orientation = o
		}
	}

	ceiling := p.Ceiling()
	src := types.SourceImage{
		Locator:     locator,
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Orientation: orientation,
		Rotation:    metadata.Rotation(orientation),
		SampleSize:  PlanSampleSize(cfg.Width, cfg.Height, ceiling),
	}

	p.logger.Info("probed source",
		zap.String("source", locator),
		zap.String("format", format),
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.Int("rotation", src.Rotation),
		zap.Int("ceiling", ceiling),
		zap.Int("sample_size", src.SampleSize))
	return src, nil
}

func (p *Planner) isFormatSupported(format string) bool {
	for _, supported := range p.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
