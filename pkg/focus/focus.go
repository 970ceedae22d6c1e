// Package focus picks the point the default crop rectangle should be centered
// on. Every backend works on the downsampled preview and only ever produces a
// translation, so the rectangle keeps its size and shape.
package focus

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/photocrop/pkg/client"
	"github.com/menta2k/photocrop/pkg/cropper"
	"github.com/menta2k/photocrop/pkg/detection"
	"github.com/menta2k/photocrop/pkg/llamacpp"
	"github.com/menta2k/photocrop/pkg/ollama"
)

// ErrNotFound is returned when a backend has no opinion about the image
var ErrNotFound = errors.New("no focus point found")

// Locator finds the center of interest for a crop of the given size.
// The returned point is in img's pixel coordinates.
type Locator interface {
	Locate(ctx context.Context, img image.Image, size image.Point) (image.Point, error)
}

// Backend names accepted by New
const (
	BackendNone      = "none"
	BackendSaliency  = "saliency"
	BackendSmartCrop = "smartcrop"
	BackendFaces     = "faces"
	BackendModel     = "model"
)

// Config selects and configures a backend
type Config struct {
	Backend string
	// CascadePath points at a pigo facefinder cascade for the faces backend
	CascadePath string
	// Provider is "ollama" or "llamacpp" for the model backend
	Provider string
	URL      string
	Model    string
}

// New builds the configured Locator. The none backend returns nil.
func New(cfg Config, logger *zap.Logger) (Locator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return nil, nil
	case BackendSaliency:
		return NewSaliency(), nil
	case BackendSmartCrop:
		return NewSmartCrop(), nil
	case BackendFaces:
		if cfg.CascadePath == "" {
			return nil, fmt.Errorf("faces backend needs a cascade file")
		}
		data, err := os.ReadFile(cfg.CascadePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read cascade: %w", err)
		}
		faces, err := NewFaces(data)
		if err != nil {
			return nil, err
		}
		return WithFallback(faces, NewSaliency(), logger), nil
	case BackendModel:
		vc, err := newVisionClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewModel(detection.NewDetector(vc, detection.DefaultConfig(cfg.Model))), nil
	default:
		return nil, fmt.Errorf("unknown focus backend: %s", cfg.Backend)
	}
}

func newVisionClient(cfg Config) (client.VisionClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model backend needs a model name")
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		url := cfg.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		return ollama.NewClient(url)
	case "llamacpp", "llama.cpp":
		return llamacpp.NewClient(cfg.URL), nil
	default:
		return nil, fmt.Errorf("unknown model provider: %s", cfg.Provider)
	}
}

// Apply centers the model's rectangle on the point chosen by loc. preview
// must be the image the model was placed on.
func Apply(ctx context.Context, loc Locator, m *cropper.Model, preview image.Image) (image.Rectangle, error) {
	if loc == nil {
		return m.Rect(), nil
	}
	pt, err := loc.Locate(ctx, preview, m.Rect().Size())
	if err != nil {
		return m.Rect(), err
	}
	return m.Apply(cropper.CenterOn{X: pt.X, Y: pt.Y})
}

type fallback struct {
	primary, secondary Locator
	logger             *zap.Logger
}

// WithFallback tries primary and falls back to secondary on any error
func WithFallback(primary, secondary Locator, logger *zap.Logger) Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *fallback) Locate(ctx context.Context, img image.Image, size image.Point) (image.Point, error) {
	pt, err := f.primary.Locate(ctx, img, size)
	if err == nil {
		return pt, nil
	}
	if ctx.Err() != nil {
		return image.Point{}, ctx.Err()
	}
	f.logger.Debug("focus fallback", zap.Error(err))
	return f.secondary.Locate(ctx, img, size)
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
