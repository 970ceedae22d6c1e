// Package photocrop crops large images without ever holding more than a
// bounded amount of decoded pixels in memory.
//
// A crop runs in two phases. Opening a source probes its header, picks a
// power-of-two sample size that fits the display ceiling and decodes a small,
// upright preview. The caller then moves the crop rectangle over that preview.
// Committing maps the rectangle back to the native pixel grid, decodes only
// that region at full resolution, scales it to the requested bounds and
// writes it out with the source orientation copied over.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/photocrop"
//		"github.com/menta2k/photocrop/pkg/cropper"
//		"github.com/menta2k/photocrop/pkg/types"
//	)
//
//	func main() {
//		pc, err := photocrop.New(nil, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer pc.Close()
//
//		res, err := pc.CropFile(context.Background(), types.CropOptions{
//			Source:    "photo.jpg",
//			AspectX:   1,
//			AspectY:   1,
//			MaxWidth:  1024,
//			MaxHeight: 1024,
//		}, cropper.Move{DX: 20})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println("saved", res.Destination)
//	}
//
// The package is assembled from:
//
//  1. Planner (pkg/planner): header probe and sample size planning
//  2. Cropper (pkg/cropper): the crop rectangle state machine
//  3. Geometry (pkg/geometry): preview to native coordinate mapping
//  4. Decoder (pkg/decoder): memory-bounded region decoding
//  5. Processing (pkg/processing): preview, scaling and persisting
//  6. Session (pkg/session): the background commit worker
//  7. Focus (pkg/focus): optional subject-aware placement
package photocrop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/menta2k/photocrop/internal/config"
	"github.com/menta2k/photocrop/pkg/cropper"
	"github.com/menta2k/photocrop/pkg/decoder"
	"github.com/menta2k/photocrop/pkg/focus"
	"github.com/menta2k/photocrop/pkg/metadata"
	"github.com/menta2k/photocrop/pkg/planner"
	"github.com/menta2k/photocrop/pkg/processing"
	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/session"
	"github.com/menta2k/photocrop/pkg/types"
)

// Version of the photocrop library
const Version = "1.0.0"

// Cropper opens crop sessions that share one set of pipeline stages
type Cropper struct {
	config   *config.Config
	pipeline session.Pipeline
	logger   *zap.Logger
}

// New creates a Cropper. A nil config uses config.Default and a nil logger
// disables logging.
func New(cfg *config.Config, logger *zap.Logger) (*Cropper, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opener := resource.NewOpener(logger)
	plannerConfig := planner.Config{
		DefaultCeiling:   cfg.Planner.DefaultCeiling,
		HardLimit:        cfg.Planner.HardLimit,
		MemoryBudget:     cfg.Planner.MemoryBudget,
		SupportedFormats: cfg.Planner.SupportedFormats,
	}

	locator, err := focus.New(focus.Config{
		Backend:     cfg.Focus.Backend,
		CascadePath: cfg.Focus.CascadePath,
		Provider:    cfg.Focus.Provider,
		URL:         cfg.Focus.URL,
		Model:       cfg.Focus.Model,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up focus backend: %w", err)
	}

	return &Cropper{
		config: cfg,
		pipeline: session.Pipeline{
			Opener:    opener,
			Planner:   planner.NewWithConfig(plannerConfig, opener, planner.StaticLimits(cfg.Planner.MaxTextureSize), logger),
			Decoder:   decoder.New(opener, cfg.Planner.MemoryBudget, logger),
			Scaler:    processing.NewScaler(),
			Persister: processing.NewPersister(opener, metadata.NewCopier(opener), cfg.Output.OutputDir, cfg.Output.Prefix, logger),
			Focus:     locator,
		},
		logger: logger,
	}, nil
}

// Open starts a session for opts. Unset output options take the configured
// defaults.
func (c *Cropper) Open(ctx context.Context, opts types.CropOptions) (*session.Session, error) {
	return session.Open(ctx, c.pipeline, c.withDefaults(opts), c.logger)
}

// CropFile runs a whole crop: open, apply gestures in order, commit and wait
// for the result.
func (c *Cropper) CropFile(ctx context.Context, opts types.CropOptions, gestures ...cropper.Gesture) (session.Result, error) {
	s, err := c.Open(ctx, opts)
	if err != nil {
		return session.Result{Status: session.StatusError, Kind: types.KindOf(err), Err: err}, err
	}
	defer s.Close()

	for _, g := range gestures {
		if _, err := s.Apply(g); err != nil {
			return session.Result{Status: session.StatusError, Err: err}, err
		}
	}

	if err := s.Commit(ctx); err != nil {
		return session.Result{Status: session.StatusError, Err: err}, err
	}
	res, err := s.Wait(ctx)
	if err != nil {
		return session.Result{Status: session.StatusCanceled, Err: err}, err
	}
	return res, res.Err
}

// Close removes temporary copies of remote sources
func (c *Cropper) Close() {
	c.pipeline.Opener.Cleanup()
}

func (c *Cropper) withDefaults(opts types.CropOptions) types.CropOptions {
	if opts.Format == "" && opts.Destination == "" {
		if f, ok := types.ParseOutputFormat(c.config.Output.DefaultFormat); ok {
			opts.Format = f
		}
	}
	if opts.Quality == 0 {
		opts.Quality = c.config.Output.Quality
	}
	return opts
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
