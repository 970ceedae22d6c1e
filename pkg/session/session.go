// Package session ties one crop request together: it probes the source,
// holds the preview and the crop model for the foreground, and runs the
// decode, scale and persist stages on a single background worker.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/menta2k/photocrop/pkg/cropper"
	"github.com/menta2k/photocrop/pkg/decoder"
	"github.com/menta2k/photocrop/pkg/focus"
	"github.com/menta2k/photocrop/pkg/geometry"
	"github.com/menta2k/photocrop/pkg/planner"
	"github.com/menta2k/photocrop/pkg/processing"
	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/types"
)

// TotalStages is the number of commit stages reported by Progress
const TotalStages = 3

// ErrClosed is returned by operations on a torn down session
var ErrClosed = errors.New("session closed")

// Status is the terminal state of a commit
type Status int

const (
	StatusOK Status = iota
	StatusCanceled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCanceled:
		return "canceled"
	default:
		return "error"
	}
}

// Result is published once per commit attempt
type Result struct {
	Status      Status
	Destination string
	Kind        types.Kind
	Err         error
}

// Pipeline holds the shared stage implementations. Focus is optional.
type Pipeline struct {
	Opener    *resource.Opener
	Planner   *planner.Planner
	Decoder   *decoder.RegionDecoder
	Scaler    *processing.Scaler
	Persister *processing.Persister
	Focus     focus.Locator
}

// Session is one open crop request
type Session struct {
	id       string
	pipeline Pipeline
	opts     types.CropOptions
	src      types.SourceImage
	model    *cropper.Model
	logger   *zap.Logger

	mu      sync.Mutex
	preview *image.NRGBA
	results chan Result

	guard    *semaphore.Weighted
	progress atomic.Int32
	closed   atomic.Bool
	done     sync.WaitGroup
}

// Open probes opts.Source, decodes its preview and places the default crop
// rectangle, re-centered by the focus backend when one is configured. Any
// failure here is terminal and no session is returned.
func Open(ctx context.Context, p Pipeline, opts types.CropOptions, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id), zap.String("source", opts.Source))

	src, err := p.Planner.Probe(ctx, opts.Source)
	if err != nil {
		logger.Error("probe failed", zap.Error(err))
		return nil, err
	}

	preview, err := processing.LoadPreview(ctx, p.Opener, src)
	if err != nil {
		logger.Error("preview decode failed", zap.Error(err))
		return nil, err
	}

	model := cropper.NewModel(cropper.Constraints{
		AspectX:  opts.AspectX,
		AspectY:  opts.AspectY,
		Circular: opts.Circular,
	})
	rect, err := model.Place(preview.Bounds().Dx(), preview.Bounds().Dy())
	if err != nil {
		return nil, err
	}

	if p.Focus != nil {
		focused, err := focus.Apply(ctx, p.Focus, model, preview)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Info("focus unavailable, keeping default rectangle", zap.Error(err))
		} else {
			rect = focused
		}
	}

	logger.Info("session opened",
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.Int("rotation", src.Rotation),
		zap.Int("sample_size", src.SampleSize),
		zap.Stringer("rect", rect))

	return &Session{
		id:       id,
		pipeline: p,
		opts:     opts,
		src:      src,
		model:    model,
		logger:   logger,
		preview:  preview,
		guard:    semaphore.NewWeighted(1),
		results:  make(chan Result, 1),
	}, nil
}

// ID returns the session identifier used in logs
func (s *Session) ID() string { return s.id }

// Source returns the probed source
func (s *Session) Source() types.SourceImage { return s.src }

// Options returns the request the session was opened with
func (s *Session) Options() types.CropOptions { return s.opts }

// Model exposes the crop model for gestures
func (s *Session) Model() *cropper.Model { return s.model }

// Rect returns the crop rectangle in preview coordinates
func (s *Session) Rect() image.Rectangle { return s.model.Rect() }

// Apply forwards a gesture to the crop model
func (s *Session) Apply(g cropper.Gesture) (image.Rectangle, error) {
	if s.closed.Load() {
		return s.model.Rect(), ErrClosed
	}
	return s.model.Apply(g)
}

// Select moves the rectangle as close to r, in preview coordinates, as the
// constraints allow. Locked shapes are only centered on r.
func (s *Session) Select(r image.Rectangle) (image.Rectangle, error) {
	r = r.Canon()
	cur, err := s.Apply(cropper.CenterOn{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2})
	if err != nil || s.model.Constraints().Locked() {
		return cur, err
	}
	cur, err = s.Apply(cropper.Resize{Edge: cropper.EdgeLeft | cropper.EdgeTop, DX: r.Min.X - cur.Min.X, DY: r.Min.Y - cur.Min.Y})
	if err != nil {
		return cur, err
	}
	return s.Apply(cropper.Resize{Edge: cropper.EdgeRight | cropper.EdgeBottom, DX: r.Max.X - cur.Max.X, DY: r.Max.Y - cur.Max.Y})
}

// Preview returns the display preview, or nil once a commit has started
func (s *Session) Preview() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Overlay renders the current rectangle over the preview
func (s *Session) Overlay() (*image.NRGBA, error) {
	preview := s.Preview()
	if preview == nil {
		return nil, fmt.Errorf("preview released")
	}
	return processing.RenderHighlight(preview, s.model.Rect(), s.opts.Highlight, s.opts.Circular), nil
}

// NativeRect maps the current rectangle to full-resolution display space
func (s *Session) NativeRect() image.Rectangle {
	return s.fullRect(s.model.Rect())
}

func (s *Session) fullRect(r image.Rectangle) image.Rectangle {
	w, h := geometry.DisplaySize(s.src.Width, s.src.Height, s.src.Rotation)
	return geometry.ToNativeRect(r, geometry.Scale(float64(s.src.SampleSize)), image.Rect(0, 0, w, h))
}

// Progress reports how many of TotalStages the running commit has finished
func (s *Session) Progress() (int, int) {
	return int(s.progress.Load()), TotalStages
}

// Commit finalizes the rectangle and starts the background worker. It
// returns cropper.ErrCommitInFlight while a previous commit is running.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.guard.TryAcquire(1) {
		return cropper.ErrCommitInFlight
	}
	rect, err := s.model.Commit()
	if err != nil {
		s.guard.Release(1)
		return err
	}

	// one channel per attempt, an unread result stays with its attempt
	results := make(chan Result, 1)
	s.mu.Lock()
	s.preview = nil
	s.results = results
	s.mu.Unlock()
	s.progress.Store(0)

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		res := s.run(ctx, rect)
		if res.Status == StatusOK {
			s.model.Complete()
		} else {
			s.model.Release()
		}
		s.guard.Release(1)
		if s.closed.Load() {
			s.logger.Debug("discarding result of closed session", zap.Stringer("status", res.Status))
			return
		}
		results <- res
	}()
	return nil
}

func (s *Session) run(ctx context.Context, rect image.Rectangle) Result {
	full := s.fullRect(rect)
	logger := s.logger.With(zap.Stringer("rect", full))

	if err := ctx.Err(); err != nil {
		return s.fail(logger, "decode", err)
	}
	region, err := s.pipeline.Decoder.Decode(ctx, s.src, full)
	if err != nil {
		return s.fail(logger, "decode", err)
	}
	s.progress.Add(1)

	if err := ctx.Err(); err != nil {
		return s.fail(logger, "scale", err)
	}
	out := s.pipeline.Scaler.Scale(region, s.opts.MaxWidth, s.opts.MaxHeight)
	s.progress.Add(1)

	if err := ctx.Err(); err != nil {
		return s.fail(logger, "persist", err)
	}
	dst, err := s.pipeline.Persister.Persist(ctx, out, s.src, s.opts)
	if err != nil {
		return s.fail(logger, "persist", err)
	}
	s.progress.Add(1)

	logger.Info("crop saved",
		zap.String("destination", dst),
		zap.Int("output_width", out.Bounds().Dx()),
		zap.Int("output_height", out.Bounds().Dy()))
	return Result{Status: StatusOK, Destination: dst}
}

func (s *Session) fail(logger *zap.Logger, stage string, err error) Result {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Info("commit canceled", zap.String("stage", stage))
		return Result{Status: StatusCanceled, Err: err}
	}
	logger.Error("commit failed", zap.String("stage", stage), zap.Error(err))
	return Result{Status: StatusError, Kind: types.KindOf(err), Err: err}
}

// Result returns the channel the latest commit outcome is published on
func (s *Session) Result() <-chan Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// Wait blocks for the latest commit outcome or ctx
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-s.Result():
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close tears the session down. A running worker finishes, but its result
// is discarded.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	s.preview = nil
	s.mu.Unlock()
	s.logger.Debug("session closed")
	return nil
}

// Drain waits for a running worker to exit. Meant for tests and shutdown.
func (s *Session) Drain() {
	s.done.Wait()
}
