package focus

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"github.com/muesli/smartcrop"

	"github.com/menta2k/photocrop/pkg/detection"
	"github.com/menta2k/photocrop/pkg/vision"
)

// Saliency centers on the window with the most local contrast
type Saliency struct {
	detector *vision.SubjectDetector
}

// NewSaliency creates the pure-Go saliency backend
func NewSaliency() *Saliency {
	return &Saliency{detector: vision.New()}
}

func (s *Saliency) Locate(ctx context.Context, img image.Image, size image.Point) (image.Point, error) {
	if err := checkContext(ctx); err != nil {
		return image.Point{}, err
	}
	x, y := s.detector.FindBestWindow(img, size).Center()
	return image.Pt(x, y), nil
}

// resizer implements the smartcrop.Resizer interface
type resizer struct {
	resampler imaging.ResampleFilter
}

func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}

// SmartCrop centers on the crop muesli/smartcrop scores best
type SmartCrop struct {
	analyzer smartcrop.Analyzer
}

// NewSmartCrop creates the smartcrop backend
func NewSmartCrop() *SmartCrop {
	return &SmartCrop{analyzer: smartcrop.NewAnalyzer(&resizer{resampler: imaging.Lanczos})}
}

func (s *SmartCrop) Locate(ctx context.Context, img image.Image, size image.Point) (image.Point, error) {
	if size.X <= 0 || size.Y <= 0 {
		return image.Point{}, fmt.Errorf("invalid crop size %v", size)
	}

	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)
	go func() {
		crop, err := s.analyzer.FindBestCrop(img, size.X, size.Y)
		resultChan <- cropResult{crop: crop, err: err}
	}()

	select {
	case <-ctx.Done():
		return image.Point{}, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return image.Point{}, fmt.Errorf("finding best crop: %w", result.err)
		}
		c := result.crop
		return image.Pt((c.Min.X+c.Max.X)/2, (c.Min.Y+c.Max.Y)/2), nil
	}
}

// FaceParams tunes the pigo cascade run
type FaceParams struct {
	IoUThreshold  float64
	ScaleFactor   float64
	ShiftFactor   float64
	MinConfidence float32
	// MinSizePct is the smallest face as a percentage of the shorter side
	MinSizePct int
}

// DefaultFaceParams returns the standard pigo tuning
func DefaultFaceParams() FaceParams {
	return FaceParams{
		IoUThreshold:  0.2,
		ScaleFactor:   1.1,
		ShiftFactor:   0.1,
		MinConfidence: 10,
		MinSizePct:    1,
	}
}

// Faces centers on the most confident face found by pigo
type Faces struct {
	classifier *pigo.Pigo
	params     FaceParams
}

// NewFaces unpacks a pigo facefinder cascade
func NewFaces(cascade []byte) (*Faces, error) {
	p := pigo.NewPigo()
	classifier, err := p.Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack face detection model: %w", err)
	}
	return &Faces{classifier: classifier, params: DefaultFaceParams()}, nil
}

func (f *Faces) Locate(ctx context.Context, img image.Image, _ image.Point) (image.Point, error) {
	if err := checkContext(ctx); err != nil {
		return image.Point{}, err
	}
	src := imaging.Clone(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()
	minDim := int(math.Min(float64(cols), float64(rows)))

	cParams := pigo.CascadeParams{
		MinSize:     maxInt(20, minDim*f.params.MinSizePct/100),
		MaxSize:     minDim,
		ShiftFactor: f.params.ShiftFactor,
		ScaleFactor: f.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := f.classifier.RunCascade(cParams, 0.0)
	dets = f.classifier.ClusterDetections(dets, f.params.IoUThreshold)

	best := -1
	for i, d := range dets {
		if d.Q < f.params.MinConfidence {
			continue
		}
		if best < 0 || d.Q > dets[best].Q {
			best = i
		}
	}
	if best < 0 {
		return image.Point{}, ErrNotFound
	}
	return image.Pt(dets[best].Col, dets[best].Row).Add(img.Bounds().Min), nil
}

// Model centers on the subject reported by a vision model
type Model struct {
	detector *detection.Detector
}

// NewModel wraps a detection.Detector
func NewModel(d *detection.Detector) *Model {
	return &Model{detector: d}
}

func (m *Model) Locate(ctx context.Context, img image.Image, _ image.Point) (image.Point, error) {
	result, err := m.detector.DetectSubject(ctx, img)
	if err != nil {
		return image.Point{}, err
	}
	b := img.Bounds()
	x := b.Min.X + int(result.Primary.Cx*float64(b.Dx())+0.5)
	y := b.Min.Y + int(result.Primary.Cy*float64(b.Dy())+0.5)
	return image.Pt(x, y), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
