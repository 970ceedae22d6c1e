package focus

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/photocrop/pkg/cropper"
	"github.com/menta2k/photocrop/pkg/detection"
)

type mockLocator struct {
	mock.Mock
}

func (m *mockLocator) Locate(ctx context.Context, img image.Image, size image.Point) (image.Point, error) {
	args := m.Called(ctx, img, size)
	return args.Get(0).(image.Point), args.Error(1)
}

type mockVision struct {
	mock.Mock
}

func (m *mockVision) Query(ctx context.Context, model, prompt string, img []byte) (string, error) {
	args := m.Called(ctx, model, prompt, img)
	return args.String(0), args.Error(1)
}

// subjectImage is a dark frame with a bright checkerboard block at r
func subjectImage(w, h int, r image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{20, 20, 20, 255}
			if image.Pt(x, y).In(r) && (x/2+y/2)%2 == 0 {
				c = color.NRGBA{250, 250, 250, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestNewBackends(t *testing.T) {
	loc, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, loc)

	loc, err = New(Config{Backend: "Saliency"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Saliency{}, loc)

	loc, err = New(Config{Backend: BackendSmartCrop}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SmartCrop{}, loc)

	loc, err = New(Config{Backend: BackendModel, Model: "llava", URL: "http://localhost:11434"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Model{}, loc)

	loc, err = New(Config{Backend: BackendModel, Provider: "llamacpp", Model: "qwen2-vl"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Model{}, loc)
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown backend", Config{Backend: "magic"}},
		{"faces without cascade", Config{Backend: BackendFaces}},
		{"faces missing cascade", Config{Backend: BackendFaces, CascadePath: "/nonexistent/facefinder"}},
		{"model without name", Config{Backend: BackendModel}},
		{"unknown provider", Config{Backend: BackendModel, Model: "m", Provider: "carrier-pigeon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestSaliencyLocate(t *testing.T) {
	img := subjectImage(200, 100, image.Rect(150, 30, 190, 70))

	pt, err := NewSaliency().Locate(context.Background(), img, image.Pt(50, 50))
	require.NoError(t, err)
	assert.InDelta(t, 170, pt.X, 12)
	assert.InDelta(t, 50, pt.Y, 12)
}

func TestSmartCropLocateStaysInside(t *testing.T) {
	img := subjectImage(120, 80, image.Rect(80, 20, 110, 60))

	pt, err := NewSmartCrop().Locate(context.Background(), img, image.Pt(40, 40))
	require.NoError(t, err)
	assert.True(t, pt.In(img.Bounds()), "point %v outside image", pt)
}

func TestSmartCropInvalidSize(t *testing.T) {
	_, err := NewSmartCrop().Locate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), image.Point{})
	assert.Error(t, err)
}

func TestLocateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSaliency().Locate(ctx, image.NewNRGBA(image.Rect(0, 0, 10, 10)), image.Pt(5, 5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModelLocate(t *testing.T) {
	vc := new(mockVision)
	vc.On("Query", mock.Anything, "llava", mock.Anything, mock.Anything).
		Return(`{"primary":{"label":"dog","confidence":0.9,"box":{"x":0.5,"y":0.5,"w":0.5,"h":0.5},"cx":0.75,"cy":0.25}}`, nil)

	loc := NewModel(detection.NewDetector(vc, detection.DefaultConfig("llava")))
	pt, err := loc.Locate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 200, 100)), image.Pt(10, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(150, 25), pt)
	vc.AssertExpectations(t)
}

func TestFallback(t *testing.T) {
	primary := new(mockLocator)
	secondary := new(mockLocator)
	primary.On("Locate", mock.Anything, mock.Anything, mock.Anything).Return(image.Point{}, ErrNotFound)
	secondary.On("Locate", mock.Anything, mock.Anything, mock.Anything).Return(image.Pt(7, 9), nil)

	pt, err := WithFallback(primary, secondary, nil).Locate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), image.Pt(4, 4))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(7, 9), pt)
	primary.AssertExpectations(t)
	secondary.AssertExpectations(t)
}

func TestFallbackSkippedOnSuccess(t *testing.T) {
	primary := new(mockLocator)
	secondary := new(mockLocator)
	primary.On("Locate", mock.Anything, mock.Anything, mock.Anything).Return(image.Pt(1, 2), nil)

	pt, err := WithFallback(primary, secondary, nil).Locate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 10, 10)), image.Pt(4, 4))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1, 2), pt)
	secondary.AssertNotCalled(t, "Locate", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyTranslatesOnly(t *testing.T) {
	m := cropper.NewModel(cropper.Constraints{AspectX: 1, AspectY: 1})
	placed, err := m.Place(200, 100)
	require.NoError(t, err)

	loc := new(mockLocator)
	loc.On("Locate", mock.Anything, mock.Anything, placed.Size()).Return(image.Pt(190, 50), nil)

	r, err := Apply(context.Background(), loc, m, image.NewNRGBA(image.Rect(0, 0, 200, 100)))
	require.NoError(t, err)
	assert.Equal(t, placed.Size(), r.Size())
	assert.Equal(t, 200, r.Max.X, "rectangle clamped to the right edge")
	assert.True(t, r.In(m.Bounds()))
}

func TestApplyKeepsRectOnError(t *testing.T) {
	m := cropper.NewModel(cropper.Constraints{})
	placed, err := m.Place(100, 100)
	require.NoError(t, err)

	loc := new(mockLocator)
	loc.On("Locate", mock.Anything, mock.Anything, mock.Anything).Return(image.Point{}, errors.New("boom"))

	r, err := Apply(context.Background(), loc, m, image.NewNRGBA(image.Rect(0, 0, 100, 100)))
	assert.Error(t, err)
	assert.Equal(t, placed, r)
}

func TestApplyNilLocator(t *testing.T) {
	m := cropper.NewModel(cropper.Constraints{})
	placed, err := m.Place(50, 40)
	require.NoError(t, err)

	r, err := Apply(context.Background(), nil, m, nil)
	require.NoError(t, err)
	assert.Equal(t, placed, r)
}
