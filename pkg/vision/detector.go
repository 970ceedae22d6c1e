// Package vision finds visually important regions with a pure-Go saliency
// map built from local contrast and brightness.
package vision

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// SubjectDetector scores regions of an image by saliency
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64
	// AnalysisSize bounds the longer side of the image the map is built on
	AnalysisSize int
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return &SubjectDetector{
		config: DetectionConfig{
			EdgeThreshold:   0.01,
			ContrastWeight:  0.7,
			ColorWeight:     0.3,
			MinSubjectRatio: 0.05,
			AnalysisSize:    256,
		},
	}
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	return &SubjectDetector{config: config}
}

// Region represents a rectangular region of interest
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Rect converts the region to an image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// SaliencyMap holds per-pixel saliency with a summed-area table for O(1)
// window sums. Coordinates are in the analysed (possibly shrunk) image.
type SaliencyMap struct {
	Width, Height int
	// Scale converts analysed coordinates back to source pixels
	Scale float64
	sat   []float64
}

// Sum returns the total saliency inside [x0,x1) x [y0,y1)
func (m *SaliencyMap) Sum(x0, y0, x1, y1 int) float64 {
	w := m.Width + 1
	return m.sat[y1*w+x1] - m.sat[y0*w+x1] - m.sat[y1*w+x0] + m.sat[y0*w+x0]
}

// Mean returns the average saliency inside the window
func (m *SaliencyMap) Mean(x0, y0, x1, y1 int) float64 {
	area := (x1 - x0) * (y1 - y0)
	if area <= 0 {
		return 0
	}
	return m.Sum(x0, y0, x1, y1) / float64(area)
}

// Analyze builds the saliency map of img
func (d *SubjectDetector) Analyze(img image.Image) *SaliencyMap {
	b := img.Bounds()
	scale := 1.0
	var src *image.NRGBA
	switch n := d.config.AnalysisSize; {
	case n > 0 && b.Dx() >= b.Dy() && b.Dx() > n:
		src = imaging.Resize(img, n, 0, imaging.Box)
	case n > 0 && b.Dy() > b.Dx() && b.Dy() > n:
		src = imaging.Resize(img, 0, n, imaging.Box)
	default:
		src = imaging.Clone(img)
	}
	if src.Bounds().Dx() != b.Dx() {
		scale = float64(b.Dx()) / float64(src.Bounds().Dx())
	}

	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(x, y)
			p := src.Pix[i : i+3 : i+3]
			lum[y*w+x] = (0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])) / 255
		}
	}

	m := &SaliencyMap{Width: w, Height: h, Scale: scale, sat: make([]float64, (w+1)*(h+1))}
	stride := w + 1
	for y := 0; y < h; y++ {
		row := 0.0
		for x := 0; x < w; x++ {
			row += d.pixelSaliency(lum, w, h, x, y)
			m.sat[(y+1)*stride+x+1] = m.sat[y*stride+x+1] + row
		}
	}
	return m
}

// pixelSaliency mixes the mean absolute difference to the 8 neighbours with
// brightness. Border pixels only contribute brightness.
func (d *SubjectDetector) pixelSaliency(lum []float64, w, h, x, y int) float64 {
	c := lum[y*w+x]
	if x == 0 || y == 0 || x == w-1 || y == h-1 {
		return d.config.ColorWeight * c
	}
	var edge float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx != 0 || dy != 0 {
				edge += math.Abs(c - lum[(y+dy)*w+x+dx])
			}
		}
	}
	return d.config.ContrastWeight*edge/8 + d.config.ColorWeight*c
}

// DetectSubjects returns the highest scoring square windows, in source
// pixel coordinates, best first.
func (d *SubjectDetector) DetectSubjects(img image.Image) []Region {
	m := d.Analyze(img)
	minArea := float64(m.Width*m.Height) * d.config.MinSubjectRatio

	var regions []Region
	for _, div := range []int{8, 6, 4, 3} {
		size := minInt(m.Width, m.Height) * 4 / (div + 2)
		if size < 4 || float64(size*size) < minArea {
			continue
		}
		step := maxInt(1, size/4)
		for y := 0; y+size <= m.Height; y += step {
			for x := 0; x+size <= m.Width; x += step {
				score := m.Mean(x, y, x+size, y+size)
				if score > d.config.EdgeThreshold {
					regions = append(regions, toSource(Region{X: x, Y: y, Width: size, Height: size, Score: score}, m.Scale))
				}
			}
		}
	}

	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Score > regions[j].Score })
	if len(regions) > 10 {
		regions = regions[:10]
	}
	return regions
}

// FindBestWindow slides a window of the given source-pixel size over img and
// returns the placement holding the most saliency. Ties keep the window
// closest to the image center.
func (d *SubjectDetector) FindBestWindow(img image.Image, size image.Point) Region {
	b := img.Bounds()
	size.X = minInt(maxInt(size.X, 1), b.Dx())
	size.Y = minInt(maxInt(size.Y, 1), b.Dy())

	m := d.Analyze(img)
	ww := minInt(maxInt(int(float64(size.X)/m.Scale+0.5), 1), m.Width)
	wh := minInt(maxInt(int(float64(size.Y)/m.Scale+0.5), 1), m.Height)

	cx, cy := float64(m.Width-ww)/2, float64(m.Height-wh)/2
	best := Region{X: int(cx), Y: int(cy), Width: ww, Height: wh, Score: -1}
	bestDist := math.Inf(1)
	for y := 0; y+wh <= m.Height; y++ {
		for x := 0; x+ww <= m.Width; x++ {
			score := m.Sum(x, y, x+ww, y+wh)
			dist := math.Hypot(float64(x)-cx, float64(y)-cy)
			if score > best.Score+1e-9 || (math.Abs(score-best.Score) <= 1e-9 && dist < bestDist) {
				best = Region{X: x, Y: y, Width: ww, Height: wh, Score: score}
				bestDist = dist
			}
		}
	}

	out := toSource(best, m.Scale)
	out.Width, out.Height = size.X, size.Y
	out.X = minInt(maxInt(out.X, 0), b.Dx()-size.X) + b.Min.X
	out.Y = minInt(maxInt(out.Y, 0), b.Dy()-size.Y) + b.Min.Y
	return out
}

func toSource(r Region, scale float64) Region {
	if scale == 1 {
		return r
	}
	return Region{
		X:      int(float64(r.X) * scale),
		Y:      int(float64(r.Y) * scale),
		Width:  int(float64(r.Width)*scale + 0.5),
		Height: int(float64(r.Height)*scale + 0.5),
		Score:  r.Score,
	}
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
