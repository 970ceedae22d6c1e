// Package detection asks a vision model for the primary subject of an image
// and turns its answer into a normalized focus point.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/photocrop/pkg/client"
	"github.com/menta2k/photocrop/pkg/types"
)

// DefaultPrompt is the default prompt for subject detection
const DefaultPrompt = `You are an image subject locator.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (at most 20 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels), origin at the top-left.
- The box should tightly include the visually dominant subject (prefer people, animals and vehicles; else the most salient object).
- cx, cy is the point a square crop should be centered on to keep the subject, usually the face or the center of the box.
- Do not guess real identities.
- If no subject is found, return {"primary":{"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.5,"h":0.5},"cx":0.5,"cy":0.5},"description":"","tags":[]}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ErrNoSubject is returned when the model finds nothing worth focusing on
var ErrNoSubject = errors.New("no subject detected")

// Config holds detector settings
type Config struct {
	Model         string
	Prompt        string
	MaxDim        int
	Quality       int
	MinConfidence float64
}

// DefaultConfig returns the stock detector settings
func DefaultConfig(model string) Config {
	return Config{
		Model:         model,
		Prompt:        DefaultPrompt,
		MaxDim:        768,
		Quality:       85,
		MinConfidence: 0.2,
	}
}

// Detector handles image subject detection using vision models
type Detector struct {
	client client.VisionClient
	config Config
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, config Config) *Detector {
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	return &Detector{client: c, config: config}
}

// DetectSubject sends img to the model and returns its validated answer
func (d *Detector) DetectSubject(ctx context.Context, img image.Image) (*types.AnalysisResult, error) {
	payload, err := PrepareImage(img, d.config.MaxDim, d.config.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for model: %w", err)
	}

	raw, err := d.client.Query(ctx, d.config.Model, d.config.Prompt, payload)
	if err != nil {
		return nil, err
	}

	result, err := ParseAnalysis(raw)
	if err != nil {
		return nil, err
	}
	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Primary.Cx = clamp(result.Primary.Cx, 0, 1)
	result.Primary.Cy = clamp(result.Primary.Cy, 0, 1)
	result.Tags = normalizeTags(result.Tags)

	if strings.EqualFold(result.Primary.Label, "none") || result.Primary.Confidence < d.config.MinConfidence {
		return result, ErrNoSubject
	}
	return result, nil
}

// PrepareImage shrinks img so its longer side is at most maxDim and encodes
// it as JPEG.
func PrepareImage(img image.Image, maxDim, quality int) ([]byte, error) {
	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			if b.Dx() >= b.Dy() {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}
	if quality <= 0 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseAnalysis decodes a model answer, tolerating code fences, comments and
// trailing commas.
func ParseAnalysis(raw string) (*types.AnalysisResult, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("model returned non-JSON response: %.80q", raw)
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if result.Primary.Cx == 0 && result.Primary.Cy == 0 && result.Primary.Box.W > 0 {
		result.Primary.Cx, result.Primary.Cy = result.Primary.Box.Center()
	}
	return &result, nil
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)//.*$`)
	reTrailComma   = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b types.Box) types.Box {
	b.X = clamp(b.X, 0, 1)
	b.Y = clamp(b.Y, 0, 1)
	b.W = clamp(b.W, 0, 1-b.X)
	b.H = clamp(b.H, 0, 1-b.Y)
	return b
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
