// Package cropper holds the interactive crop rectangle and the rules that
// keep it valid while the user moves and resizes it.
package cropper

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrNotPlaced is returned for gestures before the default rectangle exists
	ErrNotPlaced = errors.New("crop rectangle not placed")
	// ErrFinalized is returned for any mutation after a successful commit
	ErrFinalized = errors.New("crop already finalized")
	// ErrCommitInFlight is returned when a commit is already running
	ErrCommitInFlight = errors.New("commit already in flight")
)

// AspectRatio represents common aspect ratios
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios
var (
	Free       = AspectRatio{0, 0, "free"}
	Square     = AspectRatio{1, 1, "square"}
	Portrait   = AspectRatio{3, 4, "portrait"}
	Landscape  = AspectRatio{4, 3, "landscape"}
	Widescreen = AspectRatio{16, 9, "widescreen"}
	Instagram  = AspectRatio{4, 5, "instagram"}
	Story      = AspectRatio{9, 16, "story"}
)

// CommonAspectRatios returns a list of commonly used aspect ratios
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Square, Portrait, Landscape, Widescreen, Instagram, Story}
}

// ParseAspect accepts a catalogue name or a "W:H" pair
func ParseAspect(s string) (AspectRatio, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == Free.Name {
		return Free, nil
	}
	for _, r := range CommonAspectRatios() {
		if r.Name == s {
			return r, nil
		}
	}
	w, h, ok := strings.Cut(s, ":")
	if !ok {
		return AspectRatio{}, fmt.Errorf("invalid aspect ratio %q", s)
	}
	aw, err1 := strconv.Atoi(w)
	ah, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || aw <= 0 || ah <= 0 {
		return AspectRatio{}, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return AspectRatio{aw, ah, s}, nil
}

// Constraints restrict the shape of the rectangle
type Constraints struct {
	AspectX  int
	AspectY  int
	Circular bool
	// MinSize is the smallest side a free resize may produce
	MinSize int
}

// DefaultMinSize is used when Constraints.MinSize is zero
const DefaultMinSize = 16

// Locked reports whether only translation is allowed
func (c Constraints) Locked() bool {
	return c.Circular || (c.AspectX > 0 && c.AspectY > 0)
}

// aspect returns the effective ratio terms; a circle is always 1:1
func (c Constraints) aspect() (int, int, bool) {
	if c.Circular {
		return 1, 1, true
	}
	if c.AspectX > 0 && c.AspectY > 0 {
		return c.AspectX, c.AspectY, true
	}
	return 0, 0, false
}

// DefaultRect centers a rectangle of 4/5 of the shorter preview side in
// bounds, shrinking the longer side to match a fixed aspect.
func DefaultRect(bounds image.Rectangle, c Constraints) image.Rectangle {
	side := minInt(bounds.Dx(), bounds.Dy()) * 4 / 5
	w, h := side, side
	if ax, ay, ok := c.aspect(); ok {
		if ax > ay {
			h = roundDiv(w*ay, ax)
		} else {
			w = roundDiv(h*ax, ay)
		}
	}
	w, h = maxInt(w, 1), maxInt(h, 1)
	x := bounds.Min.X + (bounds.Dx()-w)/2
	y := bounds.Min.Y + (bounds.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// Valid reports whether r satisfies the containment, aspect and circle
// invariants. Aspect is checked within one pixel.
func Valid(r, bounds image.Rectangle, c Constraints) bool {
	if r.Empty() || !r.In(bounds) {
		return false
	}
	if c.Circular && r.Dx() != r.Dy() {
		return false
	}
	if ax, ay, ok := c.aspect(); ok {
		w, h := r.Dx(), r.Dy()
		return absInt(h*ax-w*ay) <= maxInt(ax, ay)
	}
	return true
}

// State is the lifecycle position of a Model
type State int

const (
	Uninitialized State = iota
	DefaultPlaced
	UserAdjusting
	Finalized
)

func (s State) String() string {
	switch s {
	case DefaultPlaced:
		return "default_placed"
	case UserAdjusting:
		return "user_adjusting"
	case Finalized:
		return "finalized"
	default:
		return "uninitialized"
	}
}

// Model is the crop rectangle state machine for one session. It is safe for
// use by the foreground editor and the commit worker at the same time.
type Model struct {
	mu          sync.Mutex
	state       State
	inFlight    bool
	constraints Constraints
	bounds      image.Rectangle
	rect        image.Rectangle
}

// NewModel creates an unplaced model
func NewModel(c Constraints) *Model {
	if c.MinSize <= 0 {
		c.MinSize = DefaultMinSize
	}
	return &Model{constraints: c}
}

// Place computes the default rectangle for a previewW x previewH preview.
// Placing again before any gesture follows a layout change.
func (m *Model) Place(previewW, previewH int) (image.Rectangle, error) {
	if previewW <= 0 || previewH <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid preview size %dx%d", previewW, previewH)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Finalized {
		return m.rect, ErrFinalized
	}
	m.bounds = image.Rect(0, 0, previewW, previewH)
	m.rect = DefaultRect(m.bounds, m.constraints)
	m.state = DefaultPlaced
	return m.rect, nil
}

// Apply runs a gesture through Reduce and stores the result
func (m *Model) Apply(g Gesture) (image.Rectangle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Uninitialized:
		return image.Rectangle{}, ErrNotPlaced
	case Finalized:
		return m.rect, ErrFinalized
	}
	m.rect = Reduce(m.rect, m.bounds, m.constraints, g)
	m.state = UserAdjusting
	return m.rect, nil
}

// Commit finalizes the model and returns a snapshot of the rectangle. A
// second call while the first is unresolved returns ErrCommitInFlight.
func (m *Model) Commit() (image.Rectangle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == Uninitialized:
		return image.Rectangle{}, ErrNotPlaced
	case m.inFlight:
		return m.rect, ErrCommitInFlight
	case m.state == Finalized:
		return m.rect, ErrFinalized
	}
	m.state = Finalized
	m.inFlight = true
	return m.rect, nil
}

// Release reopens the model after a failed commit so it can be retried
func (m *Model) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Finalized && m.inFlight {
		m.state = UserAdjusting
		m.inFlight = false
	}
}

// Complete marks an in-flight commit as succeeded. The model stays final.
func (m *Model) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
}

// Rect returns the current rectangle in preview coordinates
func (m *Model) Rect() image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rect
}

// Bounds returns the preview bounds the rectangle lives in
func (m *Model) Bounds() image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bounds
}

// State returns the lifecycle state
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Constraints returns the shape constraints
func (m *Model) Constraints() Constraints {
	return m.constraints
}

// Helper functions
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

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

func roundDiv(a, b int) int {
	return (a + b/2) / b
}
