package cropper

import "image"

// Gesture is a user interaction applied to the rectangle
type Gesture interface {
	gesture()
}

// Move translates the rectangle
type Move struct {
	DX, DY int
}

// CenterOn translates the rectangle so its center lands on (X, Y)
type CenterOn struct {
	X, Y int
}

// Edge selects the sides a Resize drags. Corners combine two edges.
type Edge uint8

const (
	EdgeLeft Edge = 1 << iota
	EdgeTop
	EdgeRight
	EdgeBottom
)

// Resize drags the selected edges by (DX, DY)
type Resize struct {
	Edge   Edge
	DX, DY int
}

func (Move) gesture()     {}
func (CenterOn) gesture() {}
func (Resize) gesture()   {}

// Reduce returns the rectangle produced by applying g to r within bounds.
// The result always satisfies Valid when r does. Locked constraints turn
// resizes into no-ops.
func Reduce(r, bounds image.Rectangle, c Constraints, g Gesture) image.Rectangle {
	switch g := g.(type) {
	case Move:
		return translateInto(r.Add(image.Pt(g.DX, g.DY)), bounds)
	case CenterOn:
		cx := (r.Min.X + r.Max.X) / 2
		cy := (r.Min.Y + r.Max.Y) / 2
		return translateInto(r.Add(image.Pt(g.X-cx, g.Y-cy)), bounds)
	case Resize:
		if c.Locked() {
			return r
		}
		return resizeFree(r, bounds, c.MinSize, g)
	default:
		return r
	}
}

// translateInto shifts r back inside bounds without changing its size
func translateInto(r, bounds image.Rectangle) image.Rectangle {
	var d image.Point
	if r.Min.X < bounds.Min.X {
		d.X = bounds.Min.X - r.Min.X
	} else if r.Max.X > bounds.Max.X {
		d.X = bounds.Max.X - r.Max.X
	}
	if r.Min.Y < bounds.Min.Y {
		d.Y = bounds.Min.Y - r.Min.Y
	} else if r.Max.Y > bounds.Max.Y {
		d.Y = bounds.Max.Y - r.Max.Y
	}
	return r.Add(d)
}

// resizeFree drags edges without letting a side shrink below minSize, or
// below its current length when it is already smaller.
func resizeFree(r, bounds image.Rectangle, minSize int, g Resize) image.Rectangle {
	minW := minInt(maxInt(minSize, 1), r.Dx())
	minH := minInt(maxInt(minSize, 1), r.Dy())

	out := r
	if g.Edge&EdgeLeft != 0 {
		out.Min.X = clampInt(r.Min.X+g.DX, bounds.Min.X, r.Max.X-minW)
	}
	if g.Edge&EdgeRight != 0 {
		out.Max.X = clampInt(r.Max.X+g.DX, r.Min.X+minW, bounds.Max.X)
	}
	if g.Edge&EdgeTop != 0 {
		out.Min.Y = clampInt(r.Min.Y+g.DY, bounds.Min.Y, r.Max.Y-minH)
	}
	if g.Edge&EdgeBottom != 0 {
		out.Max.Y = clampInt(r.Max.Y+g.DY, r.Min.Y+minH, bounds.Max.Y)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
