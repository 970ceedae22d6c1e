// Package geometry maps crop rectangles between the rotated, downsampled
// preview the user sees and the native pixel grid stored in the source.
//
// Everything here is pure: no I/O and no allocation beyond return values.
// Matrices use the x/image affine layout, where an Aff3 m maps (x, y) to
// (m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]).
package geometry

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

// Identity is the identity transform
var Identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// NormalizeRotation folds any multiple of 90 into [0, 360). Values that are
// not a multiple of 90 yield 0.
func NormalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	if deg%90 != 0 {
		return 0
	}
	return deg
}

// DisplaySize returns the size of a width x height native grid once rotated
// for display.
func DisplaySize(width, height, rotation int) (int, int) {
	switch NormalizeRotation(rotation) {
	case 90, 270:
		return height, width
	default:
		return width, height
	}
}

// Scale returns a uniform scaling transform
func Scale(s float64) f64.Aff3 {
	return f64.Aff3{s, 0, 0, 0, s, 0}
}

// Mul returns the transform that applies b and then a
func Mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// Invert returns the inverse of m. A singular matrix yields Identity.
func Invert(m f64.Aff3) f64.Aff3 {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 {
		return Identity
	}
	return f64.Aff3{
		m[4] / det,
		-m[1] / det,
		(m[1]*m[5] - m[2]*m[4]) / det,
		-m[3] / det,
		m[0] / det,
		(m[2]*m[3] - m[0]*m[5]) / det,
	}
}

// DisplayToNative builds the matrix taking a point in the rotated preview
// (downsampled by sampleSize) to the native grid of a width x height source.
func DisplayToNative(sampleSize, rotation, width, height int) f64.Aff3 {
	if sampleSize < 1 {
		sampleSize = 1
	}
	w, h := float64(width), float64(height)
	var unrotate f64.Aff3
	switch NormalizeRotation(rotation) {
	case 90:
		unrotate = f64.Aff3{0, 1, 0, -1, 0, h}
	case 180:
		unrotate = f64.Aff3{-1, 0, w, 0, -1, h}
	case 270:
		unrotate = f64.Aff3{0, -1, w, 1, 0, 0}
	default:
		unrotate = Identity
	}
	return Mul(unrotate, Scale(float64(sampleSize)))
}

// ToNativeRect maps display through m and clamps the bounding box of the
// result to bounds. Fractional edges are rounded outward.
func ToNativeRect(display image.Rectangle, m f64.Aff3, bounds image.Rectangle) image.Rectangle {
	corners := [4][2]float64{
		{float64(display.Min.X), float64(display.Min.Y)},
		{float64(display.Max.X), float64(display.Min.Y)},
		{float64(display.Min.X), float64(display.Max.Y)},
		{float64(display.Max.X), float64(display.Max.Y)},
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x := m[0]*c[0] + m[1]*c[1] + m[2]
		y := m[3]*c[0] + m[4]*c[1] + m[5]
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	r := image.Rect(
		int(math.Floor(minX+1e-9)),
		int(math.Floor(minY+1e-9)),
		int(math.Ceil(maxX-1e-9)),
		int(math.Ceil(maxY-1e-9)),
	)
	return r.Intersect(bounds)
}

// RotateRectForExif maps a rectangle selected in displayed (already rotated)
// space back to the native grid of a width x height source.
//
// The rectangle is rotated by -rotation about the origin, then re-anchored:
// a negative left edge is shifted by width and a negative top edge by height.
// The order matters, since the rotation alone leaves the first quadrant.
func RotateRectForExif(r image.Rectangle, rotation, width, height int) image.Rectangle {
	var a, b image.Point
	switch NormalizeRotation(rotation) {
	case 90:
		a = image.Pt(r.Min.Y, -r.Min.X)
		b = image.Pt(r.Max.Y, -r.Max.X)
	case 180:
		a = image.Pt(-r.Min.X, -r.Min.Y)
		b = image.Pt(-r.Max.X, -r.Max.Y)
	case 270:
		a = image.Pt(-r.Min.Y, r.Min.X)
		b = image.Pt(-r.Max.Y, r.Max.X)
	default:
		return r
	}

	out := image.Rectangle{Min: a, Max: b}.Canon()
	var off image.Point
	if out.Min.X < 0 {
		off.X = width
	}
	if out.Min.Y < 0 {
		off.Y = height
	}
	return out.Add(off)
}

// NativeToDisplay is the forward counterpart of RotateRectForExif
func NativeToDisplay(r image.Rectangle, rotation, width, height int) image.Rectangle {
	var a, b image.Point
	switch NormalizeRotation(rotation) {
	case 90:
		a = image.Pt(height-r.Min.Y, r.Min.X)
		b = image.Pt(height-r.Max.Y, r.Max.X)
	case 180:
		a = image.Pt(width-r.Min.X, height-r.Min.Y)
		b = image.Pt(width-r.Max.X, height-r.Max.Y)
	case 270:
		a = image.Pt(r.Min.Y, width-r.Min.X)
		b = image.Pt(r.Max.Y, width-r.Max.X)
	default:
		return r
	}
	return image.Rectangle{Min: a, Max: b}.Canon()
}
