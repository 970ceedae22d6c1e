// Package metadata reads and writes the EXIF orientation tag.
package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rwcarlsen/goexif/exif"
)

// Orientation tag values as stored in EXIF
const (
	OrientNormal    = 1
	OrientRotate180 = 3
	OrientRotate90  = 6
	OrientRotate270 = 8
)

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// ErrUnsupportedContainer is returned when a format cannot carry orientation
var ErrUnsupportedContainer = errors.New("container does not support EXIF orientation")

// Rotation converts an orientation tag to clockwise display degrees. Mirrored
// orientations are not represented and map to 0.
func Rotation(orientation int) int {
	switch orientation {
	case OrientRotate90:
		return 90
	case OrientRotate180:
		return 180
	case OrientRotate270:
		return 270
	default:
		return 0
	}
}

// ReadOrientation returns the orientation tag of a JPEG, TIFF or PNG stream.
// A stream without EXIF reports OrientNormal. A PNG whose chunk table is
// malformed before the image data fails with a DecodeError.
func ReadOrientation(r io.ReadSeeker) (int, error) {
	var sig [8]byte
	n, err := io.ReadFull(r, sig[:])
	if err != nil && err != io.ErrUnexpectedEOF {
		return OrientNormal, fmt.Errorf("reading signature: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return OrientNormal, err
	}

	var src io.Reader = r
	if n == len(sig) && bytes.Equal(sig[:], pngSignature) {
		raw, err := findPNGChunk(r, "eXIf")
		if err != nil {
			return OrientNormal, err
		}
		if raw == nil {
			return OrientNormal, nil
		}
		src = bytes.NewReader(raw)
	}

	x, err := exif.Decode(src)
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return OrientNormal, nil
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientNormal, nil
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return OrientNormal, nil
	}
	return v, nil
}

// buildOrientationTIFF encodes a little-endian TIFF block holding a single
// IFD0 entry for the orientation tag.
func buildOrientationTIFF(orientation int) []byte {
	var buf bytes.Buffer
	le16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	le32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("II")
	le16(42)
	le32(8) // IFD0 offset

	le16(1)      // entry count
	le16(0x0112) // Orientation
	le16(3)      // SHORT
	le32(1)
	le16(uint16(orientation))
	le16(0)
	le32(0) // no next IFD
	return buf.Bytes()
}
