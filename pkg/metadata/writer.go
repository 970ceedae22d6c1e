package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/menta2k/photocrop/pkg/resource"
	"github.com/menta2k/photocrop/pkg/types"
)

var exifHeader = []byte("Exif\x00\x00")

// Copier copies the orientation tag from a source locator to a written file
type Copier struct {
	opener *resource.Opener
}

// NewCopier creates a Copier reading sources through opener
func NewCopier(opener *resource.Opener) *Copier {
	return &Copier{opener: opener}
}

// CopyOrientation reads the orientation of src and stamps it onto dst.
// Sources without a rotation hint leave dst untouched.
func (c *Copier) CopyOrientation(ctx context.Context, src types.SourceImage, dst string) error {
	f, err := c.opener.Open(ctx, src.Locator)
	if err != nil {
		return err
	}
	orientation, err := ReadOrientation(f)
	f.Close()
	if err != nil {
		return err
	}
	if orientation == OrientNormal {
		return nil
	}

	path, err := resource.LocalPath(dst)
	if err != nil {
		return err
	}
	return WriteOrientation(path, orientation)
}

// WriteOrientation rewrites the file at path with the given orientation tag.
// JPEG and PNG are supported.
func WriteOrientation(path string, orientation int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var out []byte
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		out, err = setJPEGOrientation(data, orientation)
	case bytes.HasPrefix(data, pngSignature):
		out, err = setPNGOrientation(data, orientation)
	default:
		return ErrUnsupportedContainer
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// setJPEGOrientation drops any existing EXIF APP1 segment and inserts a fresh
// one after SOI and a leading JFIF APP0.
func setJPEGOrientation(data []byte, orientation int) ([]byte, error) {
	var head, tail bytes.Buffer
	head.Write(data[:2])

	i := 2
	inserted := false
	insert := func() {
		seg := append(append([]byte{}, exifHeader...), buildOrientationTIFF(orientation)...)
		tail.Write([]byte{0xFF, 0xE1, byte((len(seg) + 2) >> 8), byte(len(seg) + 2)})
		tail.Write(seg)
		inserted = true
	}

	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil, fmt.Errorf("malformed JPEG at offset %d", i)
		}
		marker := data[i+1]
		if marker == 0xDA || marker == 0xD9 {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		end := i + 2 + segLen
		if segLen < 2 || end > len(data) {
			return nil, fmt.Errorf("malformed JPEG segment at offset %d", i)
		}

		isExif := marker == 0xE1 && bytes.HasPrefix(data[i+4:end], exifHeader)
		if marker == 0xE0 && !inserted && tail.Len() == 0 {
			head.Write(data[i:end])
		} else {
			if !inserted {
				insert()
			}
			if !isExif {
				tail.Write(data[i:end])
			}
		}
		i = end
	}
	if !inserted {
		insert()
	}

	out := append(head.Bytes(), tail.Bytes()...)
	return append(out, data[i:]...), nil
}

// setPNGOrientation replaces any eXIf chunk with a new one placed before IDAT
func setPNGOrientation(data []byte, orientation int) ([]byte, error) {
	var out bytes.Buffer
	out.Write(pngSignature)

	r := bytes.NewReader(data[len(pngSignature):])
	inserted := false
	for {
		typ, body, err := readPNGChunk(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if typ == "eXIf" {
			continue
		}
		if typ == "IDAT" && !inserted {
			writePNGChunk(&out, "eXIf", buildOrientationTIFF(orientation))
			inserted = true
		}
		writePNGChunk(&out, typ, body)
		if typ == "IEND" {
			break
		}
	}
	if !inserted {
		return nil, fmt.Errorf("PNG has no IDAT chunk")
	}
	return out.Bytes(), nil
}

const (
	// maxPNGChunkLength is the largest chunk length the PNG format allows
	maxPNGChunkLength = 1<<31 - 1
	// maxExifChunk bounds the eXIf body read while probing
	maxExifChunk = 64 << 10
)

// findPNGChunk returns the body of the first want chunk ahead of the image
// data. Other chunks are skipped without buffering them.
func findPNGChunk(r io.ReadSeeker, want string) ([]byte, error) {
	if _, err := r.Seek(int64(len(pngSignature)), io.SeekStart); err != nil {
		return nil, err
	}
	for {
		typ, length, err := readPNGChunkHeader(r)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if typ == want {
			if length > maxExifChunk {
				return nil, types.NewError(types.DecodeError, "png chunk",
					fmt.Errorf("%s chunk of %d bytes exceeds %d", typ, length, maxExifChunk))
			}
			return readPNGChunkBody(r, length)
		}
		if typ == "IDAT" || typ == "IEND" {
			return nil, nil
		}
		if _, err := io.CopyN(io.Discard, r, length+4); err != nil {
			return nil, types.NewError(types.DecodeError, "png chunk",
				fmt.Errorf("truncated %s chunk: %w", typ, err))
		}
	}
}

// readPNGChunk reads a whole chunk from an in-memory PNG
func readPNGChunk(r *bytes.Reader) (string, []byte, error) {
	typ, length, err := readPNGChunkHeader(r)
	if err != nil {
		return "", nil, err
	}
	if length+4 > int64(r.Len()) {
		return "", nil, types.NewError(types.DecodeError, "png chunk",
			fmt.Errorf("%s chunk declares %d bytes, %d left", typ, length, r.Len()))
	}
	body, err := readPNGChunkBody(r, length)
	if err != nil {
		return "", nil, err
	}
	return typ, body, nil
}

func readPNGChunkHeader(r io.Reader) (string, int64, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return "", 0, types.NewError(types.DecodeError, "png chunk", fmt.Errorf("truncated PNG chunk header"))
		}
		return "", 0, err
	}
	length := binary.BigEndian.Uint32(hdr[:4])
	if length > maxPNGChunkLength {
		return "", 0, types.NewError(types.DecodeError, "png chunk",
			fmt.Errorf("chunk length %d exceeds the PNG limit", length))
	}
	return string(hdr[4:8]), int64(length), nil
}

// readPNGChunkBody reads length bytes of chunk data and discards the crc
func readPNGChunkBody(r io.Reader, length int64) ([]byte, error) {
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, types.NewError(types.DecodeError, "png chunk", fmt.Errorf("truncated PNG chunk: %w", err))
	}
	var crc [4]byte
	if _, err := io.ReadFull(r, crc[:]); err != nil {
		return nil, types.NewError(types.DecodeError, "png chunk", fmt.Errorf("truncated PNG chunk crc: %w", err))
	}
	return body, nil
}

func writePNGChunk(w *bytes.Buffer, typ string, body []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(body)))
	w.Write(n[:])
	w.WriteString(typ)
	w.Write(body)

	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(body)
	binary.BigEndian.PutUint32(n[:], crc.Sum32())
	w.Write(n[:])
}
