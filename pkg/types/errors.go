package types

import (
	"errors"
	"fmt"
	"image"
)

// Kind classifies a crop failure for the caller
type Kind int

const (
	KindUnknown Kind = iota
	// ResourceUnavailable: the source could not be opened or read.
	ResourceUnavailable
	// DecodeError: unsupported format, corrupt data or an out-of-bounds region.
	DecodeError
	// OutOfMemoryCondition: the decode would exceed the memory budget.
	OutOfMemoryCondition
	// MetadataCopyWarning: orientation could not be copied. Never fatal.
	MetadataCopyWarning
)

func (k Kind) String() string {
	switch k {
	case ResourceUnavailable:
		return "resource_unavailable"
	case DecodeError:
		return "decode_error"
	case OutOfMemoryCondition:
		return "out_of_memory"
	case MetadataCopyWarning:
		return "metadata_copy_warning"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned at component boundaries
type Error struct {
	Kind   Kind
	Op     string
	Rect   image.Rectangle // attempted rectangle, zero when not applicable
	Bounds image.Point     // native image size, zero when unknown
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if !e.Rect.Empty() || e.Bounds != (image.Point{}) {
		msg += fmt.Sprintf(" (rect %v, image %dx%d)", e.Rect, e.Bounds.X, e.Bounds.Y)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
