package extract

import (
	"errors"
	"fmt"
)

// Kind classifies why no usable vector could be produced from an image.
type Kind int

const (
	KindNoFaceDetected Kind = iota + 1
	KindFaceTooSmall
	KindDecodeFailure
	KindUnavailable
)

// Sentinels for errors.Is checks against an *Error of the matching kind.
var (
	ErrNoFaceDetected = errors.New("no face detected")
	ErrFaceTooSmall   = errors.New("face too small")
	ErrDecodeFailure  = errors.New("image could not be decoded")
	ErrUnavailable    = errors.New("feature extractor unavailable")
)

func (k Kind) String() string {
	switch k {
	case KindNoFaceDetected:
		return "no_face_detected"
	case KindFaceTooSmall:
		return "face_too_small"
	case KindDecodeFailure:
		return "decode_failure"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNoFaceDetected:
		return ErrNoFaceDetected
	case KindFaceTooSmall:
		return ErrFaceTooSmall
	case KindDecodeFailure:
		return ErrDecodeFailure
	case KindUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// Error is returned by extractors when an image yields no vector.
type Error struct {
	Kind Kind
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
	}
	if s := e.Kind.sentinel(); s != nil {
		return s.Error()
	}
	return "extraction failed"
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is the message shown to the person in front of the camera.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNoFaceDetected:
		return "No face was found in the photo. Look straight at the camera and try again."
	case KindFaceTooSmall:
		return "Your face is too small in the photo. Move closer to the camera and try again."
	case KindDecodeFailure:
		return "The photo could not be read. Please capture it again."
	case KindUnavailable:
		return "Face recognition is temporarily unavailable. Please try again later."
	default:
		return "The photo could not be processed."
	}
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of an extraction error anywhere in err's chain.
// Errors that are not *Error report KindUnavailable.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}
