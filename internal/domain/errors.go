package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField     = errors.New("missing image field")
	ErrMalformedBody    = errors.New("malformed multipart body")
	ErrPayloadTooLarge  = errors.New("request body too large")
	ErrDecode           = errors.New("decode error")
	ErrInvalidImage     = errors.New("invalid image")
	ErrShape            = errors.New("shape error")
	ErrInference        = errors.New("inference error")
	ErrInferenceTimeout = errors.New("inference timeout")
	ErrOverloaded       = errors.New("inference capacity exhausted")
)

// Error records the stage that failed together with the error kind, so the
// HTTP layer can pick a status with errors.Is while the message keeps the
// underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func NewError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the first known kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrMissingField,
		ErrMalformedBody,
		ErrPayloadTooLarge,
		ErrDecode,
		ErrInvalidImage,
		ErrShape,
		ErrInferenceTimeout,
		ErrOverloaded,
		ErrInference,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
