package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalid     = errors.New("invalid")
	ErrUnavailable = errors.New("unavailable")
	ErrCorrupt     = errors.New("corrupt")
	ErrBusy        = errors.New("busy")
	ErrEmptyStage  = errors.New("empty stage output")
	ErrDimension   = errors.New("dimension mismatch")
)

// Kind classifies a failure so callers can pick a presentation without string matching.
type Kind string

const (
	KindMissingInput Kind = "missing_input"
	KindEmptyOutput  Kind = "empty_output"
	KindUnavailable  Kind = "unavailable"
	KindCorrupt      Kind = "corrupt"
	KindBusy         Kind = "busy"
	KindInternal     Kind = "internal"
)

// Error is a classified failure raised at the component boundary that detected it.
type Error struct {
	Kind  Kind
	Stage string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, stage, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindMissingInput
	case errors.Is(err, ErrEmptyStage):
		return KindEmptyOutput
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrCorrupt), errors.Is(err, ErrDimension):
		return KindCorrupt
	case errors.Is(err, ErrBusy):
		return KindBusy
	}
	return KindInternal
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
