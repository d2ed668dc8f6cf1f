package core

import (
	"errors"
	"fmt"
)

// Error kinds. Check with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidCriteria        = errors.New("invalid achievement criteria")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrStorageUnavailable     = errors.New("storage unavailable")
)

// Error carries the failing operation alongside its kind.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Msg != "" {
		msg += ": " + e.Msg
	} else if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches op and kind to an underlying error. A nil err stays nil.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// IsRetryable reports whether the caller may retry the whole action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStorageUnavailable)
}
