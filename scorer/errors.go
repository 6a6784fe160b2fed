package scorer

import (
	"errors"
	"fmt"
)

// Error kinds. None of them is retried by the gateway.
var (
	ErrTimeout       = errors.New("scorer timed out")
	ErrParse         = errors.New("scorer output could not be parsed")
	ErrScorerFailure = errors.New("scorer failed")
	ErrUnavailable   = errors.New("scorer unavailable")
)

// Error describes a failed scoring call. errors.Is matches both Kind and Cause.
type Error struct {
	Kind   error
	Image  string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Image)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, image, detail string, cause error) *Error {
	return &Error{Kind: kind, Image: image, Detail: detail, Cause: cause}
}
