package report

import (
	"errors"
	"fmt"
)

// Kind classifies errors crossing component boundaries.
type Kind int

// Error kinds. Unclassified errors are treated as infrastructure failures.
const (
	KindInfrastructure Kind = iota
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "infrastructure"
	}
}

// ErrStaleTransition is returned by a store when a status update does not
// follow the forward-only lifecycle from the request's current state.
var ErrStaleTransition = errors.New("status transition not allowed from current state")

// Error is a classified error. Message is safe to show to callers for
// validation and not-found kinds.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Infrastructure wraps err as an infrastructure failure.
func Infrastructure(err error, msg string) error {
	return &Error{Kind: KindInfrastructure, Message: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsValidation reports whether err is classified as a validation failure.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// PublicMessage returns the caller-facing text for err. Infrastructure
// failures never leak their detail.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInfrastructure {
		return e.Message
	}
	return "internal server error"
}
