// Package errs is the error taxonomy shared by the store, the domain services and both
// outer surfaces (HTTP and realtime).
package errs

import (
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
//   - Kind MUST be one of the sentinel kinds.
//   - Msg is human-readable context and is safe to show to clients.
//   - Err is the underlying cause (store/network error), never shown to clients.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation reports missing or out-of-range input.
func Validation(op, msg string) error {
	return OpError{Op: op, Kind: ErrValidation, Msg: msg}
}

// NotFound reports an absent or expired record.
func NotFound(op, resource string) error {
	return OpError{Op: op, Kind: ErrNotFound, Msg: resource}
}

// RateLimited reports a request rejected by a rate limiter.
func RateLimited(op, msg string) error {
	return OpError{Op: op, Kind: ErrRateLimited, Msg: msg}
}

// MessageTooLong reports a message over the configured length cap.
func MessageTooLong(op, msg string) error {
	return OpError{Op: op, Kind: ErrMessageTooLong, Msg: msg}
}

// Unavailable wraps a backend failure. A nil cause yields nil so call sites can wrap unconditionally.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUnavailable(err) {
		return err
	}
	return OpError{Op: op, Kind: ErrUnavailable, Err: err}
}

// Message returns the client-safe part of err.
func Message(err error) string {
	var oe OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	switch {
	case IsValidation(err):
		return "invalid input"
	case IsNotFound(err):
		return "not found"
	case IsUnavailable(err):
		return "service unavailable"
	case IsRateLimited(err):
		return "rate limited"
	case IsMessageTooLong(err):
		return "message too long"
	default:
		return "internal error"
	}
}

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnavailable reports whether err represents ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsRateLimited reports whether err represents ErrRateLimited.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsMessageTooLong reports whether err represents ErrMessageTooLong.
func IsMessageTooLong(err error) bool { return errors.Is(err, ErrMessageTooLong) }
