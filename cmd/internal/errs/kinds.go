package errs

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrValidation     = errors.New("invalid_input")
	ErrNotFound       = errors.New("not_found")
	ErrUnavailable    = errors.New("unavailable")
	ErrRateLimited    = errors.New("rate_limited")
	ErrMessageTooLong = errors.New("message_too_long")
)
