package api

import (
	"errors"
	"fmt"
)

// ErrAuthExpired is returned instead of a raw 401. The client has already
// cleared the session by the time callers see it, so no caller needs to
// special-case 401 handling.
var ErrAuthExpired = errors.New("authentication expired")

// RequestError is a non-401 HTTP failure, returned (not panicked) so callers
// can decide whether to retry.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: status=%d message=%s", e.Status, e.Message)
}

// IsRequestError reports whether err is a RequestError and returns it.
func IsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
