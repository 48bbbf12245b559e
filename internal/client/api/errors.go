package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the server cannot be reached.
	ErrUnavailable = errors.New("server unavailable")
	// ErrNotLoggedIn is returned by calls that need a session before Login.
	ErrNotLoggedIn = errors.New("not logged in")
)

// Error is a non-2xx answer from the server.
type Error struct {
	Status     int
	Message    string
	RetryAfter int
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%d: %s (retry in %ds)", e.Status, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
