package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned before any request is made when no
	// API credential is configured.
	ErrMissingCredential = errors.New("ai: missing api credential")

	// ErrInvalidRequest indicates the request could not be constructed.
	ErrInvalidRequest = errors.New("ai: invalid request")
)

// StatusError reports a non-success HTTP status from the provider,
// surfaced before any increments are produced.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ai: provider returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ai: provider returned %d", e.StatusCode)
}
