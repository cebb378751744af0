package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Generation failure kinds. Callers distinguish them with errors.Is.
var (
	ErrTimeout           = errors.New("generation timed out")
	ErrMalformedResponse = errors.New("malformed generation response")
	ErrUnavailable       = errors.New("generation collaborator unavailable")
)

// GenerationError is the final outcome of a failed Generate call
type GenerationError struct {
	Kind     error
	Provider string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v (provider %s, %d attempts): %v", e.Kind, e.Provider, e.Attempts, e.Err)
}

// Unwrap exposes both the kind and the underlying cause
func (e *GenerationError) Unwrap() []error { return []error{e.Kind, e.Err} }

// StatusError carries the HTTP status of a failed provider call
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 408 || e.StatusCode >= 500
}

// classify maps a provider error to a kind and whether to retry it
func classify(err error) (kind error, retry bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout, true
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ErrMalformedResponse, true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return ErrUnavailable, se.Retryable()
	}
	// Connection refused, DNS failures and the like.
	return ErrUnavailable, true
}
