package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnconfigured is returned before any network attempt when no API key is
// available for a backend.
var ErrUnconfigured = errors.New("service unconfigured: no API key")

// UpstreamError is a backend that was reached (or attempted) but did not
// produce a usable answer. Status is 0 for transport failures.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: upstream unavailable: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: upstream returned %d: %s", e.Provider, e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed: transport
// failures, rate limits and server errors.
func (e *UpstreamError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRetryable reports whether err is an UpstreamError worth retrying.
// Cancellation and unconfigured backends are never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrUnconfigured) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Retryable()
	}
	return false
}

// StatusOf returns the HTTP status carried by an UpstreamError in err's
// chain, or 0.
func StatusOf(err error) int {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Status
	}
	return 0
}
