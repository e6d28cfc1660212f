// Package upstream defines the error taxonomy shared by both platform clients.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error reports a failed call to an upstream platform: either a transport
// failure (StatusCode 0, Err set) or a non-success HTTP status. Body is
// truncated upstream response text kept for diagnosis.
type Error struct {
	Platform   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status=%d body=%s", e.Platform, e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: transport errors,
// timeouts, 429 and 5xx. Non-auth 4xx responses are terminal.
func (e *Error) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

// AuthError reports rejected credentials. Clients re-authenticate once and
// retry before surfacing it.
type AuthError struct {
	Platform string
	Op       string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s: authentication failed: %v", e.Platform, e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsRetryable reports whether err wraps a transient upstream failure.
// Context cancellation is never retryable; deadline expiry on a single
// call is (the upstream hung, not us).
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
