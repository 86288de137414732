package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error classes shared by every component that talks to the fault-management
// platform. Callers wrap one of these with context and test with errors.Is.
var (
	// ErrAuth means the platform rejected the credential or the refresh token.
	// Recoverable by acquiring a new initial credential.
	ErrAuth = errors.New("authentication rejected")
	// ErrNetwork covers timeouts, refused connections and 5xx replies.
	ErrNetwork = errors.New("network failure")
	// ErrProtocol means the reply had an unexpected status or shape.
	ErrProtocol = errors.New("unexpected response")
	// ErrState means an operation ran without its prerequisite.
	ErrState = errors.New("invalid state")
	// ErrMessage marks a single stream message that could not be decoded or handled.
	ErrMessage = errors.New("message failure")
)

// HTTPError is returned for non-2xx replies. It unwraps to its error class.
type HTTPError struct {
	Status int
	Body   string
	Kind   error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return e.Kind
}

// StatusError maps a non-2xx HTTP status to the error taxonomy.
func StatusError(status int, body []byte) error {
	detail := string(body)
	if len(detail) > 256 {
		detail = detail[:256] + "..."
	}

	kind := ErrProtocol
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status >= 500:
		kind = ErrNetwork
	}
	return &HTTPError{Status: status, Body: detail, Kind: kind}
}

// StatusOf returns the HTTP status carried by err, or 0 when there is none.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// TransportError wraps an error returned by http.Client.Do.
func TransportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}

// IsTimeout reports whether err was caused by a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
