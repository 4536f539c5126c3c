package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport wraps network-level failures (DNS, connect, timeout).
// These are the only transient provider errors; callers may retry once.
var ErrTransport = errors.New("provider transport error")

// ErrRefreshUnsupported indicates the provider does not issue refresh tokens.
var ErrRefreshUnsupported = errors.New("provider does not support refresh")

// ResponseError indicates a malformed or semantically invalid provider
// payload. Never retried: the provider answered, the answer is unusable.
type ResponseError struct {
	Provider string
	Reason   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: bad provider response: %s", e.Provider, e.Reason)
}

// HTTPError indicates a non-2xx status from a provider endpoint.
type HTTPError struct {
	Provider string
	Status   int
	Code     string // OAuth error code if the body carried one
	Detail   string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d: %s %s", e.Provider, e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: http %d", e.Provider, e.Status)
}

// IsTransient reports whether the error is worth a single retry: transport
// failures and 5xx. 4xx (bad code, bad verifier, revoked grant) never is.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500
	}
	return false
}

// classifyTransport wraps a client.Do error as ErrTransport, preserving
// context cancellation so callers can tell a timeout from a shutdown.
func classifyTransport(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, name, err)
}
