package iam

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrAuthenticationFailed is returned when credentials are rejected. Fatal at bootstrap.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrServiceUnavailable covers transport failures and 5xx responses. Retryable.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrRequestRejected covers other 4xx responses.
	ErrRequestRejected = errors.New("request rejected")
)

// StatusError maps a non-2xx response to one of the sentinels above and keeps
// a short excerpt of the body for the log line.
func StatusError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	excerpt := strings.TrimSpace(string(body))
	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = ErrAuthenticationFailed
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		kind = ErrServiceUnavailable
	default:
		kind = ErrRequestRejected
	}
	return fmt.Errorf("%w: %s status=%d body=%s", kind, service, resp.StatusCode, excerpt)
}

// TransportError wraps a failed round trip. Authentication errors raised by the
// token source keep their kind.
func TransportError(service string, err error) error {
	if errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrServiceUnavailable) {
		return fmt.Errorf("%s: %w", service, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, service, err)
}
