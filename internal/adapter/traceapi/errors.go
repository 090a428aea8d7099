package traceapi

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError is a transport failure before any response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response. Detail carries the server's explanation
// when it sent one.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("trace API returned status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("trace API returned status %d", e.Status)
}

// MalformedResponseError is a body that could not be decoded.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed trace API response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a request failing with err may succeed when
// sent again. 404 means the trace is not available yet and is not retried.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status != http.StatusNotFound
	}
	return false
}

// IsNotFound reports whether err is a 404 from the trace API.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

// Message builds the human-readable text shown for a failed fetch.
func Message(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Detail != "" {
		return httpErr.Detail
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return "Trace response was malformed"
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "Network error while loading trace"
	}
	if httpErr != nil {
		return fmt.Sprintf("Trace request failed with status %d", httpErr.Status)
	}
	return err.Error()
}
