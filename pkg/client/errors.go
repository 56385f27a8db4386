package client

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError describes a failed upstream request.
type UpstreamError struct {
	StatusCode int
	ErrorClass ErrorClass
	URL        string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d) for %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d) for %s: %s",
		e.ErrorClass, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StatusError builds the error for a response that is not 2xx.
// It returns nil for successful responses.
func StatusError(resp *http.Response) error {
	if OK(resp) {
		return nil
	}
	e := &UpstreamError{
		ErrorClass: classifyError(resp, nil),
		Message:    "unexpected status",
	}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Message = resp.Status
		if resp.Request != nil && resp.Request.URL != nil {
			e.URL = resp.Request.URL.String()
		}
	}
	if e.ErrorClass == "" {
		// 1xx/3xx responses are not usable as cache content
		e.ErrorClass = ErrorClassClient
	}
	return e
}

// IsNetworkError reports whether err is a transport failure.
func IsNetworkError(err error) bool {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.ErrorClass == ErrorClassNetwork
	}
	return false
}
