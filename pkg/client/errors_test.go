package client

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
)

func TestUpstreamError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *UpstreamError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &UpstreamError{
				ErrorClass: ErrorClassNetwork,
				URL:        "http://origin/api/bots/1",
				Message:    "request failed",
				Err:        io.ErrUnexpectedEOF,
			},
			expected: "upstream network error (status 0) for http://origin/api/bots/1: request failed: unexpected EOF",
		},
		{
			name: "error without wrapped error",
			err: &UpstreamError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				URL:        "http://origin/",
				Message:    "500 Internal Server Error",
			},
			expected: "upstream server error (status 500) for http://origin/: 500 Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	err := &UpstreamError{ErrorClass: ErrorClassNetwork, Err: io.EOF}
	if !errors.Is(err, io.EOF) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestStatusError(t *testing.T) {
	reqURL, _ := url.Parse("http://origin/manifest.json")

	tests := []struct {
		name      string
		resp      *http.Response
		wantNil   bool
		wantClass ErrorClass
	}{
		{
			name:    "success",
			resp:    &http.Response{StatusCode: 200, Status: "200 OK"},
			wantNil: true,
		},
		{
			name:      "not found",
			resp:      &http.Response{StatusCode: 404, Status: "404 Not Found", Request: &http.Request{URL: reqURL}},
			wantClass: ErrorClassClient,
		},
		{
			name:      "bad gateway",
			resp:      &http.Response{StatusCode: 502, Status: "502 Bad Gateway"},
			wantClass: ErrorClassServer,
		},
		{
			name:      "redirect",
			resp:      &http.Response{StatusCode: 301, Status: "301 Moved Permanently"},
			wantClass: ErrorClassClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := StatusError(tt.resp)
			if tt.wantNil {
				if err != nil {
					t.Errorf("StatusError() = %v, want nil", err)
				}
				return
			}

			var upstreamErr *UpstreamError
			if !errors.As(err, &upstreamErr) {
				t.Fatalf("StatusError() = %T, want *UpstreamError", err)
			}
			if upstreamErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", upstreamErr.ErrorClass, tt.wantClass)
			}
			if upstreamErr.StatusCode != tt.resp.StatusCode {
				t.Errorf("StatusCode = %d, want %d", upstreamErr.StatusCode, tt.resp.StatusCode)
			}
			if IsNetworkError(err) {
				t.Error("status errors are not network errors")
			}
		})
	}
}

func TestIsNetworkError_PlainError(t *testing.T) {
	if IsNetworkError(errors.New("boom")) {
		t.Error("IsNetworkError should be false for non-upstream errors")
	}
}
