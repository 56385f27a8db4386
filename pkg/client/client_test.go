package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("botdash-proxy/1.0"),
		},
		{
			name:   "zero timeout means no client timeout",
			config: Config{UserAgent: "botdash-proxy/1.0"},
		},
		{
			name:        "negative timeout",
			config:      Config{Timeout: -time.Second},
			expectError: true,
			errorMsg:    "timeout must be >= 0 (got -1s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("botdash-proxy/1.0")

	if cfg.UserAgent != "botdash-proxy/1.0" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, "botdash-proxy/1.0")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{name: "network error", err: io.EOF, expected: ErrorClassNetwork},
		{name: "nil response", expected: ErrorClassNetwork},
		{name: "client error 404", statusCode: 404, expected: ErrorClassClient},
		{name: "client error 403", statusCode: 403, expected: ErrorClassClient},
		{name: "server error 500", statusCode: 500, expected: ErrorClassServer},
		{name: "server error 503", statusCode: 503, expected: ErrorClassServer},
		{name: "success 200", statusCode: 200, expected: ""},
		{name: "redirect 302", statusCode: 302, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}
			if got := classifyError(resp, tt.err); got != tt.expected {
				t.Errorf("classifyError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDo_UserAgentSet(t *testing.T) {
	userAgentReceived := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgentReceived = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(DefaultConfig("botdash-proxy/1.0"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	req, _ := http.NewRequest("GET", server.URL+"/index.html", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	resp.Body.Close()

	if userAgentReceived != "botdash-proxy/1.0" {
		t.Errorf("User-Agent = %q, want %q", userAgentReceived, "botdash-proxy/1.0")
	}
	if req.Header.Get("User-Agent") != "" {
		t.Error("Do() modified the caller's request headers")
	}
}

func TestDo_KeepsCallerUserAgent(t *testing.T) {
	userAgentReceived := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgentReceived = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client, _ := New(DefaultConfig("botdash-proxy/1.0"))

	req, _ := http.NewRequest("GET", server.URL+"/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	resp.Body.Close()

	if userAgentReceived != "Mozilla/5.0" {
		t.Errorf("User-Agent = %q, want %q", userAgentReceived, "Mozilla/5.0")
	}
}

func TestDo_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"boom"}`))
	}))
	defer server.Close()

	client, _ := New(DefaultConfig("test/1.0"))

	resp, err := client.Get(context.Background(), server.URL+"/api/bots/1")
	if err != nil {
		t.Fatalf("Get() returned error for 500 response: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", resp.StatusCode)
	}
	if OK(resp) {
		t.Error("OK() = true for 500 response")
	}
}

func TestDo_NoRedirectFollow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		w.Write([]byte("new"))
	}))
	defer server.Close()

	client, _ := New(DefaultConfig("test/1.0"))

	resp, err := client.Get(context.Background(), server.URL+"/old")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want 302", resp.StatusCode)
	}
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // nothing listens anymore

	client, _ := New(DefaultConfig("test/1.0"))

	_, err := client.Get(context.Background(), url+"/api/bots/1")
	if err == nil {
		t.Fatal("Expected network error")
	}
	if !IsNetworkError(err) {
		t.Errorf("IsNetworkError(%v) = false, want true", err)
	}

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("error %T is not *UpstreamError", err)
	}
	if upstreamErr.URL != url+"/api/bots/1" {
		t.Errorf("URL = %q", upstreamErr.URL)
	}
}

func TestRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	upstream, _ := New(DefaultConfig("test/1.0"))
	httpClient := &http.Client{Transport: upstream}

	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want %q", body, "ok")
	}
}

func TestOK(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{199, false},
		{200, true},
		{204, true},
		{299, true},
		{304, false},
		{404, false},
		{503, false},
	}
	for _, tt := range tests {
		if got := OK(&http.Response{StatusCode: tt.status}); got != tt.want {
			t.Errorf("OK(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
	if OK(nil) {
		t.Error("OK(nil) = true")
	}
}
