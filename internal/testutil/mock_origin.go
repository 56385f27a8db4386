// Package testutil provides testing utilities for the caching proxy.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"syscall"
	"time"
)

// InProcessURL is the origin URL of a MockOrigin without a listener.
const InProcessURL = "http://origin.test"

// MockResponse defines the behavior for a mock origin path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// Authorization, when set, is the only Authorization header value that
	// gets this response; any other caller gets 401.
	Authorization string
}

// MockOrigin is a configurable stand-in for the dashboard origin: the
// static files and the REST API. It can be served over a real listener
// (NewMockOriginServer) or called in process through Do.
type MockOrigin struct {
	server *httptest.Server

	mu        sync.RWMutex
	responses map[string]MockResponse
	offline   bool
	requests  map[string]int
	total     int
}

// NewMockOrigin creates an in-process origin with the install manifest
// already configured.
func NewMockOrigin() *MockOrigin {
	m := &MockOrigin{
		responses: make(map[string]MockResponse),
		requests:  make(map[string]int),
	}
	m.SetResponse("/", NewHTMLResponse("<!doctype html><div id=\"root\"></div>"))
	m.SetResponse("/index.html", NewHTMLResponse("<!doctype html><div id=\"root\"></div>"))
	m.SetResponse("/manifest.json", NewJSONResponse(`{"name":"Bot Dashboard","start_url":"/"}`))
	return m
}

// NewMockOriginServer creates a mock origin behind an httptest server.
func NewMockOriginServer() *MockOrigin {
	m := NewMockOrigin()
	m.server = httptest.NewServer(m)
	return m
}

// URL returns the origin base URL.
func (m *MockOrigin) URL() string {
	if m.server == nil {
		return InProcessURL
	}
	return m.server.URL
}

// BaseURL returns the origin base URL parsed.
func (m *MockOrigin) BaseURL() *url.URL {
	u, err := url.Parse(m.URL())
	if err != nil {
		panic(err)
	}
	return u
}

// Close shuts down the listener, if any.
func (m *MockOrigin) Close() {
	if m.server != nil {
		m.server.Close()
	}
}

// SetResponse configures the response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = resp
}

// SetOffline makes every request fail at the transport level (Do) or with
// an aborted connection (server).
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// RequestCount returns the number of requests that reached path.
func (m *MockOrigin) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// TotalRequests returns the number of requests that reached the origin.
func (m *MockOrigin) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Reset clears the request counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.total = 0
}

// ServeHTTP implements http.Handler.
func (m *MockOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	offline := m.offline
	if !offline {
		m.requests[r.URL.Path]++
		m.total++
	}
	resp, ok := m.responses[r.URL.Path]
	m.mu.Unlock()

	if offline {
		panic(http.ErrAbortHandler)
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	if resp.Authorization != "" && r.Header.Get("Authorization") != resp.Authorization {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Not authenticated"}`))
		return
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// Do serves req in process. An offline origin returns a connection
// refused error.
func (m *MockOrigin) Do(req *http.Request) (*http.Response, error) {
	m.mu.RLock()
	offline := m.offline
	m.mu.RUnlock()
	if offline {
		return nil, fmt.Errorf("dial %s: %w", req.URL.Host, syscall.ECONNREFUSED)
	}

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

// NewHTMLResponse creates a 200 OK HTML response.
func NewHTMLResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
