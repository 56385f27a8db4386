package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/botdash-proxy/internal/testutil"
	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/worker"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server       *Server
	origin       *testutil.MockOrigin
	storage      *cache.MemoryStorage
	registration *worker.Registration
}

func newTestEnv(t *testing.T, register bool) *testEnv {
	t.Helper()
	origin := testutil.NewMockOrigin()
	origin.SetResponse("/assets/app.js", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "console.log('dashboard')",
		Headers:    map[string]string{"Content-Type": "text/javascript"},
	})
	origin.SetResponse("/api/analytics/42/dashboard", testutil.NewJSONResponse(`{"revenue":1200}`))

	storage := cache.NewMemoryStorage()
	reg := worker.NewRegistration(worker.Config{
		Storage:  storage,
		Upstream: origin,
		Origin:   origin.BaseURL(),
	})
	if register {
		_, err := reg.Register(context.Background(), "v1.0.0")
		require.NoError(t, err)
	}

	return &testEnv{
		server:       New(Config{Origin: origin.BaseURL(), Registration: reg, Storage: storage}),
		origin:       origin,
		storage:      storage,
		registration: reg,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	e.registration.Wait()
	return rec
}

func TestForward_CachedAPIDataStaysWithItsCaller(t *testing.T) {
	env := newTestEnv(t, true)
	env.origin.SetResponse("/api/bots/1", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"owner":"alice","revenue":9999}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Set-Cookie":   "session=alice; HttpOnly",
		},
		Authorization: "Bearer alice",
	})

	send := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/bots/1", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		env.registration.Wait()
		return rec
	}

	alice := send("Bearer alice")
	require.Equal(t, http.StatusOK, alice.Code)
	assert.Equal(t, "session=alice; HttpOnly", alice.Header().Get("Set-Cookie"))

	// The origin rejects an anonymous caller; the rejection is passed on
	anonymous := send("")
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)
	assert.NotContains(t, anonymous.Body.String(), "alice")
	assert.Empty(t, anonymous.Header().Get(cache.HeaderFromCache))

	// Offline, only alice gets her cached copy, without the cookie
	env.origin.SetOffline(true)

	anonymous = send("")
	assert.Equal(t, http.StatusServiceUnavailable, anonymous.Code)
	assert.NotContains(t, anonymous.Body.String(), "alice")

	mallory := send("Bearer mallory")
	assert.Equal(t, http.StatusServiceUnavailable, mallory.Code)

	alice = send("Bearer alice")
	assert.Equal(t, http.StatusOK, alice.Code)
	assert.JSONEq(t, `{"owner":"alice","revenue":9999}`, alice.Body.String())
	assert.Equal(t, "true", alice.Header().Get(cache.HeaderFromCache))
	assert.Empty(t, alice.Header().Get("Set-Cookie"))
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no active worker", rec.Body.String())

	_, err := env.registration.Register(context.Background(), "v1.0.0")
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	env.do(t, http.MethodGet, "/assets/app.js", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "botdash_worker_responses_total")
	assert.Contains(t, body, "botdash_cache_writes_total")
}

func TestForward_StaticIsCached(t *testing.T) {
	env := newTestEnv(t, true)

	first := env.do(t, http.MethodGet, "/assets/app.js", "")
	second := env.do(t, http.MethodGet, "/assets/app.js", "")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "console.log('dashboard')", second.Body.String())
	assert.Equal(t, "text/javascript", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, env.origin.RequestCount("/assets/app.js"))
}

func TestForward_APIFallback(t *testing.T) {
	env := newTestEnv(t, true)

	live := env.do(t, http.MethodGet, "/api/analytics/42/dashboard", "")
	require.Equal(t, http.StatusOK, live.Code)
	assert.Empty(t, live.Header().Get(cache.HeaderFromCache))

	env.origin.SetOffline(true)
	cached := env.do(t, http.MethodGet, "/api/analytics/42/dashboard", "")
	assert.Equal(t, http.StatusOK, cached.Code)
	assert.JSONEq(t, `{"revenue":1200}`, cached.Body.String())
	assert.Equal(t, "true", cached.Header().Get(cache.HeaderFromCache))
	assert.NotEmpty(t, cached.Header().Get(cache.HeaderCacheAge))

	missing := env.do(t, http.MethodGet, "/api/bots/77", "")
	assert.Equal(t, http.StatusServiceUnavailable, missing.Code)
	assert.Equal(t, "application/json", missing.Header().Get("Content-Type"))
}

func TestForward_PostIsNotCached(t *testing.T) {
	env := newTestEnv(t, true)
	env.origin.SetResponse("/api/bots/5", testutil.NewJSONResponse(`{"saved":true}`))

	rec := env.do(t, http.MethodPost, "/api/bots/5", `{"name":"helper"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.origin.RequestCount("/api/bots/5"))

	ok, err := env.storage.Has(context.Background(), "api-v1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	env.origin.SetOffline(true)
	rec = env.do(t, http.MethodPost, "/api/bots/5", `{"name":"helper"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForward_WithoutController(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/assets/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('dashboard')", rec.Body.String())

	names, err := env.storage.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		target string
		want   string
	}{
		{name: "root origin", origin: "http://localhost:5173", target: "/api/bots/1?x=1", want: "http://localhost:5173/api/bots/1?x=1"},
		{name: "origin with path", origin: "https://example.com/dash/", target: "/assets/app.js", want: "https://example.com/dash/assets/app.js"},
		{name: "document root", origin: "http://localhost:5173", target: "/", want: "http://localhost:5173/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin, err := url.Parse(tt.origin)
			require.NoError(t, err)
			s := &Server{origin: origin}
			assert.Equal(t, tt.want, s.targetURL(httptest.NewRequest(http.MethodGet, tt.target, nil)))
		})
	}
}

func TestMessageEndpoint(t *testing.T) {
	t.Run("clear cache", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.do(t, http.MethodGet, "/api/analytics/42/dashboard", "")

		rec := env.do(t, http.MethodPost, PathMessage, `{"type":"CLEAR_CACHE"}`)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		names, err := env.storage.Keys(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("skip waiting without waiting worker", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, http.MethodPost, PathMessage, `{"type":"SKIP_WAITING"}`)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("clear cache without controller", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodPost, PathMessage, `{"type":"CLEAR_CACHE"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, http.MethodPost, PathMessage, `{"type":"RELOAD"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, http.MethodPost, PathMessage, `{"type":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, PathStatus, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Active *worker.WorkerStatus `json:"active"`
		Stores []string             `json:"stores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.Active)
	assert.Equal(t, "v1.0.0", status.Active.Version)
	assert.Equal(t, worker.StateActive, status.Active.State)
	assert.Equal(t, []string{"static-v1.0.0"}, status.Stores)
}

func dialWS(t *testing.T, env *testEnv) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(env.server.Handler())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + PathWS

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.registration.Status().Clients == 1
	}, 2*time.Second, 10*time.Millisecond)

	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func TestWebsocket_ControllerChange(t *testing.T) {
	env := newTestEnv(t, true)
	conn, cleanup := dialWS(t, env)
	defer cleanup()

	updated, err := env.registration.Update(context.Background(), "v1.1.0")
	require.NoError(t, err)
	require.True(t, updated)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event worker.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, worker.EventControllerChange, event.Type)
	assert.Equal(t, "v1.1.0", event.Version)
}

func TestWebsocket_ControlMessages(t *testing.T) {
	env := newTestEnv(t, true)
	conn, cleanup := dialWS(t, env)
	defer cleanup()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CLEAR_CACHE"}`)))
	var reply wsReply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "ack", reply.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"RELOAD"}`)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Error, "unknown control message")
}

func TestShutdown_ClosesWebsocketClients(t *testing.T) {
	env := newTestEnv(t, true)
	conn, cleanup := dialWS(t, env)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)

	require.Eventually(t, func() bool {
		return env.registration.Status().Clients == 0
	}, 2*time.Second, 10*time.Millisecond)
}
