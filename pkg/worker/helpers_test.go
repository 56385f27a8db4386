package worker

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/botdash-proxy/internal/testutil"
	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	origin  *testutil.MockOrigin
	storage *cache.MemoryStorage
	clock   *testClock
	config  Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	origin := testutil.NewMockOrigin()
	origin.SetResponse("/assets/app.js", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "console.log('dashboard')",
		Headers:    map[string]string{"Content-Type": "text/javascript"},
	})
	origin.SetResponse("/api/analytics/42/dashboard", testutil.NewJSONResponse(`{"revenue":1200,"users":35}`))
	origin.SetResponse("/api/auth/me", testutil.NewJSONResponse(`{"user":"admin"}`))

	env := &testEnv{
		origin:  origin,
		storage: cache.NewMemoryStorage(),
		clock:   newTestClock(),
	}
	env.config = Config{
		Storage:  env.storage,
		Upstream: origin,
		Origin:   origin.BaseURL(),
		Now:      env.clock.Now,
	}
	return env
}

// activeWorker returns an installed and activated worker for version.
func (e *testEnv) activeWorker(t *testing.T, version string) *Worker {
	t.Helper()
	w := New(version, e.config)
	require.NoError(t, w.Install(context.Background()))
	require.NoError(t, w.Activate(context.Background()))
	return w
}

func (e *testEnv) request(t *testing.T, method, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, e.origin.URL()+path, nil)
	require.NoError(t, err)
	return req
}

// get sends a GET through the worker and returns the response with its body.
func (e *testEnv) get(t *testing.T, w *Worker, path string) (*http.Response, string) {
	t.Helper()
	resp, err := w.RoundTrip(e.request(t, http.MethodGet, path))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func storeKeys(t *testing.T, storage cache.Storage, name string) []string {
	t.Helper()
	ok, err := storage.Has(context.Background(), name)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	store, err := storage.Open(context.Background(), name)
	require.NoError(t, err)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	return keys
}
