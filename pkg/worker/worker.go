// Package worker implements the request interceptor of the dashboard: a
// versioned worker that installs a manifest into its static store, evicts
// stores of other versions on activation and answers intercepted GET
// requests with one of three caching strategies.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/classify"
	"github.com/Sternrassler/botdash-proxy/pkg/logging"
	"github.com/Sternrassler/botdash-proxy/pkg/precache"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultAPIWindow is how long a stamped API entry may stand in for the network.
const DefaultAPIWindow = 30 * time.Second

var (
	// ErrInstallFailed wraps every install failure.
	ErrInstallFailed = errors.New("worker install failed")

	// ErrInvalidState is returned for lifecycle calls out of order.
	ErrInvalidState = errors.New("invalid worker state")
)

// State is a worker lifecycle state.
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting_to_activate"
	StateActive     State = "active"
	StateSuperseded State = "superseded"

	// StateRedundant marks a worker whose install failed.
	StateRedundant State = "redundant"
)

// Doer performs a single network request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds everything a worker needs except its version.
type Config struct {
	// Storage holds the named stores.
	Storage cache.Storage

	// Upstream is the network.
	Upstream Doer

	// Origin is the base URL the manifest is resolved against.
	Origin *url.URL

	// Manifest lists the paths precached at install (default precache.DefaultManifest).
	Manifest []string

	// Rules classify intercepted requests (zero value means classify.DefaultRules).
	Rules classify.Rules

	// APIWindow is the freshness window of the API store (default DefaultAPIWindow).
	APIWindow time.Duration

	// Precache configures the install-time fetcher.
	Precache precache.Config

	// Now returns the current time (default time.Now).
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Manifest == nil {
		c.Manifest = precache.DefaultManifest
	}
	if len(c.Rules.StaticMarkers) == 0 && len(c.Rules.APIPatterns) == 0 {
		c.Rules = classify.DefaultRules()
	}
	if c.APIWindow <= 0 {
		c.APIWindow = DefaultAPIWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Worker is one version of the request interceptor.
type Worker struct {
	id       string
	config   Config
	caches   *cache.Manager
	precache *precache.Fetcher
	logger   zerolog.Logger

	mu    sync.RWMutex
	state State

	// pending tracks background API store writes; shared across the
	// workers of one registration
	pending *sync.WaitGroup
}

// New creates a worker for version in the installing state.
func New(version string, config Config) *Worker {
	if config.Storage == nil {
		panic("worker storage cannot be nil")
	}
	if config.Upstream == nil {
		panic("worker upstream cannot be nil")
	}
	config = config.withDefaults()

	caches := cache.NewManager(config.Storage, version)
	id := uuid.NewString()

	return &Worker{
		id:       id,
		config:   config,
		caches:   caches,
		precache: precache.New(config.Upstream, config.Precache),
		logger: logging.NewLogger("worker").With().
			Str("worker_id", id).
			Str("version", caches.Names().Version).
			Logger(),
		state:   StateInstalling,
		pending: &sync.WaitGroup{},
	}
}

// ID returns the worker's unique id.
func (w *Worker) ID() string { return w.id }

// Version returns the worker's version tag.
func (w *Worker) Version() string { return w.caches.Names().Version }

// Caches returns the worker's cache manager.
func (w *Worker) Caches() *cache.Manager { return w.caches }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()

	stateTransitions.WithLabelValues(string(state)).Inc()
	w.logger.Info().Str("state", string(state)).Msg("Worker state changed")
}

func (w *Worker) expectState(want State) error {
	if got := w.State(); got != want {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, got, want)
	}
	return nil
}

// Install precaches the manifest into the static store.
//
// Install is all-or-nothing: any fetch error or non-2xx response fails it,
// nothing is stored and the worker becomes redundant. On success the worker
// is waiting to activate.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.expectState(StateInstalling); err != nil {
		return err
	}

	if err := w.install(ctx); err != nil {
		w.setState(StateRedundant)
		w.logger.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	w.setState(StateWaiting)
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	store, err := w.caches.Static(ctx)
	if err != nil {
		return fmt.Errorf("open static store: %w", err)
	}

	if w.config.Origin == nil {
		return errors.New("origin is not configured")
	}
	urls, err := precache.ResolveManifest(w.config.Origin, w.config.Manifest)
	if err != nil {
		return err
	}

	entries, err := w.precache.FetchAll(ctx, urls)
	if err != nil {
		return err
	}

	written := make([]string, 0, len(entries))
	for key, entry := range entries {
		if err := store.Put(ctx, key, entry); err != nil {
			for _, k := range written {
				_ = store.Delete(context.WithoutCancel(ctx), k)
			}
			return fmt.Errorf("store %s: %w", key, err)
		}
		written = append(written, key)
	}

	w.logger.Info().
		Str("store", store.Name()).
		Int("entries", len(written)).
		Msg("Manifest precached")
	return nil
}

// Activate deletes every store that does not belong to this version and
// marks the worker active. The eviction completes before Activate returns.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.expectState(StateWaiting); err != nil {
		return err
	}

	deleted, err := w.caches.EvictStale(ctx)
	if err != nil {
		return fmt.Errorf("evict stale stores: %w", err)
	}
	if len(deleted) > 0 {
		w.logger.Info().Strs("stores", deleted).Msg("Evicted stale stores")
	}

	w.setState(StateActive)
	return nil
}

// supersede retires an active worker once another one took control.
func (w *Worker) supersede() {
	w.setState(StateSuperseded)
}

// ClearCache deletes both current stores.
func (w *Worker) ClearCache(ctx context.Context) error {
	return w.caches.Clear(ctx)
}

// Handle answers an intercepted request.
//
// It reports false when the request is not intercepted (not a GET, or not
// http/https); the caller must then go to the network itself. Intercepted
// requests always get a response: network and store failures are turned
// into synthetic responses.
func (w *Worker) Handle(req *http.Request) (*http.Response, bool) {
	if !classify.Intercepted(req) {
		return nil, false
	}

	switch w.config.Rules.Classify(req) {
	case classify.ClassStatic:
		return w.cacheFirst(req), true
	case classify.ClassAPI:
		return w.networkFirstWithCache(req), true
	default:
		return w.networkFirst(req), true
	}
}

// RoundTrip implements http.RoundTripper, so a worker can sit under an
// http.Client. Requests that are not intercepted go straight upstream.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if resp, ok := w.Handle(req); ok {
		return resp, nil
	}
	passthroughRequests.Inc()
	return w.config.Upstream.Do(req)
}

// Wait blocks until background store writes have finished.
func (w *Worker) Wait() {
	w.pending.Wait()
}
