package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultUpdateInterval is how often Run checks for a new version.
const DefaultUpdateInterval = 60 * time.Second

var (
	// ErrNoWaitingWorker is returned by SkipWaiting when nothing waits.
	ErrNoWaitingWorker = errors.New("no waiting worker")

	// ErrNoActiveWorker is returned when a message needs a controller.
	ErrNoActiveWorker = errors.New("no active worker")
)

// clientBuffer is the number of undelivered events a client may hold.
const clientBuffer = 4

// Client is a page connected to the registration.
type Client struct {
	id     string
	events chan Event
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// Events delivers events for the client. The channel is closed when the
// client is removed.
func (c *Client) Events() <-chan Event { return c.events }

// WorkerStatus describes one worker.
type WorkerStatus struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	State   State  `json:"state"`
}

// Status is a snapshot of the registration.
type Status struct {
	Active  *WorkerStatus `json:"active,omitempty"`
	Waiting *WorkerStatus `json:"waiting,omitempty"`
	Clients int           `json:"clients"`
}

// Registration owns the workers of one scope: at most one active worker
// (the controller) and at most one waiting worker.
type Registration struct {
	config Config

	skipWaitingOnInstall bool

	// lifecycle serializes install, activation and update checks
	lifecycle sync.Mutex

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker

	clientsMu sync.Mutex
	clients   map[string]*Client

	pending  sync.WaitGroup
	updateCh chan struct{}
	logger   zerolog.Logger
}

// NewRegistration creates an empty registration. Newly installed workers
// skip waiting and take control immediately.
func NewRegistration(config Config) *Registration {
	if config.Storage == nil {
		panic("registration storage cannot be nil")
	}
	if config.Upstream == nil {
		panic("registration upstream cannot be nil")
	}
	return &Registration{
		config:               config,
		skipWaitingOnInstall: true,
		clients:              make(map[string]*Client),
		updateCh:             make(chan struct{}, 1),
		logger:               logging.NewLogger("registration"),
	}
}

// SetSkipWaiting controls whether installed workers are promoted at once.
// With it disabled, a new worker waits for SkipWaiting.
func (r *Registration) SetSkipWaiting(skip bool) {
	r.lifecycle.Lock()
	r.skipWaitingOnInstall = skip
	r.lifecycle.Unlock()
}

// Controller returns the active worker, or nil.
func (r *Registration) Controller() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the waiting worker, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Register installs a worker for version. Registering the version that is
// already active or waiting is a no-op and returns that worker.
//
// When the install fails the previous workers stay in place and the error
// wraps ErrInstallFailed.
func (r *Registration) Register(ctx context.Context, version string) (*Worker, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if w := r.current(version); w != nil {
		return w, nil
	}

	w := New(version, r.config)
	w.pending = &r.pending

	r.logger.Info().Str("version", w.Version()).Str("worker_id", w.ID()).Msg("Installing worker")
	if err := w.Install(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	previous := r.waiting
	r.waiting = w
	r.mu.Unlock()
	if previous != nil {
		previous.setState(StateRedundant)
	}

	if r.skipWaitingOnInstall {
		if err := r.activateWaiting(ctx); err != nil {
			return w, err
		}
	}
	return w, nil
}

// current returns the active or waiting worker of version, if any.
func (r *Registration) current(version string) *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == "" {
		version = cache.DefaultVersion
	}
	for _, w := range []*Worker{r.waiting, r.active} {
		if w != nil && w.Version() == version {
			return w
		}
	}
	return nil
}

// Update runs an update check against version. It reports whether a new
// worker was installed.
func (r *Registration) Update(ctx context.Context, version string) (bool, error) {
	if r.current(version) != nil {
		r.logger.Debug().Str("version", version).Msg("Worker is up to date")
		return false, nil
	}
	if _, err := r.Register(ctx, version); err != nil {
		return false, err
	}
	return true, nil
}

// SkipWaiting promotes the waiting worker to controller.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.activateWaiting(ctx)
}

// activateWaiting activates the waiting worker, retires the previous
// controller and notifies every client. Callers hold the lifecycle lock.
func (r *Registration) activateWaiting(ctx context.Context) error {
	w := r.Waiting()
	if w == nil {
		return ErrNoWaitingWorker
	}

	if err := w.Activate(ctx); err != nil {
		return fmt.Errorf("activate worker %s: %w", w.Version(), err)
	}

	r.mu.Lock()
	previous := r.active
	r.active = w
	r.waiting = nil
	r.mu.Unlock()

	if previous != nil {
		previous.supersede()
	}

	r.claim(w)
	return nil
}

// claim tells every connected client about the new controller.
func (r *Registration) claim(w *Worker) {
	event := Event{Type: EventControllerChange, Version: w.Version()}

	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()

	for id, c := range r.clients {
		select {
		case c.events <- event:
		default:
			r.logger.Warn().Str("client_id", id).Msg("Client event buffer full, dropping event")
		}
	}
	r.logger.Info().
		Str("version", w.Version()).
		Int("clients", len(r.clients)).
		Msg("Worker claimed clients")
}

// PostMessage handles a control message.
func (r *Registration) PostMessage(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	switch msg.Type {
	case MessageSkipWaiting:
		err := r.SkipWaiting(ctx)
		if errors.Is(err, ErrNoWaitingWorker) {
			return nil
		}
		return err
	case MessageClearCache:
		w := r.Controller()
		if w == nil {
			return ErrNoActiveWorker
		}
		return w.ClearCache(ctx)
	}
	return nil
}

// AddClient registers a page client.
func (r *Registration) AddClient() *Client {
	c := &Client{id: uuid.NewString(), events: make(chan Event, clientBuffer)}

	r.clientsMu.Lock()
	r.clients[c.id] = c
	r.clientsMu.Unlock()

	connectedClients.Inc()
	return c
}

// RemoveClient unregisters a page client and closes its event channel.
func (r *Registration) RemoveClient(id string) {
	r.clientsMu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		close(c.events)
	}
	r.clientsMu.Unlock()

	if ok {
		connectedClients.Dec()
	}
}

// Status returns a snapshot of the registration.
func (r *Registration) Status() Status {
	r.mu.RLock()
	active, waiting := r.active, r.waiting
	r.mu.RUnlock()

	r.clientsMu.Lock()
	clients := len(r.clients)
	r.clientsMu.Unlock()

	return Status{
		Active:  statusOf(active),
		Waiting: statusOf(waiting),
		Clients: clients,
	}
}

func statusOf(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{ID: w.ID(), Version: w.Version(), State: w.State()}
}

// RoundTrip sends req through the controller. Without a controller, or
// when the controller does not intercept req, it goes to the network.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if w := r.Controller(); w != nil {
		return w.RoundTrip(req)
	}
	passthroughRequests.Inc()
	return r.config.Upstream.Do(req)
}

// CheckForUpdate asks a running Run loop to check now. It never blocks.
func (r *Registration) CheckForUpdate() {
	select {
	case r.updateCh <- struct{}{}:
	default:
	}
}

// Run checks version() every interval, and whenever CheckForUpdate is
// called, until ctx is done.
func (r *Registration) Run(ctx context.Context, interval time.Duration, version func() string) {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.updateCh:
		}

		v := version()
		updated, err := r.Update(ctx, v)
		if err != nil {
			r.logger.Error().Err(err).Str("version", v).Msg("Update check failed")
			continue
		}
		if updated {
			r.logger.Info().Str("version", v).Msg("Worker updated")
		}
	}
}

// Wait blocks until background store writes of every worker have finished.
func (r *Registration) Wait() {
	r.pending.Wait()
}
