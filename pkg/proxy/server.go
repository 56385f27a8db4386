// Package proxy exposes the caching worker over HTTP: a reverse proxy in
// front of the dashboard origin plus the control, health and metrics
// endpoints.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/logging"
	"github.com/Sternrassler/botdash-proxy/pkg/metrics"
	"github.com/Sternrassler/botdash-proxy/pkg/worker"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Control endpoint paths.
const (
	PathMessage = "/__sw/message"
	PathWS      = "/__sw/ws"
	PathStatus  = "/__sw/status"
)

// Config holds the server dependencies.
type Config struct {
	// Origin is the dashboard origin requests are forwarded to.
	Origin *url.URL

	// Registration answers forwarded requests and control messages.
	Registration *worker.Registration

	// Storage is checked by the readiness probe and listed by the status endpoint.
	Storage cache.Storage
}

// Server is the HTTP surface of the proxy.
type Server struct {
	echo         *echo.Echo
	origin       *url.URL
	registration *worker.Registration
	storage      cache.Storage
	logger       zerolog.Logger

	// closing is closed on Shutdown so hijacked websocket connections end
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a server with every route registered.
func New(cfg Config) *Server {
	if cfg.Origin == nil || cfg.Registration == nil || cfg.Storage == nil {
		panic("proxy origin, registration and storage are required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		origin:       cfg.Origin,
		registration: cfg.Registration,
		storage:      cfg.Storage,
		logger:       logging.NewLogger("proxy"),
		closing:      make(chan struct{}),
	}

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST(PathMessage, s.handleMessage)
	e.GET(PathWS, s.handleWS)
	e.GET(PathStatus, s.handleStatus)

	e.Any("/*", s.handleForward)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Str("origin", s.origin.String()).Msg("Starting proxy server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes websocket clients and waits for
// in-flight requests and background cache writes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	err := s.echo.Shutdown(ctx)
	s.registration.Wait()
	return err
}

// requestLogger logs every request through zerolog.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil {
				event = s.logger.Warn().Err(v.Error)
			}
			event.
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("from_cache", c.Response().Header().Get(cache.HeaderFromCache)).
				Msg("Request handled")
			return nil
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleReady reports ready once the storage answers and a worker controls
// requests.
func (s *Server) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.storage.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed: storage unavailable")
		return c.String(http.StatusServiceUnavailable, "storage unavailable")
	}
	if s.registration.Controller() == nil {
		return c.String(http.StatusServiceUnavailable, "no active worker")
	}
	return c.String(http.StatusOK, "OK")
}
