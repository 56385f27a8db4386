package proxy

import (
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/Sternrassler/botdash-proxy/pkg/worker"
	"github.com/labstack/echo/v4"
)

// maxMessageSize bounds control message bodies and websocket frames.
const maxMessageSize = 4 * 1024

// statusResponse is the body of the status endpoint.
type statusResponse struct {
	worker.Status
	Stores []string `json:"stores"`
}

// handleMessage accepts a JSON control message.
func (s *Server) handleMessage(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxMessageSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read message")
	}

	msg, err := worker.ParseMessage(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.registration.PostMessage(c.Request().Context(), msg); err != nil {
		return messageError(err)
	}

	s.logger.Info().Str("type", string(msg.Type)).Msg("Control message handled")
	return c.NoContent(http.StatusNoContent)
}

// messageError maps PostMessage errors onto HTTP errors.
func messageError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, worker.ErrUnknownMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, worker.ErrNoActiveWorker):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}

// handleStatus reports the workers and the existing stores.
func (s *Server) handleStatus(c echo.Context) error {
	stores, err := s.storage.Keys(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable").SetInternal(err)
	}
	sort.Strings(stores)
	if stores == nil {
		stores = []string{}
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status: s.registration.Status(),
		Stores: stores,
	})
}
