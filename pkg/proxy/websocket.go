package proxy

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/worker"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Non-browser clients send no Origin.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// wsReply is sent back for a control message received over the socket.
type wsReply struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// handleWS registers the page as a client of the registration. Text frames
// carry control messages; controllerchange events are pushed to the page.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	client := s.registration.AddClient()
	logger := s.logger.With().Str("client_id", client.ID()).Logger()
	logger.Info().Msg("Client connected")

	// gorilla/websocket allows one concurrent writer
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case event, ok := <-client.Events():
				if !ok {
					return
				}
				if err := write(event); err != nil {
					conn.Close()
					return
				}
			case <-ping.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			case <-s.closing:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
					time.Now().Add(wsWriteWait))
				writeMu.Unlock()
				conn.Close()
				return
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := worker.ParseMessage(data)
		if err == nil {
			err = s.registration.PostMessage(c.Request().Context(), msg)
		}
		reply := wsReply{Type: "ack"}
		if err != nil {
			logger.Warn().Err(err).Msg("Control message rejected")
			reply = wsReply{Type: "error", Error: err.Error()}
		}
		if err := write(reply); err != nil {
			break
		}
	}

	s.registration.RemoveClient(client.ID())
	<-done
	logger.Info().Msg("Client disconnected")
	return nil
}
