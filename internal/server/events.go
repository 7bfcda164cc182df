package server

import (
	"net/http"
	"time"

	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

// handleEvents streams mutations of one event type as JSON messages over a
// WebSocket. The event name is validated before the upgrade.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}

	event := r.URL.Query().Get("event")
	if err := pagination.ValidateEventName(event); err != nil {
		s.writeEngineError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("resource", res.Controller.Name()).Str("event", event).Logger()

	events := make(chan pagination.Mutation, eventBuffer)
	unsubscribe, err := res.Controller.On(event, func(m pagination.Mutation) {
		select {
		case events <- m:
		default:
			logger.Warn().Msg("Event stream client too slow, dropping event")
		}
	})
	if err != nil {
		return
	}
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("Event stream closed")
				}
				return
			}
		}
	}()

	logger.Debug().Msg("Event stream opened")
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case m := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(m); err != nil {
				logger.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		}
	}
}
