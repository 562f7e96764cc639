package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/agent"
	"github.com/incidentops/incident-agent/internal/metrics"
)

// WebSocket message types
const (
	MessageTypeEvent     = "event"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypeError     = "error"
)

// WSMessage is the frame sent to stream subscribers.
type WSMessage struct {
	Type      string       `json:"type"`
	Event     *agent.Event `json:"event,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

const heartbeatInterval = 30 * time.Second

// wsConn wraps a websocket connection with a write lock, so the event pump
// and the heartbeat ticker can share it.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg *WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		return err
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	return nil
}

// upgrader builds a websocket upgrader that enforces the configured origin
// allowlist. "*" allows any origin.
func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.config.Server.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleInvestigationStream upgrades the connection and relays live loop
// events for one investigation until the client disconnects or the
// investigation reaches a terminal event.
func (s *Server) handleInvestigationStream(w http.ResponseWriter, r *http.Request) {
	investigationID := r.PathValue("id")

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("investigation_id", investigationID), zap.Error(err))
		return
	}

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	c := &wsConn{conn: conn}
	events, unsubscribe := s.engine.Broker().Subscribe(investigationID)
	defer unsubscribe()
	defer conn.Close()

	s.logger.Debug("websocket stream opened",
		zap.String("investigation_id", investigationID))

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// what detects disconnects and answers close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-done:
			return

		case <-ticker.C:
			if err := c.send(&WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()}); err != nil {
				return
			}

		case ev := <-events:
			if err := c.send(&WSMessage{Type: MessageTypeEvent, Event: &ev, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
			if ev.Type == agent.EventCompleted || ev.Type == agent.EventFailed {
				c.mu.Lock()
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type)))
				c.mu.Unlock()
				return
			}
		}
	}
}
