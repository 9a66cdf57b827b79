package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/pulse/async"
)

// WebSocket timeouts, as in the gorilla chat example
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients only send control frames
	maxMessageSize = 512
)

// JobEvent is one message on /ws/jobs
type JobEvent struct {
	Type string     `json:"type"` // always "job"
	Job  *async.Job `json:"job"`
}

// jobStream is one websocket subscriber
type jobStream struct {
	id      string
	conn    *websocket.Conn
	updates chan *async.Job
	closed  chan struct{} // read pump exited
}

// handleJobStream upgrades to a websocket and pushes every job transition
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so no transition after it is missed
	updates := s.deps.Jobs.Subscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.deps.Jobs.Unsubscribe(updates)
		s.logger.Warnw("WebSocket upgrade failed", logger.FieldError, err, "remote", r.RemoteAddr)
		return
	}

	stream := &jobStream{
		id:      uuid.NewString(),
		conn:    conn,
		updates: updates,
		closed:  make(chan struct{}),
	}
	s.logger.Infow("Job stream connected", "client_id", shortID(stream.id), "remote", r.RemoteAddr)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readPump(stream)
	}()
	go func() {
		defer s.wg.Done()
		s.writePump(stream)
	}()
}

// readPump discards client messages and tracks pongs. It exits when the
// peer goes away, which unblocks the write pump.
func (s *Server) readPump(c *jobStream) {
	defer close(c.closed)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugw("Job stream read error", "client_id", shortID(c.id), logger.FieldError, err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *jobStream) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.deps.Jobs.Unsubscribe(c.updates)
		c.conn.Close()
		s.logger.Infow("Job stream disconnected", "client_id", shortID(c.id))
	}()

	for {
		select {
		case <-s.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-c.closed:
			return

		case job := <-c.updates:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(JobEvent{Type: "job", Job: job}); err != nil {
				s.logger.Debugw("Job stream write error", "client_id", shortID(c.id), logger.FieldError, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// checkOrigin allows requests without an Origin header and origins that
// prefix-match the configured list, so any port is accepted
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g., direct WebSocket clients, testing)
	if origin == "" {
		return true
	}

	if len(s.cfg.AllowedOrigins) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1")
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}
