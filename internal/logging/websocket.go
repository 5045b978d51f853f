package logging

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WebsocketSink broadcasts log records to every connected viewer over a raw
// websocket connection. Grounded on github.com/gobwas/ws, the websocket
// library every chromedp-based repo in the retrieval pack already pulls in
// transitively for the Chrome DevTools Protocol connection.
type WebsocketSink struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewWebsocketSink constructs an empty sink. Call Serve to accept viewers.
func NewWebsocketSink() *WebsocketSink {
	return &WebsocketSink{conns: make(map[net.Conn]struct{})}
}

// Serve upgrades incoming HTTP connections to websockets and registers them
// as log viewers. Intended to be mounted at a dedicated listener/port
// (log.websocket_port), separate from the export HTTP API.
func (s *WebsocketSink) Serve(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go s.drainUntilClosed(conn)
}

// drainUntilClosed removes a connection from the broadcast set once reading
// from the viewer fails (e.g. it disconnected). Anything the viewer sends is
// read and discarded; the sink is output-only.
func (s *WebsocketSink) drainUntilClosed(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.Write(LevelVerbose, "log websocket viewer disconnected", "viewers", s.Viewers())
	}()
	for {
		if _, _, err := wsutil.ReadClientData(conn); err != nil {
			return
		}
	}
}

type record struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Args      []any     `json:"args,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func levelName(l Level) string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNotice:
		return "notice"
	case LevelVerbose:
		return "verbose"
	default:
		return "silent"
	}
}

// Write implements Sink. Broadcasts are best-effort; a slow or dead viewer
// is dropped rather than allowed to block logging for the rest of the
// process.
func (s *WebsocketSink) Write(level Level, msg string, args ...any) {
	payload, err := json.Marshal(record{
		Level:     levelName(level),
		Message:   msg,
		Args:      args,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
			delete(s.conns, conn)
			conn.Close()
		}
	}
}

// Close disconnects every viewer.
func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
	return nil
}

// Viewers reports the current number of connected log viewers.
func (s *WebsocketSink) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
