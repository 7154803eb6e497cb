package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veil-waf/veil-netflow/internal/db"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// History supplies the hydration snapshot for new connections.
type History interface {
	Stats(ctx context.Context) (*db.Stats, error)
	RecentVerdicts(ctx context.Context, limit int) ([]db.VerdictEntry, error)
}

// Manager tracks active WebSocket connections and broadcasts verdicts.
type Manager struct {
	mu          sync.Mutex
	connections map[*websocket.Conn]*sync.Mutex
	logger      *slog.Logger
	history     History
}

// NewManager creates a new WebSocket manager. history may be nil when no
// verdict log is configured.
func NewManager(history History, logger *slog.Logger) *Manager {
	return &Manager{
		connections: make(map[*websocket.Conn]*sync.Mutex),
		history:     history,
		logger:      logger,
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	writeMu := &sync.Mutex{}
	m.hydrate(r.Context(), conn, writeMu)

	m.mu.Lock()
	m.connections[conn] = writeMu
	m.mu.Unlock()

	defer m.remove(conn)

	// Client messages are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

func (m *Manager) hydrate(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	if m.history == nil {
		return
	}

	if stats, err := m.history.Stats(ctx); err == nil {
		m.send(conn, writeMu, map[string]any{"type": "stats", "stats": stats})
	} else {
		m.logger.Warn("ws: hydrate stats failed", "err", err)
	}

	verdicts, err := m.history.RecentVerdicts(ctx, 20)
	if err != nil {
		m.logger.Warn("ws: hydrate verdicts failed", "err", err)
		return
	}
	// Oldest first, as if they had been streamed live.
	for i := len(verdicts) - 1; i >= 0; i-- {
		m.send(conn, writeMu, map[string]any{"type": "verdict", "verdict": verdicts[i]})
	}
}

// Broadcast sends one verdict to every connected client. Clients that fail
// the write are dropped.
func (m *Manager) Broadcast(v *db.VerdictEntry) {
	msg := map[string]any{"type": "verdict", "verdict": v}

	m.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(m.connections))
	for c, mu := range m.connections {
		conns[c] = mu
	}
	m.mu.Unlock()

	for conn, writeMu := range conns {
		if err := m.send(conn, writeMu, msg); err != nil {
			m.remove(conn)
		}
	}
}

func (m *Manager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	_, ok := m.connections[conn]
	delete(m.connections, conn)
	m.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (m *Manager) send(conn *websocket.Conn, writeMu *sync.Mutex, data map[string]any) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
