package api

import (
	"sync"

	"github.com/gorilla/websocket"
)

// connWithMutex wraps a WebSocket connection with its own mutex for thread-safe writes.
type connWithMutex struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WSConnectionManager tracks preview WebSocket connections per customizer
// session.
type WSConnectionManager struct {
	mu       sync.RWMutex
	sessions map[string]map[*websocket.Conn]*connWithMutex
}

// NewWSConnectionManager creates a new WebSocket connection manager.
func NewWSConnectionManager() *WSConnectionManager {
	return &WSConnectionManager{
		sessions: make(map[string]map[*websocket.Conn]*connWithMutex),
	}
}

// Add adds a connection to a session.
func (m *WSConnectionManager) Add(session string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.sessions[session]
	if conns == nil {
		conns = make(map[*websocket.Conn]*connWithMutex)
		m.sessions[session] = conns
	}
	conns[conn] = &connWithMutex{conn: conn}
}

// Remove removes a connection from a session.
func (m *WSConnectionManager) Remove(session string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.sessions[session]
	delete(conns, conn)
	if len(conns) == 0 {
		delete(m.sessions, session)
	}
}

// CloseSession closes and forgets every connection of a session.
func (m *WSConnectionManager) CloseSession(session string) {
	m.mu.Lock()
	conns := m.sessions[session]
	delete(m.sessions, session)
	m.mu.Unlock()

	for _, cwm := range conns {
		cwm.mu.Lock()
		_ = cwm.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
		cwm.mu.Unlock()
		_ = cwm.conn.Close()
	}
}

// Count reports the open connections of a session.
func (m *WSConnectionManager) Count(session string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[session])
}

// Broadcast sends a message to every connection of a session.
func (m *WSConnectionManager) Broadcast(session string, message any) {
	m.mu.RLock()
	// Copy the connections so writes happen without the main lock.
	conns := make([]*connWithMutex, 0, len(m.sessions[session]))
	for _, cwm := range m.sessions[session] {
		conns = append(conns, cwm)
	}
	m.mu.RUnlock()

	for _, cwm := range conns {
		cwm.mu.Lock()
		err := cwm.conn.WriteJSON(message)
		cwm.mu.Unlock()

		if err != nil {
			// Connection is dead, remove it
			m.Remove(session, cwm.conn)
		}
	}
}

// WriteJSON safely writes JSON to one connection of a session.
func (m *WSConnectionManager) WriteJSON(session string, conn *websocket.Conn, message any) error {
	m.mu.RLock()
	cwm, exists := m.sessions[session][conn]
	m.mu.RUnlock()

	if !exists {
		return conn.WriteJSON(message)
	}

	cwm.mu.Lock()
	defer cwm.mu.Unlock()
	return cwm.conn.WriteJSON(message)
}
