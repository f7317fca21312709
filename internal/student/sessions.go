// Package student serves the student screen over a WebSocket: one flow per
// connection, with the private transcript kept by the browser.
package student

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks active student connections per device and tab.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a device and tab session.
func (m *SessionManager) GetActive(deviceID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[deviceID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Count returns the number of connected tabs.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Register adds a connection, closing any previous one for the same tab.
func (m *SessionManager) Register(deviceID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[deviceID]; !exists {
		m.active[deviceID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[deviceID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[deviceID][sessionID] = conn
	slog.Info("Student connection registered", "device_id", deviceID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one for its tab.
func (m *SessionManager) Unregister(deviceID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[deviceID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, deviceID)
			}
			slog.Info("Student connection unregistered", "device_id", deviceID, "session_id", sessionID)
		}
	}
}

// CloseAll terminates every connection, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for deviceID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, deviceID)
	}
}
