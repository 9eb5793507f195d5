package connector

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time view of the receiver.
type Stats struct {
	Listening         bool  `json:"listening"`
	ActiveConnections int   `json:"active_connections"`
	TotalAccepted     int64 `json:"total_accepted"`
	TotalRequests     int64 `json:"total_requests"`
}

type ConnectionManager struct {
	clients map[string]*ClientConnection
	// key: connection ID
	mu     sync.RWMutex
	logger *slog.Logger

	listening atomic.Bool
	accepted  atomic.Int64
	requests  atomic.Int64
}

func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		logger:  logger,
	}
}

// method to add a new connection
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	m.accepted.Add(1)
	m.logger.Debug("client_added",
		"client_id", client.ID,
		"active", len(m.clients),
	)
}

// method to remove a connection
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, client.ID)
	m.logger.Debug("client_removed",
		"client_id", client.ID,
		"active", len(m.clients),
	)
}

// InterruptAll unblocks every pending read so connection loops notice
// shutdown after finishing the request they are serving.
func (m *ConnectionManager) InterruptAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, client := range m.clients {
		client.Interrupt()
	}
}

// CloseAllConnections force-closes every connection, abandoning in-flight
// writes. Used when a graceful stop runs out of time.
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, client := range m.clients {
		client.Close()
		m.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
}

func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) Stats() Stats {
	return Stats{
		Listening:         m.listening.Load(),
		ActiveConnections: m.Count(),
		TotalAccepted:     m.accepted.Load(),
		TotalRequests:     m.requests.Load(),
	}
}

func (m *ConnectionManager) recordRequest() {
	m.requests.Add(1)
}
