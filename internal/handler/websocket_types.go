// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	TopicStatus   = "status"
	TopicSnapshot = "snapshot"
)

// Client represents a WebSocket stream client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mutex         sync.RWMutex
	subscriptions map[string]bool
	closed        bool
}

// NewClient creates a client subscribed to every topic
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:          id,
		Connection:  conn,
		Send:        make(chan []byte, 256),
		ConnectedAt: time.Now(),
		subscriptions: map[string]bool{
			TopicStatus:   true,
			TopicSnapshot: true,
		},
	}
}

// TrySend queues message without blocking. It reports false when the send
// buffer is full or the client is gone.
func (c *Client) TrySend(message []byte) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// close closes the send channel once
func (c *Client) close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// SetSubscription turns a topic on or off
func (c *Client) SetSubscription(topic string, on bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.subscriptions[topic] = on
}

// IsSubscribed reports whether the client wants messages of topic
func (c *Client) IsSubscribed(topic string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.subscriptions[topic]
}

// Topics returns the active subscriptions
func (c *Client) Topics() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var topics []string
	for _, topic := range []string{TopicStatus, TopicSnapshot} {
		if c.subscriptions[topic] {
			topics = append(topics, topic)
		}
	}
	return topics
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// SnapshotMessage is the payload of a snapshot push
type SnapshotMessage struct {
	Version uint64      `json:"version"`
	Series  interface{} `json:"series"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	manager := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}

	go manager.run()
	return manager
}

// run starts the connection manager
func (cm *ConnectionManager) run() {
	for {
		select {
		case client := <-cm.register:
			cm.mutex.Lock()
			cm.clients[client.ID] = client
			cm.mutex.Unlock()

		case client := <-cm.unregister:
			cm.mutex.Lock()
			if _, ok := cm.clients[client.ID]; ok {
				delete(cm.clients, client.ID)
				client.close()
			}
			cm.mutex.Unlock()
		}
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.register <- client
}

// Unregister unregisters a client
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.unregister <- client
}

// GetSubscribers returns the clients subscribed to topic
func (cm *ConnectionManager) GetSubscribers(topic string) []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var clients []*Client
	for _, client := range cm.clients {
		if client.IsSubscribed(topic) {
			clients = append(clients, client)
		}
	}
	return clients
}

// Count returns the number of connected clients
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.clients)
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByTopic:          make(map[string]int),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		for _, topic := range client.Topics() {
			stats.ByTopic[topic]++
		}
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByTopic          map[string]int `json:"by_topic"`
	Clients          []*Client      `json:"clients"`
}
