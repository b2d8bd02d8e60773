package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ConnectionManager bridges the in-process bus to WebSocket clients. Each
// client subscribes to topics over the socket; the manager opens one bus
// subscription per (connection, topic) and pumps events out as they arrive.
// There is no catch-up: a client that connects late or falls behind re-reads
// the document over REST.
type ConnectionManager struct {
	bus *Bus

	// Active connections: connection id → *Connection.
	connections map[string]*Connection
	mu          sync.RWMutex

	// Topic subscriptions: topic → set of connection ids. Only used for
	// observability; delivery runs through per-connection bus subscriptions.
	topics  map[string]map[string]bool
	topicMu sync.RWMutex

	writeTimeout time.Duration
	heartbeat    time.Duration
}

// Connection is one WebSocket client.
//
// subscriptions is accessed without a lock. This is safe because all reads
// and writes happen on the goroutine that owns the connection
// (HandleConnection's read loop and its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]*Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a manager over the given bus. heartbeat <= 0
// disables server-side heartbeats.
func NewConnectionManager(bus *Bus, writeTimeout, heartbeat time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		connections:  make(map[string]*Connection),
		topics:       make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
		heartbeat:    heartbeat,
	}
}

// HandleConnection owns the lifecycle of one WebSocket connection. Called by
// the HTTP handler after upgrade; blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]*Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	if m.heartbeat > 0 {
		go m.heartbeatLoop(c)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection closed or errored; exit the read loop.
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the count of open WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a topic.
// Unexported, used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(topic string) int {
	m.topicMu.RLock()
	defer m.topicMu.RUnlock()
	return len(m.topics[topic])
}

// CloseAll tears down every connection. Called on server shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.Conn.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
	}
}

func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if !ValidTopic(msg.Topic) {
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"topic":   msg.Topic,
				"message": "unknown topic",
			})
			return
		}
		if err := m.subscribe(c, msg.Topic); err != nil {
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"topic":   msg.Topic,
				"message": "failed to subscribe",
			})
			return
		}
		m.sendJSON(c, map[string]string{
			"type":  "subscription.confirmed",
			"topic": msg.Topic,
		})

	case "unsubscribe":
		if msg.Topic == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "topic is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Topic)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	default:
		m.sendJSON(c, map[string]string{"type": "error", "message": "unknown action " + msg.Action})
	}
}

// subscribe opens a bus subscription for the topic and starts its pump.
// Subscribing twice to the same topic is a no-op.
func (m *ConnectionManager) subscribe(c *Connection, topic string) error {
	if _, exists := c.subscriptions[topic]; exists {
		return nil
	}
	sub, err := m.bus.Subscribe(topic)
	if err != nil {
		return err
	}
	c.subscriptions[topic] = sub

	m.topicMu.Lock()
	if _, exists := m.topics[topic]; !exists {
		m.topics[topic] = make(map[string]bool)
	}
	m.topics[topic][c.ID] = true
	m.topicMu.Unlock()

	go m.pump(c, topic, sub)
	return nil
}

// unsubscribe closes the topic's bus subscription, which ends its pump.
func (m *ConnectionManager) unsubscribe(c *Connection, topic string) {
	sub, exists := c.subscriptions[topic]
	if !exists {
		return
	}
	sub.Close()
	delete(c.subscriptions, topic)

	m.topicMu.Lock()
	if subs, exists := m.topics[topic]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.topics, topic)
		}
	}
	m.topicMu.Unlock()
}

// pump copies bus events for one subscription onto the socket. Exits when
// the subscription closes, the connection context ends, or a write fails;
// a failed write means the client is gone and the read loop is about to
// notice.
func (m *ConnectionManager) pump(c *Connection, topic string, sub *Subscription) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if err := m.sendRaw(c, msg.Data); err != nil {
				slog.Warn("Failed to send to WebSocket client",
					"connection_id", c.ID, "topic", topic, "error", err)
				return
			}
		}
	}
}

// heartbeatLoop sends periodic heartbeats so intermediaries keep the
// connection open across quiet topics.
func (m *ConnectionManager) heartbeatLoop(c *Connection) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			m.sendJSON(c, map[string]string{"type": "heartbeat"})
		}
	}
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and closes all its
// subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for topic := range c.subscriptions {
		m.unsubscribe(c, topic)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends one message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes with the configured write timeout. Safe for
// concurrent use; the underlying connection serializes frames.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
