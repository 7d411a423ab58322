package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrTransport wraps failed writes to a live connection.
	ErrTransport = errors.New("transport failure")
	// ErrUnknownConnection is returned when routing to a connection that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Conn is the part of a websocket connection the manager needs.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type client struct {
	id   string
	conn Conn

	// gorilla connections allow a single concurrent writer.
	writeMu sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Manager tracks live client connections and multiplexes progress events to them.
type Manager struct {
	Upgrader websocket.Upgrader
	Logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	order   []string
}

func NewManager() *Manager {
	return &Manager{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		Logger:  slog.Default(),
		clients: make(map[string]*client),
	}
}

// Connect completes the websocket handshake and registers the connection.
// Nothing is registered when the handshake fails.
func (m *Manager) Connect(w http.ResponseWriter, r *http.Request) (string, Conn, error) {
	conn, err := m.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return "", nil, fmt.Errorf("websocket handshake failed: %w", err)
	}
	return m.Register(conn), conn, nil
}

// Register adds an established connection and returns its identifier.
func (m *Manager) Register(conn Conn) string {
	id := uuid.NewString()

	m.mu.Lock()
	m.clients[id] = &client{id: id, conn: conn}
	m.order = append(m.order, id)
	m.mu.Unlock()

	m.Logger.Info("Client connected", "connection_id", id)
	return id
}

// Disconnect removes and closes a connection. Unknown ids are ignored.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	c, ok := m.clients[id]
	if ok {
		delete(m.clients, id)
		for i, cid := range m.order {
			if cid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = c.conn.Close()
	m.Logger.Info("Client disconnected", "connection_id", id)
}

// IDs returns the registered connection ids in connection order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Send delivers the event to its target connection, or to every connection
// when no target is set. A connection whose write fails is disconnected and
// delivery continues with the others.
func (m *Manager) Send(ctx context.Context, event Event) error {
	if event.Target != "" {
		m.mu.RLock()
		c, ok := m.clients[event.Target]
		m.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConnection, event.Target)
		}
		return m.deliver(c, event)
	}

	m.mu.RLock()
	targets := make([]*client, 0, len(m.order))
	for _, id := range m.order {
		targets = append(targets, m.clients[id])
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = m.deliver(c, event)
	}
	return nil
}

func (m *Manager) deliver(c *client, event Event) error {
	if err := c.write(event); err != nil {
		m.Logger.Warn("Dropping connection after failed send", "connection_id", c.id, "error", err)
		m.Disconnect(c.id)
		return fmt.Errorf("%w: %s: %v", ErrTransport, c.id, err)
	}
	return nil
}

// For returns a Sink that routes every event to one connection.
func (m *Manager) For(id string) Sink {
	return SinkFunc(func(ctx context.Context, event Event) error {
		event.Target = id
		return m.Send(ctx, event)
	})
}

// Reply writes a message directly to one connection, outside the event format.
func (m *Manager) Reply(id string, v interface{}) error {
	m.mu.RLock()
	c, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if err := c.write(v); err != nil {
		m.Disconnect(id)
		return fmt.Errorf("%w: %s: %v", ErrTransport, id, err)
	}
	return nil
}
