// Package hub fans trace projections and fetch notifications out to
// websocket viewers subscribed to an execution.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/xiaot623/gogo/tracelens/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Connection is a single viewer socket.
type Connection struct {
	ID          string
	ExecutionID string
	Conn        *websocket.Conn
	Send        chan []byte
	mu          sync.Mutex
}

// Hub tracks viewer connections by the execution they watch.
type Hub struct {
	connections map[string]*Connection
	// executions maps execution_id to the set of subscribed connection ids.
	executions map[string]map[string]bool

	unregister chan *Connection
	done       chan struct{}
	broadcast  chan *executionMessage

	mu sync.RWMutex
}

type executionMessage struct {
	executionID string
	data        []byte
}

// New creates a Hub. Call Run to start delivering messages.
func New() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		executions:  make(map[string]map[string]bool),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		broadcast:   make(chan *executionMessage, 256),
	}
}

// Run is the hub main loop. It returns when ctx is done, closing every
// connection's send buffer.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
			}
			h.executions = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.unbind(conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			logger.Logger.WithField("conn_id", conn.ID).Debug("viewer disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.executions[msg.executionID] {
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				select {
				case conn.Send <- msg.data:
				default:
					logger.Logger.WithField("conn_id", connID).Warn("viewer buffer full, closing")
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps a socket; it is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn, executionID string) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Conn:        ws,
		Send:        make(chan []byte, 256),
	}
}

// Register adds a connection to the hub. The connection can receive
// messages as soon as Register returns.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		close(conn.Send)
		return
	default:
	}
	h.connections[conn.ID] = conn
	if conn.ExecutionID != "" {
		h.bind(conn, conn.ExecutionID)
	}
	h.mu.Unlock()
	logger.Logger.WithField("conn_id", conn.ID).WithField("execution_id", conn.ExecutionID).Debug("viewer connected")
}

// Unregister removes a connection and closes its send buffer.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Subscribe moves a connection to another execution.
func (h *Hub) Subscribe(conn *Connection, executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbind(conn)
	h.bind(conn, executionID)
}

func (h *Hub) bind(conn *Connection, executionID string) {
	conn.ExecutionID = executionID
	if h.executions[executionID] == nil {
		h.executions[executionID] = make(map[string]bool)
	}
	h.executions[executionID][conn.ID] = true
}

func (h *Hub) unbind(conn *Connection) {
	if conn.ExecutionID == "" || h.executions[conn.ExecutionID] == nil {
		return
	}
	delete(h.executions[conn.ExecutionID], conn.ID)
	if len(h.executions[conn.ExecutionID]) == 0 {
		delete(h.executions, conn.ExecutionID)
	}
}

// Publish queues data for every viewer of an execution. Messages for
// executions nobody watches are dropped.
func (h *Hub) Publish(executionID string, data []byte) {
	if !h.Watched(executionID) {
		return
	}
	h.broadcast <- &executionMessage{executionID: executionID, data: data}
}

// PublishJSON encodes v and publishes it.
func (h *Hub) PublishJSON(executionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(executionID, data)
	return nil
}

// SendJSON queues v for a single connection. It returns ErrConnectionClosed
// once the connection has been unregistered.
func (h *Hub) SendJSON(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Watched reports whether any connection is subscribed to the execution.
func (h *Hub) Watched(executionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.executions[executionID]) > 0
}

// WriteMessage writes to the socket under the connection lock.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) setWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// Close closes the socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = errors.New("connection closed")

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a full send buffer.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
