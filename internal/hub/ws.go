package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/tracelens/internal/logger"
	"github.com/xiaot623/gogo/tracelens/internal/viewer"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
)

// Projector returns the current view model of an execution.
type Projector interface {
	Project(executionID string) (viewer.Model, error)
}

// Server upgrades viewer requests and runs their socket pumps.
type Server struct {
	hub       *Hub
	projector Projector
	upgrader  websocket.Upgrader
}

// NewServer creates a websocket server for h.
func NewServer(h *Hub, p Projector) *Server {
	return &Server{
		hub:       h,
		projector: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket serves GET /v1/ws?execution_id=.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Logger.WithError(err).Warn("failed to upgrade viewer websocket")
		return err
	}

	executionID := c.QueryParam("execution_id")
	conn := s.hub.NewConnection(ws, executionID)
	s.hub.Register(conn)
	ws.SetReadLimit(maxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	if executionID != "" {
		s.sendProjection(conn, executionID)
	}
	return nil
}

func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Logger.WithError(err).WithField("conn_id", conn.ID).Warn("viewer websocket error")
			}
			return
		}
		s.handleMessage(conn, data)
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.setWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Logger.WithError(err).WithField("conn_id", conn.ID).Warn("failed to write to viewer")
				return
			}

		case <-ticker.C:
			conn.setWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(conn *Connection, data []byte) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "invalid JSON message")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if msg.ExecutionID == "" {
			s.sendError(conn, "execution_id is required")
			return
		}
		s.hub.Subscribe(conn, msg.ExecutionID)
		s.sendProjection(conn, msg.ExecutionID)
	default:
		s.sendError(conn, "unknown message type: "+msg.Type)
	}
}

// sendProjection pushes the current projection, when the execution is known.
func (s *Server) sendProjection(conn *Connection, executionID string) {
	model, err := s.projector.Project(executionID)
	if err != nil {
		return
	}
	s.hub.SendJSON(conn, ProjectionMessage{
		BaseMessage: base(TypeProjection, executionID),
		Trace:       model,
	})
}

func (s *Server) sendError(conn *Connection, message string) {
	s.hub.SendJSON(conn, ErrorMessage{
		BaseMessage: base(TypeError, conn.ExecutionID),
		Message:     message,
	})
}
