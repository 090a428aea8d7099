package hub

import (
	"time"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/logger"
	"github.com/xiaot623/gogo/tracelens/internal/service"
	"github.com/xiaot623/gogo/tracelens/internal/store"
	"github.com/xiaot623/gogo/tracelens/internal/viewer"
)

// Message types exchanged with viewers.
const (
	TypeSubscribe    = "subscribe"
	TypeProjection   = "trace:projection"
	TypeNotification = "notification"
	TypeError        = "error"
)

// BaseMessage carries the fields common to every viewer message.
type BaseMessage struct {
	Type        string `json:"type"`
	Ts          int64  `json:"ts"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// SubscribeMessage switches a viewer to another execution.
type SubscribeMessage struct {
	BaseMessage
}

// ProjectionMessage carries the current view model of an execution.
type ProjectionMessage struct {
	BaseMessage
	Trace viewer.Model `json:"trace"`
}

// NotificationMessage carries a fetch failure.
type NotificationMessage struct {
	BaseMessage
	Notification service.Notification `json:"notification"`
}

// ErrorMessage reports a bad viewer request.
type ErrorMessage struct {
	BaseMessage
	Message string `json:"message"`
}

func base(msgType, executionID string) BaseMessage {
	return BaseMessage{Type: msgType, Ts: time.Now().UnixMilli(), ExecutionID: executionID}
}

// Projections returns a store observer that pushes a fresh projection of
// every changed entry to its viewers.
func (h *Hub) Projections(resolve viewer.ArtifactResolver) store.Observer {
	return func(entry domain.TraceEntry) {
		if !h.Watched(entry.ExecutionID) {
			return
		}
		msg := ProjectionMessage{
			BaseMessage: base(TypeProjection, entry.ExecutionID),
			Trace:       viewer.Project(entry, resolve),
		}
		if err := h.PublishJSON(entry.ExecutionID, msg); err != nil {
			logger.WithExecution(entry.ExecutionID).WithError(err).Error("failed to publish projection")
		}
	}
}

// Notify implements service.Notifier.
func (h *Hub) Notify(n service.Notification) {
	msg := NotificationMessage{
		BaseMessage:  base(TypeNotification, n.ExecutionID),
		Notification: n,
	}
	if err := h.PublishJSON(n.ExecutionID, msg); err != nil {
		logger.WithExecution(n.ExecutionID).WithError(err).Error("failed to publish notification")
	}
}
