// Package stream consumes the live trace push channel over WebSocket.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler receives every decoded trace update.
type Handler func(ctx context.Context, update domain.LiveUpdate) error

// baseMessage is used to read the type discriminator before decoding.
type baseMessage struct {
	Type domain.MessageType `json:"type"`
}

// Client keeps a connection to the push channel open and dispatches updates.
type Client struct {
	url            string
	dialer         *websocket.Dialer
	handler        Handler
	reconnectDelay time.Duration
	maxDelay       time.Duration
}

// NewClient creates a push channel client for the given ws:// or wss:// URL.
func NewClient(url string, handler Handler) *Client {
	return &Client{
		url:            url,
		dialer:         websocket.DefaultDialer,
		handler:        handler,
		reconnectDelay: time.Second,
		maxDelay:       30 * time.Second,
	}
}

// Run connects and reads until ctx is done, reconnecting with a linearly
// growing delay after every failure.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures++
		delay := c.reconnectDelay * time.Duration(failures)
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
		logger.Logger.WithError(err).WithField("retry_in", delay).Warn("push channel disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	logger.Logger.WithField("url", c.url).Info("push channel connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var base baseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		logger.Logger.WithError(err).Warn("invalid push message")
		return
	}

	switch base.Type {
	case domain.MessageTypeTraceUpdate:
		var update domain.LiveUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			logger.Logger.WithError(err).Warn("invalid trace update")
			return
		}
		if err := c.handler(ctx, update); err != nil {
			logger.WithExecution(update.ExecutionID).WithError(err).Warn("trace update rejected")
		}
	default:
		logger.Logger.WithField("type", base.Type).Debug("ignoring push message")
	}
}
