// Package domain defines the core domain models for the trace engine.
package domain

// StatusCode is the OpenTelemetry-style status of a span.
type StatusCode string

const (
	StatusCodeUnset StatusCode = "UNSET"
	StatusCodeOK    StatusCode = "OK"
	StatusCodeError StatusCode = "ERROR"
)

// EntryStatus represents the load state of a trace entry.
type EntryStatus string

const (
	EntryStatusIdle    EntryStatus = "idle"
	EntryStatusLoading EntryStatus = "loading"
	// EntryStatusPending means the trace API answered 404: the trace is not available yet.
	EntryStatusPending EntryStatus = "pending"
	EntryStatusReady   EntryStatus = "ready"
	EntryStatusError   EntryStatus = "error"
)

// FetchMode selects how a snapshot page is requested and applied.
type FetchMode string

const (
	FetchModeRefresh  FetchMode = "refresh"
	FetchModeLoadMore FetchMode = "loadMore"
)

// MessageType is the discriminator of push channel messages.
type MessageType string

const (
	MessageTypeTraceUpdate MessageType = "trace:update"
)
