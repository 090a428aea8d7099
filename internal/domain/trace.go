package domain

import (
	"errors"
	"time"
)

// ErrUnknownExecution is returned when an execution has no trace entry.
var ErrUnknownExecution = errors.New("unknown execution")

// TokenUsage aggregates model token consumption for an execution.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// TraceExecutionMetadata describes the execution a trace belongs to.
type TraceExecutionMetadata struct {
	ExecutionID string     `json:"execution_id"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	TraceID     string     `json:"trace_id,omitempty"`
	TokenUsage  TokenUsage `json:"token_usage"`
}

// ExecutionSummary holds the caller-known fields of an execution, used as
// fallback metadata until a snapshot arrives.
type ExecutionSummary struct {
	ExecutionID string     `json:"execution_id"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Metadata converts the summary into fallback trace metadata.
func (s ExecutionSummary) Metadata() TraceExecutionMetadata {
	return TraceExecutionMetadata{
		ExecutionID: s.ExecutionID,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
}

// TraceEntry is the merged view of one execution's trace.
// Entries are values: store operations return new entries instead of mutating.
type TraceEntry struct {
	ExecutionID   string                 `json:"execution_id"`
	TraceID       string                 `json:"trace_id,omitempty"`
	Metadata      TraceExecutionMetadata `json:"metadata"`
	Spans         map[string]Span        `json:"spans"`
	IsComplete    bool                   `json:"is_complete"`
	HasNextPage   bool                   `json:"has_next_page"`
	NextCursor    *string                `json:"next_cursor,omitempty"`
	LastUpdatedAt time.Time              `json:"last_updated_at"`
	Status        EntryStatus            `json:"status"`
	Error         string                 `json:"error,omitempty"`
}

// CanLoadMore reports whether another page can be requested.
func (e TraceEntry) CanLoadMore() bool {
	return e.HasNextPage && e.NextCursor != nil && *e.NextCursor != ""
}

// PageInfo is the pagination block of a snapshot response.
type PageInfo struct {
	HasNextPage bool    `json:"has_next_page"`
	Cursor      *string `json:"cursor"`
}

// SnapshotResponse is one page returned by the trace API.
type SnapshotResponse struct {
	Execution TraceExecutionMetadata `json:"execution"`
	Spans     []Span                 `json:"spans"`
	PageInfo  PageInfo               `json:"page_info"`
}

// LiveUpdate is an incremental push message for one execution.
type LiveUpdate struct {
	Type        MessageType `json:"type"`
	ExecutionID string      `json:"execution_id"`
	TraceID     string      `json:"trace_id,omitempty"`
	Spans       []Span      `json:"spans"`
	Complete    bool        `json:"complete"`
}

// ExecutionRef is an item of the execution listing.
type ExecutionRef struct {
	ExecutionID string `json:"execution_id"`
}
