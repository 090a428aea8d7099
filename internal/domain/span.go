package domain

import "time"

// Span is a single timed unit of work within an execution.
// Pointer fields are nil when a fragment does not carry them.
type Span struct {
	ID         string           `json:"id"`
	ParentID   *string          `json:"parent_id"`
	Name       *string          `json:"name"`
	StartTime  *time.Time       `json:"start_time"`
	EndTime    *time.Time       `json:"end_time"`
	Attributes map[string]any   `json:"attributes"`
	Events     []SpanEvent      `json:"events"`
	Status     Status           `json:"status"`
	Links      []map[string]any `json:"links"`
}

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Time       *time.Time     `json:"time,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Status is the span completion status. An empty Code means the fragment
// did not report a status.
type Status struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message,omitempty"`
}

// Present reports whether the status was carried by the fragment.
func (s Status) Present() bool {
	return s.Code != ""
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
