// Package store holds merged trace entries in a bounded, access-ordered cache.
package store

import (
	"time"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/span"
)

// SnapshotOptions controls how a snapshot page is applied.
type SnapshotOptions struct {
	// ReplaceSpans treats the page as an authoritative correction for the
	// spans it carries. Spans absent from the page are never removed.
	ReplaceSpans bool
}

// PrimeEntry returns existing when set, otherwise an empty entry whose
// metadata comes from the fallback summary.
func PrimeEntry(existing *domain.TraceEntry, executionID string, fallback domain.ExecutionSummary) domain.TraceEntry {
	if existing != nil {
		return *existing
	}
	md := fallback.Metadata()
	md.ExecutionID = executionID
	return domain.TraceEntry{
		ExecutionID: executionID,
		Metadata:    md,
		Spans:       map[string]domain.Span{},
		Status:      domain.EntryStatusIdle,
	}
}

// ApplySnapshot merges a snapshot page into entry and returns the new entry.
func ApplySnapshot(entry domain.TraceEntry, resp domain.SnapshotResponse, opts SnapshotOptions, now time.Time) domain.TraceEntry {
	out := cloneEntry(entry)

	merge := span.Merge
	if opts.ReplaceSpans {
		merge = span.MergeAuthoritative
	}
	mergeSpans(out.Spans, resp.Spans, merge)

	out.Metadata = mergeMetadata(out.Metadata, resp.Execution)
	out.Metadata.ExecutionID = out.ExecutionID
	if resp.Execution.TraceID != "" {
		out.TraceID = resp.Execution.TraceID
	}
	out.HasNextPage = resp.PageInfo.HasNextPage
	out.NextCursor = nil
	if resp.PageInfo.Cursor != nil {
		c := *resp.PageInfo.Cursor
		out.NextCursor = &c
	}
	out.IsComplete = out.IsComplete || !resp.PageInfo.HasNextPage
	out.LastUpdatedAt = now
	return out
}

// ApplyLiveUpdate merges a pushed update into entry. Live data is always
// additive.
func ApplyLiveUpdate(entry domain.TraceEntry, update domain.LiveUpdate, now time.Time) domain.TraceEntry {
	out := cloneEntry(entry)
	mergeSpans(out.Spans, update.Spans, span.Merge)
	if update.TraceID != "" {
		out.TraceID = update.TraceID
		out.Metadata.TraceID = update.TraceID
	}
	out.IsComplete = out.IsComplete || update.Complete
	out.LastUpdatedAt = now
	return out
}

func mergeSpans(dst map[string]domain.Span, incoming []domain.Span, merge func(*domain.Span, domain.Span) domain.Span) {
	for _, s := range incoming {
		if s.ID == "" {
			continue
		}
		if prev, ok := dst[s.ID]; ok {
			dst[s.ID] = merge(&prev, s)
			continue
		}
		dst[s.ID] = merge(nil, s)
	}
}

func mergeMetadata(prev, next domain.TraceExecutionMetadata) domain.TraceExecutionMetadata {
	out := prev
	if next.Status != "" {
		out.Status = next.Status
	}
	if next.StartedAt != nil {
		out.StartedAt = next.StartedAt
	}
	if next.FinishedAt != nil {
		out.FinishedAt = next.FinishedAt
	}
	if next.TraceID != "" {
		out.TraceID = next.TraceID
	}
	if next.TokenUsage != (domain.TokenUsage{}) {
		out.TokenUsage = next.TokenUsage
	}
	return out
}

// cloneEntry copies the span map so the returned entry can be modified
// without affecting readers of the original. Spans are replaced, never
// mutated, so they are shared.
func cloneEntry(entry domain.TraceEntry) domain.TraceEntry {
	out := entry
	out.Spans = make(map[string]domain.Span, len(entry.Spans))
	for id, s := range entry.Spans {
		out.Spans[id] = s
	}
	return out
}
