// Package viewer derives display-ready models from trace entries.
package viewer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/logger"
	"github.com/xiaot623/gogo/tracelens/internal/span"
)

// Attribute keys read from spans when the execution metadata has no token usage.
const (
	AttrInputTokens  = "gen_ai.usage.input_tokens"
	AttrOutputTokens = "gen_ai.usage.output_tokens"
)

// Model is the projection of one trace entry.
type Model struct {
	ExecutionID   string             `json:"execution_id"`
	TraceID       string             `json:"trace_id,omitempty"`
	Status        domain.EntryStatus `json:"status"`
	Error         string             `json:"error,omitempty"`
	Tree          []*span.Node       `json:"tree"`
	Summary       Summary            `json:"summary"`
	Badges        []Badge            `json:"badges"`
	ArtifactLinks map[string]string  `json:"artifact_links"`
	IsComplete    bool               `json:"is_complete"`
	HasNextPage   bool               `json:"has_next_page"`
}

// Summary holds the headline numbers of a trace.
type Summary struct {
	SpanCount   int         `json:"span_count"`
	DurationMs  int64       `json:"duration_ms"`
	TokenTotals TokenTotals `json:"token_totals"`
}

// TokenTotals sums token usage over the execution.
type TokenTotals struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Badge is a short status label.
type Badge struct {
	Label string `json:"label"`
}

// Project builds the view model of entry. The span tree is rebuilt on every
// call. Artifact references that fail to resolve are left out.
func Project(entry domain.TraceEntry, resolve ArtifactResolver) Model {
	tree := span.BuildTree(entry.Spans)
	return Model{
		ExecutionID:   entry.ExecutionID,
		TraceID:       entry.TraceID,
		Status:        entry.Status,
		Error:         entry.Error,
		Tree:          tree,
		Summary:       summarize(entry),
		Badges:        badges(entry),
		ArtifactLinks: resolveArtifacts(entry, resolve),
		IsComplete:    entry.IsComplete,
		HasNextPage:   entry.HasNextPage,
	}
}

func summarize(entry domain.TraceEntry) Summary {
	s := Summary{SpanCount: len(entry.Spans)}

	md := entry.Metadata
	if md.StartedAt != nil && md.FinishedAt != nil {
		if d := md.FinishedAt.Sub(*md.StartedAt).Milliseconds(); d > 0 {
			s.DurationMs = d
		}
	}

	in, out := md.TokenUsage.Input, md.TokenUsage.Output
	if in == 0 && out == 0 {
		for _, sp := range entry.Spans {
			in += intAttr(sp.Attributes[AttrInputTokens])
			out += intAttr(sp.Attributes[AttrOutputTokens])
		}
	}
	s.TokenTotals = TokenTotals{Input: in, Output: out, Total: in + out}
	return s
}

func badges(entry domain.TraceEntry) []Badge {
	out := make([]Badge, 0, 5)
	if entry.Metadata.Status != "" {
		out = append(out, Badge{Label: strings.ToLower(entry.Metadata.Status)})
	}
	if entry.IsComplete {
		out = append(out, Badge{Label: "complete"})
	} else {
		out = append(out, Badge{Label: "live"})
	}
	if entry.HasNextPage {
		out = append(out, Badge{Label: "partial"})
	}

	errorSpans := 0
	for _, sp := range entry.Spans {
		if sp.Status.Code == domain.StatusCodeError {
			errorSpans++
		}
	}
	switch {
	case errorSpans == 1:
		out = append(out, Badge{Label: "1 error"})
	case errorSpans > 1:
		out = append(out, Badge{Label: fmt.Sprintf("%d errors", errorSpans)})
	}

	if entry.Error != "" {
		out = append(out, Badge{Label: "fetch failed"})
	}
	return out
}

func resolveArtifacts(entry domain.TraceEntry, resolve ArtifactResolver) map[string]string {
	links := map[string]string{}
	if resolve == nil {
		return links
	}

	ids := map[string]struct{}{}
	for _, sp := range entry.Spans {
		collectArtifactIDs(sp.Attributes, ids)
		for _, ev := range sp.Events {
			collectArtifactIDs(ev.Attributes, ids)
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		u, err := safeResolve(resolve, id)
		if err != nil {
			logger.WithExecution(entry.ExecutionID).WithError(err).WithField("artifact_id", id).Debug("artifact link skipped")
			continue
		}
		links[id] = u
	}
	return links
}

func intAttr(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	}
	return 0
}
