package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/span"
	"github.com/xiaot623/gogo/tracelens/internal/viewer"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
	badgeColor  = color.New(color.FgYellow)
)

// renderModel prints a projection as an indented span tree.
func renderModel(w io.Writer, m viewer.Model) {
	headerColor.Fprintf(w, "execution %s", m.ExecutionID)
	if m.TraceID != "" {
		dimColor.Fprintf(w, " (trace %s)", m.TraceID)
	}
	fmt.Fprintf(w, " [%s]\n", m.Status)

	if len(m.Badges) > 0 {
		labels := make([]string, 0, len(m.Badges))
		for _, b := range m.Badges {
			labels = append(labels, b.Label)
		}
		badgeColor.Fprintf(w, "  %s\n", strings.Join(labels, " · "))
	}
	if m.Error != "" {
		errorColor.Fprintf(w, "  %s\n", m.Error)
	}

	s := m.Summary
	fmt.Fprintf(w, "  spans: %d  duration: %s  tokens: %d in / %d out\n",
		s.SpanCount, time.Duration(s.DurationMs)*time.Millisecond, s.TokenTotals.Input, s.TokenTotals.Output)

	span.Walk(m.Tree, func(n *span.Node, depth int) bool {
		renderSpan(w, n.Span, depth)
		return true
	})

	if len(m.ArtifactLinks) > 0 {
		ids := make([]string, 0, len(m.ArtifactLinks))
		for id := range m.ArtifactLinks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(w, "  artifacts:")
		for _, id := range ids {
			fmt.Fprintf(w, "    %s  %s\n", id, m.ArtifactLinks[id])
		}
	}
	if m.HasNextPage {
		dimColor.Fprintln(w, "  more spans available (/more)")
	}
}

func renderSpan(w io.Writer, s domain.Span, depth int) {
	indent := strings.Repeat("  ", depth+1)
	name := s.ID
	if s.Name != nil && *s.Name != "" {
		name = *s.Name
	}

	marker := dimColor
	switch s.Status.Code {
	case domain.StatusCodeOK:
		marker = okColor
	case domain.StatusCodeError:
		marker = errorColor
	}
	fmt.Fprint(w, indent)
	marker.Fprint(w, "● ")
	fmt.Fprint(w, name)

	if s.StartTime != nil && s.EndTime != nil {
		dimColor.Fprintf(w, " %s", s.EndTime.Sub(*s.StartTime))
	}
	if s.Status.Code == domain.StatusCodeError && s.Status.Message != "" {
		errorColor.Fprintf(w, " %s", s.Status.Message)
	}
	fmt.Fprintln(w)
}
