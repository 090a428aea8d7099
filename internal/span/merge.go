// Package span merges partial span fragments and rebuilds span forests.
package span

import (
	"time"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
)

// Merge combines a known span with an incoming fragment, field by field.
// Scalars from the fragment win when set, attributes are unioned with the
// fragment winning per key, and events/links are replaced only by a
// non-empty fragment list. A nil existing span yields the normalized fragment.
//
// Merge is not a CRDT: two fragments touching the same attribute key give
// a result that depends on arrival order. Producers send monotonically
// growing fragments per span.
func Merge(existing *domain.Span, incoming domain.Span) domain.Span {
	return merge(existing, incoming, false)
}

// MergeAuthoritative is Merge for snapshot data that corrects earlier state:
// an events or links list carried by the fragment replaces the known one
// even when empty. Lists the fragment did not carry (nil) are kept.
func MergeAuthoritative(existing *domain.Span, incoming domain.Span) domain.Span {
	return merge(existing, incoming, true)
}

func merge(existing *domain.Span, incoming domain.Span, authoritative bool) domain.Span {
	if existing == nil {
		return Normalize(incoming)
	}

	out := Normalize(*existing)

	if incoming.ParentID != nil {
		out.ParentID = copyString(incoming.ParentID)
	}
	if incoming.Name != nil {
		out.Name = copyString(incoming.Name)
	}
	if incoming.StartTime != nil {
		out.StartTime = copyTime(incoming.StartTime)
	}
	if incoming.EndTime != nil {
		out.EndTime = copyTime(incoming.EndTime)
	}
	for k, v := range incoming.Attributes {
		out.Attributes[k] = v
	}
	if len(incoming.Events) > 0 || (authoritative && incoming.Events != nil) {
		out.Events = copyEvents(incoming.Events)
	}
	if len(incoming.Links) > 0 || (authoritative && incoming.Links != nil) {
		out.Links = copyLinks(incoming.Links)
	}
	if incoming.Status.Present() {
		out.Status = incoming.Status
	}
	return out
}

// Normalize returns a copy of s with empty collections instead of nil and an
// UNSET status when none was reported. The copy shares no maps or slices with s.
func Normalize(s domain.Span) domain.Span {
	out := domain.Span{
		ID:         s.ID,
		ParentID:   copyString(s.ParentID),
		Name:       copyString(s.Name),
		StartTime:  copyTime(s.StartTime),
		EndTime:    copyTime(s.EndTime),
		Attributes: copyAttributes(s.Attributes),
		Events:     copyEvents(s.Events),
		Status:     s.Status,
		Links:      copyLinks(s.Links),
	}
	if !out.Status.Present() {
		out.Status = domain.Status{Code: domain.StatusCodeUnset}
	}
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyEvents(in []domain.SpanEvent) []domain.SpanEvent {
	out := make([]domain.SpanEvent, 0, len(in))
	for _, ev := range in {
		out = append(out, domain.SpanEvent{
			Name:       ev.Name,
			Time:       copyTime(ev.Time),
			Attributes: copyAttributes(ev.Attributes),
		})
	}
	return out
}

func copyLinks(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, l := range in {
		out = append(out, copyAttributes(l))
	}
	return out
}
