// Package export converts trace entries into OTLP trace data.
package export

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/go-faster/city"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
)

const scopeName = "tracelens"

// Traces builds one resource with every span of the entry. Span and trace
// ids that are not valid OTLP hex are hashed into stable ids.
func Traces(entry domain.TraceEntry) ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	res := rs.Resource().Attributes()
	res.PutStr("service.name", scopeName)
	res.PutStr("execution.id", entry.ExecutionID)
	if entry.Metadata.Status != "" {
		res.PutStr("execution.status", entry.Metadata.Status)
	}

	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName(scopeName)

	traceID := TraceID(entry.TraceID, entry.ExecutionID)

	ids := make([]string, 0, len(entry.Spans))
	for id := range entry.Spans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := entry.Spans[id]
		sp := ss.Spans().AppendEmpty()
		sp.SetTraceID(traceID)
		sp.SetSpanID(SpanID(s.ID))
		if s.ParentID != nil && *s.ParentID != "" && *s.ParentID != s.ID {
			sp.SetParentSpanID(SpanID(*s.ParentID))
		}
		if s.Name != nil {
			sp.SetName(*s.Name)
		}
		if s.StartTime != nil {
			sp.SetStartTimestamp(pcommon.NewTimestampFromTime(*s.StartTime))
		}
		if s.EndTime != nil {
			sp.SetEndTimestamp(pcommon.NewTimestampFromTime(*s.EndTime))
		}
		putAttributes(sp.Attributes(), s.Attributes)
		sp.Attributes().PutStr("tracelens.span_id", s.ID)

		switch s.Status.Code {
		case domain.StatusCodeOK:
			sp.Status().SetCode(ptrace.StatusCodeOk)
		case domain.StatusCodeError:
			sp.Status().SetCode(ptrace.StatusCodeError)
		}
		if s.Status.Message != "" {
			sp.Status().SetMessage(s.Status.Message)
		}

		for _, ev := range s.Events {
			e := sp.Events().AppendEmpty()
			e.SetName(ev.Name)
			if ev.Time != nil {
				e.SetTimestamp(pcommon.NewTimestampFromTime(*ev.Time))
			}
			putAttributes(e.Attributes(), ev.Attributes)
		}

		for _, l := range s.Links {
			spanID, _ := l["span_id"].(string)
			if spanID == "" {
				continue
			}
			link := sp.Links().AppendEmpty()
			linkTrace, _ := l["trace_id"].(string)
			link.SetTraceID(TraceID(linkTrace, entry.ExecutionID))
			link.SetSpanID(SpanID(spanID))
		}
	}
	return td
}

// MarshalJSON encodes the entry as OTLP JSON.
func MarshalJSON(entry domain.TraceEntry) ([]byte, error) {
	m := ptrace.JSONMarshaler{}
	return m.MarshalTraces(Traces(entry))
}

// TraceID decodes a 32-char hex id, or derives one from fallback when id is
// not usable.
func TraceID(id, fallback string) pcommon.TraceID {
	var out pcommon.TraceID
	if b, err := hex.DecodeString(id); err == nil && len(b) == len(out) {
		copy(out[:], b)
		return out
	}
	seed := id
	if seed == "" {
		seed = fallback
	}
	binary.BigEndian.PutUint64(out[:8], city.CH64([]byte("trace:"+seed)))
	binary.BigEndian.PutUint64(out[8:], city.CH64([]byte(seed)))
	return out
}

// SpanID decodes a 16-char hex id, or hashes id into a span id.
func SpanID(id string) pcommon.SpanID {
	var out pcommon.SpanID
	if b, err := hex.DecodeString(id); err == nil && len(b) == len(out) {
		copy(out[:], b)
		return out
	}
	binary.BigEndian.PutUint64(out[:], city.CH64([]byte(id)))
	return out
}

func putAttributes(dst pcommon.Map, attrs map[string]any) {
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			dst.PutStr(k, val)
		case bool:
			dst.PutBool(k, val)
		case int:
			dst.PutInt(k, int64(val))
		case int64:
			dst.PutInt(k, val)
		case float64:
			dst.PutDouble(k, val)
		case nil:
		default:
			if err := dst.PutEmpty(k).FromRaw(v); err != nil {
				dst.PutStr(k, fmt.Sprint(v))
			}
		}
	}
}
