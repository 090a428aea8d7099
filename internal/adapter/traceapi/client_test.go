package traceapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchSnapshotParsesPage(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/executions/e1/trace" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"execution": {"execution_id": "e1", "status": "RUNNING", "trace_id": "t1", "token_usage": {"input": 3, "output": 4}},
			"spans": [{"id": "s1", "parent_id": null, "name": "root", "start_time": "2024-01-01T00:00:00Z", "status": {"code": "OK"}}],
			"page_info": {"has_next_page": true, "cursor": "c2"}
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	cursor := "c1"
	resp, err := client.FetchSnapshot(context.Background(), "e1", &cursor)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}

	if gotQuery["cursor"][0] != "c1" {
		t.Fatalf("expected cursor c1, got %v", gotQuery["cursor"])
	}
	if len(gotQuery["_refresh"]) != 1 || gotQuery["_refresh"][0] == "" {
		t.Fatalf("expected cache buster, got %v", gotQuery["_refresh"])
	}
	if resp.Execution.TraceID != "t1" || resp.Execution.TokenUsage.Output != 4 {
		t.Fatalf("unexpected execution: %+v", resp.Execution)
	}
	if len(resp.Spans) != 1 || resp.Spans[0].ParentID != nil || *resp.Spans[0].Name != "root" {
		t.Fatalf("unexpected spans: %+v", resp.Spans)
	}
	if resp.Spans[0].Events != nil {
		t.Fatalf("absent events must decode as nil")
	}
	if !resp.PageInfo.HasNextPage || *resp.PageInfo.Cursor != "c2" {
		t.Fatalf("unexpected page info: %+v", resp.PageInfo)
	}
}

func TestFetchSnapshotFirstPageHasNoCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("cursor") {
			t.Fatalf("unexpected cursor: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"execution": {}, "spans": [], "page_info": {"has_next_page": false, "cursor": null}}`)
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, time.Second).FetchSnapshot(context.Background(), "e1", nil)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if resp.PageInfo.Cursor != nil {
		t.Fatalf("expected nil cursor")
	}
}

func TestFetchSnapshotErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
		notFound  bool
		message   string
	}{
		{"server error with detail", http.StatusBadGateway, `{"detail":"upstream unavailable"}`, true, false, "upstream unavailable"},
		{"plain text", http.StatusInternalServerError, "database is down", true, false, "database is down"},
		{"not found", http.StatusNotFound, `{"error":"trace not ready"}`, false, true, "trace not ready"},
		{"no detail", http.StatusServiceUnavailable, "", true, false, "Trace request failed with status 503"},
		{"malformed", http.StatusOK, `<html>`, false, false, "Trace response was malformed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, time.Second).FetchSnapshot(context.Background(), "e1", nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if IsRetryable(err) != tc.retryable {
				t.Fatalf("retryable: got %v want %v (%v)", IsRetryable(err), tc.retryable, err)
			}
			if IsNotFound(err) != tc.notFound {
				t.Fatalf("not found: got %v want %v", IsNotFound(err), tc.notFound)
			}
			if got := Message(err); got != tc.message {
				t.Fatalf("message: got %q want %q", got, tc.message)
			}
		})
	}
}

func TestFetchSnapshotNetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).FetchSnapshot(context.Background(), "e1", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected network error to be retryable: %v", err)
	}
}

func TestListExecutions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workflows/wf-1/executions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Fatalf("unexpected limit: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[{"execution_id":"e1"},{"execution_id":"e2"}]`)
	}))
	defer server.Close()

	refs, err := NewClient(server.URL, time.Second).ListExecutions(context.Background(), "wf-1", 5)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(refs) != 2 || refs[1].ExecutionID != "e2" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
}
