package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/tracelens/internal/adapter/traceapi"
	"github.com/xiaot623/gogo/tracelens/internal/config"
	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/store"
)

type fakeAPI struct {
	mu       sync.Mutex
	calls    int
	cursors  []string
	times    []time.Time
	snapshot func(call int, executionID string, cursor *string) (*domain.SnapshotResponse, error)
	listed   []domain.ExecutionRef
	listErr  error
}

func (f *fakeAPI) FetchSnapshot(ctx context.Context, executionID string, cursor *string) (*domain.SnapshotResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	c := ""
	if cursor != nil {
		c = *cursor
	}
	f.cursors = append(f.cursors, c)
	f.times = append(f.times, time.Now())
	fn := f.snapshot
	f.mu.Unlock()
	return fn(call, executionID, cursor)
}

func (f *fakeAPI) ListExecutions(ctx context.Context, workflowID string, limit int) ([]domain.ExecutionRef, error) {
	return f.listed, f.listErr
}

func (f *fakeAPI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func snapshot(cursor string, hasNext bool, spans ...domain.Span) *domain.SnapshotResponse {
	resp := &domain.SnapshotResponse{
		Execution: domain.TraceExecutionMetadata{Status: "RUNNING", TraceID: "t1"},
		Spans:     spans,
		PageInfo:  domain.PageInfo{HasNextPage: hasNext},
	}
	if cursor != "" {
		resp.PageInfo.Cursor = domain.StringPtr(cursor)
	}
	return resp
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func newTestService(t *testing.T, api *fakeAPI) (*Service, *store.Store, *recorder) {
	t.Helper()
	cfg := config.Default()
	cfg.RetryDelayBase = time.Millisecond
	cfg.CacheCapacity = 5
	st := store.New(cfg.CacheCapacity)
	rec := &recorder{}
	svc := New(st, api, cfg, WithNotifier(rec))
	return svc, st, rec
}

func TestRefreshAppliesSnapshot(t *testing.T) {
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		return snapshot("c1", true, domain.Span{ID: "s1"}), nil
	}}
	svc, _, _ := newTestService(t, api)

	res, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)
	require.NoError(t, err)

	assert.True(t, res.Started)
	assert.Equal(t, domain.EntryStatusReady, res.Entry.Status)
	assert.Equal(t, "t1", res.Entry.TraceID)
	assert.Contains(t, res.Entry.Spans, "s1")
	assert.Equal(t, "", api.cursors[0], "refresh starts from the first page")
	assert.Equal(t, 0, svc.Attempts("e1", domain.FetchModeRefresh), "retry counter resets on success")
}

func TestRefreshReplacesStaleStatus(t *testing.T) {
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		return snapshot("", false, domain.Span{ID: "s1", Status: domain.Status{Code: domain.StatusCodeOK}}), nil
	}}
	svc, _, _ := newTestService(t, api)
	_, err := svc.ApplyLiveUpdate(context.Background(), domain.LiveUpdate{ExecutionID: "e1", Spans: []domain.Span{{ID: "s1"}}})
	require.NoError(t, err)

	res, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCodeOK, res.Entry.Spans["s1"].Status.Code)
}

func TestFetchIsSingleFlight(t *testing.T) {
	g := gomega.NewWithT(t)
	release := make(chan struct{})
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		<-release
		return snapshot("", false), nil
	}}
	svc, _, _ := newTestService(t, api)

	first := make(chan FetchResult, 1)
	go func() {
		res, _ := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)
		first <- res
	}()
	g.Eventually(api.Calls).Should(gomega.Equal(1))

	second, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)
	require.NoError(t, err)
	assert.False(t, second.Started)
	assert.Equal(t, domain.EntryStatusLoading, second.Entry.Status)

	close(release)
	g.Eventually(first).Should(gomega.Receive(gomega.HaveField("Started", true)))
	assert.Equal(t, 1, api.Calls())
}

func TestLoadMoreNoOpWithoutNextPage(t *testing.T) {
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		return snapshot("", false, domain.Span{ID: "s1"}), nil
	}}
	svc, _, _ := newTestService(t, api)
	refreshed, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)
	require.NoError(t, err)

	res, err := svc.LoadMore(context.Background(), "e1")
	require.NoError(t, err)

	assert.False(t, res.Started)
	assert.Equal(t, 1, api.Calls())
	assert.Equal(t, refreshed.Entry, res.Entry)
}

func TestLoadMoreAccumulatesPages(t *testing.T) {
	api := &fakeAPI{snapshot: func(call int, _ string, cursor *string) (*domain.SnapshotResponse, error) {
		switch call {
		case 1:
			return snapshot("c2", true, domain.Span{ID: "a"}, domain.Span{ID: "b"}), nil
		case 2:
			return snapshot("c3", true, domain.Span{ID: "b"}, domain.Span{ID: "c"}), nil
		default:
			return snapshot("", false, domain.Span{ID: "c"}, domain.Span{ID: "d"}), nil
		}
	}}
	svc, _, _ := newTestService(t, api)
	ctx := context.Background()

	_, err := svc.FetchTracePage(ctx, "e1", domain.FetchModeRefresh)
	require.NoError(t, err)
	_, err = svc.LoadMore(ctx, "e1")
	require.NoError(t, err)
	res, err := svc.LoadMore(ctx, "e1")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "c2", "c3"}, api.cursors)
	assert.Len(t, res.Entry.Spans, 4)
	assert.True(t, res.Entry.IsComplete)
	assert.False(t, res.Entry.CanLoadMore())
}

func TestRefreshRetryBound(t *testing.T) {
	fail := false
	api := &fakeAPI{snapshot: func(call int, _ string, _ *string) (*domain.SnapshotResponse, error) {
		if fail {
			return nil, &traceapi.HTTPError{Status: 502, Detail: "bad gateway"}
		}
		return snapshot("", false, domain.Span{ID: "kept"}), nil
	}}
	svc, _, rec := newTestService(t, api)
	ctx := context.Background()
	_, err := svc.FetchTracePage(ctx, "e1", domain.FetchModeRefresh)
	require.NoError(t, err)

	fail = true
	res, err := svc.FetchTracePage(ctx, "e1", domain.FetchModeRefresh)

	require.Error(t, err)
	var httpErr *traceapi.HTTPError
	assert.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 1+3, api.Calls(), "maxRetries+1 attempts after the first fetch")
	assert.Equal(t, 3, svc.Attempts("e1", domain.FetchModeRefresh))
	assert.Equal(t, domain.EntryStatusError, res.Entry.Status)
	assert.Equal(t, "Failed to load trace: bad gateway", res.Entry.Error)
	assert.Contains(t, res.Entry.Spans, "kept", "prior spans survive errors")

	notes := rec.All()
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Blocking)
	assert.Equal(t, domain.FetchModeRefresh, notes[0].Mode)
}

func TestRefreshRetryDelayGrowsLinearly(t *testing.T) {
	api := &fakeAPI{snapshot: func(call int, _ string, _ *string) (*domain.SnapshotResponse, error) {
		if call <= 2 {
			return nil, &traceapi.HTTPError{Status: 503}
		}
		return snapshot("", false), nil
	}}
	svc, _, _ := newTestService(t, api)
	base := 20 * time.Millisecond
	svc.config.RetryDelayBase = base

	res, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)

	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusReady, res.Entry.Status)
	require.Len(t, api.times, 3)
	assert.GreaterOrEqual(t, api.times[1].Sub(api.times[0]), base, "first retry waits one base delay")
	assert.GreaterOrEqual(t, api.times[2].Sub(api.times[1]), 2*base, "second retry waits two base delays")
}

func TestRefreshRecoversAfterTransientFailure(t *testing.T) {
	api := &fakeAPI{snapshot: func(call int, _ string, _ *string) (*domain.SnapshotResponse, error) {
		if call == 1 {
			return nil, &traceapi.NetworkError{Err: errors.New("connection reset")}
		}
		return snapshot("", false), nil
	}}
	svc, _, rec := newTestService(t, api)

	res, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)

	require.NoError(t, err)
	assert.Equal(t, 2, api.Calls())
	assert.Equal(t, domain.EntryStatusReady, res.Entry.Status)
	assert.Empty(t, rec.All())
}

func TestLoadMoreFailureKeepsEntryState(t *testing.T) {
	api := &fakeAPI{snapshot: func(call int, _ string, _ *string) (*domain.SnapshotResponse, error) {
		if call == 1 {
			return snapshot("c2", true, domain.Span{ID: "a"}), nil
		}
		return nil, &traceapi.HTTPError{Status: 500}
	}}
	svc, _, rec := newTestService(t, api)
	ctx := context.Background()
	before, err := svc.FetchTracePage(ctx, "e1", domain.FetchModeRefresh)
	require.NoError(t, err)

	res, err := svc.LoadMore(ctx, "e1")

	require.Error(t, err)
	assert.Equal(t, 4, api.Calls())
	assert.Equal(t, before.Entry, res.Entry)
	assert.Equal(t, domain.EntryStatusReady, res.Entry.Status)
	assert.Empty(t, res.Entry.Error)

	notes := rec.All()
	require.Len(t, notes, 1)
	assert.False(t, notes[0].Blocking)
	assert.Equal(t, "Failed to load more spans: Trace request failed with status 500", notes[0].Message)
}

func TestRefreshNotFoundIsPending(t *testing.T) {
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		return nil, &traceapi.HTTPError{Status: 404}
	}}
	svc, _, rec := newTestService(t, api)

	res, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)

	require.NoError(t, err)
	assert.Equal(t, 1, api.Calls())
	assert.Equal(t, domain.EntryStatusPending, res.Entry.Status)
	assert.Empty(t, res.Entry.Error)
	assert.Empty(t, rec.All())
}

func TestRefreshMalformedIsNotRetried(t *testing.T) {
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		return nil, &traceapi.MalformedResponseError{Err: errors.New("unexpected EOF")}
	}}
	svc, _, rec := newTestService(t, api)

	res, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)

	require.Error(t, err)
	assert.Equal(t, 1, api.Calls())
	assert.Equal(t, domain.EntryStatusError, res.Entry.Status)
	assert.Len(t, rec.All(), 1)
}

func TestCloseDiscardsInFlightResult(t *testing.T) {
	g := gomega.NewWithT(t)
	release := make(chan struct{})
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		<-release
		return snapshot("", false, domain.Span{ID: "late"}), nil
	}}
	svc, st, _ := newTestService(t, api)

	errs := make(chan error, 1)
	go func() {
		_, err := svc.FetchTracePage(context.Background(), "e1", domain.FetchModeRefresh)
		errs <- err
	}()
	g.Eventually(api.Calls).Should(gomega.Equal(1))

	svc.Close()
	close(release)

	g.Eventually(errs).Should(gomega.Receive(gomega.MatchError(ErrClosed)))
	e, ok := st.Get("e1")
	require.True(t, ok)
	assert.NotContains(t, e.Spans, "late")

	_, err := svc.ApplyLiveUpdate(context.Background(), domain.LiveUpdate{ExecutionID: "e1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestApplyLiveUpdatePrimesFromSummary(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAPI{})
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.RegisterExecution(domain.ExecutionSummary{ExecutionID: "e1", Status: "RUNNING", StartedAt: &started})
	require.NoError(t, err)

	entry, err := svc.ApplyLiveUpdate(context.Background(), domain.LiveUpdate{
		Type:        domain.MessageTypeTraceUpdate,
		ExecutionID: "e1",
		TraceID:     "t1",
		Spans:       []domain.Span{{ID: "c", ParentID: domain.StringPtr("p")}},
	})
	require.NoError(t, err)

	assert.Equal(t, "RUNNING", entry.Metadata.Status)
	assert.Equal(t, "t1", entry.TraceID)

	model, err := svc.Project("e1")
	require.NoError(t, err)
	require.Len(t, model.Tree, 1)
	assert.Equal(t, "c", model.Tree[0].Span.ID)

	_, err = svc.ApplyLiveUpdate(context.Background(), domain.LiveUpdate{ExecutionID: "e1", Spans: []domain.Span{{ID: "p"}}})
	require.NoError(t, err)
	model, err = svc.Project("e1")
	require.NoError(t, err)
	require.Len(t, model.Tree, 1)
	assert.Equal(t, "p", model.Tree[0].Span.ID)
	assert.Equal(t, "c", model.Tree[0].Children[0].Span.ID)
}

func TestApplyLiveUpdateRejectsInvalidMessages(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAPI{})

	_, err := svc.ApplyLiveUpdate(context.Background(), domain.LiveUpdate{Type: "trace:delete", ExecutionID: "e1"})
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = svc.ApplyLiveUpdate(context.Background(), domain.LiveUpdate{Type: domain.MessageTypeTraceUpdate})
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestProjectUnknownExecution(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAPI{})

	_, err := svc.Project("missing")
	assert.ErrorIs(t, err, domain.ErrUnknownExecution)
}

func TestRefreshTargets(t *testing.T) {
	api := &fakeAPI{listed: []domain.ExecutionRef{{ExecutionID: "known"}, {ExecutionID: "new1"}, {ExecutionID: "active"}, {ExecutionID: "new2"}}}
	svc, _, _ := newTestService(t, api)
	svc.config.WorkflowID = "wf"
	svc.RegisterExecution(domain.ExecutionSummary{ExecutionID: "known"})
	svc.SetActive("active")

	assert.Equal(t, []string{"active", "new1", "new2"}, svc.RefreshTargets(context.Background()))
}

func TestRefreshTargetsFallsBackToKnownExecution(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("listing down")}
	svc, _, _ := newTestService(t, api)
	svc.config.WorkflowID = "wf"

	assert.Empty(t, svc.RefreshTargets(context.Background()))

	svc.RegisterExecution(domain.ExecutionSummary{ExecutionID: "older"})
	svc.RegisterExecution(domain.ExecutionSummary{ExecutionID: "newer"})
	assert.Equal(t, []string{"newer"}, svc.RefreshTargets(context.Background()))
}

func TestRefreshAllFansOut(t *testing.T) {
	api := &fakeAPI{
		listed: []domain.ExecutionRef{{ExecutionID: "e1"}, {ExecutionID: "e2"}, {ExecutionID: "e3"}},
		snapshot: func(_ int, id string, _ *string) (*domain.SnapshotResponse, error) {
			return snapshot("", false, domain.Span{ID: "root-" + id}), nil
		},
	}
	svc, st, _ := newTestService(t, api)
	svc.config.WorkflowID = "wf"

	require.NoError(t, svc.Refresh(context.Background(), ""))

	assert.Equal(t, 3, api.Calls())
	for _, id := range []string{"e1", "e2", "e3"} {
		e, ok := st.Get(id)
		require.True(t, ok, id)
		assert.Contains(t, e.Spans, "root-"+id)
	}
}

func TestEvictionDropsBookkeeping(t *testing.T) {
	api := &fakeAPI{snapshot: func(int, string, *string) (*domain.SnapshotResponse, error) {
		return nil, &traceapi.HTTPError{Status: 500}
	}}
	cfg := config.Default()
	cfg.RetryDelayBase = time.Millisecond
	cfg.MaxRetries = 0
	st := store.New(2)
	svc := New(st, api, cfg)

	_, err := svc.FetchTracePage(context.Background(), "e0", domain.FetchModeRefresh)
	require.Error(t, err)
	require.Equal(t, 1, svc.Attempts("e0", domain.FetchModeRefresh))

	for i := 1; i <= 2; i++ {
		svc.RegisterExecution(domain.ExecutionSummary{ExecutionID: fmt.Sprintf("e%d", i)})
	}

	assert.False(t, st.Contains("e0"))
	assert.Equal(t, 0, svc.Attempts("e0", domain.FetchModeRefresh))
}

func TestReleaseAfterEvictionKeepsNewerFetch(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAPI{})
	key := fetchKey{"e1", domain.FetchModeRefresh}

	first, ok := svc.acquire(key)
	require.True(t, ok)
	svc.forget("e1")

	second, ok := svc.acquire(key)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	svc.release(key, first)
	_, ok = svc.acquire(key)
	assert.False(t, ok, "stale release must not free the newer fetch's key")

	svc.release(key, second)
	_, ok = svc.acquire(key)
	assert.True(t, ok)
}
