// Package service coordinates trace fetching, live updates and projection.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaot623/gogo/tracelens/internal/config"
	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/metrics"
	"github.com/xiaot623/gogo/tracelens/internal/store"
	"github.com/xiaot623/gogo/tracelens/internal/viewer"
)

var (
	// ErrClosed is returned once the consumer has been torn down.
	ErrClosed = errors.New("trace service closed")
	// ErrInvalidUpdate is returned for push messages that cannot be routed.
	ErrInvalidUpdate = errors.New("invalid trace update")
)

// TraceAPI is the execution-trace API used by the fetch coordinator.
type TraceAPI interface {
	FetchSnapshot(ctx context.Context, executionID string, cursor *string) (*domain.SnapshotResponse, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]domain.ExecutionRef, error)
}

// Notification is a non-blocking message about a failed fetch.
type Notification struct {
	ExecutionID string           `json:"execution_id"`
	Mode        domain.FetchMode `json:"mode"`
	Message     string           `json:"message"`
	// Blocking is set for refresh failures, which put the entry in error state.
	Blocking bool `json:"blocking"`
}

// Notifier receives fetch failure notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type fetchKey struct {
	executionID string
	mode        domain.FetchMode
}

// Service owns the fetch coordinator and the live update router. Both write
// through the store; neither holds a lock across network calls.
type Service struct {
	store    *store.Store
	api      TraceAPI
	config   *config.Config
	notifier Notifier
	resolver viewer.ArtifactResolver
	now      func() time.Time

	// mu guards the fields below. inFlight maps a fetch key to the token of
	// the fetch holding it.
	mu        sync.Mutex
	inFlight  map[fetchKey]uint64
	nextToken uint64
	attempts  map[fetchKey]int
	summaries map[string]domain.ExecutionSummary

	closed atomic.Bool
}

// Option customises a Service.
type Option func(*Service)

// WithNotifier sets the receiver of fetch failure notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithArtifactResolver sets the resolver used by projections.
func WithArtifactResolver(r viewer.ArtifactResolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service writing into st.
func New(st *store.Store, api TraceAPI, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:     st,
		api:       api,
		config:    cfg,
		notifier:  NotifierFunc(func(Notification) {}),
		now:       time.Now,
		inFlight:  make(map[fetchKey]uint64),
		attempts:  make(map[fetchKey]int),
		summaries: make(map[string]domain.ExecutionSummary),
	}
	for _, opt := range opts {
		opt(s)
	}

	st.OnEvict(s.forget)
	st.Subscribe(func(domain.TraceEntry) {
		metrics.CacheEntries.Set(float64(st.Len()))
	})
	return s
}

// Close marks the consumer as torn down. Results of fetches still in flight
// are discarded instead of applied.
func (s *Service) Close() {
	s.closed.Store(true)
}

func (s *Service) alive() bool {
	return !s.closed.Load()
}

// RegisterExecution records caller-known execution fields used as fallback
// metadata and makes sure the execution has an entry.
func (s *Service) RegisterExecution(summary domain.ExecutionSummary) (domain.TraceEntry, error) {
	if summary.ExecutionID == "" {
		return domain.TraceEntry{}, errors.New("execution_id is required")
	}
	s.mu.Lock()
	s.summaries[summary.ExecutionID] = summary
	s.mu.Unlock()
	return s.store.Prime(summary.ExecutionID, summary), nil
}

// SetActive pins the execution being viewed so eviction skips it.
func (s *Service) SetActive(executionID string) domain.TraceEntry {
	s.store.SetActive(executionID)
	return s.store.Prime(executionID, s.fallback(executionID))
}

// Entry returns the cached entry for an execution.
func (s *Service) Entry(executionID string) (domain.TraceEntry, error) {
	e, ok := s.store.Get(executionID)
	if !ok {
		return domain.TraceEntry{}, domain.ErrUnknownExecution
	}
	return e, nil
}

// Project returns the view model of a cached execution.
func (s *Service) Project(executionID string) (viewer.Model, error) {
	e, err := s.Entry(executionID)
	if err != nil {
		return viewer.Model{}, err
	}
	return viewer.Project(e, s.resolver), nil
}

// Attempts returns how many requests the last fetch for (id, mode) used.
// The counter is reset after a successful fetch.
func (s *Service) Attempts(executionID string, mode domain.FetchMode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[fetchKey{executionID, mode}]
}

func (s *Service) fallback(executionID string) domain.ExecutionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := s.summaries[executionID]
	summary.ExecutionID = executionID
	return summary
}

// forget drops bookkeeping for an evicted execution.
func (s *Service) forget(executionID string) {
	metrics.CacheEvictions.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mode := range []domain.FetchMode{domain.FetchModeRefresh, domain.FetchModeLoadMore} {
		key := fetchKey{executionID, mode}
		delete(s.inFlight, key)
		delete(s.attempts, key)
	}
	delete(s.summaries, executionID)
}
