package service

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/xiaot623/gogo/tracelens/internal/adapter/traceapi"
	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/logger"
	"github.com/xiaot623/gogo/tracelens/internal/metrics"
	"github.com/xiaot623/gogo/tracelens/internal/store"
)

// FetchResult is the outcome of a fetch request.
type FetchResult struct {
	Entry domain.TraceEntry
	// Started is false when the request was a no-op: a fetch for the same
	// execution and mode was already in flight, or there was no next page.
	Started bool
}

// LoadMore fetches the next page of an execution's trace.
func (s *Service) LoadMore(ctx context.Context, executionID string) (FetchResult, error) {
	return s.FetchTracePage(ctx, executionID, domain.FetchModeLoadMore)
}

// FetchTracePage requests one snapshot page and merges it into the store.
// Refresh requests the first page and applies it as an authoritative
// correction; loadMore requests the page after the stored cursor.
func (s *Service) FetchTracePage(ctx context.Context, executionID string, mode domain.FetchMode) (FetchResult, error) {
	if !s.alive() {
		return FetchResult{}, ErrClosed
	}
	if executionID == "" {
		return FetchResult{}, fmt.Errorf("execution_id is required")
	}
	if mode != domain.FetchModeRefresh && mode != domain.FetchModeLoadMore {
		return FetchResult{}, fmt.Errorf("unknown fetch mode %q", mode)
	}

	log := logger.WithExecution(executionID).WithField("mode", mode)
	fallback := s.fallback(executionID)

	entry, ok := s.store.Get(executionID)
	if !ok {
		entry = s.store.Prime(executionID, fallback)
	}

	var cursor *string
	if mode == domain.FetchModeLoadMore {
		if !entry.CanLoadMore() {
			metrics.FetchSkipped.WithLabelValues(string(mode), "no_next_page").Inc()
			return FetchResult{Entry: entry}, nil
		}
		c := *entry.NextCursor
		cursor = &c
	}

	key := fetchKey{executionID, mode}
	token, ok := s.acquire(key)
	if !ok {
		metrics.FetchSkipped.WithLabelValues(string(mode), "in_flight").Inc()
		log.Debug("fetch already in flight")
		return FetchResult{Entry: entry}, nil
	}
	defer s.release(key, token)

	prevStatus := entry.Status
	if mode == domain.FetchModeRefresh {
		entry = s.store.Update(executionID, fallback, func(e domain.TraceEntry) domain.TraceEntry {
			e.Status = domain.EntryStatusLoading
			return e
		})
	}

	resp, attempts, err := s.fetchWithRetry(ctx, executionID, mode, cursor)
	s.recordAttempts(key, attempts)

	if !s.alive() {
		log.Debug("discarding fetch result after close")
		return FetchResult{Entry: entry, Started: true}, ErrClosed
	}

	switch {
	case err == nil:
		entry = s.store.Update(executionID, fallback, func(e domain.TraceEntry) domain.TraceEntry {
			e = store.ApplySnapshot(e, *resp, store.SnapshotOptions{ReplaceSpans: mode == domain.FetchModeRefresh}, s.now())
			e.Status = domain.EntryStatusReady
			e.Error = ""
			return e
		})
		s.resetAttempts(key)
		log.WithField("spans", len(resp.Spans)).Debug("trace page applied")
		return FetchResult{Entry: entry, Started: true}, nil

	case traceapi.IsNotFound(err):
		log.Info("trace not available yet")
		if mode == domain.FetchModeRefresh {
			entry = s.store.Update(executionID, fallback, func(e domain.TraceEntry) domain.TraceEntry {
				e.Status = domain.EntryStatusPending
				return e
			})
		}
		return FetchResult{Entry: entry, Started: true}, nil

	case ctx.Err() != nil:
		if mode == domain.FetchModeRefresh {
			entry = s.store.Update(executionID, fallback, func(e domain.TraceEntry) domain.TraceEntry {
				if e.Status == domain.EntryStatusLoading {
					e.Status = prevStatus
				}
				return e
			})
		}
		return FetchResult{Entry: entry, Started: true}, ctx.Err()
	}

	msg := failureMessage(mode, err)
	log.WithError(err).WithField("attempts", attempts).Error("trace fetch failed")
	if mode == domain.FetchModeRefresh {
		entry = s.store.Update(executionID, fallback, func(e domain.TraceEntry) domain.TraceEntry {
			e.Status = domain.EntryStatusError
			e.Error = msg
			return e
		})
	}
	s.notifier.Notify(Notification{
		ExecutionID: executionID,
		Mode:        mode,
		Message:     msg,
		Blocking:    mode == domain.FetchModeRefresh,
	})
	return FetchResult{Entry: entry, Started: true}, fmt.Errorf("fetch trace %s: %w", executionID, err)
}

// fetchWithRetry sends the snapshot request, retrying recoverable failures
// after RetryDelayBase*(attempt+1), at most MaxRetries times.
func (s *Service) fetchWithRetry(ctx context.Context, executionID string, mode domain.FetchMode, cursor *string) (*domain.SnapshotResponse, int, error) {
	base := s.config.RetryDelayBase
	maxRetries := s.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var resp *domain.SnapshotResponse
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			r, err := s.api.FetchSnapshot(ctx, executionID, cursor)
			if err != nil {
				metrics.FetchAttempts.WithLabelValues(string(mode), "error").Inc()
				return err
			}
			metrics.FetchAttempts.WithLabelValues(string(mode), "ok").Inc()
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxRetries+1)),
		retry.Delay(base),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return base * time.Duration(n+1)
		}),
		retry.RetryIf(traceapi.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithExecution(executionID).WithError(err).WithField("attempt", n+1).Warn("trace fetch attempt failed")
		}),
	)
	return resp, attempts, err
}

func failureMessage(mode domain.FetchMode, err error) string {
	if mode == domain.FetchModeLoadMore {
		return "Failed to load more spans: " + traceapi.Message(err)
	}
	return "Failed to load trace: " + traceapi.Message(err)
}

// acquire marks key as in flight and returns the token that releases it.
func (s *Service) acquire(key fetchKey) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return 0, false
	}
	s.nextToken++
	s.inFlight[key] = s.nextToken
	return s.nextToken, true
}

// release clears key only while it is still held by token. Eviction may
// have dropped it and let a newer fetch take it.
func (s *Service) release(key fetchKey, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[key] == token {
		delete(s.inFlight, key)
	}
}

func (s *Service) recordAttempts(key fetchKey, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[key] = n
}

func (s *Service) resetAttempts(key fetchKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
}
