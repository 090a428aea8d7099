package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/metrics"
	"github.com/xiaot623/gogo/tracelens/internal/store"
)

// ApplyLiveUpdate routes a pushed update into the store, priming the entry
// from fallback metadata when the execution is new. It never goes through
// the fetch coordinator.
func (s *Service) ApplyLiveUpdate(ctx context.Context, update domain.LiveUpdate) (domain.TraceEntry, error) {
	if !s.alive() {
		return domain.TraceEntry{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return domain.TraceEntry{}, err
	}
	if update.Type != "" && update.Type != domain.MessageTypeTraceUpdate {
		return domain.TraceEntry{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidUpdate, update.Type)
	}
	if update.ExecutionID == "" {
		return domain.TraceEntry{}, fmt.Errorf("%w: execution_id is required", ErrInvalidUpdate)
	}

	entry := s.store.Update(update.ExecutionID, s.fallback(update.ExecutionID), func(e domain.TraceEntry) domain.TraceEntry {
		return store.ApplyLiveUpdate(e, update, s.now())
	})
	metrics.LiveUpdates.Inc()
	return entry, nil
}
