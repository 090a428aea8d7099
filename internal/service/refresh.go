package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/logger"
)

// maxParallelRefresh bounds concurrent refreshes started by Refresh.
const maxParallelRefresh = 4

// Refresh reloads the first page of an execution. With an empty id it
// refreshes every target of RefreshTargets.
func (s *Service) Refresh(ctx context.Context, executionID string) error {
	if executionID != "" {
		_, err := s.FetchTracePage(ctx, executionID, domain.FetchModeRefresh)
		return err
	}
	_, err := s.RefreshAll(ctx)
	return err
}

// RefreshAll refreshes the targets of RefreshTargets, at most
// maxParallelRefresh at a time, and returns them with the first failure.
func (s *Service) RefreshAll(ctx context.Context) ([]string, error) {
	targets := s.RefreshTargets(ctx)
	if len(targets) == 0 {
		logger.Logger.Debug("nothing to refresh")
		return nil, nil
	}

	var g errgroup.Group
	g.SetLimit(maxParallelRefresh)
	for _, id := range targets {
		id := id
		g.Go(func() error {
			_, err := s.FetchTracePage(ctx, id, domain.FetchModeRefresh)
			return err
		})
	}
	return targets, g.Wait()
}

// RefreshTargets resolves which executions a refresh without a target covers:
// the active execution plus listed executions not known locally. When that
// is empty it falls back to the most recently used known execution, which is
// the first id in Store.Keys order.
func (s *Service) RefreshTargets(ctx context.Context) []string {
	var targets []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			targets = append(targets, id)
		}
	}

	add(s.store.Active())

	if wf := s.config.WorkflowID; wf != "" {
		refs, err := s.api.ListExecutions(ctx, wf, s.config.ListLimit)
		if err != nil {
			logger.Logger.WithError(err).WithField("workflow_id", wf).Warn("failed to list executions")
		}
		for _, ref := range refs {
			if !s.store.Contains(ref.ExecutionID) {
				add(ref.ExecutionID)
			}
		}
	}

	if len(targets) == 0 {
		if keys := s.store.Keys(); len(keys) > 0 {
			add(keys[0])
		}
	}
	return targets
}
