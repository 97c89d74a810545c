// Package retryscheduler re-queues FAILED executions once their backoff
// window has elapsed, gated by the transient/permanent classification
// recorded when the execution was finalized.
package retryscheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
	"github.com/fluxdeploy/dispatch/internal/opsnotify"
	"github.com/fluxdeploy/dispatch/pkg/execstore"
)

const claimNudgeChannel = "dispatch:execution:queued"

const listLimit = 100

// Scheduler promotes FAILED executions back onto the queue after their
// backoff window elapses.
type Scheduler struct {
	store    *execstore.Store
	rdb      *redis.Client
	notifier *opsnotify.Notifier
	interval time.Duration
	logger   *slog.Logger

	alerted map[string]bool
}

// New creates a retry Scheduler. rdb may be nil, in which case re-queued
// executions are only picked up on an executor's next poll tick. notifier
// may be disabled; exhaustion alerts then simply don't post anywhere.
func New(store *execstore.Store, rdb *redis.Client, notifier *opsnotify.Notifier, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		rdb:      rdb,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		alerted:  make(map[string]bool),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("retry scheduler starting", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("retry scheduler tick", "error", err)
			}
		}
	}
}

// tick lists FAILED executions under their retry limit whose finalizing
// error was classified transient (ListRetryable already excludes permanent
// and validation failures) and re-queues the ones whose backoff window has
// elapsed. It then surfaces a one-time alert for every execution that has
// just run out of retries.
func (s *Scheduler) tick(ctx context.Context) error {
	candidates, err := s.store.ListRetryable(ctx, listLimit)
	if err != nil {
		return err
	}

	for _, e := range candidates {
		if !s.due(e) {
			continue
		}
		if err := s.requeue(ctx, e); err != nil {
			if apperrors.IsTransient(err) || isConcurrency(err) {
				s.logger.Debug("execution not ready for retry", "execution_id", e.ID, "error", err)
				continue
			}
			s.logger.Error("requeuing execution", "execution_id", e.ID, "error", err)
		}
	}

	return s.alertExhausted(ctx)
}

// alertExhausted posts one ops alert per execution the first time it's seen
// with its retry budget used up, using an in-memory set so a steady stream
// of ticks doesn't re-alert on the same execution.
func (s *Scheduler) alertExhausted(ctx context.Context) error {
	exhausted, err := s.store.ListExhausted(ctx, listLimit)
	if err != nil {
		return err
	}
	for _, e := range exhausted {
		key := e.ID.String()
		if s.alerted[key] {
			continue
		}
		s.alerted[key] = true
		reason := ""
		if e.ErrorMessage != nil {
			reason = *e.ErrorMessage
		}
		s.notifier.RetryBudgetExhausted(ctx, key, e.StepID, reason)
	}
	return nil
}

func (s *Scheduler) due(e *domain.Execution) bool {
	if e.FinishedAt == nil {
		return false
	}
	delay := apperrors.RetryDelay(e.RetryCount + 1)
	return time.Since(*e.FinishedAt) >= delay
}

// requeue resets the execution back to CREATED and immediately enqueues it,
// since ResetForRetry alone leaves it invisible to TryClaim, which only
// looks at QUEUED rows and expired STARTED leases.
func (s *Scheduler) requeue(ctx context.Context, e *domain.Execution) error {
	if err := s.store.ResetForRetry(ctx, e.ID); err != nil {
		return err
	}
	if err := s.store.Enqueue(ctx, e.ID); err != nil {
		return err
	}
	if s.rdb != nil {
		s.rdb.Publish(ctx, claimNudgeChannel, e.ID.String())
	}
	s.logger.Info("execution requeued for retry", "execution_id", e.ID, "retry_count", e.RetryCount+1)
	return nil
}

func isConcurrency(err error) bool {
	_, ok := err.(*apperrors.ConcurrencyError)
	return ok
}
