package retryscheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

func TestSchedulerDueNotYetFinished(t *testing.T) {
	s := &Scheduler{}
	e := &domain.Execution{RetryCount: 0}
	assert.False(t, s.due(e))
}

func TestSchedulerDueBeforeBackoffElapses(t *testing.T) {
	s := &Scheduler{}
	justFinished := time.Now()
	e := &domain.Execution{RetryCount: 0, FinishedAt: &justFinished}
	assert.False(t, s.due(e))
}

func TestSchedulerDueAfterBackoffElapses(t *testing.T) {
	s := &Scheduler{}
	longAgo := time.Now().Add(-time.Hour)
	e := &domain.Execution{RetryCount: 0, FinishedAt: &longAgo}
	assert.True(t, s.due(e))
}

func TestIsConcurrency(t *testing.T) {
	assert.True(t, isConcurrency(apperrors.NewConcurrency("version mismatch")))
	assert.False(t, isConcurrency(apperrors.NewTransient("timeout", nil)))
	assert.False(t, isConcurrency(nil))
}
