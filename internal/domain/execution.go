// Package domain holds the core entities the dispatch engine persists and
// mutates: executions, deployments, applications, deployed resources, and
// infrastructure nodes.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionState is the execution queue-item state machine.
type ExecutionState string

const (
	ExecutionCreated   ExecutionState = "CREATED"
	ExecutionQueued    ExecutionState = "QUEUED"
	ExecutionClaimed   ExecutionState = "CLAIMED"
	ExecutionStarted   ExecutionState = "STARTED"
	ExecutionCompleted ExecutionState = "COMPLETED"
	ExecutionFailed    ExecutionState = "FAILED"
	ExecutionCancelled ExecutionState = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Execution is the durable unit of work: one queue item, one lease, one
// monotonic version counter.
type Execution struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ApplicationID uuid.UUID
	DeploymentID  uuid.NullUUID
	StepID        string // step_execution_id correlate; empty if not step-scoped

	ExecutionType    string // "deploy"
	TargetResourceID uuid.NullUUID
	RuntimeType      string // "docker"
	Spec             map[string]any

	State ExecutionState

	CreatedAt  time.Time
	QueuedAt   *time.Time
	ClaimedAt  *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	LeaseOwner    *string
	LeaseExpires  *time.Time

	DeploymentResult map[string]any
	ErrorMessage     *string
	ErrorKind        string // "TRANSIENT", "PERMANENT", "VALIDATION", "OTHER"; empty until finalized with an error

	RetryCount int
	MaxRetries int

	Priority int
	Version  int
}

// LeaseValid reports whether the execution's lease is currently held by
// worker and has not expired, relative to now.
func (e *Execution) LeaseValid(worker string, now time.Time) bool {
	if e.LeaseOwner == nil || *e.LeaseOwner != worker {
		return false
	}
	if e.LeaseExpires == nil {
		return false
	}
	return e.LeaseExpires.After(now)
}

// CanRetry reports whether the execution is eligible for another attempt,
// independent of error classification (caller still must check transience).
func (e *Execution) CanRetry() bool {
	return e.State == ExecutionFailed && e.RetryCount < e.MaxRetries
}
