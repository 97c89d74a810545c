// Package execstore persists executions and implements the atomic claim
// that lets any number of executor processes poll the same queue without
// double-processing a unit of work.
package execstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/db"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

// Store provides database operations for executions.
type Store struct {
	q    *db.Queries
	dbtx db.DBTX
}

// NewStore creates an execution Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{q: db.New(dbtx), dbtx: dbtx}
}

const executionColumns = `id, tenant_id, application_id, deployment_id, step_id, execution_type,
	target_resource_id, runtime_type, spec, state, created_at, queued_at, claimed_at,
	started_at, finished_at, lease_owner, lease_expires_at, deployment_result,
	error_message, error_kind, retry_count, max_retries, priority, version`

func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	var spec, result []byte
	err := row.Scan(
		&e.ID, &e.TenantID, &e.ApplicationID, &e.DeploymentID, &e.StepID, &e.ExecutionType,
		&e.TargetResourceID, &e.RuntimeType, &spec, &e.State, &e.CreatedAt, &e.QueuedAt, &e.ClaimedAt,
		&e.StartedAt, &e.FinishedAt, &e.LeaseOwner, &e.LeaseExpires, &result,
		&e.ErrorMessage, &e.ErrorKind, &e.RetryCount, &e.MaxRetries, &e.Priority, &e.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &e.Spec); err != nil {
			return nil, fmt.Errorf("unmarshaling execution spec: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &e.DeploymentResult); err != nil {
			return nil, fmt.Errorf("unmarshaling deployment result: %w", err)
		}
	}
	return &e, nil
}

// CreateParams holds the fields needed to enqueue a new execution.
type CreateParams struct {
	TenantID         uuid.UUID
	ApplicationID    uuid.UUID
	DeploymentID     uuid.NullUUID
	StepID           string
	ExecutionType    string
	TargetResourceID uuid.NullUUID
	RuntimeType      string
	Spec             map[string]any
	Priority         int
	MaxRetries       int
}

// Create inserts a new execution in the CREATED state.
func (s *Store) Create(ctx context.Context, p CreateParams) (*domain.Execution, error) {
	specJSON, err := json.Marshal(p.Spec)
	if err != nil {
		return nil, fmt.Errorf("marshaling execution spec: %w", err)
	}
	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	query := `INSERT INTO executions (
		id, tenant_id, application_id, deployment_id, step_id, execution_type,
		target_resource_id, runtime_type, spec, state, max_retries, priority
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'CREATED', $10, $11)
	RETURNING ` + executionColumns
	row := s.dbtx.QueryRow(ctx, query,
		uuid.New(), p.TenantID, p.ApplicationID, p.DeploymentID, p.StepID, p.ExecutionType,
		p.TargetResourceID, p.RuntimeType, specJSON, maxRetries, p.Priority,
	)
	return scanExecution(row)
}

// Get returns a single execution by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	return scanExecution(s.dbtx.QueryRow(ctx, query, id))
}

// Enqueue transitions a CREATED execution to QUEUED, making it visible to claimers.
func (s *Store) Enqueue(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE executions SET state = 'QUEUED', queued_at = now() WHERE id = $1 AND state = 'CREATED'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("enqueuing execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewConcurrency("execution %s not in CREATED state", id)
	}
	return nil
}

// TryClaim atomically claims one unit of work for workerID. It first tries a
// fresh QUEUED row ordered by priority then age; if none is available it
// falls back to recovering a STARTED row whose lease has expired, which
// covers a worker that crashed mid-execution. Returns nil, nil when there is
// nothing to claim.
func (s *Store) TryClaim(ctx context.Context, workerID string, leaseDuration time.Duration) (*domain.Execution, string, error) {
	leaseExpiry := time.Now().Add(leaseDuration)

	claimed, err := s.claimQueued(ctx, workerID, leaseExpiry)
	if err != nil {
		return nil, "", err
	}
	if claimed != nil {
		return claimed, "queued", nil
	}

	recovered, err := s.claimExpiredLease(ctx, workerID, leaseExpiry)
	if err != nil {
		return nil, "", err
	}
	if recovered != nil {
		return recovered, "recovered", nil
	}

	return nil, "", nil
}

func (s *Store) claimQueued(ctx context.Context, workerID string, leaseExpiry time.Time) (*domain.Execution, error) {
	query := `UPDATE executions SET
			state = 'CLAIMED', lease_owner = $1, lease_expires_at = $2,
			claimed_at = now(), version = version + 1
		WHERE id = (
			SELECT id FROM executions
			WHERE state = 'QUEUED'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + executionColumns
	row := s.dbtx.QueryRow(ctx, query, workerID, leaseExpiry)
	exec, err := scanExecution(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming queued execution: %w", err)
	}
	return exec, nil
}

// claimExpiredLease re-claims a STARTED row whose lease has lapsed, meaning
// the worker holding it is presumed dead. The row is reassigned in place
// rather than requeued, and its state is reset to CLAIMED so the new
// owner's subsequent Start() (which only matches CLAIMED rows) succeeds
// instead of aborting with a lease error.
func (s *Store) claimExpiredLease(ctx context.Context, workerID string, leaseExpiry time.Time) (*domain.Execution, error) {
	query := `UPDATE executions SET
			state = 'CLAIMED', lease_owner = $1, lease_expires_at = $2, version = version + 1
		WHERE id = (
			SELECT id FROM executions
			WHERE state = 'STARTED' AND lease_expires_at < now()
			ORDER BY lease_expires_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + executionColumns
	row := s.dbtx.QueryRow(ctx, query, workerID, leaseExpiry)
	exec, err := scanExecution(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reclaiming expired execution: %w", err)
	}
	return exec, nil
}

// Start transitions a CLAIMED execution owned by workerID to STARTED.
func (s *Store) Start(ctx context.Context, id uuid.UUID, workerID string) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE executions SET state = 'STARTED', started_at = now(), version = version + 1
		WHERE id = $1 AND state = 'CLAIMED' AND lease_owner = $2`,
		id, workerID,
	)
	if err != nil {
		return fmt.Errorf("starting execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewLease("execution %s: lease lost before start (worker %s)", id, workerID)
	}
	return nil
}

// RenewLease extends the lease on a STARTED execution still owned by workerID.
// It reports lease loss rather than erroring, since losing a race to renew a
// lease is an expected outcome under crash recovery, not a failure.
func (s *Store) RenewLease(ctx context.Context, id uuid.UUID, workerID string, leaseDuration time.Duration) (bool, error) {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE executions SET lease_expires_at = $3
		WHERE id = $1 AND lease_owner = $2 AND state = 'STARTED'`,
		id, workerID, time.Now().Add(leaseDuration),
	)
	if err != nil {
		return false, fmt.Errorf("renewing lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Finalize moves an execution into a terminal or CREATED (for retry) state,
// recording the result or error. The update is guarded by lease ownership so
// a worker that lost its lease cannot clobber a result written by whoever
// took over.
func (s *Store) Finalize(ctx context.Context, id uuid.UUID, workerID string, state domain.ExecutionState, result map[string]any, errMsg string, errKind string) error {
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling deployment result: %w", err)
		}
		resultJSON = b
	}

	var errMsgArg any
	if errMsg != "" {
		errMsgArg = errMsg
	}

	query := `UPDATE executions SET
			state = $3, finished_at = now(), deployment_result = $4,
			error_message = $5, error_kind = $6, lease_owner = NULL, lease_expires_at = NULL,
			version = version + 1
		WHERE id = $1 AND lease_owner = $2 AND state IN ('CLAIMED', 'STARTED')`
	tag, err := s.dbtx.Exec(ctx, query, id, workerID, state, resultJSON, errMsgArg, errKind)
	if err != nil {
		return fmt.Errorf("finalizing execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewLease("execution %s: lease lost before finalize (worker %s)", id, workerID)
	}
	return nil
}

// ResetForRetry clears an execution back to CREATED, incrementing retry_count.
// Used by the retry scheduler after its backoff window elapses.
func (s *Store) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE executions SET
			state = 'CREATED', retry_count = retry_count + 1,
			lease_owner = NULL, lease_expires_at = NULL, version = version + 1
		WHERE id = $1 AND state = 'FAILED' AND retry_count < max_retries`,
		id,
	)
	if err != nil {
		return fmt.Errorf("resetting execution for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewConcurrency("execution %s not eligible for retry", id)
	}
	return nil
}

// ListRetryable returns FAILED executions under their retry limit whose
// finalizing error was classified transient, oldest first. Permanent and
// validation failures are excluded: no backoff window will fix them.
func (s *Store) ListRetryable(ctx context.Context, limit int) ([]*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE state = 'FAILED' AND retry_count < max_retries AND error_kind = 'TRANSIENT'
		ORDER BY finished_at ASC LIMIT $1`
	rows, err := s.dbtx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing retryable executions: %w", err)
	}
	return scanExecutions(rows)
}

// ListExhausted returns FAILED executions that have used up their retry
// budget, oldest first. Used only to drive the retry scheduler's one-time
// ops alert; never re-drives a state transition.
func (s *Store) ListExhausted(ctx context.Context, limit int) ([]*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE state = 'FAILED' AND retry_count >= max_retries
		ORDER BY finished_at ASC LIMIT $1`
	rows, err := s.dbtx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing exhausted executions: %w", err)
	}
	return scanExecutions(rows)
}

// ListByDeployment returns every execution belonging to a deployment.
func (s *Store) ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE deployment_id = $1 ORDER BY created_at ASC`
	rows, err := s.dbtx.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("listing executions by deployment: %w", err)
	}
	return scanExecutions(rows)
}

func scanExecutions(rows pgx.Rows) ([]*domain.Execution, error) {
	defer rows.Close()
	var items []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution rows: %w", err)
	}
	return items, nil
}
