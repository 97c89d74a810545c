package execstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fluxdeploy/dispatch/internal/domain"
)

// fakeDBTX is a minimal in-memory stand-in for db.DBTX that understands
// exactly the statements execstore.Store issues. It exists so the leased
// claim/recover/finalize algorithm in this package (the spec's "Key
// algorithm", §4.A) can be exercised without a live Postgres connection.
type fakeDBTX struct {
	mu    sync.Mutex
	execs map[uuid.UUID]*domain.Execution
}

func newFakeDBTX() *fakeDBTX {
	return &fakeDBTX{execs: make(map[uuid.UUID]*domain.Execution)}
}

// expireLease backdates an execution's lease, simulating a worker that
// claimed the row and then crashed before its lease renewed.
func (f *fakeDBTX) expireLease(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	past := time.Now().Add(-time.Minute)
	f.execs[id].LeaseExpires = &past
}

func (f *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "INSERT INTO executions"):
		return f.insert(args)
	case strings.Contains(sql, "state = 'QUEUED'") && strings.Contains(sql, "FOR UPDATE SKIP LOCKED"):
		return f.claimQueued(args)
	case strings.Contains(sql, "state = 'STARTED' AND lease_expires_at < now()"):
		return f.claimExpiredLease(args)
	case strings.Contains(sql, "FROM executions WHERE id = $1"):
		return f.get(args)
	default:
		return &fakeRow{err: fmt.Errorf("fakeDBTX: unhandled QueryRow: %s", sql)}
	}
}

func (f *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "state = 'QUEUED', queued_at = now()"):
		return f.enqueue(args)
	case strings.Contains(sql, "state = 'STARTED', started_at = now()"):
		return f.start(args)
	case strings.Contains(sql, "lease_owner = NULL"):
		return f.finalize(args)
	default:
		return pgconn.CommandTag{}, fmt.Errorf("fakeDBTX: unhandled Exec: %s", sql)
	}
}

func (f *fakeDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("fakeDBTX: Query not supported")
}

func (f *fakeDBTX) insert(args []any) pgx.Row {
	id := args[0].(uuid.UUID)
	e := &domain.Execution{
		ID:               id,
		TenantID:         args[1].(uuid.UUID),
		ApplicationID:    args[2].(uuid.UUID),
		DeploymentID:     args[3].(uuid.NullUUID),
		StepID:           args[4].(string),
		ExecutionType:    args[5].(string),
		TargetResourceID: args[6].(uuid.NullUUID),
		RuntimeType:      args[7].(string),
		State:            domain.ExecutionCreated,
		CreatedAt:        time.Now(),
		MaxRetries:       args[9].(int),
		Priority:         args[10].(int),
	}
	f.execs[id] = e
	return &fakeRow{exec: clone(e)}
}

func (f *fakeDBTX) claimQueued(args []any) pgx.Row {
	workerID := args[0].(string)
	leaseExpiry := args[1].(time.Time)
	for _, e := range f.execs {
		if e.State != domain.ExecutionQueued {
			continue
		}
		e.State = domain.ExecutionClaimed
		e.LeaseOwner = &workerID
		e.LeaseExpires = &leaseExpiry
		now := time.Now()
		e.ClaimedAt = &now
		e.Version++
		return &fakeRow{exec: clone(e)}
	}
	return &fakeRow{exec: nil}
}

func (f *fakeDBTX) claimExpiredLease(args []any) pgx.Row {
	workerID := args[0].(string)
	leaseExpiry := args[1].(time.Time)
	now := time.Now()
	for _, e := range f.execs {
		if e.State != domain.ExecutionStarted || e.LeaseExpires == nil || !e.LeaseExpires.Before(now) {
			continue
		}
		e.State = domain.ExecutionClaimed
		e.LeaseOwner = &workerID
		e.LeaseExpires = &leaseExpiry
		e.Version++
		return &fakeRow{exec: clone(e)}
	}
	return &fakeRow{exec: nil}
}

func (f *fakeDBTX) get(args []any) pgx.Row {
	id := args[0].(uuid.UUID)
	e, ok := f.execs[id]
	if !ok {
		return &fakeRow{exec: nil}
	}
	return &fakeRow{exec: clone(e)}
}

func (f *fakeDBTX) enqueue(args []any) (pgconn.CommandTag, error) {
	id := args[0].(uuid.UUID)
	e, ok := f.execs[id]
	if !ok || e.State != domain.ExecutionCreated {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	e.State = domain.ExecutionQueued
	now := time.Now()
	e.QueuedAt = &now
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDBTX) start(args []any) (pgconn.CommandTag, error) {
	id := args[0].(uuid.UUID)
	workerID := args[1].(string)
	e, ok := f.execs[id]
	if !ok || e.State != domain.ExecutionClaimed || e.LeaseOwner == nil || *e.LeaseOwner != workerID {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	e.State = domain.ExecutionStarted
	now := time.Now()
	e.StartedAt = &now
	e.Version++
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDBTX) finalize(args []any) (pgconn.CommandTag, error) {
	id := args[0].(uuid.UUID)
	workerID := args[1].(string)
	e, ok := f.execs[id]
	if !ok || e.LeaseOwner == nil || *e.LeaseOwner != workerID {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	if e.State != domain.ExecutionClaimed && e.State != domain.ExecutionStarted {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	e.State = args[2].(domain.ExecutionState)
	now := time.Now()
	e.FinishedAt = &now
	if args[4] != nil {
		msg := args[4].(string)
		e.ErrorMessage = &msg
	}
	e.ErrorKind = args[5].(string)
	e.LeaseOwner = nil
	e.LeaseExpires = nil
	e.Version++
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func clone(e *domain.Execution) *domain.Execution {
	c := *e
	return &c
}

// fakeRow is a pgx.Row backed by a domain.Execution, feeding scanExecution
// the same values Store's real queries would RETURNING.
type fakeRow struct {
	exec *domain.Execution
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.exec == nil {
		return pgx.ErrNoRows
	}
	e := r.exec
	vals := []any{
		e.ID, e.TenantID, e.ApplicationID, e.DeploymentID, e.StepID, e.ExecutionType,
		e.TargetResourceID, e.RuntimeType, []byte("{}"), e.State, e.CreatedAt, e.QueuedAt, e.ClaimedAt,
		e.StartedAt, e.FinishedAt, e.LeaseOwner, e.LeaseExpires, []byte("{}"),
		e.ErrorMessage, e.ErrorKind, e.RetryCount, e.MaxRetries, e.Priority, e.Version,
	}
	if len(dest) != len(vals) {
		return fmt.Errorf("fakeRow: expected %d scan targets, got %d", len(vals), len(dest))
	}
	for i, d := range dest {
		if err := assignScan(d, vals[i]); err != nil {
			return fmt.Errorf("fakeRow: scanning field %d: %w", i, err)
		}
	}
	return nil
}

func assignScan(dest, val any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("scan dest must be a non-nil pointer, got %T", dest)
	}
	elem := dv.Elem()
	vv := reflect.ValueOf(val)
	if !vv.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("cannot assign %s into %s", vv.Type(), elem.Type())
	}
	elem.Set(vv)
	return nil
}
