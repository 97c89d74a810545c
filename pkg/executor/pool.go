// Package executor runs the bounded worker pool that claims executions and
// drives them through the runtime agent to completion.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
	"github.com/fluxdeploy/dispatch/internal/telemetry"
	"github.com/fluxdeploy/dispatch/pkg/execstore"
	"github.com/fluxdeploy/dispatch/pkg/nodes"
	"github.com/fluxdeploy/dispatch/pkg/resources"
)

const claimNudgeChannel = "dispatch:execution:queued"

// Config holds the executor's tunables.
type Config struct {
	WorkerID     string
	MaxSlots     int
	PollInterval time.Duration
	LeaseTime    time.Duration
}

// Pool is a bounded set of execution slots. Each slot runs one execution at
// a time, heartbeats its lease for the duration of the work, and is
// guaranteed to be released whether the work succeeds, fails, or the pool
// is shutting down.
type Pool struct {
	cfg       Config
	store     *execstore.Store
	resources *resources.Store
	nodeStore *nodes.Store
	rdb       *redis.Client
	logger    *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a worker pool. rdb may be nil, in which case the pool polls
// on PollInterval alone.
func New(cfg Config, store *execstore.Store, resourceStore *resources.Store, nodeStore *nodes.Store, rdb *redis.Client, logger *slog.Logger) *Pool {
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 1
	}
	return &Pool{
		cfg:       cfg,
		store:     store,
		resources: resourceStore,
		nodeStore: nodeStore,
		rdb:       rdb,
		logger:    logger,
		sem:       make(chan struct{}, cfg.MaxSlots),
	}
}

// Run drives the claim loop until ctx is cancelled, then waits for every
// in-flight slot to finish before returning.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("executor starting", "worker_id", p.cfg.WorkerID, "max_slots", p.cfg.MaxSlots)

	var nudgeCh <-chan *redis.Message
	if p.rdb != nil {
		sub := p.rdb.Subscribe(ctx, claimNudgeChannel)
		defer sub.Close()
		nudgeCh = sub.Channel()
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("executor stopping, waiting for in-flight slots")
			p.wg.Wait()
			return nil
		case <-nudgeCh:
			p.fillSlots(ctx)
		case <-ticker.C:
			p.fillSlots(ctx)
		}
	}
}

// fillSlots claims work until every free slot is occupied or the queue is
// empty, so one tick can dispatch several executions if capacity allows.
func (p *Pool) fillSlots(ctx context.Context) {
	for {
		select {
		case p.sem <- struct{}{}:
		default:
			return // pool full
		}

		exec, path, err := p.store.TryClaim(ctx, p.cfg.WorkerID, p.cfg.LeaseTime)
		if err != nil {
			p.logger.Error("claiming execution", "error", err)
			<-p.sem
			return
		}
		if exec == nil {
			<-p.sem
			return
		}

		telemetry.ExecutionsClaimedTotal.WithLabelValues(path).Inc()
		telemetry.SlotsInUse.Inc()

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer telemetry.SlotsInUse.Dec()
			defer func() { <-p.sem }()
			p.runSlot(ctx, exec)
		}()
	}
}

// runSlot drives a single claimed execution from CLAIMED to a terminal
// state, heartbeating its lease until the work completes.
func (p *Pool) runSlot(ctx context.Context, exec *domain.Execution) {
	slotCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go p.heartbeat(slotCtx, exec.ID, heartbeatDone)
	defer func() { <-heartbeatDone }()

	if err := p.store.Start(slotCtx, exec.ID, p.cfg.WorkerID); err != nil {
		p.logger.Warn("lost lease before start", "execution_id", exec.ID, "error", err)
		return
	}

	result, execErr := p.execute(slotCtx, exec)

	finalState := domain.ExecutionCompleted
	errMsg := ""
	errKind := ""
	if execErr != nil {
		finalState = domain.ExecutionFailed
		errMsg = execErr.Error()
		errKind = apperrors.Kind(execErr)
		p.logger.Error("execution failed", "execution_id", exec.ID, "error", execErr, "error_kind", errKind)
	}

	if err := p.store.Finalize(ctx, exec.ID, p.cfg.WorkerID, finalState, result, errMsg, errKind); err != nil {
		p.logger.Warn("lost lease before finalize", "execution_id", exec.ID, "error", err)
		return
	}
	telemetry.ExecutionsFinalizedTotal.WithLabelValues(string(finalState)).Inc()
}

// heartbeat renews the execution's lease on a cadence shorter than the
// lease duration, so the slot keeps ownership for as long as the work is
// genuinely making progress. It stops as soon as the lease is lost,
// relying on the slot body's own guarded writes to notice and abandon.
func (p *Pool) heartbeat(ctx context.Context, execID uuid.UUID, done chan<- struct{}) {
	defer close(done)
	interval := p.cfg.LeaseTime / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := p.store.RenewLease(ctx, execID, p.cfg.WorkerID, p.cfg.LeaseTime)
			if err != nil {
				p.logger.Error("renewing lease", "execution_id", execID, "error", err)
				telemetry.LeaseRenewalsTotal.WithLabelValues("error").Inc()
				continue
			}
			if !renewed {
				telemetry.LeaseRenewalsTotal.WithLabelValues("lost").Inc()
				return
			}
			telemetry.LeaseRenewalsTotal.WithLabelValues("ok").Inc()
		}
	}
}

// execute dispatches by execution type. Only "deploy" (spawn a container
// via the runtime agent) is implemented; every other type is a validation
// error, since the orchestrator never creates them yet.
func (p *Pool) execute(ctx context.Context, exec *domain.Execution) (map[string]any, error) {
	switch exec.ExecutionType {
	case "deploy":
		return p.executeDeploy(ctx, exec)
	default:
		return nil, apperrors.NewValidation("unsupported execution type %q", exec.ExecutionType)
	}
}
