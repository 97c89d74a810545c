// Package statusupdater closes the loop the orchestrator leaves open: it
// rolls execution outcomes up onto deployments and applications on a
// ticker, so placing work and watching it finish are two independent,
// idempotent concerns.
package statusupdater

import (
	"context"
	"log/slog"
	"time"

	"github.com/fluxdeploy/dispatch/internal/domain"
	"github.com/fluxdeploy/dispatch/internal/telemetry"
	"github.com/fluxdeploy/dispatch/pkg/deployments"
	"github.com/fluxdeploy/dispatch/pkg/execstore"
)

// Updater rolls execution state up onto deployments and applications.
type Updater struct {
	deployments *deployments.DeploymentStore
	apps        *deployments.ApplicationStore
	executions  *execstore.Store
	interval    time.Duration
	logger      *slog.Logger
}

// New creates a status Updater.
func New(deploymentStore *deployments.DeploymentStore, appStore *deployments.ApplicationStore, executions *execstore.Store, interval time.Duration, logger *slog.Logger) *Updater {
	return &Updater{
		deployments: deploymentStore,
		apps:        appStore,
		executions:  executions,
		interval:    interval,
		logger:      logger,
	}
}

// Run ticks until ctx is cancelled. Every tick is a complete, idempotent
// sweep: re-running it after a crash produces the same end state.
func (u *Updater) Run(ctx context.Context) error {
	u.logger.Info("status updater starting", "interval", u.interval)
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.logger.Info("status updater stopped")
			return nil
		case <-ticker.C:
			if err := u.tick(ctx); err != nil {
				u.logger.Error("status updater tick", "error", err)
			}
		}
	}
}

func (u *Updater) tick(ctx context.Context) error {
	deploying, err := u.deployments.ListByStatus(ctx, domain.DeploymentDeploying)
	if err != nil {
		return err
	}
	for _, dep := range deploying {
		if err := u.reconcileDeployment(ctx, dep); err != nil {
			u.logger.Error("reconciling deployment", "deployment_id", dep.ID, "error", err)
		}
	}
	return nil
}

// reconcileDeployment inspects every execution belonging to a DEPLOYING
// deployment: all COMPLETED promotes it (and its application) to RUNNING;
// any execution FAILED with no retries left fails the deployment outright.
func (u *Updater) reconcileDeployment(ctx context.Context, dep *domain.Deployment) error {
	execs, err := u.executions.ListByDeployment(ctx, dep.ID)
	if err != nil {
		return err
	}

	allTerminal := true
	for _, e := range execs {
		if e.State == domain.ExecutionFailed && !e.CanRetry() {
			reason := "execution failed"
			if e.ErrorMessage != nil {
				reason = *e.ErrorMessage
			}
			if err := u.deployments.MarkFailed(ctx, dep.ID, reason); err != nil {
				return err
			}
			if err := u.apps.SetStatus(ctx, dep.ApplicationID, domain.ApplicationFailed); err != nil {
				return err
			}
			telemetry.DeploymentsByStatusTotal.WithLabelValues(string(domain.DeploymentFailed)).Inc()
			return nil
		}
		if !e.State.IsTerminal() {
			allTerminal = false
		}
	}

	if allTerminal && len(execs) > 0 {
		if err := u.deployments.MarkRunning(ctx, dep.ID); err != nil {
			return err
		}
		if err := u.apps.SetStatus(ctx, dep.ApplicationID, domain.ApplicationRunning); err != nil {
			return err
		}
		telemetry.DeploymentsByStatusTotal.WithLabelValues(string(domain.DeploymentRunning)).Inc()
	}

	return nil
}
