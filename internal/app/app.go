// Package app wires a dispatch process together: it connects to Postgres
// and Redis, runs migrations, and starts whichever single reconciler
// cfg.Mode names, alongside the ambient ops HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fluxdeploy/dispatch/internal/config"
	"github.com/fluxdeploy/dispatch/internal/httpserver"
	"github.com/fluxdeploy/dispatch/internal/opsnotify"
	"github.com/fluxdeploy/dispatch/internal/platform"
	"github.com/fluxdeploy/dispatch/internal/seed"
	"github.com/fluxdeploy/dispatch/internal/telemetry"
	"github.com/fluxdeploy/dispatch/pkg/deployments"
	"github.com/fluxdeploy/dispatch/pkg/execstore"
	"github.com/fluxdeploy/dispatch/pkg/executor"
	"github.com/fluxdeploy/dispatch/pkg/healthmonitor"
	"github.com/fluxdeploy/dispatch/pkg/nodes"
	"github.com/fluxdeploy/dispatch/pkg/resources"
	"github.com/fluxdeploy/dispatch/pkg/retryscheduler"
	"github.com/fluxdeploy/dispatch/pkg/statusupdater"
	"github.com/fluxdeploy/dispatch/pkg/template"
)

// Run is the process entry point. It connects infrastructure once, then
// dispatches on cfg.Mode to start exactly one reconciler loop.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting dispatch", "mode", cfg.Mode)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	execStore := execstore.NewStore(db)
	resourceStore := resources.NewStore(db)
	nodeStore := nodes.NewStore(db)
	deploymentStore := deployments.NewDeploymentStore(db)
	appStore := deployments.NewApplicationStore(db)
	templateStore := template.NewStore(db)
	notifier := opsnotify.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)

	if notifier.IsEnabled() {
		logger.Info("ops notifications enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("ops notifications disabled (SLACK_BOT_TOKEN not set)")
	}

	if cfg.Mode == "seed" {
		return seed.Run(ctx, templateStore, logger)
	}

	var reconciler interface{ Run(context.Context) error }
	switch cfg.Mode {
	case "executor":
		reconciler = executor.New(
			executor.Config{
				WorkerID:     cfg.WorkerID,
				MaxSlots:     cfg.MaxSlots,
				PollInterval: time.Duration(cfg.PollInterval) * time.Second,
				LeaseTime:    time.Duration(cfg.LeaseSeconds) * time.Second,
			},
			execStore, resourceStore, nodeStore, rdb, logger,
		)
	case "status-updater":
		reconciler = statusupdater.New(
			deploymentStore, appStore, execStore,
			time.Duration(cfg.StatusUpdaterInterval)*time.Second, logger,
		)
	case "retry-scheduler":
		reconciler = retryscheduler.New(
			execStore, rdb, notifier,
			time.Duration(cfg.RetrySchedulerInterval)*time.Second, logger,
		)
	case "health-monitor":
		reconciler = healthmonitor.New(
			resourceStore, nodeStore, notifier,
			healthmonitor.Config{
				Interval:           time.Duration(cfg.HealthMonitorInterval) * time.Second,
				FailureThreshold:   cfg.HealthFailureThreshold,
				RestartDelay:       time.Duration(cfg.RestartDelaySeconds) * time.Second,
				NodeStaleThreshold: time.Duration(cfg.NodeStaleThresholdMins) * time.Minute,
			},
			logger,
		)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}

	return runWithAmbientServer(ctx, cfg, logger, db, rdb, metricsReg, reconciler)
}

// runWithAmbientServer starts the ambient ops HTTP surface (/healthz,
// /readyz, /metrics) and the reconciler loop together. Either one exiting
// (including via ctx cancellation) stops the other.
func runWithAmbientServer(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	reconciler interface{ Run(context.Context) error },
) error {
	srv := httpserver.New(logger, db, rdb, metricsReg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.MetricsAddr)
	})
	g.Go(func() error {
		return reconciler.Run(gctx)
	})
	return g.Wait()
}
