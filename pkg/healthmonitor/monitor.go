// Package healthmonitor probes deployed containers on a ticker and
// remediates the ones that cross a consecutive-failure threshold.
package healthmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
	"github.com/fluxdeploy/dispatch/internal/opsnotify"
	"github.com/fluxdeploy/dispatch/internal/telemetry"
	"github.com/fluxdeploy/dispatch/pkg/agentclient"
	"github.com/fluxdeploy/dispatch/pkg/nodes"
	"github.com/fluxdeploy/dispatch/pkg/resources"
)

// Config tunes probe cadence and remediation thresholds.
type Config struct {
	Interval           time.Duration
	FailureThreshold   int
	RestartDelay       time.Duration
	NodeStaleThreshold time.Duration
}

// Monitor probes every active container on its configured interval and
// restarts the ones that cross the consecutive-failure threshold.
type Monitor struct {
	resources *resources.Store
	nodes     *nodes.Store
	notifier  *opsnotify.Notifier
	cfg       Config
	logger    *slog.Logger

	restarting map[string]time.Time
}

// New creates a health Monitor. notifier may be disabled; restart alerts
// then simply don't post anywhere.
func New(resourceStore *resources.Store, nodeStore *nodes.Store, notifier *opsnotify.Notifier, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 60 * time.Second
	}
	if cfg.NodeStaleThreshold <= 0 {
		cfg.NodeStaleThreshold = 5 * time.Minute
	}
	return &Monitor{
		resources:  resourceStore,
		nodes:      nodeStore,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		restarting: make(map[string]time.Time),
	}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("health monitor starting", "interval", m.cfg.Interval, "failure_threshold", m.cfg.FailureThreshold)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.logger.Error("health monitor tick", "error", err)
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	stale, err := m.nodes.MarkStale(ctx, m.cfg.NodeStaleThreshold)
	if err != nil {
		m.logger.Error("marking stale nodes", "error", err)
	} else if stale > 0 {
		m.logger.Warn("nodes marked offline on heartbeat staleness", "count", stale)
	}

	due, err := m.resources.ListContainersForProbing(ctx, time.Now().Add(-m.cfg.Interval))
	if err != nil {
		return err
	}
	for _, r := range due {
		if err := m.probe(ctx, r); err != nil {
			m.logger.Error("probing resource", "resource_id", r.ID, "error", err)
		}
	}
	return nil
}

// probe builds the resource's configured Checker and runs it. A missing
// health_check block means healthy by assumption, matching the spec's
// "no probe = assume healthy" default.
func (m *Monitor) probe(ctx context.Context, r *domain.DeployedResource) error {
	if r.ExternalID == "" || r.ExternalID == domain.PendingExternalID {
		return nil
	}

	spec := parseHealthCheck(r.Spec)
	checker, probeType := m.buildChecker(ctx, r, spec)

	var result Result
	if checker != nil {
		result = checker.Check(ctx)
	} else {
		result = Result{Healthy: true, Message: "no health check configured", CheckedAt: time.Now()}
	}
	telemetry.HealthChecksTotal.WithLabelValues(string(probeType), resultLabel(result.Healthy)).Inc()

	updated, err := m.resources.RecordHealthCheck(ctx, r.ID, result.Healthy)
	if err != nil {
		return fmt.Errorf("recording health check: %w", err)
	}

	if result.Healthy {
		delete(m.restarting, r.ID.String())
		return nil
	}

	if updated.ConsecutiveFailures < m.cfg.FailureThreshold {
		return nil
	}

	if err := m.resources.SetHealth(ctx, r.ID, domain.HealthUnhealthy); err != nil {
		return fmt.Errorf("marking resource unhealthy: %w", err)
	}
	return m.remediate(ctx, r, result.Message)
}

// buildChecker resolves the probe's host:port mapping or agent client as
// needed and returns the Checker for spec.Type. Returns nil, "none" when no
// health_check block is configured.
func (m *Monitor) buildChecker(ctx context.Context, r *domain.DeployedResource, spec domain.HealthCheckSpec) (Checker, CheckType) {
	switch spec.Type {
	case "http":
		addr, ok := resolvePort(r.Ports, spec.Port)
		if !ok {
			return unreachableChecker{}, CheckTypeHTTP
		}
		return NewHTTPChecker(addr, spec.Path), CheckTypeHTTP
	case "tcp":
		addr, ok := resolvePort(r.Ports, spec.Port)
		if !ok {
			return unreachableChecker{}, CheckTypeTCP
		}
		return NewTCPChecker(addr), CheckTypeTCP
	case "command":
		node, err := m.nodes.Get(ctx, r.NodeID)
		if err != nil {
			return unreachableChecker{}, CheckTypeCommand
		}
		agent := agentclient.NewClient(node.RuntimeAgentURL)
		return NewCommandChecker(agent, r.ExternalID, splitCommand(spec.Command)), CheckTypeCommand
	default:
		return nil, "none"
	}
}

// unreachableChecker reports unhealthy when the probe's target address or
// node cannot be resolved, rather than silently skipping the check.
type unreachableChecker struct{}

func (unreachableChecker) Check(ctx context.Context) Result {
	return Result{Healthy: false, Message: "probe target unresolvable", CheckedAt: time.Now()}
}
func (unreachableChecker) Type() CheckType { return "" }

// remediate restarts a container that has crossed the failure threshold, at
// most once per RestartDelay window so a container stuck in a crash loop
// does not get hammered with restarts every probe tick.
func (m *Monitor) remediate(ctx context.Context, r *domain.DeployedResource, reason string) error {
	key := r.ID.String()
	if last, ok := m.restarting[key]; ok && time.Since(last) < m.cfg.RestartDelay {
		return nil
	}
	m.restarting[key] = time.Now()

	node, err := m.nodes.Get(ctx, r.NodeID)
	if err != nil {
		return fmt.Errorf("looking up node: %w", err)
	}
	agent := agentclient.NewClient(node.RuntimeAgentURL)

	m.logger.Info("restarting unhealthy container", "resource_id", r.ID, "external_id", r.ExternalID, "reason", reason)
	telemetry.RestartsRequestedTotal.Inc()
	m.notifier.RestartRequested(ctx, r.ID.String(), r.Name, reason)

	if err := agent.RestartContainer(ctx, r.ExternalID); err != nil {
		if apperrors.IsPermanent(err) {
			return m.resources.MarkFailed(ctx, r.ID)
		}
		return fmt.Errorf("restarting container: %w", err)
	}
	if err := m.resources.SetHealth(ctx, r.ID, domain.HealthStarting); err != nil {
		return fmt.Errorf("marking resource starting: %w", err)
	}
	return nil
}

// resolvePort finds the host:port address the runtime agent reported for
// a probe's internal container port, keyed "<n>/tcp". Port 0 picks
// whichever single mapping is present.
func resolvePort(ports map[string]string, port int) (string, bool) {
	if port == 0 {
		for _, addr := range ports {
			return addr, addr != ""
		}
		return "", false
	}
	addr, ok := ports[fmt.Sprintf("%d/tcp", port)]
	return addr, ok && addr != ""
}

func resultLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func parseHealthCheck(spec map[string]any) domain.HealthCheckSpec {
	var hc domain.HealthCheckSpec
	raw, ok := spec["health_check"].(map[string]any)
	if !ok {
		return hc
	}
	hc.Type, _ = raw["type"].(string)
	hc.Path, _ = raw["path"].(string)
	hc.Command, _ = raw["command"].(string)
	if p, ok := raw["port"]; ok {
		hc.Port = toInt(p)
	}
	return hc
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func splitCommand(cmd string) []string {
	if cmd == "" {
		return nil
	}
	return []string{"/bin/sh", "-c", cmd}
}
