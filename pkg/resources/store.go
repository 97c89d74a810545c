// Package resources tracks the rows created for every thing the
// orchestrator actually materialises on a node: containers, databases,
// volumes, networks.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fluxdeploy/dispatch/internal/db"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

// Store provides database operations for deployed resources.
type Store struct {
	q    *db.Queries
	dbtx db.DBTX
}

// NewStore creates a resource Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{q: db.New(dbtx), dbtx: dbtx}
}

const resourceColumns = `id, deployment_id, type, external_id, node_id, name, spec, ports, status,
	health, consecutive_failures, last_health_check_at, created_at, updated_at`

func scanResource(row pgx.Row) (*domain.DeployedResource, error) {
	var r domain.DeployedResource
	var spec, ports []byte
	err := row.Scan(
		&r.ID, &r.DeploymentID, &r.Type, &r.ExternalID, &r.NodeID, &r.Name, &spec, &ports, &r.Status,
		&r.Health, &r.ConsecutiveFailures, &r.LastHealthCheckAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &r.Spec); err != nil {
			return nil, fmt.Errorf("unmarshaling resource spec: %w", err)
		}
	}
	if len(ports) > 0 {
		if err := json.Unmarshal(ports, &r.Ports); err != nil {
			return nil, fmt.Errorf("unmarshaling resource ports: %w", err)
		}
	}
	return &r, nil
}

func scanResources(rows pgx.Rows) ([]*domain.DeployedResource, error) {
	defer rows.Close()
	var items []*domain.DeployedResource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resource rows: %w", err)
	}
	return items, nil
}

// CreateParams describes a resource row created before its execution runs,
// so the execution has something to attach its result to.
type CreateParams struct {
	DeploymentID uuid.UUID
	Type         domain.ResourceType
	NodeID       uuid.UUID
	Name         string
	Spec         map[string]any
}

// Create inserts a pending resource row.
func (s *Store) Create(ctx context.Context, p CreateParams) (*domain.DeployedResource, error) {
	specJSON, err := json.Marshal(p.Spec)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource spec: %w", err)
	}
	query := `INSERT INTO deployed_resources (
			id, deployment_id, type, external_id, node_id, name, spec, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING ` + resourceColumns
	row := s.dbtx.QueryRow(ctx, query,
		uuid.New(), p.DeploymentID, p.Type, domain.PendingExternalID, p.NodeID, p.Name, specJSON,
	)
	return scanResource(row)
}

// Get returns a single resource by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.DeployedResource, error) {
	query := `SELECT ` + resourceColumns + ` FROM deployed_resources WHERE id = $1`
	return scanResource(s.dbtx.QueryRow(ctx, query, id))
}

// ListByDeployment returns every resource belonging to a deployment.
func (s *Store) ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]*domain.DeployedResource, error) {
	query := `SELECT ` + resourceColumns + ` FROM deployed_resources WHERE deployment_id = $1 ORDER BY created_at ASC`
	rows, err := s.dbtx.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("listing resources by deployment: %w", err)
	}
	return scanResources(rows)
}

// ListContainersForProbing returns container resources eligible for a health
// check: active status, due by interval (callers pass the interval floor).
func (s *Store) ListContainersForProbing(ctx context.Context, dueBefore time.Time) ([]*domain.DeployedResource, error) {
	query := `SELECT ` + resourceColumns + ` FROM deployed_resources
		WHERE type = 'CONTAINER' AND status = 'active'
		  AND (last_health_check_at IS NULL OR last_health_check_at < $1)
		ORDER BY last_health_check_at ASC NULLS FIRST`
	rows, err := s.dbtx.Query(ctx, query, dueBefore)
	if err != nil {
		return nil, fmt.Errorf("listing resources for probing: %w", err)
	}
	return scanResources(rows)
}

// BindExternalID writes the runtime agent's assigned identifier and port
// mapping onto a resource once its deploy execution completes, flipping it
// to active so the health monitor starts probing it.
func (s *Store) BindExternalID(ctx context.Context, id uuid.UUID, externalID string, ports map[string]string) error {
	portsJSON, err := json.Marshal(ports)
	if err != nil {
		return fmt.Errorf("marshaling resource ports: %w", err)
	}
	_, err = s.dbtx.Exec(ctx,
		`UPDATE deployed_resources SET external_id = $2, ports = $3, status = 'active', updated_at = now() WHERE id = $1`,
		id, externalID, portsJSON,
	)
	if err != nil {
		return fmt.Errorf("binding resource external id: %w", err)
	}
	return nil
}

// MarkFailed flips a resource to failed status, e.g. after its creating
// execution exhausts retries.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployed_resources SET status = 'failed', updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking resource failed: %w", err)
	}
	return nil
}

// RecordHealthCheck stores the outcome of a probe and updates the
// consecutive failure counter, resetting it to zero on success.
func (s *Store) RecordHealthCheck(ctx context.Context, id uuid.UUID, healthy bool) (*domain.DeployedResource, error) {
	query := `UPDATE deployed_resources SET
			last_health_check_at = now(),
			consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures + 1 END,
			health = CASE WHEN $2 THEN 'HEALTHY' ELSE health END,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + resourceColumns
	row := s.dbtx.QueryRow(ctx, query, id, healthy)
	return scanResource(row)
}

// SetHealth sets the resource's health classification directly, used once
// the consecutive failure threshold is crossed.
func (s *Store) SetHealth(ctx context.Context, id uuid.UUID, health domain.HealthStatus) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployed_resources SET health = $2, updated_at = now() WHERE id = $1`,
		id, health,
	)
	if err != nil {
		return fmt.Errorf("setting resource health: %w", err)
	}
	return nil
}
