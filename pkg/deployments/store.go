// Package deployments persists applications and their deployments: the
// user-facing handle and the per-attempt record the orchestrator and
// status updater both operate on.
package deployments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fluxdeploy/dispatch/internal/db"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

// DeploymentStore provides database operations for deployments.
type DeploymentStore struct {
	q    *db.Queries
	dbtx db.DBTX
}

// NewDeploymentStore creates a DeploymentStore backed by the given database connection.
func NewDeploymentStore(dbtx db.DBTX) *DeploymentStore {
	return &DeploymentStore{q: db.New(dbtx), dbtx: dbtx}
}

const deploymentColumns = `id, application_id, tenant_id, template_id, template_version,
	resolved_config, status, current_step, total_steps, public_url, error_message,
	rolled_back, created_at, started_at, completed_at`

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	var resolvedConfig []byte
	err := row.Scan(
		&d.ID, &d.ApplicationID, &d.TenantID, &d.TemplateID, &d.TemplateVersion,
		&resolvedConfig, &d.Status, &d.CurrentStep, &d.TotalSteps, &d.PublicURL, &d.ErrorMessage,
		&d.RolledBack, &d.CreatedAt, &d.StartedAt, &d.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(resolvedConfig) > 0 {
		if err := json.Unmarshal(resolvedConfig, &d.ResolvedConfig); err != nil {
			return nil, fmt.Errorf("unmarshaling resolved config: %w", err)
		}
	}
	return &d, nil
}

// DeploymentCreateParams holds the fields needed to start a new deployment.
type DeploymentCreateParams struct {
	ApplicationID   uuid.UUID
	TenantID        uuid.UUID
	TemplateID      string
	TemplateVersion string
	ResolvedConfig  map[string]any
	TotalSteps      int
}

// Create inserts a deployment in the PENDING state.
func (s *DeploymentStore) Create(ctx context.Context, p DeploymentCreateParams) (*domain.Deployment, error) {
	configJSON, err := json.Marshal(p.ResolvedConfig)
	if err != nil {
		return nil, fmt.Errorf("marshaling resolved config: %w", err)
	}
	query := `INSERT INTO deployments (
			id, application_id, tenant_id, template_id, template_version,
			resolved_config, status, total_steps
		) VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7)
		RETURNING ` + deploymentColumns
	row := s.dbtx.QueryRow(ctx, query,
		uuid.New(), p.ApplicationID, p.TenantID, p.TemplateID, p.TemplateVersion, configJSON, p.TotalSteps,
	)
	return scanDeployment(row)
}

// Get returns a single deployment by ID.
func (s *DeploymentStore) Get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return scanDeployment(s.dbtx.QueryRow(ctx, query, id))
}

// MarkDeploying transitions a PENDING deployment to DEPLOYING.
func (s *DeploymentStore) MarkDeploying(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployments SET status = 'DEPLOYING', started_at = now() WHERE id = $1 AND status = 'PENDING'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking deployment deploying: %w", err)
	}
	return nil
}

// Fail marks a deployment FAILED with an error message, used when
// orchestration itself errors before any execution is queued.
func (s *DeploymentStore) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployments SET status = 'FAILED', error_message = $2, completed_at = now() WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("failing deployment: %w", err)
	}
	return nil
}

// SetPublicURL records the externally reachable address once known.
func (s *DeploymentStore) SetPublicURL(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE deployments SET public_url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("setting deployment public url: %w", err)
	}
	return nil
}

// MarkRunning transitions a deployment whose executions have all completed
// to RUNNING.
func (s *DeploymentStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployments SET status = 'RUNNING', completed_at = now() WHERE id = $1 AND status = 'DEPLOYING'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking deployment running: %w", err)
	}
	return nil
}

// MarkFailed transitions a deployment to FAILED because one of its
// executions exhausted its retries.
func (s *DeploymentStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployments SET status = 'FAILED', error_message = $2, completed_at = now()
		WHERE id = $1 AND status = 'DEPLOYING'`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("marking deployment failed: %w", err)
	}
	return nil
}

// ListByStatus returns deployments in the given status, used by the status
// updater's sweep.
func (s *DeploymentStore) ListByStatus(ctx context.Context, status domain.DeploymentStatus) ([]*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE status = $1 ORDER BY created_at ASC`
	rows, err := s.dbtx.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("listing deployments by status: %w", err)
	}
	defer rows.Close()
	var items []*domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment row: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployment rows: %w", err)
	}
	return items, nil
}

// ApplicationStore provides database operations for applications.
type ApplicationStore struct {
	q    *db.Queries
	dbtx db.DBTX
}

// NewApplicationStore creates an ApplicationStore backed by the given database connection.
func NewApplicationStore(dbtx db.DBTX) *ApplicationStore {
	return &ApplicationStore{q: db.New(dbtx), dbtx: dbtx}
}

const applicationColumns = `id, tenant_id, template_id, user_inputs, current_deployment_id,
	status, health_status, created_at, updated_at`

func scanApplication(row pgx.Row) (*domain.Application, error) {
	var a domain.Application
	var userInputs []byte
	err := row.Scan(
		&a.ID, &a.TenantID, &a.TemplateID, &userInputs, &a.CurrentDeploymentID,
		&a.Status, &a.HealthStatus, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(userInputs) > 0 {
		if err := json.Unmarshal(userInputs, &a.UserInputs); err != nil {
			return nil, fmt.Errorf("unmarshaling user inputs: %w", err)
		}
	}
	return &a, nil
}

// ApplicationCreateParams holds the fields needed to create a new application.
type ApplicationCreateParams struct {
	TenantID   uuid.UUID
	TemplateID string
	UserInputs map[string]any
}

// Create inserts a new application in the CREATING state.
func (s *ApplicationStore) Create(ctx context.Context, p ApplicationCreateParams) (*domain.Application, error) {
	inputsJSON, err := json.Marshal(p.UserInputs)
	if err != nil {
		return nil, fmt.Errorf("marshaling user inputs: %w", err)
	}
	query := `INSERT INTO applications (id, tenant_id, template_id, user_inputs, status)
		VALUES ($1, $2, $3, $4, 'CREATING')
		RETURNING ` + applicationColumns
	row := s.dbtx.QueryRow(ctx, query, uuid.New(), p.TenantID, p.TemplateID, inputsJSON)
	return scanApplication(row)
}

// Get returns a single application by ID.
func (s *ApplicationStore) Get(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	return scanApplication(s.dbtx.QueryRow(ctx, query, id))
}

// SetCurrentDeployment records which deployment is now the application's
// active attempt.
func (s *ApplicationStore) SetCurrentDeployment(ctx context.Context, id, deploymentID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE applications SET current_deployment_id = $2, updated_at = now() WHERE id = $1`,
		id, deploymentID,
	)
	if err != nil {
		return fmt.Errorf("setting current deployment: %w", err)
	}
	return nil
}

// SetStatus updates the application's user-facing status.
func (s *ApplicationStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE applications SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("setting application status: %w", err)
	}
	return nil
}

// SetHealth rolls up a health classification onto the application.
func (s *ApplicationStore) SetHealth(ctx context.Context, id uuid.UUID, health domain.HealthStatus) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE applications SET health_status = $2, updated_at = now() WHERE id = $1`,
		id, health,
	)
	if err != nil {
		return fmt.Errorf("setting application health: %w", err)
	}
	return nil
}
