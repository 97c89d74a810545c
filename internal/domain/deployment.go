package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus tracks a single attempt to realise an application from a template.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "PENDING"
	DeploymentDeploying  DeploymentStatus = "DEPLOYING"
	DeploymentRunning    DeploymentStatus = "RUNNING"
	DeploymentFailed     DeploymentStatus = "FAILED"
	DeploymentRolledBack DeploymentStatus = "ROLLED_BACK"
	DeploymentDeleted    DeploymentStatus = "DELETED"
)

// Deployment is one attempt to realise an Application from a template version.
type Deployment struct {
	ID             uuid.UUID
	ApplicationID  uuid.UUID
	TenantID       uuid.UUID
	TemplateID     string
	TemplateVersion string

	ResolvedConfig map[string]any

	Status       DeploymentStatus
	CurrentStep  int
	TotalSteps   int
	PublicURL    string
	ErrorMessage *string
	RolledBack   bool

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ApplicationStatus is the user-facing status rollup.
type ApplicationStatus string

const (
	ApplicationCreating ApplicationStatus = "CREATING"
	ApplicationRunning  ApplicationStatus = "RUNNING"
	ApplicationStopped  ApplicationStatus = "STOPPED"
	ApplicationFailed   ApplicationStatus = "FAILED"
	ApplicationDeleting ApplicationStatus = "DELETING"
	ApplicationDeleted  ApplicationStatus = "DELETED"
)

// Application is the user-facing handle over the latest deployment.
type Application struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	TemplateID          string
	UserInputs          map[string]any
	CurrentDeploymentID uuid.NullUUID
	Status              ApplicationStatus
	HealthStatus        HealthStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}
