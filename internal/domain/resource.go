package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType names what kind of thing a DeployedResource represents.
type ResourceType string

const (
	ResourceContainer ResourceType = "CONTAINER"
	ResourceDatabase  ResourceType = "DATABASE"
	ResourceVolume    ResourceType = "VOLUME"
	ResourceNetwork   ResourceType = "NETWORK"
)

// HealthStatus is the liveness classification tracked on deployed resources
// and rolled up onto applications.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "UNKNOWN"
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthStarting  HealthStatus = "STARTING"
)

// PendingExternalID is the external_id placeholder a resource row carries
// between its pre-deployment creation and the executor writing back the
// runtime agent's assigned identifier.
const PendingExternalID = "pending"

// DeployedResource is what actually got materialised on a node: a
// container, database, volume, or network.
type DeployedResource struct {
	ID           uuid.UUID
	DeploymentID uuid.UUID
	Type         ResourceType
	ExternalID   string
	NodeID       uuid.UUID
	Name         string
	Spec         map[string]any
	Ports        map[string]string // "8080/tcp" -> "127.0.0.1:34567", set once deployed
	Status       string

	Health              HealthStatus
	ConsecutiveFailures int
	LastHealthCheckAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HealthCheckSpec is the probe definition embedded in a resource's Spec
// under the "health_check" key.
type HealthCheckSpec struct {
	Type                 string `json:"type"` // "http", "tcp", "command"
	Path                 string `json:"path,omitempty"`
	Port                 int    `json:"port,omitempty"`
	Command              string `json:"command,omitempty"`
	IntervalSeconds      int    `json:"interval_seconds,omitempty"`
	TimeoutSeconds       int    `json:"timeout_seconds,omitempty"`
	Retries              int    `json:"retries,omitempty"`
	InitialDelaySeconds  int    `json:"initial_delay_seconds,omitempty"`
}
