package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeType classifies what an infrastructure node is meant to host.
type NodeType string

const (
	NodeTypeApp  NodeType = "APP_NODE"
	NodeTypeDB   NodeType = "DB_NODE"
	NodeTypeEdge NodeType = "EDGE_NODE"
)

// NodeStatus is the scheduling-eligibility state of a node.
type NodeStatus string

const (
	NodeReady       NodeStatus = "READY"
	NodeFull        NodeStatus = "FULL"
	NodeMaintenance NodeStatus = "MAINTENANCE"
	NodeOffline     NodeStatus = "OFFLINE"
)

// InfrastructureNode is one compute target the orchestrator can place
// container steps on.
type InfrastructureNode struct {
	ID               uuid.UUID
	Name             string
	Type             NodeType
	InternalIP       string
	RuntimeAgentURL  string
	SupportedRuntimes []string

	TotalCPU      float64
	AvailableCPU  float64
	TotalMemoryMB int
	AvailMemoryMB int
	TotalStorageMB int
	AvailStorageMB int

	ActiveContainers int
	MaxContainers    int

	Status NodeStatus
	Health HealthStatus

	LastHeartbeatAt *time.Time
	Labels          map[string]string

	CreatedAt time.Time
}

// CanAccommodate reports whether the node has enough spare capacity for a
// step requesting the given resources and is not at its container cap.
func (n *InfrastructureNode) CanAccommodate(cpu float64, memMB, storageMB int) bool {
	return n.AvailableCPU >= cpu &&
		n.AvailMemoryMB >= memMB &&
		n.AvailStorageMB >= storageMB &&
		n.ActiveContainers < n.MaxContainers
}

// SupportsRuntime reports whether runtime is one of the node's supported
// container runtimes.
func (n *InfrastructureNode) SupportsRuntime(runtime string) bool {
	for _, r := range n.SupportedRuntimes {
		if r == runtime {
			return true
		}
	}
	return false
}
