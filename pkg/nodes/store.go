// Package nodes tracks infrastructure nodes: their capacity, health, and
// eligibility for new container placement.
package nodes

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

// Store provides database operations for infrastructure nodes.
type Store struct {
	q    *db.Queries
	dbtx db.DBTX
}

// NewStore creates a node Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{q: db.New(dbtx), dbtx: dbtx}
}

const nodeColumns = `id, name, type, internal_ip, runtime_agent_url, supported_runtimes,
	total_cpu, available_cpu, total_memory_mb, available_memory_mb,
	total_storage_mb, available_storage_mb, active_containers, max_containers,
	status, health, last_heartbeat_at, labels, created_at`

func scanNode(row pgx.Row) (*domain.InfrastructureNode, error) {
	var n domain.InfrastructureNode
	var runtimes []string
	var labels []byte
	err := row.Scan(
		&n.ID, &n.Name, &n.Type, &n.InternalIP, &n.RuntimeAgentURL, &runtimes,
		&n.TotalCPU, &n.AvailableCPU, &n.TotalMemoryMB, &n.AvailMemoryMB,
		&n.TotalStorageMB, &n.AvailStorageMB, &n.ActiveContainers, &n.MaxContainers,
		&n.Status, &n.Health, &n.LastHeartbeatAt, &labels, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.SupportedRuntimes = runtimes
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &n.Labels); err != nil {
			return nil, fmt.Errorf("unmarshaling node labels: %w", err)
		}
	}
	return &n, nil
}

func scanNodes(rows pgx.Rows) ([]*domain.InfrastructureNode, error) {
	defer rows.Close()
	var items []*domain.InfrastructureNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating node rows: %w", err)
	}
	return items, nil
}

// RegisterParams describes a node announcing itself, typically on agent boot.
type RegisterParams struct {
	Name              string
	Type              domain.NodeType
	InternalIP        string
	RuntimeAgentURL   string
	SupportedRuntimes []string
	TotalCPU          float64
	TotalMemoryMB     int
	TotalStorageMB    int
	MaxContainers     int
	Labels            map[string]string
}

// Register upserts a node by name: total/available capacity reset to the
// announced totals, since a restarted agent reports a clean slate.
func (s *Store) Register(ctx context.Context, p RegisterParams) (*domain.InfrastructureNode, error) {
	labelsJSON, err := json.Marshal(p.Labels)
	if err != nil {
		return nil, fmt.Errorf("marshaling node labels: %w", err)
	}
	query := `INSERT INTO infrastructure_nodes (
			id, name, type, internal_ip, runtime_agent_url, supported_runtimes,
			total_cpu, available_cpu, total_memory_mb, available_memory_mb,
			total_storage_mb, available_storage_mb, max_containers, status, health,
			last_heartbeat_at, labels
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $8, $9, $9, $10, 'READY', 'UNKNOWN', now(), $11)
		ON CONFLICT (name) DO UPDATE SET
			type = EXCLUDED.type,
			internal_ip = EXCLUDED.internal_ip,
			runtime_agent_url = EXCLUDED.runtime_agent_url,
			supported_runtimes = EXCLUDED.supported_runtimes,
			total_cpu = EXCLUDED.total_cpu,
			total_memory_mb = EXCLUDED.total_memory_mb,
			total_storage_mb = EXCLUDED.total_storage_mb,
			max_containers = EXCLUDED.max_containers,
			status = 'READY',
			last_heartbeat_at = now(),
			labels = EXCLUDED.labels
		RETURNING ` + nodeColumns
	row := s.dbtx.QueryRow(ctx, query,
		uuid.New(), p.Name, p.Type, p.InternalIP, p.RuntimeAgentURL, p.SupportedRuntimes,
		p.TotalCPU, p.TotalMemoryMB, p.TotalStorageMB, p.MaxContainers, labelsJSON,
	)
	return scanNode(row)
}

// ListAvailable returns READY nodes with remaining capacity, used by the
// scheduler as its candidate pool.
func (s *Store) ListAvailable(ctx context.Context) ([]*domain.InfrastructureNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM infrastructure_nodes
		WHERE status = 'READY' ORDER BY active_containers ASC`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing available nodes: %w", err)
	}
	return scanNodes(rows)
}

// Get returns a single node by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.InfrastructureNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM infrastructure_nodes WHERE id = $1`
	return scanNode(s.dbtx.QueryRow(ctx, query, id))
}

// ReserveCapacity decrements available resources and bumps the active
// container count after a step is scheduled onto the node, flipping it to
// FULL if it has crossed the capacity thresholds.
func (s *Store) ReserveCapacity(ctx context.Context, id uuid.UUID, cpu float64, memMB, storageMB int) error {
	query := `UPDATE infrastructure_nodes SET
			available_cpu = available_cpu - $2,
			available_memory_mb = available_memory_mb - $3,
			available_storage_mb = available_storage_mb - $4,
			active_containers = active_containers + 1,
			status = CASE
				WHEN active_containers + 1 >= max_containers OR available_cpu - $2 < 0.5
				THEN 'FULL' ELSE status
			END
		WHERE id = $1`
	_, err := s.dbtx.Exec(ctx, query, id, cpu, memMB, storageMB)
	if err != nil {
		return fmt.Errorf("reserving node capacity: %w", err)
	}
	return nil
}

// ReleaseCapacity gives back resources held by a container that has been
// torn down, and flips a FULL node back to READY once it has headroom again.
func (s *Store) ReleaseCapacity(ctx context.Context, id uuid.UUID, cpu float64, memMB, storageMB int) error {
	query := `UPDATE infrastructure_nodes SET
			available_cpu = available_cpu + $2,
			available_memory_mb = available_memory_mb + $3,
			available_storage_mb = available_storage_mb + $4,
			active_containers = GREATEST(active_containers - 1, 0),
			status = CASE
				WHEN status = 'FULL' AND active_containers - 1 < max_containers AND available_cpu + $2 >= 0.5
				THEN 'READY' ELSE status
			END
		WHERE id = $1`
	_, err := s.dbtx.Exec(ctx, query, id, cpu, memMB, storageMB)
	if err != nil {
		return fmt.Errorf("releasing node capacity: %w", err)
	}
	return nil
}

// Heartbeat records a liveness ping and the node's self-reported health.
func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID, health domain.HealthStatus) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE infrastructure_nodes SET last_heartbeat_at = now(), health = $2 WHERE id = $1`,
		id, health,
	)
	if err != nil {
		return fmt.Errorf("recording node heartbeat: %w", err)
	}
	return nil
}

// MarkStale flips nodes whose last heartbeat is older than threshold to
// OFFLINE and UNHEALTHY, so the scheduler stops placing work on them.
func (s *Store) MarkStale(ctx context.Context, threshold time.Duration) (int64, error) {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE infrastructure_nodes SET status = 'OFFLINE', health = 'UNHEALTHY'
		WHERE status != 'OFFLINE' AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)`,
		time.Now().Add(-threshold),
	)
	if err != nil {
		return 0, fmt.Errorf("marking stale nodes: %w", err)
	}
	return tag.RowsAffected(), nil
}
