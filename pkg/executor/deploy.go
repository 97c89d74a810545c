package executor

import (
	"context"
	"encoding/json"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
	"github.com/fluxdeploy/dispatch/pkg/agentclient"
)

// deploySpec is the shape of exec.Spec for a "deploy" execution: enough to
// call the target node's runtime agent and bind the result back onto the
// resource row the orchestrator already created.
type deploySpec struct {
	NodeAgentURL  string            `json:"node_agent_url"`
	ContainerName string            `json:"container_name"`
	Image         string            `json:"image"`
	Env           map[string]string `json:"env"`
	Ports         map[string]int    `json:"ports"`
	Volumes       map[string]string `json:"volumes"`
	Command       []string          `json:"command"`
	CPULimit      float64           `json:"cpu_limit"`
	MemoryMBLimit int               `json:"memory_mb_limit"`
}

// executeDeploy spawns a container on the execution's target node through
// its runtime agent, then binds the assigned container ID onto the
// corresponding deployed_resource row.
func (p *Pool) executeDeploy(ctx context.Context, exec *domain.Execution) (map[string]any, error) {
	spec, err := decodeDeploySpec(exec.Spec)
	if err != nil {
		return nil, err
	}

	agent := agentclient.NewClient(spec.NodeAgentURL)
	resp, err := agent.Deploy(ctx, agentclient.DeployRequest{
		Name:          spec.ContainerName,
		Image:         spec.Image,
		Env:           spec.Env,
		Ports:         spec.Ports,
		Volumes:       spec.Volumes,
		Command:       spec.Command,
		CPULimit:      spec.CPULimit,
		MemoryMBLimit: spec.MemoryMBLimit,
	})
	if err != nil {
		return nil, err
	}

	if exec.TargetResourceID.Valid {
		if err := p.resources.BindExternalID(ctx, exec.TargetResourceID.UUID, resp.ContainerID, resp.Ports); err != nil {
			return nil, apperrors.NewTransient("binding deployed resource", err)
		}
	}

	return map[string]any{
		"container_id": resp.ContainerID,
		"ports":        resp.Ports,
		"status":       resp.Status,
	}, nil
}

func decodeDeploySpec(spec map[string]any) (deploySpec, error) {
	var ds deploySpec
	raw, err := json.Marshal(spec)
	if err != nil {
		return ds, apperrors.NewValidation("invalid deploy spec: %v", err)
	}
	if err := json.Unmarshal(raw, &ds); err != nil {
		return ds, apperrors.NewValidation("invalid deploy spec: %v", err)
	}
	return ds, nil
}
