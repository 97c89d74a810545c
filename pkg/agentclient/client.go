// Package agentclient talks to the runtime agent that runs on every
// infrastructure node: a small HTTP service the dispatch core treats as an
// external system, never as code it ships or owns.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
)

// Client wraps one node's runtime agent over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a runtime agent client for the given node base URL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{}}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health pings the agent's liveness endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, 5*time.Second, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InfoResponse is the body of GET /info: the node's self-reported capacity.
type InfoResponse struct {
	TotalCPU       float64  `json:"total_cpu"`
	AvailableCPU   float64  `json:"available_cpu"`
	TotalMemoryMB  int      `json:"total_memory_mb"`
	AvailMemoryMB  int      `json:"available_memory_mb"`
	SupportedRuntimes []string `json:"supported_runtimes"`
}

// Info fetches the agent's current capacity snapshot.
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var resp InfoResponse
	if err := c.do(ctx, 5*time.Second, http.MethodGet, "/info", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeployRequest is the body of POST /deploy.
type DeployRequest struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Env         map[string]string `json:"env,omitempty"`
	Ports       map[string]int    `json:"ports,omitempty"`
	Volumes     map[string]string `json:"volumes,omitempty"`
	Command     []string          `json:"command,omitempty"`
	CPULimit    float64           `json:"cpu_limit,omitempty"`
	MemoryMBLimit int             `json:"memory_mb_limit,omitempty"`
}

// DeployResponse is the body returned by a successful POST /deploy.
type DeployResponse struct {
	ContainerID string            `json:"container_id"`
	Ports       map[string]string `json:"ports"` // e.g. "8080/tcp" -> "127.0.0.1:34567"
	Status      string            `json:"status"`
}

// Deploy asks the agent to start a container.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*DeployResponse, error) {
	var resp DeployResponse
	if err := c.do(ctx, 30*time.Second, http.MethodPost, "/deploy", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ContainerStatusResponse is the body of GET /containers/{id}/status.
type ContainerStatusResponse struct {
	Status string `json:"status"` // "running", "exited", "restarting"
	ExitCode *int `json:"exit_code,omitempty"`
}

// ContainerStatus fetches the current status of a container.
func (c *Client) ContainerStatus(ctx context.Context, containerID string) (*ContainerStatusResponse, error) {
	var resp ContainerStatusResponse
	path := fmt.Sprintf("/containers/%s/status", containerID)
	if err := c.do(ctx, 10*time.Second, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopContainer requests a graceful stop.
func (c *Client) StopContainer(ctx context.Context, containerID string) error {
	path := fmt.Sprintf("/containers/%s/stop", containerID)
	return c.do(ctx, 30*time.Second, http.MethodPost, path, nil, nil)
}

// RestartContainer requests a restart, used by the health monitor's
// remediation path.
func (c *Client) RestartContainer(ctx context.Context, containerID string) error {
	path := fmt.Sprintf("/containers/%s/restart", containerID)
	return c.do(ctx, 30*time.Second, http.MethodPost, path, nil, nil)
}

// RemoveContainer tears a container down entirely.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	path := fmt.Sprintf("/containers/%s", containerID)
	return c.do(ctx, 30*time.Second, http.MethodDelete, path, nil, nil)
}

// ExecRequest is the body of POST /containers/{id}/exec, used for command
// health probes.
type ExecRequest struct {
	Command []string `json:"command"`
}

// ExecResponse reports the outcome of a one-shot exec.
type ExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// Exec runs a one-shot command inside a container, used by the "command"
// health probe type.
func (c *Client) Exec(ctx context.Context, containerID string, command []string) (*ExecResponse, error) {
	var resp ExecResponse
	path := fmt.Sprintf("/containers/%s/exec", containerID)
	if err := c.do(ctx, 10*time.Second, http.MethodPost, path, ExecRequest{Command: command}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do issues the request with a per-call timeout and classifies failures
// into apperrors.TransientError (network/timeout/5xx) or
// apperrors.PermanentError (4xx), matching the contract every caller
// relies on for retry decisions.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body, result any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewPermanent("marshaling agent request body", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return apperrors.NewPermanent("building agent request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransient(fmt.Sprintf("calling runtime agent %s %s", method, path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return apperrors.NewTransient(
			fmt.Sprintf("runtime agent %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody)),
			nil,
		)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return apperrors.NewPermanent(
			fmt.Sprintf("runtime agent %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody)),
			nil,
		)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return apperrors.NewTransient("decoding runtime agent response", err)
		}
	}

	return nil
}
