package healthmonitor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fluxdeploy/dispatch/pkg/agentclient"
)

// CheckType names a probe kind.
type CheckType string

const (
	CheckTypeHTTP    CheckType = "http"
	CheckTypeTCP     CheckType = "tcp"
	CheckTypeCommand CheckType = "command"
)

// Result is the outcome of a single probe.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
}

// Checker performs one kind of health probe against a deployed container.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// HTTPChecker probes a container by issuing an HTTP GET against its
// resolved host:port mapping.
type HTTPChecker struct {
	Addr   string
	Path   string
	Client *http.Client
}

// NewHTTPChecker creates an HTTPChecker targeting addr (host:port).
func NewHTTPChecker(addr, path string) *HTTPChecker {
	if path == "" {
		path = "/"
	}
	return &HTTPChecker{Addr: addr, Path: path, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	url := fmt.Sprintf("http://%s%s", h.Addr, h.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start}
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start}
	}
	defer func() { _ = resp.Body.Close() }()
	healthy := resp.StatusCode < 400
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf("HTTP %d", resp.StatusCode),
		CheckedAt: start,
	}
}

func (h *HTTPChecker) Type() CheckType { return CheckTypeHTTP }

// TCPChecker probes a container by dialing its resolved host:port mapping.
type TCPChecker struct {
	Addr    string
	Timeout time.Duration
}

// NewTCPChecker creates a TCPChecker targeting addr (host:port).
func NewTCPChecker(addr string) *TCPChecker {
	return &TCPChecker{Addr: addr, Timeout: 5 * time.Second}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	d := net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start}
	}
	_ = conn.Close()
	return Result{Healthy: true, Message: "connected", CheckedAt: start}
}

func (t *TCPChecker) Type() CheckType { return CheckTypeTCP }

// CommandChecker probes a container by exec'ing a command through its
// node's runtime agent, since the dispatch process has no local access to
// the container filesystem or namespace.
type CommandChecker struct {
	Agent       *agentclient.Client
	ContainerID string
	Command     []string
}

// NewCommandChecker creates a CommandChecker.
func NewCommandChecker(agent *agentclient.Client, containerID string, command []string) *CommandChecker {
	return &CommandChecker{Agent: agent, ContainerID: containerID, Command: command}
}

func (c *CommandChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if len(c.Command) == 0 {
		return Result{Healthy: false, Message: "no command specified", CheckedAt: start}
	}
	resp, err := c.Agent.Exec(ctx, c.ContainerID, c.Command)
	if err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start}
	}
	return Result{
		Healthy:   resp.ExitCode == 0,
		Message:   fmt.Sprintf("exit code %d", resp.ExitCode),
		CheckedAt: start,
	}
}

func (c *CommandChecker) Type() CheckType { return CheckTypeCommand }
