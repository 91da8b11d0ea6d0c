package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/runtime"
)

// Result is the outcome of one probe
type Result struct {
	Success bool
	Message string
	// Final marks a failure whose retries the runtime has already counted
	Final bool
}

// Prober runs a single liveness check against a workspace container
type Prober struct {
	rt     runtime.Runtime
	client *http.Client
}

// NewProber creates a prober on the shared runtime client
func NewProber(rt runtime.Runtime) *Prober {
	return &Prober{
		rt: rt,
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

// Probe checks c according to hc. Native probes read the runtime's own
// health verdict and fall back to running the command with exec when the
// runtime keeps none. The runtime only reports unhealthy after its own
// retries, so that verdict is final.
func (p *Prober) Probe(ctx context.Context, c *runtime.Container, hc api.HealthCheckConfig) Result {
	if !c.Running() {
		return Result{Message: fmt.Sprintf("container is %s", c.State)}
	}

	ctx, cancel := context.WithTimeout(ctx, hc.Timeout())
	defer cancel()

	switch hc.Probe {
	case "", api.ProbeNative:
		switch c.Health {
		case runtime.HealthHealthy:
			return Result{Success: true, Message: "native: healthy"}
		case runtime.HealthStarting:
			return Result{Success: true, Message: "native: starting"}
		case runtime.HealthUnhealthy:
			return Result{Message: "native: unhealthy", Final: true}
		}
		command := hc.Command
		if len(command) == 0 {
			command = runtime.HealthcheckCommand(c.Labels)
		}
		if len(command) == 0 {
			return Result{Success: true, Message: "native: no health check configured"}
		}
		return p.exec(ctx, c.ID, command)
	case api.ProbeExec:
		return p.exec(ctx, c.ID, hc.Command)
	case api.ProbeHTTP:
		return p.http(ctx, c.IPAddress, hc.Port, hc.Path)
	case api.ProbeTCP:
		return p.tcp(ctx, c.IPAddress, hc.Port)
	}
	return Result{Message: fmt.Sprintf("unknown probe type: %s", hc.Probe)}
}

func (p *Prober) exec(ctx context.Context, containerID string, command []string) Result {
	if len(command) == 0 {
		return Result{Message: "exec probe command is empty"}
	}
	res, err := p.rt.Exec(ctx, containerID, runtime.ExecConfig{Command: command})
	if err != nil {
		return Result{Message: fmt.Sprintf("exec failed: %v", err)}
	}
	if res.ExitCode == 0 {
		return Result{Success: true, Message: "exec command succeeded"}
	}
	msg := fmt.Sprintf("exec command failed with exit code %d", res.ExitCode)
	if len(res.Stderr) > 0 {
		msg += ": " + string(res.Stderr)
	}
	return Result{Message: msg}
}

func (p *Prober) http(ctx context.Context, ip string, port int, path string) Result {
	if ip == "" {
		return Result{Message: "container has no address"}
	}
	if path == "" {
		path = "/"
	}
	url := "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Message: fmt.Sprintf("HTTP request failed: %v", err)}
	}
	defer resp.Body.Close()

	// 2xx and 3xx are healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return Result{Success: true, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Result{Message: fmt.Sprintf("HTTP %d (expected 2xx-3xx)", resp.StatusCode)}
}

func (p *Prober) tcp(ctx context.Context, ip string, port int) Result {
	if ip == "" {
		return Result{Message: "container has no address"}
	}
	dialer := net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return Result{Message: fmt.Sprintf("TCP connection failed: %v", err)}
	}
	conn.Close()
	return Result{Success: true, Message: "TCP connection successful"}
}
