package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runtime is the typed adapter over a container engine. Every call is
// bounded by the adapter's own timeouts in addition to the caller's context,
// and every failure is an *errdefs.Error.
type Runtime interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, grace time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	InspectContainer(ctx context.Context, containerID string) (*Container, error)
	ListContainers(ctx context.Context, filter ListFilter) ([]*Container, error)
	WaitContainer(ctx context.Context, containerID string) (int, error)
	ContainerLogs(ctx context.Context, containerID string, tail int) ([]LogEntry, error)
	ContainerStats(ctx context.Context, containerID string) (*ContainerStats, error)
	Exec(ctx context.Context, containerID string, config ExecConfig) (*ExecResult, error)

	// Volume operations
	CreateVolume(ctx context.Context, spec VolumeSpec) (*Volume, error)
	InspectVolume(ctx context.Context, name string) (*Volume, error)
	RemoveVolume(ctx context.Context, name string, force bool) error
	ListVolumes(ctx context.Context, labels map[string]string) ([]*Volume, error)

	// Lifecycle
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by New
const (
	BackendDocker     = "docker"
	BackendContainerd = "containerd"
)

// Config selects and configures a runtime backend
type Config struct {
	// Backend is "docker" (default) or "containerd"
	Backend string

	// Host is the engine endpoint, e.g. unix:///var/run/docker.sock.
	// For containerd this is the socket path.
	Host string

	// Namespace is the containerd namespace
	Namespace string

	// DataDir holds containerd volumes and log files
	DataDir string

	Timeouts Timeouts
}

// envList flattens an env map into KEY=VALUE pairs in stable order
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	slices.Sort(out)
	return out
}

func lastLines(lines []LogEntry, tail int) []LogEntry {
	if tail <= 0 || len(lines) <= tail {
		return lines
	}
	return lines[len(lines)-tail:]
}

func splitLines(stream, text string) []LogEntry {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "\n")
	out := make([]LogEntry, 0, len(parts))
	for _, p := range parts {
		out = append(out, LogEntry{Stream: stream, Line: p})
	}
	return out
}

// New connects the configured backend. The returned runtime is meant to be
// created once per process and closed at shutdown.
func New(config Config, logger *zap.Logger) (Runtime, error) {
	switch config.Backend {
	case "", BackendDocker:
		return NewDockerRuntime(config, logger.Named("docker"))
	case BackendContainerd:
		return NewContainerdRuntime(config, logger.Named("containerd"))
	default:
		return nil, fmt.Errorf("unknown runtime backend %q", config.Backend)
	}
}
