package runtime

import (
	"time"
)

// ContainerSpec defines the specification for creating a container
type ContainerSpec struct {
	Name       string
	Image      string
	Command    []string
	Env        map[string]string
	WorkingDir string
	Labels     map[string]string

	// Volume and bind mounts
	Mounts []Mount

	// Resource limits
	Resources Resources

	// Native health check, nil disables it
	Healthcheck *Healthcheck

	// Hardening, nil applies none
	Security *Security
}

// Resources defines container resource limits
type Resources struct {
	CPU         float64 // cores
	MemoryBytes int64
}

// MountType selects how a mount source is resolved
type MountType string

const (
	MountTypeVolume MountType = "volume"
	MountTypeBind   MountType = "bind"
)

// Mount defines a volume or bind mount
type Mount struct {
	Type     MountType
	Source   string // volume name or host path
	Target   string
	ReadOnly bool
}

// Healthcheck is a runtime-native liveness check
type Healthcheck struct {
	Test     []string // argv, run inside the container
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// Container represents a container as reported by the runtime
type Container struct {
	ID        string
	Name      string
	Image     string
	State     ContainerState
	Health    HealthStatus
	ExitCode  int
	Labels    map[string]string
	Mounts    []Mount
	IPAddress string
	CreatedAt time.Time
	StartedAt time.Time
}

// Running reports whether the container process is alive
func (c *Container) Running() bool {
	return c != nil && c.State == ContainerStateRunning
}

// MountsVolume reports whether the container mounts the named volume
func (c *Container) MountsVolume(name string) bool {
	if c == nil {
		return false
	}
	for _, m := range c.Mounts {
		if m.Type == MountTypeVolume && m.Source == name {
			return true
		}
	}
	return false
}

// ContainerState represents the state of a container
type ContainerState string

const (
	ContainerStateCreated ContainerState = "created"
	ContainerStateRunning ContainerState = "running"
	ContainerStateStopped ContainerState = "stopped"
	ContainerStatePaused  ContainerState = "paused"
	ContainerStateUnknown ContainerState = "unknown"
)

// HealthStatus is the runtime-native health verdict
type HealthStatus string

const (
	HealthNone      HealthStatus = "none"
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ListFilter narrows a container or volume listing
type ListFilter struct {
	// Labels that must all be present with the given values
	Labels map[string]string
	// Volume restricts containers to those mounting this volume
	Volume string
	// All includes stopped containers
	All bool
}

// VolumeSpec defines a volume to create
type VolumeSpec struct {
	Name   string
	Labels map[string]string
}

// Volume represents a named volume
type Volume struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver,omitempty"`
	Mountpoint string            `json:"mountpoint,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ContainerStats represents container resource usage statistics
type ContainerStats struct {
	CPUPercent  float64
	MemoryUsage uint64
	MemoryLimit uint64
	Timestamp   time.Time
}

// LogEntry represents a log line from a container
type LogEntry struct {
	Stream string `json:"stream"` // stdout or stderr
	Line   string `json:"line"`
}

// ExecConfig defines a command to run inside a container
type ExecConfig struct {
	Command    []string
	Env        []string
	WorkingDir string
}

// ExecResult holds the outcome of an exec
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Timeouts bounds every runtime call
type Timeouts struct {
	Create  time.Duration
	Start   time.Duration
	Inspect time.Duration
	Stats   time.Duration
	Logs    time.Duration
	Exec    time.Duration
	// Kill is added to the stop grace period before a stop is abandoned
	Kill time.Duration
}

// DefaultTimeouts returns the standard runtime call bounds
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Create:  60 * time.Second,
		Start:   30 * time.Second,
		Inspect: 5 * time.Second,
		Stats:   5 * time.Second,
		Logs:    10 * time.Second,
		Exec:    10 * time.Second,
		Kill:    10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Create <= 0 {
		t.Create = d.Create
	}
	if t.Start <= 0 {
		t.Start = d.Start
	}
	if t.Inspect <= 0 {
		t.Inspect = d.Inspect
	}
	if t.Stats <= 0 {
		t.Stats = d.Stats
	}
	if t.Logs <= 0 {
		t.Logs = d.Logs
	}
	if t.Exec <= 0 {
		t.Exec = d.Exec
	}
	if t.Kill <= 0 {
		t.Kill = d.Kill
	}
	return t
}
