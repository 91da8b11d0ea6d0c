package api

import (
	"time"
)

// Status is the lifecycle state of a workspace.
type Status string

const (
	StatusCreated  Status = "created"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
	StatusDeleting Status = "deleting"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusCreated, StatusStarting, StatusRunning, StatusStopping,
	StatusStopped, StatusError, StatusDeleting,
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusStarting, StatusRunning, StatusStopping,
		StatusStopped, StatusError, StatusDeleting:
		return true
	}
	return false
}

// Transient reports whether s is only held while an operation is in flight
func (s Status) Transient() bool {
	switch s {
	case StatusStarting, StatusStopping, StatusDeleting:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
// Every status is handled explicitly; an unknown status allows nothing.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusStarting || next == StatusDeleting
	case StatusStarting:
		return next == StatusRunning || next == StatusError
	case StatusRunning:
		return next == StatusStopping || next == StatusError || next == StatusDeleting
	case StatusStopping:
		return next == StatusStopped || next == StatusError
	case StatusStopped:
		return next == StatusStarting || next == StatusDeleting
	case StatusError:
		return next == StatusStarting || next == StatusStopping || next == StatusDeleting
	case StatusDeleting:
		return false
	}
	return false
}

// ResourceLimits bounds a workspace container.
type ResourceLimits struct {
	CPU         float64 `json:"cpu" yaml:"cpu"`                  // cores, fractional allowed
	MemoryBytes int64   `json:"memoryBytes" yaml:"memoryBytes"` // 0 = unlimited
}

// ProbeType selects how liveness is checked.
type ProbeType string

const (
	ProbeNative ProbeType = "native"
	ProbeExec   ProbeType = "exec"
	ProbeHTTP   ProbeType = "http"
	ProbeTCP    ProbeType = "tcp"
)

// HealthCheckConfig configures liveness polling for a workspace.
type HealthCheckConfig struct {
	Enabled         bool      `json:"enabled" yaml:"enabled"`
	IntervalSeconds int       `json:"intervalSeconds" yaml:"intervalSeconds"`
	TimeoutSeconds  int       `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Retries         int       `json:"retries" yaml:"retries"`
	Probe           ProbeType `json:"probe,omitempty" yaml:"probe,omitempty"`
	Command         []string  `json:"command,omitempty" yaml:"command,omitempty"` // exec and native probes
	Port            int       `json:"port,omitempty" yaml:"port,omitempty"`       // http and tcp probes
	Path            string    `json:"path,omitempty" yaml:"path,omitempty"`       // http probe
}

// Interval returns the polling interval, never below one second
func (h HealthCheckConfig) Interval() time.Duration {
	if h.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.IntervalSeconds) * time.Second
}

// Timeout returns the per-probe timeout
func (h HealthCheckConfig) Timeout() time.Duration {
	if h.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// RetryLimit returns the failing streak at which a workspace is reported unhealthy
func (h HealthCheckConfig) RetryLimit() int {
	if h.Retries <= 0 {
		return 3
	}
	return h.Retries
}

// HealthState is the last observed liveness of a workspace.
type HealthState struct {
	Healthy       bool      `json:"healthy"`
	FailingStreak int       `json:"failingStreak"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
	Message       string    `json:"message,omitempty"`
}

// Workspace is the persisted record of one development environment.
type Workspace struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Type             string            `json:"type"`
	Status           Status            `json:"status"`
	ContainerID      string            `json:"containerId,omitempty"`
	VolumeName       string            `json:"volumeName,omitempty"`
	CurrentProjectID string            `json:"currentProjectId,omitempty"`
	ResourceLimits   ResourceLimits    `json:"resourceLimits"`
	HealthCheck      HealthCheckConfig `json:"healthCheck"`
	LastHealth       HealthState       `json:"lastHealth"`
	LastError        string            `json:"lastError,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	LastActiveAt     time.Time         `json:"lastActiveAt"`
	StatusChangedAt  time.Time         `json:"statusChangedAt"`
}

// Project owns a persistent volume.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	VolumeName string    `json:"volumeName"`
	VolumePath string    `json:"volumePath,omitempty"`
	Language   string    `json:"language,omitempty"`
	LocalPath  string    `json:"localPath,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// WorkspaceType is a catalog entry describing how a workspace container is built.
type WorkspaceType struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Image       string            `json:"image" yaml:"image"`
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	MountPath   string            `json:"mountPath" yaml:"mountPath"`
	Port        int               `json:"port,omitempty" yaml:"port,omitempty"`
	Limits      ResourceLimits    `json:"limits" yaml:"limits"`
	HealthCheck HealthCheckConfig `json:"healthCheck" yaml:"healthCheck"`
	Languages   []string          `json:"languages,omitempty" yaml:"languages,omitempty"`
}

// Supports reports whether projects in the given language can be opened
// in this workspace type. An empty language list accepts everything.
func (t WorkspaceType) Supports(language string) bool {
	if len(t.Languages) == 0 || language == "" {
		return true
	}
	for _, l := range t.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// ResourceUsage is a transient stats sample.
type ResourceUsage struct {
	CPUPercent       float64   `json:"cpuPercent"`
	MemoryBytes      int64     `json:"memoryBytes"`
	MemoryLimitBytes int64     `json:"memoryLimitBytes,omitempty"`
	SampledAt        time.Time `json:"sampledAt"`
}

// VolumeSize reports volume usage in several units.
type VolumeSize struct {
	Bytes int64   `json:"bytes"`
	MB    float64 `json:"mb"`
	GB    float64 `json:"gb"`
}

// NewVolumeSize converts a byte count
func NewVolumeSize(bytes int64) VolumeSize {
	return VolumeSize{
		Bytes: bytes,
		MB:    float64(bytes) / (1 << 20),
		GB:    float64(bytes) / (1 << 30),
	}
}

// BackupRecord is one entry of the append-only backup log.
type BackupRecord struct {
	ProjectID  string    `json:"projectId"`
	BackupPath string    `json:"backupPath"`
	SizeBytes  int64     `json:"sizeBytes"`
	Checksum   string    `json:"checksum,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CleanupSummary counts what one reconciliation pass acted on.
type CleanupSummary struct {
	InactiveContainers int      `json:"inactiveContainers"`
	OrphanedContainers int      `json:"orphanedContainers"`
	OrphanedVolumes    int      `json:"orphanedVolumes"`
	ErrorWorkspaces    int      `json:"errorWorkspaces"`
	Failures           []string `json:"failures,omitempty"`
}

// WorkspaceStatus is the reconciled view returned by a status query.
type WorkspaceStatus struct {
	Workspace        *Workspace `json:"workspace"`
	ContainerRunning bool       `json:"containerRunning"`
	Reconciled       bool       `json:"reconciled"`
}

// CreateWorkspaceRequest describes a new workspace.
type CreateWorkspaceRequest struct {
	ID             string             `json:"id,omitempty"`
	Name           string             `json:"name,omitempty"`
	Type           string             `json:"type"`
	ProjectID      string             `json:"projectId,omitempty"`
	ResourceLimits *ResourceLimits    `json:"resourceLimits,omitempty"`
	HealthCheck    *HealthCheckConfig `json:"healthCheck,omitempty"`
}

// CreateProjectRequest describes a new project.
type CreateProjectRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Language  string `json:"language,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}
