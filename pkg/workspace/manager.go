// Package workspace drives the workspace state machine: the container
// backing each workspace is created, started, stopped and removed here,
// and every status change goes through the record accessors.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/store"
	"github.com/agentdb9/wsengine/pkg/volume"
)

const (
	// DefaultContainerPrefix is prepended to the workspace id to name its container
	DefaultContainerPrefix = "agentdb9-ws-"

	// DefaultMountPath is used when a workspace type names none
	DefaultMountPath = "/workspace"

	// compensation and bookkeeping after a failure must outlive the caller
	cleanupTimeout = 30 * time.Second
)

var workspaceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Records is the accessor contract the manager persists through
type Records interface {
	store.WorkspaceStore
	store.ProjectStore
}

// Types resolves workspace type ids
type Types interface {
	Get(id string) (api.WorkspaceType, error)
}

// CapacityChecker admits or refuses a start based on host capacity
type CapacityChecker interface {
	CheckMemory(bytes int64) error
}

// Config configures the lifecycle manager
type Config struct {
	// StopGrace is how long a container gets to exit before it is killed
	StopGrace time.Duration

	// ContainerPrefix names workspace containers
	ContainerPrefix string
}

// Manager owns the lifecycle of workspace containers. Start, stop,
// restart, delete and project switches for the same workspace are
// serialized; different workspaces proceed in parallel.
type Manager struct {
	rt       runtime.Runtime
	records  Records
	volumes  *volume.Manager
	types    Types
	capacity CapacityChecker
	locks    *Locks
	config   Config
	logger   *zap.Logger

	now func() time.Time
}

// NewManager creates a lifecycle manager. capacity may be nil.
func NewManager(rt runtime.Runtime, records Records, volumes *volume.Manager, types Types, capacity CapacityChecker, config Config, logger *zap.Logger) *Manager {
	if config.StopGrace <= 0 {
		config.StopGrace = 10 * time.Second
	}
	if config.ContainerPrefix == "" {
		config.ContainerPrefix = DefaultContainerPrefix
	}
	return &Manager{
		rt:       rt,
		records:  records,
		volumes:  volumes,
		types:    types,
		capacity: capacity,
		locks:    NewLocks(),
		config:   config,
		logger:   logger.Named("lifecycle"),
		now:      time.Now,
	}
}

// Locks exposes the per-workspace lock table so background loops can
// skip busy workspaces
func (m *Manager) Locks() *Locks {
	return m.locks
}

// TryLock takes the workspace lock only if no operation holds it
func (m *Manager) TryLock(id string) (func(), bool) {
	return m.locks.TryLock(id)
}

// ContainerName returns the container name for a workspace
func (m *Manager) ContainerName(workspaceID string) string {
	return m.config.ContainerPrefix + workspaceID
}

// Create persists a new workspace in status created. No container or
// volume exists until the first start.
func (m *Manager) Create(ctx context.Context, req api.CreateWorkspaceRequest) (*api.Workspace, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if !workspaceIDPattern.MatchString(id) {
		return nil, errdefs.Invalid("workspace.create", "workspace:"+id,
			"workspace id must match %s", workspaceIDPattern.String())
	}

	t, err := m.types.Get(req.Type)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, errdefs.Invalid("workspace.create", "workspace:"+id, "unknown workspace type %q", req.Type)
		}
		return nil, err
	}

	now := m.now()
	ws := &api.Workspace{
		ID:              id,
		Name:            req.Name,
		Type:            t.ID,
		Status:          api.StatusCreated,
		ResourceLimits:  t.Limits,
		HealthCheck:     t.HealthCheck,
		LastHealth:      api.HealthState{Healthy: true},
		CreatedAt:       now,
		UpdatedAt:       now,
		LastActiveAt:    now,
		StatusChangedAt: now,
	}
	if req.ResourceLimits != nil {
		ws.ResourceLimits = *req.ResourceLimits
	}
	if req.HealthCheck != nil {
		ws.HealthCheck = *req.HealthCheck
	}
	if ws.ResourceLimits.CPU < 0 || ws.ResourceLimits.MemoryBytes < 0 {
		return nil, errdefs.Invalid("workspace.create", "workspace:"+id, "resource limits must not be negative")
	}

	if req.ProjectID != "" {
		p, err := m.records.GetProject(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if !t.Supports(p.Language) {
			return nil, errdefs.Invalid("workspace.create", "workspace:"+id,
				"workspace type %s does not support %s projects", t.ID, p.Language)
		}
		ws.CurrentProjectID = p.ID
		ws.VolumeName = volume.Name(p.ID)
	}

	if err := m.records.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	m.logger.Info("Created workspace",
		zap.String("workspace_id", id),
		zap.String("type", t.ID),
		zap.String("project_id", ws.CurrentProjectID),
	)
	return ws, nil
}

// Start brings the workspace container up. Starting a running workspace
// whose container is alive returns the current record untouched.
func (m *Manager) Start(ctx context.Context, id string) (*api.Workspace, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, ws, "")
}

// Stop stops the workspace container. A container that no longer exists
// counts as stopped.
func (m *Manager) Stop(ctx context.Context, id string) (*api.Workspace, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.stop(ctx, ws)
}

// Restart stops and starts the workspace under one lock acquisition
func (m *Manager) Restart(ctx context.Context, id string) (*api.Workspace, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ws.Status == api.StatusRunning || ws.Status == api.StatusStopping {
		if ws, err = m.stop(ctx, ws); err != nil {
			return nil, err
		}
	}
	return m.start(ctx, ws, "")
}

// Delete force-removes the workspace container and leaves the record in
// status deleting with no container id. The project volume is never touched.
func (m *Manager) Delete(ctx context.Context, id string) (*api.Workspace, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With(zap.String("workspace_id", id))

	if ws.Status == api.StatusStarting || ws.Status == api.StatusStopping {
		// left over from an interrupted operation
		if ws, err = m.transition(ctx, id, api.StatusError, nil); err != nil {
			return nil, err
		}
	}
	if ws, err = m.transition(ctx, id, api.StatusDeleting, nil); err != nil {
		return nil, err
	}

	if ws.ContainerID != "" {
		if err := m.rt.StopContainer(ctx, ws.ContainerID, m.config.StopGrace); err != nil && !errdefs.IsNotFound(err) {
			logger.Warn("Best-effort stop before delete failed",
				zap.String("container_id", ws.ContainerID),
				zap.Error(err),
			)
		}
	}
	if err := m.removeContainers(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to remove workspace container: %w", err)
	}

	ws, err = m.records.UpdateWorkspace(context.WithoutCancel(ctx), id, func(w *api.Workspace) error {
		w.ContainerID = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Deleted workspace container", zap.String("volume", ws.VolumeName))
	return ws, nil
}

// Purge removes the record of a workspace that has been deleted
func (m *Manager) Purge(ctx context.Context, id string) error {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	if ws.Status != api.StatusDeleting || ws.ContainerID != "" {
		return errdefs.Conflict("workspace.purge", "workspace:"+id,
			"workspace is %s; delete it first", ws.Status)
	}
	return m.records.DeleteWorkspace(ctx, id)
}

// Status returns the persisted record checked against the runtime. A
// record saying running whose container is gone or exited is corrected
// to error here, and only here.
func (m *Manager) Status(ctx context.Context, id string) (*api.WorkspaceStatus, error) {
	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &api.WorkspaceStatus{Workspace: ws}
	if ws.ContainerID == "" {
		return out, nil
	}

	c, err := m.rt.InspectContainer(ctx, ws.ContainerID)
	if err != nil && !errdefs.IsNotFound(err) {
		return nil, err
	}
	out.ContainerRunning = err == nil && c.Running()
	if ws.Status != api.StatusRunning || out.ContainerRunning {
		return out, nil
	}

	reason := "container no longer exists"
	if c != nil {
		reason = fmt.Sprintf("container exited with code %d", c.ExitCode)
	}
	containerID := ws.ContainerID
	updated, err := m.records.UpdateWorkspace(ctx, id, func(w *api.Workspace) error {
		if w.Status != api.StatusRunning || w.ContainerID != containerID {
			return errRaced
		}
		w.Status = api.StatusError
		w.StatusChangedAt = m.now()
		w.LastError = reason
		if c == nil {
			w.ContainerID = ""
		}
		return nil
	})
	switch {
	case errors.Is(err, errRaced):
		return m.Status(ctx, id)
	case err != nil:
		return nil, err
	}

	m.logger.Warn("Reconciled workspace to error",
		zap.String("workspace_id", id),
		zap.String("container_id", containerID),
		zap.String("reason", reason),
	)
	out.Workspace = updated
	out.Reconciled = true
	return out, nil
}

var errRaced = errors.New("workspace record changed concurrently")

// Touch records user activity on a workspace
func (m *Manager) Touch(ctx context.Context, id string) (*api.Workspace, error) {
	return m.records.UpdateWorkspace(ctx, id, func(w *api.Workspace) error {
		w.LastActiveAt = m.now()
		return nil
	})
}

// Logs returns the last tail log lines of the workspace container
func (m *Manager) Logs(ctx context.Context, id string, tail int) ([]runtime.LogEntry, error) {
	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ws.ContainerID == "" {
		return nil, errdefs.NotFound("workspace.logs", "container:"+m.ContainerName(id))
	}
	return m.rt.ContainerLogs(ctx, ws.ContainerID, tail)
}

// Stats samples the resource usage of a running workspace
func (m *Manager) Stats(ctx context.Context, id string) (*api.ResourceUsage, error) {
	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ws.ContainerID == "" {
		return nil, errdefs.NotFound("workspace.stats", "container:"+m.ContainerName(id))
	}
	s, err := m.rt.ContainerStats(ctx, ws.ContainerID)
	if err != nil {
		return nil, err
	}
	return &api.ResourceUsage{
		CPUPercent:       s.CPUPercent,
		MemoryBytes:      int64(s.MemoryUsage),
		MemoryLimitBytes: int64(s.MemoryLimit),
		SampledAt:        s.Timestamp,
	}, nil
}

// start runs with the workspace lock held. projectID overrides the bound
// project; it is recorded only once the container is running.
func (m *Manager) start(ctx context.Context, ws *api.Workspace, projectID string) (*api.Workspace, error) {
	id := ws.ID
	logger := m.logger.With(zap.String("workspace_id", id))

	switch ws.Status {
	case api.StatusRunning:
		if projectID == "" && ws.ContainerID != "" {
			c, err := m.rt.InspectContainer(ctx, ws.ContainerID)
			if err == nil && c.Running() {
				return ws, nil
			}
			if err != nil && !errdefs.IsNotFound(err) {
				return nil, err
			}
		}
		var err error
		if ws, err = m.transition(ctx, id, api.StatusError, func(w *api.Workspace) {
			w.LastError = "container not running"
		}); err != nil {
			return nil, err
		}
	case api.StatusStarting, api.StatusStopping:
		var err error
		if ws, err = m.transition(ctx, id, api.StatusError, nil); err != nil {
			return nil, err
		}
	case api.StatusDeleting:
		return nil, errdefs.Conflict("workspace.start", "workspace:"+id, "workspace is being deleted")
	}

	if projectID == "" {
		projectID = ws.CurrentProjectID
	}
	if projectID == "" {
		return nil, errdefs.Conflict("workspace.start", "workspace:"+id, "no project assigned")
	}
	project, err := m.records.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	t, err := m.types.Get(ws.Type)
	if err != nil {
		return nil, errdefs.InvariantViolation("workspace.start", "workspace:"+id, "workspace type %q: %v", ws.Type, err)
	}
	if m.capacity != nil {
		if err := m.capacity.CheckMemory(ws.ResourceLimits.MemoryBytes); err != nil {
			return nil, err
		}
	}

	if ws, err = m.transition(ctx, id, api.StatusStarting, func(w *api.Workspace) {
		w.LastError = ""
	}); err != nil {
		return nil, err
	}

	if _, err := m.volumes.Ensure(ctx, project.ID); err != nil {
		return nil, m.fail(ctx, ws, "", fmt.Errorf("failed to ensure volume: %w", err))
	}
	// any previous container for this workspace is replaced
	if err := m.removeContainers(ctx, ws); err != nil {
		return nil, m.fail(ctx, ws, "", fmt.Errorf("failed to remove previous container: %w", err))
	}
	if ws.ContainerID != "" {
		if ws, err = m.records.UpdateWorkspace(ctx, id, func(w *api.Workspace) error {
			w.ContainerID = ""
			return nil
		}); err != nil {
			return nil, m.fail(ctx, &api.Workspace{ID: id}, "", err)
		}
	}

	spec := m.containerSpec(ws, project, t)
	containerID, err := m.rt.CreateContainer(ctx, spec)
	if err != nil {
		return nil, m.fail(ctx, ws, "", fmt.Errorf("failed to create container: %w", err))
	}
	if err := m.rt.StartContainer(ctx, containerID); err != nil {
		return nil, m.fail(ctx, ws, containerID, fmt.Errorf("failed to start container: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, m.fail(ctx, ws, containerID, errdefs.FromContext("workspace.start", "workspace:"+id, err))
	}

	now := m.now()
	ws, err = m.transition(context.WithoutCancel(ctx), id, api.StatusRunning, func(w *api.Workspace) {
		w.ContainerID = containerID
		w.CurrentProjectID = project.ID
		w.VolumeName = volume.Name(project.ID)
		w.LastActiveAt = now
		w.LastHealth = api.HealthState{Healthy: true}
	})
	if err != nil {
		return nil, m.fail(ctx, ws, containerID, err)
	}

	logger.Info("Workspace running",
		zap.String("container_id", containerID),
		zap.String("project_id", project.ID),
		zap.String("volume", volume.Name(project.ID)),
	)
	return ws, nil
}

// stop runs with the workspace lock held
func (m *Manager) stop(ctx context.Context, ws *api.Workspace) (*api.Workspace, error) {
	id := ws.ID

	switch ws.Status {
	case api.StatusStopped, api.StatusCreated:
		return ws, nil
	case api.StatusDeleting:
		return nil, errdefs.Conflict("workspace.stop", "workspace:"+id, "workspace is being deleted")
	case api.StatusStarting:
		var err error
		if ws, err = m.transition(ctx, id, api.StatusError, nil); err != nil {
			return nil, err
		}
	}

	var err error
	if ws, err = m.transition(ctx, id, api.StatusStopping, nil); err != nil {
		return nil, err
	}

	containerGone := false
	if ws.ContainerID != "" {
		err := m.rt.StopContainer(ctx, ws.ContainerID, m.config.StopGrace)
		switch {
		case errdefs.IsNotFound(err):
			containerGone = true
		case err != nil:
			return nil, m.markError(ctx, ws, fmt.Errorf("failed to stop container: %w", err))
		}
	}

	ws, err = m.transition(context.WithoutCancel(ctx), id, api.StatusStopped, func(w *api.Workspace) {
		if containerGone {
			w.ContainerID = ""
		}
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("Workspace stopped", zap.String("workspace_id", id))
	return ws, nil
}

// transition moves a record to status to, applying mutate in the same
// atomic update. An illegal transition is an invariant violation.
func (m *Manager) transition(ctx context.Context, id string, to api.Status, mutate func(*api.Workspace)) (*api.Workspace, error) {
	return m.records.UpdateWorkspace(ctx, id, func(w *api.Workspace) error {
		if w.Status != to {
			if !w.Status.CanTransitionTo(to) {
				return errdefs.InvariantViolation("workspace.transition", "workspace:"+id,
					"illegal transition %s -> %s", w.Status, to)
			}
			w.Status = to
			w.StatusChangedAt = m.now()
		}
		if mutate != nil {
			mutate(w)
		}
		return nil
	})
}

// fail compensates a failed start: the partially created container is
// removed and the record moves to error
func (m *Manager) fail(ctx context.Context, ws *api.Workspace, containerID string, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	cause = errdefs.FromContext("workspace.start", "workspace:"+ws.ID, cause)
	if containerID != "" {
		if err := m.rt.RemoveContainer(cctx, containerID, true); err != nil && !errdefs.IsNotFound(err) {
			m.logger.Error("Failed to remove container after failed start",
				zap.String("workspace_id", ws.ID),
				zap.String("container_id", containerID),
				zap.Error(err),
			)
		}
	}
	// a create that failed after the runtime made the container leaves it
	// unreferenced; the workspace label still finds it
	if err := m.removeContainers(cctx, &api.Workspace{ID: ws.ID}); err != nil {
		m.logger.Error("Failed to sweep containers after failed start",
			zap.String("workspace_id", ws.ID),
			zap.Error(err),
		)
	}

	if _, err := m.transition(cctx, ws.ID, api.StatusError, func(w *api.Workspace) {
		if w.ContainerID == containerID {
			w.ContainerID = ""
		}
		w.LastError = cause.Error()
	}); err != nil {
		m.logger.Error("Failed to record start failure",
			zap.String("workspace_id", ws.ID),
			zap.Error(err),
		)
	}

	m.logFailure("workspace.start", ws.ID, cause)
	return cause
}

// markError records a failed stop without touching the container
func (m *Manager) markError(ctx context.Context, ws *api.Workspace, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	cause = errdefs.FromContext("workspace.stop", "workspace:"+ws.ID, cause)
	if _, err := m.transition(cctx, ws.ID, api.StatusError, func(w *api.Workspace) {
		w.LastError = cause.Error()
	}); err != nil {
		m.logger.Error("Failed to record stop failure",
			zap.String("workspace_id", ws.ID),
			zap.Error(err),
		)
	}
	m.logFailure("workspace.stop", ws.ID, cause)
	return cause
}

func (m *Manager) logFailure(op, id string, err error) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("workspace_id", id),
		zap.String("kind", errdefs.KindOf(err).String()),
		zap.Error(err),
	}
	switch {
	case errdefs.IsInvariantViolation(err):
		m.logger.Error("Workspace operation aborted", append(fields, zap.Stack("stack"))...)
	case errdefs.Classify(err) == errdefs.FailedRecoverable:
		m.logger.Warn("Workspace operation failed", fields...)
	default:
		m.logger.Error("Workspace operation failed", fields...)
	}
}

// removeContainers removes the recorded container and any other managed
// container labeled with this workspace id
func (m *Manager) removeContainers(ctx context.Context, ws *api.Workspace) error {
	ids := map[string]struct{}{}
	if ws.ContainerID != "" {
		ids[ws.ContainerID] = struct{}{}
	}
	stale, err := m.rt.ListContainers(ctx, runtime.ListFilter{
		Labels: map[string]string{
			runtime.LabelManaged:     runtime.ManagedValue,
			runtime.LabelWorkspaceID: ws.ID,
		},
		All: true,
	})
	if err != nil {
		return err
	}
	for _, c := range stale {
		ids[c.ID] = struct{}{}
	}

	for cid := range ids {
		if err := m.rt.RemoveContainer(ctx, cid, true); err != nil && !errdefs.IsNotFound(err) {
			return err
		}
	}
	return nil
}

var _ volume.Releaser = (*Manager)(nil)

// ReleaseContainer force-removes a managed container so its volume can go.
// The owning workspace's lock is held throughout; a workspace running on
// the container, or a container found running, is a conflict.
func (m *Manager) ReleaseContainer(ctx context.Context, c *runtime.Container) error {
	id := c.Labels[runtime.LabelWorkspaceID]
	if id == "" {
		return m.removeReleased(ctx, c.ID)
	}
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	ws, err := m.records.GetWorkspace(ctx, id)
	switch {
	case errdefs.IsNotFound(err):
		ws = nil
	case err != nil:
		return err
	case ws.ContainerID == c.ID && ws.Status == api.StatusRunning:
		return errdefs.Conflict("volume.release", "workspace:"+id, "workspace is running on the volume")
	}

	cur, err := m.rt.InspectContainer(ctx, c.ID)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Running() {
		return errdefs.Conflict("volume.release", "container:"+c.ID, "container is running")
	}
	if err := m.removeReleased(ctx, c.ID); err != nil {
		return err
	}
	if ws != nil && ws.ContainerID == c.ID {
		if _, err := m.records.UpdateWorkspace(ctx, id, func(w *api.Workspace) error {
			if w.ContainerID == c.ID {
				w.ContainerID = ""
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) removeReleased(ctx context.Context, containerID string) error {
	if err := m.rt.RemoveContainer(ctx, containerID, true); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

func (m *Manager) containerSpec(ws *api.Workspace, project *api.Project, t api.WorkspaceType) runtime.ContainerSpec {
	mountPath := t.MountPath
	if mountPath == "" {
		mountPath = DefaultMountPath
	}
	workDir := mountPath
	if project.LocalPath != "" {
		if path.IsAbs(project.LocalPath) {
			workDir = path.Clean(project.LocalPath)
		} else {
			workDir = path.Join(mountPath, project.LocalPath)
		}
	}

	env := make(map[string]string, len(t.Env)+2)
	for k, v := range t.Env {
		env[k] = v
	}
	env["WORKSPACE_ID"] = ws.ID
	env["PROJECT_ID"] = project.ID

	spec := runtime.ContainerSpec{
		Name:       m.ContainerName(ws.ID),
		Image:      t.Image,
		Command:    t.Command,
		Env:        env,
		WorkingDir: workDir,
		Labels:     runtime.WorkspaceLabels(ws.ID, project.ID),
		Mounts: []runtime.Mount{{
			Type:   runtime.MountTypeVolume,
			Source: volume.Name(project.ID),
			Target: mountPath,
		}},
		Resources: runtime.Resources{
			CPU:         ws.ResourceLimits.CPU,
			MemoryBytes: ws.ResourceLimits.MemoryBytes,
		},
		Security: runtime.DefaultSecurity(),
	}

	hc := ws.HealthCheck
	if hc.Enabled && len(hc.Command) > 0 && (hc.Probe == "" || hc.Probe == api.ProbeNative) {
		spec.Healthcheck = &runtime.Healthcheck{
			Test:     hc.Command,
			Interval: hc.Interval(),
			Timeout:  hc.Timeout(),
			Retries:  hc.RetryLimit(),
		}
	}
	return spec
}
