package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/observability"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/volume"
)

// ListWorkspaceTypes returns the catalog in id order
func (e *Engine) ListWorkspaceTypes() []api.WorkspaceType {
	return e.catalog.List()
}

// CreateWorkspace persists a new workspace in status created
func (e *Engine) CreateWorkspace(ctx context.Context, req api.CreateWorkspaceRequest) (ws *api.Workspace, err error) {
	ctx, done := e.begin(ctx, "workspace.create", workspaceAttr(req.ID), projectAttr(req.ProjectID))
	defer func() { done(err); e.refreshStatusGauge(ctx) }()
	return e.workspaces.Create(ctx, req)
}

// GetWorkspace returns the persisted record without reconciling it
func (e *Engine) GetWorkspace(ctx context.Context, id string) (*api.Workspace, error) {
	return e.store.GetWorkspace(ctx, id)
}

// ListWorkspaces returns every workspace record
func (e *Engine) ListWorkspaces(ctx context.Context) (list []*api.Workspace, err error) {
	ctx, done := e.begin(ctx, "workspace.list")
	defer func() { done(err) }()
	return e.store.ListWorkspaces(ctx)
}

// StartWorkspace brings a workspace to running
func (e *Engine) StartWorkspace(ctx context.Context, id string) (ws *api.Workspace, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.start", workspaceAttr(id))
	defer func() { done(err); e.refreshStatusGauge(ctx) }()
	return e.workspaces.Start(ctx, id)
}

// StopWorkspace brings a workspace to stopped
func (e *Engine) StopWorkspace(ctx context.Context, id string) (ws *api.Workspace, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.stop", workspaceAttr(id))
	defer func() { done(err); e.refreshStatusGauge(ctx) }()
	return e.workspaces.Stop(ctx, id)
}

// RestartWorkspace stops and starts a workspace under one lock
func (e *Engine) RestartWorkspace(ctx context.Context, id string) (ws *api.Workspace, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.restart", workspaceAttr(id))
	defer func() { done(err); e.refreshStatusGauge(ctx) }()
	return e.workspaces.Restart(ctx, id)
}

// DeleteWorkspace removes the workspace container. With purge the record
// is dropped as well; the project volume always survives.
func (e *Engine) DeleteWorkspace(ctx context.Context, id string, purge bool) (ws *api.Workspace, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.delete", workspaceAttr(id))
	defer func() { done(err); e.refreshStatusGauge(ctx) }()

	ws, err = e.workspaces.Delete(ctx, id)
	if err != nil || !purge {
		return ws, err
	}
	if err := e.workspaces.Purge(ctx, id); err != nil {
		return nil, err
	}
	return ws, nil
}

// WorkspaceStatus returns the record reconciled against the runtime
func (e *Engine) WorkspaceStatus(ctx context.Context, id string) (st *api.WorkspaceStatus, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.status", workspaceAttr(id))
	defer func() {
		done(err)
		if st != nil && st.Reconciled {
			e.refreshStatusGauge(ctx)
		}
	}()
	return e.workspaces.Status(ctx, id)
}

// WorkspaceHealth probes the workspace now and returns its health state
func (e *Engine) WorkspaceHealth(ctx context.Context, id string) (h api.HealthState, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.health", workspaceAttr(id))
	defer func() { done(err) }()
	return e.health.CheckNow(ctx, id)
}

// WorkspaceLogs returns the last tail lines of the workspace container
func (e *Engine) WorkspaceLogs(ctx context.Context, id string, tail int) (lines []runtime.LogEntry, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.logs", workspaceAttr(id))
	defer func() { done(err) }()
	if tail < 0 {
		return nil, errdefs.Invalid("workspace.logs", "workspace:"+id, "tail must not be negative")
	}
	return e.workspaces.Logs(ctx, id, tail)
}

// WorkspaceStats samples resource usage of the workspace container
func (e *Engine) WorkspaceStats(ctx context.Context, id string) (u *api.ResourceUsage, err error) {
	ctx = observability.WithWorkspaceID(ctx, id)
	ctx, done := e.begin(ctx, "workspace.stats", workspaceAttr(id))
	defer func() { done(err) }()
	return e.workspaces.Stats(ctx, id)
}

// TouchWorkspace records user activity
func (e *Engine) TouchWorkspace(ctx context.Context, id string) (ws *api.Workspace, err error) {
	ctx, done := e.begin(ctx, "workspace.touch", workspaceAttr(id))
	defer func() { done(err) }()
	return e.workspaces.Touch(ctx, id)
}

// AssignProject binds a project to a workspace that is not running
func (e *Engine) AssignProject(ctx context.Context, id, projectID string) (ws *api.Workspace, err error) {
	ctx = observability.WithProjectID(observability.WithWorkspaceID(ctx, id), projectID)
	ctx, done := e.begin(ctx, "workspace.assign_project", workspaceAttr(id), projectAttr(projectID))
	defer func() { done(err) }()
	return e.workspaces.AssignProject(ctx, id, projectID)
}

// SwitchProject rebinds a workspace to another project, restarting it
// on the new volume when it is running
func (e *Engine) SwitchProject(ctx context.Context, id, projectID string) (ws *api.Workspace, err error) {
	ctx = observability.WithProjectID(observability.WithWorkspaceID(ctx, id), projectID)
	ctx, done := e.begin(ctx, "workspace.switch_project", workspaceAttr(id), projectAttr(projectID))
	defer func() { done(err); e.refreshStatusGauge(ctx) }()
	return e.workspaces.SwitchProject(ctx, id, projectID)
}

// CompatibleProjects lists the projects the workspace type can open
func (e *Engine) CompatibleProjects(ctx context.Context, id string) (list []*api.Project, err error) {
	ctx, done := e.begin(ctx, "workspace.compatible_projects", workspaceAttr(id))
	defer func() { done(err) }()
	return e.workspaces.CompatibleProjects(ctx, id)
}

// CreateProject registers a project. Its volume is created lazily on the
// first start or eagerly through CreateVolume.
func (e *Engine) CreateProject(ctx context.Context, req api.CreateProjectRequest) (p *api.Project, err error) {
	ctx, done := e.begin(ctx, "project.create", projectAttr(req.ID))
	defer func() { done(err) }()

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := volume.ValidateProjectID(id); err != nil {
		return nil, err
	}
	p = &api.Project{
		ID:         id,
		Name:       req.Name,
		VolumeName: volume.Name(id),
		Language:   req.Language,
		LocalPath:  req.LocalPath,
	}
	if p.Name == "" {
		p.Name = id
	}
	if err := e.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return e.store.GetProject(ctx, id)
}

// GetProject returns one project record
func (e *Engine) GetProject(ctx context.Context, id string) (*api.Project, error) {
	return e.store.GetProject(ctx, id)
}

// ListProjects returns every project record
func (e *Engine) ListProjects(ctx context.Context) (list []*api.Project, err error) {
	ctx, done := e.begin(ctx, "project.list")
	defer func() { done(err) }()
	return e.store.ListProjects(ctx)
}

// DeleteProject removes the project volume and then the record. A project
// still bound to a live workspace is refused.
func (e *Engine) DeleteProject(ctx context.Context, id string) (err error) {
	ctx = observability.WithProjectID(ctx, id)
	ctx, done := e.begin(ctx, "project.delete", projectAttr(id))
	defer func() { done(err) }()

	if _, err := e.store.GetProject(ctx, id); err != nil {
		return err
	}
	workspaces, err := e.store.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	for _, ws := range workspaces {
		if ws.CurrentProjectID == id && ws.Status != api.StatusDeleting {
			return errdefs.Conflict("project.delete", "project:"+id,
				"workspace %s is bound to the project", ws.ID)
		}
	}

	if err := e.volumes.Remove(ctx, id, false); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return e.store.DeleteProject(ctx, id)
}

// CreateVolume eagerly creates the volume of a registered project
func (e *Engine) CreateVolume(ctx context.Context, projectID string) (v *runtime.Volume, err error) {
	ctx = observability.WithProjectID(ctx, projectID)
	ctx, done := e.begin(ctx, "volume.create", projectAttr(projectID))
	defer func() { done(err) }()

	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	v, err = e.volumes.Ensure(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if v.Mountpoint != "" && p.VolumePath != v.Mountpoint {
		_, err = e.store.UpdateProject(ctx, p.ID, func(p *api.Project) error {
			p.VolumePath = v.Mountpoint
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

// DeleteVolume removes a project volume. Without force a volume mounted
// by any container is refused; with force managed users are removed first
// and unmanaged users still block.
func (e *Engine) DeleteVolume(ctx context.Context, projectID string, force bool) (err error) {
	ctx = observability.WithProjectID(ctx, projectID)
	ctx, done := e.begin(ctx, "volume.delete", projectAttr(projectID))
	defer func() { done(err) }()
	return e.volumes.Remove(ctx, projectID, force)
}

// VolumeSize reports how much data a project volume holds
func (e *Engine) VolumeSize(ctx context.Context, projectID string) (size api.VolumeSize, err error) {
	ctx = observability.WithProjectID(ctx, projectID)
	ctx, done := e.begin(ctx, "volume.size", projectAttr(projectID))
	defer func() { done(err) }()
	return e.volumes.Size(ctx, projectID)
}

// Backup archives a project volume
func (e *Engine) Backup(ctx context.Context, projectID string) (rec *api.BackupRecord, err error) {
	ctx = observability.WithProjectID(ctx, projectID)
	ctx, done := e.begin(ctx, "volume.backup", projectAttr(projectID))
	defer func() { done(err) }()
	return e.backups.Backup(ctx, projectID)
}

// Restore replaces the contents of a project volume with an archive
func (e *Engine) Restore(ctx context.Context, projectID, backupPath string, force bool) (err error) {
	ctx = observability.WithProjectID(ctx, projectID)
	ctx, done := e.begin(ctx, "volume.restore", projectAttr(projectID))
	defer func() { done(err) }()
	return e.backups.Restore(ctx, projectID, backupPath, force)
}

// ListBackups returns the backup log of a project
func (e *Engine) ListBackups(ctx context.Context, projectID string) (list []api.BackupRecord, err error) {
	ctx, done := e.begin(ctx, "volume.list_backups", projectAttr(projectID))
	defer func() { done(err) }()
	return e.backups.List(ctx, projectID)
}

// Cleanup runs one reconciliation sweep now
func (e *Engine) Cleanup(ctx context.Context) (summary api.CleanupSummary, err error) {
	ctx, done := e.begin(ctx, "cleanup.sweep")
	defer func() { done(err); e.refreshStatusGauge(ctx) }()
	return e.cleanup.Sweep(ctx)
}
