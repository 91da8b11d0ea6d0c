package workspace

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/volume"
)

// SwitchProject rebinds a workspace to another project's volume. A
// running workspace is stopped and started again on the new volume; any
// other workspace only has its binding updated. The binding changes only
// when the switch succeeds.
func (m *Manager) SwitchProject(ctx context.Context, id, projectID string) (*api.Workspace, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, project, err := m.loadBinding(ctx, "workspace.switch", id, projectID)
	if err != nil {
		return nil, err
	}
	if ws.CurrentProjectID == project.ID {
		return ws, nil
	}
	logger := m.logger.With(
		zap.String("workspace_id", id),
		zap.String("from_project", ws.CurrentProjectID),
		zap.String("project_id", project.ID),
	)

	if _, err := m.volumes.Ensure(ctx, project.ID); err != nil {
		return nil, fmt.Errorf("failed to ensure volume: %w", err)
	}

	switch ws.Status {
	case api.StatusRunning:
		if ws, err = m.stop(ctx, ws); err != nil {
			return nil, err
		}
		if ws, err = m.start(ctx, ws, project.ID); err != nil {
			return nil, err
		}
		logger.Info("Switched running workspace")
		return ws, nil
	case api.StatusCreated, api.StatusStopped, api.StatusError:
		ws, err = m.rebind(ctx, ws, project)
		if err != nil {
			return nil, err
		}
		logger.Info("Switched workspace binding")
		return ws, nil
	default:
		return nil, errdefs.Conflict("workspace.switch", "workspace:"+id, "workspace is %s", ws.Status)
	}
}

// AssignProject binds a project to a workspace that is not running. The
// volume is created lazily on the next start.
func (m *Manager) AssignProject(ctx context.Context, id, projectID string) (*api.Workspace, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, project, err := m.loadBinding(ctx, "workspace.assign", id, projectID)
	if err != nil {
		return nil, err
	}
	switch ws.Status {
	case api.StatusCreated, api.StatusStopped, api.StatusError:
	default:
		return nil, errdefs.Conflict("workspace.assign", "workspace:"+id,
			"workspace is %s; switch the project instead", ws.Status)
	}
	if ws.CurrentProjectID == project.ID {
		return ws, nil
	}

	ws, err = m.rebind(ctx, ws, project)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Assigned project",
		zap.String("workspace_id", id),
		zap.String("project_id", project.ID),
	)
	return ws, nil
}

// CompatibleProjects lists the projects the workspace type can open
func (m *Manager) CompatibleProjects(ctx context.Context, id string) ([]*api.Project, error) {
	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := m.types.Get(ws.Type)
	if err != nil {
		return nil, err
	}
	projects, err := m.records.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*api.Project, 0, len(projects))
	for _, p := range projects {
		if t.Supports(p.Language) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Manager) loadBinding(ctx context.Context, op, id, projectID string) (*api.Workspace, *api.Project, error) {
	if projectID == "" {
		return nil, nil, errdefs.Invalid(op, "workspace:"+id, "project id is required")
	}
	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	project, err := m.records.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	t, err := m.types.Get(ws.Type)
	if err != nil {
		return nil, nil, err
	}
	if !t.Supports(project.Language) {
		return nil, nil, errdefs.Invalid(op, "workspace:"+id,
			"workspace type %s does not support %s projects", t.ID, project.Language)
	}
	return ws, project, nil
}

// rebind points a non-running workspace at another project. Only the
// record changes; a leftover stopped container keeps the old mount until
// the next start replaces it.
func (m *Manager) rebind(ctx context.Context, ws *api.Workspace, project *api.Project) (*api.Workspace, error) {
	return m.records.UpdateWorkspace(ctx, ws.ID, func(w *api.Workspace) error {
		w.CurrentProjectID = project.ID
		w.VolumeName = volume.Name(project.ID)
		return nil
	})
}
