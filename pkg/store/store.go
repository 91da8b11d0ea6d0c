// Package store persists workspace and project records and the backup log.
// The engine reads and writes records only through these accessors.
package store

import (
	"context"
	"slices"

	"github.com/agentdb9/wsengine/pkg/api"
)

// WorkspaceStore is the accessor contract for workspace records
type WorkspaceStore interface {
	GetWorkspace(ctx context.Context, id string) (*api.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*api.Workspace, error)
	CreateWorkspace(ctx context.Context, ws *api.Workspace) error
	// UpdateWorkspace applies fn to the current record atomically and
	// persists the result unless fn returns an error.
	UpdateWorkspace(ctx context.Context, id string, fn func(*api.Workspace) error) (*api.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
}

// ProjectStore is the accessor contract for project records
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*api.Project, error)
	ListProjects(ctx context.Context) ([]*api.Project, error)
	CreateProject(ctx context.Context, p *api.Project) error
	UpdateProject(ctx context.Context, id string, fn func(*api.Project) error) (*api.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// BackupLog is the append-only record of volume backups
type BackupLog interface {
	AppendBackup(ctx context.Context, rec api.BackupRecord) error
	ListBackups(ctx context.Context, projectID string) ([]api.BackupRecord, error)
}

// Store bundles every accessor
type Store interface {
	WorkspaceStore
	ProjectStore
	BackupLog
	Close() error
}

func cloneWorkspace(ws *api.Workspace) *api.Workspace {
	c := *ws
	c.HealthCheck.Command = slices.Clone(ws.HealthCheck.Command)
	return &c
}

func cloneProject(p *api.Project) *api.Project {
	c := *p
	return &c
}
