package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
)

// MemoryStore keeps records in process memory. Used by tests and by the
// daemon when no data directory is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string]*api.Workspace
	projects   map[string]*api.Project
	backups    map[string][]api.BackupRecord
}

// NewMemory creates an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string]*api.Workspace),
		projects:   make(map[string]*api.Project),
		backups:    make(map[string][]api.BackupRecord),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetWorkspace(ctx context.Context, id string) (*api.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, errdefs.NotFound("store.get", "workspace:"+id)
	}
	return cloneWorkspace(ws), nil
}

func (s *MemoryStore) ListWorkspaces(ctx context.Context) ([]*api.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*api.Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		out = append(out, cloneWorkspace(ws))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateWorkspace(ctx context.Context, ws *api.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[ws.ID]; ok {
		return errdefs.Conflict("store.create", "workspace:"+ws.ID, "workspace already exists")
	}
	s.workspaces[ws.ID] = cloneWorkspace(ws)
	return nil
}

func (s *MemoryStore) UpdateWorkspace(ctx context.Context, id string, fn func(*api.Workspace) error) (*api.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workspaces[id]
	if !ok {
		return nil, errdefs.NotFound("store.update", "workspace:"+id)
	}
	next := cloneWorkspace(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.workspaces[id] = next
	return cloneWorkspace(next), nil
}

func (s *MemoryStore) DeleteWorkspace(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[id]; !ok {
		return errdefs.NotFound("store.delete", "workspace:"+id)
	}
	delete(s.workspaces, id)
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, errdefs.NotFound("store.get", "project:"+id)
	}
	return cloneProject(p), nil
}

func (s *MemoryStore) ListProjects(ctx context.Context) ([]*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*api.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateProject(ctx context.Context, p *api.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return errdefs.Conflict("store.create", "project:"+p.ID, "project already exists")
	}
	s.projects[p.ID] = cloneProject(p)
	return nil
}

func (s *MemoryStore) UpdateProject(ctx context.Context, id string, fn func(*api.Project) error) (*api.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.projects[id]
	if !ok {
		return nil, errdefs.NotFound("store.update", "project:"+id)
	}
	next := cloneProject(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.projects[id] = next
	return cloneProject(next), nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return errdefs.NotFound("store.delete", "project:"+id)
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) AppendBackup(ctx context.Context, rec api.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[rec.ProjectID] = append(s.backups[rec.ProjectID], rec)
	return nil
}

func (s *MemoryStore) ListBackups(ctx context.Context, projectID string) ([]api.BackupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.BackupRecord(nil), s.backups[projectID]...), nil
}
