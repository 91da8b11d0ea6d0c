package fixtures

import (
	"context"
	"time"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/catalog"
	"github.com/agentdb9/wsengine/pkg/volume"
)

// Workspace type ids in the test catalog
const (
	TypePython = "python"
	TypeShell  = "shell"
	TypeNative = "native"
	TypeHTTP   = "web"
)

// NewTestCatalog returns a small catalog covering every probe kind
func NewTestCatalog() *catalog.Catalog {
	c, err := catalog.New(
		api.WorkspaceType{
			ID:        TypePython,
			Image:     "python:3.12-slim",
			Command:   []string{"sleep", "infinity"},
			MountPath: "/workspace",
			Limits:    api.ResourceLimits{CPU: 1, MemoryBytes: 512 << 20},
			HealthCheck: api.HealthCheckConfig{
				Enabled: true, IntervalSeconds: 1, TimeoutSeconds: 1, Retries: 2,
				Probe: api.ProbeExec, Command: []string{"true"},
			},
			Languages: []string{"python"},
		},
		api.WorkspaceType{
			ID:        TypeShell,
			Image:     "alpine:3.19",
			Command:   []string{"sleep", "infinity"},
			MountPath: "/home/dev",
		},
		api.WorkspaceType{
			ID:        TypeNative,
			Image:     "alpine:3.19",
			MountPath: "/workspace",
			HealthCheck: api.HealthCheckConfig{
				Enabled: true, IntervalSeconds: 1, Retries: 2,
				Probe: api.ProbeNative, Command: []string{"true"},
			},
		},
		api.WorkspaceType{
			ID:        TypeHTTP,
			Image:     "nginx:1.25",
			MountPath: "/usr/share/nginx/html",
			Port:      80,
			HealthCheck: api.HealthCheckConfig{
				Enabled: true, IntervalSeconds: 1, TimeoutSeconds: 1, Retries: 1,
				Probe: api.ProbeHTTP, Port: 80, Path: "/",
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// NewTestProject builds a project record with its derived volume name
func NewTestProject(id, language string) *api.Project {
	now := time.Now().UTC()
	return &api.Project{
		ID:         id,
		Name:       "Project " + id,
		VolumeName: volume.Name(id),
		Language:   language,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ProjectCreator is satisfied by every project store
type ProjectCreator interface {
	CreateProject(ctx context.Context, p *api.Project) error
}

// SeedProjects stores one project per id with the given language
func SeedProjects(s ProjectCreator, language string, ids ...string) {
	for _, id := range ids {
		if err := s.CreateProject(context.Background(), NewTestProject(id, language)); err != nil {
			panic(err)
		}
	}
}
