package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
)

func stores(t *testing.T) map[string]Store {
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "state.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   bolt,
	}
}

func TestWorkspaceRecords(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ws := &api.Workspace{
				ID:          "ws-1",
				Type:        "vscode",
				Status:      api.StatusCreated,
				HealthCheck: api.HealthCheckConfig{Command: []string{"true"}},
			}
			require.NoError(t, s.CreateWorkspace(ctx, ws))
			assert.True(t, errdefs.IsConflict(s.CreateWorkspace(ctx, ws)))

			got, err := s.GetWorkspace(ctx, "ws-1")
			require.NoError(t, err)
			assert.Equal(t, "vscode", got.Type)

			got.HealthCheck.Command[0] = "mutated"
			again, err := s.GetWorkspace(ctx, "ws-1")
			require.NoError(t, err)
			assert.Equal(t, "true", again.HealthCheck.Command[0], "returned records must be copies")

			updated, err := s.UpdateWorkspace(ctx, "ws-1", func(w *api.Workspace) error {
				w.Status = api.StatusStarting
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, api.StatusStarting, updated.Status)
			assert.WithinDuration(t, time.Now(), updated.UpdatedAt, time.Minute)

			_, err = s.UpdateWorkspace(ctx, "ws-1", func(w *api.Workspace) error {
				w.Status = api.StatusRunning
				return errors.New("abort")
			})
			require.Error(t, err)
			cur, _ := s.GetWorkspace(ctx, "ws-1")
			assert.Equal(t, api.StatusStarting, cur.Status, "failed update must not persist")

			list, err := s.ListWorkspaces(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, s.DeleteWorkspace(ctx, "ws-1"))
			_, err = s.GetWorkspace(ctx, "ws-1")
			assert.True(t, errdefs.IsNotFound(err))
			assert.True(t, errdefs.IsNotFound(s.DeleteWorkspace(ctx, "ws-1")))
			_, err = s.UpdateWorkspace(ctx, "ws-1", func(*api.Workspace) error { return nil })
			assert.True(t, errdefs.IsNotFound(err))
		})
	}
}

func TestProjectRecords(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateProject(ctx, &api.Project{ID: "b", Language: "go"}))
			require.NoError(t, s.CreateProject(ctx, &api.Project{ID: "a", Language: "python"}))
			assert.True(t, errdefs.IsConflict(s.CreateProject(ctx, &api.Project{ID: "a"})))

			list, err := s.ListProjects(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)

			p, err := s.UpdateProject(ctx, "a", func(p *api.Project) error {
				p.VolumePath = "/var/lib/docker/volumes/x/_data"
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, "/var/lib/docker/volumes/x/_data", p.VolumePath)

			require.NoError(t, s.DeleteProject(ctx, "a"))
			_, err = s.GetProject(ctx, "a")
			assert.True(t, errdefs.IsNotFound(err))
		})
	}
}

func TestBackupLogIsAppendOnly(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			empty, err := s.ListBackups(ctx, "p")
			require.NoError(t, err)
			assert.Empty(t, empty)

			for i := 0; i < 12; i++ {
				require.NoError(t, s.AppendBackup(ctx, api.BackupRecord{
					ProjectID: "p",
					SizeBytes: int64(i),
				}))
			}
			require.NoError(t, s.AppendBackup(ctx, api.BackupRecord{ProjectID: "other"}))

			list, err := s.ListBackups(ctx, "p")
			require.NoError(t, err)
			require.Len(t, list, 12)
			for i, rec := range list {
				assert.Equal(t, int64(i), rec.SizeBytes, "records keep insertion order")
			}
		})
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	s, err := OpenBolt(path, logger)
	require.NoError(t, err)
	require.NoError(t, s.CreateWorkspace(ctx, &api.Workspace{ID: "ws", Status: api.StatusStopped}))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path, logger)
	require.NoError(t, err)
	defer s.Close()
	ws, err := s.GetWorkspace(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStopped, ws.Status)
}
