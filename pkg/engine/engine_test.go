package engine

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/observability"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/store"
	"github.com/agentdb9/wsengine/pkg/volume"
	"github.com/agentdb9/wsengine/test/testutil"
	"github.com/agentdb9/wsengine/test/testutil/fixtures"
	"github.com/agentdb9/wsengine/test/testutil/mocks"
)

type testEngine struct {
	*Engine
	rt    *mocks.FakeRuntime
	store *store.MemoryStore
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	rt := mocks.NewFakeRuntime()
	st := store.NewMemory()
	config := &Config{
		DataDir:    t.TempDir(),
		StopGrace:  time.Second,
		HealthTick: time.Hour,
		Logger:     zaptest.NewLogger(t),
	}
	config.Cleanup.Interval = time.Hour

	e, err := New(config, rt, st)
	require.NoError(t, err)
	return &testEngine{Engine: e, rt: rt, store: st}
}

func (e *testEngine) project(t *testing.T, id, language string) *api.Project {
	t.Helper()
	p, err := e.CreateProject(context.Background(), api.CreateProjectRequest{ID: id, Language: language})
	require.NoError(t, err)
	return p
}

func (e *testEngine) workspace(t *testing.T, id, projectID string) *api.Workspace {
	t.Helper()
	ws, err := e.CreateWorkspace(context.Background(), api.CreateWorkspaceRequest{
		ID:        id,
		Type:      "python",
		ProjectID: projectID,
	})
	require.NoError(t, err)
	return ws
}

func TestConfigValidate(t *testing.T) {
	t.Run("requires logger and data dir", func(t *testing.T) {
		assert.Error(t, (&Config{DataDir: "/tmp"}).Validate())
		assert.Error(t, (&Config{Logger: zaptest.NewLogger(t)}).Validate())
	})

	t.Run("rejects negative durations", func(t *testing.T) {
		c := &Config{DataDir: "/tmp", Logger: zaptest.NewLogger(t), StopGrace: -time.Second}
		assert.Error(t, c.Validate())
	})

	t.Run("fills defaults", func(t *testing.T) {
		c := &Config{DataDir: "/srv/ws", Logger: zaptest.NewLogger(t)}
		require.NoError(t, c.Validate())
		assert.Equal(t, "/srv/ws/backups", c.BackupDir)
		assert.Equal(t, 10*time.Second, c.StopGrace)
		assert.Equal(t, 5*time.Second, c.HealthTick)
		assert.Equal(t, 5*time.Minute, c.Cleanup.Interval)
		assert.Equal(t, 2*time.Hour, c.Cleanup.InactiveThreshold)
		assert.Equal(t, 30*time.Minute, c.Cleanup.ErrorGrace)
		assert.Equal(t, volume.DefaultHelperImage, c.HelperImage)
		assert.Equal(t, "agentdb9-ws-", c.ContainerPrefix)
	})
}

func TestNewRequiresRuntimeAndStore(t *testing.T) {
	_, err := New(&Config{DataDir: t.TempDir(), Logger: zaptest.NewLogger(t)}, nil, store.NewMemory())
	assert.Error(t, err)
}

func TestListWorkspaceTypes(t *testing.T) {
	e := newTestEngine(t)
	types := e.ListWorkspaceTypes()
	require.NotEmpty(t, types)
	ids := make([]string, 0, len(types))
	for _, ty := range types {
		ids = append(ids, ty.ID)
	}
	assert.Contains(t, ids, "python")
	assert.IsIncreasing(t, ids)
}

func TestWorkspaceLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.project(t, "proj-a", "python")
	e.workspace(t, "ws-1", "proj-a")

	before := promtest.ToFloat64(observability.OperationsTotal.WithLabelValues("workspace.start", "succeeded"))

	ws, err := e.StartWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, ws.Status)
	assert.True(t, e.rt.HasVolume(volume.Name("proj-a")))

	after := promtest.ToFloat64(observability.OperationsTotal.WithLabelValues("workspace.start", "succeeded"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, 1.0, promtest.ToFloat64(observability.WorkspacesByStatus.WithLabelValues("running")))

	st, err := e.WorkspaceStatus(ctx, "ws-1")
	require.NoError(t, err)
	assert.True(t, st.ContainerRunning)
	assert.False(t, st.Reconciled)

	h, err := e.WorkspaceHealth(ctx, "ws-1")
	require.NoError(t, err)
	assert.True(t, h.Healthy)

	usage, err := e.WorkspaceStats(ctx, "ws-1")
	require.NoError(t, err)
	assert.Positive(t, usage.MemoryBytes)

	ws, err = e.RestartWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, ws.Status)

	ws, err = e.StopWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStopped, ws.Status)

	_, err = e.DeleteWorkspace(ctx, "ws-1", true)
	require.NoError(t, err)
	_, err = e.GetWorkspace(ctx, "ws-1")
	assert.True(t, errdefs.IsNotFound(err))
	assert.True(t, e.rt.HasVolume(volume.Name("proj-a")), "volume survives workspace deletion")
}

func TestOutcomeMetrics(t *testing.T) {
	e := newTestEngine(t)

	recoverable := observability.OperationsTotal.WithLabelValues("workspace.stop", "failed_recoverable")
	before := promtest.ToFloat64(recoverable)
	_, err := e.StopWorkspace(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errdefs.FailedRecoverable, errdefs.Classify(err))
	assert.Equal(t, before+1, promtest.ToFloat64(recoverable))

	e.project(t, "proj-a", "python")
	e.workspace(t, "ws-1", "proj-a")
	e.rt.FailNext("CreateContainer", errdefs.RuntimeUnavailable("create", "c", assert.AnError))

	fatal := observability.OperationsTotal.WithLabelValues("workspace.start", "failed_fatal")
	before = promtest.ToFloat64(fatal)
	_, err = e.StartWorkspace(context.Background(), "ws-1")
	require.Error(t, err)
	assert.Equal(t, errdefs.FailedFatal, errdefs.Classify(err))
	assert.Equal(t, before+1, promtest.ToFloat64(fatal))
}

func TestLogsAndTouch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.project(t, "proj-a", "python")
	e.workspace(t, "ws-1", "proj-a")
	ws, err := e.StartWorkspace(ctx, "ws-1")
	require.NoError(t, err)

	e.rt.AppendLog(ws.ContainerID, "one", "two", "three")
	lines, err := e.WorkspaceLogs(ctx, "ws-1", 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "three", lines[1].Line)

	_, err = e.WorkspaceLogs(ctx, "ws-1", -1)
	assert.True(t, errdefs.IsInvalid(err))

	touched, err := e.TouchWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.False(t, touched.LastActiveAt.Before(ws.LastActiveAt))
}

func TestProjects(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreateProject(ctx, api.CreateProjectRequest{Language: "python"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, volume.Name(p.ID), p.VolumeName)
	assert.False(t, e.rt.HasVolume(p.VolumeName), "volumes are created lazily")

	_, err = e.CreateProject(ctx, api.CreateProjectRequest{ID: p.ID})
	assert.True(t, errdefs.IsConflict(err))

	_, err = e.CreateProject(ctx, api.CreateProjectRequest{ID: "../etc"})
	assert.True(t, errdefs.IsInvalid(err))

	list, err := e.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	t.Run("delete without volume", func(t *testing.T) {
		require.NoError(t, e.DeleteProject(ctx, p.ID))
		_, err := e.GetProject(ctx, p.ID)
		assert.True(t, errdefs.IsNotFound(err))
	})

	t.Run("delete refuses bound project", func(t *testing.T) {
		e.project(t, "bound", "python")
		e.workspace(t, "ws-b", "bound")
		err := e.DeleteProject(ctx, "bound")
		assert.True(t, errdefs.IsConflict(err))
	})

	t.Run("delete removes volume once workspace is purged", func(t *testing.T) {
		e.project(t, "mounted", "python")
		e.workspace(t, "ws-m", "mounted")
		_, err := e.StartWorkspace(ctx, "ws-m")
		require.NoError(t, err)
		_, err = e.DeleteWorkspace(ctx, "ws-m", true)
		require.NoError(t, err)

		require.NoError(t, e.DeleteProject(ctx, "mounted"))
		assert.False(t, e.rt.HasVolume(volume.Name("mounted")))
	})
}

func TestVolumes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateVolume(ctx, "unknown")
	assert.True(t, errdefs.IsNotFound(err))

	e.project(t, "proj-a", "python")
	v, err := e.CreateVolume(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, volume.Name("proj-a"), v.Name)

	e.rt.PutVolumeFile(v.Name, "main.py", []byte("print(1)"))
	size, err := e.VolumeSize(ctx, "proj-a")
	require.NoError(t, err)
	assert.EqualValues(t, len("print(1)"), size.Bytes)

	e.workspace(t, "ws-1", "proj-a")
	_, err = e.StartWorkspace(ctx, "ws-1")
	require.NoError(t, err)

	err = e.DeleteVolume(ctx, "proj-a", false)
	assert.True(t, errdefs.IsConflict(err))
	assert.True(t, e.rt.HasVolume(v.Name))

	// force still waits for the workspace to stop
	err = e.DeleteVolume(ctx, "proj-a", true)
	assert.True(t, errdefs.IsConflict(err), "got %v", err)
	assert.True(t, e.rt.HasVolume(v.Name))

	_, err = e.StopWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.NoError(t, e.DeleteVolume(ctx, "proj-a", true))
	assert.False(t, e.rt.HasVolume(v.Name))
	assert.Empty(t, e.rt.ContainerIDs())

	st, err := e.WorkspaceStatus(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, st.Workspace.ContainerID)
	assert.Equal(t, api.StatusStopped, st.Workspace.Status)
}

func TestBackupRestore(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.project(t, "proj-a", "python")
	v, err := e.CreateVolume(ctx, "proj-a")
	require.NoError(t, err)
	e.rt.PutVolumeFile(v.Name, "notes.txt", []byte("keep me"))

	rec, err := e.Backup(ctx, "proj-a")
	require.NoError(t, err)
	assert.Positive(t, rec.SizeBytes)

	e.rt.PutVolumeFile(v.Name, "notes.txt", []byte("overwritten"))
	require.NoError(t, e.Restore(ctx, "proj-a", rec.BackupPath, false))

	data, ok := e.rt.VolumeFile(v.Name, "notes.txt")
	require.True(t, ok)
	assert.Equal(t, "keep me", string(data))

	list, err := e.ListBackups(ctx, "proj-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.BackupPath, list[0].BackupPath)
}

func TestBackupRestoreProjectTree(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.project(t, "proj-a", "go")
	v, err := e.CreateVolume(ctx, "proj-a")
	require.NoError(t, err)

	tree := fixtures.ProjectTree(5)
	tree["assets/blob.bin"] = fixtures.RandomBlob(64 * fixtures.SizeKB)
	tree["gen/table.go"] = fixtures.RepetitiveBlob(fixtures.SizeMB)
	for path, data := range tree {
		e.rt.PutVolumeFile(v.Name, path, data)
	}

	rec, err := e.Backup(ctx, "proj-a")
	require.NoError(t, err)

	for path := range tree {
		e.rt.PutVolumeFile(v.Name, path, []byte("scribbled"))
	}
	require.NoError(t, e.Restore(ctx, "proj-a", rec.BackupPath, false))

	for path, want := range tree {
		got, ok := e.rt.VolumeFile(v.Name, path)
		require.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
}

func TestStatePersistsInBoltStore(t *testing.T) {
	ctx := context.Background()
	rt := mocks.NewFakeRuntime()
	st := testutil.NewBoltStore(t)
	newEngine := func() *Engine {
		config := &Config{
			DataDir:    t.TempDir(),
			StopGrace:  time.Second,
			HealthTick: time.Hour,
			Logger:     testutil.NewTestLogger(t),
		}
		config.Cleanup.Interval = time.Hour
		e, err := New(config, rt, st)
		require.NoError(t, err)
		return e
	}

	first := newEngine()
	_, err := first.CreateProject(ctx, api.CreateProjectRequest{ID: "proj-a", Language: "python"})
	require.NoError(t, err)
	_, err = first.CreateWorkspace(ctx, api.CreateWorkspaceRequest{ID: "ws-1", Type: "python", ProjectID: "proj-a"})
	require.NoError(t, err)
	_, err = first.StartWorkspace(ctx, "ws-1")
	require.NoError(t, err)

	second := newEngine()
	ws, err := second.GetWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, ws.Status)
	assert.Equal(t, "proj-a", ws.CurrentProjectID)

	st2, err := second.WorkspaceStatus(ctx, "ws-1")
	require.NoError(t, err)
	assert.True(t, st2.ContainerRunning)

	projects, err := second.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
}

func TestSwitchAndCompatibleProjects(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.project(t, "proj-a", "python")
	e.project(t, "proj-b", "python")
	e.project(t, "proj-go", "go")
	e.workspace(t, "ws-1", "")

	compatible, err := e.CompatibleProjects(ctx, "ws-1")
	require.NoError(t, err)
	assert.Len(t, compatible, 2)

	ws, err := e.AssignProject(ctx, "ws-1", "proj-a")
	require.NoError(t, err)
	assert.Equal(t, "proj-a", ws.CurrentProjectID)

	_, err = e.StartWorkspace(ctx, "ws-1")
	require.NoError(t, err)

	_, err = e.AssignProject(ctx, "ws-1", "proj-b")
	assert.True(t, errdefs.IsConflict(err))

	ws, err = e.SwitchProject(ctx, "ws-1", "proj-b")
	require.NoError(t, err)
	assert.Equal(t, "proj-b", ws.CurrentProjectID)
	assert.Equal(t, api.StatusRunning, ws.Status)

	_, err = e.SwitchProject(ctx, "ws-1", "proj-go")
	assert.True(t, errdefs.IsInvalid(err))
}

func TestCleanupOnDemand(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// a managed volume whose project record is gone
	e.rt.AddVolume(volume.Name("ghost"), runtime.ManagedLabels("ghost"))

	summary, err := e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrphanedVolumes)
	assert.False(t, e.rt.HasVolume(volume.Name("ghost")))
}

func TestStartStop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx), "second start is a no-op")
	assert.Equal(t, 1.0, promtest.ToFloat64(observability.RuntimeUp.WithLabelValues("fake")))
	e.Stop()
	e.Stop()

	e.rt.FailNext("Ping", errdefs.RuntimeUnavailable("ping", "runtime", assert.AnError))
	assert.Error(t, e.Start(ctx))
	assert.Equal(t, 0.0, promtest.ToFloat64(observability.RuntimeUp.WithLabelValues("fake")))
}
