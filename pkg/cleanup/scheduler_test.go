package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/store"
	"github.com/agentdb9/wsengine/pkg/volume"
	"github.com/agentdb9/wsengine/pkg/workspace"
	"github.com/agentdb9/wsengine/test/testutil/fixtures"
	"github.com/agentdb9/wsengine/test/testutil/mocks"
)

type testEnv struct {
	rt      *mocks.FakeRuntime
	records *store.MemoryStore
	ws      *workspace.Manager
	sched   *Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rt := mocks.NewFakeRuntime()
	records := store.NewMemory()
	fixtures.SeedProjects(records, "", "p1", "p2", "p3")

	mgr := workspace.NewManager(rt, records, volume.NewManager(rt, volume.Config{}, logger),
		fixtures.NewTestCatalog(), nil, workspace.Config{}, logger)
	sched := NewScheduler(rt, records, mgr, Config{}, logger)
	return &testEnv{rt: rt, records: records, ws: mgr, sched: sched}
}

func (e *testEnv) start(t *testing.T, id, projectID string) *api.Workspace {
	t.Helper()
	ctx := context.Background()
	_, err := e.ws.Create(ctx, api.CreateWorkspaceRequest{ID: id, Type: fixtures.TypeShell, ProjectID: projectID})
	require.NoError(t, err)
	ws, err := e.ws.Start(ctx, id)
	require.NoError(t, err)
	return ws
}

func (e *testEnv) update(t *testing.T, id string, fn func(*api.Workspace)) {
	t.Helper()
	_, err := e.records.UpdateWorkspace(context.Background(), id, func(w *api.Workspace) error {
		fn(w)
		return nil
	})
	require.NoError(t, err)
}

func volumeMount(name string) []runtime.Mount {
	return []runtime.Mount{{Type: runtime.MountTypeVolume, Source: name, Target: "/data"}}
}

func TestSweep(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	live := e.start(t, "w1", "p1")
	idle := e.start(t, "w2", "p2")
	e.update(t, "w2", func(w *api.Workspace) { w.LastActiveAt = time.Now().Add(-3 * time.Hour) })
	e.start(t, "w3", "p3")
	e.update(t, "w3", func(w *api.Workspace) {
		w.Status = api.StatusError
		w.StatusChangedAt = time.Now().Add(-time.Hour)
	})

	ghost := e.rt.AddContainer(runtime.ContainerSpec{Name: "ghost", Labels: runtime.WorkspaceLabels("ghost", "p1")}, true)
	stale := e.rt.AddContainer(runtime.ContainerSpec{Name: "stale-w1", Labels: runtime.WorkspaceLabels("w1", "p1")}, false)
	foreign := e.rt.AddContainer(runtime.ContainerSpec{Name: "foreign", Labels: map[string]string{"app": "db"}}, true)

	e.rt.AddVolume(volume.Name("gone"), runtime.ManagedLabels("gone"))
	e.rt.AddVolume(volume.Name("held"), runtime.ManagedLabels("held"))
	holder := e.rt.AddContainer(runtime.ContainerSpec{Name: "holder", Mounts: volumeMount(volume.Name("held"))}, true)
	e.rt.AddVolume("user-data", nil)

	summary, err := e.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.OrphanedContainers)
	assert.Equal(t, 1, summary.OrphanedVolumes)
	assert.Equal(t, 1, summary.InactiveContainers)
	assert.Equal(t, 1, summary.ErrorWorkspaces)
	assert.Empty(t, summary.Failures)

	ids := e.rt.ContainerIDs()
	assert.NotContains(t, ids, ghost)
	assert.NotContains(t, ids, stale)
	assert.Contains(t, ids, live.ContainerID)
	assert.Contains(t, ids, foreign)
	assert.Contains(t, ids, holder)
	// inactive workspaces are stopped, not deleted
	assert.Contains(t, ids, idle.ContainerID)

	got, err := e.records.GetWorkspace(ctx, "w2")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStopped, got.Status)
	got, err = e.records.GetWorkspace(ctx, "w3")
	require.NoError(t, err)
	assert.Equal(t, api.StatusError, got.Status, "error workspaces are only counted")

	assert.False(t, e.rt.HasVolume(volume.Name("gone")))
	assert.True(t, e.rt.HasVolume(volume.Name("held")), "mounted volumes are never removed")
	assert.True(t, e.rt.HasVolume("user-data"))
	for _, p := range []string{"p1", "p2", "p3"} {
		assert.True(t, e.rt.HasVolume(volume.Name(p)))
	}

	again, err := e.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.OrphanedContainers)
	assert.Zero(t, again.OrphanedVolumes)
	assert.Zero(t, again.InactiveContainers)
	assert.Equal(t, 1, again.ErrorWorkspaces)
}

func TestSweepSkipsBusyWorkspace(t *testing.T) {
	e := newTestEnv(t)
	e.start(t, "w1", "p1")
	stale := e.rt.AddContainer(runtime.ContainerSpec{Name: "stale-w1", Labels: runtime.WorkspaceLabels("w1", "p1")}, false)

	unlock, ok := e.ws.TryLock("w1")
	require.True(t, ok)
	summary, err := e.sched.Sweep(context.Background())
	unlock()
	require.NoError(t, err)
	assert.Zero(t, summary.OrphanedContainers)
	assert.Empty(t, summary.Failures)
	assert.Contains(t, e.rt.ContainerIDs(), stale)

	summary, err = e.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrphanedContainers)
}

func TestSweepRecordsFailures(t *testing.T) {
	e := newTestEnv(t)
	ghost := e.rt.AddContainer(runtime.ContainerSpec{Name: "ghost", Labels: runtime.WorkspaceLabels("ghost", "p1")}, true)

	e.rt.FailNext("RemoveContainer", errdefs.RuntimeUnavailable("container.remove", "", assert.AnError))
	summary, err := e.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.OrphanedContainers)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0], ghost)

	summary, err = e.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrphanedContainers)
}

func TestSweepListFailure(t *testing.T) {
	e := newTestEnv(t)
	e.rt.FailNext("ListContainers", errdefs.RuntimeUnavailable("container.list", "", assert.AnError))
	_, err := e.sched.Sweep(context.Background())
	assert.True(t, errdefs.IsRuntimeUnavailable(err))
}

func TestActiveWorkspaceNotStopped(t *testing.T) {
	e := newTestEnv(t)
	e.start(t, "w1", "p1")

	summary, err := e.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.InactiveContainers)
	assert.Equal(t, 0, e.rt.Calls("StopContainer"))
}

func TestSchedulerLoop(t *testing.T) {
	e := newTestEnv(t)
	e.rt.AddContainer(runtime.ContainerSpec{Name: "ghost", Labels: runtime.WorkspaceLabels("ghost", "p1")}, true)
	e.sched.config.Interval = 10 * time.Millisecond

	require.NoError(t, e.sched.Start(context.Background()))
	defer e.sched.Stop()

	assert.Eventually(t, func() bool {
		return len(e.rt.ContainerIDs()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
