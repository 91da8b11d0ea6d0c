package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/volume"
)

func TestSwitchProjectRoundTripPreservesData(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.create(t, "w1", "pa")

	ws, err := e.mgr.Start(ctx, "w1")
	require.NoError(t, err)
	e.rt.PutVolumeFile(volume.Name("pa"), "a.py", []byte("print('a')"))

	ws, err = e.mgr.SwitchProject(ctx, "w1", "pb")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, ws.Status)
	assert.Equal(t, "pb", ws.CurrentProjectID)
	assert.Equal(t, volume.Name("pb"), ws.VolumeName)
	c, err := e.rt.InspectContainer(ctx, ws.ContainerID)
	require.NoError(t, err)
	assert.True(t, c.MountsVolume(volume.Name("pb")))
	assert.False(t, c.MountsVolume(volume.Name("pa")))
	e.rt.PutVolumeFile(volume.Name("pb"), "b.py", []byte("print('b')"))

	ws, err = e.mgr.SwitchProject(ctx, "w1", "pa")
	require.NoError(t, err)
	assert.Equal(t, "pa", ws.CurrentProjectID)

	data, ok := e.rt.VolumeFile(volume.Name("pa"), "a.py")
	require.True(t, ok)
	assert.Equal(t, "print('a')", string(data))
	data, ok = e.rt.VolumeFile(volume.Name("pb"), "b.py")
	require.True(t, ok)
	assert.Equal(t, "print('b')", string(data))
	_, ok = e.rt.VolumeFile(volume.Name("pa"), "b.py")
	assert.False(t, ok)

	assert.Len(t, e.rt.ContainerIDs(), 1)
}

func TestSwitchStoppedUpdatesBindingOnly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.create(t, "w1", "pa")
	_, err := e.mgr.Start(ctx, "w1")
	require.NoError(t, err)
	stopped, err := e.mgr.Stop(ctx, "w1")
	require.NoError(t, err)
	creates := e.rt.Calls("CreateContainer")
	removes := e.rt.Calls("RemoveContainer")

	ws, err := e.mgr.SwitchProject(ctx, "w1", "pb")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStopped, ws.Status)
	assert.Equal(t, "pb", ws.CurrentProjectID)
	assert.Equal(t, volume.Name("pb"), ws.VolumeName)
	assert.True(t, e.rt.HasVolume(volume.Name("pb")))

	// no container is touched until the next start
	assert.Equal(t, stopped.ContainerID, ws.ContainerID)
	assert.Equal(t, []string{stopped.ContainerID}, e.rt.ContainerIDs())
	assert.Equal(t, creates, e.rt.Calls("CreateContainer"))
	assert.Equal(t, removes, e.rt.Calls("RemoveContainer"))
	assert.Equal(t, 1, e.rt.Calls("StopContainer"))

	ws, err = e.mgr.Start(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{ws.ContainerID}, e.rt.ContainerIDs())
	c, err := e.rt.InspectContainer(ctx, ws.ContainerID)
	require.NoError(t, err)
	assert.True(t, c.MountsVolume(volume.Name("pb")))
	assert.False(t, c.MountsVolume(volume.Name("pa")))
}

func TestSwitchFailureKeepsBinding(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.create(t, "w1", "pa")
	_, err := e.mgr.Start(ctx, "w1")
	require.NoError(t, err)

	e.rt.FailNext("StartContainer", errdefs.RuntimeUnavailable("container.start", "", assert.AnError))
	_, err = e.mgr.SwitchProject(ctx, "w1", "pb")
	require.Error(t, err)

	ws := e.get(t, "w1")
	assert.Equal(t, api.StatusError, ws.Status)
	assert.Equal(t, "pa", ws.CurrentProjectID)
	assert.Empty(t, e.rt.ContainerIDs())
}

func TestSwitchValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.create(t, "w1", "pa")

	_, err := e.mgr.SwitchProject(ctx, "w1", "pgo")
	assert.True(t, errdefs.IsInvalid(err))
	_, err = e.mgr.SwitchProject(ctx, "w1", "missing")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = e.mgr.SwitchProject(ctx, "w1", "")
	assert.True(t, errdefs.IsInvalid(err))
	_, err = e.mgr.SwitchProject(ctx, "nope", "pa")
	assert.True(t, errdefs.IsNotFound(err))

	// same project is a no-op
	ws, err := e.mgr.SwitchProject(ctx, "w1", "pa")
	require.NoError(t, err)
	assert.Equal(t, api.StatusCreated, ws.Status)
	assert.False(t, e.rt.HasVolume(volume.Name("pa")))
}

func TestAssignProject(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.create(t, "w1", "")

	ws, err := e.mgr.AssignProject(ctx, "w1", "pa")
	require.NoError(t, err)
	assert.Equal(t, "pa", ws.CurrentProjectID)
	assert.False(t, e.rt.HasVolume(volume.Name("pa")))

	_, err = e.mgr.Start(ctx, "w1")
	require.NoError(t, err)
	_, err = e.mgr.AssignProject(ctx, "w1", "pb")
	assert.True(t, errdefs.IsConflict(err))
	assert.Equal(t, "pa", e.get(t, "w1").CurrentProjectID)
}

func TestCompatibleProjects(t *testing.T) {
	e := newTestEnv(t)
	e.create(t, "w1", "")

	projects, err := e.mgr.CompatibleProjects(context.Background(), "w1")
	require.NoError(t, err)
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"pa", "pb"}, ids)
}
