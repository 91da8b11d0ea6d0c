package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	v2 "github.com/containerd/cgroups/v3/cgroup2/stats"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/mount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

func TestCPUQuotaCalculation(t *testing.T) {
	tests := []struct {
		name      string
		cores     float64
		wantQuota int64
	}{
		{"0.1 cores", 0.1, 10000},
		{"0.25 cores", 0.25, 25000},
		{"0.5 cores", 0.5, 50000},
		{"1 core", 1, 100000},
		{"1.5 cores", 1.5, 150000},
		{"4 cores", 4, 400000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quota, period := cpuQuota(tt.cores)
			assert.Equal(t, tt.wantQuota, quota)
			assert.Equal(t, uint64(100000), period)
		})
	}
}

func TestNormalizeImageRef(t *testing.T) {
	ref, err := normalizeImageRef("busybox")
	require.NoError(t, err)
	assert.Equal(t, "docker.io/library/busybox:latest", ref)

	ref, err = normalizeImageRef("ghcr.io/acme/editor:1.2")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/acme/editor:1.2", ref)

	// a leading uppercase component parses as a registry host, so only
	// uppercase in the repository path is rejected
	_, err = normalizeImageRef("UPPER/case")
	require.NoError(t, err)

	for _, bad := range []string{"busybox/UPPER", "bad ref with spaces", ""} {
		_, err = normalizeImageRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestManagedLabels(t *testing.T) {
	l := WorkspaceLabels("ws-1", "p-1")
	assert.Equal(t, "p-1", l[LabelProjectID])
	assert.Equal(t, "ws-1", l[LabelWorkspaceID])
	assert.True(t, IsManaged(l))
	assert.False(t, IsManaged(map[string]string{LabelProjectID: "p-1"}))
	assert.True(t, matchLabels(l, ManagedSelector()))
	assert.False(t, matchLabels(map[string]string{}, ManagedSelector()))
}

func TestEnvList(t *testing.T) {
	assert.Nil(t, envList(nil))
	assert.Equal(t, []string{"A=1", "B=2"}, envList(map[string]string{"B": "2", "A": "1"}))
}

func TestLastLines(t *testing.T) {
	lines := splitLines("stdout", "a\nb\nc\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []LogEntry{{Stream: "stdout", Line: "b"}, {Stream: "stdout", Line: "c"}}, lastLines(lines, 2))
	assert.Len(t, lastLines(lines, 0), 3)
	assert.Nil(t, splitLines("stderr", ""))
}

func TestDockerStatsConversion(t *testing.T) {
	var raw dockerStats
	raw.CPUStats.CPUUsage.TotalUsage = 400
	raw.CPUStats.SystemUsage = 2000
	raw.CPUStats.OnlineCPUs = 2
	raw.PreCPUStats.CPUUsage.TotalUsage = 200
	raw.PreCPUStats.SystemUsage = 1000
	raw.MemoryStats.Usage = 1000
	raw.MemoryStats.Limit = 4000
	raw.MemoryStats.Stats = map[string]uint64{"inactive_file": 200}

	stats := raw.toStats()
	assert.InDelta(t, 40.0, stats.CPUPercent, 0.0001)
	assert.Equal(t, uint64(800), stats.MemoryUsage)
	assert.Equal(t, uint64(4000), stats.MemoryLimit)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestDockerStatsFirstSample(t *testing.T) {
	var raw dockerStats
	raw.CPUStats.CPUUsage.TotalUsage = 400
	raw.MemoryStats.Usage = 100
	stats := raw.toStats()
	assert.Zero(t, stats.CPUPercent)
	assert.Equal(t, uint64(100), stats.MemoryUsage)
}

func TestDockerStateMapping(t *testing.T) {
	assert.Equal(t, ContainerStateRunning, dockerState("running"))
	assert.Equal(t, ContainerStateRunning, dockerState("restarting"))
	assert.Equal(t, ContainerStateStopped, dockerState("exited"))
	assert.Equal(t, ContainerStateCreated, dockerState("created"))
	assert.Equal(t, ContainerStatePaused, dockerState("paused"))
	assert.Equal(t, ContainerStateUnknown, dockerState("weird"))
}

func TestDockerMountConversion(t *testing.T) {
	mounts := toMounts([]types.MountPoint{
		{Type: mount.TypeVolume, Name: "agentdb9-project-a", Destination: "/workspace", RW: true},
		{Type: mount.TypeBind, Source: "/srv/backups", Destination: "/backup"},
	})
	require.Len(t, mounts, 2)
	c := &Container{Mounts: mounts}
	assert.True(t, c.MountsVolume("agentdb9-project-a"))
	assert.False(t, c.MountsVolume("/srv/backups"))
	assert.True(t, mounts[1].ReadOnly)
}

func TestDockerErrorMapping(t *testing.T) {
	r := &DockerRuntime{}
	assert.Nil(t, r.wrap("op", "x", nil))
	assert.True(t, errdefs.IsTimeout(r.wrap("op", "x", context.DeadlineExceeded)))
	assert.True(t, errdefs.IsRuntimeUnavailable(r.wrap("op", "x", os.ErrPermission)))
}

func newVolumeOnlyRuntime(t *testing.T) *ContainerdRuntime {
	dir := t.TempDir()
	return &ContainerdRuntime{
		volumesDir: filepath.Join(dir, "volumes"),
		logsDir:    filepath.Join(dir, "logs"),
		timeouts:   DefaultTimeouts(),
		logger:     zaptest.NewLogger(t),
	}
}

func TestContainerdVolumes(t *testing.T) {
	r := newVolumeOnlyRuntime(t)
	require.NoError(t, os.MkdirAll(r.volumesDir, 0700))
	ctx := context.Background()

	v, err := r.CreateVolume(ctx, VolumeSpec{Name: "agentdb9-project-a", Labels: ManagedLabels("a")})
	require.NoError(t, err)
	assert.Equal(t, r.volumeDataPath("agentdb9-project-a"), v.Mountpoint)
	assert.WithinDuration(t, time.Now(), v.CreatedAt, time.Minute)

	again, err := r.CreateVolume(ctx, VolumeSpec{Name: "agentdb9-project-a"})
	require.NoError(t, err)
	assert.Equal(t, "a", again.Labels[LabelProjectID], "existing volume keeps its labels")

	_, err = r.CreateVolume(ctx, VolumeSpec{Name: "unlabeled"})
	require.NoError(t, err)

	managed, err := r.ListVolumes(ctx, ManagedSelector())
	require.NoError(t, err)
	require.Len(t, managed, 1)
	assert.Equal(t, "agentdb9-project-a", managed[0].Name)

	all, err := r.ListVolumes(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = r.InspectVolume(ctx, "missing")
	assert.True(t, errdefs.IsNotFound(err))

	_, err = r.CreateVolume(ctx, VolumeSpec{Name: "../escape"})
	assert.True(t, errdefs.IsInvalid(err))
}

func TestContainerdVolumeNameForPath(t *testing.T) {
	r := newVolumeOnlyRuntime(t)
	name, ok := r.volumeNameForPath(r.volumeDataPath("vol-1"))
	assert.True(t, ok)
	assert.Equal(t, "vol-1", name)

	_, ok = r.volumeNameForPath("/etc")
	assert.False(t, ok)
	_, ok = r.volumeNameForPath(r.volumePath("vol-1"))
	assert.False(t, ok)
}

func TestCgroupParsing(t *testing.T) {
	s := parseV2Metrics(&v2.Metrics{
		CPU:    &v2.CPUStat{UsageUsec: 5000},
		Memory: &v2.MemoryStat{Usage: 1000, UsageLimit: 2048, InactiveFile: 100},
	})
	assert.Equal(t, uint64(5_000_000), s.cpuNanos)
	assert.Equal(t, uint64(900), s.memoryUsage)
	assert.Equal(t, uint64(2048), s.memoryLimit)
}

func TestSecurityRendering(t *testing.T) {
	var none *Security
	opts, drop := none.dockerSecurityOpts()
	assert.Nil(t, opts)
	assert.Nil(t, drop)
	assert.Nil(t, none.ociSpecOpts())

	s := &Security{NoNewPrivileges: true, DropCapabilities: []string{"net_raw", "CAP_SYS_ADMIN"}}
	opts, drop = s.dockerSecurityOpts()
	assert.Equal(t, []string{"no-new-privileges:true"}, opts)
	assert.Equal(t, []string{"NET_RAW", "SYS_ADMIN"}, drop)
	assert.Len(t, s.ociSpecOpts(), 2)
}
