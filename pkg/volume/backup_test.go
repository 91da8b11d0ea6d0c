package volume

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/store"
	"github.com/agentdb9/wsengine/test/testutil/mocks"
)

type fixedDisk uint64

func (d fixedDisk) DiskFree(ctx context.Context, path string) (uint64, error) {
	return uint64(d), nil
}

func newTestBackups(t *testing.T, disk DiskChecker, minFree uint64) (*BackupService, *mocks.FakeRuntime, string) {
	t.Helper()
	rt := mocks.NewFakeRuntime()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	b, err := NewBackupService(NewManager(rt, Config{}, logger), store.NewMemory(),
		BackupConfig{Dir: dir, MinFreeBytes: minFree}, disk, logger)
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return b, rt, dir
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	b, rt, dir := newTestBackups(t, nil, 0)
	ctx := context.Background()

	_, err := b.volumes.Ensure(ctx, "p1")
	require.NoError(t, err)
	rt.PutVolumeFile(Name("p1"), "main.go", []byte("package main"))
	rt.PutVolumeFile(Name("p1"), "docs/readme.md", []byte("# hi"))

	rec, err := b.Backup(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "p1", "p1-20260301T120000.000Z.tar.gz"), rec.BackupPath)
	assert.Greater(t, rec.SizeBytes, int64(0))
	assert.Len(t, rec.Checksum, 64)
	assert.FileExists(t, rec.BackupPath)

	// clobber the volume, then restore
	rt.PutVolumeFile(Name("p1"), "main.go", []byte("broken"))
	rt.PutVolumeFile(Name("p1"), "junk.txt", []byte("x"))

	require.NoError(t, b.Restore(ctx, "p1", rec.BackupPath, false))

	data, ok := rt.VolumeFile(Name("p1"), "main.go")
	require.True(t, ok)
	assert.Equal(t, "package main", string(data))
	_, ok = rt.VolumeFile(Name("p1"), "junk.txt")
	assert.False(t, ok)
	data, ok = rt.VolumeFile(Name("p1"), "docs/readme.md")
	require.True(t, ok)
	assert.Equal(t, "# hi", string(data))

	records, err := b.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.BackupPath, records[0].BackupPath)

	assert.Empty(t, rt.ContainerIDs())
}

func TestBackupMissingVolume(t *testing.T) {
	b, _, dir := newTestBackups(t, nil, 0)
	_, err := b.Backup(context.Background(), "p1")
	assert.True(t, errdefs.IsNotFound(err))
	assert.NoDirExists(t, filepath.Join(dir, "p1"))
}

func TestBackupInsufficientSpace(t *testing.T) {
	b, _, _ := newTestBackups(t, fixedDisk(1024), 1<<20)
	ctx := context.Background()
	_, err := b.volumes.Ensure(ctx, "p1")
	require.NoError(t, err)

	_, err = b.Backup(ctx, "p1")
	assert.True(t, errdefs.IsConflict(err))
}

func TestBackupFailureLeavesNothing(t *testing.T) {
	b, rt, dir := newTestBackups(t, nil, 0)
	ctx := context.Background()
	_, err := b.volumes.Ensure(ctx, "p1")
	require.NoError(t, err)

	rt.FailNext("WaitContainer", errdefs.Timeout("container.wait", "", context.DeadlineExceeded))
	_, err = b.Backup(ctx, "p1")
	assert.True(t, errdefs.IsTimeout(err))

	entries, err := os.ReadDir(filepath.Join(dir, "p1"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	records, err := b.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, rt.ContainerIDs())
}

func TestBackupSameInstantConflicts(t *testing.T) {
	b, _, _ := newTestBackups(t, nil, 0)
	ctx := context.Background()
	_, err := b.volumes.Ensure(ctx, "p1")
	require.NoError(t, err)

	_, err = b.Backup(ctx, "p1")
	require.NoError(t, err)
	_, err = b.Backup(ctx, "p1")
	assert.True(t, errdefs.IsConflict(err))
}

func TestRestoreRefusesRunningMount(t *testing.T) {
	b, rt, _ := newTestBackups(t, nil, 0)
	ctx := context.Background()
	_, err := b.volumes.Ensure(ctx, "p1")
	require.NoError(t, err)
	rt.PutVolumeFile(Name("p1"), "f", []byte("v1"))

	rec, err := b.Backup(ctx, "p1")
	require.NoError(t, err)

	rt.AddContainer(runtime.ContainerSpec{
		Name:   "ws",
		Labels: runtime.WorkspaceLabels("w1", "p1"),
		Mounts: []runtime.Mount{{Type: runtime.MountTypeVolume, Source: Name("p1"), Target: "/workspace"}},
	}, true)
	rt.PutVolumeFile(Name("p1"), "f", []byte("v2"))

	err = b.Restore(ctx, "p1", rec.BackupPath, false)
	assert.True(t, errdefs.IsConflict(err))
	data, _ := rt.VolumeFile(Name("p1"), "f")
	assert.Equal(t, "v2", string(data))

	require.NoError(t, b.Restore(ctx, "p1", rec.BackupPath, true))
	data, _ = rt.VolumeFile(Name("p1"), "f")
	assert.Equal(t, "v1", string(data))
}

func TestRestorePathConfinement(t *testing.T) {
	b, _, dir := newTestBackups(t, nil, 0)
	ctx := context.Background()
	_, err := b.volumes.Ensure(ctx, "p1")
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "evil.tar.gz")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0600))

	tests := []struct {
		name  string
		path  string
		check func(error) bool
	}{
		{"absolute outside", outside, errdefs.IsInvalid},
		{"empty", "", errdefs.IsInvalid},
		{"backup dir itself", dir, errdefs.IsInvalid},
		{"missing inside", "p1/none.tar.gz", errdefs.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Restore(ctx, "p1", tt.path, false)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestRestoreRelativePathTraversalStaysInside(t *testing.T) {
	b, _, _ := newTestBackups(t, nil, 0)
	resolved, err := b.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Dir(), "etc", "passwd"), resolved)
}

func TestRestoreDetectsCorruptArchive(t *testing.T) {
	b, _, _ := newTestBackups(t, nil, 0)
	ctx := context.Background()
	_, err := b.volumes.Ensure(ctx, "p1")
	require.NoError(t, err)

	rec, err := b.Backup(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(rec.BackupPath, []byte("tampered"), 0600))

	err = b.Restore(ctx, "p1", rec.BackupPath, false)
	assert.True(t, errdefs.IsInvariantViolation(err))
}
