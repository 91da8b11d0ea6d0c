package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

func TestMonitorSnapshot(t *testing.T) {
	m := NewMonitor(Config{Interval: 50 * time.Millisecond, DiskPath: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, m.Start())
	defer m.Stop()

	s := m.Snapshot()
	assert.False(t, s.Timestamp.IsZero())
	assert.NotZero(t, s.MemoryTotal)
	assert.NotZero(t, s.DiskTotal)
	assert.Greater(t, s.CPUCores, 0)
}

func TestCheckMemory(t *testing.T) {
	m := NewMonitor(Config{}, zaptest.NewLogger(t))

	// nothing sampled yet
	assert.NoError(t, m.CheckMemory(1<<50))

	m.snapshot = Snapshot{Timestamp: time.Now(), MemoryAvailable: 1 << 30}
	assert.NoError(t, m.CheckMemory(512<<20))
	assert.NoError(t, m.CheckMemory(0))

	err := m.CheckMemory(2 << 30)
	assert.True(t, errdefs.IsConflict(err))
}

func TestDiskFree(t *testing.T) {
	m := NewMonitor(Config{}, zaptest.NewLogger(t))
	free, err := m.DiskFree(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, free)

	_, err = m.DiskFree(context.Background(), "/does/not/exist/anywhere")
	assert.Error(t, err)
}
