package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/observability"
)

// Monitor samples host capacity so the engine can refuse work the host
// cannot take: starting a workspace whose memory limit exceeds what is
// available, or writing a backup onto a nearly full disk.
type Monitor struct {
	logger   *zap.Logger
	interval time.Duration
	diskPath string

	mu       sync.RWMutex
	snapshot Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Snapshot represents a snapshot of host resources
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	CPUCores        int     `json:"cpuCores"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`

	MemoryTotal       uint64  `json:"memoryTotal"`
	MemoryAvailable   uint64  `json:"memoryAvailable"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`

	DiskPath        string  `json:"diskPath"`
	DiskTotal       uint64  `json:"diskTotal"`
	DiskFree        uint64  `json:"diskFree"`
	DiskUsedPercent float64 `json:"diskUsedPercent"`
}

// Config configures the host monitor
type Config struct {
	// Interval between samples
	Interval time.Duration

	// DiskPath is the filesystem holding backups and engine state
	DiskPath string
}

// NewMonitor creates a new host monitor
func NewMonitor(config Config, logger *zap.Logger) *Monitor {
	if config.Interval == 0 {
		config.Interval = 15 * time.Second
	}
	if config.DiskPath == "" {
		config.DiskPath = "/"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		logger:   logger,
		interval: config.Interval,
		diskPath: config.DiskPath,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start takes an initial sample and keeps sampling in the background
func (m *Monitor) Start() error {
	m.logger.Info("Starting host monitor", zap.Duration("interval", m.interval))

	if err := m.Refresh(m.ctx); err != nil {
		return fmt.Errorf("failed to get initial snapshot: %w", err)
	}

	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop stops background sampling
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Snapshot returns the latest sample
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(m.ctx); err != nil {
				m.logger.Warn("Failed to refresh host snapshot", zap.Error(err))
			}
		}
	}
}

// Refresh samples the host now
func (m *Monitor) Refresh(ctx context.Context) error {
	s := Snapshot{Timestamp: time.Now(), DiskPath: m.diskPath}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUUsagePercent = pct[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUCores = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read memory: %w", err)
	}
	s.MemoryTotal = vm.Total
	s.MemoryAvailable = vm.Available
	s.MemoryUsedPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, m.diskPath)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %w", m.diskPath, err)
	}
	s.DiskTotal = du.Total
	s.DiskFree = du.Free
	s.DiskUsedPercent = du.UsedPercent

	m.mu.Lock()
	m.snapshot = s
	m.mu.Unlock()

	observability.HostMemoryAvailableBytes.Set(float64(s.MemoryAvailable))
	observability.HostDiskFreeBytes.Set(float64(s.DiskFree))
	return nil
}

// CheckMemory refuses a reservation larger than the available memory.
// Before the first sample nothing is refused.
func (m *Monitor) CheckMemory(bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	s := m.Snapshot()
	if s.Timestamp.IsZero() {
		return nil
	}
	if uint64(bytes) > s.MemoryAvailable {
		return errdefs.Conflict("host.admit", "memory",
			"workspace needs %d bytes but only %d are available", bytes, s.MemoryAvailable)
	}
	return nil
}

// DiskFree returns free bytes on the filesystem holding path
func (m *Monitor) DiskFree(ctx context.Context, path string) (uint64, error) {
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage for %s: %w", path, err)
	}
	return du.Free, nil
}
