package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/cleanup"
	"github.com/agentdb9/wsengine/pkg/volume"
	"github.com/agentdb9/wsengine/pkg/workspace"
)

// Config represents the engine configuration
type Config struct {
	// DataDir holds the record database and, by default, backups
	DataDir string

	// CatalogPath is a YAML workspace type catalog; empty uses the embedded one
	CatalogPath string

	ContainerPrefix string
	StopGrace       time.Duration

	HelperImage   string
	HelperTimeout time.Duration

	BackupDir          string
	BackupMinFreeBytes uint64

	HealthTick        time.Duration
	HealthParallelism int

	Cleanup cleanup.Config

	// HostMonitor enables host capacity sampling for start admission and
	// backup free-space checks
	HostMonitor  bool
	HostInterval time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns a configuration with every tunable at its default
func DefaultConfig() *Config {
	return &Config{
		DataDir:           "/var/lib/wsengine",
		ContainerPrefix:   workspace.DefaultContainerPrefix,
		StopGrace:         10 * time.Second,
		HelperImage:       volume.DefaultHelperImage,
		HelperTimeout:     2 * time.Minute,
		HealthTick:        5 * time.Second,
		HealthParallelism: 8,
		Cleanup:           cleanup.DefaultConfig(),
		HostMonitor:       true,
		HostInterval:      15 * time.Second,
	}
}

// Validate checks the configuration and fills unset fields with defaults
func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.StopGrace < 0 || c.HelperTimeout < 0 || c.HealthTick < 0 || c.HostInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Cleanup.Interval < 0 || c.Cleanup.InactiveThreshold < 0 || c.Cleanup.ErrorGrace < 0 {
		return fmt.Errorf("cleanup durations must not be negative")
	}

	d := DefaultConfig()
	if c.ContainerPrefix == "" {
		c.ContainerPrefix = d.ContainerPrefix
	}
	if c.StopGrace == 0 {
		c.StopGrace = d.StopGrace
	}
	if c.HelperImage == "" {
		c.HelperImage = d.HelperImage
	}
	if c.HelperTimeout == 0 {
		c.HelperTimeout = d.HelperTimeout
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	if c.HealthTick == 0 {
		c.HealthTick = d.HealthTick
	}
	if c.HealthParallelism <= 0 {
		c.HealthParallelism = d.HealthParallelism
	}
	if c.Cleanup.Interval == 0 {
		c.Cleanup.Interval = d.Cleanup.Interval
	}
	if c.Cleanup.InactiveThreshold == 0 {
		c.Cleanup.InactiveThreshold = d.Cleanup.InactiveThreshold
	}
	if c.Cleanup.ErrorGrace == 0 {
		c.Cleanup.ErrorGrace = d.Cleanup.ErrorGrace
	}
	if c.Cleanup.Parallelism <= 0 {
		c.Cleanup.Parallelism = d.Cleanup.Parallelism
	}
	if c.HostInterval == 0 {
		c.HostInterval = d.HostInterval
	}
	return nil
}
