package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine Operation Metrics
var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsengine_operations_total",
			Help: "Total number of engine operations",
		},
		[]string{"operation", "outcome"}, // outcome: succeeded, failed_recoverable, failed_fatal
	)

	OperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wsengine_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"operation"},
	)

	WorkspacesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsengine_workspaces",
			Help: "Number of workspaces by status",
		},
		[]string{"status"},
	)
)

// Health Monitor Metrics
var (
	HealthProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsengine_health_probes_total",
			Help: "Total number of workspace health probes",
		},
		[]string{"probe", "result"}, // result: success, failure, skipped
	)

	HealthFailingStreak = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsengine_health_failing_streak",
			Help: "Consecutive failed probes per workspace",
		},
		[]string{"workspace_id"},
	)
)

// Cleanup Metrics
var (
	CleanupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsengine_cleanup_runs_total",
			Help: "Total number of cleanup sweeps",
		},
		[]string{"trigger"}, // timer, manual
	)

	CleanupActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsengine_cleanup_actions_total",
			Help: "Resources acted on by cleanup",
		},
		[]string{"kind"}, // inactive_container, orphaned_container, orphaned_volume, error_workspace
	)

	CleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsengine_cleanup_failures_total",
			Help: "Cleanup actions that failed",
		},
	)
)

// Backup Metrics
var (
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsengine_backups_total",
			Help: "Total number of volume backups",
		},
		[]string{"result"}, // success, failure
	)

	BackupBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsengine_backup_bytes_total",
			Help: "Bytes written to backup archives",
		},
	)
)

// Container Runtime Metrics
var (
	RuntimeUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsengine_runtime_up",
			Help: "Whether the container runtime answered the last ping (1=yes, 0=no)",
		},
		[]string{"backend"},
	)
)

// Host Metrics
var (
	HostMemoryAvailableBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsengine_host_memory_available_bytes",
			Help: "Memory available on the host",
		},
	)

	HostDiskFreeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsengine_host_disk_free_bytes",
			Help: "Free bytes on the engine data filesystem",
		},
	)
)

// General System Metrics
var (
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsengine_system_info",
			Help: "System information (version, build time, etc.)",
		},
		[]string{"version", "build_time", "git_commit"},
	)

	UptimeSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsengine_uptime_seconds",
			Help: "Uptime of the component in seconds",
		},
		[]string{"component"},
	)
)
