// Package engine assembles the workspace components around one runtime
// client and one record store, and exposes every public operation with
// uniform tracing, metrics and outcome classification.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/catalog"
	"github.com/agentdb9/wsengine/pkg/cleanup"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/health"
	"github.com/agentdb9/wsengine/pkg/host"
	"github.com/agentdb9/wsengine/pkg/observability"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/store"
	"github.com/agentdb9/wsengine/pkg/volume"
	"github.com/agentdb9/wsengine/pkg/workspace"
)

const tracerName = "github.com/agentdb9/wsengine/pkg/engine"

// Engine is the single entry point used by the HTTP API and the daemon.
// It does not own the runtime client or the store; whoever created them
// closes them after Stop.
type Engine struct {
	config *Config
	logger *zap.Logger

	rt         runtime.Runtime
	store      store.Store
	catalog    *catalog.Catalog
	host       *host.Monitor
	volumes    *volume.Manager
	backups    *volume.BackupService
	workspaces *workspace.Manager
	health     *health.Monitor
	cleanup    *cleanup.Scheduler

	startedAt time.Time
	mu        sync.Mutex
	running   bool
}

// New wires every component on the shared runtime client and store
func New(config *Config, rt runtime.Runtime, st store.Store) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if rt == nil || st == nil {
		return nil, fmt.Errorf("runtime and store are required")
	}
	logger := config.Logger

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cat := catalog.Default()
	if config.CatalogPath != "" {
		loaded, err := catalog.Load(config.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load workspace catalog: %w", err)
		}
		cat = loaded
	}
	logger.Info("Loaded workspace catalog", zap.Int("types", len(cat.List())))

	e := &Engine{
		config:  config,
		logger:  logger,
		rt:      rt,
		store:   st,
		catalog: cat,
	}

	var capacity workspace.CapacityChecker
	var disk volume.DiskChecker
	if config.HostMonitor {
		e.host = host.NewMonitor(host.Config{
			Interval: config.HostInterval,
			DiskPath: config.DataDir,
		}, logger.Named("host"))
		capacity, disk = e.host, e.host
	}

	e.volumes = volume.NewManager(rt, volume.Config{
		HelperImage:   config.HelperImage,
		HelperTimeout: config.HelperTimeout,
	}, logger)

	backups, err := volume.NewBackupService(e.volumes, st, volume.BackupConfig{
		Dir:          config.BackupDir,
		MinFreeBytes: config.BackupMinFreeBytes,
	}, disk, logger)
	if err != nil {
		return nil, err
	}
	e.backups = backups

	e.workspaces = workspace.NewManager(rt, st, e.volumes, cat, capacity, workspace.Config{
		StopGrace:       config.StopGrace,
		ContainerPrefix: config.ContainerPrefix,
	}, logger)
	e.volumes.SetReleaser(e.workspaces)

	e.health = health.NewMonitor(rt, st, e.workspaces, health.Config{
		Tick:        config.HealthTick,
		Parallelism: config.HealthParallelism,
	}, logger)

	e.cleanup = cleanup.NewScheduler(rt, st, e.workspaces, config.Cleanup, logger)

	return e, nil
}

// Start launches the background loops: host sampling, health polling and
// timed cleanup
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if err := e.Ready(ctx); err != nil {
		return fmt.Errorf("container runtime is not reachable: %w", err)
	}

	if e.host != nil {
		if err := e.host.Start(); err != nil {
			return fmt.Errorf("failed to start host monitor: %w", err)
		}
	}
	e.health.Start()
	if err := e.cleanup.Start(ctx); err != nil {
		e.health.Stop()
		if e.host != nil {
			e.host.Stop()
		}
		return fmt.Errorf("failed to start cleanup scheduler: %w", err)
	}

	e.startedAt = time.Now()
	e.running = true
	e.refreshStatusGauge(ctx)
	e.logger.Info("Engine started", zap.String("runtime", e.rt.Name()))
	return nil
}

// Stop halts the background loops and waits for them. In-flight
// requests are not interrupted.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	_ = e.cleanup.Stop()
	e.health.Stop()
	if e.host != nil {
		e.host.Stop()
	}
	e.running = false
	e.logger.Info("Engine stopped")
}

// Ready reports whether the container runtime answers
func (e *Engine) Ready(ctx context.Context) error {
	err := e.rt.Ping(ctx)
	up := 0.0
	if err == nil {
		up = 1
	}
	observability.RuntimeUp.WithLabelValues(e.rt.Name()).Set(up)
	if err == nil && !e.startedAt.IsZero() {
		observability.UptimeSeconds.WithLabelValues("engine").Set(time.Since(e.startedAt).Seconds())
	}
	return err
}

// HostSnapshot returns the latest host capacity sample, if sampling is on
func (e *Engine) HostSnapshot() (host.Snapshot, bool) {
	if e.host == nil {
		return host.Snapshot{}, false
	}
	return e.host.Snapshot(), true
}

// begin opens a span for op and returns the function that closes it,
// records the outcome metrics and logs failures.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := observability.StartSpan(ctx, tracerName, op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error) {
		outcome := errdefs.Classify(err)
		observability.OperationsTotal.WithLabelValues(op, outcome.String()).Inc()
		observability.OperationDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		observability.EndSpan(span, err)

		if err == nil {
			return
		}
		logger := observability.ContextLogger(ctx, e.logger).With(
			zap.String("operation", op),
			zap.String("outcome", outcome.String()),
			zap.String("kind", errdefs.KindOf(err).String()),
			zap.Error(err),
		)
		switch {
		case errdefs.IsInvariantViolation(err):
			logger.Error("Operation aborted on inconsistent state", zap.Stack("stack"))
		case outcome == errdefs.FailedRecoverable:
			logger.Debug("Operation refused")
		default:
			logger.Warn("Operation failed")
		}
	}
}

// refreshStatusGauge recounts workspaces per status
func (e *Engine) refreshStatusGauge(ctx context.Context) {
	list, err := e.store.ListWorkspaces(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Debug("Failed to count workspaces", zap.Error(err))
		return
	}
	counts := make(map[api.Status]int, len(api.AllStatuses))
	for _, ws := range list {
		counts[ws.Status]++
	}
	for _, s := range api.AllStatuses {
		observability.WorkspacesByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func workspaceAttr(id string) attribute.KeyValue {
	return attribute.String("wsengine.workspace_id", id)
}

func projectAttr(id string) attribute.KeyValue {
	return attribute.String("wsengine.project_id", id)
}
