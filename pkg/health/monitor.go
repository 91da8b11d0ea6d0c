// Package health polls running workspaces for liveness and records a
// failing streak on each workspace record. It reports; it never stops or
// restarts anything.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/observability"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/store"
)

// LockTable lets the monitor skip workspaces with an operation in flight
type LockTable interface {
	TryLock(id string) (func(), bool)
}

// Config configures the health monitor
type Config struct {
	// Tick is how often due workspaces are looked for; each workspace is
	// probed on its own interval
	Tick time.Duration

	// Parallelism bounds concurrent probes
	Parallelism int
}

// Monitor polls running workspaces with health checks enabled
type Monitor struct {
	rt      runtime.Runtime
	records store.WorkspaceStore
	locks   LockTable
	prober  *Prober
	config  Config
	logger  *zap.Logger

	mu        sync.Mutex
	lastProbe map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

var errStale = errors.New("workspace changed while probing")

// NewMonitor creates a health monitor
func NewMonitor(rt runtime.Runtime, records store.WorkspaceStore, locks LockTable, config Config, logger *zap.Logger) *Monitor {
	if config.Tick <= 0 {
		config.Tick = 5 * time.Second
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		rt:        rt,
		records:   records,
		locks:     locks,
		prober:    NewProber(rt),
		config:    config,
		logger:    logger.Named("health"),
		lastProbe: make(map[string]time.Time),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Start begins polling in the background
func (m *Monitor) Start() {
	m.logger.Info("Starting health monitor", zap.Duration("tick", m.config.Tick))

	m.wg.Add(1)
	go m.loop()
}

// Stop stops polling and waits for in-flight probes
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("Health monitor stopped")
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() == nil {
				m.logger.Warn("Health sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce probes every workspace whose interval has elapsed
func (m *Monitor) RunOnce(ctx context.Context) error {
	workspaces, err := m.records.ListWorkspaces(ctx)
	if err != nil {
		return err
	}

	now := m.now()
	active := make(map[string]struct{}, len(workspaces))
	var due []*api.Workspace
	m.mu.Lock()
	for _, ws := range workspaces {
		if !monitored(ws) {
			continue
		}
		active[ws.ID] = struct{}{}
		if last, ok := m.lastProbe[ws.ID]; ok && now.Sub(last) < ws.HealthCheck.Interval() {
			continue
		}
		due = append(due, ws)
	}
	for id := range m.lastProbe {
		if _, ok := active[id]; !ok {
			delete(m.lastProbe, id)
			observability.HealthFailingStreak.DeleteLabelValues(id)
		}
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Parallelism)
	for _, ws := range due {
		ws := ws
		g.Go(func() error {
			unlock, ok := m.locks.TryLock(ws.ID)
			if !ok {
				observability.HealthProbesTotal.WithLabelValues(probeName(ws.HealthCheck), "skipped").Inc()
				m.logger.Debug("Workspace busy, skipping probe", zap.String("workspace_id", ws.ID))
				return nil
			}
			defer unlock()

			m.mu.Lock()
			m.lastProbe[ws.ID] = m.now()
			m.mu.Unlock()

			if _, err := m.check(gctx, ws); err != nil && !errors.Is(err, errStale) {
				m.logger.Warn("Health probe not recorded",
					zap.String("workspace_id", ws.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// CheckNow probes one workspace immediately. A workspace with an
// operation in flight returns its last recorded state.
func (m *Monitor) CheckNow(ctx context.Context, id string) (api.HealthState, error) {
	ws, err := m.records.GetWorkspace(ctx, id)
	if err != nil {
		return api.HealthState{}, err
	}
	if !monitored(ws) {
		return ws.LastHealth, nil
	}

	unlock, ok := m.locks.TryLock(id)
	if !ok {
		return ws.LastHealth, nil
	}
	defer unlock()

	m.mu.Lock()
	m.lastProbe[id] = m.now()
	m.mu.Unlock()

	state, err := m.check(ctx, ws)
	if errors.Is(err, errStale) {
		return ws.LastHealth, nil
	}
	return state, err
}

func monitored(ws *api.Workspace) bool {
	return ws.Status == api.StatusRunning && ws.HealthCheck.Enabled && ws.ContainerID != ""
}

// check probes ws and records the result
func (m *Monitor) check(ctx context.Context, ws *api.Workspace) (api.HealthState, error) {
	logger := m.logger.With(zap.String("workspace_id", ws.ID), zap.String("container_id", ws.ContainerID))

	var res Result
	c, err := m.rt.InspectContainer(ctx, ws.ContainerID)
	switch {
	case errdefs.IsNotFound(err):
		res = Result{Message: "container not found"}
	case err != nil:
		// the runtime being unreachable says nothing about the workspace
		return ws.LastHealth, err
	default:
		res = m.prober.Probe(ctx, c, ws.HealthCheck)
	}

	result := "success"
	if !res.Success {
		result = "failure"
	}
	observability.HealthProbesTotal.WithLabelValues(probeName(ws.HealthCheck), result).Inc()

	containerID := ws.ContainerID
	updated, err := m.records.UpdateWorkspace(ctx, ws.ID, func(w *api.Workspace) error {
		if w.Status != api.StatusRunning || w.ContainerID != containerID {
			return errStale
		}
		h := &w.LastHealth
		if res.Success {
			h.FailingStreak = 0
			h.Healthy = true
		} else {
			h.FailingStreak++
			if res.Final || h.FailingStreak >= w.HealthCheck.RetryLimit() {
				h.Healthy = false
			}
		}
		h.LastCheckedAt = m.now()
		h.Message = res.Message
		return nil
	})
	if err != nil {
		return ws.LastHealth, err
	}

	state := updated.LastHealth
	observability.HealthFailingStreak.WithLabelValues(ws.ID).Set(float64(state.FailingStreak))
	logger.Debug("Probe executed",
		zap.Bool("success", res.Success),
		zap.String("message", res.Message),
		zap.Int("failing_streak", state.FailingStreak),
	)
	if !state.Healthy && ws.LastHealth.Healthy {
		logger.Warn("Workspace unhealthy",
			zap.Int("failing_streak", state.FailingStreak),
			zap.String("message", res.Message),
		)
	}
	return state, nil
}

func probeName(hc api.HealthCheckConfig) string {
	if hc.Probe == "" {
		return string(api.ProbeNative)
	}
	return string(hc.Probe)
}
