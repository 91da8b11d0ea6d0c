// Package cleanup reconciles runtime resources against workspace and
// project records. It removes what nothing references, stops workspaces
// nobody has used for a while and counts workspaces stuck in error.
// Resources without the managed label are never touched.
package cleanup

import (
	"context"
	"fmt"
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

// Records is the accessor contract cleanup reads through
type Records interface {
	ListWorkspaces(ctx context.Context) ([]*api.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (*api.Workspace, error)
	GetProject(ctx context.Context, id string) (*api.Project, error)
}

var _ Records = store.Store(nil)

// Lifecycle stops workspaces and exposes their lock table
type Lifecycle interface {
	Stop(ctx context.Context, id string) (*api.Workspace, error)
	TryLock(id string) (func(), bool)
}

// Config configures the cleanup scheduler
type Config struct {
	// Interval between timed sweeps
	Interval time.Duration

	// InactiveThreshold is how long a running workspace may go without
	// activity before it is stopped
	InactiveThreshold time.Duration

	// ErrorGrace is how long a workspace may sit in error before it is counted
	ErrorGrace time.Duration

	// Parallelism bounds concurrent removals
	Parallelism int
}

// DefaultConfig returns the standard cleanup settings
func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		InactiveThreshold: 2 * time.Hour,
		ErrorGrace:        30 * time.Minute,
		Parallelism:       4,
	}
}

// Scheduler runs cleanup sweeps on a timer or on demand
type Scheduler struct {
	rt        runtime.Runtime
	records   Records
	lifecycle Lifecycle
	config    Config
	logger    *zap.Logger

	// one sweep at a time
	sweepMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewScheduler creates a cleanup scheduler
func NewScheduler(rt runtime.Runtime, records Records, lifecycle Lifecycle, config Config, logger *zap.Logger) *Scheduler {
	d := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.InactiveThreshold <= 0 {
		config.InactiveThreshold = d.InactiveThreshold
	}
	if config.ErrorGrace <= 0 {
		config.ErrorGrace = d.ErrorGrace
	}
	if config.Parallelism <= 0 {
		config.Parallelism = d.Parallelism
	}
	return &Scheduler{
		rt:        rt,
		records:   records,
		lifecycle: lifecycle,
		config:    config,
		logger:    logger.Named("cleanup"),
		now:       time.Now,
	}
}

// Start starts the timed sweep loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting cleanup scheduler",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("inactive_threshold", s.config.InactiveThreshold),
	)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop stops the loop and waits for a running sweep to finish
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping cleanup scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Cleanup scheduler stopped")
	return nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.sweep(s.ctx, "timer"); err != nil && s.ctx.Err() == nil {
				s.logger.Error("Cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one reconciliation pass now
func (s *Scheduler) Sweep(ctx context.Context) (api.CleanupSummary, error) {
	return s.sweep(ctx, "manual")
}

// plan is what one pass decided to act on
type plan struct {
	orphanContainers []*runtime.Container
	orphanVolumes    []*runtime.Volume
	inactive         []*api.Workspace
	errored          int
}

func (s *Scheduler) sweep(ctx context.Context, trigger string) (api.CleanupSummary, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	observability.CleanupRunsTotal.WithLabelValues(trigger).Inc()
	start := s.now()

	p, err := s.classify(ctx)
	if err != nil {
		return api.CleanupSummary{}, err
	}

	var summary api.CleanupSummary
	summary.ErrorWorkspaces = p.errored
	var mu sync.Mutex
	record := func(counter *int, kind string, acted bool, err error, resource string) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s %s: %v", kind, resource, err))
			observability.CleanupFailuresTotal.Inc()
			s.logger.Warn("Cleanup action failed",
				zap.String("kind", kind),
				zap.String("resource", resource),
				zap.Error(err),
			)
			return
		}
		if acted {
			*counter++
			observability.CleanupActionsTotal.WithLabelValues(kind).Inc()
		}
	}

	// containers first so the volumes they held become removable
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for _, c := range p.orphanContainers {
		c := c
		g.Go(func() error {
			removed, err := s.removeContainer(gctx, c)
			record(&summary.OrphanedContainers, "orphaned_container", removed, err, c.ID)
			return nil
		})
	}
	for _, ws := range p.inactive {
		ws := ws
		g.Go(func() error {
			stopped, err := s.stopInactive(gctx, ws)
			record(&summary.InactiveContainers, "inactive_container", stopped, err, ws.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for _, v := range p.orphanVolumes {
		v := v
		g.Go(func() error {
			removed, err := s.removeVolume(gctx, v)
			record(&summary.OrphanedVolumes, "orphaned_volume", removed, err, v.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if summary.ErrorWorkspaces > 0 {
		observability.CleanupActionsTotal.WithLabelValues("error_workspace").Add(float64(summary.ErrorWorkspaces))
	}

	s.logger.Info("Cleanup sweep finished",
		zap.String("trigger", trigger),
		zap.Int("inactive_containers", summary.InactiveContainers),
		zap.Int("orphaned_containers", summary.OrphanedContainers),
		zap.Int("orphaned_volumes", summary.OrphanedVolumes),
		zap.Int("error_workspaces", summary.ErrorWorkspaces),
		zap.Int("failures", len(summary.Failures)),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return summary, nil
}

// classify lists managed resources and cross-references the records. It
// takes no locks; every action re-checks before it acts.
func (s *Scheduler) classify(ctx context.Context) (*plan, error) {
	workspaces, err := s.records.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	containers, err := s.rt.ListContainers(ctx, runtime.ListFilter{Labels: runtime.ManagedSelector(), All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	volumes, err := s.rt.ListVolumes(ctx, runtime.ManagedSelector())
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	byID := make(map[string]*api.Workspace, len(workspaces))
	for _, ws := range workspaces {
		byID[ws.ID] = ws
	}

	now := s.now()
	p := &plan{}
	for _, c := range containers {
		if !runtime.IsManaged(c.Labels) {
			continue
		}
		ws, ok := byID[c.Labels[runtime.LabelWorkspaceID]]
		if !ok || ws.ContainerID != c.ID {
			p.orphanContainers = append(p.orphanContainers, c)
		}
	}
	for _, v := range volumes {
		if !runtime.IsManaged(v.Labels) {
			continue
		}
		projectID := v.Labels[runtime.LabelProjectID]
		if projectID == "" {
			continue
		}
		if _, err := s.records.GetProject(ctx, projectID); errdefs.IsNotFound(err) {
			p.orphanVolumes = append(p.orphanVolumes, v)
		} else if err != nil {
			return nil, fmt.Errorf("failed to read project %s: %w", projectID, err)
		}
	}
	for _, ws := range workspaces {
		switch {
		case ws.Status == api.StatusRunning && now.Sub(ws.LastActiveAt) > s.config.InactiveThreshold:
			p.inactive = append(p.inactive, ws)
		case ws.Status == api.StatusError && now.Sub(ws.StatusChangedAt) > s.config.ErrorGrace:
			p.errored++
		}
	}
	return p, nil
}

// removeContainer deletes an orphaned container after confirming, under
// the workspace lock when there is one, that it is still orphaned
func (s *Scheduler) removeContainer(ctx context.Context, c *runtime.Container) (bool, error) {
	wsID := c.Labels[runtime.LabelWorkspaceID]
	if wsID != "" {
		unlock, ok := s.lifecycle.TryLock(wsID)
		if !ok {
			return false, nil
		}
		defer unlock()
	}

	cur, err := s.rt.InspectContainer(ctx, c.ID)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !runtime.IsManaged(cur.Labels) || cur.Labels[runtime.LabelWorkspaceID] != wsID {
		return false, nil
	}
	if wsID != "" {
		ws, err := s.records.GetWorkspace(ctx, wsID)
		switch {
		case err == nil && ws.ContainerID == c.ID:
			return false, nil
		case err != nil && !errdefs.IsNotFound(err):
			return false, err
		}
	}

	if err := s.rt.RemoveContainer(ctx, c.ID, true); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("Removed orphaned container",
		zap.String("container_id", c.ID),
		zap.String("workspace_id", wsID),
	)
	return true, nil
}

// removeVolume deletes an orphaned volume unless it is relabeled, its
// project reappeared, or any container still mounts it
func (s *Scheduler) removeVolume(ctx context.Context, v *runtime.Volume) (bool, error) {
	cur, err := s.rt.InspectVolume(ctx, v.Name)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	projectID := cur.Labels[runtime.LabelProjectID]
	if !runtime.IsManaged(cur.Labels) || projectID != v.Labels[runtime.LabelProjectID] {
		return false, nil
	}
	if _, err := s.records.GetProject(ctx, projectID); !errdefs.IsNotFound(err) {
		return false, err
	}

	users, err := s.rt.ListContainers(ctx, runtime.ListFilter{Volume: v.Name, All: true})
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		s.logger.Debug("Orphaned volume still mounted",
			zap.String("volume", v.Name),
			zap.Int("containers", len(users)),
		)
		return false, nil
	}

	if err := s.rt.RemoveVolume(ctx, v.Name, false); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("Removed orphaned volume",
		zap.String("volume", v.Name),
		zap.String("project_id", projectID),
	)
	return true, nil
}

// stopInactive stops a running workspace that has been idle too long
func (s *Scheduler) stopInactive(ctx context.Context, ws *api.Workspace) (bool, error) {
	cur, err := s.records.GetWorkspace(ctx, ws.ID)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.Status != api.StatusRunning || s.now().Sub(cur.LastActiveAt) <= s.config.InactiveThreshold {
		return false, nil
	}

	if _, err := s.lifecycle.Stop(ctx, ws.ID); err != nil {
		return false, err
	}
	s.logger.Info("Stopped inactive workspace",
		zap.String("workspace_id", ws.ID),
		zap.Time("last_active_at", cur.LastActiveAt),
	)
	return true, nil
}
