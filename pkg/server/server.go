// Package server exposes the engine over a JSON REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/observability"
	"github.com/agentdb9/wsengine/pkg/runtime"
)

// Engine is the operation surface the API serves
type Engine interface {
	ListWorkspaceTypes() []api.WorkspaceType

	CreateWorkspace(ctx context.Context, req api.CreateWorkspaceRequest) (*api.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*api.Workspace, error)
	StartWorkspace(ctx context.Context, id string) (*api.Workspace, error)
	StopWorkspace(ctx context.Context, id string) (*api.Workspace, error)
	RestartWorkspace(ctx context.Context, id string) (*api.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string, purge bool) (*api.Workspace, error)
	WorkspaceStatus(ctx context.Context, id string) (*api.WorkspaceStatus, error)
	WorkspaceHealth(ctx context.Context, id string) (api.HealthState, error)
	WorkspaceLogs(ctx context.Context, id string, tail int) ([]runtime.LogEntry, error)
	WorkspaceStats(ctx context.Context, id string) (*api.ResourceUsage, error)
	TouchWorkspace(ctx context.Context, id string) (*api.Workspace, error)
	AssignProject(ctx context.Context, id, projectID string) (*api.Workspace, error)
	SwitchProject(ctx context.Context, id, projectID string) (*api.Workspace, error)
	CompatibleProjects(ctx context.Context, id string) ([]*api.Project, error)

	CreateProject(ctx context.Context, req api.CreateProjectRequest) (*api.Project, error)
	ListProjects(ctx context.Context) ([]*api.Project, error)
	DeleteProject(ctx context.Context, id string) error
	CreateVolume(ctx context.Context, projectID string) (*runtime.Volume, error)
	DeleteVolume(ctx context.Context, projectID string, force bool) error
	VolumeSize(ctx context.Context, projectID string) (api.VolumeSize, error)
	Backup(ctx context.Context, projectID string) (*api.BackupRecord, error)
	Restore(ctx context.Context, projectID, backupPath string, force bool) error
	ListBackups(ctx context.Context, projectID string) ([]api.BackupRecord, error)

	Cleanup(ctx context.Context) (api.CleanupSummary, error)

	Ready(ctx context.Context) error
}

// Config holds API server configuration
type Config struct {
	Listen string

	// DefaultLogTail is used when a logs request names no tail
	DefaultLogTail int
}

// Server is the HTTP API server
type Server struct {
	config    Config
	engine    Engine
	logger    *zap.Logger
	startedAt time.Time
	server    *http.Server
}

// New creates a new API server
func New(config Config, engine Engine, logger *zap.Logger) *Server {
	if config.Listen == "" {
		config.Listen = "127.0.0.1:8420"
	}
	if config.DefaultLogTail <= 0 {
		config.DefaultLogTail = 100
	}
	return &Server{
		config:    config,
		engine:    engine,
		logger:    logger.Named("api"),
		startedAt: time.Now(),
	}
}

// Handler returns the fully routed API handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(observability.CorrelationMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/types", s.handleListTypes)

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", s.handleListWorkspaces)
			r.Post("/", s.handleCreateWorkspace)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleWorkspaceStatus)
				r.Delete("/", s.handleDeleteWorkspace)
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Post("/restart", s.handleRestart)
				r.Post("/touch", s.handleTouch)
				r.Get("/health", s.handleHealth)
				r.Get("/stats", s.handleStats)
				r.Get("/logs", s.handleLogs)
				r.Get("/compatible-projects", s.handleCompatibleProjects)
				r.Post("/assign", s.handleAssign)
				r.Post("/switch", s.handleSwitch)
			})
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteProject)
				r.Post("/volume", s.handleCreateVolume)
				r.Delete("/volume", s.handleDeleteVolume)
				r.Get("/volume/size", s.handleVolumeSize)
				r.Post("/backups", s.handleBackup)
				r.Get("/backups", s.handleListBackups)
				r.Post("/restore", s.handleRestore)
			})
		})

		r.Post("/cleanup", s.handleCleanup)
	})

	return r
}

// Start serves until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// start and backup can run for minutes
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.logger.Info("API server starting", zap.String("listen", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}
