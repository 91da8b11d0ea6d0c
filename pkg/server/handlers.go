package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/observability"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
}

// HealthzResponse is returned by GET /healthz
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Runtime       string `json:"runtime,omitempty"`
}

// ProjectRef names a project in assign and switch requests
type ProjectRef struct {
	ProjectID string `json:"projectId"`
}

// RestoreRequest is the body of a restore
type RestoreRequest struct {
	BackupPath string `json:"backupPath"`
	Force      bool   `json:"force"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if err := s.engine.Ready(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Runtime = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.ListWorkspaceTypes())
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListWorkspaces(r.Context())
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req api.CreateWorkspaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	ws, err := s.engine.CreateWorkspace(r.Context(), req)
	s.respond(w, r, http.StatusCreated, ws, err)
}

func (s *Server) handleWorkspaceStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.WorkspaceStatus(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, st, err)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	purge, ok := s.boolQuery(w, r, "purge")
	if !ok {
		return
	}
	ws, err := s.engine.DeleteWorkspace(r.Context(), chi.URLParam(r, "id"), purge)
	s.respond(w, r, http.StatusOK, ws, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ws, err := s.engine.StartWorkspace(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, ws, err)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ws, err := s.engine.StopWorkspace(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, ws, err)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	ws, err := s.engine.RestartWorkspace(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, ws, err)
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	ws, err := s.engine.TouchWorkspace(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, ws, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.engine.WorkspaceHealth(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, h, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	u, err := s.engine.WorkspaceStats(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, u, err)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail := s.config.DefaultLogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, errdefs.Invalid("api.logs", "query:tail", "tail must be a non-negative integer"))
			return
		}
		tail = n
	}
	lines, err := s.engine.WorkspaceLogs(r.Context(), chi.URLParam(r, "id"), tail)
	s.respond(w, r, http.StatusOK, lines, err)
}

func (s *Server) handleCompatibleProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.CompatibleProjects(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var ref ProjectRef
	if !s.decode(w, r, &ref) {
		return
	}
	ws, err := s.engine.AssignProject(r.Context(), chi.URLParam(r, "id"), ref.ProjectID)
	s.respond(w, r, http.StatusOK, ws, err)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var ref ProjectRef
	if !s.decode(w, r, &ref) {
		return
	}
	ws, err := s.engine.SwitchProject(r.Context(), chi.URLParam(r, "id"), ref.ProjectID)
	s.respond(w, r, http.StatusOK, ws, err)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListProjects(r.Context())
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req api.CreateProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.engine.CreateProject(r.Context(), req)
	s.respond(w, r, http.StatusCreated, p, err)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.engine.DeleteProject(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleCreateVolume(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.CreateVolume(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusCreated, v, err)
}

func (s *Server) handleDeleteVolume(w http.ResponseWriter, r *http.Request) {
	force, ok := s.boolQuery(w, r, "force")
	if !ok {
		return
	}
	err := s.engine.DeleteVolume(r.Context(), chi.URLParam(r, "id"), force)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleVolumeSize(w http.ResponseWriter, r *http.Request) {
	size, err := s.engine.VolumeSize(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, size, err)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Backup(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusCreated, rec, err)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListBackups(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Restore(r.Context(), chi.URLParam(r, "id"), req.BackupPath, req.Force)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Cleanup(r.Context())
	s.respond(w, r, http.StatusOK, summary, err)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, errdefs.Invalid("api.decode", r.URL.Path, "invalid JSON body: %v", err))
		return false
	}
	return true
}

func (s *Server) boolQuery(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.writeError(w, r, errdefs.Invalid("api.query", "query:"+name, "%s must be a boolean", name))
		return false, false
	}
	return b, true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	respondJSON(w, status, data)
}

// StatusFor maps an engine error onto an HTTP status
func StatusFor(err error) int {
	switch errdefs.KindOf(err) {
	case errdefs.KindNotFound:
		return http.StatusNotFound
	case errdefs.KindConflict:
		return http.StatusConflict
	case errdefs.KindInvalid:
		return http.StatusBadRequest
	case errdefs.KindCanceled:
		// nginx's "client closed request"
		return 499
	case errdefs.KindRuntimeUnavailable:
		return http.StatusServiceUnavailable
	case errdefs.KindOperationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observability.ContextLogger(r.Context(), s.logger).Warn("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	respondJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Kind:    errdefs.KindOf(err).String(),
		Outcome: errdefs.Classify(err).String(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
