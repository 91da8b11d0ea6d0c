package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/observability"
	"github.com/agentdb9/wsengine/pkg/runtime"
)

// Client talks to the workspaced REST API. Failed calls come back as
// *errdefs.Error carrying the kind reported by the daemon.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the daemon at server, e.g. http://127.0.0.1:8420.
func New(server string, opts ...Option) (*Client, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", server, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q: missing host", server)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{base: u, http: &http.Client{Timeout: 5 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Server returns the base address requests are sent to
func (c *Client) Server() string { return c.base.String() }

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type healthz struct {
	Status string `json:"status"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id := observability.GetRequestID(ctx); id != "" {
		req.Header.Set(observability.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errdefs.FromContext(method+" "+path, "", ctxErr)
		}
		return errdefs.RuntimeUnavailable(method+" "+path, c.base.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method+" "+path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return errdefs.New(kindForStatus(resp.StatusCode), op, "", errors.New(msg))
	}
	kind := errdefs.ParseKind(eb.Kind)
	if kind == errdefs.KindUnknown {
		kind = kindForStatus(resp.StatusCode)
	}
	return errdefs.New(kind, op, "", errors.New(eb.Error))
}

func kindForStatus(status int) errdefs.Kind {
	switch status {
	case http.StatusNotFound:
		return errdefs.KindNotFound
	case http.StatusConflict:
		return errdefs.KindConflict
	case http.StatusBadRequest:
		return errdefs.KindInvalid
	case http.StatusServiceUnavailable:
		return errdefs.KindRuntimeUnavailable
	case http.StatusGatewayTimeout:
		return errdefs.KindOperationTimeout
	default:
		return errdefs.KindUnknown
	}
}

func wsPath(id string, suffix ...string) string {
	return "/api/v1/workspaces/" + url.PathEscape(id) + strings.Join(suffix, "")
}

func projectPath(id string, suffix ...string) string {
	return "/api/v1/projects/" + url.PathEscape(id) + strings.Join(suffix, "")
}

// Healthz checks daemon liveness. A degraded daemon answers 503 and is
// reported as RuntimeUnavailable.
func (c *Client) Healthz(ctx context.Context) (string, error) {
	var h healthz
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &h); err != nil {
		return "", err
	}
	return h.Status, nil
}

func (c *Client) ListTypes(ctx context.Context) ([]api.WorkspaceType, error) {
	var out []api.WorkspaceType
	return out, c.do(ctx, http.MethodGet, "/api/v1/types", nil, nil, &out)
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]*api.Workspace, error) {
	var out []*api.Workspace
	return out, c.do(ctx, http.MethodGet, "/api/v1/workspaces", nil, nil, &out)
}

func (c *Client) CreateWorkspace(ctx context.Context, req api.CreateWorkspaceRequest) (*api.Workspace, error) {
	var out api.Workspace
	if err := c.do(ctx, http.MethodPost, "/api/v1/workspaces", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WorkspaceStatus(ctx context.Context, id string) (*api.WorkspaceStatus, error) {
	var out api.WorkspaceStatus
	if err := c.do(ctx, http.MethodGet, wsPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteWorkspace removes the container. With purge the record and an
// unreferenced project volume are removed too.
func (c *Client) DeleteWorkspace(ctx context.Context, id string, purge bool) (*api.Workspace, error) {
	var q url.Values
	if purge {
		q = url.Values{"purge": {"true"}}
	}
	var out api.Workspace
	if err := c.do(ctx, http.MethodDelete, wsPath(id), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) workspaceAction(ctx context.Context, id, action string, in any) (*api.Workspace, error) {
	var out api.Workspace
	if err := c.do(ctx, http.MethodPost, wsPath(id, "/", action), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartWorkspace(ctx context.Context, id string) (*api.Workspace, error) {
	return c.workspaceAction(ctx, id, "start", nil)
}

func (c *Client) StopWorkspace(ctx context.Context, id string) (*api.Workspace, error) {
	return c.workspaceAction(ctx, id, "stop", nil)
}

func (c *Client) RestartWorkspace(ctx context.Context, id string) (*api.Workspace, error) {
	return c.workspaceAction(ctx, id, "restart", nil)
}

func (c *Client) TouchWorkspace(ctx context.Context, id string) (*api.Workspace, error) {
	return c.workspaceAction(ctx, id, "touch", nil)
}

func (c *Client) AssignProject(ctx context.Context, id, projectID string) (*api.Workspace, error) {
	return c.workspaceAction(ctx, id, "assign", map[string]string{"projectId": projectID})
}

func (c *Client) SwitchProject(ctx context.Context, id, projectID string) (*api.Workspace, error) {
	return c.workspaceAction(ctx, id, "switch", map[string]string{"projectId": projectID})
}

func (c *Client) WorkspaceHealth(ctx context.Context, id string) (api.HealthState, error) {
	var out api.HealthState
	return out, c.do(ctx, http.MethodGet, wsPath(id, "/health"), nil, nil, &out)
}

func (c *Client) WorkspaceStats(ctx context.Context, id string) (*api.ResourceUsage, error) {
	var out api.ResourceUsage
	if err := c.do(ctx, http.MethodGet, wsPath(id, "/stats"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkspaceLogs returns the last tail lines. tail <= 0 uses the daemon default.
func (c *Client) WorkspaceLogs(ctx context.Context, id string, tail int) ([]runtime.LogEntry, error) {
	var q url.Values
	if tail > 0 {
		q = url.Values{"tail": {strconv.Itoa(tail)}}
	}
	var out []runtime.LogEntry
	return out, c.do(ctx, http.MethodGet, wsPath(id, "/logs"), q, nil, &out)
}

func (c *Client) CompatibleProjects(ctx context.Context, id string) ([]*api.Project, error) {
	var out []*api.Project
	return out, c.do(ctx, http.MethodGet, wsPath(id, "/compatible-projects"), nil, nil, &out)
}

func (c *Client) ListProjects(ctx context.Context) ([]*api.Project, error) {
	var out []*api.Project
	return out, c.do(ctx, http.MethodGet, "/api/v1/projects", nil, nil, &out)
}

func (c *Client) CreateProject(ctx context.Context, req api.CreateProjectRequest) (*api.Project, error) {
	var out api.Project
	if err := c.do(ctx, http.MethodPost, "/api/v1/projects", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, projectPath(id), nil, nil, nil)
}

func (c *Client) CreateVolume(ctx context.Context, projectID string) (*runtime.Volume, error) {
	var out runtime.Volume
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "/volume"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteVolume(ctx context.Context, projectID string, force bool) error {
	var q url.Values
	if force {
		q = url.Values{"force": {"true"}}
	}
	return c.do(ctx, http.MethodDelete, projectPath(projectID, "/volume"), q, nil, nil)
}

func (c *Client) VolumeSize(ctx context.Context, projectID string) (api.VolumeSize, error) {
	var out api.VolumeSize
	return out, c.do(ctx, http.MethodGet, projectPath(projectID, "/volume/size"), nil, nil, &out)
}

func (c *Client) Backup(ctx context.Context, projectID string) (*api.BackupRecord, error) {
	var out api.BackupRecord
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "/backups"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBackups(ctx context.Context, projectID string) ([]api.BackupRecord, error) {
	var out []api.BackupRecord
	return out, c.do(ctx, http.MethodGet, projectPath(projectID, "/backups"), nil, nil, &out)
}

func (c *Client) Restore(ctx context.Context, projectID, backupPath string, force bool) error {
	body := struct {
		BackupPath string `json:"backupPath"`
		Force      bool   `json:"force"`
	}{backupPath, force}
	return c.do(ctx, http.MethodPost, projectPath(projectID, "/restore"), nil, body, nil)
}

func (c *Client) Cleanup(ctx context.Context) (api.CleanupSummary, error) {
	var out api.CleanupSummary
	return out, c.do(ctx, http.MethodPost, "/api/v1/cleanup", nil, nil, &out)
}
