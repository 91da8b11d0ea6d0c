package commands

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/engine"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/server"
	"github.com/agentdb9/wsengine/pkg/store"
	"github.com/agentdb9/wsengine/test/testutil/mocks"
)

type cli struct {
	t      *testing.T
	server string
	config string
	rt     *mocks.FakeRuntime
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rt := mocks.NewFakeRuntime()
	eng, err := engine.New(&engine.Config{
		DataDir:   t.TempDir(),
		StopGrace: time.Second,
		Logger:    logger,
	}, rt, store.NewMemory())
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(server.Config{}, eng, logger).Handler())
	t.Cleanup(srv.Close)

	return &cli{
		t:      t,
		server: srv.URL,
		config: filepath.Join(t.TempDir(), "absent.yaml"),
		rt:     rt,
	}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{Use: "workspacectl", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("server", "", "")
	root.PersistentFlags().String("config", "", "")
	root.PersistentFlags().StringP("output", "o", "table", "")
	root.PersistentFlags().Duration("timeout", 10*time.Second, "")
	root.AddCommand(NewWorkspaceCommand(), NewProjectCommand(), NewTypesCommand(), NewCleanupCommand())
	return root
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var buf bytes.Buffer
	root := c.root()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--server", c.server, "--config", c.config}, args...))
	err := root.Execute()
	return buf.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func (c *cli) runJSON(v any, args ...string) {
	c.t.Helper()
	out := c.mustRun(append(args, "-o", "json")...)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func TestTypesCommand(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("types")
	assert.Contains(t, out, "python")
	assert.Contains(t, out, "vscode")

	var types []api.WorkspaceType
	c.runJSON(&types, "types")
	assert.NotEmpty(t, types)
}

func TestWorkspaceCommands(t *testing.T) {
	c := newCLI(t)

	c.mustRun("project", "create", "--id", "proj-a", "--language", "python")
	out := c.mustRun("workspace", "create", "--type", "python", "--id", "ws-1", "--project", "proj-a")
	assert.Contains(t, out, "ws-1")
	assert.Contains(t, out, "created")

	var ws api.Workspace
	c.runJSON(&ws, "ws", "start", "ws-1")
	assert.Equal(t, api.StatusRunning, ws.Status)

	var st api.WorkspaceStatus
	c.runJSON(&st, "ws", "status", "ws-1")
	assert.True(t, st.ContainerRunning)

	c.rt.AppendLog(ws.ContainerID, "booting", "ready")
	out = c.mustRun("ws", "logs", "ws-1", "--tail", "1")
	assert.Equal(t, "ready\n", out)

	out = c.mustRun("ws", "stats", "ws-1")
	assert.Contains(t, out, "MEMORY")

	var h api.HealthState
	c.runJSON(&h, "ws", "health", "ws-1")
	assert.True(t, h.Healthy)

	c.mustRun("ws", "touch", "ws-1")
	out = c.mustRun("ws", "compatible", "ws-1")
	assert.Contains(t, out, "proj-a")

	c.runJSON(&ws, "ws", "stop", "ws-1")
	assert.Equal(t, api.StatusStopped, ws.Status)

	var list []*api.Workspace
	c.runJSON(&list, "ws", "list")
	require.Len(t, list, 1)

	out = c.mustRun("ws", "delete", "ws-1", "--purge")
	assert.Contains(t, out, "purged")

	_, err := c.run("ws", "status", "ws-1")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err), "got %v", err)
}

func TestWorkspaceCreateRequiresType(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("ws", "create", "--id", "ws-1")
	assert.Error(t, err)
}

func TestProjectCommands(t *testing.T) {
	c := newCLI(t)

	var p []*api.Project
	c.runJSON(&p, "project", "create", "--id", "proj-b", "--name", "Demo")
	require.Len(t, p, 1)
	assert.Equal(t, "Demo", p[0].Name)

	out := c.mustRun("project", "volume", "create", "proj-b")
	assert.Contains(t, out, p[0].VolumeName)

	var size api.VolumeSize
	c.runJSON(&size, "project", "volume", "size", "proj-b")

	var backups []api.BackupRecord
	c.runJSON(&backups, "project", "backup", "proj-b")
	require.Len(t, backups, 1)

	c.runJSON(&backups, "project", "backups", "proj-b")
	require.Len(t, backups, 1)

	out = c.mustRun("project", "restore", "proj-b", backups[0].BackupPath, "--force")
	assert.Contains(t, out, "restored")

	c.mustRun("project", "volume", "delete", "proj-b")
	out = c.mustRun("project", "delete", "proj-b")
	assert.Contains(t, out, "deleted")

	_, err := c.run("project", "delete", "proj-b")
	assert.True(t, errdefs.IsNotFound(err), "got %v", err)
}

func TestCleanupCommand(t *testing.T) {
	c := newCLI(t)

	var sum api.CleanupSummary
	c.runJSON(&sum, "cleanup")
	assert.Empty(t, sum.Failures)

	out := c.mustRun("cleanup")
	assert.Contains(t, out, "INACTIVE")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.0KiB", formatBytes(1024))
	assert.Equal(t, "1.5MiB", formatBytes(3<<19))
	assert.Equal(t, "2.0GiB", formatBytes(2<<30))
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "-", formatAge(time.Time{}))
	assert.Equal(t, "5m", formatAge(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3d", formatAge(time.Now().Add(-72*time.Hour-time.Minute)))
}
