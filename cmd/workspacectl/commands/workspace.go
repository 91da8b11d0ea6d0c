package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentdb9/wsengine/cmd/workspacectl/config"
	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/runtime"
)

// NewWorkspaceCommand creates the workspace command
func NewWorkspaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws", "workspaces"},
		Short:   "Manage workspaces",
		Long:    "Create, start, stop, inspect and delete development workspace containers",
	}

	cmd.AddCommand(newWorkspaceListCommand())
	cmd.AddCommand(newWorkspaceCreateCommand())
	cmd.AddCommand(newWorkspaceStatusCommand())
	cmd.AddCommand(newWorkspaceActionCommand("start", "Start a workspace container", (*session).start))
	cmd.AddCommand(newWorkspaceActionCommand("stop", "Stop a running workspace", (*session).stop))
	cmd.AddCommand(newWorkspaceActionCommand("restart", "Stop then start a workspace", (*session).restart))
	cmd.AddCommand(newWorkspaceActionCommand("touch", "Mark a workspace as recently used", (*session).touch))
	cmd.AddCommand(newWorkspaceDeleteCommand())
	cmd.AddCommand(newWorkspaceLogsCommand())
	cmd.AddCommand(newWorkspaceStatsCommand())
	cmd.AddCommand(newWorkspaceHealthCommand())
	cmd.AddCommand(newWorkspaceProjectCommand("assign", "Bind a project to a stopped workspace", (*session).assign))
	cmd.AddCommand(newWorkspaceProjectCommand("switch", "Move a workspace onto another project's volume", (*session).switchProject))
	cmd.AddCommand(newWorkspaceCompatibleCommand())

	return cmd
}

func newWorkspaceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workspaces",
		Args:    cobra.NoArgs,
		RunE: run(func(s *session, _ []string) error {
			list, err := s.client.ListWorkspaces(s.ctx)
			if err != nil {
				return fmt.Errorf("failed to list workspaces: %w", err)
			}
			return s.out.Render(list, workspaceHeaders, func() [][]string {
				rows := make([][]string, 0, len(list))
				for _, ws := range list {
					rows = append(rows, workspaceRow(ws))
				}
				return rows
			})
		}),
	}
}

func newWorkspaceCreateCommand() *cobra.Command {
	var (
		req    api.CreateWorkspaceRequest
		cpu    float64
		memory int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace record",
		Long:  "Create a workspace of the given type. The container is created on first start.",
		Args:  cobra.NoArgs,
		RunE: run(func(s *session, _ []string) error {
			if cpu > 0 || memory > 0 {
				req.ResourceLimits = &api.ResourceLimits{CPU: cpu, MemoryBytes: memory}
			}
			ws, err := s.client.CreateWorkspace(s.ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create workspace: %w", err)
			}
			return s.printWorkspace(ws)
		}),
	}

	cmd.Flags().StringVarP(&req.Type, "type", "t", "", "Workspace type (see 'workspacectl types')")
	cmd.Flags().StringVar(&req.ID, "id", "", "Workspace ID (generated when empty)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVarP(&req.ProjectID, "project", "p", "", "Project to mount")
	cmd.Flags().Float64Var(&cpu, "cpu", 0, "CPU limit in cores")
	cmd.Flags().Int64Var(&memory, "memory", 0, "Memory limit in bytes")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newWorkspaceStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status <id>",
		Aliases: []string{"get"},
		Short:   "Show a workspace reconciled against its container",
		Args:    cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			st, err := s.client.WorkspaceStatus(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get workspace %s: %w", args[0], err)
			}
			return s.out.Render(st, append(workspaceHeaders, "CONTAINER", "RECONCILED"), func() [][]string {
				running := "stopped"
				if st.ContainerRunning {
					running = "running"
				}
				return [][]string{append(workspaceRow(st.Workspace), running, strconv.FormatBool(st.Reconciled))}
			})
		}),
	}
}

func newWorkspaceActionCommand(use, short string, fn func(*session, string) (*api.Workspace, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			ws, err := fn(s, args[0])
			if err != nil {
				return fmt.Errorf("failed to %s workspace %s: %w", use, args[0], err)
			}
			return s.printWorkspace(ws)
		}),
	}
}

func (s *session) start(id string) (*api.Workspace, error)   { return s.client.StartWorkspace(s.ctx, id) }
func (s *session) stop(id string) (*api.Workspace, error)    { return s.client.StopWorkspace(s.ctx, id) }
func (s *session) restart(id string) (*api.Workspace, error) { return s.client.RestartWorkspace(s.ctx, id) }
func (s *session) touch(id string) (*api.Workspace, error)   { return s.client.TouchWorkspace(s.ctx, id) }

func (s *session) assign(id, projectID string) (*api.Workspace, error) {
	return s.client.AssignProject(s.ctx, id, projectID)
}

func (s *session) switchProject(id, projectID string) (*api.Workspace, error) {
	return s.client.SwitchProject(s.ctx, id, projectID)
}

func newWorkspaceDeleteCommand() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a workspace container",
		Long: `Remove a workspace's container. The record stays in the deleting state
until --purge removes it along with the project volume if nothing else uses it.`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			ws, err := s.client.DeleteWorkspace(s.ctx, args[0], purge)
			if err != nil {
				return fmt.Errorf("failed to delete workspace %s: %w", args[0], err)
			}
			if s.out.GetFormat() == config.OutputTable {
				if purge {
					s.out.Printf("workspace %s purged\n", args[0])
				} else {
					s.out.Printf("workspace %s deleted\n", args[0])
				}
				return nil
			}
			return s.out.Print(ws)
		}),
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "Also remove the record and any unreferenced volume")
	return cmd
}

func newWorkspaceLogsCommand() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Print recent container output",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			lines, err := s.client.WorkspaceLogs(s.ctx, args[0], tail)
			if err != nil {
				return fmt.Errorf("failed to fetch logs for %s: %w", args[0], err)
			}
			if s.out.GetFormat() == config.OutputTable {
				printLogs(s, lines)
				return nil
			}
			return s.out.Print(lines)
		}),
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "Number of lines from the end (daemon default when 0)")
	return cmd
}

func printLogs(s *session, lines []runtime.LogEntry) {
	for _, l := range lines {
		if l.Stream == "stderr" {
			s.out.Printf("[stderr] %s\n", l.Line)
			continue
		}
		s.out.Printf("%s\n", l.Line)
	}
}

func newWorkspaceStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <id>",
		Short: "Show CPU and memory usage of a running workspace",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			u, err := s.client.WorkspaceStats(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats for %s: %w", args[0], err)
			}
			return s.out.Render(u, []string{"CPU %", "MEMORY", "LIMIT"}, func() [][]string {
				limit := "-"
				if u.MemoryLimitBytes > 0 {
					limit = formatBytes(u.MemoryLimitBytes)
				}
				return [][]string{{fmt.Sprintf("%.2f", u.CPUPercent), formatBytes(u.MemoryBytes), limit}}
			})
		}),
	}
}

func newWorkspaceHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health <id>",
		Short: "Probe a workspace now and show the result",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			h, err := s.client.WorkspaceHealth(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to check health of %s: %w", args[0], err)
			}
			return s.out.Render(h, []string{"HEALTHY", "FAILING", "CHECKED", "MESSAGE"}, func() [][]string {
				return [][]string{{
					strconv.FormatBool(h.Healthy),
					strconv.Itoa(h.FailingStreak),
					formatAge(h.LastCheckedAt),
					orDash(h.Message),
				}}
			})
		}),
	}
}

func newWorkspaceProjectCommand(use, short string, fn func(*session, string, string) (*api.Workspace, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id> <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: run(func(s *session, args []string) error {
			ws, err := fn(s, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to %s %s to project %s: %w", use, args[0], args[1], err)
			}
			return s.printWorkspace(ws)
		}),
	}
}

func newWorkspaceCompatibleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compatible <id>",
		Short: "List projects whose language the workspace type supports",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			list, err := s.client.CompatibleProjects(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to list compatible projects: %w", err)
			}
			return s.printProjects(list)
		}),
	}
}

var workspaceHeaders = []string{"ID", "TYPE", "STATUS", "PROJECT", "HEALTHY", "ACTIVE"}

func workspaceRow(ws *api.Workspace) []string {
	healthy := "-"
	if ws.HealthCheck.Enabled && !ws.LastHealth.LastCheckedAt.IsZero() {
		healthy = strconv.FormatBool(ws.LastHealth.Healthy)
	}
	return []string{
		ws.ID,
		ws.Type,
		string(ws.Status),
		orDash(ws.CurrentProjectID),
		healthy,
		formatAge(ws.LastActiveAt),
	}
}

func (s *session) printWorkspace(ws *api.Workspace) error {
	return s.out.Render(ws, workspaceHeaders, func() [][]string {
		return [][]string{workspaceRow(ws)}
	})
}
