package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentdb9/wsengine/cmd/workspacectl/config"
	"github.com/agentdb9/wsengine/pkg/api"
)

// NewProjectCommand creates the project command
func NewProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"proj", "projects"},
		Short:   "Manage projects and their volumes",
		Long:    "Register projects, manage the persistent volume behind each one, and back it up or restore it",
	}

	cmd.AddCommand(newProjectListCommand())
	cmd.AddCommand(newProjectCreateCommand())
	cmd.AddCommand(newProjectDeleteCommand())
	cmd.AddCommand(newVolumeCommand())
	cmd.AddCommand(newBackupCommand())
	cmd.AddCommand(newBackupListCommand())
	cmd.AddCommand(newRestoreCommand())

	return cmd
}

func newProjectListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects",
		Args:    cobra.NoArgs,
		RunE: run(func(s *session, _ []string) error {
			list, err := s.client.ListProjects(s.ctx)
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}
			return s.printProjects(list)
		}),
	}
}

func newProjectCreateCommand() *cobra.Command {
	var req api.CreateProjectRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a project",
		Long:  "Register a project. Its volume is created when a workspace first mounts it or by 'project volume create'.",
		Args:  cobra.NoArgs,
		RunE: run(func(s *session, _ []string) error {
			p, err := s.client.CreateProject(s.ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create project: %w", err)
			}
			return s.printProjects([]*api.Project{p})
		}),
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Project ID (generated when empty)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVarP(&req.Language, "language", "l", "", "Primary language, used to match workspace types")
	cmd.Flags().StringVar(&req.LocalPath, "path", "", "Host path the project was imported from")

	return cmd
}

func newProjectDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a project and its unused volume",
		Args:    cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			if err := s.client.DeleteProject(s.ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete project %s: %w", args[0], err)
			}
			s.out.Printf("project %s deleted\n", args[0])
			return nil
		}),
	}
}

func newVolumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "volume",
		Aliases: []string{"vol"},
		Short:   "Manage a project's volume",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <project-id>",
		Short: "Create the project volume if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			v, err := s.client.CreateVolume(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to create volume for %s: %w", args[0], err)
			}
			return s.out.Render(v, []string{"NAME", "DRIVER", "MOUNTPOINT"}, func() [][]string {
				return [][]string{{v.Name, orDash(v.Driver), orDash(v.Mountpoint)}}
			})
		}),
	})

	var force bool
	del := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Remove the project volume",
		Long:  "Remove the project volume. Without --force a volume mounted by any container is left alone.",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			if err := s.client.DeleteVolume(s.ctx, args[0], force); err != nil {
				return fmt.Errorf("failed to delete volume for %s: %w", args[0], err)
			}
			s.out.Printf("volume for project %s deleted\n", args[0])
			return nil
		}),
	}
	del.Flags().BoolVar(&force, "force", false, "Remove even if a container still mounts it")
	cmd.AddCommand(del)

	cmd.AddCommand(&cobra.Command{
		Use:   "size <project-id>",
		Short: "Report the disk usage of the project volume",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			size, err := s.client.VolumeSize(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to size volume for %s: %w", args[0], err)
			}
			return s.out.Render(size, []string{"BYTES", "SIZE"}, func() [][]string {
				return [][]string{{fmt.Sprintf("%d", size.Bytes), formatBytes(size.Bytes)}}
			})
		}),
	})

	return cmd
}

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <project-id>",
		Short: "Archive the project volume",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			rec, err := s.client.Backup(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to back up %s: %w", args[0], err)
			}
			return s.printBackups([]api.BackupRecord{*rec})
		}),
	}
}

func newBackupListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backups <project-id>",
		Short: "List backups of a project, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(s *session, args []string) error {
			list, err := s.client.ListBackups(s.ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to list backups for %s: %w", args[0], err)
			}
			return s.printBackups(list)
		}),
	}
}

func newRestoreCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <project-id> <backup-path>",
		Short: "Replace the project volume contents with a backup",
		Long: `Replace the project volume contents with a backup archive. The restore is
refused while a workspace using the project is running unless --force is given.`,
		Args: cobra.ExactArgs(2),
		RunE: run(func(s *session, args []string) error {
			if err := s.client.Restore(s.ctx, args[0], args[1], force); err != nil {
				return fmt.Errorf("failed to restore %s: %w", args[0], err)
			}
			s.out.Printf("project %s restored from %s\n", args[0], args[1])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Restore even while a workspace is running")
	return cmd
}

func (s *session) printProjects(list []*api.Project) error {
	if s.out.GetFormat() != config.OutputTable {
		return s.out.Print(list)
	}
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		rows = append(rows, []string{p.ID, orDash(p.Name), orDash(p.Language), p.VolumeName, formatAge(p.CreatedAt)})
	}
	s.out.PrintTable([]string{"ID", "NAME", "LANGUAGE", "VOLUME", "AGE"}, rows)
	return nil
}

func (s *session) printBackups(list []api.BackupRecord) error {
	return s.out.Render(list, []string{"PATH", "SIZE", "AGE"}, func() [][]string {
		rows := make([][]string, 0, len(list))
		for _, b := range list {
			rows = append(rows, []string{b.BackupPath, formatBytes(b.SizeBytes), formatAge(b.CreatedAt)})
		}
		return rows
	})
}
