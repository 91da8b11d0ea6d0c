package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewCleanupCommand creates the cleanup command
func NewCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass now",
		Long: `Run one cleanup pass: stop inactive workspaces and remove orphaned containers
and volumes. Workspaces stuck in the error state are counted but left alone.`,
		Args: cobra.NoArgs,
		RunE: run(func(s *session, _ []string) error {
			sum, err := s.client.Cleanup(s.ctx)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			err = s.out.Render(sum, []string{"INACTIVE", "ORPHAN CONTAINERS", "ORPHAN VOLUMES", "STUCK IN ERROR", "FAILURES"}, func() [][]string {
				return [][]string{{
					fmt.Sprint(sum.InactiveContainers),
					fmt.Sprint(sum.OrphanedContainers),
					fmt.Sprint(sum.OrphanedVolumes),
					fmt.Sprint(sum.ErrorWorkspaces),
					fmt.Sprint(len(sum.Failures)),
				}}
			})
			if err != nil {
				return err
			}
			if len(sum.Failures) > 0 {
				return fmt.Errorf("cleanup finished with %d failures: %s", len(sum.Failures), strings.Join(sum.Failures, "; "))
			}
			return nil
		}),
	}
}
