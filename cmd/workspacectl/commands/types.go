package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewTypesCommand creates the types command
func NewTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "types",
		Aliases: []string{"type"},
		Short:   "List available workspace types",
		Args:    cobra.NoArgs,
		RunE: run(func(s *session, _ []string) error {
			types, err := s.client.ListTypes(s.ctx)
			if err != nil {
				return fmt.Errorf("failed to list workspace types: %w", err)
			}
			return s.out.Render(types, []string{"ID", "NAME", "IMAGE", "LANGUAGES", "PROBE"}, func() [][]string {
				rows := make([][]string, 0, len(types))
				for _, t := range types {
					probe := "off"
					if t.HealthCheck.Enabled {
						probe = orDash(string(t.HealthCheck.Probe))
					}
					rows = append(rows, []string{t.ID, t.Name, t.Image, orDash(strings.Join(t.Languages, ",")), probe})
				}
				return rows
			})
		}),
	}
}
