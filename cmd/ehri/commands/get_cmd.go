package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
)

var getCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Show items as bundles",
	Long: `Show items with their dependent sub-items and, one level deep, the
items they reference.

Examples:
  ehri get nl-r1-c1
  ehri get nl-r1-c1 --format xml
  ehri get nl-r1-c1 -q '.relationships.describes[].data.name'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			bundles := make([]*bundle.Bundle, 0, len(args))
			for _, id := range args {
				b, err := s.manager.Get(ctx, id)
				if err != nil {
					return err
				}
				bundles = append(bundles, b)
			}
			if len(bundles) == 1 {
				return printResult(bundles[0])
			}
			return printResult(bundles)
		})
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
