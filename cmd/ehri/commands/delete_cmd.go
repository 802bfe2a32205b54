package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete items and their dependent sub-items",
	Long: `Delete items. Dependent sub-items such as descriptions and dates are
deleted with them; referenced items are left alone.

Examples:
  ehri delete nl-r1-c1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			p := cli.NewPrinter()
			for _, id := range args {
				n, err := s.manager.DeleteByID(ctx, id)
				if err != nil {
					return err
				}
				p.Status("deleted", id, "("+cli.Count(n, "vertex", "vertices")+")")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
