package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Provision the graph indexes of the current context",
	Long: `Provision the graph indexes. Running it again is harmless; when the
index strategy or the schema's indexed keys changed, the indexes are
rebuilt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			if err := s.graph.Initialize(ctx); err != nil {
				return err
			}
			cli.NewPrinter().Success("Graph ready (%s index, %s backend).", s.graph.Strategy(), s.cfg.Backend)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
