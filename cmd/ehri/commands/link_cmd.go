package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
)

var linkCmd = &cobra.Command{
	Use:   "link <from-id> <relation> <to-id>",
	Short: "Link an item to an existing item",
	Long: `Add a reference relation between two items. Relations that allow a
single target replace the existing link.

Examples:
  ehri link nl-r1-c1 heldBy nl-r1`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			if err := s.manager.Link(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			cli.NewPrinter().Status("linked", args[0], args[1]+" -> "+args[2])
			return nil
		})
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <from-id> <relation> <to-id>",
	Short: "Remove a link between two items",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			if err := s.manager.Unlink(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			cli.NewPrinter().Status("unlinked", args[0], args[1]+" -> "+args[2])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
}
