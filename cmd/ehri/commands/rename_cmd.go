package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
)

var renameCmd = &cobra.Command{
	Use:   "rename <old-id> <new-id>",
	Short: "Change an item id, keeping its properties and links",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldID, newID := args[0], args[1]
		return withSession(func(ctx context.Context, s *session) error {
			err := s.graph.Update(ctx, func(gm graph.Manager) error {
				v, err := gm.GetVertex(ctx, oldID)
				if err != nil {
					return err
				}
				return gm.RenameVertex(ctx, v, oldID, newID)
			})
			if err != nil {
				return err
			}
			cli.NewPrinter().Status("renamed", newID, "(was "+oldID+")")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(renameCmd)
}
