package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/cmd/ehri/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if formatOutput == "json" {
			return printResult(build.Info())
		}
		fmt.Println(build.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
