package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show entity types",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entity types",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := &cli.Table{Header: []string{"TYPE", "ID STRATEGY", "DEPENDENTS", "MANDATORY"}}
		for _, typ := range schema.Default().Types() {
			var deps []string
			for _, r := range typ.DependentRelations() {
				deps = append(deps, r.Name)
			}
			t.Append(string(typ.Name), string(typ.IDStrategy), strings.Join(deps, ","), strings.Join(typ.Mandatory, ","))
		}
		if formatOutput == string(cli.FormatYAML) {
			return cli.Output(t, cli.OutputOptions{Format: cli.FormatTable})
		}
		return printResult(t)
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <type>",
	Short: "Print the JSON Schema of a type's bundles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ok := schema.Default().JSONSchema(schema.EntityType(args[0]))
		if !ok {
			return fmt.Errorf("unknown entity type %q; see 'ehri schema list'", args[0])
		}
		opts, err := outputOptions()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("format") {
			opts.Format = cli.FormatJSON
		}
		return cli.Output(s, opts)
	},
}

func init() {
	schemaCmd.AddCommand(schemaListCmd)
	schemaCmd.AddCommand(schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}
