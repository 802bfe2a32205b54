package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
)

var pathString bool

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Read or write a bundle value by path",
	Long: `Address a value inside an item's bundle tree. A path is a series of
relation[index] steps followed by a data key:

  describes[0]/name
  describes[1]/hasDate[0]/startDate

Examples:
  ehri path get nl-r1-c1 describes[0]/name
  ehri path set nl-r1-c1 describes[0]/name "Fonds C1"
  ehri path unset nl-r1-c1 describes[0]/scopeAndContent`,
}

var pathGetCmd = &cobra.Command{
	Use:   "get <id> <path>",
	Short: "Print the value at path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			b, err := s.manager.Get(ctx, args[0])
			if err != nil {
				return err
			}
			v, ok, err := bundle.Get(b, args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: no value at %s", args[0], args[1])
			}
			return printResult(v)
		})
	},
}

var pathSetCmd = &cobra.Command{
	Use:   "set <id> <path> <value>",
	Short: "Set the value at path and save the item",
	Long: `Set the value at path and save the item. The value is read as a YAML
scalar, so 42 and true become a number and a boolean; use --string to
keep it as text.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := scalarValue(args[2])
		return editPath(args[0], func(b *bundle.Bundle) (*bundle.Bundle, error) {
			return bundle.Set(b, args[1], value)
		})
	},
}

var pathUnsetCmd = &cobra.Command{
	Use:   "unset <id> <path>",
	Short: "Remove the value at path and save the item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editPath(args[0], func(b *bundle.Bundle) (*bundle.Bundle, error) {
			return bundle.Delete(b, args[1])
		})
	},
}

func editPath(id string, edit func(*bundle.Bundle) (*bundle.Bundle, error)) error {
	return withSession(func(ctx context.Context, s *session) error {
		b, err := s.manager.Get(ctx, id)
		if err != nil {
			return err
		}
		nb, err := edit(b)
		if err != nil {
			return err
		}
		mut, err := s.manager.Update(ctx, nb)
		if err != nil {
			reportWriteError(cli.NewPrinter(), nb, err)
			return err
		}
		cli.NewPrinter().Status(mut.State.String(), mut.Node.ID)
		return nil
	})
}

// scalarValue decodes s as a YAML scalar unless --string is set.
func scalarValue(s string) any {
	if pathString {
		return s
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch v.(type) {
	case nil, map[string]any, []any:
		return s
	}
	return v
}

func init() {
	pathSetCmd.Flags().BoolVar(&pathString, "string", false, "store the value as a string")

	pathCmd.AddCommand(pathGetCmd)
	pathCmd.AddCommand(pathSetCmd)
	pathCmd.AddCommand(pathUnsetCmd)
	rootCmd.AddCommand(pathCmd)
}
