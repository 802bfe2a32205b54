package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
)

var ctxCmd = &cobra.Command{
	Use:   "ctx",
	Short: "Context configuration management",
	Long: `Manage contexts and their graph configuration.

A context names a graph store (backend and data directory) together with
the id settings and export target used against it. Switching contexts
switches the whole stack.

Examples:
  ehri ctx add dev
  ehri ctx use dev
  ehri ctx config set backend sqlite
  ehri ctx config set export.dir ./dumps
  ehri ctx list`,
}

var ctxAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a new context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		if err := s.Add(args[0]); err != nil {
			return err
		}
		cli.NewPrinter().Success("Context %q created.", args[0])
		return nil
	},
}

var ctxRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a context and its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		if err := s.Remove(args[0]); err != nil {
			return err
		}
		cli.NewPrinter().Success("Context %q removed.", args[0])
		return nil
	},
}

var ctxUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		if err := s.Use(args[0]); err != nil {
			return err
		}
		cli.NewPrinter().Success("Switched to context %q.", args[0])
		return nil
	},
}

var ctxCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		name, err := s.Current()
		if err != nil {
			return err
		}
		fmt.Println(name)
		return nil
	},
}

var ctxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		infos, err := s.List()
		if err != nil {
			return err
		}
		if formatOutput != "yaml" && formatOutput != "table" {
			return printResult(infos)
		}
		if len(infos) == 0 {
			fmt.Println("No contexts configured.")
			fmt.Println("Create one with: ehri ctx add <name>")
			return nil
		}
		for _, info := range infos {
			marker := "  "
			if info.Current {
				marker = "* "
			}
			fmt.Printf("%s%s\n", marker, info.Name)
		}
		return nil
	},
}

var ctxShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show the effective configuration of a context",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		name, cfg, err := s.Load(name)
		if err != nil {
			return err
		}
		return printResult(map[string]any{"name": name, "graph": cfg})
	},
}

var ctxConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage context config keys",
}

var ctxConfigSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config key on the current context",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		cli.NewPrinter().Success("Set %s = %s", args[0], args[1])
		return nil
	},
}

var ctxConfigListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported config keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		t := &cli.Table{Header: []string{"KEY", "DESCRIPTION"}}
		for _, k := range s.Keys() {
			t.Append(k.Key, k.Description)
		}
		if formatOutput == "yaml" {
			return cli.Output(t, cli.OutputOptions{Format: cli.FormatTable})
		}
		return printResult(t)
	},
}

func init() {
	ctxConfigCmd.AddCommand(ctxConfigSetCmd)
	ctxConfigCmd.AddCommand(ctxConfigListCmd)

	ctxCmd.AddCommand(ctxAddCmd)
	ctxCmd.AddCommand(ctxRemoveCmd)
	ctxCmd.AddCommand(ctxUseCmd)
	ctxCmd.AddCommand(ctxCurrentCmd)
	ctxCmd.AddCommand(ctxListCmd)
	ctxCmd.AddCommand(ctxShowCmd)
	ctxCmd.AddCommand(ctxConfigCmd)

	rootCmd.AddCommand(ctxCmd)
}
