package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/cmd/ehri/internal/config"
	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
	"github.com/EHRI/ehri-rest-sub010/pkg/persistence"
)

var (
	verbose      bool
	formatOutput string
	outputFile   string
	queryExpr    string
	contextName  string
	repairInput  bool
)

var rootCmd = &cobra.Command{
	Use:   "ehri",
	Short: "Archival graph store command line",
	Long: `ehri: manage archival descriptions stored as a property graph.

Items are read and written as bundles: trees of typed records with their
dependent descriptions, dates and other sub-items.

Commands:
  ctx       Context configuration management
  init      Provision the graph indexes
  create    Create items from bundle files
  update    Update existing items
  upsert    Create or update items
  get       Show an item as a bundle
  list      List items of a type
  find      Query items by property
  delete    Delete items and their dependents
  rename    Change an item id
  link      Link or unlink items
  export    Write items to the export target
  import    Load items from the export target
  schema    Show entity types
  path      Read or write a bundle value by path
  version   Version information

Examples:
  ehri ctx add dev && ehri ctx use dev
  ehri ctx config set scope nl,nl-r1
  ehri create -f fonds.yaml
  ehri get nl-r1-c1 --format json --query '.data.identifier'
  ehri find DocumentaryUnit --where identifier:starts_with:c`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "yaml", "output format: yaml, json, xml, table")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file path")
	rootCmd.PersistentFlags().StringVarP(&queryExpr, "query", "q", "", "jq expression applied to the output")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "context to use instead of the current one")
	rootCmd.PersistentFlags().BoolVar(&repairInput, "repair", false, "repair malformed JSON input")
}

// logger is replaced before every command runs.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testKVOverride is set during tests to share a KV instance across commands.
var testKVOverride kv.Store

// session is an open graph for the selected context.
type session struct {
	cfg     *config.Graph
	graph   *graph.Graph
	manager *persistence.BundleManager
	close   func() error
}

func openStore() (*config.Store, error) {
	return config.Open()
}

// openSession opens the graph of the selected context.
func openSession() (*session, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	name, cfg, err := s.Load(contextName)
	if err != nil {
		return nil, err
	}
	logger.Debug("opening graph", "context", name, "backend", cfg.Backend, "data_dir", cfg.DataDir)

	store := testKVOverride
	closeFn := func() error { return nil }
	if store == nil {
		if store, err = cfg.OpenKV(logger); err != nil {
			return nil, err
		}
		closeFn = store.Close
	}
	g, err := graph.New(store, cfg.GraphOptions(logger))
	if err != nil {
		closeFn()
		return nil, err
	}
	m, err := persistence.NewBundleManager(g, cfg.ManagerOptions(logger)...)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &session{cfg: cfg, graph: g, manager: m, close: closeFn}, nil
}

// withSession runs fn against an open session and closes it afterwards.
func withSession(fn func(ctx context.Context, s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()
	return fn(context.Background(), s)
}

func outputOptions() (cli.OutputOptions, error) {
	f, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return cli.OutputOptions{}, err
	}
	return cli.OutputOptions{Format: f, Query: queryExpr, File: outputFile}, nil
}

// printResult writes v with the global output flags.
func printResult(v any) error {
	opts, err := outputOptions()
	if err != nil {
		return err
	}
	return cli.Output(v, opts)
}

func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func loadOptions() cli.LoadOptions {
	return cli.LoadOptions{Repair: repairInput}
}
