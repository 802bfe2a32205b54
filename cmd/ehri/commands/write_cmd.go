package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
	"github.com/EHRI/ehri-rest-sub010/pkg/persistence"
)

type writeMode int

const (
	writeCreate writeMode = iota
	writeUpdate
	writeUpsert
)

// writeFlags holds the flags of one write command.
type writeFlags struct {
	file  string
	scope []string
}

func newWriteCmd(use, short string, mode writeMode) *cobra.Command {
	f := &writeFlags{}
	cmd := &cobra.Command{
		Use:   use + " -f <file>",
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(mode, f)
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "bundle file (json, yaml or xml); '-' reads stdin")
	cmd.Flags().StringSliceVar(&f.scope, "scope", nil, "scope chain for new ids, overriding the context's")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runWrite(mode writeMode, f *writeFlags) error {
	bundles, err := cli.LoadBundles(f.file, loadOptions())
	if err != nil {
		return err
	}
	printVerbose("loaded %s from %s", cli.Count(len(bundles), "bundle", "bundles"), f.file)
	return withSession(func(ctx context.Context, s *session) error {
		m := s.manager
		if len(f.scope) > 0 {
			m = m.WithScope(f.scope...)
		}
		p := cli.NewPrinter()
		for _, b := range bundles {
			state, id, err := writeOne(ctx, m, mode, b)
			if err != nil {
				reportWriteError(p, b, err)
				return err
			}
			p.Status(state, id)
		}
		return nil
	})
}

func writeOne(ctx context.Context, m *persistence.BundleManager, mode writeMode, b *bundle.Bundle) (state, id string, err error) {
	switch mode {
	case writeCreate:
		v, err := m.Create(ctx, b)
		if err != nil {
			return "", "", err
		}
		return persistence.Created.String(), v.ID, nil
	case writeUpdate:
		mut, err := m.Update(ctx, b)
		if err != nil {
			return "", "", err
		}
		return mut.State.String(), mut.Node.ID, nil
	default:
		mut, err := m.CreateOrUpdate(ctx, b)
		if err != nil {
			return "", "", err
		}
		return mut.State.String(), mut.Node.ID, nil
	}
}

// reportWriteError prints the error tree of validation and collision
// failures to stderr.
func reportWriteError(p *cli.Printer, b *bundle.Bundle, err error) {
	var (
		verr *persistence.ValidationError
		cerr *persistence.CollisionError
		es   *bundle.ErrorSet
	)
	switch {
	case errors.As(err, &verr):
		es = verr.Errors
	case errors.As(err, &cerr):
		es = cerr.Errors
	default:
		return
	}
	label := b.ID()
	if label == "" {
		label = string(b.Type())
	}
	p.Error("%s: %s", label, cli.Count(len(es.Flatten()), "problem", "problems"))
	for _, line := range es.Flatten() {
		fmt.Fprintln(p.Err, "  "+line)
	}
}

func init() {
	rootCmd.AddCommand(newWriteCmd("create", "Create items from bundle files", writeCreate))
	rootCmd.AddCommand(newWriteCmd("update", "Update existing items from bundle files", writeUpdate))
	rootCmd.AddCommand(newWriteCmd("upsert", "Create or update items from bundle files", writeUpsert))
}
