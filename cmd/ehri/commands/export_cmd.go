package commands

import (
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/persistence"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
	"github.com/EHRI/ehri-rest-sub010/pkg/storage"
)

var exportTypes []string

var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Write items to the context's export target",
	Long: `Write every top-level item, with its dependent sub-items and links, to
a file under the export target (export.dir or export.s3.*). The file
extension selects the format: .json, .yaml/.yml or .xml.

Examples:
  ehri export dumps/all.json
  ehri export units.xml --type DocumentaryUnit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			fs, err := s.cfg.OpenExport()
			if err != nil {
				return err
			}
			types, err := exportTypeList(s.graph.Registry())
			if err != nil {
				return err
			}
			start := time.Now()
			var n int
			err = s.graph.View(ctx, func(gm graph.Manager) error {
				n, err = storage.NewArchive(fs).Save(ctx, args[0], exportSeq(ctx, s, gm, types))
				return err
			})
			if err != nil {
				return err
			}
			cli.NewPrinter().Success("Exported %s to %s in %s.", cli.Count(n, "item", "items"), args[0],
				cli.FormatDuration(time.Since(start)))
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Load items from the context's export target",
	Long: `Create or update the items in a file written by 'ehri export'. Items
are written first and linked afterwards, so links between items in the
same file resolve regardless of order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			fs, err := s.cfg.OpenExport()
			if err != nil {
				return err
			}
			var (
				items []*bundle.Bundle
				links []itemLink
			)
			for b, err := range storage.NewArchive(fs).Load(ctx, args[0]) {
				if err != nil {
					return err
				}
				items = append(items, splitReferences(b, &links))
			}
			p := cli.NewPrinter()
			for _, b := range items {
				mut, err := s.manager.CreateOrUpdate(ctx, b)
				if err != nil {
					reportWriteError(p, b, err)
					return err
				}
				p.Status(mut.State.String(), mut.Node.ID)
			}
			for _, l := range links {
				if err := s.manager.Link(ctx, l.from, l.relation, l.to); err != nil {
					return fmt.Errorf("link %s %s %s: %w", l.from, l.relation, l.to, err)
				}
			}
			printVerbose("restored %s", cli.Count(len(links), "link", "links"))
			return nil
		})
	},
}

// exportTypeList returns the --type values, or every type that is not
// owned by another type.
func exportTypeList(reg *schema.Registry) ([]schema.EntityType, error) {
	if len(exportTypes) > 0 {
		out := make([]schema.EntityType, 0, len(exportTypes))
		for _, name := range exportTypes {
			t, err := lookupType(name)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	owned := map[schema.EntityType]bool{}
	for _, t := range reg.Types() {
		for _, r := range t.DependentRelations() {
			owned[r.Target] = true
		}
	}
	var out []schema.EntityType
	for _, t := range reg.Types() {
		if !owned[t.Name] {
			out = append(out, t.Name)
		}
	}
	slices.Sort(out)
	return out, nil
}

// exportSeq yields the items of types with their links at every level.
func exportSeq(ctx context.Context, s *session, gm graph.Manager, types []schema.EntityType) iter.Seq2[*bundle.Bundle, error] {
	ser := persistence.NewSerializer(s.graph.Registry()).WithLinkDepth(math.MaxInt)
	return func(yield func(*bundle.Bundle, error) bool) {
		for _, t := range types {
			for v, err := range gm.GetVertices(ctx, t) {
				if err != nil {
					yield(nil, err)
					return
				}
				b, err := ser.VertexToBundle(ctx, gm, v)
				if !yield(b, err) || err != nil {
					return
				}
			}
		}
	}
}

type itemLink struct {
	from, relation, to string
}

// splitReferences returns b without reference relations anywhere in its
// tree and appends them to links.
func splitReferences(b *bundle.Bundle, links *[]itemLink) *bundle.Bundle {
	out := b
	for _, name := range b.RelationNames() {
		children := b.Relations(name)
		if !b.IsDependent(name) {
			for _, c := range children {
				if b.HasID() && c.HasID() {
					*links = append(*links, itemLink{from: b.ID(), relation: name, to: c.ID()})
				}
			}
			out = out.RemoveRelations(name)
			continue
		}
		stripped := make([]*bundle.Bundle, len(children))
		for i, c := range children {
			stripped[i] = splitReferences(c, links)
		}
		out = out.ReplaceRelations(name, stripped)
	}
	return out
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportTypes, "type", nil, "entity types to export (default: all top-level types)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
