package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/cli"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/persistence"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

var (
	listLimit   int
	findClauses []string
)

var listCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "List items of a type",
	Long: `List items of a type in id order.

Examples:
  ehri list DocumentaryUnit --format table
  ehri list Country --limit 10 -q '.[].id'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := lookupType(args[0])
		if err != nil {
			return err
		}
		return withSession(func(ctx context.Context, s *session) error {
			return s.graph.View(ctx, func(gm graph.Manager) error {
				var vs []*graph.Vertex
				for v, err := range gm.GetVertices(ctx, t) {
					if err != nil {
						return err
					}
					vs = append(vs, v)
					if listLimit > 0 && len(vs) >= listLimit {
						break
					}
				}
				return printVertices(ctx, s, gm, vs)
			})
		})
	},
}

var findCmd = &cobra.Command{
	Use:   "find <type> --where key:op:value...",
	Short: "Query items by property",
	Long: `Find items of a type whose properties match every --where clause.

Operators: eq, ne, starts_with, ends_with, contains, gt, lt, gte, lte.
The keys __id and __type match the item id and type. Values compare as
strings, except that numeric values compare numerically under gt, lt,
gte and lte.

Examples:
  ehri find DocumentaryUnit --where identifier:starts_with:c
  ehri find DatePeriod --where startDate:gte:1939-01-01 --where startDate:lt:1946`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := lookupType(args[0])
		if err != nil {
			return err
		}
		f := graph.Finder{Type: t, Limit: listLimit}
		for _, w := range findClauses {
			if f, err = parseWhere(f, w); err != nil {
				return err
			}
		}
		return withSession(func(ctx context.Context, s *session) error {
			return s.graph.View(ctx, func(gm graph.Manager) error {
				vs, err := gm.Find(ctx, f)
				if err != nil {
					return err
				}
				printVerbose("%d match(es)", len(vs))
				return printVertices(ctx, s, gm, vs)
			})
		})
	},
}

func lookupType(name string) (schema.EntityType, error) {
	t, ok := schema.Lookup(schema.EntityType(name))
	if !ok {
		return "", fmt.Errorf("unknown entity type %q; see 'ehri schema list'", name)
	}
	return t.Name, nil
}

// parseWhere adds a "key:op:value" clause to f.
func parseWhere(f graph.Finder, w string) (graph.Finder, error) {
	parts := strings.SplitN(w, ":", 3)
	if len(parts) != 3 {
		return f, fmt.Errorf("invalid --where %q: expected key:op:value", w)
	}
	op, err := graph.ParseOp(parts[1])
	if err != nil {
		return f, err
	}
	var value any = parts[2]
	switch op {
	case graph.GT, graph.LT, graph.GTE, graph.LTE:
		if n, err := strconv.ParseFloat(parts[2], 64); err == nil {
			value = n
		}
	}
	return f.Where(parts[0], op, value), nil
}

// printVertices prints vertices as a table or, for other formats, as
// bundles with their dependents.
func printVertices(ctx context.Context, s *session, gm graph.Manager, vs []*graph.Vertex) error {
	if formatOutput == string(cli.FormatTable) {
		t := &cli.Table{Header: []string{"ID", "TYPE", "IDENTIFIER"}}
		for _, v := range vs {
			ident, _ := v.Property("identifier")
			t.Append(v.ID, string(v.Type), fmt.Sprint(valueOr(ident, "")))
		}
		return printResult(t)
	}
	ser := persistence.NewSerializer(s.graph.Registry())
	bundles := make([]*bundle.Bundle, 0, len(vs))
	for _, v := range vs {
		b, err := ser.VertexToBundle(ctx, gm, v)
		if err != nil {
			return err
		}
		bundles = append(bundles, b)
	}
	return printResult(bundles)
}

func valueOr(v, def any) any {
	if v == nil {
		return def
	}
	return v
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of items (0 means all)")
	findCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of items (0 means all)")
	findCmd.Flags().StringArrayVar(&findClauses, "where", nil, "clause key:op:value; repeatable")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(findCmd)
}
