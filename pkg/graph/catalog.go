package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
)

// catalog records which indexes the stored entries were built for.
type catalog struct {
	Strategy IndexStrategy       `msgpack:"strategy"`
	Keys     map[string][]string `msgpack:"keys"`
}

func (c *catalog) equal(o *catalog) bool {
	return c.Strategy == o.Strategy && maps.EqualFunc(c.Keys, o.Keys, slices.Equal[[]string])
}

func (g *Graph) wantCatalog() *catalog {
	c := &catalog{Strategy: g.strategy, Keys: make(map[string][]string)}
	for _, t := range g.reg.Types() {
		if len(t.Indexed) > 0 {
			c.Keys[string(t.Name)] = slices.Sorted(slices.Values(t.Indexed))
		}
	}
	return c
}

func (g *Graph) catalogKey() kv.Key { return g.key("meta", "catalog") }

// Initialize provisions the indexes for the configured strategy and
// registry. When the stored catalog differs, every index entry is dropped
// and rebuilt from the vertex records. Initialize is idempotent and safe to
// call concurrently; Update and View call it implicitly.
func (g *Graph) Initialize(ctx context.Context) error {
	if g.ready.Load() {
		return nil
	}
	_, err, _ := g.initGroup.Do("init", func() (any, error) {
		if g.ready.Load() {
			return nil, nil
		}
		err := g.store.Update(ctx, func(tx kv.Txn) error {
			return g.provision(ctx, tx)
		})
		if err != nil {
			return nil, fmt.Errorf("graph: initialize: %w", err)
		}
		g.ready.Store(true)
		return nil, nil
	})
	return err
}

func (g *Graph) provision(ctx context.Context, tx kv.Txn) error {
	want := g.wantCatalog()

	data, err := tx.Get(ctx, g.catalogKey())
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return err
	default:
		var have catalog
		if err := msgpack.Unmarshal(data, &have); err != nil {
			return fmt.Errorf("decode catalog: %w", err)
		}
		if have.equal(want) {
			g.log.DebugContext(ctx, "indexes up to date", "strategy", g.strategy)
			return nil
		}
	}

	for _, space := range append(sharedIndex{}.keyspaces(), labelIndex{}.keyspaces()...) {
		var stale []kv.Key
		for entry, err := range tx.List(ctx, g.key(space)) {
			if err != nil {
				return err
			}
			stale = append(stale, entry.Key)
		}
		for _, k := range stale {
			if err := tx.Delete(ctx, k); err != nil {
				return err
			}
		}
	}

	n := 0
	vp := g.key("v")
	for entry, err := range tx.List(ctx, vp) {
		if err != nil {
			return err
		}
		if len(entry.Key) != len(vp)+1 {
			continue
		}
		v, err := decodeVertex(entry.Key[len(vp)], entry.Value)
		if err != nil {
			return err
		}
		if err := g.addIndex(ctx, tx, v); err != nil {
			return err
		}
		n++
	}

	enc, err := msgpack.Marshal(want)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := tx.Set(ctx, g.catalogKey(), enc); err != nil {
		return err
	}
	g.log.InfoContext(ctx, "indexes provisioned", "strategy", g.strategy, "vertices", n)
	return nil
}
