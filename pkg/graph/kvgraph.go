package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// KV key layout (relative to the configured prefix, segments joined by
// kv.UnitSeparator, shown here as "/"):
//
//	{prefix}/v/{id}                    → msgpack vertex record
//	{prefix}/r/{from}/{label}/{to}     → marker (forward edge index)
//	{prefix}/ri/{to}/{label}/{from}    → marker (reverse edge index)
//	{prefix}/meta/catalog              → msgpack index catalog
//
// plus the keyspaces of the active IndexStrategy.

// DefaultPrefix is the key prefix used when Options.Prefix is empty.
var DefaultPrefix = kv.Key{"ehri"}

// Options configures a Graph.
type Options struct {
	// Prefix scopes every key, allowing several graphs in one store.
	// Default is DefaultPrefix.
	Prefix kv.Key

	// Index selects the index strategy. Default is IndexAuto.
	Index IndexStrategy

	// Registry supplies the indexed keys of each type. Default is
	// schema.Default().
	Registry *schema.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Graph is a vertex/edge store over a kv.Store. It is safe for concurrent
// use; each Update or View runs in its own KV transaction.
type Graph struct {
	store    kv.Store
	prefix   kv.Key
	strategy IndexStrategy
	index    indexer
	reg      *schema.Registry
	log      *slog.Logger

	initGroup singleflight.Group
	ready     atomic.Bool
}

// StoreOptions returns the kv options a graph store is opened with. Keys
// are joined with kv.UnitSeparator so that ids may hold any printable
// character.
func StoreOptions() *kv.Options {
	return &kv.Options{Separator: kv.UnitSeparator}
}

// New returns a Graph over store. Indexes are provisioned on first use or
// by an explicit Initialize. The store's separator must be a control
// character; see StoreOptions.
func New(store kv.Store, opts *Options) (*Graph, error) {
	if opts == nil {
		opts = &Options{}
	}
	if sep := store.Separator(); sep >= 0x20 && sep != 0x7f {
		return nil, fmt.Errorf("%w: store separator %q may appear in ids; open the store with graph.StoreOptions()", ErrIllegalArgument, sep)
	}
	g := &Graph{
		store:  store,
		prefix: opts.Prefix,
		reg:    opts.Registry,
		log:    opts.Logger,
	}
	if len(g.prefix) == 0 {
		g.prefix = DefaultPrefix
	}
	if g.reg == nil {
		g.reg = schema.Default()
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	g.log = g.log.With("component", "graph")

	switch opts.Index {
	case "", IndexAuto:
		g.strategy = IndexShared
		if _, ok := store.(*kv.Badger); ok {
			g.strategy = IndexLabel
		}
	case IndexShared, IndexLabel:
		g.strategy = opts.Index
	default:
		return nil, fmt.Errorf("graph: unknown index strategy %q", opts.Index)
	}
	if g.strategy == IndexLabel {
		g.index = labelIndex{g}
	} else {
		g.index = sharedIndex{g}
	}
	if err := g.checkSegments(g.prefix...); err != nil {
		return nil, err
	}
	return g, nil
}

// Strategy returns the resolved index strategy.
func (g *Graph) Strategy() IndexStrategy { return g.strategy }

// Registry returns the schema registry the graph indexes against.
func (g *Graph) Registry() *schema.Registry { return g.reg }

// Update runs fn in a read-write transaction. If fn returns an error
// nothing is written.
func (g *Graph) Update(ctx context.Context, fn func(Manager) error) error {
	if err := g.Initialize(ctx); err != nil {
		return err
	}
	return g.store.Update(ctx, func(tx kv.Txn) error {
		return fn(&txManager{g: g, tx: tx})
	})
}

// View runs fn in a read-only transaction.
func (g *Graph) View(ctx context.Context, fn func(Manager) error) error {
	if err := g.Initialize(ctx); err != nil {
		return err
	}
	return g.store.View(ctx, func(tx kv.Txn) error {
		return fn(&txManager{g: g, tx: tx})
	})
}

// --- key helpers ---

func (g *Graph) key(segs ...string) kv.Key {
	return g.prefix.Append(segs...)
}

func (g *Graph) vertexKey(id string) kv.Key { return g.key("v", id) }

func (g *Graph) fwdKey(from, label, to string) kv.Key { return g.key("r", from, label, to) }

func (g *Graph) revKey(to, label, from string) kv.Key { return g.key("ri", to, label, from) }

// checkSegments rejects blank strings and strings containing the store's
// key separator; either would corrupt the key encoding.
func (g *Graph) checkSegments(segs ...string) error {
	sep := string([]byte{g.store.Separator()})
	for _, s := range segs {
		if s == "" {
			return illegalArgf("empty key segment")
		}
		if strings.Contains(s, sep) {
			return illegalArgf("%q contains the key separator %q", s, sep)
		}
	}
	return nil
}

// --- vertex records ---

type record struct {
	Type  string         `msgpack:"t"`
	Props map[string]any `msgpack:"p,omitempty"`
}

func encodeVertex(v *Vertex) ([]byte, error) {
	return msgpack.Marshal(record{Type: string(v.Type), Props: v.Props})
}

func decodeVertex(id string, data []byte) (*Vertex, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var rec record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("graph: decode vertex %q: %w", id, err)
	}
	props := make(map[string]any, len(rec.Props))
	for k, val := range rec.Props {
		props[k] = bundle.Normalize(val)
	}
	return &Vertex{ID: id, Type: schema.EntityType(rec.Type), Props: props}, nil
}

// txManager is the Manager bound to one KV transaction.
type txManager struct {
	g  *Graph
	tx kv.Txn
}

func (m *txManager) Exists(ctx context.Context, id string) (bool, error) {
	if m.g.checkSegments(id) != nil {
		return false, nil
	}
	_, err := m.tx.Get(ctx, m.g.vertexKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *txManager) GetVertex(ctx context.Context, id string) (*Vertex, error) {
	if err := m.g.checkSegments(id); err != nil {
		return nil, err
	}
	data, err := m.tx.Get(ctx, m.g.vertexKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	return decodeVertex(id, data)
}

func (m *txManager) put(ctx context.Context, v *Vertex) error {
	data, err := encodeVertex(v)
	if err != nil {
		return fmt.Errorf("graph: encode vertex %q: %w", v.ID, err)
	}
	if err := m.tx.Set(ctx, m.g.vertexKey(v.ID), data); err != nil {
		return err
	}
	return m.g.addIndex(ctx, m.tx, v)
}

func (m *txManager) CreateVertex(ctx context.Context, id string, t schema.EntityType, data map[string]any) (*Vertex, error) {
	if err := m.g.checkSegments(id, string(t)); err != nil {
		return nil, err
	}
	ok, err := m.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, &IntegrityError{ID: id, Msg: "vertex already exists"}
	}
	props, err := normalizeProps(data)
	if err != nil {
		return nil, err
	}
	v := &Vertex{ID: id, Type: t, Props: props}
	if err := m.put(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *txManager) UpdateVertex(ctx context.Context, id string, t schema.EntityType, data map[string]any) (*Vertex, error) {
	if err := m.g.checkSegments(string(t)); err != nil {
		return nil, err
	}
	old, err := m.GetVertex(ctx, id)
	if err != nil {
		return nil, err
	}
	props, err := normalizeProps(data)
	if err != nil {
		return nil, err
	}
	maps.DeleteFunc(props, func(k string, _ any) bool {
		return strings.HasPrefix(k, bundle.ManagedPrefix)
	})
	for k, val := range old.Props {
		if strings.HasPrefix(k, bundle.ManagedPrefix) {
			props[k] = val
		}
	}
	if err := m.g.removeIndex(ctx, m.tx, old); err != nil {
		return nil, err
	}
	v := &Vertex{ID: id, Type: t, Props: props}
	if err := m.put(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *txManager) SetProperty(ctx context.Context, v *Vertex, key string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	stored, err := m.GetVertex(ctx, v.ID)
	if err != nil {
		return err
	}
	if err := m.g.removeIndex(ctx, m.tx, stored); err != nil {
		return err
	}
	if value == nil {
		delete(stored.Props, key)
	} else {
		stored.Props[key] = bundle.Normalize(value)
	}
	if err := m.put(ctx, stored); err != nil {
		return err
	}
	v.Type = stored.Type
	v.Props = maps.Clone(stored.Props)
	return nil
}

func (m *txManager) RenameVertex(ctx context.Context, v *Vertex, oldID, newID string) error {
	if err := m.g.checkSegments(newID); err != nil {
		return err
	}
	if oldID == newID {
		return nil
	}
	old, err := m.GetVertex(ctx, oldID)
	if err != nil {
		return err
	}
	taken, err := m.Exists(ctx, newID)
	if err != nil {
		return err
	}
	if taken {
		return &IntegrityError{ID: newID, Msg: fmt.Sprintf("cannot rename %q: id already exists", oldID)}
	}
	edges, err := m.Edges(ctx, oldID, Both)
	if err != nil {
		return err
	}
	if err := m.remove(ctx, old, edges); err != nil {
		return err
	}
	moved := &Vertex{ID: newID, Type: old.Type, Props: old.Props}
	if err := m.put(ctx, moved); err != nil {
		return err
	}
	swap := func(id string) string {
		if id == oldID {
			return newID
		}
		return id
	}
	for _, e := range edges {
		if err := m.setEdge(ctx, swap(e.From), e.Label, swap(e.To)); err != nil {
			return err
		}
	}
	m.g.log.DebugContext(ctx, "renamed vertex", "from", oldID, "to", newID, "edges", len(edges))
	v.ID = newID
	v.Type = moved.Type
	v.Props = maps.Clone(moved.Props)
	return nil
}

func (m *txManager) DeleteVertex(ctx context.Context, id string) error {
	v, err := m.GetVertex(ctx, id)
	if err != nil {
		return err
	}
	edges, err := m.Edges(ctx, id, Both)
	if err != nil {
		return err
	}
	return m.remove(ctx, v, edges)
}

func (m *txManager) RemoveVertex(ctx context.Context, v *Vertex) error {
	err := m.DeleteVertex(ctx, v.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// remove deletes v's record, its index entries and the given edges.
func (m *txManager) remove(ctx context.Context, v *Vertex, edges []Edge) error {
	for _, e := range edges {
		if err := m.deleteEdge(ctx, e.From, e.Label, e.To); err != nil {
			return err
		}
	}
	if err := m.g.removeIndex(ctx, m.tx, v); err != nil {
		return err
	}
	return m.tx.Delete(ctx, m.g.vertexKey(v.ID))
}

// --- typed reads ---

// idsUnder lists the ids stored as the last segment of keys under prefix.
func (m *txManager) idsUnder(ctx context.Context, prefix kv.Key) ([]string, error) {
	var ids []string
	for entry, err := range m.tx.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		if len(entry.Key) != len(prefix)+1 {
			continue
		}
		ids = append(ids, entry.Key[len(prefix)])
	}
	return ids, nil
}

func (m *txManager) GetVertices(ctx context.Context, t schema.EntityType) iter.Seq2[*Vertex, error] {
	return func(yield func(*Vertex, error) bool) {
		if err := m.g.checkSegments(string(t)); err != nil {
			yield(nil, err)
			return
		}
		ids, err := m.idsUnder(ctx, m.g.index.typePrefix(t))
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			v, err := m.GetVertex(ctx, id)
			if errors.Is(err, ErrNotFound) {
				m.g.log.WarnContext(ctx, "stale type index entry", "type", t, "id", id)
				continue
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

func (m *txManager) GetVerticesByID(ctx context.Context, ids []string) ([]*Vertex, error) {
	out := make([]*Vertex, len(ids))
	for i, id := range ids {
		if m.g.checkSegments(id) != nil {
			continue
		}
		v, err := m.GetVertex(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *txManager) GetVerticesByProperty(ctx context.Context, key string, value any, t schema.EntityType) ([]*Vertex, error) {
	st, ok := m.g.reg.Lookup(t)
	if !ok || !st.IsIndexed(key) {
		return nil, illegalArgf("property %q is not indexed for type %q", key, t)
	}
	enc, ok := encodeValue(bundle.Normalize(value))
	if !ok {
		return nil, illegalArgf("value %v for %q cannot be looked up", value, key)
	}
	prefix, filtered := m.g.index.propertyPrefix(t, key, enc)
	ids, err := m.idsUnder(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []*Vertex
	for _, id := range ids {
		v, err := m.GetVertex(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filtered && v.Type != t {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *txManager) GetEntity(ctx context.Context, id string, t schema.EntityType) (*Vertex, error) {
	v, err := m.GetVertex(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{ID: id, Type: t}
	}
	if err != nil {
		return nil, err
	}
	if v.Type != t {
		return nil, &NotFoundError{ID: id, Type: t}
	}
	return v, nil
}

// --- edge operations ---

func (m *txManager) setEdge(ctx context.Context, from, label, to string) error {
	if err := m.tx.Set(ctx, m.g.fwdKey(from, label, to), marker); err != nil {
		return err
	}
	return m.tx.Set(ctx, m.g.revKey(to, label, from), marker)
}

func (m *txManager) deleteEdge(ctx context.Context, from, label, to string) error {
	if err := m.tx.Delete(ctx, m.g.fwdKey(from, label, to)); err != nil {
		return err
	}
	return m.tx.Delete(ctx, m.g.revKey(to, label, from))
}

func (m *txManager) AddEdge(ctx context.Context, from, label, to string) error {
	if err := m.g.checkSegments(from, label, to); err != nil {
		return err
	}
	for _, id := range []string{from, to} {
		ok, err := m.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return &NotFoundError{ID: id}
		}
	}
	return m.setEdge(ctx, from, label, to)
}

func (m *txManager) RemoveEdge(ctx context.Context, from, label, to string) error {
	if err := m.g.checkSegments(from, label, to); err != nil {
		return err
	}
	return m.deleteEdge(ctx, from, label, to)
}

func (m *txManager) HasEdge(ctx context.Context, from, label, to string) (bool, error) {
	if err := m.g.checkSegments(from, label, to); err != nil {
		return false, err
	}
	_, err := m.tx.Get(ctx, m.g.fwdKey(from, label, to))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *txManager) Edges(ctx context.Context, id string, dir Direction, labels ...string) ([]Edge, error) {
	if err := m.g.checkSegments(id); err != nil {
		return nil, err
	}
	if err := m.g.checkSegments(labels...); err != nil {
		return nil, err
	}
	var edges []Edge
	scan := func(space string, fn func(k kv.Key) Edge) error {
		prefixes := []kv.Key{m.g.key(space, id)}
		if len(labels) > 0 {
			prefixes = prefixes[:0]
			for _, l := range labels {
				prefixes = append(prefixes, m.g.key(space, id, l))
			}
		}
		plen := len(m.g.prefix)
		for _, p := range prefixes {
			for entry, err := range m.tx.List(ctx, p) {
				if err != nil {
					return err
				}
				if len(entry.Key) != plen+4 {
					continue // malformed key, skip
				}
				edges = append(edges, fn(entry.Key[plen:]))
			}
		}
		return nil
	}
	if dir == Out || dir == Both {
		// Key: r:{from}:{label}:{to}
		err := scan("r", func(k kv.Key) Edge { return Edge{From: k[1], Label: k[2], To: k[3]} })
		if err != nil {
			return nil, err
		}
	}
	if dir == In || dir == Both {
		// Key: ri:{to}:{label}:{from}
		err := scan("ri", func(k kv.Key) Edge { return Edge{From: k[3], Label: k[2], To: k[1]} })
		if err != nil {
			return nil, err
		}
	}
	if dir == Both {
		// Self-loops appear in both scans.
		slices.SortFunc(edges, compareEdges)
		edges = slices.Compact(edges)
	}
	slices.SortFunc(edges, compareEdges)
	return edges, nil
}

func compareEdges(a, b Edge) int {
	if c := strings.Compare(a.Label, b.Label); c != 0 {
		return c
	}
	if c := strings.Compare(a.From, b.From); c != 0 {
		return c
	}
	return strings.Compare(a.To, b.To)
}

func (m *txManager) Neighbors(ctx context.Context, id string, dir Direction, label string) ([]string, error) {
	var labels []string
	if label != "" {
		labels = []string{label}
	}
	edges, err := m.Edges(ctx, id, dir, labels...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.Other(id))
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}
