package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/idgen"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// BundleManager writes bundle trees to a graph.
type BundleManager struct {
	g          *graph.Graph
	reg        *schema.Registry
	scopes     []string
	idOpts     *idgen.Options
	log        *slog.Logger
	metrics    *metrics
	validator  *Validator
	serializer *Serializer
}

// Option configures a BundleManager.
type Option func(*options)

type options struct {
	scopes      []string
	slugReplace string
	logger      *slog.Logger
	registerer  prometheus.Registerer
}

// WithScope sets the scope chain, outermost first, that new top-level ids
// are computed under.
func WithScope(ids ...string) Option {
	return func(o *options) { o.scopes = slices.Clone(ids) }
}

// WithSlugReplace sets the replacement for unsafe characters in generated
// ids.
func WithSlugReplace(s string) Option {
	return func(o *options) { o.slugReplace = s }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers mutation counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// NewBundleManager returns a BundleManager writing to g.
func NewBundleManager(g *graph.Graph, opts ...Option) (*BundleManager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	m := &BundleManager{
		g:      g,
		reg:    g.Registry(),
		scopes: o.scopes,
		idOpts: &idgen.Options{SlugReplace: o.slugReplace, Registry: g.Registry()},
		log:    o.logger,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "persistence")
	if o.registerer != nil {
		mt, err := newMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("persistence: register metrics: %w", err)
		}
		m.metrics = mt
	}
	m.validator = NewValidator(m.reg)
	m.serializer = NewSerializer(m.reg)
	return m, nil
}

// WithScope returns a copy of m that computes top-level ids under scopes.
func (m *BundleManager) WithScope(ids ...string) *BundleManager {
	c := *m
	c.scopes = slices.Clone(ids)
	return &c
}

// Scopes returns the scope chain.
func (m *BundleManager) Scopes() []string { return slices.Clone(m.scopes) }

type mode int

const (
	modeCreate mode = iota
	modeUpdate
	modeUpsert
)

// Create writes b, which must not exist yet, and all its dependents.
func (m *BundleManager) Create(ctx context.Context, b *bundle.Bundle) (*graph.Vertex, error) {
	mut, err := m.write(ctx, b, modeCreate)
	if err != nil {
		return nil, err
	}
	return mut.Node, nil
}

// Update rewrites the existing entity b.ID() and reconciles its dependents.
func (m *BundleManager) Update(ctx context.Context, b *bundle.Bundle) (Mutation[*graph.Vertex], error) {
	return m.write(ctx, b, modeUpdate)
}

// CreateOrUpdate creates b or, if its id already names an entity of the
// same type, updates it. Writing an identical tree twice gives Created and
// then Unchanged.
func (m *BundleManager) CreateOrUpdate(ctx context.Context, b *bundle.Bundle) (Mutation[*graph.Vertex], error) {
	return m.write(ctx, b, modeUpsert)
}

func (m *BundleManager) write(ctx context.Context, b *bundle.Bundle, md mode) (Mutation[*graph.Vertex], error) {
	var mut Mutation[*graph.Vertex]
	err := m.g.Update(ctx, func(gm graph.Manager) error {
		var err error
		mut, err = m.upsert(ctx, gm, b, md)
		return err
	})
	if err != nil {
		return Mutation[*graph.Vertex]{}, err
	}
	m.metrics.mutation(b.Type(), mut.State)
	m.log.DebugContext(ctx, "bundle written", "type", b.Type(), "id", mut.Node.ID, "state", mut.State)
	return mut, nil
}

func (m *BundleManager) upsert(ctx context.Context, gm graph.Manager, b *bundle.Bundle, md mode) (Mutation[*graph.Vertex], error) {
	var none Mutation[*graph.Vertex]
	b = b.WithRegistry(m.reg)

	if md == modeUpdate && !b.HasID() {
		errs := bundle.FieldErrors(map[string][]string{
			bundle.KeyID: {"an id is required to update an item"},
		})
		return none, &ValidationError{Bundle: b, Errors: errs}
	}
	if errs := m.validator.Validate(b); !errs.IsEmpty() {
		return none, &ValidationError{Bundle: b, Errors: errs}
	}

	// Resolve ids for the root and every dependent child.
	b, err := idgen.AssignIDs(m.scopes, b, m.idOpts)
	if err != nil {
		return none, err
	}

	existing, err := gm.GetVertex(ctx, b.ID())
	if err != nil && !errors.Is(err, graph.ErrNotFound) {
		return none, err
	}
	if md == modeUpdate && (existing == nil || existing.Type != b.Type()) {
		return none, &graph.NotFoundError{ID: b.ID(), Type: b.Type()}
	}
	allowed := md != modeCreate && existing != nil && existing.Type == b.Type()

	// Collisions and unique values are checked before anything is written.
	cs, err := m.collisions(ctx, gm, m.scopes, b, allowed)
	if err != nil {
		return none, err
	}
	if !cs.IsEmpty() {
		return none, &CollisionError{ID: b.ID(), Errors: cs}
	}
	if us, err := m.validator.CheckUnique(ctx, gm, b); err != nil {
		return none, err
	} else if !us.IsEmpty() {
		return none, &ValidationError{Bundle: b, Errors: us}
	}

	if allowed {
		return m.updateTree(ctx, gm, m.scopes, b, existing)
	}
	v, err := m.createTree(ctx, gm, m.scopes, b)
	if err != nil {
		return none, err
	}
	return Mutation[*graph.Vertex]{Node: v, State: Created}, nil
}

func (m *BundleManager) generator(t schema.EntityType) (idgen.Generator, *schema.Type, error) {
	st, ok := m.reg.Lookup(t)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", idgen.ErrUnknownType, t)
	}
	gen, err := idgen.For(st.IDStrategy, m.idOpts)
	return gen, st, err
}

// collisions walks b's dependent tree and reports every id that is already
// taken. allowed says whether b may reuse its existing vertex; a child may
// reuse a vertex that is currently its parent's dependent on the same
// relation.
func (m *BundleManager) collisions(ctx context.Context, gm graph.Manager, scopes []string, b *bundle.Bundle, allowed bool) (*bundle.ErrorSet, error) {
	gen, t, err := m.generator(b.Type())
	if err != nil {
		return nil, err
	}
	existing, err := gm.GetVertex(ctx, b.ID())
	if err != nil && !errors.Is(err, graph.ErrNotFound) {
		return nil, err
	}
	if existing != nil && (!allowed || existing.Type != b.Type()) {
		if !b.HasGeneratedID() {
			return nil, &graph.IntegrityError{ID: b.ID(), Msg: fmt.Sprintf("id is already used by a %s", existing.Type)}
		}
		return gen.OnCollision(scopes, b)
	}

	eb := bundle.NewErrorSetBuilder()
	next := idgen.ChildScopes(scopes, gen, b)
	for _, r := range t.DependentRelations() {
		kids := b.Relations(r.Name)
		if len(kids) == 0 {
			continue
		}
		current := map[string]bool{}
		if existing != nil {
			vs, err := related(ctx, gm, b.ID(), r)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				current[v.ID] = true
			}
		}
		seen := map[string]bool{}
		for _, c := range kids {
			var cs *bundle.ErrorSet
			if seen[c.ID()] {
				cs, err = m.duplicate(next, c)
			} else {
				seen[c.ID()] = true
				cs, err = m.collisions(ctx, gm, next, c, current[c.ID()])
			}
			if err != nil {
				return nil, err
			}
			eb.AddRelation(r.Name, cs)
		}
	}
	return eb.Build(), nil
}

// duplicate describes a child whose id repeats one of its siblings'.
func (m *BundleManager) duplicate(scopes []string, c *bundle.Bundle) (*bundle.ErrorSet, error) {
	if !c.HasGeneratedID() {
		return bundle.FieldErrors(map[string][]string{
			bundle.KeyID: {fmt.Sprintf("id %q appears more than once", c.ID())},
		}), nil
	}
	gen, _, err := m.generator(c.Type())
	if err != nil {
		return nil, err
	}
	return gen.OnCollision(scopes, c)
}

// createTree creates b and its dependents, which must all be new.
func (m *BundleManager) createTree(ctx context.Context, gm graph.Manager, scopes []string, b *bundle.Bundle) (*graph.Vertex, error) {
	gen, t, err := m.generator(b.Type())
	if err != nil {
		return nil, err
	}
	v, err := gm.CreateVertex(ctx, b.ID(), b.Type(), b.UnmanagedData())
	if err != nil {
		return nil, err
	}
	next := idgen.ChildScopes(scopes, gen, b)
	for _, r := range t.DependentRelations() {
		for _, c := range b.Relations(r.Name) {
			cv, err := m.createTree(ctx, gm, next, c)
			if err != nil {
				return nil, err
			}
			if err := addEdge(ctx, gm, v.ID, r, cv.ID); err != nil {
				return nil, err
			}
		}
	}
	if err := m.checkReferences(ctx, gm, t, b); err != nil {
		return nil, err
	}
	return v, nil
}

// updateTree brings the stored tree under v in line with b.
func (m *BundleManager) updateTree(ctx context.Context, gm graph.Manager, scopes []string, b *bundle.Bundle, v *graph.Vertex) (Mutation[*graph.Vertex], error) {
	var none Mutation[*graph.Vertex]
	gen, t, err := m.generator(b.Type())
	if err != nil {
		return none, err
	}
	if err := m.checkReferences(ctx, gm, t, b); err != nil {
		return none, err
	}
	prior, err := m.serializer.VertexToBundle(ctx, gm, v)
	if err != nil {
		return none, err
	}
	if prior.DataHash() == b.DataHash() {
		m.log.DebugContext(ctx, "skipping unchanged item", "type", b.Type(), "id", v.ID)
		return Mutation[*graph.Vertex]{Node: v, State: Unchanged}, nil
	}

	nv, err := gm.UpdateVertex(ctx, v.ID, b.Type(), b.UnmanagedData())
	if err != nil {
		return none, err
	}
	next := idgen.ChildScopes(scopes, gen, b)
	for _, r := range t.DependentRelations() {
		current, err := related(ctx, gm, v.ID, r)
		if err != nil {
			return none, err
		}
		byID := make(map[string]*graph.Vertex, len(current))
		for _, cv := range current {
			byID[cv.ID] = cv
		}
		keep := map[string]bool{}
		for _, c := range b.Relations(r.Name) {
			if cv, ok := byID[c.ID()]; ok {
				keep[c.ID()] = true
				if _, err := m.updateTree(ctx, gm, next, c, cv); err != nil {
					return none, err
				}
				continue
			}
			cv, err := m.createTree(ctx, gm, next, c)
			if err != nil {
				return none, err
			}
			if err := addEdge(ctx, gm, v.ID, r, cv.ID); err != nil {
				return none, err
			}
		}
		for _, cv := range current {
			if keep[cv.ID] {
				continue
			}
			n, err := m.deleteTree(ctx, gm, cv, map[string]bool{})
			if err != nil {
				return none, err
			}
			m.log.DebugContext(ctx, "removed dependent", "parent", v.ID, "relation", r.Name, "id", cv.ID, "vertices", n)
		}
	}
	return Mutation[*graph.Vertex]{Node: nv, State: Updated, Prior: prior}, nil
}

// checkReferences verifies that every non-dependent child of b names an
// existing entity of the declared type. The references are not written.
func (m *BundleManager) checkReferences(ctx context.Context, gm graph.Manager, t *schema.Type, b *bundle.Bundle) error {
	for _, r := range t.Relations {
		if r.Dependent {
			continue
		}
		for _, c := range b.Relations(r.Name) {
			if _, err := gm.GetEntity(ctx, c.ID(), c.Type()); err != nil {
				return fmt.Errorf("%s: %w", r.Name, err)
			}
		}
	}
	return nil
}

// addEdge links parent and child following r's direction.
func addEdge(ctx context.Context, gm graph.Manager, parent string, r schema.Relation, child string) error {
	if r.Direction == schema.In {
		return gm.AddEdge(ctx, child, r.Label, parent)
	}
	return gm.AddEdge(ctx, parent, r.Label, child)
}

func removeEdge(ctx context.Context, gm graph.Manager, parent string, r schema.Relation, child string) error {
	if r.Direction == schema.In {
		return gm.RemoveEdge(ctx, child, r.Label, parent)
	}
	return gm.RemoveEdge(ctx, parent, r.Label, child)
}

// Delete removes the entity b names and its whole dependent tree, returning
// the number of vertices removed. Edges to entities outside the tree are
// severed; those entities stay.
func (m *BundleManager) Delete(ctx context.Context, b *bundle.Bundle) (int, error) {
	id := b.ID()
	if id == "" {
		gen, _, err := m.generator(b.Type())
		if err != nil {
			return 0, err
		}
		if id, err = gen.Generate(m.scopes, b); err != nil {
			return 0, err
		}
	}
	return m.delete(ctx, func(gm graph.Manager) (*graph.Vertex, error) {
		return gm.GetEntity(ctx, id, b.Type())
	})
}

// DeleteByID is Delete for an id of any type.
func (m *BundleManager) DeleteByID(ctx context.Context, id string) (int, error) {
	return m.delete(ctx, func(gm graph.Manager) (*graph.Vertex, error) {
		return gm.GetVertex(ctx, id)
	})
}

func (m *BundleManager) delete(ctx context.Context, load func(graph.Manager) (*graph.Vertex, error)) (int, error) {
	var (
		n    int
		root *graph.Vertex
	)
	err := m.g.Update(ctx, func(gm graph.Manager) error {
		var err error
		if root, err = load(gm); err != nil {
			return err
		}
		n, err = m.deleteTree(ctx, gm, root, map[string]bool{})
		return err
	})
	if err != nil {
		return 0, err
	}
	m.metrics.deletion(root.Type, n)
	m.log.DebugContext(ctx, "deleted item", "type", root.Type, "id", root.ID, "vertices", n)
	return n, nil
}

// deleteTree removes v and its dependents depth-first.
func (m *BundleManager) deleteTree(ctx context.Context, gm graph.Manager, v *graph.Vertex, seen map[string]bool) (int, error) {
	if seen[v.ID] {
		return 0, nil
	}
	seen[v.ID] = true
	n := 0
	if t, ok := m.reg.Lookup(v.Type); ok {
		for _, r := range t.DependentRelations() {
			children, err := related(ctx, gm, v.ID, r)
			if err != nil {
				return 0, err
			}
			for _, c := range children {
				k, err := m.deleteTree(ctx, gm, c, seen)
				if err != nil {
					return 0, err
				}
				n += k
			}
		}
	}
	if err := gm.DeleteVertex(ctx, v.ID); err != nil {
		return 0, err
	}
	return n + 1, nil
}

// Link adds a non-dependent relation from fromID to toID. The relation
// must be declared by fromID's type and toID must have its target type.
func (m *BundleManager) Link(ctx context.Context, fromID, relation, toID string) error {
	return m.g.Update(ctx, func(gm graph.Manager) error {
		from, r, err := m.reference(ctx, gm, fromID, relation, toID)
		if err != nil {
			return err
		}
		if r.Cardinality == schema.One || r.Cardinality == schema.Required {
			existing, err := related(ctx, gm, from.ID, r)
			if err != nil {
				return err
			}
			for _, e := range existing {
				if e.ID != toID {
					if err := removeEdge(ctx, gm, from.ID, r, e.ID); err != nil {
						return err
					}
				}
			}
		}
		return addEdge(ctx, gm, from.ID, r, toID)
	})
}

// Unlink removes a non-dependent relation.
func (m *BundleManager) Unlink(ctx context.Context, fromID, relation, toID string) error {
	return m.g.Update(ctx, func(gm graph.Manager) error {
		from, r, err := m.reference(ctx, gm, fromID, relation, toID)
		if err != nil {
			return err
		}
		return removeEdge(ctx, gm, from.ID, r, toID)
	})
}

func (m *BundleManager) reference(ctx context.Context, gm graph.Manager, fromID, relation, toID string) (*graph.Vertex, schema.Relation, error) {
	from, err := gm.GetVertex(ctx, fromID)
	if err != nil {
		return nil, schema.Relation{}, err
	}
	t, ok := m.reg.Lookup(from.Type)
	if !ok {
		return nil, schema.Relation{}, fmt.Errorf("%w: %s", idgen.ErrUnknownType, from.Type)
	}
	r, ok := t.Relation(relation)
	if !ok {
		return nil, schema.Relation{}, fmt.Errorf("%w: %s has no relation %q", graph.ErrIllegalArgument, from.Type, relation)
	}
	if r.Dependent {
		return nil, schema.Relation{}, fmt.Errorf("%w: %s.%s is dependent and managed through bundles", graph.ErrIllegalArgument, from.Type, relation)
	}
	to, err := gm.GetVertex(ctx, toID)
	if err != nil {
		return nil, schema.Relation{}, err
	}
	if r.Target != "" && to.Type != r.Target {
		return nil, schema.Relation{}, &graph.NotFoundError{ID: toID, Type: r.Target}
	}
	return from, r, nil
}

// Get returns the stored bundle for id with its dependents and, one level
// deep, its references.
func (m *BundleManager) Get(ctx context.Context, id string) (*bundle.Bundle, error) {
	var b *bundle.Bundle
	err := m.g.View(ctx, func(gm graph.Manager) error {
		v, err := gm.GetVertex(ctx, id)
		if err != nil {
			return err
		}
		b, err = m.serializer.WithLinkDepth(1).VertexToBundle(ctx, gm, v)
		return err
	})
	return b, err
}
