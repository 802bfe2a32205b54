// Package graph provides typed vertex and edge storage over a transactional
// KV store. Vertices are identified by unique string ids, carry an entity
// type and a property bag, and are connected by labelled directed edges
// stored with forward and reverse indexes.
//
// All access goes through a Manager bound to one KV transaction:
//
//	err := g.Update(ctx, func(m graph.Manager) error {
//		v, err := m.CreateVertex(ctx, "nl-r1", schema.Repository, data)
//		...
//	})
//
// Two index strategies implement the same contract. The shared strategy
// keeps one property index for every type and filters by type on read; the
// label strategy keeps a separate index keyspace per entity type. Results
// of type and property lookups are always in ascending id order.
package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// Reserved property keys. They are derived from the vertex record and can
// never be set as ordinary properties.
const (
	IDKey   = "__id"
	TypeKey = "__type"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a vertex does not exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrIntegrity is returned when a write would break id uniqueness.
	ErrIntegrity = errors.New("graph: integrity violation")

	// ErrIllegalArgument is returned for blank or reserved property keys,
	// unindexed lookups and ids that cannot be encoded as key segments.
	ErrIllegalArgument = errors.New("graph: illegal argument")
)

// NotFoundError reports a missing vertex. Type is set when the lookup was
// restricted to one entity type.
type NotFoundError struct {
	ID   string
	Type schema.EntityType
}

func (e *NotFoundError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("graph: %s %q not found", e.Type, e.ID)
	}
	return fmt.Sprintf("graph: vertex %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IntegrityError reports a duplicate id.
type IntegrityError struct {
	ID  string
	Msg string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("graph: %s: %s", e.ID, e.Msg)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func illegalArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalArgument, fmt.Sprintf(format, args...))
}

// Vertex is a stored entity. Props never contains the reserved keys and
// holds values in the shapes produced by bundle.Normalize.
type Vertex struct {
	ID    string
	Type  schema.EntityType
	Props map[string]any
}

// Property returns the value for key. The reserved keys report the id and
// type.
func (v *Vertex) Property(key string) (any, bool) {
	switch key {
	case IDKey:
		return v.ID, true
	case TypeKey:
		return string(v.Type), true
	}
	val, ok := v.Props[key]
	return val, ok
}

// PropertyKeys returns the property keys in sorted order.
func (v *Vertex) PropertyKeys() []string {
	return slices.Sorted(maps.Keys(v.Props))
}

func (v *Vertex) String() string {
	return fmt.Sprintf("%s(%s)", v.Type, v.ID)
}

// Direction selects edges relative to a vertex.
type Direction int

const (
	// Out selects edges leaving the vertex.
	Out Direction = iota
	// In selects edges arriving at the vertex.
	In
	// Both selects edges in either direction.
	Both
)

// DirectionOf maps a schema relation direction.
func DirectionOf(d schema.Direction) Direction {
	if d == schema.In {
		return In
	}
	return Out
}

// Edge is a labelled directed edge between two vertices.
type Edge struct {
	From  string `json:"from"`
	Label string `json:"label"`
	To    string `json:"to"`
}

// Other returns the endpoint of e that is not id.
func (e Edge) Other(id string) string {
	if e.From == id {
		return e.To
	}
	return e.From
}

// Manager is the typed CRUD contract over the graph. A Manager is bound to
// one transaction and must not be used after the Update or View callback
// that supplied it returns.
type Manager interface {
	// --- Vertex operations ---

	// Exists reports whether a vertex with id exists.
	Exists(ctx context.Context, id string) (bool, error)

	// GetVertex returns the vertex with id or a *NotFoundError.
	GetVertex(ctx context.Context, id string) (*Vertex, error)

	// CreateVertex stores a new vertex. Nil values are skipped. Returns an
	// *IntegrityError if id is taken.
	CreateVertex(ctx context.Context, id string, t schema.EntityType, data map[string]any) (*Vertex, error)

	// UpdateVertex replaces every property of an existing vertex with data,
	// except "_"-prefixed metadata which is left as stored.
	UpdateVertex(ctx context.Context, id string, t schema.EntityType, data map[string]any) (*Vertex, error)

	// SetProperty sets one property on v and in the store. A nil value
	// removes the property.
	SetProperty(ctx context.Context, v *Vertex, key string, value any) error

	// RenameVertex moves v from oldID to newID keeping its properties and
	// edges. Returns an *IntegrityError if newID is taken.
	RenameVertex(ctx context.Context, v *Vertex, oldID, newID string) error

	// DeleteVertex removes the vertex with id and all its edges.
	DeleteVertex(ctx context.Context, id string) error

	// RemoveVertex is DeleteVertex for a loaded vertex; a vertex that is
	// already gone is not an error.
	RemoveVertex(ctx context.Context, v *Vertex) error

	// --- Typed reads ---

	// GetVertices iterates over the vertices of type t.
	GetVertices(ctx context.Context, t schema.EntityType) iter.Seq2[*Vertex, error]

	// GetVerticesByID loads ids in order. Missing ids give nil entries.
	GetVerticesByID(ctx context.Context, ids []string) ([]*Vertex, error)

	// GetVerticesByProperty returns the vertices of type t whose property
	// key equals value. List-valued properties match on any element. Only
	// keys declared indexed for t may be queried.
	GetVerticesByProperty(ctx context.Context, key string, value any, t schema.EntityType) ([]*Vertex, error)

	// GetEntity returns the vertex with id if it has type t.
	GetEntity(ctx context.Context, id string, t schema.EntityType) (*Vertex, error)

	// Find returns the vertices matching f.
	Find(ctx context.Context, f Finder) ([]*Vertex, error)

	// --- Edge operations ---

	// AddEdge links from to to with label. Both vertices must exist.
	// Adding an existing edge is a no-op.
	AddEdge(ctx context.Context, from, label, to string) error

	// RemoveEdge unlinks from and to. Removing a missing edge is a no-op.
	RemoveEdge(ctx context.Context, from, label, to string) error

	// HasEdge reports whether the edge exists.
	HasEdge(ctx context.Context, from, label, to string) (bool, error)

	// Edges returns the edges of id in direction dir, restricted to labels
	// when any are given.
	Edges(ctx context.Context, id string, dir Direction, labels ...string) ([]Edge, error)

	// Neighbors returns the sorted ids adjacent to id through label.
	Neighbors(ctx context.Context, id string, dir Direction, label string) ([]string, error)
}

// Frame loads the vertex id of type t and converts it with shape.
func Frame[T any](ctx context.Context, m Manager, id string, t schema.EntityType, shape func(*Vertex) (T, error)) (T, error) {
	v, err := m.GetEntity(ctx, id, t)
	if err != nil {
		var zero T
		return zero, err
	}
	return shape(v)
}

// checkKey rejects blank and reserved property keys.
func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return illegalArgf("blank property key")
	}
	if key == IDKey || key == TypeKey {
		return illegalArgf("property key %q is reserved", key)
	}
	return nil
}

// normalizeProps copies data, normalizing values and dropping nils.
func normalizeProps(data map[string]any) (map[string]any, error) {
	props := make(map[string]any, len(data))
	for k, v := range data {
		if err := checkKey(k); err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		props[k] = bundle.Normalize(v)
	}
	return props, nil
}
