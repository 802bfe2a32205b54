package persistence

import (
	"context"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// Serializer converts stored vertices back into bundles.
type Serializer struct {
	reg *schema.Registry

	// LinkDepth is how many levels of the tree include non-dependent
	// references, as id-only stubs. Zero omits them.
	LinkDepth int
}

// NewSerializer returns a Serializer for reg. A nil reg uses
// schema.Default().
func NewSerializer(reg *schema.Registry) *Serializer {
	if reg == nil {
		reg = schema.Default()
	}
	return &Serializer{reg: reg}
}

// WithLinkDepth returns a copy with LinkDepth set to n.
func (s *Serializer) WithLinkDepth(n int) *Serializer {
	c := *s
	c.LinkDepth = n
	return &c
}

// VertexToBundle builds the bundle for v, with every dependent descendant.
func (s *Serializer) VertexToBundle(ctx context.Context, m graph.Manager, v *graph.Vertex) (*bundle.Bundle, error) {
	b, err := s.serialize(ctx, m, v, 0, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return b.WithRegistry(s.reg), nil
}

func (s *Serializer) serialize(ctx context.Context, m graph.Manager, v *graph.Vertex, depth int, seen map[string]bool) (*bundle.Bundle, error) {
	seen[v.ID] = true
	b := bundle.New(v.Type).WithID(v.ID).WithData(v.Props)
	t, ok := s.reg.Lookup(v.Type)
	if !ok {
		return b, nil
	}
	for _, r := range t.Relations {
		if !r.Dependent && depth >= s.LinkDepth {
			continue
		}
		children, err := related(ctx, m, v.ID, r)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if !r.Dependent {
				b = b.WithRelation(r.Name, bundle.New(c.Type).WithID(c.ID))
				continue
			}
			if seen[c.ID] {
				continue
			}
			cb, err := s.serialize(ctx, m, c, depth+1, seen)
			if err != nil {
				return nil, err
			}
			b = b.WithRelation(r.Name, cb)
		}
	}
	return b, nil
}

// related returns the vertices reached from id through r, in id order.
func related(ctx context.Context, m graph.Manager, id string, r schema.Relation) ([]*graph.Vertex, error) {
	ids, err := m.Neighbors(ctx, id, graph.DirectionOf(r.Direction), r.Label)
	if err != nil {
		return nil, err
	}
	vs, err := m.GetVerticesByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := vs[:0]
	for _, v := range vs {
		if v == nil || (r.Target != "" && v.Type != r.Target) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
