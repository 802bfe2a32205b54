package persistence

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// Validator checks bundle trees against the schema registry. It collects
// every violation rather than stopping at the first.
type Validator struct {
	reg *schema.Registry
}

// NewValidator returns a Validator for reg. A nil reg uses schema.Default().
func NewValidator(reg *schema.Registry) *Validator {
	if reg == nil {
		reg = schema.Default()
	}
	return &Validator{reg: reg}
}

// Validate checks mandatory fields, enumerated values, relation names and
// cardinalities, and the types of related bundles. Dependent children are
// checked recursively; referenced entities only need an id.
func (v *Validator) Validate(b *bundle.Bundle) *bundle.ErrorSet {
	eb := bundle.NewErrorSetBuilder()
	t, ok := v.reg.Lookup(b.Type())
	if !ok {
		eb.AddError(bundle.KeyType, fmt.Sprintf("unknown entity type %q", b.Type()))
		return eb.Build()
	}

	for _, key := range t.Mandatory {
		val, _ := b.DataValue(key)
		if blank(val) {
			eb.AddError(key, "is required")
		}
	}
	for _, key := range slices.Sorted(maps.Keys(t.Enums)) {
		val, ok := b.DataValue(key)
		if !ok || val == nil {
			continue
		}
		allowed := t.Enums[key]
		for _, e := range asList(val) {
			if s, ok := e.(string); !ok || !slices.Contains(allowed, s) {
				eb.AddError(key, fmt.Sprintf("value %v is not one of %s", e, strings.Join(allowed, ", ")))
			}
		}
	}

	for _, name := range b.RelationNames() {
		if _, ok := t.Relation(name); !ok {
			eb.AddError(name, fmt.Sprintf("unknown relation for %s", t.Name))
		}
	}
	for _, r := range t.Relations {
		n := len(b.Relations(r.Name))
		// Non-dependent references are not written through bundles, so
		// only their upper bound applies.
		if !r.Dependent && n == 0 {
			continue
		}
		if !r.Cardinality.Allows(n) {
			eb.AddError(r.Name, fmt.Sprintf("expected %s relation, got %d", r.Cardinality, n))
		}
	}

	for _, name := range b.RelationNames() {
		r, ok := t.Relation(name)
		if !ok {
			continue
		}
		for _, c := range b.Relations(name) {
			eb.AddRelation(name, v.validateChild(r, c))
		}
	}
	return eb.Build()
}

func (v *Validator) validateChild(r schema.Relation, c *bundle.Bundle) *bundle.ErrorSet {
	if r.Target != "" && c.Type() != r.Target {
		return bundle.FieldErrors(map[string][]string{
			bundle.KeyType: {fmt.Sprintf("expected %s, got %s", r.Target, c.Type())},
		})
	}
	if r.Dependent {
		return v.Validate(c)
	}
	if !c.HasID() {
		return bundle.FieldErrors(map[string][]string{
			bundle.KeyID: {"a reference to an existing item requires an id"},
		})
	}
	return nil
}

// CheckUnique reports unique-key values in b's dependent tree that are
// already used by another vertex of the same type. Ids must be resolved.
func (v *Validator) CheckUnique(ctx context.Context, m graph.Manager, b *bundle.Bundle) (*bundle.ErrorSet, error) {
	eb := bundle.NewErrorSetBuilder()
	t, ok := v.reg.Lookup(b.Type())
	if !ok {
		return eb.Build(), nil
	}
	for _, key := range t.Unique {
		val, ok := b.DataValue(key)
		if !ok || blank(val) {
			continue
		}
		vs, err := m.GetVerticesByProperty(ctx, key, val, b.Type())
		if err != nil {
			return nil, err
		}
		for _, other := range vs {
			if other.ID != b.ID() {
				eb.AddError(key, fmt.Sprintf("value %v is already used by %q", val, other.ID))
				break
			}
		}
	}
	for _, r := range t.DependentRelations() {
		for _, c := range b.Relations(r.Name) {
			cs, err := v.CheckUnique(ctx, m, c)
			if err != nil {
				return nil, err
			}
			eb.AddRelation(r.Name, cs)
		}
	}
	return eb.Build(), nil
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	}
	return false
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}
