// Package idgen computes entity ids from a scope chain and a bundle.
//
// Three strategies exist, selected per entity type by the schema registry:
//
//   - Identifiable: the scope chain plus the slugified "identifier" field,
//     joined with "-" and with repeated prefixes removed.
//   - Description: the joined scope chain, ".", then the language code and
//     optional identifier joined with "-".
//   - Generic: a time-ordered UUID.
//
// Generators are pure: the same scopes and bundle always give the same id,
// except for Generic.
package idgen

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// Sentinel errors.
var (
	// ErrMissingIdentifier is returned when a bundle lacks the field its
	// strategy derives the id from.
	ErrMissingIdentifier = errors.New("idgen: missing identifier")

	// ErrUnrecoverableCollision is returned by Generic.OnCollision. A
	// duplicate UUID is a fault, not something a user can correct.
	ErrUnrecoverableCollision = errors.New("idgen: unrecoverable id collision")

	// ErrUnknownType is returned for types missing from the registry.
	ErrUnknownType = errors.New("idgen: unknown entity type")
)

// Generator computes ids for one strategy.
type Generator interface {
	// Generate returns the id for b under scopes.
	Generate(scopes []string, b *bundle.Bundle) (string, error)

	// IDBase returns the segment b contributes to its children's scope
	// chain.
	IDBase(b *bundle.Bundle) string

	// OnCollision describes, field by field, why b's id is already taken.
	OnCollision(scopes []string, b *bundle.Bundle) (*bundle.ErrorSet, error)
}

// Options configures the generators. A nil *Options uses defaults.
type Options struct {
	// SlugReplace substitutes unsafe characters in id segments.
	// Default is "_".
	SlugReplace string

	// Registry selects each type's strategy and dependent relations.
	// Default is schema.Default().
	Registry *schema.Registry
}

func (o *Options) replace() string {
	if o != nil && o.SlugReplace != "" {
		return o.SlugReplace
	}
	return DefaultSlugReplace
}

func (o *Options) registry() *schema.Registry {
	if o != nil && o.Registry != nil {
		return o.Registry
	}
	return schema.Default()
}

// For returns the generator for strategy s.
func For(s schema.IDStrategy, opts *Options) (Generator, error) {
	switch s {
	case schema.Identifiable:
		return Identifiable{Replace: opts.replace()}, nil
	case schema.Description:
		return Description{Replace: opts.replace()}, nil
	case schema.Generic:
		return Generic{}, nil
	}
	return nil, fmt.Errorf("idgen: unknown strategy %q", s)
}

// ForType returns the generator for entity type t in the options'
// registry.
func ForType(t schema.EntityType, opts *Options) (Generator, error) {
	_, g, err := lookup(t, opts)
	return g, err
}

func lookup(t schema.EntityType, opts *Options) (*schema.Type, Generator, error) {
	st, ok := opts.registry().Lookup(t)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	g, err := For(st.IDStrategy, opts)
	return st, g, err
}

// ChildScopes returns the scope chain for b's dependent children.
func ChildScopes(scopes []string, g Generator, b *bundle.Bundle) []string {
	out := slices.Clip(slices.Clone(scopes))
	if base := g.IDBase(b); base != "" {
		out = append(out, base)
	}
	return out
}

// AssignIDs returns a copy of b in which b and every dependent descendant
// without an id has one generated. Children are scoped under their
// parent's id base. Non-dependent references are left untouched.
func AssignIDs(scopes []string, b *bundle.Bundle, opts *Options) (*bundle.Bundle, error) {
	st, g, err := lookup(b.Type(), opts)
	if err != nil {
		return nil, err
	}
	if !b.HasID() {
		id, err := g.Generate(scopes, b)
		if err != nil {
			return nil, err
		}
		b = b.WithGeneratedID(id)
	}
	next := ChildScopes(scopes, g, b)
	for _, name := range b.RelationNames() {
		if !st.IsDependent(name) {
			continue
		}
		children := b.Relations(name)
		for i, c := range children {
			nc, err := AssignIDs(next, c, opts)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			children[i] = nc
		}
		b = b.ReplaceRelations(name, children)
	}
	return b, nil
}

// Identifiable builds hierarchical ids from the identifier field.
type Identifiable struct {
	Replace string
}

func (g Identifiable) Generate(scopes []string, b *bundle.Bundle) (string, error) {
	base := g.IDBase(b)
	if base == "" {
		return "", fmt.Errorf("%w: %s has no %s", ErrMissingIdentifier, b.Type(), schema.IdentifierKey)
	}
	return JoinPath(append(slices.Clone(scopes), base), g.Replace), nil
}

// IDBase is the raw identifier; JoinPath slugifies it when joining.
func (g Identifiable) IDBase(b *bundle.Bundle) string {
	return strings.TrimSpace(identifier(b))
}

func (g Identifiable) OnCollision(scopes []string, b *bundle.Bundle) (*bundle.ErrorSet, error) {
	msg := fmt.Sprintf("an item with identifier %q already exists", identifier(b))
	if len(scopes) > 0 {
		msg += fmt.Sprintf(" in scope %q", JoinPath(scopes, g.Replace))
	}
	return bundle.FieldErrors(map[string][]string{schema.IdentifierKey: {msg}}), nil
}

// Description builds ids for descriptions from their parent scope, language
// code and optional identifier.
type Description struct {
	Replace string
}

func (g Description) Generate(scopes []string, b *bundle.Bundle) (string, error) {
	suffix := g.IDBase(b)
	if suffix == "" {
		return "", fmt.Errorf("%w: %s has no %s", ErrMissingIdentifier, b.Type(), schema.LanguageCodeKey)
	}
	return JoinPath(scopes, g.Replace) + DescriptionSeparator + suffix, nil
}

// IDBase is the language code and slugified identifier, "-" joined, with
// blanks skipped.
func (g Description) IDBase(b *bundle.Bundle) string {
	var parts []string
	if lang := strings.TrimSpace(b.DataString(schema.LanguageCodeKey)); lang != "" {
		parts = append(parts, Slugify(lang, g.Replace))
	}
	if ident := Slugify(identifier(b), g.Replace); ident != "" {
		parts = append(parts, ident)
	}
	return strings.Join(parts, HierarchySeparator)
}

func (g Description) OnCollision(scopes []string, b *bundle.Bundle) (*bundle.ErrorSet, error) {
	msg := fmt.Sprintf("a description in language %q", b.DataString(schema.LanguageCodeKey))
	if ident := identifier(b); ident != "" {
		msg += fmt.Sprintf(" with identifier %q", ident)
	}
	msg += fmt.Sprintf(" already exists for %q", JoinPath(scopes, g.Replace))
	return bundle.FieldErrors(map[string][]string{schema.LanguageCodeKey: {msg}}), nil
}

// Generic assigns time-ordered UUIDs.
type Generic struct{}

func (Generic) Generate([]string, *bundle.Bundle) (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idgen: new uuid: %w", err)
	}
	return u.String(), nil
}

// IDBase is empty; generic ids do not extend the scope chain.
func (Generic) IDBase(*bundle.Bundle) string { return "" }

func (Generic) OnCollision(_ []string, b *bundle.Bundle) (*bundle.ErrorSet, error) {
	return nil, fmt.Errorf("%w: %s %s", ErrUnrecoverableCollision, b.Type(), b.ID())
}

// identifier reads the identifier field, accepting non-string values.
func identifier(b *bundle.Bundle) string {
	v, ok := b.DataValue(schema.IdentifierKey)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
