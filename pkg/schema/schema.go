// Package schema is the static entity-type registry. Each EntityType carries
// its id-generation strategy, its relation table (which relations are owned
// and cascade, which are plain references) and the field rules the
// persistence layer validates against.
//
// The built-in registry is parsed once from an embedded YAML table and is
// read-only afterwards.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/goccy/go-yaml"
)

// EntityType names a kind of entity, e.g. "DocumentaryUnit".
type EntityType string

// Built-in entity types.
const (
	Country                    EntityType = "Country"
	Repository                 EntityType = "Repository"
	RepositoryDescription      EntityType = "RepositoryDescription"
	DocumentaryUnit            EntityType = "DocumentaryUnit"
	DocumentaryUnitDescription EntityType = "DocumentaryUnitDescription"
	HistoricalAgent            EntityType = "HistoricalAgent"
	HistoricalAgentDescription EntityType = "HistoricalAgentDescription"
	CvocVocabulary             EntityType = "CvocVocabulary"
	CvocConcept                EntityType = "CvocConcept"
	CvocConceptDescription     EntityType = "CvocConceptDescription"
	DatePeriod                 EntityType = "DatePeriod"
	Address                    EntityType = "Address"
	AccessPoint                EntityType = "AccessPoint"
	MaintenanceEvent           EntityType = "MaintenanceEvent"
	UnknownProperty            EntityType = "UnknownProperty"
	UserProfile                EntityType = "UserProfile"
	Group                      EntityType = "Group"
	Annotation                 EntityType = "Annotation"
	Link                       EntityType = "Link"
)

// Well-known data keys.
const (
	IdentifierKey   = "identifier"
	LanguageCodeKey = "languageCode"
	NameKey         = "name"
)

// IDStrategy selects how ids are computed for a type.
type IDStrategy string

const (
	// Identifiable ids are the scope chain joined with the slugified
	// identifier field.
	Identifiable IDStrategy = "identifiable"
	// Description ids are the scope chain plus language code and optional
	// identifier.
	Description IDStrategy = "description"
	// Generic ids are time-ordered UUIDs.
	Generic IDStrategy = "generic"
)

// Direction of an edge relative to the entity declaring the relation.
type Direction string

const (
	Out Direction = "out"
	In  Direction = "in"
)

// Cardinality bounds the number of children a relation may carry.
type Cardinality string

const (
	Many       Cardinality = "many"
	One        Cardinality = "one"          // zero or one
	Required   Cardinality = "required"     // exactly one
	AtLeastOne Cardinality = "at-least-one" // one or more
)

// Allows reports whether n children satisfy c.
func (c Cardinality) Allows(n int) bool {
	switch c {
	case One:
		return n <= 1
	case Required:
		return n == 1
	case AtLeastOne:
		return n >= 1
	default:
		return true
	}
}

// Relation describes one named relation of a type.
type Relation struct {
	Name        string      `yaml:"name"`
	Label       string      `yaml:"label"`
	Direction   Direction   `yaml:"direction"`
	Dependent   bool        `yaml:"dependent"`
	Cardinality Cardinality `yaml:"cardinality"`
	// Target is the expected child type. Empty means any type.
	Target EntityType `yaml:"target"`
}

// Type is a registry entry.
type Type struct {
	Name       EntityType          `yaml:"name"`
	IDStrategy IDStrategy          `yaml:"id_strategy"`
	Relations  []Relation          `yaml:"relations"`
	Mandatory  []string            `yaml:"mandatory"`
	Unique     []string            `yaml:"unique"`
	Indexed    []string            `yaml:"indexed"`
	Enums      map[string][]string `yaml:"enums"`
}

// Relation returns the relation named name.
func (t *Type) Relation(name string) (Relation, bool) {
	for _, r := range t.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// IsDependent reports whether name is an owned relation of t.
func (t *Type) IsDependent(name string) bool {
	r, ok := t.Relation(name)
	return ok && r.Dependent
}

// DependentRelations returns the owned relations in declared order.
func (t *Type) DependentRelations() []Relation {
	var out []Relation
	for _, r := range t.Relations {
		if r.Dependent {
			out = append(out, r)
		}
	}
	return out
}

// IsIndexed reports whether key may be used for property lookups.
func (t *Type) IsIndexed(key string) bool {
	return slices.Contains(t.Indexed, key)
}

func (t *Type) validate() error {
	if t.Name == "" {
		return errors.New("type without name")
	}
	switch t.IDStrategy {
	case Identifiable, Description, Generic:
	default:
		return fmt.Errorf("%s: unknown id strategy %q", t.Name, t.IDStrategy)
	}
	seen := make(map[string]bool)
	for i := range t.Relations {
		r := &t.Relations[i]
		if r.Name == "" || r.Label == "" {
			return fmt.Errorf("%s: relation %d needs name and label", t.Name, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%s: duplicate relation %q", t.Name, r.Name)
		}
		seen[r.Name] = true
		switch r.Direction {
		case Out, In:
		default:
			return fmt.Errorf("%s.%s: bad direction %q", t.Name, r.Name, r.Direction)
		}
		switch r.Cardinality {
		case "":
			r.Cardinality = Many
		case Many, One, Required, AtLeastOne:
		default:
			return fmt.Errorf("%s.%s: bad cardinality %q", t.Name, r.Name, r.Cardinality)
		}
		if r.Dependent && r.Target == "" {
			return fmt.Errorf("%s.%s: dependent relation needs a target", t.Name, r.Name)
		}
	}
	for _, k := range t.Unique {
		if !t.IsIndexed(k) {
			return fmt.Errorf("%s: unique key %q must be indexed", t.Name, k)
		}
	}
	return nil
}

// Registry is an immutable set of types.
type Registry struct {
	types map[EntityType]*Type
	order []EntityType
}

// Parse builds a registry from a YAML list of types.
func Parse(data []byte) (*Registry, error) {
	var types []*Type
	if err := yaml.Unmarshal(data, &types); err != nil {
		return nil, fmt.Errorf("schema: unmarshal yaml: %w", err)
	}
	r := &Registry{types: make(map[EntityType]*Type, len(types))}
	for _, t := range types {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		if _, dup := r.types[t.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate type %q", t.Name)
		}
		r.types[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	for _, t := range types {
		for _, rel := range t.Relations {
			if rel.Target != "" {
				if _, ok := r.types[rel.Target]; !ok {
					return nil, fmt.Errorf("schema: %s.%s: unknown target %q", t.Name, rel.Name, rel.Target)
				}
			}
		}
	}
	return r, nil
}

// Lookup returns the type named name.
func (r *Registry) Lookup(name EntityType) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// MustLookup is Lookup for names known to be registered.
func (r *Registry) MustLookup(name EntityType) *Type {
	t, ok := r.types[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown type %q", name))
	}
	return t
}

// Types returns all types in declaration order.
func (r *Registry) Types() []*Type {
	out := make([]*Type, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.types[n])
	}
	return out
}

//go:embed types.yaml
var builtinTypes []byte

var loadDefault = sync.OnceValue(func() *Registry {
	r, err := Parse(builtinTypes)
	if err != nil {
		panic(err)
	}
	return r
})

// Default returns the built-in registry.
func Default() *Registry {
	return loadDefault()
}

// Lookup finds name in the built-in registry.
func Lookup(name EntityType) (*Type, bool) {
	return Default().Lookup(name)
}
