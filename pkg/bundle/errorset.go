package bundle

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// ErrorSet is an immutable tree of validation messages mirroring the shape
// of a bundle: messages keyed by data field at each node, and one child
// ErrorSet per child bundle under the same relation name and position.
type ErrorSet struct {
	errors   map[string][]string
	relNames []string
	rels     map[string][]*ErrorSet
}

// ErrorSetBuilder accumulates messages for one ErrorSet node.
type ErrorSetBuilder struct {
	set ErrorSet
}

// NewErrorSetBuilder returns an empty builder.
func NewErrorSetBuilder() *ErrorSetBuilder {
	return &ErrorSetBuilder{set: ErrorSet{
		errors: make(map[string][]string),
		rels:   make(map[string][]*ErrorSet),
	}}
}

// AddError appends msg to the messages for key.
func (b *ErrorSetBuilder) AddError(key, msg string) *ErrorSetBuilder {
	b.set.errors[key] = append(b.set.errors[key], msg)
	return b
}

// AddRelation appends child under name. Empty children are kept so that
// positions line up with the bundle's children.
func (b *ErrorSetBuilder) AddRelation(name string, child *ErrorSet) *ErrorSetBuilder {
	if child == nil {
		child = &ErrorSet{}
	}
	if _, ok := b.set.rels[name]; !ok {
		b.set.relNames = append(b.set.relNames, name)
	}
	b.set.rels[name] = append(b.set.rels[name], child)
	return b
}

// Build returns the accumulated ErrorSet. The builder must not be used
// afterwards.
func (b *ErrorSetBuilder) Build() *ErrorSet {
	s := b.set
	return &s
}

// FieldErrors returns a single-node ErrorSet from a key → messages map.
func FieldErrors(errs map[string][]string) *ErrorSet {
	b := NewErrorSetBuilder()
	for _, k := range slices.Sorted(maps.Keys(errs)) {
		for _, m := range errs[k] {
			b.AddError(k, m)
		}
	}
	return b.Build()
}

// Errors returns a copy of this node's messages.
func (s *ErrorSet) Errors() map[string][]string {
	out := make(map[string][]string, len(s.errors))
	for k, v := range s.errors {
		out[k] = slices.Clone(v)
	}
	return out
}

// ErrorsFor returns the messages recorded for key at this node.
func (s *ErrorSet) ErrorsFor(key string) []string {
	return slices.Clone(s.errors[key])
}

// RelationNames returns the relation names in insertion order.
func (s *ErrorSet) RelationNames() []string {
	return slices.Clone(s.relNames)
}

// Relations returns the child error sets under name.
func (s *ErrorSet) Relations(name string) []*ErrorSet {
	return slices.Clone(s.rels[name])
}

// IsEmpty reports whether the tree holds no messages at any depth.
func (s *ErrorSet) IsEmpty() bool {
	if s == nil {
		return true
	}
	for _, msgs := range s.errors {
		if len(msgs) > 0 {
			return false
		}
	}
	for _, children := range s.rels {
		for _, c := range children {
			if !c.IsEmpty() {
				return false
			}
		}
	}
	return true
}

// Flatten returns "path/field: message" lines for every message in the
// tree, in a stable order.
func (s *ErrorSet) Flatten() []string {
	var out []string
	s.flatten("", &out)
	return out
}

func (s *ErrorSet) flatten(path string, out *[]string) {
	for _, k := range slices.Sorted(maps.Keys(s.errors)) {
		for _, m := range s.errors[k] {
			*out = append(*out, joinPath(path, k)+": "+m)
		}
	}
	for _, name := range s.relNames {
		for i, c := range s.rels[name] {
			c.flatten(joinPath(path, segment(name, i)), out)
		}
	}
}

func (s *ErrorSet) String() string {
	return strings.Join(s.Flatten(), "; ")
}

type wireErrorSet struct {
	Errors        map[string][]string      `json:"errors"`
	Relationships map[string][]*ErrorSet `json:"relationships"`
}

// MarshalJSON renders {"errors": {...}, "relationships": {...}}.
func (s *ErrorSet) MarshalJSON() ([]byte, error) {
	w := wireErrorSet{Errors: s.errors, Relationships: s.rels}
	if w.Errors == nil {
		w.Errors = map[string][]string{}
	}
	if w.Relationships == nil {
		w.Relationships = map[string][]*ErrorSet{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *ErrorSet) UnmarshalJSON(data []byte) error {
	var w wireErrorSet
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b := NewErrorSetBuilder()
	for k, msgs := range w.Errors {
		for _, m := range msgs {
			b.AddError(k, m)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(w.Relationships)) {
		for _, c := range w.Relationships[name] {
			b.AddRelation(name, c)
		}
	}
	*s = *b.Build()
	return nil
}
