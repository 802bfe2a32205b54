// Package bundle implements the immutable document tree exchanged with the
// persistence engine. A Bundle holds an entity's type, its data properties
// and its child bundles grouped by relation name. Every With*/Remove*
// operation returns a new Bundle; the receiver is never changed.
package bundle

import (
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// ManagedPrefix marks data keys maintained by the system rather than the
// user. They are excluded from equality and content hashing.
const ManagedPrefix = "_"

// Bundle is an immutable tree describing one entity and the entities it owns.
// The zero value is not useful; build bundles with New, Of or FromData.
type Bundle struct {
	id        string
	typ       schema.EntityType
	data      map[string]any
	meta      map[string]any
	relNames  []string
	rels      map[string][]*Bundle
	generated bool
	reg       *schema.Registry
}

// New returns an empty bundle of type t.
func New(t schema.EntityType) *Bundle {
	return &Bundle{typ: t}
}

// Of returns a bundle of type t holding a normalized copy of data.
func Of(t schema.EntityType, data map[string]any) *Bundle {
	b := &Bundle{typ: t}
	if len(data) > 0 {
		b.data = make(map[string]any, len(data))
		for k, v := range data {
			b.data[k] = Normalize(v)
		}
	}
	return b
}

func (b *Bundle) clone() *Bundle {
	c := *b
	return &c
}

// Registry returns the registry the bundle classifies its relations
// with. Bundles not bound by WithRegistry or FromDataWith use
// schema.Default().
func (b *Bundle) Registry() *schema.Registry {
	if b.reg == nil {
		return schema.Default()
	}
	return b.reg
}

// WithRegistry returns a copy of the tree bound to reg. Children added
// afterwards keep their own binding.
func (b *Bundle) WithRegistry(reg *schema.Registry) *Bundle {
	c := b.clone()
	c.reg = reg
	if len(b.rels) == 0 {
		return c
	}
	c.relNames, c.rels = b.copyRels()
	for _, children := range c.rels {
		for i, child := range children {
			children[i] = child.WithRegistry(reg)
		}
	}
	return c
}

// ID returns the bundle id, or "" when the bundle has none.
func (b *Bundle) ID() string { return b.id }

// HasID reports whether the bundle carries an id.
func (b *Bundle) HasID() bool { return b.id != "" }

// HasGeneratedID reports whether the id was computed by an id generator
// rather than supplied by the caller.
func (b *Bundle) HasGeneratedID() bool { return b.generated }

// Type returns the entity type.
func (b *Bundle) Type() schema.EntityType { return b.typ }

// WithID returns a copy with the given id. An empty id clears it.
func (b *Bundle) WithID(id string) *Bundle {
	c := b.clone()
	c.id = id
	c.generated = false
	return c
}

// WithGeneratedID is WithID for ids computed by an id generator.
func (b *Bundle) WithGeneratedID(id string) *Bundle {
	c := b.WithID(id)
	c.generated = id != ""
	return c
}

// WithType returns a copy retyped to t.
func (b *Bundle) WithType(t schema.EntityType) *Bundle {
	c := b.clone()
	c.typ = t
	return c
}

// Data returns a copy of the data map.
func (b *Bundle) Data() map[string]any {
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		out[k] = cloneValue(v)
	}
	return out
}

// UnmanagedData returns the data without system-managed keys.
func (b *Bundle) UnmanagedData() map[string]any {
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		if !strings.HasPrefix(k, ManagedPrefix) {
			out[k] = cloneValue(v)
		}
	}
	return out
}

// DataKeys returns the data keys in sorted order.
func (b *Bundle) DataKeys() []string {
	return slices.Sorted(maps.Keys(b.data))
}

// DataValue returns the value stored under key.
func (b *Bundle) DataValue(key string) (any, bool) {
	v, ok := b.data[key]
	return cloneValue(v), ok
}

// DataString returns the value under key if it is a string, else "".
func (b *Bundle) DataString(key string) string {
	s, _ := b.data[key].(string)
	return s
}

// WithDataValue returns a copy with key set to v. A nil v is stored as an
// explicit null.
func (b *Bundle) WithDataValue(key string, v any) *Bundle {
	c := b.clone()
	c.data = maps.Clone(b.data)
	if c.data == nil {
		c.data = make(map[string]any)
	}
	c.data[key] = Normalize(v)
	return c
}

// RemoveDataValue returns a copy without key.
func (b *Bundle) RemoveDataValue(key string) *Bundle {
	if _, ok := b.data[key]; !ok {
		return b
	}
	c := b.clone()
	c.data = maps.Clone(b.data)
	delete(c.data, key)
	return c
}

// WithData returns a copy whose data is replaced by data.
func (b *Bundle) WithData(data map[string]any) *Bundle {
	c := b.clone()
	c.data = Of(b.typ, data).data
	return c
}

// MetaData returns a copy of the bundle's metadata. Metadata travels with a
// bundle for display but is neither hashed nor persisted.
func (b *Bundle) MetaData() map[string]any {
	return maps.Clone(b.meta)
}

// WithMetaDataValue returns a copy with meta key set. A nil v is ignored.
func (b *Bundle) WithMetaDataValue(key string, v any) *Bundle {
	if v == nil {
		return b
	}
	c := b.clone()
	c.meta = maps.Clone(b.meta)
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	c.meta[key] = v
	return c
}

// RelationNames returns the names that have at least one child, in the
// order they were first added.
func (b *Bundle) RelationNames() []string {
	return slices.Clone(b.relNames)
}

// Relations returns the children stored under name.
func (b *Bundle) Relations(name string) []*Bundle {
	return slices.Clone(b.rels[name])
}

// HasRelation reports whether any child is stored under name.
func (b *Bundle) HasRelation(name string) bool {
	return len(b.rels[name]) > 0
}

// HasRelations reports whether the bundle has any children at all.
func (b *Bundle) HasRelations() bool {
	return len(b.relNames) > 0
}

// AllRelations iterates over (relation name, child) pairs in order.
func (b *Bundle) AllRelations() iter.Seq2[string, *Bundle] {
	return func(yield func(string, *Bundle) bool) {
		for _, name := range b.relNames {
			for _, c := range b.rels[name] {
				if !yield(name, c) {
					return
				}
			}
		}
	}
}

func (b *Bundle) copyRels() (names []string, rels map[string][]*Bundle) {
	names = slices.Clone(b.relNames)
	rels = make(map[string][]*Bundle, len(b.rels))
	for k, v := range b.rels {
		rels[k] = slices.Clone(v)
	}
	return names, rels
}

// WithRelation returns a copy with child appended under name.
func (b *Bundle) WithRelation(name string, child *Bundle) *Bundle {
	return b.WithRelations(name, child)
}

// WithRelations returns a copy with children appended under name.
func (b *Bundle) WithRelations(name string, children ...*Bundle) *Bundle {
	if len(children) == 0 {
		return b
	}
	c := b.clone()
	c.relNames, c.rels = b.copyRels()
	if len(c.rels[name]) == 0 {
		c.relNames = append(c.relNames, name)
	}
	c.rels[name] = append(c.rels[name], children...)
	return c
}

// ReplaceRelations returns a copy whose children under name are exactly
// children. An empty list removes the relation.
func (b *Bundle) ReplaceRelations(name string, children []*Bundle) *Bundle {
	if len(children) == 0 {
		return b.RemoveRelations(name)
	}
	c := b.clone()
	c.relNames, c.rels = b.copyRels()
	if len(c.rels[name]) == 0 {
		c.relNames = append(c.relNames, name)
	}
	c.rels[name] = slices.Clone(children)
	return c
}

// RemoveRelations returns a copy without any children under name.
func (b *Bundle) RemoveRelations(name string) *Bundle {
	if !b.HasRelation(name) {
		return b
	}
	c := b.clone()
	c.relNames, c.rels = b.copyRels()
	delete(c.rels, name)
	c.relNames = slices.DeleteFunc(c.relNames, func(n string) bool { return n == name })
	return c
}

// RemoveRelation returns a copy without the first child under name that is
// Equal to child.
func (b *Bundle) RemoveRelation(name string, child *Bundle) *Bundle {
	list := b.rels[name]
	i := slices.IndexFunc(list, func(x *Bundle) bool { return x == child || x.Equal(child) })
	if i < 0 {
		return b
	}
	return b.ReplaceRelations(name, slices.Delete(slices.Clone(list), i, i+1))
}

// FilterRelations returns a copy with every child for which remove returns
// true dropped, applied recursively to the children that stay.
func (b *Bundle) FilterRelations(remove func(name string, child *Bundle) bool) *Bundle {
	c := b.clone()
	c.relNames, c.rels = nil, make(map[string][]*Bundle)
	for name, child := range b.AllRelations() {
		if remove(name, child) {
			continue
		}
		if len(c.rels[name]) == 0 {
			c.relNames = append(c.relNames, name)
		}
		c.rels[name] = append(c.rels[name], child.FilterRelations(remove))
	}
	return c
}

// DependentRelations returns the owned relation names present on the
// bundle, in the order its type declares them. Types missing from the
// registry treat every relation as owned, in sorted name order.
func (b *Bundle) DependentRelations() []string {
	t, ok := b.Registry().Lookup(b.typ)
	if !ok {
		return slices.Sorted(slices.Values(b.relNames))
	}
	var out []string
	for _, r := range t.DependentRelations() {
		if b.HasRelation(r.Name) {
			out = append(out, r.Name)
		}
	}
	return out
}

// IsDependent reports whether name is an owned relation of the bundle's type.
func (b *Bundle) IsDependent(name string) bool {
	t, ok := b.Registry().Lookup(b.typ)
	if !ok {
		return true
	}
	return t.IsDependent(name)
}

// Depth returns the height of the tree; a bundle without children has
// depth 0.
func (b *Bundle) Depth() int {
	d := 0
	for _, c := range b.AllRelations() {
		d = max(d, c.Depth()+1)
	}
	return d
}

// Walk iterates depth-first over the bundle and all its descendants. The
// key is the descendant's path relative to b ("" for b itself), in the
// syntax accepted by GetBundle.
func (b *Bundle) Walk() iter.Seq2[string, *Bundle] {
	return func(yield func(string, *Bundle) bool) {
		b.walk("", yield)
	}
}

func (b *Bundle) walk(path string, yield func(string, *Bundle) bool) bool {
	if !yield(path, b) {
		return false
	}
	for _, name := range b.relNames {
		for i, c := range b.rels[name] {
			if !c.walk(joinPath(path, segment(name, i)), yield) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether b and o have the same id and type, the same
// unmanaged data and the same children per relation regardless of order.
func (b *Bundle) Equal(o *Bundle) bool {
	if b == o {
		return true
	}
	if b == nil || o == nil {
		return false
	}
	if b.id != o.id || b.typ != o.typ {
		return false
	}
	if !valuesEqual(b.UnmanagedData(), o.UnmanagedData()) {
		return false
	}
	if len(b.relNames) != len(o.relNames) {
		return false
	}
	for _, name := range b.relNames {
		mine, theirs := b.rels[name], o.rels[name]
		if len(mine) != len(theirs) {
			return false
		}
		used := make([]bool, len(theirs))
	outer:
		for _, m := range mine {
			for j, t := range theirs {
				if !used[j] && m.Equal(t) {
					used[j] = true
					continue outer
				}
			}
			return false
		}
	}
	return true
}

// String returns the compact JSON form, for logs and debugging.
func (b *Bundle) String() string {
	data, err := b.MarshalJSON()
	if err != nil {
		return "<bundle " + string(b.typ) + ": " + err.Error() + ">"
	}
	return string(data)
}
