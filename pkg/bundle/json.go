package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// Wire keys.
const (
	KeyID            = "id"
	KeyType          = "type"
	KeyData          = "data"
	KeyMeta          = "meta"
	KeyRelationships = "relationships"
)

// ToData converts the bundle to plain maps and slices in wire shape.
// Relation names with no children are omitted.
func (b *Bundle) ToData() map[string]any {
	out := map[string]any{
		KeyType: string(b.typ),
		KeyData: b.Data(),
	}
	if b.id != "" {
		out[KeyID] = b.id
	} else {
		out[KeyID] = nil
	}
	rels := make(map[string]any, len(b.relNames))
	for _, name := range b.relNames {
		children := b.rels[name]
		list := make([]any, len(children))
		for i, c := range children {
			list[i] = c.ToData()
		}
		rels[name] = list
	}
	out[KeyRelationships] = rels
	if len(b.meta) > 0 {
		out[KeyMeta] = b.MetaData()
	}
	return out
}

// FromData builds a bundle from decoded wire data, checking the type tag
// against the built-in registry.
func FromData(m map[string]any) (*Bundle, error) {
	return FromDataWith(schema.Default(), m)
}

// FromDataWith is FromData against a specific registry.
func FromDataWith(reg *schema.Registry, m map[string]any) (*Bundle, error) {
	ts, ok := m[KeyType].(string)
	if !ok {
		return nil, deserializationErrorf("Bad or unknown type key: %v", m[KeyType])
	}
	if _, ok := reg.Lookup(schema.EntityType(ts)); !ok {
		return nil, deserializationErrorf("Bad or unknown type key: %s", ts)
	}
	b := New(schema.EntityType(ts))
	b.reg = reg

	switch id := m[KeyID].(type) {
	case nil:
	case string:
		b.id = id
	default:
		return nil, deserializationErrorf("Id value must be a string, got %T", id)
	}

	if raw, ok := m[KeyData]; ok && raw != nil {
		data, ok := raw.(map[string]any)
		if !ok {
			return nil, deserializationErrorf("Data value not a map type! %T", raw)
		}
		for k, v := range data {
			if !checkValue(v) {
				return nil, deserializationErrorf("Data value for key %q must be a scalar or a list of scalars", k)
			}
		}
		b = b.WithData(data)
	}

	if raw, ok := m[KeyMeta]; ok && raw != nil {
		meta, ok := raw.(map[string]any)
		if !ok {
			return nil, deserializationErrorf("Meta value not a map type! %T", raw)
		}
		for k, v := range meta {
			b = b.WithMetaDataValue(k, v)
		}
	}

	if raw, ok := m[KeyRelationships]; ok && raw != nil {
		rels, ok := raw.(map[string]any)
		if !ok {
			return nil, deserializationErrorf("Relationships value should be a map type")
		}
		names := make([]string, 0, len(rels))
		for name := range rels {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			var items []any
			switch v := rels[name].(type) {
			case []any:
				items = v
			case map[string]any:
				items = []any{v}
			case nil:
				continue
			default:
				return nil, deserializationErrorf("Relationship value for %q should be a list", name)
			}
			for _, item := range items {
				cm, ok := item.(map[string]any)
				if !ok {
					return nil, deserializationErrorf("Bundle data must be a map value")
				}
				c, err := FromDataWith(reg, cm)
				if err != nil {
					return nil, err
				}
				b = b.WithRelation(name, c)
			}
		}
	}
	return b, nil
}

// MarshalJSON encodes the wire form. Map keys are emitted in sorted order.
func (b *Bundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.ToData())
}

// UnmarshalJSON decodes the wire form into b.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	nb, err := FromJSON(data)
	if err != nil {
		return err
	}
	*b = *nb
	return nil
}

// ToJSON returns the indented wire form.
func (b *Bundle) ToJSON() ([]byte, error) {
	return json.MarshalIndent(b.ToData(), "", "  ")
}

// FromJSON parses a single bundle.
func FromJSON(data []byte) (*Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, &DeserializationError{Msg: "invalid JSON", Err: err}
	}
	if m == nil {
		return nil, deserializationErrorf("Bundle data must be a map value")
	}
	return FromData(m)
}

// FromStream decodes a JSON array of bundles one element at a time. A
// single object is accepted as a one-element stream. Iteration stops after
// the first error.
func FromStream(r io.Reader) iter.Seq2[*Bundle, error] {
	return func(yield func(*Bundle, error) bool) {
		dec := json.NewDecoder(r)
		dec.UseNumber()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(nil, &DeserializationError{Msg: "invalid JSON", Err: err})
			return
		}
		switch tok {
		case json.Delim('['):
		case json.Delim('{'):
			m, err := decodeObjectBody(dec)
			if err != nil {
				yield(nil, err)
				return
			}
			b, err := FromData(m)
			yield(b, err)
			return
		default:
			yield(nil, deserializationErrorf("expected a JSON array of bundles, got %v", tok))
			return
		}
		for dec.More() {
			var m map[string]any
			if err := dec.Decode(&m); err != nil {
				yield(nil, &DeserializationError{Msg: "invalid JSON", Err: err})
				return
			}
			if m == nil {
				yield(nil, deserializationErrorf("Bundle data must be a map value"))
				return
			}
			b, err := FromData(m)
			if !yield(b, err) || err != nil {
				return
			}
		}
		if _, err := dec.Token(); err != nil {
			yield(nil, &DeserializationError{Msg: "unterminated array", Err: err})
		}
	}
}

// decodeObjectBody reads the remaining members of an object whose opening
// brace has already been consumed.
func decodeObjectBody(dec *json.Decoder) (map[string]any, error) {
	m := make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &DeserializationError{Msg: "invalid JSON", Err: err}
		}
		key, ok := tok.(string)
		if !ok {
			return nil, deserializationErrorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, &DeserializationError{Msg: "invalid JSON", Err: err}
		}
		m[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, &DeserializationError{Msg: "invalid JSON", Err: err}
	}
	return m, nil
}

// WriteStream encodes bundles as an indented JSON array.
func WriteStream(w io.Writer, bundles iter.Seq2[*Bundle, error]) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	for b, err := range bundles {
		if err != nil {
			return err
		}
		data, err := b.MarshalJSON()
		if err != nil {
			return fmt.Errorf("bundle: encode %s: %w", b.id, err)
		}
		sep := ",\n"
		if first {
			sep, first = "\n", false
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n]\n")
	return err
}
