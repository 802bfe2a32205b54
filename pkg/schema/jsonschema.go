package schema

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// JSONSchema describes the wire form of a bundle of type t. Dependent
// relations reference the target type's definition under $defs; reference
// relations accept any bundle carrying at least an id.
func (r *Registry) JSONSchema(name EntityType) (*jsonschema.Schema, bool) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	defs := make(map[string]*jsonschema.Schema)
	root := r.bundleSchema(t, defs)
	root.Schema = "https://json-schema.org/draft/2020-12/schema"
	root.Title = string(t.Name)
	delete(defs, string(t.Name))
	if len(defs) > 0 {
		root.Defs = defs
	}
	return root, true
}

func (r *Registry) bundleSchema(t *Type, defs map[string]*jsonschema.Schema) *jsonschema.Schema {
	// Placeholder guards against self-referential relation tables.
	defs[string(t.Name)] = &jsonschema.Schema{}

	data := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema),
	}
	for _, k := range t.Mandatory {
		data.Properties[k] = valueSchema()
		data.Required = append(data.Required, k)
	}
	for k, vals := range t.Enums {
		s := &jsonschema.Schema{Type: "string"}
		for _, v := range vals {
			s.Enum = append(s.Enum, v)
		}
		data.Properties[k] = s
	}

	rels := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema),
	}
	for _, rel := range t.Relations {
		items := &jsonschema.Schema{Type: "object", Required: []string{"id"}}
		if rel.Dependent {
			target := r.MustLookup(rel.Target)
			if _, seen := defs[string(target.Name)]; !seen {
				defs[string(target.Name)] = r.bundleSchema(target, defs)
			}
			items = &jsonschema.Schema{Ref: "#/$defs/" + string(target.Name)}
		}
		arr := &jsonschema.Schema{Type: "array", Items: items}
		switch rel.Cardinality {
		case One:
			arr.MaxItems = intPtr(1)
		case Required:
			arr.MinItems, arr.MaxItems = intPtr(1), intPtr(1)
		case AtLeastOne:
			arr.MinItems = intPtr(1)
		}
		rels.Properties[rel.Name] = arr
	}

	s := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"id":            {Types: []string{"string", "null"}},
			"type":          {Const: jsonschema.Ptr[any](string(t.Name))},
			"data":          data,
			"relationships": rels,
			"meta":          {Type: "object"},
		},
		Required: []string{"type"},
	}
	defs[string(t.Name)] = s
	return s
}

func valueSchema() *jsonschema.Schema {
	scalar := []string{"string", "number", "boolean", "null"}
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Types: scalar},
			{Type: "array", Items: &jsonschema.Schema{Types: scalar}},
		},
	}
}

func intPtr(n int) *int { return &n }
