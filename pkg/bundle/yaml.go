package bundle

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// ToYAML returns the wire form as YAML.
func (b *Bundle) ToYAML() ([]byte, error) {
	return yaml.Marshal(b.ToData())
}

// FromYAML parses a single bundle from YAML. A YAML sequence is rejected;
// use FromYAMLList for fixture files holding several bundles.
func FromYAML(data []byte) (*Bundle, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &DeserializationError{Msg: "invalid YAML", Err: err}
	}
	if m == nil {
		return nil, deserializationErrorf("Bundle data must be a map value")
	}
	return FromData(stringKeys(m).(map[string]any))
}

// FromYAMLList parses a YAML sequence of bundles.
func FromYAMLList(data []byte) ([]*Bundle, error) {
	var items []any
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, &DeserializationError{Msg: "invalid YAML", Err: err}
	}
	out := make([]*Bundle, 0, len(items))
	for i, item := range items {
		m, ok := stringKeys(item).(map[string]any)
		if !ok {
			return nil, deserializationErrorf("item %d: Bundle data must be a map value", i)
		}
		b, err := FromData(m)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// stringKeys converts map[any]any nodes produced by YAML decoding into
// map[string]any.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	}
	return v
}
