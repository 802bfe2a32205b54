package bundle

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Normalize converts v to one of the value shapes a bundle stores: nil,
// bool, string, int64, float64, or []any of those. Integers of every width
// and integral json.Number values become int64; slices become []any.
// Anything else is rendered with fmt.Sprint.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return uintValue(x)
	case float32:
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case fmt.Stringer:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	}
	return fmt.Sprint(v)
}

func uintValue(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// isScalar reports whether v is a normalized scalar.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, int64, float64:
		return true
	}
	return false
}

// checkValue reports whether a decoded value is a scalar or a flat list of
// scalars.
func checkValue(v any) bool {
	if list, ok := v.([]any); ok {
		for _, e := range list {
			if !isScalar(Normalize(e)) {
				return false
			}
		}
		return true
	}
	switch v.(type) {
	case map[string]any:
		return false
	}
	return true
}

func cloneValue(v any) any {
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		copy(out, list)
		return out
	}
	return v
}

func valuesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	al, aok := a.([]any)
	bl, bok := b.([]any)
	if aok || bok {
		if !aok || !bok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !valueEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	// int64(1) and float64(1) compare equal; storage backends are not
	// required to keep the distinction.
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// formatScalar renders a scalar for text formats such as XML.
func formatScalar(v any) (text, kind string) {
	switch x := v.(type) {
	case nil:
		return "", "null"
	case bool:
		return strconv.FormatBool(x), "bool"
	case int64:
		return strconv.FormatInt(x, 10), "int"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), "float"
	case string:
		return x, ""
	}
	return fmt.Sprint(v), ""
}

// parseScalar is the inverse of formatScalar.
func parseScalar(text, kind string) (any, error) {
	switch kind {
	case "", "string":
		return text, nil
	case "null":
		return nil, nil
	case "bool":
		return strconv.ParseBool(text)
	case "int":
		return strconv.ParseInt(text, 10, 64)
	case "float":
		return strconv.ParseFloat(text, 64)
	}
	return nil, fmt.Errorf("unknown value type %q", kind)
}
