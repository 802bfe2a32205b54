package cli

import (
	"reflect"
	"testing"
)

func TestQuery_Run(t *testing.T) {
	tests := []struct {
		name string
		expr string
		in   any
		want []any
	}{
		{"identity", ".", map[string]any{"a": 1}, []any{map[string]any{"a": float64(1)}}},
		{"field", ".id", testBundle(), []any{"nl-r1-c1"}},
		{"iterate", ".relationships.describes[].data.languageCode", testBundle(), []any{"eng"}},
		{"empty", "empty", testBundle(), nil},
		{"halt", "1, halt, 2", nil, []any{float64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.expr)
			if err != nil {
				t.Fatalf("ParseQuery(%q): %v", tt.expr, err)
			}
			got, err := q.Run(tt.in)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Run = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestQuery_Errors(t *testing.T) {
	if _, err := ParseQuery(".["); err == nil {
		t.Fatal("expected parse error")
	}
	q, err := ParseQuery(`error("nope")`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Run(nil); err == nil {
		t.Fatal("expected runtime error")
	}
}
