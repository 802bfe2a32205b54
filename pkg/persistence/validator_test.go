package persistence_test

import (
	"context"
	"testing"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/persistence"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

func TestValidate(t *testing.T) {
	v := persistence.NewValidator(nil)
	country := func(id string) *bundle.Bundle { return bundle.New(schema.Country).WithID(id) }

	tests := []struct {
		name string
		b    *bundle.Bundle
		key  string // expected error key at the root, "" for valid
	}{
		{"valid", testUnit(), ""},
		{"unknown type", bundle.Of("Spaceship", map[string]any{"identifier": "x"}), bundle.KeyType},
		{"blank mandatory", bundle.Of(schema.DocumentaryUnit, map[string]any{"identifier": "  "}), "identifier"},
		{"too many references",
			bundle.Of(schema.Repository, map[string]any{"identifier": "r1"}).
				WithRelations("hasCountry", country("nl"), country("de")),
			"hasCountry"},
		{"at least one dependent",
			bundle.Of(schema.HistoricalAgent, map[string]any{"identifier": "a1"}),
			"describes"},
		{"unknown relation",
			bundle.Of(schema.Country, map[string]any{"identifier": "nl"}).
				WithRelation("borders", country("de")),
			"borders"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := v.Validate(tt.b)
			if tt.key == "" {
				if !es.IsEmpty() {
					t.Fatalf("Validate = %v, want no errors", es.Flatten())
				}
				return
			}
			if len(es.ErrorsFor(tt.key)) == 0 {
				t.Fatalf("Validate = %v, want error on %q", es.Flatten(), tt.key)
			}
		})
	}
}

func TestValidate_Children(t *testing.T) {
	v := persistence.NewValidator(nil)
	b := bundle.Of(schema.DocumentaryUnit, map[string]any{"identifier": "c1"}).
		WithRelation("describes", bundle.Of(schema.RepositoryDescription, map[string]any{"name": "x", "languageCode": "eng"})).
		WithRelation("heldBy", bundle.New(schema.Repository))

	es := v.Validate(b)
	if got := es.Relations("describes"); len(got) != 1 || len(got[0].ErrorsFor(bundle.KeyType)) == 0 {
		t.Fatalf("describes errors = %v", es.Flatten())
	}
	if got := es.Relations("heldBy"); len(got) != 1 || len(got[0].ErrorsFor(bundle.KeyID)) == 0 {
		t.Fatalf("heldBy errors = %v", es.Flatten())
	}
}

func TestValidate_EnumLists(t *testing.T) {
	v := persistence.NewValidator(nil)
	desc := func(level any) *bundle.Bundle {
		return testDesc("eng", "x").WithDataValue("levelOfDescription", level)
	}
	if es := v.Validate(desc([]any{"fonds", "series"})); !es.IsEmpty() {
		t.Fatalf("valid list rejected: %v", es.Flatten())
	}
	es := v.Validate(desc([]any{"fonds", "heap", "pile"}))
	if got := len(es.ErrorsFor("levelOfDescription")); got != 2 {
		t.Fatalf("enum errors = %d, want 2", got)
	}
}

func TestSerializer_LinkDepth(t *testing.T) {
	m, g := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, testUnit()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Link(ctx, "nl-r1-c1", "heldBy", "nl-r1"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	s := persistence.NewSerializer(nil)
	err := g.View(ctx, func(gm graph.Manager) error {
		v, err := gm.GetVertex(ctx, "nl-r1-c1")
		if err != nil {
			return err
		}
		shallow, err := s.VertexToBundle(ctx, gm, v)
		if err != nil {
			return err
		}
		if shallow.HasRelation("heldBy") {
			t.Fatal("link depth 0 included a reference")
		}
		if got := len(shallow.Relations("describes")); got != 2 {
			t.Fatalf("describes = %d, want 2", got)
		}
		deep, err := s.WithLinkDepth(1).VertexToBundle(ctx, gm, v)
		if err != nil {
			return err
		}
		refs := deep.Relations("heldBy")
		if len(refs) != 1 || refs[0].ID() != "nl-r1" || len(refs[0].Data()) != 0 {
			t.Fatalf("heldBy = %v, want an id-only stub for nl-r1", refs)
		}
		if shallow.DataHash() != deep.DataHash() {
			t.Fatal("references changed the content hash")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
