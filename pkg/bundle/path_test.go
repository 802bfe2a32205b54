package bundle_test

import (
	"errors"
	"testing"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

func TestPathGet(t *testing.T) {
	b := testUnit()

	v, ok, err := bundle.Get(b, "describes[1]/languageCode")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", v, ok, err)
	}
	if v != "nld" {
		t.Fatalf("Get = %v, want nld", v)
	}

	if v, _, _ := bundle.Get(b, "identifier"); v != "c1" {
		t.Fatalf("Get identifier = %v, want c1", v)
	}

	if _, ok, err := bundle.Get(b, "describes[0]/missing"); err != nil || ok {
		t.Fatalf("Get missing attr = %v, %v", ok, err)
	}

	_, _, err = bundle.Get(b, "describes[5]/x")
	var ie *bundle.IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("Get describes[5] = %v, want IndexError", err)
	}
	if ie.Relation != "describes" || ie.Index != 5 || ie.Len != 2 {
		t.Fatalf("IndexError = %+v", ie)
	}
	if errors.Is(err, bundle.ErrPath) {
		t.Fatal("index error must not match ErrPath")
	}

	_, _, err = bundle.Get(b, "nope[0]/x")
	var pe *bundle.PathError
	if !errors.As(err, &pe) {
		t.Fatalf("Get nope[0] = %v, want PathError", err)
	}
	if pe.Segment != "nope" {
		t.Fatalf("PathError.Segment = %q, want nope", pe.Segment)
	}
	if errors.Is(err, bundle.ErrIndex) {
		t.Fatal("path error must not match ErrIndex")
	}
}

func TestPathSyntaxErrors(t *testing.T) {
	b := testUnit()
	for _, p := range []string{"", "describes/x", "describes[a]/x", "describes[0]/", "[0]/x"} {
		if _, _, err := bundle.Get(b, p); !errors.Is(err, bundle.ErrPath) {
			t.Errorf("Get(%q) = %v, want ErrPath", p, err)
		}
	}
}

func TestPathSetIsCopyOnWrite(t *testing.T) {
	b := testUnit()
	nb, err := bundle.Set(b, "describes[0]/hasDate[0]/endDate", "1946-01-01")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _, _ := bundle.Get(nb, "describes[0]/hasDate[0]/endDate"); v != "1946-01-01" {
		t.Fatalf("new endDate = %v", v)
	}
	if v, _, _ := bundle.Get(b, "describes[0]/hasDate[0]/endDate"); v != "1945-12-31" {
		t.Fatalf("original endDate changed to %v", v)
	}
	// Untouched siblings are shared, not copied.
	if nb.Relations("describes")[1] != b.Relations("describes")[1] {
		t.Fatal("sibling was rebuilt")
	}
	if nb.Relations("heldBy")[0] != b.Relations("heldBy")[0] {
		t.Fatal("other relation was rebuilt")
	}

	if _, err := bundle.Set(b, "describes[9]/name", "x"); !errors.Is(err, bundle.ErrIndex) {
		t.Fatalf("Set out of range = %v, want ErrIndex", err)
	}
}

func TestPathDelete(t *testing.T) {
	b := testUnit()
	nb, err := bundle.Delete(b, "describes[1]/name")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := bundle.Get(nb, "describes[1]/name"); ok {
		t.Fatal("name still present")
	}
	if _, ok, _ := bundle.Get(b, "describes[1]/name"); !ok {
		t.Fatal("original lost name")
	}
}

func TestPathBundles(t *testing.T) {
	b := testUnit()
	c, err := bundle.GetBundle(b, "describes[0]/hasDate[0]")
	if err != nil {
		t.Fatalf("GetBundle: %v", err)
	}
	if c.Type() != schema.DatePeriod {
		t.Fatalf("GetBundle type = %s", c.Type())
	}

	extra := bundle.Of(schema.DatePeriod, map[string]any{"startDate": "1950"})
	nb, err := bundle.SetBundle(b, "describes[0]/hasDate[-1]", extra)
	if err != nil {
		t.Fatalf("SetBundle append: %v", err)
	}
	dates, err := bundle.GetRelations(nb, "describes[0]/hasDate")
	if err != nil {
		t.Fatalf("GetRelations: %v", err)
	}
	if len(dates) != 2 || dates[1] != extra {
		t.Fatalf("dates = %v", dates)
	}

	nb, err = bundle.SetBundle(b, "describes[1]/hasDate[-1]", extra)
	if err != nil {
		t.Fatalf("SetBundle append to new relation: %v", err)
	}
	if got, _ := bundle.GetRelations(nb, "describes[1]/hasDate"); len(got) != 1 {
		t.Fatalf("new relation = %v", got)
	}

	nb, err = bundle.SetBundle(b, "describes[0]/hasDate[0]", extra)
	if err != nil {
		t.Fatalf("SetBundle replace: %v", err)
	}
	if got, _ := bundle.GetBundle(nb, "describes[0]/hasDate[0]"); got != extra {
		t.Fatal("SetBundle did not replace")
	}

	nb, err = bundle.DeleteBundle(b, "describes[0]")
	if err != nil {
		t.Fatalf("DeleteBundle: %v", err)
	}
	if n := len(nb.Relations("describes")); n != 1 {
		t.Fatalf("describes after delete = %d", n)
	}
	if v, _, _ := bundle.Get(nb, "describes[0]/languageCode"); v != "nld" {
		t.Fatalf("remaining description = %v", v)
	}

	if _, err := bundle.DeleteBundle(b, "describes[3]"); !errors.Is(err, bundle.ErrIndex) {
		t.Fatalf("DeleteBundle out of range = %v", err)
	}
	if _, err := bundle.GetBundle(b, "childOf[0]"); !errors.Is(err, bundle.ErrPath) {
		t.Fatalf("GetBundle unknown = %v", err)
	}
	if got, err := bundle.GetRelations(b, "describes[1]/hasDate"); err != nil || len(got) != 0 {
		t.Fatalf("GetRelations empty = %v, %v", got, err)
	}
}
