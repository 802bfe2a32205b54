package persistence_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
	"github.com/EHRI/ehri-rest-sub010/pkg/persistence"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// newTestGraph returns a graph holding country "nl" and repository "nl-r1".
func newTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	store := kv.NewMemory(graph.StoreOptions())
	t.Cleanup(func() { store.Close() })
	g, err := graph.New(store, nil)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	ctx := context.Background()
	err = g.Update(ctx, func(m graph.Manager) error {
		if _, err := m.CreateVertex(ctx, "nl", schema.Country, map[string]any{"identifier": "nl"}); err != nil {
			return err
		}
		_, err := m.CreateVertex(ctx, "nl-r1", schema.Repository, map[string]any{"identifier": "r1"})
		return err
	})
	if err != nil {
		t.Fatalf("seed graph: %v", err)
	}
	return g
}

func newTestManager(t *testing.T, opts ...persistence.Option) (*persistence.BundleManager, *graph.Graph) {
	t.Helper()
	g := newTestGraph(t)
	m, err := persistence.NewBundleManager(g, append([]persistence.Option{persistence.WithScope("nl", "r1")}, opts...)...)
	if err != nil {
		t.Fatalf("NewBundleManager: %v", err)
	}
	return m, g
}

func testDate() *bundle.Bundle {
	return bundle.Of(schema.DatePeriod, map[string]any{"startDate": "1939-01-01", "type": "creation"})
}

func testDesc(lang, name string) *bundle.Bundle {
	return bundle.Of(schema.DocumentaryUnitDescription, map[string]any{"languageCode": lang, "name": name})
}

// testUnit is unit "c1" with an English description carrying a date, a
// Dutch description and a reference to repository nl-r1.
func testUnit() *bundle.Bundle {
	return bundle.Of(schema.DocumentaryUnit, map[string]any{"identifier": "c1"}).
		WithRelations("describes",
			testDesc("eng", "Fonds C1").WithRelation("hasDate", testDate()),
			testDesc("nld", "Archief C1"),
		).
		WithRelation("heldBy", bundle.New(schema.Repository).WithID("nl-r1"))
}

type graphCounts struct {
	vertices int
	edges    int
}

func countGraph(t *testing.T, g *graph.Graph) graphCounts {
	t.Helper()
	var c graphCounts
	ctx := context.Background()
	err := g.View(ctx, func(m graph.Manager) error {
		for _, st := range g.Registry().Types() {
			for v, err := range m.GetVertices(ctx, st.Name) {
				if err != nil {
					return err
				}
				c.vertices++
				es, err := m.Edges(ctx, v.ID, graph.Out)
				if err != nil {
					return err
				}
				c.edges += len(es)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("count graph: %v", err)
	}
	return c
}

func relationIDs(b *bundle.Bundle, name string) []string {
	var ids []string
	for _, c := range b.Relations(name) {
		ids = append(ids, c.ID())
	}
	slices.Sort(ids)
	return ids
}

func TestCreate(t *testing.T) {
	m, g := newTestManager(t)
	ctx := context.Background()

	v, err := m.Create(ctx, testUnit())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.ID != "nl-r1-c1" {
		t.Fatalf("ID = %q, want nl-r1-c1", v.ID)
	}
	if got := countGraph(t, g); got != (graphCounts{vertices: 6, edges: 3}) {
		t.Fatalf("counts = %+v, want 6 vertices and 3 edges", got)
	}

	b, err := m.Get(ctx, "nl-r1-c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := []string{"nl-r1-c1.eng", "nl-r1-c1.nld"}; !slices.Equal(relationIDs(b, "describes"), want) {
		t.Fatalf("describes = %v, want %v", relationIDs(b, "describes"), want)
	}
	if b.DataHash() != testUnit().DataHash() {
		t.Fatal("stored tree hash differs from the input")
	}
	lang, ok, err := bundle.Get(b, "describes[0]/languageCode")
	if err != nil || !ok {
		t.Fatalf("Get path: %v, %v", ok, err)
	}
	if lang != "eng" && lang != "nld" {
		t.Fatalf("languageCode = %v", lang)
	}
	// References are checked but never written.
	if len(b.Relations("heldBy")) != 0 {
		t.Fatalf("heldBy = %v, want no edge", b.Relations("heldBy"))
	}
}

func TestCreateOrUpdate_Idempotent(t *testing.T) {
	m, g := newTestManager(t)
	ctx := context.Background()

	first, err := m.CreateOrUpdate(ctx, testUnit())
	if err != nil {
		t.Fatalf("first CreateOrUpdate: %v", err)
	}
	if !first.Created() {
		t.Fatalf("first state = %v, want created", first.State)
	}
	before := countGraph(t, g)

	second, err := m.CreateOrUpdate(ctx, testUnit())
	if err != nil {
		t.Fatalf("second CreateOrUpdate: %v", err)
	}
	if !second.Unchanged() || second.HasChanged() {
		t.Fatalf("second state = %v, want unchanged", second.State)
	}
	if second.Node.ID != first.Node.ID {
		t.Fatalf("node = %q, want %q", second.Node.ID, first.Node.ID)
	}
	if after := countGraph(t, g); after != before {
		t.Fatalf("counts changed: %+v -> %+v", before, after)
	}
}

func TestUpdate_ReconcilesDependents(t *testing.T) {
	m, g := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, testUnit()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// eng renamed and its date dropped, nld removed, fra added.
	changed := bundle.Of(schema.DocumentaryUnit, map[string]any{"identifier": "c1"}).
		WithID("nl-r1-c1").
		WithRelations("describes",
			testDesc("eng", "Fonds C1 (revised)"),
			testDesc("fra", "Fonds C1"),
		)
	mut, err := m.Update(ctx, changed)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !mut.Updated() {
		t.Fatalf("state = %v, want updated", mut.State)
	}
	if mut.Prior == nil || mut.Prior.DataHash() != testUnit().DataHash() {
		t.Fatal("prior bundle does not match the original tree")
	}
	if want := []string{"nl-r1-c1.eng", "nl-r1-c1.nld"}; !slices.Equal(relationIDs(mut.Prior, "describes"), want) {
		t.Fatalf("prior describes = %v, want %v", relationIDs(mut.Prior, "describes"), want)
	}

	b, err := m.Get(ctx, "nl-r1-c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := []string{"nl-r1-c1.eng", "nl-r1-c1.fra"}; !slices.Equal(relationIDs(b, "describes"), want) {
		t.Fatalf("describes = %v, want %v", relationIDs(b, "describes"), want)
	}
	eng, err := bundle.GetBundle(b, "describes[0]")
	if err != nil {
		t.Fatal(err)
	}
	if eng.ID() != "nl-r1-c1.eng" {
		eng, _ = bundle.GetBundle(b, "describes[1]")
	}
	if got := eng.DataString("name"); got != "Fonds C1 (revised)" {
		t.Fatalf("eng name = %q", got)
	}
	if eng.HasRelation("hasDate") {
		t.Fatal("dropped date is still attached")
	}
	// country, repo, unit, eng, fra
	if got := countGraph(t, g); got != (graphCounts{vertices: 5, edges: 2}) {
		t.Fatalf("counts = %+v, want 5 vertices and 2 edges", got)
	}
}

func TestUpdate_NestedChangeIsDetected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, testUnit()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	changed, err := bundle.Set(testUnit(), "describes[0]/hasDate[0]/startDate", "1940-01-01")
	if err != nil {
		t.Fatal(err)
	}
	mut, err := m.CreateOrUpdate(ctx, changed)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if !mut.Updated() {
		t.Fatalf("state = %v, want updated", mut.State)
	}
	b, err := m.Get(ctx, "nl-r1-c1")
	if err != nil {
		t.Fatal(err)
	}
	if b.DataHash() != changed.DataHash() {
		t.Fatal("stored tree does not reflect the nested change")
	}
}

func TestUpdate_Errors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Update(ctx, testUnit())
	var ve *persistence.ValidationError
	if !errors.As(err, &ve) || len(ve.Errors.ErrorsFor("id")) == 0 {
		t.Fatalf("update without id: got %v", err)
	}

	_, err = m.Update(ctx, testUnit().WithID("nl-r1-missing"))
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("update of missing item: got %v, want ErrNotFound", err)
	}

	// nl-r1 exists but is a Repository.
	_, err = m.Update(ctx, testUnit().WithID("nl-r1"))
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("update of wrong type: got %v, want ErrNotFound", err)
	}
}

func TestCreate_Collision(t *testing.T) {
	m, g := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, testUnit()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := countGraph(t, g)

	_, err := m.Create(ctx, testUnit())
	if !errors.Is(err, persistence.ErrCollision) {
		t.Fatalf("second Create: got %v, want ErrCollision", err)
	}
	var ce *persistence.CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not a *CollisionError", err)
	}
	if msgs := ce.Errors.ErrorsFor("identifier"); len(msgs) == 0 {
		t.Fatalf("collision errors = %v, want identifier messages", ce.Errors.Flatten())
	}
	if after := countGraph(t, g); after != before {
		t.Fatalf("collision wrote data: %+v -> %+v", before, after)
	}
}

func TestCreate_ExplicitIDTaken(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Create(context.Background(), testUnit().WithID("nl-r1"))
	if !errors.Is(err, graph.ErrIntegrity) {
		t.Fatalf("got %v, want ErrIntegrity", err)
	}
}

func TestCreate_DuplicateSiblings(t *testing.T) {
	m, g := newTestManager(t)
	before := countGraph(t, g)
	b := bundle.Of(schema.DocumentaryUnit, map[string]any{"identifier": "c1"}).
		WithRelations("describes", testDesc("eng", "One"), testDesc("eng", "Two"))

	_, err := m.Create(context.Background(), b)
	var ce *persistence.CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want *CollisionError", err)
	}
	children := ce.Errors.Relations("describes")
	if len(children) != 2 {
		t.Fatalf("describes error sets = %d, want 2", len(children))
	}
	if !children[0].IsEmpty() {
		t.Fatalf("first description flagged: %v", children[0].Flatten())
	}
	if len(children[1].ErrorsFor("languageCode")) == 0 {
		t.Fatalf("second description errors = %v", children[1].Flatten())
	}
	if after := countGraph(t, g); after != before {
		t.Fatalf("collision wrote data: %+v -> %+v", before, after)
	}
}

func TestCreate_ValidationTree(t *testing.T) {
	m, g := newTestManager(t)
	before := countGraph(t, g)
	b := bundle.Of(schema.DocumentaryUnit, nil).
		WithRelations("describes",
			testDesc("eng", "ok"),
			bundle.Of(schema.DocumentaryUnitDescription, map[string]any{
				"languageCode":       "nld",
				"levelOfDescription": "pile",
			}),
		).
		WithRelation("nope", bundle.New(schema.Country).WithID("nl"))

	_, err := m.Create(context.Background(), b)
	if !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	var ve *persistence.ValidationError
	errors.As(err, &ve)
	es := ve.Errors
	if len(es.ErrorsFor("identifier")) == 0 {
		t.Fatalf("missing identifier not reported: %v", es.Flatten())
	}
	if len(es.ErrorsFor("nope")) == 0 {
		t.Fatalf("unknown relation not reported: %v", es.Flatten())
	}
	descs := es.Relations("describes")
	if len(descs) != 2 || !descs[0].IsEmpty() {
		t.Fatalf("describes errors = %v", es.Flatten())
	}
	if len(descs[1].ErrorsFor("name")) == 0 || len(descs[1].ErrorsFor("levelOfDescription")) == 0 {
		t.Fatalf("nested errors = %v", descs[1].Flatten())
	}
	if after := countGraph(t, g); after != before {
		t.Fatalf("invalid bundle wrote data: %+v -> %+v", before, after)
	}
}

func TestCreate_MissingReferenceRollsBack(t *testing.T) {
	m, g := newTestManager(t)
	before := countGraph(t, g)
	b := testUnit().
		RemoveRelations("heldBy").
		WithRelation("heldBy", bundle.New(schema.Repository).WithID("nl-r9"))

	_, err := m.Create(context.Background(), b)
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if after := countGraph(t, g); after != before {
		t.Fatalf("failed cascade left data: %+v -> %+v", before, after)
	}
}

func TestCreate_Unique(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	user := func(id string) *bundle.Bundle {
		return bundle.Of(schema.UserProfile, map[string]any{
			"identifier": id, "name": id, "email": "same@example.org",
		})
	}
	if _, err := m.WithScope().Create(ctx, user("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := m.WithScope().Create(ctx, user("bob"))
	var ve *persistence.ValidationError
	if !errors.As(err, &ve) || len(ve.Errors.ErrorsFor("email")) == 0 {
		t.Fatalf("got %v, want email uniqueness error", err)
	}
	// Updating the holder of the value is fine.
	mut, err := m.WithScope().CreateOrUpdate(ctx, user("alice").WithDataValue("name", "Alice"))
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if !mut.Updated() {
		t.Fatalf("state = %v, want updated", mut.State)
	}
}

func TestDelete_Cascades(t *testing.T) {
	m, g := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, testUnit()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	child, err := m.WithScope("nl", "r1", "c1").Create(ctx,
		bundle.Of(schema.DocumentaryUnit, map[string]any{"identifier": "c1-c2"}))
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}
	if child.ID != "nl-r1-c1-c2" {
		t.Fatalf("child ID = %q, want nl-r1-c1-c2", child.ID)
	}
	if err := m.Link(ctx, "nl-r1-c1", "heldBy", "nl-r1"); err != nil {
		t.Fatalf("Link heldBy: %v", err)
	}
	if err := m.Link(ctx, child.ID, "childOf", "nl-r1-c1"); err != nil {
		t.Fatalf("Link childOf: %v", err)
	}
	before := countGraph(t, g)

	n, err := m.Delete(ctx, testUnit())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// unit + eng + nld + date
	if n != 4 {
		t.Fatalf("deleted = %d, want 4", n)
	}
	after := countGraph(t, g)
	if after.vertices != before.vertices-4 {
		t.Fatalf("vertices %d -> %d, want 4 fewer", before.vertices, after.vertices)
	}
	if after.edges != 0 {
		t.Fatalf("edges left = %d, want 0", after.edges)
	}
	err = g.View(ctx, func(gm graph.Manager) error {
		for _, id := range []string{"nl-r1", child.ID} {
			if ok, _ := gm.Exists(ctx, id); !ok {
				t.Fatalf("%s was deleted", id)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.DeleteByID(ctx, "nl-r1-c1"); !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestLink(t *testing.T) {
	m, g := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, testUnit()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := g.Update(ctx, func(gm graph.Manager) error {
		_, err := gm.CreateVertex(ctx, "nl-r2", schema.Repository, map[string]any{"identifier": "r2"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Link(ctx, "nl-r1-c1", "heldBy", "nl-r1"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	// heldBy has cardinality one: relinking moves the edge.
	if err := m.Link(ctx, "nl-r1-c1", "heldBy", "nl-r2"); err != nil {
		t.Fatalf("relink: %v", err)
	}
	b, err := m.Get(ctx, "nl-r1-c1")
	if err != nil {
		t.Fatal(err)
	}
	if got := relationIDs(b, "heldBy"); !slices.Equal(got, []string{"nl-r2"}) {
		t.Fatalf("heldBy = %v, want [nl-r2]", got)
	}

	if err := m.Link(ctx, "nl-r1-c1", "describes", "nl-r1-c1.eng"); !errors.Is(err, graph.ErrIllegalArgument) {
		t.Fatalf("link dependent relation: got %v", err)
	}
	if err := m.Link(ctx, "nl-r1-c1", "heldBy", "nl"); !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("link wrong target type: got %v", err)
	}
	if err := m.Link(ctx, "nl-r1-c1", "bogus", "nl-r1"); !errors.Is(err, graph.ErrIllegalArgument) {
		t.Fatalf("link unknown relation: got %v", err)
	}

	if err := m.Unlink(ctx, "nl-r1-c1", "heldBy", "nl-r2"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	b, err = m.Get(ctx, "nl-r1-c1")
	if err != nil {
		t.Fatal(err)
	}
	if b.HasRelation("heldBy") {
		t.Fatalf("heldBy after unlink = %v", relationIDs(b, "heldBy"))
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := newTestManager(t, persistence.WithMetrics(reg))
	ctx := context.Background()

	for range 2 {
		if _, err := m.CreateOrUpdate(ctx, testUnit()); err != nil {
			t.Fatalf("CreateOrUpdate: %v", err)
		}
	}
	if _, err := m.DeleteByID(ctx, "nl-r1-c1"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}

	const want = `
# HELP ehri_bundle_mutations_total Total number of committed bundle upserts by outcome
# TYPE ehri_bundle_mutations_total counter
ehri_bundle_mutations_total{state="created",type="DocumentaryUnit"} 1
ehri_bundle_mutations_total{state="unchanged",type="DocumentaryUnit"} 1
# HELP ehri_bundle_deleted_vertices_total Total number of vertices removed by bundle deletes
# TYPE ehri_bundle_deleted_vertices_total counter
ehri_bundle_deleted_vertices_total{type="DocumentaryUnit"} 4
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"ehri_bundle_mutations_total", "ehri_bundle_deleted_vertices_total")
	if err != nil {
		t.Fatal(err)
	}

	// A second manager on the same registry shares the counters.
	if _, err := persistence.NewBundleManager(newTestGraph(t), persistence.WithMetrics(reg)); err != nil {
		t.Fatalf("second manager: %v", err)
	}
}

func TestCreate_CustomRegistry(t *testing.T) {
	reg, err := schema.Parse([]byte(`
- name: Box
  id_strategy: identifiable
  mandatory: [identifier]
  relations:
    - {name: part, label: partOf, direction: in, dependent: true, target: Part}
- name: Part
  id_strategy: identifiable
  mandatory: [identifier]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	store := kv.NewMemory(graph.StoreOptions())
	t.Cleanup(func() { store.Close() })
	g, err := graph.New(store, &graph.Options{Registry: reg})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	m, err := persistence.NewBundleManager(g)
	if err != nil {
		t.Fatalf("NewBundleManager: %v", err)
	}
	ctx := context.Background()
	box := func(name string) *bundle.Bundle {
		return bundle.Of("Box", map[string]any{"identifier": "b1"}).
			WithRelation("part", bundle.Of("Part", map[string]any{"identifier": "p1", "name": name}))
	}

	v, err := m.Create(ctx, box("lid"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.ID != "b1" {
		t.Fatalf("ID = %q, want b1", v.ID)
	}
	got, err := m.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := []string{"b1-p1"}; !slices.Equal(relationIDs(got, "part"), want) {
		t.Fatalf("part = %v, want %v", relationIDs(got, "part"), want)
	}

	mut, err := m.CreateOrUpdate(ctx, box("lid"))
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if mut.State != persistence.Unchanged {
		t.Fatalf("State = %v, want Unchanged", mut.State)
	}
	// A change in the owned part alone must be seen through the custom
	// registry's relation table.
	mut, err = m.CreateOrUpdate(ctx, box("base"))
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if mut.State != persistence.Updated {
		t.Fatalf("State = %v, want Updated", mut.State)
	}
	if name, _, _ := bundle.Get(mut.Prior, "part[0]/name"); name != "lid" {
		t.Fatalf("prior part name = %v, want lid", name)
	}
}

func TestCreate_IDWithColon(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	unit := bundle.Of(schema.DocumentaryUnit, map[string]any{"identifier": "c9"}).
		WithID("urn:c9").
		WithRelation("describes", testDesc("eng", "Fonds C9"))
	v, err := m.Create(ctx, unit)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.ID != "urn:c9" {
		t.Fatalf("ID = %q, want urn:c9", v.ID)
	}
	got, err := m.Get(ctx, "urn:c9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID() != "urn:c9" || len(got.Relations("describes")) != 1 {
		t.Fatalf("Get = %s", got)
	}
	if err := m.Link(ctx, "urn:c9", "heldBy", "nl-r1"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	n, err := m.DeleteByID(ctx, "urn:c9")
	if err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteByID = %d, want 2", n)
	}
}
