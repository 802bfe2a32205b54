package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
)

// setupGraph creates and selects a context whose commands share one
// in-memory store.
func setupGraph(t *testing.T) {
	t.Helper()
	setupTestEnv(t)
	t.Setenv("EHRI_BACKEND", "memory")
	for _, args := range [][]string{{"ctx", "add", "dev"}, {"ctx", "use", "dev"}} {
		if _, stderr, code := runCmd(t, args...); code != 0 {
			t.Fatalf("%v: %s", args, stderr)
		}
	}
	testKVOverride = kv.NewMemory(graph.StoreOptions())
	t.Cleanup(func() { testKVOverride = nil })
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const (
	countryFixture = `{"type": "Country", "data": {"identifier": "nl"}}`
	repoFixture    = `{"type": "Repository", "data": {"identifier": "r1"}}`
	unitFixture    = `
- type: DocumentaryUnit
  data:
    identifier: c1
  relationships:
    describes:
      - type: DocumentaryUnitDescription
        data:
          languageCode: eng
          name: Fonds C1
        relationships:
          hasDate:
            - type: DatePeriod
              data:
                startDate: "1939-01-01"
`
)

// mustRun runs a command that is expected to succeed and returns stdout.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, code := runCmd(t, args...)
	if code != 0 {
		t.Fatalf("%s: exit %d: %s", strings.Join(args, " "), code, stderr)
	}
	return stdout
}

func seedGraph(t *testing.T) {
	t.Helper()
	mustRun(t, "create", "-f", writeFixture(t, "nl.json", countryFixture))
	mustRun(t, "create", "-f", writeFixture(t, "r1.json", repoFixture), "--scope", "nl")
	out := mustRun(t, "create", "-f", writeFixture(t, "units.yaml", unitFixture), "--scope", "nl,r1")
	if !strings.Contains(out, "created") || !strings.Contains(out, "nl-r1-c1") {
		t.Fatalf("create output = %q", out)
	}
	mustRun(t, "link", "nl-r1-c1", "heldBy", "nl-r1")
}

func jsonQuery(t *testing.T, q string, args ...string) string {
	t.Helper()
	return strings.TrimSpace(mustRun(t, append(args, "--format", "json", "-q", q)...))
}

func TestInit(t *testing.T) {
	setupGraph(t)
	out := mustRun(t, "init")
	if !strings.Contains(out, "shared index") {
		t.Fatalf("init output = %q", out)
	}
}

func TestCreateGetUpsert(t *testing.T) {
	setupGraph(t)
	seedGraph(t)

	if got := jsonQuery(t, ".id", "get", "nl-r1-c1"); got != `"nl-r1-c1"` {
		t.Errorf("id = %s, want \"nl-r1-c1\"", got)
	}
	if got := jsonQuery(t, ".relationships.heldBy[0].id", "get", "nl-r1-c1"); got != `"nl-r1"` {
		t.Errorf("heldBy = %s, want \"nl-r1\"", got)
	}
	if got := jsonQuery(t, ".relationships.describes[0].id", "get", "nl-r1-c1"); got != `"nl-r1-c1.eng"` {
		t.Errorf("description id = %s, want \"nl-r1-c1.eng\"", got)
	}

	out := mustRun(t, "upsert", "-f", writeFixture(t, "units.yaml", unitFixture), "--scope", "nl,r1")
	if !strings.Contains(out, "unchanged") {
		t.Errorf("upsert output = %q, want unchanged", out)
	}

	xml := mustRun(t, "get", "nl-r1-c1", "--format", "xml")
	if !strings.HasPrefix(xml, `<bundle id="nl-r1-c1"`) {
		t.Errorf("xml output = %q", xml)
	}
}

func TestCreateErrors(t *testing.T) {
	setupGraph(t)
	seedGraph(t)

	_, stderr, code := runCmd(t, "create", "-f", writeFixture(t, "bad.json", `{"type": "DocumentaryUnit", "data": {}}`))
	if code == 0 {
		t.Fatal("expected non-zero exit for a missing identifier")
	}
	if !strings.Contains(stderr, "identifier") {
		t.Fatalf("stderr = %q, want the identifier error", stderr)
	}

	_, stderr, code = runCmd(t, "create", "-f", writeFixture(t, "units.yaml", unitFixture), "--scope", "nl,r1")
	if code == 0 || !strings.Contains(stderr, "collision") {
		t.Fatalf("duplicate create: exit %d, stderr %q", code, stderr)
	}

	_, _, code = runCmd(t, "update", "-f", writeFixture(t, "c9.json", `{"type": "DocumentaryUnit", "id": "nl-r1-c9", "data": {"identifier": "c9"}}`))
	if code == 0 {
		t.Fatal("expected non-zero exit updating a missing item")
	}
}

func TestCreateRepairedJSON(t *testing.T) {
	setupGraph(t)
	broken := writeFixture(t, "broken.json", `[{"type": "Country", "data": {"identifier": "de",}},]`)
	if _, _, code := runCmd(t, "create", "-f", broken); code == 0 {
		t.Fatal("expected malformed JSON to fail without --repair")
	}
	out := mustRun(t, "create", "-f", broken, "--repair")
	if !strings.Contains(out, "de") {
		t.Fatalf("create output = %q", out)
	}
}

func TestPathGetSet(t *testing.T) {
	setupGraph(t)
	seedGraph(t)

	if got := jsonQuery(t, ".", "path", "get", "nl-r1-c1", "describes[0]/name"); got != `"Fonds C1"` {
		t.Fatalf("path get = %s", got)
	}
	out := mustRun(t, "path", "set", "nl-r1-c1", "describes[0]/name", "Fonds One")
	if !strings.Contains(out, "updated") {
		t.Fatalf("path set output = %q", out)
	}
	if got := jsonQuery(t, ".", "path", "get", "nl-r1-c1", "describes[0]/name"); got != `"Fonds One"` {
		t.Fatalf("path get after set = %s", got)
	}
	if got := jsonQuery(t, ".", "path", "get", "nl-r1-c1", "describes[0]/hasDate[0]/startDate"); got != `"1939-01-01"` {
		t.Fatalf("nested path get = %s", got)
	}
	// The link survives an update through the bundle.
	if got := jsonQuery(t, ".relationships.heldBy[0].id", "get", "nl-r1-c1"); got != `"nl-r1"` {
		t.Errorf("heldBy after update = %s", got)
	}

	if _, stderr, code := runCmd(t, "path", "get", "nl-r1-c1", "describes[5]/name"); code == 0 {
		t.Fatalf("out of range path succeeded: %s", stderr)
	}
	if _, stderr, code := runCmd(t, "path", "get", "nl-r1-c1", "describes[0]/scopeAndContent"); code == 0 || !strings.Contains(stderr, "no value") {
		t.Fatalf("missing value: exit %d, stderr %q", code, stderr)
	}
}

func TestListAndFind(t *testing.T) {
	setupGraph(t)
	seedGraph(t)
	mustRun(t, "create", "-f", writeFixture(t, "c2.json", `{"type": "DocumentaryUnit", "data": {"identifier": "c2"}}`), "--scope", "nl,r1")

	if got := jsonQuery(t, "length", "list", "DocumentaryUnit"); got != "2" {
		t.Errorf("list length = %s, want 2", got)
	}
	if got := jsonQuery(t, "length", "list", "DocumentaryUnit", "--limit", "1"); got != "1" {
		t.Errorf("limited list length = %s, want 1", got)
	}
	table := mustRun(t, "list", "DocumentaryUnit", "--format", "table")
	if !strings.Contains(table, "nl-r1-c1") || !strings.Contains(table, "nl-r1-c2") {
		t.Errorf("table = %q", table)
	}
	if got := jsonQuery(t, `[.[].id] | join(",")`, "find", "DocumentaryUnit", "--where", "identifier:eq:c2"); got != `"nl-r1-c2"` {
		t.Errorf("find = %s", got)
	}
	if got := jsonQuery(t, "length", "find", "DatePeriod", "--where", "startDate:gte:1939", "--where", "startDate:lt:1946"); got != "1" {
		t.Errorf("date range find = %s, want 1", got)
	}
	if _, stderr, code := runCmd(t, "find", "DocumentaryUnit", "--where", "identifier:like:c"); code == 0 || !strings.Contains(stderr, "unknown operator") {
		t.Errorf("bad operator: exit %d, stderr %q", code, stderr)
	}
	if _, stderr, code := runCmd(t, "list", "Spaceship"); code == 0 || !strings.Contains(stderr, "unknown entity type") {
		t.Errorf("bad type: exit %d, stderr %q", code, stderr)
	}
}

func TestRenameAndDelete(t *testing.T) {
	setupGraph(t)
	seedGraph(t)

	mustRun(t, "rename", "nl-r1-c1", "nl-r1-c9")
	if _, _, code := runCmd(t, "get", "nl-r1-c1"); code == 0 {
		t.Fatal("old id still resolves after rename")
	}
	if got := jsonQuery(t, ".relationships.heldBy[0].id", "get", "nl-r1-c9"); got != `"nl-r1"` {
		t.Errorf("heldBy after rename = %s", got)
	}

	out := mustRun(t, "delete", "nl-r1-c9")
	if !strings.Contains(out, "(3 vertices)") {
		t.Fatalf("delete output = %q", out)
	}
	if got := jsonQuery(t, "length", "list", "DatePeriod"); got != "0" {
		t.Errorf("dates after delete = %s, want 0", got)
	}
	if got := jsonQuery(t, ".id", "get", "nl-r1"); got != `"nl-r1"` {
		t.Errorf("repository after delete = %s", got)
	}
}

func TestLinkUnlink(t *testing.T) {
	setupGraph(t)
	seedGraph(t)

	mustRun(t, "unlink", "nl-r1-c1", "heldBy", "nl-r1")
	if got := jsonQuery(t, ".relationships.heldBy", "get", "nl-r1-c1"); got != "null" {
		t.Errorf("heldBy after unlink = %s", got)
	}
	if _, stderr, code := runCmd(t, "link", "nl-r1-c1", "describes", "nl-r1-c1.eng"); code == 0 {
		t.Errorf("linking a dependent relation succeeded: %s", stderr)
	}
}

func TestExportImport(t *testing.T) {
	setupGraph(t)
	seedGraph(t)
	exportDir := t.TempDir()
	mustRun(t, "ctx", "config", "set", "export.dir", exportDir)

	for _, name := range []string{"all.json", "all.yaml", "all.xml"} {
		out := mustRun(t, "export", name)
		if !strings.Contains(out, "Exported 3 items") {
			t.Fatalf("export %s output = %q", name, out)
		}
		if _, err := os.Stat(filepath.Join(exportDir, name)); err != nil {
			t.Fatalf("export %s: %v", name, err)
		}
	}

	mustRun(t, "delete", "nl-r1-c1")
	out := mustRun(t, "import", "all.xml")
	if !strings.Contains(out, "created") || strings.Count(out, "unchanged") != 2 {
		t.Fatalf("import output = %q", out)
	}
	if got := jsonQuery(t, ".relationships.heldBy[0].id", "get", "nl-r1-c1"); got != `"nl-r1"` {
		t.Errorf("heldBy after import = %s", got)
	}
	if got := jsonQuery(t, ".relationships.describes[0].relationships.hasDate[0].data.startDate", "get", "nl-r1-c1"); got != `"1939-01-01"` {
		t.Errorf("date after import = %s", got)
	}

	if got := jsonQuery(t, "length", "list", "DocumentaryUnit"); got != "1" {
		t.Errorf("units after import = %s, want 1", got)
	}
}

func TestExportWithoutTarget(t *testing.T) {
	setupGraph(t)
	if _, stderr, code := runCmd(t, "export", "all.json"); code == 0 || !strings.Contains(stderr, "no export target") {
		t.Fatalf("export without target: exit %d, stderr %q", code, stderr)
	}
}

func TestSchema(t *testing.T) {
	out := mustRun(t, "schema", "list")
	for _, name := range []string{"DocumentaryUnit", "DatePeriod", "generic"} {
		if !strings.Contains(out, name) {
			t.Errorf("schema list missing %q: %s", name, out)
		}
	}
	if got := strings.TrimSpace(mustRun(t, "schema", "show", "Country", "-q", ".title")); got != `"Country"` {
		t.Errorf("schema title = %s", got)
	}
	if _, _, code := runCmd(t, "schema", "show", "Spaceship"); code == 0 {
		t.Error("unknown type succeeded")
	}
}

func TestWriteCommandsOwnFlags(t *testing.T) {
	t.Cleanup(func() { resetFlags(rootCmd) })
	create, _, err := rootCmd.Find([]string{"create"})
	if err != nil {
		t.Fatalf("Find(create): %v", err)
	}
	if err := create.Flags().Set("scope", "nl,r1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := create.Flags().Set("file", "units.yaml"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for _, name := range []string{"update", "upsert"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Fatalf("Find(%s): %v", name, err)
		}
		if got := c.Flags().Lookup("scope").Value.String(); got != "[]" {
			t.Errorf("%s --scope = %s, want []", name, got)
		}
		if got := c.Flags().Lookup("file").Value.String(); got != "" {
			t.Errorf("%s --file = %q, want empty", name, got)
		}
	}
}
