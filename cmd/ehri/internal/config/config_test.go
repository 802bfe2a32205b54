package config_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EHRI/ehri-rest-sub010/cmd/ehri/internal/config"
	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
	"github.com/EHRI/ehri-rest-sub010/pkg/storage"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	t.Setenv(config.EnvBackend, "")
	t.Setenv(config.EnvDataDir, "")
	s, err := config.OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add("dev"); err != nil {
		t.Fatal(err)
	}
	if err := s.Use("dev"); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestContexts(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add("dev"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Add duplicate = %v", err)
	}
	if err := s.Add("../x"); err == nil {
		t.Fatal("Add accepted a path")
	}
	if err := s.Add("staging"); err != nil {
		t.Fatal(err)
	}
	infos, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []config.ContextInfo{{Name: "dev", Current: true}, {Name: "staging"}}
	if len(infos) != 2 || infos[0] != want[0] || infos[1] != want[1] {
		t.Fatalf("List = %v, want %v", infos, want)
	}
	if err := s.Remove("dev"); err == nil {
		t.Fatal("removed the current context")
	}
	if err := s.Remove("staging"); err != nil {
		t.Fatal(err)
	}
	if err := s.Use("staging"); err == nil {
		t.Fatal("switched to a removed context")
	}
}

func TestCurrent_NotSet(t *testing.T) {
	s, err := config.OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Current(); !errors.Is(err, config.ErrNoContext) {
		t.Fatalf("Current = %v, want ErrNoContext", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	s := newTestStore(t)
	name, g, err := s.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if name != "dev" {
		t.Errorf("name = %q, want dev", name)
	}
	if g.Backend != "badger" || g.Index != "auto" {
		t.Errorf("backend, index = %q, %q", g.Backend, g.Index)
	}
	if want := filepath.Join(s.Dir(), "contexts", "dev", "data"); g.DataDir != want {
		t.Errorf("DataDir = %q, want %q", g.DataDir, want)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	s := newTestStore(t)
	t.Setenv(config.EnvBackend, "memory")
	t.Setenv(config.EnvDataDir, "/srv/ehri")
	_, g, err := s.Load("dev")
	if err != nil {
		t.Fatal(err)
	}
	if g.Backend != "memory" || g.DataDir != "/srv/ehri" {
		t.Fatalf("Load = %+v", g)
	}

	t.Setenv(config.EnvBackend, "postgres")
	if _, _, err := s.Load("dev"); err == nil || !strings.Contains(err.Error(), "backend must be one of") {
		t.Fatalf("Load with bad backend = %v", err)
	}
}

func TestSet(t *testing.T) {
	s := newTestStore(t)
	for _, kv := range [][2]string{
		{"backend", "sqlite"},
		{"index", "label"},
		{"prefix", "archive"},
		{"scope", "nl, r1"},
		{"export.dir", "/tmp/out"},
	} {
		if err := s.Set(kv[0], kv[1]); err != nil {
			t.Fatalf("Set(%s): %v", kv[0], err)
		}
	}
	_, g, err := s.Show("")
	if err != nil {
		t.Fatal(err)
	}
	if g.Backend != "sqlite" || g.Index != "label" || g.Prefix != "archive" {
		t.Errorf("Show = %+v", g)
	}
	if len(g.Scope) != 2 || g.Scope[0] != "nl" || g.Scope[1] != "r1" {
		t.Errorf("Scope = %v, want [nl r1]", g.Scope)
	}
	if g.Export == nil || g.Export.Dir != "/tmp/out" {
		t.Errorf("Export = %+v", g.Export)
	}
}

func TestSet_Rejects(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		key, value, msg string
	}{
		{"colour", "red", "unknown key"},
		{"index", "btree", "index must be one of"},
		{"prefix", "a:b", "prefix must not contain"},
		{"slug_replace", "--", "slug_replace must be 1"},
		{"export.s3.region", "eu-west-1", "export.s3.bucket is required"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := s.Set(tt.key, tt.value)
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("Set(%s, %s) = %v, want %q", tt.key, tt.value, err, tt.msg)
			}
		})
	}
	if err := s.Set("export.dir", "/tmp/out"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("export.s3.bucket", "b"); err == nil || !strings.Contains(err.Error(), "cannot be combined with s3") {
		t.Fatalf("dir and s3 together = %v", err)
	}
	_, g, _ := s.Show("")
	if g.Export.S3 != nil {
		t.Fatal("rejected value was written")
	}
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	exportDir := t.TempDir()
	if err := s.Set("export.dir", exportDir); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		backend string
		check   func(kv.Store) bool
	}{
		{"memory", func(st kv.Store) bool { _, ok := st.(*kv.Memory); return ok }},
		{"sqlite", func(st kv.Store) bool { _, ok := st.(*kv.SQLite); return ok }},
		{"badger", func(st kv.Store) bool { _, ok := st.(*kv.Badger); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			t.Setenv(config.EnvBackend, tt.backend)
			t.Setenv(config.EnvDataDir, t.TempDir())
			_, g, err := s.Load("")
			if err != nil {
				t.Fatal(err)
			}
			st, err := g.OpenKV(nil)
			if err != nil {
				t.Fatalf("OpenKV: %v", err)
			}
			t.Cleanup(func() { st.Close() })
			if !tt.check(st) {
				t.Fatalf("OpenKV = %T", st)
			}
			if got := st.Separator(); got != kv.UnitSeparator {
				t.Fatalf("Separator() = %q, want %q", got, kv.UnitSeparator)
			}
			gr, err := graph.New(st, g.GraphOptions(nil))
			if err != nil {
				t.Fatalf("graph.New: %v", err)
			}
			if tt.backend == "badger" && gr.Strategy() != graph.IndexLabel {
				t.Errorf("Strategy = %s, want label", gr.Strategy())
			}
		})
	}

	_, g, err := s.Load("")
	if err != nil {
		t.Fatal(err)
	}
	fs, err := g.OpenExport()
	if err != nil {
		t.Fatalf("OpenExport: %v", err)
	}
	if l, ok := fs.(*storage.Local); !ok || l.Root() != exportDir {
		t.Fatalf("OpenExport = %#v", fs)
	}
}

func TestOpenExport_S3(t *testing.T) {
	g := &config.Graph{Export: &config.Export{S3: &config.S3{Bucket: "ehri", Prefix: "dumps", Endpoint: "http://localhost:9000"}}}
	fs, err := g.OpenExport()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fs.(*storage.S3Store); !ok {
		t.Fatalf("OpenExport = %T, want *storage.S3Store", fs)
	}
	if _, err := (&config.Graph{}).OpenExport(); !errors.Is(err, config.ErrNoExport) {
		t.Fatalf("OpenExport without target = %v", err)
	}
}
