package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"testing"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// countryExport encodes one Country bundle per code as a JSON archive.
func countryExport(t *testing.T, codes ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := bundle.WriteStream(&buf, func(yield func(*bundle.Bundle, error) bool) {
		for _, c := range codes {
			if !yield(bundle.Of(schema.Country, map[string]any{"identifier": c}).WithID(c), nil) {
				return
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func put(t *testing.T, s FileStore, p string, data []byte) {
	t.Helper()
	w, err := s.Write(context.Background(), p)
	if err != nil {
		t.Fatalf("Write(%s): %v", p, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write(%s): %v", p, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%s): %v", p, err)
	}
}

func exportedIDs(t *testing.T, s FileStore, p string) []string {
	t.Helper()
	r, err := s.Read(context.Background(), p)
	if err != nil {
		t.Fatalf("Read(%s): %v", p, err)
	}
	defer r.Close()
	var ids []string
	for b, err := range bundle.FromStream(r) {
		if err != nil {
			t.Fatalf("decode %s: %v", p, err)
		}
		ids = append(ids, b.ID())
	}
	return ids
}

// testFileStore checks the FileStore contract against fresh stores from
// newStore.
func testFileStore(t *testing.T, newStore func(t *testing.T) FileStore) {
	ctx := context.Background()

	t.Run("export round trip", func(t *testing.T) {
		s := newStore(t)
		data := countryExport(t, "nl", "de")
		put(t, s, "dumps/countries.json", data)

		r, err := s.Read(ctx, "dumps/countries.json")
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("Read = %q, want %q", got, data)
		}
		if ids := exportedIDs(t, s, "dumps/countries.json"); !slices.Equal(ids, []string{"nl", "de"}) {
			t.Fatalf("exported ids = %v, want [nl de]", ids)
		}
	})

	t.Run("re-export replaces content", func(t *testing.T) {
		s := newStore(t)
		put(t, s, "countries.json", countryExport(t, "nl", "de", "pl"))
		put(t, s, "countries.json", countryExport(t, "be"))
		if ids := exportedIDs(t, s, "countries.json"); !slices.Equal(ids, []string{"be"}) {
			t.Fatalf("exported ids = %v, want [be]", ids)
		}
	})

	t.Run("missing export", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Read(ctx, "dumps/none.json"); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("Read error = %v, want os.ErrNotExist", err)
		}
		ok, err := s.Exists(ctx, "dumps/none.json")
		if err != nil || ok {
			t.Fatalf("Exists = %v, %v, want false, nil", ok, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		if err := s.Delete(ctx, "old.json"); err != nil {
			t.Fatalf("Delete of missing export: %v", err)
		}
		put(t, s, "old.json", countryExport(t, "nl"))
		if ok, err := s.Exists(ctx, "old.json"); err != nil || !ok {
			t.Fatalf("Exists after write = %v, %v", ok, err)
		}
		if err := s.Delete(ctx, "old.json"); err != nil {
			t.Fatal(err)
		}
		if ok, err := s.Exists(ctx, "old.json"); err != nil || ok {
			t.Fatalf("Exists after delete = %v, %v", ok, err)
		}
		if err := s.Delete(ctx, "old.json"); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"nl/units.json", "nl/repos.yaml", "de/units.xml"} {
			put(t, s, p, countryExport(t))
		}
		got, err := s.List(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"de/units.xml", "nl/repos.yaml", "nl/units.json"}; !slices.Equal(got, want) {
			t.Fatalf("List() = %v, want %v", got, want)
		}
		got, err = s.List(ctx, "nl")
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"nl/repos.yaml", "nl/units.json"}; !slices.Equal(got, want) {
			t.Fatalf("List(nl) = %v, want %v", got, want)
		}
		got, err = s.List(ctx, "pl")
		if err != nil || len(got) != 0 {
			t.Fatalf("List(pl) = %v, %v, want empty", got, err)
		}
	})

	t.Run("escaping paths", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"../outside.json", "/etc/passwd", "nl/../../units.json"} {
			if _, err := s.Write(ctx, p); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Write(%q) error = %v, want ErrInvalidPath", p, err)
			}
			if _, err := s.Read(ctx, p); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Read(%q) error = %v, want ErrInvalidPath", p, err)
			}
			if _, err := s.Exists(ctx, p); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Exists(%q) error = %v, want ErrInvalidPath", p, err)
			}
			if err := s.Delete(ctx, p); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Delete(%q) error = %v, want ErrInvalidPath", p, err)
			}
		}
	})
}
