package storage

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
)

// Format is an archive encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	XML  Format = "xml"
)

// FormatOf picks the format from a file extension. Unknown extensions are
// treated as JSON.
func FormatOf(p string) Format {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return YAML
	case ".xml":
		return XML
	}
	return JSON
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case YAML:
		return "application/yaml"
	case XML:
		return "application/xml"
	}
	return "application/json"
}

// Archive reads and writes bundle files on a FileStore.
type Archive struct {
	store FileStore
}

// NewArchive returns an Archive on store.
func NewArchive(store FileStore) *Archive {
	return &Archive{store: store}
}

// Store returns the underlying FileStore.
func (a *Archive) Store() FileStore { return a.store }

// Save writes bundles to p in the format given by its extension and
// returns how many were written. A failing sequence aborts the save.
func (a *Archive) Save(ctx context.Context, p string, bundles iter.Seq2[*bundle.Bundle, error]) (n int, err error) {
	w, err := a.store.Write(ctx, p)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	counted := func(yield func(*bundle.Bundle, error) bool) {
		for b, err := range bundles {
			if err == nil {
				n++
			}
			if !yield(b, err) {
				return
			}
		}
	}
	switch FormatOf(p) {
	case YAML:
		err = writeYAML(w, counted)
	case XML:
		err = writeXML(w, counted)
	default:
		err = bundle.WriteStream(w, counted)
	}
	if err != nil {
		return 0, fmt.Errorf("storage: save %s: %w", p, err)
	}
	return n, nil
}

// Load reads the bundles in p. Iteration stops after the first error.
func (a *Archive) Load(ctx context.Context, p string) iter.Seq2[*bundle.Bundle, error] {
	return func(yield func(*bundle.Bundle, error) bool) {
		r, err := a.store.Read(ctx, p)
		if err != nil {
			yield(nil, err)
			return
		}
		defer r.Close()
		switch FormatOf(p) {
		case YAML:
			data, err := io.ReadAll(r)
			if err != nil {
				yield(nil, err)
				return
			}
			bs, err := bundle.FromYAMLList(data)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, b := range bs {
				if !yield(b, nil) {
					return
				}
			}
		case XML:
			readXML(r, yield)
		default:
			for b, err := range bundle.FromStream(r) {
				if !yield(b, err) || err != nil {
					return
				}
			}
		}
	}
}

func writeYAML(w io.Writer, bundles iter.Seq2[*bundle.Bundle, error]) error {
	items := []any{}
	for b, err := range bundles {
		if err != nil {
			return err
		}
		items = append(items, b.ToData())
	}
	data, err := yaml.Marshal(items)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

const xmlArchive = "bundles"

func writeXML(w io.Writer, bundles iter.Seq2[*bundle.Bundle, error]) error {
	if _, err := io.WriteString(w, xml.Header+"<"+xmlArchive+">\n"); err != nil {
		return err
	}
	for b, err := range bundles {
		if err != nil {
			return err
		}
		data, err := b.ToXML()
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</"+xmlArchive+">\n")
	return err
}

func readXML(r io.Reader, yield func(*bundle.Bundle, error) bool) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(nil, &bundle.DeserializationError{Msg: "invalid XML", Err: err})
			return
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local == xmlArchive {
			continue
		}
		var b bundle.Bundle
		if err := dec.DecodeElement(&b, &se); err != nil {
			var de *bundle.DeserializationError
			if !errors.As(err, &de) {
				err = &bundle.DeserializationError{Msg: "invalid XML", Err: err}
			}
			yield(nil, err)
			return
		}
		if !yield(&b, nil) {
			return
		}
	}
}
