package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
)

// LoadOptions configures bundle loading.
type LoadOptions struct {
	// Repair runs malformed JSON through jsonrepair before decoding.
	Repair bool

	// Stdin replaces os.Stdin for the "-" path.
	Stdin io.Reader
}

// LoadBundles reads the bundles in path, or stdin when path is "-". A file
// may hold a single bundle or a list of them.
func LoadBundles(path string, opts LoadOptions) ([]*bundle.Bundle, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		in := opts.Stdin
		if in == nil {
			in = os.Stdin
		}
		data, err = io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
	}
	return ParseBundles(data, path, opts)
}

// ParseBundles decodes data based on the file extension, sniffing the
// content when the extension says nothing.
func ParseBundles(data []byte, filename string, opts LoadOptions) ([]*bundle.Bundle, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".xml":
		return parseXML(data)
	case ".json":
		return parseJSON(data, opts.Repair)
	}
	switch trimmed := bytes.TrimSpace(data); {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return parseXML(data)
	case bytes.HasPrefix(trimmed, []byte("{")), bytes.HasPrefix(trimmed, []byte("[")):
		return parseJSON(data, opts.Repair)
	}
	return parseYAML(data)
}

func parseJSON(data []byte, repair bool) ([]*bundle.Bundle, error) {
	bs, err := collect(bytes.NewReader(data))
	if err == nil || !repair {
		return bs, err
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return nil, fmt.Errorf("failed to repair JSON: %w", rerr)
	}
	return collect(strings.NewReader(fixed))
}

func collect(r io.Reader) ([]*bundle.Bundle, error) {
	var out []*bundle.Bundle
	for b, err := range bundle.FromStream(r) {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func parseYAML(data []byte) ([]*bundle.Bundle, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &bundle.DeserializationError{Msg: "invalid YAML", Err: err}
	}
	var items []any
	switch x := doc.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		items = []any{x}
	case []any:
		items = x
	default:
		return nil, &bundle.DeserializationError{Msg: fmt.Sprintf("expected a bundle or a list of bundles, got %T", doc)}
	}
	out := make([]*bundle.Bundle, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &bundle.DeserializationError{Msg: fmt.Sprintf("item %d: Bundle data must be a map value", i)}
		}
		b, err := bundle.FromData(m)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseXML(data []byte) ([]*bundle.Bundle, error) {
	b, err := bundle.FromXML(data)
	if err != nil {
		return nil, err
	}
	return []*bundle.Bundle{b}, nil
}
