package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-yaml"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatYAML outputs as YAML (default for terminal)
	FormatYAML OutputFormat = "yaml"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
	// FormatXML outputs bundles as XML
	FormatXML OutputFormat = "xml"
	// FormatTable outputs as formatted table
	FormatTable OutputFormat = "table"
	// FormatRaw outputs raw data
	FormatRaw OutputFormat = "raw"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatYAML, FormatJSON, FormatXML, FormatTable, FormatRaw:
		return f, nil
	case "":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// OutputOptions configures output behavior
type OutputOptions struct {
	// Format is the output format (yaml, json, xml, table, raw)
	Format OutputFormat

	// Query is an optional jq expression applied before formatting.
	Query string

	// File is the output file path (empty for stdout)
	File string

	// Indent is the indentation for JSON output
	Indent string

	// Writer is an optional custom writer (overrides File)
	Writer io.Writer
}

// Table is tabular output. Values that are not a *Table fall back to YAML
// under FormatTable.
type Table struct {
	Header []string
	Rows   [][]string
}

// Append adds a row.
func (t *Table) Append(cells ...string) { t.Rows = append(t.Rows, cells) }

// Output writes the result to the configured destination. Bundles and
// bundle slices are written in their wire form.
func Output(result any, opts OutputOptions) error {
	var w io.Writer = os.Stdout

	if opts.Writer != nil {
		w = opts.Writer
	} else if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if opts.Query != "" {
		q, err := ParseQuery(opts.Query)
		if err != nil {
			return err
		}
		results, err := q.Run(result)
		if err != nil {
			return err
		}
		if len(results) == 1 {
			result = results[0]
		} else {
			result = results
		}
	}

	switch opts.Format {
	case FormatJSON:
		return outputJSON(w, wire(result), opts.Indent)
	case FormatYAML, "":
		return outputYAML(w, wire(result))
	case FormatXML:
		return outputXML(w, result)
	case FormatTable:
		if t, ok := result.(*Table); ok {
			return outputTable(w, t)
		}
		return outputYAML(w, wire(result))
	case FormatRaw:
		return outputRaw(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", opts.Format)
	}
}

// wire converts bundles to their map form so every encoder sees the same
// shape.
func wire(v any) any {
	switch x := v.(type) {
	case *bundle.Bundle:
		return x.ToData()
	case []*bundle.Bundle:
		out := make([]any, len(x))
		for i, b := range x {
			out[i] = b.ToData()
		}
		return out
	case *bundle.ErrorSet:
		data, err := x.MarshalJSON()
		if err != nil {
			return x.String()
		}
		var m any
		if json.Unmarshal(data, &m) != nil {
			return x.String()
		}
		return m
	case *Table:
		rows := make([]map[string]string, 0, len(x.Rows))
		for _, r := range x.Rows {
			m := make(map[string]string, len(x.Header))
			for i, h := range x.Header {
				if i < len(r) {
					m[strings.ToLower(h)] = r[i]
				}
			}
			rows = append(rows, m)
		}
		return rows
	}
	return v
}

func outputJSON(w io.Writer, result any, indent string) error {
	enc := json.NewEncoder(w)
	if indent == "" {
		indent = "  "
	}
	enc.SetIndent("", indent)
	return enc.Encode(result)
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func outputXML(w io.Writer, result any) error {
	var bs []*bundle.Bundle
	switch x := result.(type) {
	case *bundle.Bundle:
		bs = []*bundle.Bundle{x}
	case []*bundle.Bundle:
		bs = x
	default:
		return errors.New("xml output is only available for bundles")
	}
	for _, b := range bs {
		data, err := b.ToXML()
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func outputTable(w io.Writer, t *Table) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(t.Header) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Header, "\t"))
	}
	for _, r := range t.Rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func outputRaw(w io.Writer, result any) error {
	switch v := result.(type) {
	case []byte:
		_, err := w.Write(v)
		return err
	case string:
		_, err := io.WriteString(w, v)
		return err
	default:
		return outputYAML(w, wire(result))
	}
}

// OutputBytes writes binary data to a file
func OutputBytes(data []byte, path string) error {
	if path == "" {
		return fmt.Errorf("output file path is required for binary data")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}
