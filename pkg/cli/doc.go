// Package cli provides the terminal plumbing shared by the ehri commands.
//
// This package includes:
//   - Output formatting of bundles and plain values (YAML, JSON, XML, table)
//   - jq filtering of output
//   - Bundle document loading from files or stdin, with optional JSON repair
//   - Styled status lines
//
// Example usage:
//
//	bundles, err := cli.LoadBundles("units.yaml", cli.LoadOptions{})
//
//	cli.Output(b, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Query:  ".data.identifier",
//	})
package cli
