package cli

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Query is a parsed jq expression.
type Query struct {
	Expr  string
	query *gojq.Query
}

// ParseQuery parses expr.
func ParseQuery(expr string) (*Query, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	return &Query{Expr: expr, query: q}, nil
}

// Run evaluates the query against v and returns every result. Bundles are
// queried in their wire form.
func (q *Query) Run(v any) ([]any, error) {
	input, err := jsonValue(wire(v))
	if err != nil {
		return nil, err
	}
	var out []any
	iter := q.query.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := r.(error); ok {
			if err, ok := err.(*gojq.HaltError); ok && err.Value() == nil {
				break
			}
			return nil, fmt.Errorf("jq error: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// jsonValue converts v to the plain JSON types gojq operates on.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jq input: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
