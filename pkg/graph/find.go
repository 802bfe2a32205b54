package graph

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// Op is a comparison operator for Find clauses.
type Op string

const (
	EQ         Op = "EQ"
	NE         Op = "NE"
	StartsWith Op = "STARTS_WITH"
	EndsWith   Op = "ENDS_WITH"
	Contains   Op = "CONTAINS"
	GT         Op = "GT"
	LT         Op = "LT"
	GTE        Op = "GTE"
	LTE        Op = "LTE"
)

// ParseOp parses an operator name, case-insensitively.
func ParseOp(s string) (Op, error) {
	op := Op(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case EQ, NE, StartsWith, EndsWith, Contains, GT, LT, GTE, LTE:
		return op, nil
	}
	return "", illegalArgf("unknown operator %q", s)
}

// Clause is one predicate on a property. The reserved keys IDKey and
// TypeKey may be used to filter on identity.
type Clause struct {
	Key   string
	Op    Op
	Value any
}

// Finder selects vertices of one type matching every clause.
type Finder struct {
	Type    schema.EntityType
	Clauses []Clause

	// Limit caps the result size when positive.
	Limit int
}

// Where returns a copy of f with an extra clause.
func (f Finder) Where(key string, op Op, value any) Finder {
	f.Clauses = append(f.Clauses[:len(f.Clauses):len(f.Clauses)], Clause{Key: key, Op: op, Value: value})
	return f
}

// Match reports whether v satisfies every clause. The type is not checked.
func (f Finder) Match(v *Vertex) bool {
	for _, c := range f.Clauses {
		if !c.match(v) {
			return false
		}
	}
	return true
}

func (c Clause) match(v *Vertex) bool {
	got, ok := v.Property(c.Key)
	want := bundle.Normalize(c.Value)
	if list, isList := got.([]any); isList && c.Op != NE {
		for _, e := range list {
			if compare(c.Op, e, want) {
				return true
			}
		}
		return false
	}
	if !ok {
		return c.Op == NE
	}
	return compare(c.Op, got, want)
}

func compare(op Op, got, want any) bool {
	switch op {
	case EQ:
		return order(got, want) == 0
	case NE:
		return order(got, want) != 0
	case StartsWith:
		return strings.HasPrefix(fmt.Sprint(got), fmt.Sprint(want))
	case EndsWith:
		return strings.HasSuffix(fmt.Sprint(got), fmt.Sprint(want))
	case Contains:
		return strings.Contains(fmt.Sprint(got), fmt.Sprint(want))
	case GT:
		return order(got, want) > 0
	case LT:
		return order(got, want) < 0
	case GTE:
		return order(got, want) >= 0
	case LTE:
		return order(got, want) <= 0
	}
	return false
}

// order compares numbers numerically and everything else by its string
// form.
func order(a, b any) int {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func (m *txManager) Find(ctx context.Context, f Finder) ([]*Vertex, error) {
	if f.Type == "" {
		return nil, illegalArgf("finder has no type")
	}
	for _, c := range f.Clauses {
		if c.Key == "" {
			return nil, illegalArgf("blank clause key")
		}
		if _, err := ParseOp(string(c.Op)); err != nil {
			return nil, err
		}
	}

	// An equality clause on an indexed key narrows the scan.
	candidates := m.GetVertices(ctx, f.Type)
	if st, ok := m.g.reg.Lookup(f.Type); ok {
		for _, c := range f.Clauses {
			if c.Op != EQ || !st.IsIndexed(c.Key) {
				continue
			}
			if _, ok := encodeValue(bundle.Normalize(c.Value)); !ok {
				continue
			}
			vs, err := m.GetVerticesByProperty(ctx, c.Key, c.Value, f.Type)
			if err != nil {
				return nil, err
			}
			candidates = func(yield func(*Vertex, error) bool) {
				for _, v := range vs {
					if !yield(v, nil) {
						return
					}
				}
			}
			break
		}
	}

	var out []*Vertex
	for v, err := range candidates {
		if err != nil {
			return nil, err
		}
		if !f.Match(v) {
			continue
		}
		out = append(out, v)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
