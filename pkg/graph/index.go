package graph

import (
	"context"
	"encoding/base64"
	"iter"
	"math"
	"strconv"

	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// IndexStrategy selects how type and property lookups are indexed.
type IndexStrategy string

const (
	// IndexAuto picks IndexLabel for Badger stores and IndexShared for
	// everything else.
	IndexAuto IndexStrategy = "auto"

	// IndexShared keeps a single property index for all types:
	//
	//	ty/{type}/{id}
	//	ix/{key}/{value}/{id}
	IndexShared IndexStrategy = "shared"

	// IndexLabel keeps a separate keyspace per entity type:
	//
	//	lt/{type}/{id}
	//	lx/{type}/{key}/{value}/{id}
	IndexLabel IndexStrategy = "label"
)

// indexer maintains the index entries of one strategy. Every method runs
// inside the caller's transaction.
type indexer interface {
	// keys returns the index entries for v.
	keys(v *Vertex) []kv.Key

	// typePrefix is the key prefix listing ids of type t as last segment.
	typePrefix(t schema.EntityType) kv.Key

	// propertyPrefix is the key prefix listing ids whose key property
	// encodes to enc. filtered reports whether listed ids may belong to
	// other types.
	propertyPrefix(t schema.EntityType, key, enc string) (p kv.Key, filtered bool)

	// keyspaces lists the top-level segments this strategy owns.
	keyspaces() []string
}

type sharedIndex struct {
	g *Graph
}

func (x sharedIndex) keys(v *Vertex) []kv.Key {
	keys := []kv.Key{x.g.key("ty", string(v.Type), v.ID)}
	for key, enc := range x.g.indexValues(v) {
		keys = append(keys, x.g.key("ix", key, enc, v.ID))
	}
	return keys
}

func (x sharedIndex) typePrefix(t schema.EntityType) kv.Key {
	return x.g.key("ty", string(t))
}

func (x sharedIndex) propertyPrefix(_ schema.EntityType, key, enc string) (kv.Key, bool) {
	return x.g.key("ix", key, enc), true
}

func (sharedIndex) keyspaces() []string { return []string{"ty", "ix"} }

type labelIndex struct {
	g *Graph
}

func (x labelIndex) keys(v *Vertex) []kv.Key {
	keys := []kv.Key{x.g.key("lt", string(v.Type), v.ID)}
	for key, enc := range x.g.indexValues(v) {
		keys = append(keys, x.g.key("lx", string(v.Type), key, enc, v.ID))
	}
	return keys
}

func (x labelIndex) typePrefix(t schema.EntityType) kv.Key {
	return x.g.key("lt", string(t))
}

func (x labelIndex) propertyPrefix(t schema.EntityType, key, enc string) (kv.Key, bool) {
	return x.g.key("lx", string(t), key, enc), false
}

func (labelIndex) keyspaces() []string { return []string{"lt", "lx"} }

// marker is the value of index and edge entries.
var marker = []byte{1}

func (g *Graph) addIndex(ctx context.Context, tx kv.Txn, v *Vertex) error {
	for _, k := range g.index.keys(v) {
		if err := tx.Set(ctx, k, marker); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) removeIndex(ctx context.Context, tx kv.Txn, v *Vertex) error {
	for _, k := range g.index.keys(v) {
		if err := tx.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// indexValues yields (key, encoded value) pairs for every indexed property
// of v. List values yield one pair per element.
func (g *Graph) indexValues(v *Vertex) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		t, ok := g.reg.Lookup(v.Type)
		if !ok {
			return
		}
		for _, key := range t.Indexed {
			val, ok := v.Props[key]
			if !ok {
				continue
			}
			if list, ok := val.([]any); ok {
				seen := make(map[string]bool, len(list))
				for _, e := range list {
					enc, ok := encodeValue(e)
					if !ok || seen[enc] {
						continue
					}
					seen[enc] = true
					if !yield(key, enc) {
						return
					}
				}
				continue
			}
			if enc, ok := encodeValue(val); ok {
				if !yield(key, enc) {
					return
				}
			}
		}
	}
}

// encodeValue renders a scalar as a key segment. Integral floats encode
// like integers so 3 and 3.0 match. Nil and lists are not indexable.
func encodeValue(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case string:
		s = "s" + x
	case bool:
		s = "b" + strconv.FormatBool(x)
	case int64:
		s = "n" + strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			s = "n" + strconv.FormatInt(int64(x), 10)
		} else {
			s = "f" + strconv.FormatFloat(x, 'g', -1, 64)
		}
	default:
		return "", false
	}
	return base64.RawURLEncoding.EncodeToString([]byte(s)), true
}
