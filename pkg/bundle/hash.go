package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"slices"
	"strings"
)

// DataHash returns a hex SHA-256 digest of the bundle's content.
//
// The digest covers the type, the unmanaged non-null data in sorted key
// order, and each dependent relation in the order the type declares it:
// the relation name followed by the sorted digests of its children. The id,
// metadata, managed keys and non-dependent relations are excluded, so two
// bundles that differ only in identity hash equal.
func (b *Bundle) DataHash() string {
	sum := b.hashBytes()
	return hex.EncodeToString(sum[:])
}

func (b *Bundle) hashBytes() [sha256.Size]byte {
	h := sha256.New()
	writeField(h, "type", string(b.typ))

	keys := make([]string, 0, len(b.data))
	for k, v := range b.data {
		if v == nil || strings.HasPrefix(k, ManagedPrefix) {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		writeField(h, "data", k)
		writeField(h, "value", canonicalValue(b.data[k]))
	}

	for _, name := range b.DependentRelations() {
		children := b.rels[name]
		sums := make([]string, len(children))
		for i, c := range children {
			s := c.hashBytes()
			sums[i] = string(s[:])
		}
		slices.Sort(sums)
		writeField(h, "rel", name)
		for _, s := range sums {
			h.Write([]byte(s))
		}
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// writeField writes a tag and a length-prefixed value, so adjacent fields
// cannot run into each other.
func writeField(h hash.Hash, tag, value string) {
	fmt.Fprintf(h, "%s:%d:%s;", tag, len(value), value)
}

// canonicalValue renders a normalized value as compact JSON. Integral
// floats and int64 render alike.
func canonicalValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
