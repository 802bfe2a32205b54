package bundle

import (
	"log/slog"
	"maps"
)

// MergeDataWith applies patch to b with PATCH semantics and returns the
// result. Patch data overrides b's data and null values unset keys. For
// each relation present in both, patch children are matched to b's
// children by id and merged recursively; unmatched patch children are
// dropped. Relations only b has are kept unchanged.
func (b *Bundle) MergeDataWith(patch *Bundle) *Bundle {
	data := maps.Clone(b.data)
	if data == nil {
		data = make(map[string]any)
	}
	for k, v := range patch.data {
		if v == nil {
			delete(data, k)
		} else {
			data[k] = v
		}
	}
	c := b.clone()
	c.data = data
	c.relNames, c.rels = b.copyRels()

	for _, name := range patch.relNames {
		existing := c.rels[name]
		if len(existing) == 0 {
			continue
		}
		merged := make([]*Bundle, len(existing))
		copy(merged, existing)
		for _, p := range patch.rels[name] {
			idx := -1
			for i, e := range existing {
				if e.id != "" && e.id == p.id {
					idx = i
					break
				}
			}
			if idx < 0 {
				slog.Debug("bundle: ignoring unmatched child in merge", "relation", name, "type", p.typ)
				continue
			}
			merged[idx] = existing[idx].MergeDataWith(p)
		}
		c.rels[name] = merged
	}
	return c
}
