package bundle

import (
	"strconv"
	"strings"
)

// Paths address nested values with "/"-separated segments. Every segment
// but the last has the form relation[index]:
//
//	describes[1]/languageCode          data value of the second description
//	describes[0]/hasDate[0]            a child bundle
//	describes[0]/hasDate               the list of children under a relation
//
// A segment naming a relation the bundle does not have yields *PathError. A
// known relation with an out-of-range index yields *IndexError.

func segment(rel string, i int) string {
	return rel + "[" + strconv.Itoa(i) + "]"
}

func joinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "/" + seg
}

type step struct {
	rel   string
	index int
}

func parsePath(path string) (steps []step, last string, err error) {
	if path == "" {
		return nil, "", &PathError{Path: path, Msg: "empty path"}
	}
	parts := strings.Split(path, "/")
	for _, p := range parts[:len(parts)-1] {
		s, err := parseStep(path, p)
		if err != nil {
			return nil, "", err
		}
		steps = append(steps, s)
	}
	last = parts[len(parts)-1]
	if last == "" {
		return nil, "", &PathError{Path: path, Msg: "empty final segment"}
	}
	return steps, last, nil
}

func parseStep(path, p string) (step, error) {
	open := strings.IndexByte(p, '[')
	if open <= 0 || !strings.HasSuffix(p, "]") {
		return step{}, &PathError{Path: path, Segment: p, Msg: "segment " + strconv.Quote(p) + " is not of the form relation[index]"}
	}
	idx, err := strconv.Atoi(p[open+1 : len(p)-1])
	if err != nil || idx < -1 {
		return step{}, &PathError{Path: path, Segment: p, Msg: "bad index in segment " + strconv.Quote(p)}
	}
	return step{rel: p[:open], index: idx}, nil
}

// child resolves one step. Index -1 is never valid for reads.
func child(b *Bundle, path string, s step) (*Bundle, error) {
	if !b.HasRelation(s.rel) {
		return nil, &PathError{Path: path, Segment: s.rel}
	}
	list := b.rels[s.rel]
	if s.index < 0 || s.index >= len(list) {
		return nil, &IndexError{Path: path, Relation: s.rel, Index: s.index, Len: len(list)}
	}
	return list[s.index], nil
}

func descend(b *Bundle, path string, steps []step) (*Bundle, error) {
	cur := b
	for _, s := range steps {
		next, err := child(cur, path, s)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// rebuild applies fn to the bundle at steps and copies every ancestor on
// the way back up.
func rebuild(b *Bundle, path string, steps []step, fn func(*Bundle) (*Bundle, error)) (*Bundle, error) {
	if len(steps) == 0 {
		return fn(b)
	}
	s := steps[0]
	c, err := child(b, path, s)
	if err != nil {
		return nil, err
	}
	nc, err := rebuild(c, path, steps[1:], fn)
	if err != nil {
		return nil, err
	}
	list := b.Relations(s.rel)
	list[s.index] = nc
	return b.ReplaceRelations(s.rel, list), nil
}

// Get returns the data value at path. A missing attribute on an existing
// bundle yields (nil, false, nil).
func Get(b *Bundle, path string) (any, bool, error) {
	steps, attr, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	target, err := descend(b, path, steps)
	if err != nil {
		return nil, false, err
	}
	v, ok := target.DataValue(attr)
	return v, ok, nil
}

// Set returns a new root with the data value at path replaced by v.
func Set(b *Bundle, path string, v any) (*Bundle, error) {
	steps, attr, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	return rebuild(b, path, steps, func(t *Bundle) (*Bundle, error) {
		return t.WithDataValue(attr, v), nil
	})
}

// Delete returns a new root with the data value at path removed.
func Delete(b *Bundle, path string) (*Bundle, error) {
	steps, attr, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	return rebuild(b, path, steps, func(t *Bundle) (*Bundle, error) {
		return t.RemoveDataValue(attr), nil
	})
}

// GetBundle returns the child bundle addressed by a path whose last segment
// is relation[index].
func GetBundle(b *Bundle, path string) (*Bundle, error) {
	steps, last, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	s, err := parseStep(path, last)
	if err != nil {
		return nil, err
	}
	return descend(b, path, append(steps, s))
}

// SetBundle returns a new root with the child at path replaced by c. An
// index of -1 appends c to the relation instead, creating it if needed.
func SetBundle(b *Bundle, path string, c *Bundle) (*Bundle, error) {
	steps, last, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	s, err := parseStep(path, last)
	if err != nil {
		return nil, err
	}
	return rebuild(b, path, steps, func(parent *Bundle) (*Bundle, error) {
		if s.index == -1 {
			return parent.WithRelation(s.rel, c), nil
		}
		if _, err := child(parent, path, s); err != nil {
			return nil, err
		}
		list := parent.Relations(s.rel)
		list[s.index] = c
		return parent.ReplaceRelations(s.rel, list), nil
	})
}

// DeleteBundle returns a new root without the child at path.
func DeleteBundle(b *Bundle, path string) (*Bundle, error) {
	steps, last, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	s, err := parseStep(path, last)
	if err != nil {
		return nil, err
	}
	return rebuild(b, path, steps, func(parent *Bundle) (*Bundle, error) {
		if _, err := child(parent, path, s); err != nil {
			return nil, err
		}
		list := parent.Relations(s.rel)
		list = append(list[:s.index], list[s.index+1:]...)
		return parent.ReplaceRelations(s.rel, list), nil
	})
}

// GetRelations returns the children under the relation named by the last
// path segment. A missing final relation yields an empty list.
func GetRelations(b *Bundle, path string) ([]*Bundle, error) {
	steps, rel, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	target, err := descend(b, path, steps)
	if err != nil {
		return nil, err
	}
	return target.Relations(rel), nil
}
