package bundle

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is against the typed errors below.
var (
	ErrDeserialization = errors.New("bundle: deserialization error")
	ErrPath            = errors.New("bundle: path error")
	ErrIndex           = errors.New("bundle: index error")
)

// DeserializationError reports malformed input while building a bundle.
type DeserializationError struct {
	Msg string
	Err error
}

func (e *DeserializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bundle: %s: %v", e.Msg, e.Err)
	}
	return "bundle: " + e.Msg
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func (e *DeserializationError) Is(target error) bool { return target == ErrDeserialization }

func deserializationErrorf(format string, args ...any) error {
	return &DeserializationError{Msg: fmt.Sprintf(format, args...)}
}

// PathError reports a path segment naming a relation the bundle does not
// have, or a path that is syntactically invalid.
type PathError struct {
	Path    string
	Segment string
	Msg     string
}

func (e *PathError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("bundle: path %q: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("bundle: relation path %q not found in %q", e.Segment, e.Path)
}

func (e *PathError) Is(target error) bool { return target == ErrPath }

// IndexError reports a path segment whose relation exists but has no child
// at the requested index.
type IndexError struct {
	Path     string
	Relation string
	Index    int
	Len      int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("bundle: relation index %q[%d] not found in %q (have %d)", e.Relation, e.Index, e.Path, e.Len)
}

func (e *IndexError) Is(target error) bool { return target == ErrIndex }
