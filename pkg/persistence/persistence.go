// Package persistence turns bundles into graph mutations.
//
// A BundleManager validates an incoming bundle tree, resolves the ids of the
// root and every dependent child from the scope chain, compares the tree's
// content hash with what is stored and then creates, updates or leaves the
// entity alone. Dependent children are created, updated and deleted along
// with their parent. Each operation, including its whole cascade, runs in a
// single graph transaction: a failure anywhere leaves the graph untouched.
package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/EHRI/ehri-rest-sub010/pkg/bundle"
)

// Sentinel errors.
var (
	// ErrValidation matches *ValidationError.
	ErrValidation = errors.New("persistence: validation failed")

	// ErrCollision matches *CollisionError.
	ErrCollision = errors.New("persistence: id collision")
)

// ValidationError carries every violation found in a bundle tree.
type ValidationError struct {
	Bundle *bundle.Bundle
	Errors *bundle.ErrorSet
}

func (e *ValidationError) Error() string {
	return "persistence: validation failed: " + strings.Join(e.Errors.Flatten(), "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CollisionError reports ids in a bundle tree that are already taken by
// other entities. Errors is keyed by the fields the ids derive from.
type CollisionError struct {
	ID     string
	Errors *bundle.ErrorSet
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("persistence: id collision for %q: %s", e.ID, strings.Join(e.Errors.Flatten(), "; "))
}

func (e *CollisionError) Is(target error) bool { return target == ErrCollision }

// MutationState is the outcome of an upsert.
type MutationState int

const (
	Unchanged MutationState = iota
	Created
	Updated
)

func (s MutationState) String() string {
	switch s {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Mutation is the result of writing a bundle: the affected node, what
// happened to it and, for updates, the bundle as it was before.
type Mutation[T any] struct {
	Node  T
	State MutationState
	Prior *bundle.Bundle
}

// Created reports whether the node was newly created.
func (m Mutation[T]) Created() bool { return m.State == Created }

// Updated reports whether an existing node changed.
func (m Mutation[T]) Updated() bool { return m.State == Updated }

// Unchanged reports whether the write was a no-op.
func (m Mutation[T]) Unchanged() bool { return m.State == Unchanged }

// HasChanged reports whether anything was written.
func (m Mutation[T]) HasChanged() bool { return m.State != Unchanged }
