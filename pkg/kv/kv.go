// Package kv provides a transactional key-value store with hierarchical
// path-based keys. Keys are string slices (e.g., ["ehri", "v", "nl-r1"]) and
// are encoded with a configurable separator byte.
//
// Three backends are provided: Badger (on-disk or in-memory BadgerDB with
// snapshot isolation and write-conflict detection), SQLite (a single-file
// database through modernc.org/sqlite) and Memory (a map guarded by a mutex,
// mostly for tests).
//
// All mutation in the graph layer goes through Store.Update so a whole
// cascade commits or rolls back as one unit.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("kv: not found")

	// ErrConflict is returned by Update when the transaction could not be
	// committed because another writer touched the same keys.
	ErrConflict = errors.New("kv: transaction conflict")

	// ErrReadOnly is returned when writing through a View transaction.
	ErrReadOnly = errors.New("kv: read-only transaction")

	// ErrClosed is returned when using a store after Close.
	ErrClosed = errors.New("kv: store closed")
)

// Key is a hierarchical path represented as a slice of string segments.
// For example, Key{"ehri", "v", "nl-r1"} encodes to "ehri:v:nl-r1" using the
// default separator ':'.
//
// Segments must not contain the configured separator character.
type Key []string

// String returns the key as a human-readable string using ':' as separator.
// This is for display/debug only.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Append returns a new key with segs added at the end. The receiver is never
// modified.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Entry is a key-value pair returned by List and used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Reader is the read half shared by stores and transactions.
type Reader interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// List iterates over all entries whose key starts with the given prefix.
	// The iteration order is lexicographic by encoded key.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
}

// Txn is a unit of work. Reads observe the transaction's own writes.
type Txn interface {
	Reader

	// Set stores a key-value pair. Overwrites any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error
}

// Store is the interface for a key-value store with path-based keys.
type Store interface {
	Reader

	// Set stores a key-value pair in its own transaction.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// BatchSet atomically stores multiple key-value pairs.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete atomically removes multiple keys.
	BatchDelete(ctx context.Context, keys []Key) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Txn) error) error

	// Update runs fn in a read-write transaction. If fn returns an error
	// nothing is written. A commit that loses a write race returns
	// ErrConflict; Update never retries.
	Update(ctx context.Context, fn func(Txn) error) error

	// Separator returns the byte joining encoded key segments. Segments
	// containing it do not round-trip through List.
	Separator() byte

	// Close releases any resources held by the store.
	Close() error
}

// DefaultSeparator is the default separator byte used to encode key segments.
const DefaultSeparator byte = ':'

// UnitSeparator is the ASCII unit separator (0x1F). Segments made of
// printable text never contain it.
const UnitSeparator byte = 0x1F

// Options configures store behavior.
type Options struct {
	// Separator is the byte used to join key segments when encoding to storage.
	// Default is ':' if zero.
	Separator byte
}

// sep returns the effective separator.
func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

// Separator returns the effective separator byte for opts. Callers use it to
// reject key segments that would not round-trip.
func Separator(opts *Options) byte {
	return opts.sep()
}

// encode converts a Key to its byte representation using the separator.
func (o *Options) encode(k Key) []byte {
	s := o.sep()
	n := 0
	for i, seg := range k {
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, n)
	pos := 0
	for i, seg := range k {
		if i > 0 {
			buf[pos] = s
			pos++
		}
		pos += copy(buf[pos:], seg)
	}
	return buf
}

// prefix returns the encoded scan prefix for a List call. A trailing
// separator keeps "a:b" from matching "a:bc". An empty key scans everything.
func (o *Options) prefix(k Key) []byte {
	p := o.encode(k)
	if len(p) == 0 {
		return nil
	}
	return append(p, o.sep())
}

// decode converts a byte representation back to a Key using the separator.
func (o *Options) decode(b []byte) Key {
	parts := strings.Split(string(b), string([]byte{o.sep()}))
	return Key(parts)
}

// prefixEnd returns the smallest byte string greater than every string that
// has p as a prefix, or nil when there is none.
func prefixEnd(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
