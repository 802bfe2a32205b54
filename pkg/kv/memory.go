package kv

import (
	"bytes"
	"context"
	"iter"
	"sort"
	"sync"
)

// Memory is an in-memory Store backed by a map. It is safe for concurrent
// use and intended primarily for testing.
//
// Update holds the write lock for the whole transaction, so writers are
// serialized and never conflict. Buffered writes are applied only when the
// transaction function returns nil.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	opts   *Options
	closed bool
}

// NewMemory creates a new in-memory Store.
// Pass nil for default options.
func NewMemory(opts *Options) *Memory {
	return &Memory{
		data: make(map[string][]byte),
		opts: opts,
	}
}

func (m *Memory) Get(ctx context.Context, key Key) ([]byte, error) {
	var v []byte
	err := m.View(ctx, func(tx Txn) error {
		var err error
		v, err = tx.Get(ctx, key)
		return err
	})
	return v, err
}

func (m *Memory) Set(ctx context.Context, key Key, value []byte) error {
	return m.Update(ctx, func(tx Txn) error { return tx.Set(ctx, key, value) })
}

func (m *Memory) Delete(ctx context.Context, key Key) error {
	return m.Update(ctx, func(tx Txn) error { return tx.Delete(ctx, key) })
}

// List snapshots matching entries under the read lock and yields them in
// key order.
func (m *Memory) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var entries []Entry
		err := m.View(ctx, func(tx Txn) error {
			for e, err := range tx.List(ctx, prefix) {
				if err != nil {
					return err
				}
				entries = append(entries, e)
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *Memory) BatchSet(ctx context.Context, entries []Entry) error {
	return m.Update(ctx, func(tx Txn) error {
		for _, e := range entries {
			if err := tx.Set(ctx, e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Memory) BatchDelete(ctx context.Context, keys []Key) error {
	return m.Update(ctx, func(tx Txn) error {
		for _, k := range keys {
			if err := tx.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Memory) View(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTxn{m: m, readOnly: true})
}

func (m *Memory) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	tx := &memTxn{m: m, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(m.data, k)
		} else {
			m.data[k] = v
		}
	}
	return nil
}

func (m *Memory) Separator() byte { return m.opts.sep() }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// memTxn overlays buffered writes on the store map. A nil value in writes
// marks a deletion.
type memTxn struct {
	m        *Memory
	writes   map[string][]byte
	readOnly bool
}

func (t *memTxn) lookup(k string) ([]byte, bool) {
	if v, ok := t.writes[k]; ok {
		return v, v != nil
	}
	v, ok := t.m.data[k]
	return v, ok
}

func (t *memTxn) Get(_ context.Context, key Key) ([]byte, error) {
	v, ok := t.lookup(string(t.m.opts.encode(key)))
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (t *memTxn) Set(_ context.Context, key Key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	v := cloneBytes(value)
	if v == nil {
		v = []byte{}
	}
	t.writes[string(t.m.opts.encode(key))] = v
	return nil
}

func (t *memTxn) Delete(_ context.Context, key Key) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[string(t.m.opts.encode(key))] = nil
	return nil
}

func (t *memTxn) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := t.m.opts.prefix(prefix)
	seen := make(map[string]struct{})
	var keys []string
	collect := func(src map[string][]byte) {
		for k := range src {
			if _, ok := seen[k]; ok {
				continue
			}
			if len(p) == 0 || bytes.HasPrefix([]byte(k), p) {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	collect(t.writes)
	collect(t.m.data)
	sort.Strings(keys)

	var entries []Entry
	for _, k := range keys {
		v, ok := t.lookup(k)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Key: t.m.opts.decode([]byte(k)), Value: cloneBytes(v)})
	}
	return func(yield func(Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}
