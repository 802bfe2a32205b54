package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store implementation backed by BadgerDB v4. Update runs a
// native badger read-write transaction, so concurrent writers touching the
// same keys get ErrConflict instead of a lost update.
type Badger struct {
	db   *badger.DB
	opts *Options
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Options is the common kv options (separator, etc.).
	Options *Options

	// Dir is the directory for BadgerDB data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	InMemory bool

	// Logger receives badger's warnings and errors. Defaults to
	// slog.Default(). Info and debug chatter is dropped.
	Logger *slog.Logger
}

// NewBadger opens a BadgerDB-backed Store.
func NewBadger(bopts BadgerOptions) (*Badger, error) {
	if !bopts.InMemory && bopts.Dir == "" {
		return nil, errors.New("kv: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	l := bopts.Logger
	if l == nil {
		l = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(slogLogger{l.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger: %w", err)
	}
	return &Badger{db: db, opts: bopts.Options}, nil
}

func (b *Badger) Get(ctx context.Context, key Key) ([]byte, error) {
	var val []byte
	err := b.View(ctx, func(tx Txn) error {
		var err error
		val, err = tx.Get(ctx, key)
		return err
	})
	return val, err
}

func (b *Badger) Set(ctx context.Context, key Key, value []byte) error {
	return b.Update(ctx, func(tx Txn) error {
		return tx.Set(ctx, key, value)
	})
}

func (b *Badger) Delete(ctx context.Context, key Key) error {
	return b.Update(ctx, func(tx Txn) error {
		return tx.Delete(ctx, key)
	})
}

// List streams entries from a read-only snapshot. The snapshot stays open
// until iteration ends.
func (b *Badger) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			bt := &badgerTxn{txn: txn, opts: b.opts}
			for e, err := range bt.List(ctx, prefix) {
				if !yield(e, err) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

func (b *Badger) BatchSet(_ context.Context, entries []Entry) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set(b.opts.encode(e.Key), e.Value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Badger) BatchDelete(_ context.Context, keys []Key) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(b.opts.encode(key)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Badger) View(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn, opts: b.opts, readOnly: true})
	})
}

func (b *Badger) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn, opts: b.opts})
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

func (b *Badger) Separator() byte { return b.opts.sep() }

func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerTxn struct {
	txn      *badger.Txn
	opts     *Options
	readOnly bool
}

func (t *badgerTxn) Get(_ context.Context, key Key) ([]byte, error) {
	item, err := t.txn.Get(t.opts.encode(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(_ context.Context, key Key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	return t.txn.Set(t.opts.encode(key), cloneBytes(value))
}

func (t *badgerTxn) Delete(_ context.Context, key Key) error {
	if t.readOnly {
		return ErrReadOnly
	}
	err := t.txn.Delete(t.opts.encode(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// List materializes the matching range before yielding, so callers may write
// through the same transaction while iterating.
func (t *badgerTxn) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := t.opts.prefix(prefix)
	return func(yield func(Entry, error) bool) {
		var entries []Entry
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = p
		it := t.txn.NewIterator(iterOpts)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				it.Close()
				yield(Entry{}, err)
				return
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				yield(Entry{}, err)
				return
			}
			entries = append(entries, Entry{Key: t.opts.decode(item.KeyCopy(nil)), Value: val})
		}
		it.Close()
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// slogLogger adapts slog to badger.Logger, dropping info and debug output.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Errorf(f string, v ...any)   { s.l.Error(fmt.Sprintf(f, v...)) }
func (s slogLogger) Warningf(f string, v ...any) { s.l.Warn(fmt.Sprintf(f, v...)) }
func (slogLogger) Infof(string, ...any)          {}
func (slogLogger) Debugf(string, ...any)         {}
