package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID`

// SQLite is a Store backed by a single SQLite table through the pure-Go
// modernc.org/sqlite driver. Keys are stored as BLOBs, so range scans follow
// the same byte order as the other backends.
//
// The store holds one connection. Transactions are serialized and must not
// call back into the store itself; use the Txn they receive.
type SQLite struct {
	db   *sql.DB
	opts *Options
}

// SQLiteOptions configures the SQLite store.
type SQLiteOptions struct {
	// Options is the common kv options (separator, etc.).
	Options *Options

	// Path is the database file. Required unless InMemory is set.
	Path string

	// InMemory opens a private in-memory database.
	InMemory bool
}

// NewSQLite opens (creating if needed) a SQLite-backed Store.
func NewSQLite(sopts SQLiteOptions) (*SQLite, error) {
	dsn := sopts.Path
	switch {
	case sopts.InMemory:
		dsn = ":memory:"
	case dsn == "":
		return nil, errors.New("kv: SQLiteOptions.Path is required for on-disk mode")
	default:
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite %s: %w", sopts.Path, err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv: create sqlite schema: %w", err)
	}
	return &SQLite{db: db, opts: sopts.Options}, nil
}

func (s *SQLite) Get(ctx context.Context, key Key) ([]byte, error) {
	var v []byte
	err := s.View(ctx, func(tx Txn) error {
		var err error
		v, err = tx.Get(ctx, key)
		return err
	})
	return v, err
}

func (s *SQLite) Set(ctx context.Context, key Key, value []byte) error {
	return s.Update(ctx, func(tx Txn) error { return tx.Set(ctx, key, value) })
}

func (s *SQLite) Delete(ctx context.Context, key Key) error {
	return s.Update(ctx, func(tx Txn) error { return tx.Delete(ctx, key) })
}

func (s *SQLite) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var entries []Entry
		err := s.View(ctx, func(tx Txn) error {
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

func (s *SQLite) BatchSet(ctx context.Context, entries []Entry) error {
	return s.Update(ctx, func(tx Txn) error {
		for _, e := range entries {
			if err := tx.Set(ctx, e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) BatchDelete(ctx context.Context, keys []Key) error {
	return s.Update(ctx, func(tx Txn) error {
		for _, k := range keys {
			if err := tx.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) View(ctx context.Context, fn func(Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(&sqliteTxn{tx: tx, opts: s.opts, readOnly: true})
}

func (s *SQLite) Update(ctx context.Context, fn func(Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqliteTxn{tx: tx, opts: s.opts}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Separator() byte { return s.opts.sep() }

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteTxn struct {
	tx       *sql.Tx
	opts     *Options
	readOnly bool
}

func (t *sqliteTxn) Get(ctx context.Context, key Key) ([]byte, error) {
	var v []byte
	err := t.tx.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, t.opts.encode(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (t *sqliteTxn) Set(ctx context.Context, key Key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		t.opts.encode(key), value)
	return err
}

func (t *sqliteTxn) Delete(ctx context.Context, key Key) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, t.opts.encode(key))
	return err
}

// List reads the whole range before yielding; the shared connection cannot
// serve another statement while rows are open.
func (t *sqliteTxn) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		entries, err := t.scan(ctx, t.opts.prefix(prefix))
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

func (t *sqliteTxn) scan(ctx context.Context, p []byte) ([]Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	end := prefixEnd(p)
	switch {
	case len(p) == 0:
		rows, err = t.tx.QueryContext(ctx, `SELECT k, v FROM kv ORDER BY k`)
	case end == nil:
		rows, err = t.tx.QueryContext(ctx, `SELECT k, v FROM kv WHERE k >= ? ORDER BY k`, p)
	default:
		rows, err = t.tx.QueryContext(ctx, `SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k`, p, end)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: t.opts.decode(k), Value: v})
	}
	return entries, rows.Err()
}
