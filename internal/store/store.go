// Package store implements the column-partitioned durable key-value
// store of spec.md §4.1: point lookup, forward iteration, atomic
// multi-column write batches, and point-in-time snapshots, backed by
// github.com/cockroachdb/pebble — the real LSM engine already pulled in
// by the teacher's dependency graph (and the engine its own
// github.com/luxfi/database facade is shaped to sit in front of).
package store

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Database is the store's public contract. Production code opens a
// pebble-backed Store; tests may swap in any implementation of this
// interface (e.g. an in-memory vfs-backed Store, see OpenMem).
type Database interface {
	Get(col Column, key []byte) ([]byte, bool, error)
	Has(col Column, key []byte) (bool, error)
	NewIterator(col Column, prefix []byte) Iterator
	NewBatch() Batch
	NewSnapshot() Snapshot
	Close() error
}

// Store is the pebble-backed Database implementation.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a durable store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	return &Store{db: db}, nil
}

// OpenMem opens an in-memory store, used by tests and by the seed-test
// scenarios of spec.md §8 that don't need durability across process
// restarts.
func OpenMem() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "store: open mem")
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(col Column, key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(prefixed(col, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "store: get")
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (s *Store) Has(col Column, key []byte) (bool, error) {
	_, ok, err := s.Get(col, key)
	return ok, err
}

func (s *Store) NewIterator(col Column, prefix []byte) Iterator {
	full := prefixed(col, prefix)
	upper := upperBound(byte(col))
	it, _ := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixed(col, nil),
		UpperBound: upper,
	})
	return &pebbleIterator{it: it, prefix: full, started: false}
}

func (s *Store) NewBatch() Batch {
	return &pebbleBatch{batch: s.db.NewBatch()}
}

func (s *Store) NewSnapshot() Snapshot {
	return &pebbleSnapshot{snap: s.db.NewSnapshot()}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// upperBound returns the exclusive upper bound for a column's keyspace:
// the prefix of the next column id.
func upperBound(col byte) []byte {
	if col == 255 {
		return nil
	}
	return []byte{col + 1}
}
