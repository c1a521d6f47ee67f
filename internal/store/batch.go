package store

import "github.com/cockroachdb/pebble"

// Batch accumulates writes/deletes across any number of columns and
// applies them atomically on Commit — the mechanism spec.md §4.1
// requires the finalizer to use: "write header, receipts, indices,
// state-trie deltas, and the updated last-period marker in a single
// batch; if any write fails the whole batch fails and no state is
// visible."
type Batch interface {
	Put(col Column, key, value []byte)
	Delete(col Column, key []byte)
	Commit() error
	// Reset discards all buffered writes without committing them.
	Reset()
}

type pebbleBatch struct {
	batch *pebble.Batch
}

func (b *pebbleBatch) Put(col Column, key, value []byte) {
	_ = b.batch.Set(prefixed(col, key), value, nil)
}

func (b *pebbleBatch) Delete(col Column, key []byte) {
	_ = b.batch.Delete(prefixed(col, key), nil)
}

func (b *pebbleBatch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

func (b *pebbleBatch) Reset() {
	b.batch.Reset()
}
