package store

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// Snapshot is an immutable, point-in-time view of the store, for reads
// that must not observe writes committed after the snapshot was taken. Crash-recovery replay (spec.md §4.1) does not
// use a Snapshot — it reads the live store via finalizer.Recover, since
// nothing else is writing to it yet at that point in startup.
type Snapshot interface {
	Get(col Column, key []byte) ([]byte, bool, error)
	NewIterator(col Column, prefix []byte) Iterator
	Close() error
}

type pebbleSnapshot struct {
	snap *pebble.Snapshot
}

func (s *pebbleSnapshot) Get(col Column, key []byte) ([]byte, bool, error) {
	v, closer, err := s.snap.Get(prefixed(col, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "store: snapshot get")
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (s *pebbleSnapshot) NewIterator(col Column, prefix []byte) Iterator {
	full := prefixed(col, prefix)
	it, _ := s.snap.NewIter(&pebble.IterOptions{
		LowerBound: prefixed(col, nil),
		UpperBound: upperBound(byte(col)),
	})
	return &pebbleIterator{it: it, prefix: full}
}

func (s *pebbleSnapshot) Close() error {
	return s.snap.Close()
}
