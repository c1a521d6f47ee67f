package store

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

// Iterator walks a column's keys in ascending order, optionally
// restricted to a key prefix (spec.md §4.1 "forward iteration within a
// column"), used by dagmgr.Rebuild's walk of DagBlocksByLevel and by
// replay.Service.Load.
type Iterator interface {
	Seek(key []byte) bool
	Next() bool
	Valid() bool
	Key() []byte   // with the column prefix stripped
	Value() []byte
	Close() error
}

type pebbleIterator struct {
	it      *pebble.Iterator
	prefix  []byte
	started bool
}

func (i *pebbleIterator) Seek(key []byte) bool {
	full := append(append([]byte(nil), i.prefix...), key...)
	i.started = true
	return i.it.SeekGE(full) && i.withinPrefix()
}

func (i *pebbleIterator) Next() bool {
	if !i.started {
		i.started = true
		return i.it.First() && i.withinPrefix()
	}
	return i.it.Next() && i.withinPrefix()
}

func (i *pebbleIterator) withinPrefix() bool {
	return i.it.Valid() && bytes.HasPrefix(i.it.Key(), i.prefix)
}

func (i *pebbleIterator) Valid() bool {
	return i.it.Valid() && i.withinPrefix()
}

func (i *pebbleIterator) Key() []byte {
	k := i.it.Key()
	return append([]byte(nil), k[1:]...)
}

func (i *pebbleIterator) Value() []byte {
	v, _ := i.it.ValueAndErr()
	return append([]byte(nil), v...)
}

func (i *pebbleIterator) Close() error {
	return i.it.Close()
}
