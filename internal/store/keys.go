package store

import "encoding/binary"

// Uint64Key returns the big-endian encoding of v, used for every
// level/period-keyed column in spec.md §4.1 so that forward iteration
// yields ascending numeric order.
func Uint64Key(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// Uint64FromKey decodes a key built by Uint64Key.
func Uint64FromKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// LevelHashKey builds the dag_blocks_by_level key: level (big-endian) ‖
// hash.
func LevelHashKey(level uint64, hash []byte) []byte {
	key := make([]byte, 8+len(hash))
	binary.BigEndian.PutUint64(key[:8], level)
	copy(key[8:], hash)
	return key
}
