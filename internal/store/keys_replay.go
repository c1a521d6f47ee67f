package store

import "encoding/binary"

// ReplayProtection column key layout (spec.md §4.4). A one-byte subkind
// tag keeps the three record shapes — running max, watermark, and
// per-round bookkeeping — disjoint within the single column.
const (
	ReplaySubkindNonceMax   byte = 0x00
	ReplaySubkindWatermark  byte = 0x01
	ReplaySubkindRoundMax   byte = 0x02
	ReplaySubkindDirtyList  byte = 0x03
)

// ReplayNonceMaxKey builds the key for sender's running nonce_max.
func ReplayNonceMaxKey(sender []byte) []byte {
	return replayAddrKey(ReplaySubkindNonceMax, sender)
}

// ReplayWatermarkKey builds the key for sender's promoted watermark.
func ReplayWatermarkKey(sender []byte) []byte {
	return replayAddrKey(ReplaySubkindWatermark, sender)
}

// ReplayRoundMaxKey builds the key for sender's nonce_max as recorded
// at the given period.
func ReplayRoundMaxKey(period uint64, sender []byte) []byte {
	key := make([]byte, 1+8+len(sender))
	key[0] = ReplaySubkindRoundMax
	binary.BigEndian.PutUint64(key[1:9], period)
	copy(key[9:], sender)
	return key
}

// ReplayDirtyListKey builds the key for the period's dirty-sender list.
func ReplayDirtyListKey(period uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = ReplaySubkindDirtyList
	binary.BigEndian.PutUint64(key[1:9], period)
	return key
}

func replayAddrKey(subkind byte, sender []byte) []byte {
	key := make([]byte, 1+len(sender))
	key[0] = subkind
	copy(key[1:], sender)
	return key
}
