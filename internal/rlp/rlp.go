// Package rlp implements the recursive-length-prefix encoding used for
// signing bytes, block/transaction hashing, and the wire payloads of
// internal/netcap, per the canonical encoding spec.md §6 names.
//
// Only the subset needed by internal/types is implemented: byte strings,
// unsigned integers (minimal big-endian, per spec.md §6), and lists of
// items. There is no reflection-based struct encoder; each type in
// internal/types implements its own EncodeRLP returning an ordered list
// of items, mirroring how the teacher's codec package keeps marshaling
// explicit rather than magic (codec.JSONCodec.Marshal/Unmarshal).
package rlp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTooShort is returned when a buffer ends before a declared length.
	ErrTooShort = errors.New("rlp: input too short")
	// ErrUnexpectedKind is returned when decoding encounters a kind it
	// wasn't asked for (e.g. a list where a string was expected).
	ErrUnexpectedKind = errors.New("rlp: unexpected kind")
)

// Item is either a byte string or a list of Items.
type Item struct {
	str  []byte
	list []Item
}

// String builds a byte-string item.
func String(b []byte) Item { return Item{str: b} }

// Uint builds a byte-string item holding the minimal big-endian encoding
// of v, per spec.md §6 ("variable-length minimal big-endian for integers").
func Uint(v uint64) Item {
	if v == 0 {
		return Item{str: nil}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 8 && buf[i] == 0 {
		i++
	}
	return Item{str: buf[i:]}
}

// List builds a list item from children, in order.
func List(items ...Item) Item {
	if items == nil {
		items = []Item{}
	}
	return Item{list: items}
}

// IsList reports whether the item is a list (vs. a byte string). An
// empty string item built with String(nil) or Uint(0) holds neither
// bytes nor children and also reports true.
func (it Item) IsList() bool { return it.list != nil || (it.str == nil && it.list == nil) }

// Bytes returns the item's raw bytes; only valid for string items.
func (it Item) Bytes() []byte { return it.str }

// Uint64 decodes the item as a minimal big-endian unsigned integer.
func (it Item) Uint64() uint64 {
	var v uint64
	for _, b := range it.str {
		v = v<<8 | uint64(b)
	}
	return v
}

// Items returns the children of a list item.
func (it Item) Items() []Item { return it.list }

// Encode serialises an Item using the standard RLP prefixing rules.
func Encode(it Item) []byte {
	if it.list != nil {
		var body []byte
		for _, child := range it.list {
			body = append(body, Encode(child)...)
		}
		return append(encodeListHeader(len(body)), body...)
	}
	return encodeString(it.str)
}

func encodeString(b []byte) []byte {
	switch {
	case len(b) == 1 && b[0] < 0x80:
		return []byte{b[0]}
	case len(b) <= 55:
		out := make([]byte, 0, len(b)+1)
		out = append(out, byte(0x80+len(b)))
		return append(out, b...)
	default:
		lenBytes := minimalBigEndian(uint64(len(b)))
		out := make([]byte, 0, len(b)+1+len(lenBytes))
		out = append(out, byte(0xb7+len(lenBytes)))
		out = append(out, lenBytes...)
		return append(out, b...)
	}
}

func encodeListHeader(bodyLen int) []byte {
	if bodyLen <= 55 {
		return []byte{byte(0xc0 + bodyLen)}
	}
	lenBytes := minimalBigEndian(uint64(bodyLen))
	out := make([]byte, 0, 1+len(lenBytes))
	out = append(out, byte(0xf7+len(lenBytes)))
	return append(out, lenBytes...)
}

func minimalBigEndian(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// Decode parses a single Item (string or list) from the front of b and
// returns it along with the number of bytes consumed.
func Decode(b []byte) (Item, int, error) {
	if len(b) == 0 {
		return Item{}, 0, ErrTooShort
	}
	prefix := b[0]
	switch {
	case prefix < 0x80:
		return Item{str: b[0:1]}, 1, nil
	case prefix < 0xb8:
		n := int(prefix - 0x80)
		if len(b) < 1+n {
			return Item{}, 0, ErrTooShort
		}
		return Item{str: b[1 : 1+n]}, 1 + n, nil
	case prefix < 0xc0:
		lenOfLen := int(prefix - 0xb7)
		if len(b) < 1+lenOfLen {
			return Item{}, 0, ErrTooShort
		}
		n, err := decodeLength(b[1 : 1+lenOfLen])
		if err != nil {
			return Item{}, 0, err
		}
		total := 1 + lenOfLen + n
		if len(b) < total {
			return Item{}, 0, ErrTooShort
		}
		return Item{str: b[1+lenOfLen : total]}, total, nil
	case prefix < 0xf8:
		n := int(prefix - 0xc0)
		if len(b) < 1+n {
			return Item{}, 0, ErrTooShort
		}
		items, err := decodeItems(b[1 : 1+n])
		if err != nil {
			return Item{}, 0, err
		}
		return Item{list: items}, 1 + n, nil
	default:
		lenOfLen := int(prefix - 0xf7)
		if len(b) < 1+lenOfLen {
			return Item{}, 0, ErrTooShort
		}
		n, err := decodeLength(b[1 : 1+lenOfLen])
		if err != nil {
			return Item{}, 0, err
		}
		total := 1 + lenOfLen + n
		if len(b) < total {
			return Item{}, 0, ErrTooShort
		}
		items, err := decodeItems(b[1+lenOfLen : total])
		if err != nil {
			return Item{}, 0, err
		}
		return Item{list: items}, total, nil
	}
}

func decodeLength(b []byte) (int, error) {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	if v > (1 << 32) {
		return 0, fmt.Errorf("rlp: declared length %d implausible", v)
	}
	return int(v), nil
}

func decodeItems(b []byte) ([]Item, error) {
	var items []Item
	for len(b) > 0 {
		it, n, err := Decode(b)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
		b = b[n:]
	}
	return items, nil
}
