// Package types implements the data model of spec.md §3: hashes,
// addresses, DAG blocks, transactions, votes, final headers, accounts,
// and receipts. Identity for every entity with a "hash" field is a
// digest of its RLP encoding (internal/rlp), following the teacher's own
// habit of a small, explicit per-type encoder (codec.JSONCodec) rather
// than a reflection-based marshaler.
package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/luxfi/ids"
)

// Hash is a 256-bit opaque identifier, aliasing the teacher's shared ID
// type (github.com/luxfi/ids) used DAG-wide for blocks, transactions,
// votes, and periods.
type Hash = ids.ID

// ZeroHash is the all-zero sentinel used for the DAG genesis pivot and
// for the PBFT "null" vote hash (spec.md §4.5 timeouts).
var ZeroHash Hash

// HashBytes returns the SHA-256 digest of b as a Hash. Matches the
// teacher's own hashing choice in dag/witness/cache.go (crypto/sha256),
// not a third-party hash package.
func HashBytes(b []byte) Hash {
	sum := sha256.Sum256(b)
	var h Hash
	copy(h[:], sum[:])
	return h
}

// Address is a 160-bit identifier derived from a public key.
type Address [20]byte

// String renders the address as 0x-prefixed hex.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// AddressFromBytes builds an Address from the low 20 bytes of b,
// matching how a public-key hash is truncated to an address elsewhere
// in the Ethereum-shaped lineage this spec borrows its account model
// from.
func AddressFromBytes(b []byte) Address {
	var a Address
	if len(b) >= 20 {
		copy(a[:], b[len(b)-20:])
	} else {
		copy(a[20-len(b):], b)
	}
	return a
}
