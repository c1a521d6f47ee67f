package types

import (
	"math/big"
	"sync"
)

// Signature is an opaque recoverable-signature byte string. The actual
// signature scheme (secp256k1 recovery, as spec.md §3 "sender recovered
// from signature" implies) lives behind the Signer/Verifier seam
// (internal/types.Verifier) so that a post-quantum scheme could be
// swapped in without touching the data model — see DESIGN.md's note on
// the teacher's unwired PQ/BLS dependencies.
type Signature []byte

// Verifier recovers the signer address from a signature over a message.
// Production wiring supplies a secp256k1-backed implementation; tests use
// a deterministic stub (internal/executor/simple and the package tests
// in this directory).
type Verifier interface {
	Recover(msg []byte, sig Signature) (Address, error)
}

// Transaction is the unit of state change, per spec.md §3.
type Transaction struct {
	Sender    Address
	To        *Address // nil means contract creation
	Nonce     uint64
	GasPrice  *big.Int
	GasLimit  uint64
	Value     *big.Int
	Data      []byte
	Signature Signature

	hashOnce sync.Once
	hash     Hash
}

// SigningBytes returns the RLP encoding of every field preceding the
// signature, the message a wallet signs over.
func (t *Transaction) SigningBytes() []byte {
	to := []byte{}
	if t.To != nil {
		to = t.To[:]
	}
	gasPrice := big.NewInt(0)
	if t.GasPrice != nil {
		gasPrice = t.GasPrice
	}
	value := big.NewInt(0)
	if t.Value != nil {
		value = t.Value
	}
	return rlpEncode(rlpList(
		rlpBytes(to),
		rlpUint(t.Nonce),
		rlpBytes(gasPrice.Bytes()),
		rlpUint(t.GasLimit),
		rlpBytes(value.Bytes()),
		rlpBytes(t.Data),
	))
}

// EncodeRLP returns the canonical RLP encoding including the signature,
// used as the transaction's wire form and as the hash preimage.
func (t *Transaction) EncodeRLP() []byte {
	to := []byte{}
	if t.To != nil {
		to = t.To[:]
	}
	gasPrice := big.NewInt(0)
	if t.GasPrice != nil {
		gasPrice = t.GasPrice
	}
	value := big.NewInt(0)
	if t.Value != nil {
		value = t.Value
	}
	return rlpEncode(rlpList(
		rlpBytes(to),
		rlpUint(t.Nonce),
		rlpBytes(gasPrice.Bytes()),
		rlpUint(t.GasLimit),
		rlpBytes(value.Bytes()),
		rlpBytes(t.Data),
		rlpBytes(t.Signature),
	))
}

// Hash returns the transaction's identity, memoised after first
// computation (spec.md §3: "Identity is its hash").
func (t *Transaction) Hash() Hash {
	t.hashOnce.Do(func() {
		t.hash = HashBytes(t.EncodeRLP())
	})
	return t.hash
}

// IsContractCreation reports whether the recipient is absent.
func (t *Transaction) IsContractCreation() bool {
	return t.To == nil
}

// RecoverSender recovers and memoises the sender address using v. If
// t.Sender is already set (by an earlier call, or by the caller) it is
// returned without re-running
// recovery, matching spec.md §3's "recovery is memoised".
func (t *Transaction) RecoverSender(v Verifier) (Address, error) {
	if !t.Sender.IsZero() {
		return t.Sender, nil
	}
	addr, err := v.Recover(t.SigningBytes(), t.Signature)
	if err != nil {
		return Address{}, err
	}
	t.Sender = addr
	return addr, nil
}
