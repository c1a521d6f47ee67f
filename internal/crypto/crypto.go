// Package crypto supplies the concrete recoverable-signature scheme
// behind internal/types.Verifier and internal/pbft.Signer: secp256k1
// via github.com/decred/dcrd/dcrec/secp256k1/v4, a dependency already
// present in the teacher's own module graph (pulled in indirectly, but
// never exercised by any teacher package — see DESIGN.md) as the
// standard Go implementation of the curve spec.md §3 implies with
// "sender recovered from signature".
package crypto

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/cockroachdb/errors"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/dagchain/node/internal/types"
)

// ErrInvalidSignature is returned when a signature does not recover to
// any public key.
var ErrInvalidSignature = errors.New("crypto: invalid recoverable signature")

// Key is a node's or account's secp256k1 keypair.
type Key struct {
	priv *secp256k1.PrivateKey
}

// GenerateKey creates a new random key, used for genesis-local dev
// nodes and tests; production validator keys are expected to be
// provisioned out of band and loaded via FromBytes.
func GenerateKey() (*Key, error) {
	priv, err := secp256k1.GeneratePrivateKeyFromRand(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: generate key")
	}
	return &Key{priv: priv}, nil
}

// FromBytes loads a key from a 32-byte scalar.
func FromBytes(b []byte) (*Key, error) {
	if len(b) != 32 {
		return nil, errors.New("crypto: private key must be 32 bytes")
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	return &Key{priv: priv}, nil
}

// Bytes returns the 32-byte scalar encoding of the private key.
func (k *Key) Bytes() []byte {
	return k.priv.Serialize()
}

// Address derives the account/validator address from the public key,
// per types.AddressFromBytes: the low 20 bytes of the hash of the
// uncompressed public key, excluding its leading format byte.
func (k *Key) Address() types.Address {
	pub := k.priv.PubKey().SerializeUncompressed()
	h := types.HashBytes(pub[1:])
	return types.AddressFromBytes(h[:])
}

// Sign implements internal/pbft.Signer and the seam
// internal/executor/simple's tests exercise: a 65-byte compact
// recoverable signature over sha256(msg).
func (k *Key) Sign(msg []byte) (types.Signature, error) {
	digest := sha256.Sum256(msg)
	sig := ecdsa.SignCompact(k.priv, digest[:], false)
	return types.Signature(sig), nil
}

// Recoverer implements internal/types.Verifier over secp256k1 compact
// recoverable signatures produced by Key.Sign. It is stateless and
// shared across every component that needs to recover a signer
// address (txpool, pbft, dagmgr block authorship).
type Recoverer struct{}

// Recover implements internal/types.Verifier.
func (Recoverer) Recover(msg []byte, sig types.Signature) (types.Address, error) {
	if len(sig) != 65 {
		return types.Address{}, ErrInvalidSignature
	}
	digest := sha256.Sum256(msg)
	pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return types.Address{}, errors.Wrap(err, "crypto: recover")
	}
	h := types.HashBytes(pub.SerializeUncompressed()[1:])
	return types.AddressFromBytes(h[:]), nil
}
