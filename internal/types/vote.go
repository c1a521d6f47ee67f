package types

import "sync"

// VoteType enumerates the four PBFT message kinds of spec.md §4.5.
type VoteType uint8

const (
	VotePropose VoteType = iota
	VoteSoft
	VoteCertify
	VoteNext
)

func (t VoteType) String() string {
	switch t {
	case VotePropose:
		return "propose"
	case VoteSoft:
		return "soft"
	case VoteCertify:
		return "certify"
	case VoteNext:
		return "next"
	default:
		return "unknown"
	}
}

// Vote is a single PBFT message, per spec.md §3.
type Vote struct {
	Voter     Address
	Period    uint64
	Round     uint32
	Step      VoteType
	VotedHash Hash
	VRFProof  []byte
	Signature Signature

	hashOnce sync.Once
	hash     Hash
}

func (v *Vote) signingItems() []rlpItem {
	return []rlpItem{
		rlpBytes(v.Voter[:]),
		rlpUint(v.Period),
		rlpUint(uint64(v.Round)),
		rlpUint(uint64(v.Step)),
		rlpBytes(v.VotedHash[:]),
		rlpBytes(v.VRFProof),
	}
}

// SigningBytes returns the RLP encoding of every field preceding the
// signature.
func (v *Vote) SigningBytes() []byte {
	return rlpEncode(rlpList(v.signingItems()...))
}

// EncodeRLP returns the canonical RLP encoding including the signature.
func (v *Vote) EncodeRLP() []byte {
	items := append(v.signingItems(), rlpBytes(v.Signature))
	return rlpEncode(rlpList(items...))
}

// Hash returns the vote's identity, memoised (spec.md §3: "Identity is
// its hash").
func (v *Vote) Hash() Hash {
	v.hashOnce.Do(func() {
		v.hash = HashBytes(v.EncodeRLP())
	})
	return v.hash
}

// Key identifies the (voter, period, round, step, type) tuple spec.md
// §3 constrains to at most one vote: "at most one vote per (voter,
// period, round, step, type)".
type VoteKey struct {
	Voter  Address
	Period uint64
	Round  uint32
	Step   VoteType
}

// KeyOf returns v's dedup/equivocation key.
func (v *Vote) KeyOf() VoteKey {
	return VoteKey{Voter: v.Voter, Period: v.Period, Round: v.Round, Step: v.Step}
}
