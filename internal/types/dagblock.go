package types

import "sync"

// DagBlock is a vertex of the non-finalised block-DAG, per spec.md §3.
type DagBlock struct {
	Pivot        Hash   // parent on the pivot chain; ZeroHash for genesis
	Tips         []Hash // additional, non-pivot parents, in order
	Transactions []Hash // contained transaction hashes, in order
	Level        uint64 // 1 + max(level of pivot, level of any tip); genesis = 0
	Timestamp    int64
	Schedule     Schedule
	Signature    Signature

	senderOnce sync.Once
	sender     Address
	senderErr  error

	hashOnce sync.Once
	hash     Hash
}

// Parents returns every parent hash, pivot first.
func (b *DagBlock) Parents() []Hash {
	out := make([]Hash, 0, 1+len(b.Tips))
	if b.Pivot != ZeroHash {
		out = append(out, b.Pivot)
	}
	out = append(out, b.Tips...)
	return out
}

// IsGenesis reports whether b is the DAG genesis sentinel (spec.md §3:
// "zero for the genesis block").
func (b *DagBlock) IsGenesis() bool {
	return b.Pivot == ZeroHash && len(b.Tips) == 0 && b.Level == 0
}

func (b *DagBlock) signingItems() []rlpItem {
	tipItems := make([]rlpItem, len(b.Tips))
	for i, h := range b.Tips {
		tipItems[i] = rlpBytes(h[:])
	}
	txItems := make([]rlpItem, len(b.Transactions))
	for i, h := range b.Transactions {
		txItems[i] = rlpBytes(h[:])
	}
	return []rlpItem{
		rlpBytes(b.Pivot[:]),
		rlpList(tipItems...),
		rlpList(txItems...),
		rlpUint(b.Level),
		rlpUint(uint64(b.Timestamp)),
		rlpList(b.Schedule.rlpItems()...),
	}
}

// SigningBytes returns the RLP encoding of every field preceding the
// signature — the message the proposer signs (spec.md §3: "digest of
// the RLP encoding of all preceding fields").
func (b *DagBlock) SigningBytes() []byte {
	return rlpEncode(rlpList(b.signingItems()...))
}

// EncodeRLP returns the canonical RLP encoding including the signature,
// the block's wire form and hash preimage.
func (b *DagBlock) EncodeRLP() []byte {
	items := append(b.signingItems(), rlpBytes(b.Signature))
	return rlpEncode(rlpList(items...))
}

// Hash returns the block's identity, memoised (spec.md §3: "hash: digest
// of the RLP encoding including signature; serves as identity").
func (b *DagBlock) Hash() Hash {
	b.hashOnce.Do(func() {
		b.hash = HashBytes(b.EncodeRLP())
	})
	return b.hash
}

// RecoverSender recovers and memoises the block's proposer address
// (spec.md §3: "recovery is memoised").
func (b *DagBlock) RecoverSender(v Verifier) (Address, error) {
	b.senderOnce.Do(func() {
		b.sender, b.senderErr = v.Recover(b.SigningBytes(), b.Signature)
	})
	return b.sender, b.senderErr
}

// ComputeLevel returns 1 + max(level of parents), or 0 if b is the
// genesis sentinel (no parents). Callers pass the resolved parent
// levels; this function does not look parents up itself so that
// internal/dagmgr controls what "known" means (pool vs. finalised
// frontier, spec.md §4.3 invariants).
func ComputeLevel(parentLevels []uint64) uint64 {
	if len(parentLevels) == 0 {
		return 0
	}
	max := parentLevels[0]
	for _, l := range parentLevels[1:] {
		if l > max {
			max = l
		}
	}
	return max + 1
}
