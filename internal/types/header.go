package types

// FinalHeader is written once per period, per spec.md §3.
type FinalHeader struct {
	ParentHash    Hash
	Author        Address
	Timestamp     int64
	StateRoot     Hash
	TxRoot        Hash
	ReceiptsRoot  Hash
	LogBloom      Bloom
	GasUsed       uint64
	GasLimit      uint64
	Period        uint64
	PeriodHash    Hash // the anchor DAG block hash finalised for this period
}

func (h *FinalHeader) rlpItems() []rlpItem {
	return []rlpItem{
		rlpBytes(h.ParentHash[:]),
		rlpBytes(h.Author[:]),
		rlpUint(uint64(h.Timestamp)),
		rlpBytes(h.StateRoot[:]),
		rlpBytes(h.TxRoot[:]),
		rlpBytes(h.ReceiptsRoot[:]),
		rlpBytes(h.LogBloom[:]),
		rlpUint(h.GasUsed),
		rlpUint(h.GasLimit),
		rlpUint(h.Period),
		rlpBytes(h.PeriodHash[:]),
	}
}

// EncodeRLP returns the canonical RLP encoding of the header.
func (h *FinalHeader) EncodeRLP() []byte {
	return rlpEncode(rlpList(h.rlpItems()...))
}

// Hash returns the header's identity (its block hash in the final
// chain), used by final_chain_blk_number_by_hash (spec.md §4.1).
func (h *FinalHeader) Hash() Hash {
	return HashBytes(h.EncodeRLP())
}

// TxRootOf hashes the RLP list of transaction hashes included in a
// period, used to build FinalHeader.TxRoot (spec.md §4.6 step 4).
func TxRootOf(txHashes []Hash) Hash {
	items := make([]rlpItem, len(txHashes))
	for i, h := range txHashes {
		items[i] = rlpBytes(h[:])
	}
	return HashBytes(rlpEncode(rlpList(items...)))
}

// ReceiptsRootOf hashes the RLP list of receipts included in a period,
// used to build FinalHeader.ReceiptsRoot (spec.md §4.6 step 4).
func ReceiptsRootOf(receipts []Receipt) Hash {
	items := make([]rlpItem, len(receipts))
	for i, r := range receipts {
		items[i] = rlpList(r.rlpItems()...)
	}
	return HashBytes(rlpEncode(rlpList(items...)))
}
