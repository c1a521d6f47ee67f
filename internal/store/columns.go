package store

// Column identifies one of the named partitions of spec.md §4.1. Keys
// are namespaced by a one-byte column prefix within a single pebble
// keyspace, the same "column family via key prefix" technique the
// teacher's database facade documents for its own KV-backed storage.
type Column byte

const (
	DagBlocksByHash Column = iota
	DagBlocksByLevel
	Transactions
	TxToPeriod
	PeriodData
	FinalChainMeta
	FinalChainBlkByNumber
	FinalChainBlkHashByNumber
	FinalChainBlkNumberByHash
	FinalChainReceiptByTrxHash
	FinalChainLogBloomsIndex
	StateMainTrie
	StateAccTrie
	StateCode
	ReplayProtection
	// VotesVerified holds, per period, the ≥2f+1 certify-votes the PBFT
	// engine already verified signatures and quorum for at commit time
	// (internal/finalizer.commitBatch) — the durable half of spec.md
	// §4.5/§4.7: "the certified vote set is persisted in period_data so
	// syncing peers can verify without re-running the protocol". There is
	// no corresponding "unverified" column: this engine verifies every
	// vote synchronously inside Engine.SubmitVote before it is ever
	// tallied, so no vote reaches commitBatch in an unverified state.
	VotesVerified
)

// columnCount must stay in sync with the const block above.
const columnCount = VotesVerified + 1

// prefixed returns key namespaced under column c.
func prefixed(c Column, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(c)
	copy(out[1:], key)
	return out
}

// Reserved keys within FinalChainMeta (spec.md §4.1).
var (
	KeyLastFinalisedPeriod = []byte("last_finalised_period")
	KeyGenesisHash         = []byte("genesis_hash")
)
