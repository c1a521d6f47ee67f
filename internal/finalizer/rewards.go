package finalizer

import (
	"math/big"
	"sort"

	"github.com/dagchain/node/internal/types"
)

// RewardsStats accumulates per-author DAG-block counts across a
// configurable distribution interval, per spec.md §4.6 "Rewards and
// system transactions", supplemented from original_source's rewards
// stats module (rewards_stats.cpp / rewards_stats_test.cpp): the
// interval elapsing triggers an implicit, deterministic reward
// emission rather than an on-chain claim transaction.
type RewardsStats struct {
	interval     uint64
	perBlock     *big.Int
	blockCounts  map[types.Address]uint64
}

// NewRewardsStats creates a tracker that pays perBlock per observed
// authored DAG block, distributed every interval periods.
func NewRewardsStats(interval uint64, perBlock *big.Int) *RewardsStats {
	return &RewardsStats{
		interval:    interval,
		perBlock:    perBlock,
		blockCounts: make(map[types.Address]uint64),
	}
}

// Observe records one DAG block authored by author, counted toward
// the next distribution.
func (r *RewardsStats) Observe(author types.Address) {
	r.blockCounts[author]++
}

// Due reports whether period is a distribution boundary.
func (r *RewardsStats) Due(period uint64) bool {
	return r.interval > 0 && period%r.interval == 0 && len(r.blockCounts) > 0
}

// Drain returns a deterministically-ordered set of synthetic reward
// transfers — one per author with at least one counted block — signed
// by the reserved system account, and resets the accumulator. The
// caller is expected to prepend these ahead of the period's ordinary
// transaction list (spec.md §4.6: "before the ordinary transaction
// list").
func (r *RewardsStats) Drain(startingNonce uint64) []*types.Transaction {
	authors := make([]types.Address, 0, len(r.blockCounts))
	for a := range r.blockCounts {
		authors = append(authors, a)
	}
	sort.Slice(authors, func(i, j int) bool { return lessAddress(authors[i], authors[j]) })

	out := make([]*types.Transaction, 0, len(authors))
	nonce := startingNonce
	for _, author := range authors {
		count := r.blockCounts[author]
		value := new(big.Int).Mul(r.perBlock, new(big.Int).SetUint64(count))
		recipient := author
		out = append(out, &types.Transaction{
			Sender:   types.SystemAddress,
			To:       &recipient,
			Nonce:    nonce,
			GasPrice: big.NewInt(0),
			GasLimit: 0,
			Value:    value,
		})
		nonce++
	}
	r.blockCounts = make(map[types.Address]uint64)
	return out
}

func lessAddress(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
