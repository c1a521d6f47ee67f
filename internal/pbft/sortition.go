// Package pbft implements the round/step consensus state machine of
// spec.md §4.5: sortition-gated voting over propose/soft/certify/next
// steps, timeouts, carry-over, and double-vote detection, selecting one
// DAG anchor per period for the finaliser to commit.
//
// The vote-collection shape is grounded on the teacher's poll.Set /
// poll.Poll (poll/poll.go): a map of in-flight polls keyed by round,
// each one an early-terminating tally against a quorum threshold. This
// package collapses that into a single in-flight poll per (period,
// round, step) because spec.md's state machine, unlike the teacher's
// request/response poll set, only ever has one round live at a time.
package pbft

import (
	"encoding/binary"
	"math/big"

	"github.com/dagchain/node/internal/types"
)

// StakeWeights supplies the total and per-voter stake the sortition
// threshold scales against, grounded on the teacher's
// validators.Manager.GetLight/TotalLight weight model (validators/validators.go),
// renamed to this domain's "stake" vocabulary.
type StakeWeights interface {
	Stake(voter types.Address) uint64
	TotalStake() uint64
}

// Sortition decides per-(voter, period, round, step) eligibility via a
// verifiable random function scaled by stake, per spec.md §4.5. The
// proof accompanies every vote and must verify before the vote counts
// toward any threshold.
type Sortition interface {
	Evaluate(voter types.Address, period uint64, round uint32, step types.VoteType) (proof []byte, eligible bool, err error)
	Verify(voter types.Address, period uint64, round uint32, step types.VoteType, proof []byte) (eligible bool, err error)

	// Weight orders two proofs for the "highest VRF weight seen"
	// soft-vote tie-break of spec.md §4.5 step 2: larger is better.
	Weight(proof []byte) *big.Int
}

// HashSortition is a deterministic stand-in VRF: it hashes
// (voter, period, round, step) into a proof and treats the digest as a
// uniform draw scaled by the voter's stake share against a threshold
// derived from the target committee size. It satisfies the VRF
// contract's shape without a real verifiable-random-function
// primitive — the teacher's dependency graph carries no such library
// reachable without adopting a whole unrelated PQ/BLS crypto stack
// (see DESIGN.md's note on the deliberately-unwired crypto deps).
type HashSortition struct {
	Weights StakeWeights
	Target  int
}

func (s *HashSortition) Evaluate(voter types.Address, period uint64, round uint32, step types.VoteType) ([]byte, bool, error) {
	proof := sortitionProof(voter, period, round, step)
	return proof, s.passes(voter, proof), nil
}

func (s *HashSortition) Verify(voter types.Address, period uint64, round uint32, step types.VoteType, proof []byte) (bool, error) {
	want := sortitionProof(voter, period, round, step)
	if !bytesEqual(proof, want) {
		return false, nil
	}
	return s.passes(voter, proof), nil
}

func sortitionProof(voter types.Address, period uint64, round uint32, step types.VoteType) []byte {
	buf := make([]byte, 0, 20+8+4+1)
	buf = append(buf, voter[:]...)
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], period)
	buf = append(buf, p[:]...)
	var r [4]byte
	binary.BigEndian.PutUint32(r[:], round)
	buf = append(buf, r[:]...)
	buf = append(buf, byte(step))
	h := types.HashBytes(buf)
	return h[:]
}

// passes treats proof as a uniform 256-bit draw and accepts it when the
// draw falls below stake_share * target_committee * 2^256, the
// standard cryptographic-sortition threshold shape.
func (s *HashSortition) passes(voter types.Address, proof []byte) bool {
	stake := s.Weights.Stake(voter)
	total := s.Weights.TotalStake()
	if stake == 0 || total == 0 {
		return false
	}
	draw := new(big.Int).SetBytes(proof)
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	threshold := new(big.Int).Mul(max, big.NewInt(int64(s.Target)))
	threshold.Mul(threshold, new(big.Int).SetUint64(stake))
	threshold.Div(threshold, new(big.Int).SetUint64(total))
	return draw.Cmp(threshold) < 0
}

// Weight returns max_u256 - draw, so a smaller (more eligible) draw is
// a larger weight.
func (s *HashSortition) Weight(proof []byte) *big.Int {
	draw := new(big.Int).SetBytes(proof)
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return new(big.Int).Sub(max, draw)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StaticStakeWeights is a fixed-membership StakeWeights, the shape used
// by genesis-bootstrapped single/local networks and by tests.
type StaticStakeWeights struct {
	stake map[types.Address]uint64
	total uint64
}

// NewStaticStakeWeights builds a StakeWeights over a fixed stake table.
func NewStaticStakeWeights(stake map[types.Address]uint64) *StaticStakeWeights {
	var total uint64
	cp := make(map[types.Address]uint64, len(stake))
	for addr, w := range stake {
		cp[addr] = w
		total += w
	}
	return &StaticStakeWeights{stake: cp, total: total}
}

func (w *StaticStakeWeights) Stake(voter types.Address) uint64 { return w.stake[voter] }
func (w *StaticStakeWeights) TotalStake() uint64                { return w.total }
