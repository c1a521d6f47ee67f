package pbft

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/config"
	"github.com/dagchain/node/internal/types"
)

type fixedSortition struct{}

func (fixedSortition) Evaluate(voter types.Address, period uint64, round uint32, step types.VoteType) ([]byte, bool, error) {
	return []byte{voter[0]}, true, nil
}

func (fixedSortition) Verify(voter types.Address, period uint64, round uint32, step types.VoteType, proof []byte) (bool, error) {
	return true, nil
}

func (fixedSortition) Weight(proof []byte) *big.Int {
	if len(proof) == 0 {
		return big.NewInt(0)
	}
	return big.NewInt(int64(proof[0]))
}

type addrSigner struct{ addr types.Address }

func (s addrSigner) Sign(msg []byte) (types.Signature, error) {
	return types.Signature(append([]byte{}, s.addr[:]...)), nil
}

type addrVerifier struct{}

func (addrVerifier) Recover(msg []byte, sig types.Signature) (types.Address, error) {
	var a types.Address
	copy(a[:], sig)
	return a, nil
}

type fixedAnchor struct{ hash types.Hash }

func (f fixedAnchor) CandidateAt(uint64) (types.Hash, bool) { return f.hash, true }

func testParams() config.Parameters {
	p := config.DefaultParameters()
	p.ByzantineTolerance = 1 // quorum = 3
	p.TargetLevelsPerPeriod = 1
	return p
}

func voteFrom(t *testing.T, addr types.Address, period uint64, round uint32, step types.VoteType, hash types.Hash) *types.Vote {
	t.Helper()
	v := &types.Vote{Voter: addr, Period: period, Round: round, Step: step, VotedHash: hash, VRFProof: []byte{addr[0]}}
	sig, err := addrSigner{addr}.Sign(v.SigningBytes())
	require.NoError(t, err)
	v.Signature = sig
	return v
}

func TestProposeRequiresEligibilityAndCandidate(t *testing.T) {
	var self types.Address
	self[0] = 1
	anchor := types.HashBytes([]byte("genesis-child"))

	e := New(testParams(), self, addrSigner{self}, addrVerifier{}, fixedSortition{}, fixedAnchor{anchor}, 1, time.Unix(0, 0))
	vote, err := e.Propose()
	require.NoError(t, err)
	require.NotNil(t, vote)
	require.Equal(t, anchor, vote.VotedHash)
}

func TestSubmitVoteCommitsOnCertifyQuorum(t *testing.T) {
	var self types.Address
	self[0] = 1
	anchor := types.HashBytes([]byte("anchor"))

	e := New(testParams(), self, addrSigner{self}, addrVerifier{}, fixedSortition{}, fixedAnchor{anchor}, 1, time.Unix(0, 0))

	var a, b, c types.Address
	a[0], b[0], c[0] = 10, 11, 12

	r1, err := e.SubmitVote(voteFrom(t, a, 1, 1, types.VoteCertify, anchor))
	require.NoError(t, err)
	require.Nil(t, r1)

	r2, err := e.SubmitVote(voteFrom(t, b, 1, 1, types.VoteCertify, anchor))
	require.NoError(t, err)
	require.Nil(t, r2)

	r3, err := e.SubmitVote(voteFrom(t, c, 1, 1, types.VoteCertify, anchor))
	require.NoError(t, err)
	require.NotNil(t, r3)
	require.Equal(t, uint64(1), r3.Period)
	require.Equal(t, anchor, r3.Anchor)
	require.Len(t, r3.CertifyVotes, 3)

	require.Equal(t, uint64(2), e.Period())
	require.Equal(t, uint32(1), e.Round())
}

func TestDoubleVoteDetected(t *testing.T) {
	var self types.Address
	self[0] = 1
	anchor := types.HashBytes([]byte("anchor"))
	other := types.HashBytes([]byte("other"))

	e := New(testParams(), self, addrSigner{self}, addrVerifier{}, fixedSortition{}, fixedAnchor{anchor}, 1, time.Unix(0, 0))

	var a types.Address
	a[0] = 10
	_, err := e.SubmitVote(voteFrom(t, a, 1, 1, types.VoteCertify, anchor))
	require.NoError(t, err)

	_, err = e.SubmitVote(voteFrom(t, a, 1, 1, types.VoteCertify, other))
	require.ErrorIs(t, err, ErrDoubleVote)
	require.True(t, e.IsMalicious(a))

	// spec.md §4.5: an equivocating voter's votes are excluded — a's
	// earlier certify-vote for anchor must no longer count toward quorum.
	require.Equal(t, 0, e.Tally(1, 1, types.VoteCertify, anchor))
}

func TestWrongSignatureRejected(t *testing.T) {
	var self, a, imposter types.Address
	self[0], a[0], imposter[0] = 1, 10, 99
	anchor := types.HashBytes([]byte("anchor"))

	e := New(testParams(), self, addrSigner{self}, addrVerifier{}, fixedSortition{}, fixedAnchor{anchor}, 1, time.Unix(0, 0))

	v := voteFrom(t, a, 1, 1, types.VoteCertify, anchor)
	v.Signature = addrSigner{imposter}.mustSign(v.SigningBytes())
	_, err := e.SubmitVote(v)
	require.ErrorIs(t, err, ErrBadSignature)
}

func (s addrSigner) mustSign(msg []byte) types.Signature {
	sig, _ := s.Sign(msg)
	return sig
}

func TestAdvanceOnTimeoutAdvancesRound(t *testing.T) {
	var self types.Address
	self[0] = 1
	anchor := types.HashBytes([]byte("anchor"))
	params := testParams()
	params.BaseTimeout = 0
	params.StepDelta = 0
	params.RoundDelta = 0

	e := New(params, self, addrSigner{self}, addrVerifier{}, fixedSortition{}, fixedAnchor{anchor}, 1, time.Unix(0, 0))
	_, err := e.AdvanceOnTimeout(time.Unix(100, 0))
	require.NoError(t, err)
	require.Equal(t, uint32(2), e.Round())
}
