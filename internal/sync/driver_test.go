package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/types"
)

type recordingBlockRequester struct {
	peer       string
	fromLevel  uint64
	count      uint64
	callsCount int
}

func (r *recordingBlockRequester) RequestBlocksLevel(peer string, fromLevel, count uint64) {
	r.peer, r.fromLevel, r.count = peer, fromLevel, count
	r.callsCount++
}

type recordingPeriodRequester struct {
	peer       string
	fromPeriod uint64
	window     uint64
}

func (r *recordingPeriodRequester) RequestPeriods(peer string, fromPeriod, window uint64) {
	r.peer, r.fromPeriod, r.window = peer, fromPeriod, window
}

type fixedBacklog struct{ n int }

func (f fixedBacklog) Backlog() int { return f.n }

func TestDagSyncStepRequestsFromBestPeer(t *testing.T) {
	req := &recordingBlockRequester{}
	d := New(Config{LevelsPerBatch: 10, StallTimeout: time.Second, BacklogThreshold: 100, MaliciousTTL: time.Minute}, req, &recordingPeriodRequester{}, fixedBacklog{0})

	d.UpdatePeerStatus("peerA", PeerStatus{DagMaxLevel: 5})
	d.UpdatePeerStatus("peerB", PeerStatus{DagMaxLevel: 9})

	d.DagSyncStep(time.Now(), 2)
	require.Equal(t, "peerB", req.peer)
	require.Equal(t, uint64(3), req.fromLevel)
	require.Equal(t, uint64(10), req.count)
}

func TestDagSyncStepPausesUnderBacklog(t *testing.T) {
	req := &recordingBlockRequester{}
	d := New(Config{LevelsPerBatch: 10, StallTimeout: time.Second, BacklogThreshold: 5, MaliciousTTL: time.Minute}, req, &recordingPeriodRequester{}, fixedBacklog{10})

	d.UpdatePeerStatus("peerA", PeerStatus{DagMaxLevel: 5})
	d.DagSyncStep(time.Now(), 2)
	require.Equal(t, 0, req.callsCount)
}

func TestDagSyncStepRotatesOnStall(t *testing.T) {
	req := &recordingBlockRequester{}
	d := New(Config{LevelsPerBatch: 10, StallTimeout: 10 * time.Millisecond, BacklogThreshold: 100, MaliciousTTL: time.Minute}, req, &recordingPeriodRequester{}, fixedBacklog{0})

	d.UpdatePeerStatus("peerA", PeerStatus{DagMaxLevel: 9})
	d.UpdatePeerStatus("peerB", PeerStatus{DagMaxLevel: 3})

	start := time.Now()
	d.DagSyncStep(start, 2)
	require.Equal(t, "peerA", req.peer)

	// no progress at local level 2 after the stall window: rotate away from peerA.
	later := start.Add(20 * time.Millisecond)
	d.DagSyncStep(later, 2)
	require.Equal(t, "peerB", req.peer)
}

func TestMaliciousPeerExcludedFromSelection(t *testing.T) {
	req := &recordingBlockRequester{}
	d := New(Config{LevelsPerBatch: 10, StallTimeout: time.Second, BacklogThreshold: 100, MaliciousTTL: time.Minute}, req, &recordingPeriodRequester{}, fixedBacklog{0})

	d.UpdatePeerStatus("peerA", PeerStatus{DagMaxLevel: 9})
	d.UpdatePeerStatus("peerB", PeerStatus{DagMaxLevel: 3})
	d.MarkMalicious("peerA")

	d.DagSyncStep(time.Now(), 2)
	require.Equal(t, "peerB", req.peer)
}

type stubVerifier struct{}

func (stubVerifier) Recover(msg []byte, sig types.Signature) (types.Address, error) {
	var a types.Address
	copy(a[:], sig)
	return a, nil
}

type fixedAnchor struct{ known map[types.Hash]*types.DagBlock }

func (f fixedAnchor) Get(hash types.Hash) (*types.DagBlock, bool) {
	b, ok := f.known[hash]
	return b, ok
}

func mkAddr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func sign(addr types.Address) types.Signature { return types.Signature(addr[:]) }

func certifyVote(voter types.Address, period uint64, anchor types.Hash) *types.Vote {
	v := &types.Vote{Voter: voter, Period: period, Step: types.VoteCertify, VotedHash: anchor}
	v.Signature = sign(voter)
	return v
}

func TestValidatePeriodResponseAcceptsQuorum(t *testing.T) {
	anchor := types.Hash{0: 1}
	dag := fixedAnchor{known: map[types.Hash]*types.DagBlock{anchor: {}}}
	resp := PeriodResponse{
		Period: 5,
		Anchor: anchor,
		CertifyVotes: []*types.Vote{
			certifyVote(mkAddr(1), 5, anchor),
			certifyVote(mkAddr(2), 5, anchor),
			certifyVote(mkAddr(3), 5, anchor),
		},
	}
	require.NoError(t, ValidatePeriodResponse(resp, dag, stubVerifier{}, 3))
}

func TestValidatePeriodResponseRejectsUnknownAnchor(t *testing.T) {
	anchor := types.Hash{0: 1}
	dag := fixedAnchor{known: map[types.Hash]*types.DagBlock{}}
	resp := PeriodResponse{Period: 5, Anchor: anchor}
	require.ErrorIs(t, ValidatePeriodResponse(resp, dag, stubVerifier{}, 1), ErrUnknownAnchor)
}

func TestValidatePeriodResponseRejectsBelowQuorum(t *testing.T) {
	anchor := types.Hash{0: 1}
	dag := fixedAnchor{known: map[types.Hash]*types.DagBlock{anchor: {}}}
	resp := PeriodResponse{
		Period:       5,
		Anchor:       anchor,
		CertifyVotes: []*types.Vote{certifyVote(mkAddr(1), 5, anchor)},
	}
	require.ErrorIs(t, ValidatePeriodResponse(resp, dag, stubVerifier{}, 3), ErrQuorumNotMet)
}
