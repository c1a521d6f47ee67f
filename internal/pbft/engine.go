package pbft

import (
	"math/big"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dagchain/node/internal/config"
	"github.com/dagchain/node/internal/types"
)

var (
	ErrWrongPeriod  = errors.New("pbft: vote is for a different period")
	ErrIneligible   = errors.New("pbft: voter is not sortition-eligible at this round/step")
	ErrBadSignature = errors.New("pbft: vote signature does not match voter")
	ErrDoubleVote   = errors.New("pbft: voter already voted a different hash at this round/step")
	ErrNoAnchor     = errors.New("pbft: no pivot-chain candidate available to propose")
)

// Signer produces this node's own vote signatures.
type Signer interface {
	Sign(msg []byte) (types.Signature, error)
}

// AnchorSource supplies propose-step candidates: the pivot tip whose
// level is closest to, but not below, a target level (spec.md §4.5
// step 1). internal/dagmgr.Manager.PivotTip plus a level-walk satisfies
// this; the engine only depends on the narrow seam.
type AnchorSource interface {
	CandidateAt(targetLevel uint64) (types.Hash, bool)
}

// CommitResult is returned by SubmitVote when recording a vote makes a
// period locally certified — spec.md §4.5 "Certification": the node
// has stored ≥2f+1 certify-votes for the winning anchor.
type CommitResult struct {
	Period       uint64
	Anchor       types.Hash
	CertifyVotes []*types.Vote
}

type tallyKey struct {
	Period uint64
	Round  uint32
	Step   types.VoteType
}

// Engine is the single-threaded PBFT round/step state machine of
// spec.md §4.5. All vote insertion and step transitions serialise
// through it (spec.md §5: "The PBFT state machine is single-threaded").
// Time is supplied by the caller (AdvanceOnTimeout) rather than read
// internally, keeping the engine a pure, test-driven state machine —
// the driver loop (outside this package) owns the wall clock and
// network I/O, cooperative-timeout style (spec.md §5).
type Engine struct {
	mu sync.Mutex

	params    config.Parameters
	self      types.Address
	signer    Signer
	verifier  types.Verifier
	sortition Sortition
	anchors   AnchorSource

	period       uint64
	round        uint32
	step         types.VoteType
	roundStarted time.Time

	// tallies[key][hash] holds every distinct voter's vote for hash at
	// (period, round, step), keyed by voter to dedup and to let the
	// commit path hand the finaliser real Vote objects (spec.md §4.5
	// "the certified vote set is persisted in period_data").
	tallies   map[tallyKey]map[types.Hash]map[types.Address]*types.Vote
	votesSeen map[types.VoteKey]types.Hash
	malicious map[types.Address]struct{}

	carryNextVote *types.Hash // mandatory soft-vote target carried from the prior round's certified next-vote set
	certified     map[uint64]struct{} // periods already committed, guards against double-invoking the finaliser
}

// New creates an Engine starting at startPeriod, round 1, propose step.
func New(params config.Parameters, self types.Address, signer Signer, verifier types.Verifier, sortition Sortition, anchors AnchorSource, startPeriod uint64, startedAt time.Time) *Engine {
	return &Engine{
		params:       params,
		self:         self,
		signer:       signer,
		verifier:     verifier,
		sortition:    sortition,
		anchors:      anchors,
		period:       startPeriod,
		round:        1,
		step:         types.VotePropose,
		roundStarted: startedAt,
		tallies:      make(map[tallyKey]map[types.Hash]map[types.Address]*types.Vote),
		votesSeen:    make(map[types.VoteKey]types.Hash),
		malicious:    make(map[types.Address]struct{}),
		certified:    make(map[uint64]struct{}),
	}
}

func (e *Engine) Period() uint64       { e.mu.Lock(); defer e.mu.Unlock(); return e.period }
func (e *Engine) Round() uint32        { e.mu.Lock(); defer e.mu.Unlock(); return e.round }
func (e *Engine) Step() types.VoteType { e.mu.Lock(); defer e.mu.Unlock(); return e.step }

// AdvanceStep moves the round's current step forward: propose -> soft
// -> certify -> next. It is the caller-driven counterpart of
// AdvanceOnTimeout/AdvanceNextVote (which advance the round as a
// whole): the driver loop outside this package calls AdvanceStep once
// it has done whatever a step requires (cast its own vote, if
// eligible) and is ready to move to the next one within the same
// round, per spec.md §4.5's propose/soft/certify/next sequence.
func (e *Engine) AdvanceStep() types.VoteType {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.step {
	case types.VotePropose:
		e.step = types.VoteSoft
	case types.VoteSoft:
		e.step = types.VoteCertify
	default:
		e.step = types.VoteNext
	}
	return e.step
}

// TargetLevelForPeriod is the deterministic function of period the
// propose step uses to pick a target DAG level (spec.md §4.5 step 1).
func TargetLevelForPeriod(period uint64, levelsPerPeriod uint64) uint64 {
	return period * levelsPerPeriod
}

func stepIndex(step types.VoteType) uint32 {
	switch step {
	case types.VotePropose:
		return 1
	case types.VoteSoft:
		return 2
	case types.VoteCertify:
		return 3
	default:
		return 4
	}
}

// Deadline returns the wall-clock deadline for the current round/step,
// per spec.md §4.5: "base + k*Δ_step + r*Δ_round", measured from when
// the current round started.
func (e *Engine) Deadline() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deadlineLocked()
}

func (e *Engine) deadlineLocked() time.Time {
	k := stepIndex(e.step)
	extra := e.params.BaseTimeout +
		time.Duration(k)*e.params.StepDelta +
		time.Duration(e.round)*e.params.RoundDelta
	return e.roundStarted.Add(extra)
}

// Propose builds and self-records this node's propose-vote, if it is
// sortition-eligible to propose this round. Returns (nil, nil) if not
// eligible — there is nothing to broadcast.
func (e *Engine) Propose() (*types.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proof, eligible, err := e.sortition.Evaluate(e.self, e.period, e.round, types.VotePropose)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, nil
	}
	target := TargetLevelForPeriod(e.period, e.params.TargetLevelsPerPeriod)
	candidate, ok := e.anchors.CandidateAt(target)
	if !ok {
		return nil, ErrNoAnchor
	}
	vote, err := e.buildAndSignLocked(types.VotePropose, candidate, proof)
	if err != nil {
		return nil, err
	}
	e.recordLocked(vote)
	return vote, nil
}

// BestProposal returns the propose-vote hash with the highest VRF
// weight recorded so far this round, the target of the mandatory
// soft-vote step (spec.md §4.5 step 2), and whether any propose-vote
// has been seen at all.
func (e *Engine) BestProposal() (types.Hash, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tk := tallyKey{Period: e.period, Round: e.round, Step: types.VotePropose}
	var best types.Hash
	var bestWeight *big.Int
	found := false
	for hash, voters := range e.tallies[tk] {
		for _, v := range voters {
			weight := e.sortition.Weight(v.VRFProof)
			if !found || weight.Cmp(bestWeight) > 0 {
				best, bestWeight, found = hash, weight, true
			}
		}
	}
	return best, found
}

// SoftVote builds and self-records this node's soft-vote, per spec.md
// §4.5 step 2: the carried-over hash if one exists, else the
// best-weight propose-vote seen this round.
func (e *Engine) SoftVote() (*types.Vote, error) {
	e.mu.Lock()
	target, hasCarry := e.zeroLockedCarry()
	if !hasCarry {
		e.mu.Unlock()
		best, ok := e.BestProposal()
		if !ok {
			return nil, ErrNoAnchor
		}
		target = best
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	proof, eligible, err := e.sortition.Evaluate(e.self, e.period, e.round, types.VoteSoft)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, nil
	}
	vote, err := e.buildAndSignLocked(types.VoteSoft, target, proof)
	if err != nil {
		return nil, err
	}
	e.recordLocked(vote)
	return vote, nil
}

func (e *Engine) zeroLockedCarry() (types.Hash, bool) {
	if e.carryNextVote == nil {
		return types.ZeroHash, false
	}
	return *e.carryNextVote, true
}

// CertifyVote builds and self-records this node's certify-vote for
// hash, if this node is eligible and hash already holds a soft-vote
// quorum this round (spec.md §4.5 step 3).
func (e *Engine) CertifyVote(hash types.Hash) (*types.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tk := tallyKey{Period: e.period, Round: e.round, Step: types.VoteSoft}
	if len(e.tallies[tk][hash]) < e.params.Quorum() {
		return nil, nil
	}
	proof, eligible, err := e.sortition.Evaluate(e.self, e.period, e.round, types.VoteCertify)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, nil
	}
	vote, err := e.buildAndSignLocked(types.VoteCertify, hash, proof)
	if err != nil {
		return nil, err
	}
	e.recordLocked(vote)
	return vote, nil
}

func (e *Engine) buildAndSignLocked(step types.VoteType, hash types.Hash, proof []byte) (*types.Vote, error) {
	v := &types.Vote{
		Voter:     e.self,
		Period:    e.period,
		Round:     e.round,
		Step:      step,
		VotedHash: hash,
		VRFProof:  proof,
	}
	sig, err := e.signer.Sign(v.SigningBytes())
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	return v, nil
}

// SubmitVote validates and records a peer's (or this node's own
// already-built) vote. If recording it causes a certify-tally to reach
// quorum for the first time this period, the period is locally
// certified and a CommitResult is returned for the caller to hand to
// the finaliser.
func (e *Engine) SubmitVote(v *types.Vote) (*CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v.Period != e.period {
		return nil, ErrWrongPeriod
	}
	eligible, err := e.sortition.Verify(v.Voter, v.Period, v.Round, v.Step, v.VRFProof)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrIneligible
	}
	signer, err := e.verifier.Recover(v.SigningBytes(), v.Signature)
	if err != nil {
		return nil, err
	}
	if signer != v.Voter {
		return nil, ErrBadSignature
	}

	key := v.KeyOf()
	if prior, seen := e.votesSeen[key]; seen && prior != v.VotedHash {
		e.malicious[v.Voter] = struct{}{}
		// spec.md §4.5: on equivocation "its votes are excluded" — purge
		// the offender's earlier vote at this (period, round, step) so it
		// no longer contributes to any quorum count; only then reject
		// the second vote.
		e.purgeVoterLocked(v.Period, v.Round, v.Step, v.Voter, prior)
		return nil, ErrDoubleVote
	}
	e.votesSeen[key] = v.VotedHash
	e.recordLocked(v)

	if v.Step != types.VoteCertify {
		return nil, nil
	}
	if _, done := e.certified[e.period]; done {
		return nil, nil
	}
	tk := tallyKey{Period: v.Period, Round: v.Round, Step: types.VoteCertify}
	voters := e.tallies[tk][v.VotedHash]
	if len(voters) < e.params.Quorum() {
		return nil, nil
	}

	e.certified[e.period] = struct{}{}
	certVotes := make([]*types.Vote, 0, len(voters))
	for _, cv := range voters {
		certVotes = append(certVotes, cv)
	}
	result := &CommitResult{Period: v.Period, Anchor: v.VotedHash, CertifyVotes: certVotes}
	e.advancePeriodLocked()
	return result, nil
}

// purgeVoterLocked removes voter's already-tallied vote for priorHash at
// (period, round, step), the in-place correction recordLocked's earlier
// write needs once that voter is caught equivocating: without it a
// detected double-voter still contributes one vote toward certify-quorum
// math even though SubmitVote rejects their second vote.
func (e *Engine) purgeVoterLocked(period uint64, round uint32, step types.VoteType, voter types.Address, priorHash types.Hash) {
	tk := tallyKey{Period: period, Round: round, Step: step}
	byHash, ok := e.tallies[tk]
	if !ok {
		return
	}
	voters, ok := byHash[priorHash]
	if !ok {
		return
	}
	delete(voters, voter)
	if len(voters) == 0 {
		delete(byHash, priorHash)
	}
}

func (e *Engine) recordLocked(v *types.Vote) {
	tk := tallyKey{Period: v.Period, Round: v.Round, Step: v.Step}
	byHash, ok := e.tallies[tk]
	if !ok {
		byHash = make(map[types.Hash]map[types.Address]*types.Vote)
		e.tallies[tk] = byHash
	}
	voters, ok := byHash[v.VotedHash]
	if !ok {
		voters = make(map[types.Address]*types.Vote)
		byHash[v.VotedHash] = voters
	}
	voters[v.Voter] = v
}

// Tally returns the number of distinct voters recorded for hash at
// (period, round, step), used by the soft/certify decision points and
// by tests.
func (e *Engine) Tally(period uint64, round uint32, step types.VoteType, hash types.Hash) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tallies[tallyKey{period, round, step}][hash])
}

// IsMalicious reports whether voter has been observed double-voting.
func (e *Engine) IsMalicious(voter types.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.malicious[voter]
	return ok
}

// AdvanceOnTimeout is called by the driver when now has passed the
// current step's deadline without that step's objective being met. It
// casts a null next-vote (spec.md §4.5 Timeouts: "the node next-votes
// for a special null hash") and advances the round.
func (e *Engine) AdvanceOnTimeout(now time.Time) (*types.Vote, error) {
	e.mu.Lock()
	if now.Before(e.deadlineLocked()) {
		e.mu.Unlock()
		return nil, nil
	}
	e.mu.Unlock()

	proof, eligible, err := e.sortition.Evaluate(e.self, e.period, e.round, types.VoteNext)
	e.mu.Lock()
	defer e.mu.Unlock()
	var vote *types.Vote
	if err == nil && eligible {
		vote, err = e.buildAndSignLocked(types.VoteNext, types.ZeroHash, proof)
		if err == nil {
			e.recordLocked(vote)
		}
	}
	e.advanceRoundLocked(now)
	return vote, err
}

// AdvanceNextVote casts this node's next-vote for the just-soft-voted
// hash (or the carried-over hash, if one exists) once the certify step
// at this round has failed to reach quorum, and advances the round
// (spec.md §4.5 step 4 "otherwise").
func (e *Engine) AdvanceNextVote(hash types.Hash, now time.Time) (*types.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := hash
	if e.carryNextVote != nil {
		target = *e.carryNextVote
	}
	proof, eligible, err := e.sortition.Evaluate(e.self, e.period, e.round, types.VoteNext)
	if err != nil {
		return nil, err
	}
	var vote *types.Vote
	if eligible {
		vote, err = e.buildAndSignLocked(types.VoteNext, target, proof)
		if err != nil {
			return nil, err
		}
		e.recordLocked(vote)
	}

	tk := tallyKey{Period: e.period, Round: e.round, Step: types.VoteNext}
	if target != types.ZeroHash && len(e.tallies[tk][target]) >= e.params.Quorum() {
		carried := target
		e.carryNextVote = &carried
	} else {
		e.carryNextVote = nil
	}
	e.advanceRoundLocked(now)
	return vote, nil
}

// CarriedNextVote returns the hash, if any, that must be soft-voted in
// the current round because the previous round's next-votes reached
// quorum on it (spec.md §4.5 "Carry-over").
func (e *Engine) CarriedNextVote() (types.Hash, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zeroLockedCarry()
}

func (e *Engine) advanceRoundLocked(now time.Time) {
	e.round++
	e.step = types.VotePropose
	e.roundStarted = now
}

func (e *Engine) advancePeriodLocked() {
	e.period++
	e.round = 1
	e.step = types.VotePropose
	e.carryNextVote = nil
}
