// Package sync implements spec.md §4.7: catch-up from the peer with
// the highest advertised (period, DAG level), as two independent
// loops driven by a cooperative Step call rather than an internal
// goroutine per loop — the same cooperative-timeout style the PBFT
// engine (internal/pbft) uses for its own round/step advancement,
// generalised here to peer rotation and stall detection.
package sync

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dagchain/node/internal/types"
)

// PeerStatus is a peer's last-advertised progress (spec.md §6 Status
// packet: "DAG max level, PBFT chain size").
type PeerStatus struct {
	DagMaxLevel uint64
	PbftPeriod  uint64
}

// BlockRequester issues the DAG-sync request of spec.md §4.7: blocks
// in levels [fromLevel, fromLevel+count).
type BlockRequester interface {
	RequestBlocksLevel(peer string, fromLevel, count uint64)
}

// PeriodRequester issues the PBFT-sync request of spec.md §4.7:
// periods [fromPeriod, fromPeriod+window).
type PeriodRequester interface {
	RequestPeriods(peer string, fromPeriod, window uint64)
}

// Backlog reports the pool's non-finalised backlog size, the
// backpressure signal of spec.md §4.7.
type Backlog interface {
	Backlog() int
}

// Driver coordinates the DAG-sync and PBFT-sync loops against a table
// of peer statuses. It issues no network I/O itself — BlockRequester
// and PeriodRequester are the seam into internal/netcap.
type Driver struct {
	peers     map[string]PeerStatus
	malicious *maliciousSet

	blockReq  BlockRequester
	periodReq PeriodRequester
	backlog   Backlog

	levelsPerBatch   uint64
	periodsPerWindow uint64
	stallTimeout     time.Duration
	backlogThreshold int

	dagPeer         string
	dagProgressAt   time.Time
	dagProgressLvl  uint64
	pbftPeer        string
	pbftProgressAt  time.Time
	pbftProgressPer uint64
}

// Config bounds the driver's batching and timeout behaviour.
type Config struct {
	LevelsPerBatch   uint64        // K
	PeriodsPerWindow uint64        // W
	StallTimeout     time.Duration // T
	BacklogThreshold int
	MaliciousTTL     time.Duration
}

// New creates a Driver.
func New(cfg Config, blockReq BlockRequester, periodReq PeriodRequester, backlog Backlog) *Driver {
	return &Driver{
		peers:            make(map[string]PeerStatus),
		malicious:        newMaliciousSet(cfg.MaliciousTTL),
		blockReq:         blockReq,
		periodReq:        periodReq,
		backlog:          backlog,
		levelsPerBatch:   cfg.LevelsPerBatch,
		periodsPerWindow: cfg.PeriodsPerWindow,
		stallTimeout:     cfg.StallTimeout,
		backlogThreshold: cfg.BacklogThreshold,
	}
}

// UpdatePeerStatus records a peer's latest advertised progress.
func (d *Driver) UpdatePeerStatus(peer string, status PeerStatus) {
	d.peers[peer] = status
}

// RemovePeer drops a disconnected peer from consideration.
func (d *Driver) RemovePeer(peer string) {
	delete(d.peers, peer)
	if d.dagPeer == peer {
		d.dagPeer = ""
	}
	if d.pbftPeer == peer {
		d.pbftPeer = ""
	}
}

// MarkMalicious benches peer for the driver's malicious TTL (spec.md
// §4.7: "malformed or non-verifying response").
func (d *Driver) MarkMalicious(peer string) {
	d.malicious.Mark(peer)
}

// IsMalicious reports whether peer is currently benched.
func (d *Driver) IsMalicious(peer string) bool {
	return d.malicious.IsMalicious(peer)
}

// bestPeer returns the peer with the highest value of metric, skipping
// malicious peers and excluding exclude.
func (d *Driver) bestPeer(exclude string, metric func(PeerStatus) uint64) (string, bool) {
	var best string
	var bestVal uint64
	found := false
	for peer, status := range d.peers {
		if peer == exclude || d.malicious.IsMalicious(peer) {
			continue
		}
		v := metric(status)
		if !found || v > bestVal {
			best, bestVal, found = peer, v, true
		}
	}
	return best, found
}

// DagSyncStep drives one iteration of the DAG-sync loop: backpressure,
// stall-rotation, and a request for the next batch of levels.
func (d *Driver) DagSyncStep(now time.Time, localMaxLevel uint64) {
	if d.backlog != nil && d.backlog.Backlog() > d.backlogThreshold {
		return
	}

	var stalled string
	if d.dagProgressAt.IsZero() || localMaxLevel > d.dagProgressLvl {
		d.dagProgressLvl = localMaxLevel
		d.dagProgressAt = now
	} else if d.dagPeer != "" && now.Sub(d.dagProgressAt) > d.stallTimeout {
		stalled = d.dagPeer
		d.dagPeer = ""
		d.dagProgressAt = now
	}

	peer, ok := d.bestPeer(stalled, func(s PeerStatus) uint64 { return s.DagMaxLevel })
	if !ok {
		return
	}
	d.dagPeer = peer
	d.blockReq.RequestBlocksLevel(peer, localMaxLevel+1, d.levelsPerBatch)
}

// PbftSyncStep drives one iteration of the PBFT-sync loop, mirroring
// DagSyncStep's backpressure/stall/request shape over periods instead
// of levels.
func (d *Driver) PbftSyncStep(now time.Time, localLastPeriod uint64) {
	if d.backlog != nil && d.backlog.Backlog() > d.backlogThreshold {
		return
	}

	var stalled string
	if d.pbftProgressAt.IsZero() || localLastPeriod > d.pbftProgressPer {
		d.pbftProgressPer = localLastPeriod
		d.pbftProgressAt = now
	} else if d.pbftPeer != "" && now.Sub(d.pbftProgressAt) > d.stallTimeout {
		stalled = d.pbftPeer
		d.pbftPeer = ""
		d.pbftProgressAt = now
	}

	peer, ok := d.bestPeer(stalled, func(s PeerStatus) uint64 { return s.PbftPeriod })
	if !ok {
		return
	}
	d.pbftPeer = peer
	d.periodReq.RequestPeriods(peer, localLastPeriod+1, d.periodsPerWindow)
}

// AnchorSource answers whether a DAG block hash is known locally,
// the "DAG sync must outrun PBFT sync" precondition of spec.md §4.7.
type AnchorSource interface {
	Get(hash types.Hash) (*types.DagBlock, bool)
}

// PeriodResponse is one peer's answer to a PBFT-sync request: the
// finalised period's anchor and its certifying vote set (spec.md
// §4.7: "must include the PBFT block and its ≥ 2f+1 certify-votes").
type PeriodResponse struct {
	Period       uint64
	Anchor       types.Hash
	CertifyVotes []*types.Vote
}

var (
	// ErrUnknownAnchor is returned when the response's anchor has not
	// yet arrived via DAG sync.
	ErrUnknownAnchor = errors.New("sync: pbft response anchor not yet known locally")
	// ErrQuorumNotMet is returned when fewer than 2f+1 distinct valid
	// certify-votes are present.
	ErrQuorumNotMet = errors.New("sync: pbft response below quorum")
	// ErrVoteMismatch is returned when a vote's period/step/hash does
	// not match the response it was bundled with.
	ErrVoteMismatch = errors.New("sync: vote does not match response")
)

// ValidatePeriodResponse runs spec.md §4.7's PBFT-sync validation:
// anchor known locally, every cert-vote's signature recovers to its
// claimed voter, and the distinct-voter count reaches quorum. It does
// not itself invoke the finaliser — the caller does that once
// validation succeeds, keeping this package free of a finaliser
// dependency.
func ValidatePeriodResponse(resp PeriodResponse, dag AnchorSource, verifier types.Verifier, quorum int) error {
	if _, ok := dag.Get(resp.Anchor); !ok {
		return ErrUnknownAnchor
	}

	seen := make(map[types.Address]struct{})
	for _, v := range resp.CertifyVotes {
		if v.Period != resp.Period || v.Step != types.VoteCertify || v.VotedHash != resp.Anchor {
			return ErrVoteMismatch
		}
		addr, err := verifier.Recover(v.SigningBytes(), v.Signature)
		if err != nil || addr != v.Voter {
			return ErrVoteMismatch
		}
		seen[v.Voter] = struct{}{}
	}
	if len(seen) < quorum {
		return ErrQuorumNotMet
	}
	return nil
}
