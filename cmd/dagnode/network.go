package main

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/dagchain/node/internal/finalizer"
	"github.com/dagchain/node/internal/netcap"
	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/sync"
	"github.com/dagchain/node/internal/types"
)

const capabilityName = "dag/1"

// peerConn is one connected peer: its transport, a dedicated
// reassembler (spec.md §6 assumes one concurrent transfer per
// (capability, packet type) pair between two peers), and the address
// used to key it in peerRegistry.
type peerConn struct {
	addr      string
	transport *netcap.TCPTransport
	reasm     *netcap.Reassembler

	sendMu sync.Mutex
}

func (c *peerConn) send(f netcap.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transport.Send(f)
}

// peerRegistry is the Node's peer table: it satisfies
// internal/sync.BlockRequester and internal/sync.PeriodRequester by
// turning those calls into outbound netcap packets, and offers the
// broadcast helpers the consensus driver and pool hooks use.
type peerRegistry struct {
	log log.Logger
	node *Node

	mu        sync.Mutex
	peers     map[string]*peerConn
	malicious map[string]time.Time
}

func newPeerRegistry(logger log.Logger) *peerRegistry {
	return &peerRegistry{
		log:       logger,
		peers:     make(map[string]*peerConn),
		malicious: make(map[string]time.Time),
	}
}

func (r *peerRegistry) add(c *peerConn) {
	r.mu.Lock()
	r.peers[c.addr] = c
	r.mu.Unlock()
}

func (r *peerRegistry) remove(addr string) {
	r.mu.Lock()
	delete(r.peers, addr)
	r.mu.Unlock()
}

func (r *peerRegistry) markMalicious(addr string) {
	r.mu.Lock()
	r.malicious[addr] = time.Now()
	conn := r.peers[addr]
	delete(r.peers, addr)
	r.mu.Unlock()
	if conn != nil {
		conn.transport.Close()
	}
	if r.node != nil {
		r.node.syncDrv.MarkMalicious(addr)
	}
}

func (r *peerRegistry) snapshot() []*peerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peerConn, 0, len(r.peers))
	for _, c := range r.peers {
		out = append(out, c)
	}
	return out
}

func (r *peerRegistry) get(addr string) (*peerConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.peers[addr]
	return c, ok
}

// RequestBlocksLevel implements internal/sync.BlockRequester.
func (r *peerRegistry) RequestBlocksLevel(peer string, fromLevel, count uint64) {
	r.sendPacket(peer, &netcap.GetBlocksLevelPayload{FromLevel: fromLevel, Count: count})
}

// RequestPeriods implements internal/sync.PeriodRequester.
func (r *peerRegistry) RequestPeriods(peer string, fromPeriod, window uint64) {
	r.sendPacket(peer, &netcap.GetPbftBlockPayload{FromPeriod: fromPeriod, Count: window})
}

// requestBlock asks peer for a single missing DAG parent (the pool's
// RequestParent hook).
func (r *peerRegistry) requestBlock(peer string, hash types.Hash) {
	r.sendPacket(peer, &netcap.GetDagBlockPayload{Hash: hash})
}

func (r *peerRegistry) broadcastNewBlock(block *types.DagBlock) {
	r.broadcast(&netcap.NewDagBlockPayload{Block: block})
}

func (r *peerRegistry) broadcastVote(vote *types.Vote) {
	r.broadcast(&netcap.PbftVotePayload{Votes: []*types.Vote{vote}})
}

func (r *peerRegistry) broadcastFinalHeader(header *types.FinalHeader) {
	r.broadcast(&netcap.NewPbftBlockPayload{Header: header})
}

func (r *peerRegistry) broadcast(p netcap.Packet) {
	for _, c := range r.snapshot() {
		if err := c.send(netcap.Frame{Capability: capabilityName, Type: p.PacketType(), Final: true, Body: p.EncodeRLP()}); err != nil {
			r.log.Warn("broadcast failed", "peer", c.addr, "err", err)
		}
	}
}

func (r *peerRegistry) sendPacket(peer string, p netcap.Packet) {
	c, ok := r.get(peer)
	if !ok {
		return
	}
	if err := c.send(netcap.Frame{Capability: capabilityName, Type: p.PacketType(), Final: true, Body: p.EncodeRLP()}); err != nil {
		r.log.Warn("send failed", "peer", peer, "err", err)
	}
}

// acceptLoop accepts inbound peer connections until ctx is cancelled.
func (n *Node) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.log.Warn("accept failed", "err", err)
			continue
		}
		go n.handleConn(ctx, conn)
	}
}

// dial connects to a bootstrap peer and, on success, serves it like any
// accepted connection.
func (n *Node) dial(ctx context.Context, addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		n.log.Warn("dial failed", "addr", addr, "err", err)
		return
	}
	n.handleConn(ctx, conn)
}

// handleConn registers the peer, sends a Status handshake, then reads
// frames until the connection closes or ctx is cancelled.
func (n *Node) handleConn(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	pc := &peerConn{addr: addr, transport: netcap.NewTCPTransport(conn), reasm: netcap.NewReassembler()}
	n.peers.add(pc)
	defer func() {
		n.peers.remove(addr)
		n.syncDrv.RemovePeer(addr)
		conn.Close()
	}()

	status := &netcap.StatusPayload{
		ProtocolVersion: 1,
		NetworkID:       n.genesis.ChainID,
		GenesisHash:     n.genesisHash,
		DagMaxLevel:     n.dag.MaxLevel(),
	}
	if period, err := n.facade.LatestPeriod(); err == nil {
		status.PbftChainSize = period
	}
	if err := pc.send(netcap.Frame{Capability: capabilityName, Type: status.PacketType(), Final: true, Body: status.EncodeRLP()}); err != nil {
		n.log.Warn("status handshake failed", "peer", addr, "err", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := pc.transport.Recv()
		if err != nil {
			n.log.Debug("peer connection closed", "peer", addr, "err", err)
			return
		}
		body, complete, err := pc.reasm.Accept(frame)
		if err != nil {
			n.log.Warn("frame reassembly failed", "peer", addr, "err", err)
			n.peers.markMalicious(addr)
			return
		}
		if !complete {
			continue
		}
		packet, err := netcap.DecodePacket(frame.Type, body)
		if err != nil {
			n.log.Warn("packet decode failed", "peer", addr, "err", err)
			n.peers.markMalicious(addr)
			return
		}
		n.dispatch(addr, packet)
	}
}

// dispatch handles one fully-decoded inbound packet (spec.md §6's
// per-type receive behaviour).
func (n *Node) dispatch(peer string, packet netcap.Packet) {
	switch p := packet.(type) {
	case *netcap.StatusPayload:
		n.syncDrv.UpdatePeerStatus(peer, sync.PeerStatus{DagMaxLevel: p.DagMaxLevel, PbftPeriod: p.PbftChainSize})

	case *netcap.NewDagBlockPayload:
		for _, tx := range p.Transactions {
			_ = n.pool.SubmitTransaction(tx)
		}
		_ = n.pool.SubmitBlock(peer, p.Block)

	case *netcap.GetDagBlockPayload:
		if block, ok := n.dag.Get(p.Hash); ok {
			n.peers.sendPacket(peer, &netcap.DagBlockPayload{Block: block, Transactions: n.blockTransactions(block)})
		}

	case *netcap.DagBlockPayload:
		for _, tx := range p.Transactions {
			_ = n.pool.SubmitTransaction(tx)
		}
		_ = n.pool.SubmitBlock(peer, p.Block)

	case *netcap.GetBlocksLevelPayload:
		n.peers.sendPacket(peer, n.blocksAtLevels(p.FromLevel, p.Count))

	case *netcap.BlocksPayload:
		for _, bwt := range p.Blocks {
			for _, tx := range bwt.Transactions {
				_ = n.pool.SubmitTransaction(tx)
			}
			_ = n.pool.SubmitBlock(peer, bwt.Block)
		}

	case *netcap.PbftVotePayload:
		n.submitVotes(p.Votes)

	case *netcap.GetNextVotesPayload:
		// Carried next-votes are not retained beyond the current round
		// (spec.md §4.5); nothing durable to answer with once the round
		// has advanced past p.Round.

	case *netcap.NextVotesPayload:
		n.submitVotes(p.Votes)

	case *netcap.GetPbftBlockPayload:
		n.answerPeriodRequest(peer, p.FromPeriod, p.Count)

	case *netcap.PbftBlockPayload:
		n.applyPeriodResponse(peer, p)

	case *netcap.NewPbftBlockPayload:
		n.onHeaderGossip(peer, p.Header)

	case *netcap.TransactionPayload:
		for _, tx := range p.Transactions {
			_ = n.pool.SubmitTransaction(tx)
		}

	case *netcap.SyncedPayload:
		// The peer has answered as much of our PBFT-sync request as its
		// own tip allows; cap its advertised period at ours so the sync
		// driver's stall-rotation does not keep re-requesting periods it
		// cannot supply.
		if latest, err := n.facade.LatestPeriod(); err == nil {
			n.syncDrv.UpdatePeerStatus(peer, sync.PeerStatus{DagMaxLevel: n.dag.MaxLevel(), PbftPeriod: latest})
		}

	case *netcap.DagBlockHashPayload:
		if _, ok := n.dag.Get(p.Hash); !ok {
			n.peers.requestBlock(peer, p.Hash)
		}
	}
}

// submitVotes feeds a batch of peer votes through the PBFT engine,
// finalising any period they carry to local certify quorum. Used for
// both PbftVotePayload and NextVotesPayload (spec.md §4.5 carry-over):
// a next-vote is recorded the same way regardless of which packet
// carried it to this node.
func (n *Node) submitVotes(votes []*types.Vote) {
	for _, vote := range votes {
		if result, err := n.engine.SubmitVote(vote); err == nil && result != nil {
			n.onCertified(result)
		}
	}
}

// answerPeriodRequest implements the server side of GetPbftBlock
// (spec.md §6, §4.7): "each response must include the PBFT block and
// its ≥2f+1 certify-votes", read back from the period_data and
// VotesVerified records internal/finalizer.commitBatch wrote. Periods
// not yet locally finalised stop the scan; whatever was collected so
// far is still sent rather than dropped.
func (n *Node) answerPeriodRequest(peer string, fromPeriod, count uint64) {
	var periods []netcap.PeriodWithVotes
	for period := fromPeriod; period < fromPeriod+count; period++ {
		raw, ok, err := n.db.Get(store.PeriodData, store.Uint64Key(period))
		if err != nil || !ok {
			break
		}
		header, _, err := finalizer.DecodePeriodData(raw)
		if err != nil {
			n.log.Warn("period_data decode failed", "period", period, "err", err)
			break
		}
		votes, err := finalizer.CertifyVotesForPeriod(n.db, period)
		if err != nil {
			n.log.Warn("certify votes decode failed", "period", period, "err", err)
			break
		}
		periods = append(periods, netcap.PeriodWithVotes{Header: header, Votes: votes})
	}
	if len(periods) == 0 {
		return
	}
	n.peers.sendPacket(peer, &netcap.PbftBlockPayload{Periods: periods})
}

// applyPeriodResponse implements the client side of GetPbftBlock
// (spec.md §4.7 PbftSyncStep): validate each not-yet-locally-finalised
// period's anchor and certify-vote quorum, then finalise it in period
// order. A validation failure stops processing the rest of the batch
// (periods must finalise strictly in order, spec.md §5) and benches the
// peer as malicious.
func (n *Node) applyPeriodResponse(peer string, p *netcap.PbftBlockPayload) {
	latest, err := n.facade.LatestPeriod()
	if err != nil {
		latest = 0
	}
	quorum := n.genesis.Parameters.Quorum()
	for _, pv := range p.Periods {
		if pv.Header.Period <= latest {
			continue
		}
		resp := sync.PeriodResponse{Period: pv.Header.Period, Anchor: pv.Header.PeriodHash, CertifyVotes: pv.Votes}
		if err := sync.ValidatePeriodResponse(resp, n.dag, n.verifier, quorum); err != nil {
			n.log.Warn("pbft sync response failed validation", "peer", peer, "period", pv.Header.Period, "err", err)
			n.peers.markMalicious(peer)
			return
		}
		header, err := n.final.Finalize(context.Background(), pv.Header.Period, pv.Header.PeriodHash, pv.Header.Author, pv.Header.Timestamp, pv.Header.GasLimit, pv.Votes)
		if err != nil {
			n.log.Error("pbft sync finalize failed", "period", pv.Header.Period, "err", err)
			return
		}
		n.log.Info("period finalised via sync", "period", header.Period, "anchor", resp.Anchor.String())
		latest = header.Period
	}
}

// onHeaderGossip implements the client side of NewPbftBlock (spec.md
// §6): a lone header carries no certify-votes to verify, so it cannot
// be finalised directly — it only tells this node a peer has moved
// past its local tip, which it uses to pull the real (header,
// certify-votes) pair immediately rather than waiting for the next
// PbftSyncStep tick.
func (n *Node) onHeaderGossip(peer string, header *types.FinalHeader) {
	latest, err := n.facade.LatestPeriod()
	if err != nil {
		latest = 0
	}
	if header.Period > latest {
		n.peers.RequestPeriods(peer, latest+1, n.periodsPerWindow)
	}
}

func (n *Node) blockTransactions(block *types.DagBlock) []*types.Transaction {
	out := make([]*types.Transaction, 0, len(block.Transactions))
	for _, hash := range block.Transactions {
		if tx, ok := n.pool.Transaction(hash); ok {
			out = append(out, tx)
		}
	}
	return out
}

func (n *Node) blocksAtLevels(fromLevel, count uint64) *netcap.BlocksPayload {
	blocks := n.dag.BlocksInLevelRange(fromLevel, count)
	out := make([]netcap.BlockWithTransactions, len(blocks))
	for i, block := range blocks {
		out[i] = netcap.BlockWithTransactions{Block: block, Transactions: n.blockTransactions(block)}
	}
	return &netcap.BlocksPayload{Blocks: out}
}
