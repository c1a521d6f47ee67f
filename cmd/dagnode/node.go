package main

import (
	"context"
	"math/big"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dagchain/node/internal/config"
	"github.com/dagchain/node/internal/crypto"
	"github.com/dagchain/node/internal/dagmgr"
	"github.com/dagchain/node/internal/executor/simple"
	"github.com/dagchain/node/internal/finalizer"
	"github.com/dagchain/node/internal/pbft"
	"github.com/dagchain/node/internal/query"
	"github.com/dagchain/node/internal/replay"
	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/sync"
	"github.com/dagchain/node/internal/txpool"
	"github.com/dagchain/node/internal/types"
)

// Config bounds one dagnode process's wiring, the flag surface runCmd
// exposes.
type Config struct {
	DataDir        string
	ListenAddr     string
	BootstrapPeers []string
	Network        string
	Key            *crypto.Key
	ConsensusTick  time.Duration
}

// Node owns every long-lived component of the wired pipeline of
// spec.md §2's component table, plus the TCP peer registry that drives
// internal/netcap against them.
type Node struct {
	cfg Config
	log log.Logger

	db        store.Database
	dag       *dagmgr.Manager
	replaySvc *replay.Service
	exec      *simple.Executor
	pool      *txpool.Pool
	engine    *pbft.Engine
	final     *finalizer.Finalizer
	facade    *query.Facade
	syncDrv   *sync.Driver

	weights     *pbft.StaticStakeWeights
	verifier    crypto.Recoverer
	genesis     config.Genesis
	genesisHash types.Hash

	periodsPerWindow uint64

	peers *peerRegistry
}

// New constructs a Node from cfg but does not yet listen or dial.
func New(cfg Config) (*Node, error) {
	root := log.NewLogger("dagnode")

	genesis, err := genesisFor(cfg.Network)
	if err != nil {
		return nil, err
	}
	params := genesis.Parameters
	if err := params.Validate(); err != nil {
		return nil, err
	}

	db, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	genesisHash := config.GenesisDagBlock().Hash()
	dag, err := dagmgr.Rebuild(db, genesisHash)
	if err != nil {
		return nil, err
	}

	replaySvc := replay.New(params.ReplayWindow)
	if err := replaySvc.Load(db); err != nil {
		return nil, err
	}

	exec := simple.New(genesis.GenesisAccounts)
	verifier := crypto.Recoverer{}

	weights := pbft.NewStaticStakeWeights(map[types.Address]uint64{
		cfg.Key.Address(): 1,
	})
	sortition := &pbft.HashSortition{Weights: weights, Target: params.CommitteeSize}

	peers := newPeerRegistry(root)

	var pool *txpool.Pool
	pool = txpool.New(db, dag, replaySvc, verifier, params.BlockGasLimit, 4, prometheus.DefaultRegisterer,
		txpool.OnMalicious(func(peer string) {
			root.Warn("peer sent unverifiable data", "peer", peer)
			peers.markMalicious(peer)
		}),
		txpool.OnOrphanDropped(func(hash types.Hash) {
			root.Debug("orphan block dropped", "hash", hash.String())
		}),
		txpool.OnBlockLinked(func(block *types.DagBlock) {
			peers.broadcastNewBlock(block)
			pool.ResolveParent(block.Hash())
		}),
		txpool.RequestParent(func(peer string, parentHash types.Hash) {
			peers.requestBlock(peer, parentHash)
		}),
	)

	rewards := finalizer.NewRewardsStats(params.RewardsDistributionInterval, big.NewInt(1))
	fin := finalizer.New(db, dag, dag, pool, replaySvc, exec, verifier, rewards, genesisHash, root)

	// spec.md §4.1 crash-recovery convergence: replay every already-
	// finalised period's period_data through the (non-durable) executor
	// before anything else touches it, so in-memory state matches what
	// the last successful Finalize run produced.
	if err := finalizer.Recover(db, pool, fin); err != nil {
		return nil, errors.Wrap(err, "dagnode: crash-recovery replay")
	}

	facade := query.New(db, exec, weights, 256)

	startPeriod := uint64(1)
	if latest, err := facade.LatestPeriod(); err == nil {
		startPeriod = latest + 1
	}
	engine := pbft.New(params, cfg.Key.Address(), cfg.Key, verifier, sortition, dag, startPeriod, time.Now())

	syncCfg := sync.Config{
		LevelsPerBatch:   params.TargetLevelsPerPeriod,
		PeriodsPerWindow: 8,
		StallTimeout:     5 * time.Second,
		BacklogThreshold: 256,
		MaliciousTTL:     10 * time.Minute,
	}
	syncDrv := sync.New(syncCfg, peers, peers, pool)

	n := &Node{
		cfg:              cfg,
		log:              root,
		db:               db,
		dag:              dag,
		replaySvc:        replaySvc,
		exec:             exec,
		pool:             pool,
		engine:           engine,
		final:            fin,
		facade:           facade,
		syncDrv:          syncDrv,
		weights:          weights,
		verifier:         verifier,
		genesis:          genesis,
		genesisHash:      genesisHash,
		periodsPerWindow: syncCfg.PeriodsPerWindow,
		peers:            peers,
	}
	peers.node = n
	return n, nil
}

func openStore(dataDir string) (store.Database, error) {
	if dataDir == "" {
		return store.OpenMem()
	}
	return store.Open(dataDir)
}

// Run starts the peer listener, dials any bootstrap peers, and drives
// the PBFT round/step loop until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()
	n.log.Info("listening", "addr", n.cfg.ListenAddr, "address", n.cfg.Key.Address().String())

	go n.acceptLoop(ctx, ln)
	for _, addr := range n.cfg.BootstrapPeers {
		go n.dial(ctx, addr)
	}

	ticker := time.NewTicker(n.cfg.ConsensusTick)
	defer ticker.Stop()
	reapTicker := time.NewTicker(time.Second)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return n.db.Close()
		case now := <-ticker.C:
			n.stepConsensus(now)
		case now := <-reapTicker.C:
			n.pool.ReapOrphans(now)
			n.syncDrv.DagSyncStep(now, n.dag.MaxLevel())
			if latest, err := n.facade.LatestPeriod(); err == nil {
				n.syncDrv.PbftSyncStep(now, latest)
			}
		}
	}
}

// stepConsensus advances the PBFT engine by one driver tick, per
// spec.md §4.5: cast this node's vote for the current step if
// sortition-eligible, feed it back through SubmitVote to register the
// commit-detection path, broadcast it, and move to the next step or
// timeout as the deadline dictates.
func (n *Node) stepConsensus(now time.Time) {
	switch n.engine.Step() {
	case types.VotePropose:
		n.castAndAdvance(n.engine.Propose())
		if now.After(n.engine.Deadline()) {
			n.engine.AdvanceStep()
		}
	case types.VoteSoft:
		n.castAndAdvance(n.engine.SoftVote())
		if now.After(n.engine.Deadline()) {
			n.engine.AdvanceStep()
		}
	case types.VoteCertify:
		if hash, ok := n.engine.BestProposal(); ok {
			n.castAndAdvance(n.engine.CertifyVote(hash))
		}
		if now.After(n.engine.Deadline()) {
			best, _ := n.engine.BestProposal()
			vote, err := n.engine.AdvanceNextVote(best, now)
			n.afterOwnVote(vote, err)
		}
	default:
		vote, err := n.engine.AdvanceOnTimeout(now)
		n.afterOwnVote(vote, err)
	}
}

func (n *Node) castAndAdvance(vote *types.Vote, err error) {
	n.afterOwnVote(vote, err)
}

// afterOwnVote feeds a self-generated vote back through SubmitVote (the
// only path that runs commit detection) and broadcasts it to peers.
func (n *Node) afterOwnVote(vote *types.Vote, err error) {
	if err != nil {
		n.log.Error("pbft step failed", "err", err)
		return
	}
	if vote == nil {
		return
	}
	result, err := n.engine.SubmitVote(vote)
	if err != nil {
		n.log.Error("self vote rejected", "err", err)
		return
	}
	n.peers.broadcastVote(vote)
	if result != nil {
		n.onCertified(result)
	}
}

// onCertified runs spec.md §4.6 once a period reaches local certify
// quorum: finalise, then broadcast the new header to peers.
func (n *Node) onCertified(result *pbft.CommitResult) {
	author := n.cfg.Key.Address()
	if block, ok := n.dag.Get(result.Anchor); ok {
		if recovered, err := block.RecoverSender(n.verifier); err == nil {
			author = recovered
		}
	}
	header, err := n.final.Finalize(context.Background(), result.Period, result.Anchor, author, time.Now().Unix(), n.genesis.Parameters.BlockGasLimit, result.CertifyVotes)
	if err != nil {
		n.log.Error("finalize failed", "period", result.Period, "err", err)
		return
	}
	n.log.Info("period finalised", "period", result.Period, "anchor", result.Anchor.String(), "txroot", header.TxRoot.String())
	n.peers.broadcastFinalHeader(header)
}
