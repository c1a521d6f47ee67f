// Package txpool implements spec.md §4.2: admission of DAG blocks and
// transactions arriving from peers or RPC, staged through a four-step
// verification pipeline before anything reaches the DAG manager or the
// store.
package txpool

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dagchain/node/internal/replay"
	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

// DagLinker is the seam into internal/dagmgr.Manager: parent lookups
// for the orphan check, and the insert step once all parents are
// known.
type DagLinker interface {
	Get(hash types.Hash) (*types.DagBlock, bool)
	Insert(block *types.DagBlock) error
}

// ReplayChecker is the seam into internal/replay.Service.
type ReplayChecker interface {
	IsStale(sender types.Address, nonce uint64) bool
}

// Pool admits and stages blocks and transactions per spec.md §4.2.
// Single instance per node; submit_transaction/submit_block may be
// called concurrently by multiple peer-read goroutines, guarded by mu.
type Pool struct {
	mu sync.Mutex

	db       store.Database
	dag      DagLinker
	replay   ReplayChecker
	verifier types.Verifier

	blockGasLimit uint64
	verifyWorkers int
	metrics       *metrics

	knownBlocks map[types.Hash]struct{}
	knownTxs    map[types.Hash]struct{}
	orphans     map[types.Hash]*orphanEntry

	onMalicious     func(peer string)
	onOrphanDropped func(hash types.Hash)
	onBlockLinked   func(block *types.DagBlock)
	requestParent   func(peer string, parentHash types.Hash)
}

// Option configures optional Pool callbacks.
type Option func(*Pool)

// OnMalicious registers a hook invoked when a peer sends something
// that warrants the "malicious" bit of spec.md §7 (bad signature,
// malformed frame).
func OnMalicious(fn func(peer string)) Option { return func(p *Pool) { p.onMalicious = fn } }

// OnOrphanDropped registers a hook invoked when an orphan block's
// parent-wait timer expires.
func OnOrphanDropped(fn func(hash types.Hash)) Option {
	return func(p *Pool) { p.onOrphanDropped = fn }
}

// OnBlockLinked registers a hook invoked when a block is successfully
// linked into the DAG manager (parents satisfied, directly or via
// orphan resolution).
func OnBlockLinked(fn func(block *types.DagBlock)) Option {
	return func(p *Pool) { p.onBlockLinked = fn }
}

// RequestParent registers the callback used to ask the originating
// peer for a missing parent (spec.md §4.2: "triggers a targeted
// request for those parents from the originating peer").
func RequestParent(fn func(peer string, parentHash types.Hash)) Option {
	return func(p *Pool) { p.requestParent = fn }
}

// New creates a Pool. verifyWorkers bounds the signature-verification
// worker pool (spec.md §4.2 stage 2); 0 defaults to 1. registerer may
// be nil to skip metrics registration (as in tests).
func New(db store.Database, dag DagLinker, replaySvc ReplayChecker, verifier types.Verifier, blockGasLimit uint64, verifyWorkers int, registerer prometheus.Registerer, opts ...Option) *Pool {
	if verifyWorkers < 1 {
		verifyWorkers = 1
	}
	p := &Pool{
		db:            db,
		dag:           dag,
		replay:        replaySvc,
		verifier:      verifier,
		blockGasLimit: blockGasLimit,
		verifyWorkers: verifyWorkers,
		knownBlocks:   make(map[types.Hash]struct{}),
		knownTxs:      make(map[types.Hash]struct{}),
		orphans:       make(map[types.Hash]*orphanEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics = newMetrics(registerer, p.orphanCount)
	return p
}

func (p *Pool) orphanCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orphans)
}

// Backlog reports the pool's orphan-queue depth, the backpressure
// signal internal/sync.Driver polls before issuing further catch-up
// requests (spec.md §4.7: "the sync driver pauses while the pool's
// backlog exceeds a threshold"). Orphans are the pool's only
// unboundedly-growing queue — admitted blocks and transactions are
// written straight through to the store.
func (p *Pool) Backlog() int {
	return p.orphanCount()
}

// Transaction returns a previously-admitted transaction body by hash,
// the seam internal/finalizer.TransactionSource depends on. Bodies are
// written to the store on admission and retained regardless of
// finalisation (spec.md §4.6's flatten step looks them up by the
// hashes a DAG block references).
func (p *Pool) Transaction(hash types.Hash) (*types.Transaction, bool) {
	raw, ok, err := p.db.Get(store.Transactions, hash[:])
	if err != nil || !ok {
		return nil, false
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return nil, false
	}
	return tx, true
}

// IsKnown reports whether hash has been seen as a block or transaction,
// in the pool or already finalised, without a DB hit for the common
// (still-in-pool) case (spec.md §4.2).
func (p *Pool) IsKnown(hash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.knownBlocks[hash]; ok {
		return true
	}
	if _, ok := p.knownTxs[hash]; ok {
		return true
	}
	if _, ok := p.dag.Get(hash); ok {
		return true
	}
	return false
}

// SubmitBlock runs spec.md §4.2's block admission pipeline: duplicate
// check, signature recovery, parent-availability check, and either an
// immediate DAG-manager insert or orphan registration.
func (p *Pool) SubmitBlock(peer string, block *types.DagBlock) error {
	hash := block.Hash()

	p.mu.Lock()
	if _, dup := p.knownBlocks[hash]; dup {
		p.mu.Unlock()
		return ErrDuplicateBlock
	}
	if _, dup := p.dag.Get(hash); dup {
		p.mu.Unlock()
		return ErrDuplicateBlock
	}
	p.mu.Unlock()

	if _, err := block.RecoverSender(p.verifier); err != nil {
		if p.onMalicious != nil {
			p.onMalicious(peer)
		}
		return ErrBadSignature
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	missing := make(map[types.Hash]struct{})
	for _, parent := range block.Parents() {
		if _, ok := p.dag.Get(parent); !ok {
			missing[parent] = struct{}{}
		}
	}

	if len(missing) == 0 {
		if err := p.dag.Insert(block); err != nil {
			return err
		}
		p.persistBlock(block)
		p.knownBlocks[hash] = struct{}{}
		p.metrics.blocksAdmitted.Inc()
		if p.onBlockLinked != nil {
			p.onBlockLinked(block)
		}
		return nil
	}

	p.orphans[hash] = &orphanEntry{
		block:    block,
		missing:  missing,
		deadline: time.Now().Add(orphanTimeout),
		peer:     peer,
	}
	p.knownBlocks[hash] = struct{}{}
	if p.requestParent != nil {
		for parent := range missing {
			p.requestParent(peer, parent)
		}
	}
	return nil
}

// persistBlock writes a just-linked block's body into the durable
// store, indexed by both hash and (level, hash), so a restart can
// rebuild the non-finalised DAG frontier by iterating
// store.DagBlocksByLevel in level order and replaying Insert — the
// spec.md §8 scenario-5 crash-recovery guarantee extended from
// finalised periods (already durable via PeriodData) to the
// not-yet-finalised blocks dagmgr.Manager otherwise holds only
// in-memory.
func (p *Pool) persistBlock(block *types.DagBlock) {
	hash := block.Hash()
	batch := p.db.NewBatch()
	batch.Put(store.DagBlocksByHash, hash[:], block.EncodeRLP())
	batch.Put(store.DagBlocksByLevel, store.LevelHashKey(block.Level, hash[:]), nil)
	_ = batch.Commit()
}

// ResolveParent is called when a previously-missing parent becomes
// available (admitted directly or itself resolved from orphan status).
// It re-checks every orphan waiting on parentHash and links any whose
// parents are now all satisfied.
func (p *Pool) ResolveParent(parentHash types.Hash) {
	p.mu.Lock()
	var ready []types.Hash
	for hash, entry := range p.orphans {
		delete(entry.missing, parentHash)
		if len(entry.missing) == 0 {
			ready = append(ready, hash)
		}
	}
	var linked []*types.DagBlock
	for _, hash := range ready {
		entry := p.orphans[hash]
		delete(p.orphans, hash)
		if err := p.dag.Insert(entry.block); err == nil {
			linked = append(linked, entry.block)
		}
	}
	p.mu.Unlock()

	for _, block := range linked {
		p.persistBlock(block)
		p.metrics.blocksAdmitted.Inc()
		if p.onBlockLinked != nil {
			p.onBlockLinked(block)
		}
	}
}

// SubmitTransaction runs spec.md §4.2's transaction admission pipeline:
// duplicate check, signature recovery, gas-limit check, and the
// replay-protection watermark check, persisting on acceptance.
func (p *Pool) SubmitTransaction(tx *types.Transaction) error {
	hash := tx.Hash()

	p.mu.Lock()
	if _, dup := p.knownTxs[hash]; dup {
		p.mu.Unlock()
		return ErrDuplicateTransaction
	}
	p.mu.Unlock()

	if _, ok, err := p.db.Get(store.Transactions, hash[:]); err == nil && ok {
		return ErrDuplicateTransaction
	}

	sender, err := tx.RecoverSender(p.verifier)
	if err != nil {
		return ErrBadSignature
	}

	if tx.GasLimit > p.blockGasLimit {
		return ErrGasLimitExceeded
	}

	if p.replay != nil && p.replay.IsStale(sender, tx.Nonce) {
		return ErrStaleNonce
	}

	batch := p.db.NewBatch()
	batch.Put(store.Transactions, hash[:], tx.EncodeRLP())
	if err := batch.Commit(); err != nil {
		return err
	}

	p.mu.Lock()
	p.knownTxs[hash] = struct{}{}
	p.mu.Unlock()
	p.metrics.txsAdmitted.Inc()
	return nil
}

// SubmitTransactionBatch verifies a batch of transactions concurrently
// (spec.md §4.2 stage 2) before running each through SubmitTransaction
// sequentially for the remaining stages, which must stay ordered for
// deterministic per-sender nonce bookkeeping.
func (p *Pool) SubmitTransactionBatch(txs []*types.Transaction) []error {
	results := verifyTransactionsParallel(p.verifier, txs, p.verifyWorkers)
	errs := make([]error, len(txs))
	for i, r := range results {
		if r.err != nil {
			errs[i] = ErrBadSignature
			continue
		}
		errs[i] = p.SubmitTransaction(txs[i])
	}
	return errs
}
