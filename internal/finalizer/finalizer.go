// Package finalizer implements spec.md §4.6: turning a PBFT-certified
// DAG anchor into one finalised period — flattening the DAG slice into
// a transaction sequence, invoking the external state executor,
// constructing the final header, and committing everything in one
// atomic store batch.
//
// The lifecycle mirrors the teacher's block.Block Accept/Reject/Verify
// contract (block/block.go) collapsed into a single Finalize call,
// since this repository's finaliser — unlike the teacher's consensus
// engine — commits exactly once per period with no separate verify
// phase (verification already happened in the PBFT engine and the
// pool's admission pipeline).
package finalizer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/log"

	"github.com/dagchain/node/internal/executor"
	"github.com/dagchain/node/internal/replay"
	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

// BlockSource looks up a non-finalised (or recently finalised) DAG
// block by hash, the seam internal/dagmgr.Manager satisfies.
type BlockSource interface {
	Get(hash types.Hash) (*types.DagBlock, bool)
}

// DagOrderer supplies the deterministic linearisation and prune step
// of spec.md §4.3, the seam internal/dagmgr.Manager satisfies.
type DagOrderer interface {
	DagOrderBelow(anchor types.Hash) ([]types.Hash, error)
	MarkFinalised(hashes []types.Hash)
}

// TransactionSource resolves a transaction hash to its full body, the
// seam internal/txpool satisfies.
type TransactionSource interface {
	Transaction(hash types.Hash) (*types.Transaction, bool)
}

// Finalizer owns the single-threaded commit path of spec.md §5:
// "periods are finalised strictly in order; two periods never finalise
// concurrently."
type Finalizer struct {
	db       store.Database
	blocks   BlockSource
	order    DagOrderer
	txs      TransactionSource
	replay   *replay.Service
	exec     executor.StateExecutor
	bloom    *BloomIndex
	rewards  *RewardsStats
	verifier types.Verifier
	log      log.Logger

	priorStateRoot types.Hash
	priorHash      types.Hash

	subscribers []func(header *types.FinalHeader, txs []*types.Transaction)
}

// New creates a Finalizer. genesisHash seeds PeriodHash/ParentHash
// continuity for period 1.
func New(
	db store.Database,
	blocks BlockSource,
	order DagOrderer,
	txs TransactionSource,
	replaySvc *replay.Service,
	exec executor.StateExecutor,
	verifier types.Verifier,
	rewards *RewardsStats,
	genesisHash types.Hash,
	logger log.Logger,
) *Finalizer {
	return &Finalizer{
		db:        db,
		blocks:    blocks,
		order:     order,
		txs:       txs,
		replay:    replaySvc,
		exec:      exec,
		bloom:     NewBloomIndex(db),
		rewards:   rewards,
		verifier:  verifier,
		log:       logger,
		priorHash: genesisHash,
	}
}

// OnFinalised registers a subscriber notified after a period commits
// (spec.md §4.6 step 6: "notify subscribers").
func (f *Finalizer) OnFinalised(fn func(header *types.FinalHeader, txs []*types.Transaction)) {
	f.subscribers = append(f.subscribers, fn)
}

// Finalize runs spec.md §4.6's full contract for one period.
// certifyVotes is the ≥2f+1 certify-vote set the PBFT engine certified
// anchor with (pbft.CommitResult.CertifyVotes); it is persisted
// verbatim to store.VotesVerified so a syncing peer's GetPbftBlock
// request can be answered without re-deriving or re-verifying them.
func (f *Finalizer) Finalize(ctx context.Context, period uint64, anchor types.Hash, author types.Address, timestamp int64, gasLimit uint64, certifyVotes []*types.Vote) (*types.FinalHeader, error) {
	order, err := f.order.DagOrderBelow(anchor)
	if err != nil {
		return nil, errors.Wrap(err, "finalizer: dag order")
	}

	seq, err := f.flatten(order)
	if err != nil {
		return nil, err
	}

	if f.rewards != nil && f.rewards.Due(period) {
		sysAcc := f.accountOf(types.SystemAddress)
		rewardTxs := f.rewards.Drain(sysAcc.Nonce)
		seq = append(rewardTxs, seq...)
	}

	bctx := executor.BlockContext{
		Author:         author,
		GasLimit:       gasLimit,
		Timestamp:      timestamp,
		PriorStateRoot: f.priorStateRoot,
		Period:         period,
	}
	result, err := f.exec.Apply(ctx, bctx, seq)
	if err != nil {
		f.exec.Discard()
		return nil, errors.Wrap(err, "finalizer: apply")
	}

	header := f.buildHeader(period, anchor, author, timestamp, gasLimit, seq, result)

	batch := f.db.NewBatch()
	if err := f.commitBatch(batch, period, header, seq, result.Receipts, order, certifyVotes); err != nil {
		f.exec.Discard()
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		f.exec.Discard()
		return nil, errors.Wrap(err, "finalizer: batch commit")
	}

	if err := f.exec.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "finalizer: executor commit")
	}

	f.order.MarkFinalised(order)
	f.priorStateRoot = header.StateRoot
	f.priorHash = header.Hash()

	for _, sub := range f.subscribers {
		sub(header, seq)
	}
	return header, nil
}

// flatten implements spec.md §4.6 step 2: in DAG order, include each
// block's transactions in their in-block order, skipping any
// transaction hash already included earlier in the slice, and
// skipping stale-nonce transactions (neither failure aborts the
// period). It also feeds the rewards tracker with each block's author.
func (f *Finalizer) flatten(order []types.Hash) ([]*types.Transaction, error) {
	seen := make(map[types.Hash]struct{})
	var seq []*types.Transaction

	for _, blockHash := range order {
		block, ok := f.blocks.Get(blockHash)
		if !ok {
			return nil, errors.Newf("finalizer: dag order referenced unknown block %s", blockHash.String())
		}
		if f.rewards != nil {
			if author, err := block.RecoverSender(f.verifier); err == nil {
				f.rewards.Observe(author)
			}
		}
		for _, txHash := range block.Transactions {
			if _, dup := seen[txHash]; dup {
				continue
			}
			seen[txHash] = struct{}{}
			tx, ok := f.txs.Transaction(txHash)
			if !ok {
				continue
			}
			if f.replay != nil && f.replay.IsStale(tx.Sender, tx.Nonce) {
				continue
			}
			seq = append(seq, tx)
		}
	}
	return seq, nil
}

func (f *Finalizer) buildHeader(period uint64, anchor types.Hash, author types.Address, timestamp int64, gasLimit uint64, seq []*types.Transaction, result executor.Result) *types.FinalHeader {
	txHashes := make([]types.Hash, len(seq))
	for i, tx := range seq {
		txHashes[i] = tx.Hash()
	}
	var logBloom types.Bloom
	var gasUsed uint64
	for _, r := range result.Receipts {
		logBloom.OrWith(r.Bloom())
		gasUsed = r.CumulativeGasUsed
	}
	return &types.FinalHeader{
		ParentHash:   f.priorHash,
		Author:       author,
		Timestamp:    timestamp,
		StateRoot:    result.NewStateRoot,
		TxRoot:       types.TxRootOf(txHashes),
		ReceiptsRoot: types.ReceiptsRootOf(result.Receipts),
		LogBloom:     logBloom,
		GasUsed:      gasUsed,
		GasLimit:     gasLimit,
		Period:       period,
		PeriodHash:   anchor,
	}
}

// commitBatch implements spec.md §4.6 step 5: one atomic write batch
// covering the header, cross-indices, receipts, bloom-index chunks,
// the last-period marker, tx_to_period entries, the period_data
// record, and the replay-protection updates.
func (f *Finalizer) commitBatch(batch store.Batch, period uint64, header *types.FinalHeader, seq []*types.Transaction, receipts []types.Receipt, order []types.Hash, certifyVotes []*types.Vote) error {
	headerHash := header.Hash()
	headerBytes := header.EncodeRLP()

	batch.Put(store.FinalChainBlkByNumber, store.Uint64Key(period), headerBytes)
	batch.Put(store.FinalChainBlkHashByNumber, store.Uint64Key(period), headerHash[:])
	batch.Put(store.FinalChainBlkNumberByHash, headerHash[:], store.Uint64Key(period))

	for i, tx := range seq {
		txHash := tx.Hash()
		batch.Put(store.FinalChainReceiptByTrxHash, txHash[:], receipts[i].EncodeRLP())
		batch.Put(store.TxToPeriod, txHash[:], store.Uint64Key(period))
		// Every finalised transaction is (re-)persisted here, not only
		// pool-submitted ones: synthetic reward transfers (Drain) never
		// pass through txpool.Pool.SubmitTransaction, so without this
		// write Recover would have no way to resolve their body back
		// from period_data's transaction-hash list.
		batch.Put(store.Transactions, txHash[:], tx.EncodeRLP())
	}

	f.bloom.Update(batch, period, header.LogBloom)

	batch.Put(store.FinalChainMeta, store.KeyLastFinalisedPeriod, store.Uint64Key(period))
	batch.Put(store.PeriodData, store.Uint64Key(period), encodePeriodData(header, seq))
	batch.Put(store.VotesVerified, store.Uint64Key(period), encodeVotes(certifyVotes))

	f.prunePersistedDagBlocks(batch, order)

	if f.replay != nil {
		f.replay.Record(batch, period, seq)
	}
	return nil
}

// prunePersistedDagBlocks deletes the durable copy of every just-
// finalised DAG block (internal/txpool.Pool.persistBlock's write side),
// mirroring dagmgr.Manager.MarkFinalised's in-memory prune so the
// on-disk DagBlocksByHash/DagBlocksByLevel columns stay bounded to the
// current non-finalised frontier rather than growing without limit.
func (f *Finalizer) prunePersistedDagBlocks(batch store.Batch, order []types.Hash) {
	for _, hash := range order {
		block, ok := f.blocks.Get(hash)
		if !ok {
			continue
		}
		batch.Delete(store.DagBlocksByHash, hash[:])
		batch.Delete(store.DagBlocksByLevel, store.LevelHashKey(block.Level, hash[:]))
	}
}

func (f *Finalizer) accountOf(addr types.Address) types.Account {
	if a, ok := f.exec.(interface{ Account(types.Address) types.Account }); ok {
		return a.Account(addr)
	}
	return types.EmptyAccount()
}

// encodePeriodData packs the header and transaction hashes into the
// replayable period_data record crash recovery reads back through the
// finaliser (spec.md §4.1, §8 scenario 5).
func encodePeriodData(header *types.FinalHeader, seq []*types.Transaction) []byte {
	hdr := header.EncodeRLP()
	out := make([]byte, 0, len(hdr)+4+len(seq)*32)
	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(hdr)))
	out = append(out, lenBuf[:]...)
	out = append(out, hdr...)
	for _, tx := range seq {
		h := tx.Hash()
		out = append(out, h[:]...)
	}
	return out
}

// encodeVotes packs a period's certify-vote set for store.VotesVerified:
// a 4-byte count followed by each vote's length-prefixed RLP encoding.
func encodeVotes(votes []*types.Vote) []byte {
	out := make([]byte, 4)
	putUint32(out, uint32(len(votes)))
	for _, v := range votes {
		raw := v.EncodeRLP()
		var lenBuf [4]byte
		putUint32(lenBuf[:], uint32(len(raw)))
		out = append(out, lenBuf[:]...)
		out = append(out, raw...)
	}
	return out
}

// decodeVotes is the read side of encodeVotes.
func decodeVotes(data []byte) ([]*types.Vote, error) {
	if len(data) < 4 {
		return nil, errors.New("finalizer: vote set truncated")
	}
	count := getUint32(data[:4])
	rest := data[4:]
	votes := make([]*types.Vote, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, errors.New("finalizer: vote set entry length truncated")
		}
		entryLen := getUint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < entryLen {
			return nil, errors.New("finalizer: vote set entry truncated")
		}
		v, err := types.DecodeVote(rest[:entryLen])
		if err != nil {
			return nil, errors.Wrap(err, "finalizer: decode vote")
		}
		votes = append(votes, v)
		rest = rest[entryLen:]
	}
	return votes, nil
}

// CertifyVotesForPeriod reads back the certify-vote set Finalizer.Finalize
// (via commitBatch) persisted for period, the data a GetPbftBlock response bundles
// alongside the period's header and transactions (spec.md §4.7).
func CertifyVotesForPeriod(db store.Database, period uint64) ([]*types.Vote, error) {
	raw, ok, err := db.Get(store.VotesVerified, store.Uint64Key(period))
	if err != nil {
		return nil, errors.Wrap(err, "finalizer: read certify votes")
	}
	if !ok {
		return nil, nil
	}
	return decodeVotes(raw)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Recover implements spec.md §4.1's crash-recovery convergence: "on
// recovery the node reads last finalised period, compares with the
// state-trie's committed period, and if they differ ... replays the
// intervening period_data entries through the finaliser to converge."
// internal/executor.StateExecutor has no durable trie of its own (its
// committed period resets to the genesis state on every process start),
// so the comparison is unconditional: whatever the store's last
// finalised period is, fin is replayed up through it before the sync
// driver or PBFT loop ever runs. Called from cmd/dagnode.New, not from
// package store, to avoid store importing finalizer.
func Recover(db store.Database, txs TransactionSource, fin *Finalizer) error {
	raw, ok, err := db.Get(store.FinalChainMeta, store.KeyLastFinalisedPeriod)
	if err != nil {
		return errors.Wrap(err, "finalizer: recover read last period")
	}
	if !ok {
		return nil
	}
	last := store.Uint64FromKey(raw)
	return fin.replayThrough(db, txs, last)
}

// replayThrough re-applies every period_data record from 1 through last
// against fin's executor, in order, so the executor's in-memory state
// converges on what the last successful Finalize run produced — without
// re-deriving DAG order (the blocks that produced it may already be
// pruned by MarkFinalised) and without re-running PBFT.
func (f *Finalizer) replayThrough(db store.Database, txs TransactionSource, last uint64) error {
	ctx := context.Background()
	for period := uint64(1); period <= last; period++ {
		raw, ok, err := db.Get(store.PeriodData, store.Uint64Key(period))
		if err != nil {
			return errors.Wrapf(err, "finalizer: recover read period_data[%d]", period)
		}
		if !ok {
			return errors.Newf("finalizer: recover missing period_data for period %d", period)
		}
		header, txHashes, err := DecodePeriodData(raw)
		if err != nil {
			return errors.Wrapf(err, "finalizer: recover decode period_data[%d]", period)
		}

		seq := make([]*types.Transaction, 0, len(txHashes))
		for _, h := range txHashes {
			tx, ok := txs.Transaction(h)
			if !ok {
				return errors.Newf("finalizer: recover missing transaction %s for period %d", h.String(), period)
			}
			seq = append(seq, tx)
		}

		bctx := executor.BlockContext{
			Author:         header.Author,
			GasLimit:       header.GasLimit,
			Timestamp:      header.Timestamp,
			PriorStateRoot: f.priorStateRoot,
			Period:         period,
		}
		result, err := f.exec.Apply(ctx, bctx, seq)
		if err != nil {
			f.exec.Discard()
			return errors.Wrapf(err, "finalizer: recover apply period %d", period)
		}
		if result.NewStateRoot != header.StateRoot {
			f.exec.Discard()
			return errors.Newf("finalizer: recover state root mismatch at period %d: got %s want %s", period, result.NewStateRoot.String(), header.StateRoot.String())
		}
		if err := f.exec.Commit(ctx); err != nil {
			return errors.Wrapf(err, "finalizer: recover commit period %d", period)
		}

		// The DAG blocks this period finalised were already pruned from
		// the persisted frontier by the original run's commitBatch
		// (prunePersistedDagBlocks); replay only needs to restore
		// priorStateRoot/priorHash continuity in the executor, not repeat
		// that prune.
		f.priorStateRoot = header.StateRoot
		f.priorHash = header.Hash()
	}
	return nil
}

// DecodePeriodData is the read side of encodePeriodData, used by
// internal/query for transaction-count-of-a-block lookups and by crash
// recovery to replay a period's transaction set without re-deriving
// the DAG order (spec.md §8 scenario 5).
func DecodePeriodData(data []byte) (header *types.FinalHeader, txHashes []types.Hash, err error) {
	if len(data) < 4 {
		return nil, nil, errors.New("finalizer: period data truncated")
	}
	hdrLen := getUint32(data[:4])
	rest := data[4:]
	if uint32(len(rest)) < hdrLen {
		return nil, nil, errors.New("finalizer: period data header truncated")
	}
	header, err = types.DecodeFinalHeader(rest[:hdrLen])
	if err != nil {
		return nil, nil, err
	}
	tail := rest[hdrLen:]
	if len(tail)%32 != 0 {
		return nil, nil, errors.New("finalizer: period data tx section misaligned")
	}
	txHashes = make([]types.Hash, len(tail)/32)
	for i := range txHashes {
		copy(txHashes[i][:], tail[i*32:(i+1)*32])
	}
	return header, txHashes, nil
}
