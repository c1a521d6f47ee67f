package main

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/config"
	"github.com/dagchain/node/internal/crypto"
	"github.com/dagchain/node/internal/dagmgr"
	"github.com/dagchain/node/internal/executor/simple"
	"github.com/dagchain/node/internal/finalizer"
	"github.com/dagchain/node/internal/pbft"
	"github.com/dagchain/node/internal/query"
	"github.com/dagchain/node/internal/replay"
	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/txpool"
	"github.com/dagchain/node/internal/types"
)

// TestGenesisBootBalanceQuery covers spec.md §8 scenario 1: a freshly
// booted local-network node answers a balance query for the
// pre-funded genesis address and reports an empty chain.
func TestGenesisBootBalanceQuery(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	n, err := New(Config{
		Network:       "local",
		ListenAddr:    "127.0.0.1:0",
		Key:           key,
		ConsensusTick: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer n.db.Close()

	acc, err := n.facade.Account(config.PreFundedAddress())
	require.NoError(t, err)
	require.Equal(t, config.PreFundedBalance(), acc.Balance)

	_, err = n.facade.LatestPeriod()
	require.ErrorIs(t, err, query.ErrNotFound, "no period has finalised yet")

	require.Equal(t, uint64(0), n.dag.MaxLevel())
}

// singleValidatorHarness wires the propose/finalise pipeline directly
// (bypassing cmd.New/networking) around one generated key so a test
// can drive an entire PBFT period by hand. CommitteeSize/quorum are
// set to 1 rather than config.LocalParameters()'s 4 — a lone validator
// can never reach a 3-vote quorum, so the seed scenarios need their own
// single-voter parameter set, not the multi-node local preset.
type singleValidatorHarness struct {
	db          store.Database
	dag         *dagmgr.Manager
	replaySvc   *replay.Service
	exec        *simple.Executor
	pool        *txpool.Pool
	engine      *pbft.Engine
	final       *finalizer.Finalizer
	facade      *query.Facade
	key         *crypto.Key
	genesisHash types.Hash
}

// newSingleValidatorHarnessFunded builds a harness with the validator's
// own address pre-funded — needed by scenarios 2 and 3 since
// config.LocalGenesis's pre-funded address has no known private key to
// sign with.
func newSingleValidatorHarnessFunded(t *testing.T, balance *big.Int) *singleValidatorHarness {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	db, err := store.OpenMem()
	require.NoError(t, err)

	genesisHash := config.GenesisDagBlock().Hash()
	dag := dagmgr.New(genesisHash)
	replaySvc := replay.New(3)
	exec := simple.New(map[types.Address]*big.Int{key.Address(): balance})
	verifier := crypto.Recoverer{}

	pool := txpool.New(db, dag, replaySvc, verifier, 1_000_000, 2, nil)

	weights := pbft.NewStaticStakeWeights(map[types.Address]uint64{key.Address(): 1})
	sortition := &pbft.HashSortition{Weights: weights, Target: 1}
	params := config.LocalParameters()
	params.CommitteeSize = 1
	params.ByzantineTolerance = 0
	params.TargetLevelsPerPeriod = 1
	engine := pbft.New(params, key.Address(), key, verifier, sortition, dag, 1, time.Now())

	rewards := finalizer.NewRewardsStats(0, big.NewInt(0))
	fin := finalizer.New(db, dag, dag, pool, replaySvc, exec, verifier, rewards, genesisHash, nil)

	facade := query.New(db, exec, weights, 16)

	return &singleValidatorHarness{
		db: db, dag: dag, replaySvc: replaySvc, exec: exec, pool: pool,
		engine: engine, final: fin, facade: facade, key: key, genesisHash: genesisHash,
	}
}

func (h *singleValidatorHarness) signTx(tx *types.Transaction) {
	sig, err := h.key.Sign(tx.SigningBytes())
	if err != nil {
		panic(err)
	}
	tx.Signature = sig
}

func (h *singleValidatorHarness) signBlock(b *types.DagBlock) {
	sig, err := h.key.Sign(b.SigningBytes())
	if err != nil {
		panic(err)
	}
	b.Signature = sig
}

// drivePeriod manually walks propose -> soft -> certify for the single
// validator, re-submitting each self-vote through SubmitVote (the only
// path that runs commit detection), per spec.md §4.5's step sequence.
func (h *singleValidatorHarness) drivePeriod(t *testing.T) *pbft.CommitResult {
	t.Helper()

	proposeVote, err := h.engine.Propose()
	require.NoError(t, err)
	require.NotNil(t, proposeVote)
	_, err = h.engine.SubmitVote(proposeVote)
	require.NoError(t, err)

	h.engine.AdvanceStep()
	softVote, err := h.engine.SoftVote()
	require.NoError(t, err)
	require.NotNil(t, softVote)
	_, err = h.engine.SubmitVote(softVote)
	require.NoError(t, err)

	h.engine.AdvanceStep()
	best, ok := h.engine.BestProposal()
	require.True(t, ok)
	certifyVote, err := h.engine.CertifyVote(best)
	require.NoError(t, err)
	require.NotNil(t, certifyVote)
	result, err := h.engine.SubmitVote(certifyVote)
	require.NoError(t, err)
	require.NotNil(t, result, "a single voter's certify-vote must immediately reach quorum 1")
	return result
}

// TestSingleSignedTransferFinalises covers spec.md §8 scenario 2: one
// signed transfer, a manually-driven PBFT period, and the resulting
// header/receipt/balance checks.
func TestSingleSignedTransferFinalises(t *testing.T) {
	recipient := types.Address{0xBB}
	h := newSingleValidatorHarnessFunded(t, big.NewInt(100_000))
	defer h.db.Close()

	tx := &types.Transaction{
		Sender:   h.key.Address(),
		To:       &recipient,
		Nonce:    0,
		GasPrice: big.NewInt(1),
		GasLimit: 21_000,
		Value:    big.NewInt(100),
	}
	h.signTx(tx)
	require.NoError(t, h.pool.SubmitTransaction(tx))

	block := &types.DagBlock{
		Pivot:        h.genesisHash,
		Transactions: []types.Hash{tx.Hash()},
		Level:        1,
		Timestamp:    1700,
	}
	h.signBlock(block)
	require.NoError(t, h.pool.SubmitBlock("self", block))

	result := h.drivePeriod(t)
	require.Equal(t, uint64(1), result.Period)
	require.Equal(t, block.Hash(), result.Anchor)

	header, err := h.final.Finalize(context.Background(), result.Period, result.Anchor, h.key.Address(), 1700, 1_000_000, result.CertifyVotes)
	require.NoError(t, err)
	require.Equal(t, h.genesisHash, header.ParentHash)
	require.Equal(t, uint64(1), header.Period)

	receipt, err := h.facade.Receipt(tx.Hash())
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Status)

	recipientAcc, err := h.facade.Account(recipient)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), recipientAcc.Balance)

	latest, err := h.facade.LatestPeriod()
	require.NoError(t, err)
	require.Equal(t, uint64(1), latest)
}

// TestDuplicateNonceRejected covers spec.md §8 scenario 3: a second
// transaction reusing an already-admitted sender/nonce pair is
// rejected and leaves no state change.
func TestDuplicateNonceRejected(t *testing.T) {
	recipient := types.Address{0xCC}
	h := newSingleValidatorHarnessFunded(t, big.NewInt(100_000))
	defer h.db.Close()

	tx1 := &types.Transaction{
		Sender: h.key.Address(), To: &recipient, Nonce: 0,
		GasPrice: big.NewInt(1), GasLimit: 21_000, Value: big.NewInt(10),
	}
	h.signTx(tx1)
	require.NoError(t, h.pool.SubmitTransaction(tx1))

	tx2 := &types.Transaction{
		Sender: h.key.Address(), To: &recipient, Nonce: 0,
		GasPrice: big.NewInt(1), GasLimit: 21_000, Value: big.NewInt(20),
	}
	h.signTx(tx2)

	// tx2 duplicates tx1's (sender, nonce); the pool's identity is the
	// transaction hash, not the (sender, nonce) pair, so this only
	// collides if the two hash alike. Admission instead rejects via
	// ErrDuplicateTransaction when the hashes match, or — once a block
	// carrying tx1 is finalised — via the stale-nonce check in Apply at
	// finalisation time. Exercise the latter: both are admitted to the
	// pool (distinct hashes, since Value differs), but only tx1 can
	// ever change state because it is recorded first and advances the
	// sender's nonce.
	require.NotEqual(t, tx1.Hash(), tx2.Hash())
	require.NoError(t, h.pool.SubmitTransaction(tx2))

	block := &types.DagBlock{
		Pivot:        h.genesisHash,
		Transactions: []types.Hash{tx1.Hash(), tx2.Hash()},
		Level:        1,
		Timestamp:    1700,
	}
	h.signBlock(block)
	require.NoError(t, h.pool.SubmitBlock("self", block))

	result := h.drivePeriod(t)
	header, err := h.final.Finalize(context.Background(), result.Period, result.Anchor, h.key.Address(), 1700, 1_000_000, result.CertifyVotes)
	require.NoError(t, err)
	require.Equal(t, uint64(1), header.Period)

	r1, err := h.facade.Receipt(tx1.Hash())
	require.NoError(t, err)
	require.Equal(t, uint64(1), r1.Status, "first use of nonce 0 must succeed")

	r2, err := h.facade.Receipt(tx2.Hash())
	require.NoError(t, err)
	require.Equal(t, uint64(0), r2.Status, "reusing nonce 0 in the same period must fail, not double-apply")

	recipientAcc, err := h.facade.Account(recipient)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), recipientAcc.Balance, "only tx1's value must have moved")
}
