package query

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/executor/simple"
	"github.com/dagchain/node/internal/finalizer"
	"github.com/dagchain/node/internal/replay"
	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

type stubVerifier struct{}

func (stubVerifier) Recover(msg []byte, sig types.Signature) (types.Address, error) {
	var a types.Address
	copy(a[:], sig)
	return a, nil
}

type fakeOrder struct{ order []types.Hash }

func (f *fakeOrder) DagOrderBelow(anchor types.Hash) ([]types.Hash, error) { return f.order, nil }
func (f *fakeOrder) MarkFinalised(hashes []types.Hash)                    {}

type fakeBlocks struct{ blocks map[types.Hash]*types.DagBlock }

func (f *fakeBlocks) Get(hash types.Hash) (*types.DagBlock, bool) {
	b, ok := f.blocks[hash]
	return b, ok
}

type fakeTxs struct{ txs map[types.Hash]*types.Transaction }

func (f *fakeTxs) Transaction(hash types.Hash) (*types.Transaction, bool) {
	tx, ok := f.txs[hash]
	return tx, ok
}

type staticEligibility struct {
	stake map[types.Address]uint64
	total uint64
}

func (s staticEligibility) Stake(addr types.Address) uint64 { return s.stake[addr] }
func (s staticEligibility) TotalStake() uint64               { return s.total }

func mkAddr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func sign(addr types.Address) types.Signature { return types.Signature(addr[:]) }

// finalizeOnePeriod drives the finaliser directly (no PBFT engine) to
// populate the store with one committed period, for facade tests.
func finalizeOnePeriod(t *testing.T, db store.Database) (*types.FinalHeader, *types.Transaction, *simple.Executor) {
	t.Helper()

	author := mkAddr(0xAA)
	recipient := mkAddr(0xBB)
	tx := &types.Transaction{
		Sender:    author,
		To:        &recipient,
		Nonce:     0,
		GasPrice:  big.NewInt(1),
		GasLimit:  21,
		Value:     big.NewInt(100),
		Signature: sign(author),
	}
	txHash := tx.Hash()
	batch := db.NewBatch()
	batch.Put(store.Transactions, txHash[:], tx.EncodeRLP())
	require.NoError(t, batch.Commit())

	block := &types.DagBlock{Pivot: types.ZeroHash, Transactions: []types.Hash{txHash}, Level: 1, Signature: sign(author)}
	blockHash := block.Hash()

	blocks := &fakeBlocks{blocks: map[types.Hash]*types.DagBlock{blockHash: block}}
	order := &fakeOrder{order: []types.Hash{blockHash}}
	txs := &fakeTxs{txs: map[types.Hash]*types.Transaction{txHash: tx}}
	replaySvc := replay.New(10)
	exec := simple.New(map[types.Address]*big.Int{author: big.NewInt(10000)})

	fz := finalizer.New(db, blocks, order, txs, replaySvc, exec, stubVerifier{}, nil, types.ZeroHash, nil)
	header, err := fz.Finalize(context.Background(), 1, blockHash, author, 1000, 1_000_000, nil)
	require.NoError(t, err)
	return header, tx, exec
}

func TestFacadeHeaderAndReceiptLookups(t *testing.T) {
	db, err := store.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	header, tx, exec := finalizeOnePeriod(t, db)

	f := New(db, exec, staticEligibility{}, 8)

	latest, err := f.LatestPeriod()
	require.NoError(t, err)
	require.Equal(t, uint64(1), latest)

	got, err := f.HeaderByNumber(1)
	require.NoError(t, err)
	require.Equal(t, header.Hash(), got.Hash())

	gotByHash, err := f.HeaderByHash(header.Hash())
	require.NoError(t, err)
	require.Equal(t, header.Period, gotByHash.Period)

	receipt, err := f.Receipt(tx.Hash())
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Status)

	count, err := f.TransactionCount(1)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	storedTx, err := f.Transaction(tx.Hash())
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), storedTx.Hash())
}

func TestFacadeAccountReflectsExecutorState(t *testing.T) {
	db, err := store.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	_, tx, exec := finalizeOnePeriod(t, db)

	f := New(db, exec, staticEligibility{}, 8)

	recipientAcc, err := f.Account(*tx.To)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), recipientAcc.Balance)
}

func TestFacadeUnknownLookupsReturnNotFound(t *testing.T) {
	db, err := store.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	exec := simple.New(nil)
	f := New(db, exec, staticEligibility{}, 8)

	_, err = f.HeaderByNumber(99)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.Receipt(types.Hash{0: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFacadeEligibility(t *testing.T) {
	db, err := store.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	addr := mkAddr(1)
	elig := staticEligibility{stake: map[types.Address]uint64{addr: 5}, total: 5}
	f := New(db, simple.New(nil), elig, 8)

	require.True(t, f.IsEligible(addr, 1))
	require.False(t, f.IsEligible(mkAddr(2), 1))
	require.Equal(t, uint64(5), f.EligibleVoteCount(1))
}
