package replay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

func txFrom(sender types.Address, nonce uint64) *types.Transaction {
	return &types.Transaction{Sender: sender, Nonce: nonce}
}

func TestIsStaleFalseBeforeAnyWatermark(t *testing.T) {
	s := New(3)
	var addr types.Address
	addr[0] = 1
	require.False(t, s.IsStale(addr, 0))
}

func TestRecordAdvancesNonceMax(t *testing.T) {
	db, err := store.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	s := New(10)
	var addr types.Address
	addr[0] = 1

	b := db.NewBatch()
	s.Record(b, 0, []*types.Transaction{txFrom(addr, 5)})
	require.NoError(t, b.Commit())

	max, ok := s.NonceMax(addr)
	require.True(t, ok)
	require.Equal(t, uint64(5), max)
}

func TestWatermarkPromotesAfterWindow(t *testing.T) {
	db, err := store.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	s := New(2) // window = 2
	var addr types.Address
	addr[0] = 1

	for period := uint64(0); period <= 2; period++ {
		b := db.NewBatch()
		s.Record(b, period, []*types.Transaction{txFrom(addr, period + 1)})
		require.NoError(t, b.Commit())
	}

	// period 2 >= window(2) promotes period 0's dirty senders: nonce_max
	// as of period 0 was 1, so nonce 1 (and below) is now stale.
	require.True(t, s.IsStale(addr, 1))
	require.False(t, s.IsStale(addr, 2))
}

func TestLoadReconstructsStateAfterRestart(t *testing.T) {
	db, err := store.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	var addr types.Address
	addr[0] = 7

	s1 := New(2)
	for period := uint64(0); period <= 2; period++ {
		b := db.NewBatch()
		s1.Record(b, period, []*types.Transaction{txFrom(addr, period + 1)})
		require.NoError(t, b.Commit())
	}

	s2 := New(2)
	require.NoError(t, s2.Load(db))

	max, ok := s2.NonceMax(addr)
	require.True(t, ok)
	require.Equal(t, uint64(3), max)
	require.True(t, s2.IsStale(addr, 1))
}
