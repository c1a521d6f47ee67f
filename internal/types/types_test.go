package types

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubVerifier recovers whatever address was baked into the signature
// bytes by fakeSign, so tests can exercise RecoverSender/memoisation
// without a real secp256k1 dependency.
type stubVerifier struct{}

func fakeSign(addr Address) Signature {
	return append([]byte{}, addr[:]...)
}

func (stubVerifier) Recover(_ []byte, sig Signature) (Address, error) {
	if len(sig) != 20 {
		return Address{}, errors.New("bad signature")
	}
	var a Address
	copy(a[:], sig)
	return a, nil
}

func TestTransactionHashStableAndMemoised(t *testing.T) {
	addr := Address{1, 2, 3}
	tx := &Transaction{
		Sender:    Address{},
		Nonce:     1,
		GasPrice:  big.NewInt(1),
		GasLimit:  21000,
		Value:     big.NewInt(100),
		Signature: fakeSign(addr),
	}
	h1 := tx.Hash()
	h2 := tx.Hash()
	require.Equal(t, h1, h2)

	recovered, err := tx.RecoverSender(stubVerifier{})
	require.NoError(t, err)
	require.Equal(t, addr, recovered)

	// Mutating the transaction after hashing must not change the
	// memoised hash (simulates the pool holding a reference).
	tx.Data = []byte("mutated")
	require.Equal(t, h1, tx.Hash())
}

func TestDagBlockGenesisAndLevel(t *testing.T) {
	genesis := &DagBlock{}
	require.True(t, genesis.IsGenesis())
	require.Equal(t, uint64(0), ComputeLevel(nil))
	require.Equal(t, uint64(3), ComputeLevel([]uint64{1, 2}))
}

func TestDagBlockEncodeDecodeRoundTrip(t *testing.T) {
	addr := Address{9}
	b := &DagBlock{
		Pivot:        HashBytes([]byte("parent")),
		Tips:         []Hash{HashBytes([]byte("tip1"))},
		Transactions: []Hash{HashBytes([]byte("tx1")), HashBytes([]byte("tx2"))},
		Level:        4,
		Timestamp:    1234,
		Signature:    fakeSign(addr),
	}
	h := b.Hash()
	require.NotEqual(t, ZeroHash, h)

	sender, err := b.RecoverSender(stubVerifier{})
	require.NoError(t, err)
	require.Equal(t, addr, sender)

	// Re-encoding must reproduce the same bytes (determinism, spec.md §8).
	require.Equal(t, b.EncodeRLP(), b.EncodeRLP())
}

func TestVoteKeyUniqueness(t *testing.T) {
	v1 := &Vote{Voter: Address{1}, Period: 5, Round: 1, Step: VoteSoft, VotedHash: HashBytes([]byte("a"))}
	v2 := &Vote{Voter: Address{1}, Period: 5, Round: 1, Step: VoteSoft, VotedHash: HashBytes([]byte("b"))}
	require.Equal(t, v1.KeyOf(), v2.KeyOf())
	require.NotEqual(t, v1.Hash(), v2.Hash())
}

func TestBloomContainsAndOr(t *testing.T) {
	var period0, period1, query Bloom
	period1.Add([]byte("log-topic-X"))
	query.Add([]byte("log-topic-X"))

	require.False(t, period0.Contains(query))
	require.True(t, period1.Contains(query))

	var combined Bloom
	combined.OrWith(period0)
	combined.OrWith(period1)
	require.True(t, combined.Contains(query))
}

func TestReceiptBloomAndRoot(t *testing.T) {
	addr := Address{7}
	r := Receipt{Status: 1, GasUsed: 21000, Logs: []LogEntry{{Address: addr, Topics: []Hash{HashBytes([]byte("t"))}}}}
	b := r.Bloom()
	require.False(t, b.IsZero())

	root := ReceiptsRootOf([]Receipt{r})
	require.Equal(t, root, ReceiptsRootOf([]Receipt{r}))
}

func TestAccountEmptyIndistinguishableFromAbsent(t *testing.T) {
	a := EmptyAccount()
	require.True(t, a.IsEmpty())
	a.Nonce = 1
	require.False(t, a.IsEmpty())
}
