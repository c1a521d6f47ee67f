package simple

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/executor"
	"github.com/dagchain/node/internal/types"
)

func TestApplyTransferSucceeds(t *testing.T) {
	var sender, recipient types.Address
	sender[0], recipient[0] = 1, 2

	e := New(map[types.Address]*big.Int{sender: big.NewInt(1000)})

	tx := &types.Transaction{
		Sender:   sender,
		To:       &recipient,
		Nonce:    0,
		GasPrice: big.NewInt(1),
		GasLimit: 100,
		Value:    big.NewInt(50),
	}

	result, err := e.Apply(context.Background(), executor.BlockContext{}, []*types.Transaction{tx})
	require.NoError(t, err)
	require.Len(t, result.Receipts, 1)
	require.Equal(t, uint64(1), result.Receipts[0].Status)

	require.NoError(t, e.Commit(context.Background()))

	senderAcc := e.Account(sender)
	require.Equal(t, uint64(1), senderAcc.Nonce)
	require.Equal(t, big.NewInt(850), senderAcc.Balance) // 1000 - 100*1 - 50

	recipientAcc := e.Account(recipient)
	require.Equal(t, big.NewInt(50), recipientAcc.Balance)
}

func TestApplyInsufficientBalanceFails(t *testing.T) {
	var sender, recipient types.Address
	sender[0], recipient[0] = 1, 2

	e := New(map[types.Address]*big.Int{sender: big.NewInt(10)})

	tx := &types.Transaction{
		Sender:   sender,
		To:       &recipient,
		Nonce:    0,
		GasPrice: big.NewInt(1),
		GasLimit: 100,
		Value:    big.NewInt(50),
	}

	result, err := e.Apply(context.Background(), executor.BlockContext{}, []*types.Transaction{tx})
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.Receipts[0].Status)
}

func TestDiscardLeavesCommittedStateUntouched(t *testing.T) {
	var sender types.Address
	sender[0] = 1
	e := New(map[types.Address]*big.Int{sender: big.NewInt(1000)})

	tx := &types.Transaction{Sender: sender, Nonce: 0, GasPrice: big.NewInt(1), GasLimit: 10, Value: big.NewInt(5)}
	_, err := e.Apply(context.Background(), executor.BlockContext{}, []*types.Transaction{tx})
	require.NoError(t, err)
	e.Discard()

	acc := e.Account(sender)
	require.Equal(t, uint64(0), acc.Nonce)
	require.Equal(t, big.NewInt(1000), acc.Balance)
}

func TestApplyIsDeterministic(t *testing.T) {
	var sender, recipient types.Address
	sender[0], recipient[0] = 1, 2

	mk := func() *Executor { return New(map[types.Address]*big.Int{sender: big.NewInt(1000)}) }
	tx := &types.Transaction{Sender: sender, To: &recipient, Nonce: 0, GasPrice: big.NewInt(1), GasLimit: 100, Value: big.NewInt(50)}

	r1, err := mk().Apply(context.Background(), executor.BlockContext{}, []*types.Transaction{tx})
	require.NoError(t, err)
	r2, err := mk().Apply(context.Background(), executor.BlockContext{}, []*types.Transaction{tx})
	require.NoError(t, err)
	require.Equal(t, r1.NewStateRoot, r2.NewStateRoot)
}
