// Package executor defines the seam between the finaliser and the
// external state-transition engine (spec.md §4.6, §7 "EVM execution
// (CPU, external)"). The interface is shaped after the teacher's
// ChainVM contract (block/block.go: Initialize/BuildBlock/Shutdown) cut
// down to the single responsibility spec.md actually assigns the
// executor: apply an ordered transaction sequence against prior state
// and report receipts, without owning block production or networking.
package executor

import (
	"context"
	"math/big"

	"github.com/dagchain/node/internal/types"
)

// BlockContext carries everything the executor needs to know about the
// period being finalised but cannot derive from the transactions
// themselves (spec.md §4.6 step 3).
type BlockContext struct {
	Author         types.Address
	GasLimit       uint64
	Timestamp      int64
	PriorStateRoot types.Hash
	Period         uint64
}

// Result is what Apply reports back to the finaliser.
type Result struct {
	NewStateRoot   types.Hash
	Receipts       []types.Receipt
	BalanceChanges map[types.Address]*big.Int
}

// StateExecutor is stateful between Apply and Commit/Discard: only one
// apply may be outstanding at a time, and the finaliser (the sole
// caller, per spec.md §5 "Shared resources") must resolve it with
// Commit or Discard before the next Apply (spec.md §5: "must call
// commit or discard before the next apply").
type StateExecutor interface {
	// Apply executes txs in order against the state as of
	// ctx.PriorStateRoot and returns the resulting root, per-transaction
	// receipts in the same order, and net balance changes. Execution is
	// staged, not yet durable — Commit must follow before the new root
	// is observable to a fresh Apply.
	Apply(ctx context.Context, bctx BlockContext, txs []*types.Transaction) (Result, error)

	// Commit makes the most recent Apply's result durable and
	// observable. Called exactly once per successfully applied period.
	Commit(ctx context.Context) error

	// Discard abandons the most recent Apply's staged result without
	// making it observable, used when the finaliser encounters an error
	// after Apply but must still resolve the executor's pending state
	// before the next period.
	Discard()
}
