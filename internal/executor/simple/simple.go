// Package simple is a deterministic, in-memory reference
// implementation of executor.StateExecutor. It stands in for the
// EVM-compatible state machine spec.md §2 explicitly excludes from
// this repository's scope ("specified only as a pure function...") —
// enough of an account-balance ledger to drive the finaliser's tests
// and the genesis/seed scenarios of spec.md §8 end to end, without
// opcode interpretation or gas metering.
package simple

import (
	"context"
	"math/big"
	"sync"

	"github.com/dagchain/node/internal/executor"
	"github.com/dagchain/node/internal/types"
)

// Executor holds one committed account set and, between Apply and
// Commit/Discard, one staged copy reflecting the in-flight period.
type Executor struct {
	mu sync.Mutex

	accounts map[types.Address]*types.Account

	staged       map[types.Address]*types.Account
	stagedRoot   types.Hash
	stagedBal    map[types.Address]*big.Int
	stagedResult *executor.Result
}

// New creates an Executor seeded with genesisAccounts (spec.md §8
// genesis boot: a single pre-funded address).
func New(genesisAccounts map[types.Address]*big.Int) *Executor {
	accounts := make(map[types.Address]*types.Account, len(genesisAccounts))
	for addr, bal := range genesisAccounts {
		accounts[addr] = &types.Account{Nonce: 0, Balance: new(big.Int).Set(bal)}
	}
	return &Executor{accounts: accounts}
}

// Account returns a copy of addr's committed account state, used by
// internal/query for balance/nonce lookups against finalised periods.
func (e *Executor) Account(addr types.Address) types.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accounts[addr]
	if !ok {
		return types.EmptyAccount()
	}
	return *a
}

// Apply executes txs sequentially against a staged copy of the
// committed account set (spec.md §5: "Within a period, transaction
// execution is strictly sequential"). A transaction fails (status 0) if
// its nonce does not match the sender's current nonce (an unknown sender
// starts as an account with nonce 0 and zero balance) or its balance
// cannot cover value + gas_price*gas_limit. A failed transaction moves
// no balance and does not advance the nonce; its receipt reports the
// full gas limit as gas used. Failures are ordinary execution outcomes
// recorded in receipts, not errors: Apply always returns a nil error.
func (e *Executor) Apply(_ context.Context, bctx executor.BlockContext, txs []*types.Transaction) (executor.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	staged := make(map[types.Address]*types.Account, len(e.accounts))
	for addr, a := range e.accounts {
		cp := *a
		cp.Balance = new(big.Int).Set(a.Balance)
		staged[addr] = &cp
	}

	balanceChanges := make(map[types.Address]*big.Int)
	receipts := make([]types.Receipt, 0, len(txs))
	var cumulativeGas uint64

	for _, tx := range txs {
		receipt := e.applyOne(staged, balanceChanges, bctx, tx, &cumulativeGas)
		receipts = append(receipts, receipt)
	}

	txHashes := make([]types.Hash, len(txs))
	for i, tx := range txs {
		txHashes[i] = tx.Hash()
	}
	stateRoot := accountSetRoot(staged)

	result := executor.Result{
		NewStateRoot:   stateRoot,
		Receipts:       receipts,
		BalanceChanges: balanceChanges,
	}

	e.staged = staged
	e.stagedRoot = stateRoot
	e.stagedResult = &result
	return result, nil
}

func (e *Executor) applyOne(staged map[types.Address]*types.Account, balanceChanges map[types.Address]*big.Int, bctx executor.BlockContext, tx *types.Transaction, cumulativeGas *uint64) types.Receipt {
	sender, ok := staged[tx.Sender]
	if !ok {
		sender = &types.Account{Balance: big.NewInt(0)}
		staged[tx.Sender] = sender
	}

	gasPrice := big.NewInt(0)
	if tx.GasPrice != nil {
		gasPrice = tx.GasPrice
	}
	value := big.NewInt(0)
	if tx.Value != nil {
		value = tx.Value
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(tx.GasLimit))
	cost.Add(cost, value)

	fail := func() types.Receipt {
		*cumulativeGas += tx.GasLimit
		return types.Receipt{Status: 0, GasUsed: tx.GasLimit, CumulativeGasUsed: *cumulativeGas}
	}

	if tx.Nonce != sender.Nonce {
		return fail()
	}
	if sender.Balance.Cmp(cost) < 0 {
		return fail()
	}

	sender.Balance.Sub(sender.Balance, cost)
	sender.Nonce++
	balanceChanges[tx.Sender] = new(big.Int).Neg(cost)

	var contractAddr *types.Address
	if tx.IsContractCreation() {
		addr := types.AddressFromBytes(types.HashBytes(append(tx.Sender[:], byte(tx.Nonce)))[:])
		contractAddr = &addr
		if _, ok := staged[addr]; !ok {
			staged[addr] = &types.Account{Balance: big.NewInt(0)}
		}
	} else if tx.To != nil {
		recipient, ok := staged[*tx.To]
		if !ok {
			recipient = &types.Account{Balance: big.NewInt(0)}
			staged[*tx.To] = recipient
		}
		recipient.Balance.Add(recipient.Balance, value)
		prior, ok := balanceChanges[*tx.To]
		if !ok {
			prior = big.NewInt(0)
		}
		balanceChanges[*tx.To] = new(big.Int).Add(prior, value)
	}

	*cumulativeGas += tx.GasLimit / 2
	return types.Receipt{
		Status:            1,
		GasUsed:           tx.GasLimit / 2,
		CumulativeGasUsed: *cumulativeGas,
		ContractAddress:   contractAddr,
	}
}

// Commit makes the most recently applied period's staged accounts the
// committed set.
func (e *Executor) Commit(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staged == nil {
		return nil
	}
	e.accounts = e.staged
	e.staged, e.stagedResult = nil, nil
	return nil
}

// Discard abandons the staged period without committing it.
func (e *Executor) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.staged, e.stagedResult = nil, nil
}

// accountSetRoot derives a deterministic state-root stand-in: the hash
// of every account sorted by address and RLP-encoded in turn. It is
// not a Merkle trie — spec.md §2 excludes the trie implementation
// itself — but it is a pure function of the account set, which is all
// the finaliser's equality checks (spec.md §8.4 "same state root")
// require.
func accountSetRoot(accounts map[types.Address]*types.Account) types.Hash {
	addrs := make([]types.Address, 0, len(accounts))
	for a := range accounts {
		addrs = append(addrs, a)
	}
	sortAddresses(addrs)

	var buf []byte
	for _, a := range addrs {
		acc := accounts[a]
		buf = append(buf, a[:]...)
		buf = append(buf, acc.EncodeRLP()...)
	}
	return types.HashBytes(buf)
}

func sortAddresses(addrs []types.Address) {
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && less(addrs[j], addrs[j-1]); j-- {
			addrs[j], addrs[j-1] = addrs[j-1], addrs[j]
		}
	}
}

func less(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
