package query

import (
	"github.com/cockroachdb/errors"

	"github.com/dagchain/node/internal/finalizer"
	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

// ErrNotFound is returned for any lookup whose key does not exist,
// surfaced to RPC as a client-visible "not found" rather than an
// internal server error (spec.md §7).
var ErrNotFound = errors.New("query: not found")

// AccountSource resolves the committed account state of an address as
// of the most recently committed period, the seam the state executor
// (internal/executor) satisfies. The facade only ever asks for latest
// state — spec.md §4.8 does not require historical account state at
// arbitrary periods, only historical headers/receipts/logs.
type AccountSource interface {
	Account(addr types.Address) types.Account
}

// EligibilitySource answers the PBFT sortition questions of spec.md
// §6's RPC contract (eligible-vote count, address eligibility), the
// seam internal/pbft's StakeWeights/Sortition satisfy together.
type EligibilitySource interface {
	TotalStake() uint64
	Stake(addr types.Address) uint64
}

// Facade is the read-only query surface of spec.md §4.8 and §6's RPC
// contract. It owns no write path; transaction submission goes through
// the pool, not here.
type Facade struct {
	db          store.Database
	accounts    AccountSource
	eligibility EligibilitySource
	bloom       *finalizer.BloomIndex

	headerByNumber *ValueByBlockCache[*types.FinalHeader]
	accountCache   *MapByBlockCache[types.Address, types.Account]
}

// New creates a Facade. capacity bounds both near-head caches
// (spec.md §4.8's "capacity N").
func New(db store.Database, accounts AccountSource, eligibility EligibilitySource, capacity int) *Facade {
	return &Facade{
		db:             db,
		accounts:       accounts,
		eligibility:    eligibility,
		bloom:          finalizer.NewBloomIndex(db),
		headerByNumber: NewValueByBlockCache[*types.FinalHeader](capacity),
		accountCache:   NewMapByBlockCache[types.Address, types.Account](capacity),
	}
}

// LatestPeriod returns the most recently finalised period number.
func (f *Facade) LatestPeriod() (uint64, error) {
	v, ok, err := f.db.Get(store.FinalChainMeta, store.KeyLastFinalisedPeriod)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	return store.Uint64FromKey(v), nil
}

// HeaderByNumber returns the final header of period.
func (f *Facade) HeaderByNumber(period uint64) (*types.FinalHeader, error) {
	return f.headerByNumber.Get(period, func() (*types.FinalHeader, error) {
		raw, ok, err := f.db.Get(store.FinalChainBlkByNumber, store.Uint64Key(period))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return types.DecodeFinalHeader(raw)
	})
}

// HashByPeriod returns the final header hash of period.
func (f *Facade) HashByPeriod(period uint64) (types.Hash, error) {
	raw, ok, err := f.db.Get(store.FinalChainBlkHashByNumber, store.Uint64Key(period))
	if err != nil {
		return types.Hash{}, err
	}
	if !ok {
		return types.Hash{}, ErrNotFound
	}
	var h types.Hash
	copy(h[:], raw)
	return h, nil
}

// PeriodByHash returns the period number a final header hash belongs to.
func (f *Facade) PeriodByHash(hash types.Hash) (uint64, error) {
	raw, ok, err := f.db.Get(store.FinalChainBlkNumberByHash, hash[:])
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	return store.Uint64FromKey(raw), nil
}

// HeaderByHash returns the final header identified by hash.
func (f *Facade) HeaderByHash(hash types.Hash) (*types.FinalHeader, error) {
	period, err := f.PeriodByHash(hash)
	if err != nil {
		return nil, err
	}
	return f.HeaderByNumber(period)
}

// Transaction returns a previously-admitted transaction body by hash
// (spec.md §6 RPC: "transaction by hash"). Bodies are written by the
// pool on admission and retained regardless of finalisation, since DAG
// blocks reference only transaction hashes.
func (f *Facade) Transaction(hash types.Hash) (*types.Transaction, error) {
	raw, ok, err := f.db.Get(store.Transactions, hash[:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return types.DecodeTransaction(raw)
}

// TransactionPeriod returns the period a transaction was finalised in.
func (f *Facade) TransactionPeriod(hash types.Hash) (uint64, error) {
	raw, ok, err := f.db.Get(store.TxToPeriod, hash[:])
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	return store.Uint64FromKey(raw), nil
}

// Receipt returns the execution receipt of a finalised transaction.
func (f *Facade) Receipt(hash types.Hash) (types.Receipt, error) {
	raw, ok, err := f.db.Get(store.FinalChainReceiptByTrxHash, hash[:])
	if err != nil {
		return types.Receipt{}, err
	}
	if !ok {
		return types.Receipt{}, ErrNotFound
	}
	return types.DecodeReceipt(raw)
}

// TransactionCount returns the number of transactions finalised in period.
func (f *Facade) TransactionCount(period uint64) (int, error) {
	raw, ok, err := f.db.Get(store.PeriodData, store.Uint64Key(period))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	_, txHashes, err := finalizer.DecodePeriodData(raw)
	if err != nil {
		return 0, err
	}
	return len(txHashes), nil
}

// Account returns addr's latest committed account state; before any
// period has finalised this is the genesis state.
func (f *Facade) Account(addr types.Address) (types.Account, error) {
	period, err := f.LatestPeriod()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return types.Account{}, err
	}
	return f.accountCache.Get(period, addr, func() (types.Account, error) {
		return f.accounts.Account(addr), nil
	})
}

// Code returns addr's code. This repository's state executor
// (internal/executor) carries no bytecode (spec.md §1 Non-goals: "not
// a smart-contract VM"), so Code always reports empty — the method
// exists to satisfy spec.md §6's RPC contract shape for a future
// executor that does carry code.
func (f *Facade) Code(addr types.Address) ([]byte, error) {
	acc, err := f.Account(addr)
	if err != nil {
		return nil, err
	}
	if acc.CodeSize == 0 {
		return nil, nil
	}
	raw, ok, err := f.db.Get(store.StateCode, acc.CodeHash[:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

// LogFilter describes a logs query (spec.md §6: "logs matching (address
// set, topic vector, period range)").
type LogFilter struct {
	Addresses []types.Address
	Topics    []types.Hash
	FromPeriod uint64
	ToPeriod   uint64
}

func (lf LogFilter) bloom() types.Bloom {
	var b types.Bloom
	for _, a := range lf.Addresses {
		b.Add(a[:])
	}
	for _, t := range lf.Topics {
		b.Add(t[:])
	}
	return b
}

func (lf LogFilter) matches(l types.LogEntry) bool {
	if len(lf.Addresses) > 0 {
		found := false
		for _, a := range lf.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, t := range lf.Topics {
		found := false
		for _, lt := range l.Topics {
			if t == lt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Logs evaluates a filter using the hierarchical bloom index to skip
// whole period ranges, then re-checks each candidate period's actual
// receipts (spec.md §4.6: "the index only prunes").
func (f *Facade) Logs(filter LogFilter) ([]types.LogEntry, error) {
	want := filter.bloom()
	candidates := f.bloom.CandidatePeriods(want, filter.FromPeriod, filter.ToPeriod)

	var out []types.LogEntry
	for _, period := range candidates {
		raw, ok, err := f.db.Get(store.PeriodData, store.Uint64Key(period))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		_, txHashes, err := finalizer.DecodePeriodData(raw)
		if err != nil {
			return nil, err
		}
		for _, txHash := range txHashes {
			receipt, err := f.Receipt(txHash)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			for _, l := range receipt.Logs {
				if filter.matches(l) {
					out = append(out, l)
				}
			}
		}
	}
	return out, nil
}

// EligibleVoteCount returns the total stake weight eligible to vote at
// a period (spec.md §6 RPC: "eligible-vote count at period").
// Eligibility weights are not period-indexed in this implementation
// (spec.md §9 Open Question: stake is read from the live validator set,
// not snapshotted per period), so the period argument is accepted for
// interface symmetry with the RPC contract and currently ignored.
func (f *Facade) EligibleVoteCount(period uint64) uint64 {
	return f.eligibility.TotalStake()
}

// IsEligible reports whether addr holds any sortition stake.
func (f *Facade) IsEligible(addr types.Address, period uint64) bool {
	return f.eligibility.Stake(addr) > 0
}
