package types

import "math/big"

// SystemAddress is the reserved sender of implicit reward transfers
// (spec.md §4.6 "Rewards and system transactions"). It is funded at
// genesis rather than given unlimited balance so reward issuance stays
// an ordinary, balance-checked transfer like any other transaction.
var SystemAddress = Address{0: 0xff, 19: 0xfe}

// Account is the per-address state record of spec.md §3. An account
// with zero nonce and balance, empty storage, and empty code is
// indistinguishable from "absent".
type Account struct {
	Nonce       uint64
	Balance     *big.Int
	StorageRoot Hash
	CodeHash    Hash
	CodeSize    uint64
}

// EmptyAccount is the zero-value account used for absent addresses.
func EmptyAccount() Account {
	return Account{Balance: big.NewInt(0)}
}

// IsEmpty reports whether a holds no observable state.
func (a Account) IsEmpty() bool {
	return a.Nonce == 0 &&
		(a.Balance == nil || a.Balance.Sign() == 0) &&
		a.StorageRoot == ZeroHash &&
		a.CodeHash == ZeroHash &&
		a.CodeSize == 0
}

// EncodeRLP returns the canonical RLP encoding of the account, used as
// the per-address leaf value whose hash (alongside every other
// account's) derives the state root, and as the wire/storage form of
// the state column.
func (a Account) EncodeRLP() []byte {
	balance := big.NewInt(0)
	if a.Balance != nil {
		balance = a.Balance
	}
	return rlpEncode(rlpList(
		rlpUint(a.Nonce),
		rlpBytes(balance.Bytes()),
		rlpBytes(a.StorageRoot[:]),
		rlpBytes(a.CodeHash[:]),
		rlpUint(a.CodeSize),
	))
}

// LogEntry is one receipt log.
type LogEntry struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

// Receipt is the per-transaction execution outcome of spec.md §3.
type Receipt struct {
	Status            uint64 // 1 = success, 0 = failure (consensus error)
	GasUsed           uint64
	CumulativeGasUsed uint64
	Logs              []LogEntry
	ContractAddress   *Address // non-nil only for a successful contract creation
}

// Bloom computes this receipt's own log bloom from its log entries.
func (r Receipt) Bloom() Bloom {
	var b Bloom
	for _, l := range r.Logs {
		b.Add(l.Address[:])
		for _, t := range l.Topics {
			b.Add(t[:])
		}
	}
	return b
}

func (r Receipt) rlpItems() []rlpItem {
	logItems := make([]rlpItem, len(r.Logs))
	for i, l := range r.Logs {
		topicItems := make([]rlpItem, len(l.Topics))
		for j, t := range l.Topics {
			topicItems[j] = rlpBytes(t[:])
		}
		logItems[i] = rlpList(rlpBytes(l.Address[:]), rlpList(topicItems...), rlpBytes(l.Data))
	}
	contract := []byte{}
	if r.ContractAddress != nil {
		contract = r.ContractAddress[:]
	}
	return []rlpItem{
		rlpUint(r.Status),
		rlpUint(r.GasUsed),
		rlpUint(r.CumulativeGasUsed),
		rlpList(logItems...),
		rlpBytes(contract),
	}
}

// EncodeRLP returns the canonical RLP encoding of the receipt, used both
// on the wire and to build the receipts-root hash of the final header.
func (r Receipt) EncodeRLP() []byte {
	return rlpEncode(rlpList(r.rlpItems()...))
}
