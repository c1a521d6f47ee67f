package types

import (
	"math/big"

	"github.com/dagchain/node/internal/rlp"
)

// Decode* functions are the read side of each type's EncodeRLP: parsed
// back out of the store (internal/query, internal/sync) or off the
// wire (internal/netcap), mirroring the teacher's habit of keeping
// marshaling explicit per type rather than reflection-based.

func hashFromItem(it rlpItem) Hash {
	var h Hash
	copy(h[:], it.Bytes())
	return h
}

func addressFromItem(it rlpItem) Address {
	return AddressFromBytes(it.Bytes())
}

func bigFromItem(it rlpItem) *big.Int {
	return new(big.Int).SetBytes(it.Bytes())
}

// DecodeTransaction parses a transaction previously produced by
// Transaction.EncodeRLP.
func DecodeTransaction(b []byte) (*Transaction, error) {
	item, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	f := item.Items()
	if len(f) != 7 {
		return nil, rlp.ErrUnexpectedKind
	}
	tx := &Transaction{
		Nonce:     f[1].Uint64(),
		GasPrice:  bigFromItem(f[2]),
		GasLimit:  f[3].Uint64(),
		Value:     bigFromItem(f[4]),
		Data:      append([]byte(nil), f[5].Bytes()...),
		Signature: append(Signature(nil), f[6].Bytes()...),
	}
	if len(f[0].Bytes()) > 0 {
		to := addressFromItem(f[0])
		tx.To = &to
	}
	return tx, nil
}

func decodeSchedule(it rlpItem) Schedule {
	f := it.Items()
	if len(f) != 2 {
		return Schedule{}
	}
	groupItems := f[1].Items()
	groups := make([][]uint32, len(groupItems))
	for i, g := range groupItems {
		idxItems := g.Items()
		idx := make([]uint32, len(idxItems))
		for j, it := range idxItems {
			idx[j] = uint32(it.Uint64())
		}
		groups[i] = idx
	}
	return Schedule{Mode: ScheduleMode(f[0].Uint64()), Groups: groups}
}

// DecodeDagBlock parses a DAG block previously produced by
// DagBlock.EncodeRLP.
func DecodeDagBlock(b []byte) (*DagBlock, error) {
	item, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	f := item.Items()
	if len(f) != 7 {
		return nil, rlp.ErrUnexpectedKind
	}
	tipItems := f[1].Items()
	tips := make([]Hash, len(tipItems))
	for i, t := range tipItems {
		tips[i] = hashFromItem(t)
	}
	txItems := f[2].Items()
	txs := make([]Hash, len(txItems))
	for i, t := range txItems {
		txs[i] = hashFromItem(t)
	}
	return &DagBlock{
		Pivot:        hashFromItem(f[0]),
		Tips:         tips,
		Transactions: txs,
		Level:        f[3].Uint64(),
		Timestamp:    int64(f[4].Uint64()),
		Schedule:     decodeSchedule(f[5]),
		Signature:    append(Signature(nil), f[6].Bytes()...),
	}, nil
}

// DecodeAccount parses an account previously produced by
// Account.EncodeRLP.
func DecodeAccount(b []byte) (Account, error) {
	item, _, err := rlp.Decode(b)
	if err != nil {
		return Account{}, err
	}
	f := item.Items()
	if len(f) != 5 {
		return Account{}, rlp.ErrUnexpectedKind
	}
	return Account{
		Nonce:       f[0].Uint64(),
		Balance:     bigFromItem(f[1]),
		StorageRoot: hashFromItem(f[2]),
		CodeHash:    hashFromItem(f[3]),
		CodeSize:    f[4].Uint64(),
	}, nil
}

func decodeLogEntry(it rlpItem) LogEntry {
	f := it.Items()
	if len(f) != 3 {
		return LogEntry{}
	}
	topicItems := f[1].Items()
	topics := make([]Hash, len(topicItems))
	for i, t := range topicItems {
		topics[i] = hashFromItem(t)
	}
	return LogEntry{
		Address: addressFromItem(f[0]),
		Topics:  topics,
		Data:    append([]byte(nil), f[2].Bytes()...),
	}
}

// DecodeReceipt parses a receipt previously produced by
// Receipt.EncodeRLP.
func DecodeReceipt(b []byte) (Receipt, error) {
	item, _, err := rlp.Decode(b)
	if err != nil {
		return Receipt{}, err
	}
	f := item.Items()
	if len(f) != 5 {
		return Receipt{}, rlp.ErrUnexpectedKind
	}
	logItems := f[3].Items()
	logs := make([]LogEntry, len(logItems))
	for i, l := range logItems {
		logs[i] = decodeLogEntry(l)
	}
	r := Receipt{
		Status:            f[0].Uint64(),
		GasUsed:           f[1].Uint64(),
		CumulativeGasUsed: f[2].Uint64(),
		Logs:              logs,
	}
	if len(f[4].Bytes()) > 0 {
		addr := addressFromItem(f[4])
		r.ContractAddress = &addr
	}
	return r, nil
}

// DecodeVote parses a vote previously produced by Vote.EncodeRLP.
func DecodeVote(b []byte) (*Vote, error) {
	item, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	f := item.Items()
	if len(f) != 7 {
		return nil, rlp.ErrUnexpectedKind
	}
	return &Vote{
		Voter:     addressFromItem(f[0]),
		Period:    f[1].Uint64(),
		Round:     uint32(f[2].Uint64()),
		Step:      VoteType(f[3].Uint64()),
		VotedHash: hashFromItem(f[4]),
		VRFProof:  append([]byte(nil), f[5].Bytes()...),
		Signature: append(Signature(nil), f[6].Bytes()...),
	}, nil
}

// DecodeFinalHeader parses a header previously produced by
// FinalHeader.EncodeRLP.
func DecodeFinalHeader(b []byte) (*FinalHeader, error) {
	item, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	f := item.Items()
	if len(f) != 11 {
		return nil, rlp.ErrUnexpectedKind
	}
	var bloom Bloom
	copy(bloom[:], f[6].Bytes())
	return &FinalHeader{
		ParentHash:   hashFromItem(f[0]),
		Author:       addressFromItem(f[1]),
		Timestamp:    int64(f[2].Uint64()),
		StateRoot:    hashFromItem(f[3]),
		TxRoot:       hashFromItem(f[4]),
		ReceiptsRoot: hashFromItem(f[5]),
		LogBloom:     bloom,
		GasUsed:      f[7].Uint64(),
		GasLimit:     f[8].Uint64(),
		Period:       f[9].Uint64(),
		PeriodHash:   hashFromItem(f[10]),
	}, nil
}
