// Package netcap implements spec.md §6's peer wire protocol: a
// length-prefixed frame carrying a capability name, a packet type, and
// an RLP-encoded payload, plus the multi-frame reassembly contract for
// payloads above 15 MiB. Only the packet-type table and its payload
// shapes live here — the actual authenticated duplex transport (RLPx,
// NAT traversal, peer discovery) is out of scope per spec.md §1 and is
// represented only by the FrameTransport seam the rest of the core
// programs against, the same "alias the transport, implement the
// contract" split the teacher uses in engine/core/common (Sender/
// Handler aliased from github.com/luxfi/warp).
package netcap

import (
	"github.com/dagchain/node/internal/rlp"
	"github.com/dagchain/node/internal/types"
)

// PacketType is the small integer packet-type tag of spec.md §6.
type PacketType uint8

const (
	PacketStatus PacketType = iota
	PacketNewDagBlock
	PacketDagBlockHash
	PacketGetDagBlock
	PacketDagBlock
	PacketGetBlocksLevel
	PacketBlocks
	PacketNewPbftBlock
	PacketGetPbftBlock
	PacketPbftBlock
	PacketPbftVote
	PacketGetNextVotes
	PacketNextVotes
	PacketTransaction
	PacketSynced
)

func (t PacketType) String() string {
	switch t {
	case PacketStatus:
		return "Status"
	case PacketNewDagBlock:
		return "NewDagBlock"
	case PacketDagBlockHash:
		return "DagBlockHash"
	case PacketGetDagBlock:
		return "GetDagBlock"
	case PacketDagBlock:
		return "DagBlock"
	case PacketGetBlocksLevel:
		return "GetBlocksLevel"
	case PacketBlocks:
		return "Blocks"
	case PacketNewPbftBlock:
		return "NewPbftBlock"
	case PacketGetPbftBlock:
		return "GetPbftBlock"
	case PacketPbftBlock:
		return "PbftBlock"
	case PacketPbftVote:
		return "PbftVote"
	case PacketGetNextVotes:
		return "GetNextVotes"
	case PacketNextVotes:
		return "NextVotes"
	case PacketTransaction:
		return "Transaction"
	case PacketSynced:
		return "Synced"
	default:
		return "Unknown"
	}
}

// Packet is anything with an RLP payload encoding, mirroring how
// internal/types has each entity own its EncodeRLP rather than a
// reflection-based marshaler.
type Packet interface {
	PacketType() PacketType
	EncodeRLP() []byte
}

// StatusPayload is the handshake packet (spec.md §6: "protocol version,
// network id, genesis hash, DAG max level, PBFT chain size").
type StatusPayload struct {
	ProtocolVersion uint32
	NetworkID       uint64
	GenesisHash     types.Hash
	DagMaxLevel     uint64
	PbftChainSize   uint64
}

func (p *StatusPayload) PacketType() PacketType { return PacketStatus }

func (p *StatusPayload) EncodeRLP() []byte {
	return rlp.Encode(rlp.List(
		rlp.Uint(uint64(p.ProtocolVersion)),
		rlp.Uint(p.NetworkID),
		rlp.String(p.GenesisHash[:]),
		rlp.Uint(p.DagMaxLevel),
		rlp.Uint(p.PbftChainSize),
	))
}

// DecodeStatusPayload decodes a StatusPayload from its RLP encoding.
func DecodeStatusPayload(b []byte) (*StatusPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	items := it.Items()
	if len(items) != 5 {
		return nil, rlp.ErrUnexpectedKind
	}
	p := &StatusPayload{
		ProtocolVersion: uint32(items[0].Uint64()),
		NetworkID:       items[1].Uint64(),
		DagMaxLevel:     items[3].Uint64(),
		PbftChainSize:   items[4].Uint64(),
	}
	copy(p.GenesisHash[:], items[2].Bytes())
	return p, nil
}

// NewDagBlockPayload is gossiped on local seal: the block plus any
// transactions the peer may lack (spec.md §6).
type NewDagBlockPayload struct {
	Block        *types.DagBlock
	Transactions []*types.Transaction
}

func (p *NewDagBlockPayload) PacketType() PacketType { return PacketNewDagBlock }

func (p *NewDagBlockPayload) EncodeRLP() []byte {
	txItems := make([]rlp.Item, len(p.Transactions))
	for i, tx := range p.Transactions {
		txItems[i] = rlp.String(tx.EncodeRLP())
	}
	return rlp.Encode(rlp.List(
		rlp.String(p.Block.EncodeRLP()),
		rlp.List(txItems...),
	))
}

// DecodeNewDagBlockPayload decodes a NewDagBlockPayload.
func DecodeNewDagBlockPayload(b []byte) (*NewDagBlockPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	items := it.Items()
	if len(items) != 2 {
		return nil, rlp.ErrUnexpectedKind
	}
	block, err := types.DecodeDagBlock(items[0].Bytes())
	if err != nil {
		return nil, err
	}
	txs, err := decodeTxList(items[1])
	if err != nil {
		return nil, err
	}
	return &NewDagBlockPayload{Block: block, Transactions: txs}, nil
}

func decodeTxList(it rlp.Item) ([]*types.Transaction, error) {
	children := it.Items()
	txs := make([]*types.Transaction, len(children))
	for i, c := range children {
		tx, err := types.DecodeTransaction(c.Bytes())
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return txs, nil
}

// DagBlockHashPayload gossips a single block hash (spec.md §6).
type DagBlockHashPayload struct{ Hash types.Hash }

func (p *DagBlockHashPayload) PacketType() PacketType { return PacketDagBlockHash }
func (p *DagBlockHashPayload) EncodeRLP() []byte {
	return rlp.Encode(rlp.String(p.Hash[:]))
}

// DecodeDagBlockHashPayload decodes a DagBlockHashPayload.
func DecodeDagBlockHashPayload(b []byte) (*DagBlockHashPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	var h types.Hash
	copy(h[:], it.Bytes())
	return &DagBlockHashPayload{Hash: h}, nil
}

// GetDagBlockPayload requests a single block by hash (spec.md §6).
type GetDagBlockPayload struct{ Hash types.Hash }

func (p *GetDagBlockPayload) PacketType() PacketType { return PacketGetDagBlock }
func (p *GetDagBlockPayload) EncodeRLP() []byte      { return rlp.Encode(rlp.String(p.Hash[:])) }

// DecodeGetDagBlockPayload decodes a GetDagBlockPayload.
func DecodeGetDagBlockPayload(b []byte) (*GetDagBlockPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	var h types.Hash
	copy(h[:], it.Bytes())
	return &GetDagBlockPayload{Hash: h}, nil
}

// DagBlockPayload answers GetDagBlock: one block plus its contained
// transactions (spec.md §6).
type DagBlockPayload struct {
	Block        *types.DagBlock
	Transactions []*types.Transaction
}

func (p *DagBlockPayload) PacketType() PacketType { return PacketDagBlock }
func (p *DagBlockPayload) EncodeRLP() []byte       { return (*NewDagBlockPayload)(p).EncodeRLP() }

// DecodeDagBlockPayload decodes a DagBlockPayload.
func DecodeDagBlockPayload(b []byte) (*DagBlockPayload, error) {
	inner, err := DecodeNewDagBlockPayload(b)
	if err != nil {
		return nil, err
	}
	return (*DagBlockPayload)(inner), nil
}

// GetBlocksLevelPayload requests blocks in a level range (spec.md §6).
type GetBlocksLevelPayload struct {
	FromLevel uint64
	Count     uint64
}

func (p *GetBlocksLevelPayload) PacketType() PacketType { return PacketGetBlocksLevel }
func (p *GetBlocksLevelPayload) EncodeRLP() []byte {
	return rlp.Encode(rlp.List(rlp.Uint(p.FromLevel), rlp.Uint(p.Count)))
}

// DecodeGetBlocksLevelPayload decodes a GetBlocksLevelPayload.
func DecodeGetBlocksLevelPayload(b []byte) (*GetBlocksLevelPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	items := it.Items()
	if len(items) != 2 {
		return nil, rlp.ErrUnexpectedKind
	}
	return &GetBlocksLevelPayload{FromLevel: items[0].Uint64(), Count: items[1].Uint64()}, nil
}

// BlockWithTransactions pairs one DAG block with the transactions it
// contains, the element type of the Blocks response list.
type BlockWithTransactions struct {
	Block        *types.DagBlock
	Transactions []*types.Transaction
}

// BlocksPayload answers GetBlocksLevel (spec.md §6).
type BlocksPayload struct{ Blocks []BlockWithTransactions }

func (p *BlocksPayload) PacketType() PacketType { return PacketBlocks }
func (p *BlocksPayload) EncodeRLP() []byte {
	items := make([]rlp.Item, len(p.Blocks))
	for i, bwt := range p.Blocks {
		txItems := make([]rlp.Item, len(bwt.Transactions))
		for j, tx := range bwt.Transactions {
			txItems[j] = rlp.String(tx.EncodeRLP())
		}
		items[i] = rlp.List(rlp.String(bwt.Block.EncodeRLP()), rlp.List(txItems...))
	}
	return rlp.Encode(rlp.List(items...))
}

// DecodeBlocksPayload decodes a BlocksPayload.
func DecodeBlocksPayload(b []byte) (*BlocksPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	entries := it.Items()
	out := make([]BlockWithTransactions, len(entries))
	for i, e := range entries {
		fields := e.Items()
		if len(fields) != 2 {
			return nil, rlp.ErrUnexpectedKind
		}
		block, err := types.DecodeDagBlock(fields[0].Bytes())
		if err != nil {
			return nil, err
		}
		txs, err := decodeTxList(fields[1])
		if err != nil {
			return nil, err
		}
		out[i] = BlockWithTransactions{Block: block, Transactions: txs}
	}
	return &BlocksPayload{Blocks: out}, nil
}

// NewPbftBlockPayload gossips a freshly-proposed PBFT block (spec.md §6).
type NewPbftBlockPayload struct{ Header *types.FinalHeader }

func (p *NewPbftBlockPayload) PacketType() PacketType { return PacketNewPbftBlock }
func (p *NewPbftBlockPayload) EncodeRLP() []byte      { return p.Header.EncodeRLP() }

// DecodeNewPbftBlockPayload decodes a NewPbftBlockPayload.
func DecodeNewPbftBlockPayload(b []byte) (*NewPbftBlockPayload, error) {
	h, err := types.DecodeFinalHeader(b)
	if err != nil {
		return nil, err
	}
	return &NewPbftBlockPayload{Header: h}, nil
}

// GetPbftBlockPayload requests finalised periods (spec.md §6).
type GetPbftBlockPayload struct {
	FromPeriod uint64
	Count      uint64
}

func (p *GetPbftBlockPayload) PacketType() PacketType { return PacketGetPbftBlock }
func (p *GetPbftBlockPayload) EncodeRLP() []byte {
	return rlp.Encode(rlp.List(rlp.Uint(p.FromPeriod), rlp.Uint(p.Count)))
}

// DecodeGetPbftBlockPayload decodes a GetPbftBlockPayload.
func DecodeGetPbftBlockPayload(b []byte) (*GetPbftBlockPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	items := it.Items()
	if len(items) != 2 {
		return nil, rlp.ErrUnexpectedKind
	}
	return &GetPbftBlockPayload{FromPeriod: items[0].Uint64(), Count: items[1].Uint64()}, nil
}

// PeriodWithVotes pairs one finalised period's header with its
// certifying vote set, the element type of the PbftBlock response list.
type PeriodWithVotes struct {
	Header *types.FinalHeader
	Votes  []*types.Vote
}

// PbftBlockPayload answers GetPbftBlock (spec.md §6).
type PbftBlockPayload struct{ Periods []PeriodWithVotes }

func (p *PbftBlockPayload) PacketType() PacketType { return PacketPbftBlock }
func (p *PbftBlockPayload) EncodeRLP() []byte {
	items := make([]rlp.Item, len(p.Periods))
	for i, pw := range p.Periods {
		voteItems := make([]rlp.Item, len(pw.Votes))
		for j, v := range pw.Votes {
			voteItems[j] = rlp.String(v.EncodeRLP())
		}
		items[i] = rlp.List(rlp.String(pw.Header.EncodeRLP()), rlp.List(voteItems...))
	}
	return rlp.Encode(rlp.List(items...))
}

// DecodePbftBlockPayload decodes a PbftBlockPayload.
func DecodePbftBlockPayload(b []byte) (*PbftBlockPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	entries := it.Items()
	out := make([]PeriodWithVotes, len(entries))
	for i, e := range entries {
		fields := e.Items()
		if len(fields) != 2 {
			return nil, rlp.ErrUnexpectedKind
		}
		header, err := types.DecodeFinalHeader(fields[0].Bytes())
		if err != nil {
			return nil, err
		}
		voteFields := fields[1].Items()
		votes := make([]*types.Vote, len(voteFields))
		for j, vf := range voteFields {
			v, err := types.DecodeVote(vf.Bytes())
			if err != nil {
				return nil, err
			}
			votes[j] = v
		}
		out[i] = PeriodWithVotes{Header: header, Votes: votes}
	}
	return &PbftBlockPayload{Periods: out}, nil
}

// PbftVotePayload carries one vote or a batch (spec.md §6).
type PbftVotePayload struct{ Votes []*types.Vote }

func (p *PbftVotePayload) PacketType() PacketType { return PacketPbftVote }
func (p *PbftVotePayload) EncodeRLP() []byte {
	items := make([]rlp.Item, len(p.Votes))
	for i, v := range p.Votes {
		items[i] = rlp.String(v.EncodeRLP())
	}
	return rlp.Encode(rlp.List(items...))
}

// DecodePbftVotePayload decodes a PbftVotePayload.
func DecodePbftVotePayload(b []byte) (*PbftVotePayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	children := it.Items()
	votes := make([]*types.Vote, len(children))
	for i, c := range children {
		v, err := types.DecodeVote(c.Bytes())
		if err != nil {
			return nil, err
		}
		votes[i] = v
	}
	return &PbftVotePayload{Votes: votes}, nil
}

// GetNextVotesPayload requests the previous round's carry-over vote set
// (spec.md §6).
type GetNextVotesPayload struct {
	Period uint64
	Round  uint32
}

func (p *GetNextVotesPayload) PacketType() PacketType { return PacketGetNextVotes }
func (p *GetNextVotesPayload) EncodeRLP() []byte {
	return rlp.Encode(rlp.List(rlp.Uint(p.Period), rlp.Uint(uint64(p.Round))))
}

// DecodeGetNextVotesPayload decodes a GetNextVotesPayload.
func DecodeGetNextVotesPayload(b []byte) (*GetNextVotesPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	items := it.Items()
	if len(items) != 2 {
		return nil, rlp.ErrUnexpectedKind
	}
	return &GetNextVotesPayload{Period: items[0].Uint64(), Round: uint32(items[1].Uint64())}, nil
}

// NextVotesPayload answers GetNextVotes (spec.md §6).
type NextVotesPayload struct{ Votes []*types.Vote }

func (p *NextVotesPayload) PacketType() PacketType { return PacketNextVotes }
func (p *NextVotesPayload) EncodeRLP() []byte       { return (*PbftVotePayload)(p).EncodeRLP() }

// DecodeNextVotesPayload decodes a NextVotesPayload.
func DecodeNextVotesPayload(b []byte) (*NextVotesPayload, error) {
	inner, err := DecodePbftVotePayload(b)
	if err != nil {
		return nil, err
	}
	return (*NextVotesPayload)(inner), nil
}

// TransactionPayload carries a list of transactions (spec.md §6).
type TransactionPayload struct{ Transactions []*types.Transaction }

func (p *TransactionPayload) PacketType() PacketType { return PacketTransaction }
func (p *TransactionPayload) EncodeRLP() []byte {
	items := make([]rlp.Item, len(p.Transactions))
	for i, tx := range p.Transactions {
		items[i] = rlp.String(tx.EncodeRLP())
	}
	return rlp.Encode(rlp.List(items...))
}

// DecodeTransactionPayload decodes a TransactionPayload.
func DecodeTransactionPayload(b []byte) (*TransactionPayload, error) {
	it, _, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	txs, err := decodeTxList(it)
	if err != nil {
		return nil, err
	}
	return &TransactionPayload{Transactions: txs}, nil
}

// SyncedPayload notifies that the peer has reached local tip (spec.md
// §6); it carries no fields.
type SyncedPayload struct{}

func (p *SyncedPayload) PacketType() PacketType { return PacketSynced }
func (p *SyncedPayload) EncodeRLP() []byte       { return rlp.Encode(rlp.List()) }

// DecodeSyncedPayload decodes a SyncedPayload.
func DecodeSyncedPayload(b []byte) (*SyncedPayload, error) {
	if _, _, err := rlp.Decode(b); err != nil {
		return nil, err
	}
	return &SyncedPayload{}, nil
}
