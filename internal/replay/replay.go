// Package replay implements the per-sender nonce-watermark service of
// spec.md §4.4: it is the sole authority on whether a transaction's
// nonce is stale, and it advances its watermarks atomically with block
// commit by writing into the finaliser's batch.
//
// The in-memory maps mirror what Load reconstructs from the durable
// store on startup, in the same "rebuild volatile index from the
// persisted columns" style the teacher's dag.DAG uses for its own
// arena (dag/dag.go) — replay never depends on crash-era in-memory
// state surviving a restart: any round-max/dirty-list record still
// present in the store was, by construction, never promoted, so Load
// replays it back into the pending maps exactly as Record left it.
package replay

import (
	"encoding/binary"

	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

type roundKey struct {
	period uint64
	sender types.Address
}

// Service tracks, per sender, the largest nonce ever seen in a
// finalised transaction (nonce_max) and — once that sender's activity
// has aged out of the retention window — the promoted nonce_watermark
// below which any nonce is stale.
type Service struct {
	window uint64

	nonceMax  map[types.Address]uint64
	watermark map[types.Address]uint64

	// pendingRoundMax/pendingDirty hold the not-yet-promoted bookkeeping
	// records: the nonce_max recorded for a sender as of a given period,
	// and the set of senders touched in that period. Both are deleted
	// once the period falls out of the window and gets promoted.
	pendingRoundMax map[roundKey]uint64
	pendingDirty    map[uint64][]types.Address
}

// New creates a Service with the given retention window (in periods),
// per spec.md §4.4's `window = W` parameter.
func New(window uint64) *Service {
	return &Service{
		window:          window,
		nonceMax:        make(map[types.Address]uint64),
		watermark:       make(map[types.Address]uint64),
		pendingRoundMax: make(map[roundKey]uint64),
		pendingDirty:    make(map[uint64][]types.Address),
	}
}

// Load rebuilds the in-memory nonce_max, watermark, and not-yet-
// promoted bookkeeping maps from the durable store, so replay state
// survives a restart without depending on in-memory carry-over.
func (s *Service) Load(db store.Database) error {
	nm := db.NewIterator(store.ReplayProtection, []byte{store.ReplaySubkindNonceMax})
	defer nm.Close()
	for nm.Next() {
		addr, ok := addressFromKey(nm.Key())
		if !ok {
			continue
		}
		s.nonceMax[addr] = binary.BigEndian.Uint64(nm.Value())
	}

	wm := db.NewIterator(store.ReplayProtection, []byte{store.ReplaySubkindWatermark})
	defer wm.Close()
	for wm.Next() {
		addr, ok := addressFromKey(wm.Key())
		if !ok {
			continue
		}
		s.watermark[addr] = binary.BigEndian.Uint64(wm.Value())
	}

	rm := db.NewIterator(store.ReplayProtection, []byte{store.ReplaySubkindRoundMax})
	defer rm.Close()
	for rm.Next() {
		key := rm.Key()
		if len(key) < 1+8+20 {
			continue
		}
		period := binary.BigEndian.Uint64(key[1:9])
		var addr types.Address
		copy(addr[:], key[9:])
		s.pendingRoundMax[roundKey{period, addr}] = binary.BigEndian.Uint64(rm.Value())
	}

	dl := db.NewIterator(store.ReplayProtection, []byte{store.ReplaySubkindDirtyList})
	defer dl.Close()
	for dl.Next() {
		key := dl.Key()
		if len(key) < 1+8 {
			continue
		}
		period := binary.BigEndian.Uint64(key[1:9])
		s.pendingDirty[period] = decodeAddressList(dl.Value())
	}
	return nil
}

func addressFromKey(key []byte) (types.Address, bool) {
	if len(key) < 1+20 {
		return types.Address{}, false
	}
	var addr types.Address
	copy(addr[:], key[1:])
	return addr, true
}

// IsStale reports whether nonce is at or below sender's promoted
// watermark — i.e. definitely already finalised or permanently
// unreachable, per spec.md §4.4.
func (s *Service) IsStale(sender types.Address, nonce uint64) bool {
	wm, ok := s.watermark[sender]
	return ok && nonce <= wm
}

// NonceMax returns the largest nonce ever seen finalised for sender,
// and whether any has been seen at all.
func (s *Service) NonceMax(sender types.Address) (uint64, bool) {
	v, ok := s.nonceMax[sender]
	return v, ok
}

// Record advances nonce_max for every sender among txs whose nonce
// exceeds what has been seen, writes the per-(period, sender)
// round-max bookkeeping record, appends each touched sender to the
// period's dirty list, and — once period has reached the retention
// window — promotes period-window's dirty senders to a watermark and
// deletes their bookkeeping keys. Every write lands in batch so it
// commits atomically with the rest of the period's finalisation
// (spec.md §4.4: "all writes piggyback on the finaliser's batch").
func (s *Service) Record(batch store.Batch, period uint64, txs []*types.Transaction) {
	touched := make(map[types.Address]struct{})
	for _, tx := range txs {
		sender := tx.Sender
		if cur, ok := s.nonceMax[sender]; !ok || tx.Nonce > cur {
			s.nonceMax[sender] = tx.Nonce
		}
		touched[sender] = struct{}{}
	}

	existing := s.pendingDirty[period]
	for sender := range touched {
		batch.Put(store.ReplayProtection, store.ReplayNonceMaxKey(sender[:]), encodeUint64(s.nonceMax[sender]))
		batch.Put(store.ReplayProtection, store.ReplayRoundMaxKey(period, sender[:]), encodeUint64(s.nonceMax[sender]))
		s.pendingRoundMax[roundKey{period, sender}] = s.nonceMax[sender]
		if !containsAddress(existing, sender) {
			existing = append(existing, sender)
		}
	}
	if len(touched) > 0 {
		s.pendingDirty[period] = existing
		batch.Put(store.ReplayProtection, store.ReplayDirtyListKey(period), encodeAddressList(existing))
	}

	if period < s.window {
		return
	}
	s.promote(batch, period-s.window)
}

// promote promotes oldPeriod's dirty senders' then-nonce_max to a
// watermark and deletes the now-unneeded bookkeeping keys.
func (s *Service) promote(batch store.Batch, oldPeriod uint64) {
	senders, ok := s.pendingDirty[oldPeriod]
	if !ok {
		return
	}
	for _, sender := range senders {
		roundMax, ok := s.pendingRoundMax[roundKey{oldPeriod, sender}]
		if !ok {
			continue
		}
		if cur, exists := s.watermark[sender]; !exists || roundMax > cur {
			s.watermark[sender] = roundMax
		}
		batch.Put(store.ReplayProtection, store.ReplayWatermarkKey(sender[:]), encodeUint64(s.watermark[sender]))
		batch.Delete(store.ReplayProtection, store.ReplayRoundMaxKey(oldPeriod, sender[:]))
		delete(s.pendingRoundMax, roundKey{oldPeriod, sender})
	}
	batch.Delete(store.ReplayProtection, store.ReplayDirtyListKey(oldPeriod))
	delete(s.pendingDirty, oldPeriod)
}

func containsAddress(list []types.Address, a types.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// encodeAddressList/decodeAddressList pack a dirty-sender list as
// fixed-width 20-byte records, avoiding a dependency on internal/rlp
// for what is already a trivially fixed-size format.
func encodeAddressList(addrs []types.Address) []byte {
	out := make([]byte, 0, len(addrs)*20)
	for _, a := range addrs {
		out = append(out, a[:]...)
	}
	return out
}

func decodeAddressList(b []byte) []types.Address {
	n := len(b) / 20
	out := make([]types.Address, 0, n)
	for i := 0; i < n; i++ {
		var a types.Address
		copy(a[:], b[i*20:(i+1)*20])
		out = append(out, a)
	}
	return out
}
