package finalizer

import (
	"encoding/binary"

	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

// chunkFanout is the branching factor of the two-level hierarchical
// log-bloom index of spec.md §4.6: 16 periods per level-0 chunk, 16
// level-0 chunks per level-1 chunk (256 periods).
const chunkFanout = 16

// BloomIndex maintains the hierarchical OR-reduction used to skip
// large period ranges during a log query without reading every
// period's receipts.
type BloomIndex struct {
	db store.Database
}

// NewBloomIndex wraps db for bloom-chunk reads; writes always go
// through the caller's batch so they commit atomically with the rest
// of a period's finalisation.
func NewBloomIndex(db store.Database) *BloomIndex {
	return &BloomIndex{db: db}
}

// Update folds period's combined log bloom into its level-0 and
// level-1 chunks.
func (b *BloomIndex) Update(batch store.Batch, period uint64, bloom types.Bloom) {
	chunk0 := period / chunkFanout
	b.orInto(batch, 0, chunk0, bloom)
	chunk1 := chunk0 / chunkFanout
	b.orInto(batch, 1, chunk1, bloom)
}

func (b *BloomIndex) orInto(batch store.Batch, level byte, chunkIdx uint64, bloom types.Bloom) {
	key := bloomChunkKey(level, chunkIdx)
	acc := b.readChunk(level, chunkIdx)
	acc.OrWith(bloom)
	batch.Put(store.FinalChainLogBloomsIndex, key, acc[:])
}

func (b *BloomIndex) readChunk(level byte, chunkIdx uint64) types.Bloom {
	var acc types.Bloom
	existing, ok, _ := b.db.Get(store.FinalChainLogBloomsIndex, bloomChunkKey(level, chunkIdx))
	if ok {
		copy(acc[:], existing)
	}
	return acc
}

func bloomChunkKey(level byte, chunkIdx uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = level
	binary.BigEndian.PutUint64(key[1:], chunkIdx)
	return key
}

// CandidatePeriods walks level 1 first, skipping any chunk whose OR
// does not contain want, and recurses into matching level-0 children,
// returning every period in [from, to] whose chunk ancestry might
// contain a matching log (spec.md §4.6: "worst case returns all
// candidate periods in the range"). Callers must still check each
// candidate period's own receipts/logs — the index only prunes.
func (b *BloomIndex) CandidatePeriods(want types.Bloom, from, to uint64) []uint64 {
	if from > to {
		return nil
	}
	var out []uint64
	chunk1Lo := (from / chunkFanout) / chunkFanout
	chunk1Hi := (to / chunkFanout) / chunkFanout

	for c1 := chunk1Lo; c1 <= chunk1Hi; c1++ {
		l1 := b.readChunk(1, c1)
		if !l1.Contains(want) {
			continue
		}
		chunk0Lo := c1 * chunkFanout
		chunk0Hi := chunk0Lo + chunkFanout - 1
		for c0 := chunk0Lo; c0 <= chunk0Hi; c0++ {
			periodLo := c0 * chunkFanout
			periodHi := periodLo + chunkFanout - 1
			if periodHi < from || periodLo > to {
				continue
			}
			l0 := b.readChunk(0, c0)
			if !l0.Contains(want) {
				continue
			}
			lo, hi := periodLo, periodHi
			if lo < from {
				lo = from
			}
			if hi > to {
				hi = to
			}
			for p := lo; p <= hi; p++ {
				out = append(out, p)
			}
		}
	}
	return out
}
