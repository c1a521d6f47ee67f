package finalizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

// countingGets wraps a store.Database and counts Get calls against a
// single column, so a test can assert the hierarchical bloom index
// actually skips most of the range instead of just happening to
// return the right answer.
type countingGets struct {
	store.Database
	col   store.Column
	count int
}

func (c *countingGets) Get(col store.Column, key []byte) ([]byte, bool, error) {
	if col == c.col {
		c.count++
	}
	return c.Database.Get(col, key)
}

// TestCandidatePeriodsSkipsMostOfARange covers spec.md §8 scenario 6:
// across 300 periods with only one period's bloom matching the query,
// CandidatePeriods must return exactly that period while reading far
// fewer than 300 bloom-index chunks.
func TestCandidatePeriodsSkipsMostOfARange(t *testing.T) {
	mem, err := store.OpenMem()
	require.NoError(t, err)
	defer mem.Close()
	counted := &countingGets{Database: mem, col: store.FinalChainLogBloomsIndex}

	addr := types.Address{0x42}
	var want types.Bloom
	want.Add(addr[:])

	idx := NewBloomIndex(counted)
	for period := uint64(0); period < 300; period++ {
		var bloom types.Bloom
		if period == 257 {
			bloom = want
		}
		batch := counted.NewBatch()
		idx.Update(batch, period, bloom)
		require.NoError(t, batch.Commit())
	}

	counted.count = 0
	candidates := idx.CandidatePeriods(want, 0, 299)
	require.Equal(t, []uint64{257}, candidates)
	require.Less(t, counted.count, 20, "a single matching period in a 300-period range must not force a near-linear scan")
}
