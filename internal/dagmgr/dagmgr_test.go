package dagmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagchain/node/internal/types"
)

func mkBlock(pivot types.Hash, tips []types.Hash, level uint64, nonce byte) *types.DagBlock {
	b := &types.DagBlock{
		Pivot: pivot,
		Tips:  tips,
		Level: level,
	}
	// vary the signature so distinct blocks hash distinctly
	b.Signature = types.Signature{nonce}
	return b
}

func TestInsertGenesisChild(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	child := mkBlock(genesis, nil, 1, 1)
	require.NoError(t, m.Insert(child))

	tips := m.Tips()
	require.Len(t, tips, 1)
	require.Equal(t, child.Hash(), tips[0])
}

func TestInsertUnknownParentRejected(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	orphan := mkBlock(types.HashBytes([]byte("nowhere")), nil, 1, 1)
	err := m.Insert(orphan)
	require.ErrorIs(t, err, ErrUnknownParent)
}

func TestInsertWrongLevelRejected(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	bad := mkBlock(genesis, nil, 5, 1)
	err := m.Insert(bad)
	require.ErrorIs(t, err, ErrInconsistentLevel)
}

func TestPivotTipPrefersLongerChain(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	a1 := mkBlock(genesis, nil, 1, 1)
	require.NoError(t, m.Insert(a1))
	a2 := mkBlock(a1.Hash(), nil, 2, 2)
	require.NoError(t, m.Insert(a2))

	b1 := mkBlock(genesis, nil, 1, 3)
	require.NoError(t, m.Insert(b1))

	tip, ok := m.PivotTip()
	require.True(t, ok)
	require.Equal(t, a2.Hash(), tip)
}

func TestDagOrderBelowIsDeterministic(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	a1 := mkBlock(genesis, nil, 1, 1)
	require.NoError(t, m.Insert(a1))
	b1 := mkBlock(genesis, nil, 1, 2)
	require.NoError(t, m.Insert(b1))
	c2 := mkBlock(a1.Hash(), []types.Hash{b1.Hash()}, 2, 3)
	require.NoError(t, m.Insert(c2))

	order1, err := m.DagOrderBelow(c2.Hash())
	require.NoError(t, err)
	order2, err := m.DagOrderBelow(c2.Hash())
	require.NoError(t, err)
	require.Equal(t, order1, order2)
	require.Len(t, order1, 3)
	require.Equal(t, c2.Hash(), order1[2])
}

func TestCandidateAtReturnsClosestNotBelowTarget(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	a1 := mkBlock(genesis, nil, 1, 1)
	require.NoError(t, m.Insert(a1))
	a2 := mkBlock(a1.Hash(), nil, 2, 2)
	require.NoError(t, m.Insert(a2))
	a3 := mkBlock(a2.Hash(), nil, 3, 3)
	require.NoError(t, m.Insert(a3))

	candidate, ok := m.CandidateAt(2)
	require.True(t, ok)
	require.Equal(t, a2.Hash(), candidate)
}

func TestCandidateAtFallsBackToTipBelowTarget(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	a1 := mkBlock(genesis, nil, 1, 1)
	require.NoError(t, m.Insert(a1))

	candidate, ok := m.CandidateAt(100)
	require.True(t, ok)
	require.Equal(t, a1.Hash(), candidate)
}

// TestPivotTipTieBreaksByHashRegardlessOfInsertOrder covers spec.md §8
// scenario 4: three level-1 blocks all pointing at genesis as pivot
// must resolve to the numerically smallest hash, independent of
// insertion order.
func TestPivotTipTieBreaksByHashRegardlessOfInsertOrder(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))

	b1 := mkBlock(genesis, nil, 1, 1)
	b2 := mkBlock(genesis, nil, 1, 2)
	b3 := mkBlock(genesis, nil, 1, 3)

	want := b1.Hash()
	for _, h := range []types.Hash{b2.Hash(), b3.Hash()} {
		if lessHash(h, want) {
			want = h
		}
	}

	forward := New(genesis)
	require.NoError(t, forward.Insert(b1))
	require.NoError(t, forward.Insert(b2))
	require.NoError(t, forward.Insert(b3))
	tip, ok := forward.PivotTip()
	require.True(t, ok)
	require.Equal(t, want, tip)

	reverse := New(genesis)
	require.NoError(t, reverse.Insert(b3))
	require.NoError(t, reverse.Insert(b2))
	require.NoError(t, reverse.Insert(b1))
	tip2, ok := reverse.PivotTip()
	require.True(t, ok)
	require.Equal(t, want, tip2)
}

func TestMarkFinalisedPrunesIndex(t *testing.T) {
	genesis := types.HashBytes([]byte("genesis"))
	m := New(genesis)

	a1 := mkBlock(genesis, nil, 1, 1)
	require.NoError(t, m.Insert(a1))

	m.MarkFinalised([]types.Hash{a1.Hash()})
	_, ok := m.Get(a1.Hash())
	require.False(t, ok)

	// a later block can still reference a1 as a known (finalised) parent
	a2 := mkBlock(a1.Hash(), nil, 2, 2)
	require.NoError(t, m.Insert(a2))
}
