// Package dagmgr maintains the non-finalised DAG index described in
// spec.md §4.3: insertion, level assignment, tip tracking, pivot-chain
// selection, and the deterministic linearisation under an anchor.
//
// The arena layout follows DESIGN NOTES §9 and the teacher's dag.DAG
// (dag/dag.go): an arena of block records keyed by hash, parent links
// stored as hash values (not pointers). Every lookup in this package —
// DagOrderBelow's ancestor walk, the pivot-chain walk in PivotTip and
// CandidateAt — traverses backward from a block to its parents, so
// pruning (MarkFinalised) is a map-delete, never a graph walk.
package dagmgr

import (
	"errors"
	"sort"
	"sync"

	"github.com/dagchain/node/internal/store"
	"github.com/dagchain/node/internal/types"
)

var (
	ErrUnknownParent  = errors.New("dagmgr: parent not known")
	ErrInconsistentLevel = errors.New("dagmgr: level inconsistent with parents")
	ErrDuplicateBlock = errors.New("dagmgr: block already known")
)

// node is one arena entry. Parent links are stored as hashes; no
// parent-to-children index is kept.
type node struct {
	block *types.DagBlock
	level uint64
}

// Manager is the non-finalised DAG index. It is the sole owner of its
// mutable state (spec.md §3 Ownership); all mutation goes through
// Insert/MarkFinalised, guarded by a single mutex so the pool's link
// step serialises while readers (PBFT proposer, sync driver, query
// facade) take a consistent snapshot via the read lock.
type Manager struct {
	mu sync.RWMutex

	blocks   map[types.Hash]*node
	tips     map[types.Hash]struct{}
	maxLevel uint64

	// finalised holds hashes removed by MarkFinalised, distinguished
	// from "unknown" so a late-arriving reference to an already
	// finalised ancestor is accepted as a valid (if uninteresting)
	// parent, per spec.md §4.3's invariant "every non-finalised block
	// has all parents either in the non-finalised index or equal to a
	// finalised-anchor hash".
	finalised map[types.Hash]uint64 // hash -> level, retained for ComputeLevel lookups
}

// New creates an empty Manager seeded with the genesis sentinel already
// marked finalised at level 0 (period 0, per spec.md §3).
func New(genesisHash types.Hash) *Manager {
	return &Manager{
		blocks:    make(map[types.Hash]*node),
		tips:      make(map[types.Hash]struct{}),
		finalised: map[types.Hash]uint64{genesisHash: 0},
	}
}

// knownLevel returns the level of hash h if it is known (non-finalised
// or finalised), and whether it is known at all.
func (m *Manager) knownLevel(h types.Hash) (uint64, bool) {
	if n, ok := m.blocks[h]; ok {
		return n.level, true
	}
	if lvl, ok := m.finalised[h]; ok {
		return lvl, true
	}
	return 0, false
}

// Insert links block into the DAG index. It recomputes level from the
// block's declared parents, verifies the declared level matches, and
// updates the tip set: a tip is any block that is not the pivot-parent
// or a tip-parent of some other non-finalised block (spec.md §4.3).
func (m *Manager) Insert(block *types.DagBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := block.Hash()
	if _, ok := m.blocks[hash]; ok {
		return ErrDuplicateBlock
	}
	if _, ok := m.finalised[hash]; ok {
		return ErrDuplicateBlock
	}

	parents := block.Parents()
	parentLevels := make([]uint64, 0, len(parents))
	for _, p := range parents {
		lvl, ok := m.knownLevel(p)
		if !ok {
			return ErrUnknownParent
		}
		parentLevels = append(parentLevels, lvl)
	}
	expected := types.ComputeLevel(parentLevels)
	if block.Level != expected {
		return ErrInconsistentLevel
	}

	m.blocks[hash] = &node{block: block, level: block.Level}
	m.tips[hash] = struct{}{}
	for _, p := range parents {
		delete(m.tips, p)
	}
	if block.Level > m.maxLevel {
		m.maxLevel = block.Level
	}
	return nil
}

// Get returns the block for hash, if known in the non-finalised index.
func (m *Manager) Get(hash types.Hash) (*types.DagBlock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.blocks[hash]
	if !ok {
		return nil, false
	}
	return n.block, true
}

// Tips returns an atomic snapshot of the current tip set.
func (m *Manager) Tips() []types.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Hash, 0, len(m.tips))
	for h := range m.tips {
		out = append(out, h)
	}
	return out
}

// MaxLevel returns an atomic snapshot of the highest level seen.
func (m *Manager) MaxLevel() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxLevel
}

// PivotTip returns the current best pivot-chain head: maximum level;
// ties broken by the longest pivot chain; further ties broken by the
// numerically smaller hash (spec.md §4.3).
func (m *Manager) PivotTip() (types.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pivotTipLocked()
}

func (m *Manager) pivotTipLocked() (types.Hash, bool) {
	var best types.Hash
	var bestLevel uint64
	var bestChainLen uint64
	found := false

	for h := range m.tips {
		lvl := m.blocks[h].level
		chainLen := m.pivotChainLengthLocked(h)
		switch {
		case !found:
			best, bestLevel, bestChainLen, found = h, lvl, chainLen, true
		case lvl > bestLevel:
			best, bestLevel, bestChainLen = h, lvl, chainLen
		case lvl == bestLevel && chainLen > bestChainLen:
			best, bestChainLen = h, chainLen
		case lvl == bestLevel && chainLen == bestChainLen && lessHash(h, best):
			best = h
		}
	}
	return best, found
}

func (m *Manager) pivotChainLengthLocked(h types.Hash) uint64 {
	var length uint64
	for {
		n, ok := m.blocks[h]
		if !ok {
			break
		}
		length++
		if n.block.Pivot == types.ZeroHash {
			break
		}
		if _, finalised := m.finalised[n.block.Pivot]; finalised {
			break
		}
		h = n.block.Pivot
	}
	return length
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// CandidateAt returns the pivot-chain block whose level is closest to,
// but not below, targetLevel — the propose-step anchor candidate of
// spec.md §4.5 step 1. It satisfies internal/pbft.AnchorSource by
// walking the pivot chain down from the current tip. If even the tip's
// level is below targetLevel, the tip itself is returned as the best
// available candidate.
func (m *Manager) CandidateAt(targetLevel uint64) (types.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tip, ok := m.pivotTipLocked()
	if !ok {
		return types.Hash{}, false
	}
	if m.blocks[tip].level < targetLevel {
		return tip, true
	}

	candidate, h := tip, tip
	for {
		n := m.blocks[h]
		if n.block.Pivot == types.ZeroHash {
			break
		}
		if _, fin := m.finalised[n.block.Pivot]; fin {
			break
		}
		parent, ok := m.blocks[n.block.Pivot]
		if !ok || parent.level < targetLevel {
			break
		}
		candidate, h = n.block.Pivot, n.block.Pivot
	}
	return candidate, true
}

// BlocksInLevelRange returns every non-finalised block whose level is
// in [fromLevel, fromLevel+count), the data GetBlocksLevel answers
// (spec.md §6, §4.7 DAG-sync).
func (m *Manager) BlocksInLevelRange(fromLevel, count uint64) []*types.DagBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	toLevel := fromLevel + count
	var out []*types.DagBlock
	for _, n := range m.blocks {
		if n.level >= fromLevel && n.level < toLevel {
			out = append(out, n.block)
		}
	}
	return out
}

// DagOrderBelow returns the deterministic linearisation of S(anchor):
// the anchor together with every ancestor (via pivot and tip edges) not
// already finalised, ordered by (level ascending, then sorted sibling
// order within the level, then hash ascending). The order is a pure
// function of the set of hashes and their parent relations — spec.md
// §4.3 and the invariant of §8.5.
func (m *Manager) DagOrderBelow(anchor types.Hash) ([]types.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visited := make(map[types.Hash]struct{})
	var frontier []types.Hash

	if _, ok := m.finalised[anchor]; ok {
		return nil, nil
	}
	anchorNode, ok := m.blocks[anchor]
	if !ok {
		return nil, ErrUnknownParent
	}
	frontier = append(frontier, anchor)
	visited[anchor] = struct{}{}

	for i := 0; i < len(frontier); i++ {
		cur := frontier[i]
		n, ok := m.blocks[cur]
		if !ok {
			continue
		}
		for _, p := range n.block.Parents() {
			if _, fin := m.finalised[p]; fin {
				continue
			}
			if _, seen := visited[p]; seen {
				continue
			}
			if _, known := m.blocks[p]; !known {
				continue
			}
			visited[p] = struct{}{}
			frontier = append(frontier, p)
		}
	}
	_ = anchorNode

	sort.Slice(frontier, func(i, j int) bool {
		li, lj := m.blocks[frontier[i]].level, m.blocks[frontier[j]].level
		if li != lj {
			return li < lj
		}
		return lessHash(frontier[i], frontier[j])
	})
	return frontier, nil
}

// Rebuild creates a Manager and replays every block internal/txpool's
// persistBlock wrote to store.DagBlocksByLevel, in ascending level
// order, so the non-finalised frontier survives a process restart
// (spec.md §8 scenario 5). A block whose Insert fails with
// ErrUnknownParent — because a parent was finalised and pruned before
// the restart, per Finalizer.prunePersistedDagBlocks — is skipped rather
// than treated as an error; such a block, and any descendant that then
// also lacks a parent, is not restored into the Manager.
func Rebuild(db store.Database, genesisHash types.Hash) (*Manager, error) {
	m := New(genesisHash)

	it := db.NewIterator(store.DagBlocksByLevel, nil)
	defer it.Close()
	for it.Next() {
		key := it.Key()
		if len(key) < 8 {
			continue
		}
		var hash types.Hash
		copy(hash[:], key[8:])

		raw, ok, err := db.Get(store.DagBlocksByHash, hash[:])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		block, err := types.DecodeDagBlock(raw)
		if err != nil {
			return nil, err
		}
		if err := m.Insert(block); err != nil && err != ErrUnknownParent {
			return nil, err
		}
	}
	return m, nil
}

// MarkFinalised removes hashes from the non-finalised index and the tip
// set, recording their level so later ComputeLevel lookups for
// not-yet-admitted descendants still resolve (spec.md §4.3
// mark_finalised).
func (m *Manager) MarkFinalised(hashes []types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		n, ok := m.blocks[h]
		if !ok {
			continue
		}
		m.finalised[h] = n.level
		delete(m.blocks, h)
		delete(m.tips, h)
	}
}
