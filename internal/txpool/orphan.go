package txpool

import (
	"time"

	"github.com/dagchain/node/internal/types"
)

// orphanTimeout is spec.md §5's "Orphan block parent requests: 10 s,
// else drop."
const orphanTimeout = 10 * time.Second

type orphanEntry struct {
	block    *types.DagBlock
	missing  map[types.Hash]struct{}
	deadline time.Time
	peer     string
}

// reapOrphans drops any orphan whose deadline has passed as of now,
// invoking onDrop for each. Callers drive this from a ticker
// (spec.md §5's cooperative-timeout model — the same style the PBFT
// engine's AdvanceOnTimeout uses rather than a per-orphan timer
// goroutine).
func (p *Pool) reapOrphans(now time.Time) {
	p.mu.Lock()
	var dropped []types.Hash
	for hash, entry := range p.orphans {
		if now.After(entry.deadline) {
			dropped = append(dropped, hash)
			delete(p.orphans, hash)
		}
	}
	p.mu.Unlock()

	for _, hash := range dropped {
		if p.onOrphanDropped != nil {
			p.onOrphanDropped(hash)
		}
	}
}

// ReapOrphans is the exported driver entrypoint; call it periodically
// (e.g. every second) from the node's event loop.
func (p *Pool) ReapOrphans(now time.Time) {
	p.reapOrphans(now)
}
