package types

// ScheduleMode distinguishes the two transaction-ordering strategies the
// original source records per DAG block (a `TrxSchedule`) without fully
// pinning down parallel semantics (spec.md §9 Open Question). DESIGN.md
// records the decision: Sequential is the only mode that affects
// execution order; ParallelHint is parsed and hashed but never consulted
// by the finalizer.
type ScheduleMode uint8

const (
	// Sequential executes a block's transactions strictly in their
	// in-block order. The only mode this implementation honors.
	Sequential ScheduleMode = iota
	// ParallelHint records an advisory grouping the proposer computed
	// (e.g. disjoint read/write sets); preserved for forward
	// compatibility in the block's encoding and hash. Neither the
	// finalizer nor the executor consults it; the finalizer always
	// flattens transactions sequentially.
	ParallelHint
)

// Schedule is the per-block transaction-ordering schedule.
type Schedule struct {
	Mode ScheduleMode
	// Groups is only meaningful when Mode == ParallelHint: indices into
	// the block's Transactions slice, partitioned into groups the
	// proposer believed could execute independently. Never consulted by
	// the finalizer (see DESIGN.md Open Question decision #1).
	Groups [][]uint32
}

func (s Schedule) rlpItems() []rlpItem {
	groupItems := make([]rlpItem, len(s.Groups))
	for i, g := range s.Groups {
		idxItems := make([]rlpItem, len(g))
		for j, idx := range g {
			idxItems[j] = rlpUint(uint64(idx))
		}
		groupItems[i] = rlpList(idxItems...)
	}
	return []rlpItem{rlpUint(uint64(s.Mode)), rlpList(groupItems...)}
}
