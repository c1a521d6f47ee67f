// Package config holds the genesis and consensus parameters of spec.md
// §6 ("Persisted genesis"), built the way the teacher's config package
// builds Parameters — a plain struct plus pure-function presets
// (config.DefaultParams/MainnetParams/TestnetParams/LocalParams) rather
// than a file-watching/viper-style loader.
package config

import (
	"errors"
	"time"
)

var (
	ErrCommitteeTooSmall = errors.New("config: committee size must be >= 4")
	ErrReplayWindowZero  = errors.New("config: replay-protection window must be >= 1")
	ErrStepDeltaZero     = errors.New("config: step delta must be positive")
)

// Parameters holds the PBFT/DAG tuning knobs of spec.md §4.5 and §4.4.
type Parameters struct {
	// CommitteeSize is the target eligible-voter committee per
	// (period, round, step), the sortition target of spec.md §4.5.
	CommitteeSize int

	// ByzantineTolerance (f) is derived from CommitteeSize; quorum
	// thresholds throughout §4.5 are 2f+1.
	ByzantineTolerance int

	// ReplayWindow (W) is the number of periods a nonce watermark stays
	// live before promotion, spec.md §4.4.
	ReplayWindow uint64

	// StepDelta / RoundDelta parameterise the super-linear timeout
	// formula of spec.md §4.5: base + k*StepDelta + r*RoundDelta.
	BaseTimeout time.Duration
	StepDelta   time.Duration
	RoundDelta  time.Duration

	// TargetPeriodTime is used to compute the target DAG level for a
	// period's anchor proposal (spec.md §4.5 step 1).
	TargetPeriodTime time.Duration

	// TargetLevelsPerPeriod is the deterministic factor the propose step
	// multiplies the period number by to get its target DAG level
	// (spec.md §4.5 step 1: "a deterministic function of period"; the
	// exact function is left to the implementation, so this repo fixes
	// it as a configurable linear factor rather than a derived constant).
	TargetLevelsPerPeriod uint64

	// BlockGasLimit bounds admitted transactions (spec.md §4.2).
	BlockGasLimit uint64

	// RewardsDistributionInterval is the number of periods between
	// reward-transfer emissions (spec.md §4.6, supplemented from
	// original_source rewards_stats_test.cpp).
	RewardsDistributionInterval uint64

	// LightNodeHistory bounds how much finalised history a light node
	// retains; the peer-protocol consequences of being a light node are
	// left unresolved per spec.md §9's third Open Question.
	LightNodeHistory uint64
}

// Validate checks the invariants the rest of the core assumes hold.
func (p Parameters) Validate() error {
	if p.CommitteeSize < 4 {
		return ErrCommitteeTooSmall
	}
	if p.ReplayWindow == 0 {
		return ErrReplayWindowZero
	}
	if p.StepDelta <= 0 {
		return ErrStepDeltaZero
	}
	return nil
}

// byzantineTolerance computes floor((n-1)/3), the standard PBFT bound.
func byzantineTolerance(committee int) int {
	return (committee - 1) / 3
}

// Quorum returns 2f+1 for this parameter set, the certification
// threshold of spec.md §4.5.
func (p Parameters) Quorum() int {
	return 2*p.ByzantineTolerance + 1
}

// DefaultParameters mirrors the teacher's config.DefaultParams shape:
// a conservative, broadly-applicable preset.
func DefaultParameters() Parameters {
	committee := 21
	return Parameters{
		CommitteeSize:               committee,
		ByzantineTolerance:          byzantineTolerance(committee),
		ReplayWindow:                10,
		BaseTimeout:                 2 * time.Second,
		StepDelta:                   500 * time.Millisecond,
		RoundDelta:                  1 * time.Second,
		TargetPeriodTime:            4 * time.Second,
		TargetLevelsPerPeriod:       5,
		BlockGasLimit:               30_000_000,
		RewardsDistributionInterval: 100,
		LightNodeHistory:            10_000,
	}
}

// MainnetParameters returns production parameters.
func MainnetParameters() Parameters {
	p := DefaultParameters()
	p.CommitteeSize = 21
	p.ByzantineTolerance = byzantineTolerance(p.CommitteeSize)
	return p
}

// TestnetParameters returns a smaller committee for faster finality in
// test networks.
func TestnetParameters() Parameters {
	p := DefaultParameters()
	p.CommitteeSize = 7
	p.ByzantineTolerance = byzantineTolerance(p.CommitteeSize)
	p.BaseTimeout = 500 * time.Millisecond
	p.StepDelta = 150 * time.Millisecond
	p.RoundDelta = 300 * time.Millisecond
	return p
}

// LocalParameters returns local-dev parameters: a committee of four
// (f = 1, quorum 3), short timeouts and a replay window of 3 periods.
// A lone node cannot reach quorum on its own with these parameters.
func LocalParameters() Parameters {
	p := DefaultParameters()
	p.CommitteeSize = 4
	p.ByzantineTolerance = byzantineTolerance(p.CommitteeSize)
	p.BaseTimeout = 50 * time.Millisecond
	p.StepDelta = 10 * time.Millisecond
	p.RoundDelta = 20 * time.Millisecond
	p.ReplayWindow = 3
	return p
}
