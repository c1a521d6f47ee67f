package config

import (
	"math/big"

	"github.com/dagchain/node/internal/types"
)

// Genesis is the persisted genesis record of spec.md §6: chain id, DAG
// genesis block, genesis balances, and PBFT parameters.
type Genesis struct {
	ChainID         uint64
	GenesisAccounts map[types.Address]*big.Int
	Parameters      Parameters
}

// GenesisDagBlock returns the DAG genesis sentinel: level 0, zero pivot,
// no tips (spec.md §3 Pivot chain / §6).
func GenesisDagBlock() *types.DagBlock {
	return &types.DagBlock{
		Pivot:        types.ZeroHash,
		Tips:         nil,
		Transactions: nil,
		Level:        0,
		Timestamp:    0,
	}
}

// PreFundedAddress is the end-to-end seed-test address of spec.md §8
// scenario 1.
func PreFundedAddress() types.Address {
	var a types.Address
	b := mustHex("de2b1203d72d3549ee2f733b00b2789414c7cea5")
	copy(a[:], b)
	return a
}

// PreFundedBalance is the seed-test balance of spec.md §8 scenario 1.
func PreFundedBalance() *big.Int {
	return big.NewInt(9007199254740991)
}

// LocalGenesis returns a genesis pre-funding the seed-test address, for
// local development and the end-to-end scenarios of spec.md §8.
func LocalGenesis() Genesis {
	return Genesis{
		ChainID: 1337,
		GenesisAccounts: map[types.Address]*big.Int{
			PreFundedAddress():    PreFundedBalance(),
			types.SystemAddress:   SystemRewardsPool(),
		},
		Parameters: LocalParameters(),
	}
}

// SystemRewardsPool funds the reward-issuance system account at
// genesis (spec.md §4.6's rewards module): large enough to cover a
// realistic network lifetime of block rewards without overflow
// concerns, a deliberate implementation choice in the absence of a
// specified total-supply schedule.
func SystemRewardsPool() *big.Int {
	pool := big.NewInt(1)
	pool.Lsh(pool, 128)
	return pool
}

func mustHex(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := range out {
		hi := hexNibble(s[2*i])
		lo := hexNibble(s[2*i+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
