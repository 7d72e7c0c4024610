package consensus

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/params"
	"github.com/erigontech/execution/types"
)

func londonConfig() *chain.Config {
	return &chain.Config{
		ChainID:        big.NewInt(1),
		HomesteadBlock: big.NewInt(0),
		LondonBlock:    big.NewInt(5),
	}
}

func TestCalcBaseFee(t *testing.T) {
	config := londonConfig()

	// the first London block uses the initial base fee
	preForkParent := &types.Header{Number: big.NewInt(4), GasLimit: 20_000_000, GasUsed: 10_000_000}
	assert.Equal(t, params.InitialBaseFee, CalcBaseFee(config, preForkParent).Uint64())

	// at-target usage keeps the base fee
	parent := &types.Header{Number: big.NewInt(5), GasLimit: 20_000_000, GasUsed: 10_000_000, BaseFee: big.NewInt(1_000_000_000)}
	assert.Equal(t, uint64(1_000_000_000), CalcBaseFee(config, parent).Uint64())

	// full blocks push the base fee up by 1/8
	parent = &types.Header{Number: big.NewInt(5), GasLimit: 20_000_000, GasUsed: 20_000_000, BaseFee: big.NewInt(1_000_000_000)}
	assert.Equal(t, uint64(1_125_000_000), CalcBaseFee(config, parent).Uint64())

	// empty blocks let it decay by 1/8
	parent = &types.Header{Number: big.NewInt(5), GasLimit: 20_000_000, GasUsed: 0, BaseFee: big.NewInt(1_000_000_000)}
	assert.Equal(t, uint64(875_000_000), CalcBaseFee(config, parent).Uint64())
}

func TestVerifyEip1559Header(t *testing.T) {
	config := londonConfig()
	parent := &types.Header{Number: big.NewInt(5), GasLimit: 20_000_000, GasUsed: 10_000_000, BaseFee: big.NewInt(1_000_000_000)}

	header := &types.Header{Number: big.NewInt(6), GasLimit: 20_000_000, GasUsed: 0, BaseFee: big.NewInt(1_000_000_000)}
	require.NoError(t, VerifyEip1559Header(config, parent, header))

	// missing base fee
	bad := &types.Header{Number: big.NewInt(6), GasLimit: 20_000_000, GasUsed: 0}
	require.Error(t, VerifyEip1559Header(config, parent, bad))

	// wrong base fee
	bad = &types.Header{Number: big.NewInt(6), GasLimit: 20_000_000, GasUsed: 0, BaseFee: big.NewInt(42)}
	require.Error(t, VerifyEip1559Header(config, parent, bad))
}

func TestVerifyGasLimits(t *testing.T) {
	parent := &types.Header{Number: big.NewInt(1), GasLimit: 20_000_000}

	ok := &types.Header{Number: big.NewInt(2), GasLimit: 20_000_000 + 20_000_000/params.GasLimitBoundDivisor - 1}
	require.NoError(t, VerifyHeaderGasLimits(parent, ok))

	tooBig := &types.Header{Number: big.NewInt(2), GasLimit: 20_000_000 + 20_000_000/params.GasLimitBoundDivisor}
	require.Error(t, VerifyHeaderGasLimits(parent, tooBig))

	overUsed := &types.Header{Number: big.NewInt(2), GasLimit: 20_000_000, GasUsed: 20_000_001}
	require.Error(t, VerifyHeaderGasLimits(parent, overUsed))
}
