package ethash

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/types"
)

func TestCalcDifficultyFrontier(t *testing.T) {
	config := &chain.Config{ChainID: big.NewInt(1)}
	parentDiff := big.NewInt(17_179_869_184)

	// fast block: difficulty goes up by parent/2048
	d := CalcDifficulty(config, 10, 0, parentDiff, 100, types.EmptyUncleHash)
	expected := new(big.Int).Add(parentDiff, new(big.Int).Div(parentDiff, big.NewInt(2048)))
	assert.Equal(t, expected, d)

	// slow block: difficulty goes down
	d = CalcDifficulty(config, 20, 0, parentDiff, 100, types.EmptyUncleHash)
	expected = new(big.Int).Sub(parentDiff, new(big.Int).Div(parentDiff, big.NewInt(2048)))
	assert.Equal(t, expected, d)
}

func TestCalcDifficultyHomesteadBounds(t *testing.T) {
	config := &chain.Config{ChainID: big.NewInt(1), HomesteadBlock: big.NewInt(0)}
	parentDiff := big.NewInt(131072)

	// the minimum difficulty holds no matter how slow the block
	d := CalcDifficulty(config, 100000, 0, parentDiff, 10, types.EmptyUncleHash)
	require.True(t, d.Cmp(big.NewInt(131072)) >= 0)
}

func TestCalcDifficultyByzantiumUncles(t *testing.T) {
	config := &chain.Config{
		ChainID:        big.NewInt(1),
		HomesteadBlock: big.NewInt(0),
		ByzantiumBlock: big.NewInt(0),
	}
	parentDiff := big.NewInt(3_000_000_000)
	withoutUncles := CalcDifficulty(config, 12, 0, parentDiff, 5_000_000, types.EmptyUncleHash)
	withUncles := CalcDifficulty(config, 12, 0, parentDiff, 5_000_000, common.HexToHash("0x01"))
	// a parent with uncles pushes the difficulty up
	assert.Equal(t, 1, withUncles.Cmp(withoutUncles))
}

func TestDifficultyBombDelays(t *testing.T) {
	parentDiff := big.NewInt(3_000_000_000)
	num := uint64(15_049_999) // just before Gray Glacier on mainnet

	c := chain.MainnetChainConfig
	grayGlacier := CalcDifficulty(c, 12, 0, parentDiff, num, types.EmptyUncleHash)

	// with the smaller Arrow Glacier delay at the same height the bomb
	// contributes more
	arrowOnly := &chain.Config{
		ChainID:           big.NewInt(1),
		HomesteadBlock:    big.NewInt(0),
		ByzantiumBlock:    big.NewInt(0),
		ConstantinopleBlock: big.NewInt(0),
		MuirGlacierBlock:  big.NewInt(0),
		ArrowGlacierBlock: big.NewInt(0),
	}
	arrowGlacier := CalcDifficulty(arrowOnly, 12, 0, parentDiff, num, types.EmptyUncleHash)
	assert.True(t, arrowGlacier.Cmp(grayGlacier) >= 0)
}

func TestAccumulateRewards(t *testing.T) {
	config := chain.MainnetChainConfig

	frontierHeader := &types.Header{Number: big.NewInt(1000)}
	reward, _ := AccumulateRewards(config, frontierHeader, nil)
	assert.Equal(t, big.NewInt(5e18), reward)

	byzantiumHeader := &types.Header{Number: big.NewInt(4_370_000)}
	reward, _ = AccumulateRewards(config, byzantiumHeader, nil)
	assert.Equal(t, big.NewInt(3e18), reward)

	constantinopleHeader := &types.Header{Number: big.NewInt(7_280_000)}
	reward, _ = AccumulateRewards(config, constantinopleHeader, nil)
	assert.Equal(t, big.NewInt(2e18), reward)

	// one ommer at distance 1: miner gets reward + reward/32,
	// the ommer's miner gets reward*7/8
	ommer := &types.Header{Number: big.NewInt(7_279_999), Coinbase: common.HexToAddress("0x01")}
	reward, ommerRewards := AccumulateRewards(config, constantinopleHeader, []*types.Header{ommer})
	expectedMiner := new(big.Int).Add(big.NewInt(2e18), new(big.Int).Div(big.NewInt(2e18), big.NewInt(32)))
	assert.Equal(t, expectedMiner, reward)
	require.Len(t, ommerRewards, 1)
	expectedOmmer := new(big.Int).Div(new(big.Int).Mul(big.NewInt(2e18), big.NewInt(7)), big.NewInt(8))
	assert.Equal(t, expectedOmmer, ommerRewards[0])
}
