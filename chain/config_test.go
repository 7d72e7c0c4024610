package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainnetForkSchedule(t *testing.T) {
	c := MainnetChainConfig
	require.Equal(t, uint64(1), c.ChainID.Uint64())
	require.Equal(t, EtHashConsensus, c.Consensus)

	// revision boundary: Berlin ends at 12_964_999, London starts at 12_965_000
	for _, blockTime := range []uint64{0, 1628166822, 1650000000} {
		assert.Equal(t, Berlin, c.Revision(12_964_999, blockTime))
		assert.Equal(t, London, c.Revision(12_965_000, blockTime))
	}

	assert.Equal(t, Frontier, c.Revision(0, 0))
	assert.Equal(t, Homestead, c.Revision(1_150_000, 0))
	assert.Equal(t, TangerineWhistle, c.Revision(2_463_000, 0))
	assert.Equal(t, SpuriousDragon, c.Revision(2_675_000, 0))
	assert.Equal(t, Byzantium, c.Revision(4_370_000, 0))
	assert.Equal(t, Petersburg, c.Revision(7_280_000, 0))
	assert.Equal(t, Istanbul, c.Revision(9_069_000, 0))
	assert.Equal(t, Shanghai, c.Revision(17_100_000, 1681338455))
	assert.Equal(t, Cancun, c.Revision(19_500_000, 1710338135))
}

func TestRevisionMonotonic(t *testing.T) {
	// the revision function is monotonic in (block_number, block_time)
	for _, c := range []*Config{MainnetChainConfig, SepoliaChainConfig, GoerliChainConfig, AllProtocolChanges} {
		prev := Frontier
		time := uint64(0)
		for num := uint64(0); num < 20_000_000; num += 121_111 {
			time += 1_700_000_000 / 165 // time grows with the block number
			r := c.Revision(num, time)
			if r < prev {
				t.Fatalf("%s: revision went backwards at block %d: %s < %s", c.ChainName, num, r, prev)
			}
			prev = r
		}
	}
}

func TestSepoliaConfig(t *testing.T) {
	c := SepoliaChainConfig
	require.Equal(t, uint64(11155111), c.ChainID.Uint64())
	require.Equal(t, big.NewInt(17_000_000_000_000_000), c.TerminalTotalDifficulty)
	require.Equal(t, big.NewInt(1_735_371), c.MergeNetsplitBlock)
	assert.Equal(t, Paris, c.Revision(1_735_371, 0))
	assert.Equal(t, London, c.Revision(1_735_370, 0))
}

func TestGoerliConfig(t *testing.T) {
	c := GoerliChainConfig
	require.Equal(t, uint64(5), c.ChainID.Uint64())
	require.Equal(t, CliqueConsensus, c.Consensus)
	require.NotNil(t, c.Clique)
	assert.Equal(t, uint64(15), c.Clique.Period)
	assert.Equal(t, uint64(30000), c.Clique.Epoch)
}

func TestRegistryLookups(t *testing.T) {
	require.Same(t, MainnetChainConfig, ConfigByChainName("mainnet"))
	require.Same(t, MainnetChainConfig, ConfigByChainID(1))
	require.Same(t, SepoliaChainConfig, ConfigByChainID(11155111))
	require.Nil(t, ConfigByChainID(424242))
	require.Nil(t, ConfigByChainName("no-such-chain"))

	require.Same(t, MainnetChainConfig, ConfigByGenesisHash(MainnetGenesisHash))
	require.Same(t, GoerliChainConfig, ConfigByGenesisHash(GoerliGenesisHash))
	require.Same(t, SepoliaChainConfig, ConfigByGenesisHash(SepoliaGenesisHash))

	require.Equal(t, &MainnetGenesisHash, GenesisHashByChainName("mainnet"))
	require.Nil(t, GenesisHashByChainName("no-such-chain"))
}

func TestParseChainConfig(t *testing.T) {
	config := ParseChainConfig([]byte(`{"chainId": 5, "homesteadBlock": 0, "londonBlock": 5062605}`))
	require.NotNil(t, config)
	assert.Equal(t, uint64(5), config.ChainID.Uint64())
	assert.Equal(t, big.NewInt(5062605), config.LondonBlock)

	// missing or non-integer chainId means absent config
	require.Nil(t, ParseChainConfig([]byte(`{"homesteadBlock": 0}`)))
	require.Nil(t, ParseChainConfig([]byte(`{"chainId": "z"}`)))
	require.Nil(t, ParseChainConfig([]byte(`not json`)))
}

func TestRules(t *testing.T) {
	rules := MainnetChainConfig.Rules(12_965_000, 0)
	assert.True(t, rules.IsLondon)
	assert.True(t, rules.IsBerlin)
	assert.False(t, rules.IsShanghai)

	rules = MainnetChainConfig.Rules(17_100_000, 1681338455)
	assert.True(t, rules.IsShanghai)
	assert.False(t, rules.IsCancun)
}
