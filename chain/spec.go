package chain

import (
	"embed"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/erigontech/execution/chain/networkname"
	"github.com/erigontech/execution/common"
)

//go:embed chainspecs
var chainspecs embed.FS

func ReadChainSpec(filename string) *Config {
	f, err := chainspecs.Open(filename)
	if err != nil {
		panic(fmt.Sprintf("Could not open chainspec for %s: %v", filename, err))
	}
	defer f.Close()
	decoder := json.NewDecoder(f)
	spec := &Config{}
	if err = decoder.Decode(&spec); err != nil {
		panic(fmt.Sprintf("Could not parse chainspec for %s: %v", filename, err))
	}
	return spec
}

// Genesis hashes to enforce below configs on.
var (
	MainnetGenesisHash = common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3")
	GoerliGenesisHash  = common.HexToHash("0xbf7e331f7f7c1dd2e05159666b3bf8bc7a8a3a9eb1d518969eab529dd9b88c1a")
	RinkebyGenesisHash = common.HexToHash("0x6341fd3daf94b748c72ced5a5b26028f2474f5f00d824504e4fa37a75767e177")
	SepoliaGenesisHash = common.HexToHash("0x25a5cc106eea7138acab33231d7160d69cb777ee0c2c553fcddf5138993e6dd9")
	HoleskyGenesisHash = common.HexToHash("0xb5f7f912443c940f21fd611f12828d75b534364ed9e95ca4e307729a4661bde4")
)

var (
	MainnetChainConfig = ReadChainSpec("chainspecs/mainnet.json")
	GoerliChainConfig  = ReadChainSpec("chainspecs/goerli.json")
	RinkebyChainConfig = ReadChainSpec("chainspecs/rinkeby.json")
	SepoliaChainConfig = ReadChainSpec("chainspecs/sepolia.json")
	HoleskyChainConfig = ReadChainSpec("chainspecs/holesky.json")

	// AllProtocolChanges contains every protocol change introduced for testing
	// purposes: every fork active from genesis.
	AllProtocolChanges = &Config{
		ChainName:               networkname.Dev,
		ChainID:                 big.NewInt(1337),
		Consensus:               NoProofConsensus,
		HomesteadBlock:          big.NewInt(0),
		TangerineWhistleBlock:   big.NewInt(0),
		SpuriousDragonBlock:     big.NewInt(0),
		ByzantiumBlock:          big.NewInt(0),
		ConstantinopleBlock:     big.NewInt(0),
		PetersburgBlock:         big.NewInt(0),
		IstanbulBlock:           big.NewInt(0),
		MuirGlacierBlock:        big.NewInt(0),
		BerlinBlock:             big.NewInt(0),
		LondonBlock:             big.NewInt(0),
		ArrowGlacierBlock:       big.NewInt(0),
		GrayGlacierBlock:        big.NewInt(0),
		TerminalTotalDifficulty: big.NewInt(0),
		MergeNetsplitBlock:      big.NewInt(0),
		ShanghaiTime:            big.NewInt(0),
		CancunTime:              big.NewInt(0),
	}

	// TestChainConfig is like AllProtocolChanges but stops before the merge,
	// used by tests that exercise the proof-of-work path.
	TestChainConfig = &Config{
		ChainName:             "test",
		ChainID:               big.NewInt(1337),
		Consensus:             EtHashConsensus,
		HomesteadBlock:        big.NewInt(0),
		TangerineWhistleBlock: big.NewInt(0),
		SpuriousDragonBlock:   big.NewInt(0),
		ByzantiumBlock:        big.NewInt(0),
		ConstantinopleBlock:   big.NewInt(0),
		PetersburgBlock:       big.NewInt(0),
		IstanbulBlock:         big.NewInt(0),
		MuirGlacierBlock:      big.NewInt(0),
		BerlinBlock:           big.NewInt(0),
		Ethash:                new(EthashConfig),
	}
)

// ConfigByChainName looks a chain config up by its registry name.
func ConfigByChainName(chain string) *Config {
	switch chain {
	case networkname.Mainnet:
		return MainnetChainConfig
	case networkname.Goerli:
		return GoerliChainConfig
	case networkname.Rinkeby:
		return RinkebyChainConfig
	case networkname.Sepolia:
		return SepoliaChainConfig
	case networkname.Holesky:
		return HoleskyChainConfig
	case networkname.Dev:
		return AllProtocolChanges
	default:
		return nil
	}
}

// ConfigByChainID looks a chain config up by chain id. Total for known ids,
// nil otherwise.
func ConfigByChainID(id uint64) *Config {
	for _, name := range networkname.All {
		if config := ConfigByChainName(name); config != nil && config.ChainID.Uint64() == id {
			return config
		}
	}
	return nil
}

// GenesisHashByChainName returns the well-known genesis hash of a named chain.
func GenesisHashByChainName(chain string) *common.Hash {
	switch chain {
	case networkname.Mainnet:
		return &MainnetGenesisHash
	case networkname.Goerli:
		return &GoerliGenesisHash
	case networkname.Rinkeby:
		return &RinkebyGenesisHash
	case networkname.Sepolia:
		return &SepoliaGenesisHash
	case networkname.Holesky:
		return &HoleskyGenesisHash
	default:
		return nil
	}
}

func ConfigByGenesisHash(genesisHash common.Hash) *Config {
	switch genesisHash {
	case MainnetGenesisHash:
		return MainnetChainConfig
	case GoerliGenesisHash:
		return GoerliChainConfig
	case RinkebyGenesisHash:
		return RinkebyChainConfig
	case SepoliaGenesisHash:
		return SepoliaChainConfig
	case HoleskyGenesisHash:
		return HoleskyChainConfig
	default:
		return nil
	}
}

// ParseChainConfig decodes a chain-config JSON document. It returns nil
// (absent config) when chainId is missing or not an integer, matching the
// genesis input contract.
func ParseChainConfig(data []byte) *Config {
	var probe struct {
		ChainID json.Number `json:"chainId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	if _, err := probe.ChainID.Int64(); err != nil {
		return nil
	}
	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		return nil
	}
	if config.ChainID == nil {
		return nil
	}
	return config
}
