package chain

import (
	"fmt"
	"math/big"
)

// ConsensusName is the seal-engine tag carried by a chain config.
type ConsensusName string

const (
	EtHashConsensus ConsensusName = "ethash"
	CliqueConsensus ConsensusName = "clique"
	NoProofConsensus ConsensusName = "noproof"
)

// Config is the core config which determines the blockchain settings.
//
// Config is stored in the database on a per block basis. This means that any
// network, identified by its genesis block, can have its own set of
// configuration options.
type Config struct {
	ChainName string   `json:"chainName"`
	ChainID   *big.Int `json:"chainId"`

	Consensus ConsensusName `json:"consensus,omitempty"`

	// Block-number-activated forks, through Gray Glacier.
	HomesteadBlock        *big.Int `json:"homesteadBlock,omitempty"`
	DAOForkBlock          *big.Int `json:"daoForkBlock,omitempty"`
	TangerineWhistleBlock *big.Int `json:"eip150Block,omitempty"`
	SpuriousDragonBlock   *big.Int `json:"eip155Block,omitempty"`
	ByzantiumBlock        *big.Int `json:"byzantiumBlock,omitempty"`
	ConstantinopleBlock   *big.Int `json:"constantinopleBlock,omitempty"`
	PetersburgBlock       *big.Int `json:"petersburgBlock,omitempty"`
	IstanbulBlock         *big.Int `json:"istanbulBlock,omitempty"`
	MuirGlacierBlock      *big.Int `json:"muirGlacierBlock,omitempty"`
	BerlinBlock           *big.Int `json:"berlinBlock,omitempty"`
	LondonBlock           *big.Int `json:"londonBlock,omitempty"`
	ArrowGlacierBlock     *big.Int `json:"arrowGlacierBlock,omitempty"`
	GrayGlacierBlock      *big.Int `json:"grayGlacierBlock,omitempty"`

	// The merge.
	TerminalTotalDifficulty *big.Int `json:"terminalTotalDifficulty,omitempty"`
	MergeNetsplitBlock      *big.Int `json:"mergeNetsplitBlock,omitempty"`

	// Timestamp-activated forks, Shanghai onwards.
	ShanghaiTime *big.Int `json:"shanghaiTime,omitempty"`
	CancunTime   *big.Int `json:"cancunTime,omitempty"`

	Ethash *EthashConfig `json:"ethash,omitempty"`
	Clique *CliqueConfig `json:"clique,omitempty"`
}

// EthashConfig is the consensus engine config for proof-of-work based sealing.
type EthashConfig struct{}

func (c *EthashConfig) String() string { return "ethash" }

// CliqueConfig is the consensus engine config for proof-of-authority based sealing.
type CliqueConfig struct {
	Period uint64 `json:"period"`
	Epoch  uint64 `json:"epoch"`
}

func (c *CliqueConfig) String() string { return "clique" }

func (c *Config) String() string {
	return fmt.Sprintf("{ChainID: %v, Homestead: %v, DAO: %v, Tangerine Whistle: %v, Spurious Dragon: %v, Byzantium: %v, Constantinople: %v, Petersburg: %v, Istanbul: %v, Muir Glacier: %v, Berlin: %v, London: %v, Arrow Glacier: %v, Gray Glacier: %v, Terminal Total Difficulty: %v, Merge Netsplit: %v, Shanghai: %v, Cancun: %v, Engine: %v}",
		c.ChainID,
		c.HomesteadBlock,
		c.DAOForkBlock,
		c.TangerineWhistleBlock,
		c.SpuriousDragonBlock,
		c.ByzantiumBlock,
		c.ConstantinopleBlock,
		c.PetersburgBlock,
		c.IstanbulBlock,
		c.MuirGlacierBlock,
		c.BerlinBlock,
		c.LondonBlock,
		c.ArrowGlacierBlock,
		c.GrayGlacierBlock,
		c.TerminalTotalDifficulty,
		c.MergeNetsplitBlock,
		c.ShanghaiTime,
		c.CancunTime,
		c.Consensus,
	)
}

func (c *Config) IsHomestead(num uint64) bool { return isForked(c.HomesteadBlock, num) }

func (c *Config) IsDAOFork(num uint64) bool { return isForked(c.DAOForkBlock, num) }

func (c *Config) IsTangerineWhistle(num uint64) bool { return isForked(c.TangerineWhistleBlock, num) }

func (c *Config) IsSpuriousDragon(num uint64) bool { return isForked(c.SpuriousDragonBlock, num) }

func (c *Config) IsByzantium(num uint64) bool { return isForked(c.ByzantiumBlock, num) }

func (c *Config) IsConstantinople(num uint64) bool { return isForked(c.ConstantinopleBlock, num) }

func (c *Config) IsPetersburg(num uint64) bool { return isForked(c.PetersburgBlock, num) }

func (c *Config) IsIstanbul(num uint64) bool { return isForked(c.IstanbulBlock, num) }

func (c *Config) IsMuirGlacier(num uint64) bool { return isForked(c.MuirGlacierBlock, num) }

func (c *Config) IsBerlin(num uint64) bool { return isForked(c.BerlinBlock, num) }

func (c *Config) IsLondon(num uint64) bool { return isForked(c.LondonBlock, num) }

func (c *Config) IsArrowGlacier(num uint64) bool { return isForked(c.ArrowGlacierBlock, num) }

func (c *Config) IsGrayGlacier(num uint64) bool { return isForked(c.GrayGlacierBlock, num) }

func (c *Config) IsShanghai(time uint64) bool { return isForked(c.ShanghaiTime, time) }

func (c *Config) IsCancun(time uint64) bool { return isForked(c.CancunTime, time) }

// isForked returns whether a fork scheduled at block (or time) s is active at
// the given head block (or time).
func isForked(s *big.Int, head uint64) bool {
	if s == nil {
		return false
	}
	return s.Uint64() <= head
}

// Rules is a one-block view over Config, syntactic sugar over the Is* methods
// so that execution code does not repeat (number, time) plumbing.
type Rules struct {
	ChainID *big.Int

	IsHomestead, IsTangerineWhistle, IsSpuriousDragon bool
	IsByzantium, IsConstantinople, IsPetersburg       bool
	IsIstanbul, IsBerlin, IsLondon                    bool
	IsShanghai, IsCancun                              bool
}

// Rules ensures c's ChainID is not nil.
func (c *Config) Rules(num uint64, time uint64) *Rules {
	chainID := c.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}

	return &Rules{
		ChainID:            new(big.Int).Set(chainID),
		IsHomestead:        c.IsHomestead(num),
		IsTangerineWhistle: c.IsTangerineWhistle(num),
		IsSpuriousDragon:   c.IsSpuriousDragon(num),
		IsByzantium:        c.IsByzantium(num),
		IsConstantinople:   c.IsConstantinople(num),
		IsPetersburg:       c.IsPetersburg(num),
		IsIstanbul:         c.IsIstanbul(num),
		IsBerlin:           c.IsBerlin(num),
		IsLondon:           c.IsLondon(num),
		IsShanghai:         c.IsShanghai(time),
		IsCancun:           c.IsCancun(time),
	}
}
