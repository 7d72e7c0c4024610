// Package ethash implements the pre-merge proof-of-work consensus rules.
//
// Seal verification comes in two modes: the full mode checks the PoW solution
// against the DAG-backed verifier (an external collaborator; the hook is
// injected), the fake mode accepts any mix digest. Difficulty and reward
// schedules are always enforced.
package ethash

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/types"
)

// Block rewards in wei.
var (
	FrontierBlockReward       = big.NewInt(5e+18)
	ByzantiumBlockReward      = big.NewInt(3e+18)
	ConstantinopleBlockReward = big.NewInt(2e+18)
)

const maxOmmers = 2 // Maximum number of ommers allowed in a single block
const ommerGenerationLimit = 6

// SealVerifier checks the PoW solution of a header. The DAG machinery behind
// it is outside the execution core.
type SealVerifier func(header *types.Header) error

type Ethash struct {
	fakePoW    bool
	sealVerify SealVerifier
}

// New returns the full engine; verify is consulted for every seal.
func New(verify SealVerifier) *Ethash {
	return &Ethash{sealVerify: verify}
}

// NewFaker returns an engine that accepts every seal but enforces the rest of
// the proof-of-work rules.
func NewFaker() *Ethash {
	return &Ethash{fakePoW: true}
}

func (e *Ethash) Type() chain.ConsensusName { return chain.EtHashConsensus }

func (e *Ethash) GetBeneficiary(header *types.Header) common.Address { return header.Coinbase }

func (e *Ethash) ValidateBlockHeader(reader consensus.ChainHeaderReader, header *types.Header, checkFutureTimestamp bool) error {
	parent, err := consensus.ValidateHeaderBasics(reader, header, checkFutureTimestamp)
	if err != nil {
		return err
	}
	if parent == nil {
		return nil // genesis
	}
	expected := CalcDifficulty(reader.Config(), header.Time, parent.Time, parent.Difficulty, parent.Number.Uint64(), parent.UncleHash)
	if expected.Cmp(header.Difficulty) != 0 {
		return fmt.Errorf("%w: have %v, want %v", consensus.ErrWrongDifficulty, header.Difficulty, expected)
	}
	return nil
}

func (e *Ethash) ValidateSeal(_ consensus.ChainHeaderReader, header *types.Header) error {
	if header.Difficulty.Sign() <= 0 {
		return consensus.ErrInvalidSeal
	}
	if e.fakePoW {
		return nil
	}
	if e.sealVerify == nil {
		return fmt.Errorf("%w: no seal verifier configured", consensus.ErrInvalidSeal)
	}
	if err := e.sealVerify(header); err != nil {
		return fmt.Errorf("%w: %v", consensus.ErrInvalidSeal, err)
	}
	return nil
}

// ValidateOmmers checks ommer count, uniqueness, ancestry and header validity
// within the last six generations.
func (e *Ethash) ValidateOmmers(reader consensus.ChainHeaderReader, header *types.Header, ommers []*types.Header) error {
	if len(ommers) == 0 {
		return nil
	}
	if len(ommers) > maxOmmers {
		return consensus.ErrTooManyOmmers
	}

	// Gather the set of past ommers and ancestors
	ancestors := make(map[common.Hash]*types.Header)
	ommerSeen := make(map[common.Hash]struct{})

	number, parent := header.Number.Uint64()-1, header.ParentHash
	for i := 0; i < ommerGenerationLimit; i++ {
		ancestor := reader.GetHeader(parent, number)
		if ancestor == nil {
			break
		}
		ancestors[ancestor.Hash()] = ancestor
		parent, number = ancestor.ParentHash, number-1
	}
	ancestors[header.Hash()] = header

	for _, ommer := range ommers {
		hash := ommer.Hash()
		if _, ok := ommerSeen[hash]; ok {
			return consensus.ErrDuplicateOmmer
		}
		ommerSeen[hash] = struct{}{}

		if ancestors[hash] != nil {
			return consensus.ErrOmmerIsAncestor
		}
		if ancestors[ommer.ParentHash] == nil || ommer.ParentHash == header.ParentHash {
			return consensus.ErrDanglingOmmer
		}
		ommerParent := ancestors[ommer.ParentHash]
		if err := e.validateOmmerHeader(reader, ommer, ommerParent); err != nil {
			return fmt.Errorf("%w: %v", consensus.ErrInvalidOmmerHeader, err)
		}
	}
	return nil
}

func (e *Ethash) validateOmmerHeader(reader consensus.ChainHeaderReader, ommer, parent *types.Header) error {
	if ommer.Number.Uint64() != parent.Number.Uint64()+1 {
		return consensus.ErrInvalidNumber
	}
	if ommer.Time <= parent.Time {
		return consensus.ErrOlderBlockTime
	}
	expected := CalcDifficulty(reader.Config(), ommer.Time, parent.Time, parent.Difficulty, parent.Number.Uint64(), parent.UncleHash)
	if expected.Cmp(ommer.Difficulty) != 0 {
		return consensus.ErrWrongDifficulty
	}
	return e.ValidateSeal(reader, ommer)
}

// Finalize credits the static block reward plus ommer inclusion rewards.
func (e *Ethash) Finalize(config *chain.Config, header *types.Header, ibs *state.IntraBlockState,
	ommers []*types.Header, withdrawals types.Withdrawals) error {
	if withdrawals != nil {
		// a PoW chain never has withdrawals
		return consensus.ErrUnexpectedWithdrawals
	}
	minerReward, ommerRewards := AccumulateRewards(config, header, ommers)
	for i, ommer := range ommers {
		if err := addReward(ibs, ommer.Coinbase, ommerRewards[i]); err != nil {
			return err
		}
	}
	return addReward(ibs, header.Coinbase, minerReward)
}

func addReward(ibs *state.IntraBlockState, addr common.Address, reward *big.Int) error {
	u, overflow := uint256.FromBig(reward)
	if overflow {
		return fmt.Errorf("reward overflows u256: %s", reward)
	}
	return ibs.AddBalance(addr, u)
}

// AccumulateRewards returns the miner and ommer rewards for the block.
func AccumulateRewards(config *chain.Config, header *types.Header, ommers []*types.Header) (*big.Int, []*big.Int) {
	blockReward := FrontierBlockReward
	number := header.Number.Uint64()
	if config.IsByzantium(number) {
		blockReward = ByzantiumBlockReward
	}
	if config.IsConstantinople(number) {
		blockReward = ConstantinopleBlockReward
	}

	minerReward := new(big.Int).Set(blockReward)
	ommerRewards := make([]*big.Int, len(ommers))
	big8 := big.NewInt(8)
	big32 := big.NewInt(32)
	for i, ommer := range ommers {
		r := new(big.Int).SetUint64(ommer.Number.Uint64() + 8)
		r.Sub(r, header.Number)
		r.Mul(r, blockReward)
		r.Div(r, big8)
		ommerRewards[i] = r

		inclusion := new(big.Int).Div(blockReward, big32)
		minerReward.Add(minerReward, inclusion)
	}
	return minerReward, ommerRewards
}

func (e *Ethash) CalcDifficulty(reader consensus.ChainHeaderReader, time, parentTime uint64, parentDifficulty *big.Int,
	parentNumber uint64, parentHash, parentUncleHash common.Hash) *big.Int {
	return CalcDifficulty(reader.Config(), time, parentTime, parentDifficulty, parentNumber, parentUncleHash)
}

