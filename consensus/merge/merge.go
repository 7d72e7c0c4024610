// Package merge implements the composite engine selected when a chain config
// carries a terminal total difficulty: headers with non-zero difficulty go to
// the embedded pre-merge engine, headers with zero difficulty are validated
// under the proof-of-stake rules (EIP-3675).
package merge

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/types"
)

var (
	// ProofOfStakeDifficulty is always zero after the merge.
	ProofOfStakeDifficulty = big.NewInt(0)
	// ProofOfStakeNonce is always zero after the merge.
	ProofOfStakeNonce = types.BlockNonce{}
)

var (
	errInvalidDifficulty = errors.New("invalid difficulty")
	errInvalidNonce      = errors.New("invalid nonce")
	errInvalidUncleHash  = errors.New("non empty uncle hash")
)

// Merge dispatches between the pre-merge engine and the proof-of-stake rules
// by header difficulty. It owns its pre-merge engine.
type Merge struct {
	eth1Engine consensus.Engine
}

// New wraps the original eth1 engine, e.g. ethash or clique.
func New(eth1Engine consensus.Engine) *Merge {
	if _, ok := eth1Engine.(*Merge); ok {
		panic("nested consensus engine")
	}
	return &Merge{eth1Engine: eth1Engine}
}

// InnerEngine returns the embedded eth1 consensus engine.
func (s *Merge) InnerEngine() consensus.Engine { return s.eth1Engine }

func (s *Merge) Type() chain.ConsensusName { return s.eth1Engine.Type() }

// IsPoSHeader reports whether the header belongs to the proof-of-stake stage.
func IsPoSHeader(header *types.Header) bool {
	if header.Difficulty == nil {
		panic("IsPoSHeader called with invalid difficulty")
	}
	return header.Difficulty.Sign() == 0
}

func (s *Merge) GetBeneficiary(header *types.Header) common.Address {
	if !IsPoSHeader(header) {
		return s.eth1Engine.GetBeneficiary(header)
	}
	return header.Coinbase
}

func (s *Merge) ValidateBlockHeader(reader consensus.ChainHeaderReader, header *types.Header, checkFutureTimestamp bool) error {
	if !IsPoSHeader(header) {
		// A PoW header is only acceptable while the terminal total difficulty
		// has not been crossed by its parent.
		reached, err := IsTTDReached(reader, header.ParentHash, header.Number.Uint64()-1)
		if err != nil {
			return err
		}
		if reached {
			return consensus.ErrPoWBlockAfterMerge
		}
		return s.eth1Engine.ValidateBlockHeader(reader, header, checkFutureTimestamp)
	}

	parent := reader.GetHeader(header.ParentHash, header.Number.Uint64()-1)
	if parent == nil {
		return consensus.ErrUnknownParent
	}
	// The parent must be a PoS block, or the terminal PoW block: the least
	// PoW block whose parent total difficulty is below TTD and whose own
	// inclusion brings the total difficulty past it.
	if !IsPoSHeader(parent) {
		terminal, err := isTerminalPoWBlock(reader, parent)
		if err != nil {
			return err
		}
		if !terminal {
			return consensus.ErrPoSBlockBeforeMerge
		}
	}
	return s.verifyPoSHeader(reader, header, parent)
}

func isTerminalPoWBlock(reader consensus.ChainHeaderReader, header *types.Header) (bool, error) {
	ttd := reader.Config().TerminalTotalDifficulty
	if ttd == nil {
		return false, nil
	}
	headerTd := reader.GetTd(header.Hash(), header.Number.Uint64())
	if headerTd == nil {
		return false, consensus.ErrUnknownParentTotalDifficulty
	}
	if headerTd.Cmp(ttd) < 0 {
		return false, nil
	}
	parentTd := new(big.Int).Sub(headerTd, header.Difficulty)
	return parentTd.Cmp(ttd) < 0, nil
}

func (s *Merge) verifyPoSHeader(reader consensus.ChainHeaderReader, header, parent *types.Header) error {
	if header.Difficulty.Cmp(ProofOfStakeDifficulty) != 0 {
		return errInvalidDifficulty
	}
	if !bytes.Equal(header.Nonce[:], ProofOfStakeNonce[:]) {
		return errInvalidNonce
	}
	if header.UncleHash != types.EmptyUncleHash {
		return errInvalidUncleHash
	}
	if _, err := consensus.ValidateHeaderBasics(reader, header, false /* checkFutureTimestamp */); err != nil {
		return err
	}
	return nil
}

func (s *Merge) ValidateSeal(reader consensus.ChainHeaderReader, header *types.Header) error {
	if !IsPoSHeader(header) {
		return s.eth1Engine.ValidateSeal(reader, header)
	}
	// The beacon chain attests to PoS blocks; there is no seal to check.
	return nil
}

func (s *Merge) ValidateOmmers(reader consensus.ChainHeaderReader, header *types.Header, ommers []*types.Header) error {
	if !IsPoSHeader(header) {
		return s.eth1Engine.ValidateOmmers(reader, header, ommers)
	}
	if len(ommers) > 0 {
		return consensus.ErrTooManyOmmers
	}
	return nil
}

func (s *Merge) Finalize(config *chain.Config, header *types.Header, ibs *state.IntraBlockState,
	ommers []*types.Header, withdrawals types.Withdrawals) error {
	if !IsPoSHeader(header) {
		return s.eth1Engine.Finalize(config, header, ibs, ommers, withdrawals)
	}
	return consensus.ProcessWithdrawals(ibs, withdrawals)
}

func (s *Merge) CalcDifficulty(reader consensus.ChainHeaderReader, time, parentTime uint64, parentDifficulty *big.Int,
	parentNumber uint64, parentHash, parentUncleHash common.Hash) *big.Int {
	reached, err := IsTTDReached(reader, parentHash, parentNumber)
	if err != nil {
		return nil
	}
	if !reached {
		return s.eth1Engine.CalcDifficulty(reader, time, parentTime, parentDifficulty, parentNumber, parentHash, parentUncleHash)
	}
	return new(big.Int).Set(ProofOfStakeDifficulty)
}

// IsTTDReached checks if the terminal total difficulty has been surpassed on
// the parentHash block. It depends on the parent's total difficulty being
// stored; ErrUnknownParentTotalDifficulty is returned otherwise.
func IsTTDReached(reader consensus.ChainHeaderReader, parentHash common.Hash, number uint64) (bool, error) {
	ttd := reader.Config().TerminalTotalDifficulty
	if ttd == nil {
		return false, nil
	}
	td := reader.GetTd(parentHash, number)
	if td == nil {
		return false, consensus.ErrUnknownParentTotalDifficulty
	}
	return td.Cmp(ttd) >= 0, nil
}

// EngineForConfig builds the engine a chain config calls for, wrapping it in
// the merge composite when a terminal total difficulty is set.
func EngineForConfig(config *chain.Config, inner consensus.Engine) consensus.Engine {
	if config.TerminalTotalDifficulty == nil {
		return inner
	}
	return New(inner)
}
