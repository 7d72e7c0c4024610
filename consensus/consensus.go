// Package consensus defines the engine surface shared by the NoProof, Ethash,
// Clique and proof-of-stake variants, and the composite merge engine.
package consensus

import (
	"errors"
	"math/big"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/types"
)

// ChainHeaderReader gives an engine access to previously stored headers.
type ChainHeaderReader interface {
	Config() *chain.Config

	GetHeader(hash common.Hash, number uint64) *types.Header
	GetHeaderByNumber(number uint64) *types.Header
	// GetTd returns the total difficulty accumulated up to the given block,
	// nil when unknown.
	GetTd(hash common.Hash, number uint64) *big.Int
}

// Engine is one consensus variant. Engines are held by value in their owner
// and never nested, except for the merge composite which owns its pre-merge
// engine.
type Engine interface {
	Type() chain.ConsensusName

	// GetBeneficiary returns the address receiving the block rewards/fees.
	GetBeneficiary(header *types.Header) common.Address

	// ValidateBlockHeader checks the header against its parent.
	// With checkFutureTimestamp, a timestamp too far in the future is an error.
	ValidateBlockHeader(chain ChainHeaderReader, header *types.Header, checkFutureTimestamp bool) error

	// ValidateSeal checks the proof embedded in the header.
	ValidateSeal(chain ChainHeaderReader, header *types.Header) error

	// ValidateOmmers checks the ommers of a block against the recent
	// canonical history.
	ValidateOmmers(chain ChainHeaderReader, header *types.Header, ommers []*types.Header) error

	// Finalize applies the block-level state transition that is not driven by
	// transactions: block/ommer rewards before the merge, withdrawals after
	// Shanghai.
	Finalize(config *chain.Config, header *types.Header, ibs *state.IntraBlockState,
		ommers []*types.Header, withdrawals types.Withdrawals) error

	// CalcDifficulty computes the expected difficulty of a new header.
	CalcDifficulty(chain ChainHeaderReader, time, parentTime uint64, parentDifficulty *big.Int,
		parentNumber uint64, parentHash, parentUncleHash common.Hash) *big.Int
}

var (
	// ErrUnknownParent is returned when the parent of a header being
	// validated is not in the header table.
	ErrUnknownParent = errors.New("unknown parent")

	// ErrUnknownParentTotalDifficulty is returned when the parent's total
	// difficulty row is missing.
	ErrUnknownParentTotalDifficulty = errors.New("unknown parent total difficulty")

	ErrFutureBlock = errors.New("timestamp too far in the future")

	ErrOlderBlockTime = errors.New("timestamp older than parent")

	ErrInvalidNumber = errors.New("invalid block number")

	ErrWrongDifficulty = errors.New("wrong difficulty")

	ErrInvalidSeal = errors.New("invalid seal")

	ErrInvalidOmmerHeader = errors.New("invalid ommer header")

	ErrTooManyOmmers = errors.New("too many ommers")

	ErrDuplicateOmmer = errors.New("duplicate ommer")

	ErrOmmerIsAncestor = errors.New("ommer is ancestor")

	ErrDanglingOmmer = errors.New("ommer's parent is not ancestor")

	// ErrPoWBlockAfterMerge: a header with non-zero difficulty whose parent
	// already crossed the terminal total difficulty.
	ErrPoWBlockAfterMerge = errors.New("proof-of-work block after the merge")

	// ErrPoSBlockBeforeMerge: a header with zero difficulty whose parent is
	// neither a PoS block nor the terminal PoW block.
	ErrPoSBlockBeforeMerge = errors.New("proof-of-stake block before the merge")

	ErrUnexpectedWithdrawals = errors.New("unexpected withdrawals")

	ErrMissingWithdrawals = errors.New("missing withdrawals")
)
