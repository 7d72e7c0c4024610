package consensus

import (
	"fmt"
	"math/big"
	"time"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/params"
	"github.com/erigontech/execution/types"
)

// AllowedFutureBlockTime is the max timestamp drift accepted before a header
// is considered a future block.
const AllowedFutureBlockTime = 15 * time.Second

// ValidateHeaderBasics performs the engine-independent part of header
// validation against the parent. Every variant starts here.
func ValidateHeaderBasics(reader ChainHeaderReader, header *types.Header, checkFutureTimestamp bool) (*types.Header, error) {
	if header.Number == nil {
		return nil, ErrInvalidNumber
	}
	number := header.Number.Uint64()
	if number == 0 {
		return nil, nil // genesis has no parent to check against
	}
	parent := reader.GetHeader(header.ParentHash, number-1)
	if parent == nil {
		return nil, ErrUnknownParent
	}
	if parent.Number.Uint64() != number-1 {
		return parent, ErrUnknownParent
	}
	if checkFutureTimestamp {
		if header.Time > uint64(time.Now().Add(AllowedFutureBlockTime).Unix()) {
			return parent, ErrFutureBlock
		}
	}
	if header.Time <= parent.Time {
		return parent, ErrOlderBlockTime
	}
	if uint64(len(header.Extra)) > params.MaximumExtraDataSize {
		return parent, fmt.Errorf("extra-data longer than %d bytes (%d)", params.MaximumExtraDataSize, len(header.Extra))
	}
	config := reader.Config()
	if !config.IsLondon(number) {
		if header.BaseFee != nil {
			return parent, fmt.Errorf("unexpected baseFee before London")
		}
		if err := VerifyHeaderGasLimits(parent, header); err != nil {
			return parent, err
		}
	} else if err := VerifyEip1559Header(config, parent, header); err != nil {
		return parent, err
	}
	if err := VerifyWithdrawalsPresence(config, header); err != nil {
		return parent, err
	}
	return parent, nil
}

// NoProof accepts any seal. Used by dev chains and by tests; everything else
// about the header is still validated.
type NoProof struct{}

func NewNoProof() *NoProof { return &NoProof{} }

func (e *NoProof) Type() chain.ConsensusName { return chain.NoProofConsensus }

func (e *NoProof) GetBeneficiary(header *types.Header) common.Address { return header.Coinbase }

func (e *NoProof) ValidateBlockHeader(reader ChainHeaderReader, header *types.Header, checkFutureTimestamp bool) error {
	_, err := ValidateHeaderBasics(reader, header, checkFutureTimestamp)
	return err
}

func (e *NoProof) ValidateSeal(ChainHeaderReader, *types.Header) error { return nil }

func (e *NoProof) ValidateOmmers(reader ChainHeaderReader, header *types.Header, ommers []*types.Header) error {
	if len(ommers) > 0 {
		return ErrTooManyOmmers
	}
	return nil
}

func (e *NoProof) Finalize(config *chain.Config, header *types.Header, ibs *state.IntraBlockState,
	ommers []*types.Header, withdrawals types.Withdrawals) error {
	return ProcessWithdrawals(ibs, withdrawals)
}

func (e *NoProof) CalcDifficulty(reader ChainHeaderReader, time, parentTime uint64, parentDifficulty *big.Int,
	parentNumber uint64, parentHash, parentUncleHash common.Hash) *big.Int {
	return new(big.Int).Set(parentDifficulty)
}
