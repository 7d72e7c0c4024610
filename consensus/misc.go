package consensus

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/params"
	"github.com/erigontech/execution/types"
)

// VerifyHeaderGasLimits checks gasUsed <= gasLimit and the bounds on gasLimit
// relative to the parent.
func VerifyHeaderGasLimits(parent, header *types.Header) error {
	return verifyGaslimitAgainst(parent.GasLimit, header)
}

func verifyGaslimitAgainst(parentGasLimit uint64, header *types.Header) error {
	if header.GasUsed > header.GasLimit {
		return fmt.Errorf("invalid gasUsed: have %d, gasLimit %d", header.GasUsed, header.GasLimit)
	}
	if header.GasLimit > params.MaxGasLimit {
		return fmt.Errorf("invalid gasLimit: have %v, max %v", header.GasLimit, params.MaxGasLimit)
	}
	diff := int64(parentGasLimit) - int64(header.GasLimit)
	if diff < 0 {
		diff *= -1
	}
	limit := parentGasLimit / params.GasLimitBoundDivisor
	if uint64(diff) >= limit {
		return fmt.Errorf("invalid gas limit: have %d, want %d +-= %d", header.GasLimit, parentGasLimit, limit-1)
	}
	if header.GasLimit < params.MinGasLimit {
		return fmt.Errorf("invalid gas limit: %d below minimum %d", header.GasLimit, params.MinGasLimit)
	}
	return nil
}

// VerifyEip1559Header verifies the presence and correctness of baseFeePerGas.
func VerifyEip1559Header(config *chain.Config, parent, header *types.Header) error {
	// Verify that the gas limit remains within allowed bounds
	parentGasLimit := parent.GasLimit
	if !config.IsLondon(parent.Number.Uint64()) {
		parentGasLimit = parent.GasLimit * params.ElasticityMultiplier
	}
	if err := verifyGaslimitAgainst(parentGasLimit, header); err != nil {
		return err
	}
	// Verify the header is not malformed
	if header.BaseFee == nil {
		return fmt.Errorf("header is missing baseFee")
	}
	// Verify the baseFee is correct based on the parent header.
	expectedBaseFee := CalcBaseFee(config, parent)
	if header.BaseFee.Cmp(expectedBaseFee) != 0 {
		return fmt.Errorf("invalid baseFee: have %s, want %s, parentBaseFee %s, parentGasUsed %d",
			header.BaseFee, expectedBaseFee, parent.BaseFee, parent.GasUsed)
	}
	return nil
}

// CalcBaseFee calculates the basefee of the header following parent.
func CalcBaseFee(config *chain.Config, parent *types.Header) *big.Int {
	// If the current block is the first EIP-1559 block, return the InitialBaseFee.
	if !config.IsLondon(parent.Number.Uint64()) {
		return new(big.Int).SetUint64(params.InitialBaseFee)
	}

	parentGasTarget := parent.GasLimit / params.ElasticityMultiplier
	baseFeeChangeDenominator := new(big.Int).SetUint64(params.BaseFeeChangeDenominator)
	parentGasTargetBig := new(big.Int).SetUint64(parentGasTarget)

	// If the parent gasUsed is the same as the target, the baseFee remains unchanged.
	if parent.GasUsed == parentGasTarget {
		return new(big.Int).Set(parent.BaseFee)
	}
	if parent.GasUsed > parentGasTarget {
		// If the parent block used more gas than its target, the baseFee should increase.
		gasUsedDelta := new(big.Int).SetUint64(parent.GasUsed - parentGasTarget)
		x := new(big.Int).Mul(parent.BaseFee, gasUsedDelta)
		y := x.Div(x, parentGasTargetBig)
		baseFeeDelta := bigMax(
			x.Div(y, baseFeeChangeDenominator),
			big.NewInt(1),
		)
		return x.Add(parent.BaseFee, baseFeeDelta)
	}
	// Otherwise if the parent block used less gas than its target, the baseFee should decrease.
	gasUsedDelta := new(big.Int).SetUint64(parentGasTarget - parent.GasUsed)
	x := new(big.Int).Mul(parent.BaseFee, gasUsedDelta)
	y := x.Div(x, parentGasTargetBig)
	baseFeeDelta := x.Div(y, baseFeeChangeDenominator)
	return bigMax(
		x.Sub(parent.BaseFee, baseFeeDelta),
		big.NewInt(0),
	)
}

func bigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return b
	}
	return a
}

// ProcessWithdrawals credits withdrawal amounts (gwei) to their addresses.
func ProcessWithdrawals(ibs *state.IntraBlockState, withdrawals types.Withdrawals) error {
	for _, w := range withdrawals {
		amount := new(big.Int).SetUint64(w.Amount)
		amount.Mul(amount, big.NewInt(1e9))
		if err := addBigToBalance(ibs, w.Address, amount); err != nil {
			return err
		}
	}
	return nil
}

func addBigToBalance(ibs *state.IntraBlockState, addr common.Address, amount *big.Int) error {
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("balance increment overflows u256: %s", amount)
	}
	return ibs.AddBalance(addr, value)
}

// VerifyWithdrawalsPresence gates the withdrawalsHash on the Shanghai time.
func VerifyWithdrawalsPresence(config *chain.Config, header *types.Header) error {
	shanghai := config.IsShanghai(header.Time)
	if shanghai && header.WithdrawalsHash == nil {
		return ErrMissingWithdrawals
	}
	if !shanghai && header.WithdrawalsHash != nil {
		return ErrUnexpectedWithdrawals
	}
	return nil
}
