// Package core ties transaction pre-validation, block execution and genesis
// writing together.
package core

import "errors"

var (
	// ErrWrongChainID: the transaction carries a chain id that is not the
	// chain's, or one before replay protection activated.
	ErrWrongChainID = errors.New("wrong chain id")

	// ErrUnsupportedTransactionType: the typed-transaction envelope is not
	// valid at the current revision.
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")

	// ErrMaxFeeLessThanBase: max_fee_per_gas is below the block base fee.
	ErrMaxFeeLessThanBase = errors.New("max fee per gas less than block base fee")

	// ErrMaxPriorityFeeGreaterThanMax: max_priority_fee_per_gas exceeds
	// max_fee_per_gas.
	ErrMaxPriorityFeeGreaterThanMax = errors.New("max priority fee per gas higher than max fee per gas")

	// ErrInvalidSignature: the signature is not a canonical secp256k1
	// signature recoverable to a sender.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrIntrinsicGas: the gas limit does not cover the intrinsic cost.
	ErrIntrinsicGas = errors.New("intrinsic gas too low")

	// ErrNonceTooHigh: nonces are capped below 2^64-1 (EIP-2681).
	ErrNonceTooHigh = errors.New("nonce too high")

	// ErrNonceTooLow: the account nonce is already past the transaction's.
	ErrNonceTooLow = errors.New("nonce too low")

	// ErrMaxInitCodeSizeExceeded: contract-creation init code longer than
	// the Shanghai cap (EIP-3860).
	ErrMaxInitCodeSizeExceeded = errors.New("max initcode size exceeded")

	// ErrInsufficientFunds: the sender cannot cover gas * fee cap + value.
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")

	// ErrGasLimitReached: the block gas pool is exhausted.
	ErrGasLimitReached = errors.New("gas limit reached")
)
