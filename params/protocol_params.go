// Package params holds the protocol constants shared by validation and
// execution.
package params

const (
	GasLimitBoundDivisor uint64 = 1024 // The bound divisor of the gas limit, used in update calculations.
	MinGasLimit          uint64 = 5000 // Minimum the gas limit may ever be.
	MaxGasLimit          uint64 = 0x7fffffffffffffff
	MaximumExtraDataSize uint64 = 32 // Maximum size extra data may be after Genesis.

	TxGas                 uint64 = 21000 // Per transaction not creating a contract.
	TxGasContractCreation uint64 = 53000 // Per transaction that creates a contract.
	TxDataZeroGas         uint64 = 4     // Per byte of data attached to a transaction that equals zero.
	TxDataNonZeroGasFrontier uint64 = 68 // Per byte of data attached to a transaction that is not equal to zero.
	TxDataNonZeroGasEIP2028  uint64 = 16 // Per byte of non zero data attached to a transaction after EIP 2028 (Istanbul)
	TxAccessListAddressGas   uint64 = 2400 // Per address specified in EIP 2930 access list
	TxAccessListStorageKeyGas uint64 = 1900 // Per storage key specified in EIP 2930 access list

	// EIP-3860: limit and meter initcode
	MaxInitCodeSize uint64 = 49152
	InitCodeWordGas uint64 = 2

	// EIP-1559 fee market
	BaseFeeChangeDenominator uint64 = 8
	ElasticityMultiplier     uint64 = 2
	InitialBaseFee           uint64 = 1000000000

	// EIP-2681: transaction nonces are capped below 2^64-1
	MaxNonce uint64 = ^uint64(0) - 1

	DifficultyBoundDivisor uint64 = 2048   // The bound divisor of the difficulty, used in the update calculations.
	MinimumDifficulty      uint64 = 131072 // The minimum that the difficulty may ever be.
	DurationLimit          uint64 = 13     // The decision boundary on the blocktime duration used to determine whether difficulty should go up or not.

	GenesisGasLimit      uint64 = 4712388 // Gas limit of the Genesis block.
	GenesisDifficulty    uint64 = 131072
)
