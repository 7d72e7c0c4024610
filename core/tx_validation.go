package core

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/params"
	"github.com/erigontech/execution/types"
)

// IntrinsicGas computes the gas a transaction consumes before any code runs.
func IntrinsicGas(data []byte, accessList types.AccessList, isContractCreation bool, rules *chain.Rules) (uint64, error) {
	var gas uint64
	if isContractCreation && rules.IsHomestead {
		gas = params.TxGasContractCreation
	} else {
		gas = params.TxGas
	}
	dataLen := uint64(len(data))
	if dataLen > 0 {
		var nz uint64
		for _, byt := range data {
			if byt != 0 {
				nz++
			}
		}
		nonZeroGas := params.TxDataNonZeroGasFrontier
		if rules.IsIstanbul {
			nonZeroGas = params.TxDataNonZeroGasEIP2028
		}
		if (^uint64(0)-gas)/nonZeroGas < nz {
			return 0, ErrIntrinsicGas
		}
		gas += nz * nonZeroGas

		z := dataLen - nz
		if (^uint64(0)-gas)/params.TxDataZeroGas < z {
			return 0, ErrIntrinsicGas
		}
		gas += z * params.TxDataZeroGas

		if isContractCreation && rules.IsShanghai {
			lenWords := (dataLen + 31) / 32
			if (^uint64(0)-gas)/params.InitCodeWordGas < lenWords {
				return 0, ErrIntrinsicGas
			}
			gas += lenWords * params.InitCodeWordGas
		}
	}
	if accessList != nil {
		gas += uint64(len(accessList)) * params.TxAccessListAddressGas
		gas += uint64(accessList.StorageKeys()) * params.TxAccessListStorageKeyGas
	}
	return gas, nil
}

// PreValidateTransaction performs the stateless transaction checks,
// short-circuiting in order: chain id, type gating, fee caps, signature,
// intrinsic gas, nonce cap, init-code cap. The sender ends up cached on the
// transaction when recovery runs.
func PreValidateTransaction(txn types.Transaction, config *chain.Config, rules *chain.Rules, baseFee *uint256.Int, signer *types.Signer) error {
	if chainID := txn.GetChainID(); chainID != nil {
		if !rules.IsSpuriousDragon {
			return ErrWrongChainID
		}
		if config.ChainID == nil || !chainID.Eq(uint256.MustFromBig(config.ChainID)) {
			return fmt.Errorf("%w: have %s, want %s", ErrWrongChainID, chainID, config.ChainID)
		}
	}

	switch txn.Type() {
	case types.LegacyTxType:
	case types.AccessListTxType:
		if !rules.IsBerlin {
			return ErrUnsupportedTransactionType
		}
	case types.DynamicFeeTxType:
		if !rules.IsLondon {
			return ErrUnsupportedTransactionType
		}
	default:
		return ErrUnsupportedTransactionType
	}

	if baseFee != nil && txn.GetFeeCap().Lt(baseFee) {
		return fmt.Errorf("%w: fee cap %s, base fee %s", ErrMaxFeeLessThanBase, txn.GetFeeCap(), baseFee)
	}
	if txn.GetTipCap().Gt(txn.GetFeeCap()) {
		return ErrMaxPriorityFeeGreaterThanMax
	}

	if _, cached := txn.GetSender(); !cached {
		if _, err := txn.Sender(signer); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	gas, err := IntrinsicGas(txn.GetData(), txn.GetAccessList(), txn.GetTo() == nil, rules)
	if err != nil {
		return err
	}
	if txn.GetGasLimit() < gas {
		return fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, txn.GetGasLimit(), gas)
	}

	if txn.GetNonce() >= params.MaxNonce {
		return ErrNonceTooHigh
	}

	if rules.IsShanghai && txn.GetTo() == nil && uint64(len(txn.GetData())) > params.MaxInitCodeSize {
		return ErrMaxInitCodeSizeExceeded
	}
	return nil
}
