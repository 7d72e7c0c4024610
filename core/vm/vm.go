// Package vm is the execution core's boundary with the EVM interpreter.
//
// The interpreter itself is an external collaborator: from the core's point
// of view it is a pure function from (state, transaction, revision) to
// (receipt, state delta). TransferVM is the built-in implementation covering
// plain value transfers; byte-code execution plugs in through the same
// interface.
package vm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/rlp"
	"github.com/erigontech/execution/types"
)

// TransferVM performs nonce and balance accounting, fee payment and value
// transfer. Contract byte code is not interpreted: a creation deploys an
// empty contract under a fresh incarnation.
type TransferVM struct{}

func NewTransferVM() *TransferVM { return &TransferVM{} }

func (vm *TransferVM) ExecuteTransaction(ibs *state.IntraBlockState, header *types.Header, txn types.Transaction,
	sender common.Address, beneficiary common.Address, gasPool *uint64, rules *chain.Rules) (*core.VMResult, error) {

	gasLimit := txn.GetGasLimit()
	if *gasPool < gasLimit {
		return nil, fmt.Errorf("%w: pool %d, need %d", core.ErrGasLimitReached, *gasPool, gasLimit)
	}

	nonce, err := ibs.GetNonce(sender)
	if err != nil {
		return nil, err
	}
	if nonce < txn.GetNonce() {
		return nil, fmt.Errorf("%w: address %s, tx: %d state: %d", core.ErrNonceTooHigh, sender, txn.GetNonce(), nonce)
	}
	if nonce > txn.GetNonce() {
		return nil, fmt.Errorf("%w: address %s, tx: %d state: %d", core.ErrNonceTooLow, sender, txn.GetNonce(), nonce)
	}

	var baseFee *uint256.Int
	if header.BaseFee != nil {
		baseFee, _ = uint256.FromBig(header.BaseFee)
	}
	effectiveTip := txn.GetEffectiveGasTip(baseFee)
	gasPrice := new(uint256.Int).Set(effectiveTip)
	if baseFee != nil {
		gasPrice.Add(gasPrice, baseFee)
	}

	// the sender buys gas at the fee cap: the worst case must be covered
	cost := new(uint256.Int).SetUint64(gasLimit)
	cost.Mul(cost, txn.GetFeeCap())
	cost.Add(cost, txn.GetValue())
	balance, err := ibs.GetBalance(sender)
	if err != nil {
		return nil, err
	}
	if balance.Lt(cost) {
		return nil, fmt.Errorf("%w: address %s, have %s, want %s", core.ErrInsufficientFunds, sender, &balance, cost)
	}

	gasUsed, err := core.IntrinsicGas(txn.GetData(), txn.GetAccessList(), txn.GetTo() == nil, rules)
	if err != nil {
		return nil, err
	}
	*gasPool -= gasUsed

	// charge for the gas actually used at the effective price
	fee := new(uint256.Int).SetUint64(gasUsed)
	fee.Mul(fee, gasPrice)
	if err = ibs.SubBalance(sender, fee); err != nil {
		return nil, err
	}
	if err = ibs.SetNonce(sender, nonce+1); err != nil {
		return nil, err
	}

	if to := txn.GetTo(); to != nil {
		if err = transferValue(ibs, sender, *to, txn.GetValue()); err != nil {
			return nil, err
		}
	} else {
		contractAddr := CreateAddress(sender, nonce)
		if err = ibs.CreateAccount(contractAddr, true); err != nil {
			return nil, err
		}
		if rules.IsSpuriousDragon {
			if err = ibs.SetNonce(contractAddr, 1); err != nil {
				return nil, err
			}
		}
		if err = transferValue(ibs, sender, contractAddr, txn.GetValue()); err != nil {
			return nil, err
		}
	}

	// the tip goes to the beneficiary, the base fee is burned
	tip := new(uint256.Int).SetUint64(gasUsed)
	tip.Mul(tip, effectiveTip)
	if !tip.IsZero() {
		if err = ibs.AddBalance(beneficiary, tip); err != nil {
			return nil, err
		}
	}

	ibs.FinalizeTx(rules.IsSpuriousDragon)
	return &core.VMResult{GasUsed: gasUsed, Status: types.ReceiptStatusSuccessful, Logs: nil}, nil
}

func transferValue(ibs *state.IntraBlockState, from, to common.Address, value *uint256.Int) error {
	if err := ibs.SubBalance(from, value); err != nil {
		return err
	}
	return ibs.AddBalance(to, value)
}

// CreateAddress computes the address of a contract created by (sender, nonce).
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	var buf [64]byte
	pos := 0
	listPayload := 21 + 1 + rlp.IntLenExcludingHead(nonce)
	buf[pos] = 0xC0 + byte(listPayload)
	pos++
	buf[pos] = 0x80 + 20
	pos++
	copy(buf[pos:], sender[:])
	pos += 20
	if nonce == 0 {
		buf[pos] = 0x80
		pos++
	} else if nonce < 0x80 {
		buf[pos] = byte(nonce)
		pos++
	} else {
		beLen := rlp.IntLenExcludingHead(nonce)
		buf[pos] = 0x80 + byte(beLen)
		pos++
		for i := beLen; i > 0; i-- {
			buf[pos+i-1] = byte(nonce)
			nonce >>= 8
		}
		pos += beLen
	}
	return common.BytesToAddress(crypto.Keccak256(buf[:pos])[12:])
}
