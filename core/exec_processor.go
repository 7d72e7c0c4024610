package core

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/types"
)

// VMResult is what the EVM boundary reports for one transaction.
type VMResult struct {
	GasUsed uint64
	Status  uint64
	Logs    types.Logs
}

// TxnVM is the execution core's view of the EVM interpreter: a pure function
// from (state, transaction, revision) to (receipt, state delta).
type TxnVM interface {
	ExecuteTransaction(ibs *state.IntraBlockState, header *types.Header, txn types.Transaction,
		sender common.Address, beneficiary common.Address, gasPool *uint64, rules *chain.Rules) (*VMResult, error)
}

// ExecutionProcessor applies single blocks: pre-validates transactions, calls
// the EVM per transaction, computes receipts, and performs the block-level
// finalize through the consensus engine.
type ExecutionProcessor struct {
	config *chain.Config
	engine consensus.Engine
	vm     TxnVM
}

func NewExecutionProcessor(config *chain.Config, engine consensus.Engine, vm TxnVM) *ExecutionProcessor {
	return &ExecutionProcessor{config: config, engine: engine, vm: vm}
}

// ExecuteBlock runs every transaction of the block against ibs and finalizes
// rewards/withdrawals. The caller owns flushing ibs into a writer.
// Gas used and the logs bloom are always checked against the header; the
// receipts root is checked only from Byzantium on.
func (p *ExecutionProcessor) ExecuteBlock(block *types.Block, ibs *state.IntraBlockState, senders []common.Address) (types.Receipts, error) {
	header := block.Header()
	rules := p.config.Rules(header.Number.Uint64(), header.Time)
	signer := types.MakeSigner(p.config, header.Number.Uint64(), header.Time)
	beneficiary := p.engine.GetBeneficiary(header)

	var baseFee *uint256.Int
	if header.BaseFee != nil {
		var overflow bool
		baseFee, overflow = uint256.FromBig(header.BaseFee)
		if overflow {
			return nil, fmt.Errorf("header base fee overflows u256: %s", header.BaseFee)
		}
	}

	gasPool := header.GasLimit
	cumulativeGasUsed := uint64(0)
	receipts := make(types.Receipts, 0, len(block.Transactions()))

	for i, txn := range block.Transactions() {
		if senders != nil && i < len(senders) {
			txn.SetSender(senders[i])
		}
		if err := PreValidateTransaction(txn, p.config, rules, baseFee, signer); err != nil {
			return nil, fmt.Errorf("txn %d (%x): %w", i, txn.Hash(), err)
		}
		sender, _ := txn.GetSender()

		result, err := p.vm.ExecuteTransaction(ibs, header, txn, sender, beneficiary, &gasPool, rules)
		if err != nil {
			return nil, fmt.Errorf("txn %d (%x): %w", i, txn.Hash(), err)
		}
		cumulativeGasUsed += result.GasUsed
		receipts = append(receipts, &types.Receipt{
			Type:              txn.Type(),
			Status:            result.Status,
			CumulativeGasUsed: cumulativeGasUsed,
			Logs:              result.Logs,
		})
	}

	if err := p.engine.Finalize(p.config, header, ibs, block.Uncles(), block.Withdrawals()); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	ibs.FinalizeTx(rules.IsSpuriousDragon)

	if cumulativeGasUsed != header.GasUsed {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrWrongGasUsed, cumulativeGasUsed, header.GasUsed)
	}
	if rules.IsByzantium {
		if receiptsRoot := types.DeriveSha(receipts); receiptsRoot != header.ReceiptHash {
			return nil, fmt.Errorf("%w: have %x, want %x", ErrWrongReceiptsRoot, receiptsRoot, header.ReceiptHash)
		}
	}
	if bloom := types.CreateBloom(receipts); bloom != header.Bloom {
		return nil, fmt.Errorf("%w: have %x, want %x", ErrWrongLogsBloom, bloom, header.Bloom)
	}
	return receipts, nil
}
