package core

import (
	"errors"
	"fmt"

	"github.com/erigontech/execution/types"
)

var (
	ErrWrongTransactionsRoot = errors.New("wrong transactions root")
	ErrWrongOmmersHash       = errors.New("wrong ommers hash")
	ErrWrongWithdrawalsRoot  = errors.New("wrong withdrawals root")
	ErrWrongReceiptsRoot     = errors.New("wrong receipts root")
	ErrWrongLogsBloom        = errors.New("wrong logs bloom")
	ErrWrongGasUsed          = errors.New("wrong gas used")
)

// PreValidateBlockBody checks that the body matches the commitments in the
// header: transactions root, ommers hash and withdrawals root.
func PreValidateBlockBody(header *types.Header, body *types.Body) error {
	if hash := types.DeriveSha(types.Transactions(body.Transactions)); hash != header.TxHash {
		return fmt.Errorf("%w: have %x, want %x", ErrWrongTransactionsRoot, hash, header.TxHash)
	}
	if hash := types.OmmersHash(body.Uncles); hash != header.UncleHash {
		return fmt.Errorf("%w: have %x, want %x", ErrWrongOmmersHash, hash, header.UncleHash)
	}
	if header.WithdrawalsHash != nil {
		if body.Withdrawals == nil {
			return fmt.Errorf("%w: body has no withdrawals", ErrWrongWithdrawalsRoot)
		}
		if hash := types.DeriveSha(body.Withdrawals); hash != *header.WithdrawalsHash {
			return fmt.Errorf("%w: have %x, want %x", ErrWrongWithdrawalsRoot, hash, *header.WithdrawalsHash)
		}
	} else if body.Withdrawals != nil {
		return fmt.Errorf("%w: header has no withdrawals root", ErrWrongWithdrawalsRoot)
	}
	return nil
}
