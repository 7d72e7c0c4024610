package stagedsync

import (
	"fmt"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/etl"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
)

type TxLookupCfg struct {
	tmpdir string
}

func StageTxLookupCfg(tmpdir string) TxLookupCfg {
	return TxLookupCfg{tmpdir: tmpdir}
}

// SpawnTxLookup writes the txn_hash -> block_number mapping for every
// canonical transaction.
func SpawnTxLookup(s *StageState, tx kv.RwTx, cfg TxLookupCfg, quit <-chan struct{}, logger log.Logger) error {
	to, err := s.ExecutionAt(tx)
	if err != nil {
		return err
	}
	if s.BlockNumber >= to {
		return nil
	}

	collector := etl.NewCollector(s.LogPrefix(), cfg.tmpdir, etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	defer collector.Close()

	for blockNum := s.BlockNumber + 1; blockNum <= to; blockNum++ {
		if err := common.Stopped(quit); err != nil {
			return err
		}
		hash, err := rawdb.ReadCanonicalHash(tx, blockNum)
		if err != nil {
			return err
		}
		body, err := rawdb.ReadBody(tx, hash, blockNum)
		if err != nil {
			return err
		}
		if body == nil {
			return fmt.Errorf("%w: no body for block %d", ErrInvalidProgress, blockNum)
		}
		blockNumBytes := dbutils.EncodeBlockNumber(blockNum)
		for _, txn := range body.Transactions {
			txnHash := txn.Hash()
			if err = collector.Collect(txnHash[:], blockNumBytes); err != nil {
				return err
			}
		}
	}
	if err := collector.Load(tx, kv.TxLookup, etl.IdentityLoadFunc, etl.TransformArgs{Quit: quit}); err != nil {
		return err
	}
	return s.Update(tx, to)
}

// UnwindTxLookup deletes the lookup entries of the unwound blocks.
func UnwindTxLookup(u *UnwindState, s *StageState, tx kv.RwTx, cfg TxLookupCfg, quit <-chan struct{}) error {
	for blockNum := u.UnwindPoint + 1; blockNum <= s.BlockNumber; blockNum++ {
		if err := common.Stopped(quit); err != nil {
			return err
		}
		hash, err := rawdb.ReadCanonicalHash(tx, blockNum)
		if err != nil {
			return err
		}
		if hash == (common.Hash{}) {
			continue
		}
		body, err := rawdb.ReadBody(tx, hash, blockNum)
		if err != nil {
			return err
		}
		if body == nil {
			continue
		}
		for _, txn := range body.Transactions {
			txnHash := txn.Hash()
			if err = tx.Delete(kv.TxLookup, txnHash[:]); err != nil {
				return err
			}
		}
	}
	return u.Done(tx)
}

func PruneTxLookup(p *PruneState, tx kv.RwTx, cfg TxLookupCfg) error {
	return p.Done(tx)
}
