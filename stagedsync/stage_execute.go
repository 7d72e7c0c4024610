package stagedsync

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/common/length"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/core"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/stagedsync/stages"
	"github.com/erigontech/execution/types"
)

type ExecuteBlockCfg struct {
	chainConfig *chain.Config
	engine      consensus.Engine
	vm          core.TxnVM
}

func StageExecuteBlocksCfg(chainConfig *chain.Config, engine consensus.Engine, vm core.TxnVM) ExecuteBlockCfg {
	return ExecuteBlockCfg{chainConfig: chainConfig, engine: engine, vm: vm}
}

// SpawnExecuteBlocksStage applies canonical blocks to the plain state,
// recording change sets and receipts. A failing block reports ErrInvalidBlock
// with an unwind to its parent.
func SpawnExecuteBlocksStage(cfg ExecuteBlockCfg, s *StageState, u Unwinder, tx kv.RwTx, quit <-chan struct{}, logger log.Logger) error {
	to, err := stages.GetStageProgress(tx, stages.Senders)
	if err != nil {
		return err
	}
	if s.BlockNumber == to {
		return nil
	}
	if s.BlockNumber > to {
		return fmt.Errorf("%w: execution at %d, senders at %d", ErrInvalidProgress, s.BlockNumber, to)
	}
	logPrefix := s.LogPrefix()
	logger.Info(fmt.Sprintf("[%s] Blocks execution", logPrefix), "from", s.BlockNumber, "to", to)

	logEvery := time.NewTicker(30 * time.Second)
	defer logEvery.Stop()

	processor := core.NewExecutionProcessor(cfg.chainConfig, cfg.engine, cfg.vm)

	for blockNum := s.BlockNumber + 1; blockNum <= to; blockNum++ {
		if err := common.Stopped(quit); err != nil {
			return err
		}
		hash, err := rawdb.ReadCanonicalHash(tx, blockNum)
		if err != nil {
			return err
		}
		block, err := rawdb.ReadBlock(tx, hash, blockNum)
		if err != nil {
			return err
		}
		if block == nil {
			return fmt.Errorf("%w: no canonical block %d", ErrInvalidProgress, blockNum)
		}
		senders, err := rawdb.ReadSenders(tx, hash, blockNum)
		if err != nil {
			return err
		}

		chainReader := NewChainReader(cfg.chainConfig, tx)
		if err := validateBlock(cfg, chainReader, block); err != nil {
			u.UnwindTo(blockNum-1, hash)
			return fmt.Errorf("%w: block %d (%x): %v", ErrInvalidBlock, blockNum, hash, err)
		}

		ibs := state.New(state.NewPlainStateReader(tx))
		receipts, err := processor.ExecuteBlock(block, ibs, senders)
		if err != nil {
			u.UnwindTo(blockNum-1, hash)
			return fmt.Errorf("%w: block %d (%x): %v", ErrInvalidBlock, blockNum, hash, err)
		}
		writer := state.NewPlainStateWriter(tx, blockNum)
		rules := cfg.chainConfig.Rules(block.Number(), block.Header().Time)
		if err = ibs.CommitBlock(rules.IsSpuriousDragon, writer); err != nil {
			return fmt.Errorf("committing block %d: %w", blockNum, err)
		}
		if err = rawdb.WriteReceipts(tx, blockNum, receipts); err != nil {
			return err
		}
		if err = s.Update(tx, blockNum); err != nil {
			return err
		}

		select {
		default:
		case <-logEvery.C:
			logger.Info(fmt.Sprintf("[%s] Executed blocks", logPrefix), "currentBlock", blockNum)
		}
	}
	return nil
}

// validateBlock runs the engine checks and the body-commitment checks:
// header against parent, seal, ommers, then the body against the header's
// transactions/ommers/withdrawals roots.
func validateBlock(cfg ExecuteBlockCfg, chainReader ChainReader, block *types.Block) error {
	header := block.Header()
	if err := cfg.engine.ValidateBlockHeader(chainReader, header, false /* checkFutureTimestamp */); err != nil {
		return err
	}
	if err := cfg.engine.ValidateSeal(chainReader, header); err != nil {
		return err
	}
	if err := cfg.engine.ValidateOmmers(chainReader, header, block.Uncles()); err != nil {
		return err
	}
	return core.PreValidateBlockBody(header, block.Body())
}

// UnwindExecutionStage rolls the plain state back to the unwind point by
// replaying the change sets in reverse: the oldest recorded value of each key
// above the unwind point is its value at the unwind point.
func UnwindExecutionStage(u *UnwindState, s *StageState, tx kv.RwTx, cfg ExecuteBlockCfg, quit <-chan struct{}, logger log.Logger) error {
	if u.UnwindPoint >= s.BlockNumber {
		return nil
	}
	logPrefix := u.LogPrefix()
	logger.Info(fmt.Sprintf("[%s] Unwind Execution", logPrefix), "from", s.BlockNumber, "to", u.UnwindPoint)

	accountOriginals := map[common.Address][]byte{}
	if err := state.WalkAccountChangeSet(tx, u.UnwindPoint+1, func(blockN uint64, address common.Address, original []byte) error {
		if err := common.Stopped(quit); err != nil {
			return err
		}
		if blockN > s.BlockNumber {
			return nil
		}
		if _, seen := accountOriginals[address]; !seen {
			accountOriginals[address] = common.CopyBytes(original)
		}
		return nil
	}); err != nil {
		return err
	}

	type slotKey struct {
		address     common.Address
		incarnation uint64
		location    common.Hash
	}
	storageOriginals := map[slotKey][]byte{}
	if err := state.WalkStorageChangeSet(tx, u.UnwindPoint+1, func(blockN uint64, address common.Address, incarnation uint64, location common.Hash, original []byte) error {
		if err := common.Stopped(quit); err != nil {
			return err
		}
		if blockN > s.BlockNumber {
			return nil
		}
		k := slotKey{address, incarnation, location}
		if _, seen := storageOriginals[k]; !seen {
			storageOriginals[k] = common.CopyBytes(original)
		}
		return nil
	}); err != nil {
		return err
	}

	for address, original := range accountOriginals {
		if err := tx.Delete(kv.PlainState, address[:]); err != nil {
			return err
		}
		if len(original) == 0 {
			continue
		}
		if err := tx.Put(kv.PlainState, address[:], original); err != nil {
			return err
		}
	}

	storageCursor, err := tx.RwCursorDupSort(kv.PlainState)
	if err != nil {
		return err
	}
	defer storageCursor.Close()
	for k, original := range storageOriginals {
		prefix := dbutils.PlainGenerateStoragePrefix(k.address[:], k.incarnation)
		if v, err := storageCursor.SeekBothRange(prefix, k.location[:]); err != nil {
			return err
		} else if v != nil && bytes.HasPrefix(v, k.location[:]) {
			if err = storageCursor.DeleteCurrent(); err != nil {
				return err
			}
		}
		if len(original) == 0 {
			continue
		}
		newValue := make([]byte, length.Hash+len(original))
		copy(newValue, k.location[:])
		copy(newValue[length.Hash:], original)
		if err := storageCursor.Put(prefix, newValue); err != nil {
			return err
		}
	}

	// the consumed change sets and the receipts above the unwind point go away
	if err := state.TruncateChangeSets(tx, kv.AccountChangeSet, u.UnwindPoint+1); err != nil {
		return err
	}
	if err := state.TruncateChangeSets(tx, kv.StorageChangeSet, u.UnwindPoint+1); err != nil {
		return err
	}
	for blockNum := u.UnwindPoint + 1; blockNum <= s.BlockNumber; blockNum++ {
		if err := rawdb.DeleteReceipts(tx, blockNum); err != nil {
			return err
		}
	}
	return u.Done(tx)
}

// PruneExecutionStage drops change sets older than the retention window.
func PruneExecutionStage(p *PruneState, tx kv.RwTx, cfg ExecuteBlockCfg, pruneTo uint64) error {
	if pruneTo == 0 || pruneTo <= p.PruneProgress {
		return p.Done(tx)
	}
	if err := pruneChangeSetsTo(tx, kv.AccountChangeSet, pruneTo); err != nil {
		return err
	}
	if err := pruneChangeSetsTo(tx, kv.StorageChangeSet, pruneTo); err != nil {
		return err
	}
	return p.Done(tx)
}

func pruneChangeSetsTo(tx kv.RwTx, table string, pruneTo uint64) error {
	c, err := tx.RwCursorDupSort(table)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, _, err := c.First(); k != nil; k, _, err = c.NextNoDup() {
		if err != nil {
			return err
		}
		blockNum, err := dbutils.DecodeBlockNumber(k[:8])
		if err != nil {
			return err
		}
		if blockNum >= pruneTo {
			break
		}
		if err = c.DeleteCurrentDuplicates(); err != nil {
			return err
		}
	}
	return nil
}
