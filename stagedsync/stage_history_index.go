package stagedsync

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/bitmapdb"
	"github.com/erigontech/execution/kv/dbutils"
)

type HistoryCfg struct {
	tmpdir string
}

func StageHistoryCfg(tmpdir string) HistoryCfg {
	return HistoryCfg{tmpdir: tmpdir}
}

// SpawnAccountHistoryIndex builds the roaring-bitmap index of block numbers at
// which each account changed, from the account change sets.
func SpawnAccountHistoryIndex(s *StageState, tx kv.RwTx, cfg HistoryCfg, quit <-chan struct{}, logger log.Logger) error {
	to, err := s.ExecutionAt(tx)
	if err != nil {
		return err
	}
	if s.BlockNumber >= to {
		return nil
	}
	logger.Info(fmt.Sprintf("[%s] Account history index", s.LogPrefix()), "from", s.BlockNumber, "to", to)

	updates := map[string]*roaring64.Bitmap{}
	if err := state.WalkAccountChangeSet(tx, s.BlockNumber+1, func(blockN uint64, address common.Address, _ []byte) error {
		if blockN > to {
			return nil
		}
		k := string(address[:])
		bm, ok := updates[k]
		if !ok {
			bm = roaring64.New()
			updates[k] = bm
		}
		bm.Add(blockN)
		return common.Stopped(quit)
	}); err != nil {
		return err
	}
	if err := flushHistoryIndex(tx, kv.AccountHistory, updates); err != nil {
		return err
	}
	return s.Update(tx, to)
}

// SpawnStorageHistoryIndex does the same over the storage change sets; index
// keys are address ‖ location.
func SpawnStorageHistoryIndex(s *StageState, tx kv.RwTx, cfg HistoryCfg, quit <-chan struct{}, logger log.Logger) error {
	to, err := s.ExecutionAt(tx)
	if err != nil {
		return err
	}
	if s.BlockNumber >= to {
		return nil
	}
	logger.Info(fmt.Sprintf("[%s] Storage history index", s.LogPrefix()), "from", s.BlockNumber, "to", to)

	updates := map[string]*roaring64.Bitmap{}
	if err := state.WalkStorageChangeSet(tx, s.BlockNumber+1, func(blockN uint64, address common.Address, _ uint64, location common.Hash, _ []byte) error {
		if blockN > to {
			return nil
		}
		k := string(append(address.Bytes(), location.Bytes()...))
		bm, ok := updates[k]
		if !ok {
			bm = roaring64.New()
			updates[k] = bm
		}
		bm.Add(blockN)
		return common.Stopped(quit)
	}); err != nil {
		return err
	}
	if err := flushHistoryIndex(tx, kv.StorageHistory, updates); err != nil {
		return err
	}
	return s.Update(tx, to)
}

// flushHistoryIndex merges the collected bitmaps into the sharded index: the
// last shard of each key is read back, merged, and re-chunked.
func flushHistoryIndex(tx kv.RwTx, table string, updates map[string]*roaring64.Bitmap) error {
	for key, bm := range updates {
		lastChunkKey := bitmapdb.ChunkKey64([]byte(key), ^uint64(0))
		lastChunkBytes, err := tx.GetOne(table, lastChunkKey)
		if err != nil {
			return err
		}
		if len(lastChunkBytes) > 0 {
			lastChunk := roaring64.New()
			if _, err := lastChunk.ReadFrom(bytes.NewReader(lastChunkBytes)); err != nil {
				return err
			}
			bm.Or(lastChunk)
			if err := tx.Delete(table, lastChunkKey); err != nil {
				return err
			}
		}
		if err := bitmapdb.WalkChunks64(bm, func(chunk *roaring64.Bitmap, isLast bool) error {
			shardID := chunk.Maximum()
			if isLast {
				shardID = ^uint64(0)
			}
			buf := bytes.NewBuffer(nil)
			if _, err := chunk.WriteTo(buf); err != nil {
				return err
			}
			return tx.Put(table, bitmapdb.ChunkKey64([]byte(key), shardID), buf.Bytes())
		}); err != nil {
			return err
		}
	}
	return nil
}

// UnwindAccountHistoryIndex truncates the index above the unwind point.
func UnwindAccountHistoryIndex(u *UnwindState, s *StageState, tx kv.RwTx, cfg HistoryCfg, quit <-chan struct{}) error {
	touched := map[string]struct{}{}
	if err := state.WalkAccountChangeSet(tx, u.UnwindPoint+1, func(blockN uint64, address common.Address, _ []byte) error {
		touched[string(address[:])] = struct{}{}
		return common.Stopped(quit)
	}); err != nil {
		return err
	}
	for key := range touched {
		if err := bitmapdb.TruncateRange64(tx, kv.AccountHistory, []byte(key), u.UnwindPoint+1); err != nil {
			return err
		}
	}
	return u.Done(tx)
}

func UnwindStorageHistoryIndex(u *UnwindState, s *StageState, tx kv.RwTx, cfg HistoryCfg, quit <-chan struct{}) error {
	touched := map[string]struct{}{}
	if err := state.WalkStorageChangeSet(tx, u.UnwindPoint+1, func(blockN uint64, address common.Address, _ uint64, location common.Hash, _ []byte) error {
		touched[string(append(address.Bytes(), location.Bytes()...))] = struct{}{}
		return common.Stopped(quit)
	}); err != nil {
		return err
	}
	for key := range touched {
		if err := bitmapdb.TruncateRange64(tx, kv.StorageHistory, []byte(key), u.UnwindPoint+1); err != nil {
			return err
		}
	}
	return u.Done(tx)
}

// PruneHistoryIndex removes shards fully below the prune watermark.
func PruneHistoryIndex(p *PruneState, tx kv.RwTx, table string, pruneTo uint64) error {
	if pruneTo == 0 {
		return p.Done(tx)
	}
	c, err := tx.RwCursor(table)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, _, err := c.First(); k != nil; k, _, err = c.Next() {
		if err != nil {
			return err
		}
		if len(k) < 8 {
			return fmt.Errorf("unexpected history index key length: %d", len(k))
		}
		shardID, err := dbutils.DecodeBlockNumber(k[len(k)-8:])
		if err != nil {
			return err
		}
		if shardID < pruneTo {
			if err = c.DeleteCurrent(); err != nil {
				return err
			}
		}
	}
	return p.Done(tx)
}
