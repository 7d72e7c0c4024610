package stagedsync

import (
	"fmt"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/etl"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/trie"
	"github.com/erigontech/execution/types"
	"github.com/erigontech/execution/types/accounts"
)

// ReGenerateRatio: when the segment to advance is wider than this, a full
// regeneration is cheaper than walking the change sets.
const ReGenerateRatio = 100_000

type TrieCfg struct {
	checkRoot bool
	tmpdir    string
}

func StageTrieCfg(checkRoot bool, tmpdir string) TrieCfg {
	return TrieCfg{checkRoot: checkRoot, tmpdir: tmpdir}
}

// SpawnIntermediateHashesStage regenerates or incrementally updates the
// account and storage tries and computes the state root, which must equal the
// root in the target header.
func SpawnIntermediateHashesStage(s *StageState, u Unwinder, tx kv.RwTx, cfg TrieCfg, quit <-chan struct{}, logger log.Logger) (common.Hash, error) {
	to, err := s.ExecutionAt(tx)
	if err != nil {
		return trie.EmptyRoot, err
	}
	if s.BlockNumber == to {
		// we already did hash check for this block
		// we don't do the obvious `if s.BlockNumber > to` to support reorgs more naturally
		return trie.EmptyRoot, nil
	}

	var expectedRootHash common.Hash
	var headerHash common.Hash
	if cfg.checkRoot {
		syncHeadHeader, err := headerByCanonicalNumber(tx, to)
		if err != nil {
			return trie.EmptyRoot, err
		}
		expectedRootHash = syncHeadHeader.Root
		headerHash = syncHeadHeader.Hash()
	}
	logPrefix := s.LogPrefix()
	logger.Info(fmt.Sprintf("[%s] Generating intermediate hashes", logPrefix), "from", s.BlockNumber, "to", to)

	var root common.Hash
	if s.BlockNumber == 0 || to-s.BlockNumber > ReGenerateRatio {
		root, err = RegenerateIntermediateHashes(logPrefix, tx, cfg, quit, logger)
	} else {
		root, err = incrementIntermediateHashes(logPrefix, s, tx, to, cfg, quit, logger)
	}
	if err != nil {
		return trie.EmptyRoot, err
	}

	if cfg.checkRoot && root != expectedRootHash {
		logger.Error(fmt.Sprintf("[%s] Wrong trie root of block %d: %x, expected (from header): %x. Block hash: %x", logPrefix, to, root, expectedRootHash, headerHash))
		// binary search bias toward the lower half: a subsequent attempt can bisect
		unwindPoint := s.BlockNumber + (to-s.BlockNumber)/2
		u.UnwindTo(unwindPoint, headerHash)
		return root, fmt.Errorf("%w: block %d, have %x, expected %x", ErrWrongStateRoot, to, root, expectedRootHash)
	}
	if err = s.Update(tx, to); err != nil {
		return trie.EmptyRoot, err
	}
	return root, nil
}

func headerByCanonicalNumber(tx kv.Tx, blockNum uint64) (*types.Header, error) {
	hash, err := rawdb.ReadCanonicalHash(tx, blockNum)
	if err != nil {
		return nil, err
	}
	header := rawdb.ReadHeader(tx, hash, blockNum)
	if header == nil {
		return nil, fmt.Errorf("%w: no canonical header for block %d", ErrInvalidProgress, blockNum)
	}
	return header, nil
}

// RegenerateIntermediateHashes clears the trie tables and rebuilds them from
// the hashed state, loading the collected nodes in append mode.
func RegenerateIntermediateHashes(logPrefix string, tx kv.RwTx, cfg TrieCfg, quit <-chan struct{}, logger log.Logger) (common.Hash, error) {
	logger.Info(fmt.Sprintf("[%s] Regeneration trie hashes started", logPrefix))
	defer logger.Info(fmt.Sprintf("[%s] Regeneration ended", logPrefix))

	if err := tx.ClearTable(kv.TrieOfAccounts); err != nil {
		return trie.EmptyRoot, err
	}
	if err := tx.ClearTable(kv.TrieOfStorage); err != nil {
		return trie.EmptyRoot, err
	}

	accTrieCollector := etl.NewCollector(logPrefix, cfg.tmpdir, etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	defer accTrieCollector.Close()
	accTrieCollectorFunc := accountTrieCollector(accTrieCollector)

	stTrieCollector := etl.NewCollector(logPrefix, cfg.tmpdir, etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	defer stTrieCollector.Close()
	stTrieCollectorFunc := storageTrieCollector(stTrieCollector)

	loader := trie.NewFlatDBTrieLoader(logPrefix, trie.NewRetainList(0), accTrieCollectorFunc, stTrieCollectorFunc, false)
	hash, err := loader.CalcTrieRoot(tx, quit)
	if err != nil {
		return trie.EmptyRoot, err
	}
	if err := accTrieCollector.Load(tx, kv.TrieOfAccounts, etl.IdentityLoadFunc, etl.TransformArgs{Quit: quit}); err != nil {
		return trie.EmptyRoot, err
	}
	if err := stTrieCollector.Load(tx, kv.TrieOfStorage, etl.IdentityLoadFunc, etl.TransformArgs{Quit: quit}); err != nil {
		return trie.EmptyRoot, err
	}
	logger.Info(fmt.Sprintf("[%s] Trie root", logPrefix), "hash", hash.Hex())
	return hash, nil
}

// buildPrefixSets derives the retain lists (prefix sets) over nibble-unpacked
// hashed keys from the change sets of (from, to]. Self-destructed contracts
// have their stale storage-trie subtrees deleted here.
func buildPrefixSets(tx kv.RwTx, from, to uint64, quit <-chan struct{}) (*trie.RetainList, error) {
	rl := trie.NewRetainList(0)
	reader := state.NewPlainStateReader(tx)

	if err := state.WalkAccountChangeSet(tx, from+1, func(blockN uint64, address common.Address, original []byte) error {
		if blockN > to {
			return nil
		}
		if err := common.Stopped(quit); err != nil {
			return err
		}
		hashedKey := crypto.Keccak256(address[:])
		created := len(original) == 0
		rl.AddKeyWithMarker(hashedKey, created)

		if len(original) > 0 {
			var prior accounts.Account
			if err := prior.DecodeForStorage(original); err != nil {
				return err
			}
			if prior.Incarnation > 0 {
				current, err := reader.ReadAccountData(address)
				if err != nil {
					return err
				}
				if current == nil || current.Incarnation != prior.Incarnation {
					// self-destruct (possibly followed by re-creation with a
					// new incarnation): the old storage subtree goes away
					if err := deleteStorageTrie(tx, hashedKey); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := state.WalkStorageChangeSet(tx, from+1, func(blockN uint64, address common.Address, incarnation uint64, location common.Hash, original []byte) error {
		if blockN > to {
			return nil
		}
		if err := common.Stopped(quit); err != nil {
			return err
		}
		hashedAddr := crypto.Keccak256(address[:])
		hashedLoc := crypto.Keccak256(location[:])
		compositeKey := dbutils.GenerateCompositeStorageKey(common.BytesToHash(hashedAddr), incarnation, common.BytesToHash(hashedLoc))
		rl.AddKeyWithMarker(compositeKey, len(original) == 0)
		return nil
	}); err != nil {
		return nil, err
	}
	return rl, nil
}

func deleteStorageTrie(tx kv.RwTx, hashedAddr []byte) error {
	c, err := tx.RwCursor(kv.TrieOfStorage)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, _, err := c.Seek(hashedAddr); k != nil; k, _, err = c.Next() {
		if err != nil {
			return err
		}
		if len(k) < len(hashedAddr) || string(k[:len(hashedAddr)]) != string(hashedAddr) {
			break
		}
		if err = c.DeleteCurrent(); err != nil {
			return err
		}
	}
	return nil
}

func incrementIntermediateHashes(logPrefix string, s *StageState, tx kv.RwTx, to uint64, cfg TrieCfg, quit <-chan struct{}, logger log.Logger) (common.Hash, error) {
	rl, err := buildPrefixSets(tx, s.BlockNumber, to, quit)
	if err != nil {
		return trie.EmptyRoot, err
	}

	accTrieCollector := etl.NewCollector(logPrefix, cfg.tmpdir, etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	defer accTrieCollector.Close()
	accTrieCollectorFunc := accountTrieCollector(accTrieCollector)

	stTrieCollector := etl.NewCollector(logPrefix, cfg.tmpdir, etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	defer stTrieCollector.Close()
	stTrieCollectorFunc := storageTrieCollector(stTrieCollector)

	// the collectors in the lines below will also collect deletes
	loader := trie.NewFlatDBTrieLoader(logPrefix, rl, accTrieCollectorFunc, stTrieCollectorFunc, false)
	hash, err := loader.CalcTrieRoot(tx, quit)
	if err != nil {
		return trie.EmptyRoot, err
	}
	if err := accTrieCollector.Load(tx, kv.TrieOfAccounts, etl.IdentityLoadFunc, etl.TransformArgs{Quit: quit}); err != nil {
		return trie.EmptyRoot, err
	}
	if err := stTrieCollector.Load(tx, kv.TrieOfStorage, etl.IdentityLoadFunc, etl.TransformArgs{Quit: quit}); err != nil {
		return trie.EmptyRoot, err
	}
	return hash, nil
}

// accountTrieCollector adapts an etl collector to the trie's hash collector:
// nibble key -> marshalled node, empty hashes mean delete.
func accountTrieCollector(collector *etl.Collector) trie.HashCollector2 {
	newV := make([]byte, 0, 1024)
	return func(keyHex []byte, hasState, hasTree, hasHash uint16, hashes, _ []byte) error {
		if len(keyHex) == 0 {
			return nil
		}
		if hasState == 0 {
			return collector.Collect(keyHex, nil)
		}
		newV = trie.MarshalTrieNode(hasState, hasTree, hasHash, hashes, newV[:0])
		return collector.Collect(keyHex, newV)
	}
}

func storageTrieCollector(collector *etl.Collector) trie.StorageHashCollector2 {
	newK := make([]byte, 0, 128)
	newV := make([]byte, 0, 1024)
	return func(accWithInc []byte, keyHex []byte, hasState, hasTree, hasHash uint16, hashes, _ []byte) error {
		newK = append(append(newK[:0], accWithInc...), keyHex...)
		if hasState == 0 {
			return collector.Collect(newK, nil)
		}
		newV = trie.MarshalTrieNode(hasState, hasTree, hasHash, hashes, newV[:0])
		return collector.Collect(newK, newV)
	}
}

// UnwindIntermediateHashesStage re-walks the changed prefixes of the unwound
// segment; after HashState unwound, the recomputed root must equal the root of
// the unwind-point header.
func UnwindIntermediateHashesStage(u *UnwindState, s *StageState, tx kv.RwTx, cfg TrieCfg, quit <-chan struct{}, logger log.Logger) error {
	logPrefix := u.LogPrefix()
	logger.Info(fmt.Sprintf("[%s] Unwinding of trie hashes", logPrefix), "from", s.BlockNumber, "to", u.UnwindPoint)

	syncHeadHeader, err := headerByCanonicalNumber(tx, u.UnwindPoint)
	if err != nil {
		return err
	}
	expectedRootHash := syncHeadHeader.Root

	// HashState has already unwound (it goes before InterHashes in the unwind
	// order), while the change sets of the segment still exist: Execution
	// unwinds after this stage
	rl, err := buildPrefixSets(tx, u.UnwindPoint, s.BlockNumber, quit)
	if err != nil {
		return err
	}

	accTrieCollector := etl.NewCollector(logPrefix, cfg.tmpdir, etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	defer accTrieCollector.Close()
	accTrieCollectorFunc := accountTrieCollector(accTrieCollector)

	stTrieCollector := etl.NewCollector(logPrefix, cfg.tmpdir, etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	defer stTrieCollector.Close()
	stTrieCollectorFunc := storageTrieCollector(stTrieCollector)

	loader := trie.NewFlatDBTrieLoader(logPrefix, rl, accTrieCollectorFunc, stTrieCollectorFunc, false)
	hash, err := loader.CalcTrieRoot(tx, quit)
	if err != nil {
		return fmt.Errorf("calcTrieRoot: %w", err)
	}
	if cfg.checkRoot && hash != expectedRootHash {
		return fmt.Errorf("%w: unwind to %d, have %x, expected %x", ErrWrongStateRoot, u.UnwindPoint, hash, expectedRootHash)
	}
	if err := accTrieCollector.Load(tx, kv.TrieOfAccounts, etl.IdentityLoadFunc, etl.TransformArgs{Quit: quit}); err != nil {
		return err
	}
	if err := stTrieCollector.Load(tx, kv.TrieOfStorage, etl.IdentityLoadFunc, etl.TransformArgs{Quit: quit}); err != nil {
		return err
	}
	return u.Done(tx)
}

func PruneIntermediateHashesStage(p *PruneState, tx kv.RwTx, _ TrieCfg) error {
	return p.Done(tx)
}
