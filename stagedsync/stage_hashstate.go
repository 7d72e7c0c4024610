package stagedsync

import (
	"bytes"
	"fmt"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/common/length"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/etl"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/types/accounts"
)

type HashStateCfg struct {
	tmpdir string
}

func StageHashStateCfg(tmpdir string) HashStateCfg {
	return HashStateCfg{tmpdir: tmpdir}
}

// SpawnHashStateStage promotes the plain state into the hashed-state tables
// that feed the trie: keys replaced by their keccak256.
func SpawnHashStateStage(cfg HashStateCfg, s *StageState, tx kv.RwTx, quit <-chan struct{}, logger log.Logger) error {
	to, err := s.ExecutionAt(tx)
	if err != nil {
		return err
	}
	if s.BlockNumber == to {
		// we already did hash check for this block
		// we don't do the obvious `if s.BlockNumber > to` to support reorgs more naturally
		return nil
	}
	if s.BlockNumber > to {
		return fmt.Errorf("%w: hashstate promotion backwards from %d to %d", ErrInvalidProgress, s.BlockNumber, to)
	}
	logPrefix := s.LogPrefix()
	logger.Info(fmt.Sprintf("[%s] Promoting plain state", logPrefix), "from", s.BlockNumber, "to", to)

	if s.BlockNumber == 0 {
		if err := promoteHashedStateCleanly(logPrefix, tx, cfg, quit, logger); err != nil {
			return err
		}
	} else {
		if err := promoteHashedStateIncrementally(logPrefix, s.BlockNumber, to, tx, quit); err != nil {
			return err
		}
	}
	return s.Update(tx, to)
}

func promoteHashedStateCleanly(logPrefix string, tx kv.RwTx, cfg HashStateCfg, quit <-chan struct{}, logger log.Logger) error {
	if err := tx.ClearTable(kv.HashedAccounts); err != nil {
		return err
	}
	if err := tx.ClearTable(kv.HashedStorage); err != nil {
		return err
	}
	if err := tx.ClearTable(kv.ContractCode); err != nil {
		return err
	}
	if err := etl.Transform(
		logPrefix,
		tx,
		kv.PlainState,
		kv.HashedAccounts,
		cfg.tmpdir,
		keyTransformExtract(length.Addr, transformPlainStateKey),
		etl.IdentityLoadFunc,
		etl.TransformArgs{Quit: quit},
		logger,
	); err != nil {
		return err
	}
	if err := etl.Transform(
		logPrefix,
		tx,
		kv.PlainState,
		kv.HashedStorage,
		cfg.tmpdir,
		extractPlainStorage,
		etl.IdentityLoadFunc,
		etl.TransformArgs{Quit: quit},
		logger,
	); err != nil {
		return err
	}
	return etl.Transform(
		logPrefix,
		tx,
		kv.PlainCodeHash,
		kv.ContractCode,
		cfg.tmpdir,
		keyTransformExtract(length.Addr+length.Incarnation, transformContractCodeKey),
		etl.IdentityLoadFunc,
		etl.TransformArgs{Quit: quit},
		logger,
	)
}

func keyTransformExtract(keyLen int, transformKey func([]byte) ([]byte, error)) etl.ExtractFunc {
	return func(k, v []byte, next etl.ExtractNextFunc) error {
		if len(k) != keyLen {
			return nil // rows of the other shape are handled elsewhere
		}
		newK, err := transformKey(k)
		if err != nil {
			return err
		}
		return next(k, newK, v)
	}
}

func extractPlainStorage(k, v []byte, next etl.ExtractNextFunc) error {
	if len(k) != length.Addr+length.Incarnation {
		return nil
	}
	if len(v) < length.Hash {
		return fmt.Errorf("invalid plain storage entry: %d value bytes", len(v))
	}
	addrHash := crypto.Keccak256(k[:length.Addr])
	locHash := crypto.Keccak256(v[:length.Hash])
	newK := make([]byte, length.Hash+length.Incarnation)
	copy(newK, addrHash)
	copy(newK[length.Hash:], k[length.Addr:])
	newV := make([]byte, length.Hash+len(v)-length.Hash)
	copy(newV, locHash)
	copy(newV[length.Hash:], v[length.Hash:])
	return next(k, newK, newV)
}

func transformPlainStateKey(key []byte) ([]byte, error) {
	switch len(key) {
	case length.Addr:
		return crypto.Keccak256(key), nil
	default:
		return nil, fmt.Errorf("could not convert key from plain to hashed, unexpected len: %d", len(key))
	}
}

func transformContractCodeKey(key []byte) ([]byte, error) {
	if len(key) != length.Addr+length.Incarnation {
		return nil, fmt.Errorf("could not convert code key from plain to hashed, unexpected len: %d", len(key))
	}
	address, incarnation := dbutils.PlainParseStoragePrefix(key)
	addrHash := crypto.Keccak256(address[:])
	return dbutils.GenerateStoragePrefix(addrHash, incarnation), nil
}

// promoteHashedStateIncrementally re-hashes only the keys recorded in the
// change sets of (from, to].
func promoteHashedStateIncrementally(logPrefix string, from, to uint64, tx kv.RwTx, quit <-chan struct{}) error {
	touchedAccounts := map[common.Address]struct{}{}
	if err := state.WalkAccountChangeSet(tx, from+1, func(blockN uint64, address common.Address, _ []byte) error {
		if blockN > to {
			return nil
		}
		touchedAccounts[address] = struct{}{}
		return common.Stopped(quit)
	}); err != nil {
		return err
	}

	reader := state.NewPlainStateReader(tx)
	for address := range touchedAccounts {
		addrHash := crypto.Keccak256(address[:])
		acc, err := reader.ReadAccountData(address)
		if err != nil {
			return err
		}
		if acc == nil {
			if err := tx.Delete(kv.HashedAccounts, addrHash); err != nil {
				return err
			}
			continue
		}
		if err := tx.Put(kv.HashedAccounts, addrHash, acc.EncodeForStorageBytes()); err != nil {
			return err
		}
		if acc.Incarnation > 0 && !acc.IsEmptyCodeHash() {
			if err := tx.Put(kv.ContractCode, dbutils.GenerateStoragePrefix(addrHash, acc.Incarnation), acc.CodeHash[:]); err != nil {
				return err
			}
		}
	}

	type slot struct {
		address     common.Address
		incarnation uint64
		location    common.Hash
	}
	touchedSlots := map[slot]struct{}{}
	if err := state.WalkStorageChangeSet(tx, from+1, func(blockN uint64, address common.Address, incarnation uint64, location common.Hash, _ []byte) error {
		if blockN > to {
			return nil
		}
		touchedSlots[slot{address, incarnation, location}] = struct{}{}
		return common.Stopped(quit)
	}); err != nil {
		return err
	}

	hashedStorage, err := tx.RwCursorDupSort(kv.HashedStorage)
	if err != nil {
		return err
	}
	defer hashedStorage.Close()
	for sl := range touchedSlots {
		current, err := reader.ReadAccountStorage(sl.address, sl.incarnation, sl.location)
		if err != nil {
			return err
		}
		addrHash := crypto.Keccak256(sl.address[:])
		locHash := crypto.Keccak256(sl.location[:])
		if err := putHashedStorage(hashedStorage, addrHash, sl.incarnation, locHash, current); err != nil {
			return err
		}
	}
	return nil
}

func putHashedStorage(c kv.RwCursorDupSort, addrHash []byte, incarnation uint64, locHash, value []byte) error {
	compositeKey := dbutils.GenerateStoragePrefix(addrHash, incarnation)
	if v, err := c.SeekBothRange(compositeKey, locHash); err != nil {
		return err
	} else if v != nil && bytes.HasPrefix(v, locHash) {
		if err = c.DeleteCurrent(); err != nil {
			return err
		}
	}
	if len(value) == 0 {
		return nil
	}
	newValue := make([]byte, length.Hash+len(value))
	copy(newValue, locHash)
	copy(newValue[length.Hash:], value)
	return c.Put(compositeKey, newValue)
}

// UnwindHashStateStage applies the change-set originals to the hashed tables.
func UnwindHashStateStage(u *UnwindState, s *StageState, tx kv.RwTx, cfg HashStateCfg, quit <-chan struct{}, logger log.Logger) error {
	logPrefix := u.LogPrefix()
	logger.Info(fmt.Sprintf("[%s] Unwinding hashed state", logPrefix), "from", s.BlockNumber, "to", u.UnwindPoint)

	accountOriginals := map[common.Address][]byte{}
	if err := state.WalkAccountChangeSet(tx, u.UnwindPoint+1, func(blockN uint64, address common.Address, original []byte) error {
		if blockN > s.BlockNumber {
			return nil
		}
		if _, seen := accountOriginals[address]; !seen {
			accountOriginals[address] = common.CopyBytes(original)
		}
		return common.Stopped(quit)
	}); err != nil {
		return err
	}
	for address, original := range accountOriginals {
		addrHash := crypto.Keccak256(address[:])
		if len(original) == 0 {
			if err := tx.Delete(kv.HashedAccounts, addrHash); err != nil {
				return err
			}
			continue
		}
		// the code hash of a reverted contract comes back with the account
		var acc accounts.Account
		if err := acc.DecodeForStorage(original); err != nil {
			return err
		}
		if err := tx.Put(kv.HashedAccounts, addrHash, original); err != nil {
			return err
		}
		if acc.Incarnation > 0 && !acc.IsEmptyCodeHash() {
			if err := tx.Put(kv.ContractCode, dbutils.GenerateStoragePrefix(addrHash, acc.Incarnation), acc.CodeHash[:]); err != nil {
				return err
			}
		}
	}

	type slot struct {
		address     common.Address
		incarnation uint64
		location    common.Hash
	}
	storageOriginals := map[slot][]byte{}
	if err := state.WalkStorageChangeSet(tx, u.UnwindPoint+1, func(blockN uint64, address common.Address, incarnation uint64, location common.Hash, original []byte) error {
		if blockN > s.BlockNumber {
			return nil
		}
		k := slot{address, incarnation, location}
		if _, seen := storageOriginals[k]; !seen {
			storageOriginals[k] = common.CopyBytes(original)
		}
		return common.Stopped(quit)
	}); err != nil {
		return err
	}
	hashedStorage, err := tx.RwCursorDupSort(kv.HashedStorage)
	if err != nil {
		return err
	}
	defer hashedStorage.Close()
	for sl, original := range storageOriginals {
		addrHash := crypto.Keccak256(sl.address[:])
		locHash := crypto.Keccak256(sl.location[:])
		if err := putHashedStorage(hashedStorage, addrHash, sl.incarnation, locHash, original); err != nil {
			return err
		}
	}
	return u.Done(tx)
}

func PruneHashStateStage(p *PruneState, tx kv.RwTx, _ HashStateCfg) error {
	return p.Done(tx)
}
