package state

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/common/length"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/types/accounts"
)

// StateReader reads the current world state.
type StateReader interface {
	ReadAccountData(address common.Address) (*accounts.Account, error)
	ReadAccountStorage(address common.Address, incarnation uint64, key common.Hash) ([]byte, error)
	ReadAccountCode(address common.Address, incarnation uint64, codeHash common.Hash) ([]byte, error)
	ReadAccountIncarnation(address common.Address) (uint64, error)
}

// StateWriter applies a block's state delta. Implementations decide whether
// change sets are recorded alongside.
type StateWriter interface {
	UpdateAccountData(address common.Address, original, account *accounts.Account) error
	UpdateAccountCode(address common.Address, incarnation uint64, codeHash common.Hash, code []byte) error
	DeleteAccount(address common.Address, original *accounts.Account) error
	WriteAccountStorage(address common.Address, incarnation uint64, key common.Hash, original, value *uint256.Int) error
	CreateContract(address common.Address) error
}

// PlainStateReader reads history-free data from PlainState, Code and
// IncarnationMap.
type PlainStateReader struct {
	tx kv.Tx
}

func NewPlainStateReader(tx kv.Tx) *PlainStateReader {
	return &PlainStateReader{tx: tx}
}

func (r *PlainStateReader) ReadAccountData(address common.Address) (*accounts.Account, error) {
	enc, err := r.tx.GetOne(kv.PlainState, address[:])
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 {
		return nil, nil
	}
	var acc accounts.Account
	if err = acc.DecodeForStorage(enc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *PlainStateReader) ReadAccountStorage(address common.Address, incarnation uint64, key common.Hash) ([]byte, error) {
	c, err := r.tx.CursorDupSort(kv.PlainState)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	v, err := c.SeekBothRange(dbutils.PlainGenerateStoragePrefix(address[:], incarnation), key[:])
	if err != nil {
		return nil, err
	}
	if v == nil || !bytes.HasPrefix(v, key[:]) {
		return nil, nil
	}
	return v[length.Hash:], nil
}

func (r *PlainStateReader) ReadAccountCode(_ common.Address, _ uint64, codeHash common.Hash) ([]byte, error) {
	if codeHash == (common.Hash{}) {
		return nil, nil
	}
	return r.tx.GetOne(kv.Code, codeHash[:])
}

func (r *PlainStateReader) ReadAccountIncarnation(address common.Address) (uint64, error) {
	v, err := r.tx.GetOne(kv.IncarnationMap, address[:])
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v), nil
}

// PlainStateWriter writes to PlainState and records change sets for the block
// it was created for.
type PlainStateWriter struct {
	tx          kv.RwTx
	blockNumber uint64
	noHistory   bool
}

func NewPlainStateWriter(tx kv.RwTx, blockNumber uint64) *PlainStateWriter {
	return &PlainStateWriter{tx: tx, blockNumber: blockNumber}
}

// NewPlainStateWriterNoHistory writes state without recording change sets.
// Used by genesis, where there is no prior state to unwind to.
func NewPlainStateWriterNoHistory(tx kv.RwTx) *PlainStateWriter {
	return &PlainStateWriter{tx: tx, noHistory: true}
}

func (w *PlainStateWriter) writeAccountChange(address common.Address, original *accounts.Account) error {
	if w.noHistory {
		return nil
	}
	var originalEnc []byte
	if original != nil && original.Initialised {
		originalEnc = original.EncodeForStorageBytes()
	}
	return w.tx.Put(kv.AccountChangeSet, dbutils.EncodeBlockNumber(w.blockNumber), EncodeAccountChange(address, originalEnc))
}

func (w *PlainStateWriter) UpdateAccountData(address common.Address, original, account *accounts.Account) error {
	if err := w.writeAccountChange(address, original); err != nil {
		return err
	}
	// account rows live in a dup-sorted table; replace, never accumulate
	if err := w.tx.Delete(kv.PlainState, address[:]); err != nil {
		return err
	}
	value := account.EncodeForStorageBytes()
	return w.tx.Put(kv.PlainState, address[:], value)
}

func (w *PlainStateWriter) UpdateAccountCode(address common.Address, incarnation uint64, codeHash common.Hash, code []byte) error {
	if err := w.tx.Put(kv.Code, codeHash[:], code); err != nil {
		return err
	}
	return w.tx.Put(kv.PlainCodeHash, dbutils.PlainGenerateStoragePrefix(address[:], incarnation), codeHash[:])
}

func (w *PlainStateWriter) DeleteAccount(address common.Address, original *accounts.Account) error {
	if err := w.writeAccountChange(address, original); err != nil {
		return err
	}
	if err := w.tx.Delete(kv.PlainState, address[:]); err != nil {
		return err
	}
	if original != nil && original.Incarnation > 0 {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], original.Incarnation)
		if err := w.tx.Put(kv.IncarnationMap, address[:], b[:]); err != nil {
			return err
		}
		// remove the contract's storage in PlainState
		prefix := dbutils.PlainGenerateStoragePrefix(address[:], original.Incarnation)
		c, err := w.tx.RwCursorDupSort(kv.PlainState)
		if err != nil {
			return err
		}
		defer c.Close()
		if k, _, err := c.SeekExact(prefix); err != nil {
			return err
		} else if k != nil {
			if err = c.DeleteCurrentDuplicates(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *PlainStateWriter) WriteAccountStorage(address common.Address, incarnation uint64, key common.Hash, original, value *uint256.Int) error {
	if original.Eq(value) {
		return nil
	}
	compositeKey := dbutils.PlainGenerateStoragePrefix(address[:], incarnation)

	if !w.noHistory {
		originalValue := original.Bytes() // canonical: no leading zeroes, empty for zero
		csKey := StorageChangeSetKey(w.blockNumber, address, incarnation)
		if err := w.tx.Put(kv.StorageChangeSet, csKey, EncodeStorageChange(key, originalValue)); err != nil {
			return err
		}
	}

	c, err := w.tx.RwCursorDupSort(kv.PlainState)
	if err != nil {
		return err
	}
	defer c.Close()
	if v, err := c.SeekBothRange(compositeKey, key[:]); err != nil {
		return err
	} else if v != nil && bytes.HasPrefix(v, key[:]) {
		if err = c.DeleteCurrent(); err != nil {
			return err
		}
	}
	if value.IsZero() {
		return nil
	}
	newValue := make([]byte, length.Hash+32)
	copy(newValue, key[:])
	vBytes := value.Bytes()
	copy(newValue[length.Hash:length.Hash+len(vBytes)], vBytes)
	return c.Put(compositeKey, newValue[:length.Hash+len(vBytes)])
}

func (w *PlainStateWriter) CreateContract(address common.Address) error {
	if w.noHistory {
		return nil
	}
	// the incarnation bump is carried inside the account update
	return nil
}

// ReadPlainStorage is a helper used by tests and the hashing stage: reads the
// current value of a storage slot directly.
func ReadPlainStorage(tx kv.Tx, address common.Address, incarnation uint64, key common.Hash) ([]byte, error) {
	return NewPlainStateReader(tx).ReadAccountStorage(address, incarnation, key)
}

func (w *PlainStateWriter) String() string {
	return fmt.Sprintf("PlainStateWriter{block=%d}", w.blockNumber)
}
