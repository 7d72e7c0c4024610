// Change sets record the prior value of every account and storage slot
// modified in a block. They drive history indexing, unwinds and incremental
// trie updates.
//
// Both tables are multi-value:
//
//	AccountChangeSet: key = block_num_u64, value = address ‖ account-before
//	StorageChangeSet: key = block_num_u64 ‖ address ‖ incarnation,
//	                  value = location ‖ value-before
package state

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/common/hexutility"
	"github.com/erigontech/execution/common/length"
	"github.com/erigontech/execution/kv"
)

// EncodeAccountChange produces the dup value of one account change.
func EncodeAccountChange(address common.Address, original []byte) []byte {
	v := make([]byte, length.Addr+len(original))
	copy(v, address[:])
	copy(v[length.Addr:], original)
	return v
}

// DecodeAccountChange splits a dup value back into address and prior encoding.
func DecodeAccountChange(dbValue []byte) (common.Address, []byte, error) {
	if len(dbValue) < length.Addr {
		return common.Address{}, nil, fmt.Errorf("account changes purged or truncated: %d bytes", len(dbValue))
	}
	var address common.Address
	copy(address[:], dbValue[:length.Addr])
	return address, dbValue[length.Addr:], nil
}

// StorageChangeSetKey = block_num ‖ address ‖ incarnation.
func StorageChangeSetKey(blockNumber uint64, address common.Address, incarnation uint64) []byte {
	k := make([]byte, length.BlockNum+length.Addr+length.Incarnation)
	binary.BigEndian.PutUint64(k, blockNumber)
	copy(k[length.BlockNum:], address[:])
	binary.BigEndian.PutUint64(k[length.BlockNum+length.Addr:], incarnation)
	return k
}

// EncodeStorageChange produces the dup value of one storage change.
func EncodeStorageChange(location common.Hash, original []byte) []byte {
	v := make([]byte, length.Hash+len(original))
	copy(v, location[:])
	copy(v[length.Hash:], original)
	return v
}

func DecodeStorageChange(dbValue []byte) (common.Hash, []byte, error) {
	if len(dbValue) < length.Hash {
		return common.Hash{}, nil, fmt.Errorf("storage changes purged or truncated: %d bytes", len(dbValue))
	}
	var location common.Hash
	copy(location[:], dbValue[:length.Hash])
	return location, dbValue[length.Hash:], nil
}

// FindAccountChange looks the prior encoding of address up in the change set
// of the given block.
func FindAccountChange(c kv.CursorDupSort, blockNumber uint64, address common.Address) ([]byte, bool, error) {
	v, err := c.SeekBothRange(hexutility.EncodeTs(blockNumber), address[:])
	if err != nil {
		return nil, false, err
	}
	if v == nil || !bytes.HasPrefix(v, address[:]) {
		return nil, false, nil
	}
	return v[length.Addr:], true, nil
}

// WalkAccountChangeSet iterates every account change of blocks >= from,
// in (block, address) order.
func WalkAccountChangeSet(tx kv.Tx, from uint64, f func(blockN uint64, address common.Address, original []byte) error) error {
	c, err := tx.CursorDupSort(kv.AccountChangeSet)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, v, err := c.Seek(hexutility.EncodeTs(from)); k != nil; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		blockN := binary.BigEndian.Uint64(k)
		address, original, err := DecodeAccountChange(v)
		if err != nil {
			return err
		}
		if err := f(blockN, address, original); err != nil {
			return err
		}
	}
	return nil
}

// WalkStorageChangeSet iterates every storage change of blocks >= from.
func WalkStorageChangeSet(tx kv.Tx, from uint64, f func(blockN uint64, address common.Address, incarnation uint64, location common.Hash, original []byte) error) error {
	c, err := tx.CursorDupSort(kv.StorageChangeSet)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, v, err := c.Seek(hexutility.EncodeTs(from)); k != nil; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		if len(k) != length.BlockNum+length.Addr+length.Incarnation {
			return fmt.Errorf("unexpected storage changeset key length: %d", len(k))
		}
		blockN := binary.BigEndian.Uint64(k)
		var address common.Address
		copy(address[:], k[length.BlockNum:])
		incarnation := binary.BigEndian.Uint64(k[length.BlockNum+length.Addr:])
		location, original, err := DecodeStorageChange(v)
		if err != nil {
			return err
		}
		if err := f(blockN, address, incarnation, location, original); err != nil {
			return err
		}
	}
	return nil
}

// TruncateChangeSets removes every change set of blocks >= from. The execution
// stage's unwind calls it after applying the recorded values back to the
// plain state.
func TruncateChangeSets(tx kv.RwTx, table string, from uint64) error {
	c, err := tx.RwCursorDupSort(table)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, _, err := c.Seek(hexutility.EncodeTs(from)); k != nil; k, _, err = c.NextNoDup() {
		if err != nil {
			return err
		}
		if err = c.DeleteCurrentDuplicates(); err != nil {
			return err
		}
	}
	return nil
}
