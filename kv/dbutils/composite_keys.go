// Package dbutils builds and parses the composite keys of the chaindata tables.
package dbutils

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/common/length"
)

const NumberLength = 8

// EncodeBlockNumber encodes a block number as big endian uint64.
func EncodeBlockNumber(number uint64) []byte {
	enc := make([]byte, NumberLength)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

var ErrInvalidSize = errors.New("big endian number has an invalid size")

func DecodeBlockNumber(number []byte) (uint64, error) {
	if len(number) != NumberLength {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, len(number))
	}
	return binary.BigEndian.Uint64(number), nil
}

// HeaderKey = num (uint64 big endian) + hash
func HeaderKey(number uint64, hash common.Hash) []byte {
	k := make([]byte, NumberLength+length.Hash)
	binary.BigEndian.PutUint64(k, number)
	copy(k[NumberLength:], hash[:])
	return k
}

// BlockBodyKey = num (uint64 big endian) + hash
func BlockBodyKey(number uint64, hash common.Hash) []byte {
	return HeaderKey(number, hash)
}

// PlainGenerateStoragePrefix = address + incarnation
func PlainGenerateStoragePrefix(address []byte, incarnation uint64) []byte {
	prefix := make([]byte, length.Addr+length.Incarnation)
	copy(prefix, address)
	binary.BigEndian.PutUint64(prefix[length.Addr:], incarnation)
	return prefix
}

func PlainParseStoragePrefix(prefix []byte) (common.Address, uint64) {
	var addr common.Address
	copy(addr[:], prefix[:length.Addr])
	inc := binary.BigEndian.Uint64(prefix[length.Addr : length.Addr+length.Incarnation])
	return addr, inc
}

// PlainGenerateCompositeStorageKey = address + incarnation + location
func PlainGenerateCompositeStorageKey(address []byte, incarnation uint64, location []byte) []byte {
	compositeKey := make([]byte, length.Addr+length.Incarnation+length.Hash)
	copy(compositeKey, address)
	binary.BigEndian.PutUint64(compositeKey[length.Addr:], incarnation)
	copy(compositeKey[length.Addr+length.Incarnation:], location)
	return compositeKey
}

func PlainParseCompositeStorageKey(compositeKey []byte) (common.Address, uint64, common.Hash) {
	prefixLen := length.Addr + length.Incarnation
	addr, inc := PlainParseStoragePrefix(compositeKey[:prefixLen])
	var key common.Hash
	copy(key[:], compositeKey[prefixLen:prefixLen+length.Hash])
	return addr, inc, key
}

// GenerateStoragePrefix = address hash + incarnation (for hashed state)
func GenerateStoragePrefix(addressHash []byte, incarnation uint64) []byte {
	prefix := make([]byte, length.Hash+length.Incarnation)
	copy(prefix, addressHash)
	binary.BigEndian.PutUint64(prefix[length.Hash:], incarnation)
	return prefix
}

func ParseStoragePrefix(prefix []byte) (common.Hash, uint64) {
	var addrHash common.Hash
	copy(addrHash[:], prefix[:length.Hash])
	inc := binary.BigEndian.Uint64(prefix[length.Hash : length.Hash+length.Incarnation])
	return addrHash, inc
}

// GenerateCompositeStorageKey = address hash + incarnation + location hash
func GenerateCompositeStorageKey(addressHash common.Hash, incarnation uint64, locationHash common.Hash) []byte {
	compositeKey := make([]byte, length.Hash+length.Incarnation+length.Hash)
	copy(compositeKey, addressHash[:])
	binary.BigEndian.PutUint64(compositeKey[length.Hash:], incarnation)
	copy(compositeKey[length.Hash+length.Incarnation:], locationHash[:])
	return compositeKey
}

func ParseCompositeStorageKey(compositeKey []byte) (common.Hash, uint64, common.Hash) {
	prefixLen := length.Hash + length.Incarnation
	addrHash, inc := ParseStoragePrefix(compositeKey[:prefixLen])
	var key common.Hash
	copy(key[:], compositeKey[prefixLen:prefixLen+length.Hash])
	return addrHash, inc, key
}

// AccountIndexKey = address + shard id (the highest block number in the shard)
func AccountIndexKey(address common.Address, shardID uint64) []byte {
	k := make([]byte, length.Addr+8)
	copy(k, address[:])
	binary.BigEndian.PutUint64(k[length.Addr:], shardID)
	return k
}

// StorageIndexKey = address + location + shard id
func StorageIndexKey(address common.Address, location common.Hash, shardID uint64) []byte {
	k := make([]byte, length.Addr+length.Hash+8)
	copy(k, address[:])
	copy(k[length.Addr:], location[:])
	binary.BigEndian.PutUint64(k[length.Addr+length.Hash:], shardID)
	return k
}

// NextNibblesSubtree returns the nibble key of the next subtree that does not
// have in as a prefix: in with the last nibble incremented, trailing 0xf
// nibbles stripped. Returns false when in consists of 0xf nibbles only.
func NextNibblesSubtree(in []byte, out *[]byte) bool {
	tmp := (*out)[:0]
	tmp = append(tmp, in...)
	for i := len(tmp) - 1; i >= 0; i-- {
		if tmp[i] != 0x0f {
			tmp[i]++
			*out = tmp[:i+1]
			return true
		}
	}
	*out = tmp[:0]
	return false
}
