package rawdb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/ugorji/go/codec"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReadChainConfig reads the chain config keyed by the genesis hash.
func ReadChainConfig(db kv.Tx, genesisHash common.Hash) (*chain.Config, error) {
	data, err := db.GetOne(kv.Config, genesisHash.Bytes())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var config chain.Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid chain config JSON: %x, %w", genesisHash, err)
	}
	return &config, nil
}

func WriteChainConfig(db kv.RwTx, genesisHash common.Hash, config *chain.Config) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to JSON encode chain config: %w", err)
	}
	if err := db.Put(kv.Config, genesisHash.Bytes(), data); err != nil {
		return fmt.Errorf("failed to store chain config: %w", err)
	}
	return nil
}

var cborHandle codec.CborHandle

// ReadReceipts reads the CBOR-encoded receipts of a canonical block.
func ReadReceipts(db kv.Tx, number uint64) (types.Receipts, error) {
	data, err := db.GetOne(kv.Receipts, dbutils.EncodeBlockNumber(number))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var receipts types.Receipts
	decoder := codec.NewDecoder(bytes.NewReader(data), &cborHandle)
	if err := decoder.Decode(&receipts); err != nil {
		return nil, fmt.Errorf("invalid receipts CBOR: block=%d, %w", number, err)
	}
	return receipts, nil
}

func WriteReceipts(db kv.RwTx, number uint64, receipts types.Receipts) error {
	var buf bytes.Buffer
	encoder := codec.NewEncoder(&buf, &cborHandle)
	if err := encoder.Encode(receipts); err != nil {
		return fmt.Errorf("encode receipts: %w", err)
	}
	return db.Put(kv.Receipts, dbutils.EncodeBlockNumber(number), buf.Bytes())
}

func DeleteReceipts(db kv.RwTx, number uint64) error {
	return db.Delete(kv.Receipts, dbutils.EncodeBlockNumber(number))
}

// ReadTxLookupEntry reads the block number a transaction hash belongs to.
func ReadTxLookupEntry(db kv.Tx, txnHash common.Hash) (*uint64, error) {
	data, err := db.GetOne(kv.TxLookup, txnHash.Bytes())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	number := binary.BigEndian.Uint64(data)
	return &number, nil
}

// DBSchemaVersion is bumped on every incompatible table layout change.
var DBSchemaVersion = [3]uint32{6, 1, 0}

// WriteDBSchemaVersion stamps the version triple under the dbVersion key.
func WriteDBSchemaVersion(db kv.RwTx) error {
	version := make([]byte, 12)
	binary.BigEndian.PutUint32(version, DBSchemaVersion[0])
	binary.BigEndian.PutUint32(version[4:], DBSchemaVersion[1])
	binary.BigEndian.PutUint32(version[8:], DBSchemaVersion[2])
	return db.Put(kv.DatabaseInfo, []byte(kv.DBSchemaVersionKey), version)
}

// CheckDBSchemaVersion reads the persisted version and refuses to open a
// database written by a newer major version: downgrade is fatal.
func CheckDBSchemaVersion(db kv.Tx) error {
	existing, err := db.GetOne(kv.DatabaseInfo, []byte(kv.DBSchemaVersionKey))
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil // fresh database
	}
	if len(existing) != 12 {
		return fmt.Errorf("unexpected %s format: %x", kv.DBSchemaVersionKey, existing)
	}
	major := binary.BigEndian.Uint32(existing)
	if major > DBSchemaVersion[0] {
		return fmt.Errorf("database version %d is newer than supported %d: downgrade is not possible", major, DBSchemaVersion[0])
	}
	return nil
}
