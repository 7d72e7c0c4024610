// Package rawdb contains the typed accessors over the chaindata tables.
package rawdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/types"
)

// ReadCanonicalHash retrieves the hash assigned to a canonical block number.
func ReadCanonicalHash(db kv.Tx, number uint64) (common.Hash, error) {
	data, err := db.GetOne(kv.CanonicalHashes, dbutils.EncodeBlockNumber(number))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed ReadCanonicalHash: %w, number=%d", err, number)
	}
	if len(data) == 0 {
		return common.Hash{}, nil
	}
	return common.BytesToHash(data), nil
}

// WriteCanonicalHash stores the hash assigned to a canonical block number.
func WriteCanonicalHash(db kv.RwTx, hash common.Hash, number uint64) error {
	if err := db.Put(kv.CanonicalHashes, dbutils.EncodeBlockNumber(number), hash.Bytes()); err != nil {
		return fmt.Errorf("failed to store number to hash mapping: %w", err)
	}
	return nil
}

// TruncateCanonicalHash removes all the canonical hash entries at and above blockFrom.
func TruncateCanonicalHash(tx kv.RwTx, blockFrom uint64) error {
	c, err := tx.RwCursor(kv.CanonicalHashes)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, _, err := c.Seek(dbutils.EncodeBlockNumber(blockFrom)); k != nil; k, _, err = c.Next() {
		if err != nil {
			return err
		}
		if err = c.DeleteCurrent(); err != nil {
			return fmt.Errorf("truncate canonical hashes: %w", err)
		}
	}
	return nil
}

// ReadHeaderNumber returns the header number assigned to a hash.
func ReadHeaderNumber(db kv.Tx, hash common.Hash) (*uint64, error) {
	data, err := db.GetOne(kv.HeaderNumbers, hash.Bytes())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) != 8 {
		return nil, fmt.Errorf("ReadHeaderNumber got wrong data len: %d", len(data))
	}
	number := binary.BigEndian.Uint64(data)
	return &number, nil
}

func WriteHeaderNumber(db kv.RwTx, hash common.Hash, number uint64) error {
	return db.Put(kv.HeaderNumbers, hash.Bytes(), dbutils.EncodeBlockNumber(number))
}

// ReadHeader retrieves the block header corresponding to the hash.
func ReadHeader(db kv.Tx, hash common.Hash, number uint64) *types.Header {
	data, err := db.GetOne(kv.Headers, dbutils.HeaderKey(number, hash))
	if err != nil {
		log.Error("ReadHeader failed", "err", err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	header := &types.Header{}
	if _, err := types.DecodeHeaderRLP(data, 0, header); err != nil {
		log.Error("Invalid block header RLP", "hash", hash, "err", err)
		return nil
	}
	return header
}

func ReadHeaderByHash(db kv.Tx, hash common.Hash) (*types.Header, error) {
	number, err := ReadHeaderNumber(db, hash)
	if err != nil {
		return nil, err
	}
	if number == nil {
		return nil, nil
	}
	return ReadHeader(db, hash, *number), nil
}

func ReadHeaderByNumber(db kv.Tx, number uint64) *types.Header {
	hash, err := ReadCanonicalHash(db, number)
	if err != nil {
		log.Error("ReadCanonicalHash failed", "err", err)
		return nil
	}
	if hash == (common.Hash{}) {
		return nil
	}
	return ReadHeader(db, hash, number)
}

// WriteHeader stores a block header. Re-insertion at the same (number, hash)
// is idempotent: header data is immutable once written.
func WriteHeader(db kv.RwTx, header *types.Header) error {
	var (
		hash   = header.Hash()
		number = header.Number.Uint64()
	)
	if err := WriteHeaderNumber(db, hash, number); err != nil {
		return err
	}
	if err := db.Put(kv.Headers, dbutils.HeaderKey(number, hash), header.MarshalRLP()); err != nil {
		return fmt.Errorf("WriteHeader: %w", err)
	}
	return nil
}

func HasHeader(db kv.Tx, hash common.Hash, number uint64) (bool, error) {
	return db.Has(kv.Headers, dbutils.HeaderKey(number, hash))
}

// ReadTd reads the total difficulty accumulated up to (and including) the block.
func ReadTd(db kv.Tx, hash common.Hash, number uint64) (*big.Int, error) {
	data, err := db.GetOne(kv.Difficulty, dbutils.HeaderKey(number, hash))
	if err != nil {
		return nil, fmt.Errorf("failed ReadTd: %w", err)
	}
	if len(data) == 0 {
		// a total difficulty of 0 is stored as an empty value
		has, err := db.Has(kv.Difficulty, dbutils.HeaderKey(number, hash))
		if err != nil {
			return nil, fmt.Errorf("failed ReadTd: %w", err)
		}
		if has {
			return big.NewInt(0), nil
		}
		return nil, nil
	}
	return new(big.Int).SetBytes(data), nil
}

func WriteTd(db kv.RwTx, hash common.Hash, number uint64, td *big.Int) error {
	if err := db.Put(kv.Difficulty, dbutils.HeaderKey(number, hash), td.Bytes()); err != nil {
		return fmt.Errorf("failed WriteTd: %w", err)
	}
	return nil
}

// ReadBodyForStorage reads the storage form of a body: no transactions, only
// the id window into the transactions table.
func ReadBodyForStorage(db kv.Tx, hash common.Hash, number uint64) (*types.BodyForStorage, error) {
	data, err := db.GetOne(kv.BlockBodies, dbutils.BlockBodyKey(number, hash))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	bfs := &types.BodyForStorage{}
	if err := types.DecodeBodyForStorage(data, bfs); err != nil {
		return nil, fmt.Errorf("invalid block body RLP: hash=%x, %w", hash, err)
	}
	return bfs, nil
}

func HasBody(db kv.Tx, hash common.Hash, number uint64) (bool, error) {
	return db.Has(kv.BlockBodies, dbutils.BlockBodyKey(number, hash))
}

// ReadBody reassembles the full body from the storage form plus the
// transactions table.
func ReadBody(db kv.Tx, hash common.Hash, number uint64) (*types.Body, error) {
	bfs, err := ReadBodyForStorage(db, hash, number)
	if err != nil {
		return nil, err
	}
	if bfs == nil {
		return nil, nil
	}
	txns, err := CanonicalTransactions(db, bfs.BaseTxnID, bfs.TxCount)
	if err != nil {
		return nil, err
	}
	return &types.Body{Transactions: txns, Uncles: bfs.Uncles, Withdrawals: bfs.Withdrawals}, nil
}

// CanonicalTransactions reads count transactions starting at baseTxnID.
func CanonicalTransactions(db kv.Tx, baseTxnID uint64, count uint32) ([]types.Transaction, error) {
	if count == 0 {
		return nil, nil
	}
	txns := make([]types.Transaction, 0, count)
	i := uint32(0)
	if err := db.ForAmount(kv.BlockTransactions, dbutils.EncodeBlockNumber(baseTxnID), count, func(k, v []byte) error {
		id := binary.BigEndian.Uint64(k)
		if id != baseTxnID+uint64(i) {
			return fmt.Errorf("transaction id gap: expected %d, got %d", baseTxnID+uint64(i), id)
		}
		txn, err := types.DecodeWrappedTransaction(v)
		if err != nil {
			return fmt.Errorf("decode transaction %d: %w", id, err)
		}
		txns = append(txns, txn)
		i++
		return nil
	}); err != nil {
		return nil, err
	}
	if uint32(len(txns)) != count {
		return nil, fmt.Errorf("transaction count mismatch: expected %d, got %d", count, len(txns))
	}
	return txns, nil
}

// WriteRawBody stores the body and appends its transactions into the
// transactions table via the sequence counter. Returns the allocated base id.
// Re-insertion at the same (number, hash) is a no-op.
func WriteRawBody(db kv.RwTx, hash common.Hash, number uint64, body *types.RawBody) (uint64, bool, error) {
	exists, err := HasBody(db, hash, number)
	if err != nil {
		return 0, false, err
	}
	if exists {
		bfs, err := ReadBodyForStorage(db, hash, number)
		if err != nil {
			return 0, false, err
		}
		return bfs.BaseTxnID, false, nil
	}
	baseTxnID, err := db.IncrementSequence(kv.BlockTransactions, uint64(len(body.Transactions)))
	if err != nil {
		return 0, false, err
	}
	bfs := types.BodyForStorage{
		BaseTxnID:   baseTxnID,
		TxCount:     uint32(len(body.Transactions)),
		Uncles:      body.Uncles,
		Withdrawals: body.Withdrawals,
	}
	if err = db.Put(kv.BlockBodies, dbutils.BlockBodyKey(number, hash), bfs.MarshalRLP()); err != nil {
		return 0, false, fmt.Errorf("WriteBodyForStorage: %w", err)
	}
	txnID := baseTxnID
	for _, txn := range body.Transactions {
		if err = db.Append(kv.BlockTransactions, dbutils.EncodeBlockNumber(txnID), txn); err != nil {
			return 0, false, fmt.Errorf("WriteTransactions: %w, txnID=%d", err, txnID)
		}
		txnID++
	}
	return baseTxnID, true, nil
}

// WriteBody encodes the body's transactions and stores them via WriteRawBody.
func WriteBody(db kv.RwTx, hash common.Hash, number uint64, body *types.Body) error {
	raw := &types.RawBody{Uncles: body.Uncles, Withdrawals: body.Withdrawals}
	for _, txn := range body.Transactions {
		var buf bytes.Buffer
		if err := txn.EncodeRLP(&buf); err != nil {
			return err
		}
		raw.Transactions = append(raw.Transactions, buf.Bytes())
	}
	_, _, err := WriteRawBody(db, hash, number, raw)
	return err
}

// ReadSenders reads the recovered senders of the block's transactions.
func ReadSenders(db kv.Tx, hash common.Hash, number uint64) ([]common.Address, error) {
	data, err := db.GetOne(kv.Senders, dbutils.BlockBodyKey(number, hash))
	if err != nil {
		return nil, fmt.Errorf("readSenders failed: %w", err)
	}
	senders := make([]common.Address, len(data)/common.AddressLength)
	for i := 0; i < len(senders); i++ {
		copy(senders[i][:], data[i*common.AddressLength:])
	}
	return senders, nil
}

func WriteSenders(db kv.RwTx, hash common.Hash, number uint64, senders []common.Address) error {
	data := make([]byte, common.AddressLength*len(senders))
	for i, sender := range senders {
		copy(data[i*common.AddressLength:], sender[:])
	}
	if err := db.Put(kv.Senders, dbutils.BlockBodyKey(number, hash), data); err != nil {
		return fmt.Errorf("failed to store block senders: %w", err)
	}
	return nil
}

// ReadBlock reassembles header + body.
func ReadBlock(db kv.Tx, hash common.Hash, number uint64) (*types.Block, error) {
	header := ReadHeader(db, hash, number)
	if header == nil {
		return nil, nil
	}
	body, err := ReadBody(db, hash, number)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return types.NewBlock(header, body.Transactions, body.Uncles, body.Withdrawals), nil
}

// ReadCurrentHeader reads the head-header pointer and resolves it.
func ReadCurrentHeader(db kv.Tx) *types.Header {
	headHash := ReadHeadHeaderHash(db)
	if headHash == (common.Hash{}) {
		return nil
	}
	number, err := ReadHeaderNumber(db, headHash)
	if err != nil || number == nil {
		return nil
	}
	return ReadHeader(db, headHash, *number)
}

func ReadHeadHeaderHash(db kv.Tx) common.Hash {
	data, err := db.GetOne(kv.HeadHeader, []byte(kv.HeadHeaderKey))
	if err != nil {
		log.Error("ReadHeadHeaderHash failed", "err", err)
	}
	if len(data) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(data)
}

func WriteHeadHeaderHash(db kv.RwTx, hash common.Hash) error {
	if err := db.Put(kv.HeadHeader, []byte(kv.HeadHeaderKey), hash.Bytes()); err != nil {
		return fmt.Errorf("failed to store last header's hash: %w", err)
	}
	return nil
}

func ReadForkchoiceHead(db kv.Tx) common.Hash {
	data, err := db.GetOne(kv.HeadHeader, []byte(kv.LastForkchoiceKey))
	if err != nil {
		log.Error("ReadForkchoiceHead failed", "err", err)
	}
	if len(data) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(data)
}

func WriteForkchoiceHead(db kv.RwTx, hash common.Hash) error {
	return db.Put(kv.HeadHeader, []byte(kv.LastForkchoiceKey), hash.Bytes())
}

// DeleteHeader removes header data. Nothing in this module calls it.
func DeleteHeader(db kv.RwTx, hash common.Hash, number uint64) error {
	if err := db.Delete(kv.Headers, dbutils.HeaderKey(number, hash)); err != nil {
		return err
	}
	return db.Delete(kv.HeaderNumbers, hash.Bytes())
}
