package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/rlp"
)

// Body is the transactions-and-ommers part of a block.
type Body struct {
	Transactions []Transaction
	Uncles       []*Header
	Withdrawals  Withdrawals // nil before Shanghai
}

// RawBody carries transactions still in their wire encoding. Bodies are
// inserted in this shape: transactions are appended to the transactions table
// without being re-encoded.
type RawBody struct {
	Transactions [][]byte
	Uncles       []*Header
	Withdrawals  Withdrawals
}

// BodyForStorage is what the block-bodies table holds: the transactions
// themselves live in the transactions table under
// [BaseTxnID, BaseTxnID+TxCount).
type BodyForStorage struct {
	BaseTxnID   uint64
	TxCount     uint32
	Uncles      []*Header
	Withdrawals Withdrawals
}

// Block = header + body.
type Block struct {
	header       *Header
	transactions Transactions
	uncles       []*Header
	withdrawals  Withdrawals
}

func NewBlock(header *Header, txs []Transaction, uncles []*Header, withdrawals Withdrawals) *Block {
	return &Block{header: header, transactions: txs, uncles: uncles, withdrawals: withdrawals}
}

func (b *Block) Header() *Header            { return b.header }
func (b *Block) Transactions() Transactions { return b.transactions }
func (b *Block) Uncles() []*Header          { return b.uncles }
func (b *Block) Withdrawals() Withdrawals   { return b.withdrawals }
func (b *Block) Number() uint64             { return b.header.Number.Uint64() }
func (b *Block) Hash() common.Hash          { return b.header.Hash() }
func (b *Block) ParentHash() common.Hash    { return b.header.ParentHash }

func (b *Block) Body() *Body {
	return &Body{Transactions: b.transactions, Uncles: b.uncles, Withdrawals: b.withdrawals}
}

func unclesPayloadSize(uncles []*Header) int {
	size := 0
	for _, uncle := range uncles {
		size += uncle.EncodingSize()
	}
	return size
}

func encodeUncles(uncles []*Header, w io.Writer, b []byte) error {
	if err := rlp.EncodeStructSizePrefix(unclesPayloadSize(uncles), w, b); err != nil {
		return err
	}
	for _, uncle := range uncles {
		if err := uncle.EncodeRLP(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeUncles(payload []byte, pos int) (int, []*Header, error) {
	dataPos, dataLen, err := rlp.List(payload, pos)
	if err != nil {
		return 0, nil, fmt.Errorf("uncles: %w", err)
	}
	end := dataPos + dataLen
	var uncles []*Header
	p := dataPos
	for p < end {
		uncle := &Header{}
		if p, err = DecodeHeaderRLP(payload, p, uncle); err != nil {
			return 0, nil, err
		}
		uncles = append(uncles, uncle)
	}
	if p != end {
		return 0, nil, fmt.Errorf("uncles: %w", rlp.ErrListLengthMismatch)
	}
	return p, uncles, nil
}

func withdrawalsPayloadSize(ws Withdrawals) int {
	size := 0
	for _, w := range ws {
		size += w.EncodingSize()
	}
	return size
}

func encodeWithdrawals(ws Withdrawals, w io.Writer, b []byte) error {
	if err := rlp.EncodeStructSizePrefix(withdrawalsPayloadSize(ws), w, b); err != nil {
		return err
	}
	for _, withdrawal := range ws {
		if err := withdrawal.EncodeRLP(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeWithdrawals(payload []byte, pos int) (int, Withdrawals, error) {
	dataPos, dataLen, err := rlp.List(payload, pos)
	if err != nil {
		return 0, nil, fmt.Errorf("withdrawals: %w", err)
	}
	end := dataPos + dataLen
	ws := Withdrawals{}
	p := dataPos
	for p < end {
		w := &Withdrawal{}
		if p, err = decodeWithdrawal(payload, p, w); err != nil {
			return 0, nil, err
		}
		ws = append(ws, w)
	}
	if p != end {
		return 0, nil, fmt.Errorf("withdrawals: %w", rlp.ErrListLengthMismatch)
	}
	return p, ws, nil
}

func (body *Body) payloadSize() int {
	txsLen := 0
	for _, txn := range body.Transactions {
		txsLen += txn.EncodingSize()
	}
	size := rlp.ListPrefixLen(txsLen) + txsLen
	unclesLen := unclesPayloadSize(body.Uncles)
	size += rlp.ListPrefixLen(unclesLen) + unclesLen
	if body.Withdrawals != nil {
		withdrawalsLen := withdrawalsPayloadSize(body.Withdrawals)
		size += rlp.ListPrefixLen(withdrawalsLen) + withdrawalsLen
	}
	return size
}

func (body *Body) EncodingSize() int {
	payloadSize := body.payloadSize()
	return rlp.ListPrefixLen(payloadSize) + payloadSize
}

func (body *Body) EncodeRLP(w io.Writer) error {
	var b [33]byte
	if err := rlp.EncodeStructSizePrefix(body.payloadSize(), w, b[:]); err != nil {
		return err
	}
	txsLen := 0
	for _, txn := range body.Transactions {
		txsLen += txn.EncodingSize()
	}
	if err := rlp.EncodeStructSizePrefix(txsLen, w, b[:]); err != nil {
		return err
	}
	for _, txn := range body.Transactions {
		if err := txn.EncodeRLP(w); err != nil {
			return err
		}
	}
	if err := encodeUncles(body.Uncles, w, b[:]); err != nil {
		return err
	}
	if body.Withdrawals != nil {
		if err := encodeWithdrawals(body.Withdrawals, w, b[:]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBodyRLP decodes a block body. Typed transactions inside the body are
// accepted with the byte-string wrapping.
func DecodeBodyRLP(payload []byte) (*Body, error) {
	dataPos, dataLen, err := rlp.List(payload, 0)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	end := dataPos + dataLen
	body := &Body{}

	// transactions
	txsPos, txsLen, err := rlp.List(payload, dataPos)
	if err != nil {
		return nil, fmt.Errorf("body transactions: %w", err)
	}
	txsEnd := txsPos + txsLen
	p := txsPos
	for p < txsEnd {
		itemPos, itemLen, _, err := rlp.Prefix(payload, p)
		if err != nil {
			return nil, err
		}
		itemEnd := itemPos + itemLen
		txn, err := DecodeWrappedTransaction(payload[p:itemEnd])
		if err != nil {
			return nil, err
		}
		body.Transactions = append(body.Transactions, txn)
		p = itemEnd
	}

	if p, body.Uncles, err = decodeUncles(payload, p); err != nil {
		return nil, err
	}
	if p < end {
		if p, body.Withdrawals, err = decodeWithdrawals(payload, p); err != nil {
			return nil, err
		}
	}
	if p != end {
		return nil, fmt.Errorf("body: %w", rlp.ErrListLengthMismatch)
	}
	return body, nil
}

func (body *Body) MarshalRLP() []byte {
	var buf bytes.Buffer
	if err := body.EncodeRLP(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (bfs *BodyForStorage) payloadSize() int {
	size := 1 + rlp.IntLenExcludingHead(bfs.BaseTxnID)
	size += 1 + rlp.IntLenExcludingHead(uint64(bfs.TxCount))
	unclesLen := unclesPayloadSize(bfs.Uncles)
	size += rlp.ListPrefixLen(unclesLen) + unclesLen
	if bfs.Withdrawals != nil {
		withdrawalsLen := withdrawalsPayloadSize(bfs.Withdrawals)
		size += rlp.ListPrefixLen(withdrawalsLen) + withdrawalsLen
	}
	return size
}

func (bfs *BodyForStorage) EncodeRLP(w io.Writer) error {
	var b [33]byte
	if err := rlp.EncodeStructSizePrefix(bfs.payloadSize(), w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(bfs.BaseTxnID, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(uint64(bfs.TxCount), w, b[:]); err != nil {
		return err
	}
	if err := encodeUncles(bfs.Uncles, w, b[:]); err != nil {
		return err
	}
	if bfs.Withdrawals != nil {
		if err := encodeWithdrawals(bfs.Withdrawals, w, b[:]); err != nil {
			return err
		}
	}
	return nil
}

func (bfs *BodyForStorage) MarshalRLP() []byte {
	var buf bytes.Buffer
	if err := bfs.EncodeRLP(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func DecodeBodyForStorage(payload []byte, bfs *BodyForStorage) error {
	dataPos, dataLen, err := rlp.List(payload, 0)
	if err != nil {
		return fmt.Errorf("body for storage: %w", err)
	}
	end := dataPos + dataLen
	p := dataPos
	if p, bfs.BaseTxnID, err = rlp.U64(payload, p); err != nil {
		return fmt.Errorf("read BaseTxnID: %w", err)
	}
	var txCount uint64
	if p, txCount, err = rlp.U64(payload, p); err != nil {
		return fmt.Errorf("read TxCount: %w", err)
	}
	bfs.TxCount = uint32(txCount)
	if p, bfs.Uncles, err = decodeUncles(payload, p); err != nil {
		return err
	}
	if p < end {
		if p, bfs.Withdrawals, err = decodeWithdrawals(payload, p); err != nil {
			return err
		}
	}
	if p != end {
		return fmt.Errorf("body for storage: %w", rlp.ErrListLengthMismatch)
	}
	return nil
}
