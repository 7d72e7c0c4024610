package types

import (
	"bytes"
	"io"

	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/rlp"
)

const (
	// ReceiptStatusFailed is the status code of a transaction if execution failed.
	ReceiptStatusFailed = uint64(0)
	// ReceiptStatusSuccessful is the status code of a transaction if execution succeeded.
	ReceiptStatusSuccessful = uint64(1)
)

// Receipt represents the result of a transaction execution.
// Only the consensus fields are kept: the derived lookup fields belong to RPC,
// which is out of scope here.
type Receipt struct {
	Type              byte   `codec:"-"`
	Status            uint64 `codec:"1"`
	CumulativeGasUsed uint64 `codec:"2"`
	Logs              Logs   `codec:"3"`
}

type Receipts []*Receipt

func (rs Receipts) Len() int { return len(rs) }

func (rs Receipts) EncodeIndex(i int, w *bytes.Buffer) {
	r := rs[i]
	if r.Type != LegacyTxType {
		w.WriteByte(r.Type)
	}
	if err := r.encodeConsensusPayload(w); err != nil {
		panic(err)
	}
}

// Bloom computes the 2048-bit log bloom of the receipt.
func (r *Receipt) Bloom() Bloom {
	var bloom Bloom
	for _, l := range r.Logs {
		bloomAdd(&bloom, l.Address[:])
		for _, topic := range l.Topics {
			bloomAdd(&bloom, topic[:])
		}
	}
	return bloom
}

// CreateBloom folds the blooms of all receipts of a block.
func CreateBloom(receipts Receipts) Bloom {
	var bloom Bloom
	for _, r := range receipts {
		for _, l := range r.Logs {
			bloomAdd(&bloom, l.Address[:])
			for _, topic := range l.Topics {
				bloomAdd(&bloom, topic[:])
			}
		}
	}
	return bloom
}

func bloomAdd(b *Bloom, item []byte) {
	h := crypto.Keccak256(item)
	for i := 0; i < 6; i += 2 {
		bit := (uint(h[i+1]) + (uint(h[i]) << 8)) & 2047
		b[BloomByteLength-1-bit/8] |= byte(1 << (bit % 8))
	}
}

func (r *Receipt) consensusPayloadSize() int {
	bloom := r.Bloom()
	size := 1 + rlp.IntLenExcludingHead(r.Status)
	size += 1 + rlp.IntLenExcludingHead(r.CumulativeGasUsed)
	size += rlp.StringLen(bloom[:])
	logsLen := 0
	for _, l := range r.Logs {
		logsLen += l.EncodingSize()
	}
	size += rlp.ListPrefixLen(logsLen) + logsLen
	return size
}

// encodeConsensusPayload writes the RLP list that feeds the receipts root:
// [status, cumulative_gas_used, bloom, logs].
func (r *Receipt) encodeConsensusPayload(w io.Writer) error {
	var b [33]byte
	if err := rlp.EncodeStructSizePrefix(r.consensusPayloadSize(), w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(r.Status, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(r.CumulativeGasUsed, w, b[:]); err != nil {
		return err
	}
	bloom := r.Bloom()
	if err := rlp.EncodeString(bloom[:], w, b[:]); err != nil {
		return err
	}
	logsLen := 0
	for _, l := range r.Logs {
		logsLen += l.EncodingSize()
	}
	if err := rlp.EncodeStructSizePrefix(logsLen, w, b[:]); err != nil {
		return err
	}
	for _, l := range r.Logs {
		if err := l.EncodeRLP(w); err != nil {
			return err
		}
	}
	return nil
}
