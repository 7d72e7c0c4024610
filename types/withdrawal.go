package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/rlp"
)

// Withdrawal represents a validator withdrawal from the consensus layer (EIP-4895).
// Amount is in Gwei.
type Withdrawal struct {
	Index     uint64
	Validator uint64
	Address   common.Address
	Amount    uint64
}

func (w *Withdrawal) payloadSize() int {
	size := 1 + rlp.IntLenExcludingHead(w.Index)
	size += 1 + rlp.IntLenExcludingHead(w.Validator)
	size += 21
	size += 1 + rlp.IntLenExcludingHead(w.Amount)
	return size
}

func (w *Withdrawal) EncodingSize() int {
	payloadSize := w.payloadSize()
	return rlp.ListPrefixLen(payloadSize) + payloadSize
}

func (w *Withdrawal) EncodeRLP(ww io.Writer) error {
	var b [33]byte
	if err := rlp.EncodeStructSizePrefix(w.payloadSize(), ww, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(w.Index, ww, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(w.Validator, ww, b[:]); err != nil {
		return err
	}
	addr := w.Address
	if err := rlp.EncodeOptionalAddress(&addr, ww, b[:]); err != nil {
		return err
	}
	return rlp.EncodeInt(w.Amount, ww, b[:])
}

func decodeWithdrawal(payload []byte, pos int, w *Withdrawal) (int, error) {
	dataPos, dataLen, err := rlp.List(payload, pos)
	if err != nil {
		return 0, fmt.Errorf("withdrawal: %w", err)
	}
	end := dataPos + dataLen
	p := dataPos
	if p, w.Index, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read Index: %w", err)
	}
	if p, w.Validator, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read Validator: %w", err)
	}
	if p, err = rlp.ParseAddress(payload, p, w.Address[:]); err != nil {
		return 0, fmt.Errorf("read Address: %w", err)
	}
	if p, w.Amount, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read Amount: %w", err)
	}
	if p != end {
		return 0, fmt.Errorf("withdrawal: %w", rlp.ErrListLengthMismatch)
	}
	return p, nil
}

type Withdrawals []*Withdrawal

func (ws Withdrawals) Len() int { return len(ws) }

func (ws Withdrawals) EncodeIndex(i int, w *bytes.Buffer) {
	if err := ws[i].EncodeRLP(w); err != nil {
		panic(err)
	}
}
