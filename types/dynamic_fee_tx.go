package types

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/rlp"
)

// DynamicFeeTransaction is the data of EIP-1559 dynamic fee transactions.
type DynamicFeeTransaction struct {
	CommonTx
	ChainID    *uint256.Int
	TipCap     *uint256.Int // max_priority_fee_per_gas
	FeeCap     *uint256.Int // max_fee_per_gas
	AccessList AccessList
}

func (tx *DynamicFeeTransaction) Type() byte { return DynamicFeeTxType }

func (tx *DynamicFeeTransaction) GetChainID() *uint256.Int { return tx.ChainID }

func (tx *DynamicFeeTransaction) Protected() bool { return true }

func (tx *DynamicFeeTransaction) GetTipCap() *uint256.Int { return tx.TipCap }

func (tx *DynamicFeeTransaction) GetFeeCap() *uint256.Int { return tx.FeeCap }

func (tx *DynamicFeeTransaction) GetEffectiveGasTip(baseFee *uint256.Int) *uint256.Int {
	return effectiveGasTip(tx.TipCap, tx.FeeCap, baseFee)
}

func (tx *DynamicFeeTransaction) GetAccessList() AccessList { return tx.AccessList }

func (tx *DynamicFeeTransaction) payloadSize() int {
	size := 1 + rlp.Uint256LenExcludingHead(tx.ChainID)
	size += 1 + rlp.IntLenExcludingHead(tx.Nonce)
	size += 1 + rlp.Uint256LenExcludingHead(tx.TipCap)
	size += 1 + rlp.Uint256LenExcludingHead(tx.FeeCap)
	size += 1 + rlp.IntLenExcludingHead(tx.GasLimit)
	size++
	if tx.To != nil {
		size += 20
	}
	size += 1 + rlp.Uint256LenExcludingHead(tx.Value)
	size += rlp.StringLen(tx.Data)
	accessListLen := accessListSize(tx.AccessList)
	size += rlp.ListPrefixLen(accessListLen) + accessListLen
	size += 1 + rlp.Uint256LenExcludingHead(&tx.V)
	size += 1 + rlp.Uint256LenExcludingHead(&tx.R)
	size += 1 + rlp.Uint256LenExcludingHead(&tx.S)
	return size
}

func (tx *DynamicFeeTransaction) EncodingSize() int {
	payloadSize := tx.payloadSize()
	envelopeSize := 1 + rlp.ListPrefixLen(payloadSize) + payloadSize
	return rlp.ListPrefixLen(envelopeSize) + envelopeSize
}

func (tx *DynamicFeeTransaction) encodePayload(w io.Writer, b []byte) error {
	if err := rlp.EncodeStructSizePrefix(tx.payloadSize(), w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(tx.ChainID, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeInt(tx.Nonce, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(tx.TipCap, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(tx.FeeCap, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeInt(tx.GasLimit, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeOptionalAddress(tx.To, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(tx.Value, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeString(tx.Data, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeStructSizePrefix(accessListSize(tx.AccessList), w, b); err != nil {
		return err
	}
	if err := encodeAccessList(tx.AccessList, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(&tx.V, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(&tx.R, w, b); err != nil {
		return err
	}
	return rlp.EncodeUint256(&tx.S, w, b)
}

func (tx *DynamicFeeTransaction) MarshalBinary(w io.Writer) error {
	var b [33]byte
	b[0] = DynamicFeeTxType
	if _, err := w.Write(b[:1]); err != nil {
		return err
	}
	return tx.encodePayload(w, b[:])
}

func (tx *DynamicFeeTransaction) EncodeRLP(w io.Writer) error {
	var b [33]byte
	payloadSize := tx.payloadSize()
	envelopeSize := 1 + rlp.ListPrefixLen(payloadSize) + payloadSize
	if err := rlp.EncodeStringSizePrefix(envelopeSize, w, b[:]); err != nil {
		return err
	}
	b[0] = DynamicFeeTxType
	if _, err := w.Write(b[:1]); err != nil {
		return err
	}
	return tx.encodePayload(w, b[:])
}

func (tx *DynamicFeeTransaction) decodeRLP(payload []byte, pos int) (int, error) {
	dataPos, dataLen, err := rlp.List(payload, pos)
	if err != nil {
		return 0, err
	}
	end := dataPos + dataLen
	p := dataPos
	tx.ChainID = new(uint256.Int)
	if p, err = rlp.U256(payload, p, tx.ChainID); err != nil {
		return 0, fmt.Errorf("read ChainID: %w", err)
	}
	if p, tx.Nonce, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read Nonce: %w", err)
	}
	tx.TipCap = new(uint256.Int)
	if p, err = rlp.U256(payload, p, tx.TipCap); err != nil {
		return 0, fmt.Errorf("read TipCap: %w", err)
	}
	tx.FeeCap = new(uint256.Int)
	if p, err = rlp.U256(payload, p, tx.FeeCap); err != nil {
		return 0, fmt.Errorf("read FeeCap: %w", err)
	}
	if p, tx.GasLimit, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read GasLimit: %w", err)
	}
	if p, tx.To, err = rlp.ParseOptionalAddress(payload, p); err != nil {
		return 0, fmt.Errorf("read To: %w", err)
	}
	tx.Value = new(uint256.Int)
	if p, err = rlp.U256(payload, p, tx.Value); err != nil {
		return 0, fmt.Errorf("read Value: %w", err)
	}
	if p, tx.Data, err = rlp.ParseString(payload, p); err != nil {
		return 0, fmt.Errorf("read Data: %w", err)
	}
	if p, tx.AccessList, err = decodeAccessList(payload, p); err != nil {
		return 0, err
	}
	if p, err = rlp.U256(payload, p, &tx.V); err != nil {
		return 0, fmt.Errorf("read V: %w", err)
	}
	if p, err = rlp.U256(payload, p, &tx.R); err != nil {
		return 0, fmt.Errorf("read R: %w", err)
	}
	if p, err = rlp.U256(payload, p, &tx.S); err != nil {
		return 0, fmt.Errorf("read S: %w", err)
	}
	if p != end {
		return 0, rlp.ErrListLengthMismatch
	}
	return p, nil
}

func (tx *DynamicFeeTransaction) Hash() common.Hash {
	if hash := tx.cachedHash(); hash != nil {
		return *hash
	}
	var buf bytes.Buffer
	var b [33]byte
	if err := tx.encodePayload(&buf, b[:]); err != nil {
		panic(err)
	}
	hash := prefixedHash(DynamicFeeTxType, buf.Bytes())
	tx.cacheHash(hash)
	return hash
}

func (tx *DynamicFeeTransaction) SigningHash(chainID *big.Int) common.Hash {
	var b [33]byte
	payloadSize := 1 + rlp.Uint256LenExcludingHead(tx.ChainID)
	payloadSize += 1 + rlp.IntLenExcludingHead(tx.Nonce)
	payloadSize += 1 + rlp.Uint256LenExcludingHead(tx.TipCap)
	payloadSize += 1 + rlp.Uint256LenExcludingHead(tx.FeeCap)
	payloadSize += 1 + rlp.IntLenExcludingHead(tx.GasLimit)
	payloadSize++
	if tx.To != nil {
		payloadSize += 20
	}
	payloadSize += 1 + rlp.Uint256LenExcludingHead(tx.Value)
	payloadSize += rlp.StringLen(tx.Data)
	accessListLen := accessListSize(tx.AccessList)
	payloadSize += rlp.ListPrefixLen(accessListLen) + accessListLen

	var buf bytes.Buffer
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(rlp.EncodeStructSizePrefix(payloadSize, &buf, b[:]))
	must(rlp.EncodeUint256(tx.ChainID, &buf, b[:]))
	must(rlp.EncodeInt(tx.Nonce, &buf, b[:]))
	must(rlp.EncodeUint256(tx.TipCap, &buf, b[:]))
	must(rlp.EncodeUint256(tx.FeeCap, &buf, b[:]))
	must(rlp.EncodeInt(tx.GasLimit, &buf, b[:]))
	must(rlp.EncodeOptionalAddress(tx.To, &buf, b[:]))
	must(rlp.EncodeUint256(tx.Value, &buf, b[:]))
	must(rlp.EncodeString(tx.Data, &buf, b[:]))
	must(rlp.EncodeStructSizePrefix(accessListLen, &buf, b[:]))
	must(encodeAccessList(tx.AccessList, &buf, b[:]))
	return prefixedHash(DynamicFeeTxType, buf.Bytes())
}

func (tx *DynamicFeeTransaction) Sender(signer *Signer) (common.Address, error) {
	if from, ok := tx.GetSender(); ok {
		return from, nil
	}
	from, err := signer.SenderOf(tx)
	if err != nil {
		return common.Address{}, err
	}
	tx.SetSender(from)
	return from, nil
}
