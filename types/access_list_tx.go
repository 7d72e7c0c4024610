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

// AccessListTx is the data of EIP-2930 access list transactions.
type AccessListTx struct {
	LegacyTx
	ChainID    *uint256.Int
	AccessList AccessList
}

func (tx *AccessListTx) Type() byte { return AccessListTxType }

func (tx *AccessListTx) GetChainID() *uint256.Int { return tx.ChainID }

func (tx *AccessListTx) Protected() bool { return true }

func (tx *AccessListTx) GetAccessList() AccessList { return tx.AccessList }

func accessListSize(al AccessList) int {
	var accessListLen int
	for _, tuple := range al {
		tupleLen := 21
		storageLen := 33 * len(tuple.StorageKeys)
		tupleLen += rlp.ListPrefixLen(storageLen) + storageLen
		accessListLen += rlp.ListPrefixLen(tupleLen) + tupleLen
	}
	return accessListLen
}

func encodeAccessList(al AccessList, w io.Writer, b []byte) error {
	for i := 0; i < len(al); i++ {
		tupleLen := 21
		storageLen := 33 * len(al[i].StorageKeys)
		tupleLen += rlp.ListPrefixLen(storageLen) + storageLen
		if err := rlp.EncodeStructSizePrefix(tupleLen, w, b); err != nil {
			return err
		}
		if err := rlp.EncodeOptionalAddress(&al[i].Address, w, b); err != nil {
			return err
		}
		if err := rlp.EncodeStructSizePrefix(storageLen, w, b); err != nil {
			return err
		}
		for idx := 0; idx < len(al[i].StorageKeys); idx++ {
			if err := rlp.EncodeHash(&al[i].StorageKeys[idx], w, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeAccessList(payload []byte, pos int) (int, AccessList, error) {
	dataPos, dataLen, err := rlp.List(payload, pos)
	if err != nil {
		return 0, nil, fmt.Errorf("open AccessList: %w", err)
	}
	end := dataPos + dataLen
	al := AccessList{}
	p := dataPos
	for p < end {
		tuplePos, tupleLen, err := rlp.List(payload, p)
		if err != nil {
			return 0, nil, fmt.Errorf("open AccessTuple: %w", err)
		}
		tupleEnd := tuplePos + tupleLen
		var tuple AccessTuple
		q := tuplePos
		if q, err = rlp.ParseAddress(payload, q, tuple.Address[:]); err != nil {
			return 0, nil, fmt.Errorf("read Address: %w", err)
		}
		keysPos, keysLen, err := rlp.List(payload, q)
		if err != nil {
			return 0, nil, fmt.Errorf("open StorageKeys: %w", err)
		}
		keysEnd := keysPos + keysLen
		q = keysPos
		for q < keysEnd {
			var key common.Hash
			if q, err = rlp.ParseHash(payload, q, key[:]); err != nil {
				return 0, nil, fmt.Errorf("read StorageKey: %w", err)
			}
			tuple.StorageKeys = append(tuple.StorageKeys, key)
		}
		if q != keysEnd {
			return 0, nil, fmt.Errorf("close StorageKeys: %w", rlp.ErrListLengthMismatch)
		}
		if q != tupleEnd {
			return 0, nil, fmt.Errorf("close AccessTuple: %w", rlp.ErrListLengthMismatch)
		}
		al = append(al, tuple)
		p = tupleEnd
	}
	if p != end {
		return 0, nil, fmt.Errorf("close AccessList: %w", rlp.ErrListLengthMismatch)
	}
	return end, al, nil
}

func (tx *AccessListTx) payloadSize() int {
	size := 1 + rlp.Uint256LenExcludingHead(tx.ChainID)
	size += 1 + rlp.IntLenExcludingHead(tx.Nonce)
	size += 1 + rlp.Uint256LenExcludingHead(tx.GasPrice)
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

// EncodingSize returns the RLP encoding size of the whole transaction envelope.
func (tx *AccessListTx) EncodingSize() int {
	payloadSize := tx.payloadSize()
	envelopeSize := 1 + rlp.ListPrefixLen(payloadSize) + payloadSize
	// wrapping byte-string prefix
	return rlp.ListPrefixLen(envelopeSize) + envelopeSize
}

func (tx *AccessListTx) encodePayload(w io.Writer, b []byte) error {
	if err := rlp.EncodeStructSizePrefix(tx.payloadSize(), w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(tx.ChainID, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeInt(tx.Nonce, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(tx.GasPrice, w, b); err != nil {
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

// MarshalBinary writes the wire encoding: type byte + payload.
func (tx *AccessListTx) MarshalBinary(w io.Writer) error {
	var b [33]byte
	b[0] = AccessListTxType
	if _, err := w.Write(b[:1]); err != nil {
		return err
	}
	return tx.encodePayload(w, b[:])
}

// EncodeRLP wraps the wire encoding as an RLP byte string for body context.
func (tx *AccessListTx) EncodeRLP(w io.Writer) error {
	var b [33]byte
	payloadSize := tx.payloadSize()
	envelopeSize := 1 + rlp.ListPrefixLen(payloadSize) + payloadSize
	if err := rlp.EncodeStringSizePrefix(envelopeSize, w, b[:]); err != nil {
		return err
	}
	b[0] = AccessListTxType
	if _, err := w.Write(b[:1]); err != nil {
		return err
	}
	return tx.encodePayload(w, b[:])
}

func (tx *AccessListTx) decodeRLP(payload []byte, pos int) (int, error) {
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
	tx.GasPrice = new(uint256.Int)
	if p, err = rlp.U256(payload, p, tx.GasPrice); err != nil {
		return 0, fmt.Errorf("read GasPrice: %w", err)
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

func (tx *AccessListTx) Hash() common.Hash {
	if hash := tx.cachedHash(); hash != nil {
		return *hash
	}
	var buf bytes.Buffer
	var b [33]byte
	if err := tx.encodePayload(&buf, b[:]); err != nil {
		panic(err)
	}
	hash := prefixedHash(AccessListTxType, buf.Bytes())
	tx.cacheHash(hash)
	return hash
}

func (tx *AccessListTx) SigningHash(chainID *big.Int) common.Hash {
	var b [33]byte
	payloadSize := 1 + rlp.Uint256LenExcludingHead(tx.ChainID)
	payloadSize += 1 + rlp.IntLenExcludingHead(tx.Nonce)
	payloadSize += 1 + rlp.Uint256LenExcludingHead(tx.GasPrice)
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
	must(rlp.EncodeUint256(tx.GasPrice, &buf, b[:]))
	must(rlp.EncodeInt(tx.GasLimit, &buf, b[:]))
	must(rlp.EncodeOptionalAddress(tx.To, &buf, b[:]))
	must(rlp.EncodeUint256(tx.Value, &buf, b[:]))
	must(rlp.EncodeString(tx.Data, &buf, b[:]))
	must(rlp.EncodeStructSizePrefix(accessListLen, &buf, b[:]))
	must(encodeAccessList(tx.AccessList, &buf, b[:]))
	return prefixedHash(AccessListTxType, buf.Bytes())
}

func (tx *AccessListTx) Sender(signer *Signer) (common.Address, error) {
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
