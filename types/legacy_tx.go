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

// CommonTx holds the fields shared by every transaction type.
type CommonTx struct {
	TransactionMisc

	Nonce    uint64
	GasLimit uint64
	To       *common.Address // nil means contract creation
	Value    *uint256.Int
	Data     []byte
	V, R, S  uint256.Int
}

func (ct *CommonTx) GetNonce() uint64 { return ct.Nonce }

func (ct *CommonTx) GetGasLimit() uint64 { return ct.GasLimit }

func (ct *CommonTx) GetTo() *common.Address { return ct.To }

func (ct *CommonTx) GetValue() *uint256.Int { return ct.Value }

func (ct *CommonTx) GetData() []byte { return ct.Data }

func (ct *CommonTx) RawSignatureValues() (*uint256.Int, *uint256.Int, *uint256.Int) {
	return &ct.V, &ct.R, &ct.S
}

// LegacyTx is the transaction data of regular Ethereum transactions.
type LegacyTx struct {
	CommonTx
	GasPrice *uint256.Int
}

func NewTransaction(nonce uint64, to common.Address, amount *uint256.Int, gasLimit uint64, gasPrice *uint256.Int, data []byte) *LegacyTx {
	return &LegacyTx{
		CommonTx: CommonTx{
			Nonce:    nonce,
			To:       &to,
			Value:    amount,
			GasLimit: gasLimit,
			Data:     data,
		},
		GasPrice: gasPrice,
	}
}

func NewContractCreation(nonce uint64, amount *uint256.Int, gasLimit uint64, gasPrice *uint256.Int, data []byte) *LegacyTx {
	return &LegacyTx{
		CommonTx: CommonTx{
			Nonce:    nonce,
			Value:    amount,
			GasLimit: gasLimit,
			Data:     data,
		},
		GasPrice: gasPrice,
	}
}

func (tx *LegacyTx) Type() byte { return LegacyTxType }

// GetChainID derives the chain id from the EIP-155 V encoding.
// Returns nil for unprotected transactions.
func (tx *LegacyTx) GetChainID() *uint256.Int {
	if !tx.Protected() {
		return nil
	}
	chainID := new(uint256.Int).Sub(&tx.V, uint256.NewInt(35))
	return chainID.Rsh(chainID, 1)
}

func (tx *LegacyTx) Protected() bool {
	return tx.V.CmpUint64(28) > 0 // 27/28 are the unprotected values
}

func (tx *LegacyTx) GetTipCap() *uint256.Int { return tx.GasPrice }

func (tx *LegacyTx) GetFeeCap() *uint256.Int { return tx.GasPrice }

func (tx *LegacyTx) GetEffectiveGasTip(baseFee *uint256.Int) *uint256.Int {
	return effectiveGasTip(tx.GasPrice, tx.GasPrice, baseFee)
}

func (tx *LegacyTx) GetAccessList() AccessList { return nil }

func effectiveGasTip(tipCap, feeCap, baseFee *uint256.Int) *uint256.Int {
	if baseFee == nil {
		return new(uint256.Int).Set(tipCap)
	}
	if feeCap.Lt(baseFee) {
		return new(uint256.Int)
	}
	effectiveFee := new(uint256.Int).Sub(feeCap, baseFee)
	if tipCap.Lt(effectiveFee) {
		return new(uint256.Int).Set(tipCap)
	}
	return effectiveFee
}

func (tx *LegacyTx) payloadSize() int {
	size := 1 + rlp.IntLenExcludingHead(tx.Nonce)
	size += 1 + rlp.Uint256LenExcludingHead(tx.GasPrice)
	size += 1 + rlp.IntLenExcludingHead(tx.GasLimit)
	size++ // To
	if tx.To != nil {
		size += 20
	}
	size += 1 + rlp.Uint256LenExcludingHead(tx.Value)
	size += rlp.StringLen(tx.Data)
	size += 1 + rlp.Uint256LenExcludingHead(&tx.V)
	size += 1 + rlp.Uint256LenExcludingHead(&tx.R)
	size += 1 + rlp.Uint256LenExcludingHead(&tx.S)
	return size
}

func (tx *LegacyTx) EncodingSize() int {
	payloadSize := tx.payloadSize()
	return rlp.ListPrefixLen(payloadSize) + payloadSize
}

func (tx *LegacyTx) encodePayload(w io.Writer, b []byte) error {
	if err := rlp.EncodeStructSizePrefix(tx.payloadSize(), w, b); err != nil {
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
	if err := rlp.EncodeUint256(&tx.V, w, b); err != nil {
		return err
	}
	if err := rlp.EncodeUint256(&tx.R, w, b); err != nil {
		return err
	}
	return rlp.EncodeUint256(&tx.S, w, b)
}

func (tx *LegacyTx) EncodeRLP(w io.Writer) error {
	var b [33]byte
	return tx.encodePayload(w, b[:])
}

func (tx *LegacyTx) MarshalBinary(w io.Writer) error {
	return tx.EncodeRLP(w)
}

func (tx *LegacyTx) decodeRLP(payload []byte, pos int) (int, error) {
	dataPos, dataLen, err := rlp.List(payload, pos)
	if err != nil {
		return 0, err
	}
	end := dataPos + dataLen
	p := dataPos
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

func (tx *LegacyTx) Hash() common.Hash {
	if hash := tx.cachedHash(); hash != nil {
		return *hash
	}
	var buf bytes.Buffer
	if err := tx.EncodeRLP(&buf); err != nil {
		panic(err)
	}
	hash := rawRlpHash(buf.Bytes())
	tx.cacheHash(hash)
	return hash
}

// SigningHash is the hash the sender signed: without signature fields,
// with (chainID, 0, 0) appended when EIP-155 protection is in effect.
func (tx *LegacyTx) SigningHash(chainID *big.Int) common.Hash {
	protected := chainID != nil && chainID.Sign() != 0
	var b [33]byte
	payloadSize := 1 + rlp.IntLenExcludingHead(tx.Nonce)
	payloadSize += 1 + rlp.Uint256LenExcludingHead(tx.GasPrice)
	payloadSize += 1 + rlp.IntLenExcludingHead(tx.GasLimit)
	payloadSize++
	if tx.To != nil {
		payloadSize += 20
	}
	payloadSize += 1 + rlp.Uint256LenExcludingHead(tx.Value)
	payloadSize += rlp.StringLen(tx.Data)
	if protected {
		payloadSize += 1 + bigIntLenExcludingHead(chainID)
		payloadSize += 2 // two zeroes
	}
	var buf bytes.Buffer
	if err := rlp.EncodeStructSizePrefix(payloadSize, &buf, b[:]); err != nil {
		panic(err)
	}
	if err := rlp.EncodeInt(tx.Nonce, &buf, b[:]); err != nil {
		panic(err)
	}
	if err := rlp.EncodeUint256(tx.GasPrice, &buf, b[:]); err != nil {
		panic(err)
	}
	if err := rlp.EncodeInt(tx.GasLimit, &buf, b[:]); err != nil {
		panic(err)
	}
	if err := rlp.EncodeOptionalAddress(tx.To, &buf, b[:]); err != nil {
		panic(err)
	}
	if err := rlp.EncodeUint256(tx.Value, &buf, b[:]); err != nil {
		panic(err)
	}
	if err := rlp.EncodeString(tx.Data, &buf, b[:]); err != nil {
		panic(err)
	}
	if protected {
		if err := encodeBigInt(chainID, &buf, b[:]); err != nil {
			panic(err)
		}
		buf.WriteByte(rlp.EmptyStringCode)
		buf.WriteByte(rlp.EmptyStringCode)
	}
	return rawRlpHash(buf.Bytes())
}

func (tx *LegacyTx) Sender(signer *Signer) (common.Address, error) {
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
