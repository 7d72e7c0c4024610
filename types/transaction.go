package types

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/rlp"
)

// Transaction types.
const (
	LegacyTxType     = byte(0)
	AccessListTxType = byte(1) // EIP-2930
	DynamicFeeTxType = byte(2) // EIP-1559
)

var (
	ErrInvalidSig            = errors.New("invalid transaction v, r, s values")
	ErrUnexpectedProtection  = errors.New("transaction type does not supported EIP-155 protected signatures")
	ErrInvalidTxType         = errors.New("transaction type not valid in this context")
	ErrTxTypeNotSupported    = errors.New("transaction type not supported")
	ErrUnexpectedEip2718Wrap = errors.New("unexpected eip-2718 serialization")
)

// Transaction is an Ethereum transaction: one of Legacy, EIP-2930, EIP-1559.
type Transaction interface {
	Type() byte
	GetChainID() *uint256.Int // nil for unprotected legacy transactions
	GetNonce() uint64
	GetGasLimit() uint64
	GetTipCap() *uint256.Int // max_priority_fee_per_gas
	GetFeeCap() *uint256.Int // max_fee_per_gas
	// GetEffectiveGasTip returns min(tipCap, feeCap - baseFee).
	GetEffectiveGasTip(baseFee *uint256.Int) *uint256.Int
	GetTo() *common.Address // nil means contract creation
	GetValue() *uint256.Int
	GetData() []byte
	GetAccessList() AccessList
	RawSignatureValues() (v, r, s *uint256.Int)
	Protected() bool

	Hash() common.Hash
	SigningHash(chainID *big.Int) common.Hash

	// EncodeRLP writes the body-context encoding: typed transactions are
	// wrapped in an RLP byte string.
	EncodeRLP(w io.Writer) error
	// MarshalBinary writes the wire encoding: type byte + payload, no wrapping.
	MarshalBinary(w io.Writer) error
	EncodingSize() int

	// Sender recovery. The cached value is returned if present.
	Sender(*Signer) (common.Address, error)
	SetSender(common.Address)
	// GetSender returns the cached sender, if any.
	GetSender() (common.Address, bool)
}

// TransactionMisc carries the caches every concrete transaction embeds.
type TransactionMisc struct {
	hash atomic.Pointer[common.Hash]
	from atomic.Pointer[common.Address]
}

func (tm *TransactionMisc) cachedHash() *common.Hash { return tm.hash.Load() }

func (tm *TransactionMisc) cacheHash(h common.Hash) { tm.hash.Store(&h) }

func (tm *TransactionMisc) SetSender(addr common.Address) { tm.from.Store(&addr) }

func (tm *TransactionMisc) GetSender() (common.Address, bool) {
	if p := tm.from.Load(); p != nil {
		return *p, true
	}
	return common.Address{}, false
}

// AccessTuple is the element type of an access list.
type AccessTuple struct {
	Address     common.Address `json:"address"`
	StorageKeys []common.Hash  `json:"storageKeys"`
}

// AccessList is an EIP-2930 access list.
type AccessList []AccessTuple

// StorageKeys returns the total number of storage keys in the access list.
func (al AccessList) StorageKeys() int {
	sum := 0
	for _, tuple := range al {
		sum += len(tuple.StorageKeys)
	}
	return sum
}

type Transactions []Transaction

func (s Transactions) Len() int { return len(s) }

func (s Transactions) EncodeIndex(i int, w *bytes.Buffer) {
	if err := s[i].MarshalBinary(w); err != nil {
		panic(err)
	}
}

// DecodeTransaction decodes a single transaction in wire format: either a
// legacy RLP list, or a type byte followed by the typed payload.
func DecodeTransaction(data []byte) (Transaction, error) {
	if len(data) == 0 {
		return nil, rlp.ErrInputTooShort
	}
	if data[0] >= 0xC0 {
		// legacy
		tx := &LegacyTx{}
		pos, err := tx.decodeRLP(data, 0)
		if err != nil {
			return nil, err
		}
		if pos != len(data) {
			return nil, rlp.ErrListLengthMismatch
		}
		return tx, nil
	}
	return decodeTypedTransaction(data)
}

// DecodeWrappedTransaction decodes a transaction in body context: a typed
// transaction is additionally wrapped as an RLP byte string.
func DecodeWrappedTransaction(data []byte) (Transaction, error) {
	if len(data) == 0 {
		return nil, rlp.ErrInputTooShort
	}
	if data[0] >= 0xC0 {
		return DecodeTransaction(data)
	}
	dataPos, dataLen, err := rlp.String(data, 0)
	if err != nil {
		return nil, err
	}
	if dataPos+dataLen != len(data) {
		return nil, rlp.ErrUnexpectedLength
	}
	return decodeTypedTransaction(data[dataPos : dataPos+dataLen])
}

func decodeTypedTransaction(data []byte) (Transaction, error) {
	if len(data) <= 1 {
		return nil, rlp.ErrInputTooShort
	}
	var tx Transaction
	var pos int
	var err error
	switch data[0] {
	case AccessListTxType:
		t := &AccessListTx{}
		pos, err = t.decodeRLP(data, 1)
		tx = t
	case DynamicFeeTxType:
		t := &DynamicFeeTransaction{}
		pos, err = t.decodeRLP(data, 1)
		tx = t
	default:
		return nil, ErrTxTypeNotSupported
	}
	if err != nil {
		return nil, err
	}
	if pos != len(data) {
		return nil, rlp.ErrListLengthMismatch
	}
	return tx, nil
}

func rawRlpHash(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}

func prefixedHash(prefix byte, payload []byte) common.Hash {
	return crypto.Keccak256Hash([]byte{prefix}, payload)
}

// Signer derives transaction senders for a particular chain revision.
type Signer struct {
	chainID             *big.Int
	protected           bool // EIP-155 replay protection available
	accessList          bool // EIP-2930 transactions valid
	dynamicFee          bool // EIP-1559 transactions valid
	malleableSigs        bool // high-s signatures accepted (pre-Homestead)
}

// MakeSigner returns a Signer for the revision active at (blockNumber, blockTime).
func MakeSigner(config *chain.Config, blockNumber, blockTime uint64) *Signer {
	return &Signer{
		chainID:      config.ChainID,
		protected:    config.IsSpuriousDragon(blockNumber),
		accessList:   config.IsBerlin(blockNumber),
		dynamicFee:   config.IsLondon(blockNumber),
		malleableSigs: !config.IsHomestead(blockNumber),
	}
}

// LatestSigner returns a Signer accepting every transaction type the config
// will ever enable.
func LatestSigner(config *chain.Config) *Signer {
	return &Signer{
		chainID:    config.ChainID,
		protected:  true,
		accessList: true,
		dynamicFee: true,
	}
}

func (sg *Signer) ChainID() *big.Int { return sg.chainID }

// SenderOf recovers the address that signed txn. Wrong-chain-id and
// unsupported-type conditions surface as errors.
func (sg *Signer) SenderOf(txn Transaction) (common.Address, error) {
	v, r, s := txn.RawSignatureValues()

	var sigChainID *big.Int
	recovery := byte(0)
	switch txn.Type() {
	case LegacyTxType:
		if !txn.Protected() {
			if !v.IsUint64() {
				return common.Address{}, ErrInvalidSig
			}
			vu := v.Uint64()
			if vu != 27 && vu != 28 {
				return common.Address{}, ErrInvalidSig
			}
			recovery = byte(vu - 27)
		} else {
			if !sg.protected {
				return common.Address{}, ErrUnexpectedProtection
			}
			// v = 35 + 2*chainID + parity
			chainIDMul := new(big.Int).Lsh(sg.chainID, 1)
			vBig := v.ToBig()
			vBig.Sub(vBig, chainIDMul)
			vBig.Sub(vBig, big.NewInt(35))
			if !vBig.IsUint64() || vBig.Uint64() > 1 {
				return common.Address{}, ErrInvalidSig
			}
			recovery = byte(vBig.Uint64())
			sigChainID = sg.chainID
		}
	case AccessListTxType:
		if !sg.accessList {
			return common.Address{}, ErrTxTypeNotSupported
		}
		if !v.IsUint64() || v.Uint64() > 1 {
			return common.Address{}, ErrInvalidSig
		}
		recovery = byte(v.Uint64())
		sigChainID = txn.GetChainID().ToBig()
	case DynamicFeeTxType:
		if !sg.dynamicFee {
			return common.Address{}, ErrTxTypeNotSupported
		}
		if !v.IsUint64() || v.Uint64() > 1 {
			return common.Address{}, ErrInvalidSig
		}
		recovery = byte(v.Uint64())
		sigChainID = txn.GetChainID().ToBig()
	default:
		return common.Address{}, ErrTxTypeNotSupported
	}

	if sigChainID != nil && sg.chainID != nil && sigChainID.Cmp(sg.chainID) != 0 {
		return common.Address{}, fmt.Errorf("wrong chain id: have %v, want %v", sigChainID, sg.chainID)
	}
	if !crypto.TransactionSignatureIsValid(recovery, r, s, !sg.malleableSigs) {
		return common.Address{}, ErrInvalidSig
	}

	var sig [crypto.SignatureLength]byte
	r.WriteToSlice(sig[:32])
	s.WriteToSlice(sig[32:64])
	sig[64] = recovery

	signingChainID := sg.chainID
	if txn.Type() == LegacyTxType && !txn.Protected() {
		signingChainID = nil
	}
	return crypto.RecoverAddress(txn.SigningHash(signingChainID), sig[:])
}
