package types

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"sync/atomic"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/rlp"
)

const (
	BloomByteLength = 256
	NonceLength     = 8
	ExtraSealLength = 65 // fixed number of extra-data suffix bytes reserved for a signer seal
)

// Bloom represents a 2048 bit bloom filter.
type Bloom [BloomByteLength]byte

func (b Bloom) Bytes() []byte { return b[:] }

func BytesToBloom(d []byte) Bloom {
	var b Bloom
	copy(b[BloomByteLength-len(d):], d)
	return b
}

// BlockNonce is an 8-byte seal nonce.
type BlockNonce [NonceLength]byte

func EncodeNonce(i uint64) BlockNonce {
	var n BlockNonce
	for j := 7; j >= 0; j-- {
		n[j] = byte(i)
		i >>= 8
	}
	return n
}

func (n BlockNonce) Uint64() uint64 {
	var i uint64
	for j := 0; j < 8; j++ {
		i = i<<8 | uint64(n[j])
	}
	return i
}

// Header represents a block header in the Ethereum blockchain.
type Header struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	Root        common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       Bloom
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   common.Hash
	Nonce       BlockNonce

	BaseFee         *big.Int     // EIP-1559, nil before London
	WithdrawalsHash *common.Hash // EIP-4895, nil before Shanghai

	// EIP-4844 / EIP-4788, nil before Cancun
	BlobGasUsed           *uint64
	ExcessBlobGas         *uint64
	ParentBeaconBlockRoot *common.Hash

	hash atomic.Pointer[common.Hash]
}

func bigIntLenExcludingHead(i *big.Int) int {
	if i == nil || i.Sign() == 0 || (i.BitLen() <= 7) {
		return 0
	}
	return (i.BitLen() + 7) / 8
}

func encodeBigInt(i *big.Int, w io.Writer, b []byte) error {
	if i == nil || i.Sign() == 0 {
		b[0] = rlp.EmptyStringCode
		_, err := w.Write(b[:1])
		return err
	}
	if i.BitLen() <= 7 {
		b[0] = byte(i.Uint64())
		_, err := w.Write(b[:1])
		return err
	}
	enc := i.Bytes()
	b[0] = rlp.EmptyStringCode + byte(len(enc))
	if _, err := w.Write(b[:1]); err != nil {
		return err
	}
	_, err := w.Write(enc)
	return err
}

func (h *Header) payloadSize() int {
	size := 33 * 5                          // ParentHash, UncleHash, Root, TxHash, ReceiptHash
	size += 21                              // Coinbase
	size += 1 + BloomByteLength + 2         // Bloom with 2-byte size prefix
	size += 1 + bigIntLenExcludingHead(h.Difficulty)
	size += 1 + bigIntLenExcludingHead(h.Number)
	size += 1 + rlp.IntLenExcludingHead(h.GasLimit)
	size += 1 + rlp.IntLenExcludingHead(h.GasUsed)
	size += 1 + rlp.IntLenExcludingHead(h.Time)
	size += rlp.StringLen(h.Extra)
	size += 33             // MixDigest
	size += 1 + NonceLength // Nonce
	if h.BaseFee != nil {
		size += 1 + bigIntLenExcludingHead(h.BaseFee)
	}
	if h.WithdrawalsHash != nil {
		size += 33
	}
	if h.BlobGasUsed != nil {
		size += 1 + rlp.IntLenExcludingHead(*h.BlobGasUsed)
	}
	if h.ExcessBlobGas != nil {
		size += 1 + rlp.IntLenExcludingHead(*h.ExcessBlobGas)
	}
	if h.ParentBeaconBlockRoot != nil {
		size += 33
	}
	return size
}

// EncodingSize returns the RLP encoding size of the header.
func (h *Header) EncodingSize() int {
	payloadSize := h.payloadSize()
	return rlp.ListPrefixLen(payloadSize) + payloadSize
}

// EncodeRLP writes the canonical RLP encoding of the header.
func (h *Header) EncodeRLP(w io.Writer) error {
	var b [33]byte
	if err := rlp.EncodeStructSizePrefix(h.payloadSize(), w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeHash(&h.ParentHash, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeHash(&h.UncleHash, w, b[:]); err != nil {
		return err
	}
	addr := h.Coinbase
	if err := rlp.EncodeOptionalAddress(&addr, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeHash(&h.Root, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeHash(&h.TxHash, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeHash(&h.ReceiptHash, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeString(h.Bloom[:], w, b[:]); err != nil {
		return err
	}
	if err := encodeBigInt(h.Difficulty, w, b[:]); err != nil {
		return err
	}
	if err := encodeBigInt(h.Number, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(h.GasLimit, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(h.GasUsed, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeInt(h.Time, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeString(h.Extra, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeHash(&h.MixDigest, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeString(h.Nonce[:], w, b[:]); err != nil {
		return err
	}
	if h.BaseFee != nil {
		if err := encodeBigInt(h.BaseFee, w, b[:]); err != nil {
			return err
		}
	}
	if h.WithdrawalsHash != nil {
		if err := rlp.EncodeHash(h.WithdrawalsHash, w, b[:]); err != nil {
			return err
		}
	}
	if h.BlobGasUsed != nil {
		if err := rlp.EncodeInt(*h.BlobGasUsed, w, b[:]); err != nil {
			return err
		}
	}
	if h.ExcessBlobGas != nil {
		if err := rlp.EncodeInt(*h.ExcessBlobGas, w, b[:]); err != nil {
			return err
		}
	}
	if h.ParentBeaconBlockRoot != nil {
		if err := rlp.EncodeHash(h.ParentBeaconBlockRoot, w, b[:]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeHeaderRLP decodes a header from its canonical encoding at payload[pos:].
// Returns the position just past the header.
func DecodeHeaderRLP(payload []byte, pos int, h *Header) (int, error) {
	dataPos, dataLen, err := rlp.List(payload, pos)
	if err != nil {
		return 0, fmt.Errorf("header: %w", err)
	}
	end := dataPos + dataLen

	p := dataPos
	if p, err = rlp.ParseHash(payload, p, h.ParentHash[:]); err != nil {
		return 0, fmt.Errorf("read ParentHash: %w", err)
	}
	if p, err = rlp.ParseHash(payload, p, h.UncleHash[:]); err != nil {
		return 0, fmt.Errorf("read UncleHash: %w", err)
	}
	if p, err = rlp.ParseAddress(payload, p, h.Coinbase[:]); err != nil {
		return 0, fmt.Errorf("read Coinbase: %w", err)
	}
	if p, err = rlp.ParseHash(payload, p, h.Root[:]); err != nil {
		return 0, fmt.Errorf("read Root: %w", err)
	}
	if p, err = rlp.ParseHash(payload, p, h.TxHash[:]); err != nil {
		return 0, fmt.Errorf("read TxHash: %w", err)
	}
	if p, err = rlp.ParseHash(payload, p, h.ReceiptHash[:]); err != nil {
		return 0, fmt.Errorf("read ReceiptHash: %w", err)
	}
	var s []byte
	if p, s, err = rlp.ParseString(payload, p); err != nil {
		return 0, fmt.Errorf("read Bloom: %w", err)
	}
	if len(s) != BloomByteLength {
		return 0, fmt.Errorf("read Bloom: %w", rlp.ErrUnexpectedLength)
	}
	copy(h.Bloom[:], s)
	if p, s, err = rlp.ParseString(payload, p); err != nil {
		return 0, fmt.Errorf("read Difficulty: %w", err)
	}
	h.Difficulty = new(big.Int).SetBytes(s)
	if p, s, err = rlp.ParseString(payload, p); err != nil {
		return 0, fmt.Errorf("read Number: %w", err)
	}
	h.Number = new(big.Int).SetBytes(s)
	if p, h.GasLimit, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read GasLimit: %w", err)
	}
	if p, h.GasUsed, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read GasUsed: %w", err)
	}
	if p, h.Time, err = rlp.U64(payload, p); err != nil {
		return 0, fmt.Errorf("read Time: %w", err)
	}
	if p, h.Extra, err = rlp.ParseString(payload, p); err != nil {
		return 0, fmt.Errorf("read Extra: %w", err)
	}
	if p, err = rlp.ParseHash(payload, p, h.MixDigest[:]); err != nil {
		return 0, fmt.Errorf("read MixDigest: %w", err)
	}
	if p, s, err = rlp.ParseString(payload, p); err != nil {
		return 0, fmt.Errorf("read Nonce: %w", err)
	}
	if len(s) != NonceLength {
		return 0, fmt.Errorf("read Nonce: %w", rlp.ErrUnexpectedLength)
	}
	copy(h.Nonce[:], s)

	if p < end {
		if p, s, err = rlp.ParseString(payload, p); err != nil {
			return 0, fmt.Errorf("read BaseFee: %w", err)
		}
		h.BaseFee = new(big.Int).SetBytes(s)
	}
	if p < end {
		h.WithdrawalsHash = new(common.Hash)
		if p, err = rlp.ParseHash(payload, p, h.WithdrawalsHash[:]); err != nil {
			return 0, fmt.Errorf("read WithdrawalsHash: %w", err)
		}
	}
	if p < end {
		var blobGasUsed uint64
		if p, blobGasUsed, err = rlp.U64(payload, p); err != nil {
			return 0, fmt.Errorf("read BlobGasUsed: %w", err)
		}
		h.BlobGasUsed = &blobGasUsed
	}
	if p < end {
		var excessBlobGas uint64
		if p, excessBlobGas, err = rlp.U64(payload, p); err != nil {
			return 0, fmt.Errorf("read ExcessBlobGas: %w", err)
		}
		h.ExcessBlobGas = &excessBlobGas
	}
	if p < end {
		h.ParentBeaconBlockRoot = new(common.Hash)
		if p, err = rlp.ParseHash(payload, p, h.ParentBeaconBlockRoot[:]); err != nil {
			return 0, fmt.Errorf("read ParentBeaconBlockRoot: %w", err)
		}
	}
	if p != end {
		return 0, fmt.Errorf("header: %w", rlp.ErrListLengthMismatch)
	}
	return p, nil
}

// Hash returns the keccak256 hash of the header's canonical RLP encoding.
func (h *Header) Hash() common.Hash {
	if hash := h.hash.Load(); hash != nil {
		return *hash
	}
	var buf bytes.Buffer
	if err := h.EncodeRLP(&buf); err != nil {
		panic(fmt.Errorf("header encoding must not fail: %w", err))
	}
	hash := crypto.Keccak256Hash(buf.Bytes())
	h.hash.Store(&hash)
	return hash
}

// Copy returns a deep copy with the hash cache dropped.
func (h *Header) Copy() *Header {
	cpy := *h
	cpy.hash = atomic.Pointer[common.Hash]{}
	if h.Difficulty != nil {
		cpy.Difficulty = new(big.Int).Set(h.Difficulty)
	}
	if h.Number != nil {
		cpy.Number = new(big.Int).Set(h.Number)
	}
	if h.BaseFee != nil {
		cpy.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	cpy.Extra = common.CopyBytes(h.Extra)
	if h.WithdrawalsHash != nil {
		cpy.WithdrawalsHash = new(common.Hash)
		*cpy.WithdrawalsHash = *h.WithdrawalsHash
	}
	if h.BlobGasUsed != nil {
		v := *h.BlobGasUsed
		cpy.BlobGasUsed = &v
	}
	if h.ExcessBlobGas != nil {
		v := *h.ExcessBlobGas
		cpy.ExcessBlobGas = &v
	}
	if h.ParentBeaconBlockRoot != nil {
		cpy.ParentBeaconBlockRoot = new(common.Hash)
		*cpy.ParentBeaconBlockRoot = *h.ParentBeaconBlockRoot
	}
	return &cpy
}

func (h *Header) MarshalRLP() []byte {
	var buf bytes.Buffer
	if err := h.EncodeRLP(&buf); err != nil {
		panic(fmt.Errorf("header encoding must not fail: %w", err))
	}
	return buf.Bytes()
}
