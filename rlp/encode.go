// Package rlp implements the canonical RLP serialization used on the Ethereum
// wire and in block hashing.
//
// Encoding is buffer-free at the call site: each Encode* writes to an
// io.Writer using a small caller-provided scratch buffer b (at least 33 bytes).
// Size helpers are pure and cheap, so encoders call them twice: once to size
// the enclosing list, once while writing.
package rlp

import (
	"io"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/common"
)

const (
	EmptyStringCode = 0x80
	EmptyListCode   = 0xC0
)

// ListPrefixLen returns the length of the list prefix for a payload of dataLen bytes.
func ListPrefixLen(dataLen int) int {
	if dataLen >= 56 {
		return 1 + (bits.Len64(uint64(dataLen))+7)/8
	}
	return 1
}

// StringLen returns the full encoded length of s: prefix plus payload.
func StringLen(s []byte) int {
	switch {
	case len(s) >= 56:
		beLen := (bits.Len(uint(len(s))) + 7) / 8
		return 1 + beLen + len(s)
	case len(s) == 0:
		return 1
	case len(s) == 1:
		if s[0] >= 0x80 {
			return 2
		}
		return 1
	default: // 1 < len(s) < 56
		return 1 + len(s)
	}
}

// IntLenExcludingHead returns the payload length of i, excluding the one-byte head.
func IntLenExcludingHead(i uint64) int {
	if i < 0x80 {
		return 0
	}
	return (bits.Len64(i) + 7) / 8
}

func Uint256LenExcludingHead(i *uint256.Int) int {
	if i.LtUint64(0x80) {
		return 0
	}
	return (i.BitLen() + 7) / 8
}

func encodeSizePrefix(size int, base byte, w io.Writer, b []byte) error {
	if size >= 56 {
		beLen := (bits.Len64(uint64(size)) + 7) / 8
		b[0] = base + 55 + byte(beLen)
		for i := 1; i <= beLen; i++ {
			b[i] = byte(size >> (8 * (beLen - i)))
		}
		_, err := w.Write(b[:1+beLen])
		return err
	}
	b[0] = base + byte(size)
	_, err := w.Write(b[:1])
	return err
}

// EncodeStructSizePrefix writes the list prefix for a payload of size bytes.
func EncodeStructSizePrefix(size int, w io.Writer, b []byte) error {
	return encodeSizePrefix(size, 0xC0, w, b)
}

// EncodeStringSizePrefix writes the string prefix for a payload of size bytes.
// Used for the byte-string wrapping of typed transactions inside block bodies.
func EncodeStringSizePrefix(size int, w io.Writer, b []byte) error {
	return encodeSizePrefix(size, 0x80, w, b)
}

// EncodeInt writes the canonical encoding of i.
func EncodeInt(i uint64, w io.Writer, b []byte) error {
	if i == 0 {
		b[0] = EmptyStringCode
		_, err := w.Write(b[:1])
		return err
	}
	if i < 0x80 {
		b[0] = byte(i)
		_, err := w.Write(b[:1])
		return err
	}
	beLen := (bits.Len64(i) + 7) / 8
	b[0] = EmptyStringCode + byte(beLen)
	for j := 1; j <= beLen; j++ {
		b[j] = byte(i >> (8 * (beLen - j)))
	}
	_, err := w.Write(b[:1+beLen])
	return err
}

// EncodeUint256 writes the canonical big-endian encoding of z with no leading zeroes.
func EncodeUint256(z *uint256.Int, w io.Writer, b []byte) error {
	if z.LtUint64(0x80) {
		if z.IsZero() {
			b[0] = EmptyStringCode
		} else {
			b[0] = byte(z.Uint64())
		}
		_, err := w.Write(b[:1])
		return err
	}
	beLen := (z.BitLen() + 7) / 8
	b[0] = EmptyStringCode + byte(beLen)
	z.WriteToSlice(b[1 : 1+beLen])
	_, err := w.Write(b[:1+beLen])
	return err
}

// EncodeString writes a byte string with its prefix.
func EncodeString(s []byte, w io.Writer, b []byte) error {
	if len(s) == 1 && s[0] < 0x80 {
		b[0] = s[0]
		_, err := w.Write(b[:1])
		return err
	}
	if err := EncodeStringSizePrefix(len(s), w, b); err != nil {
		return err
	}
	_, err := w.Write(s)
	return err
}

// EncodeOptionalAddress writes a 20-byte address, or the empty string if a is nil.
func EncodeOptionalAddress(a *common.Address, w io.Writer, b []byte) error {
	if a == nil {
		b[0] = EmptyStringCode
	} else {
		b[0] = EmptyStringCode + 20
	}
	if _, err := w.Write(b[:1]); err != nil {
		return err
	}
	if a != nil {
		if _, err := w.Write(a[:]); err != nil {
			return err
		}
	}
	return nil
}

// EncodeHash writes a fixed 32-byte string.
func EncodeHash(h *common.Hash, w io.Writer, b []byte) error {
	b[0] = EmptyStringCode + 32
	if _, err := w.Write(b[:1]); err != nil {
		return err
	}
	_, err := w.Write(h[:])
	return err
}
