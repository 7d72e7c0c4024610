package rlp

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/common"
)

// Decoding error taxonomy. Decoders return these wrapped with field context.
var (
	ErrOverflow           = errors.New("rlp: uint overflow")
	ErrLeadingZero        = errors.New("rlp: leading zero in number")
	ErrInputTooShort      = errors.New("rlp: input too short")
	ErrNonCanonicalSize   = errors.New("rlp: non-canonical size prefix")
	ErrUnexpectedLength   = errors.New("rlp: unexpected payload length")
	ErrUnexpectedString   = errors.New("rlp: expected a list, got a string")
	ErrUnexpectedList     = errors.New("rlp: expected a string, got a list")
	ErrListLengthMismatch = errors.New("rlp: list length mismatch")
)

// Prefix parses the prefix at payload[pos:] and returns the position of the
// payload data, its length, and whether it is a list.
func Prefix(payload []byte, pos int) (dataPos, dataLen int, isList bool, err error) {
	if pos >= len(payload) {
		return 0, 0, false, ErrInputTooShort
	}
	switch first := payload[pos]; {
	case first < 0x80:
		return pos, 1, false, nil
	case first < 0xB8:
		return pos + 1, int(first - 0x80), false, nil
	case first < 0xC0:
		beLen := int(first - 0xB7)
		dataPos = pos + 1 + beLen
		dataLen, err = beLength(payload, pos+1, beLen)
		return dataPos, dataLen, false, err
	case first < 0xF8:
		return pos + 1, int(first - 0xC0), true, nil
	default:
		beLen := int(first - 0xF7)
		dataPos = pos + 1 + beLen
		dataLen, err = beLength(payload, pos+1, beLen)
		return dataPos, dataLen, true, err
	}
}

func beLength(payload []byte, pos, beLen int) (int, error) {
	if pos+beLen > len(payload) {
		return 0, ErrInputTooShort
	}
	if beLen > 8 {
		return 0, ErrOverflow
	}
	if payload[pos] == 0 {
		return 0, ErrLeadingZero
	}
	var l uint64
	for i := 0; i < beLen; i++ {
		l = l<<8 | uint64(payload[pos+i])
	}
	if l < 56 {
		return 0, ErrNonCanonicalSize
	}
	if l > uint64(len(payload)) {
		return 0, ErrInputTooShort
	}
	return int(l), nil
}

// List expects a list prefix at pos and returns its payload bounds.
func List(payload []byte, pos int) (dataPos, dataLen int, err error) {
	dataPos, dataLen, isList, err := Prefix(payload, pos)
	if err != nil {
		return 0, 0, err
	}
	if !isList {
		return 0, 0, ErrUnexpectedString
	}
	if dataPos+dataLen > len(payload) {
		return 0, 0, ErrInputTooShort
	}
	return dataPos, dataLen, nil
}

// String expects a string prefix at pos and returns its payload bounds.
func String(payload []byte, pos int) (dataPos, dataLen int, err error) {
	dataPos, dataLen, isList, err := Prefix(payload, pos)
	if err != nil {
		return 0, 0, err
	}
	if isList {
		return 0, 0, ErrUnexpectedList
	}
	if dataPos+dataLen > len(payload) {
		return 0, 0, ErrInputTooShort
	}
	if dataLen == 1 && payload[dataPos] < 0x80 && dataPos != pos {
		return 0, 0, ErrNonCanonicalSize
	}
	return dataPos, dataLen, nil
}

// StringOfLen expects a string of exactly expectedLen bytes.
func StringOfLen(payload []byte, pos, expectedLen int) (dataPos int, err error) {
	dataPos, dataLen, err := String(payload, pos)
	if err != nil {
		return 0, err
	}
	if dataLen != expectedLen {
		return 0, ErrUnexpectedLength
	}
	return dataPos, nil
}

// U64 parses a canonical unsigned integer at pos.
func U64(payload []byte, pos int) (newPos int, v uint64, err error) {
	dataPos, dataLen, err := String(payload, pos)
	if err != nil {
		return 0, 0, err
	}
	if dataLen > 8 {
		return 0, 0, ErrOverflow
	}
	if dataLen > 0 && payload[dataPos] == 0 {
		return 0, 0, ErrLeadingZero
	}
	for i := 0; i < dataLen; i++ {
		v = v<<8 | uint64(payload[dataPos+i])
	}
	return dataPos + dataLen, v, nil
}

// U256 parses a canonical unsigned 256-bit integer at pos into z.
func U256(payload []byte, pos int, z *uint256.Int) (newPos int, err error) {
	dataPos, dataLen, err := String(payload, pos)
	if err != nil {
		return 0, err
	}
	if dataLen > 32 {
		return 0, ErrOverflow
	}
	if dataLen > 0 && payload[dataPos] == 0 {
		return 0, ErrLeadingZero
	}
	z.SetBytes(payload[dataPos : dataPos+dataLen])
	return dataPos + dataLen, nil
}

// ParseHash parses a 32-byte string into hashBuf.
func ParseHash(payload []byte, pos int, hashBuf []byte) (newPos int, err error) {
	dataPos, err := StringOfLen(payload, pos, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: hash len", err)
	}
	copy(hashBuf, payload[dataPos:dataPos+32])
	return dataPos + 32, nil
}

// ParseAddress parses a 20-byte string into addrBuf.
func ParseAddress(payload []byte, pos int, addrBuf []byte) (newPos int, err error) {
	dataPos, err := StringOfLen(payload, pos, 20)
	if err != nil {
		return 0, fmt.Errorf("%w: address len", err)
	}
	copy(addrBuf, payload[dataPos:dataPos+20])
	return dataPos + 20, nil
}

// ParseOptionalAddress parses either an empty string (nil) or a 20-byte address.
func ParseOptionalAddress(payload []byte, pos int) (newPos int, addr *common.Address, err error) {
	dataPos, dataLen, err := String(payload, pos)
	if err != nil {
		return 0, nil, err
	}
	if dataLen == 0 {
		return dataPos, nil, nil
	}
	if dataLen != 20 {
		return 0, nil, ErrUnexpectedLength
	}
	addr = &common.Address{}
	copy(addr[:], payload[dataPos:dataPos+20])
	return dataPos + 20, addr, nil
}

// ParseString copies the string payload at pos.
func ParseString(payload []byte, pos int) (newPos int, s []byte, err error) {
	dataPos, dataLen, err := String(payload, pos)
	if err != nil {
		return 0, nil, err
	}
	return dataPos + dataLen, common.CopyBytes(payload[dataPos : dataPos+dataLen]), nil
}
