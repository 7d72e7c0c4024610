package rlp

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU64(t *testing.T) {
	var buf bytes.Buffer
	var b [9]byte
	for _, v := range []uint64{0, 1, 0x7f, 0x80, 0xff, 0x100, 0xffff, 1 << 40, ^uint64(0)} {
		buf.Reset()
		require.NoError(t, EncodeInt(v, &buf, b[:]))
		pos, got, err := U64(buf.Bytes(), 0)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, buf.Len(), pos)
	}
}

func TestU256(t *testing.T) {
	var buf bytes.Buffer
	var b [33]byte
	values := []*uint256.Int{
		uint256.NewInt(0),
		uint256.NewInt(127),
		uint256.NewInt(128),
		uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	}
	for _, v := range values {
		buf.Reset()
		require.NoError(t, EncodeUint256(v, &buf, b[:]))
		var got uint256.Int
		pos, err := U256(buf.Bytes(), 0, &got)
		require.NoError(t, err)
		assert.True(t, v.Eq(&got))
		assert.Equal(t, buf.Len(), pos)
	}
}

func TestDecodingErrors(t *testing.T) {
	// input too short
	_, _, _, err := Prefix(nil, 0)
	require.ErrorIs(t, err, ErrInputTooShort)

	_, _, _, err = Prefix([]byte{0xb9, 0x01}, 0) // 2-byte length, 1 present
	require.ErrorIs(t, err, ErrInputTooShort)

	// leading zero in a long length
	_, _, _, err = Prefix([]byte{0xb9, 0x00, 0x40}, 0)
	require.ErrorIs(t, err, ErrLeadingZero)

	// non-canonical: long form used for a short payload
	_, _, _, err = Prefix(append([]byte{0xb8, 0x01}, make([]byte, 1)...), 0)
	require.ErrorIs(t, err, ErrNonCanonicalSize)

	// non-canonical single byte: 0x81 wrapping a byte < 0x80
	_, _, err2 := String([]byte{0x81, 0x05}, 0)
	require.ErrorIs(t, err2, ErrNonCanonicalSize)

	// a list where a string is expected
	_, _, err2 = String([]byte{0xc0}, 0)
	require.ErrorIs(t, err2, ErrUnexpectedList)

	// a string where a list is expected
	_, _, err2 = List([]byte{0x80}, 0)
	require.ErrorIs(t, err2, ErrUnexpectedString)

	// u64 overflow
	payload := append([]byte{0x89}, bytes.Repeat([]byte{0xff}, 9)...)
	_, _, err = U64(payload, 0)
	require.ErrorIs(t, err, ErrOverflow)

	// leading zero in number
	_, _, err = U64([]byte{0x82, 0x00, 0x01}, 0)
	require.ErrorIs(t, err, ErrLeadingZero)
}

func TestStringLen(t *testing.T) {
	var buf bytes.Buffer
	var b [9]byte
	for _, s := range [][]byte{nil, {0x01}, {0x80}, bytes.Repeat([]byte{1}, 55), bytes.Repeat([]byte{1}, 56), bytes.Repeat([]byte{1}, 300)} {
		buf.Reset()
		require.NoError(t, EncodeString(s, &buf, b[:]))
		assert.Equal(t, StringLen(s), buf.Len(), "len %d", len(s))

		pos, got, err := ParseString(buf.Bytes(), 0)
		require.NoError(t, err)
		assert.Equal(t, buf.Len(), pos)
		if len(s) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, s, got)
		}
	}
}

func TestListRoundTrip(t *testing.T) {
	// [ "cat", "dog" ]
	var payload bytes.Buffer
	var b [9]byte
	require.NoError(t, EncodeString([]byte("cat"), &payload, b[:]))
	require.NoError(t, EncodeString([]byte("dog"), &payload, b[:]))

	var buf bytes.Buffer
	require.NoError(t, EncodeStructSizePrefix(payload.Len(), &buf, b[:]))
	buf.Write(payload.Bytes())

	assert.Equal(t, []byte{0xc8, 0x83, 'c', 'a', 't', 0x83, 'd', 'o', 'g'}, buf.Bytes())

	dataPos, dataLen, err := List(buf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, dataPos)
	assert.Equal(t, 8, dataLen)
}
