package accounts

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/common"
)

func TestEmptyAccount(t *testing.T) {
	a := NewAccount()
	encoded := a.EncodeForStorageBytes()
	require.Len(t, encoded, 1) // just the fieldset byte

	var decoded Account
	require.NoError(t, decoded.DecodeForStorage(encoded))
	assert.True(t, decoded.Initialised)
	assert.Equal(t, uint64(0), decoded.Nonce)
	assert.True(t, decoded.Balance.IsZero())
	assert.True(t, decoded.IsEmptyCodeHash())
	assert.True(t, decoded.IsEmptyRoot())
}

func TestAccountEncodeWithCodeWithStorageSizeHack(t *testing.T) {
	a := NewAccount()
	a.Nonce = 2
	a.Balance.SetUint64(1000)
	a.CodeHash = common.HexToHash("0x0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f")
	a.Incarnation = 4

	encoded := make([]byte, a.EncodingLengthForStorage())
	a.EncodeForStorage(encoded)

	var decoded Account
	require.NoError(t, decoded.DecodeForStorage(encoded))
	isAccountsEqual(t, a, decoded)
}

func TestAccountEncodeWithoutCode(t *testing.T) {
	a := NewAccount()
	a.Nonce = 2
	a.Balance.SetUint64(1000)
	a.Incarnation = 5

	encoded := make([]byte, a.EncodingLengthForStorage())
	a.EncodeForStorage(encoded)

	var decoded Account
	require.NoError(t, decoded.DecodeForStorage(encoded))
	isAccountsEqual(t, a, decoded)
}

func TestEncodeAccountWithEmptyBalanceNonNilContractAndNotZeroIncarnation(t *testing.T) {
	a := NewAccount()
	a.CodeHash = common.HexToHash("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef")
	a.Incarnation = 1

	encoded := make([]byte, a.EncodingLengthForStorage())
	a.EncodeForStorage(encoded)

	var decoded Account
	require.NoError(t, decoded.DecodeForStorage(encoded))
	isAccountsEqual(t, a, decoded)
}

func TestAccountLargeBalance(t *testing.T) {
	a := NewAccount()
	a.Balance = *uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	a.Nonce = ^uint64(0) - 1

	encoded := a.EncodeForStorageBytes()
	var decoded Account
	require.NoError(t, decoded.DecodeForStorage(encoded))
	isAccountsEqual(t, a, decoded)
}

func TestDecodeEmptyValue(t *testing.T) {
	var a Account
	require.NoError(t, a.DecodeForStorage(nil))
	assert.False(t, a.Initialised)
}

func TestEncodeForHashing(t *testing.T) {
	a := NewAccount()
	a.Nonce = 1
	a.Balance.SetUint64(0x56bc75e2d63100000) // 100 ether

	buf := make([]byte, a.EncodingLengthForHashing())
	a.EncodeForHashing(buf)

	// [nonce, balance, emptyRoot, emptyCodeHash]
	require.Equal(t, byte(0xf8), buf[0]) // long list
	assert.Equal(t, byte(0x01), buf[2])  // nonce as single byte

	// zero account: fixed shape
	b := NewAccount()
	buf2 := make([]byte, b.EncodingLengthForHashing())
	b.EncodeForHashing(buf2)
	require.Equal(t, 70, len(buf2))
	assert.Equal(t, byte(0x80), buf2[2]) // empty nonce
	assert.Equal(t, byte(0x80), buf2[3]) // empty balance
	assert.Equal(t, byte(0x80+32), buf2[4]) // storage root prefix
}

func isAccountsEqual(t *testing.T, expected, actual Account) {
	t.Helper()
	assert.Equal(t, expected.Nonce, actual.Nonce)
	assert.True(t, expected.Balance.Eq(&actual.Balance), "balance")
	assert.Equal(t, expected.CodeHash, actual.CodeHash)
	assert.Equal(t, expected.Incarnation, actual.Incarnation)
}
