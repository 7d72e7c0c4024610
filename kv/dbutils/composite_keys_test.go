package dbutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/common"
)

func TestHeaderKey(t *testing.T) {
	hash := common.HexToHash("0xaaff00000000000000000000000000000000000000000000000000000000ccdd")
	k := HeaderKey(123456, hash)
	require.Len(t, k, 40)
	num, err := DecodeBlockNumber(k[:8])
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), num)
	assert.Equal(t, hash[:], k[8:])

	_, err = DecodeBlockNumber(k)
	require.Error(t, err)
}

func TestPlainStorageKeys(t *testing.T) {
	addr := common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7")
	loc := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000003")

	prefix := PlainGenerateStoragePrefix(addr[:], 2)
	require.Len(t, prefix, 28)
	gotAddr, inc := PlainParseStoragePrefix(prefix)
	assert.Equal(t, addr, gotAddr)
	assert.Equal(t, uint64(2), inc)

	composite := PlainGenerateCompositeStorageKey(addr[:], 2, loc[:])
	require.Len(t, composite, 60)
	gotAddr, inc, gotLoc := PlainParseCompositeStorageKey(composite)
	assert.Equal(t, addr, gotAddr)
	assert.Equal(t, uint64(2), inc)
	assert.Equal(t, loc, gotLoc)
}

func TestHashedStorageKeys(t *testing.T) {
	addrHash := common.HexToHash("0x11deadbeef000000000000000000000000000000000000000000000000000022")
	locHash := common.HexToHash("0x33deadbeef000000000000000000000000000000000000000000000000000044")

	prefix := GenerateStoragePrefix(addrHash[:], 7)
	require.Len(t, prefix, 40)
	gotHash, inc := ParseStoragePrefix(prefix)
	assert.Equal(t, addrHash, gotHash)
	assert.Equal(t, uint64(7), inc)

	composite := GenerateCompositeStorageKey(addrHash, 7, locHash)
	require.Len(t, composite, 72)
	gotHash, inc, gotLoc := ParseCompositeStorageKey(composite)
	assert.Equal(t, addrHash, gotHash)
	assert.Equal(t, uint64(7), inc)
	assert.Equal(t, locHash, gotLoc)
}

func TestNextNibblesSubtree(t *testing.T) {
	var out []byte
	require.True(t, NextNibblesSubtree([]byte{1, 2, 3}, &out))
	assert.Equal(t, []byte{1, 2, 4}, out)

	require.True(t, NextNibblesSubtree([]byte{1, 2, 0x0f}, &out))
	assert.Equal(t, []byte{1, 3}, out)

	require.True(t, NextNibblesSubtree([]byte{1, 0x0f, 0x0f}, &out))
	assert.Equal(t, []byte{2}, out)

	require.False(t, NextNibblesSubtree([]byte{0x0f, 0x0f}, &out))
	require.False(t, NextNibblesSubtree([]byte{}, &out))
}
