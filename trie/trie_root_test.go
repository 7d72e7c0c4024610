package trie_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/etl"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/kv/memdb"
	"github.com/erigontech/execution/trie"
	"github.com/erigontech/execution/types"
	"github.com/erigontech/execution/types/accounts"
)

func seedAccount(i uint64) accounts.Account {
	acc := accounts.NewAccount()
	acc.Nonce = i % 17
	acc.Balance.SetUint64(i*1_000_000_007 + 1)
	return acc
}

// writeHashedAccounts generates n deterministic accounts in HashedAccounts and
// returns the naive trie root computed by an independent in-memory
// implementation.
func writeHashedAccounts(t *testing.T, tx kv.RwTx, n uint64) common.Hash {
	t.Helper()
	keys := make([][]byte, 0, n)
	values := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		addrHash := crypto.Keccak256(binary.BigEndian.AppendUint64(nil, i))
		acc := seedAccount(i)
		require.NoError(t, tx.Put(kv.HashedAccounts, addrHash, acc.EncodeForStorageBytes()))

		enc := make([]byte, acc.EncodingLengthForHashing())
		acc.EncodeForHashing(enc)
		keys = append(keys, addrHash)
		values = append(values, enc)
	}
	return types.TrieRoot(keys, values)
}

func TestEmptyStateRoot(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	root, err := trie.CalcRoot("test", tx)
	require.NoError(t, err)
	assert.Equal(t, trie.EmptyRoot, root)
}

// The flat-DB loader and the naive recursive trie are independent
// implementations; on the same state they must agree.
func TestCalcTrieRootAgainstNaive(t *testing.T) {
	for _, n := range []uint64{1, 2, 3, 10, 100, 1000} {
		t.Run(fmt.Sprintf("accounts_%d", n), func(t *testing.T) {
			_, tx := memdb.NewTestTx(t)
			expected := writeHashedAccounts(t, tx, n)
			root, err := trie.CalcRoot("test", tx)
			require.NoError(t, err)
			assert.Equal(t, expected, root)
		})
	}
}

func TestCalcTrieRootWithStorage(t *testing.T) {
	_, tx := memdb.NewTestTx(t)

	// regular accounts
	accKeys := make([][]byte, 0, 20)
	accValues := make([][]byte, 0, 20)
	for i := uint64(0); i < 19; i++ {
		addrHash := crypto.Keccak256(binary.BigEndian.AppendUint64(nil, i))
		acc := seedAccount(i)
		require.NoError(t, tx.Put(kv.HashedAccounts, addrHash, acc.EncodeForStorageBytes()))
		enc := make([]byte, acc.EncodingLengthForHashing())
		acc.EncodeForHashing(enc)
		accKeys = append(accKeys, addrHash)
		accValues = append(accValues, enc)
	}

	// one contract with storage
	contractAddrHash := crypto.Keccak256([]byte("contract"))
	contract := accounts.NewAccount()
	contract.Incarnation = 1
	contract.CodeHash = crypto.Keccak256Hash([]byte("contract code"))
	contract.Balance.SetUint64(1)

	storageKeys := make([][]byte, 0, 10)
	storageValues := make([][]byte, 0, 10)
	storagePrefix := dbutils.GenerateStoragePrefix(contractAddrHash, contract.Incarnation)
	for i := uint64(1); i <= 10; i++ {
		locHash := crypto.Keccak256(binary.BigEndian.AppendUint64(nil, i))
		value := uint256.NewInt(i * 31)
		vBytes := value.Bytes()

		dup := make([]byte, 32+len(vBytes))
		copy(dup, locHash)
		copy(dup[32:], vBytes)
		require.NoError(t, tx.Put(kv.HashedStorage, storagePrefix, dup))

		rlpValue := append([]byte{byte(0x80 + len(vBytes))}, vBytes...)
		if len(vBytes) == 1 && vBytes[0] < 0x80 {
			rlpValue = vBytes
		}
		storageKeys = append(storageKeys, locHash)
		storageValues = append(storageValues, rlpValue)
	}
	contract.Root = types.TrieRoot(storageKeys, storageValues)
	require.NoError(t, tx.Put(kv.HashedAccounts, contractAddrHash, contract.EncodeForStorageBytes()))

	enc := make([]byte, contract.EncodingLengthForHashing())
	contract.EncodeForHashing(enc)
	accKeys = append(accKeys, contractAddrHash)
	accValues = append(accValues, enc)
	expected := types.TrieRoot(accKeys, accValues)

	root, err := trie.CalcRoot("test", tx)
	require.NoError(t, err)
	assert.Equal(t, expected, root)
}

func collectorsFor(t *testing.T, logger log.Logger) (*etl.Collector, *etl.Collector, trie.HashCollector2, trie.StorageHashCollector2) {
	t.Helper()
	accCollector := etl.NewCollector("test", t.TempDir(), etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	t.Cleanup(accCollector.Close)
	stCollector := etl.NewCollector("test", t.TempDir(), etl.NewSortableBuffer(etl.BufferOptimalSize), logger)
	t.Cleanup(stCollector.Close)

	hc := func(keyHex []byte, hasState, hasTree, hasHash uint16, hashes, _ []byte) error {
		if len(keyHex) == 0 {
			return nil
		}
		if hasState == 0 {
			return accCollector.Collect(keyHex, nil)
		}
		return accCollector.Collect(keyHex, trie.MarshalTrieNode(hasState, hasTree, hasHash, hashes, make([]byte, 6+len(hashes))))
	}
	shc := func(accWithInc []byte, keyHex []byte, hasState, hasTree, hasHash uint16, hashes, _ []byte) error {
		newK := append(append([]byte{}, accWithInc...), keyHex...)
		if hasState == 0 {
			return stCollector.Collect(newK, nil)
		}
		return stCollector.Collect(newK, trie.MarshalTrieNode(hasState, hasTree, hasHash, hashes, make([]byte, 6+len(hashes))))
	}
	return accCollector, stCollector, hc, shc
}

// Incremental runs over cached intermediate nodes must produce the same root
// as a fresh full traversal.
func TestIncrementalMatchesRegeneration(t *testing.T) {
	logger := log.New()
	_, tx := memdb.NewTestTx(t)

	n := uint64(500)
	writeHashedAccounts(t, tx, n)

	// full generation, persisting intermediate nodes
	accCollector, stCollector, hc, shc := collectorsFor(t, logger)
	loader := trie.NewFlatDBTrieLoader("test", trie.NewRetainList(0), hc, shc, false)
	root1, err := loader.CalcTrieRoot(tx, nil)
	require.NoError(t, err)
	require.NoError(t, accCollector.Load(tx, kv.TrieOfAccounts, etl.IdentityLoadFunc, etl.TransformArgs{}))
	require.NoError(t, stCollector.Load(tx, kv.TrieOfStorage, etl.IdentityLoadFunc, etl.TransformArgs{}))

	// sanity: intermediate nodes were produced
	count := 0
	require.NoError(t, tx.ForEach(kv.TrieOfAccounts, nil, func(k, v []byte) error {
		count++
		return nil
	}))
	require.NotZero(t, count)

	// mutate a few accounts
	changed := make([][]byte, 0, 3)
	for _, i := range []uint64{5, 77, 333} {
		addrHash := crypto.Keccak256(binary.BigEndian.AppendUint64(nil, i))
		acc := seedAccount(i)
		acc.Balance.SetUint64(999_999_999_999)
		require.NoError(t, tx.Put(kv.HashedAccounts, addrHash, acc.EncodeForStorageBytes()))
		changed = append(changed, addrHash)
	}
	// and create a brand new account
	newAddrHash := crypto.Keccak256([]byte("new account"))
	newAcc := seedAccount(1234)
	require.NoError(t, tx.Put(kv.HashedAccounts, newAddrHash, newAcc.EncodeForStorageBytes()))

	// incremental: walk only the changed prefixes
	rl := trie.NewRetainList(0)
	for _, key := range changed {
		rl.AddKeyWithMarker(key, false)
	}
	rl.AddKeyWithMarker(newAddrHash, true)

	accCollector2, stCollector2, hc2, shc2 := collectorsFor(t, logger)
	incLoader := trie.NewFlatDBTrieLoader("test", rl, hc2, shc2, false)
	incRoot, err := incLoader.CalcTrieRoot(tx, nil)
	require.NoError(t, err)
	require.NoError(t, accCollector2.Load(tx, kv.TrieOfAccounts, etl.IdentityLoadFunc, etl.TransformArgs{}))
	require.NoError(t, stCollector2.Load(tx, kv.TrieOfStorage, etl.IdentityLoadFunc, etl.TransformArgs{}))

	// reference: naive recomputation over the whole mutated state, blind to
	// any cached intermediate nodes
	var naiveKeys, naiveValues [][]byte
	require.NoError(t, tx.ForEach(kv.HashedAccounts, nil, func(k, v []byte) error {
		var acc accounts.Account
		if err := acc.DecodeForStorage(v); err != nil {
			return err
		}
		enc := make([]byte, acc.EncodingLengthForHashing())
		acc.EncodeForHashing(enc)
		naiveKeys = append(naiveKeys, append([]byte{}, k...))
		naiveValues = append(naiveValues, enc)
		return nil
	}))
	fullRoot := types.TrieRoot(naiveKeys, naiveValues)
	assert.Equal(t, fullRoot, incRoot, "retain list: %s", spew.Sdump(rl.String()))

	require.NotEqual(t, root1, incRoot)

	// a second incremental run with an empty prefix set re-uses the cache and
	// agrees again
	rl2 := trie.NewRetainList(0)
	cachedLoader := trie.NewFlatDBTrieLoader("test", rl2, nil, nil, false)
	cachedRoot, err := cachedLoader.CalcTrieRoot(tx, nil)
	require.NoError(t, err)
	assert.Equal(t, fullRoot, cachedRoot)
}

func TestRetainList(t *testing.T) {
	rl := trie.NewRetainList(0)
	rl.AddKey(common.FromHex("0xabcd11"))
	rl.AddKey(common.FromHex("0xabcd22"))

	assert.True(t, rl.Retain([]byte{}))
	assert.True(t, rl.Retain([]byte{0x0a}))
	assert.True(t, rl.Retain([]byte{0x0a, 0x0b}))
	assert.True(t, rl.Retain([]byte{0x0a, 0x0b, 0x0c, 0x0d, 0x01, 0x01}))
	assert.False(t, rl.Retain([]byte{0x0a, 0x0b, 0x0c, 0x0d, 0x03}))
	assert.False(t, rl.Retain([]byte{0x0b}))
}

func TestMarshalTrieNodeRoundTrip(t *testing.T) {
	hashes := make([]byte, 64)
	for i := range hashes {
		hashes[i] = byte(i)
	}
	buf := trie.MarshalTrieNode(0xffff, 0x0101, 0x0011, hashes, make([]byte, 6+len(hashes)))
	hasState, hasTree, hasHash, gotHashes, err := trie.UnmarshalTrieNode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xffff), hasState)
	assert.Equal(t, uint16(0x0101), hasTree)
	assert.Equal(t, uint16(0x0011), hasHash)
	assert.Equal(t, hashes, gotHashes)
}
