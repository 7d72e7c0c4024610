package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/memdb"
	"github.com/erigontech/execution/types/accounts"
)

var addr1 = common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7")
var addr2 = common.HexToAddress("0x8888f1F195AFa192CfeE860698584c030f4c9dB1")

func TestIntraBlockStateBalanceAndNonce(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	ibs := New(NewPlainStateReader(tx))

	require.NoError(t, ibs.AddBalance(addr1, uint256.NewInt(1000)))
	require.NoError(t, ibs.SetNonce(addr1, 3))

	balance, err := ibs.GetBalance(addr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), balance.Uint64())

	nonce, err := ibs.GetNonce(addr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nonce)

	// flush and read back through the plain state
	writer := NewPlainStateWriter(tx, 1)
	require.NoError(t, ibs.CommitBlock(true, writer))

	acc, err := NewPlainStateReader(tx).ReadAccountData(addr1)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, uint64(1000), acc.Balance.Uint64())
	assert.Equal(t, uint64(3), acc.Nonce)
}

func TestSnapshotRevert(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	ibs := New(NewPlainStateReader(tx))

	require.NoError(t, ibs.AddBalance(addr1, uint256.NewInt(100)))
	snapshot := ibs.Snapshot()
	require.NoError(t, ibs.AddBalance(addr1, uint256.NewInt(50)))
	require.NoError(t, ibs.SetNonce(addr1, 9))

	ibs.RevertToSnapshot(snapshot)

	balance, err := ibs.GetBalance(addr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance.Uint64())
	nonce, err := ibs.GetNonce(addr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}

func TestStorageWriteAndChangeSets(t *testing.T) {
	_, tx := memdb.NewTestTx(t)

	// seed an account with a slot at block 1
	ibs := New(NewPlainStateReader(tx))
	require.NoError(t, ibs.AddBalance(addr1, uint256.NewInt(1)))
	require.NoError(t, ibs.CreateAccount(addr2, true))
	// contract creation sets nonce 1 (EIP-161), so addr2 is not cleared as empty
	require.NoError(t, ibs.SetNonce(addr2, 1))
	loc := common.HexToHash("0x01")
	require.NoError(t, ibs.SetState(addr2, loc, *uint256.NewInt(42)))
	require.NoError(t, ibs.CommitBlock(true, NewPlainStateWriter(tx, 1)))

	inc, err := ibs.GetIncarnation(addr2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), inc)

	v, err := NewPlainStateReader(tx).ReadAccountStorage(addr2, 1, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, v)

	// overwrite at block 2: the change set records the prior value
	ibs2 := New(NewPlainStateReader(tx))
	require.NoError(t, ibs2.SetState(addr2, loc, *uint256.NewInt(7)))
	require.NoError(t, ibs2.CommitBlock(true, NewPlainStateWriter(tx, 2)))

	v, err = NewPlainStateReader(tx).ReadAccountStorage(addr2, 1, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, v)

	found := false
	require.NoError(t, WalkStorageChangeSet(tx, 2, func(blockN uint64, address common.Address, incarnation uint64, location common.Hash, original []byte) error {
		if blockN == 2 && address == addr2 && location == loc {
			found = true
			assert.Equal(t, []byte{42}, original)
		}
		return nil
	}))
	assert.True(t, found)

	// account change sets of block 1 record creation (empty original)
	creations := 0
	require.NoError(t, WalkAccountChangeSet(tx, 1, func(blockN uint64, address common.Address, original []byte) error {
		if blockN == 1 {
			assert.Empty(t, original)
			creations++
		}
		return nil
	}))
	assert.Equal(t, 2, creations)
}

func TestDeleteAccountRemovesStorage(t *testing.T) {
	_, tx := memdb.NewTestTx(t)

	acc := accounts.NewAccount()
	acc.Incarnation = 1
	acc.Balance.SetUint64(5)
	writer := NewPlainStateWriterNoHistory(tx)
	require.NoError(t, writer.UpdateAccountData(addr1, nil, &acc))
	require.NoError(t, writer.WriteAccountStorage(addr1, 1, common.HexToHash("0x01"), new(uint256.Int), uint256.NewInt(9)))

	delWriter := NewPlainStateWriter(tx, 3)
	require.NoError(t, delWriter.DeleteAccount(addr1, &acc))

	reader := NewPlainStateReader(tx)
	got, err := reader.ReadAccountData(addr1)
	require.NoError(t, err)
	assert.Nil(t, got)

	v, err := reader.ReadAccountStorage(addr1, 1, common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Nil(t, v)

	// the incarnation survives for the next re-creation
	inc, err := reader.ReadAccountIncarnation(addr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), inc)
}

func TestTruncateChangeSets(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	for block := uint64(1); block <= 5; block++ {
		w := NewPlainStateWriter(tx, block)
		acc := accounts.NewAccount()
		acc.Balance.SetUint64(block)
		require.NoError(t, w.UpdateAccountData(addr1, nil, &acc))
	}
	require.NoError(t, TruncateChangeSets(tx, kv.AccountChangeSet, 3))

	max := uint64(0)
	require.NoError(t, WalkAccountChangeSet(tx, 0, func(blockN uint64, _ common.Address, _ []byte) error {
		if blockN > max {
			max = blockN
		}
		return nil
	}))
	assert.Equal(t, uint64(2), max)
}
