package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/memdb"
)

func TestPutGetCommit(t *testing.T) {
	db := memdb.NewTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Put(kv.HeaderNumbers, []byte("key1"), []byte("value1"))
	}))

	// a committed write is visible to the next reader
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.GetOne(kv.HeaderNumbers, []byte("key1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("value1"), v)

		has, err := tx.Has(kv.HeaderNumbers, []byte("key1"))
		require.NoError(t, err)
		assert.True(t, has)

		has, err = tx.Has(kv.HeaderNumbers, []byte("key2"))
		require.NoError(t, err)
		assert.False(t, has)
		return nil
	}))
}

func TestRollbackIsInvisible(t *testing.T) {
	db := memdb.NewTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginRw(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(kv.HeaderNumbers, []byte("key1"), []byte("value1")))
	tx.Rollback()

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.GetOne(kv.HeaderNumbers, []byte("key1"))
		require.NoError(t, err)
		assert.Nil(t, v)
		return nil
	}))
}

func TestSequence(t *testing.T) {
	db := memdb.NewTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginRw(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	v, err := tx.ReadSequence(kv.BlockTransactions)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	// increment behaves like a postfix increment: old value returned
	old, err := tx.IncrementSequence(kv.BlockTransactions, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), old)

	old, err = tx.IncrementSequence(kv.BlockTransactions, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), old)

	v, err = tx.ReadSequence(kv.BlockTransactions)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	// the change is invisible until commit
	require.NoError(t, db.View(ctx, func(ro kv.Tx) error {
		v, err := ro.ReadSequence(kv.BlockTransactions)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), v)
		return nil
	}))
	require.NoError(t, tx.Commit())

	// strictly monotonic across commits
	require.NoError(t, db.Update(ctx, func(rw kv.RwTx) error {
		old, err := rw.IncrementSequence(kv.BlockTransactions, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), old)
		return nil
	}))
}

func TestCursorOps(t *testing.T) {
	_, tx := memdb.NewTestTx(t)

	c, err := tx.RwCursor(kv.Headers)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Append([]byte{1}, []byte("a")))
	require.NoError(t, c.Append([]byte{2}, []byte("b")))
	require.NoError(t, c.Append([]byte{4}, []byte("d")))

	k, v, err := c.First()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, k)
	assert.Equal(t, []byte("a"), v)

	k, v, err = c.Seek([]byte{3})
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, k)
	assert.Equal(t, []byte("d"), v)

	k, _, err = c.SeekExact([]byte{3})
	require.NoError(t, err)
	assert.Nil(t, k)

	k, _, err = c.Last()
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, k)

	k, _, err = c.Prev()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, k)
}

func TestDupSort(t *testing.T) {
	_, tx := memdb.NewTestTx(t)

	c, err := tx.RwCursorDupSort(kv.AccountChangeSet)
	require.NoError(t, err)
	defer c.Close()

	key := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	require.NoError(t, c.Put(key, []byte("bbb")))
	require.NoError(t, c.Put(key, []byte("aaa")))
	require.NoError(t, c.Put(key, []byte("ccc")))

	// duplicates come back sorted lexicographically
	v, err := c.SeekBothRange(key, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("aaa"), v)

	_, v, err = c.NextDup()
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), v)

	v, err = c.SeekBothRange(key, []byte("bb"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), v)

	v, err = c.SeekBothRange(key, []byte("d"))
	require.NoError(t, err)
	assert.Nil(t, v)

	k, _, err := c.SeekExact(key)
	require.NoError(t, err)
	require.NotNil(t, k)

	count, err := c.CountDuplicates()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	require.NoError(t, c.DeleteCurrentDuplicates())
	k, _, err = c.First()
	require.NoError(t, err)
	assert.Nil(t, k)
}

func TestClearTable(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	require.NoError(t, tx.Put(kv.HashedAccounts, []byte{1}, []byte{1}))
	require.NoError(t, tx.Put(kv.HashedAccounts, []byte{2}, []byte{2}))
	require.NoError(t, tx.ClearTable(kv.HashedAccounts))
	v, err := tx.GetOne(kv.HashedAccounts, []byte{1})
	require.NoError(t, err)
	assert.Nil(t, v)
}
