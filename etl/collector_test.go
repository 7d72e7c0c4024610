package etl

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/memdb"
)

func TestCollectorSortsAndLoads(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	logger := log.New()

	collector := NewCollector("test", t.TempDir(), NewSortableBuffer(BufferOptimalSize), logger)
	defer collector.Close()

	// collect in reverse order
	for i := 255; i >= 0; i-- {
		require.NoError(t, collector.Collect([]byte{byte(i)}, []byte{byte(i), byte(i)}))
	}
	require.NoError(t, collector.Load(tx, kv.HeaderNumbers, IdentityLoadFunc, TransformArgs{}))

	c, err := tx.Cursor(kv.HeaderNumbers)
	require.NoError(t, err)
	defer c.Close()
	i := 0
	for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, k)
		assert.Equal(t, []byte{byte(i), byte(i)}, v)
		i++
	}
	assert.Equal(t, 256, i)
}

func TestCollectorSpillsToDisk(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	logger := log.New()

	// tiny buffer forces several flushes to temp files
	collector := NewCollector("test", t.TempDir(), NewSortableBuffer(1024), logger)
	defer collector.Close()

	n := uint64(10_000)
	for i := n; i > 0; i-- {
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, i-1)
		require.NoError(t, collector.Collect(k, []byte(fmt.Sprintf("value-%d", i-1))))
	}
	require.NoError(t, collector.Load(tx, kv.TxLookup, IdentityLoadFunc, TransformArgs{}))

	c, err := tx.Cursor(kv.TxLookup)
	require.NoError(t, err)
	defer c.Close()
	i := uint64(0)
	for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
		require.NoError(t, err)
		require.Equal(t, i, binary.BigEndian.Uint64(k))
		require.Equal(t, fmt.Sprintf("value-%d", i), string(v))
		i++
	}
	assert.Equal(t, n, i)
}

func TestOldestAppearedWins(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	logger := log.New()

	collector := NewCollector("test", t.TempDir(), NewOldestEntryBuffer(BufferOptimalSize), logger)
	defer collector.Close()

	require.NoError(t, collector.Collect([]byte("k"), []byte("first")))
	require.NoError(t, collector.Collect([]byte("k"), []byte("second")))
	require.NoError(t, collector.Collect([]byte("z"), []byte("zz")))
	require.NoError(t, collector.Load(tx, kv.HeaderNumbers, IdentityLoadFunc, TransformArgs{}))

	v, err := tx.GetOne(kv.HeaderNumbers, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), v)
}

func TestEmptyValueDeletes(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	logger := log.New()

	require.NoError(t, tx.Put(kv.HeaderNumbers, []byte("gone"), []byte("x")))
	require.NoError(t, tx.Put(kv.HeaderNumbers, []byte("kept"), []byte("y")))

	collector := NewCollector("test", t.TempDir(), NewSortableBuffer(BufferOptimalSize), logger)
	defer collector.Close()
	require.NoError(t, collector.Collect([]byte("gone"), nil))
	require.NoError(t, collector.Load(tx, kv.HeaderNumbers, IdentityLoadFunc, TransformArgs{}))

	v, err := tx.GetOne(kv.HeaderNumbers, []byte("gone"))
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = tx.GetOne(kv.HeaderNumbers, []byte("kept"))
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), v)
}

func TestTransform(t *testing.T) {
	_, tx := memdb.NewTestTx(t)
	logger := log.New()

	for i := 0; i < 100; i++ {
		require.NoError(t, tx.Put(kv.PlainCodeHash, []byte{byte(i), 0}, []byte{byte(i)}))
	}
	extract := func(k, v []byte, next ExtractNextFunc) error {
		return next(k, k[:1], v)
	}
	require.NoError(t, Transform("test", tx, kv.PlainCodeHash, kv.HeaderNumbers, t.TempDir(), extract, IdentityLoadFunc, TransformArgs{}, logger))

	v, err := tx.GetOne(kv.HeaderNumbers, []byte{42})
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, v)
}
