// Package bitmapdb stores sets of block numbers as sharded roaring bitmaps.
//
// History index values are roaring-bitmap-encoded sets of the block numbers at
// which a key changed. Each shard is keyed by `key ‖ big_endian_u64(highest
// block in shard)`; the last shard uses ^uint64(0) so that a Seek on
// `key ‖ block` lands in the shard that may contain it.
package bitmapdb

import (
	"bytes"
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/erigontech/execution/kv"
)

// ChunkLimit is the target serialized size of one shard. Leave some space in
// the DB page for the key and node overhead.
const ChunkLimit = uint64(1950)

// CutLeft64 - cut from bitmap `targetSize` bytes from left.
// It removes the cut part from bm.
func CutLeft64(bm *roaring64.Bitmap, sizeLimit uint64) *roaring64.Bitmap {
	if bm.IsEmpty() {
		return nil
	}
	if bm.GetSerializedSizeInBytes() <= sizeLimit {
		lft := roaring64.New()
		lft.Or(bm)
		bm.Clear()
		return lft
	}

	from := bm.Minimum()
	minMax := bm.Maximum() - from
	to := from + uint64(searchSize(bm, from, minMax, sizeLimit))
	lft := roaring64.New()
	lft.AddRange(from, to+1)
	lft.And(bm)
	bm.RemoveRange(from, to+1)
	return lft
}

func searchSize(bm *roaring64.Bitmap, from, minMax, sizeLimit uint64) uint64 {
	// binary search the widest [from, from+i] range that still serializes
	// under the limit
	lo, hi := uint64(0), minMax
	for lo < hi {
		mid := (lo + hi + 1) / 2
		lft := roaring64.New()
		lft.AddRange(from, from+mid+1)
		lft.And(bm)
		if lft.GetSerializedSizeInBytes() > sizeLimit {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo
}

// WalkChunks64 calls f for each shard of bm in increasing order. The last
// shard is flagged so the caller can assign it the ^uint64(0) shard id.
func WalkChunks64(bm *roaring64.Bitmap, f func(chunk *roaring64.Bitmap, isLast bool) error) error {
	for !bm.IsEmpty() {
		lft := CutLeft64(bm, ChunkLimit)
		if err := f(lft, bm.IsEmpty()); err != nil {
			return err
		}
	}
	return nil
}

// ChunkKey64 returns key ‖ big_endian_u64(shardID).
func ChunkKey64(key []byte, shardID uint64) []byte {
	chunkKey := make([]byte, len(key)+8)
	copy(chunkKey, key)
	binary.BigEndian.PutUint64(chunkKey[len(key):], shardID)
	return chunkKey
}

// Get64 reads the union of shards of the given key restricted to [from, to].
func Get64(tx kv.Tx, table string, key []byte, from, to uint64) (*roaring64.Bitmap, error) {
	var chunks []*roaring64.Bitmap

	fromKey := ChunkKey64(key, from)
	c, err := tx.Cursor(table)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	for k, v, err := c.Seek(fromKey); k != nil; k, v, err = c.Next() {
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(k, key) || len(k) != len(key)+8 {
			break
		}
		bm := roaring64.New()
		if _, err := bm.ReadFrom(bytes.NewReader(v)); err != nil {
			return nil, err
		}
		chunks = append(chunks, bm)
		if binary.BigEndian.Uint64(k[len(k)-8:]) >= to {
			break
		}
	}
	if len(chunks) == 0 {
		return roaring64.New(), nil
	}
	bm := roaring64.FastOr(chunks...)
	bm.RemoveRange(0, from)
	bm.RemoveRange(to+1, ^uint64(0))
	return bm, nil
}

// SeekInBitmap64 returns the least element >= n, if any.
func SeekInBitmap64(bm *roaring64.Bitmap, n uint64) (uint64, bool) {
	if bm == nil || bm.IsEmpty() {
		return 0, false
	}
	if n == 0 {
		return bm.Minimum(), true
	}
	searchRank := bm.Rank(n - 1)
	if searchRank >= bm.GetCardinality() {
		return 0, false
	}
	found, _ := bm.Select(searchRank)
	return found, true
}

// TruncateRange64 removes all elements >= from out of the shards of the given
// key, rewriting or deleting shards as needed. Used on unwind.
func TruncateRange64(tx kv.RwTx, table string, key []byte, from uint64) error {
	chunkKey := ChunkKey64(key, from)
	c, err := tx.RwCursor(table)
	if err != nil {
		return err
	}
	defer c.Close()

	cleanUpTo := roaring64.New()
	for k, v, err := c.Seek(chunkKey); k != nil; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(k, key) || len(k) != len(key)+8 {
			break
		}
		bm := roaring64.New()
		if _, err := bm.ReadFrom(bytes.NewReader(v)); err != nil {
			return err
		}
		bm.RemoveRange(from, ^uint64(0))
		cleanUpTo.Or(bm)
		if err := c.DeleteCurrent(); err != nil {
			return err
		}
	}
	if cleanUpTo.IsEmpty() {
		return nil
	}
	// whatever survived the truncation becomes the new last shard
	buf := bytes.NewBuffer(nil)
	if _, err := cleanUpTo.WriteTo(buf); err != nil {
		return err
	}
	return tx.Put(table, ChunkKey64(key, ^uint64(0)), buf.Bytes())
}
