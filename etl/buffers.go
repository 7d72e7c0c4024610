package etl

import (
	"bytes"
	"sort"

	"github.com/c2h5oh/datasize"
)

const (
	// SortableSliceBuffer - just sort and dump.
	SortableSliceBuffer = iota
	// SortableOldestAppearedBuffer - like SortableSliceBuffer but the first
	// value seen for a key wins; later values for the same key are dropped.
	SortableOldestAppearedBuffer

	BufferOptimalSize = 256 * datasize.MB
)

type Buffer interface {
	Put(k, v []byte)
	Get(i int) ([]byte, []byte)
	Len() int
	Reset()
	Sort()
	CheckFlushSize() bool
	SizeLimit() int
}

type sortableBufferEntry struct {
	key   []byte
	value []byte
}

func NewSortableBuffer(bufferOptimalSize datasize.ByteSize) *sortableBuffer {
	return &sortableBuffer{
		optimalSize: int(bufferOptimalSize.Bytes()),
	}
}

type sortableBuffer struct {
	entries     []sortableBufferEntry
	size        int
	optimalSize int
}

func (b *sortableBuffer) Put(k, v []byte) {
	b.size += len(k) + len(v)
	b.entries = append(b.entries, sortableBufferEntry{key: k, value: v})
}

func (b *sortableBuffer) Len() int { return len(b.entries) }

func (b *sortableBuffer) Get(i int) ([]byte, []byte) {
	return b.entries[i].key, b.entries[i].value
}

func (b *sortableBuffer) Reset() {
	b.entries = b.entries[:0]
	b.size = 0
}

func (b *sortableBuffer) Sort() {
	sort.SliceStable(b.entries, func(i, j int) bool {
		return bytes.Compare(b.entries[i].key, b.entries[j].key) < 0
	})
}

func (b *sortableBuffer) CheckFlushSize() bool { return b.size >= b.optimalSize }

func (b *sortableBuffer) SizeLimit() int { return b.optimalSize }

func NewOldestEntryBuffer(bufferOptimalSize datasize.ByteSize) *oldestEntrySortableBuffer {
	return &oldestEntrySortableBuffer{
		sortableBuffer: sortableBuffer{
			optimalSize: int(bufferOptimalSize.Bytes()),
		},
	}
}

type oldestEntrySortableBuffer struct {
	sortableBuffer
}

func (b *oldestEntrySortableBuffer) Sort() {
	sort.SliceStable(b.entries, func(i, j int) bool {
		return bytes.Compare(b.entries[i].key, b.entries[j].key) < 0
	})
	// duplicates are adjacent after a stable sort; the oldest appearance wins
	dedup := b.entries[:0]
	for i := range b.entries {
		if len(dedup) > 0 && bytes.Equal(dedup[len(dedup)-1].key, b.entries[i].key) {
			continue
		}
		dedup = append(dedup, b.entries[i])
	}
	b.entries = dedup
}

func getBufferByType(tp int, size datasize.ByteSize) Buffer {
	switch tp {
	case SortableSliceBuffer:
		return NewSortableBuffer(size)
	case SortableOldestAppearedBuffer:
		return NewOldestEntryBuffer(size)
	default:
		panic("unknown buffer type " + string(rune(tp)))
	}
}
