// Package kv abstracts an ordered key/value store with named tables, duplicate
// keys, write batching and per-table sequence counters.
//
// Read-only and read-write handles are distinct types: a RwTx can be used
// wherever a Tx is expected, the other direction is impossible. Cursors borrow
// from their transaction - closing or committing the transaction invalidates
// every cursor opened through it.
package kv

import (
	"context"
	"errors"
)

var ErrChanged = errors.New("key must not change")

// RoDB - read-only version of database.
type RoDB interface {
	View(ctx context.Context, f func(tx Tx) error) error
	BeginRo(ctx context.Context) (Tx, error)
	Close()

	PageSize() uint64
}

// RwDB - high-level database handle. One process can open one RwDB per
// database file. All writes serialize on one exclusive writer; reads observe
// the snapshot taken at BeginRo.
type RwDB interface {
	RoDB

	Update(ctx context.Context, f func(tx RwTx) error) error
	BeginRw(ctx context.Context) (RwTx, error)
}

type StatelessReadTx interface {
	// GetOne references a single value by key. The returned slice is only
	// valid until the end of the transaction.
	GetOne(table string, key []byte) (val []byte, err error)
	Has(table string, key []byte) (bool, error)

	// ReadSequence returns the current value of the table's sequence counter
	// without advancing it.
	ReadSequence(table string) (uint64, error)
}

type StatelessWriteTx interface {
	Put(table string, k, v []byte) error
	Delete(table string, k []byte) error

	// IncrementSequence behaves like a postfix increment: it returns the old
	// value and advances the counter by amount. The change is invisible to
	// other transactions until commit.
	IncrementSequence(table string, amount uint64) (uint64, error)

	// Append is an optimisation for keys known to be larger than every key
	// already in the table. The table becomes corrupt if that does not hold.
	Append(table string, k, v []byte) error
	AppendDup(table string, k, v []byte) error
}

// Tx - read-only transaction. Naturally a snapshot of the database at Begin.
type Tx interface {
	StatelessReadTx

	Cursor(table string) (Cursor, error)
	CursorDupSort(table string) (CursorDupSort, error)

	ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error
	ForPrefix(table string, prefix []byte, walker func(k, v []byte) error) error
	ForAmount(table string, fromPrefix []byte, amount uint32, walker func(k, v []byte) error) error

	Rollback()
}

// RwTx - read-write transaction. Exactly one can be open at a time.
type RwTx interface {
	Tx
	StatelessWriteTx

	RwCursor(table string) (RwCursor, error)
	RwCursorDupSort(table string) (RwCursorDupSort, error)

	ClearTable(table string) error

	Commit() error
}

// Cursor - low-level api to walk over a table. Unless otherwise stated, the
// returned key and value slices are valid until the next cursor operation.
type Cursor interface {
	First() ([]byte, []byte, error)
	Seek(seek []byte) ([]byte, []byte, error)
	SeekExact(key []byte) ([]byte, []byte, error)
	Next() ([]byte, []byte, error)
	Prev() ([]byte, []byte, error)
	Last() ([]byte, []byte, error)
	Current() ([]byte, []byte, error)

	Close()
}

type RwCursor interface {
	Cursor

	Put(k, v []byte) error
	Append(k, v []byte) error
	Delete(k []byte) error
	// DeleteCurrent removes the key/value pair the cursor is positioned on.
	DeleteCurrent() error
}

// CursorDupSort - a cursor over a table with sorted duplicate values per key.
type CursorDupSort interface {
	Cursor

	// SeekBothRange positions on key k at the first duplicate >= value.
	// Returns nil if k has no such duplicate.
	SeekBothRange(key, value []byte) ([]byte, error)
	FirstDup() ([]byte, error)
	NextDup() ([]byte, []byte, error)
	NextNoDup() ([]byte, []byte, error)
	LastDup() ([]byte, error)
	CountDuplicates() (uint64, error)
}

type RwCursorDupSort interface {
	CursorDupSort
	RwCursor

	AppendDup(key, value []byte) error
	DeleteCurrentDuplicates() error
}
