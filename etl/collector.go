// Package etl provides external-memory sort-and-load: entries are collected
// into sortable buffers, spilled to temporary files when the buffer overflows,
// and merge-loaded into a table in key order.
//
// Loading in key order turns random B-tree inserts into sequential ones; when
// the destination table is empty the append fast path applies.
package etl

import (
	"bytes"
	"container/heap"
	"fmt"
	"io"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"
	"github.com/ugorji/go/codec"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/kv"
)

type CurrentTableReader interface {
	Get([]byte) ([]byte, error)
}

type ExtractNextFunc func(originalK, k []byte, v []byte) error
type ExtractFunc func(k []byte, v []byte, next ExtractNextFunc) error

type LoadNextFunc func(originalK, k, v []byte) error
type LoadFunc func(k, v []byte, table CurrentTableReader, next LoadNextFunc) error

// IdentityLoadFunc loads entries as they are, without transformation.
var IdentityLoadFunc LoadFunc = func(k, v []byte, _ CurrentTableReader, next LoadNextFunc) error {
	return next(k, k, v)
}

type TransformArgs struct {
	ExtractStartKey []byte
	ExtractEndKey   []byte
	BufferType      int
	BufferSize      datasize.ByteSize
	Quit            <-chan struct{}
}

// Collector performs the job of ETL Transform, but can also be used without
// the "E" (Extract) part as a Collect-Transform-Load.
type Collector struct {
	logPrefix     string
	tmpdir        string
	buf           Buffer
	dataProviders []dataProvider
	allFlushed    bool
	logger        log.Logger
}

func NewCollector(logPrefix, tmpdir string, sortableBuffer Buffer, logger log.Logger) *Collector {
	return &Collector{logPrefix: logPrefix, tmpdir: tmpdir, buf: sortableBuffer, logger: logger}
}

func (c *Collector) Collect(k, v []byte) error {
	c.buf.Put(common.CopyBytes(k), common.CopyBytes(v))
	if c.buf.CheckFlushSize() {
		return c.flushBuffer(false)
	}
	return nil
}

func (c *Collector) flushBuffer(canStoreInRAM bool) error {
	if c.buf.Len() == 0 {
		return nil
	}
	if canStoreInRAM && len(c.dataProviders) == 0 {
		c.buf.Sort()
		c.dataProviders = append(c.dataProviders, KeepInRAM(c.buf))
		c.allFlushed = true
		return nil
	}
	provider, err := FlushToDisk(c.buf, c.tmpdir)
	if err != nil {
		return err
	}
	if provider != nil {
		c.dataProviders = append(c.dataProviders, provider)
	}
	return nil
}

// Load merges the collected entries in key order into toTable.
// An empty loadFunc defaults to IdentityLoadFunc.
func (c *Collector) Load(db kv.RwTx, toTable string, loadFunc LoadFunc, args TransformArgs) error {
	defer c.Close()
	if !c.allFlushed {
		if err := c.flushBuffer(true); err != nil {
			return err
		}
	}
	if loadFunc == nil {
		loadFunc = IdentityLoadFunc
	}

	cursor, err := db.RwCursor(toTable)
	if err != nil {
		return err
	}
	defer cursor.Close()

	// Appending is only safe into an empty table, and only for single-value
	// tables: a dup-sorted destination can receive several values per key in
	// value-unsorted order.
	_, isDupSort := cursor.(kv.RwCursorDupSort)
	empty := !isDupSort
	if empty {
		if k, _, err := cursor.First(); err != nil {
			return err
		} else if k != nil {
			empty = false
		}
	}

	logEvery := time.NewTicker(30 * time.Second)
	defer logEvery.Stop()

	i := 0
	loadNextFunc := func(_, k, v []byte) error {
		if err := common.Stopped(args.Quit); err != nil {
			return err
		}
		i++
		select {
		default:
		case <-logEvery.C:
			c.logger.Info(fmt.Sprintf("[%s] ETL [2/2] Loading", c.logPrefix), "into", toTable, "current_key", makeCurrentKeyStr(k))
		}
		if len(v) == 0 {
			return cursor.Delete(k)
		}
		if empty {
			return cursor.Append(k, v)
		}
		return cursor.Put(k, v)
	}
	currentTable := &currentTableReader{db, toTable}

	return mergeSortFiles(c.dataProviders, func(k, v []byte) error {
		return loadFunc(k, v, currentTable, loadNextFunc)
	})
}

// Close deletes all temporary files on every exit path.
func (c *Collector) Close() {
	totalSize := uint64(0)
	for _, p := range c.dataProviders {
		totalSize += p.Dispose()
	}
	if totalSize > 0 {
		c.logger.Info(fmt.Sprintf("[%s] etl: temp files removed", c.logPrefix), "total size", datasize.ByteSize(totalSize).HumanReadable())
	}
	c.dataProviders = nil
	c.buf.Reset()
	c.allFlushed = false
}

func mergeSortFiles(providers []dataProvider, onEntry func(k, v []byte) error) error {
	decoder := codec.NewDecoder(nil, &cbor)
	h := &Heap{}
	heap.Init(h)
	for i, provider := range providers {
		if key, value, err := provider.Next(decoder); err == nil {
			heap.Push(h, HeapElem{key, value, i})
		} else if err != io.EOF {
			return fmt.Errorf("error reading first readers: n=%d current=%d provider=%s err=%w",
				len(providers), i, provider, err)
		}
	}
	for h.Len() > 0 {
		element := heap.Pop(h).(HeapElem)
		provider := providers[element.TimeIdx]
		if err := onEntry(element.Key, element.Value); err != nil {
			return err
		}
		if key, value, err := provider.Next(decoder); err == nil {
			heap.Push(h, HeapElem{key, value, element.TimeIdx})
		} else if err != io.EOF {
			return fmt.Errorf("error while reading next element: %w", err)
		}
	}
	return nil
}

type currentTableReader struct {
	getter kv.Tx
	table  string
}

func (s *currentTableReader) Get(key []byte) ([]byte, error) {
	return s.getter.GetOne(s.table, key)
}

// Transform extracts entries of fromTable with extractFunc and loads the
// transformed set into toTable in key order.
func Transform(
	logPrefix string,
	db kv.RwTx,
	fromTable string,
	toTable string,
	tmpdir string,
	extractFunc ExtractFunc,
	loadFunc LoadFunc,
	args TransformArgs,
	logger log.Logger,
) error {
	bufferSize := BufferOptimalSize
	if args.BufferSize > 0 {
		bufferSize = args.BufferSize
	}
	buffer := getBufferByType(args.BufferType, bufferSize)
	collector := NewCollector(logPrefix, tmpdir, buffer, logger)
	defer collector.Close()

	if err := extractTableIntoBuffer(logPrefix, db, fromTable, args.ExtractStartKey, args.ExtractEndKey, collector, extractFunc, args.Quit, logger); err != nil {
		return err
	}
	return collector.Load(db, toTable, loadFunc, args)
}

func extractTableIntoBuffer(
	logPrefix string,
	db kv.Tx,
	table string,
	startkey, endkey []byte,
	collector *Collector,
	extractFunc ExtractFunc,
	quit <-chan struct{},
	logger log.Logger,
) error {
	logEvery := time.NewTicker(30 * time.Second)
	defer logEvery.Stop()

	c, err := db.Cursor(table)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, v, err := c.Seek(startkey); k != nil; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		if err := common.Stopped(quit); err != nil {
			return err
		}
		select {
		default:
		case <-logEvery.C:
			logger.Info(fmt.Sprintf("[%s] ETL [1/2] Extracting", logPrefix), "from", table, "current_key", makeCurrentKeyStr(k))
		}
		if endkey != nil && bytes.Compare(k, endkey) > 0 {
			break
		}
		if err := extractFunc(k, v, collector.extractNextFunc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) extractNextFunc(_, k, v []byte) error {
	return c.Collect(k, v)
}

func makeCurrentKeyStr(k []byte) string {
	if k == nil {
		return "final"
	}
	if len(k) < 4 {
		return fmt.Sprintf("%x", k)
	}
	return fmt.Sprintf("%x...", k[:4])
}
