// Package mdbx implements the kv interfaces on top of libmdbx.
package mdbx

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/c2h5oh/datasize"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/kv"
)

const NonExistingDBI mdbxgo.DBI = 999_999_999

type Opts struct {
	path      string
	inMem     bool
	readonly  bool
	mapSize   datasize.ByteSize
	pageSize  uint64
	tableCfg  kv.TableCfg
	log       log.Logger
	flags     uint
}

func NewMDBX(logger log.Logger) Opts {
	return Opts{
		log:      logger,
		tableCfg: kv.ChaindataTablesCfg,
		flags:    mdbxgo.NoReadahead | mdbxgo.Coalesce | mdbxgo.Durable,
		pageSize: 4 * 1024,
	}
}

func (opts Opts) Path(path string) Opts { opts.path = path; return opts }

func (opts Opts) InMem(tmpDir string) Opts {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	path, err := os.MkdirTemp(tmpDir, "execution-memdb")
	if err != nil {
		panic(err)
	}
	opts.path = path
	opts.inMem = true
	opts.flags = mdbxgo.UtterlyNoSync | mdbxgo.NoMetaSync | mdbxgo.NoMemInit
	return opts
}

func (opts Opts) Readonly() Opts {
	opts.readonly = true
	opts.flags = opts.flags | mdbxgo.Readonly
	return opts
}

func (opts Opts) MapSize(sz datasize.ByteSize) Opts { opts.mapSize = sz; return opts }

func (opts Opts) WithTableCfg(cfg kv.TableCfg) Opts { opts.tableCfg = cfg; return opts }

func (opts Opts) Open() (kv.RwDB, error) {
	env, err := mdbxgo.NewEnv()
	if err != nil {
		return nil, err
	}
	if err = env.SetOption(mdbxgo.OptMaxDB, 100); err != nil {
		return nil, err
	}
	if err = env.SetOption(mdbxgo.OptMaxReaders, 32000); err != nil {
		return nil, err
	}

	if opts.mapSize == 0 {
		if opts.inMem {
			opts.mapSize = 1 * datasize.GB
		} else {
			opts.mapSize = 2 * datasize.TB
		}
	}
	if opts.flags&mdbxgo.Accede == 0 {
		if opts.inMem {
			if err = env.SetGeometry(-1, -1, int(opts.mapSize), int(2*datasize.MB), 0, int(opts.pageSize)); err != nil {
				return nil, err
			}
		} else {
			if err = env.SetGeometry(-1, -1, int(opts.mapSize), int(2*datasize.GB), -1, int(opts.pageSize)); err != nil {
				return nil, err
			}
		}
		if err = os.MkdirAll(opts.path, 0744); err != nil {
			return nil, fmt.Errorf("could not create dir: %s, %w", opts.path, err)
		}
	}

	if err = env.Open(opts.path, opts.flags, 0664); err != nil {
		return nil, fmt.Errorf("%w, path: %s", err, opts.path)
	}

	db := &MdbxKV{
		opts:   opts,
		env:    env,
		log:    opts.log.New("mdbx", filepath.Base(opts.path)),
		wg:     &sync.WaitGroup{},
		dbi:    map[string]mdbxgo.DBI{},
		tables: opts.tableCfg,
	}

	if opts.readonly {
		tx, err := env.BeginTxn(nil, mdbxgo.Readonly)
		if err != nil {
			return nil, err
		}
		for _, name := range kv.ChaindataTables {
			dbi, err := tx.OpenDBI(name, mdbxgo.DBAccede, nil, nil)
			if err != nil {
				if mdbxgo.IsNotFound(err) {
					db.dbi[name] = NonExistingDBI
					continue
				}
				tx.Abort()
				return nil, fmt.Errorf("table: %s, %w", name, err)
			}
			db.dbi[name] = dbi
		}
		if _, err = tx.Commit(); err != nil {
			return nil, err
		}
	} else {
		if err := db.env.Update(func(tx *mdbxgo.Txn) error {
			for _, name := range kv.ChaindataTables {
				flags := uint(mdbxgo.Create)
				if kv.TableCfgByName(name).Flags&kv.DupSort != 0 {
					flags |= mdbxgo.DupSort
				}
				dbi, err := tx.OpenDBI(name, flags, nil, nil)
				if err != nil {
					return fmt.Errorf("create table: %s, %w", name, err)
				}
				db.dbi[name] = dbi
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (opts Opts) MustOpen() kv.RwDB {
	db, err := opts.Open()
	if err != nil {
		panic(fmt.Errorf("fail to open mdbx: %w", err))
	}
	return db
}

type MdbxKV struct {
	env    *mdbxgo.Env
	log    log.Logger
	wg     *sync.WaitGroup
	opts   Opts
	dbi    map[string]mdbxgo.DBI
	tables kv.TableCfg
}

func (db *MdbxKV) PageSize() uint64 { return db.opts.pageSize }

// Close closes the database. All transactions must be closed before closing.
func (db *MdbxKV) Close() {
	if db.env == nil {
		return
	}
	db.wg.Wait()
	db.env.Close()
	db.env = nil
	if db.opts.inMem {
		if err := os.RemoveAll(db.opts.path); err != nil {
			db.log.Warn("failed to remove in-mem db file", "err", err)
		}
	}
}

func (db *MdbxKV) BeginRo(_ context.Context) (kv.Tx, error) {
	if db.env == nil {
		return nil, fmt.Errorf("db closed")
	}
	tx, err := db.env.BeginTxn(nil, mdbxgo.Readonly)
	if err != nil {
		return nil, err
	}
	tx.RawRead = true
	db.wg.Add(1)
	return &MdbxTx{db: db, tx: tx, readOnly: true}, nil
}

func (db *MdbxKV) BeginRw(_ context.Context) (kv.RwTx, error) {
	if db.env == nil {
		return nil, fmt.Errorf("db closed")
	}
	runtime.LockOSThread()
	tx, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread() // unlock only in case of error; normal flow is "defer .Rollback()"
		return nil, err
	}
	tx.RawRead = true
	db.wg.Add(1)
	return &MdbxTx{db: db, tx: tx}, nil
}

func (db *MdbxKV) View(ctx context.Context, f func(tx kv.Tx) error) error {
	tx, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (db *MdbxKV) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	tx, err := db.BeginRw(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err = f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type MdbxTx struct {
	tx               *mdbxgo.Txn
	db               *MdbxKV
	cursors          []*mdbxgo.Cursor
	statelessCursors map[string]kv.RwCursor
	readOnly         bool
}

func (tx *MdbxTx) dbi(table string) (mdbxgo.DBI, error) {
	dbi, ok := tx.db.dbi[table]
	if !ok || dbi == NonExistingDBI {
		return 0, fmt.Errorf("unknown table: %s", table)
	}
	return dbi, nil
}

func (tx *MdbxTx) Commit() error {
	if tx.tx == nil {
		return nil
	}
	defer func() {
		tx.tx = nil
		tx.db.wg.Done()
		if !tx.readOnly {
			runtime.UnlockOSThread()
		}
	}()
	tx.closeCursors()
	_, err := tx.tx.Commit()
	return err
}

func (tx *MdbxTx) Rollback() {
	if tx.tx == nil {
		return
	}
	defer func() {
		tx.tx = nil
		tx.db.wg.Done()
		if !tx.readOnly {
			runtime.UnlockOSThread()
		}
	}()
	tx.closeCursors()
	tx.tx.Abort()
}

func (tx *MdbxTx) closeCursors() {
	for _, c := range tx.cursors {
		if c != nil {
			c.Close()
		}
	}
	tx.cursors = nil
	tx.statelessCursors = nil
}

func (tx *MdbxTx) statelessCursor(table string) (kv.RwCursor, error) {
	if tx.statelessCursors == nil {
		tx.statelessCursors = make(map[string]kv.RwCursor)
	}
	c, ok := tx.statelessCursors[table]
	if !ok {
		var err error
		c, err = tx.RwCursor(table)
		if err != nil {
			return nil, err
		}
		tx.statelessCursors[table] = c
	}
	return c, nil
}

func (tx *MdbxTx) GetOne(table string, k []byte) ([]byte, error) {
	c, err := tx.statelessCursor(table)
	if err != nil {
		return nil, err
	}
	_, v, err := c.SeekExact(k)
	return v, err
}

func (tx *MdbxTx) Has(table string, key []byte) (bool, error) {
	c, err := tx.statelessCursor(table)
	if err != nil {
		return false, err
	}
	k, _, err := c.Seek(key)
	if err != nil {
		return false, err
	}
	return string(k) == string(key), nil
}

func (tx *MdbxTx) Put(table string, k, v []byte) error {
	c, err := tx.statelessCursor(table)
	if err != nil {
		return err
	}
	return c.Put(k, v)
}

func (tx *MdbxTx) Delete(table string, k []byte) error {
	dbi, err := tx.dbi(table)
	if err != nil {
		return err
	}
	err = tx.tx.Del(dbi, k, nil)
	if mdbxgo.IsNotFound(err) {
		return nil
	}
	return err
}

func (tx *MdbxTx) Append(table string, k, v []byte) error {
	c, err := tx.statelessCursor(table)
	if err != nil {
		return err
	}
	return c.Append(k, v)
}

func (tx *MdbxTx) AppendDup(table string, k, v []byte) error {
	c, err := tx.statelessCursor(table)
	if err != nil {
		return err
	}
	return c.(*MdbxDupSortCursor).AppendDup(k, v)
}

// IncrementSequence allocates a contiguous range of monotonic u64 values.
// The old counter value is returned; the change becomes visible at commit.
func (tx *MdbxTx) IncrementSequence(table string, amount uint64) (uint64, error) {
	c, err := tx.statelessCursor(kv.Sequence)
	if err != nil {
		return 0, err
	}
	_, v, err := c.SeekExact([]byte(table))
	if err != nil {
		return 0, err
	}
	var currentV uint64
	if len(v) > 0 {
		currentV = binary.BigEndian.Uint64(v)
	}
	newVBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(newVBytes, currentV+amount)
	if err = c.Put([]byte(table), newVBytes); err != nil {
		return 0, err
	}
	return currentV, nil
}

func (tx *MdbxTx) ReadSequence(table string) (uint64, error) {
	v, err := tx.GetOne(kv.Sequence, []byte(table))
	if err != nil {
		return 0, err
	}
	var currentV uint64
	if len(v) > 0 {
		currentV = binary.BigEndian.Uint64(v)
	}
	return currentV, nil
}

func (tx *MdbxTx) ClearTable(table string) error {
	dbi, err := tx.dbi(table)
	if err != nil {
		return err
	}
	return tx.tx.Drop(dbi, false)
}

func (tx *MdbxTx) ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error {
	c, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, v, err := c.Seek(fromPrefix); k != nil; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		if err := walker(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (tx *MdbxTx) ForPrefix(table string, prefix []byte, walker func(k, v []byte) error) error {
	c, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, v, err := c.Seek(prefix); k != nil; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			break
		}
		if err := walker(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (tx *MdbxTx) ForAmount(table string, fromPrefix []byte, amount uint32, walker func(k, v []byte) error) error {
	c, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	defer c.Close()
	for k, v, err := c.Seek(fromPrefix); k != nil && amount > 0; k, v, err = c.Next() {
		if err != nil {
			return err
		}
		if err := walker(k, v); err != nil {
			return err
		}
		amount--
	}
	return nil
}

func (tx *MdbxTx) Cursor(table string) (kv.Cursor, error) {
	return tx.RwCursor(table)
}

func (tx *MdbxTx) RwCursor(table string) (kv.RwCursor, error) {
	if tx.db.tables[table].Flags&kv.DupSort != 0 {
		return tx.RwCursorDupSort(table)
	}
	return tx.stdCursor(table)
}

func (tx *MdbxTx) stdCursor(table string) (*MdbxCursor, error) {
	dbi, err := tx.dbi(table)
	if err != nil {
		return nil, err
	}
	c := &MdbxCursor{table: table, tx: tx, dbi: dbi}
	c.c, err = tx.tx.OpenCursor(c.dbi)
	if err != nil {
		return nil, fmt.Errorf("table: %s, %w", c.table, err)
	}
	tx.cursors = append(tx.cursors, c.c)
	return c, nil
}

func (tx *MdbxTx) CursorDupSort(table string) (kv.CursorDupSort, error) {
	return tx.RwCursorDupSort(table)
}

func (tx *MdbxTx) RwCursorDupSort(table string) (kv.RwCursorDupSort, error) {
	basicCursor, err := tx.stdCursor(table)
	if err != nil {
		return nil, err
	}
	return &MdbxDupSortCursor{MdbxCursor: basicCursor}, nil
}

type MdbxCursor struct {
	table string
	tx    *MdbxTx
	c     *mdbxgo.Cursor
	dbi   mdbxgo.DBI
}

func notFound(err error) bool { return mdbxgo.IsNotFound(err) }

func (c *MdbxCursor) First() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbxgo.First)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("cursor.First(): %w, table: %s", err, c.table)
	}
	return k, v, nil
}

func (c *MdbxCursor) Last() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbxgo.Last)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("cursor.Last(): %w, table: %s", err, c.table)
	}
	return k, v, nil
}

func (c *MdbxCursor) Seek(seek []byte) ([]byte, []byte, error) {
	if len(seek) == 0 {
		return c.First()
	}
	k, v, err := c.c.Get(seek, nil, mdbxgo.SetRange)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("cursor.Seek(%x): %w, table: %s", seek, err, c.table)
	}
	return k, v, nil
}

func (c *MdbxCursor) SeekExact(key []byte) ([]byte, []byte, error) {
	k, v, err := c.c.Get(key, nil, mdbxgo.Set)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("cursor.SeekExact(%x): %w, table: %s", key, err, c.table)
	}
	return k, v, nil
}

func (c *MdbxCursor) Next() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbxgo.Next)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("cursor.Next(): %w, table: %s", err, c.table)
	}
	return k, v, nil
}

func (c *MdbxCursor) Prev() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbxgo.Prev)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("cursor.Prev(): %w, table: %s", err, c.table)
	}
	return k, v, nil
}

func (c *MdbxCursor) Current() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbxgo.GetCurrent)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return k, v, nil
}

func (c *MdbxCursor) Put(key, value []byte) error {
	if err := c.c.Put(key, value, 0); err != nil {
		return fmt.Errorf("cursor.Put(%x): %w, table: %s", key, err, c.table)
	}
	return nil
}

func (c *MdbxCursor) Append(k, v []byte) error {
	if err := c.c.Put(k, v, mdbxgo.Append); err != nil {
		return fmt.Errorf("cursor.Append(%x): %w, table: %s", k, err, c.table)
	}
	return nil
}

func (c *MdbxCursor) Delete(k []byte) error {
	_, _, err := c.c.Get(k, nil, mdbxgo.Set)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	return c.c.Del(mdbxgo.Current)
}

func (c *MdbxCursor) DeleteCurrent() error {
	return c.c.Del(mdbxgo.Current)
}

func (c *MdbxCursor) Close() {
	if c.c != nil {
		c.c.Close()
		c.c = nil
	}
}

type MdbxDupSortCursor struct {
	*MdbxCursor
}

func (c *MdbxDupSortCursor) SeekBothRange(key, value []byte) ([]byte, error) {
	_, v, err := c.c.Get(key, value, mdbxgo.GetBothRange)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cursor.SeekBothRange(%x): %w, table: %s", key, err, c.table)
	}
	return v, nil
}

func (c *MdbxDupSortCursor) FirstDup() ([]byte, error) {
	_, v, err := c.c.Get(nil, nil, mdbxgo.FirstDup)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (c *MdbxDupSortCursor) NextDup() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbxgo.NextDup)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return k, v, nil
}

func (c *MdbxDupSortCursor) NextNoDup() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbxgo.NextNoDup)
	if err != nil {
		if notFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return k, v, nil
}

func (c *MdbxDupSortCursor) LastDup() ([]byte, error) {
	_, v, err := c.c.Get(nil, nil, mdbxgo.LastDup)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (c *MdbxDupSortCursor) CountDuplicates() (uint64, error) {
	return c.c.Count()
}

func (c *MdbxDupSortCursor) AppendDup(k, v []byte) error {
	if err := c.c.Put(k, v, mdbxgo.AppendDup); err != nil {
		return fmt.Errorf("cursor.AppendDup(%x): %w, table: %s", k, err, c.table)
	}
	return nil
}

// DeleteCurrentDuplicates removes all duplicates of the current key.
func (c *MdbxDupSortCursor) DeleteCurrentDuplicates() error {
	return c.c.Del(mdbxgo.AllDups)
}
