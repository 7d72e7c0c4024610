package state

import (
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/bitmapdb"
	"github.com/erigontech/execution/types/accounts"
)

// GetAccountAsOf returns the account state right before the given block: the
// history index locates the first change at or after blockNum, whose change
// set holds the prior value; if no change is indexed, the current state is the
// answer.
func GetAccountAsOf(tx kv.Tx, address common.Address, blockNum uint64) (*accounts.Account, error) {
	bm, err := bitmapdb.Get64(tx, kv.AccountHistory, address[:], blockNum, ^uint64(0))
	if err != nil {
		return nil, err
	}
	changeBlock, ok := bitmapdb.SeekInBitmap64(bm, blockNum)
	if !ok {
		return NewPlainStateReader(tx).ReadAccountData(address)
	}
	c, err := tx.CursorDupSort(kv.AccountChangeSet)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	enc, found, err := FindAccountChange(c, changeBlock, address)
	if err != nil {
		return nil, err
	}
	if !found || len(enc) == 0 {
		return nil, nil
	}
	var acc accounts.Account
	if err := acc.DecodeForStorage(enc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// HistoricalPreviousIncarnation reports the incarnation a re-created contract
// would supersede at the given block. The exact historical semantics are
// unresolved upstream; the recorded behavior is to answer from the
// IncarnationMap when present and 0 otherwise.
func HistoricalPreviousIncarnation(tx kv.Tx, address common.Address, _ uint64) (uint64, error) {
	return NewPlainStateReader(tx).ReadAccountIncarnation(address)
}
