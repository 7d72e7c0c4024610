package stagedsync

import (
	"math/big"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/types"
)

// ChainReader gives consensus engines access to stored headers through the
// current transaction.
type ChainReader struct {
	config *chain.Config
	tx     kv.Tx
}

func NewChainReader(config *chain.Config, tx kv.Tx) ChainReader {
	return ChainReader{config: config, tx: tx}
}

func (cr ChainReader) Config() *chain.Config { return cr.config }

func (cr ChainReader) GetHeader(hash common.Hash, number uint64) *types.Header {
	return rawdb.ReadHeader(cr.tx, hash, number)
}

func (cr ChainReader) GetHeaderByNumber(number uint64) *types.Header {
	return rawdb.ReadHeaderByNumber(cr.tx, number)
}

func (cr ChainReader) GetTd(hash common.Hash, number uint64) *big.Int {
	td, err := rawdb.ReadTd(cr.tx, hash, number)
	if err != nil {
		return nil
	}
	return td
}
