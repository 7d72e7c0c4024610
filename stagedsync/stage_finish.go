package stagedsync

import (
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/kv"
)

// FinishForward moves the head-header pointer to the verified head and seals
// the cycle's progress.
func FinishForward(s *StageState, tx kv.RwTx, logger log.Logger) error {
	to, err := s.IntermediateHashesAt(tx)
	if err != nil {
		return err
	}
	if s.BlockNumber >= to {
		return nil
	}
	hash, err := rawdb.ReadCanonicalHash(tx, to)
	if err != nil {
		return err
	}
	if err := rawdb.WriteHeadHeaderHash(tx, hash); err != nil {
		return err
	}
	return s.Update(tx, to)
}

func UnwindFinish(u *UnwindState, tx kv.RwTx) error {
	hash, err := rawdb.ReadCanonicalHash(tx, u.UnwindPoint)
	if err != nil {
		return err
	}
	if err := rawdb.WriteHeadHeaderHash(tx, hash); err != nil {
		return err
	}
	return u.Done(tx)
}

func PruneFinish(p *PruneState, tx kv.RwTx) error {
	return p.Done(tx)
}
