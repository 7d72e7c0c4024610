package stagedsync

import (
	"encoding/binary"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/etl"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/stagedsync/stages"
)

type BlockHashesCfg struct {
	tmpdir string
}

func StageBlockHashesCfg(tmpdir string) BlockHashesCfg {
	return BlockHashesCfg{tmpdir: tmpdir}
}

func extractHeaders(k []byte, _ []byte, next etl.ExtractNextFunc) error {
	// We only want to extract entries composed by Block Number + Header Hash
	if len(k) != 40 {
		return nil
	}
	return next(k, k[8:], k[:8])
}

// SpawnBlockHashStage fills the header_hash -> block_number mapping from the
// headers written since the last run.
func SpawnBlockHashStage(s *StageState, tx kv.RwTx, cfg BlockHashesCfg, quit <-chan struct{}, logger log.Logger) error {
	headNumber, err := stages.GetStageProgress(tx, stages.Headers)
	if err != nil {
		return err
	}
	if s.BlockNumber == headNumber {
		return nil
	}

	startKey := make([]byte, 8)
	binary.BigEndian.PutUint64(startKey, s.BlockNumber)

	if err := etl.Transform(
		s.LogPrefix(),
		tx,
		kv.Headers,
		kv.HeaderNumbers,
		cfg.tmpdir,
		extractHeaders,
		etl.IdentityLoadFunc,
		etl.TransformArgs{
			ExtractStartKey: startKey,
			Quit:            quit,
		},
		logger,
	); err != nil {
		return err
	}
	return s.Update(tx, headNumber)
}

func UnwindBlockHashStage(u *UnwindState, tx kv.RwTx, _ BlockHashesCfg, _ log.Logger) error {
	// the hash -> number mapping of non-canonical headers stays valid:
	// header data is immutable once written
	return u.Done(tx)
}

func PruneBlockHashStage(_ *PruneState, _ kv.RwTx, _ BlockHashesCfg) error { return nil }
