package stagedsync

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ledgerwatch/log/v3"
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/stagedsync/stages"
	"github.com/erigontech/execution/types"
)

type SendersCfg struct {
	chainConfig *chain.Config
	numWorkers  int
}

func StageSendersCfg(chainConfig *chain.Config) SendersCfg {
	return SendersCfg{
		chainConfig: chainConfig,
		numWorkers:  runtime.NumCPU(),
	}
}

// SpawnRecoverSendersStage recovers transaction senders from signatures for
// every canonical block since the last run and persists them into the Senders
// table, so execution does not pay for secp256k1 recovery.
func SpawnRecoverSendersStage(cfg SendersCfg, s *StageState, u Unwinder, tx kv.RwTx, quit <-chan struct{}, logger log.Logger) error {
	to, err := stages.GetStageProgress(tx, stages.Bodies)
	if err != nil {
		return err
	}
	if s.BlockNumber == to {
		return nil
	}
	if s.BlockNumber > to {
		return fmt.Errorf("%w: senders at %d, bodies at %d", ErrInvalidProgress, s.BlockNumber, to)
	}
	logPrefix := s.LogPrefix()
	logger.Info(fmt.Sprintf("[%s] Started", logPrefix), "from", s.BlockNumber, "to", to)

	logEvery := time.NewTicker(30 * time.Second)
	defer logEvery.Stop()

	type blockJob struct {
		number  uint64
		hash    common.Hash
		body    *types.Body
		header  *types.Header
		senders []common.Address
	}

	jobs := make([]*blockJob, 0, to-s.BlockNumber)
	for blockNum := s.BlockNumber + 1; blockNum <= to; blockNum++ {
		if err := common.Stopped(quit); err != nil {
			return err
		}
		hash, err := rawdb.ReadCanonicalHash(tx, blockNum)
		if err != nil {
			return err
		}
		if hash == (common.Hash{}) {
			return fmt.Errorf("%w: no canonical hash for block %d", ErrInvalidProgress, blockNum)
		}
		header := rawdb.ReadHeader(tx, hash, blockNum)
		if header == nil {
			return fmt.Errorf("%w: no header for block %d", ErrInvalidProgress, blockNum)
		}
		body, err := rawdb.ReadBody(tx, hash, blockNum)
		if err != nil {
			return err
		}
		if body == nil {
			return fmt.Errorf("%w: no body for block %d", ErrInvalidProgress, blockNum)
		}
		jobs = append(jobs, &blockJob{number: blockNum, hash: hash, body: body, header: header})
	}

	var wg errgroup.Group
	wg.SetLimit(cfg.numWorkers)
	var mu sync.Mutex
	var firstErr error
	var badJob *blockJob
	for _, job := range jobs {
		job := job
		wg.Go(func() error {
			signer := types.MakeSigner(cfg.chainConfig, job.number, job.header.Time)
			senders := make([]common.Address, len(job.body.Transactions))
			for i, txn := range job.body.Transactions {
				from, err := txn.Sender(signer)
				if err != nil {
					mu.Lock()
					if firstErr == nil || job.number < badJob.number {
						firstErr = fmt.Errorf("%w: block %d txn %d: %v", ErrInvalidBlock, job.number, i, err)
						badJob = job
					}
					mu.Unlock()
					return nil // keep going so the lowest failing block wins
				}
				senders[i] = from
			}
			job.senders = senders
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	if firstErr != nil {
		u.UnwindTo(badJob.number-1, badJob.hash)
		return firstErr
	}

	for _, job := range jobs {
		if err := rawdb.WriteSenders(tx, job.hash, job.number, job.senders); err != nil {
			return err
		}
		select {
		default:
		case <-logEvery.C:
			logger.Info(fmt.Sprintf("[%s] Written", logPrefix), "block", job.number)
		}
	}
	return s.Update(tx, to)
}

func UnwindSendersStage(u *UnwindState, tx kv.RwTx, _ SendersCfg) error {
	// sender rows of non-canonical blocks are harmless; progress roll-back
	// is all an unwind needs
	return u.Done(tx)
}

func PruneSendersStage(_ *PruneState, _ kv.RwTx, _ SendersCfg) error { return nil }
