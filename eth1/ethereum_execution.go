// Package eth1 is the execution engine: it ingests headers and bodies, drives
// the staged pipeline on verification requests, and commits on fork-choice
// acknowledgement.
package eth1

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/stagedsync"
	"github.com/erigontech/execution/stagedsync/stages"
	"github.com/erigontech/execution/types"
)

// VerificationStatus is the outcome class of VerifyChain.
type VerificationStatus int

const (
	// ValidChain: the pipeline reached the target and the state root matched.
	ValidChain VerificationStatus = iota
	// InvalidChain: a block failed execution or the state root did not
	// match; the result carries the unwind point and bad-block data.
	InvalidChain
	// ValidationError: an infrastructural failure, not a verdict on the chain.
	ValidationError
)

// VerificationResult is what VerifyChain reports to the fork-choice owner.
type VerificationResult struct {
	Status      VerificationStatus
	Number      uint64 // head of the verified chain (ValidChain)
	UnwindPoint uint64
	UnwindHead  common.Hash
	BadBlock    *common.Hash
	BadHeaders  []common.Hash
	Err         error
}

// EthereumExecutionModule is the execution engine. Its public API is not
// thread-safe: callers serialize access.
type EthereumExecutionModule struct {
	db     kv.RwDB
	config *chain.Config
	sync   *stagedsync.Sync
	logger log.Logger

	tx             kv.RwTx // the current long-lived write transaction
	canonicalChain *CanonicalChain

	firstSync       bool
	lastForkChoice  common.Hash
	stopCh          <-chan struct{}
}

func NewEthereumExecutionModule(db kv.RwDB, config *chain.Config, sync *stagedsync.Sync, logger log.Logger) *EthereumExecutionModule {
	return &EthereumExecutionModule{
		db:        db,
		config:    config,
		sync:      sync,
		logger:    logger,
		firstSync: true,
	}
}

// SetStopCh installs the process-wide stop flag checked inside stage loops.
func (e *EthereumExecutionModule) SetStopCh(quit <-chan struct{}) {
	e.stopCh = quit
	e.sync.SetStopCh(quit)
}

func (e *EthereumExecutionModule) begin() (kv.RwTx, error) {
	if e.tx != nil {
		return e.tx, nil
	}
	tx, err := e.db.BeginRw(context.Background())
	if err != nil {
		return nil, err
	}
	e.tx = tx
	if e.canonicalChain == nil {
		e.canonicalChain, err = NewCanonicalChain(tx)
		if err != nil {
			tx.Rollback()
			e.tx = nil
			return nil, err
		}
	}
	return tx, nil
}

// commit commits the current write transaction and begins a new one, keeping
// long-lived work alive without holding a single transaction forever.
func (e *EthereumExecutionModule) commit() error {
	if e.tx == nil {
		return nil
	}
	if err := e.tx.Commit(); err != nil {
		e.tx = nil
		return err
	}
	e.tx = nil
	_, err := e.begin()
	return err
}

// Rollback aborts the current write transaction without partial commit.
func (e *EthereumExecutionModule) Rollback() {
	if e.tx != nil {
		e.tx.Rollback()
		e.tx = nil
	}
}

// InsertHeader is an idempotent write of a header and its total difficulty.
func (e *EthereumExecutionModule) InsertHeader(header *types.Header) error {
	tx, err := e.begin()
	if err != nil {
		return err
	}
	if err := rawdb.WriteHeader(tx, header); err != nil {
		return err
	}
	// accumulate total difficulty when the parent's is known
	number := header.Number.Uint64()
	if number == 0 {
		return rawdb.WriteTd(tx, header.Hash(), 0, header.Difficulty)
	}
	parentTd, err := rawdb.ReadTd(tx, header.ParentHash, number-1)
	if err != nil {
		return err
	}
	if parentTd == nil {
		// Forward syncing is the normal mode: a missing parent TD outside the
		// first sync means a gap in the header chain.
		if !e.firstSync {
			return fmt.Errorf("InsertHeader: parent total difficulty unknown, hash=%x number=%d", header.ParentHash, number-1)
		}
		return nil
	}
	td := new(big.Int).Add(parentTd, header.Difficulty)
	return rawdb.WriteTd(tx, header.Hash(), number, td)
}

// InsertBody is an idempotent write of a block body; transactions are appended
// into the transactions table via the sequence counter.
func (e *EthereumExecutionModule) InsertBody(header *types.Header, body *types.Body) error {
	tx, err := e.begin()
	if err != nil {
		return err
	}
	return rawdb.WriteBody(tx, header.Hash(), header.Number.Uint64(), body)
}

// InsertBlock writes both header and body.
func (e *EthereumExecutionModule) InsertBlock(block *types.Block) error {
	if err := e.InsertHeader(block.Header()); err != nil {
		return err
	}
	return e.InsertBody(block.Header(), block.Body())
}

// VerifyChain makes headHash's branch canonical and runs the pipeline to it:
// find the forking point, unwind to it if the head moved backwards, rewrite
// the canonical-hash table up to the target, then run every stage forward.
// The last stage computes the state root; a mismatch yields InvalidChain with
// an unwind point biased to the lower half of the failed segment so a
// subsequent verification can bisect.
func (e *EthereumExecutionModule) VerifyChain(headHash common.Hash) (*VerificationResult, error) {
	tx, err := e.begin()
	if err != nil {
		return nil, err
	}

	header, err := rawdb.ReadHeaderByHash(tx, headHash)
	if err != nil {
		return nil, err
	}
	if header == nil {
		// the coordinator only verifies hashes it inserted
		panic(fmt.Errorf("VerifyChain: target header %x not found", headHash))
	}
	targetNumber := header.Number.Uint64()

	forkingPoint, err := e.canonicalChain.FindForkingPoint(tx, header)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("VerifyChain", "target", targetNumber, "hash", headHash, "forking_point", forkingPoint)

	if forkingPoint < e.canonicalChain.CurrentHead().Number {
		e.sync.UnwindTo(forkingPoint, common.Hash{})
		if err := e.sync.RunUnwind(tx, e.firstSync); err != nil {
			return nil, fmt.Errorf("VerifyChain: unwind to forking point %d: %w", forkingPoint, err)
		}
		if err := e.canonicalChain.DeleteDownTo(tx, forkingPoint); err != nil {
			return nil, err
		}
	}
	if err := e.canonicalChain.UpdateUpTo(tx, targetNumber, headHash); err != nil {
		return nil, err
	}

	// the progress of the insert-fed stages becomes the pipeline target
	if err := stages.SaveStageProgress(tx, stages.Headers, targetNumber); err != nil {
		return nil, err
	}
	if err := stages.SaveStageProgress(tx, stages.Bodies, targetNumber); err != nil {
		return nil, err
	}

	forwardErr := e.sync.Run(tx, e.firstSync)
	result, err := e.translateForwardResult(tx, forwardErr)
	if err != nil {
		return nil, err
	}
	if e.firstSync && result.Status == ValidChain {
		if err := e.commit(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *EthereumExecutionModule) translateForwardResult(tx kv.RwTx, forwardErr error) (*VerificationResult, error) {
	if forwardErr == nil {
		progress, err := stages.GetStageProgress(tx, stages.IntermediateHashes)
		if err != nil {
			return nil, err
		}
		return &VerificationResult{Status: ValidChain, Number: progress}, nil
	}
	if errors.Is(forwardErr, common.ErrStopped) {
		progress, err := stages.GetStageProgress(tx, stages.IntermediateHashes)
		if err != nil {
			return nil, err
		}
		return &VerificationResult{Status: ValidChain, Number: progress, Err: forwardErr}, nil
	}

	invalid := errors.Is(forwardErr, stagedsync.ErrWrongStateRoot) ||
		errors.Is(forwardErr, stagedsync.ErrInvalidBlock) ||
		errors.Is(forwardErr, stagedsync.ErrWrongFork)
	if !invalid {
		return &VerificationResult{Status: ValidationError, Err: forwardErr}, nil
	}

	// the failed stage recorded a pending unwind; report it, then perform it
	// so that a subsequent verification can bisect from a consistent store
	result := &VerificationResult{Status: InvalidChain, Err: forwardErr}
	if unwindPoint := e.sync.UnwindPoint(); unwindPoint != nil {
		result.UnwindPoint = *unwindPoint
	}
	unwindHead, err := rawdb.ReadCanonicalHash(tx, result.UnwindPoint)
	if err != nil {
		return nil, err
	}
	result.UnwindHead = unwindHead
	if badBlock := e.sync.BadBlock(); badBlock != (common.Hash{}) {
		result.BadBlock = &badBlock
		// every canonical hash above the unwind point is suspect, the target
		// included
		for h := result.UnwindPoint + 1; h <= e.canonicalChain.CurrentHead().Number; h++ {
			hash, err := rawdb.ReadCanonicalHash(tx, h)
			if err != nil {
				return nil, err
			}
			if hash == (common.Hash{}) {
				break
			}
			result.BadHeaders = append(result.BadHeaders, hash)
		}
	}
	if err := e.sync.RunUnwind(tx, false); err != nil {
		return nil, fmt.Errorf("unwind after invalid chain: %w", err)
	}
	return result, nil
}

// NotifyForkChoiceUpdate commits the current write transaction, records
// headHash as the last fork choice, and disables the first-sync commit path.
func (e *EthereumExecutionModule) NotifyForkChoiceUpdate(headHash common.Hash) (bool, error) {
	tx, err := e.begin()
	if err != nil {
		return false, err
	}
	number, err := rawdb.ReadHeaderNumber(tx, headHash)
	if err != nil {
		return false, err
	}
	if number == nil {
		return false, nil
	}
	if err := rawdb.WriteForkchoiceHead(tx, headHash); err != nil {
		return false, err
	}
	if err := rawdb.WriteHeadHeaderHash(tx, headHash); err != nil {
		return false, err
	}
	if err := e.commit(); err != nil {
		return false, err
	}
	e.lastForkChoice = headHash
	e.firstSync = false
	return true, nil
}

// LastForkChoice returns the last successfully acknowledged head.
func (e *EthereumExecutionModule) LastForkChoice() common.Hash { return e.lastForkChoice }

// ExtendsLastForkChoice reports whether (number, hash) directly extends the
// last fork choice head.
func (e *EthereumExecutionModule) ExtendsLastForkChoice(number uint64, hash common.Hash) (bool, error) {
	tx, err := e.begin()
	if err != nil {
		return false, err
	}
	header := rawdb.ReadHeader(tx, hash, number)
	if header == nil {
		return false, nil
	}
	return header.ParentHash == e.lastForkChoice, nil
}

// GetHeader is a read accessor over the current transaction.
func (e *EthereumExecutionModule) GetHeader(hash common.Hash, number uint64) (*types.Header, error) {
	tx, err := e.begin()
	if err != nil {
		return nil, err
	}
	return rawdb.ReadHeader(tx, hash, number), nil
}

func (e *EthereumExecutionModule) GetCanonicalHash(number uint64) (common.Hash, error) {
	tx, err := e.begin()
	if err != nil {
		return common.Hash{}, err
	}
	return rawdb.ReadCanonicalHash(tx, number)
}

func (e *EthereumExecutionModule) GetHeaderTd(hash common.Hash, number uint64) (*big.Int, error) {
	tx, err := e.begin()
	if err != nil {
		return nil, err
	}
	return rawdb.ReadTd(tx, hash, number)
}

func (e *EthereumExecutionModule) GetBody(hash common.Hash, number uint64) (*types.Body, error) {
	tx, err := e.begin()
	if err != nil {
		return nil, err
	}
	return rawdb.ReadBody(tx, hash, number)
}

// GetBlockProgress returns how far the pipeline has verified.
func (e *EthereumExecutionModule) GetBlockProgress() (uint64, error) {
	tx, err := e.begin()
	if err != nil {
		return 0, err
	}
	return stages.GetStageProgress(tx, stages.IntermediateHashes)
}

func (e *EthereumExecutionModule) GetCanonicalHead() (BlockId, error) {
	if _, err := e.begin(); err != nil {
		return BlockId{}, err
	}
	return e.canonicalChain.CurrentHead(), nil
}

// GetLastHeaders returns up to limit headers walking back from the canonical head.
func (e *EthereumExecutionModule) GetLastHeaders(limit uint64) ([]*types.Header, error) {
	tx, err := e.begin()
	if err != nil {
		return nil, err
	}
	head := e.canonicalChain.CurrentHead()
	headers := make([]*types.Header, 0, limit)
	for i := uint64(0); i < limit && i <= head.Number; i++ {
		number := head.Number - i
		hash, err := rawdb.ReadCanonicalHash(tx, number)
		if err != nil {
			return nil, err
		}
		header := rawdb.ReadHeader(tx, hash, number)
		if header == nil {
			break
		}
		headers = append(headers, header)
	}
	return headers, nil
}
