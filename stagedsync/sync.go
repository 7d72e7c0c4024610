package stagedsync

import (
	"errors"
	"fmt"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/metrics"
	"github.com/erigontech/execution/stagedsync/stages"
)

// Pipeline-level failure classes. Stages wrap these so the sync runner and the
// engine above can translate them into verification results.
var (
	// ErrWrongStateRoot: the state root computed by the InterHashes stage
	// does not match the header.
	ErrWrongStateRoot = errors.New("wrong trie root")
	// ErrInvalidBlock: a block failed validation or execution.
	ErrInvalidBlock = errors.New("invalid block")
	// ErrWrongFork: the pipeline advanced along a branch that lost fork choice.
	ErrWrongFork = errors.New("wrong fork")
	// ErrInvalidProgress: a stage's recorded progress contradicts its input.
	ErrInvalidProgress = errors.New("invalid progress")
)

// Sync runs a deterministic, totally ordered list of stages. Forward order is
// the stage list order; unwinds run in the configured unwind order.
type Sync struct {
	unwindPoint     *uint64 // used to run stages
	prevUnwindPoint *uint64 // used to get value from outside of staged sync after cycle (for example to notify RPCDaemon)
	badBlock        common.Hash
	prevBadBlock    common.Hash

	stages       []*Stage
	unwindOrder  []*Stage
	pruningOrder []*Stage
	currentStage uint
	logPrefixes  []string
	logger       log.Logger

	stopCh <-chan struct{}
}

type UnwindOrder []stages.SyncStage
type PruneOrder []stages.SyncStage

func New(stagesList []*Stage, unwindOrder UnwindOrder, pruneOrder PruneOrder, logger log.Logger) *Sync {
	unwindStages := make([]*Stage, len(unwindOrder))
	for i, stageID := range unwindOrder {
		for _, s := range stagesList {
			if s.ID == stageID {
				unwindStages[i] = s
				break
			}
		}
	}
	pruneStages := make([]*Stage, len(pruneOrder))
	for i, stageID := range pruneOrder {
		for _, s := range stagesList {
			if s.ID == stageID {
				pruneStages[i] = s
				break
			}
		}
	}
	logPrefixes := make([]string, len(stagesList))
	for i := range stagesList {
		logPrefixes[i] = fmt.Sprintf("%d/%d %s", i+1, len(stagesList), stagesList[i].ID)
	}

	return &Sync{
		stages:       stagesList,
		currentStage: 0,
		unwindOrder:  unwindStages,
		pruningOrder: pruneStages,
		logPrefixes:  logPrefixes,
		logger:       logger,
	}
}

func (s *Sync) Len() int                  { return len(s.stages) }
func (s *Sync) PrevUnwindPoint() *uint64  { return s.prevUnwindPoint }
func (s *Sync) PrevBadBlock() common.Hash { return s.prevBadBlock }

// UnwindPoint returns the pending unwind point recorded by a failed stage,
// nil when no unwind is pending.
func (s *Sync) UnwindPoint() *uint64 { return s.unwindPoint }

// BadBlock returns the pending bad-block hash, empty when none was recorded.
func (s *Sync) BadBlock() common.Hash { return s.badBlock }

// SetStopCh installs the process-wide stop channel checked inside hot loops.
func (s *Sync) SetStopCh(quit <-chan struct{}) { s.stopCh = quit }

func (s *Sync) QuitCh() <-chan struct{} { return s.stopCh }

func (s *Sync) NewUnwindState(id stages.SyncStage, unwindPoint, currentProgress uint64) *UnwindState {
	return &UnwindState{id, unwindPoint, currentProgress, common.Hash{}, s}
}

func (s *Sync) NextStage() {
	if s == nil {
		return
	}
	s.currentStage++
}

// UnwindTo records a pending unwind; the next Run (or RunUnwind) performs it.
func (s *Sync) UnwindTo(unwindPoint uint64, badBlock common.Hash) {
	s.logger.Info("UnwindTo", "block", unwindPoint, "bad_block_hash", badBlock.String())
	s.unwindPoint = &unwindPoint
	s.badBlock = badBlock
}

func (s *Sync) IsDone() bool {
	return s.currentStage >= uint(len(s.stages)) && s.unwindPoint == nil
}

func (s *Sync) LogPrefix() string {
	if s == nil {
		return ""
	}
	if s.currentStage >= uint(len(s.logPrefixes)) {
		return ""
	}
	return s.logPrefixes[s.currentStage]
}

func (s *Sync) SetCurrentStage(id stages.SyncStage) error {
	for i, stage := range s.stages {
		if stage.ID == id {
			s.currentStage = uint(i)
			return nil
		}
	}
	return fmt.Errorf("stage not found with id: %v", id)
}

func (s *Sync) StageState(stage stages.SyncStage, tx kv.Tx) (*StageState, error) {
	blockNum, err := stages.GetStageProgress(tx, stage)
	if err != nil {
		return nil, err
	}
	return &StageState{s, stage, blockNum}, nil
}

// RunUnwind performs the pending unwind only.
func (s *Sync) RunUnwind(tx kv.RwTx, firstCycle bool) error {
	if s.unwindPoint == nil {
		return nil
	}
	for j := 0; j < len(s.unwindOrder); j++ {
		if s.unwindOrder[j] == nil || s.unwindOrder[j].Disabled || s.unwindOrder[j].Unwind == nil {
			continue
		}
		if err := s.unwindStage(firstCycle, s.unwindOrder[j], tx); err != nil {
			return err
		}
	}
	s.prevUnwindPoint = s.unwindPoint
	s.prevBadBlock = s.badBlock
	s.unwindPoint = nil
	s.badBlock = common.Hash{}
	if err := s.SetCurrentStage(s.stages[0].ID); err != nil {
		return err
	}
	return nil
}

// Run executes the pipeline: pending unwinds first, then every stage in order
// up to the target recorded in the Headers progress. On a bad-block unwind the
// loop stops after the unwind so the caller can report the result upstream.
func (s *Sync) Run(tx kv.RwTx, firstCycle bool) error {
	s.prevUnwindPoint = nil
	s.prevBadBlock = common.Hash{}

	for !s.IsDone() {
		var badBlockUnwind bool
		if s.unwindPoint != nil {
			for j := 0; j < len(s.unwindOrder); j++ {
				if s.unwindOrder[j] == nil || s.unwindOrder[j].Disabled || s.unwindOrder[j].Unwind == nil {
					continue
				}
				if err := s.unwindStage(firstCycle, s.unwindOrder[j], tx); err != nil {
					return err
				}
			}
			s.prevUnwindPoint = s.unwindPoint
			s.prevBadBlock = s.badBlock
			s.unwindPoint = nil
			if s.badBlock != (common.Hash{}) {
				badBlockUnwind = true
			}
			s.badBlock = common.Hash{}
			if err := s.SetCurrentStage(s.stages[0].ID); err != nil {
				return err
			}
			// If there were unwinds at the start, a heavier but invalid chain
			// may be present, so we relax the rules for the first stage
			firstCycle = false
		}
		if badBlockUnwind {
			// The current step needs to stop so the corresponding result can
			// be reported upstream before anything moves forward again.
			break
		}

		stage := s.stages[s.currentStage]
		if stage.Disabled || stage.Forward == nil {
			s.logger.Trace(fmt.Sprintf("%s disabled. %s", stage.ID, stage.DisabledDescription))
			s.NextStage()
			continue
		}
		if err := s.runStage(stage, tx, firstCycle, badBlockUnwind); err != nil {
			return err
		}
		s.NextStage()
	}

	if err := s.SetCurrentStage(s.stages[0].ID); err != nil {
		return err
	}
	s.currentStage = 0
	return nil
}

// RunPrune runs the pruning of every stage in the prune order.
func (s *Sync) RunPrune(tx kv.RwTx, firstCycle bool) error {
	for i := 0; i < len(s.pruningOrder); i++ {
		if s.pruningOrder[i] == nil || s.pruningOrder[i].Disabled || s.pruningOrder[i].Prune == nil {
			continue
		}
		if err := s.pruneStage(firstCycle, s.pruningOrder[i], tx); err != nil {
			return err
		}
	}
	if err := s.SetCurrentStage(s.stages[0].ID); err != nil {
		return err
	}
	s.currentStage = 0
	return nil
}

func (s *Sync) runStage(stage *Stage, tx kv.RwTx, firstCycle bool, badBlockUnwind bool) (err error) {
	start := time.Now()
	stageState, err := s.StageState(stage.ID, tx)
	if err != nil {
		return err
	}

	if err = stage.Forward(firstCycle, badBlockUnwind, stageState, s, tx, s.logger); err != nil {
		wrappedError := fmt.Errorf("[%s] %w", s.LogPrefix(), err)
		s.logger.Debug("Error while executing stage", "err", wrappedError)
		return wrappedError
	}
	if progress, err := stages.GetStageProgress(tx, stage.ID); err == nil {
		metrics.StageProgress(string(stage.ID), progress)
	}

	took := time.Since(start)
	logPrefix := s.LogPrefix()
	if took > 60*time.Second {
		s.logger.Info(fmt.Sprintf("[%s] DONE", logPrefix), "in", took)
	} else {
		s.logger.Debug(fmt.Sprintf("[%s] DONE", logPrefix), "in", took)
	}
	return nil
}

func (s *Sync) unwindStage(firstCycle bool, stage *Stage, tx kv.RwTx) error {
	start := time.Now()
	s.logger.Trace("Unwind...", "stage", stage.ID)
	stageState, err := s.StageState(stage.ID, tx)
	if err != nil {
		return err
	}

	unwind := s.NewUnwindState(stage.ID, *s.unwindPoint, stageState.BlockNumber)
	unwind.BadBlock = s.badBlock

	if stageState.BlockNumber <= unwind.UnwindPoint {
		return nil
	}

	if err = s.SetCurrentStage(stage.ID); err != nil {
		return err
	}

	if err = stage.Unwind(firstCycle, unwind, stageState, tx, s.logger); err != nil {
		return fmt.Errorf("[%s] %w", s.LogPrefix(), err)
	}

	if took := time.Since(start); took > 60*time.Second {
		s.logger.Info(fmt.Sprintf("[%s] Unwind done", s.LogPrefix()), "in", took)
	}
	return nil
}

func (s *Sync) pruneStage(firstCycle bool, stage *Stage, tx kv.RwTx) error {
	start := time.Now()
	s.logger.Trace("Prune...", "stage", stage.ID)

	stageState, err := s.StageState(stage.ID, tx)
	if err != nil {
		return err
	}
	pruneProgress, err := stages.GetStagePruneProgress(tx, stage.ID)
	if err != nil {
		return err
	}
	prune := &PruneState{stage.ID, stageState.BlockNumber, pruneProgress, s}
	if err = s.SetCurrentStage(stage.ID); err != nil {
		return err
	}

	if err = stage.Prune(firstCycle, prune, tx, s.logger); err != nil {
		return fmt.Errorf("[%s] %w", s.LogPrefix(), err)
	}

	if took := time.Since(start); took > 60*time.Second {
		s.logger.Info(fmt.Sprintf("[%s] Prune done", s.LogPrefix()), "in", took)
	}
	return nil
}

// DisableStages - including their unwinds.
func (s *Sync) DisableStages(ids ...stages.SyncStage) {
	for i := range s.stages {
		for _, id := range ids {
			if s.stages[i].ID != id {
				continue
			}
			s.stages[i].Disabled = true
		}
	}
}

func (s *Sync) EnableStages(ids ...stages.SyncStage) {
	for i := range s.stages {
		for _, id := range ids {
			if s.stages[i].ID != id {
				continue
			}
			s.stages[i].Disabled = false
		}
	}
}

// MockExecFunc replaces a stage's forward function, for tests.
func (s *Sync) MockExecFunc(id stages.SyncStage, f ExecFunc) {
	for i := range s.stages {
		if s.stages[i].ID == id {
			s.stages[i].Forward = f
		}
	}
}
