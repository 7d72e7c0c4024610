package stagedsync

import (
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/stagedsync/stages"
)

// ExecFunc runs one stage forward up to the pipeline target.
type ExecFunc func(firstCycle bool, badBlockUnwind bool, s *StageState, unwinder Unwinder, tx kv.RwTx, logger log.Logger) error

// UnwindFunc rolls one stage back to u.UnwindPoint.
type UnwindFunc func(firstCycle bool, u *UnwindState, s *StageState, tx kv.RwTx, logger log.Logger) error

// PruneFunc deletes historical data beyond the stage's retention.
type PruneFunc func(firstCycle bool, p *PruneState, tx kv.RwTx, logger log.Logger) error

// Stage is one step of the staged pipeline.
type Stage struct {
	// ID of the sync stage. Should not be empty and should be unique. It is
	// recommended to prefix it with reverse domain to avoid clashes (`com.example.my-stage`).
	ID stages.SyncStage
	// Description is a string that is shown in the logs.
	Description string
	// DisabledDescription shows in the log with a message if the stage is disabled.
	DisabledDescription string
	// Forward is called when the stage is executed. The main logic of the stage should be here.
	Forward ExecFunc
	// Unwind is called when the stage should be unwound. The unwind logic should be there.
	Unwind UnwindFunc
	// Prune removes historical data.
	Prune PruneFunc
	// Disabled defines if the stage is disabled. It sets up when the stage is build by its `StageBuilder`.
	Disabled bool
}

// StageState is the state of the stage.
type StageState struct {
	state       *Sync
	ID          stages.SyncStage
	BlockNumber uint64 // BlockNumber is the current block number of the stage at the beginning of the state execution.
}

func (s *StageState) LogPrefix() string { return s.state.LogPrefix() }

// Update updates the stage state (current block number) in the database.
func (s *StageState) Update(db kv.RwTx, newBlockNum uint64) error {
	return stages.SaveStageProgress(db, s.ID, newBlockNum)
}

// ExecutionAt returns the progress of the Execution stage.
func (s *StageState) ExecutionAt(db kv.Tx) (uint64, error) {
	execution, err := stages.GetStageProgress(db, stages.Execution)
	return execution, err
}

// IntermediateHashesAt returns the progress of the InterHashes stage.
func (s *StageState) IntermediateHashesAt(db kv.Tx) (uint64, error) {
	progress, err := stages.GetStageProgress(db, stages.IntermediateHashes)
	return progress, err
}

// Unwinder allows the stage to cause an unwind.
type Unwinder interface {
	// UnwindTo begins staged sync unwind to the given block.
	UnwindTo(unwindPoint uint64, badBlock common.Hash)
}

// UnwindState contains the information about unwind.
type UnwindState struct {
	ID stages.SyncStage
	// UnwindPoint is the block to unwind to.
	UnwindPoint        uint64
	CurrentBlockNumber uint64
	// If unwind is caused by a bad block, this hash is not empty
	BadBlock common.Hash
	state    *Sync
}

func (u *UnwindState) LogPrefix() string { return u.state.LogPrefix() }

// Done updates the DB state of the stage.
func (u *UnwindState) Done(db kv.RwTx) error {
	return stages.SaveStageProgress(db, u.ID, u.UnwindPoint)
}

// PruneState contains the information about pruning.
type PruneState struct {
	ID              stages.SyncStage
	ForwardProgress uint64 // progress of the stage forward move
	PruneProgress   uint64 // progress of the stage prune move
	state           *Sync
}

func (s *PruneState) LogPrefix() string { return s.state.LogPrefix() + " Prune" }

func (s *PruneState) Done(db kv.RwTx) error {
	return stages.SaveStagePruneProgress(db, s.ID, s.ForwardProgress)
}
