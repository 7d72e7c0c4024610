// Package stages enumerates the pipeline stages and persists their progress.
package stages

import (
	"encoding/binary"
	"fmt"

	"github.com/erigontech/execution/kv"
)

// SyncStage represents one stage of the staged pipeline. The value is the
// stage's unique key in the progress table.
type SyncStage string

var (
	Headers             SyncStage = "Headers"             // Headers are written by the execution engine's insert path
	BlockHashes         SyncStage = "BlockHashes"         // Fills the header_hash -> number table
	Bodies              SyncStage = "Bodies"              // Bodies are written by the execution engine's insert path
	Senders             SyncStage = "Senders"             // "From" recovered from signatures
	Execution           SyncStage = "Execution"           // Executing each block w/o building a trie
	HashState           SyncStage = "HashState"           // Apply Keccak256 to all the keys in the state
	IntermediateHashes  SyncStage = "IntermediateHashes"  // Generate intermediate hashes, calculate the state root hash
	AccountHistoryIndex SyncStage = "AccountHistoryIndex" // Generating history index for accounts
	StorageHistoryIndex SyncStage = "StorageHistoryIndex" // Generating history index for storage
	TxLookup            SyncStage = "TxLookup"            // Generating transactions lookup index
	Finish              SyncStage = "Finish"              // Nominal stage after all other stages
)

var AllStages = []SyncStage{
	Headers,
	BlockHashes,
	Bodies,
	Senders,
	Execution,
	HashState,
	IntermediateHashes,
	AccountHistoryIndex,
	StorageHistoryIndex,
	TxLookup,
	Finish,
}

// GetStageProgress retrieves saved progress of the given sync stage.
func GetStageProgress(db kv.Tx, stage SyncStage) (uint64, error) {
	v, err := db.GetOne(kv.SyncStageProgress, []byte(stage))
	if err != nil {
		return 0, err
	}
	return unmarshalData(v)
}

// SaveStageProgress saves the progress of the given stage.
func SaveStageProgress(db kv.RwTx, stage SyncStage, progress uint64) error {
	return db.Put(kv.SyncStageProgress, []byte(stage), marshalData(progress))
}

// GetStagePruneProgress retrieves the prune watermark of the given stage.
func GetStagePruneProgress(db kv.Tx, stage SyncStage) (uint64, error) {
	v, err := db.GetOne(kv.SyncStageProgress, []byte("prune_"+stage))
	if err != nil {
		return 0, err
	}
	return unmarshalData(v)
}

func SaveStagePruneProgress(db kv.RwTx, stage SyncStage, progress uint64) error {
	return db.Put(kv.SyncStageProgress, []byte("prune_"+stage), marshalData(progress))
}

func marshalData(blockNumber uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, blockNumber)
	return enc
}

func unmarshalData(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) < 8 {
		return 0, fmt.Errorf("value must be at least 8 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint64(data[:8]), nil
}
