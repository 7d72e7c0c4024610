// Package metrics exposes the execution core's gauges through prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Enabled gates metric updates in hot paths.
var Enabled = true

var (
	// SyncStageProgress tracks the progress block number per stage.
	SyncStageProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_stage_progress",
		Help: "Progress block number per pipeline stage",
	}, []string{"stage"})

	// DBSize is the size of the database file.
	DBSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_size_bytes",
		Help: "Size of the chaindata database",
	})

	// ChainHead is the block number of the verified head.
	ChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chain_head_block",
		Help: "Block number of the verified chain head",
	})
)

// StageProgress records the progress of one stage.
func StageProgress(stage string, blockNum uint64) {
	if !Enabled {
		return
	}
	SyncStageProgress.WithLabelValues(stage).Set(float64(blockNum))
}
