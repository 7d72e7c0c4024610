package eth1

import (
	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/consensus/clique"
	"github.com/erigontech/execution/consensus/ethash"
	"github.com/erigontech/execution/consensus/merge"
)

// EngineFromConfig builds the consensus engine a chain config calls for,
// wrapped in the merge composite when a terminal total difficulty is set.
func EngineFromConfig(config *chain.Config, sealVerify ethash.SealVerifier) consensus.Engine {
	var inner consensus.Engine
	switch config.Consensus {
	case chain.CliqueConsensus:
		cliqueConfig := config.Clique
		if cliqueConfig == nil {
			cliqueConfig = &chain.CliqueConfig{Period: 15, Epoch: 30000}
		}
		inner = clique.New(cliqueConfig)
	case chain.NoProofConsensus:
		inner = consensus.NewNoProof()
	default:
		if sealVerify != nil {
			inner = ethash.New(sealVerify)
		} else {
			inner = ethash.NewFaker()
		}
	}
	return merge.EngineForConfig(config, inner)
}
