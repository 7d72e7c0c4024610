package core_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/memdb"
	"github.com/erigontech/execution/stagedsync/stages"
	"github.com/erigontech/execution/trie"
)

var faucet = common.HexToAddress("0x67b1d87101671b127f5f8714789C7192f7ad340e")

func TestWriteGenesisBlock(t *testing.T) {
	db := memdb.NewTestDB(t)
	genesis := core.DeveloperGenesisBlock(faucet)
	block := core.MustCommitGenesis(genesis, db)

	require.NoError(t, db.View(context.Background(), func(tx kv.Tx) error {
		hash, err := rawdb.ReadCanonicalHash(tx, 0)
		require.NoError(t, err)
		assert.Equal(t, block.Hash(), hash)

		header := rawdb.ReadHeader(tx, hash, 0)
		require.NotNil(t, header)
		assert.Equal(t, uint64(0), header.Number.Uint64())

		// chain config persisted under the genesis key
		config, err := rawdb.ReadChainConfig(tx, hash)
		require.NoError(t, err)
		require.NotNil(t, config)
		assert.Equal(t, genesis.Config.ChainID.Uint64(), config.ChainID.Uint64())

		// total difficulty of the genesis is its own difficulty
		td, err := rawdb.ReadTd(tx, hash, 0)
		require.NoError(t, err)
		assert.Equal(t, genesis.Difficulty, td)

		// stage progress initialized to 0 for every stage
		for _, stage := range stages.AllStages {
			progress, err := stages.GetStageProgress(tx, stage)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), progress)
		}

		// the funded account landed in the plain state
		acc, err := state.NewPlainStateReader(tx).ReadAccountData(faucet)
		require.NoError(t, err)
		require.NotNil(t, acc)
		assert.False(t, acc.Balance.IsZero())

		// the header's state root is reproducible from the hashed state by
		// the flat-DB trie loader
		root, err := trie.CalcRoot("test", tx)
		require.NoError(t, err)
		assert.Equal(t, header.Root, root)
		return nil
	}))
}

func TestGenesisIdempotent(t *testing.T) {
	db := memdb.NewTestDB(t)
	genesis := core.DeveloperGenesisBlock(faucet)
	block1 := core.MustCommitGenesis(genesis, db)
	block2 := core.MustCommitGenesis(genesis, db)
	assert.Equal(t, block1.Hash(), block2.Hash())
}

func TestGenesisMismatch(t *testing.T) {
	db := memdb.NewTestDB(t)
	core.MustCommitGenesis(core.DeveloperGenesisBlock(faucet), db)

	other := core.DeveloperGenesisBlock(common.HexToAddress("0xdead"))
	tx, err := db.BeginRw(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	_, _, err = core.WriteGenesisBlock(tx, other)
	require.Error(t, err)
	var mismatch *core.ErrGenesisMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestGenesisWithStorageAndCode(t *testing.T) {
	db := memdb.NewTestDB(t)
	genesis := core.DeveloperGenesisBlock(faucet)
	genesis.Alloc[common.HexToAddress("0x01")] = core.GenesisAccount{
		Balance: big.NewInt(1),
		Code:    []byte{0x60, 0x00},
		Storage: map[common.Hash]common.Hash{
			common.HexToHash("0x01"): common.HexToHash("0x2a"),
			common.HexToHash("0x02"): common.HexToHash("0xff"),
		},
	}
	block := core.MustCommitGenesis(genesis, db)

	require.NoError(t, db.View(context.Background(), func(tx kv.Tx) error {
		root, err := trie.CalcRoot("test", tx)
		require.NoError(t, err)
		assert.Equal(t, block.Header().Root, root)
		return nil
	}))
}

func TestUnmarshalGenesis(t *testing.T) {
	data := []byte(`{
		"config": {"chainId": 1337, "homesteadBlock": 0},
		"nonce": "0x42",
		"timestamp": "0x5",
		"gasLimit": "0x1388",
		"difficulty": "0x400000000",
		"alloc": {
			"0x67b1d87101671b127f5f8714789C7192f7ad340e": {"balance": "0xde0b6b3a7640000"}
		}
	}`)
	g, err := core.UnmarshalGenesis(data)
	require.NoError(t, err)
	require.NotNil(t, g.Config)
	assert.Equal(t, uint64(1337), g.Config.ChainID.Uint64())
	assert.Equal(t, uint64(0x42), g.Nonce)
	assert.Equal(t, uint64(5), g.Timestamp)
	assert.Equal(t, big.NewInt(17179869184), g.Difficulty)
	acc, ok := g.Alloc[faucet]
	require.True(t, ok)
	assert.Equal(t, "1000000000000000000", acc.Balance.String())

	// missing chainId: absent config
	g, err = core.UnmarshalGenesis([]byte(`{"config": {}, "alloc": {}}`))
	require.NoError(t, err)
	assert.Nil(t, g.Config)
}
