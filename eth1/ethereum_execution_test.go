package eth1

import (
	"math/big"
	"testing"

	"github.com/erigontech/secp256k1"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/core"
	"github.com/erigontech/execution/core/vm"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/kv/memdb"
	"github.com/erigontech/execution/stagedsync"
	"github.com/erigontech/execution/types"
	"github.com/erigontech/execution/types/accounts"
)

type testEnv struct {
	module  *EthereumExecutionModule
	config  *chain.Config
	genesis *types.Block
}

func setupEngine(t *testing.T, faucet common.Address) *testEnv {
	t.Helper()
	logger := log.New()
	db := memdb.NewTestDB(t)
	genesisSpec := core.DeveloperGenesisBlock(faucet)
	genesisBlock := core.MustCommitGenesis(genesisSpec, db)
	config := genesisSpec.Config

	engine := EngineFromConfig(config, nil)
	tmpdir := t.TempDir()
	sync := stagedsync.New(
		stagedsync.DefaultStages(
			stagedsync.StageBlockHashesCfg(tmpdir),
			stagedsync.StageSendersCfg(config),
			stagedsync.StageExecuteBlocksCfg(config, engine, vm.NewTransferVM()),
			stagedsync.StageHashStateCfg(tmpdir),
			stagedsync.StageTrieCfg(true, tmpdir),
			stagedsync.StageHistoryCfg(tmpdir),
			stagedsync.StageTxLookupCfg(tmpdir),
			nil,
		),
		stagedsync.DefaultUnwindOrder,
		stagedsync.DefaultPruneOrder,
		logger,
	)
	module := NewEthereumExecutionModule(db, config, sync, logger)
	t.Cleanup(module.Rollback)
	return &testEnv{module: module, config: config, genesis: genesisBlock}
}

// emptyBlock builds a valid empty proof-of-stake block on top of parent. With
// no transactions, rewards or withdrawals the state root stays the parent's.
func (env *testEnv) emptyBlock(parent *types.Header, extra byte) *types.Block {
	withdrawalsHash := types.EmptyRootHash
	header := &types.Header{
		ParentHash:      parent.Hash(),
		UncleHash:       types.EmptyUncleHash,
		Root:            parent.Root,
		TxHash:          types.EmptyRootHash,
		ReceiptHash:     types.EmptyRootHash,
		Difficulty:      big.NewInt(0),
		Number:          new(big.Int).Add(parent.Number, big.NewInt(1)),
		GasLimit:        parent.GasLimit,
		GasUsed:         0,
		Time:            parent.Time + 12,
		Extra:           []byte{extra},
		BaseFee:         consensus.CalcBaseFee(env.config, parent),
		WithdrawalsHash: &withdrawalsHash,
	}
	return types.NewBlock(header, nil, nil, types.Withdrawals{})
}

func (env *testEnv) insertAndVerify(t *testing.T, block *types.Block) *VerificationResult {
	t.Helper()
	require.NoError(t, env.module.InsertBlock(block))
	result, err := env.module.VerifyChain(block.Hash())
	require.NoError(t, err)
	return result
}

func TestVerifyEmptyChain(t *testing.T) {
	env := setupEngine(t, common.HexToAddress("0x67b1d87101671b127f5f8714789C7192f7ad340e"))

	parent := env.genesis.Header()
	var lastHash common.Hash
	for i := 0; i < 3; i++ {
		block := env.emptyBlock(parent, byte(i))
		result := env.insertAndVerify(t, block)
		require.Equal(t, ValidChain, result.Status)
		assert.Equal(t, block.Number(), result.Number)

		ok, err := env.module.NotifyForkChoiceUpdate(block.Hash())
		require.NoError(t, err)
		require.True(t, ok)
		parent = block.Header()
		lastHash = block.Hash()
	}

	head, err := env.module.GetCanonicalHead()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), head.Number)
	assert.Equal(t, lastHash, head.Hash)

	headers, err := env.module.GetLastHeaders(2)
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, uint64(3), headers[0].Number.Uint64())
}

// The reorg scenario: two blocks A and B with the same parent P. After B wins
// fork choice, the canonical-hash table points at B and A's forking point is
// P's height.
func TestReorg(t *testing.T) {
	env := setupEngine(t, common.HexToAddress("0x67b1d87101671b127f5f8714789C7192f7ad340e"))

	blockP := env.emptyBlock(env.genesis.Header(), 0)
	result := env.insertAndVerify(t, blockP)
	require.Equal(t, ValidChain, result.Status)
	require.Equal(t, uint64(1), result.Number)
	ok, err := env.module.NotifyForkChoiceUpdate(blockP.Hash())
	require.NoError(t, err)
	require.True(t, ok)

	blockA := env.emptyBlock(blockP.Header(), 'a')
	result = env.insertAndVerify(t, blockA)
	require.Equal(t, ValidChain, result.Status)
	require.Equal(t, uint64(2), result.Number)
	canonical, err := env.module.GetCanonicalHash(2)
	require.NoError(t, err)
	require.Equal(t, blockA.Hash(), canonical)

	blockB := env.emptyBlock(blockP.Header(), 'b')
	require.NotEqual(t, blockA.Hash(), blockB.Hash())
	result = env.insertAndVerify(t, blockB)
	require.Equal(t, ValidChain, result.Status)
	require.Equal(t, uint64(2), result.Number)

	// the canonical-hash table was rewritten so canonical_hash(2) = B
	canonical, err = env.module.GetCanonicalHash(2)
	require.NoError(t, err)
	assert.Equal(t, blockB.Hash(), canonical)

	// A's branch forks off at height 1
	tx, err := env.module.begin()
	require.NoError(t, err)
	forkingPoint, err := env.module.canonicalChain.FindForkingPoint(tx, blockA.Header())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), forkingPoint)

	ok, err = env.module.NotifyForkChoiceUpdate(blockB.Hash())
	require.NoError(t, err)
	require.True(t, ok)
}

// A block advertising a wrong state root yields InvalidChain with the unwind
// point biased into the lower half of the failed segment and the offending
// block reported; verification of the good branch afterwards succeeds.
func TestWrongStateRoot(t *testing.T) {
	env := setupEngine(t, common.HexToAddress("0x67b1d87101671b127f5f8714789C7192f7ad340e"))

	blockP := env.emptyBlock(env.genesis.Header(), 0)
	result := env.insertAndVerify(t, blockP)
	require.Equal(t, ValidChain, result.Status)
	ok, err := env.module.NotifyForkChoiceUpdate(blockP.Hash())
	require.NoError(t, err)
	require.True(t, ok)

	blockGood := env.emptyBlock(blockP.Header(), 1)
	result = env.insertAndVerify(t, blockGood)
	require.Equal(t, ValidChain, result.Status)
	ok, err = env.module.NotifyForkChoiceUpdate(blockGood.Hash())
	require.NoError(t, err)
	require.True(t, ok)

	blockBad := env.emptyBlock(blockGood.Header(), 2)
	blockBad.Header().Root = common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000000")
	result = env.insertAndVerify(t, blockBad)
	require.Equal(t, InvalidChain, result.Status)
	// previous progress 2, segment width 1: unwind_point = 2 + 1/2 = 2
	assert.Equal(t, uint64(2), result.UnwindPoint)
	assert.Equal(t, blockGood.Hash(), result.UnwindHead)
	require.NotNil(t, result.BadBlock)
	assert.Equal(t, blockBad.Hash(), *result.BadBlock)
	require.Len(t, result.BadHeaders, 1)
	assert.Equal(t, blockBad.Hash(), result.BadHeaders[0])

	// a subsequent verification of the surviving branch works
	result, err = env.module.VerifyChain(blockGood.Hash())
	require.NoError(t, err)
	require.Equal(t, ValidChain, result.Status)
	assert.Equal(t, uint64(2), result.Number)
}

// A full value transfer through the pipeline: sender recovery, execution,
// hashed-state promotion and the recomputed state root all the way to
// fork-choice commit.
func TestTransferBlock(t *testing.T) {
	seckey := crypto.Keccak256([]byte("transfer block test key"))
	probe := crypto.Keccak256Hash([]byte("probe"))
	sig, err := secp256k1.Sign(probe[:], seckey)
	require.NoError(t, err)
	faucet, err := crypto.RecoverAddress(probe, sig)
	require.NoError(t, err)

	env := setupEngine(t, faucet)
	recipient := common.HexToAddress("0x8888f1F195AFa192CfeE860698584c030f4c9dB1")
	coinbase := common.HexToAddress("0x3333333333333333333333333333333333333333")

	parent := env.genesis.Header()
	baseFee := consensus.CalcBaseFee(env.config, parent)
	tip := uint256.NewInt(1_000_000_000)
	feeCap := new(uint256.Int).Add(uint256.MustFromBig(baseFee), new(uint256.Int).Lsh(tip, 1))
	value := uint256.NewInt(1_000_000_000_000_000_000) // 1 ether

	txn := &types.DynamicFeeTransaction{
		CommonTx: types.CommonTx{
			Nonce:    0,
			GasLimit: 21000,
			To:       &recipient,
			Value:    value,
		},
		ChainID: uint256.MustFromBig(env.config.ChainID),
		TipCap:  tip,
		FeeCap:  feeCap,
	}
	signer := types.LatestSigner(env.config)
	sighash := txn.SigningHash(env.config.ChainID)
	sig, err = secp256k1.Sign(sighash[:], seckey)
	require.NoError(t, err)
	txn.R.SetBytes(sig[:32])
	txn.S.SetBytes(sig[32:64])
	txn.V.SetUint64(uint64(sig[64]))
	from, err := txn.Sender(signer)
	require.NoError(t, err)
	require.Equal(t, faucet, from)

	// expected post state, computed independently
	gasUsed := uint64(21000)
	gasCost := new(uint256.Int).Mul(uint256.NewInt(gasUsed), new(uint256.Int).Add(uint256.MustFromBig(baseFee), tip))
	faucetBalance, _ := new(big.Int).SetString("100000000000000000000000000", 10)
	expectedFaucet := uint256.MustFromBig(faucetBalance)
	expectedFaucet.Sub(expectedFaucet, value)
	expectedFaucet.Sub(expectedFaucet, gasCost)

	expectedRoot := naiveStateRoot(t, map[common.Address]accountState{
		faucet:    {nonce: 1, balance: expectedFaucet},
		recipient: {balance: value},
		coinbase:  {balance: new(uint256.Int).Mul(uint256.NewInt(gasUsed), tip)},
	})

	receipts := types.Receipts{{
		Type:              types.DynamicFeeTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: gasUsed,
	}}
	withdrawalsHash := types.EmptyRootHash
	header := &types.Header{
		ParentHash:      parent.Hash(),
		UncleHash:       types.EmptyUncleHash,
		Coinbase:        coinbase,
		Root:            expectedRoot,
		TxHash:          types.DeriveSha(types.Transactions{txn}),
		ReceiptHash:     types.DeriveSha(receipts),
		Bloom:           types.CreateBloom(receipts),
		Difficulty:      big.NewInt(0),
		Number:          big.NewInt(1),
		GasLimit:        parent.GasLimit,
		GasUsed:         gasUsed,
		Time:            parent.Time + 12,
		BaseFee:         baseFee,
		WithdrawalsHash: &withdrawalsHash,
	}
	block := types.NewBlock(header, []types.Transaction{txn}, nil, types.Withdrawals{})

	result := env.insertAndVerify(t, block)
	require.Equal(t, ValidChain, result.Status, "verification failed: %v", result.Err)
	assert.Equal(t, uint64(1), result.Number)

	ok, err := env.module.NotifyForkChoiceUpdate(block.Hash())
	require.NoError(t, err)
	require.True(t, ok)
}

type accountState struct {
	nonce   uint64
	balance *uint256.Int
}

func naiveStateRoot(t *testing.T, accounts map[common.Address]accountState) common.Hash {
	t.Helper()
	keys := make([][]byte, 0, len(accounts))
	values := make([][]byte, 0, len(accounts))
	for addr, st := range accounts {
		acc := newHashingAccount(st.nonce, st.balance)
		keys = append(keys, crypto.Keccak256(addr[:]))
		values = append(values, acc)
	}
	return types.TrieRoot(keys, values)
}

func newHashingAccount(nonce uint64, balance *uint256.Int) []byte {
	acc := accounts.NewAccount()
	acc.Nonce = nonce
	if balance != nil {
		acc.Balance = *balance
	}
	enc := make([]byte, acc.EncodingLengthForHashing())
	acc.EncodeForHashing(enc)
	return enc
}
