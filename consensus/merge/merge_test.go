package merge

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/consensus/ethash"
	"github.com/erigontech/execution/types"
)

type readerMock struct {
	config  *chain.Config
	headers map[common.Hash]*types.Header
	tds     map[common.Hash]*big.Int
}

func (m *readerMock) Config() *chain.Config { return m.config }

func (m *readerMock) GetHeader(hash common.Hash, _ uint64) *types.Header { return m.headers[hash] }

func (m *readerMock) GetHeaderByNumber(number uint64) *types.Header {
	for _, h := range m.headers {
		if h.Number.Uint64() == number {
			return h
		}
	}
	return nil
}

func (m *readerMock) GetTd(hash common.Hash, _ uint64) *big.Int { return m.tds[hash] }

func newReaderMock(ttd int64) *readerMock {
	config := &chain.Config{
		ChainID:                 big.NewInt(1),
		Consensus:               chain.EtHashConsensus,
		HomesteadBlock:          big.NewInt(0),
		TangerineWhistleBlock:   big.NewInt(0),
		SpuriousDragonBlock:     big.NewInt(0),
		ByzantiumBlock:          big.NewInt(0),
		ConstantinopleBlock:     big.NewInt(0),
		PetersburgBlock:         big.NewInt(0),
		IstanbulBlock:           big.NewInt(0),
		BerlinBlock:             big.NewInt(0),
		TerminalTotalDifficulty: big.NewInt(ttd),
	}
	return &readerMock{config: config, headers: map[common.Hash]*types.Header{}, tds: map[common.Hash]*big.Int{}}
}

func (m *readerMock) addHeader(number int64, parent common.Hash, difficulty int64, td int64) *types.Header {
	header := &types.Header{
		ParentHash: parent,
		UncleHash:  types.EmptyUncleHash,
		Root:       common.Hash{},
		Difficulty: big.NewInt(difficulty),
		Number:     big.NewInt(number),
		GasLimit:   10_000_000,
		Time:       uint64(number * 12),
		Extra:      nil,
	}
	m.headers[header.Hash()] = header
	m.tds[header.Hash()] = big.NewInt(td)
	return header
}

// A header with difficulty != 0 whose parent's total difficulty is already
// past the terminal total difficulty must be rejected.
func TestPoWBlockAfterMerge(t *testing.T) {
	m := newReaderMock(1000)
	parent := m.addHeader(10, common.Hash{}, 100, 1000) // parent TD == TTD: merge crossed

	powChild := &types.Header{
		ParentHash: parent.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Difficulty: big.NewInt(100),
		Number:     big.NewInt(11),
		GasLimit:   10_000_000,
		Time:       parent.Time + 12,
	}

	engine := New(ethash.NewFaker())
	err := engine.ValidateBlockHeader(m, powChild, false)
	require.ErrorIs(t, err, consensus.ErrPoWBlockAfterMerge)
}

// A zero-difficulty header whose parent is a non-terminal PoW header must be
// rejected; on top of the terminal PoW block it is accepted.
func TestPoSBlockBeforeMerge(t *testing.T) {
	m := newReaderMock(1000)

	// non-terminal PoW parent: own TD 900 < TTD
	nonTerminal := m.addHeader(9, common.Hash{}, 100, 900)
	posChild := &types.Header{
		ParentHash: nonTerminal.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Difficulty: big.NewInt(0),
		Number:     big.NewInt(10),
		GasLimit:   10_000_000,
		Time:       nonTerminal.Time + 12,
	}
	engine := New(ethash.NewFaker())
	err := engine.ValidateBlockHeader(m, posChild, false)
	require.ErrorIs(t, err, consensus.ErrPoSBlockBeforeMerge)

	// terminal PoW parent: parent TD 900 < TTD <= own TD 1005
	terminal := m.addHeader(10, nonTerminal.Hash(), 105, 1005)
	posChild2 := &types.Header{
		ParentHash: terminal.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Difficulty: big.NewInt(0),
		Number:     big.NewInt(11),
		GasLimit:   10_000_000,
		Time:       terminal.Time + 12,
	}
	err = engine.ValidateBlockHeader(m, posChild2, false)
	require.NoError(t, err)
}

func TestPoSOnPoSParent(t *testing.T) {
	m := newReaderMock(1000)
	parent := m.addHeader(20, common.Hash{}, 0, 1005)
	child := &types.Header{
		ParentHash: parent.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Difficulty: big.NewInt(0),
		Number:     big.NewInt(21),
		GasLimit:   10_000_000,
		Time:       parent.Time + 12,
	}
	engine := New(ethash.NewFaker())
	require.NoError(t, engine.ValidateBlockHeader(m, child, false))

	// nonce must be zero after the merge
	badNonce := *child
	badNonce.Nonce = types.EncodeNonce(1)
	require.Error(t, engine.ValidateBlockHeader(m, badNonce.Copy(), false))
}

func TestIsPoSHeader(t *testing.T) {
	assert.True(t, IsPoSHeader(&types.Header{Difficulty: big.NewInt(0)}))
	assert.False(t, IsPoSHeader(&types.Header{Difficulty: big.NewInt(1)}))
}

func TestIsTTDReached(t *testing.T) {
	m := newReaderMock(1000)
	below := m.addHeader(1, common.Hash{}, 500, 500)
	at := m.addHeader(2, below.Hash(), 500, 1000)

	reached, err := IsTTDReached(m, below.Hash(), 1)
	require.NoError(t, err)
	assert.False(t, reached)

	reached, err = IsTTDReached(m, at.Hash(), 2)
	require.NoError(t, err)
	assert.True(t, reached)

	// unknown parent TD is an error, not a verdict
	_, err = IsTTDReached(m, common.HexToHash("0xdead"), 3)
	require.ErrorIs(t, err, consensus.ErrUnknownParentTotalDifficulty)
}
