package types

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/erigontech/secp256k1"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/crypto"
)

// The mainnet genesis header is made of well-known constants; its hash pins
// the bit-exactness of the header encoding.
func TestMainnetGenesisHeaderHash(t *testing.T) {
	header := &Header{
		ParentHash:  common.Hash{},
		UncleHash:   EmptyUncleHash,
		Coinbase:    common.Address{},
		Root:        common.HexToHash("0xd7f8974fb5ac78d9ac099b9ad5018bedc2ce0a72dad1827a1709da30580f0544"),
		TxHash:      EmptyRootHash,
		ReceiptHash: EmptyRootHash,
		Difficulty:  big.NewInt(17179869184),
		Number:      big.NewInt(0),
		GasLimit:    5000,
		GasUsed:     0,
		Time:        0,
		Extra:       common.FromHex("0x11bbe8db4e347b4e8c937c1c8370e4b5ed33adb3db69cbdb7a38e1e50b1b82fa"),
		MixDigest:   common.Hash{},
		Nonce:       EncodeNonce(66),
	}
	assert.Equal(t,
		common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3"),
		header.Hash())
}

func TestHeaderRoundTrip(t *testing.T) {
	baseFee := big.NewInt(875000000)
	withdrawalsHash := common.HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")
	headers := []*Header{
		{
			ParentHash: common.HexToHash("0x01"), UncleHash: EmptyUncleHash,
			Coinbase: common.HexToAddress("0x5555"), Root: common.HexToHash("0x02"),
			TxHash: EmptyRootHash, ReceiptHash: EmptyRootHash,
			Difficulty: big.NewInt(131072), Number: big.NewInt(1), GasLimit: 8000000,
			GasUsed: 21000, Time: 1438269988, Extra: []byte("geth"), Nonce: EncodeNonce(0x539),
		},
		{
			ParentHash: common.HexToHash("0x03"), UncleHash: EmptyUncleHash,
			Root: common.HexToHash("0x04"), TxHash: EmptyRootHash, ReceiptHash: EmptyRootHash,
			Difficulty: big.NewInt(0), Number: big.NewInt(17034870), GasLimit: 30000000,
			GasUsed: 12000000, Time: 1681338455, Extra: nil,
			BaseFee: baseFee, WithdrawalsHash: &withdrawalsHash,
		},
	}
	for _, header := range headers {
		var buf bytes.Buffer
		require.NoError(t, header.EncodeRLP(&buf))
		require.Equal(t, header.EncodingSize(), buf.Len())

		decoded := &Header{}
		pos, err := DecodeHeaderRLP(buf.Bytes(), 0, decoded)
		require.NoError(t, err)
		require.Equal(t, buf.Len(), pos)
		assert.Equal(t, header.Hash(), decoded.Hash())
		assert.Equal(t, header.Number.Uint64(), decoded.Number.Uint64())
		assert.True(t, bytes.Equal(header.Extra, decoded.Extra))
		if header.BaseFee != nil {
			require.NotNil(t, decoded.BaseFee)
			assert.Equal(t, header.BaseFee.Uint64(), decoded.BaseFee.Uint64())
		}
	}
}

func sampleTransactions(t *testing.T) []Transaction {
	t.Helper()
	to := common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7")
	return []Transaction{
		&LegacyTx{
			CommonTx: CommonTx{Nonce: 3, GasLimit: 21000, To: &to, Value: uint256.NewInt(100), Data: nil},
			GasPrice: uint256.NewInt(1000000000),
		},
		&LegacyTx{
			CommonTx: CommonTx{Nonce: 0, GasLimit: 500000, To: nil, Value: uint256.NewInt(0), Data: bytes.Repeat([]byte{0x60}, 200)},
			GasPrice: uint256.NewInt(2000000000),
		},
		&AccessListTx{
			LegacyTx: LegacyTx{
				CommonTx: CommonTx{Nonce: 7, GasLimit: 60000, To: &to, Value: uint256.NewInt(42), Data: []byte{1, 2, 3}},
				GasPrice: uint256.NewInt(1500000000),
			},
			ChainID: uint256.NewInt(1337),
			AccessList: AccessList{{
				Address:     to,
				StorageKeys: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
			}},
		},
		&DynamicFeeTransaction{
			CommonTx:   CommonTx{Nonce: 1, GasLimit: 21000, To: &to, Value: uint256.NewInt(5), Data: nil},
			ChainID:    uint256.NewInt(1337),
			TipCap:     uint256.NewInt(1000000000),
			FeeCap:     uint256.NewInt(3000000000),
			AccessList: nil,
		},
	}
}

func TestTransactionWireRoundTrip(t *testing.T) {
	for i, txn := range sampleTransactions(t) {
		var buf bytes.Buffer
		require.NoError(t, txn.MarshalBinary(&buf), "txn %d", i)

		decoded, err := DecodeTransaction(buf.Bytes())
		require.NoError(t, err, "txn %d", i)
		assert.Equal(t, txn.Type(), decoded.Type())
		assert.Equal(t, txn.GetNonce(), decoded.GetNonce())
		assert.Equal(t, txn.GetGasLimit(), decoded.GetGasLimit())
		assert.Equal(t, txn.GetValue(), decoded.GetValue())
		assert.Equal(t, txn.Hash(), decoded.Hash())

		// re-encode: byte-exact
		var buf2 bytes.Buffer
		require.NoError(t, decoded.MarshalBinary(&buf2))
		assert.Equal(t, buf.Bytes(), buf2.Bytes())
	}
}

func TestTransactionBodyContextRoundTrip(t *testing.T) {
	for i, txn := range sampleTransactions(t) {
		var buf bytes.Buffer
		require.NoError(t, txn.EncodeRLP(&buf), "txn %d", i)

		decoded, err := DecodeWrappedTransaction(buf.Bytes())
		require.NoError(t, err, "txn %d", i)
		assert.Equal(t, txn.Hash(), decoded.Hash())
	}
}

func TestBodyRoundTrip(t *testing.T) {
	txns := sampleTransactions(t)
	uncle := &Header{
		ParentHash: common.HexToHash("0x09"), UncleHash: EmptyUncleHash,
		Root: common.HexToHash("0x0a"), TxHash: EmptyRootHash, ReceiptHash: EmptyRootHash,
		Difficulty: big.NewInt(131072), Number: big.NewInt(5), GasLimit: 8000000,
		Time: 100, Nonce: EncodeNonce(1),
	}
	body := &Body{Transactions: txns, Uncles: []*Header{uncle}}

	encoded := body.MarshalRLP()
	decoded, err := DecodeBodyRLP(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Transactions, len(txns))
	for i := range txns {
		assert.Equal(t, txns[i].Hash(), decoded.Transactions[i].Hash())
	}
	require.Len(t, decoded.Uncles, 1)
	assert.Equal(t, uncle.Hash(), decoded.Uncles[0].Hash())
	assert.Nil(t, decoded.Withdrawals)

	// with withdrawals
	body.Withdrawals = Withdrawals{{Index: 1, Validator: 2, Address: common.HexToAddress("0x42"), Amount: 1000}}
	decoded, err = DecodeBodyRLP(body.MarshalRLP())
	require.NoError(t, err)
	require.Len(t, decoded.Withdrawals, 1)
	assert.Equal(t, uint64(1000), decoded.Withdrawals[0].Amount)
}

func TestBodyForStorageRoundTrip(t *testing.T) {
	bfs := &BodyForStorage{BaseTxnID: 77, TxCount: 3}
	var decoded BodyForStorage
	require.NoError(t, DecodeBodyForStorage(bfs.MarshalRLP(), &decoded))
	assert.Equal(t, bfs.BaseTxnID, decoded.BaseTxnID)
	assert.Equal(t, bfs.TxCount, decoded.TxCount)
}

func signTxn(t *testing.T, txn Transaction, signer *Signer, seckey []byte) common.Address {
	t.Helper()
	sighash := txn.SigningHash(signer.ChainID())
	sig, err := secp256k1.Sign(sighash[:], seckey)
	require.NoError(t, err)

	expected, err := crypto.RecoverAddress(sighash, sig)
	require.NoError(t, err)

	v, r, s := txn.RawSignatureValues()
	r.SetBytes(sig[:32])
	s.SetBytes(sig[32:64])
	switch txn.Type() {
	case LegacyTxType:
		if signer.ChainID() != nil && signer.ChainID().Sign() != 0 {
			// v = 35 + 2*chainID + parity
			vBig := new(big.Int).Lsh(signer.ChainID(), 1)
			vBig.Add(vBig, big.NewInt(35+int64(sig[64])))
			v.SetFromBig(vBig)
		} else {
			v.SetUint64(27 + uint64(sig[64]))
		}
	default:
		v.SetUint64(uint64(sig[64]))
	}
	return expected
}

func TestSenderRecovery(t *testing.T) {
	seckey := crypto.Keccak256([]byte("sender recovery test key")) // deterministic 32 bytes
	config := chain.TestChainConfig
	signer := LatestSigner(config)

	for i, txn := range sampleTransactions(t) {
		expected := signTxn(t, txn, signer, seckey)
		from, err := txn.Sender(signer)
		require.NoError(t, err, "txn %d", i)
		assert.Equal(t, expected, from, "txn %d", i)

		// the sender is cached
		cached, ok := txn.GetSender()
		require.True(t, ok)
		assert.Equal(t, expected, cached)
	}
}

func TestReceiptsDeriveSha(t *testing.T) {
	require.Equal(t, EmptyRootHash, DeriveSha(Receipts{}))
	require.Equal(t, EmptyRootHash, DeriveSha(Transactions{}))

	receipts := Receipts{
		{Type: LegacyTxType, Status: ReceiptStatusSuccessful, CumulativeGasUsed: 21000},
		{Type: DynamicFeeTxType, Status: ReceiptStatusFailed, CumulativeGasUsed: 42000},
	}
	root := DeriveSha(receipts)
	require.NotEqual(t, EmptyRootHash, root)
	// deterministic
	require.Equal(t, root, DeriveSha(receipts))
}

func TestCreateBloom(t *testing.T) {
	receipts := Receipts{{
		Type: LegacyTxType, Status: ReceiptStatusSuccessful, CumulativeGasUsed: 21000,
		Logs: Logs{{
			Address: common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7"),
			Topics:  []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		}},
	}}
	bloom := CreateBloom(receipts)
	require.NotEqual(t, Bloom{}, bloom)
	// the empty receipt set gives the empty bloom
	require.Equal(t, Bloom{}, CreateBloom(Receipts{}))
}
