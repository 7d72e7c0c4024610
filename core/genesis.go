package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"
	jsoniter "github.com/json-iterator/go"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/chain/networkname"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/kv/dbutils"
	"github.com/erigontech/execution/params"
	"github.com/erigontech/execution/stagedsync/stages"
	"github.com/erigontech/execution/types"
	"github.com/erigontech/execution/types/accounts"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GenesisAccount is an account in the state of the genesis block.
type GenesisAccount struct {
	Code    []byte                      `json:"code,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
	Balance *big.Int                    `json:"balance"`
	Nonce   uint64                      `json:"nonce,omitempty"`
}

// GenesisAlloc specifies the initial state of a genesis block.
type GenesisAlloc map[common.Address]GenesisAccount

// Genesis specifies the header fields and state of a genesis block. Its
// output contract: initial accounts, difficulty, gas limit and the chain
// config persisted under the genesis key.
type Genesis struct {
	Config     *chain.Config `json:"config"`
	Nonce      uint64        `json:"nonce"`
	Timestamp  uint64        `json:"timestamp"`
	ExtraData  []byte        `json:"extraData"`
	GasLimit   uint64        `json:"gasLimit"`
	Difficulty *big.Int      `json:"difficulty"`
	Mixhash    common.Hash   `json:"mixHash"`
	Coinbase   common.Address `json:"coinbase"`
	Alloc      GenesisAlloc  `json:"alloc"`
	BaseFee    *big.Int      `json:"baseFeePerGas,omitempty"`
}

var ErrGenesisNoConfig = errors.New("genesis has no chain configuration")

// ErrGenesisMismatch is raised on reopening a database initialized with a
// different genesis block.
type ErrGenesisMismatch struct {
	Stored, New common.Hash
}

func (e *ErrGenesisMismatch) Error() string {
	return fmt.Sprintf("database contains incompatible genesis (have %x, new %x)", e.Stored, e.New)
}

// DeveloperGenesisBlock is an all-forks-active chain with a prefunded account.
func DeveloperGenesisBlock(faucet common.Address) *Genesis {
	balance, _ := new(big.Int).SetString("100000000000000000000000000", 10)
	return &Genesis{
		Config:     chain.AllProtocolChanges,
		GasLimit:   10000000,
		Difficulty: big.NewInt(0),
		Timestamp:  0,
		Alloc: GenesisAlloc{
			faucet: {Balance: balance},
		},
	}
}

// ToBlock derives the genesis block, computing the state root over the alloc.
func (g *Genesis) ToBlock() *types.Block {
	root := g.stateRoot()
	head := &types.Header{
		Number:      new(big.Int),
		Nonce:       types.EncodeNonce(g.Nonce),
		Time:        g.Timestamp,
		ParentHash:  common.Hash{},
		Extra:       g.ExtraData,
		GasLimit:    g.GasLimit,
		GasUsed:     0,
		Difficulty:  g.Difficulty,
		MixDigest:   g.Mixhash,
		Coinbase:    g.Coinbase,
		Root:        root,
		UncleHash:   types.EmptyUncleHash,
		TxHash:      types.EmptyRootHash,
		ReceiptHash: types.EmptyRootHash,
	}
	if g.GasLimit == 0 {
		head.GasLimit = params.GenesisGasLimit
	}
	if g.Difficulty == nil {
		head.Difficulty = new(big.Int).SetUint64(params.GenesisDifficulty)
	}
	if g.Config != nil && g.Config.IsLondon(0) {
		if g.BaseFee != nil {
			head.BaseFee = g.BaseFee
		} else {
			head.BaseFee = new(big.Int).SetUint64(params.InitialBaseFee)
		}
	}
	if g.Config != nil && g.Config.IsShanghai(g.Timestamp) {
		withdrawalsHash := types.EmptyRootHash
		head.WithdrawalsHash = &withdrawalsHash
	}
	return types.NewBlock(head, nil, nil, nil)
}

// stateRoot computes the account trie root of the alloc, including each
// account's storage trie root.
func (g *Genesis) stateRoot() common.Hash {
	addrs := make([]common.Address, 0, len(g.Alloc))
	for addr := range g.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return string(addrs[i][:]) < string(addrs[j][:]) })

	keys := make([][]byte, 0, len(addrs))
	values := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		alloc := g.Alloc[addr]
		acc := allocAccount(alloc)
		addrHash := crypto.Keccak256(addr[:])
		enc := make([]byte, acc.EncodingLengthForHashing())
		acc.EncodeForHashing(enc)
		keys = append(keys, addrHash)
		values = append(values, enc)
	}
	return types.TrieRoot(keys, values)
}

func allocAccount(alloc GenesisAccount) accounts.Account {
	acc := accounts.NewAccount()
	acc.Nonce = alloc.Nonce
	if alloc.Balance != nil {
		balance, overflow := uint256.FromBig(alloc.Balance)
		if overflow {
			panic("genesis balance overflows u256")
		}
		acc.Balance = *balance
	}
	if len(alloc.Code) > 0 {
		acc.CodeHash = crypto.Keccak256Hash(alloc.Code)
		acc.Incarnation = 1
	}
	if len(alloc.Storage) > 0 {
		acc.Root = storageRoot(alloc.Storage)
	}
	return acc
}

func storageRoot(storage map[common.Hash]common.Hash) common.Hash {
	keys := make([][]byte, 0, len(storage))
	values := make([][]byte, 0, len(storage))
	for loc, val := range storage {
		v := new(uint256.Int).SetBytes(val[:])
		if v.IsZero() {
			continue
		}
		keys = append(keys, crypto.Keccak256(loc[:]))
		vBytes := v.Bytes()
		rlpValue := make([]byte, 0, 33)
		if len(vBytes) == 1 && vBytes[0] < 0x80 {
			rlpValue = append(rlpValue, vBytes[0])
		} else {
			rlpValue = append(rlpValue, byte(0x80+len(vBytes)))
			rlpValue = append(rlpValue, vBytes...)
		}
		values = append(values, rlpValue)
	}
	return types.TrieRoot(keys, values)
}

// WriteGenesisBlock persists the genesis state and chain metadata. When the
// database already holds a genesis, the hashes must match and the stored
// config is returned.
func WriteGenesisBlock(tx kv.RwTx, g *Genesis) (*chain.Config, *types.Block, error) {
	if g.Config == nil {
		return nil, nil, ErrGenesisNoConfig
	}
	block := g.ToBlock()
	header := block.Header()
	hash := block.Hash()

	storedHash, err := rawdb.ReadCanonicalHash(tx, 0)
	if err != nil {
		return nil, nil, err
	}
	if storedHash != (common.Hash{}) {
		if storedHash != hash {
			return nil, nil, &ErrGenesisMismatch{Stored: storedHash, New: hash}
		}
		storedConfig, err := rawdb.ReadChainConfig(tx, storedHash)
		if err != nil {
			return nil, nil, err
		}
		if storedConfig == nil {
			storedConfig = g.Config
		}
		return storedConfig, block, nil
	}

	// state
	stateWriter := state.NewPlainStateWriterNoHistory(tx)
	for addr, alloc := range g.Alloc {
		acc := allocAccount(alloc)
		if len(alloc.Code) > 0 {
			if err := stateWriter.UpdateAccountCode(addr, acc.Incarnation, acc.CodeHash, alloc.Code); err != nil {
				return nil, nil, err
			}
		}
		if err := stateWriter.UpdateAccountData(addr, nil, &acc); err != nil {
			return nil, nil, err
		}
		for loc, value := range alloc.Storage {
			val := new(uint256.Int).SetBytes(value[:])
			if err := stateWriter.WriteAccountStorage(addr, acc.Incarnation, loc, new(uint256.Int), val); err != nil {
				return nil, nil, err
			}
		}
		if err := writeHashedAlloc(tx, addr, acc, alloc); err != nil {
			return nil, nil, err
		}
	}

	// chain
	if err := rawdb.WriteHeader(tx, header); err != nil {
		return nil, nil, err
	}
	if _, _, err := rawdb.WriteRawBody(tx, hash, 0, &types.RawBody{}); err != nil {
		return nil, nil, err
	}
	if err := rawdb.WriteCanonicalHash(tx, hash, 0); err != nil {
		return nil, nil, err
	}
	if err := rawdb.WriteTd(tx, hash, 0, header.Difficulty); err != nil {
		return nil, nil, err
	}
	if err := rawdb.WriteHeadHeaderHash(tx, hash); err != nil {
		return nil, nil, err
	}
	if err := rawdb.WriteChainConfig(tx, hash, g.Config); err != nil {
		return nil, nil, err
	}
	if err := rawdb.WriteDBSchemaVersion(tx); err != nil {
		return nil, nil, err
	}
	for _, stage := range stages.AllStages {
		if err := stages.SaveStageProgress(tx, stage, 0); err != nil {
			return nil, nil, err
		}
	}
	return g.Config, block, nil
}

// writeHashedAlloc mirrors the plain alloc into the hashed-state tables so the
// first trie run does not need the hashing stage for block 0.
func writeHashedAlloc(tx kv.RwTx, addr common.Address, acc accounts.Account, alloc GenesisAccount) error {
	addrHash := crypto.Keccak256(addr[:])
	if err := tx.Put(kv.HashedAccounts, addrHash, acc.EncodeForStorageBytes()); err != nil {
		return err
	}
	for loc, value := range alloc.Storage {
		val := new(uint256.Int).SetBytes(value[:])
		if val.IsZero() {
			continue
		}
		locHash := crypto.Keccak256(loc[:])
		compositeKey := dbutils.GenerateStoragePrefix(addrHash, acc.Incarnation)
		v := make([]byte, 32+len(val.Bytes()))
		copy(v, locHash)
		copy(v[32:], val.Bytes())
		if err := tx.Put(kv.HashedStorage, compositeKey, v); err != nil {
			return err
		}
	}
	return nil
}

// GenesisBlockByChainName returns the genesis of a registered chain. Only
// mainnet carries the header constants of its original network; every other
// chain gets params.GenesisGasLimit and difficulty 1. Allocs are provided by
// the caller: the registry carries configs, not balances.
func GenesisBlockByChainName(chainName string) *Genesis {
	config := chain.ConfigByChainName(chainName)
	if config == nil {
		return nil
	}
	switch chainName {
	case networkname.Mainnet:
		return &Genesis{
			Config:     config,
			Nonce:      66,
			ExtraData:  common.FromHex("0x11bbe8db4e347b4e8c937c1c8370e4b5ed33adb3db69cbdb7a38e1e50b1b82fa"),
			GasLimit:   5000,
			Difficulty: big.NewInt(17179869184),
			Alloc:      GenesisAlloc{},
		}
	default:
		return &Genesis{
			Config:     config,
			GasLimit:   params.GenesisGasLimit,
			Difficulty: big.NewInt(1),
			Alloc:      GenesisAlloc{},
		}
	}
}

// MustCommitGenesis writes the genesis inside its own transaction.
func MustCommitGenesis(g *Genesis, db kv.RwDB) *types.Block {
	tx, err := db.BeginRw(context.Background())
	if err != nil {
		panic(err)
	}
	defer tx.Rollback()
	_, block, err := WriteGenesisBlock(tx, g)
	if err != nil {
		panic(err)
	}
	if err := tx.Commit(); err != nil {
		panic(err)
	}
	return block
}

// UnmarshalGenesis parses a genesis JSON document (the input contract of the
// genesis loader).
func UnmarshalGenesis(data []byte) (*Genesis, error) {
	g := &Genesis{}
	var raw struct {
		Config     jsoniter.RawMessage         `json:"config"`
		Nonce      string                      `json:"nonce"`
		Timestamp  string                      `json:"timestamp"`
		ExtraData  string                      `json:"extraData"`
		GasLimit   string                      `json:"gasLimit"`
		Difficulty string                      `json:"difficulty"`
		Mixhash    common.Hash                 `json:"mixHash"`
		Coinbase   common.Address              `json:"coinbase"`
		Alloc      map[string]genesisAccountJSON `json:"alloc"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	g.Config = chain.ParseChainConfig(raw.Config)
	g.Nonce = parseHexUint(raw.Nonce)
	g.Timestamp = parseHexUint(raw.Timestamp)
	g.ExtraData = common.FromHex(raw.ExtraData)
	g.GasLimit = parseHexUint(raw.GasLimit)
	g.Difficulty = parseHexBig(raw.Difficulty)
	g.Mixhash = raw.Mixhash
	g.Coinbase = raw.Coinbase
	g.Alloc = GenesisAlloc{}
	for addrHex, acc := range raw.Alloc {
		var account GenesisAccount
		account.Balance = parseHexBig(acc.Balance)
		account.Nonce = parseHexUint(acc.Nonce)
		account.Code = common.FromHex(acc.Code)
		if len(acc.Storage) > 0 {
			account.Storage = map[common.Hash]common.Hash{}
			for k, v := range acc.Storage {
				account.Storage[common.HexToHash(k)] = common.HexToHash(v)
			}
		}
		g.Alloc[common.HexToAddress(addrHex)] = account
	}
	return g, nil
}

type genesisAccountJSON struct {
	Code    string            `json:"code,omitempty"`
	Storage map[string]string `json:"storage,omitempty"`
	Balance string            `json:"balance"`
	Nonce   string            `json:"nonce,omitempty"`
}

func parseHexUint(s string) uint64 {
	if s == "" {
		return 0
	}
	v := parseHexBig(s)
	if v == nil {
		return 0
	}
	return v.Uint64()
}

func parseHexBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil
		}
		return v
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

