package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/types"
	"github.com/erigontech/execution/types/accounts"
)

type stateObject struct {
	address common.Address
	data    accounts.Account
	// original is the state at the beginning of the block, what the change
	// set will record.
	original accounts.Account

	code []byte

	originStorage map[common.Hash]uint256.Int // storage at the beginning of the block
	dirtyStorage  map[common.Hash]uint256.Int

	dirtyCode      bool
	selfdestructed bool
	created        bool // freshly created in this block (contract creation)
	deleted        bool
}

func (so *stateObject) empty() bool {
	return so.data.Nonce == 0 && so.data.Balance.IsZero() && so.data.IsEmptyCodeHash()
}

// IntraBlockState buffers the state mutations of one block before they are
// flushed to a StateWriter. Validation never observes half-applied state:
// reads go through the buffer first, then to the StateReader.
type IntraBlockState struct {
	stateReader StateReader

	stateObjects map[common.Address]*stateObject
	journal      []journalEntry
	logs         types.Logs
	refund       uint64
}

type journalEntry interface {
	revert(ibs *IntraBlockState)
}

type (
	balanceChange struct {
		account common.Address
		prev    uint256.Int
	}
	nonceChange struct {
		account common.Address
		prev    uint64
	}
	storageChange struct {
		account common.Address
		key     common.Hash
		prev    uint256.Int
	}
	codeChange struct {
		account  common.Address
		prevCode []byte
		prevHash common.Hash
	}
	selfdestructChange struct {
		account common.Address
		prev    bool
	}
	createChange struct {
		account common.Address
		exists  bool
	}
	logChange struct{}
	refundChange struct {
		prev uint64
	}
)

func (ch balanceChange) revert(ibs *IntraBlockState) {
	ibs.stateObjects[ch.account].data.Balance = ch.prev
}

func (ch nonceChange) revert(ibs *IntraBlockState) {
	ibs.stateObjects[ch.account].data.Nonce = ch.prev
}

func (ch storageChange) revert(ibs *IntraBlockState) {
	ibs.stateObjects[ch.account].dirtyStorage[ch.key] = ch.prev
}

func (ch codeChange) revert(ibs *IntraBlockState) {
	so := ibs.stateObjects[ch.account]
	so.code = ch.prevCode
	so.data.CodeHash = ch.prevHash
}

func (ch selfdestructChange) revert(ibs *IntraBlockState) {
	ibs.stateObjects[ch.account].selfdestructed = ch.prev
}

func (ch createChange) revert(ibs *IntraBlockState) {
	if !ch.exists {
		delete(ibs.stateObjects, ch.account)
	}
}

func (ch logChange) revert(ibs *IntraBlockState) {
	ibs.logs = ibs.logs[:len(ibs.logs)-1]
}

func (ch refundChange) revert(ibs *IntraBlockState) {
	ibs.refund = ch.prev
}

func New(stateReader StateReader) *IntraBlockState {
	return &IntraBlockState{
		stateReader:  stateReader,
		stateObjects: map[common.Address]*stateObject{},
	}
}

func (ibs *IntraBlockState) getStateObject(addr common.Address) (*stateObject, error) {
	if so, ok := ibs.stateObjects[addr]; ok {
		return so, nil
	}
	account, err := ibs.stateReader.ReadAccountData(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}
	so := &stateObject{
		address:       addr,
		data:          *account,
		original:      *account,
		originStorage: map[common.Hash]uint256.Int{},
		dirtyStorage:  map[common.Hash]uint256.Int{},
	}
	ibs.stateObjects[addr] = so
	return so, nil
}

func (ibs *IntraBlockState) getOrNewStateObject(addr common.Address) (*stateObject, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil {
		return nil, err
	}
	if so == nil || so.deleted {
		exists := so != nil
		so = &stateObject{
			address:       addr,
			data:          accounts.NewAccount(),
			originStorage: map[common.Hash]uint256.Int{},
			dirtyStorage:  map[common.Hash]uint256.Int{},
		}
		so.data.Initialised = true
		ibs.stateObjects[addr] = so
		ibs.journal = append(ibs.journal, createChange{account: addr, exists: exists})
	}
	return so, nil
}

func (ibs *IntraBlockState) Exist(addr common.Address) (bool, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil {
		return false, err
	}
	return so != nil && !so.deleted, nil
}

// Empty reports whether the account is non-existent or empty per EIP-161.
func (ibs *IntraBlockState) Empty(addr common.Address) (bool, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil {
		return true, err
	}
	return so == nil || so.deleted || so.empty(), nil
}

func (ibs *IntraBlockState) GetBalance(addr common.Address) (uint256.Int, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil || so.deleted {
		return uint256.Int{}, err
	}
	return so.data.Balance, nil
}

func (ibs *IntraBlockState) AddBalance(addr common.Address, amount *uint256.Int) error {
	so, err := ibs.getOrNewStateObject(addr)
	if err != nil {
		return err
	}
	ibs.journal = append(ibs.journal, balanceChange{account: addr, prev: so.data.Balance})
	so.data.Balance.Add(&so.data.Balance, amount)
	return nil
}

func (ibs *IntraBlockState) SubBalance(addr common.Address, amount *uint256.Int) error {
	so, err := ibs.getOrNewStateObject(addr)
	if err != nil {
		return err
	}
	ibs.journal = append(ibs.journal, balanceChange{account: addr, prev: so.data.Balance})
	so.data.Balance.Sub(&so.data.Balance, amount)
	return nil
}

func (ibs *IntraBlockState) GetNonce(addr common.Address) (uint64, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil || so.deleted {
		return 0, err
	}
	return so.data.Nonce, nil
}

func (ibs *IntraBlockState) SetNonce(addr common.Address, nonce uint64) error {
	so, err := ibs.getOrNewStateObject(addr)
	if err != nil {
		return err
	}
	ibs.journal = append(ibs.journal, nonceChange{account: addr, prev: so.data.Nonce})
	so.data.Nonce = nonce
	return nil
}

func (ibs *IntraBlockState) GetCodeHash(addr common.Address) (common.Hash, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil || so.deleted {
		return common.Hash{}, err
	}
	return so.data.CodeHash, nil
}

func (ibs *IntraBlockState) GetCode(addr common.Address) ([]byte, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil || so.deleted {
		return nil, err
	}
	if so.code != nil {
		return so.code, nil
	}
	if so.data.IsEmptyCodeHash() {
		return nil, nil
	}
	code, err := ibs.stateReader.ReadAccountCode(addr, so.data.Incarnation, so.data.CodeHash)
	if err != nil {
		return nil, err
	}
	so.code = code
	return code, nil
}

func (ibs *IntraBlockState) SetCode(addr common.Address, code []byte) error {
	so, err := ibs.getOrNewStateObject(addr)
	if err != nil {
		return err
	}
	ibs.journal = append(ibs.journal, codeChange{account: addr, prevCode: so.code, prevHash: so.data.CodeHash})
	so.code = code
	so.data.CodeHash = crypto.Keccak256Hash(code)
	so.dirtyCode = true
	return nil
}

func (ibs *IntraBlockState) GetState(addr common.Address, key common.Hash, value *uint256.Int) error {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil || so.deleted {
		value.Clear()
		return err
	}
	if v, ok := so.dirtyStorage[key]; ok {
		value.Set(&v)
		return nil
	}
	return ibs.getCommittedState(so, key, value)
}

func (ibs *IntraBlockState) GetCommittedState(addr common.Address, key common.Hash, value *uint256.Int) error {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil || so.deleted {
		value.Clear()
		return err
	}
	return ibs.getCommittedState(so, key, value)
}

func (ibs *IntraBlockState) getCommittedState(so *stateObject, key common.Hash, value *uint256.Int) error {
	if v, ok := so.originStorage[key]; ok {
		value.Set(&v)
		return nil
	}
	if so.created {
		// storage of a freshly created contract starts empty
		value.Clear()
		so.originStorage[key] = uint256.Int{}
		return nil
	}
	enc, err := ibs.stateReader.ReadAccountStorage(so.address, so.data.Incarnation, key)
	if err != nil {
		return err
	}
	value.SetBytes(enc)
	so.originStorage[key] = *value
	return nil
}

func (ibs *IntraBlockState) SetState(addr common.Address, key common.Hash, value uint256.Int) error {
	so, err := ibs.getOrNewStateObject(addr)
	if err != nil {
		return err
	}
	var prev uint256.Int
	if err := ibs.getCommittedStateOrDirty(so, key, &prev); err != nil {
		return err
	}
	ibs.journal = append(ibs.journal, storageChange{account: addr, key: key, prev: prev})
	so.dirtyStorage[key] = value
	return nil
}

func (ibs *IntraBlockState) getCommittedStateOrDirty(so *stateObject, key common.Hash, value *uint256.Int) error {
	if v, ok := so.dirtyStorage[key]; ok {
		value.Set(&v)
		return nil
	}
	return ibs.getCommittedState(so, key, value)
}

func (ibs *IntraBlockState) Selfdestruct(addr common.Address) (bool, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil || so.deleted {
		return false, err
	}
	ibs.journal = append(ibs.journal, selfdestructChange{account: addr, prev: so.selfdestructed})
	ibs.journal = append(ibs.journal, balanceChange{account: addr, prev: so.data.Balance})
	so.selfdestructed = true
	so.data.Balance.Clear()
	return true, nil
}

func (ibs *IntraBlockState) HasSelfdestructed(addr common.Address) (bool, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil {
		return false, err
	}
	return so.selfdestructed, nil
}

// CreateAccount makes the account exist; with contractCreation the
// incarnation is bumped past any self-destructed predecessor so that stale
// storage cannot resurface.
func (ibs *IntraBlockState) CreateAccount(addr common.Address, contractCreation bool) error {
	prev, err := ibs.getStateObject(addr)
	if err != nil {
		return err
	}

	so := &stateObject{
		address:       addr,
		data:          accounts.NewAccount(),
		originStorage: map[common.Hash]uint256.Int{},
		dirtyStorage:  map[common.Hash]uint256.Int{},
		created:       contractCreation,
	}
	if prev != nil {
		so.data.Balance = prev.data.Balance
		so.original = prev.original
	}
	if contractCreation {
		var prevInc uint64
		if prev != nil && prev.selfdestructed {
			prevInc = prev.data.Incarnation
		} else {
			inc, err := ibs.stateReader.ReadAccountIncarnation(addr)
			if err != nil {
				return err
			}
			prevInc = inc
		}
		so.data.Incarnation = prevInc + 1
	}
	ibs.stateObjects[addr] = so
	ibs.journal = append(ibs.journal, createChange{account: addr, exists: prev != nil})
	return nil
}

func (ibs *IntraBlockState) GetIncarnation(addr common.Address) (uint64, error) {
	so, err := ibs.getStateObject(addr)
	if err != nil || so == nil {
		return 0, err
	}
	return so.data.Incarnation, nil
}

func (ibs *IntraBlockState) AddLog(log *types.Log) {
	ibs.journal = append(ibs.journal, logChange{})
	ibs.logs = append(ibs.logs, log)
}

func (ibs *IntraBlockState) GetLogs() types.Logs { return ibs.logs }

func (ibs *IntraBlockState) AddRefund(gas uint64) {
	ibs.journal = append(ibs.journal, refundChange{prev: ibs.refund})
	ibs.refund += gas
}

func (ibs *IntraBlockState) GetRefund() uint64 { return ibs.refund }

// Snapshot returns a revision id for RevertToSnapshot.
func (ibs *IntraBlockState) Snapshot() int { return len(ibs.journal) }

func (ibs *IntraBlockState) RevertToSnapshot(revision int) {
	for i := len(ibs.journal) - 1; i >= revision; i-- {
		ibs.journal[i].revert(ibs)
	}
	ibs.journal = ibs.journal[:revision]
}

// FinalizeTx clears per-transaction bookkeeping. Empty touched accounts are
// marked deleted from Spurious Dragon onward.
func (ibs *IntraBlockState) FinalizeTx(spuriousDragon bool) {
	if spuriousDragon {
		for _, so := range ibs.stateObjects {
			if !so.deleted && so.empty() && (len(so.dirtyStorage) > 0 || so.data.Initialised) && ibs.isDirty(so) {
				so.deleted = true
			}
		}
	}
	ibs.journal = ibs.journal[:0]
	ibs.refund = 0
}

func (ibs *IntraBlockState) isDirty(so *stateObject) bool {
	return len(so.dirtyStorage) > 0 || so.dirtyCode || so.selfdestructed || so.created ||
		!so.data.Equals(&so.original) || !so.original.Initialised
}

// CommitBlock flushes the buffered block delta into the writer in a
// deterministic address order.
func (ibs *IntraBlockState) CommitBlock(spuriousDragon bool, writer StateWriter) error {
	addrs := make([]common.Address, 0, len(ibs.stateObjects))
	for addr := range ibs.stateObjects {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)

	for _, addr := range addrs {
		so := ibs.stateObjects[addr]
		if so.selfdestructed || so.deleted || (spuriousDragon && so.empty() && ibs.isDirty(so)) {
			if so.original.Initialised {
				if err := writer.DeleteAccount(addr, &so.original); err != nil {
					return err
				}
			}
			continue
		}
		if !ibs.isDirty(so) {
			continue
		}
		if so.created {
			if err := writer.CreateContract(addr); err != nil {
				return err
			}
		}
		if so.dirtyCode {
			if err := writer.UpdateAccountCode(addr, so.data.Incarnation, so.data.CodeHash, so.code); err != nil {
				return err
			}
		}
		var original *accounts.Account
		if so.original.Initialised {
			original = &so.original
		}
		if err := writer.UpdateAccountData(addr, original, &so.data); err != nil {
			return err
		}
		keys := make([]common.Hash, 0, len(so.dirtyStorage))
		for key := range so.dirtyStorage {
			keys = append(keys, key)
		}
		sortHashes(keys)
		for _, key := range keys {
			value := so.dirtyStorage[key]
			origin := so.originStorage[key]
			if err := writer.WriteAccountStorage(addr, so.data.Incarnation, key, &origin, &value); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}

func sortHashes(hashes []common.Hash) {
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })
}

func (ibs *IntraBlockState) BalanceString(addr common.Address) string {
	balance, _ := ibs.GetBalance(addr)
	return fmt.Sprintf("%s: %s", addr, balance.Dec())
}
