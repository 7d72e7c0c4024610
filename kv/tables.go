package kv

// Table names are fixed for on-disk compatibility.
const (
	// DatabaseInfo is used to store information about data layout.
	DatabaseInfo = "DatabaseInfo"

	// Headers: block_num_u64 + hash -> header (RLP)
	Headers = "Headers"
	// HeaderNumbers: header_hash -> num_u64
	HeaderNumbers = "HeaderNumbers"
	// CanonicalHashes: block_num_u64 -> header hash
	CanonicalHashes = "CanonicalHashes"
	// Difficulty: block_num_u64 + hash -> total difficulty (big-endian, no leading zero bytes)
	Difficulty = "Difficulty"

	// BlockBodies: block_num_u64 + hash -> block body for storage
	// (base_txn_id, txn_count, ommers)
	BlockBodies = "BlockBodies"
	// BlockTransactions: txn_id_u64 -> transaction (RLP)
	BlockTransactions = "BlockTransactions"
	// Senders: block_num_u64 + hash -> address[txn_count] (concatenated)
	Senders = "Senders"
	// Receipts: block_num_u64 -> receipts (CBOR)
	Receipts = "Receipts"
	// TxLookup: txn_hash -> block_num_u64
	TxLookup = "TxLookup"

	// PlainState:
	//   address -> account (encoded for storage)
	//   address + incarnation + storage_location -> storage_value (no leading zeroes)
	// The storage part is multi-value: duplicates sorted by location.
	PlainState = "PlainState"
	// PlainCodeHash: address + incarnation -> code hash
	PlainCodeHash = "PlainCodeHash"
	// Code: code_hash -> contract code
	Code = "Code"
	// IncarnationMap: address -> incarnation of last-known self-destructed contract
	IncarnationMap = "IncarnationMap"

	// HashedAccounts: keccak(address) -> account (encoded for storage)
	HashedAccounts = "HashedAccounts"
	// HashedStorage: keccak(address) + incarnation -> keccak(location) + value (dup-sorted)
	HashedStorage = "HashedStorage"
	// ContractCode: keccak(address) + incarnation -> code hash
	ContractCode = "HashedCodeHash"

	// AccountChangeSet: block_num_u64 -> address + account-before (dup-sorted)
	AccountChangeSet = "AccountChangeSet"
	// StorageChangeSet: block_num_u64 + address + incarnation -> location + value-before (dup-sorted)
	StorageChangeSet = "StorageChangeSet"

	// AccountHistory: address + shard_id_u64 -> roaring bitmap of block numbers
	AccountHistory = "AccountHistory"
	// StorageHistory: address + storage_location + shard_id_u64 -> roaring bitmap
	StorageHistory = "StorageHistory"

	// TrieOfAccounts: hashed-account nibble prefix -> branch node record
	TrieOfAccounts = "TrieOfAccounts"
	// TrieOfStorage: keccak(address) + incarnation + storage nibble prefix -> branch node record
	TrieOfStorage = "TrieOfStorage"

	// Sequence: table_name -> u64
	Sequence = "Sequence"
	// Config: genesis_hash -> chain config (JSON)
	Config = "Config"
	// HeadHeader: well-known keys -> header hash
	HeadHeader = "LastHeader"
	// SyncStageProgress: stage_name -> block_num_u64
	SyncStageProgress = "SyncStage"
)

// Well-known keys inside DatabaseInfo.
const (
	DBSchemaVersionKey = "dbVersion"
	SnapshotsKey       = "snapshots"
)

// Well-known keys inside HeadHeader.
const (
	HeadHeaderKey     = "LastHeader"
	LastForkchoiceKey = "LastForkchoice"
)

var ChaindataTables = []string{
	DatabaseInfo,
	Headers,
	HeaderNumbers,
	CanonicalHashes,
	Difficulty,
	BlockBodies,
	BlockTransactions,
	Senders,
	Receipts,
	TxLookup,
	PlainState,
	PlainCodeHash,
	Code,
	IncarnationMap,
	HashedAccounts,
	HashedStorage,
	ContractCode,
	AccountChangeSet,
	StorageChangeSet,
	AccountHistory,
	StorageHistory,
	TrieOfAccounts,
	TrieOfStorage,
	Sequence,
	Config,
	HeadHeader,
	SyncStageProgress,
}

type TableFlags uint

const (
	Default TableFlags = 1
	DupSort TableFlags = 2
)

type TableCfgItem struct {
	Flags TableFlags
}

type TableCfg map[string]TableCfgItem

var ChaindataTablesCfg = TableCfg{
	PlainState:       {Flags: DupSort},
	HashedStorage:    {Flags: DupSort},
	AccountChangeSet: {Flags: DupSort},
	StorageChangeSet: {Flags: DupSort},
	TrieOfStorage:    {Flags: Default},
}

func TableCfgByName(name string) TableCfgItem {
	if cfg, ok := ChaindataTablesCfg[name]; ok {
		return cfg
	}
	return TableCfgItem{Flags: Default}
}
