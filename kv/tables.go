package kv

// Table name constants. Each comment documents the physical layout:
// key -> value, with dup-sort tables noting the subkey that orders
// values under one key.
const (
	CanonicalHeaders           = "CanonicalHeaders"           // BlockNumber(u64 BE) -> HeaderHash
	Headers                    = "Headers"                    // BlockNumber+HeaderHash -> rlp(Header)
	HeaderNumbers              = "HeaderNumbers"              // HeaderHash -> BlockNumber(u64 BE)
	HeaderTerminalDifficulties = "HeaderTerminalDifficulties" // BlockNumber+HeaderHash -> bigEndian(TTD)
	BlockOmmers                = "BlockOmmers"                // BlockNumber+HeaderHash -> list(rlp(Header))
	BlockWithdrawals           = "BlockWithdrawals"           // BlockNumber+HeaderHash -> list(rlp(Withdrawal))
	BlockBodyIndices           = "BlockBodyIndices"           // BlockNumber+HeaderHash -> {firstTxNum, txCount}
	Transactions               = "Transactions"               // TxNumber(u64 BE) -> rlp(Transaction)
	TransactionSenders         = "TransactionSenders"         // TxNumber(u64 BE) -> Address(20 bytes)
	TransactionHashNumbers     = "TransactionHashNumbers"     // TxHash -> TxNumber(u64 BE)
	TransactionBlocks          = "TransactionBlocks"          // TxNumber(u64 BE, last tx of block) -> BlockNumber(u64 BE)
	Receipts                   = "Receipts"                   // TxNumber(u64 BE) -> rlp(Receipt)

	PlainAccountState = "PlainAccountState" // Address -> compact(Account)
	// PlainStorageState is dup-sorted: one key per (address, incarnation),
	// values are storageKey+value pairs ordered by storageKey.
	PlainStorageState = "PlainStorageState" // Address+Incarnation(u64 BE) -> StorageKey+Value

	// AccountChangeSets is dup-sorted by block: values are
	// address+compact(previous account), ordered by address. An empty
	// account payload records "did not exist before this block".
	AccountChangeSets = "AccountChangeSet" // BlockNumber(u64 BE) -> Address+compact(OldAccount)
	// StorageChangeSets values are address+incarnation+storageKey+oldValue,
	// ordered by (address, incarnation, storageKey).
	StorageChangeSets = "StorageChangeSet" // BlockNumber(u64 BE) -> Address+Incarnation+StorageKey+OldValue

	AccountsHistory = "AccountsHistory" // Address+ShardHighestBlock(u64 BE) -> BlockNumberList
	StoragesHistory = "StoragesHistory" // Address+StorageKey+ShardHighestBlock -> BlockNumberList

	HashedAccounts = "HashedAccounts" // Keccak256(Address) -> compact(Account)
	HashedStorages = "HashedStorages" // Keccak256(Address)+Keccak256(StorageKey) -> Value

	TrieOfAccounts = "TrieOfAccounts" // nibble path (account trie) -> node hash
	TrieOfStorage  = "TrieOfStorage"  // nibble path (storage trie) -> node hash

	StageCheckpoints = "SyncStageProgress" // StageID (string) -> BlockNumber(u64 BE)
	PruneCheckpoints = "PruneCheckpoints"  // PruneSegment (string) -> BlockNumber(u64 BE)
)

// TableFlags select a table's physical on-disk layout, mapping one to
// one onto MDBX DBI flags.
type TableFlags uint

const (
	Default TableFlags = 0
	// DupSort marks a table whose values for one key are themselves
	// ordered, allowing multiple values per key (MDBX_DUPSORT).
	DupSort TableFlags = 1 << iota
	// IntegerKey marks a table whose keys are fixed-size big-endian
	// integers, enabling MDBX's native integer key comparator.
	IntegerKey
	// ReverseKey reverses byte-wise key comparison. No table in
	// ChaindataTablesCfg sets it.
	ReverseKey
)

// TableCfgItem configures one table's physical layout.
type TableCfgItem struct {
	Flags TableFlags
}

// TableCfg is the full table -> layout registry for this database.
type TableCfg map[string]TableCfgItem

// ChaindataTables lists every table this provider reads or writes.
var ChaindataTables = []string{
	CanonicalHeaders, Headers, HeaderNumbers, HeaderTerminalDifficulties,
	BlockOmmers, BlockWithdrawals, BlockBodyIndices,
	Transactions, TransactionSenders, TransactionHashNumbers, TransactionBlocks,
	Receipts,
	PlainAccountState, PlainStorageState,
	AccountChangeSets, StorageChangeSets,
	AccountsHistory, StoragesHistory,
	HashedAccounts, HashedStorages,
	TrieOfAccounts, TrieOfStorage,
	StageCheckpoints, PruneCheckpoints,
}

// ChaindataTablesCfg is the registry used to open the database: it binds
// every table name above to its physical layout.
var ChaindataTablesCfg = TableCfg{
	CanonicalHeaders:           {Flags: IntegerKey},
	Headers:                    {Flags: Default},
	HeaderNumbers:              {Flags: Default},
	HeaderTerminalDifficulties: {Flags: Default},
	BlockOmmers:                {Flags: Default},
	BlockWithdrawals:           {Flags: Default},
	BlockBodyIndices:           {Flags: Default},
	Transactions:               {Flags: IntegerKey},
	TransactionSenders:         {Flags: IntegerKey},
	TransactionHashNumbers:     {Flags: Default},
	TransactionBlocks:          {Flags: IntegerKey},
	Receipts:                   {Flags: IntegerKey},
	PlainAccountState:          {Flags: Default},
	PlainStorageState:          {Flags: DupSort},
	AccountChangeSets:          {Flags: DupSort | IntegerKey},
	StorageChangeSets:          {Flags: DupSort | IntegerKey},
	AccountsHistory:            {Flags: Default},
	StoragesHistory:            {Flags: Default},
	HashedAccounts:             {Flags: Default},
	HashedStorages:             {Flags: Default},
	TrieOfAccounts:             {Flags: Default},
	TrieOfStorage:              {Flags: Default},
	StageCheckpoints:           {Flags: Default},
	PruneCheckpoints:           {Flags: Default},
}

func init() {
	for _, name := range ChaindataTables {
		if _, ok := ChaindataTablesCfg[name]; !ok {
			panic("kv: table " + name + " has no TableCfg entry")
		}
	}
}
