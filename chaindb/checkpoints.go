package chaindb

import "github.com/erigontech/chaindb/kv"

// Stage IDs are stable strings persisted in StageCheckpoints; never
// rename an existing one without a migration, since a renamed id reads
// back as "stage never ran".
const (
	StageHeaders             = "Headers"
	StageBodies              = "Bodies"
	StageSenderRecovery      = "SenderRecovery"
	StageExecution           = "Execution"
	StageAccountHashing      = "AccountHashing"
	StageStorageHashing      = "StorageHashing"
	StageMerkleExecute       = "MerkleExecute"
	StageMerkleUnwind        = "MerkleUnwind"
	StageTransactionLookup   = "TransactionLookup"
	StageIndexAccountHistory = "IndexAccountHistory"
	StageIndexStorageHistory = "IndexStorageHistory"
	StageFinish              = "Finish"
)

// Prune segments are likewise stable strings, persisted in
// PruneCheckpoints.
const (
	PruneSenderRecovery    = "SenderRecovery"
	PruneTransactionLookup = "TransactionLookup"
	PruneReceipts          = "Receipts"
	PruneAccountHistory    = "AccountHistory"
	PruneStorageHistory    = "StorageHistory"
	PruneContractLogs      = "ContractLogs"
	PruneHeaders           = "Headers"
)

// AllStageIDs lists every stage in pipeline order.
var AllStageIDs = []string{
	StageHeaders, StageBodies, StageSenderRecovery, StageExecution,
	StageAccountHashing, StageStorageHashing, StageMerkleExecute, StageMerkleUnwind,
	StageTransactionLookup, StageIndexAccountHistory, StageIndexStorageHistory, StageFinish,
}

// GetStageCheckpoint returns the highest block number stage has
// processed, or 0 if it has never run.
func GetStageCheckpoint(tx kv.Tx, stage string) (uint64, error) {
	v, err := tx.GetOne(kv.StageCheckpoints, []byte(stage))
	if err != nil || len(v) == 0 {
		return 0, err
	}
	return decodeBlockNumber(v), nil
}

// PutStageCheckpoint records that stage has processed through
// blockNumber.
func PutStageCheckpoint(tx kv.RwTx, stage string, blockNumber uint64) error {
	return tx.Put(kv.StageCheckpoints, []byte(stage), encodeBlockNumber(blockNumber))
}

// UpdatePipelineStages walks every known stage and moves its checkpoint
// to blockNumber. With drop set each checkpoint is rewritten outright
// (progress details zeroed, block number set); without it a checkpoint
// already ahead of blockNumber is preserved.
func UpdatePipelineStages(tx kv.RwTx, blockNumber uint64, drop bool) error {
	for _, stage := range AllStageIDs {
		if !drop {
			current, err := GetStageCheckpoint(tx, stage)
			if err != nil {
				return err
			}
			if current > blockNumber {
				continue
			}
		}
		if err := PutStageCheckpoint(tx, stage, blockNumber); err != nil {
			return err
		}
	}
	return nil
}

// GetPruneCheckpoint / PutPruneCheckpoint are the PruneCheckpoints
// analogues of the Stage* helpers above.
func GetPruneCheckpoint(tx kv.Tx, segment string) (uint64, error) {
	v, err := tx.GetOne(kv.PruneCheckpoints, []byte(segment))
	if err != nil || len(v) == 0 {
		return 0, err
	}
	return decodeBlockNumber(v), nil
}

func PutPruneCheckpoint(tx kv.RwTx, segment string, blockNumber uint64) error {
	return tx.Put(kv.PruneCheckpoints, []byte(segment), encodeBlockNumber(blockNumber))
}
