package types

import "github.com/erigontech/erigon-lib/rlp"

// LogEntry is one EVM log emitted by a transaction.
type LogEntry struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

// Receipt is the persisted execution outcome of one transaction.
type Receipt struct {
	Type              byte
	Status            uint64 // 1 success, 0 failure (post-Byzantium)
	CumulativeGasUsed uint64
	Logs              []LogEntry
}

type rlpReceipt struct {
	Type              byte
	Status            uint64
	CumulativeGasUsed uint64
	Logs              []LogEntry
}

// EncodeRLP implements rlp.Encoder.
func (r *Receipt) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes(&rlpReceipt{r.Type, r.Status, r.CumulativeGasUsed, r.Logs})
}

// DecodeRLP implements rlp.Decoder.
func (r *Receipt) DecodeRLP(enc []byte) error {
	var w rlpReceipt
	if err := rlp.DecodeBytes(enc, &w); err != nil {
		return err
	}
	r.Type, r.Status, r.CumulativeGasUsed, r.Logs = w.Type, w.Status, w.CumulativeGasUsed, w.Logs
	return nil
}
