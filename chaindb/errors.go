package chaindb

import (
	"errors"
	"fmt"
)

var (
	ErrHeaderNotFound       = errors.New("chaindb: header not found")
	ErrBlockBodyNotFound    = errors.New("chaindb: block body indices not found")
	ErrMismatchSenderTx     = errors.New("chaindb: sender/transaction id mismatch")
	ErrBlockBodyTxCount     = errors.New("chaindb: block body transaction count exhausted unexpectedly")
	ErrSenderRecoveryFailed = errors.New("chaindb: failed to recover transaction sender")
	// ErrUnsupportedProvider marks a write operation attempted through a
	// read-only provider.
	ErrUnsupportedProvider = errors.New("chaindb: operation not supported by this provider")
)

// RootMismatch describes a state-root disagreement between the recorded
// header and the root this provider computed from the hashed mirror.
type RootMismatch struct {
	Got, Expected [32]byte
	BlockNumber   uint64
	BlockHash     [32]byte
}

func (m *RootMismatch) Error() string {
	return fmt.Sprintf("chaindb: state root mismatch at block %d (%x): got %x want %x",
		m.BlockNumber, m.BlockHash, m.Got, m.Expected)
}

// StateRootMismatchError wraps a RootMismatch found while computing the
// root forward (after inserting new blocks).
type StateRootMismatchError struct{ *RootMismatch }

// UnwindStateRootMismatchError wraps a RootMismatch found while
// recomputing the root after an unwind, checked against the parent
// header's recorded state root.
type UnwindStateRootMismatchError struct{ *RootMismatch }

func (e *StateRootMismatchError) Unwrap() error       { return e.RootMismatch }
func (e *UnwindStateRootMismatchError) Unwrap() error { return e.RootMismatch }
