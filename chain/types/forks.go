package types

import (
	"errors"
	"fmt"
)

// ValidateHeaderForkFields checks that a header carries exactly the
// optional fields its active forks require: a withdrawals hash from
// Shanghai on, the blob-gas fields and parent beacon root from Cancun
// on, and none of them any earlier. The block writer runs this before
// persisting a header, since a header stored with the wrong field set
// re-encodes to different bytes and breaks the hash↔number bijection.
func ValidateHeaderForkFields(h *Header, shanghaiActive, cancunActive bool) error {
	if shanghaiActive {
		if h.WithdrawalsHash == nil {
			return errors.New("header is missing withdrawalsHash")
		}
	} else if h.WithdrawalsHash != nil {
		return fmt.Errorf("unexpected withdrawalsHash before fork: %x", *h.WithdrawalsHash)
	}

	if cancunActive {
		switch {
		case h.BlobGasUsed == nil:
			return errors.New("header is missing blobGasUsed")
		case h.ExcessBlobGas == nil:
			return errors.New("header is missing excessBlobGas")
		case h.ParentBeaconBlockRoot == nil:
			return errors.New("header is missing parentBeaconBlockRoot")
		}
		return nil
	}
	switch {
	case h.BlobGasUsed != nil:
		return fmt.Errorf("unexpected blobGasUsed before fork: %d", *h.BlobGasUsed)
	case h.ExcessBlobGas != nil:
		return fmt.Errorf("unexpected excessBlobGas before fork: %d", *h.ExcessBlobGas)
	case h.ParentBeaconBlockRoot != nil:
		return fmt.Errorf("unexpected parentBeaconBlockRoot before fork: %x", *h.ParentBeaconBlockRoot)
	}
	return nil
}
