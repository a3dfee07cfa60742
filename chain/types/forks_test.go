package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateHeaderForkFields(t *testing.T) {
	withdrawalsHash := Keccak256([]byte("w"))
	beaconRoot := Keccak256([]byte("b"))
	blobGas := uint64(0)

	legacy := &Header{Number: 1}
	require.NoError(t, ValidateHeaderForkFields(legacy, false, false))
	require.Error(t, ValidateHeaderForkFields(legacy, true, false))

	shanghai := &Header{Number: 2, WithdrawalsHash: &withdrawalsHash}
	require.NoError(t, ValidateHeaderForkFields(shanghai, true, false))
	require.Error(t, ValidateHeaderForkFields(shanghai, false, false))
	require.Error(t, ValidateHeaderForkFields(shanghai, true, true)) // blob fields missing

	cancun := &Header{
		Number:                3,
		WithdrawalsHash:       &withdrawalsHash,
		BlobGasUsed:           &blobGas,
		ExcessBlobGas:         &blobGas,
		ParentBeaconBlockRoot: &beaconRoot,
	}
	require.NoError(t, ValidateHeaderForkFields(cancun, true, true))
	require.Error(t, ValidateHeaderForkFields(cancun, true, false)) // blob fields too early
}
