package rpc

import (
	"errors"
	"net/http"

	"vestd/native/vesting"
	"vestd/state"
)

const (
	codeVestingInvalidAddress      = -32030
	codeVestingInvalidSchedule     = -32031
	codeVestingStateConflict       = -32032
	codeVestingEscrowTerminated    = -32033
	codeVestingEscrowNotTerminated = -32034
	codeVestingClaimExceeds        = -32035
	codeVestingInsufficientFunds   = -32036
	codeVestingNotFound            = -32037
	codeVestingExists              = -32038
	codeVestingInternal            = -32039
)

// writeVestingError translates engine sentinels into JSON-RPC error codes.
// The error message names the violated precondition, never a generic failure.
func writeVestingError(w http.ResponseWriter, id interface{}, err error) {
	status, code := http.StatusInternalServerError, codeVestingInternal
	switch {
	case errors.Is(err, vesting.ErrInvalidAddress):
		status, code = http.StatusBadRequest, codeVestingInvalidAddress
	case errors.Is(err, vesting.ErrInvalidSchedule),
		errors.Is(err, vesting.ErrInvalidAmount),
		errors.Is(err, vesting.ErrAllocationExceedsFunding):
		status, code = http.StatusBadRequest, codeVestingInvalidSchedule
	case errors.Is(err, vesting.ErrStateConflict),
		errors.Is(err, vesting.ErrClaimNotOpen):
		status, code = http.StatusConflict, codeVestingStateConflict
	case errors.Is(err, vesting.ErrEscrowTerminated):
		status, code = http.StatusConflict, codeVestingEscrowTerminated
	case errors.Is(err, vesting.ErrEscrowNotTerminated):
		status, code = http.StatusConflict, codeVestingEscrowNotTerminated
	case errors.Is(err, vesting.ErrClaimExceedsEntitlement):
		status, code = http.StatusConflict, codeVestingClaimExceeds
	case errors.Is(err, vesting.ErrInsufficientFunds),
		errors.Is(err, state.ErrInsufficientBalance):
		status, code = http.StatusConflict, codeVestingInsufficientFunds
	case errors.Is(err, vesting.ErrRecipientNotFound):
		status, code = http.StatusNotFound, codeVestingNotFound
	case errors.Is(err, vesting.ErrRecipientExists):
		status, code = http.StatusConflict, codeVestingExists
	}
	writeError(w, status, id, code, err.Error(), nil)
}
