package vesting

import "errors"

var (
	ErrNilState                 = errors.New("vesting: state not configured")
	ErrInvalidAddress           = errors.New("vesting: invalid address")
	ErrInvalidAmount            = errors.New("vesting: amount must be positive")
	ErrInvalidSchedule          = errors.New("vesting: invalid schedule")
	ErrRecipientNotFound        = errors.New("vesting: recipient not found")
	ErrRecipientExists          = errors.New("vesting: recipient already exists")
	ErrStateConflict            = errors.New("vesting: invalid status transition")
	ErrClaimNotOpen             = errors.New("vesting: claim window not open")
	ErrClaimExceedsEntitlement  = errors.New("vesting: claim exceeds entitlement")
	ErrEscrowTerminated         = errors.New("vesting: escrow terminated")
	ErrEscrowNotTerminated      = errors.New("vesting: escrow not terminated")
	ErrAllocationExceedsFunding = errors.New("vesting: allocation exceeds funding")
	ErrInsufficientFunds        = errors.New("vesting: insufficient funds")
	ErrInvariantViolated        = errors.New("vesting: conservation invariant violated")
)
