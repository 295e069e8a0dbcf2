package vesting

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"vestd/core/types"
)

const (
	EventTypeRecipientAdded      = "vesting.recipient_added"
	EventTypeRecipientPaused     = "vesting.recipient_paused"
	EventTypeRecipientUnpaused   = "vesting.recipient_unpaused"
	EventTypeRecipientTerminated = "vesting.recipient_terminated"
	EventTypeClaimed             = "vesting.claimed"
	EventTypeEscrowTerminated    = "vesting.escrow_terminated"
	EventTypeLockedSeized        = "vesting.locked_seized"
	EventTypeDustTransferred     = "vesting.dust_transferred"
	EventTypeSafeAddressUpdated  = "vesting.safe_address_updated"
)

// NewRecipientAddedEvent returns the canonical payload for a freshly
// provisioned vesting schedule.
func NewRecipientAddedEvent(r *Recipient) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeRecipientAdded,
		Attributes: map[string]string{
			"recipient":     common.Address(r.Address).Hex(),
			"amount":        amountString(r.TotalVestingAmount),
			"startTime":     strconv.FormatInt(r.StartTime, 10),
			"endTime":       strconv.FormatInt(r.EndTime, 10),
			"cliffDuration": strconv.FormatInt(r.CliffDuration, 10),
			"vestingPerSec": amountString(r.VestingPerSec),
		},
	}
}

// NewRecipientPausedEvent returns the payload emitted when a schedule is
// paused.
func NewRecipientPausedEvent(r *Recipient, pausedAt int64) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeRecipientPaused,
		Attributes: map[string]string{
			"recipient": common.Address(r.Address).Hex(),
			"pausedAt":  strconv.FormatInt(pausedAt, 10),
		},
	}
}

// NewRecipientUnpausedEvent returns the payload emitted when a schedule
// resumes, including the compensated pause duration.
func NewRecipientUnpausedEvent(r *Recipient, pausedFor int64) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeRecipientUnpaused,
		Attributes: map[string]string{
			"recipient": common.Address(r.Address).Hex(),
			"pausedFor": strconv.FormatInt(pausedFor, 10),
			"endTime":   strconv.FormatInt(r.EndTime, 10),
		},
	}
}

// NewRecipientTerminatedEvent returns the payload emitted when a schedule is
// terminated, with the final payout and the residual swept to the safe
// address.
func NewRecipientTerminatedEvent(r *Recipient, payout, residual *big.Int) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeRecipientTerminated,
		Attributes: map[string]string{
			"recipient": common.Address(r.Address).Hex(),
			"payout":    amountString(payout),
			"residual":  amountString(residual),
		},
	}
}

// NewClaimedEvent returns the payload emitted for a successful claim.
func NewClaimedEvent(r *Recipient, amount *big.Int) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeClaimed,
		Attributes: map[string]string{
			"recipient":    common.Address(r.Address).Hex(),
			"amount":       amountString(amount),
			"totalClaimed": amountString(r.TotalClaimed),
		},
	}
}

// NewEscrowTerminatedEvent returns the payload emitted when the global
// termination switch flips.
func NewEscrowTerminatedEvent(esc *Escrow) *types.Event {
	if esc == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeEscrowTerminated,
		Attributes: map[string]string{
			"terminatedAt": strconv.FormatInt(esc.TerminatedAt, 10),
		},
	}
}

// NewLockedSeizedEvent returns the payload emitted after a seizure sweep.
func NewLockedSeizedEvent(esc *Escrow, total *big.Int, requested int) *types.Event {
	if esc == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeLockedSeized,
		Attributes: map[string]string{
			"amount":      amountString(total),
			"requested":   strconv.Itoa(requested),
			"safeAddress": common.Address(esc.SafeAddress).Hex(),
		},
	}
}

// NewDustTransferredEvent returns the payload emitted when the dust balance
// is swept.
func NewDustTransferredEvent(esc *Escrow, amount *big.Int) *types.Event {
	if esc == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeDustTransferred,
		Attributes: map[string]string{
			"amount":      amountString(amount),
			"safeAddress": common.Address(esc.SafeAddress).Hex(),
		},
	}
}

// NewSafeAddressUpdatedEvent returns the payload emitted when the safe
// address changes.
func NewSafeAddressUpdatedEvent(esc *Escrow) *types.Event {
	if esc == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeSafeAddressUpdated,
		Attributes: map[string]string{
			"safeAddress": common.Address(esc.SafeAddress).Hex(),
		},
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
