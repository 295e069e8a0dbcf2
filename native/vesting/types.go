package vesting

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RecipientStatus tracks the lifecycle of a single vesting recipient. The
// terminated state is terminal; no transition leaves it.
type RecipientStatus uint8

const (
	RecipientUnpaused RecipientStatus = iota
	RecipientPaused
	RecipientTerminated
)

// Valid reports whether the status value is within the supported range.
func (s RecipientStatus) Valid() bool {
	switch s {
	case RecipientUnpaused, RecipientPaused, RecipientTerminated:
		return true
	default:
		return false
	}
}

func (s RecipientStatus) String() string {
	switch s {
	case RecipientUnpaused:
		return "unpaused"
	case RecipientPaused:
		return "paused"
	case RecipientTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// EscrowStatus tracks the global escrow lifecycle. Termination is one-way and
// modeled as an explicit terminal state rather than a flag.
type EscrowStatus uint8

const (
	EscrowActive EscrowStatus = iota
	EscrowTerminated
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	return s == EscrowActive || s == EscrowTerminated
}

func (s EscrowStatus) String() string {
	switch s {
	case EscrowActive:
		return "active"
	case EscrowTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Recipient captures one beneficiary's vesting schedule and its accrued
// bookkeeping. VestingPerSec is fixed at creation by integer division of the
// total entitlement over the post-cliff duration and is never recomputed;
// pause compensation shifts CliffDuration and EndTime instead.
type Recipient struct {
	Address            [20]byte        `json:"address"`
	StartTime          int64           `json:"startTime"`
	EndTime            int64           `json:"endTime"`
	CliffDuration      int64           `json:"cliffDuration"`
	LastPausedAt       int64           `json:"lastPausedAt"`
	VestingPerSec      *big.Int        `json:"vestingPerSec"`
	TotalVestingAmount *big.Int        `json:"totalVestingAmount"`
	TotalClaimed       *big.Int        `json:"totalClaimed"`
	Status             RecipientStatus `json:"status"`
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (r *Recipient) Clone() *Recipient {
	if r == nil {
		return nil
	}
	clone := *r
	clone.VestingPerSec = cloneBigInt(r.VestingPerSec)
	clone.TotalVestingAmount = cloneBigInt(r.TotalVestingAmount)
	clone.TotalClaimed = cloneBigInt(r.TotalClaimed)
	return &clone
}

// SanitizeRecipient validates a recipient record loaded from storage and
// returns a cloned instance with non-nil amount fields.
func SanitizeRecipient(r *Recipient) (*Recipient, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil recipient", ErrRecipientNotFound)
	}
	clone := r.Clone()
	if clone.Address == ([20]byte{}) {
		return nil, fmt.Errorf("%w: zero recipient address", ErrInvalidAddress)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("vesting: invalid recipient status %d", clone.Status)
	}
	if clone.EndTime <= clone.StartTime {
		return nil, fmt.Errorf("%w: end time before start time", ErrInvalidSchedule)
	}
	if clone.VestingPerSec.Sign() < 0 || clone.TotalVestingAmount.Sign() < 0 || clone.TotalClaimed.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount field", ErrInvalidAmount)
	}
	if clone.TotalClaimed.Cmp(clone.TotalVestingAmount) > 0 {
		return nil, fmt.Errorf("%w: claimed exceeds entitlement", ErrInvariantViolated)
	}
	return clone, nil
}

// Escrow is the singleton aggregate holding the global allocation ledger, the
// termination switch and the set of recipients whose locked balances have
// already been swept. All conservation checks run against this record.
type Escrow struct {
	TotalAllocatedSupply *big.Int        `json:"totalAllocatedSupply"`
	TotalClaimed         *big.Int        `json:"totalClaimed"`
	Dust                 *big.Int        `json:"dust"`
	SafeAddress          [20]byte        `json:"safeAddress"`
	Status               EscrowStatus    `json:"status"`
	TerminatedAt         int64           `json:"terminatedAt"`
	Seized               map[string]bool `json:"seized,omitempty"`
}

// NewEscrow constructs an active escrow aggregate with zeroed ledger totals.
func NewEscrow(safeAddress [20]byte) (*Escrow, error) {
	if safeAddress == ([20]byte{}) {
		return nil, fmt.Errorf("%w: zero safe address", ErrInvalidAddress)
	}
	return &Escrow{
		TotalAllocatedSupply: big.NewInt(0),
		TotalClaimed:         big.NewInt(0),
		Dust:                 big.NewInt(0),
		SafeAddress:          safeAddress,
		Status:               EscrowActive,
		Seized:               make(map[string]bool),
	}, nil
}

// Clone returns a deep copy of the escrow aggregate.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.TotalAllocatedSupply = cloneBigInt(e.TotalAllocatedSupply)
	clone.TotalClaimed = cloneBigInt(e.TotalClaimed)
	clone.Dust = cloneBigInt(e.Dust)
	clone.Seized = make(map[string]bool, len(e.Seized))
	for addr, seized := range e.Seized {
		clone.Seized[addr] = seized
	}
	return &clone
}

// IsSeized reports whether the recipient's locked balance was already swept.
func (e *Escrow) IsSeized(addr [20]byte) bool {
	if e == nil || e.Seized == nil {
		return false
	}
	return e.Seized[seizedKey(addr)]
}

// MarkSeized records that the recipient's locked balance has been swept.
func (e *Escrow) MarkSeized(addr [20]byte) {
	if e == nil {
		return
	}
	if e.Seized == nil {
		e.Seized = make(map[string]bool)
	}
	e.Seized[seizedKey(addr)] = true
}

func seizedKey(addr [20]byte) string {
	return common.Address(addr).Hex()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
