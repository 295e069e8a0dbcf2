package vesting

import (
	"fmt"
	"math/big"
)

// The schedule model is a set of pure functions over a recipient's stored
// fields, the escrow termination state and a caller-supplied timestamp. All
// arithmetic is exact big.Int math; the clamps below exist so that no
// subtraction can go negative before the cliff is reached.

// ClaimStartTime returns the instant from which claims are permitted.
func ClaimStartTime(r *Recipient) int64 {
	if r == nil {
		return 0
	}
	return r.StartTime + r.CliffDuration
}

// CanClaim reports whether the recipient may claim at the given time. Paused
// and terminated recipients can never claim.
func CanClaim(r *Recipient, now int64) bool {
	if r == nil {
		return false
	}
	return r.Status == RecipientUnpaused && now >= ClaimStartTime(r)
}

// LockedAmount computes the portion of the entitlement that has not vested at
// the given time.
//
// A paused recipient's valuation is frozen at its own pause instant, an
// unpaused recipient under a terminated escrow is frozen at the termination
// instant, and an unpaused recipient under an active escrow vests linearly at
// the fixed per-second rate. A terminated recipient has no defined locked
// amount; callers must check the status first.
func LockedAmount(r *Recipient, esc *Escrow, now int64) (*big.Int, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil recipient", ErrRecipientNotFound)
	}
	switch r.Status {
	case RecipientTerminated:
		return nil, fmt.Errorf("%w: locked amount undefined for terminated recipient", ErrStateConflict)
	case RecipientPaused:
		return lockedAt(r, r.LastPausedAt), nil
	}
	if now >= r.EndTime {
		return big.NewInt(0), nil
	}
	if esc != nil && esc.Status == EscrowTerminated {
		return lockedAt(r, esc.TerminatedAt), nil
	}
	return lockedAt(r, now), nil
}

// ClaimableAmount computes the vested but not yet withdrawn portion of the
// entitlement. Because VestingPerSec is truncated at creation, the linear
// valuation may run a few units behind the exact entitlement mid-schedule;
// once EndTime passes the locked amount drops to zero and the remaining
// entitlement becomes claimable in full, so no per-recipient dust is left
// behind.
func ClaimableAmount(r *Recipient, esc *Escrow, now int64) (*big.Int, error) {
	locked, err := LockedAmount(r, esc, now)
	if err != nil {
		return nil, err
	}
	claimable := new(big.Int).Sub(cloneBigInt(r.TotalVestingAmount), cloneBigInt(r.TotalClaimed))
	claimable.Sub(claimable, locked)
	if claimable.Sign() < 0 {
		return nil, fmt.Errorf("%w: claimed plus locked exceeds entitlement", ErrInvariantViolated)
	}
	return claimable, nil
}

// lockedAt values the still-locked balance at the instant t: the full
// entitlement less the fixed rate applied to the seconds elapsed since the
// claim start. Before the claim start everything is locked, from EndTime on
// nothing is.
func lockedAt(r *Recipient, t int64) *big.Int {
	if t >= r.EndTime {
		return big.NewInt(0)
	}
	start := ClaimStartTime(r)
	if t <= start {
		return cloneBigInt(r.TotalVestingAmount)
	}
	vested := new(big.Int).Mul(cloneBigInt(r.VestingPerSec), big.NewInt(t-start))
	locked := new(big.Int).Sub(cloneBigInt(r.TotalVestingAmount), vested)
	if locked.Sign() < 0 {
		return big.NewInt(0)
	}
	return locked
}
