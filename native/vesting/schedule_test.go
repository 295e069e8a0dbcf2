package vesting

import (
	"errors"
	"math/big"
	"testing"
)

func testRecipient() *Recipient {
	return &Recipient{
		Address:            newTestAddress(0x01),
		StartTime:          1000,
		EndTime:            2000,
		CliffDuration:      100,
		VestingPerSec:      big.NewInt(1),
		TotalVestingAmount: big.NewInt(1000),
		TotalClaimed:       big.NewInt(0),
		Status:             RecipientUnpaused,
	}
}

func activeEscrow(t *testing.T) *Escrow {
	t.Helper()
	esc, err := NewEscrow(newTestAddress(0x5A))
	if err != nil {
		t.Fatalf("new escrow: %v", err)
	}
	return esc
}

func TestClaimStartTime(t *testing.T) {
	r := testRecipient()
	if got := ClaimStartTime(r); got != 1100 {
		t.Fatalf("claim start time = %d, want 1100", got)
	}
	if got := ClaimStartTime(nil); got != 0 {
		t.Fatalf("claim start time of nil = %d, want 0", got)
	}
}

func TestCanClaim(t *testing.T) {
	r := testRecipient()
	if CanClaim(r, 1099) {
		t.Fatalf("expected claim blocked before cliff")
	}
	if !CanClaim(r, 1100) {
		t.Fatalf("expected claim open at cliff end")
	}
	r.Status = RecipientPaused
	if CanClaim(r, 1500) {
		t.Fatalf("expected claim blocked while paused")
	}
	r.Status = RecipientTerminated
	if CanClaim(r, 1500) {
		t.Fatalf("expected claim blocked after termination")
	}
}

func TestLockedAmountLinearCurve(t *testing.T) {
	esc := activeEscrow(t)
	tests := []struct {
		name   string
		now    int64
		locked int64
	}{
		{"before start", 900, 1000},
		{"at start", 1000, 1000},
		{"at cliff end", 1100, 1000},
		{"mid schedule", 1600, 500},
		{"one second left", 1999, 101},
		{"at end", 2000, 0},
		{"after end", 3000, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			locked, err := LockedAmount(testRecipient(), esc, tc.now)
			if err != nil {
				t.Fatalf("locked amount: %v", err)
			}
			if locked.Int64() != tc.locked {
				t.Fatalf("locked at %d = %s, want %d", tc.now, locked, tc.locked)
			}
		})
	}
}

func TestClaimableAmountCurve(t *testing.T) {
	esc := activeEscrow(t)
	tests := []struct {
		name      string
		now       int64
		claimed   int64
		claimable int64
	}{
		{"at cliff end nothing vested", 1100, 0, 0},
		{"mid schedule", 1600, 0, 500},
		{"mid schedule after partial claim", 1600, 200, 300},
		{"truncation remainder released at end", 2000, 0, 1000},
		{"final claim empties entitlement", 2000, 900, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := testRecipient()
			r.TotalClaimed = big.NewInt(tc.claimed)
			claimable, err := ClaimableAmount(r, esc, tc.now)
			if err != nil {
				t.Fatalf("claimable amount: %v", err)
			}
			if claimable.Int64() != tc.claimable {
				t.Fatalf("claimable at %d = %s, want %d", tc.now, claimable, tc.claimable)
			}
		})
	}
}

func TestLockedAmountPausedFreezesAtPauseInstant(t *testing.T) {
	esc := activeEscrow(t)
	r := testRecipient()
	r.Status = RecipientPaused
	r.LastPausedAt = 1600

	for _, now := range []int64{1600, 1900, 5000} {
		locked, err := LockedAmount(r, esc, now)
		if err != nil {
			t.Fatalf("locked amount: %v", err)
		}
		if locked.Int64() != 500 {
			t.Fatalf("locked at %d = %s, want frozen 500", now, locked)
		}
	}

	r.LastPausedAt = 2500
	locked, err := LockedAmount(r, esc, 2600)
	if err != nil {
		t.Fatalf("locked amount: %v", err)
	}
	if locked.Sign() != 0 {
		t.Fatalf("locked with pause past end = %s, want 0", locked)
	}
}

func TestLockedAmountEscrowTerminationFreezesValuation(t *testing.T) {
	esc := activeEscrow(t)
	esc.Status = EscrowTerminated
	esc.TerminatedAt = 1600

	r := testRecipient()
	for _, now := range []int64{1600, 1900} {
		locked, err := LockedAmount(r, esc, now)
		if err != nil {
			t.Fatalf("locked amount: %v", err)
		}
		if locked.Int64() != 500 {
			t.Fatalf("locked at %d = %s, want frozen 500", now, locked)
		}
	}

	// Past the schedule end the zero clamp wins over the frozen valuation.
	locked, err := LockedAmount(r, esc, 2100)
	if err != nil {
		t.Fatalf("locked amount: %v", err)
	}
	if locked.Sign() != 0 {
		t.Fatalf("locked past end = %s, want 0", locked)
	}
}

func TestLockedAmountTerminatedRecipientUndefined(t *testing.T) {
	esc := activeEscrow(t)
	r := testRecipient()
	r.Status = RecipientTerminated
	if _, err := LockedAmount(r, esc, 1600); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if _, err := ClaimableAmount(r, esc, 1600); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
}

func TestClaimableAmountNegativeFailsLoudly(t *testing.T) {
	esc := activeEscrow(t)
	r := testRecipient()
	r.TotalClaimed = big.NewInt(600)
	if _, err := ClaimableAmount(r, esc, 1600); !errors.Is(err, ErrInvariantViolated) {
		t.Fatalf("expected ErrInvariantViolated, got %v", err)
	}
}

func TestConservationAcrossCurve(t *testing.T) {
	esc := activeEscrow(t)
	r := testRecipient()
	r.TotalClaimed = big.NewInt(150)
	for _, now := range []int64{1100, 1400, 1700, 2000, 2500} {
		locked, err := LockedAmount(r, esc, now)
		if err != nil {
			t.Fatalf("locked amount: %v", err)
		}
		claimable, err := ClaimableAmount(r, esc, now)
		if err != nil {
			t.Fatalf("claimable amount: %v", err)
		}
		sum := new(big.Int).Add(locked, claimable)
		sum.Add(sum, r.TotalClaimed)
		if sum.Cmp(r.TotalVestingAmount) != 0 {
			t.Fatalf("at %d: locked %s + claimable %s + claimed %s != total %s",
				now, locked, claimable, r.TotalClaimed, r.TotalVestingAmount)
		}
	}
}
