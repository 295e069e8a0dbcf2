package vesting

import (
	"errors"
	"math/big"
	"testing"
)

func TestRecipientStatusStrings(t *testing.T) {
	cases := map[RecipientStatus]string{
		RecipientUnpaused:   "unpaused",
		RecipientPaused:     "paused",
		RecipientTerminated: "terminated",
	}
	for status, want := range cases {
		if !status.Valid() {
			t.Fatalf("status %d not valid", status)
		}
		if got := status.String(); got != want {
			t.Fatalf("status string = %q, want %q", got, want)
		}
	}
	if RecipientStatus(9).Valid() {
		t.Fatalf("out of range status reported valid")
	}
}

func TestEscrowStatusStrings(t *testing.T) {
	if got := EscrowActive.String(); got != "active" {
		t.Fatalf("active string = %q", got)
	}
	if got := EscrowTerminated.String(); got != "terminated" {
		t.Fatalf("terminated string = %q", got)
	}
	if EscrowStatus(7).Valid() {
		t.Fatalf("out of range status reported valid")
	}
}

func TestRecipientCloneIsolation(t *testing.T) {
	r := testRecipient()
	clone := r.Clone()
	clone.TotalClaimed.SetInt64(999)
	clone.Status = RecipientTerminated
	if r.TotalClaimed.Sign() != 0 {
		t.Fatalf("clone mutation leaked into original claimed: %s", r.TotalClaimed)
	}
	if r.Status != RecipientUnpaused {
		t.Fatalf("clone mutation leaked into original status")
	}
	if (*Recipient)(nil).Clone() != nil {
		t.Fatalf("nil clone should stay nil")
	}
}

func TestSanitizeRecipient(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Recipient)
		wantErr error
	}{
		{"zero address", func(r *Recipient) { r.Address = [20]byte{} }, ErrInvalidAddress},
		{"end before start", func(r *Recipient) { r.EndTime = r.StartTime }, ErrInvalidSchedule},
		{"negative claimed", func(r *Recipient) { r.TotalClaimed = big.NewInt(-1) }, ErrInvalidAmount},
		{"claimed past entitlement", func(r *Recipient) { r.TotalClaimed = big.NewInt(2000) }, ErrInvariantViolated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := testRecipient()
			tc.mutate(r)
			if _, err := SanitizeRecipient(r); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	clean, err := SanitizeRecipient(testRecipient())
	if err != nil {
		t.Fatalf("sanitize clean record: %v", err)
	}
	if clean.TotalClaimed == nil || clean.VestingPerSec == nil {
		t.Fatalf("sanitized record has nil amounts")
	}
	if _, err := SanitizeRecipient(nil); !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound for nil, got %v", err)
	}
}

func TestEscrowSeizedMarking(t *testing.T) {
	esc, err := NewEscrow(testSafe)
	if err != nil {
		t.Fatalf("new escrow: %v", err)
	}
	addr := newTestAddress(0x31)
	if esc.IsSeized(addr) {
		t.Fatalf("fresh escrow reports seized")
	}
	esc.MarkSeized(addr)
	if !esc.IsSeized(addr) {
		t.Fatalf("mark seized not recorded")
	}

	clone := esc.Clone()
	clone.MarkSeized(newTestAddress(0x32))
	if esc.IsSeized(newTestAddress(0x32)) {
		t.Fatalf("clone mutation leaked into original seized set")
	}
}

func TestNewEscrowRejectsZeroSafeAddress(t *testing.T) {
	if _, err := NewEscrow([20]byte{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}
