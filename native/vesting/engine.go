package vesting

import (
	"fmt"
	"math/big"
	"time"

	"vestd/core/events"
	"vestd/core/types"
)

// engineState is the narrow view of the world the engine mutates: recipient
// and escrow records plus the fund ledger that moves balances between the
// funder, the module vault, recipients and the safe address. Implementations
// must make every engine call all-or-nothing; the engine itself applies all
// accounting effects strictly before invoking Transfer.
type engineState interface {
	RecipientGet(addr [20]byte) (*Recipient, bool)
	RecipientPut(*Recipient) error
	EscrowGet() (*Escrow, error)
	EscrowPut(*Escrow) error
	VaultAddress() [20]byte
	Transfer(from, to [20]byte, amount *big.Int) error
}

// AllocationEntry describes one recipient requested in an addRecipients batch.
type AllocationEntry struct {
	Address       [20]byte
	Amount        *big.Int
	StartTime     int64
	EndTime       int64
	CliffDuration int64
}

type vestingEvent struct {
	evt *types.Event
}

func (e vestingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vestingEvent) Event() *types.Event { return e.evt }

// Engine implements the vesting accounting rules against an external state
// backend. Every exported mutation reads the clock exactly once at entry and
// either commits all of its effects through the state or none of them.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	nowFn          func() int64
	allowPastStart bool
}

// NewEngine creates a vesting engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAllowPastStartTimes permits allocation entries whose start time is not in
// the future. Used for migrations of schedules that began elsewhere.
func (e *Engine) SetAllowPastStartTimes(allow bool) { e.allowPastStart = allow }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vestingEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow() (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.EscrowGet()
}

func (e *Engine) loadRecipient(addr [20]byte) (*Recipient, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if addr == ([20]byte{}) {
		return nil, fmt.Errorf("%w: zero recipient address", ErrInvalidAddress)
	}
	r, ok := e.state.RecipientGet(addr)
	if !ok {
		return nil, ErrRecipientNotFound
	}
	return r, nil
}

// AddRecipients pulls totalFunding from the funder into the module vault and
// provisions one vesting schedule per entry. The remainder after distributing
// all entry amounts accrues to the escrow dust balance. Re-adding an address
// that already holds a live schedule is rejected; a slot left behind by a
// terminated recipient may be provisioned again with a fresh schedule.
func (e *Engine) AddRecipients(funder [20]byte, entries []AllocationEntry, totalFunding *big.Int) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if esc.Status == EscrowTerminated {
		return ErrEscrowTerminated
	}
	if funder == ([20]byte{}) {
		return fmt.Errorf("%w: zero funder address", ErrInvalidAddress)
	}
	if funder == e.state.VaultAddress() {
		return fmt.Errorf("%w: funder cannot be the vault", ErrInvalidAddress)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty allocation batch", ErrInvalidSchedule)
	}
	funding := cloneBigInt(totalFunding)
	if funding.Sign() <= 0 {
		return fmt.Errorf("%w: total funding must be positive", ErrInvalidAmount)
	}
	now := e.now()
	allocated := big.NewInt(0)
	recipients := make([]*Recipient, 0, len(entries))
	seen := make(map[[20]byte]bool, len(entries))
	for i, entry := range entries {
		r, err := e.buildRecipient(entry, now)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if seen[entry.Address] {
			return fmt.Errorf("entry %d: %w", i, ErrRecipientExists)
		}
		seen[entry.Address] = true
		if existing, ok := e.state.RecipientGet(entry.Address); ok && existing.Status != RecipientTerminated {
			return fmt.Errorf("entry %d: %w", i, ErrRecipientExists)
		}
		allocated.Add(allocated, r.TotalVestingAmount)
		recipients = append(recipients, r)
	}
	if allocated.Cmp(funding) > 0 {
		return fmt.Errorf("%w: allocated %s exceeds funding %s", ErrAllocationExceedsFunding, allocated, funding)
	}
	for _, r := range recipients {
		if err := e.state.RecipientPut(r); err != nil {
			return err
		}
	}
	esc.TotalAllocatedSupply.Add(esc.TotalAllocatedSupply, allocated)
	esc.Dust.Add(esc.Dust, new(big.Int).Sub(funding, allocated))
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.state.Transfer(funder, e.state.VaultAddress(), funding); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	for _, r := range recipients {
		e.emit(NewRecipientAddedEvent(r))
	}
	return nil
}

func (e *Engine) buildRecipient(entry AllocationEntry, now int64) (*Recipient, error) {
	if entry.Address == ([20]byte{}) {
		return nil, fmt.Errorf("%w: zero recipient address", ErrInvalidAddress)
	}
	if entry.Address == e.state.VaultAddress() {
		return nil, fmt.Errorf("%w: recipient cannot be the vault", ErrInvalidAddress)
	}
	amount := cloneBigInt(entry.Amount)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive vesting amount", ErrInvalidSchedule)
	}
	if !e.allowPastStart && entry.StartTime <= now {
		return nil, fmt.Errorf("%w: start time not in the future", ErrInvalidSchedule)
	}
	if entry.EndTime <= entry.StartTime {
		return nil, fmt.Errorf("%w: end time not after start time", ErrInvalidSchedule)
	}
	if entry.CliffDuration < 0 || entry.CliffDuration >= entry.EndTime-entry.StartTime {
		return nil, fmt.Errorf("%w: cliff duration not shorter than schedule", ErrInvalidSchedule)
	}
	// Fixed for the life of the schedule; truncation here is the documented
	// rounding behaviour, compensated by the final claim emptying the exact
	// remaining entitlement.
	rate := new(big.Int).Quo(amount, big.NewInt(entry.EndTime-entry.StartTime-entry.CliffDuration))
	return &Recipient{
		Address:            entry.Address,
		StartTime:          entry.StartTime,
		EndTime:            entry.EndTime,
		CliffDuration:      entry.CliffDuration,
		VestingPerSec:      rate,
		TotalVestingAmount: amount,
		TotalClaimed:       big.NewInt(0),
		Status:             RecipientUnpaused,
	}, nil
}

// Pause freezes a recipient's vesting progress at the current instant.
func (e *Engine) Pause(addr [20]byte) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if esc.Status == EscrowTerminated {
		return ErrEscrowTerminated
	}
	r, err := e.loadRecipient(addr)
	if err != nil {
		return err
	}
	if r.Status != RecipientUnpaused {
		return fmt.Errorf("%w: cannot pause %s recipient", ErrStateConflict, r.Status)
	}
	now := e.now()
	r.Status = RecipientPaused
	r.LastPausedAt = now
	if err := e.state.RecipientPut(r); err != nil {
		return err
	}
	e.emit(NewRecipientPausedEvent(r, now))
	return nil
}

// Unpause resumes a paused recipient, shifting the cliff and end of its
// schedule forward by the paused duration so that paused time never counts
// against vesting progress. The committed per-second rate is untouched.
func (e *Engine) Unpause(addr [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	r, err := e.loadRecipient(addr)
	if err != nil {
		return err
	}
	if r.Status != RecipientPaused {
		return fmt.Errorf("%w: cannot unpause %s recipient", ErrStateConflict, r.Status)
	}
	now := e.now()
	pausedFor := now - r.LastPausedAt
	if pausedFor < 0 {
		return fmt.Errorf("%w: pause recorded in the future", ErrInvariantViolated)
	}
	r.CliffDuration += pausedFor
	r.EndTime += pausedFor
	r.Status = RecipientUnpaused
	if err := e.state.RecipientPut(r); err != nil {
		return err
	}
	e.emit(NewRecipientUnpausedEvent(r, pausedFor))
	return nil
}

// TerminateRecipient ends a recipient's schedule: the currently claimable
// amount is paid out to the recipient, the remaining entitlement is swept to
// the safe address and the record becomes immutable.
func (e *Engine) TerminateRecipient(addr [20]byte) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if esc.Status == EscrowTerminated {
		return ErrEscrowTerminated
	}
	r, err := e.loadRecipient(addr)
	if err != nil {
		return err
	}
	if r.Status == RecipientTerminated {
		return fmt.Errorf("%w: recipient already terminated", ErrStateConflict)
	}
	now := e.now()
	payout, err := ClaimableAmount(r, esc, now)
	if err != nil {
		return err
	}
	r.TotalClaimed.Add(r.TotalClaimed, payout)
	esc.TotalClaimed.Add(esc.TotalClaimed, payout)
	residual := new(big.Int).Sub(r.TotalVestingAmount, r.TotalClaimed)
	if residual.Sign() < 0 {
		return fmt.Errorf("%w: claimed exceeds entitlement", ErrInvariantViolated)
	}
	if esc.TotalClaimed.Cmp(esc.TotalAllocatedSupply) > 0 {
		return fmt.Errorf("%w: global claimed exceeds allocated supply", ErrInvariantViolated)
	}
	r.Status = RecipientTerminated
	if err := e.state.RecipientPut(r); err != nil {
		return err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	vault := e.state.VaultAddress()
	if err := e.state.Transfer(vault, addr, payout); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	if err := e.state.Transfer(vault, esc.SafeAddress, residual); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	e.emit(NewRecipientTerminatedEvent(r, payout, residual))
	return nil
}

// Claim withdraws part of the recipient's vested balance to their account.
// Claims remain possible after global escrow termination, limited to what had
// vested before the termination instant.
func (e *Engine) Claim(addr [20]byte, amount *big.Int) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	r, err := e.loadRecipient(addr)
	if err != nil {
		return err
	}
	if r.Status != RecipientUnpaused {
		return fmt.Errorf("%w: cannot claim as %s recipient", ErrStateConflict, r.Status)
	}
	now := e.now()
	if !CanClaim(r, now) {
		return fmt.Errorf("%w: cliff ends at %d", ErrClaimNotOpen, ClaimStartTime(r))
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: claim amount must be positive", ErrInvalidAmount)
	}
	claimable, err := ClaimableAmount(r, esc, now)
	if err != nil {
		return err
	}
	if amt.Cmp(claimable) > 0 {
		return fmt.Errorf("%w: requested %s, claimable %s", ErrClaimExceedsEntitlement, amt, claimable)
	}
	r.TotalClaimed.Add(r.TotalClaimed, amt)
	esc.TotalClaimed.Add(esc.TotalClaimed, amt)
	if r.TotalClaimed.Cmp(r.TotalVestingAmount) > 0 {
		return fmt.Errorf("%w: claimed exceeds entitlement", ErrInvariantViolated)
	}
	if esc.TotalClaimed.Cmp(esc.TotalAllocatedSupply) > 0 {
		return fmt.Errorf("%w: global claimed exceeds allocated supply", ErrInvariantViolated)
	}
	if err := e.state.RecipientPut(r); err != nil {
		return err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.state.Transfer(e.state.VaultAddress(), addr, amt); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	e.emit(NewClaimedEvent(r, amt))
	return nil
}

// TerminateEscrow flips the one-way global termination switch. Valuations of
// unpaused recipients freeze at this instant; no funds move here.
func (e *Engine) TerminateEscrow() error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if esc.Status == EscrowTerminated {
		return ErrEscrowTerminated
	}
	esc.Status = EscrowTerminated
	esc.TerminatedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewEscrowTerminatedEvent(esc))
	return nil
}

// SeizeLockedTokens sweeps the frozen locked balances of the given recipients
// to the safe address in a single transfer. Each recipient's locked balance
// can be seized at most once; already seized and individually terminated
// recipients contribute zero and are skipped.
func (e *Engine) SeizeLockedTokens(addrs [][20]byte) (*big.Int, error) {
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	if esc.Status != EscrowTerminated {
		return nil, ErrEscrowNotTerminated
	}
	now := e.now()
	total := big.NewInt(0)
	for _, addr := range addrs {
		if esc.IsSeized(addr) {
			continue
		}
		r, err := e.loadRecipient(addr)
		if err != nil {
			return nil, err
		}
		if r.Status == RecipientTerminated {
			continue
		}
		locked, err := LockedAmount(r, esc, now)
		if err != nil {
			return nil, err
		}
		total.Add(total, locked)
		esc.MarkSeized(addr)
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if total.Sign() > 0 {
		if err := e.state.Transfer(e.state.VaultAddress(), esc.SafeAddress, total); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
	}
	e.emit(NewLockedSeizedEvent(esc, total, len(addrs)))
	return total, nil
}

// TransferDust sweeps the accumulated unallocated funding remainder to the
// safe address. The dust balance is zeroed in the same transaction as the
// transfer.
func (e *Engine) TransferDust() (*big.Int, error) {
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(esc.Dust)
	esc.Dust = big.NewInt(0)
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := e.state.Transfer(e.state.VaultAddress(), esc.SafeAddress, amount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
	}
	e.emit(NewDustTransferredEvent(esc, amount))
	return amount, nil
}

// UpdateSafeAddress changes the destination for seized and swept funds.
func (e *Engine) UpdateSafeAddress(addr [20]byte) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if esc.Status == EscrowTerminated {
		return ErrEscrowTerminated
	}
	if addr == ([20]byte{}) {
		return fmt.Errorf("%w: zero safe address", ErrInvalidAddress)
	}
	if addr == e.state.VaultAddress() {
		return fmt.Errorf("%w: safe address cannot be the vault", ErrInvalidAddress)
	}
	esc.SafeAddress = addr
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewSafeAddressUpdatedEvent(esc))
	return nil
}

// GetRecipient returns a copy of the stored recipient record.
func (e *Engine) GetRecipient(addr [20]byte) (*Recipient, error) {
	r, err := e.loadRecipient(addr)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// EscrowInfo returns a copy of the escrow aggregate.
func (e *Engine) EscrowInfo() (*Escrow, error) {
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// LockedAmountOf values the recipient's locked balance at the current time.
func (e *Engine) LockedAmountOf(addr [20]byte) (*big.Int, error) {
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	r, err := e.loadRecipient(addr)
	if err != nil {
		return nil, err
	}
	return LockedAmount(r, esc, e.now())
}

// ClaimableAmountOf values the recipient's claimable balance at the current
// time.
func (e *Engine) ClaimableAmountOf(addr [20]byte) (*big.Int, error) {
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	r, err := e.loadRecipient(addr)
	if err != nil {
		return nil, err
	}
	return ClaimableAmount(r, esc, e.now())
}
