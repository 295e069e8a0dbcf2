package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"vestd/core/types"
	"vestd/native/vesting"
	"vestd/storage"
)

var (
	ErrEscrowNotInitialised = errors.New("state: escrow not initialised")
	ErrInsufficientBalance  = errors.New("state: insufficient balance")
)

const (
	escrowKey       = "vesting/escrow"
	recipientPrefix = "vesting/recipient/"
	accountPrefix   = "account/"
)

// Manager owns the durable service state: the escrow aggregate, recipient
// records and the token account ledger. Engine operations run inside a
// transaction so that a failing operation leaves no partial effect behind.
// Execution is fully serialized; the mutex mirrors the one-operation-at-a-time
// model the accounting rules assume.
type Manager struct {
	mu    sync.Mutex
	db    storage.Database
	vault [20]byte
}

// NewManager wires a manager over the given key-value store. The vault address
// holds all escrowed funds until they are claimed, swept or seized.
func NewManager(db storage.Database, vault [20]byte) (*Manager, error) {
	if db == nil {
		return nil, errors.New("state: nil database")
	}
	if vault == ([20]byte{}) {
		return nil, errors.New("state: zero vault address")
	}
	return &Manager{db: db, vault: vault}, nil
}

// InitEscrow stores a fresh escrow aggregate unless one already exists. It
// reports whether a new aggregate was created so callers can apply one-time
// genesis seeding on first start only.
func (m *Manager) InitEscrow(safeAddress [20]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.db.Get([]byte(escrowKey)); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	esc, err := vesting.NewEscrow(safeAddress)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(esc)
	if err != nil {
		return false, err
	}
	if err := m.db.Put([]byte(escrowKey), raw); err != nil {
		return false, err
	}
	return true, nil
}

// Credit adds balance to an account outside any vesting operation. Used to
// apply genesis balances and by tests to provision funder accounts.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("state: credit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.loadAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance.Add(acc.Balance, amount)
	return m.storeAccount(addr, acc)
}

// BalanceOf reads an account balance.
func (m *Manager) BalanceOf(addr [20]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

// VaultAddress returns the module vault account.
func (m *Manager) VaultAddress() [20]byte { return m.vault }

// WithTransaction runs fn against a buffered view of the state and commits
// every staged write if and only if fn returns nil.
func (m *Manager) WithTransaction(fn func(*Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.begin()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn against the state without committing any writes.
func (m *Manager) View(fn func(*Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.begin())
}

func (m *Manager) begin() *Tx {
	return &Tx{
		m:          m,
		recipients: make(map[[20]byte]*vesting.Recipient),
		accounts:   make(map[[20]byte]*types.Account),
	}
}

func (m *Manager) loadAccount(addr [20]byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.EnsureAccount(nil), nil
	}
	if err != nil {
		return nil, err
	}
	acc := &types.Account{}
	if err := json.Unmarshal(raw, acc); err != nil {
		return nil, fmt.Errorf("state: corrupt account record: %w", err)
	}
	return types.EnsureAccount(acc), nil
}

func (m *Manager) storeAccount(addr [20]byte, acc *types.Account) error {
	raw, err := json.Marshal(types.EnsureAccount(acc))
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), raw)
}

func accountKey(addr [20]byte) []byte {
	return []byte(accountPrefix + common.Address(addr).Hex())
}

func recipientKey(addr [20]byte) []byte {
	return []byte(recipientPrefix + common.Address(addr).Hex())
}

// Tx is a copy-on-write overlay over the committed state. It implements the
// engine's state interface; reads fall through to storage, writes stay staged
// until commit.
type Tx struct {
	m          *Manager
	recipients map[[20]byte]*vesting.Recipient
	accounts   map[[20]byte]*types.Account
	escrow     *vesting.Escrow
}

// RecipientGet returns a mutable copy of the recipient record.
func (tx *Tx) RecipientGet(addr [20]byte) (*vesting.Recipient, bool) {
	if r, ok := tx.recipients[addr]; ok {
		return r.Clone(), true
	}
	raw, err := tx.m.db.Get(recipientKey(addr))
	if err != nil {
		return nil, false
	}
	r := &vesting.Recipient{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, false
	}
	sanitized, err := vesting.SanitizeRecipient(r)
	if err != nil {
		return nil, false
	}
	return sanitized, true
}

// RecipientPut stages a recipient write.
func (tx *Tx) RecipientPut(r *vesting.Recipient) error {
	sanitized, err := vesting.SanitizeRecipient(r)
	if err != nil {
		return err
	}
	tx.recipients[sanitized.Address] = sanitized
	return nil
}

// EscrowGet returns a mutable copy of the escrow aggregate.
func (tx *Tx) EscrowGet() (*vesting.Escrow, error) {
	if tx.escrow != nil {
		return tx.escrow.Clone(), nil
	}
	raw, err := tx.m.db.Get([]byte(escrowKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrEscrowNotInitialised
	}
	if err != nil {
		return nil, err
	}
	esc := &vesting.Escrow{}
	if err := json.Unmarshal(raw, esc); err != nil {
		return nil, fmt.Errorf("state: corrupt escrow record: %w", err)
	}
	return esc.Clone(), nil
}

// EscrowPut stages an escrow write.
func (tx *Tx) EscrowPut(esc *vesting.Escrow) error {
	if esc == nil {
		return errors.New("state: nil escrow")
	}
	tx.escrow = esc.Clone()
	return nil
}

// VaultAddress returns the module vault account.
func (tx *Tx) VaultAddress() [20]byte { return tx.m.vault }

// Transfer moves balance between two accounts inside the transaction. A zero
// amount is a no-op; a debit below zero fails the whole transaction.
func (tx *Tx) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errors.New("state: negative transfer amount")
	}
	fromAcc, err := tx.account(from)
	if err != nil {
		return err
	}
	toAcc, err := tx.account(to)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance,
			common.Address(from).Hex(), fromAcc.Balance, amount)
	}
	fromAcc.Balance.Sub(fromAcc.Balance, amount)
	toAcc.Balance.Add(toAcc.Balance, amount)
	return nil
}

// RecipientAddresses lists every stored recipient, committed and staged.
func (tx *Tx) RecipientAddresses() ([][20]byte, error) {
	seen := make(map[[20]byte]bool)
	addrs := make([][20]byte, 0)
	err := tx.m.db.Iterate([]byte(recipientPrefix), func(key, value []byte) error {
		r := &vesting.Recipient{}
		if err := json.Unmarshal(value, r); err != nil {
			return fmt.Errorf("state: corrupt recipient record %s: %w", key, err)
		}
		if !seen[r.Address] {
			seen[r.Address] = true
			addrs = append(addrs, r.Address)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for addr := range tx.recipients {
		if !seen[addr] {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

// account returns the staged account for addr, loading and caching it on
// first access. Both legs of a transfer between the same address alias one
// object, so a self-transfer nets to zero instead of double-counting.
func (tx *Tx) account(addr [20]byte) (*types.Account, error) {
	if acc, ok := tx.accounts[addr]; ok {
		return acc, nil
	}
	acc, err := tx.m.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	tx.accounts[addr] = acc
	return acc, nil
}

func (tx *Tx) commit() error {
	for addr, r := range tx.recipients {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := tx.m.db.Put(recipientKey(addr), raw); err != nil {
			return err
		}
	}
	for addr, acc := range tx.accounts {
		if err := tx.m.storeAccount(addr, acc); err != nil {
			return err
		}
	}
	if tx.escrow != nil {
		raw, err := json.Marshal(tx.escrow)
		if err != nil {
			return err
		}
		if err := tx.m.db.Put([]byte(escrowKey), raw); err != nil {
			return err
		}
	}
	return nil
}
