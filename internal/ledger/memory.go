// Package ledger provides Ledger implementations for the case lifecycle.
package ledger

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"github.com/pendergraft/lostpaws/internal/cases/domain"
	"github.com/pendergraft/lostpaws/internal/storage"
)

// Memory is an in-process ledger holding account balances and per-case
// escrow pools. It keeps no journal; events passed with movements are
// dropped. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]uint64
	pools    map[uint64]uint64
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]uint64),
		pools:    make(map[uint64]uint64),
	}
}

// Deposit credits account from outside the system.
func (m *Memory) Deposit(ctx context.Context, account string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", storage.ErrAmountOutOfRange)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, err := add(m.accounts[account], amount)
	if err != nil {
		return err
	}
	m.accounts[account] = bal
	return nil
}

// AccountBalance returns the balance of account.
func (m *Memory) AccountBalance(ctx context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[account], nil
}

// Escrow moves amount from account into the pool of caseID.
func (m *Memory) Escrow(ctx context.Context, caseID uint64, from string, amount uint64, _ *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accounts[from] < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", storage.ErrInsufficientFunds, from, m.accounts[from], amount)
	}
	pool, err := add(m.pools[caseID], amount)
	if err != nil {
		return err
	}
	m.accounts[from] -= amount
	m.pools[caseID] = pool
	return nil
}

// Payout moves amount from the pool of caseID to account to.
func (m *Memory) Payout(ctx context.Context, caseID uint64, to string, amount uint64, _ *domain.Event) error {
	return m.release(caseID, to, amount)
}

// Refund moves amount from the pool of caseID back to account to.
func (m *Memory) Refund(ctx context.Context, caseID uint64, to string, amount uint64, _ *domain.Event) error {
	return m.release(caseID, to, amount)
}

func (m *Memory) release(caseID uint64, to string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pools[caseID] < amount {
		return fmt.Errorf("%w: pool %d holds %d, needs %d", storage.ErrInsufficientFunds, caseID, m.pools[caseID], amount)
	}
	bal, err := add(m.accounts[to], amount)
	if err != nil {
		return err
	}
	m.pools[caseID] -= amount
	m.accounts[to] = bal
	return nil
}

// BalanceFor returns the pool balance of caseID.
func (m *Memory) BalanceFor(ctx context.Context, caseID uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools[caseID], nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, storage.ErrBalanceOverflow
	}
	return sum, nil
}
