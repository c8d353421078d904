package credits

import (
	"context"
	"sync"
)

// MemoryLedger satisfies the Ledger contract in process memory. Used in
// tests and when no DATABASE_URL is configured; the mutex gives it the same
// atomic check-then-debit guarantee the postgres statement provides.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[int64]int
	grant    int
}

// NewMemoryLedger creates an in-memory ledger. Unknown accounts are lazily
// created with the starting grant, mirroring the account-creation policy of
// the relational store.
func NewMemoryLedger(startingGrant int) *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[int64]int),
		grant:    startingGrant,
	}
}

func (l *MemoryLedger) balance(userID int64) int {
	if _, ok := l.balances[userID]; !ok {
		l.balances[userID] = l.grant
	}
	return l.balances[userID]
}

// Balance returns the current balance
func (l *MemoryLedger) Balance(ctx context.Context, userID int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(userID), nil
}

// Check reports whether the balance covers cost
func (l *MemoryLedger) Check(ctx context.Context, userID int64, cost int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(userID) >= cost, nil
}

// Debit atomically decrements the balance when sufficient
func (l *MemoryLedger) Debit(ctx context.Context, userID int64, cost int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance(userID) < cost {
		return false, nil
	}
	l.balances[userID] -= cost
	return true, nil
}

// Refund credits amount back to the balance
func (l *MemoryLedger) Refund(ctx context.Context, userID int64, amount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = l.balance(userID) + amount
	return nil
}

// SetBalance overwrites an account balance. Test hook.
func (l *MemoryLedger) SetBalance(userID int64, balance int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}
