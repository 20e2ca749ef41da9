package billing

import (
	"context"
	"errors"
	"sync"
)

// ErrInsufficientBalance is the one signal the chat core consumes from the
// billing collaborator.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger is the billing collaborator's surface: check-and-debit in one call.
// The real ledger lives in another service; the core only observes pass/fail.
type Ledger interface {
	Check(ctx context.Context, userID string, cost int) error
}

// MemoryLedger implements Ledger with in-memory balances, for development and
// tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
	grant    int
}

// NewMemoryLedger returns a ledger that grants every new user the given
// starting balance.
func NewMemoryLedger(grant int) *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int),
		grant:    grant,
	}
}

// Check debits cost from the user's balance, returning
// ErrInsufficientBalance without debiting when the balance does not cover it.
func (l *MemoryLedger) Check(_ context.Context, userID string, cost int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[userID]
	if !ok {
		balance = l.grant
	}
	if balance < cost {
		l.balances[userID] = balance
		return ErrInsufficientBalance
	}
	l.balances[userID] = balance - cost
	return nil
}

// SetBalance pins a user's balance, mainly for tests.
func (l *MemoryLedger) SetBalance(userID string, balance int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}
