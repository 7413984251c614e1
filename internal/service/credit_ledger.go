package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// ErrUserNotFound indicates the user has no credit account. Ledgers never treat an unknown
// user as a zero balance.
var ErrUserNotFound = repository.ErrCreditAccountNotFound

// ErrInvalidAmount indicates a non-positive debit or credit.
var ErrInvalidAmount = repository.ErrInvalidCreditAmount

// CreditLedger tracks a non-negative credit balance per user.
//
// Debit must check and subtract in one atomic step: it returns false, leaving the balance
// untouched, when the balance is lower than amount. Credit is only used to compensate a
// debit whose work did not complete, and to grant credits administratively.
type CreditLedger interface {
	GetBalance(ctx context.Context, userID uint) (int64, error)
	Debit(ctx context.Context, userID uint, amount int64, reason string) (bool, error)
	Credit(ctx context.Context, userID uint, amount int64, reason string) (bool, error)
}

// CreditAccounts opens accounts. Implemented by every ledger in this package and by
// repository.CreditRepository.
type CreditAccounts interface {
	OpenAccount(ctx context.Context, userID uint, initial int64) error
}

// CreditHistory lists the most recent ledger entries of a user, newest first.
type CreditHistory interface {
	Transactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error)
}

// MemoryCreditLedger keeps balances and the transaction log in process memory.
type MemoryCreditLedger struct {
	mu           sync.Mutex
	balances     map[uint]int64
	transactions map[uint][]models.CreditTransaction
	nextID       uint
	now          func() time.Time
}

// NewMemoryCreditLedger returns a ledger seeded with the given opening balances.
func NewMemoryCreditLedger(opening map[uint]int64) *MemoryCreditLedger {
	ledger := &MemoryCreditLedger{
		balances:     make(map[uint]int64, len(opening)),
		transactions: make(map[uint][]models.CreditTransaction, len(opening)),
		now:          time.Now,
	}
	for userID, balance := range opening {
		_ = ledger.OpenAccount(context.Background(), userID, balance)
	}
	return ledger
}

func (l *MemoryCreditLedger) GetBalance(_ context.Context, userID uint) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return balance, nil
}

func (l *MemoryCreditLedger) Debit(_ context.Context, userID uint, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if balance < amount {
		return false, nil
	}
	l.apply(userID, -amount, reason)
	return true, nil
}

func (l *MemoryCreditLedger) Credit(_ context.Context, userID uint, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[userID]; !ok {
		return false, ErrUserNotFound
	}
	l.apply(userID, amount, reason)
	return true, nil
}

func (l *MemoryCreditLedger) OpenAccount(_ context.Context, userID uint, initial int64) error {
	if initial < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[userID]; ok {
		return nil
	}
	l.balances[userID] = 0
	if initial > 0 {
		l.apply(userID, initial, "opening balance")
	}
	return nil
}

func (l *MemoryCreditLedger) Transactions(_ context.Context, userID uint, limit int) ([]models.CreditTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[userID]; !ok {
		return nil, ErrUserNotFound
	}
	entries := l.transactions[userID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]models.CreditTransaction, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// apply must be called with mu held.
func (l *MemoryCreditLedger) apply(userID uint, amount int64, reason string) {
	l.balances[userID] += amount
	l.nextID++
	l.transactions[userID] = append(l.transactions[userID], models.CreditTransaction{
		ID:           l.nextID,
		UserID:       userID,
		Amount:       amount,
		Reason:       reason,
		BalanceAfter: l.balances[userID],
		CreatedAt:    l.now(),
	})
}

var (
	_ CreditLedger   = (*MemoryCreditLedger)(nil)
	_ CreditAccounts = (*MemoryCreditLedger)(nil)
	_ CreditHistory  = (*MemoryCreditLedger)(nil)
	_ CreditLedger   = (*RedisCreditLedger)(nil)
	_ CreditAccounts = (*RedisCreditLedger)(nil)
	_ CreditHistory  = (*RedisCreditLedger)(nil)
	_ CreditLedger   = repository.CreditRepository(nil)
)
