package models

import "time"

// CreditAccount holds the prepaid grading credits of one user.
type CreditAccount struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is one append-only ledger entry. Amount is negative for debits and
// positive for credits; BalanceAfter is the account balance once the entry applied.
type CreditTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Reason       string    `gorm:"size:255" json:"reason"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsDebit reports whether the entry removed credits.
func (t CreditTransaction) IsDebit() bool {
	return t.Amount < 0
}
