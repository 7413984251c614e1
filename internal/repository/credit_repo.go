package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ErrCreditAccountNotFound indicates the user has no credit account.
var ErrCreditAccountNotFound = errors.New("credit account not found")

// ErrInvalidCreditAmount indicates a non-positive debit or credit amount.
var ErrInvalidCreditAmount = errors.New("credit amount must be positive")

// CreditRepository persists credit balances and their append-only transaction log.
type CreditRepository interface {
	GetBalance(ctx context.Context, userID uint) (int64, error)
	Debit(ctx context.Context, userID uint, amount int64, reason string) (bool, error)
	Credit(ctx context.Context, userID uint, amount int64, reason string) (bool, error)
	OpenAccount(ctx context.Context, userID uint, initial int64) error
	Transactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error)
}

// NewCreditRepository constructs a gorm backed credit repository.
func NewCreditRepository(db *gorm.DB) CreditRepository {
	return &creditRepository{db: db}
}

type creditRepository struct {
	db *gorm.DB
}

func (r *creditRepository) GetBalance(ctx context.Context, userID uint) (int64, error) {
	var account models.CreditAccount
	err := r.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrCreditAccountNotFound
		}
		return 0, err
	}
	return account.Balance, nil
}

// Debit subtracts amount with a single conditional UPDATE so concurrent debits against the
// same account cannot both pass the balance check.
func (r *creditRepository) Debit(ctx context.Context, userID uint, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidCreditAmount
	}

	debited := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CreditAccount{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.CreditAccount{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrCreditAccountNotFound
			}
			return nil
		}

		debited = true
		return appendTransaction(tx, userID, -amount, reason)
	})
	if err != nil {
		return false, err
	}
	return debited, nil
}

func (r *creditRepository) Credit(ctx context.Context, userID uint, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidCreditAmount
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CreditAccount{}).
			Where("user_id = ?", userID).
			Update("balance", gorm.Expr("balance + ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCreditAccountNotFound
		}
		return appendTransaction(tx, userID, amount, reason)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// OpenAccount creates the account when missing. An existing account is left untouched.
func (r *creditRepository) OpenAccount(ctx context.Context, userID uint, initial int64) error {
	if initial < 0 {
		return ErrInvalidCreditAmount
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := models.CreditAccount{UserID: userID, Balance: initial}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&account)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 || initial == 0 {
			return nil
		}
		return tx.Create(&models.CreditTransaction{
			UserID:       userID,
			Amount:       initial,
			Reason:       "opening balance",
			BalanceAfter: initial,
		}).Error
	})
}

func (r *creditRepository) Transactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	if _, err := r.GetBalance(ctx, userID); err != nil {
		return nil, err
	}

	var transactions []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func appendTransaction(tx *gorm.DB, userID uint, amount int64, reason string) error {
	var account models.CreditAccount
	if err := tx.First(&account, "user_id = ?", userID).Error; err != nil {
		return err
	}
	return tx.Create(&models.CreditTransaction{
		UserID:       userID,
		Amount:       amount,
		Reason:       reason,
		BalanceAfter: account.Balance,
	}).Error
}
