package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

func setupTestDB(t *testing.T, entities ...interface{}) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(entities...))
	return db
}

func TestCreditRepositoryDebitAndCreditConserveBalance(t *testing.T) {
	db := setupTestDB(t, &models.CreditAccount{}, &models.CreditTransaction{})
	repo := NewCreditRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.OpenAccount(ctx, 7, 3))

	ok, err := repo.Debit(ctx, 7, 2, "grading: essay-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Debit(ctx, 7, 2, "grading: essay-2")
	require.NoError(t, err)
	require.False(t, ok, "debit beyond balance must be rejected")

	ok, err = repo.Credit(ctx, 7, 2, "refund: grading: essay-1")
	require.NoError(t, err)
	require.True(t, ok)

	balance, err := repo.GetBalance(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), balance)

	transactions, err := repo.Transactions(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, transactions, 3, "rejected debits leave no entry")

	var sum int64
	for _, tx := range transactions {
		sum += tx.Amount
	}
	require.Equal(t, balance, sum)
	require.Equal(t, "refund: grading: essay-1", transactions[0].Reason)
	require.Equal(t, int64(3), transactions[0].BalanceAfter)
	require.True(t, transactions[1].IsDebit())
}

func TestCreditRepositoryUnknownUser(t *testing.T) {
	db := setupTestDB(t, &models.CreditAccount{}, &models.CreditTransaction{})
	repo := NewCreditRepository(db)
	ctx := context.Background()

	_, err := repo.GetBalance(ctx, 99)
	require.ErrorIs(t, err, ErrCreditAccountNotFound)

	_, err = repo.Debit(ctx, 99, 1, "grading")
	require.ErrorIs(t, err, ErrCreditAccountNotFound)

	_, err = repo.Credit(ctx, 99, 1, "refund")
	require.ErrorIs(t, err, ErrCreditAccountNotFound)

	_, err = repo.Transactions(ctx, 99, 10)
	require.ErrorIs(t, err, ErrCreditAccountNotFound)
}

func TestCreditRepositoryDebitsStopAtZero(t *testing.T) {
	db := setupTestDB(t, &models.CreditAccount{}, &models.CreditTransaction{})
	repo := NewCreditRepository(db)
	ctx := context.Background()

	const (
		unit     = int64(2)
		covered  = 3
		attempts = 5
	)
	require.NoError(t, repo.OpenAccount(ctx, 4, unit*covered))

	succeeded := 0
	for i := 0; i < attempts; i++ {
		ok, err := repo.Debit(ctx, 4, unit, fmt.Sprintf("grading: essay-%d", i))
		require.NoError(t, err)
		if ok {
			succeeded++
		}
	}
	require.Equal(t, covered, succeeded)

	balance, err := repo.GetBalance(ctx, 4)
	require.NoError(t, err)
	require.Zero(t, balance)

	transactions, err := repo.Transactions(ctx, 4, 0)
	require.NoError(t, err)
	require.Len(t, transactions, covered+1)
	require.Zero(t, transactions[0].BalanceAfter)
}

func TestCreditRepositoryConcurrentDebitsNeverOverspend(t *testing.T) {
	db := setupTestDB(t, &models.CreditAccount{}, &models.CreditTransaction{})
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows one writer; a single connection queues the transactions instead of failing them
	sqlDB.SetMaxOpenConns(1)

	repo := NewCreditRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.OpenAccount(ctx, 5, 4))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.Debit(ctx, 5, 1, fmt.Sprintf("grading: essay-%d", i))
			if err == nil && ok {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(4), succeeded.Load())
	balance, err := repo.GetBalance(ctx, 5)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestCreditRepositoryRejectsNonPositiveAmounts(t *testing.T) {
	db := setupTestDB(t, &models.CreditAccount{}, &models.CreditTransaction{})
	repo := NewCreditRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.OpenAccount(ctx, 1, 5))

	_, err := repo.Debit(ctx, 1, 0, "grading")
	require.ErrorIs(t, err, ErrInvalidCreditAmount)
	_, err = repo.Credit(ctx, 1, -3, "refund")
	require.ErrorIs(t, err, ErrInvalidCreditAmount)

	balance, err := repo.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance)
}

func TestCreditRepositoryOpenAccountIsIdempotent(t *testing.T) {
	db := setupTestDB(t, &models.CreditAccount{}, &models.CreditTransaction{})
	repo := NewCreditRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.OpenAccount(ctx, 3, 10))
	require.NoError(t, repo.OpenAccount(ctx, 3, 50))

	balance, err := repo.GetBalance(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	transactions, err := repo.Transactions(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
}

func TestGradingBatchRepositoryRoundTrip(t *testing.T) {
	db := setupTestDB(t, &models.GradingBatch{}, &models.GradingResult{})
	repo := NewGradingBatchRepository(db)
	ctx := context.Background()

	score := 12
	now := time.Now().UTC()
	batch := models.GradingBatch{
		ID:          "batch-1",
		UserID:      4,
		Mode:        "scoring",
		Severity:    "strict",
		Total:       2,
		Successful:  1,
		Failed:      1,
		CompletedAt: now,
		Results: []models.GradingResult{
			{Position: 1, SubmissionID: "b", Status: models.GradingResultStatusFailed, ErrorKind: "upstream_timeout", CompletedAt: now},
			{Position: 0, SubmissionID: "a", Status: models.GradingResultStatusCompleted, Score: &score, Sections: map[string]interface{}{"error_analysis": "none"}, CompletedAt: now},
		},
	}
	require.NoError(t, repo.Create(ctx, &batch))

	stored, err := repo.GetByID(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, stored.Results, 2)
	require.Equal(t, "a", stored.Results[0].SubmissionID)
	require.Equal(t, 12, *stored.Results[0].Score)
	require.Equal(t, "none", stored.Results[0].Sections["error_analysis"])

	listed, err := repo.ListByUser(ctx, 4, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
