package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// GradingBatchRepository stores the history of batch grading runs.
type GradingBatchRepository interface {
	Create(ctx context.Context, batch *models.GradingBatch) error
	GetByID(ctx context.Context, id string) (models.GradingBatch, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]models.GradingBatch, error)
}

// NewGradingBatchRepository constructs a grading batch repository.
func NewGradingBatchRepository(db *gorm.DB) GradingBatchRepository {
	return &gradingBatchRepository{db: db}
}

type gradingBatchRepository struct {
	db *gorm.DB
}

func (r *gradingBatchRepository) Create(ctx context.Context, batch *models.GradingBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *gradingBatchRepository) GetByID(ctx context.Context, id string) (models.GradingBatch, error) {
	var batch models.GradingBatch
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&batch, "id = ?", id).Error
	if err != nil {
		return models.GradingBatch{}, err
	}
	return batch, nil
}

func (r *gradingBatchRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]models.GradingBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var batches []models.GradingBatch
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}
