package models

import (
	"time"

	"gorm.io/datatypes"
)

// GradingBatch is the persisted summary of one batch grading run.
type GradingBatch struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	UserID           uint            `gorm:"index;not null" json:"user_id"`
	Mode             string          `gorm:"size:16;not null" json:"mode"`
	Severity         string          `gorm:"size:16;not null" json:"severity"`
	Total            int             `gorm:"not null" json:"total"`
	Successful       int             `gorm:"not null" json:"successful"`
	Failed           int             `gorm:"not null" json:"failed"`
	AverageScore     float64         `gorm:"not null" json:"average_score"`
	CreditsCharged   int64           `gorm:"not null" json:"credits_charged"`
	RemainingCredits *int64          `json:"remaining_credits"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      time.Time       `json:"completed_at"`
	Results          []GradingResult `gorm:"foreignKey:BatchID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"results"`
}

// GradingResult is the persisted outcome of one submission inside a batch.
type GradingResult struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	BatchID        string            `gorm:"size:36;index;not null" json:"batch_id"`
	Position       int               `gorm:"not null" json:"position"`
	SubmissionID   string            `gorm:"size:64;not null" json:"submission_id"`
	DisplayName    string            `gorm:"size:120" json:"display_name"`
	Status         string            `gorm:"size:16;not null" json:"status"`
	Score          *int              `json:"score"`
	ScoreSource    string            `gorm:"size:16" json:"score_source"`
	Feedback       string            `gorm:"type:text" json:"feedback"`
	Sections       datatypes.JSONMap `json:"sections"`
	ErrorKind      string            `gorm:"size:32" json:"error_kind"`
	ErrorMessage   string            `gorm:"size:255" json:"error_message"`
	CreditsCharged int64             `gorm:"not null;default:0" json:"credits_charged"`
	CompletedAt    time.Time         `json:"completed_at"`
}

const (
	// GradingResultStatusCompleted marks a graded submission.
	GradingResultStatusCompleted = "completed"
	// GradingResultStatusFailed marks a submission that could not be graded.
	GradingResultStatusFailed = "failed"
)
