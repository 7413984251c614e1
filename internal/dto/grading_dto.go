package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// MaxBatchSubmissions caps the submissions accepted by one batch request.
const MaxBatchSubmissions = 50

// GradingSubmissionRequest is one essay inside a grading request.
type GradingSubmissionRequest struct {
	ID      string `json:"id" validate:"omitempty,max=64"`
	Name    string `json:"name" validate:"omitempty,max=120"`
	Topic   string `json:"topic" validate:"omitempty,max=2000"`
	Content string `json:"content" validate:"required,max=20000"`
}

// GradingBatchRequest grades several submissions with shared options.
type GradingBatchRequest struct {
	Mode        string                     `json:"mode" validate:"required,oneof=scoring revision both"`
	Severity    string                     `json:"severity" validate:"omitempty,oneof=strict lenient"`
	Submissions []GradingSubmissionRequest `json:"submissions" validate:"required,min=1,max=50,dive"`
}

// GradingSingleRequest grades exactly one submission.
type GradingSingleRequest struct {
	Mode     string `json:"mode" validate:"required,oneof=scoring revision both"`
	Severity string `json:"severity" validate:"omitempty,oneof=strict lenient"`
	GradingSubmissionRequest
}

// GradingUploadRequest carries the form fields sent alongside uploaded essay files.
type GradingUploadRequest struct {
	Mode     string `form:"mode" validate:"required,oneof=scoring revision both"`
	Severity string `form:"severity" validate:"omitempty,oneof=strict lenient"`
}

// GradingOutcomeResponse serializes the result of one submission.
type GradingOutcomeResponse struct {
	SubmissionID   string            `json:"submission_id"`
	Name           string            `json:"name"`
	Status         string            `json:"status"`
	Score          *int              `json:"score,omitempty"`
	ScoreSource    string            `json:"score_source,omitempty"`
	Feedback       string            `json:"feedback,omitempty"`
	Sections       map[string]string `json:"sections,omitempty"`
	ErrorKind      string            `json:"error_kind,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreditsCharged int64             `json:"credits_charged"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// GradingSummaryResponse aggregates a batch.
type GradingSummaryResponse struct {
	Total            int     `json:"total"`
	Successful       int     `json:"successful"`
	Failed           int     `json:"failed"`
	AverageScore     float64 `json:"average_score"`
	CreditsCharged   int64   `json:"credits_charged"`
	RemainingCredits *int64  `json:"remaining_credits"`
}

// GradingBatchResponse is returned by the batch and history endpoints.
type GradingBatchResponse struct {
	BatchID     string                   `json:"batch_id"`
	Mode        string                   `json:"mode"`
	Severity    string                   `json:"severity"`
	Results     []GradingOutcomeResponse `json:"results"`
	Summary     GradingSummaryResponse   `json:"summary"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
}

// GradingBatchListResponse wraps a user's recent batches without per-item results.
type GradingBatchListResponse struct {
	Items []GradingBatchResponse `json:"items"`
}

// NewGradingBatchResponse converts a persisted batch.
func NewGradingBatchResponse(batch models.GradingBatch) GradingBatchResponse {
	response := GradingBatchResponse{
		BatchID:  batch.ID,
		Mode:     batch.Mode,
		Severity: batch.Severity,
		Results:  make([]GradingOutcomeResponse, 0, len(batch.Results)),
		Summary: GradingSummaryResponse{
			Total:            batch.Total,
			Successful:       batch.Successful,
			Failed:           batch.Failed,
			AverageScore:     batch.AverageScore,
			CreditsCharged:   batch.CreditsCharged,
			RemainingCredits: batch.RemainingCredits,
		},
		StartedAt:   batch.CreatedAt,
		CompletedAt: batch.CompletedAt,
	}

	for _, result := range batch.Results {
		item := GradingOutcomeResponse{
			SubmissionID:   result.SubmissionID,
			Name:           result.DisplayName,
			Status:         result.Status,
			Score:          result.Score,
			ScoreSource:    result.ScoreSource,
			Feedback:       result.Feedback,
			ErrorKind:      result.ErrorKind,
			Error:          result.ErrorMessage,
			CreditsCharged: result.CreditsCharged,
			CompletedAt:    result.CompletedAt,
		}
		if len(result.Sections) > 0 {
			item.Sections = make(map[string]string, len(result.Sections))
			for key, value := range result.Sections {
				if text, ok := value.(string); ok {
					item.Sections[key] = text
				}
			}
		}
		response.Results = append(response.Results, item)
	}
	return response
}

// NewGradingBatchListResponse converts batch summaries.
func NewGradingBatchListResponse(batches []models.GradingBatch) GradingBatchListResponse {
	items := make([]GradingBatchResponse, 0, len(batches))
	for _, batch := range batches {
		items = append(items, NewGradingBatchResponse(batch))
	}
	return GradingBatchListResponse{Items: items}
}
