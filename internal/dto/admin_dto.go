package dto

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/models"
)

// PaginationMeta describes pagination data for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// CreditTopUpRequest grants credits to a user account.
type CreditTopUpRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0,lte=100000"`
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

// CreditBalanceResponse reports the current balance of a user.
type CreditBalanceResponse struct {
	UserID  uint  `json:"user_id"`
	Balance int64 `json:"balance"`
}

// CreditTransactionResponse serializes one ledger entry.
type CreditTransactionResponse struct {
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	BalanceAfter int64     `json:"balance_after"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreditTransactionListResponse wraps the most recent ledger entries.
type CreditTransactionListResponse struct {
	Items []CreditTransactionResponse `json:"items"`
}

// AdminActivityResponse serializes activity log entries.
type AdminActivityResponse struct {
	ID         uint                   `json:"id"`
	ActorID    uint                   `json:"actor_id"`
	ActorRole  string                 `json:"actor_role"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   *uint                  `json:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AdminActivityListResponse wraps paginated activity logs.
type AdminActivityListResponse struct {
	Items      []AdminActivityResponse `json:"items"`
	Pagination PaginationMeta          `json:"pagination"`
}

// NewCreditTransactionListResponse converts ledger entries, newest first.
func NewCreditTransactionListResponse(entries []models.CreditTransaction) CreditTransactionListResponse {
	items := make([]CreditTransactionResponse, 0, len(entries))
	for _, entry := range entries {
		kind := "credit"
		if entry.IsDebit() {
			kind = "debit"
		}
		items = append(items, CreditTransactionResponse{
			Amount:       entry.Amount,
			Reason:       entry.Reason,
			BalanceAfter: entry.BalanceAfter,
			Kind:         kind,
			CreatedAt:    entry.CreatedAt,
		})
	}
	return CreditTransactionListResponse{Items: items}
}

func metadataFromJSON(data datatypes.JSONMap) map[string]interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}(data)
}

// NewAdminActivityResponse converts a model into an activity DTO.
func NewAdminActivityResponse(entry models.ActivityLog) AdminActivityResponse {
	return AdminActivityResponse{
		ID:         entry.ID,
		ActorID:    entry.ActorID,
		ActorRole:  entry.ActorRole,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Metadata:   metadataFromJSON(entry.Metadata),
		CreatedAt:  entry.CreatedAt,
	}
}
