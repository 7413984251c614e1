package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ErrCreditHistoryUnavailable indicates the configured ledger keeps no audit trail.
var ErrCreditHistoryUnavailable = errors.New("credit history unavailable")

// CreditTopUp is an administrative grant of credits.
type CreditTopUp struct {
	Amount int64  `validate:"required,gt=0,lte=100000"`
	Reason string `validate:"omitempty,max=255"`
}

// CreditService exposes balances and administrative top-ups.
type CreditService interface {
	Balance(ctx context.Context, userID uint) (int64, error)
	Transactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error)
	TopUp(ctx context.Context, userID uint, payload CreditTopUp, actor ActivityActor) (int64, error)
	EnsureAccount(ctx context.Context, userID uint) error
}

type creditService struct {
	ledger         CreditLedger
	validator      *validator.Validate
	initialCredits int64
	activity       ActivityRecorder
	logger         zerolog.Logger
}

// NewCreditService constructs a credit service. Accounts opened through EnsureAccount or
// TopUp start with initialCredits. activity may be nil.
func NewCreditService(ledger CreditLedger, validate *validator.Validate, initialCredits int64, activity ActivityRecorder, logger zerolog.Logger) CreditService {
	if validate == nil {
		validate = validator.New()
	}
	if initialCredits < 0 {
		initialCredits = 0
	}
	return &creditService{
		ledger:         ledger,
		validator:      validate,
		initialCredits: initialCredits,
		activity:       activity,
		logger:         logger.With().Str("component", "credit_service").Logger(),
	}
}

func (s *creditService) Balance(ctx context.Context, userID uint) (int64, error) {
	return s.ledger.GetBalance(ctx, userID)
}

func (s *creditService) Transactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error) {
	history, ok := s.ledger.(CreditHistory)
	if !ok {
		return nil, ErrCreditHistoryUnavailable
	}
	return history.Transactions(ctx, userID, limit)
}

func (s *creditService) EnsureAccount(ctx context.Context, userID uint) error {
	accounts, ok := s.ledger.(CreditAccounts)
	if !ok {
		return nil
	}
	if err := accounts.OpenAccount(ctx, userID, s.initialCredits); err != nil {
		return fmt.Errorf("open credit account: %w", err)
	}
	return nil
}

func (s *creditService) TopUp(ctx context.Context, userID uint, payload CreditTopUp, actor ActivityActor) (int64, error) {
	if err := s.validator.Struct(payload); err != nil {
		return 0, err
	}
	if err := s.EnsureAccount(ctx, userID); err != nil {
		return 0, err
	}

	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = "top-up"
	}
	reason = fmt.Sprintf("%s (by %s #%d)", reason, actor.Role, actor.ID)

	if _, err := s.ledger.Credit(ctx, userID, payload.Amount, reason); err != nil {
		return 0, err
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}

	if s.activity != nil {
		entityID := userID
		if _, err := s.activity.Record(ctx, ActivityEntry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     "credits.top_up",
			EntityType: "credit_account",
			EntityID:   &entityID,
			Metadata: map[string]interface{}{
				"amount":  payload.Amount,
				"balance": balance,
				"reason":  reason,
			},
		}); err != nil {
			s.logger.Warn().Err(err).Uint("user_id", userID).Msg("failed to record credit top-up activity")
		}
	}

	s.logger.Info().
		Uint("user_id", userID).
		Uint("actor_id", actor.ID).
		Int64("amount", payload.Amount).
		Int64("balance", balance).
		Msg("credits topped up")
	return balance, nil
}
