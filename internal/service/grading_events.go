package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// GradingBatchEvent is broadcast once a batch has finished.
type GradingBatchEvent struct {
	BatchID          string    `json:"batch_id"`
	UserID           uint      `json:"user_id"`
	Mode             string    `json:"mode"`
	Total            int       `json:"total"`
	Successful       int       `json:"successful"`
	Failed           int       `json:"failed"`
	AverageScore     float64   `json:"average_score"`
	CreditsCharged   int64     `json:"credits_charged"`
	RemainingCredits *int64    `json:"remaining_credits"`
	CompletedAt      time.Time `json:"completed_at"`
}

// GradingEventPublisher fans batch completion events out to other services.
type GradingEventPublisher interface {
	BatchCompleted(ctx context.Context, event GradingBatchEvent) error
}

type brokerGradingEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
}

// NewGradingEventPublisher publishes to a Redis channel and a NATS subject derived from
// channelBase. Either client may be nil.
func NewGradingEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) GradingEventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":grading"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".grading.batch.completed"
	}

	return &brokerGradingEventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "grading_events").Logger(),
	}
}

func (p *brokerGradingEventPublisher) BatchCompleted(ctx context.Context, event GradingBatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			return err
		}
	}

	p.logger.Debug().Str("batch_id", event.BatchID).Msg("grading batch event published")
	return nil
}

func newGradingBatchEvent(userID uint, result BatchResult) GradingBatchEvent {
	return GradingBatchEvent{
		BatchID:          result.BatchID,
		UserID:           userID,
		Mode:             string(result.Mode),
		Total:            result.Total,
		Successful:       result.Successful,
		Failed:           result.Failed,
		AverageScore:     result.AverageScore,
		CreditsCharged:   result.CreditsCharged,
		RemainingCredits: result.RemainingCredits,
		CompletedAt:      result.CompletedAt,
	}
}
