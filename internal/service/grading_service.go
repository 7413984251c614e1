package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/scoring"
)

var (
	// ErrEmptyBatch indicates a batch without submissions.
	ErrEmptyBatch = errors.New("grading batch has no submissions")
	// ErrInvalidGradingOptions indicates an unknown mode or severity.
	ErrInvalidGradingOptions = errors.New("invalid grading options")
	// ErrGraderUnavailable indicates no completion backend is configured.
	ErrGraderUnavailable = errors.New("grading service is not configured")
	// ErrBalanceUnavailable is returned together with a complete BatchResult when the final
	// balance could not be read.
	ErrBalanceUnavailable = errors.New("remaining credit balance unavailable")
	// ErrGradingBatchNotFound indicates the batch does not exist or belongs to another user.
	ErrGradingBatchNotFound = errors.New("grading batch not found")
	// ErrBatchHistoryUnavailable indicates batch history is not persisted in this deployment.
	ErrBatchHistoryUnavailable = errors.New("grading history unavailable")
)

// DefaultScoreIntervals are the rubric ranges per mode.
func DefaultScoreIntervals() map[GradingMode]scoring.Interval {
	return map[GradingMode]scoring.Interval{
		GradingModeScoring:  {Lo: 1, Hi: 15},
		GradingModeRevision: {Lo: 1, Hi: 13},
		GradingModeBoth:     {Lo: 0, Hi: 25},
	}
}

// GradingConfig tunes the batch orchestrator.
type GradingConfig struct {
	UnitCost     int64
	WindowSize   int
	MaxAttempts  int
	RetryBackoff time.Duration
	Intervals    map[GradingMode]scoring.Interval
	Sections     []scoring.Section
	Model        ai.ModelConfig
}

func (c GradingConfig) withDefaults() GradingConfig {
	if c.UnitCost <= 0 {
		c.UnitCost = 1
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	intervals := DefaultScoreIntervals()
	for mode, interval := range c.Intervals {
		intervals[mode] = interval
	}
	c.Intervals = intervals
	if c.Sections == nil {
		c.Sections = scoring.DefaultSections()
	}
	return c
}

// GradingService grades batches of submissions against a user's prepaid credits.
type GradingService interface {
	RunBatch(ctx context.Context, userID uint, submissions []GradingSubmission, opts GradingOptions) (BatchResult, error)
	RunOne(ctx context.Context, userID uint, submission GradingSubmission, opts GradingOptions) (GradingOutcome, error)
	GetBatch(ctx context.Context, userID uint, batchID string) (models.GradingBatch, error)
	ListBatches(ctx context.Context, userID uint, limit int) ([]models.GradingBatch, error)
}

type gradingService struct {
	ledger    CreditLedger
	batches   repository.GradingBatchRepository
	events    GradingEventPublisher
	validator *validator.Validate
	task      *gradingTask
	cfg       GradingConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGradingService constructs the batch orchestrator. batches and events are optional.
func NewGradingService(
	ledger CreditLedger,
	completer ai.Completer,
	prompts PromptBuilder,
	batches repository.GradingBatchRepository,
	events GradingEventPublisher,
	validate *validator.Validate,
	logger zerolog.Logger,
	cfg GradingConfig,
) (GradingService, error) {
	if ledger == nil {
		return nil, errors.New("grading service requires a credit ledger")
	}
	if validate == nil {
		validate = validator.New()
	}
	if prompts == nil {
		prompts = NewRubricPromptBuilder(nil)
	}
	cfg = cfg.withDefaults()

	extractors := make(map[GradingMode]*scoring.Extractor, len(cfg.Intervals))
	for mode, interval := range cfg.Intervals {
		extractor, err := scoring.NewExtractor(scoring.Config{Interval: interval})
		if err != nil {
			return nil, fmt.Errorf("grading mode %s: %w", mode, err)
		}
		extractors[mode] = extractor
	}

	logger = logger.With().Str("component", "grading_service").Logger()
	tracer := otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading")

	return &gradingService{
		ledger:    ledger,
		batches:   batches,
		events:    events,
		validator: validate,
		task: &gradingTask{
			ledger:       ledger,
			completer:    completer,
			prompts:      prompts,
			extractors:   extractors,
			sections:     cfg.Sections,
			model:        cfg.Model,
			unitCost:     cfg.UnitCost,
			maxAttempts:  cfg.MaxAttempts,
			retryBackoff: cfg.RetryBackoff,
			tracer:       tracer,
			logger:       logger,
			now:          time.Now,
		},
		cfg:    cfg,
		logger: logger,
		tracer: tracer,
		now:    time.Now,
	}, nil
}

func (s *gradingService) RunBatch(ctx context.Context, userID uint, submissions []GradingSubmission, opts GradingOptions) (BatchResult, error) {
	if len(submissions) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	opts = opts.normalized()
	if err := s.validator.Struct(opts); err != nil {
		return BatchResult{}, fmt.Errorf("%w: %v", ErrInvalidGradingOptions, err)
	}
	if _, ok := s.task.extractors[opts.Mode]; !ok {
		return BatchResult{}, fmt.Errorf("%w: no score interval for mode %s", ErrInvalidGradingOptions, opts.Mode)
	}
	if s.task.completer == nil {
		return BatchResult{}, ErrGraderUnavailable
	}
	if _, err := s.ledger.GetBalance(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return BatchResult{}, ErrUserNotFound
		}
		return BatchResult{}, fmt.Errorf("read credit balance: %w", err)
	}

	batchID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "grading.batch", trace.WithAttributes(
		attribute.String("grading.batch_id", batchID),
		attribute.Int64("grading.user_id", int64(userID)),
		attribute.String("grading.mode", string(opts.Mode)),
		attribute.Int("grading.submissions", len(submissions)),
	))
	defer span.End()

	logger := s.logger.With().Str("batch_id", batchID).Uint("user_id", userID).Logger()
	logger.Info().Int("submissions", len(submissions)).Str("mode", string(opts.Mode)).Str("severity", string(opts.Severity)).Msg("grading batch started")

	startedAt := s.now()
	outcomes := make([]GradingOutcome, len(submissions))
	for start := 0; start < len(submissions); start += s.cfg.WindowSize {
		end := min(start+s.cfg.WindowSize, len(submissions))

		if ctx.Err() != nil {
			for i := start; i < len(submissions); i++ {
				outcomes[i] = s.cancelledOutcome(submissions[i], i)
			}
			logger.Warn().Int("skipped", len(submissions)-start).Msg("grading batch cancelled; remaining windows skipped")
			break
		}

		var group errgroup.Group
		for i := start; i < end; i++ {
			run := newItemRun(batchID, userID, withSubmissionID(submissions[i], i))
			group.Go(func() error {
				outcomes[i] = s.runItem(ctx, run, opts)
				return nil
			})
		}
		_ = group.Wait()
	}

	result := summarize(outcomes)
	result.BatchID = batchID
	result.Mode = opts.Mode
	result.Severity = opts.Severity
	result.StartedAt = startedAt
	result.CompletedAt = s.now()

	observability.GradingBatchDuration().WithLabelValues(string(opts.Mode)).Observe(result.CompletedAt.Sub(startedAt).Seconds())
	span.SetAttributes(
		attribute.Int("grading.successful", result.Successful),
		attribute.Int("grading.failed", result.Failed),
		attribute.Int64("grading.credits_charged", result.CreditsCharged),
	)

	// refunds have already been applied, so the balance read here is final for this batch
	var balanceErr error
	remaining, err := s.ledger.GetBalance(context.WithoutCancel(ctx), userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance_unavailable")
		logger.Error().Err(err).Msg("failed to read remaining credits after batch")
		balanceErr = fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	} else {
		result.RemainingCredits = &remaining
	}

	s.record(ctx, userID, result, logger)

	logger.Info().
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Float64("average_score", result.AverageScore).
		Int64("credits_charged", result.CreditsCharged).
		Dur("duration", result.CompletedAt.Sub(startedAt)).
		Msg("grading batch completed")

	return result, balanceErr
}

func (s *gradingService) RunOne(ctx context.Context, userID uint, submission GradingSubmission, opts GradingOptions) (GradingOutcome, error) {
	result, err := s.RunBatch(ctx, userID, []GradingSubmission{submission}, opts)
	if len(result.Outcomes) == 0 {
		return GradingOutcome{}, err
	}
	return result.Outcomes[0], err
}

func (s *gradingService) GetBatch(ctx context.Context, userID uint, batchID string) (models.GradingBatch, error) {
	if s.batches == nil {
		return models.GradingBatch{}, ErrBatchHistoryUnavailable
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingBatch{}, ErrGradingBatchNotFound
		}
		return models.GradingBatch{}, err
	}
	if batch.UserID != userID {
		return models.GradingBatch{}, ErrGradingBatchNotFound
	}
	return batch, nil
}

func (s *gradingService) ListBatches(ctx context.Context, userID uint, limit int) ([]models.GradingBatch, error) {
	if s.batches == nil {
		return nil, ErrBatchHistoryUnavailable
	}
	return s.batches.ListByUser(ctx, userID, limit)
}

// runItem isolates one submission: a panic becomes a failed outcome and, when the item
// was already debited, triggers its refund.
func (s *gradingService) runItem(ctx context.Context, run *itemRun, opts GradingOptions) (outcome GradingOutcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error().
				Str("batch_id", run.batchID).
				Str("submission_id", run.submission.ID).
				Interface("panic", recovered).
				Bytes("stack", debug.Stack()).
				Msg("grading task panicked")
			s.task.refund(ctx, run)
			outcome = s.task.failedOutcome(run, ErrorKindUnexpected, fmt.Errorf("panic: %v", recovered))
		}
		observability.GradingItems().WithLabelValues(string(outcome.Status), string(outcome.ErrorKind)).Inc()
	}()

	return s.task.execute(ctx, run, opts)
}

func (s *gradingService) cancelledOutcome(submission GradingSubmission, position int) GradingOutcome {
	submission = withSubmissionID(submission, position)
	observability.GradingItems().WithLabelValues(string(OutcomeFailed), string(ErrorKindCancelled)).Inc()
	return GradingOutcome{
		SubmissionID: submission.ID,
		DisplayName:  submission.DisplayName,
		Status:       OutcomeFailed,
		ErrorKind:    ErrorKindCancelled,
		ErrorMessage: "batch cancelled before this submission was graded",
		CompletedAt:  s.now(),
	}
}

// record persists and announces a finished batch. Neither step affects the result.
func (s *gradingService) record(ctx context.Context, userID uint, result BatchResult, logger zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)

	if s.batches != nil {
		batch := newGradingBatchModel(userID, result)
		if err := s.batches.Create(ctx, &batch); err != nil {
			logger.Error().Err(err).Msg("failed to persist grading batch")
		}
	}

	if s.events != nil {
		if err := s.events.BatchCompleted(ctx, newGradingBatchEvent(userID, result)); err != nil {
			logger.Warn().Err(err).Msg("failed to publish grading batch event")
		}
	}
}

func withSubmissionID(submission GradingSubmission, position int) GradingSubmission {
	if strings.TrimSpace(submission.ID) == "" {
		submission.ID = strconv.Itoa(position + 1)
	}
	return submission
}

func summarize(outcomes []GradingOutcome) BatchResult {
	result := BatchResult{Outcomes: outcomes, Total: len(outcomes)}

	var sum int
	for _, outcome := range outcomes {
		result.CreditsCharged += outcome.CreditsCharged
		if outcome.Succeeded() {
			result.Successful++
			sum += outcome.Score
			continue
		}
		result.Failed++
	}
	if result.Successful > 0 {
		result.AverageScore = math.Round(float64(sum)/float64(result.Successful)*10) / 10
	}
	return result
}

func newGradingBatchModel(userID uint, result BatchResult) models.GradingBatch {
	batch := models.GradingBatch{
		ID:               result.BatchID,
		UserID:           userID,
		Mode:             string(result.Mode),
		Severity:         string(result.Severity),
		Total:            result.Total,
		Successful:       result.Successful,
		Failed:           result.Failed,
		AverageScore:     result.AverageScore,
		CreditsCharged:   result.CreditsCharged,
		RemainingCredits: result.RemainingCredits,
		CreatedAt:        result.StartedAt,
		CompletedAt:      result.CompletedAt,
		Results:          make([]models.GradingResult, 0, len(result.Outcomes)),
	}

	for i, outcome := range result.Outcomes {
		row := models.GradingResult{
			BatchID:        result.BatchID,
			Position:       i,
			SubmissionID:   outcome.SubmissionID,
			DisplayName:    outcome.DisplayName,
			Status:         string(outcome.Status),
			ErrorKind:      string(outcome.ErrorKind),
			ErrorMessage:   outcome.ErrorMessage,
			CreditsCharged: outcome.CreditsCharged,
			CompletedAt:    outcome.CompletedAt,
		}
		if outcome.Succeeded() {
			score := outcome.Score
			row.Score = &score
			row.ScoreSource = outcome.ScoreSource
			row.Feedback = outcome.RawFeedback
			row.Sections = make(datatypes.JSONMap, len(outcome.Sections))
			for key, value := range outcome.Sections {
				row.Sections[key] = value
			}
		}
		batch.Results = append(batch.Results, row)
	}
	return batch
}
