package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/scoring"
)

// itemStage tracks one submission through pending -> debited -> awaiting reply or
// refunded -> done.
type itemStage int

const (
	itemPending itemStage = iota
	itemDebited
	itemAwaitingReply
	itemRefundIssued
	itemDone
)

const refundTimeout = 15 * time.Second

// itemRun is the mutable state of a single submission. It is owned by one goroutine.
type itemRun struct {
	batchID    string
	userID     uint
	submission GradingSubmission
	reason     string
	stage      itemStage
	debited    bool
	refunded   bool
	refundErr  error
}

func newItemRun(batchID string, userID uint, submission GradingSubmission) *itemRun {
	return &itemRun{
		batchID:    batchID,
		userID:     userID,
		submission: submission,
		reason:     fmt.Sprintf("grading: %s", submission.ID),
		stage:      itemPending,
	}
}

// gradingTask grades one submission with monetary safety: a debit precedes the external
// call and a refund follows any failure after a successful debit.
type gradingTask struct {
	ledger       CreditLedger
	completer    ai.Completer
	prompts      PromptBuilder
	extractors   map[GradingMode]*scoring.Extractor
	sections     []scoring.Section
	model        ai.ModelConfig
	unitCost     int64
	maxAttempts  int
	retryBackoff time.Duration
	tracer       trace.Tracer
	logger       zerolog.Logger
	now          func() time.Time
}

func (t *gradingTask) execute(ctx context.Context, run *itemRun, opts GradingOptions) GradingOutcome {
	ctx, span := t.tracer.Start(ctx, "grading.item", trace.WithAttributes(
		attribute.String("grading.batch_id", run.batchID),
		attribute.String("grading.submission_id", run.submission.ID),
	))
	defer span.End()

	logger := t.logger.With().
		Str("batch_id", run.batchID).
		Uint("user_id", run.userID).
		Str("submission_id", run.submission.ID).
		Logger()

	debited, err := t.ledger.Debit(ctx, run.userID, t.unitCost, run.reason)
	if err != nil {
		logger.Error().Err(err).Msg("credit debit failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ErrorKindLedgerUnavailable))
		return t.failedOutcome(run, ErrorKindLedgerUnavailable, err)
	}
	if !debited {
		span.SetStatus(codes.Error, string(ErrorKindInsufficientCredits))
		return t.failedOutcome(run, ErrorKindInsufficientCredits, nil)
	}
	run.debited = true
	run.stage = itemDebited

	extractor := t.extractors[opts.Mode]
	prompt := t.prompts.Build(run.submission, opts, extractor.Interval())

	run.stage = itemAwaitingReply
	reply, err := t.complete(ctx, prompt, logger)
	if err != nil {
		kind := upstreamErrorKind(err)
		logger.Warn().Err(err).Str("error_kind", string(kind)).Msg("grading request failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		t.refund(ctx, run)
		return t.failedOutcome(run, kind, err)
	}

	result := extractor.Extract(reply, gradingName(run.submission))
	observability.ScoreExtractions().WithLabelValues(string(result.Stage)).Inc()
	if result.Stage == scoring.StageHeuristic || result.Stage == scoring.StageFallback {
		logger.Info().Str("stage", string(result.Stage)).Int("score", result.Score).Msg("reply carried no labeled score")
	}

	run.stage = itemDone
	span.SetAttributes(attribute.Int("grading.score", result.Score), attribute.String("grading.score_source", string(result.Stage)))
	return GradingOutcome{
		SubmissionID:   run.submission.ID,
		DisplayName:    run.submission.DisplayName,
		Status:         OutcomeCompleted,
		Score:          result.Score,
		ScoreSource:    string(result.Stage),
		RawFeedback:    reply,
		Sections:       scoring.ExtractSections(reply, t.sections),
		CreditsCharged: t.unitCost,
		CompletedAt:    t.now(),
	}
}

// complete retries transient upstream failures. Retrying belongs here rather than in the
// completer so that each completer call stays a single classifiable attempt.
func (t *gradingTask) complete(ctx context.Context, prompt ai.Prompt, logger zerolog.Logger) (string, error) {
	attempt := 0
	operation := func() (string, error) {
		attempt++
		reply, err := t.completer.Complete(ctx, prompt, t.model)
		if err == nil && strings.TrimSpace(reply) == "" {
			err = &ai.Failure{Kind: ai.FailureEmptyReply}
		}
		if err == nil {
			return reply, nil
		}

		failure := ai.Classify(err)
		if !failure.Retryable() {
			return "", backoff.Permanent(failure)
		}
		if attempt < t.maxAttempts {
			logger.Warn().Err(failure).Int("attempt", attempt).Int("max_attempts", t.maxAttempts).Msg("retrying grading request")
		}
		return "", failure
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.retryBackoff
	policy.MaxInterval = 10 * t.retryBackoff

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(t.maxAttempts)),
	)
}

// refund is the only place compensating credits are issued. It runs at most once per item
// and only after a successful debit; a cancelled batch context does not prevent it.
func (t *gradingTask) refund(ctx context.Context, run *itemRun) {
	if !run.debited || run.refunded {
		return
	}
	run.refunded = true
	run.stage = itemRefundIssued

	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()

	reason := "refund: " + run.reason
	_, err := backoff.Retry(refundCtx, func() (bool, error) {
		ok, err := t.ledger.Credit(refundCtx, run.userID, t.unitCost, reason)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidAmount) {
				return false, backoff.Permanent(err)
			}
			return false, err
		}
		if !ok {
			return false, backoff.Permanent(errors.New("ledger rejected refund"))
		}
		return true, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))

	if err != nil {
		run.refundErr = err
		observability.GradingRefunds().WithLabelValues("failed").Inc()
		t.logger.Error().Err(err).
			Str("batch_id", run.batchID).
			Uint("user_id", run.userID).
			Str("submission_id", run.submission.ID).
			Int64("amount", t.unitCost).
			Msg("refund failed; ledger needs manual reconciliation")
		return
	}
	observability.GradingRefunds().WithLabelValues("issued").Inc()
}

func (t *gradingTask) failedOutcome(run *itemRun, kind ErrorKind, err error) GradingOutcome {
	run.stage = itemDone

	var charged int64
	if run.debited && (!run.refunded || run.refundErr != nil) {
		charged = t.unitCost
	}
	return GradingOutcome{
		SubmissionID:   run.submission.ID,
		DisplayName:    run.submission.DisplayName,
		Status:         OutcomeFailed,
		ErrorKind:      kind,
		ErrorMessage:   errorMessage(kind, err),
		CreditsCharged: charged,
		CompletedAt:    t.now(),
	}
}

func upstreamErrorKind(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	switch ai.Classify(err).Kind {
	case ai.FailureTimeout:
		return ErrorKindUpstreamTimeout
	case ai.FailureHTTP:
		return ErrorKindUpstreamHTTP
	case ai.FailureEmptyReply:
		return ErrorKindUpstreamEmptyReply
	default:
		return ErrorKindUpstreamTransport
	}
}

func errorMessage(kind ErrorKind, err error) string {
	switch kind {
	case ErrorKindInsufficientCredits:
		return "insufficient credits"
	case ErrorKindUpstreamTimeout:
		return "grading request timed out"
	case ErrorKindUpstreamHTTP:
		if failure, ok := ai.AsFailure(err); ok && failure.StatusCode != 0 {
			return fmt.Sprintf("grading service returned %d %s", failure.StatusCode, http.StatusText(failure.StatusCode))
		}
		return "grading service returned an error"
	case ErrorKindUpstreamEmptyReply:
		return "grading service returned an empty reply"
	case ErrorKindUpstreamTransport:
		return "grading service unreachable"
	case ErrorKindLedgerUnavailable:
		return "credit ledger unavailable"
	case ErrorKindCancelled:
		return "grading cancelled before completion"
	default:
		return "unexpected grading error"
	}
}
