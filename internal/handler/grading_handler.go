package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHandler exposes AI grading endpoints to authenticated users.
type GradingHandler struct {
	service   service.GradingService
	uploads   service.EssayUploadService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, validate *validator.Validate, logger zerolog.Logger) *GradingHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &GradingHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
	}
}

// WithUploads enables multipart essay uploads on POST /upload.
func (h *GradingHandler) WithUploads(uploads service.EssayUploadService) *GradingHandler {
	h.uploads = uploads
	return h
}

// Register attaches grading routes to the router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("/batch", h.batch)
	router.Post("/single", h.single)
	if h.uploads != nil {
		router.Post("/upload", h.upload)
	}
	router.Get("/batches", h.listBatches)
	router.Get("/batches/:id", h.getBatch)
}

func (h *GradingHandler) batch(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.GradingBatchRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if len(payload.Submissions) > dto.MaxBatchSubmissions {
		return utils.Fail(c, fiber.StatusBadRequest,
			fmt.Sprintf("at most %d submissions per batch", dto.MaxBatchSubmissions),
			map[string]int{"submissions": len(payload.Submissions)})
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid grading request", validationDetails(err))
	}

	submissions := make([]service.GradingSubmission, 0, len(payload.Submissions))
	for _, item := range payload.Submissions {
		submissions = append(submissions, toGradingSubmission(item))
	}
	opts := service.GradingOptions{Mode: service.GradingMode(payload.Mode), Severity: service.GradingSeverity(payload.Severity)}

	return h.runBatch(c, userID, submissions, opts)
}

func (h *GradingHandler) upload(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form expected")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "at least one essay file is required")
	}
	if len(files) > dto.MaxBatchSubmissions {
		return utils.Fail(c, fiber.StatusBadRequest,
			fmt.Sprintf("at most %d submissions per batch", dto.MaxBatchSubmissions),
			map[string]int{"submissions": len(files)})
	}

	request := dto.GradingUploadRequest{Mode: c.FormValue("mode"), Severity: c.FormValue("severity")}
	if err := h.validator.Struct(request); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid grading request", validationDetails(err))
	}

	ctx := withRequestContext(c)
	submissions := make([]service.GradingSubmission, 0, len(files))
	for _, file := range files {
		submission, err := h.uploads.Read(ctx, file)
		if err != nil {
			details := map[string]string{"file": file.Filename}
			switch {
			case errors.Is(err, service.ErrUploadTooLarge):
				return utils.Fail(c, fiber.StatusRequestEntityTooLarge, err.Error(), details)
			case errors.Is(err, service.ErrUploadTypeNotAllowed):
				return utils.Fail(c, fiber.StatusUnsupportedMediaType, err.Error(), details)
			case errors.Is(err, service.ErrUploadEmpty):
				return utils.Fail(c, fiber.StatusBadRequest, err.Error(), details)
			default:
				requestLogger(h.logger, c).Error().Err(err).Str("file", file.Filename).Msg("failed to read essay upload")
				return utils.SendError(c, fiber.StatusInternalServerError, "failed to read essay file")
			}
		}
		submissions = append(submissions, submission)
	}

	opts := service.GradingOptions{Mode: service.GradingMode(request.Mode), Severity: service.GradingSeverity(request.Severity)}
	return h.runBatch(c, userID, submissions, opts)
}

func (h *GradingHandler) runBatch(c *fiber.Ctx, userID uint, submissions []service.GradingSubmission, opts service.GradingOptions) error {
	result, err := h.service.RunBatch(withRequestContext(c), userID, submissions, opts)
	if err != nil && !errors.Is(err, service.ErrBalanceUnavailable) {
		return h.gradingError(c, err, userID)
	}

	response := newGradingBatchResponse(result, err == nil)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("batch_id", result.BatchID).Msg("batch graded without remaining balance")
		return utils.OK(c, response, "batch graded", map[string]string{"warning": "remaining credits unavailable"})
	}
	return utils.SendSuccess(c, "batch graded", response)
}

func (h *GradingHandler) single(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.GradingSingleRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid grading request", validationDetails(err))
	}

	opts := service.GradingOptions{Mode: service.GradingMode(payload.Mode), Severity: service.GradingSeverity(payload.Severity)}
	outcome, err := h.service.RunOne(withRequestContext(c), userID, toGradingSubmission(payload.GradingSubmissionRequest), opts)
	if err != nil && !errors.Is(err, service.ErrBalanceUnavailable) {
		return h.gradingError(c, err, userID)
	}

	return utils.SendSuccess(c, "submission graded", newGradingOutcomeResponse(outcome))
}

func (h *GradingHandler) listBatches(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	batches, err := h.service.ListBatches(withRequestContext(c), userID, limit)
	if err != nil {
		return h.gradingError(c, err, userID)
	}
	for i := range batches {
		batches[i].Results = nil
	}
	return utils.SendSuccess(c, "grading batches", dto.NewGradingBatchListResponse(batches))
}

func (h *GradingHandler) getBatch(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	batch, err := h.service.GetBatch(withRequestContext(c), userID, c.Params("id"))
	if err != nil {
		return h.gradingError(c, err, userID)
	}
	return utils.SendSuccess(c, "grading batch", dto.NewGradingBatchResponse(batch))
}

func (h *GradingHandler) gradingError(c *fiber.Ctx, err error, userID uint) error {
	switch {
	case errors.Is(err, service.ErrEmptyBatch), errors.Is(err, service.ErrInvalidGradingOptions):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "credit account not found")
	case errors.Is(err, service.ErrGradingBatchNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "grading batch not found")
	case errors.Is(err, service.ErrGraderUnavailable), errors.Is(err, service.ErrBatchHistoryUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Uint("user_id", userID).Msg("grading request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to grade submissions")
	}
}

func toGradingSubmission(item dto.GradingSubmissionRequest) service.GradingSubmission {
	return service.GradingSubmission{
		ID:          item.ID,
		DisplayName: item.Name,
		Topic:       item.Topic,
		Body:        item.Content,
	}
}

func newGradingOutcomeResponse(outcome service.GradingOutcome) dto.GradingOutcomeResponse {
	response := dto.GradingOutcomeResponse{
		SubmissionID:   outcome.SubmissionID,
		Name:           outcome.DisplayName,
		Status:         string(outcome.Status),
		ErrorKind:      string(outcome.ErrorKind),
		Error:          outcome.ErrorMessage,
		CreditsCharged: outcome.CreditsCharged,
		CompletedAt:    outcome.CompletedAt,
	}
	if outcome.Succeeded() {
		score := outcome.Score
		response.Score = &score
		response.ScoreSource = outcome.ScoreSource
		response.Feedback = outcome.RawFeedback
		response.Sections = outcome.Sections
	}
	return response
}

func newGradingBatchResponse(result service.BatchResult, balanceKnown bool) dto.GradingBatchResponse {
	response := dto.GradingBatchResponse{
		BatchID:  result.BatchID,
		Mode:     string(result.Mode),
		Severity: string(result.Severity),
		Results:  make([]dto.GradingOutcomeResponse, 0, len(result.Outcomes)),
		Summary: dto.GradingSummaryResponse{
			Total:          result.Total,
			Successful:     result.Successful,
			Failed:         result.Failed,
			AverageScore:   result.AverageScore,
			CreditsCharged: result.CreditsCharged,
		},
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
	}
	if balanceKnown {
		response.Summary.RemainingCredits = result.RemainingCredits
	}
	for _, outcome := range result.Outcomes {
		response.Results = append(response.Results, newGradingOutcomeResponse(outcome))
	}
	return response
}
