package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
)

type stubGradingService struct {
	lastUserID      uint
	lastSubmissions []service.GradingSubmission
	lastOpts        service.GradingOptions
	result          service.BatchResult
	batch           models.GradingBatch
	err             error
}

func (s *stubGradingService) RunBatch(_ context.Context, userID uint, submissions []service.GradingSubmission, opts service.GradingOptions) (service.BatchResult, error) {
	s.lastUserID = userID
	s.lastSubmissions = submissions
	s.lastOpts = opts
	return s.result, s.err
}

func (s *stubGradingService) RunOne(ctx context.Context, userID uint, submission service.GradingSubmission, opts service.GradingOptions) (service.GradingOutcome, error) {
	result, err := s.RunBatch(ctx, userID, []service.GradingSubmission{submission}, opts)
	if len(result.Outcomes) == 0 {
		return service.GradingOutcome{}, err
	}
	return result.Outcomes[0], err
}

func (s *stubGradingService) GetBatch(_ context.Context, userID uint, batchID string) (models.GradingBatch, error) {
	s.lastUserID = userID
	if s.err != nil {
		return models.GradingBatch{}, s.err
	}
	if batchID != s.batch.ID {
		return models.GradingBatch{}, service.ErrGradingBatchNotFound
	}
	return s.batch, nil
}

func (s *stubGradingService) ListBatches(_ context.Context, userID uint, _ int) ([]models.GradingBatch, error) {
	s.lastUserID = userID
	if s.err != nil {
		return nil, s.err
	}
	return []models.GradingBatch{s.batch}, nil
}

func newGradingApp(svc service.GradingService, userID uint) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/grading", func(c *fiber.Ctx) error {
		if userID != 0 {
			c.Locals("user_id", userID)
		}
		return c.Next()
	})
	handler.NewGradingHandler(svc, nil, zerolog.New(io.Discard)).Register(group)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func gradedResult() service.BatchResult {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return service.BatchResult{
		BatchID:  "batch-1",
		Mode:     service.GradingModeScoring,
		Severity: service.GradingSeverityStrict,
		Outcomes: []service.GradingOutcome{
			{SubmissionID: "a", DisplayName: "Ana", Status: service.OutcomeCompleted, Score: 12, ScoreSource: "score_line", CreditsCharged: 1, CompletedAt: now},
			{SubmissionID: "b", DisplayName: "Budi", Status: service.OutcomeFailed, ErrorKind: service.ErrorKindUpstreamTimeout, ErrorMessage: "grading request timed out", CompletedAt: now},
		},
		Total:            2,
		Successful:       1,
		Failed:           1,
		AverageScore:     12,
		CreditsCharged:   1,
		RemainingCredits: int64Ptr(9),
		StartedAt:        now,
		CompletedAt:      now,
	}
}

func TestGradingHandler_BatchSuccess(t *testing.T) {
	svc := &stubGradingService{result: gradedResult()}
	app := newGradingApp(svc, 42)

	resp := postJSON(t, app, "/api/v1/grading/batch", dto.GradingBatchRequest{
		Mode: "scoring",
		Submissions: []dto.GradingSubmissionRequest{
			{ID: "a", Name: "Ana", Content: "<p>First essay</p>"},
			{ID: "b", Name: "Budi", Content: "Second essay"},
		},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Success bool                     `json:"success"`
		Data    dto.GradingBatchResponse `json:"data"`
		Message string                   `json:"message"`
	}
	decodeResponse(t, resp, &response)

	require.True(t, response.Success)
	require.Equal(t, "batch graded", response.Message)
	require.Equal(t, uint(42), svc.lastUserID)
	require.Len(t, svc.lastSubmissions, 2)
	require.Equal(t, "Ana", svc.lastSubmissions[0].DisplayName)
	require.Equal(t, service.GradingModeScoring, svc.lastOpts.Mode)

	require.Len(t, response.Data.Results, 2)
	require.NotNil(t, response.Data.Results[0].Score)
	require.Equal(t, 12, *response.Data.Results[0].Score)
	require.Nil(t, response.Data.Results[1].Score)
	require.Equal(t, "upstream_timeout", response.Data.Results[1].ErrorKind)
	require.NotNil(t, response.Data.Summary.RemainingCredits)
	require.Equal(t, int64(9), *response.Data.Summary.RemainingCredits)
}

func TestGradingHandler_BatchBalanceUnavailable(t *testing.T) {
	svc := &stubGradingService{result: gradedResult(), err: fmt.Errorf("%w: redis down", service.ErrBalanceUnavailable)}
	app := newGradingApp(svc, 42)

	resp := postJSON(t, app, "/api/v1/grading/batch", dto.GradingBatchRequest{
		Mode:        "scoring",
		Submissions: []dto.GradingSubmissionRequest{{Content: "essay"}},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data dto.GradingBatchResponse `json:"data"`
		Meta map[string]string        `json:"meta"`
	}
	decodeResponse(t, resp, &response)

	require.Nil(t, response.Data.Summary.RemainingCredits)
	require.Equal(t, "remaining credits unavailable", response.Meta["warning"])
}

func TestGradingHandler_BatchValidation(t *testing.T) {
	svc := &stubGradingService{}
	app := newGradingApp(svc, 42)

	resp := postJSON(t, app, "/api/v1/grading/batch", dto.GradingBatchRequest{
		Mode:        "poetry",
		Submissions: []dto.GradingSubmissionRequest{{Content: "essay"}},
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	oversized := make([]dto.GradingSubmissionRequest, dto.MaxBatchSubmissions+1)
	for i := range oversized {
		oversized[i] = dto.GradingSubmissionRequest{Content: "essay"}
	}
	resp = postJSON(t, app, "/api/v1/grading/batch", dto.GradingBatchRequest{Mode: "scoring", Submissions: oversized})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var response struct {
		Details map[string]int `json:"details"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, dto.MaxBatchSubmissions+1, response.Details["submissions"])
	require.Zero(t, svc.lastUserID)
}

func TestGradingHandler_RequiresUser(t *testing.T) {
	app := newGradingApp(&stubGradingService{}, 0)

	resp := postJSON(t, app, "/api/v1/grading/batch", dto.GradingBatchRequest{
		Mode:        "scoring",
		Submissions: []dto.GradingSubmissionRequest{{Content: "essay"}},
	})
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestGradingHandler_ServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown account", service.ErrUserNotFound, fiber.StatusNotFound},
		{"grader missing", service.ErrGraderUnavailable, fiber.StatusServiceUnavailable},
		{"bad options", fmt.Errorf("%w: mode", service.ErrInvalidGradingOptions), fiber.StatusBadRequest},
		{"unexpected", fmt.Errorf("boom"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newGradingApp(&stubGradingService{err: tc.err}, 42)
			resp := postJSON(t, app, "/api/v1/grading/batch", dto.GradingBatchRequest{
				Mode:        "both",
				Submissions: []dto.GradingSubmissionRequest{{Content: "essay"}},
			})
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestGradingHandler_Single(t *testing.T) {
	svc := &stubGradingService{result: gradedResult()}
	app := newGradingApp(svc, 7)

	resp := postJSON(t, app, "/api/v1/grading/single", map[string]string{
		"mode":    "revision",
		"name":    "Ana",
		"content": "One essay",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data dto.GradingOutcomeResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.Equal(t, "a", response.Data.SubmissionID)
	require.Len(t, svc.lastSubmissions, 1)
	require.Equal(t, "One essay", svc.lastSubmissions[0].Body)
	require.Equal(t, service.GradingModeRevision, svc.lastOpts.Mode)
}

func TestGradingHandler_History(t *testing.T) {
	svc := &stubGradingService{batch: models.GradingBatch{ID: "batch-9", UserID: 7, Mode: "scoring", Total: 1}}
	app := newGradingApp(svc, 7)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/grading/batches/batch-9", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/grading/batches/other", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/grading/batches?limit=5", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data dto.GradingBatchListResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.Len(t, response.Data.Items, 1)
	require.Equal(t, "batch-9", response.Data.Items[0].BatchID)
}

func TestGradingHandler_UploadEssays(t *testing.T) {
	svc := &stubGradingService{result: gradedResult()}
	app := fiber.New()
	group := app.Group("/api/v1/grading", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(42))
		return c.Next()
	})
	logger := zerolog.New(io.Discard)
	handler.NewGradingHandler(svc, nil, logger).
		WithUploads(service.NewEssayUploadService(4, logger)).
		Register(group)

	upload := func(files map[string][]byte, mode string) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		require.NoError(t, writer.WriteField("mode", mode))
		for name, content := range files {
			part, err := writer.CreateFormFile("files", name)
			require.NoError(t, err)
			_, err = part.Write(content)
			require.NoError(t, err)
		}
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/grading/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	resp := upload(map[string][]byte{"Ana.txt": []byte("An essay about rivers.")}, "scoring")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, svc.lastSubmissions, 1)
	require.Equal(t, "ana", svc.lastSubmissions[0].ID)
	require.Equal(t, "An essay about rivers.", svc.lastSubmissions[0].Body)

	resp = upload(map[string][]byte{"scan.png": {0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}}, "scoring")
	require.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	resp = upload(map[string][]byte{"Ana.txt": []byte("essay")}, "poetry")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func int64Ptr(v int64) *int64 {
	return &v
}
