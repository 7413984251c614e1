package handler_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/service"
)

func newCreditApp(t *testing.T, ledger service.CreditLedger, userID uint, role string) *fiber.App {
	t.Helper()
	logger := zerolog.New(io.Discard)
	creditService := service.NewCreditService(ledger, nil, 5, nil, logger)
	h := handler.NewCreditHandler(creditService, logger)

	app := fiber.New()
	identity := func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_role", role)
		return c.Next()
	}
	h.Register(app.Group("/api/v1/credits", identity))
	h.RegisterAdmin(app.Group("/api/v1/admin/credits", identity))
	return app
}

func TestCreditHandler_BalanceOpensAccount(t *testing.T) {
	app := newCreditApp(t, service.NewMemoryCreditLedger(nil), 11, "student")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data dto.CreditBalanceResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, uint(11), response.Data.UserID)
	require.Equal(t, int64(5), response.Data.Balance)
}

func TestCreditHandler_TopUpAndHistory(t *testing.T) {
	ledger := service.NewMemoryCreditLedger(map[uint]int64{11: 2})
	app := newCreditApp(t, ledger, 1, "teacher")

	resp := postJSON(t, app, "/api/v1/admin/credits/11/top-up", dto.CreditTopUpRequest{Amount: 10, Reason: "term start"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var response struct {
		Data    dto.CreditBalanceResponse `json:"data"`
		Message string                    `json:"message"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, "credits added", response.Message)
	require.Equal(t, int64(12), response.Data.Balance)

	studentApp := newCreditApp(t, ledger, 11, "student")
	resp, err := studentApp.Test(httptest.NewRequest(http.MethodGet, "/api/v1/credits/transactions", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var history struct {
		Data dto.CreditTransactionListResponse `json:"data"`
	}
	decodeResponse(t, resp, &history)
	require.NotEmpty(t, history.Data.Items)
	require.Equal(t, int64(12), history.Data.Items[0].BalanceAfter)
}

func TestCreditHandler_TopUpValidation(t *testing.T) {
	app := newCreditApp(t, service.NewMemoryCreditLedger(nil), 1, "admin")

	resp := postJSON(t, app, "/api/v1/admin/credits/11/top-up", dto.CreditTopUpRequest{Amount: 0})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/api/v1/admin/credits/0/top-up", dto.CreditTopUpRequest{Amount: 3})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreditHandler_UnknownAccount(t *testing.T) {
	app := newCreditApp(t, service.NewMemoryCreditLedger(nil), 1, "admin")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/credits/99/balance", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
