package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// CreditHandler exposes credit balances to users and top-ups to staff.
type CreditHandler struct {
	service service.CreditService
	logger  zerolog.Logger
}

// NewCreditHandler constructs the handler.
func NewCreditHandler(service service.CreditService, logger zerolog.Logger) *CreditHandler {
	return &CreditHandler{
		service: service,
		logger:  logger.With().Str("component", "credit_handler").Logger(),
	}
}

// Register attaches the self-service credit routes.
func (h *CreditHandler) Register(router fiber.Router) {
	router.Get("/balance", h.balance)
	router.Get("/transactions", h.transactions)
}

// RegisterAdmin attaches staff-only credit routes.
func (h *CreditHandler) RegisterAdmin(router fiber.Router) {
	router.Get("/:userID/balance", h.userBalance)
	router.Post("/:userID/top-up", h.topUp)
}

func (h *CreditHandler) balance(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	ctx := withRequestContext(c)
	if err := h.service.EnsureAccount(ctx, userID); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Uint("user_id", userID).Msg("failed to open credit account")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load credits")
	}
	return h.respondBalance(c, userID)
}

func (h *CreditHandler) userBalance(c *fiber.Ctx) error {
	userID, err := parseUintParam(c, "userID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user identifier")
	}
	return h.respondBalance(c, userID)
}

func (h *CreditHandler) respondBalance(c *fiber.Ctx, userID uint) error {
	balance, err := h.service.Balance(withRequestContext(c), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "credit account not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Uint("user_id", userID).Msg("failed to read credit balance")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load credits")
	}
	return utils.SendSuccess(c, "credit balance", dto.CreditBalanceResponse{UserID: userID, Balance: balance})
}

func (h *CreditHandler) transactions(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	entries, err := h.service.Transactions(withRequestContext(c), userID, limit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "credit account not found")
		case errors.Is(err, service.ErrCreditHistoryUnavailable):
			return utils.SendError(c, fiber.StatusNotImplemented, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("user_id", userID).Msg("failed to list credit transactions")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load credit history")
		}
	}
	return utils.SendSuccess(c, "credit transactions", dto.NewCreditTransactionListResponse(entries))
}

func (h *CreditHandler) topUp(c *fiber.Ctx) error {
	userID, err := parseUintParam(c, "userID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user identifier")
	}

	var payload dto.CreditTopUpRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	actor := activityActorFromContext(c)
	balance, err := h.service.TopUp(withRequestContext(c), userID, service.CreditTopUp{Amount: payload.Amount, Reason: payload.Reason}, actor)
	if err != nil {
		if isValidationError(err) {
			return utils.Fail(c, fiber.StatusBadRequest, "invalid top-up", validationDetails(err))
		}
		requestLogger(h.logger, c).Error().Err(err).Uint("user_id", userID).Msg("failed to top up credits")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to top up credits")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "credits added", dto.CreditBalanceResponse{UserID: userID, Balance: balance})
}
