package trade

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/trading"
)

// TradeService представляет HTTP интерфейс к обменам
type TradeService struct {
	orchestrator *trading.Orchestrator
}

// NewTradeService создает новый экземпляр TradeService
func NewTradeService(orchestrator *trading.Orchestrator) *TradeService {
	return &TradeService{orchestrator: orchestrator}
}

// CreateTradeRequest тело запроса на обмен
type CreateTradeRequest struct {
	ItemID  string `json:"itemId"`
	Message string `json:"message"`
}

// CreateTrade создает запрос на обмен книги
func (s *TradeService) CreateTrade(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var req CreateTradeRequest
	if err := c.Bind().Body(&req); err != nil {
		return apperrors.Validation("Неверный формат данных")
	}

	// Проверка обязательных полей
	if req.ItemID == "" {
		return apperrors.Validation("Необходимо указать книгу для обмена")
	}
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		return apperrors.Validation("Неверный формат ID книги")
	}

	trade, err := s.orchestrator.Create(c.Context(), userID, itemID, req.Message)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(trade)
}

// GetIncoming возвращает запросы на книги пользователя
func (s *TradeService) GetIncoming(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	status, err := statusFilter(c)
	if err != nil {
		return err
	}

	trades, err := s.orchestrator.Incoming(c.Context(), userID, status)
	if err != nil {
		return err
	}
	return c.JSON(trades)
}

// GetOutgoing возвращает запросы, отправленные пользователем
func (s *TradeService) GetOutgoing(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	status, err := statusFilter(c)
	if err != nil {
		return err
	}

	trades, err := s.orchestrator.Outgoing(c.Context(), userID, status)
	if err != nil {
		return err
	}
	return c.JSON(trades)
}

// GetTrade возвращает обмен его участнику
func (s *TradeService) GetTrade(c fiber.Ctx) error {
	return s.decide(c, s.orchestrator.Get)
}

// ApproveTrade подтверждает обмен. Доступно владельцу книги.
func (s *TradeService) ApproveTrade(c fiber.Ctx) error {
	return s.decide(c, s.orchestrator.Approve)
}

// RejectTrade отклоняет обмен. Доступно владельцу книги.
func (s *TradeService) RejectTrade(c fiber.Ctx) error {
	return s.decide(c, s.orchestrator.Reject)
}

// CancelTrade отменяет обмен. Доступно автору запроса.
func (s *TradeService) CancelTrade(c fiber.Ctx) error {
	return s.decide(c, s.orchestrator.Cancel)
}

type tradeAction func(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error)

// decide разбирает ID обмена и вызывает действие от имени пользователя
func (s *TradeService) decide(c fiber.Ctx, action tradeAction) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperrors.Validation("Неверный формат ID обмена")
	}

	trade, err := action(c.Context(), tradeID, userID)
	if err != nil {
		return err
	}
	return c.JSON(trade)
}

// statusFilter читает необязательный параметр ?status=
func statusFilter(c fiber.Ctx) (models.TradeStatus, error) {
	status := models.TradeStatus(c.Query("status"))
	switch status {
	case "", models.TradePending, models.TradeApproved, models.TradeRejected, models.TradeCancelled:
		return status, nil
	}
	return "", apperrors.Validation("Недопустимый статус обмена")
}
