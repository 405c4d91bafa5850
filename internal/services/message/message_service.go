package message

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/conversation"
	"github.com/rajivgeraev/bookswap-api/internal/delivery"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
)

// MessageService представляет сервис для работы с сообщениями
type MessageService struct {
	channel *delivery.Channel
	index   *conversation.Index
}

// NewMessageService создает новый экземпляр MessageService
func NewMessageService(channel *delivery.Channel, index *conversation.Index) *MessageService {
	return &MessageService{channel: channel, index: index}
}

// SendMessageRequest тело запроса на отправку сообщения
type SendMessageRequest struct {
	Receiver        string `json:"receiver"`
	Text            string `json:"text"`
	RelatedItem     string `json:"relatedItem"`
	ClientMessageID string `json:"clientMessageId"`
}

// SendMessage сохраняет сообщение и доставляет его получателю, если тот в сети
func (s *MessageService) SendMessage(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var req SendMessageRequest
	if err := c.Bind().Body(&req); err != nil {
		return apperrors.Validation("Неверный формат данных")
	}

	receiverID, err := uuid.Parse(req.Receiver)
	if err != nil {
		return apperrors.Validation("Неверный формат ID получателя")
	}
	var relatedItemID *uuid.UUID
	if req.RelatedItem != "" {
		id, err := uuid.Parse(req.RelatedItem)
		if err != nil {
			return apperrors.Validation("Неверный формат ID книги")
		}
		relatedItemID = &id
	}

	msg, err := s.channel.Send(c.Context(), delivery.SendRequest{
		SenderID:        userID,
		ReceiverID:      receiverID,
		Text:            req.Text,
		RelatedItemID:   relatedItemID,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// GetConversation возвращает переписку с собеседником и отмечает его сообщения прочитанными
func (s *MessageService) GetConversation(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	partnerID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return apperrors.Validation("Неверный формат ID пользователя")
	}

	messages, err := s.channel.Conversation(c.Context(), userID, partnerID)
	if err != nil {
		return err
	}
	return c.JSON(messages)
}

// GetConversations возвращает список переписок пользователя
func (s *MessageService) GetConversations(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	conversations, err := s.index.List(c.Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(conversations)
}

// MarkAsRead отмечает сообщение прочитанным. Доступно получателю.
func (s *MessageService) MarkAsRead(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperrors.Validation("Неверный формат ID сообщения")
	}

	msg, err := s.channel.MarkAsRead(c.Context(), messageID, userID)
	if err != nil {
		return err
	}
	return c.JSON(msg)
}

// GetUnreadCount возвращает число непрочитанных сообщений
func (s *MessageService) GetUnreadCount(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	count, err := s.channel.UnreadCount(c.Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": count})
}
