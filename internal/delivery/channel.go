// Package delivery сохраняет личные сообщения и доставляет их в живые соединения.
// Сообщение сначала записывается в хранилище и только потом отправляется получателю;
// если получатель не в сети, он увидит сообщение при следующем открытии переписки.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/metrics"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

// MaxClientMessageIDLength ограничение на идентификатор сообщения клиента
const MaxClientMessageIDLength = 64

var errUnchanged = errors.New("delivery: unchanged")

// Notifier получатель событий переписки
type Notifier interface {
	MessageReceived(msg *models.Message) bool
	MessagesRead(senderID, readerID uuid.UUID, count int64) bool
}

type noopNotifier struct{}

func (noopNotifier) MessageReceived(*models.Message) bool { return false }
func (noopNotifier) MessagesRead(uuid.UUID, uuid.UUID, int64) bool { return false }

// SendRequest параметры отправки сообщения
type SendRequest struct {
	SenderID        uuid.UUID
	ReceiverID      uuid.UUID
	Text            string
	RelatedItemID   *uuid.UUID
	ClientMessageID string
}

// Options параметры канала
type Options struct {
	MaxLength int
	Now       func() time.Time
}

// Channel канал доставки сообщений
type Channel struct {
	messages store.Messages
	users    store.Users
	items    store.Items
	notifier Notifier
	opts     Options
}

// New создает канал доставки
func New(messages store.Messages, users store.Users, items store.Items, notifier Notifier, opts Options) *Channel {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = models.MaxMessageLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Channel{
		messages: messages,
		users:    users,
		items:    items,
		notifier: notifier,
		opts:     opts,
	}
}

// Send сохраняет сообщение и отправляет его получателю, если тот в сети.
// Повтор с тем же ClientMessageID возвращает уже сохраненное сообщение без повторной отправки.
func (c *Channel) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	text := strings.TrimSpace(req.Text)
	clientID := strings.TrimSpace(req.ClientMessageID)

	switch {
	case text == "":
		return nil, apperrors.Validation("Текст сообщения обязателен")
	case len([]rune(text)) > c.opts.MaxLength:
		return nil, apperrors.Validation(fmt.Sprintf("Сообщение не должно превышать %d символов", c.opts.MaxLength))
	case req.ReceiverID == uuid.Nil:
		return nil, apperrors.Validation("Не указан получатель")
	case req.SenderID == req.ReceiverID:
		return nil, apperrors.Validation("Нельзя отправить сообщение самому себе")
	case len(clientID) > MaxClientMessageIDLength:
		return nil, apperrors.Validation(fmt.Sprintf("clientMessageId не должен превышать %d символов", MaxClientMessageIDLength))
	}

	if clientID != "" {
		existing, err := c.messages.FindMessageByClientID(ctx, req.SenderID, clientID)
		if err == nil {
			c.populate(ctx, existing)
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("ошибка при поиске сообщения: %w", err)
		}
	}

	if _, err := c.users.GetUser(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("Получатель не найден")
		}
		return nil, fmt.Errorf("ошибка при получении получателя: %w", err)
	}
	if req.RelatedItemID != nil {
		if _, err := c.items.GetItem(ctx, *req.RelatedItemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperrors.NotFound("Книга не найдена")
			}
			return nil, fmt.Errorf("ошибка при получении книги: %w", err)
		}
	}

	msg := &models.Message{
		ID:              uuid.New(),
		SenderID:        req.SenderID,
		ReceiverID:      req.ReceiverID,
		Text:            text,
		RelatedItemID:   req.RelatedItemID,
		ClientMessageID: clientID,
	}
	if err := c.messages.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrConflict) && clientID != "" {
			// параллельный повтор уже сохранил сообщение
			existing, ferr := c.messages.FindMessageByClientID(ctx, req.SenderID, clientID)
			if ferr == nil {
				c.populate(ctx, existing)
				return existing, nil
			}
		}
		return nil, fmt.Errorf("ошибка при сохранении сообщения: %w", err)
	}

	c.populate(ctx, msg)

	delivered := c.notifier.MessageReceived(msg)
	if delivered {
		metrics.MessagesSent.WithLabelValues("live").Inc()
	} else {
		metrics.MessagesSent.WithLabelValues("stored").Inc()
	}
	logger.Debug().
		Str("message_id", msg.ID.String()).
		Str("sender_id", msg.SenderID.String()).
		Bool("live", delivered).
		Msg("сообщение сохранено")

	return msg, nil
}

// MarkAsRead отмечает сообщение прочитанным. Вызывать может только получатель; повторный вызов ничего не меняет.
func (c *Channel) MarkAsRead(ctx context.Context, messageID, actorID uuid.UUID) (*models.Message, error) {
	msg, err := c.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapErr(err)
	}
	if msg.ReceiverID != actorID {
		return nil, apperrors.Forbidden("Отметить прочитанным может только получатель")
	}
	if msg.IsRead {
		return msg, nil
	}

	now := c.opts.Now()
	var current *models.Message
	updated, err := c.messages.UpdateMessage(ctx, messageID, func(m *models.Message) error {
		if m.IsRead {
			current = m
			return errUnchanged
		}
		m.IsRead = true
		m.ReadAt = &now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return current, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}

	c.notifier.MessagesRead(updated.SenderID, actorID, 1)
	return updated, nil
}

// Conversation возвращает переписку пользователя с собеседником, старые сообщения первыми.
// Непрочитанные сообщения собеседника при этом отмечаются прочитанными.
func (c *Channel) Conversation(ctx context.Context, userID, partnerID uuid.UUID) ([]*models.Message, error) {
	if userID == partnerID {
		return nil, apperrors.Validation("Нельзя открыть переписку с самим собой")
	}
	if _, err := c.users.GetUser(ctx, partnerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("Пользователь не найден")
		}
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	marked, err := c.messages.MarkConversationRead(ctx, userID, partnerID, c.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("ошибка при отметке сообщений: %w", err)
	}

	messages, err := c.messages.ListConversation(ctx, userID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении переписки: %w", err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.populate(ctx, messages...)

	if marked > 0 {
		c.notifier.MessagesRead(partnerID, userID, marked)
	}
	return messages, nil
}

// UnreadCount возвращает число непрочитанных сообщений пользователя
func (c *Channel) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := c.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка при подсчете непрочитанных: %w", err)
	}
	return n, nil
}

// populate заполняет краткие сведения об участниках и книге
func (c *Channel) populate(ctx context.Context, messages ...*models.Message) {
	users := make(map[uuid.UUID]*models.UserSummary)
	items := make(map[uuid.UUID]*models.ItemSummary)

	user := func(id uuid.UUID) *models.UserSummary {
		if s, ok := users[id]; ok {
			return s
		}
		u, err := c.users.GetUser(ctx, id)
		if err != nil {
			logger.Debug().Err(err).Str("user_id", id.String()).Msg("не удалось загрузить пользователя")
		}
		users[id] = u.Summary()
		return users[id]
	}

	for _, m := range messages {
		m.Sender = user(m.SenderID)
		m.Receiver = user(m.ReceiverID)
		if m.RelatedItemID == nil {
			continue
		}
		id := *m.RelatedItemID
		if _, ok := items[id]; !ok {
			item, err := c.items.GetItem(ctx, id)
			if err != nil {
				logger.Debug().Err(err).Str("item_id", id.String()).Msg("не удалось загрузить книгу")
			}
			items[id] = item.Summary()
		}
		m.RelatedItem = items[id]
	}
}

func mapErr(err error) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("Сообщение не найдено").WithErr(err)
	default:
		return fmt.Errorf("ошибка хранилища сообщений: %w", err)
	}
}
