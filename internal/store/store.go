// Package store описывает контракты хранилища. Каждая запись меняется атомарно
// через чтение-изменение-запись одного документа; транзакции между документами
// не предполагаются.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("store: not found")
	// ErrConflict нарушено ограничение уникальности
	ErrConflict = errors.New("store: conflict")
)

// Users хранилище пользователей
type Users interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpsertTelegramUser создает пользователя Telegram или обновляет его профиль
	UpsertTelegramUser(ctx context.Context, user *models.User) (*models.User, error)
	// AddOwnedItem и RemoveOwnedItem идемпотентны
	AddOwnedItem(ctx context.Context, userID, itemID uuid.UUID) error
	RemoveOwnedItem(ctx context.Context, userID, itemID uuid.UUID) error
}

// ItemFilter параметры выборки книг
type ItemFilter struct {
	OwnerID *uuid.UUID
	Status  models.ItemStatus
	Limit   int
	Offset  int
}

// Items хранилище книг.
// UpdateItem и DeleteItem вызывают fn над актуальной копией записи атомарно;
// ошибка из fn отменяет изменение и возвращается вызывающему.
type Items interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	UpdateItem(ctx context.Context, id uuid.UUID, fn func(item *models.Item) error) (*models.Item, error)
	DeleteItem(ctx context.Context, id uuid.UUID, fn func(item *models.Item) error) error
	ListItems(ctx context.Context, filter ItemFilter) ([]*models.Item, error)
}

// TradeFilter параметры выборки обменов
type TradeFilter struct {
	FromID *uuid.UUID
	ToID   *uuid.UUID
	ItemID *uuid.UUID
	Status models.TradeStatus
}

// Trades хранилище обменов. ListTrades возвращает новые записи первыми.
// CreateTrade возвращает ErrConflict, если у пары (from, item) уже есть pending обмен.
type Trades interface {
	CreateTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	UpdateTrade(ctx context.Context, id uuid.UUID, fn func(trade *models.Trade) error) (*models.Trade, error)
	DeleteTrade(ctx context.Context, id uuid.UUID, fn func(trade *models.Trade) error) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]*models.Trade, error)
}

// Messages хранилище сообщений
type Messages interface {
	// CreateMessage возвращает ErrConflict при повторе clientMessageId отправителя
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	UpdateMessage(ctx context.Context, id uuid.UUID, fn func(msg *models.Message) error) (*models.Message, error)
	FindMessageByClientID(ctx context.Context, senderID uuid.UUID, clientMessageID string) (*models.Message, error)
	// ListConversation возвращает переписку пары в обе стороны, старые первыми
	ListConversation(ctx context.Context, a, b uuid.UUID) ([]*models.Message, error)
	// ListMessagesInvolving возвращает все сообщения пользователя, новые первыми
	ListMessagesInvolving(ctx context.Context, userID uuid.UUID) ([]*models.Message, error)
	// MarkConversationRead отмечает прочитанными сообщения от sender к receiver
	MarkConversationRead(ctx context.Context, receiverID, senderID uuid.UUID, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID uuid.UUID) (int64, error)
}

// Store объединяет все хранилища
type Store interface {
	Users
	Items
	Trades
	Messages
}
