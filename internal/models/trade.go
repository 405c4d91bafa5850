package models

import (
	"time"

	"github.com/google/uuid"
)

// TradeStatus статус запроса на обмен
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeApproved  TradeStatus = "approved"
	TradeRejected  TradeStatus = "rejected"
	TradeCancelled TradeStatus = "cancelled"
)

// Terminal сообщает, что обмен завершен и больше не меняется
func (s TradeStatus) Terminal() bool {
	return s != TradePending
}

// MaxTradeMessageLength ограничение на сопроводительное сообщение по умолчанию
const MaxTradeMessageLength = 500

// Trade представляет запрос одного пользователя получить книгу другого
type Trade struct {
	ID        uuid.UUID   `json:"id"`
	FromID    uuid.UUID   `json:"fromId"` // кто запрашивает книгу
	ToID      uuid.UUID   `json:"toId"`   // владелец книги на момент запроса
	ItemID    uuid.UUID   `json:"itemId"`
	Status    TradeStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	DecidedAt *time.Time  `json:"decidedAt,omitempty"`

	// Дополнительные поля для API
	From *UserSummary `json:"from,omitempty"`
	To   *UserSummary `json:"to,omitempty"`
	Item *ItemSummary `json:"item,omitempty"`
}

// Involves сообщает, участвует ли пользователь в обмене
func (t *Trade) Involves(userID uuid.UUID) bool {
	return t.FromID == userID || t.ToID == userID
}
