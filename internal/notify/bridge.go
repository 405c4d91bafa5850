// Package notify пересылает события обменов и переписки в живые соединения.
// Доставка без повторов и буферизации: надежное состояние хранится в базе.
package notify

import (
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/metrics"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/presence"
)

// Имена событий сервер -> клиент
const (
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
	EventTradeUpdated   = "trade_updated"
	EventMessagesRead   = "messages_read"
)

// TypingPayload данные события user_typing
type TypingPayload struct {
	UserID   uuid.UUID `json:"userId"`
	IsTyping bool      `json:"isTyping"`
}

// MessagesReadPayload данные события messages_read
type MessagesReadPayload struct {
	ReaderID uuid.UUID `json:"readerId"`
	Count    int64     `json:"count"`
}

// TradePayload данные события trade_updated
type TradePayload struct {
	Trade *models.Trade `json:"trade"`
}

// Bridge мост между компонентами и таблицей присутствия
type Bridge struct {
	registry *presence.Registry
}

// NewBridge создает мост поверх таблицы присутствия
func NewBridge(registry *presence.Registry) *Bridge {
	return &Bridge{registry: registry}
}

// Notify отправляет событие пользователю, если он онлайн.
// Соединение, не принявшее событие, снимается с регистрации; ошибка наружу не передается.
func (b *Bridge) Notify(userID uuid.UUID, evt presence.Event) bool {
	conn, ok := b.registry.Lookup(userID)
	if !ok {
		metrics.EventsPushed.WithLabelValues(evt.Name, "offline").Inc()
		return false
	}

	if err := conn.Deliver(evt); err != nil {
		b.registry.Unregister(conn)
		metrics.EventsPushed.WithLabelValues(evt.Name, "dropped").Inc()
		logger.Debug().
			Err(err).
			Str("user_id", userID.String()).
			Str("event", evt.Name).
			Msg("соединение не приняло событие, снимаем регистрацию")
		return false
	}

	metrics.EventsPushed.WithLabelValues(evt.Name, "delivered").Inc()
	return true
}

// MessageReceived доставляет новое сообщение получателю
func (b *Bridge) MessageReceived(msg *models.Message) bool {
	return b.Notify(msg.ReceiverID, presence.Event{Name: EventReceiveMessage, Data: msg})
}

// MessagesRead сообщает отправителю, что собеседник прочитал его сообщения
func (b *Bridge) MessagesRead(senderID, readerID uuid.UUID, count int64) bool {
	return b.Notify(senderID, presence.Event{
		Name: EventMessagesRead,
		Data: MessagesReadPayload{ReaderID: readerID, Count: count},
	})
}

// TradeChanged сообщает участнику об изменении обмена
func (b *Bridge) TradeChanged(userID uuid.UUID, trade *models.Trade) bool {
	return b.Notify(userID, presence.Event{Name: EventTradeUpdated, Data: TradePayload{Trade: trade}})
}

// Typing пересылает индикатор набора текста собеседнику
func (b *Bridge) Typing(fromID, toID uuid.UUID, isTyping bool) bool {
	return b.Notify(toID, presence.Event{
		Name: EventUserTyping,
		Data: TypingPayload{UserID: fromID, IsTyping: isTyping},
	})
}
