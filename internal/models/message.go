package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength ограничение длины сообщения по умолчанию
const MaxMessageLength = 1000

// Message представляет личное сообщение между пользователями
type Message struct {
	ID              uuid.UUID  `json:"id"`
	SenderID        uuid.UUID  `json:"senderId"`
	ReceiverID      uuid.UUID  `json:"receiverId"`
	Text            string     `json:"text"`
	IsRead          bool       `json:"isRead"`
	ReadAt          *time.Time `json:"readAt,omitempty"`
	RelatedItemID   *uuid.UUID `json:"relatedItemId,omitempty"`
	ClientMessageID string     `json:"clientMessageId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`

	// Дополнительные поля для API
	Sender      *UserSummary `json:"sender,omitempty"`
	Receiver    *UserSummary `json:"receiver,omitempty"`
	RelatedItem *ItemSummary `json:"relatedItem,omitempty"`
}

// PartnerOf возвращает собеседника пользователя в этом сообщении
func (m *Message) PartnerOf(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Conversation сводка переписки с одним собеседником. Не хранится, строится по сообщениям.
type Conversation struct {
	Partner     *UserSummary `json:"partner"`
	LastMessage *Message     `json:"lastMessage"`
	UnreadCount int          `json:"unreadCount"`
}
