// Package conversation строит список переписок пользователя по сохраненным сообщениям
package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

// Index индекс переписок. Ничего не хранит, каждый раз пересчитывает по сообщениям.
type Index struct {
	messages store.Messages
	users    store.Users
}

// NewIndex создает индекс переписок
func NewIndex(messages store.Messages, users store.Users) *Index {
	return &Index{messages: messages, users: users}
}

// List возвращает переписки пользователя: последнее сообщение и число непрочитанных
// по каждому собеседнику. Свежие переписки первыми.
func (x *Index) List(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	messages, err := x.messages.ListMessagesInvolving(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении сообщений: %w", err)
	}

	byPartner := make(map[uuid.UUID]*models.Conversation)
	for _, msg := range messages {
		partnerID := msg.PartnerOf(userID)
		conv, ok := byPartner[partnerID]
		if !ok {
			conv = &models.Conversation{Partner: &models.UserSummary{ID: partnerID}}
			byPartner[partnerID] = conv
		}
		if conv.LastMessage == nil || msg.CreatedAt.After(conv.LastMessage.CreatedAt) {
			conv.LastMessage = msg
		}
		if msg.ReceiverID == userID && !msg.IsRead {
			conv.UnreadCount++
		}
	}

	out := make([]*models.Conversation, 0, len(byPartner))
	for partnerID, conv := range byPartner {
		partner, err := x.users.GetUser(ctx, partnerID)
		if err != nil {
			logger.Debug().Err(err).Str("user_id", partnerID.String()).Msg("не удалось загрузить собеседника")
		} else {
			conv.Partner = partner.Summary()
		}
		out = append(out, conv)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}
