package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, text, is_read, read_at,
	related_item_id, client_message_id, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var clientMessageID pgtype.Text
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.IsRead, &msg.ReadAt,
		&msg.RelatedItemID, &clientMessageID, &msg.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	msg.ClientMessageID = clientMessageID.String
	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateMessage сохраняет сообщение. Повтор clientMessageId отправителя дает ErrConflict.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	ctx, cancel := getContext(ctx)
	defer cancel()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	created, err := scanMessage(s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, text, related_item_id, client_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.RelatedItemID, nullString(msg.ClientMessageID),
	))
	if err != nil {
		return fmt.Errorf("ошибка при сохранении сообщения: %w", err)
	}
	*msg = *created
	return nil
}

// GetMessage получает сообщение по ID
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	return scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

// UpdateMessage блокирует строку сообщения, применяет fn и сохраняет отметку о прочтении
func (s *Store) UpdateMessage(ctx context.Context, id uuid.UUID, fn func(msg *models.Message) error) (*models.Message, error) {
	var updated *models.Message
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		updated, err = scanMessage(tx.QueryRow(ctx, `
			UPDATE messages SET is_read = $2, read_at = $3
			WHERE id = $1
			RETURNING `+messageColumns,
			id, current.IsRead, current.ReadAt,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FindMessageByClientID ищет сообщение отправителя по клиентскому идентификатору
func (s *Store) FindMessageByClientID(ctx context.Context, senderID uuid.UUID, clientMessageID string) (*models.Message, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	return scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = $1 AND client_message_id = $2
	`, senderID, clientMessageID))
}

// ListConversation возвращает переписку пары, старые сообщения первыми
func (s *Store) ListConversation(ctx context.Context, a, b uuid.UUID) ([]*models.Message, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id
	`, a, b)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении переписки: %w", err)
	}
	return collectMessages(rows)
}

// ListMessagesInvolving возвращает все сообщения пользователя, новые первыми
func (s *Store) ListMessagesInvolving(ctx context.Context, userID uuid.UUID) ([]*models.Message, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении сообщений: %w", err)
	}
	return collectMessages(rows)
}

// MarkConversationRead отмечает прочитанными непрочитанные сообщения от sender к receiver
func (s *Store) MarkConversationRead(ctx context.Context, receiverID, senderID uuid.UUID, at time.Time) (int64, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = true, read_at = $3
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read
	`, receiverID, senderID, at)
	if err != nil {
		return 0, fmt.Errorf("ошибка при отметке сообщений: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread считает непрочитанные сообщения пользователя
func (s *Store) CountUnread(ctx context.Context, receiverID uuid.UUID) (int64, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages WHERE receiver_id = $1 AND NOT is_read
	`, receiverID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка при подсчете сообщений: %w", err)
	}
	return count, nil
}
