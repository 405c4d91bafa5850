package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

const userColumns = `id, username, first_name, last_name, avatar_url, city,
	telegram_id, owned_items, created_at, updated_at`

// scanUser читает пользователя и преобразует nullable поля
func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var username, firstName, lastName, avatarURL, city pgtype.Text
	var telegramID pgtype.Int8

	err := row.Scan(
		&user.ID, &username, &firstName, &lastName, &avatarURL, &city,
		&telegramID, &user.OwnedItems, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}

	// Преобразуем nullable поля
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.AvatarURL = avatarURL.String
	user.City = city.String
	if telegramID.Valid {
		user.TelegramID = telegramID.Int64
	}
	if user.OwnedItems == nil {
		user.OwnedItems = []uuid.UUID{}
	}
	return &user, nil
}

func nullTelegramID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// CreateUser создает пользователя
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := getContext(ctx)
	defer cancel()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	created, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, first_name, last_name, avatar_url, city, telegram_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		user.ID, nullString(user.Username), nullString(user.FirstName), nullString(user.LastName),
		nullString(user.AvatarURL), nullString(user.City), nullTelegramID(user.TelegramID),
	))
	if err != nil {
		return fmt.Errorf("ошибка при создании пользователя: %w", err)
	}
	*user = *created
	return nil
}

// GetUser получает пользователя по ID
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UpsertTelegramUser создает пользователя Telegram или обновляет данные профиля существующего
func (s *Store) UpsertTelegramUser(ctx context.Context, user *models.User) (*models.User, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	id := user.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	upserted, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, first_name, last_name, avatar_url, telegram_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = now()
		RETURNING `+userColumns,
		id, nullString(user.Username), nullString(user.FirstName), nullString(user.LastName),
		nullString(user.AvatarURL), user.TelegramID,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка при сохранении пользователя Telegram: %w", err)
	}
	return upserted, nil
}

// AddOwnedItem добавляет книгу в набор пользователя, если ее там нет
func (s *Store) AddOwnedItem(ctx context.Context, userID, itemID uuid.UUID) error {
	return s.updateOwnedItems(ctx, userID, `
		UPDATE users
		SET owned_items = array_append(owned_items, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(owned_items))
	`, itemID)
}

// RemoveOwnedItem убирает книгу из набора пользователя
func (s *Store) RemoveOwnedItem(ctx context.Context, userID, itemID uuid.UUID) error {
	return s.updateOwnedItems(ctx, userID, `
		UPDATE users
		SET owned_items = array_remove(owned_items, $2), updated_at = now()
		WHERE id = $1 AND $2 = ANY(owned_items)
	`, itemID)
}

// updateOwnedItems выполняет идемпотентное изменение набора. Ноль затронутых строк
// означает, что набор уже в нужном состоянии, если пользователь существует.
func (s *Store) updateOwnedItems(ctx context.Context, userID uuid.UUID, query string, itemID uuid.UUID) error {
	ctx, cancel := getContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, userID, itemID)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении книг пользователя: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка при проверке пользователя: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}
