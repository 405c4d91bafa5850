package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

const itemColumns = `id, title, authors, description, publisher, image_url,
	owner_id, status, active_trade_id, created_at, updated_at`

func scanItem(row pgx.Row) (*models.Item, error) {
	var item models.Item
	err := row.Scan(
		&item.ID, &item.Title, &item.Authors, &item.Description, &item.Publisher, &item.ImageURL,
		&item.OwnerID, &item.Status, &item.ActiveTradeID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if item.Authors == nil {
		item.Authors = []string{}
	}
	return &item, nil
}

func collectItems(rows pgx.Rows) ([]*models.Item, error) {
	defer rows.Close()

	items := []*models.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateItem создает книгу
func (s *Store) CreateItem(ctx context.Context, item *models.Item) error {
	ctx, cancel := getContext(ctx)
	defer cancel()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.ItemAvailable
	}
	if item.Authors == nil {
		item.Authors = []string{}
	}
	created, err := scanItem(s.pool.QueryRow(ctx, `
		INSERT INTO items (id, title, authors, description, publisher, image_url, owner_id, status, active_trade_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+itemColumns,
		item.ID, item.Title, item.Authors, item.Description, item.Publisher, item.ImageURL,
		item.OwnerID, item.Status, item.ActiveTradeID,
	))
	if err != nil {
		return fmt.Errorf("ошибка при создании книги: %w", err)
	}
	*item = *created
	return nil
}

// GetItem получает книгу по ID
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	return scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
}

// UpdateItem блокирует строку книги, применяет fn и сохраняет результат
func (s *Store) UpdateItem(ctx context.Context, id uuid.UUID, fn func(item *models.Item) error) (*models.Item, error) {
	var updated *models.Item
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		updated, err = scanItem(tx.QueryRow(ctx, `
			UPDATE items
			SET title = $2, authors = $3, description = $4, publisher = $5, image_url = $6,
				owner_id = $7, status = $8, active_trade_id = $9, updated_at = clock_timestamp()
			WHERE id = $1
			RETURNING `+itemColumns,
			id, current.Title, current.Authors, current.Description, current.Publisher, current.ImageURL,
			current.OwnerID, current.Status, current.ActiveTradeID,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteItem блокирует строку книги и удаляет ее, если fn не вернула ошибку
func (s *Store) DeleteItem(ctx context.Context, id uuid.UUID, fn func(item *models.Item) error) error {
	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(current); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM items WHERE id = $1`, id); err != nil {
			return fmt.Errorf("ошибка при удалении книги: %w", err)
		}
		return nil
	})
}

// ListItems возвращает книги по фильтру, новые первыми
func (s *Store) ListItems(ctx context.Context, filter store.ItemFilter) ([]*models.Item, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE ($1::uuid IS NULL OR owner_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, filter.OwnerID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении книг: %w", err)
	}
	return collectItems(rows)
}
