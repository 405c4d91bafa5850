package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

const tradeColumns = `id, from_id, to_id, item_id, status, message, created_at, updated_at, decided_at`

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var trade models.Trade
	err := row.Scan(
		&trade.ID, &trade.FromID, &trade.ToID, &trade.ItemID, &trade.Status, &trade.Message,
		&trade.CreatedAt, &trade.UpdatedAt, &trade.DecidedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &trade, nil
}

// CreateTrade создает обмен. Второй pending обмен той же пары (from, item) дает ErrConflict.
func (s *Store) CreateTrade(ctx context.Context, trade *models.Trade) error {
	ctx, cancel := getContext(ctx)
	defer cancel()

	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if trade.Status == "" {
		trade.Status = models.TradePending
	}
	created, err := scanTrade(s.pool.QueryRow(ctx, `
		INSERT INTO trades (id, from_id, to_id, item_id, status, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+tradeColumns,
		trade.ID, trade.FromID, trade.ToID, trade.ItemID, trade.Status, trade.Message,
	))
	if err != nil {
		return fmt.Errorf("ошибка при создании обмена: %w", err)
	}
	*trade = *created
	return nil
}

// GetTrade получает обмен по ID
func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	return scanTrade(s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
}

// UpdateTrade блокирует строку обмена, применяет fn и сохраняет статус, сообщение и время решения
func (s *Store) UpdateTrade(ctx context.Context, id uuid.UUID, fn func(trade *models.Trade) error) (*models.Trade, error) {
	var updated *models.Trade
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanTrade(tx.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		updated, err = scanTrade(tx.QueryRow(ctx, `
			UPDATE trades
			SET status = $2, message = $3, decided_at = $4, updated_at = clock_timestamp()
			WHERE id = $1
			RETURNING `+tradeColumns,
			id, current.Status, current.Message, current.DecidedAt,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTrade блокирует строку обмена и удаляет ее, если fn не вернула ошибку
func (s *Store) DeleteTrade(ctx context.Context, id uuid.UUID, fn func(trade *models.Trade) error) error {
	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanTrade(tx.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(current); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE id = $1`, id); err != nil {
			return fmt.Errorf("ошибка при удалении обмена: %w", err)
		}
		return nil
	})
}

// ListTrades возвращает обмены по фильтру, новые первыми
func (s *Store) ListTrades(ctx context.Context, filter store.TradeFilter) ([]*models.Trade, error) {
	ctx, cancel := getContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE ($1::uuid IS NULL OR from_id = $1)
		  AND ($2::uuid IS NULL OR to_id = $2)
		  AND ($3::uuid IS NULL OR item_id = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC, id
	`, filter.FromID, filter.ToID, filter.ItemID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении обменов: %w", err)
	}
	defer rows.Close()

	trades := []*models.Trade{}
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}
