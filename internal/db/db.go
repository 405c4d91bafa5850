// Package db реализация хранилища на PostgreSQL.
// Каждая операция меняет одну запись: чтение с блокировкой строки, изменение, запись.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

// queryTimeout ограничение на один запрос к базе данных
const queryTimeout = 5 * time.Second

// uniqueViolation код ошибки PostgreSQL при нарушении уникального индекса
const uniqueViolation = "23505"

// Connect создает пул соединений с базой данных
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	logger.Info().
		Str("host", cfg.DatabaseConfig.Host).
		Str("database", cfg.DatabaseConfig.Name).
		Msg("Подключение к базе данных")

	// Создаем контекст с таймаутом для подключения
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Настраиваем конфигурацию пула соединений
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка при разборе URL базы данных: %w", err)
	}

	// Дополнительная настройка пула соединений
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании пула соединений: %w", err)
	}

	// Проверяем соединение
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка при проверке соединения: %w", err)
	}

	logger.Info().Msg("✅ Успешное подключение к базе данных")
	return pool, nil
}

// Store хранилище поверх пула соединений
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New создает хранилище
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping проверяет доступность базы данных
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := getContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// getContext возвращает контекст с таймаутом для запросов к базе данных
func getContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// inTx выполняет fn в транзакции. Ошибка fn откатывает транзакцию и возвращается как есть.
// fn получает контекст с таймаутом запроса и должна выполнять запросы через него.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := getContext(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx) // Откатываем транзакцию в случае ошибки

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}
	return nil
}

// mapErr переводит ошибки драйвера в ошибки хранилища
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// nullString возвращает NULL для пустой строки
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
