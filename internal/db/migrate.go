package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // драйвер postgres для database/sql

	"github.com/rajivgeraev/bookswap-api/internal/logger"
)

//go:embed schema.sql
var schema string

// Schema возвращает SQL схемы
func Schema() string {
	return schema
}

// Migrate применяет схему к базе данных. Повторный запуск безопасен.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("ошибка при открытии базы данных: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ошибка при проверке соединения: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ошибка при применении схемы: %w", err)
	}

	logger.Info().Msg("✅ Схема базы данных применена")
	return nil
}
