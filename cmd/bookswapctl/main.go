package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rajivgeraev/bookswap-api/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("❌ Ошибка выполнения команды")
		stop()
		os.Exit(1)
	}
}
