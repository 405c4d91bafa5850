package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/ledger"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/trading"
)

var (
	databaseURL string

	rootCmd = &cobra.Command{
		Use:           "bookswapctl",
		Short:         "Служебные команды BookSwap API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Применить схему базы данных",
		RunE:  runMigrate,
	}

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Сверить статусы книг с незавершенными обменами и исправить расхождения",
		RunE:  runReconcile,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "строка подключения к PostgreSQL (по умолчанию из окружения)")
	rootCmd.AddCommand(migrateCmd, reconcileCmd)
}

// loadConfig загружает конфигурацию и применяет флаги командной строки.
// JWT_SECRET командам не нужен.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithoutSecrets()
	if err != nil {
		return nil, err
	}
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	logger.Init(cfg.AppEnv)
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return db.Migrate(cmd.Context(), cfg.DatabaseURL)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pool, err := db.Connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := db.New(pool)
	orchestrator := trading.New(ledger.New(st, st), st, st, nil, trading.Options{
		CancelPolicy:   trading.CancelPolicy(cfg.TradeConfig.CancelPolicy),
		ReconcileGrace: cfg.TradeConfig.ReconcileGrace,
	})

	report, sweepErr := orchestrator.Sweep(cmd.Context())

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if sweepErr != nil {
		return fmt.Errorf("сверка завершилась с ошибками: %w", sweepErr)
	}
	return nil
}
