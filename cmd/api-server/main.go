package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/conversation"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/delivery"
	"github.com/rajivgeraev/bookswap-api/internal/ledger"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/notify"
	"github.com/rajivgeraev/bookswap-api/internal/presence"
	"github.com/rajivgeraev/bookswap-api/internal/ratelimit"
	"github.com/rajivgeraev/bookswap-api/internal/services/auth"
	"github.com/rajivgeraev/bookswap-api/internal/services/cloudinary"
	"github.com/rajivgeraev/bookswap-api/internal/services/item"
	"github.com/rajivgeraev/bookswap-api/internal/services/message"
	"github.com/rajivgeraev/bookswap-api/internal/services/trade"
	"github.com/rajivgeraev/bookswap-api/internal/store"
	"github.com/rajivgeraev/bookswap-api/internal/store/memstore"
	"github.com/rajivgeraev/bookswap-api/internal/trading"
	"github.com/rajivgeraev/bookswap-api/internal/websocket"
)

// sweepInterval период фоновой сверки книг и обменов
const sweepInterval = 5 * time.Minute

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Инициализируем хранилище
	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// Собираем компоненты
	registry := presence.NewRegistry()
	bridge := notify.NewBridge(registry)
	itemLedger := ledger.New(st, st)
	orchestrator := trading.New(itemLedger, st, st, bridge, trading.Options{
		CancelPolicy:     trading.CancelPolicy(cfg.TradeConfig.CancelPolicy),
		ReconcileGrace:   cfg.TradeConfig.ReconcileGrace,
		MessageMaxLength: cfg.TradeConfig.MessageMaxLength,
	})
	channel := delivery.New(st, st, st, bridge, delivery.Options{MaxLength: cfg.ChatConfig.MessageMaxLength})
	index := conversation.NewIndex(st, st)

	limiter, closeLimiter := newLimiter(cfg)
	defer closeLimiter()

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "BookSwap API",
		ErrorHandler: middleware.ErrorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Создаём сервисы
	authService := auth.NewAuthService(cfg, st)
	jwtService := authService.GetJWTService()
	authMiddleware := middleware.AuthMiddleware(jwtService)

	// Регистрируем маршруты. Параметры загрузки идут раньше маршрутов книг.
	authService.SetupRoutes(app)
	cloudinary.NewCloudinaryService(cfg).SetupRoutes(app, authMiddleware)
	item.NewItemService(itemLedger, orchestrator, st).SetupRoutes(app, authMiddleware)
	trade.NewTradeService(orchestrator).SetupRoutes(app, authMiddleware)
	message.NewMessageService(channel, index).SetupRoutes(app, authMiddleware, middleware.RateLimit(limiter))

	// Живой канал, метрики и проверка здоровья на отдельном порту
	live := http.NewServeMux()
	live.Handle("/ws", websocket.NewHandler(jwtService, registry, channel, bridge, websocket.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
	}))
	live.Handle("/metrics", promhttp.Handler())
	live.HandleFunc("/healthz", healthHandler(st))
	liveServer := &http.Server{
		Addr:              ":" + cfg.LivePort,
		Handler:           live,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("✅ BookSwap API запущен")
		return app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		logger.Info().Str("port", cfg.LivePort).Msg("✅ Живой канал запущен")
		if err := liveServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		runSweeper(gctx, orchestrator)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Остановка сервера")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(app.ShutdownWithContext(shutdownCtx), liveServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("❌ Сервер завершился с ошибкой")
	}
}

// openStore подключает PostgreSQL. В режиме разработки при недоступной базе используется память.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func()) {
	pool, err := db.Connect(ctx, cfg)
	if err == nil {
		return db.New(pool), pool.Close
	}
	if !cfg.IsDevelopment() {
		logger.Fatal().Err(err).Msg("❌ Ошибка при инициализации базы данных")
	}

	logger.Warn().Err(err).Msg("⚠️ База данных недоступна, данные хранятся в памяти")
	return memstore.New(), func() {}
}

// newLimiter выбирает общий лимитер в Redis или локальный в памяти процесса
func newLimiter(cfg *config.Config) (ratelimit.Limiter, func()) {
	perMinute := cfg.ChatConfig.SendRatePerMinute
	if cfg.RedisConfig.Addr == "" {
		limiter := ratelimit.NewMemory(perMinute, cfg.ChatConfig.SendBurst)
		return limiter, limiter.Close
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Addr,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})
	logger.Info().Str("addr", cfg.RedisConfig.Addr).Msg("Лимит отправки хранится в Redis")
	return ratelimit.NewRedis(client, perMinute, time.Minute), func() { client.Close() }
}

// runSweeper периодически сверяет книги с незавершенными обменами
func runSweeper(ctx context.Context, orchestrator *trading.Orchestrator) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Итог сверки пишет сам Sweep
			if _, err := orchestrator.Sweep(ctx); err != nil {
				logger.Warn().Err(err).Msg("⚠️ Сверка завершилась с ошибками")
			}
		}
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := st.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				logger.Warn().Err(err).Msg("⚠️ База данных не отвечает")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
