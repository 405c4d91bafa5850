package trade

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API обменов
func (s *TradeService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Группа для API обменов
	api := app.Group("/api/trades")

	// Защищенные маршруты (требуют авторизации)
	api.Use(authMiddleware)

	// Маршрут для создания запроса на обмен
	api.Post("/", s.CreateTrade)

	// Списки запросов: входящие на мои книги и исходящие от меня
	api.Get("/incoming", s.GetIncoming)
	api.Get("/outgoing", s.GetOutgoing)
	api.Get("/:id", s.GetTrade)

	// Решения по запросу
	api.Put("/:id/approve", s.ApproveTrade)
	api.Put("/:id/reject", s.RejectTrade)
	api.Delete("/:id", s.CancelTrade)
}
