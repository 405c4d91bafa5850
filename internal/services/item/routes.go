package item

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API книг.
// Маршрут /api/items/upload/params регистрирует сервис cloudinary до вызова этого метода.
func (s *ItemService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Группа для API книг
	api := app.Group("/api/items")

	// Публичный список книг
	api.Get("/", s.GetItems)

	// Маршрут для получения списка своих книг
	api.Get("/my", authMiddleware, s.GetMyItems)

	// Маршрут для получения одной книги по ID
	api.Get("/:id", s.GetItem)

	// Защищенные маршруты изменения
	api.Post("/", authMiddleware, s.CreateItem)
	api.Put("/:id", authMiddleware, s.UpdateItem)
	api.Delete("/:id", authMiddleware, s.DeleteItem)
}
