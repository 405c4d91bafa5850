package cloudinary

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршрут параметров загрузки обложек.
// Вызывается до регистрации маршрутов книг, чтобы /upload/params не совпал с /:id.
func (s *CloudinaryService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Маршрут для получения параметров загрузки
	app.Get("/api/items/upload/params", authMiddleware, s.GenerateUploadParams)
}
