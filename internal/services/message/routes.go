package message

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API сообщений.
// sendLimiter ограничивает частоту отправки и ставится только на POST.
func (s *MessageService) SetupRoutes(app *fiber.App, authMiddleware, sendLimiter fiber.Handler) {
	// Группа для API сообщений
	api := app.Group("/api/messages")

	// Защищенные маршруты (требуют авторизации)
	api.Use(authMiddleware)

	// Маршрут для отправки сообщения
	api.Post("/", sendLimiter, s.SendMessage)

	// Маршруты для чтения переписки
	api.Get("/conversations", s.GetConversations)
	api.Get("/conversation/:userId", s.GetConversation)
	api.Get("/unread-count", s.GetUnreadCount)

	// Маршрут для отметки о прочтении
	api.Put("/:id/read", s.MarkAsRead)
}
