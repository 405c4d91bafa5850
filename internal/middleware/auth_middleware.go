package middleware

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/identity"
)

const userIDKey = "userID"

// AuthMiddleware создаёт middleware для проверки JWT
func AuthMiddleware(provider identity.Provider) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, err := identity.Resolve(provider, c.Get(fiber.HeaderAuthorization), "")
		if err != nil {
			return err
		}

		// Добавляем userID в контекст
		c.Locals(userIDKey, userID)

		return c.Next()
	}
}

// UserID возвращает пользователя, установленного AuthMiddleware
func UserID(c fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals(userIDKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, apperrors.Unauthorized("Требуется авторизация")
	}
	return userID, nil
}
