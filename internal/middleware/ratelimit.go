package middleware

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/metrics"
	"github.com/rajivgeraev/bookswap-api/internal/ratelimit"
)

// RateLimit ограничивает частоту запросов пользователя. Ставится после AuthMiddleware.
// При недоступности лимитера запрос пропускается.
func RateLimit(limiter ratelimit.Limiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}

		ok, err := limiter.Allow(c.Context(), userID.String())
		if err != nil {
			logger.Warn().Err(err).Msg("⚠️ лимитер недоступен, запрос пропущен")
			return c.Next()
		}
		if !ok {
			metrics.RateLimited.WithLabelValues("rest").Inc()
			logger.Warn().
				Str("user_id", userID.String()).
				Str("path", c.Path()).
				Msg("превышен лимит запросов")
			return apperrors.RateLimited()
		}
		return c.Next()
	}
}
