package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
)

// ErrorHandler единый обработчик ошибок Fiber.
// Ошибки приложения отдаются клиенту с видом и кодом, остальные становятся 500 без подробностей.
func ErrorHandler(c fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
			"kind":  kindForStatus(fiberErr.Code),
			"code":  kindForStatus(fiberErr.Code),
		})
	}

	appErr := apperrors.From(err)
	if appErr.Kind == apperrors.KindInternal {
		logger.Error().
			Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("❌ ошибка обработки запроса")
	}

	return c.Status(appErr.Status).JSON(fiber.Map{
		"error":     appErr.Message,
		"kind":      appErr.Kind,
		"code":      appErr.Code,
		"retryable": appErr.Retryable,
	})
}

func kindForStatus(status int) apperrors.Kind {
	switch {
	case status == fiber.StatusNotFound:
		return apperrors.KindNotFound
	case status == fiber.StatusUnauthorized:
		return apperrors.KindUnauthorized
	case status == fiber.StatusForbidden:
		return apperrors.KindForbidden
	case status == fiber.StatusTooManyRequests:
		return apperrors.KindRateLimited
	case status < fiber.StatusInternalServerError:
		return apperrors.KindValidation
	default:
		return apperrors.KindInternal
	}
}
