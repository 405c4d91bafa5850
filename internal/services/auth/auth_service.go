package auth

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

// initDataExpiration срок действия initData от Telegram
const initDataExpiration = 24 * time.Hour

// AuthService – структура для обработки авторизации
type AuthService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	users      store.Users
}

// NewAuthService – конструктор AuthService
func NewAuthService(cfg *config.Config, users store.Users) *AuthService {
	return &AuthService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		users:      users,
	}
}

// GetJWTService возвращает сервис токенов, он же провайдер личности
func (s *AuthService) GetJWTService() *utils.JWTService {
	return s.jwtService
}

// TelegramAuthHandler проверяет initData, сохраняет пользователя, создает JWT и возвращает его
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	if s.cfg.TelegramBotToken == "" {
		return apperrors.New(apperrors.KindForbidden, apperrors.CodeForbidden, fiber.StatusForbidden, "Вход через Telegram отключен")
	}

	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil || payload.InitData == "" {
		return apperrors.Validation("Неверный формат запроса")
	}

	// Проверяем initData
	if err := initdata.Validate(payload.InitData, s.cfg.TelegramBotToken, initDataExpiration); err != nil {
		logger.Warn().Err(err).Msg("⚠️ Неверные данные Telegram")
		return apperrors.Unauthorized("Неверные данные Telegram")
	}

	// Парсим данные
	data, err := initdata.Parse(payload.InitData)
	if err != nil || data.User.ID == 0 {
		return apperrors.Validation("Не удалось разобрать initData")
	}

	user, err := s.users.UpsertTelegramUser(c.Context(), &models.User{
		TelegramID: data.User.ID,
		Username:   data.User.Username,
		FirstName:  data.User.FirstName,
		LastName:   data.User.LastName,
		AvatarURL:  data.User.PhotoURL,
	})
	if err != nil {
		return err
	}

	// Генерируем JWT
	jwtToken, err := s.jwtService.GenerateToken(user.ID)
	if err != nil {
		return apperrors.Internal(err)
	}

	logger.Info().Str("user_id", user.ID.String()).Msg("✅ Пользователь вошел через Telegram")
	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  user,
	})
}

// ProfileHandler возвращает профиль текущего пользователя
func (s *AuthService) ProfileHandler(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	user, err := s.users.GetUser(c.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("Пользователь не найден").WithErr(err)
		}
		return err
	}
	return c.JSON(user)
}
