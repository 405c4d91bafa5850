package item

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/ledger"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

// Параметры пагинации
const (
	defaultLimit = 20
	maxLimit     = 100
)

// Reconciler приводит статус книги в соответствие с обменами перед чтением
type Reconciler interface {
	ReconcileItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error)
}

// ItemService представляет сервис для работы с книгами
type ItemService struct {
	ledger     *ledger.Ledger
	reconciler Reconciler
	users      store.Users
}

// NewItemService создает новый экземпляр ItemService
func NewItemService(l *ledger.Ledger, reconciler Reconciler, users store.Users) *ItemService {
	return &ItemService{ledger: l, reconciler: reconciler, users: users}
}

// ItemRequest тело запроса на создание или изменение книги
type ItemRequest struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Description string   `json:"description"`
	Publisher   string   `json:"publisher"`
	ImageURL    string   `json:"imageUrl"`
}

func (r ItemRequest) details() ledger.Details {
	return ledger.Details{
		Title:       r.Title,
		Authors:     r.Authors,
		Description: r.Description,
		Publisher:   r.Publisher,
		ImageURL:    r.ImageURL,
	}
}

// CreateItem добавляет книгу пользователя
func (s *ItemService) CreateItem(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var req ItemRequest
	if err := c.Bind().Body(&req); err != nil {
		return apperrors.Validation("Неверный формат данных")
	}

	item, err := s.ledger.Add(c.Context(), userID, req.details())
	if err != nil {
		return err
	}

	logger.Info().Str("item_id", item.ID.String()).Str("owner_id", userID.String()).Msg("✅ Книга добавлена")
	return c.Status(fiber.StatusCreated).JSON(item)
}

// GetItems возвращает список книг с пагинацией
func (s *ItemService) GetItems(c fiber.Ctx) error {
	filter, err := listFilter(c)
	if err != nil {
		return err
	}
	return s.list(c, filter)
}

// GetMyItems возвращает книги пользователя
func (s *ItemService) GetMyItems(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	filter, err := listFilter(c)
	if err != nil {
		return err
	}
	filter.OwnerID = &userID
	return s.list(c, filter)
}

func (s *ItemService) list(c fiber.Ctx, filter store.ItemFilter) error {
	items, err := s.ledger.List(c.Context(), filter)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*models.Item{}
	}
	s.populate(c.Context(), items...)
	return c.JSON(items)
}

// GetItem возвращает книгу по ID. Статус сверяется с обменами.
func (s *ItemService) GetItem(c fiber.Ctx) error {
	itemID, err := parseID(c)
	if err != nil {
		return err
	}

	item, err := s.reconciler.ReconcileItem(c.Context(), itemID)
	if err != nil {
		return err
	}
	s.populate(c.Context(), item)
	return c.JSON(item)
}

// UpdateItem меняет описание книги. Статус и владелец через этот метод не меняются.
func (s *ItemService) UpdateItem(c fiber.Ctx) error {
	userID, itemID, err := s.authorize(c)
	if err != nil {
		return err
	}

	var req ItemRequest
	if err := c.Bind().Body(&req); err != nil {
		return apperrors.Validation("Неверный формат данных")
	}

	item, err := s.ledger.UpdateDetails(c.Context(), itemID, req.details(), ledger.OwnedBy(userID))
	if err != nil {
		return err
	}
	return c.JSON(item)
}

// DeleteItem удаляет книгу. Книгу в процессе обмена удалить нельзя.
func (s *ItemService) DeleteItem(c fiber.Ctx) error {
	userID, itemID, err := s.authorize(c)
	if err != nil {
		return err
	}

	if err := s.ledger.Remove(c.Context(), itemID, ledger.OwnedBy(userID)); err != nil {
		return err
	}

	logger.Info().Str("item_id", itemID.String()).Msg("Книга удалена")
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Книга успешно удалена",
	})
}

// authorize проверяет, что пользователь владеет книгой из пути
func (s *ItemService) authorize(c fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userID, err := middleware.UserID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	itemID, err := parseID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	item, err := s.ledger.Get(c.Context(), itemID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if item.OwnerID != userID {
		return uuid.Nil, uuid.Nil, apperrors.Forbidden("Вы не можете изменять чужую книгу")
	}
	return userID, itemID, nil
}

// populate заполняет краткие данные владельцев
func (s *ItemService) populate(ctx context.Context, items ...*models.Item) {
	owners := make(map[uuid.UUID]*models.UserSummary)
	for _, item := range items {
		summary, ok := owners[item.OwnerID]
		if !ok {
			user, err := s.users.GetUser(ctx, item.OwnerID)
			if err != nil {
				logger.Warn().Err(err).Str("user_id", item.OwnerID.String()).Msg("не удалось получить владельца книги")
			}
			summary = user.Summary()
			owners[item.OwnerID] = summary
		}
		item.Owner = summary
	}
}

func parseID(c fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("Неверный формат ID книги")
	}
	return id, nil
}

// listFilter читает параметры status, limit и offset
func listFilter(c fiber.Ctx) (store.ItemFilter, error) {
	filter := store.ItemFilter{Limit: defaultLimit}

	if status := models.ItemStatus(c.Query("status")); status != "" {
		if !status.Valid() {
			return filter, apperrors.Validation("Недопустимый статус книги")
		}
		filter.Status = status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, apperrors.Validation("Неверное значение limit")
		}
		filter.Limit = min(limit, maxLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, apperrors.Validation("Неверное значение offset")
		}
		filter.Offset = offset
	}
	return filter, nil
}
