// Package ledger владеет состоянием книги: ее статусом и текущим владельцем.
// Все изменения статуса и владельца проходят через Ledger. Кто имеет право
// на изменение, решает вызывающий код.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

// ErrPreconditionFailed текущее состояние книги не совпало с ожидаемым
var ErrPreconditionFailed = errors.New("ledger: precondition failed")

// errUnchanged прерывает запись, когда книга уже в нужном состоянии
var errUnchanged = errors.New("ledger: unchanged")

// Expect условия, которые должны выполняться перед изменением. Пустые поля не проверяются.
type Expect struct {
	Owner  *uuid.UUID
	Status models.ItemStatus
	// Holder обмен, который должен удерживать книгу
	Holder *uuid.UUID
	// UpdatedAt версия записи, прочитанная вызывающим
	UpdatedAt time.Time
}

// OwnedBy ожидание конкретного владельца
func OwnedBy(ownerID uuid.UUID) Expect {
	return Expect{Owner: &ownerID}
}

func (e Expect) check(item *models.Item) error {
	if e.Owner != nil && item.OwnerID != *e.Owner {
		return apperrors.PreconditionFailed("Владелец книги изменился").WithErr(ErrPreconditionFailed)
	}
	if e.Status != "" && item.Status != e.Status {
		return apperrors.PreconditionFailed("Статус книги изменился").WithErr(ErrPreconditionFailed)
	}
	if e.Holder != nil && (item.ActiveTradeID == nil || *item.ActiveTradeID != *e.Holder) {
		return apperrors.PreconditionFailed("Книга удерживается другим обменом").WithErr(ErrPreconditionFailed)
	}
	if !e.UpdatedAt.IsZero() && !item.UpdatedAt.Equal(e.UpdatedAt) {
		return apperrors.PreconditionFailed("Книга была изменена").WithErr(ErrPreconditionFailed)
	}
	return nil
}

// Details описательные поля книги
type Details struct {
	Title       string
	Authors     []string
	Description string
	Publisher   string
	ImageURL    string
}

// Normalize обрезает пробелы и выбрасывает пустых авторов
func (d Details) Normalize() Details {
	out := Details{
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Publisher:   strings.TrimSpace(d.Publisher),
		ImageURL:    strings.TrimSpace(d.ImageURL),
	}
	for _, a := range d.Authors {
		if a = strings.TrimSpace(a); a != "" {
			out.Authors = append(out.Authors, a)
		}
	}
	return out
}

// Validate проверяет ограничения на поля книги
func (d Details) Validate() error {
	switch {
	case d.Title == "":
		return apperrors.Validation("Название книги обязательно")
	case len([]rune(d.Title)) > models.MaxTitleLength:
		return apperrors.Validation(fmt.Sprintf("Название не должно превышать %d символов", models.MaxTitleLength))
	case len(d.Authors) == 0:
		return apperrors.Validation("Нужно указать хотя бы одного автора")
	case len([]rune(d.Description)) > models.MaxDescriptionLength:
		return apperrors.Validation(fmt.Sprintf("Описание не должно превышать %d символов", models.MaxDescriptionLength))
	case len([]rune(d.Publisher)) > models.MaxPublisherLength:
		return apperrors.Validation(fmt.Sprintf("Издательство не должно превышать %d символов", models.MaxPublisherLength))
	}
	return nil
}

// Ledger реестр книг
type Ledger struct {
	items store.Items
	users store.Users
}

// New создает реестр поверх хранилищ книг и пользователей
func New(items store.Items, users store.Users) *Ledger {
	return &Ledger{items: items, users: users}
}

// Get возвращает книгу
func (l *Ledger) Get(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	item, err := l.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, mapErr(err, "получение книги")
	}
	return item, nil
}

// List возвращает книги по фильтру
func (l *Ledger) List(ctx context.Context, filter store.ItemFilter) ([]*models.Item, error) {
	items, err := l.items.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении списка книг: %w", err)
	}
	return items, nil
}

// Add регистрирует новую книгу владельца со статусом available
func (l *Ledger) Add(ctx context.Context, ownerID uuid.UUID, details Details) (*models.Item, error) {
	details = details.Normalize()
	if err := details.Validate(); err != nil {
		return nil, err
	}

	item := &models.Item{
		ID:          uuid.New(),
		Title:       details.Title,
		Authors:     details.Authors,
		Description: details.Description,
		Publisher:   details.Publisher,
		ImageURL:    details.ImageURL,
		OwnerID:     ownerID,
		Status:      models.ItemAvailable,
	}
	if err := l.items.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("ошибка при создании книги: %w", err)
	}

	// Набор книг владельца обновляется отдельной записью
	if err := l.users.AddOwnedItem(ctx, ownerID, item.ID); err != nil {
		return nil, fmt.Errorf("ошибка при обновлении книг владельца: %w", err)
	}

	logger.Debug().Str("item_id", item.ID.String()).Str("owner_id", ownerID.String()).Msg("книга добавлена")
	return item, nil
}

// UpdateDetails меняет описательные поля книги. Статус и владелец не затрагиваются.
func (l *Ledger) UpdateDetails(ctx context.Context, itemID uuid.UUID, details Details, expect Expect) (*models.Item, error) {
	details = details.Normalize()
	if err := details.Validate(); err != nil {
		return nil, err
	}

	item, err := l.items.UpdateItem(ctx, itemID, func(item *models.Item) error {
		if err := expect.check(item); err != nil {
			return err
		}
		item.Title = details.Title
		item.Authors = details.Authors
		item.Description = details.Description
		item.Publisher = details.Publisher
		item.ImageURL = details.ImageURL
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "обновление книги")
	}
	return item, nil
}

// Remove удаляет книгу. Книгу в процессе обмена удалить нельзя.
func (l *Ledger) Remove(ctx context.Context, itemID uuid.UUID, expect Expect) error {
	var ownerID uuid.UUID
	err := l.items.DeleteItem(ctx, itemID, func(item *models.Item) error {
		if err := expect.check(item); err != nil {
			return err
		}
		if item.Status == models.ItemPending {
			return apperrors.ItemUnavailable()
		}
		ownerID = item.OwnerID
		return nil
	})
	if err != nil {
		return mapErr(err, "удаление книги")
	}

	if err := l.users.RemoveOwnedItem(ctx, ownerID, itemID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("ошибка при обновлении книг владельца: %w", err)
	}
	return nil
}

// SetStatus меняет статус книги при выполнении условий expect.
// Если книга уже в нужном статусе и условия выполнены, запись не производится.
// Любой статус, кроме pending, снимает удержание обменом.
func (l *Ledger) SetStatus(ctx context.Context, itemID uuid.UUID, status models.ItemStatus, expect Expect) (*models.Item, error) {
	if !status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("Недопустимый статус книги: %q", status))
	}

	var current *models.Item
	item, err := l.items.UpdateItem(ctx, itemID, func(item *models.Item) error {
		if err := expect.check(item); err != nil {
			return err
		}
		if item.Status == status {
			current = item
			return errUnchanged
		}
		item.Status = status
		if status != models.ItemPending {
			item.ActiveTradeID = nil
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return current, nil
	}
	if err != nil {
		return nil, mapErr(err, "изменение статуса книги")
	}

	logger.Debug().Str("item_id", itemID.String()).Str("status", string(status)).Msg("статус книги изменен")
	return item, nil
}

// Lock переводит доступную книгу в pending под обменом tradeID.
// Повторный вызов для того же обмена ничего не меняет.
func (l *Ledger) Lock(ctx context.Context, itemID, tradeID uuid.UUID, expect Expect) (*models.Item, error) {
	var current *models.Item
	item, err := l.items.UpdateItem(ctx, itemID, func(item *models.Item) error {
		if item.Status == models.ItemPending && item.ActiveTradeID != nil && *item.ActiveTradeID == tradeID {
			current = item
			return errUnchanged
		}
		if err := expect.check(item); err != nil {
			return err
		}
		if item.Status != models.ItemAvailable {
			return apperrors.PreconditionFailed("Книга уже участвует в обмене").WithErr(ErrPreconditionFailed)
		}
		item.Status = models.ItemPending
		item.ActiveTradeID = &tradeID
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return current, nil
	}
	if err != nil {
		return nil, mapErr(err, "блокировка книги")
	}

	logger.Debug().Str("item_id", itemID.String()).Str("trade_id", tradeID.String()).Msg("книга заблокирована обменом")
	return item, nil
}

// Reassign передает книгу, удерживаемую обменом tradeID, от владельца from к to.
// Повторный вызов после успешной передачи ничего не меняет.
func (l *Ledger) Reassign(ctx context.Context, itemID, tradeID, from, to uuid.UUID) (*models.Item, error) {
	var current *models.Item
	item, err := l.items.UpdateItem(ctx, itemID, func(item *models.Item) error {
		if item.OwnerID == to {
			current = item
			return errUnchanged
		}
		if err := (Expect{Owner: &from, Status: models.ItemPending, Holder: &tradeID}).check(item); err != nil {
			return err
		}
		item.OwnerID = to
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return current, nil
	}
	if err != nil {
		return nil, mapErr(err, "передача книги")
	}

	logger.Info().
		Str("item_id", itemID.String()).
		Str("trade_id", tradeID.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("книга передана новому владельцу")
	return item, nil
}

// mapErr переводит ошибки хранилища в ошибки приложения
func mapErr(err error, op string) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("Книга не найдена").WithErr(err)
	default:
		return fmt.Errorf("ошибка хранилища (%s): %w", op, err)
	}
}
