// Package trading управляет жизненным циклом запроса на обмен.
//
// Хранилище не поддерживает транзакции между записями, поэтому каждая операция
// выполняется как последовательность идемпотентных шагов. Взаимное исключение
// обеспечивает книга: в статусе pending она удерживается ровно одним обменом
// (ActiveTradeID), и все переходы книги выполняются условной записью.
// Источник истины запись обмена; статус книги сверяется с ней при чтении.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/ledger"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/metrics"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

// CancelPolicy что происходит с записью обмена при отмене
type CancelPolicy string

const (
	// CancelArchive запись остается с итоговым статусом cancelled
	CancelArchive CancelPolicy = "archive"
	// CancelDelete запись удаляется
	CancelDelete CancelPolicy = "delete"
)

// Notifier получатель событий об изменении обменов
type Notifier interface {
	TradeChanged(userID uuid.UUID, trade *models.Trade) bool
}

type noopNotifier struct{}

func (noopNotifier) TradeChanged(uuid.UUID, *models.Trade) bool { return false }

// DefaultReconcileGrace возраст несогласованности, после которого сверка ее исправляет
const DefaultReconcileGrace = 30 * time.Second

// Options параметры оркестратора
type Options struct {
	CancelPolicy     CancelPolicy
	ReconcileGrace   time.Duration
	MessageMaxLength int
	Now              func() time.Time
}

// Orchestrator единственный компонент, меняющий статус книги по причинам обмена
type Orchestrator struct {
	ledger   *ledger.Ledger
	trades   store.Trades
	users    store.Users
	notifier Notifier
	opts     Options
}

// New создает оркестратор обменов
func New(l *ledger.Ledger, trades store.Trades, users store.Users, notifier Notifier, opts Options) *Orchestrator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if opts.CancelPolicy == "" {
		opts.CancelPolicy = CancelArchive
	}
	if opts.ReconcileGrace <= 0 {
		opts.ReconcileGrace = DefaultReconcileGrace
	}
	if opts.MessageMaxLength <= 0 {
		opts.MessageMaxLength = models.MaxTradeMessageLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		ledger:   l,
		trades:   trades,
		users:    users,
		notifier: notifier,
		opts:     opts,
	}
}

// Create создает запрос на обмен и блокирует книгу
func (o *Orchestrator) Create(ctx context.Context, requesterID, itemID uuid.UUID, message string) (trade *models.Trade, err error) {
	defer o.observe("create", &err)

	message = strings.TrimSpace(message)
	if len([]rune(message)) > o.opts.MessageMaxLength {
		return nil, apperrors.Validation(fmt.Sprintf("Сообщение не должно превышать %d символов", o.opts.MessageMaxLength))
	}

	item, err := o.ReconcileItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID == requesterID {
		return nil, apperrors.SelfTrade()
	}
	if item.Status != models.ItemAvailable {
		return nil, apperrors.ItemUnavailable()
	}

	// Книга свободна, но ожидающий обмен этого пользователя еще может существовать,
	// пока сверка не сняла расхождение.
	existing, err := o.trades.ListTrades(ctx, store.TradeFilter{
		FromID: &requesterID,
		ItemID: &itemID,
		Status: models.TradePending,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка при проверке существующих обменов: %w", err)
	}
	if len(existing) > 0 {
		return nil, apperrors.DuplicateRequest()
	}

	// Шаг 1: запись обмена
	trade = &models.Trade{
		ID:      uuid.New(),
		FromID:  requesterID,
		ToID:    item.OwnerID,
		ItemID:  itemID,
		Status:  models.TradePending,
		Message: message,
	}
	if err := o.trades.CreateTrade(ctx, trade); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperrors.DuplicateRequest()
		}
		return nil, fmt.Errorf("ошибка при создании обмена: %w", err)
	}

	// Шаг 2: блокировка книги. Из двух одновременных запросов проходит один.
	if _, err := o.ledger.Lock(ctx, itemID, trade.ID, ledger.Expect{Owner: &item.OwnerID, Status: models.ItemAvailable}); err != nil {
		o.discardTrade(ctx, trade)
		if errors.Is(err, ledger.ErrPreconditionFailed) {
			return nil, apperrors.ItemUnavailable()
		}
		return nil, err
	}

	logger.Info().
		Str("trade_id", trade.ID.String()).
		Str("item_id", itemID.String()).
		Str("from", requesterID.String()).
		Msg("создан запрос на обмен")

	o.populate(ctx, trade)
	o.notifier.TradeChanged(trade.ToID, trade)
	return trade, nil
}

// Approve одобряет обмен и передает книгу запросившему
func (o *Orchestrator) Approve(ctx context.Context, tradeID, actorID uuid.UUID) (trade *models.Trade, err error) {
	defer o.observe("approve", &err)

	trade, err = o.getTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.ToID != actorID {
		return nil, apperrors.Forbidden("Одобрить обмен может только владелец книги")
	}
	if trade.Status != models.TradePending {
		return nil, apperrors.InvalidState("Обмен уже завершен")
	}

	// Шаг 1: книга все еще удерживается этим обменом и принадлежит владельцу
	item, err := o.ledger.Get(ctx, trade.ItemID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, apperrors.Conflict("Книга больше не существует")
		}
		return nil, err
	}
	resumed := item.OwnerID == trade.FromID
	if !resumed && !(item.Status == models.ItemPending && item.OwnerID == trade.ToID && heldBy(item, trade.ID)) {
		return nil, apperrors.Conflict("Книга больше не ожидает этого обмена")
	}

	// Шаг 2: смена владельца
	if _, err := o.ledger.Reassign(ctx, item.ID, trade.ID, trade.ToID, trade.FromID); err != nil {
		if errors.Is(err, ledger.ErrPreconditionFailed) {
			return nil, apperrors.Conflict("Книга больше не ожидает этого обмена")
		}
		return nil, err
	}

	// Шаги 3-5
	trade, err = o.completeApproval(ctx, trade)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("trade_id", trade.ID.String()).
		Str("item_id", trade.ItemID.String()).
		Bool("resumed", resumed).
		Msg("обмен одобрен")

	o.populate(ctx, trade)
	o.notifier.TradeChanged(trade.FromID, trade)
	return trade, nil
}

// completeApproval выполняет шаги одобрения после смены владельца.
// Каждый шаг идемпотентен, ошибки помечаются как повторяемые.
func (o *Orchestrator) completeApproval(ctx context.Context, trade *models.Trade) (*models.Trade, error) {
	// Шаг 3: книга снова доступна, уже у нового владельца
	_, err := o.ledger.SetStatus(ctx, trade.ItemID, models.ItemAvailable, ledger.Expect{Owner: &trade.FromID, Holder: &trade.ID})
	if err != nil {
		if !errors.Is(err, ledger.ErrPreconditionFailed) {
			return nil, o.retryable(trade, "освобождение книги", err)
		}
		item, gerr := o.ledger.Get(ctx, trade.ItemID)
		if gerr != nil {
			return nil, o.retryable(trade, "проверка книги", gerr)
		}
		// Книга уже освобождена этим обменом раньше
		if item.OwnerID != trade.FromID || heldBy(item, trade.ID) {
			return nil, o.retryable(trade, "освобождение книги", err)
		}
	}

	// Шаг 4: наборы книг владельцев
	if err := o.users.RemoveOwnedItem(ctx, trade.ToID, trade.ItemID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, o.retryable(trade, "обновление книг прежнего владельца", err)
	}
	if err := o.users.AddOwnedItem(ctx, trade.FromID, trade.ItemID); err != nil {
		return nil, o.retryable(trade, "обновление книг нового владельца", err)
	}

	// Шаг 5: итоговый статус обмена
	updated, err := o.finish(ctx, trade.ID, models.TradeApproved)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeInvalidState {
			return nil, err
		}
		return nil, o.retryable(trade, "завершение обмена", err)
	}
	return updated, nil
}

// Reject отклоняет обмен. Книга возвращается в доступные у прежнего владельца.
func (o *Orchestrator) Reject(ctx context.Context, tradeID, actorID uuid.UUID) (trade *models.Trade, err error) {
	defer o.observe("reject", &err)

	trade, err = o.getTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.ToID != actorID {
		return nil, apperrors.Forbidden("Отклонить обмен может только владелец книги")
	}
	if trade.Status != models.TradePending {
		return nil, apperrors.InvalidState("Обмен уже завершен")
	}

	if err := o.releaseItem(ctx, trade); err != nil {
		return nil, err
	}
	trade, err = o.finish(ctx, trade.ID, models.TradeRejected)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("trade_id", trade.ID.String()).Msg("обмен отклонен")

	o.populate(ctx, trade)
	o.notifier.TradeChanged(trade.FromID, trade)
	return trade, nil
}

// Cancel отменяет обмен по инициативе запросившего
func (o *Orchestrator) Cancel(ctx context.Context, tradeID, actorID uuid.UUID) (trade *models.Trade, err error) {
	defer o.observe("cancel", &err)

	trade, err = o.getTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.FromID != actorID {
		return nil, apperrors.Forbidden("Отменить обмен может только автор запроса")
	}
	if trade.Status != models.TradePending {
		return nil, apperrors.InvalidState("Обмен уже завершен")
	}

	if err := o.releaseItem(ctx, trade); err != nil {
		return nil, err
	}

	switch o.opts.CancelPolicy {
	case CancelDelete:
		err = o.trades.DeleteTrade(ctx, trade.ID, requirePending)
		if err != nil {
			return nil, o.mapTradeErr(err, "удаление обмена")
		}
		trade.Status = models.TradeCancelled
		now := o.opts.Now()
		trade.DecidedAt = &now
	default:
		trade, err = o.finish(ctx, trade.ID, models.TradeCancelled)
		if err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("trade_id", trade.ID.String()).
		Str("policy", string(o.opts.CancelPolicy)).
		Msg("обмен отменен")

	o.populate(ctx, trade)
	o.notifier.TradeChanged(trade.ToID, trade)
	return trade, nil
}

// releaseItem возвращает книгу, удерживаемую обменом, прежнему владельцу в доступные.
// Если книга уже не удерживается этим обменом и не передана по нему, шаг считается выполненным.
func (o *Orchestrator) releaseItem(ctx context.Context, trade *models.Trade) error {
	_, err := o.ledger.SetStatus(ctx, trade.ItemID, models.ItemAvailable, ledger.Expect{
		Owner:  &trade.ToID,
		Status: models.ItemPending,
		Holder: &trade.ID,
	})
	if err == nil {
		return nil
	}
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return nil
	}
	if !errors.Is(err, ledger.ErrPreconditionFailed) {
		return err
	}

	item, gerr := o.ledger.Get(ctx, trade.ItemID)
	if gerr != nil {
		if apperrors.KindOf(gerr) == apperrors.KindNotFound {
			return nil
		}
		return gerr
	}
	// Книга удерживается этим обменом, но уже передана: идет одобрение
	if heldBy(item, trade.ID) || item.OwnerID == trade.FromID {
		return apperrors.Conflict("Обмен уже обрабатывается")
	}
	return nil
}

// finish переводит обмен из pending в итоговый статус
func (o *Orchestrator) finish(ctx context.Context, tradeID uuid.UUID, status models.TradeStatus) (*models.Trade, error) {
	now := o.opts.Now()
	trade, err := o.trades.UpdateTrade(ctx, tradeID, func(t *models.Trade) error {
		if err := requirePending(t); err != nil {
			return err
		}
		t.Status = status
		t.DecidedAt = &now
		return nil
	})
	if err != nil {
		return nil, o.mapTradeErr(err, "завершение обмена")
	}
	return trade, nil
}

// discardTrade компенсирует создание обмена, если книгу заблокировать не удалось
func (o *Orchestrator) discardTrade(ctx context.Context, trade *models.Trade) {
	ctx = context.WithoutCancel(ctx)
	if err := o.trades.DeleteTrade(ctx, trade.ID, requirePending); err != nil && !errors.Is(err, store.ErrNotFound) {
		// Запись останется pending; сверка заблокирует книгу или ее отменит пользователь
		logger.Warn().Err(err).Str("trade_id", trade.ID.String()).Msg("не удалось удалить обмен после неудачной блокировки книги")
	}
}

// Get возвращает обмен его участнику
func (o *Orchestrator) Get(ctx context.Context, tradeID, viewerID uuid.UUID) (*models.Trade, error) {
	trade, err := o.getTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.Involves(viewerID) {
		return nil, apperrors.Forbidden("Нет доступа к этому обмену")
	}
	o.populate(ctx, trade)
	return trade, nil
}

// Incoming возвращает запросы на книги пользователя, новые первыми
func (o *Orchestrator) Incoming(ctx context.Context, userID uuid.UUID, status models.TradeStatus) ([]*models.Trade, error) {
	return o.list(ctx, store.TradeFilter{ToID: &userID, Status: status})
}

// Outgoing возвращает запросы пользователя, новые первыми
func (o *Orchestrator) Outgoing(ctx context.Context, userID uuid.UUID, status models.TradeStatus) ([]*models.Trade, error) {
	return o.list(ctx, store.TradeFilter{FromID: &userID, Status: status})
}

func (o *Orchestrator) list(ctx context.Context, filter store.TradeFilter) ([]*models.Trade, error) {
	trades, err := o.trades.ListTrades(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении списка обменов: %w", err)
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	o.populate(ctx, trades...)
	return trades, nil
}

func (o *Orchestrator) getTrade(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	trade, err := o.trades.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, o.mapTradeErr(err, "получение обмена")
	}
	return trade, nil
}

func (o *Orchestrator) mapTradeErr(err error, op string) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("Обмен не найден").WithErr(err)
	default:
		return fmt.Errorf("ошибка хранилища (%s): %w", op, err)
	}
}

func (o *Orchestrator) retryable(trade *models.Trade, step string, err error) error {
	logger.Error().
		Err(err).
		Str("trade_id", trade.ID.String()).
		Str("step", step).
		Msg("одобрение обмена прервано, требуется повтор")
	return apperrors.Retryable(fmt.Errorf("%s: %w", step, err))
}

// populate заполняет краткие сведения об участниках и книге. Ошибки не критичны.
func (o *Orchestrator) populate(ctx context.Context, trades ...*models.Trade) {
	users := make(map[uuid.UUID]*models.UserSummary)
	items := make(map[uuid.UUID]*models.ItemSummary)

	user := func(id uuid.UUID) *models.UserSummary {
		if s, ok := users[id]; ok {
			return s
		}
		u, err := o.users.GetUser(ctx, id)
		if err != nil {
			logger.Debug().Err(err).Str("user_id", id.String()).Msg("не удалось загрузить пользователя")
		}
		users[id] = u.Summary()
		return users[id]
	}
	item := func(id uuid.UUID) *models.ItemSummary {
		if s, ok := items[id]; ok {
			return s
		}
		it, err := o.ledger.Get(ctx, id)
		if err != nil {
			logger.Debug().Err(err).Str("item_id", id.String()).Msg("не удалось загрузить книгу")
		}
		items[id] = it.Summary()
		return items[id]
	}

	for _, t := range trades {
		t.From = user(t.FromID)
		t.To = user(t.ToID)
		t.Item = item(t.ItemID)
	}
}

func (o *Orchestrator) observe(op string, err *error) {
	result := "ok"
	if *err != nil {
		result = apperrors.From(*err).Code
	}
	metrics.TradeOutcomes.WithLabelValues(op, result).Inc()
}

func requirePending(t *models.Trade) error {
	if t.Status != models.TradePending {
		return apperrors.InvalidState("Обмен уже завершен")
	}
	return nil
}

func heldBy(item *models.Item, tradeID uuid.UUID) bool {
	return item.ActiveTradeID != nil && *item.ActiveTradeID == tradeID
}
