package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/ledger"
	"github.com/rajivgeraev/bookswap-api/internal/logger"
	"github.com/rajivgeraev/bookswap-api/internal/metrics"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

const (
	repairItemReleased    = "item_released"
	repairItemLocked      = "item_locked"
	repairApprovalResumed = "approval_resumed"
)

// SweepReport итог фоновой сверки
type SweepReport struct {
	ItemsChecked     int `json:"itemsChecked"`
	ItemsReleased    int `json:"itemsReleased"`
	ItemsLocked      int `json:"itemsLocked"`
	ApprovalsResumed int `json:"approvalsResumed"`
	Failed           int `json:"failed"`
}

func (r *SweepReport) add(repairs []string) {
	for _, kind := range repairs {
		switch kind {
		case repairItemReleased:
			r.ItemsReleased++
		case repairItemLocked:
			r.ItemsLocked++
		case repairApprovalResumed:
			r.ApprovalsResumed++
		}
	}
}

// ReconcileItem возвращает книгу, предварительно приведя ее статус в соответствие с обменами.
// Исправляются только состояния старше ReconcileGrace, чтобы не мешать операциям в процессе.
func (o *Orchestrator) ReconcileItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	item, _, err := o.reconcile(ctx, itemID)
	return item, err
}

// Sweep сверяет все книги, связанные с незавершенными обменами
func (o *Orchestrator) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	ids := make(map[uuid.UUID]struct{})
	trades, err := o.trades.ListTrades(ctx, store.TradeFilter{Status: models.TradePending})
	if err != nil {
		return report, fmt.Errorf("ошибка при получении незавершенных обменов: %w", err)
	}
	for _, t := range trades {
		ids[t.ItemID] = struct{}{}
	}
	items, err := o.ledger.List(ctx, store.ItemFilter{Status: models.ItemPending})
	if err != nil {
		return report, err
	}
	for _, item := range items {
		ids[item.ID] = struct{}{}
	}

	var errs []error
	for id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.ItemsChecked++
		_, repairs, err := o.reconcile(ctx, id)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindNotFound {
				continue
			}
			report.Failed++
			logger.Warn().Err(err).Str("item_id", id.String()).Msg("не удалось сверить книгу")
			errs = append(errs, err)
			continue
		}
		report.add(repairs)
	}

	logger.Info().
		Int("checked", report.ItemsChecked).
		Int("released", report.ItemsReleased).
		Int("locked", report.ItemsLocked).
		Int("resumed", report.ApprovalsResumed).
		Int("failed", report.Failed).
		Msg("сверка обменов завершена")
	return report, errors.Join(errs...)
}

func (o *Orchestrator) reconcile(ctx context.Context, itemID uuid.UUID) (*models.Item, []string, error) {
	item, err := o.ledger.Get(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	pending, err := o.pendingFor(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}

	now := o.opts.Now()
	settled := func(item *models.Item) bool {
		return now.Sub(item.UpdatedAt) >= o.opts.ReconcileGrace
	}
	var repairs []string

	// Прерванное одобрение: книга уже у автора запроса, а обмен все еще pending
	if settled(item) {
		resumed := false
		for _, t := range pending {
			if t.FromID != item.OwnerID {
				continue
			}
			if _, err := o.completeApproval(ctx, t); err != nil && apperrors.CodeOf(err) != apperrors.CodeInvalidState {
				return nil, repairs, err
			}
			repairs = append(repairs, repairApprovalResumed)
			o.repaired(repairApprovalResumed, item.ID, t.ID)
			resumed = true
		}
		if resumed {
			if item, err = o.ledger.Get(ctx, itemID); err != nil {
				return nil, repairs, err
			}
			if pending, err = o.pendingFor(ctx, itemID); err != nil {
				return nil, repairs, err
			}
		}
	}

	if !settled(item) {
		return item, repairs, nil
	}

	switch item.Status {
	case models.ItemPending:
		if item.ActiveTradeID != nil {
			for _, t := range pending {
				if t.ID == *item.ActiveTradeID {
					return item, repairs, nil
				}
			}
		}
		// Ни один незавершенный обмен книгу не удерживает
		released, err := o.ledger.SetStatus(ctx, item.ID, models.ItemAvailable, ledger.Expect{UpdatedAt: item.UpdatedAt})
		if err != nil {
			if errors.Is(err, ledger.ErrPreconditionFailed) {
				item, err = o.ledger.Get(ctx, itemID)
				return item, repairs, err
			}
			return nil, repairs, err
		}
		repairs = append(repairs, repairItemReleased)
		o.repaired(repairItemReleased, item.ID, uuid.Nil)
		return released, repairs, nil

	case models.ItemAvailable:
		// Прерванное создание: обмен записан, книга не заблокирована.
		// Блокировку получает самый ранний из обменов к текущему владельцу.
		var oldest *models.Trade
		for _, t := range pending {
			if t.ToID == item.OwnerID && now.Sub(t.CreatedAt) >= o.opts.ReconcileGrace {
				oldest = t
			}
		}
		if oldest == nil {
			return item, repairs, nil
		}
		locked, err := o.ledger.Lock(ctx, item.ID, oldest.ID, ledger.Expect{Owner: &item.OwnerID, UpdatedAt: item.UpdatedAt})
		if err != nil {
			if errors.Is(err, ledger.ErrPreconditionFailed) {
				item, err = o.ledger.Get(ctx, itemID)
				return item, repairs, err
			}
			return nil, repairs, err
		}
		repairs = append(repairs, repairItemLocked)
		o.repaired(repairItemLocked, item.ID, oldest.ID)
		return locked, repairs, nil
	}

	return item, repairs, nil
}

func (o *Orchestrator) pendingFor(ctx context.Context, itemID uuid.UUID) ([]*models.Trade, error) {
	trades, err := o.trades.ListTrades(ctx, store.TradeFilter{ItemID: &itemID, Status: models.TradePending})
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении обменов книги: %w", err)
	}
	return trades, nil
}

func (o *Orchestrator) repaired(kind string, itemID, tradeID uuid.UUID) {
	metrics.TradeRepairs.WithLabelValues(kind).Inc()
	evt := logger.Warn().Str("repair", kind).Str("item_id", itemID.String())
	if tradeID != uuid.Nil {
		evt = evt.Str("trade_id", tradeID.String())
	}
	evt.Msg("⚠️ состояние книги исправлено по записи обмена")
}
