package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store/memstore"
)

func newLedger(t *testing.T) (*Ledger, *memstore.Store, *models.User) {
	t.Helper()
	s := memstore.New()
	owner := &models.User{Username: "owner"}
	require.NoError(t, s.CreateUser(context.Background(), owner))
	return New(s, s), s, owner
}

func dune() Details {
	return Details{Title: "  Dune ", Authors: []string{"Frank Herbert", " "}}
}

func TestAddRegistersItemWithOwner(t *testing.T) {
	ctx := context.Background()
	l, s, owner := newLedger(t)

	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)
	assert.Equal(t, "Dune", item.Title)
	assert.Equal(t, []string{"Frank Herbert"}, item.Authors)
	assert.Equal(t, models.ItemAvailable, item.Status)
	assert.Equal(t, owner.ID, item.OwnerID)

	u, err := s.GetUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, u.Owns(item.ID))
}

func TestAddValidatesDetails(t *testing.T) {
	l, _, owner := newLedger(t)

	cases := map[string]Details{
		"empty title":      {Title: " ", Authors: []string{"A"}},
		"long title":       {Title: strings.Repeat("я", models.MaxTitleLength+1), Authors: []string{"A"}},
		"no authors":       {Title: "T"},
		"long description": {Title: "T", Authors: []string{"A"}, Description: strings.Repeat("x", models.MaxDescriptionLength+1)},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Add(context.Background(), owner.ID, d)
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		})
	}
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	l, _, owner := newLedger(t)
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)

	_, err = l.SetStatus(ctx, item.ID, models.ItemStatus("lost"), Expect{})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestSetStatusChecksExpectations(t *testing.T) {
	ctx := context.Background()
	l, _, owner := newLedger(t)
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)

	_, err = l.SetStatus(ctx, item.ID, models.ItemPending, OwnedBy(uuid.New()))
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = l.SetStatus(ctx, item.ID, models.ItemPending, Expect{Status: models.ItemPending})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	updated, err := l.SetStatus(ctx, item.ID, models.ItemPending, Expect{Owner: &owner.ID, Status: models.ItemAvailable})
	require.NoError(t, err)
	assert.Equal(t, models.ItemPending, updated.Status)

	// статус available больше не ожидается, значение не меняется
	_, err = l.SetStatus(ctx, item.ID, models.ItemPending, Expect{Status: models.ItemAvailable})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestSetStatusSameValueIsNoop(t *testing.T) {
	ctx := context.Background()
	l, _, owner := newLedger(t)
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)

	again, err := l.SetStatus(ctx, item.ID, models.ItemAvailable, OwnedBy(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, item.UpdatedAt, again.UpdatedAt)
}

func TestSetStatusMissingItem(t *testing.T) {
	l, _, _ := newLedger(t)

	_, err := l.SetStatus(context.Background(), uuid.New(), models.ItemPending, Expect{})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestLockHoldsItemForTrade(t *testing.T) {
	ctx := context.Background()
	l, _, owner := newLedger(t)
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)
	tradeID, otherTrade := uuid.New(), uuid.New()

	locked, err := l.Lock(ctx, item.ID, tradeID, OwnedBy(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, models.ItemPending, locked.Status)
	require.NotNil(t, locked.ActiveTradeID)
	assert.Equal(t, tradeID, *locked.ActiveTradeID)

	again, err := l.Lock(ctx, item.ID, tradeID, OwnedBy(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, locked.UpdatedAt, again.UpdatedAt)

	_, err = l.Lock(ctx, item.ID, otherTrade, OwnedBy(owner.ID))
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	// снятие удержания требует того же обмена
	_, err = l.SetStatus(ctx, item.ID, models.ItemAvailable, Expect{Holder: &otherTrade})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	released, err := l.SetStatus(ctx, item.ID, models.ItemAvailable, Expect{Holder: &tradeID})
	require.NoError(t, err)
	assert.Nil(t, released.ActiveTradeID)
}

func TestExpectUpdatedAtDetectsConcurrentChange(t *testing.T) {
	ctx := context.Background()
	l, s, owner := newLedger(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)
	seen := item.UpdatedAt

	_, err = l.UpdateDetails(ctx, item.ID, Details{Title: "Dune 2", Authors: []string{"F. H."}}, Expect{})
	require.NoError(t, err)

	_, err = l.SetStatus(ctx, item.ID, models.ItemPending, Expect{UpdatedAt: seen})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestReassignIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, _, owner := newLedger(t)
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)
	newOwner, tradeID := uuid.New(), uuid.New()

	// книга не в обмене
	_, err = l.Reassign(ctx, item.ID, tradeID, owner.ID, newOwner)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = l.Lock(ctx, item.ID, tradeID, OwnedBy(owner.ID))
	require.NoError(t, err)

	// чужой обмен книгу не получает
	_, err = l.Reassign(ctx, item.ID, uuid.New(), owner.ID, newOwner)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	moved, err := l.Reassign(ctx, item.ID, tradeID, owner.ID, newOwner)
	require.NoError(t, err)
	assert.Equal(t, newOwner, moved.OwnerID)

	again, err := l.Reassign(ctx, item.ID, tradeID, owner.ID, newOwner)
	require.NoError(t, err)
	assert.Equal(t, newOwner, again.OwnerID)
	assert.Equal(t, moved.UpdatedAt, again.UpdatedAt)
}

func TestUpdateDetailsKeepsStatusAndOwner(t *testing.T) {
	ctx := context.Background()
	l, _, owner := newLedger(t)
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)
	_, err = l.SetStatus(ctx, item.ID, models.ItemPending, OwnedBy(owner.ID))
	require.NoError(t, err)

	updated, err := l.UpdateDetails(ctx, item.ID, Details{Title: "Dune Messiah", Authors: []string{"Frank Herbert"}}, OwnedBy(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, models.ItemPending, updated.Status)
	assert.Equal(t, owner.ID, updated.OwnerID)

	_, err = l.UpdateDetails(ctx, item.ID, dune(), OwnedBy(uuid.New()))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	l, s, owner := newLedger(t)
	item, err := l.Add(ctx, owner.ID, dune())
	require.NoError(t, err)

	_, err = l.SetStatus(ctx, item.ID, models.ItemPending, OwnedBy(owner.ID))
	require.NoError(t, err)
	err = l.Remove(ctx, item.ID, OwnedBy(owner.ID))
	assert.Equal(t, apperrors.CodeItemUnavailable, apperrors.CodeOf(err))

	_, err = l.SetStatus(ctx, item.ID, models.ItemAvailable, OwnedBy(owner.ID))
	require.NoError(t, err)
	require.NoError(t, l.Remove(ctx, item.ID, OwnedBy(owner.ID)))

	_, err = l.Get(ctx, item.ID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	u, err := s.GetUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.False(t, u.Owns(item.ID))
}
