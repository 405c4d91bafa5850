// Package memstore хранилище в памяти процесса. Используется в тестах и для локального запуска без базы.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store"
)

// Store реализация store.Store в памяти. Наружу отдаются только копии записей.
type Store struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*models.User
	items    map[uuid.UUID]*models.Item
	trades   map[uuid.UUID]*models.Trade
	messages map[uuid.UUID]*models.Message
	// порядок вставки различает записи с одинаковым временем создания
	seq      map[uuid.UUID]uint64
	next     uint64
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

// New создает пустое хранилище
func New() *Store {
	return &Store{
		users:    make(map[uuid.UUID]*models.User),
		items:    make(map[uuid.UUID]*models.Item),
		trades:   make(map[uuid.UUID]*models.Trade),
		messages: make(map[uuid.UUID]*models.Message),
		seq:      make(map[uuid.UUID]uint64),
		now:      time.Now,
	}
}

// SetClock подменяет источник времени (используется в тестах)
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ---- users ----

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if _, exists := s.users[user.ID]; exists {
		return store.ErrConflict
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(user), nil
}

func (s *Store) UpsertTelegramUser(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, existing := range s.users {
		if existing.TelegramID != 0 && existing.TelegramID == user.TelegramID {
			existing.Username = user.Username
			existing.FirstName = user.FirstName
			existing.LastName = user.LastName
			existing.AvatarURL = user.AvatarURL
			existing.UpdatedAt = now
			return cloneUser(existing), nil
		}
	}

	created := cloneUser(user)
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	s.users[created.ID] = created
	return cloneUser(created), nil
}

func (s *Store) AddOwnedItem(_ context.Context, userID, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if !user.Owns(itemID) {
		user.OwnedItems = append(user.OwnedItems, itemID)
		user.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) RemoveOwnedItem(_ context.Context, userID, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	kept := user.OwnedItems[:0]
	for _, id := range user.OwnedItems {
		if id != itemID {
			kept = append(kept, id)
		}
	}
	if len(kept) != len(user.OwnedItems) {
		user.UpdatedAt = s.now()
	}
	user.OwnedItems = kept
	return nil
}

// ---- items ----

func (s *Store) CreateItem(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if _, exists := s.items[item.ID]; exists {
		return store.ErrConflict
	}
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.ID] = cloneItem(item)
	s.stamp(item.ID)
	return nil
}

func (s *Store) GetItem(_ context.Context, id uuid.UUID) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *Store) UpdateItem(_ context.Context, id uuid.UUID, fn func(item *models.Item) error) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	draft := cloneItem(current)
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.ID = current.ID
	draft.CreatedAt = current.CreatedAt
	draft.UpdatedAt = s.now()
	s.items[id] = draft
	return cloneItem(draft), nil
}

func (s *Store) DeleteItem(_ context.Context, id uuid.UUID, fn func(item *models.Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if fn != nil {
		if err := fn(cloneItem(current)); err != nil {
			return err
		}
	}
	delete(s.items, id)
	return nil
}

func (s *Store) ListItems(_ context.Context, filter store.ItemFilter) ([]*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Item
	for _, item := range s.items {
		if filter.OwnerID != nil && item.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.newer(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

// ---- trades ----

func (s *Store) CreateTrade(_ context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if _, exists := s.trades[trade.ID]; exists {
		return store.ErrConflict
	}
	// Аналог частичного уникального индекса (from_id, item_id) WHERE status = 'pending'
	if trade.Status == models.TradePending {
		for _, other := range s.trades {
			if other.Status == models.TradePending && other.FromID == trade.FromID && other.ItemID == trade.ItemID {
				return store.ErrConflict
			}
		}
	}
	now := s.now()
	trade.CreatedAt = now
	trade.UpdatedAt = now
	s.trades[trade.ID] = cloneTrade(trade)
	s.stamp(trade.ID)
	return nil
}

func (s *Store) GetTrade(_ context.Context, id uuid.UUID) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTrade(trade), nil
}

func (s *Store) UpdateTrade(_ context.Context, id uuid.UUID, fn func(trade *models.Trade) error) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.trades[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	draft := cloneTrade(current)
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.ID = current.ID
	draft.CreatedAt = current.CreatedAt
	draft.UpdatedAt = s.now()
	s.trades[id] = draft
	return cloneTrade(draft), nil
}

func (s *Store) DeleteTrade(_ context.Context, id uuid.UUID, fn func(trade *models.Trade) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.trades[id]
	if !ok {
		return store.ErrNotFound
	}
	if fn != nil {
		if err := fn(cloneTrade(current)); err != nil {
			return err
		}
	}
	delete(s.trades, id)
	return nil
}

func (s *Store) ListTrades(_ context.Context, filter store.TradeFilter) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Trade
	for _, trade := range s.trades {
		if filter.FromID != nil && trade.FromID != *filter.FromID {
			continue
		}
		if filter.ToID != nil && trade.ToID != *filter.ToID {
			continue
		}
		if filter.ItemID != nil && trade.ItemID != *filter.ItemID {
			continue
		}
		if filter.Status != "" && trade.Status != filter.Status {
			continue
		}
		out = append(out, cloneTrade(trade))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.newer(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

// ---- messages ----

func (s *Store) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if _, exists := s.messages[msg.ID]; exists {
		return store.ErrConflict
	}
	if msg.ClientMessageID != "" {
		for _, other := range s.messages {
			if other.SenderID == msg.SenderID && other.ClientMessageID == msg.ClientMessageID {
				return store.ErrConflict
			}
		}
	}
	msg.CreatedAt = s.now()
	s.messages[msg.ID] = cloneMessage(msg)
	s.stamp(msg.ID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s *Store) UpdateMessage(_ context.Context, id uuid.UUID, fn func(msg *models.Message) error) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	draft := cloneMessage(current)
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.ID = current.ID
	draft.CreatedAt = current.CreatedAt
	s.messages[id] = draft
	return cloneMessage(draft), nil
}

func (s *Store) FindMessageByClientID(_ context.Context, senderID uuid.UUID, clientMessageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.SenderID == senderID && msg.ClientMessageID == clientMessageID {
			return cloneMessage(msg), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListConversation(_ context.Context, a, b uuid.UUID) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Message
	for _, msg := range s.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out = append(out, cloneMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.newer(out[j].CreatedAt, out[j].ID, out[i].CreatedAt, out[i].ID)
	})
	return out, nil
}

func (s *Store) ListMessagesInvolving(_ context.Context, userID uuid.UUID) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Message
	for _, msg := range s.messages {
		if msg.SenderID == userID || msg.ReceiverID == userID {
			out = append(out, cloneMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.newer(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func (s *Store) MarkConversationRead(_ context.Context, receiverID, senderID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, msg := range s.messages {
		if msg.ReceiverID == receiverID && msg.SenderID == senderID && !msg.IsRead {
			readAt := at
			msg.IsRead = true
			msg.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnread(_ context.Context, receiverID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, msg := range s.messages {
		if msg.ReceiverID == receiverID && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Store) stamp(id uuid.UUID) {
	s.next++
	s.seq[id] = s.next
}

// newer сообщает, создана ли запись a позже записи b
func (s *Store) newer(aAt time.Time, a uuid.UUID, bAt time.Time, b uuid.UUID) bool {
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return s.seq[a] > s.seq[b]
}

func paginate[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
