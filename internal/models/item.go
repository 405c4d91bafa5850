package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus состояние книги в жизненном цикле обмена
type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemPending   ItemStatus = "pending"
	ItemTraded    ItemStatus = "traded"
)

// Valid проверяет, что статус входит в допустимый набор
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemAvailable, ItemPending, ItemTraded:
		return true
	}
	return false
}

// Ограничения на поля книги
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
	MaxPublisherLength   = 100
)

// Item представляет книгу, выставленную на обмен
type Item struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Authors     []string   `json:"authors"`
	Description string     `json:"description,omitempty"`
	Publisher   string     `json:"publisher,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	OwnerID     uuid.UUID  `json:"ownerId"`
	Status      ItemStatus `json:"status"`
	// ActiveTradeID обмен, удерживающий книгу в статусе pending
	ActiveTradeID *uuid.UUID `json:"activeTradeId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	// Дополнительные поля для API
	Owner *UserSummary `json:"owner,omitempty"`
}

// ItemSummary краткое представление книги во вложенных ответах
type ItemSummary struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Authors  []string  `json:"authors"`
	ImageURL string    `json:"imageUrl,omitempty"`
}

// Summary возвращает краткое представление книги
func (i *Item) Summary() *ItemSummary {
	if i == nil {
		return nil
	}
	return &ItemSummary{
		ID:       i.ID,
		Title:    i.Title,
		Authors:  append([]string(nil), i.Authors...),
		ImageURL: i.ImageURL,
	}
}
