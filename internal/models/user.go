package models

import (
	"time"

	"github.com/google/uuid"
)

// User представляет участника обмена
type User struct {
	ID         uuid.UUID   `json:"id"`
	Username   string      `json:"username,omitempty"`
	FirstName  string      `json:"firstName,omitempty"`
	LastName   string      `json:"lastName,omitempty"`
	AvatarURL  string      `json:"avatarUrl,omitempty"`
	City       string      `json:"city,omitempty"`
	TelegramID int64       `json:"-"`
	OwnedItems []uuid.UUID `json:"ownedItems"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// UserSummary представляет минимальную информацию о пользователе для API
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
}

// Summary возвращает краткое представление пользователя
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
	}
}

// Owns сообщает, числится ли книга во владении пользователя
func (u *User) Owns(itemID uuid.UUID) bool {
	for _, id := range u.OwnedItems {
		if id == itemID {
			return true
		}
	}
	return false
}
