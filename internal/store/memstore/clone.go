package memstore

import (
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

func cloneUser(u *models.User) *models.User {
	c := *u
	c.OwnedItems = append([]uuid.UUID(nil), u.OwnedItems...)
	return &c
}

func cloneItem(i *models.Item) *models.Item {
	c := *i
	c.Authors = append([]string(nil), i.Authors...)
	if i.ActiveTradeID != nil {
		id := *i.ActiveTradeID
		c.ActiveTradeID = &id
	}
	c.Owner = nil
	return &c
}

func cloneTrade(t *models.Trade) *models.Trade {
	c := *t
	if t.DecidedAt != nil {
		d := *t.DecidedAt
		c.DecidedAt = &d
	}
	c.From, c.To, c.Item = nil, nil, nil
	return &c
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	if m.ReadAt != nil {
		r := *m.ReadAt
		c.ReadAt = &r
	}
	if m.RelatedItemID != nil {
		id := *m.RelatedItemID
		c.RelatedItemID = &id
	}
	c.Sender, c.Receiver, c.RelatedItem = nil, nil, nil
	return &c
}
