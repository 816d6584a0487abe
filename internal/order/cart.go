package order

import (
	"context"
	"errors"

	"nftstore/internal/apperr"
	"nftstore/internal/model"

	"gorm.io/gorm"
)

// AddToCart puts itemID in the user's cart. A cart already bound to an order
// keeps that binding; the next payment attempt has to recreate the order to
// pick the change up.
func (m *Manager) AddToCart(ctx context.Context, userID uint64, sessionKey string, itemID uint64) error {
	if _, err := m.items.FindByID(ctx, itemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "item %d not found", itemID)
		}
		return err
	}
	cs, err := m.carts.EnsureUserSession(ctx, userID, sessionKey)
	if err != nil {
		return err
	}
	return m.carts.AddItem(ctx, cs.ID, itemID)
}

func (m *Manager) RemoveFromCart(ctx context.Context, userID uint64, itemID uint64) error {
	cs, err := m.carts.FindUserSession(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.carts.RemoveItem(ctx, cs.ID, itemID)
}

// ListCart returns the items in the user's cart, empty when there is none.
func (m *Manager) ListCart(ctx context.Context, userID uint64) ([]model.Item, error) {
	cs, err := m.carts.FindUserSession(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []model.Item{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids, err := m.carts.ItemIDs(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	items, err := m.items.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}
