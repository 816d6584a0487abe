package repository

import (
	"context"
	"errors"
	"fmt"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"gorm.io/gorm"
)

// ErrPoolExhausted is returned when a proxy has no unclaimed backing item left.
var ErrPoolExhausted = errors.New("proxy unfold pool exhausted")

type ItemRepository interface {
	FindByIDs(ctx context.Context, ids []uint64) ([]model.Item, error)
	FindByID(ctx context.Context, id uint64) (*model.Item, error)
	AssignToUser(ctx context.Context, userID, orderID uint64, itemIDs []uint64) error
	ClaimProxyUnfold(ctx context.Context, proxyItemID, orderID uint64) (uint64, error)
}

type itemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) FindByIDs(ctx context.Context, ids []uint64) ([]model.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []model.Item
	if err := store.Conn(ctx, r.db).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *itemRepository) FindByID(ctx context.Context, id uint64) (*model.Item, error) {
	var it model.Item
	if err := store.Conn(ctx, r.db).First(&it, id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *itemRepository) AssignToUser(ctx context.Context, userID, orderID uint64, itemIDs []uint64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	rows := make([]model.UserItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		rows = append(rows, model.UserItem{UserID: userID, ItemID: id, OrderID: orderID})
	}
	return store.Conn(ctx, r.db).Create(&rows).Error
}

// ClaimProxyUnfold claims the lowest unclaimed backing item of proxyItemID for
// orderID. Callers hold the proxy_unfolds table lock; the guarded update keeps
// a claim single even without it.
func (r *itemRepository) ClaimProxyUnfold(ctx context.Context, proxyItemID, orderID uint64) (uint64, error) {
	tx := store.Conn(ctx, r.db)
	for attempt := 0; attempt < 5; attempt++ {
		var pu model.ProxyUnfold
		err := tx.Where("proxy_item_id = ? AND claimed = ?", proxyItemID, false).
			Order("id ASC").
			First(&pu).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("proxy item %d: %w", proxyItemID, ErrPoolExhausted)
		}
		if err != nil {
			return 0, err
		}

		res := tx.Model(&model.ProxyUnfold{}).
			Where("id = ? AND claimed = ?", pu.ID, false).
			Updates(map[string]any{"claimed": true, "claimed_for_order": orderID})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return pu.UnfoldItemID, nil
		}
	}
	return 0, fmt.Errorf("proxy item %d: claim kept losing to concurrent unfolds", proxyItemID)
}
