package repository

import (
	"context"
	"errors"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CartRepository interface {
	EnsureUserSession(ctx context.Context, userID uint64, sessionKey string) (*model.CartSession, error)
	FindUserSession(ctx context.Context, userID uint64) (*model.CartSession, error)
	AddItem(ctx context.Context, sessionID, itemID uint64) error
	RemoveItem(ctx context.Context, sessionID, itemID uint64) error
	ItemIDs(ctx context.Context, sessionID uint64) ([]uint64, error)
	BindOrder(ctx context.Context, sessionID, orderID uint64) error
	DropByOrderID(ctx context.Context, orderID uint64) (int64, error)
}

type cartRepository struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

// EnsureUserSession returns the user's cart. A cart started anonymously under
// sessionKey is adopted; a key that already belongs to someone else is not.
func (r *cartRepository) EnsureUserSession(ctx context.Context, userID uint64, sessionKey string) (*model.CartSession, error) {
	var out *model.CartSession
	err := store.WithTx(ctx, r.db, func(ctx context.Context) error {
		cs, err := r.FindUserSession(ctx, userID)
		if err == nil {
			out = cs
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		tx := store.Conn(ctx, r.db)
		if sessionKey != "" {
			var anon model.CartSession
			err := tx.Where("session_key = ?", sessionKey).First(&anon).Error
			switch {
			case err == nil && anon.UserID == nil:
				res := tx.Model(&model.CartSession{}).
					Where("id = ? AND user_id IS NULL", anon.ID).
					Update("user_id", userID)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 1 {
					anon.UserID = &userID
					out = &anon
					return nil
				}
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			case errors.Is(err, gorm.ErrRecordNotFound):
				cs := &model.CartSession{SessionKey: sessionKey, UserID: &userID}
				if err := tx.Create(cs).Error; err != nil {
					return err
				}
				out = cs
				return nil
			}
		}

		cs = &model.CartSession{SessionKey: uuid.NewString(), UserID: &userID}
		if err := tx.Create(cs).Error; err != nil {
			return err
		}
		out = cs
		return nil
	})
	return out, err
}

func (r *cartRepository) FindUserSession(ctx context.Context, userID uint64) (*model.CartSession, error) {
	var cs model.CartSession
	if err := store.Conn(ctx, r.db).
		Where("user_id = ?", userID).
		First(&cs).Error; err != nil {
		return nil, err
	}
	return &cs, nil
}

func (r *cartRepository) AddItem(ctx context.Context, sessionID, itemID uint64) error {
	return store.Conn(ctx, r.db).
		Where(model.CartItem{CartSessionID: sessionID, ItemID: itemID}).
		FirstOrCreate(&model.CartItem{CartSessionID: sessionID, ItemID: itemID}).Error
}

func (r *cartRepository) RemoveItem(ctx context.Context, sessionID, itemID uint64) error {
	return store.Conn(ctx, r.db).
		Where("cart_session_id = ? AND item_id = ?", sessionID, itemID).
		Delete(&model.CartItem{}).Error
}

func (r *cartRepository) ItemIDs(ctx context.Context, sessionID uint64) ([]uint64, error) {
	var ids []uint64
	if err := store.Conn(ctx, r.db).
		Model(&model.CartItem{}).
		Where("cart_session_id = ?", sessionID).
		Order("item_id ASC").
		Pluck("item_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *cartRepository) BindOrder(ctx context.Context, sessionID, orderID uint64) error {
	return store.Conn(ctx, r.db).
		Model(&model.CartSession{}).
		Where("id = ?", sessionID).
		Update("order_id", orderID).Error
}

// DropByOrderID deletes the cart bound to orderID together with its lines.
// The user starts with a fresh cart afterwards.
func (r *cartRepository) DropByOrderID(ctx context.Context, orderID uint64) (int64, error) {
	var dropped int64
	err := store.WithTx(ctx, r.db, func(ctx context.Context) error {
		tx := store.Conn(ctx, r.db)
		var ids []uint64
		if err := tx.Model(&model.CartSession{}).
			Where("order_id = ?", orderID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("cart_session_id IN ?", ids).Delete(&model.CartItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.CartSession{})
		if res.Error != nil {
			return res.Error
		}
		dropped = res.RowsAffected
		return nil
	})
	return dropped, err
}
