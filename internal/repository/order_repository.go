package repository

import (
	"context"
	"time"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"gorm.io/gorm"
)

type OrderRepository interface {
	LockUser(ctx context.Context, userID uint64) error
	Create(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id uint64) (*model.Order, error)
	ItemIDs(ctx context.Context, orderID uint64) ([]uint64, error)
	CopyCartItems(ctx context.Context, orderID, cartSessionID uint64) (int64, error)
	SetExpiry(ctx context.Context, orderID uint64, expiresAt time.Time) error
	MarkFinalized(ctx context.Context, orderID uint64, at time.Time) (int64, error)
	ListPaidUnfinalized(ctx context.Context, paidBefore time.Time, limit int) ([]uint64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// LockUser takes the user's row lock for the rest of the transaction in ctx.
func (r *orderRepository) LockUser(ctx context.Context, userID uint64) error {
	var u model.User
	return store.ForUpdate(store.Conn(ctx, r.db)).
		Select("id").
		First(&u, userID).Error
}

func (r *orderRepository) Create(ctx context.Context, o *model.Order) error {
	return store.Conn(ctx, r.db).Create(o).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id uint64) (*model.Order, error) {
	var o model.Order
	if err := store.Conn(ctx, r.db).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) ItemIDs(ctx context.Context, orderID uint64) ([]uint64, error) {
	var ids []uint64
	if err := store.Conn(ctx, r.db).
		Model(&model.OrderItem{}).
		Where("order_id = ?", orderID).
		Order("item_id ASC").
		Pluck("item_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *orderRepository) CopyCartItems(ctx context.Context, orderID, cartSessionID uint64) (int64, error) {
	res := store.Conn(ctx, r.db).Exec(
		`INSERT INTO order_items (order_id, item_id)
SELECT ?, item_id FROM cart_items WHERE cart_session_id = ?`,
		orderID, cartSessionID,
	)
	return res.RowsAffected, res.Error
}

func (r *orderRepository) SetExpiry(ctx context.Context, orderID uint64, expiresAt time.Time) error {
	return store.Conn(ctx, r.db).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("expires_at", expiresAt).Error
}

// MarkFinalized sets finalized_at once. Zero rows affected means another
// caller finalized the order first.
func (r *orderRepository) MarkFinalized(ctx context.Context, orderID uint64, at time.Time) (int64, error) {
	res := store.Conn(ctx, r.db).
		Model(&model.Order{}).
		Where("id = ? AND finalized_at IS NULL", orderID).
		Update("finalized_at", at)
	return res.RowsAffected, res.Error
}

// ListPaidUnfinalized returns orders holding a succeeded payment that were
// never finalized, e.g. because the process died before checkout ran.
func (r *orderRepository) ListPaidUnfinalized(ctx context.Context, paidBefore time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	if err := store.Conn(ctx, r.db).
		Table("orders").
		Joins("JOIN payments ON payments.order_id = orders.id").
		Where("orders.finalized_at IS NULL").
		Where("payments.status = ? AND payments.updated_at <= ?", model.PaymentSucceeded, paidBefore).
		Distinct().
		Order("orders.id ASC").
		Limit(limit).
		Pluck("orders.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
