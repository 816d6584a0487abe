package repository

import (
	"context"
	"time"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"gorm.io/gorm"
)

type DeliveryRepository interface {
	CreateBatch(ctx context.Context, rows []model.OrderDelivery) error
	ListByOrder(ctx context.Context, orderID uint64) ([]model.OrderDelivery, error)
	ListUnsent(ctx context.Context, orderID uint64) ([]model.OrderDelivery, error)
	SetOperationID(ctx context.Context, id uint64, opID string) error
	ClaimForTransfer(ctx context.Context, id uint64, at time.Time) (bool, error)
	ReleaseAttempt(ctx context.Context, ids []uint64) error
	OrdersWithUnsent(ctx context.Context, createdBefore time.Time, limit int) ([]uint64, error)
}

type deliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) CreateBatch(ctx context.Context, rows []model.OrderDelivery) error {
	if len(rows) == 0 {
		return nil
	}
	return store.Conn(ctx, r.db).Create(&rows).Error
}

func (r *deliveryRepository) ListByOrder(ctx context.Context, orderID uint64) ([]model.OrderDelivery, error) {
	var list []model.OrderDelivery
	if err := store.Conn(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("order_item_id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListUnsent returns the rows whose transfer was never requested, or was
// refused by the settlement service.
func (r *deliveryRepository) ListUnsent(ctx context.Context, orderID uint64) ([]model.OrderDelivery, error) {
	var list []model.OrderDelivery
	if err := store.Conn(ctx, r.db).
		Where("order_id = ? AND transfer_operation_id IS NULL AND transfer_attempted_at IS NULL", orderID).
		Order("order_item_id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *deliveryRepository) SetOperationID(ctx context.Context, id uint64, opID string) error {
	return store.Conn(ctx, r.db).
		Model(&model.OrderDelivery{}).
		Where("id = ? AND transfer_operation_id IS NULL", id).
		Update("transfer_operation_id", opID).Error
}

// ClaimForTransfer marks row id as being transferred. It reports false when
// the row was already sent or claimed by someone else.
func (r *deliveryRepository) ClaimForTransfer(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res := store.Conn(ctx, r.db).
		Model(&model.OrderDelivery{}).
		Where("id = ? AND transfer_operation_id IS NULL AND transfer_attempted_at IS NULL", id).
		Update("transfer_attempted_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseAttempt makes rows that never got an operation id eligible for
// transfer again.
func (r *deliveryRepository) ReleaseAttempt(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return store.Conn(ctx, r.db).
		Model(&model.OrderDelivery{}).
		Where("id IN ? AND transfer_operation_id IS NULL", ids).
		Update("transfer_attempted_at", nil).Error
}

func (r *deliveryRepository) OrdersWithUnsent(ctx context.Context, createdBefore time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	if err := store.Conn(ctx, r.db).
		Model(&model.OrderDelivery{}).
		Where("transfer_operation_id IS NULL AND transfer_attempted_at IS NULL AND created_at <= ?", createdBefore).
		Distinct().
		Order("order_id ASC").
		Limit(limit).
		Pluck("order_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
