package repository

import (
	"context"
	"errors"
	"time"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"gorm.io/gorm"
)

// ExpiredPayment identifies an open payment of an order past its expiry.
type ExpiredPayment struct {
	OrderID  uint64
	Provider model.PaymentProvider
}

type PaymentRepository interface {
	Create(ctx context.Context, p *model.Payment) error
	FindByPaymentID(ctx context.Context, paymentID string) (*model.Payment, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error)
	LockStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error)
	UpdateStatusIfOpen(ctx context.Context, paymentID string, status model.PaymentStatus) (int64, error)
	CancelOpen(ctx context.Context, orderID uint64, provider model.PaymentProvider, status model.PaymentStatus) (ref string, ok bool, err error)
	HasOpen(ctx context.Context, orderID uint64, provider model.PaymentProvider) (bool, error)
	OpenProviders(ctx context.Context, orderID uint64) ([]model.PaymentProvider, error)
	CountOpenDuplicates(ctx context.Context, orderID uint64) (int64, error)
	ListByOrder(ctx context.Context, orderID uint64) ([]model.Payment, error)
	ListExpired(ctx context.Context, now time.Time) ([]ExpiredPayment, error)
	ListPending(ctx context.Context, provider model.PaymentProvider) ([]model.Payment, error)
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, p *model.Payment) error {
	return store.Conn(ctx, r.db).Create(p).Error
}

func (r *paymentRepository) FindByPaymentID(ctx context.Context, paymentID string) (*model.Payment, error) {
	var p model.Payment
	if err := store.Conn(ctx, r.db).
		Where("payment_id = ?", paymentID).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	var p model.Payment
	if err := store.Conn(ctx, r.db).
		Where("external_payment_id = ?", externalID).
		Order("id DESC").
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// LockStatus reads the status and holds the row lock until the transaction in ctx ends.
func (r *paymentRepository) LockStatus(ctx context.Context, paymentID string) (model.PaymentStatus, error) {
	var p model.Payment
	if err := store.ForUpdate(store.Conn(ctx, r.db)).
		Select("id", "status").
		Where("payment_id = ?", paymentID).
		First(&p).Error; err != nil {
		return "", err
	}
	return p.Status, nil
}

func (r *paymentRepository) UpdateStatusIfOpen(ctx context.Context, paymentID string, status model.PaymentStatus) (int64, error) {
	res := store.Conn(ctx, r.db).
		Model(&model.Payment{}).
		Where("payment_id = ? AND status NOT IN ?", paymentID, model.FinalPaymentStatuses).
		Update("status", status)
	return res.RowsAffected, res.Error
}

// CancelOpen moves the open payment of (orderID, provider) to status and
// returns the reference the provider knows it by. ok is false when there was
// nothing left to cancel.
func (r *paymentRepository) CancelOpen(ctx context.Context, orderID uint64, provider model.PaymentProvider, status model.PaymentStatus) (string, bool, error) {
	var ref string
	var ok bool
	err := store.WithTx(ctx, r.db, func(ctx context.Context) error {
		tx := store.Conn(ctx, r.db)
		var p model.Payment
		err := store.ForUpdate(tx).
			Where("order_id = ? AND provider = ? AND status NOT IN ?", orderID, provider, model.FinalPaymentStatuses).
			Order("id DESC").
			First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Model(&model.Payment{}).
			Where("id = ? AND status NOT IN ?", p.ID, model.FinalPaymentStatuses).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			ref, ok = p.ProviderRef(), true
		}
		return nil
	})
	return ref, ok, err
}

func (r *paymentRepository) HasOpen(ctx context.Context, orderID uint64, provider model.PaymentProvider) (bool, error) {
	var n int64
	if err := store.Conn(ctx, r.db).
		Model(&model.Payment{}).
		Where("order_id = ? AND provider = ? AND status NOT IN ?", orderID, provider, model.FinalPaymentStatuses).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *paymentRepository) OpenProviders(ctx context.Context, orderID uint64) ([]model.PaymentProvider, error) {
	var out []model.PaymentProvider
	if err := store.Conn(ctx, r.db).
		Model(&model.Payment{}).
		Where("order_id = ? AND status NOT IN ?", orderID, model.FinalPaymentStatuses).
		Distinct().
		Order("provider").
		Pluck("provider", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountOpenDuplicates counts providers of orderID holding more than one open payment.
func (r *paymentRepository) CountOpenDuplicates(ctx context.Context, orderID uint64) (int64, error) {
	var groups []struct {
		Provider model.PaymentProvider
		N        int64
	}
	if err := store.Conn(ctx, r.db).
		Model(&model.Payment{}).
		Select("provider, COUNT(1) AS n").
		Where("order_id = ? AND status NOT IN ?", orderID, model.FinalPaymentStatuses).
		Group("provider").
		Having("COUNT(1) > 1").
		Scan(&groups).Error; err != nil {
		return 0, err
	}
	return int64(len(groups)), nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID uint64) ([]model.Payment, error) {
	var list []model.Payment
	if err := store.Conn(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *paymentRepository) ListExpired(ctx context.Context, now time.Time) ([]ExpiredPayment, error) {
	var out []ExpiredPayment
	if err := store.Conn(ctx, r.db).
		Table("orders").
		Select("DISTINCT orders.id AS order_id, payments.provider AS provider").
		Joins("JOIN payments ON payments.order_id = orders.id").
		Where("orders.expires_at <= ?", now).
		Where("payments.status IN ?", []model.PaymentStatus{model.PaymentCreated, model.PaymentPromised, model.PaymentFailed}).
		Order("orders.id ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *paymentRepository) ListPending(ctx context.Context, provider model.PaymentProvider) ([]model.Payment, error) {
	var list []model.Payment
	if err := store.Conn(ctx, r.db).
		Where("provider = ? AND status IN ?", provider, []model.PaymentStatus{model.PaymentCreated, model.PaymentPromised}).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
