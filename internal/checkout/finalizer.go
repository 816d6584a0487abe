// Package checkout hands paid orders over to their buyer.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nftstore/internal/delivery"
	"nftstore/internal/model"
	"nftstore/internal/order"
	"nftstore/internal/repository"
	"nftstore/internal/store"

	"gorm.io/gorm"
)

type Finalizer struct {
	db         *gorm.DB
	orders     *order.Manager
	orderRepo  repository.OrderRepository
	users      repository.UserRepository
	items      repository.ItemRepository
	deliveries repository.DeliveryRepository
	delivery   delivery.Service
	now        func() time.Time
	whitelist  bool
}

type Option func(*Finalizer)

// WithAddressWhitelist counts every finalized order against the buyer's
// whitelisted wallet.
func WithAddressWhitelist() Option {
	return func(f *Finalizer) { f.whitelist = true }
}

func NewFinalizer(db *gorm.DB, orders *order.Manager, svc delivery.Service, opts ...Option) *Finalizer {
	f := &Finalizer{
		db:         db,
		orders:     orders,
		orderRepo:  repository.NewOrderRepository(db),
		users:      repository.NewUserRepository(db),
		items:      repository.NewItemRepository(db),
		deliveries: repository.NewDeliveryRepository(db),
		delivery:   svc,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Finalize assigns the order's items to the buyer, resolving proxies, and
// records one delivery row per ordered item, all in one transaction. The
// transfer is started afterwards by Deliver. An order is finalized at most
// once; later calls return nil without doing anything.
func (f *Finalizer) Finalize(ctx context.Context, orderID uint64) error {
	ord, err := f.orders.GetOrder(ctx, orderID, f.orders.BaseCurrency(), true)
	if err != nil {
		return err
	}
	hasProxy := false
	for _, it := range ord.Items {
		hasProxy = hasProxy || it.IsProxy
	}

	finalized := false
	err = store.WithTx(ctx, f.db, func(ctx context.Context) error {
		if hasProxy {
			if err := store.LockTable(ctx, f.db, model.LockProxyUnfold); err != nil {
				return fmt.Errorf("lock proxy unfolds: %w", err)
			}
		}
		n, err := f.orderRepo.MarkFinalized(ctx, orderID, f.now())
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		assign := make([]uint64, 0, len(ord.Items))
		rows := make([]model.OrderDelivery, 0, len(ord.Items))
		for _, it := range ord.Items {
			transferID := it.ID
			if it.IsProxy {
				if transferID, err = f.items.ClaimProxyUnfold(ctx, it.ID, orderID); err != nil {
					return err
				}
			}
			assign = append(assign, transferID)
			rows = append(rows, model.OrderDelivery{OrderID: orderID, OrderItemID: it.ID, TransferItemID: transferID})
		}
		if err := f.items.AssignToUser(ctx, ord.UserID, orderID, assign); err != nil {
			return err
		}
		if err := f.deliveries.CreateBatch(ctx, rows); err != nil {
			return err
		}
		if err := f.orders.DropCart(ctx, orderID); err != nil {
			return err
		}
		finalized = true
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to checkout order", "order_id", orderID, "error", err)
		return err
	}
	if !finalized {
		slog.InfoContext(ctx, "order already finalized", "order_id", orderID)
		return nil
	}
	if f.whitelist {
		f.markWhitelistClaimed(ctx, ord.UserID)
	}
	return f.Deliver(ctx, orderID)
}

// markWhitelistClaimed never fails the checkout; the order is already
// finalized.
func (f *Finalizer) markWhitelistClaimed(ctx context.Context, userID uint64) {
	n, err := f.users.MarkWhitelistClaimed(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark whitelisted address claimed", "user_id", userID, "error", err)
		return
	}
	if n == 0 {
		slog.DebugContext(ctx, "buyer address not whitelisted", "user_id", userID)
	}
}

// Deliver starts the transfer of every item of orderID that has not been
// handed to the settlement service yet and records the operation ids.
//
// Rows are claimed before the transfer is requested. A refused transfer
// releases them for the next attempt. When the reply is lost the claim stays,
// since the items may already be on their way, and the rows are left for
// reconciliation with the settlement service.
func (f *Finalizer) Deliver(ctx context.Context, orderID uint64) error {
	rows, err := f.deliveries.ListUnsent(ctx, orderID)
	if err != nil || len(rows) == 0 {
		return err
	}
	ord, err := f.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	u, err := f.users.FindByID(ctx, ord.UserID)
	if err != nil {
		return err
	}

	at := f.now()
	claimed := make([]model.OrderDelivery, 0, len(rows))
	for _, r := range rows {
		ok, err := f.deliveries.ClaimForTransfer(ctx, r.ID, at)
		if err != nil {
			return f.release(ctx, orderID, claimed, err)
		}
		if ok {
			claimed = append(claimed, r)
		}
	}
	if len(claimed) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(claimed))
	for _, r := range claimed {
		ids = append(ids, r.TransferItemID)
	}
	ops, err := f.delivery.Transfer(ctx, ids, u.Address)
	if err != nil {
		err = fmt.Errorf("transfer items of order %d: %w", orderID, err)
		if errors.Is(err, delivery.ErrRejected) {
			slog.ErrorContext(ctx, "settlement service refused transfer", "order_id", orderID, "error", err)
			return f.release(ctx, orderID, claimed, err)
		}
		slog.ErrorContext(ctx, "transfer outcome unknown, reconcile with settlement service",
			"order_id", orderID, "item_ids", ids, "error", err)
		return err
	}

	var errs []error
	var missing []model.OrderDelivery
	for _, r := range claimed {
		op, ok := ops[r.TransferItemID]
		if !ok {
			slog.WarnContext(ctx, "settlement service returned no operation for item", "order_id", orderID, "item_id", r.TransferItemID)
			missing = append(missing, r)
			continue
		}
		if err := f.deliveries.SetOperationID(ctx, r.ID, op); err != nil {
			errs = append(errs, err)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, f.release(ctx, orderID, missing, nil))
	}
	return errors.Join(errs...)
}

// release drops the claim on rows and returns cause joined with any failure
// to do so.
func (f *Finalizer) release(ctx context.Context, orderID uint64, rows []model.OrderDelivery, cause error) error {
	ids := make([]uint64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if err := f.deliveries.ReleaseAttempt(ctx, ids); err != nil {
		slog.ErrorContext(ctx, "failed to release delivery rows", "order_id", orderID, "error", err)
		return errors.Join(cause, err)
	}
	return cause
}
