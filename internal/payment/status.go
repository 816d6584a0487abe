package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nftstore/internal/apperr"
	"nftstore/internal/model"
	"nftstore/internal/store"

	"gorm.io/gorm"
)

func checkTransition(prev, next model.PaymentStatus) error {
	if next == model.PaymentPromised && (prev.IsFinal() || prev == model.PaymentProcessing) {
		return apperr.New(apperr.InvalidState, "cannot update status to promised from %s", prev)
	}
	return nil
}

// UpdatePaymentStatus is the only place payment statuses are written.
// Statuses that are already final are never overwritten. When the payment
// newly succeeds, the order is finalized: on a detached goroutine (or the
// finalize queue) with asyncFinalize, before returning otherwise.
func (o *Orchestrator) UpdatePaymentStatus(ctx context.Context, paymentID string, next model.PaymentStatus, asyncFinalize bool) error {
	if !next.Valid() {
		return apperr.New(apperr.BadRequest, "unknown payment status %q", next)
	}

	var prev model.PaymentStatus
	var orderID uint64
	err := store.WithTx(ctx, o.db, func(ctx context.Context) error {
		var err error
		prev, err = o.payments.LockStatus(ctx, paymentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "cannot update payment status of unknown payment")
		}
		if err != nil {
			return err
		}
		if err := checkTransition(prev, next); err != nil {
			return err
		}

		n, err := o.payments.UpdateStatusIfOpen(ctx, paymentID, next)
		if err != nil {
			return err
		}
		p, err := o.payments.FindByPaymentID(ctx, paymentID)
		if err != nil {
			return err
		}
		orderID = p.OrderID

		if next == model.PaymentProcessing && n > 0 {
			return o.orders.DropCart(ctx, orderID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update payment status (payment_id=%s, new_status=%s): %w", paymentID, next, err)
	}
	slog.InfoContext(ctx, "payment status updated", "payment_id", paymentID, "from", prev, "to", next)

	if next != model.PaymentSucceeded || prev.IsFinal() {
		return nil
	}
	if asyncFinalize {
		o.finalizeAsync(ctx, orderID)
		return nil
	}
	return o.FinalizeOrder(ctx, orderID)
}

// FinalizeOrder runs checkout for a paid order and cancels the order's other
// open intents. Running it again for the same order is harmless.
func (o *Orchestrator) FinalizeOrder(ctx context.Context, orderID uint64) error {
	if err := o.finalizer.Finalize(ctx, orderID); err != nil {
		slog.ErrorContext(ctx, "failed to finalize order", "order_id", orderID, "error", err)
		return fmt.Errorf("finalize order %d: %w", orderID, err)
	}
	if err := o.CancelOrder(ctx, orderID, model.PaymentCanceled); err != nil {
		slog.ErrorContext(ctx, "failed to cancel sibling payments of finalized order", "order_id", orderID, "error", err)
		return fmt.Errorf("cancel sibling payments of order %d: %w", orderID, err)
	}
	return nil
}

func (o *Orchestrator) finalizeAsync(ctx context.Context, orderID uint64) {
	ctx = context.WithoutCancel(store.Detach(ctx))
	if o.queue != nil {
		err := o.queue.PublishFinalize(ctx, orderID)
		if err == nil {
			return
		}
		slog.WarnContext(ctx, "finalize queue unavailable, finalizing in-process", "order_id", orderID, "error", err)
	}

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		// FinalizeOrder logs its own failures
		_ = o.FinalizeOrder(ctx, orderID)
	}()
}

// PromiseToPay records the buyer's word that payment is underway and gives
// the order more time. A payment that already moved past promised is left
// alone without reporting an error.
func (o *Orchestrator) PromiseToPay(ctx context.Context, userID uint64, paymentID string) error {
	p, err := o.payments.FindByPaymentID(ctx, paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.NotFound, "order not found")
	}
	if err != nil {
		return err
	}
	ord, err := o.orderRepo.FindByID(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if ord.UserID != userID {
		slog.ErrorContext(ctx, "user is not allowed to promise-paid a payment of another user",
			"user_id", userID, "owner_id", ord.UserID, "payment_id", paymentID)
		return apperr.New(apperr.NotFound, "order not found")
	}

	if err := o.UpdatePaymentStatus(ctx, paymentID, model.PaymentPromised, true); err != nil {
		cur, readErr := o.payments.FindByPaymentID(ctx, paymentID)
		if readErr != nil {
			return err
		}
		if cur.Status != model.PaymentProcessing && cur.Status != model.PaymentSucceeded {
			return err
		}
		slog.WarnContext(ctx, "failed to update status to promised", "payment_id", paymentID, "status", cur.Status, "error", err)
		return nil
	}

	return store.WithTx(ctx, o.db, func(ctx context.Context) error {
		if err := o.orders.ExtendExpiry(ctx, p.OrderID, o.now().Add(o.promiseDeadline)); err != nil {
			return err
		}
		return o.orders.DropCart(ctx, p.OrderID)
	})
}
