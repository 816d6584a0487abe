package payment

import (
	"context"
	"log/slog"

	"nftstore/internal/apperr"
	"nftstore/internal/model"
	"nftstore/internal/store"

	"golang.org/x/sync/errgroup"
)

// CancelOrder cancels every open intent of orderID with status. Intents that
// something else closed in the meantime are skipped.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID uint64, status model.PaymentStatus) error {
	providers, err := o.payments.OpenProviders(ctx, orderID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if store.InTx(ctx) {
		// one connection, one statement at a time
		g.SetLimit(1)
	}
	for _, provider := range providers {
		g.Go(func() error {
			err := o.CancelOrderPayment(gctx, orderID, provider, status)
			if apperr.IsKind(err, apperr.Conflict) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// CancelOrderPayment closes the open intent of (orderID, provider) with
// status and withdraws it at the provider. If the provider refuses, the
// status change is undone. Nothing left to cancel is a Conflict.
func (o *Orchestrator) CancelOrderPayment(ctx context.Context, orderID uint64, provider model.PaymentProvider, status model.PaymentStatus) error {
	if status != model.PaymentCanceled && status != model.PaymentTimedOut {
		return apperr.New(apperr.BadRequest, "cannot cancel a payment into status %s", status)
	}

	err := store.WithSavepoint(ctx, o.db, func(ctx context.Context) error {
		ref, ok, err := o.payments.CancelOpen(ctx, orderID, provider, status)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.Conflict, "no payment exists with matching order id and cancellable status")
		}
		adapter, ok := o.providers.Get(provider)
		if !ok {
			// provider disabled since the intent was opened; nothing to call
			return nil
		}
		if err := adapter.Cancel(ctx, ref); err != nil {
			return apperr.Wrap(apperr.Provider, err, "cancel %s payment", provider)
		}
		return nil
	})
	switch {
	case err == nil:
	case apperr.IsKind(err, apperr.Conflict):
		slog.WarnContext(ctx, "nothing to cancel", "order_id", orderID, "provider", provider, "error", err)
	default:
		slog.ErrorContext(ctx, "err on canceling order payment", "order_id", orderID, "provider", provider, "error", err)
	}
	return err
}
