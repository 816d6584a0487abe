package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nftstore/internal/apperr"
	"nftstore/internal/model"
	"nftstore/internal/payment"
	"nftstore/internal/repository"

	"gorm.io/gorm"
)

// Deliverer starts transfers that are still missing for an order.
type Deliverer interface {
	Deliver(ctx context.Context, orderID uint64) error
}

type Jobs struct {
	orch       *payment.Orchestrator
	providers  *payment.Registry
	deliverer  Deliverer
	payments   repository.PaymentRepository
	orders     repository.OrderRepository
	deliveries repository.DeliveryRepository

	// grace keeps the retry jobs away from work that is still in flight.
	grace time.Duration
	batch int
	now   func() time.Time
}

func NewJobs(db *gorm.DB, orch *payment.Orchestrator, providers *payment.Registry, deliverer Deliverer, grace time.Duration) *Jobs {
	return &Jobs{
		orch:       orch,
		providers:  providers,
		deliverer:  deliverer,
		payments:   repository.NewPaymentRepository(db),
		orders:     repository.NewOrderRepository(db),
		deliveries: repository.NewDeliveryRepository(db),
		grace:      grace,
		batch:      100,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// All lists every sweep: payment expiry, one poll per polling provider,
// delivery retries and paid-order reconciliation.
func (j *Jobs) All() []Sweep {
	out := []Sweep{{Name: "expire-payments", Run: j.ExpirePayments}}
	pollers := j.providers.Pollers()
	for _, name := range j.providers.Names() {
		if poller, ok := pollers[name]; ok {
			out = append(out, Sweep{Name: "poll-" + string(name), Run: j.PollProvider(name, poller)})
		}
	}
	return append(out,
		Sweep{Name: "retry-deliveries", Run: j.RetryDeliveries},
		Sweep{Name: "finalize-paid-orders", Run: j.FinalizePaidOrders},
	)
}

// ExpirePayments times out the open payments of expired orders.
func (j *Jobs) ExpirePayments(ctx context.Context) error {
	expired, err := j.payments.ListExpired(ctx, j.now())
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range expired {
		err := j.orch.CancelOrderPayment(ctx, e.OrderID, e.Provider, model.PaymentTimedOut)
		switch {
		case err == nil:
			slog.WarnContext(ctx, "canceled expired order payment", "order_id", e.OrderID, "provider", e.Provider)
		case apperr.IsKind(err, apperr.Conflict):
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PollProvider returns the job that asks a polling provider about the
// provider's open payments and applies what it reports.
func (j *Jobs) PollProvider(name model.PaymentProvider, poller payment.Poller) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		rows, err := j.payments.ListPending(ctx, name)
		if err != nil || len(rows) == 0 {
			return err
		}
		pending := make([]payment.Pending, 0, len(rows))
		for _, p := range rows {
			pending = append(pending, payment.Pending{PaymentID: p.PaymentID, Ref: p.ProviderRef()})
		}

		updates, err := poller.PollStatus(ctx, pending)
		if err != nil {
			return err
		}
		var errs []error
		for _, u := range updates {
			if err := j.orch.UpdatePaymentStatus(ctx, u.PaymentID, u.Status, false); err != nil {
				errs = append(errs, err)
				continue
			}
			slog.InfoContext(ctx, "provider reported payment status", "provider", name, "payment_id", u.PaymentID, "status", u.Status)
			if u.Ack != nil {
				if err := u.Ack(ctx); err != nil {
					slog.WarnContext(ctx, "failed to ack status report", "provider", name, "payment_id", u.PaymentID, "error", err)
				}
			}
		}
		return errors.Join(errs...)
	}
}

// RetryDeliveries restarts transfers the settlement service never accepted.
func (j *Jobs) RetryDeliveries(ctx context.Context) error {
	ids, err := j.deliveries.OrdersWithUnsent(ctx, j.now().Add(-j.grace), j.batch)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := j.deliverer.Deliver(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FinalizePaidOrders finalizes orders whose payment succeeded but whose
// checkout never ran, e.g. after a crash between the two.
func (j *Jobs) FinalizePaidOrders(ctx context.Context) error {
	ids, err := j.orders.ListPaidUnfinalized(ctx, j.now().Add(-j.grace), j.batch)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		slog.WarnContext(ctx, "finalizing paid order left behind", "order_id", id)
		if err := j.orch.FinalizeOrder(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
