// Package payment owns the payment intent lifecycle: creating intents through
// provider adapters, applying status changes, and triggering checkout.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nftstore/internal/apperr"
	"nftstore/internal/currency"
	"nftstore/internal/delivery"
	"nftstore/internal/model"
	"nftstore/internal/order"
	"nftstore/internal/repository"
	"nftstore/internal/store"
	"nftstore/internal/vat"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VATResolver finds the VAT rate for a client IP.
type VATResolver interface {
	Resolve(ctx context.Context, clientIP string) (vat.Result, error)
}

// Finalizer assigns a paid order's items and starts their delivery.
type Finalizer interface {
	Finalize(ctx context.Context, orderID uint64) error
}

// FinalizeQueue hands finalization to another process.
type FinalizeQueue interface {
	PublishFinalize(ctx context.Context, orderID uint64) error
}

type Deps struct {
	DB              *gorm.DB
	Orders          *order.Manager
	Providers       *Registry
	VAT             VATResolver
	Currency        currency.Service
	Finalizer       Finalizer
	Delivery        delivery.Service
	PromiseDeadline time.Duration
}

type Option func(*Orchestrator)

// WithFinalizeQueue routes asynchronous finalization through q. Publishing
// failures fall back to finalizing in-process.
func WithFinalizeQueue(q FinalizeQueue) Option {
	return func(o *Orchestrator) { o.queue = q }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type Orchestrator struct {
	db         *gorm.DB
	payments   repository.PaymentRepository
	orderRepo  repository.OrderRepository
	deliveries repository.DeliveryRepository
	items      repository.ItemRepository

	orders    *order.Manager
	providers *Registry
	vat       VATResolver
	currency  currency.Service
	finalizer Finalizer
	delivery  delivery.Service
	queue     FinalizeQueue

	promiseDeadline time.Duration
	now             func() time.Time

	inflight sync.WaitGroup
}

// NewOrchestrator also registers itself as the order manager's payment canceler.
func NewOrchestrator(d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:              d.DB,
		payments:        repository.NewPaymentRepository(d.DB),
		orderRepo:       repository.NewOrderRepository(d.DB),
		deliveries:      repository.NewDeliveryRepository(d.DB),
		items:           repository.NewItemRepository(d.DB),
		orders:          d.Orders,
		providers:       d.Providers,
		vat:             d.VAT,
		currency:        d.Currency,
		finalizer:       d.Finalizer,
		delivery:        d.Delivery,
		promiseDeadline: d.PromiseDeadline,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	d.Orders.SetPaymentCanceler(o)
	return o
}

// Wait blocks until in-process asynchronous finalizations are done.
func (o *Orchestrator) Wait() { o.inflight.Wait() }

type CreateRequest struct {
	User           model.User
	CartSessionKey string
	Provider       model.PaymentProvider
	Currency       string
	ClientIP       string
	RecreateOrder  bool
}

// Intent is a registered payment intent as returned to the buyer.
type Intent struct {
	PaymentID     string                `json:"payment_id"`
	OrderID       uint64                `json:"order_id"`
	Provider      model.PaymentProvider `json:"provider"`
	Currency      string                `json:"currency"`
	Amount        decimal.Decimal       `json:"amount"`
	AmountExclVAT decimal.Decimal       `json:"amount_excl_vat"`
	VATRate       decimal.Decimal       `json:"vat_rate"`
	Details       any                   `json:"payment_details,omitempty"`
	Items         []order.Item          `json:"items"`
	ExpiresAt     time.Time             `json:"expires_at"`
}

// CreatePayment opens (or reuses) the user's order and registers a new
// payment intent for it with provider. Order and intent are written in one
// transaction.
func (o *Orchestrator) CreatePayment(ctx context.Context, req CreateRequest) (*Intent, error) {
	adapter, ok := o.providers.Get(req.Provider)
	if !ok {
		return nil, apperr.New(apperr.BadRequest, "requested payment provider not available")
	}
	if !o.currency.Supported(req.Currency) {
		return nil, apperr.New(apperr.BadRequest, "currency %s is not supported", req.Currency)
	}
	if _, err := o.orders.EnsureUserCartSession(ctx, req.User.ID, req.CartSessionKey); err != nil {
		return nil, err
	}

	var p *model.Payment
	var details *Details
	err := store.WithTx(ctx, o.db, func(ctx context.Context) error {
		if err := o.orders.LockUser(ctx, req.User.ID); err != nil {
			return err
		}
		orderID, err := o.orders.CreateOrUseOrder(ctx, req.User.ID, req.RecreateOrder)
		if err != nil {
			return err
		}
		ord, err := o.orders.GetOrder(ctx, orderID, req.Currency, true)
		if err != nil {
			return err
		}
		amountUnits := ord.Total().IntPart()

		rate, err := o.vat.Resolve(ctx, req.ClientIP)
		if err != nil {
			return err
		}
		amount, err := o.currency.ConvertFromBaseUnit(req.Currency, amountUnits)
		if err != nil {
			return err
		}

		paymentID := uuid.NewString()
		details, err = adapter.CreateDetails(ctx, DetailsRequest{
			PaymentID:   paymentID,
			OrderID:     orderID,
			User:        req.User,
			Currency:    req.Currency,
			AmountUnits: amountUnits,
			Amount:      amount,
			ClientIP:    req.ClientIP,
			Items:       ord.Items,
		})
		if err != nil {
			return providerError(ctx, err, req.Provider, paymentID)
		}

		p = &model.Payment{
			PaymentID:        paymentID,
			OrderID:          orderID,
			Provider:         req.Provider,
			Status:           model.PaymentCreated,
			Currency:         req.Currency,
			Amount:           amount,
			VATRate:          rate.Rate,
			AmountExclVAT:    vat.ExcludeVAT(amount, rate.Rate),
			ClientIP:         req.ClientIP,
			PurchaserCountry: rate.Country,
		}
		if details.ExternalID != "" {
			ext := details.ExternalID
			p.ExternalPaymentID = &ext
		}
		return o.RegisterPayment(ctx, p)
	})
	if err != nil {
		slog.ErrorContext(ctx, "err on creating order payment", "user_id", req.User.ID, "provider", req.Provider, "error", err)
		return nil, err
	}

	ord, err := o.orders.GetOrder(ctx, p.OrderID, req.Currency, false)
	if err != nil {
		return nil, err
	}
	decimals, err := o.currency.Decimals(req.Currency)
	if err != nil {
		return nil, err
	}
	return &Intent{
		PaymentID:     p.PaymentID,
		OrderID:       p.OrderID,
		Provider:      p.Provider,
		Currency:      p.Currency,
		Amount:        p.Amount,
		AmountExclVAT: p.AmountExclVAT.Round(decimals),
		VATRate:       p.VATRate,
		Details:       details.Data,
		Items:         ord.Items,
		ExpiresAt:     ord.ExpiresAt,
	}, nil
}

// RegisterPayment stores p as a new created intent of its order, first
// canceling whatever intent of the same provider is still open.
func (o *Orchestrator) RegisterPayment(ctx context.Context, p *model.Payment) error {
	err := store.WithTx(ctx, o.db, func(ctx context.Context) error {
		open, err := o.payments.HasOpen(ctx, p.OrderID, p.Provider)
		if err != nil {
			return err
		}
		if open {
			err := o.CancelOrderPayment(ctx, p.OrderID, p.Provider, model.PaymentCanceled)
			if err != nil && !apperr.IsKind(err, apperr.Conflict) {
				return err
			}
		}

		p.Status = model.PaymentCreated
		if err := o.payments.Create(ctx, p); err != nil {
			return err
		}

		dups, err := o.payments.CountOpenDuplicates(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if dups > 0 {
			return apperr.New(apperr.Invariant, "already/still active payment intent for this provider already exists")
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "err on storing payment intent",
			"provider", p.Provider, "payment_id", p.PaymentID, "order_id", p.OrderID, "error", err)
	}
	return err
}

// providerError keeps the kinds adapters report on purpose and turns anything
// else into a generic provider failure.
func providerError(ctx context.Context, err error, provider model.PaymentProvider, paymentID string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	slog.ErrorContext(ctx, "payment provider call failed", "provider", provider, "payment_id", paymentID, "error", err)
	return apperr.Wrap(apperr.Provider, err, "payment provider %s failed", provider)
}
