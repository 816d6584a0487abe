package payment

import (
	"context"
	"sort"

	"nftstore/internal/model"
	"nftstore/internal/order"

	"github.com/shopspring/decimal"
)

// DetailsRequest is what an adapter gets to open a payment with its provider.
type DetailsRequest struct {
	PaymentID string
	OrderID   uint64
	User      model.User
	Currency  string
	// AmountUnits is the order total in the smallest unit of Currency.
	AmountUnits int64
	Amount      decimal.Decimal
	ClientIP    string
	Items       []order.Item
}

// Details is an adapter's answer. Data goes back to the client as-is.
type Details struct {
	// ExternalID is the provider's own reference, when it assigns one.
	ExternalID string
	Data       any
}

// Provider opens and cancels payments with one external payment rail.
// Adapters hold only immutable configuration and clients.
type Provider interface {
	Name() model.PaymentProvider
	CreateDetails(ctx context.Context, req DetailsRequest) (*Details, error)
	// Cancel withdraws the payment known to the provider as ref.
	Cancel(ctx context.Context, ref string) error
}

// Pending is an open payment handed to a Poller.
type Pending struct {
	PaymentID string
	Ref       string
}

// StatusUpdate is a status a Poller observed. Ack, when set, is called after
// the status was applied so the provider can drop what it reported.
type StatusUpdate struct {
	PaymentID string
	Status    model.PaymentStatus
	Ack       func(ctx context.Context) error
}

// Poller is implemented by adapters whose provider does not push status changes.
type Poller interface {
	PollStatus(ctx context.Context, pending []Pending) ([]StatusUpdate, error)
}

// Registry holds the adapters enabled in this deployment.
type Registry struct {
	providers map[model.PaymentProvider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.PaymentProvider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name model.PaymentProvider) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the enabled providers in a stable order.
func (r *Registry) Names() []model.PaymentProvider {
	out := make([]model.PaymentProvider, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pollers returns the enabled adapters that have to be polled.
func (r *Registry) Pollers() map[model.PaymentProvider]Poller {
	out := map[model.PaymentProvider]Poller{}
	for n, p := range r.providers {
		if poller, ok := p.(Poller); ok {
			out[n] = poller
		}
	}
	return out
}
