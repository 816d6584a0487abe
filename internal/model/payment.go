package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the payment intent state. Declaration order is the
// "furthest status" ranking used to derive an order's status.
type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPromised   PaymentStatus = "promised"
	PaymentFailed     PaymentStatus = "failed"
	PaymentTimedOut   PaymentStatus = "timed_out"
	PaymentCanceled   PaymentStatus = "canceled"
	PaymentSucceeded  PaymentStatus = "succeeded"
)

var paymentStatusOrder = []PaymentStatus{
	PaymentCreated,
	PaymentProcessing,
	PaymentPromised,
	PaymentFailed,
	PaymentTimedOut,
	PaymentCanceled,
	PaymentSucceeded,
}

// FinalPaymentStatuses never get overwritten.
var FinalPaymentStatuses = []PaymentStatus{PaymentSucceeded, PaymentCanceled, PaymentTimedOut}

// Ordinal returns the ranking position, -1 for an unknown status.
func (s PaymentStatus) Ordinal() int {
	for i, v := range paymentStatusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s PaymentStatus) Valid() bool { return s.Ordinal() >= 0 }

func (s PaymentStatus) IsFinal() bool {
	for _, f := range FinalPaymentStatuses {
		if f == s {
			return true
		}
	}
	return false
}

// FurthestPaymentStatus returns the highest ranked status. ok is false for an
// empty input.
func FurthestPaymentStatus(statuses []PaymentStatus) (furthest PaymentStatus, ok bool) {
	best := -1
	for _, s := range statuses {
		// unknown values rank like created
		o := s.Ordinal()
		if o < 0 {
			o = 0
		}
		if o > best {
			best = o
		}
	}
	if best < 0 {
		return "", false
	}
	return paymentStatusOrder[best], true
}

// PaymentProvider names an external payment rail.
type PaymentProvider string

const (
	ProviderPaypoint PaymentProvider = "paypoint" // on-chain
	ProviderCard     PaymentProvider = "card"
	ProviderWert     PaymentProvider = "wert"    // fiat gateway A
	ProviderSimplex  PaymentProvider = "simplex" // fiat gateway B
	ProviderTest     PaymentProvider = "test"
)

var AllPaymentProviders = []PaymentProvider{
	ProviderPaypoint, ProviderCard, ProviderWert, ProviderSimplex, ProviderTest,
}

func (p PaymentProvider) Valid() bool {
	for _, v := range AllPaymentProviders {
		if v == p {
			return true
		}
	}
	return false
}

// Payment is one attempt, through one provider, to pay for an order.
type Payment struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PaymentID is the stable key handed to clients and providers.
	PaymentID string          `gorm:"size:64;uniqueIndex;not null" json:"payment_id"`
	OrderID   uint64          `gorm:"not null;index:idx_payments_order_provider,priority:1" json:"order_id"`
	Provider  PaymentProvider `gorm:"size:32;not null;index:idx_payments_order_provider,priority:2" json:"provider"`
	Status    PaymentStatus   `gorm:"size:32;not null;index" json:"status"`

	Currency         string          `gorm:"size:16;not null" json:"currency"`
	Amount           decimal.Decimal `gorm:"type:decimal(36,12);not null" json:"amount"`
	VATRate          decimal.Decimal `gorm:"column:vat_rate;type:decimal(12,6);not null" json:"vat_rate"`
	AmountExclVAT    decimal.Decimal `gorm:"column:amount_excl_vat;type:decimal(36,12);not null" json:"amount_excl_vat"`
	ClientIP         string          `gorm:"size:64" json:"-"`
	PurchaserCountry string          `gorm:"size:8" json:"-"`

	// ExternalPaymentID is the provider's own reference, when it assigns one.
	ExternalPaymentID *string `gorm:"size:255;index" json:"-"`
}

func (Payment) TableName() string { return "payments" }

// ProviderRef is the reference the provider knows this payment by.
func (p Payment) ProviderRef() string {
	if p.ExternalPaymentID != nil && *p.ExternalPaymentID != "" {
		return *p.ExternalPaymentID
	}
	return p.PaymentID
}
