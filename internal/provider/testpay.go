// Package provider holds the payment adapters: one per external rail.
package provider

import (
	"context"

	"nftstore/internal/model"
	"nftstore/internal/payment"
)

// Test is a provider without a backend, for staging deployments. Payments are
// completed by calling UpdatePaymentStatus directly.
type Test struct{}

func NewTest() *Test { return &Test{} }

func (*Test) Name() model.PaymentProvider { return model.ProviderTest }

func (*Test) CreateDetails(_ context.Context, req payment.DetailsRequest) (*payment.Details, error) {
	return &payment.Details{ExternalID: req.PaymentID}, nil
}

func (*Test) Cancel(context.Context, string) error { return nil }
