package provider

import (
	"context"
	"fmt"
	"strings"

	"nftstore/internal/apperr"
	"nftstore/internal/model"
	"nftstore/internal/payment"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// CardAPI is the part of the card processor's API the adapter uses.
type CardAPI interface {
	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(id string) (*stripe.PaymentIntent, error)
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	ExpireCheckoutSession(id string) (*stripe.CheckoutSession, error)
}

type stripeAPI struct {
	api *client.API
}

// NewStripeAPI returns a CardAPI backed by the stripe-go client.
func NewStripeAPI(secret string) CardAPI {
	api := &client.API{}
	api.Init(secret, nil)
	return &stripeAPI{api: api}
}

func (s *stripeAPI) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.api.PaymentIntents.New(params)
}

func (s *stripeAPI) CancelPaymentIntent(id string) (*stripe.PaymentIntent, error) {
	return s.api.PaymentIntents.Cancel(id, nil)
}

func (s *stripeAPI) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.api.CheckoutSessions.New(params)
}

func (s *stripeAPI) ExpireCheckoutSession(id string) (*stripe.CheckoutSession, error) {
	return s.api.CheckoutSessions.Expire(id, nil)
}

type CardConfig struct {
	WebhookSecret   string
	CheckoutEnabled bool
	PaymentMethods  []string
	StoreFrontURL   string
}

// CardDetails is what the store front needs to collect the card payment.
// CheckoutSessionURL is set in checkout-session mode, ClientSecret otherwise.
type CardDetails struct {
	ID                 string `json:"id"`
	ClientSecret       string `json:"client_secret,omitempty"`
	CheckoutSessionURL string `json:"checkout_session_url,omitempty"`
	Amount             string `json:"amount"`
}

// Card takes card payments through the card processor. Status changes are
// pushed to us as webhooks.
type Card struct {
	api CardAPI
	cfg CardConfig
}

// NewCard builds the adapter; a nil api yields one that refuses to open payments.
func NewCard(api CardAPI, cfg CardConfig) *Card {
	return &Card{api: api, cfg: cfg}
}

func (*Card) Name() model.PaymentProvider { return model.ProviderCard }

func (c *Card) CreateDetails(_ context.Context, req payment.DetailsRequest) (*payment.Details, error) {
	if c.api == nil {
		return nil, apperr.New(apperr.NotImplemented, "card payment provider not supported by this API instance")
	}
	if req.Currency == onChainCurrency {
		return nil, apperr.New(apperr.BadRequest, "currency (%s) is not supported for card payments", req.Currency)
	}
	cur := strings.ToLower(req.Currency)
	amount := fmt.Sprintf("%d", req.AmountUnits)

	if c.cfg.CheckoutEnabled {
		params := &stripe.CheckoutSessionParams{
			AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{Enabled: stripe.Bool(true)},
			Mode:         stripe.String(string(stripe.CheckoutSessionModePayment)),
			SuccessURL:   stripe.String(c.cfg.StoreFrontURL + "/order/" + req.PaymentID),
			CancelURL:    stripe.String(c.cfg.StoreFrontURL + "/checkout"),
		}
		for _, it := range req.Items {
			product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name:        stripe.String(it.Name),
				Description: stripe.String(it.Description),
			}
			if it.ThumbnailURI != "" {
				product.Images = stripe.StringSlice([]string{it.ThumbnailURI})
			}
			params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(cur),
					ProductData: product,
					UnitAmount:  stripe.Int64(it.Price.IntPart()),
					TaxBehavior: stripe.String(string(stripe.PriceTaxBehaviorInclusive)),
				},
				Quantity: stripe.Int64(1),
			})
		}
		s, err := c.api.NewCheckoutSession(params)
		if err != nil {
			return nil, err
		}
		return &payment.Details{
			ExternalID: s.ID,
			Data:       CardDetails{ID: s.ID, CheckoutSessionURL: s.URL, Amount: amount},
		}, nil
	}

	names := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		names = append(names, it.Name)
	}
	pi, err := c.api.NewPaymentIntent(&stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountUnits),
		Currency:           stripe.String(cur),
		PaymentMethodTypes: stripe.StringSlice(c.cfg.PaymentMethods),
		Description:        stripe.String(strings.Join(names, "\n")),
	})
	if err != nil {
		return nil, err
	}
	if pi.ClientSecret == "" {
		return nil, apperr.New(apperr.Provider, "failed to create payment intent with card processor")
	}
	return &payment.Details{
		ExternalID: pi.ID,
		Data:       CardDetails{ID: pi.ID, ClientSecret: pi.ClientSecret, Amount: amount},
	}, nil
}

// Cancel cancels the payment intent, or expires the checkout session.
func (c *Card) Cancel(_ context.Context, ref string) error {
	if c.api == nil {
		return apperr.New(apperr.NotImplemented, "card payment provider not supported by this API instance")
	}
	var err error
	if c.cfg.CheckoutEnabled {
		_, err = c.api.ExpireCheckoutSession(ref)
	} else {
		_, err = c.api.CancelPaymentIntent(ref)
	}
	return err
}

// ParseWebhook verifies the signature header and extracts the event.
func (c *Card) ParseWebhook(payload []byte, signature string) (payment.WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return payment.WebhookEvent{}, apperr.Wrap(apperr.BadRequest, err, "invalid webhook")
	}
	if ev.Data == nil {
		return payment.WebhookEvent{}, apperr.New(apperr.BadRequest, "webhook event %s has no object", ev.ID)
	}
	id, _ := ev.Data.Object["id"].(string)
	if id == "" {
		return payment.WebhookEvent{}, apperr.New(apperr.BadRequest, "webhook event %s has no object id", ev.ID)
	}
	return payment.WebhookEvent{ID: ev.ID, Type: string(ev.Type), ObjectID: id}, nil
}
