package payment

import (
	"context"
	"errors"
	"log/slog"

	"nftstore/internal/apperr"
	"nftstore/internal/model"

	"gorm.io/gorm"
)

// WebhookEvent is a verified card processor notification.
type WebhookEvent struct {
	// ID is the processor's event id; redeliveries carry the same one.
	ID   string
	Type string
	// ObjectID is the processor's id of the payment intent or checkout session.
	ObjectID string
}

// WebhookStatus maps a card processor event type onto a payment status.
func WebhookStatus(eventType string) (model.PaymentStatus, error) {
	switch eventType {
	case "payment_intent.succeeded",
		"checkout.session.completed",
		"checkout.session.async_payment_succeeded":
		return model.PaymentSucceeded, nil
	case "payment_intent.processing":
		return model.PaymentProcessing, nil
	case "payment_intent.canceled",
		"checkout.session.expired":
		return model.PaymentCanceled, nil
	case "payment_intent.payment_failed",
		"checkout.session.async_payment_failed":
		return model.PaymentFailed, nil
	case "payment_intent.created":
		return model.PaymentCreated, nil
	default:
		return "", apperr.New(apperr.BadRequest, "unknown card processor webhook event %s", eventType)
	}
}

func (o *Orchestrator) HandleWebhook(ctx context.Context, ev WebhookEvent) error {
	status, err := WebhookStatus(ev.Type)
	if err != nil {
		slog.ErrorContext(ctx, "unhandled webhook event type", "event_type", ev.Type)
		return err
	}

	p, err := o.payments.FindByExternalID(ctx, ev.ObjectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.WarnContext(ctx, "unknown card processor payment id", "external_payment_id", ev.ObjectID, "event_type", ev.Type)
		return nil
	}
	if err != nil {
		return err
	}
	return o.UpdatePaymentStatus(ctx, p.PaymentID, status, true)
}
