package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nftstore/internal/apperr"
	"nftstore/internal/delivery"
	"nftstore/internal/model"
	"nftstore/internal/order"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type IntentSummary struct {
	PaymentID string                `json:"payment_id"`
	Provider  model.PaymentProvider `json:"provider"`
	Status    model.PaymentStatus   `json:"status"`
	Currency  string                `json:"currency"`
	Amount    decimal.Decimal       `json:"amount"`
}

type DeliveryInfo struct {
	Status              model.DeliveryStatus `json:"status"`
	TransferOperationID string               `json:"transfer_operation_id,omitempty"`
	// ProxiedItem is the concrete item sent in place of an ordered proxy.
	ProxiedItem *model.Item `json:"proxied_item,omitempty"`
}

type OrderInfo struct {
	OrderID        uint64                  `json:"order_id"`
	OrderedItems   []order.Item            `json:"ordered_items"`
	PaymentIntents []IntentSummary         `json:"payment_intents"`
	OrderStatus    model.OrderStatus       `json:"order_status"`
	Delivery       map[uint64]DeliveryInfo `json:"delivery,omitempty"`
}

// OrderStatusOf derives the order status from the furthest payment status.
func OrderStatusOf(furthest model.PaymentStatus) (model.OrderStatus, error) {
	switch furthest {
	case model.PaymentCanceled, model.PaymentTimedOut:
		return model.OrderCanceled, nil
	case model.PaymentFailed, model.PaymentCreated, model.PaymentPromised, model.PaymentProcessing:
		return model.OrderPendingPayment, nil
	case model.PaymentSucceeded:
		return model.OrderDelivered, nil
	default:
		return "", fmt.Errorf("unknown furthest payment status %q", furthest)
	}
}

// GetOrderInfo reports the order behind paymentID to its owner.
func (o *Orchestrator) GetOrderInfo(ctx context.Context, userID uint64, paymentID string) (*OrderInfo, error) {
	p, err := o.payments.FindByPaymentID(ctx, paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	ord, err := o.orders.GetOrder(ctx, p.OrderID, o.currency.Base(), false)
	if err != nil {
		return nil, err
	}
	if ord.UserID != userID {
		slog.ErrorContext(ctx, "user is not allowed to view order of another user",
			"user_id", userID, "owner_id", ord.UserID, "order_id", ord.ID)
		return nil, apperr.New(apperr.NotFound, "order not found")
	}

	intents, err := o.payments.ListByOrder(ctx, ord.ID)
	if err != nil {
		return nil, err
	}
	info := &OrderInfo{
		OrderID:        ord.ID,
		OrderedItems:   ord.Items,
		PaymentIntents: make([]IntentSummary, 0, len(intents)),
	}
	statuses := make([]model.PaymentStatus, 0, len(intents))
	for _, in := range intents {
		statuses = append(statuses, in.Status)
		info.PaymentIntents = append(info.PaymentIntents, IntentSummary{
			PaymentID: in.PaymentID,
			Provider:  in.Provider,
			Status:    in.Status,
			Currency:  in.Currency,
			Amount:    in.Amount,
		})
	}

	furthest, _ := model.FurthestPaymentStatus(statuses)
	info.OrderStatus, err = OrderStatusOf(furthest)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", ord.ID, err)
	}
	if info.OrderStatus != model.OrderDelivered {
		return info, nil
	}

	info.Delivery, err = o.deliveryInfo(ctx, ord)
	if err != nil {
		return nil, err
	}
	for _, d := range info.Delivery {
		if d.Status != model.DeliveryDelivered {
			info.OrderStatus = model.OrderDelivering
			break
		}
	}
	return info, nil
}

// deliveryInfo reports every ordered item. Items whose delivery row is not
// written yet count as initiating.
func (o *Orchestrator) deliveryInfo(ctx context.Context, ord *order.Order) (map[uint64]DeliveryInfo, error) {
	rows, err := o.deliveries.ListByOrder(ctx, ord.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]DeliveryInfo, len(ord.Items))
	for _, it := range ord.Items {
		out[it.ID] = DeliveryInfo{Status: model.DeliveryInitiating}
	}
	for _, row := range rows {
		di := DeliveryInfo{Status: model.DeliveryInitiating}
		if row.TransferOperationID != nil {
			di.TransferOperationID = *row.TransferOperationID
			state, err := o.delivery.OperationState(ctx, *row.TransferOperationID)
			if err != nil {
				return nil, err
			}
			if di.Status, err = delivery.ToDeliveryStatus(state); err != nil {
				return nil, err
			}
		}
		if row.TransferItemID != row.OrderItemID {
			if di.ProxiedItem, err = o.items.FindByID(ctx, row.TransferItemID); err != nil {
				return nil, err
			}
		}
		out[row.OrderItemID] = di
	}
	return out, nil
}
