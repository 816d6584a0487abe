package model

import "time"

// OrderDelivery records which item was transferred for an ordered item.
// TransferItemID differs from OrderItemID when a proxy was unfolded.
type OrderDelivery struct {
	ID                  uint64    `gorm:"primaryKey;autoIncrement"`
	CreatedAt           time.Time `gorm:"index"`
	OrderID             uint64    `gorm:"not null;uniqueIndex:idx_delivery_order_item,priority:1"`
	OrderItemID         uint64    `gorm:"not null;uniqueIndex:idx_delivery_order_item,priority:2"`
	TransferItemID      uint64    `gorm:"not null"`
	TransferOperationID *string   `gorm:"size:128"`
	// TransferAttemptedAt is set right before the transfer is requested and
	// cleared only when the settlement service refused it.
	TransferAttemptedAt *time.Time
}

func (OrderDelivery) TableName() string { return "order_deliveries" }

type DeliveryStatus string

const (
	DeliveryInitiating DeliveryStatus = "initiating"
	DeliveryDelivering DeliveryStatus = "delivering"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryUnknown    DeliveryStatus = "unknown"
)
