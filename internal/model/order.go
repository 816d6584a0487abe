package model

import "time"

// Order is a user's set of items committed for payment. Orders are never
// deleted; canceled ones stay for audit.
type Order struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64     `gorm:"not null;index" json:"user_id"`
	OrderedAt   time.Time  `gorm:"not null" json:"ordered_at"`
	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func (Order) TableName() string { return "orders" }

// OrderItem is one ordered line.
type OrderItem struct {
	OrderID uint64 `gorm:"primaryKey;autoIncrement:false"`
	ItemID  uint64 `gorm:"primaryKey;autoIncrement:false"`
}

func (OrderItem) TableName() string { return "order_items" }

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderCanceled       OrderStatus = "canceled"
	OrderDelivering     OrderStatus = "delivering"
	OrderDelivered      OrderStatus = "delivered"
)
