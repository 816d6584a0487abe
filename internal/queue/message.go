package queue

import (
	"fmt"
	"time"
)

// FinalizeMessage asks a worker to run checkout for a paid order.
type FinalizeMessage struct {
	OrderID     uint64    `json:"order_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Validate rejects messages a worker cannot act on.
func (m FinalizeMessage) Validate() error {
	if m.OrderID == 0 {
		return fmt.Errorf("order_id is required")
	}
	return nil
}
