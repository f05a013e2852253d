// model/order_execution_log.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLog is an append-only snapshot of an order taken every time it is
// created or changes status.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Foreign key to Order
	OrderID uint   `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	// Snapshot of the order at the moment of this log entry
	AccountID       uint             `gorm:"index" json:"account_id"`
	Symbol          string           `gorm:"size:30" json:"symbol"`
	Side            string           `gorm:"size:10" json:"side"`
	OrderType       string           `gorm:"size:10" json:"order_type"`
	Quantity        decimal.Decimal  `gorm:"type:numeric(36,18)" json:"quantity"`
	Price           *decimal.Decimal `gorm:"type:numeric(36,18)" json:"price,omitempty"`
	ExchangeOrderID string           `gorm:"size:64" json:"exchange_order_id,omitempty"`

	Status    string    `gorm:"size:30;not null" json:"status"` // see OrderStatus* constants
	Reason    string    `gorm:"size:255" json:"reason"`         // e.g. "submitted", "filled on exchange", "ledger rejected"
	CreatedAt time.Time `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}

// NewOrderLog snapshots the given order with the provided status.
func NewOrderLog(order *Order, status, reason string, at time.Time) *OrderLog {
	return &OrderLog{
		OrderID:         order.ID,
		AccountID:       order.AccountID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		OrderType:       order.OrderType,
		Quantity:        order.Quantity,
		Price:           order.Price,
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          status,
		Reason:          reason,
		CreatedAt:       at,
	}
}
