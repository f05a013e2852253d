package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order lifecycle. NEEDS_RECONCILIATION marks an order that was filled on the
// exchange but whose ledger effects could not be applied yet.
const (
	OrderStatusNew                 = "NEW"
	OrderStatusFilled              = "FILLED"
	OrderStatusCancelled           = "CANCELLED"
	OrderStatusFailed              = "FAILED"
	OrderStatusNeedsReconciliation = "NEEDS_RECONCILIATION"
)

// Order represents one trading intent submitted by an account and its lifecycle record.
type Order struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	AccountID      uint   `gorm:"index;not null" json:"account_id"`
	IdempotencyKey string `gorm:"size:100;uniqueIndex" json:"idempotency_key"`

	// Exchange-specific identifiers
	ClientOrderID   string `gorm:"size:64" json:"client_order_id,omitempty"`
	ExchangeOrderID string `gorm:"size:64;index" json:"exchange_order_id,omitempty"`

	Symbol    string           `gorm:"size:30;not null;index" json:"symbol"`
	Side      string           `gorm:"size:10;not null" json:"side"`
	OrderType string           `gorm:"size:10;not null" json:"order_type"`
	Quantity  decimal.Decimal  `gorm:"type:numeric(36,18);not null" json:"quantity"`
	Price     *decimal.Decimal `gorm:"type:numeric(36,18)" json:"price,omitempty"` // limit price

	// Fill details, known once the exchange reports the order as filled
	ExecutedQty  decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"executed_qty"`
	AvgFillPrice decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"avg_fill_price"`

	Status     string     `gorm:"size:30;not null;default:NEW;index" json:"status"`
	LastError  string     `gorm:"type:text" json:"last_error,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// One-to-many relation: one order can have many status logs
	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// IsTerminal reports whether no further status change is allowed.
func (o *Order) IsTerminal() bool {
	return IsTerminalOrderStatus(o.Status)
}

// IsResting reports whether the order sits on the exchange waiting for a fill.
func (o *Order) IsResting() bool {
	return o.Status == OrderStatusNew && o.ExchangeOrderID != ""
}

func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// CanTransitionOrderStatus validates a status change against the order lifecycle.
func CanTransitionOrderStatus(from, to string) bool {
	switch from {
	case OrderStatusNew:
		return to == OrderStatusFilled ||
			to == OrderStatusCancelled ||
			to == OrderStatusFailed ||
			to == OrderStatusNeedsReconciliation
	case OrderStatusNeedsReconciliation:
		return to == OrderStatusFilled || to == OrderStatusFailed
	}
	return false
}

// OpenOrderStatuses are the statuses the settlement reconciler scans.
var OpenOrderStatuses = []string{OrderStatusNew, OrderStatusNeedsReconciliation}
