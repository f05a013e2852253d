package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CartStatusActive     = "active"
	CartStatusCheckedOut = "checked_out"
)

// Cart collects buy intents of one account until they are checked out
// together. An account has at most one active cart.
type Cart struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AccountID    uint       `gorm:"not null;index:idx_carts_account_status" json:"account_id"`
	Status       string     `gorm:"size:20;not null;default:active;index:idx_carts_account_status" json:"status"`
	Items        []CartItem `gorm:"foreignKey:CartID" json:"items"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Cart) TableName() string {
	return "carts"
}

// CartItem is one buy line of a cart. Price is the limit price and is nil
// for market items. EstimatedPrice is the unit price quoted when the item
// was added.
type CartItem struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	CartID         uint             `gorm:"not null;index" json:"cart_id"`
	Symbol         string           `gorm:"size:30;not null" json:"symbol"`
	OrderType      string           `gorm:"size:10;not null" json:"order_type"`
	Quantity       decimal.Decimal  `gorm:"type:numeric(36,18);not null" json:"quantity"`
	Price          *decimal.Decimal `gorm:"type:numeric(36,18)" json:"price,omitempty"`
	EstimatedPrice decimal.Decimal  `gorm:"type:numeric(36,18);not null" json:"estimated_price"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (CartItem) TableName() string {
	return "cart_items"
}

// SamePosition reports whether other should be merged into i: same symbol
// and order type and, for limit items, the same limit price.
func (i CartItem) SamePosition(other CartItem) bool {
	if i.Symbol != other.Symbol || i.OrderType != other.OrderType {
		return false
	}
	if i.OrderType != OrderTypeLimit {
		return true
	}
	return i.Price != nil && other.Price != nil && i.Price.Equal(*other.Price)
}
