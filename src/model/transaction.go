package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeBuy    = "Buy"
	TransactionTypeSell   = "Sell"
	TransactionTypeCredit = "Credit"
	TransactionTypeDebit  = "Debit"
	TransactionTypeFee    = "Fee"
	TransactionTypeReward = "Reward"
	TransactionTypeRefund = "Refund"
)

// Transaction is an immutable record of one executed fill or fee.
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	AccountID   uint            `gorm:"index;not null" json:"account_id"`
	OrderID     *uint           `gorm:"index" json:"order_id,omitempty"`
	Symbol      string          `gorm:"size:30;not null" json:"symbol"`
	Type        string          `gorm:"size:20;not null" json:"type"`
	Quantity    decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"price"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
