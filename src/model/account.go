package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a simulated exchange account. Credits is the cached spendable
// balance and is the value spend checks run against; the credit ledger is
// its audit trail.
type Account struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Credits   decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"credits"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
