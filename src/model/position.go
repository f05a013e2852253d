package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the current holding of one account in one symbol.
// A position never exists with a zero quantity.
type Position struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	AccountID uint            `gorm:"not null;uniqueIndex:idx_positions_account_symbol" json:"account_id"`
	Symbol    string          `gorm:"size:30;not null;uniqueIndex:idx_positions_account_symbol" json:"symbol"`
	Quantity  decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"quantity"`
	AvgCost   decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"avg_cost"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

const (
	PositionOutcomeCreated = "created"
	PositionOutcomeUpdated = "updated"
	PositionOutcomeDeleted = "deleted"
)
