package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TradeTaskStatusQueued  = "queued"
	TradeTaskStatusRunning = "running"
	TradeTaskStatusDone    = "done"
	TradeTaskStatusDead    = "dead"
)

// TradeIntent is the normalized order request carried by a trade task.
type TradeIntent struct {
	AccountID      uint             `json:"account_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	OrderType      string           `json:"order_type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
}

// TradeTask is one unit of work in the database-backed task queue.
// Delivery is at-least-once: a task whose worker disappears is reclaimed
// after its lock expires.
type TradeTask struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	IdempotencyKey string     `gorm:"size:100;uniqueIndex;not null" json:"idempotency_key"`
	AccountID      uint       `gorm:"index;not null" json:"account_id"`
	Payload        string     `gorm:"type:jsonb;not null" json:"payload"`
	Status         string     `gorm:"size:20;not null;default:queued;index" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts    int        `gorm:"not null;default:3" json:"max_attempts"`
	NextRunAt      time.Time  `gorm:"index" json:"next_run_at"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LastError      string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (TradeTask) TableName() string {
	return "trade_tasks"
}
