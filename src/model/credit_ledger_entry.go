package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CreditReasonTrade      = "Trade"
	CreditReasonTopUp      = "Top Up"
	CreditReasonFee        = "Fee"
	CreditReasonReward     = "Reward"
	CreditReasonRefund     = "Refund"
	CreditReasonAdjustment = "Adjustment"
	CreditReasonDeposit    = "Deposit"
	CreditReasonTransfer   = "Transfer"
)

// CreditLedgerEntry records one change of an account balance. Rows are never
// updated after insert.
type CreditLedgerEntry struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	AccountID    uint            `gorm:"index;not null" json:"account_id"`
	Change       decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"change"`
	Reason       string          `gorm:"size:30;not null" json:"reason"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"balance_after"`
	Metadata     string          `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
}

func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entries"
}

// IsValidCreditReason reports whether reason is one of the known ledger reasons.
func IsValidCreditReason(reason string) bool {
	switch reason {
	case CreditReasonTrade, CreditReasonTopUp, CreditReasonFee, CreditReasonReward,
		CreditReasonRefund, CreditReasonAdjustment, CreditReasonDeposit, CreditReasonTransfer:
		return true
	}
	return false
}
