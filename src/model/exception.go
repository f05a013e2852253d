package model

import "time"

// Exception represents a system-level error that must be persisted
// for auditing, debugging, and manual reconciliation.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "trade_worker"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "settlement"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "SettleFill"

	// Error information
	Message string `gorm:"type:text" json:"message"` // err.Error()
	Stack   string `gorm:"type:text" json:"stack"`   // stack trace (optional)

	// Severity level
	Level string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// Order the failure belongs to, when there is one
	OrderID *uint `gorm:"index" json:"order_id,omitempty"`

	// Extra context stored as JSON
	Context string `gorm:"type:jsonb;not null;default:'{}'" json:"context,omitempty"`

	// Audit info
	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
