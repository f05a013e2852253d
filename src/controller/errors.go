package controller

import (
	"errors"
	"fmt"

	"tradeengine/src/ledger"
	"tradeengine/src/quantity"
)

// ValidationError is a malformed trade intent. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExecutionFailed wraps a failed exchange call.
type ExecutionFailed struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *ExecutionFailed) Error() string {
	return fmt.Sprintf("execution failed in %s: %v", e.Op, e.Err)
}

func (e *ExecutionFailed) Unwrap() error { return e.Err }

// ReconciliationFailed means the exchange filled an order whose ledger effects
// could not be applied. The order is left in NEEDS_RECONCILIATION.
type ReconciliationFailed struct {
	OrderID uint
	Err     error
}

func (e *ReconciliationFailed) Error() string {
	return fmt.Sprintf("order %d needs reconciliation: %v", e.OrderID, e.Err)
}

func (e *ReconciliationFailed) Unwrap() error { return e.Err }

// IsRetryable reports whether a task that failed with err may succeed on a
// later delivery.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}

	var reconciliation *ReconciliationFailed
	if errors.As(err, &reconciliation) {
		return false
	}

	var execution *ExecutionFailed
	if errors.As(err, &execution) {
		return execution.Retryable
	}

	if errors.Is(err, quantity.ErrBelowMinimumNotional) || ledger.IsBusinessRule(err) {
		return false
	}

	// Timeouts, shutdown and database failures.
	return true
}
