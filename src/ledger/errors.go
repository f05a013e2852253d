package ledger

import "errors"

var (
	ErrNoHoldings           = errors.New("no holdings for symbol")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrAlreadySettled       = errors.New("order already settled")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidReason        = errors.New("unknown credit reason")
	ErrNoFills              = errors.New("no fills to settle")
)

// IsBusinessRule reports whether err is a ledger rule violation rather than an
// infrastructure failure. Retrying such an error without new input cannot help.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrNoHoldings) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidReason) ||
		errors.Is(err, ErrNoFills)
}
