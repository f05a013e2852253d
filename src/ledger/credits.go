package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// ApplyChange moves the balance of accountID by delta and appends the matching
// ledger entry. The account row is locked for the rest of tx. A change that
// would leave a negative balance is rejected before anything is written.
func ApplyChange(
	ctx context.Context,
	tx *gorm.DB,
	accountID uint,
	delta decimal.Decimal,
	reason string,
	metadata map[string]interface{},
) (*model.CreditLedgerEntry, error) {

	if !model.IsValidCreditReason(reason) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	account, err := repository.NewAccountRepository().WithDB(tx).FindByIDForUpdate(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
	}

	balance := account.Credits.Add(delta)
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, change %s", ErrInsufficientCredits, account.Credits, delta)
	}

	if err := repository.NewAccountRepository().WithDB(tx).UpdateCredits(ctx, accountID, balance); err != nil {
		return nil, fmt.Errorf("update credits: %w", err)
	}

	raw := []byte("{}")
	if len(metadata) > 0 {
		if raw, err = json.Marshal(metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	entry := &model.CreditLedgerEntry{
		AccountID:    accountID,
		Change:       delta,
		Reason:       reason,
		BalanceAfter: balance,
		Metadata:     string(raw),
	}
	if err := repository.NewCreditLedgerRepository().WithDB(tx).Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component":     "credit_ledger",
		"account_id":    accountID,
		"change":        delta.String(),
		"reason":        reason,
		"balance_after": balance.String(),
	}).Info("Credit balance changed")

	return entry, nil
}
