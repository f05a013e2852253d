package migrations

import (
	"fmt"
	"time"

	"tradeengine/src/model"

	"gorm.io/gorm"
)

// openCreditLedgerBalances writes an opening Adjustment entry for every account
// that holds credits but has no ledger history, so that the ledger sums to the
// cached balance.
func openCreditLedgerBalances(db *gorm.DB) error {
	var accounts []model.Account
	if err := db.
		Where("credits <> 0").
		Where("NOT EXISTS (SELECT 1 FROM credit_ledger_entries e WHERE e.account_id = accounts.id)").
		Find(&accounts).Error; err != nil {
		return fmt.Errorf("find accounts without ledger history: %w", err)
	}

	now := time.Now().UTC()
	for _, account := range accounts {
		entry := &model.CreditLedgerEntry{
			AccountID:    account.ID,
			Change:       account.Credits,
			Reason:       model.CreditReasonAdjustment,
			BalanceAfter: account.Credits,
			Metadata:     `{"source":"opening_balance"}`,
			CreatedAt:    now,
		}
		if err := db.Create(entry).Error; err != nil {
			return fmt.Errorf("open ledger for account %d: %w", account.ID, err)
		}
	}

	return nil
}
