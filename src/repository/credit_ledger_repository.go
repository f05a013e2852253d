package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// CreditLedgerRepository appends and reads credit ledger entries.
type CreditLedgerRepository struct {
	db *gorm.DB
}

func NewCreditLedgerRepository() *CreditLedgerRepository {
	return &CreditLedgerRepository{db: database.MainDB}
}

func (r *CreditLedgerRepository) WithDB(db *gorm.DB) *CreditLedgerRepository {
	return &CreditLedgerRepository{db: db}
}

// Append inserts an immutable ledger entry.
func (r *CreditLedgerRepository) Append(ctx context.Context, entry *model.CreditLedgerEntry) error {
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CreditLedgerRepository",
			"op":         "Append",
			"account_id": entry.AccountID,
			"reason":     entry.Reason,
		}).WithError(err).Error("Failed to append credit ledger entry")
		return err
	}

	return nil
}

// ListByAccount returns ledger entries newest first.
func (r *CreditLedgerRepository) ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]model.CreditLedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var entries []model.CreditLedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CreditLedgerRepository",
			"op":         "ListByAccount",
			"account_id": accountID,
		}).WithError(err).Error("Failed to list credit ledger entries")
		return nil, err
	}

	return entries, nil
}
