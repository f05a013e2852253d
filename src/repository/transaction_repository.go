package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// TransactionRepository appends and reads executed fill records.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{db: database.MainDB}
}

func (r *TransactionRepository) WithDB(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// CreateBatch appends the given transactions. Rows are never updated afterwards.
func (r *TransactionRepository) CreateBatch(ctx context.Context, txs []model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Create(&txs).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "TransactionRepository",
			"op":    "CreateBatch",
			"count": len(txs),
		}).WithError(err).Error("Failed to create transactions")
		return err
	}

	return nil
}

func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID uint) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]model.Transaction, error) {
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var txs []model.Transaction
	return txs, query.Find(&txs).Error
}
