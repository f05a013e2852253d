package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// AccountRepository handles read/write operations for accounts.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new repository instance using the main read/write database.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create account")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "AccountRepository",
		"op":         "Create",
		"account_id": account.ID,
	}).Info("Account created successfully")

	return nil
}

// FindByID returns (nil, nil) if the account does not exist.
func (r *AccountRepository) FindByID(ctx context.Context, id uint) (*model.Account, error) {
	return r.find(r.db.WithContext(ctx), "FindByID", id)
}

// FindByIDForUpdate locks the account row until the surrounding transaction ends.
// Returns (nil, nil) if the account does not exist.
func (r *AccountRepository) FindByIDForUpdate(ctx context.Context, id uint) (*model.Account, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "FindByIDForUpdate", id)
}

func (r *AccountRepository) find(query *gorm.DB, op string, id uint) (*model.Account, error) {
	logger.WithFields(map[string]interface{}{
		"repo": "AccountRepository",
		"op":   op,
		"id":   id,
	}).Debug("Fetching account")

	var account model.Account
	if err := query.Where("id = ?", id).Take(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   op,
			"id":   id,
		}).WithError(err).Error("Failed to fetch account")

		return nil, err
	}

	return &account, nil
}

// UpdateCredits overwrites the cached balance.
func (r *AccountRepository) UpdateCredits(ctx context.Context, id uint, credits decimal.Decimal) error {
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("credits", credits).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "UpdateCredits",
			"id":   id,
		}).WithError(err).Error("Failed to update account credits")
	}
	return err
}
