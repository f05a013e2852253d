package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// PositionRepository handles read/write operations for positions.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindForUpdate loads and locks the position of accountID in symbol.
// Returns (nil, nil) when the account holds nothing.
func (r *PositionRepository) FindForUpdate(ctx context.Context, accountID uint, symbol string) (*model.Position, error) {
	var position model.Position

	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Take(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "FindForUpdate",
			"account_id": accountID,
			"symbol":     symbol,
		}).WithError(err).Error("Failed to fetch position")

		return nil, err
	}

	return &position, nil
}

func (r *PositionRepository) Create(ctx context.Context, position *model.Position) error {
	return r.db.WithContext(ctx).Create(position).Error
}

// Save persists quantity and average cost of an existing position.
func (r *PositionRepository) Save(ctx context.Context, position *model.Position) error {
	return r.db.WithContext(ctx).
		Model(position).
		Select("quantity", "avg_cost", "updated_at").
		Updates(position).Error
}

func (r *PositionRepository) Delete(ctx context.Context, position *model.Position) error {
	return r.db.WithContext(ctx).Delete(position).Error
}

// ListByAccount returns every open position of accountID ordered by symbol.
func (r *PositionRepository) ListByAccount(ctx context.Context, accountID uint) ([]model.Position, error) {
	var positions []model.Position

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("symbol ASC").
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "ListByAccount",
			"account_id": accountID,
		}).WithError(err).Error("Failed to list positions")

		return nil, err
	}

	return positions, nil
}
