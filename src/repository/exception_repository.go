package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service":  exc.Service,
		"module":   exc.Module,
		"method":   exc.Method,
		"level":    exc.Level,
		"order_id": exc.OrderID,
	}).Debug("Persisting system exception")

	if exc.Context == "" {
		exc.Context = "{}"
	}

	return r.db.WithContext(ctx).Create(exc).Error
}

// ListByOrder returns the exceptions captured for an order, oldest first.
func (r *ExceptionRepository) ListByOrder(ctx context.Context, orderID uint) ([]model.Exception, error) {
	var excs []model.Exception
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&excs).Error
	return excs, err
}
