package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ErrInvalidStatusTransition is returned when an order status change would
// leave a terminal state or skip the lifecycle.
var ErrInvalidStatusTransition = errors.New("invalid order status transition")

// OrderRepository handles read/write operations for orders and their status logs.
type OrderRepository struct {
	db *gorm.DB
}

// OrderSearchOptions narrows an order search for one account.
type OrderSearchOptions struct {
	AccountID     uint
	Symbol        *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateWithAutoLog inserts a new order together with its first status log.
// The given order will be updated with the generated ID and timestamps.
func (r *OrderRepository) CreateWithAutoLog(
	ctx context.Context,
	order *model.Order,
	reason string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":            "OrderRepository",
		"op":              "CreateWithAutoLog",
		"account_id":      order.AccountID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"qty":             order.Quantity.String(),
		"idempotency_key": order.IdempotencyKey,
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		if err := tx.Create(model.NewOrderLog(order, order.Status, reason, time.Now())).Error; err != nil {
			return fmt.Errorf("create order log: %w", err)
		}

		return nil
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "CreateWithAutoLog",
		}).WithError(err).Error("Failed to create order")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "CreateWithAutoLog",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Order, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "OrderRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching order by ID")

	var order model.Order

	err := r.db.WithContext(ctx).
		Preload("Logs").
		First(&order, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindByIDForAccount fetches an order only if it belongs to accountID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByIDForAccount(
	ctx context.Context,
	accountID uint,
	id uint,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Preload("Logs").
		Where("account_id = ?", accountID).
		First(&order, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "FindByIDForAccount",
			"account_id": accountID,
			"id":         id,
		}).WithError(err).Error("Failed to fetch order by ID and account")

		return nil, err
	}

	return &order, nil
}

// FindByIdempotencyKey fetches the order created for the given idempotency key.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByIdempotencyKey(
	ctx context.Context,
	key string,
) (*model.Order, error) {

	logger.WithFields(map[string]interface{}{
		"repo":            "OrderRepository",
		"op":              "FindByIdempotencyKey",
		"idempotency_key": key,
	}).Debug("Fetching order by idempotency key")

	var order model.Order

	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Take(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":            "OrderRepository",
			"op":              "FindByIdempotencyKey",
			"idempotency_key": key,
		}).WithError(err).Error("Failed to fetch order by idempotency key")

		return nil, err
	}

	return &order, nil
}

// FindOpen returns one page of the orders the settlement reconciler is
// responsible for: resting orders already acknowledged by the exchange and
// orders waiting for ledger reconciliation. Pages are keyed by id, so a
// caller walks the whole set by passing the last id it saw.
func (r *OrderRepository) FindOpen(
	ctx context.Context,
	afterID uint,
	limit int,
) ([]model.Order, error) {

	if limit <= 0 {
		limit = 500
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "OrderRepository",
		"op":       "FindOpen",
		"after_id": afterID,
		"limit":    limit,
	}).Debug("Fetching open orders")

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Where("(status = ? AND exchange_order_id <> '') OR status = ?",
			model.OrderStatusNew, model.OrderStatusNeedsReconciliation).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindOpen",
		}).WithError(err).Error("Failed to fetch open orders")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "FindOpen",
		"rows_return": len(orders),
	}).Debug("Open orders fetched")

	return orders, nil
}

// MarkSubmitted stores the exchange acknowledgement of an order that is still NEW.
func (r *OrderRepository) MarkSubmitted(
	ctx context.Context,
	orderID uint,
	exchangeOrderID string,
	clientOrderID string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":              "OrderRepository",
		"op":                "MarkSubmitted",
		"id":                orderID,
		"exchange_order_id": exchangeOrderID,
	}).Debug("Recording exchange acknowledgement")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}

		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", orderID, model.OrderStatusNew).
			Updates(map[string]interface{}{
				"exchange_order_id": exchangeOrderID,
				"client_order_id":   clientOrderID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidStatusTransition, orderID, order.Status)
		}

		order.ExchangeOrderID = exchangeOrderID
		order.ClientOrderID = clientOrderID

		return tx.Create(model.NewOrderLog(&order, order.Status, "submitted to exchange", time.Now())).Error
	})
}

// UpdateStatusWithAutoLog changes the order status and appends a status log in
// one transaction. Terminal orders are never changed.
func (r *OrderRepository) UpdateStatusWithAutoLog(
	ctx context.Context,
	orderID uint,
	newStatus string,
	reason string,
) error {
	return r.TransitionWithAutoLog(ctx, orderID, newStatus, reason, nil)
}

// TransitionWithAutoLog is UpdateStatusWithAutoLog with extra column updates
// applied in the same statement.
func (r *OrderRepository) TransitionWithAutoLog(
	ctx context.Context,
	orderID uint,
	newStatus string,
	reason string,
	updates map[string]interface{},
) error {

	logger.WithFields(map[string]interface{}{
		"repo":       "OrderRepository",
		"op":         "TransitionWithAutoLog",
		"id":         orderID,
		"new_status": newStatus,
		"reason":     reason,
	}).Info("Updating order status with automatic log")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order

		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}

		if !model.CanTransitionOrderStatus(order.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, order.Status, newStatus)
		}

		values := map[string]interface{}{"status": newStatus}
		if newStatus == model.OrderStatusFailed || newStatus == model.OrderStatusNeedsReconciliation {
			values["last_error"] = reason
		}
		for k, v := range updates {
			values[k] = v
		}

		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", orderID, order.Status).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: order %d changed concurrently", ErrInvalidStatusTransition, orderID)
		}

		return tx.Create(model.NewOrderLog(&order, newStatus, reason, time.Now())).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "TransitionWithAutoLog",
			"id":         orderID,
			"new_status": newStatus,
		}).WithError(err).Error("Failed to update order status")
	}

	return err
}

// MarkFilledWithAutoLog settles an open order as FILLED. It must run inside the
// caller's ledger transaction. It returns false when the order was already
// settled, which lets callers detect redelivered work.
func (r *OrderRepository) MarkFilledWithAutoLog(
	ctx context.Context,
	order *model.Order,
	executedQty decimal.Decimal,
	avgPrice decimal.Decimal,
	executedAt time.Time,
) (bool, error) {

	settledAt := time.Now()
	if order.ExecutedAt != nil {
		executedAt = *order.ExecutedAt
	}

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status IN ? AND settled_at IS NULL", order.ID, model.OpenOrderStatuses).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusFilled,
			"executed_qty":   executedQty,
			"avg_fill_price": avgPrice,
			"executed_at":    executedAt,
			"settled_at":     settledAt,
			"last_error":     "",
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "MarkFilledWithAutoLog",
			"id":   order.ID,
		}).WithError(res.Error).Error("Failed to mark order filled")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	order.Status = model.OrderStatusFilled
	order.ExecutedQty = executedQty
	order.AvgFillPrice = avgPrice
	order.ExecutedAt = &executedAt
	order.SettledAt = &settledAt
	order.LastError = ""

	if err := r.db.WithContext(ctx).Create(model.NewOrderLog(order, model.OrderStatusFilled, "settled", settledAt)).Error; err != nil {
		return false, fmt.Errorf("create order log: %w", err)
	}

	return true, nil
}

// Search lists orders for an account, newest first.
func (r *OrderRepository) Search(
	ctx context.Context,
	options OrderSearchOptions,
) ([]model.Order, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "OrderRepository",
		"op":         "Search",
		"account_id": options.AccountID,
	}).Debug("Searching orders")

	query := r.db.WithContext(ctx).Where("account_id = ?", options.AccountID)

	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *options.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "Search",
			"account_id": options.AccountID,
		}).WithError(err).Error("Failed to search orders")

		return nil, err
	}

	return orders, nil
}
